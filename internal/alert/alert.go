// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package alert sends mail alerts when a programming operation fails.
package alert // import "github.com/go-lpc/at28c/internal/alert"

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	mail "gopkg.in/gomail.v2"
)

// ErrNoCredentials is returned when the mail configuration is incomplete.
var ErrNoCredentials = errors.New("alert: missing mail credentials")

var dialAndSend = func(dial *mail.Dialer, msgs ...*mail.Message) error {
	return dial.DialAndSend(msgs...)
}

// Mailer sends alerts through an SMTP server.
type Mailer struct {
	Usr  string
	Pwd  string
	Srv  string
	Port int
	Tgts []string
}

// FromEnv returns a mailer configured from the MAIL_USERNAME, MAIL_PASSWORD,
// MAIL_SERVER, MAIL_PORT and MAIL_TGTS environment variables.
// MAIL_TGTS is a comma-separated list of recipients.
func FromEnv() Mailer {
	port, _ := strconv.Atoi(os.Getenv("MAIL_PORT"))
	var tgts []string
	for _, tgt := range strings.Split(os.Getenv("MAIL_TGTS"), ",") {
		tgt = strings.TrimSpace(tgt)
		if tgt == "" {
			continue
		}
		tgts = append(tgts, tgt)
	}
	return Mailer{
		Usr:  os.Getenv("MAIL_USERNAME"),
		Pwd:  os.Getenv("MAIL_PASSWORD"),
		Srv:  os.Getenv("MAIL_SERVER"),
		Port: port,
		Tgts: tgts,
	}
}

// Send sends an alert to all the targets of the mailer.
func (m Mailer) Send(subject, body string) error {
	if m.Usr == "" || m.Pwd == "" || m.Srv == "" || m.Port == 0 || len(m.Tgts) == 0 {
		return ErrNoCredentials
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", m.Usr)
	msg.SetHeader("Bcc", m.Tgts...)
	msg.SetHeader("Subject", "[at28c] "+subject)
	msg.SetBody("text/plain", body)

	dial := mail.NewDialer(m.Srv, m.Port, m.Usr, m.Pwd)
	dial.TLSConfig = &tls.Config{
		InsecureSkipVerify: true,
	}
	err := dialAndSend(dial, msg)
	if err != nil {
		return fmt.Errorf("alert: could not send mail: %w", err)
	}
	return nil
}

// Mail sends an alert with the mailer configured from the environment.
func Mail(subject, body string) error {
	return FromEnv().Send(subject, body)
}
