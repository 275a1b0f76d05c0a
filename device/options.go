// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package device

import (
	"log"
	"os"
	"time"
)

type config struct {
	settle time.Duration // wait after opening the port
	delay  time.Duration // wait after each command or parameter
	poll   time.Duration // interval between two line checks
	upload time.Duration // wait between the W command and the first record

	timeouts struct {
		ack   time.Duration
		erase time.Duration
		dump  time.Duration
		test  time.Duration
	}

	progress func(line string)
	msg      *log.Logger
}

func newConfig() config {
	cfg := config{
		settle: 2 * time.Second,
		delay:  100 * time.Millisecond,
		poll:   100 * time.Millisecond,
		upload: 200 * time.Millisecond,
		msg:    log.New(os.Stdout, "device: ", 0),
	}
	cfg.timeouts.ack = 5 * time.Second
	cfg.timeouts.erase = 30 * time.Second
	cfg.timeouts.dump = 10 * time.Minute
	cfg.timeouts.test = 10 * time.Minute
	return cfg
}

// Option configures a Session.
type Option func(*config)

// WithSettle sets the time given to the device to boot, once the
// port has been opened.
func WithSettle(d time.Duration) Option {
	return func(cfg *config) {
		cfg.settle = d
	}
}

// WithCommandDelay sets the delay after a command character or
// a parameter has been sent.
func WithCommandDelay(d time.Duration) Option {
	return func(cfg *config) {
		cfg.delay = d
	}
}

// WithPollInterval sets the interval between two checks for a new line.
func WithPollInterval(d time.Duration) Option {
	return func(cfg *config) {
		cfg.poll = d
	}
}

// WithUploadSettle sets the delay between the write command and the
// first Intel HEX record.
func WithUploadSettle(d time.Duration) Option {
	return func(cfg *config) {
		cfg.upload = d
	}
}

// WithAckTimeout sets the deadline for the acknowledgement of a command.
func WithAckTimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.timeouts.ack = d
	}
}

// WithEraseTimeout sets the deadline for the completion of an erase.
func WithEraseTimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.timeouts.erase = d
	}
}

// WithDumpTimeout sets the safety deadline for the completion of a dump.
//
// Each pagination prompt of the dump is only seen once the stale timeout
// of the transport (see transport.WithStaleTimeout) has elapsed: a full
// AT28C256 dump spends about 205 of them waiting for prompts with the
// default 1s stale timeout.
func WithDumpTimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.timeouts.dump = d
	}
}

// WithSelfTestTimeout sets the deadline for the completion of a self-test.
func WithSelfTestTimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.timeouts.test = d
	}
}

// WithProgress sets the function receiving the status lines printed by
// the device during an operation.
// By default, status lines are sent to the session logger.
func WithProgress(f func(line string)) Option {
	return func(cfg *config) {
		cfg.progress = f
	}
}

// WithLogger sets the logger of the session.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}
