// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package transport turns a raw duplex byte stream into a line-oriented,
// poll-with-deadline interface.
package transport // import "github.com/go-lpc/at28c/transport"

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode"
)

// ErrDeadline is returned when no line was received before a deadline.
var ErrDeadline = errors.New("transport: deadline exceeded")

// Port is a duplex byte stream, already opened and owned by the caller.
//
//go:generate mockgen -destination=../internal/mocks/port.go -package=mocks github.com/go-lpc/at28c/transport Port
type Port interface {
	io.Reader
	io.Writer

	// Buffered returns the number of bytes that can be read
	// without blocking.
	Buffered() (int, error)

	// Flush discards unread input and unsent output.
	Flush() error
}

// Error is an I/O failure of the underlying port.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport: could not %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Line is a line-oriented view of a Port.
type Line struct {
	port Port

	buf   []byte    // pending partial line
	last  time.Time // reception time of the last byte
	stale time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Line.
type Option func(*Line)

// WithStaleTimeout sets the duration after which a partial line that did not
// receive any new byte is considered complete.
// Devices commonly print prompts without a trailing newline.
// A zero duration disables the behaviour.
func WithStaleTimeout(d time.Duration) Option {
	return func(l *Line) {
		l.stale = d
	}
}

// New returns a line-oriented transport on top of port.
func New(port Port, opts ...Option) *Line {
	l := &Line{
		port:  port,
		stale: 1 * time.Second,
		now:   time.Now,
		sleep: sleep,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Flush discards any unread input and unsent output, including
// partially received lines.
func (l *Line) Flush() error {
	l.buf = l.buf[:0]
	err := l.port.Flush()
	if err != nil {
		return &Error{Op: "flush buffers", Err: err}
	}
	return nil
}

// WriteText writes s, without any implicit newline.
func (l *Line) WriteText(s string) error {
	n, err := io.WriteString(l.port, s)
	switch {
	case err != nil:
		return &Error{Op: fmt.Sprintf("write %q", s), Err: err}
	case n != len(s):
		return &Error{Op: fmt.Sprintf("write %q", s), Err: io.ErrShortWrite}
	}
	return nil
}

// WriteLine writes s followed by CRLF.
func (l *Line) WriteLine(s string) error {
	return l.WriteText(s + "\r\n")
}

// TryReadLine returns the next complete line, stripped from its trailing
// whitespace, if one is already available.
// TryReadLine does not wait: it returns false when no line is pending.
// Empty lines are skipped.
func (l *Line) TryReadLine() (string, bool, error) {
	err := l.fill()
	if err != nil {
		return "", false, err
	}

	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			break
		}
		line := trim(l.buf[:i])
		l.buf = l.buf[i+1:]
		if line == "" {
			continue
		}
		return line, true, nil
	}

	if len(l.buf) > 0 && l.stale > 0 && l.now().Sub(l.last) >= l.stale {
		line := trim(l.buf)
		l.buf = l.buf[:0]
		if line != "" {
			return line, true, nil
		}
	}

	return "", false, nil
}

// ReadLine polls for a line every poll interval, until one arrives or
// the deadline elapses, in which case ErrDeadline is returned.
func (l *Line) ReadLine(ctx context.Context, poll time.Duration, deadline time.Time) (string, error) {
	for {
		line, ok, err := l.TryReadLine()
		if err != nil {
			return "", err
		}
		if ok {
			return line, nil
		}
		if !l.now().Before(deadline) {
			return "", ErrDeadline
		}
		err = l.sleep(ctx, poll)
		if err != nil {
			return "", err
		}
	}
}

func (l *Line) fill() error {
	n, err := l.port.Buffered()
	if err != nil {
		return &Error{Op: "query input buffer", Err: err}
	}
	if n <= 0 {
		return nil
	}

	p := make([]byte, n)
	n, err = l.port.Read(p)
	if n > 0 {
		l.buf = append(l.buf, p[:n]...)
		l.last = l.now()
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return &Error{Op: "read", Err: err}
	}
	return nil
}

func trim(p []byte) string {
	return strings.TrimRightFunc(string(p), unicode.IsSpace)
}

// Wait pauses for d or until ctx is done.
// A non-positive d only reports whether ctx is done.
func (l *Line) Wait(ctx context.Context, d time.Duration) error {
	return l.sleep(ctx, d)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
