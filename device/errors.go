// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package device

import (
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is the error matched by all timeout errors of a session.
var ErrTimeout = errors.New("device: timeout")

// TimeoutError describes a response that did not arrive before
// the operation deadline.
// After a timeout, the device is in an unknown state: the session should
// be reset before being used again.
type TimeoutError struct {
	Op      string        // operation that timed out
	Elapsed time.Duration // time spent waiting
	Last    string        // last line received, if any
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("device: timeout waiting for %s after %v", e.Op, e.Elapsed)
	if e.Last != "" {
		msg += fmt.Sprintf(" (last line: %q)", e.Last)
	}
	return msg
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// SelfTestError is returned when the device reports a failed self-test.
type SelfTestError struct {
	Line string // failure report of the device
}

func (e *SelfTestError) Error() string {
	return fmt.Sprintf("device: self-test failed: %s", e.Line)
}
