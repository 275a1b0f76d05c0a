// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package serial

import (
	"fmt"
	"time"
)

// Open returns ErrUnsupported.
func Open(name string, baud int, timeout time.Duration) (*Port, error) {
	return nil, fmt.Errorf("serial: could not open %q: %w", name, ErrUnsupported)
}

// Buffered returns ErrUnsupported.
func (p *Port) Buffered() (int, error) { return 0, ErrUnsupported }

// Flush returns ErrUnsupported.
func (p *Port) Flush() error { return ErrUnsupported }
