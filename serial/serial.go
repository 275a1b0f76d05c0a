// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package serial opens and configures serial ttys, and discovers the
// USB-serial adapters attached to the host.
package serial // import "github.com/go-lpc/at28c/serial"

import (
	"errors"
	"fmt"
	"os"
)

var (
	// ErrUnsupported is returned by Open on platforms without termios support.
	ErrUnsupported = errors.New("serial: platform not supported")

	errClosed = errors.New("serial: port closed")
)

// Port is a raw 8N1 serial port.
type Port struct {
	name string
	f    *os.File
}

// Name returns the path of the device backing the port.
func (p *Port) Name() string { return p.name }

// Read reads up to len(p) bytes.
// Read returns 0, io.EOF when the per-read timeout elapsed without data.
func (p *Port) Read(b []byte) (int, error) {
	if p.f == nil {
		return 0, errClosed
	}
	return p.f.Read(b)
}

// Write writes b to the port.
func (p *Port) Write(b []byte) (int, error) {
	if p.f == nil {
		return 0, errClosed
	}
	return p.f.Write(b)
}

// Close closes the port.
func (p *Port) Close() error {
	if p.f == nil {
		return nil
	}
	f := p.f
	p.f = nil
	err := f.Close()
	if err != nil {
		return fmt.Errorf("serial: could not close %q: %w", p.name, err)
	}
	return nil
}
