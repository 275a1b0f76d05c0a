// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package serial

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

var bauds = map[int]uint32{
	1200:   unix.B1200,
	2400:   unix.B2400,
	4800:   unix.B4800,
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
}

// Open opens the named tty in raw 8N1 mode at the given baud rate.
// Reads return after timeout when no byte arrived.
// The timeout has a resolution of 100ms and is capped at 25.5s.
func Open(name string, baud int, timeout time.Duration) (*Port, error) {
	speed, ok := bauds[baud]
	if !ok {
		return nil, fmt.Errorf("serial: invalid baud rate %d", baud)
	}

	fd, err := unix.Open(name, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("serial: could not open %q: %w", name, err)
	}

	err = configure(fd, speed, timeout)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("serial: could not configure %q: %w", name, err)
	}

	return &Port{name: name, f: os.NewFile(uintptr(fd), name)}, nil
}

func configure(fd int, speed uint32, timeout time.Duration) error {
	tio, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("could not get termios: %w", err)
	}

	tio.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF
	tio.Oflag &^= unix.OPOST
	tio.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	tio.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CRTSCTS | unix.CBAUD
	tio.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | speed
	tio.Ispeed = speed
	tio.Ospeed = speed
	tio.Cc[unix.VMIN] = 0
	tio.Cc[unix.VTIME] = vtime(timeout)

	err = unix.IoctlSetTermios(fd, unix.TCSETS, tio)
	if err != nil {
		return fmt.Errorf("could not set termios: %w", err)
	}

	err = unix.SetNonblock(fd, false)
	if err != nil {
		return fmt.Errorf("could not switch to blocking mode: %w", err)
	}

	return nil
}

// vtime converts a timeout into tenths of a second.
func vtime(timeout time.Duration) uint8 {
	v := timeout / (100 * time.Millisecond)
	switch {
	case v <= 0:
		if timeout > 0 {
			return 1
		}
		return 0
	case v > 255:
		return 255
	}
	return uint8(v)
}

// Buffered returns the number of bytes waiting in the input queue.
func (p *Port) Buffered() (int, error) {
	if p.f == nil {
		return 0, errClosed
	}
	n, err := unix.IoctlGetInt(int(p.f.Fd()), unix.TIOCINQ)
	if err != nil {
		return 0, fmt.Errorf("serial: could not query input queue of %q: %w", p.name, err)
	}
	return n, nil
}

// Flush discards unread input and unsent output.
func (p *Port) Flush() error {
	if p.f == nil {
		return errClosed
	}
	err := unix.IoctlSetInt(int(p.f.Fd()), unix.TCFLSH, unix.TCIOFLUSH)
	if err != nil {
		return fmt.Errorf("serial: could not flush %q: %w", p.name, err)
	}
	return nil
}
