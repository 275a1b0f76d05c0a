// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package device drives an AT28C EEPROM programmer through its
// single-character command interface.
//
// The firmware answers with free-form text. The session relies on a small
// set of textual markers to follow the protocol:
//   - a line ending with ">" is the command prompt,
//   - a line ending with "Commands:" is the menu printed after each command,
//   - a line starting with "Press" is the dump pagination prompt,
//   - a line starting with "Addr" is the dump header,
//   - a line containing ": " is a dump data row.
package device // import "github.com/go-lpc/at28c/device"

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-lpc/at28c/ihex"
	"github.com/go-lpc/at28c/transport"
)

// Session is a connection to a programmer.
// A session issues one command at a time: it must not be used
// concurrently.
type Session struct {
	tr  *transport.Line
	cfg config
}

// New waits for the device to boot and returns a session to drive it.
// Opening a serial port commonly resets the microcontroller: New waits for
// the settle duration, unless ctx is done first.
func New(ctx context.Context, tr *transport.Line, opts ...Option) (*Session, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.progress == nil {
		msg := cfg.msg
		cfg.progress = func(line string) {
			msg.Print(line)
		}
	}

	sess := &Session{tr: tr, cfg: cfg}
	err := sess.Reset(ctx)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Reset waits for the device to settle and discards everything it sent
// so far.
func (sess *Session) Reset(ctx context.Context) error {
	err := sess.tr.Wait(ctx, sess.cfg.settle)
	if err != nil {
		return err
	}
	err = sess.tr.Flush()
	if err != nil {
		return fmt.Errorf("device: could not reset session: %w", err)
	}
	return nil
}

// Erase fills the [start, end) range of the EEPROM with pattern.
// An end address of 0 designates the end of the EEPROM.
func (sess *Session) Erase(ctx context.Context, start, end uint16, pattern uint8) error {
	_, err := sess.send(ctx, "erase", 'E')
	if err != nil {
		return err
	}

	for _, v := range []struct {
		val    int
		digits int
	}{
		{int(start), 4},
		{int(end), 4},
		{int(pattern), 2},
	} {
		err = sess.sendHex(ctx, v.val, v.digits)
		if err != nil {
			return fmt.Errorf("device: could not send erase parameters: %w", err)
		}
	}

	return sess.waitMenu(ctx, "erase completion", sess.cfg.timeouts.erase, nil)
}

// Read dumps the EEPROM content from the start address up to its end.
//
// If the dump did not complete before the dump timeout, Read returns the
// segments received so far together with a *TimeoutError.
func (sess *Session) Read(ctx context.Context, start uint16) (ihex.Image, error) {
	_, err := sess.send(ctx, "read", 'D')
	if err != nil {
		return nil, err
	}

	err = sess.sendHex(ctx, int(start), 4)
	if err != nil {
		return nil, fmt.Errorf("device: could not send dump address: %w", err)
	}

	var (
		img  ihex.Image
		cur  *ihex.Segment
		last string
		beg  = time.Now()
		dead = beg.Add(sess.cfg.timeouts.dump)
	)
	flush := func() {
		if cur != nil && len(cur.Data) > 0 {
			img = append(img, *cur)
		}
		cur = nil
	}

	for {
		line, err := sess.tr.ReadLine(ctx, sess.cfg.poll, dead)
		if err != nil {
			flush()
			if errors.Is(err, transport.ErrDeadline) {
				return img, &TimeoutError{
					Op:      "dump completion",
					Elapsed: time.Since(beg),
					Last:    last,
				}
			}
			return img, fmt.Errorf("device: could not read dump: %w", err)
		}
		last = line

		switch {
		case strings.HasSuffix(line, ">"):
			flush()
			return img, nil

		case line == "", strings.HasPrefix(line, "Addr"):
			// header.

		case strings.HasPrefix(line, "Press"):
			err = sess.tr.WriteText(" ")
			if err != nil {
				flush()
				return img, fmt.Errorf("device: could not request next dump page: %w", err)
			}
			err = sess.tr.Wait(ctx, sess.cfg.delay)
			if err != nil {
				flush()
				return img, err
			}

		case strings.Contains(line, ": "):
			seg, ok, err := parseRow(line)
			if err != nil {
				flush()
				return img, fmt.Errorf("device: could not parse dump row: %w", err)
			}
			if !ok {
				continue
			}
			flush()
			cur = &seg
			sess.cfg.progress(line)
		}
	}
}

// parseRow parses a dump row of the form "0010: 01 02 ...".
// parseRow returns false if the line is not a dump row.
func parseRow(line string) (ihex.Segment, bool, error) {
	i := strings.Index(line, ": ")
	addr, err := strconv.ParseUint(strings.TrimSpace(line[:i]), 16, 16)
	if err != nil {
		return ihex.Segment{}, false, nil
	}

	seg := ihex.Segment{Addr: uint32(addr)}
	for _, tok := range strings.Fields(line[i+2:]) {
		v, err := strconv.ParseUint(tok, 16, 8)
		if err != nil {
			return seg, false, &ihex.DecodingError{
				Line:   line,
				Reason: fmt.Sprintf("invalid byte %q", tok),
			}
		}
		seg.Data = append(seg.Data, byte(v))
	}
	return seg, true, nil
}

// WriteHex uploads Intel HEX records to the EEPROM.
//
// All records are validated before anything is sent to the device.
// Blank lines are skipped, as the device takes an empty line as the end
// of the upload.
// WriteHex does not wait for the device to acknowledge the upload.
func (sess *Session) WriteHex(ctx context.Context, hex string) error {
	var lines []string
	for i, line := range strings.Split(hex, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		_, err := ihex.DecodeRecord(line)
		if err != nil {
			return fmt.Errorf("device: invalid record at line %d: %w", i+1, err)
		}
		lines = append(lines, line)
	}

	_, err := sess.send(ctx, "write", 'W')
	if err != nil {
		return err
	}

	err = sess.tr.Wait(ctx, sess.cfg.upload)
	if err != nil {
		return err
	}

	for _, line := range lines {
		err = sess.tr.WriteLine(line)
		if err != nil {
			return fmt.Errorf("device: could not send record %q: %w", line, err)
		}
		err = sess.tr.Wait(ctx, sess.cfg.delay)
		if err != nil {
			return err
		}
		err = sess.drain()
		if err != nil {
			return fmt.Errorf("device: could not read record status: %w", err)
		}
	}

	err = sess.tr.WriteLine("")
	if err != nil {
		return fmt.Errorf("device: could not end upload: %w", err)
	}
	return nil
}

// drain reports the lines already sent by the device, without waiting
// for more.
func (sess *Session) drain() error {
	for {
		line, ok, err := sess.tr.TryReadLine()
		if err != nil {
			return err
		}
		if !ok || strings.HasPrefix(line, "Commands") {
			return nil
		}
		sess.cfg.progress(line)
	}
}

// SetWriteProtect enables or disables the software data protection
// of the EEPROM.
func (sess *Session) SetWriteProtect(ctx context.Context, enable bool) error {
	cmd := byte('S')
	if enable {
		cmd = 'X'
	}
	_, err := sess.send(ctx, "write protection", cmd)
	if err != nil {
		return err
	}
	return sess.waitMenu(ctx, "write protection completion", sess.cfg.timeouts.ack, nil)
}

// SelfTest runs the destructive self-test of the device.
// The EEPROM content is overwritten with test patterns.
func (sess *Session) SelfTest(ctx context.Context) error {
	_, err := sess.send(ctx, "self-test", 'T')
	if err != nil {
		return err
	}

	var failed string
	err = sess.waitMenu(ctx, "self-test completion", sess.cfg.timeouts.test, func(line string) {
		if failed == "" && strings.HasPrefix(line, "Test failed") {
			failed = line
		}
	})
	if err != nil {
		return err
	}
	if failed != "" {
		return &SelfTestError{Line: failed}
	}
	return nil
}

// Help returns the menu of the device.
func (sess *Session) Help(ctx context.Context) ([]string, error) {
	_, err := sess.send(ctx, "help", '?')
	if err != nil {
		return nil, err
	}

	var (
		menu []string
		beg  = time.Now()
		dead = beg.Add(sess.cfg.timeouts.ack)
	)
	for {
		line, err := sess.tr.ReadLine(ctx, sess.cfg.poll, dead)
		if err != nil {
			if errors.Is(err, transport.ErrDeadline) {
				return menu, &TimeoutError{Op: "help", Elapsed: time.Since(beg)}
			}
			return menu, fmt.Errorf("device: could not read help: %w", err)
		}
		if strings.HasSuffix(line, ">") {
			return menu, nil
		}
		menu = append(menu, line)
	}
}

// send flushes the line, sends a command character and returns the
// first line of the answer.
func (sess *Session) send(ctx context.Context, op string, cmd byte) (string, error) {
	err := sess.tr.Flush()
	if err != nil {
		return "", fmt.Errorf("device: could not send %s command: %w", op, err)
	}

	err = sess.tr.WriteText(string(rune(cmd)))
	if err != nil {
		return "", fmt.Errorf("device: could not send %s command: %w", op, err)
	}

	err = sess.tr.Wait(ctx, sess.cfg.delay)
	if err != nil {
		return "", err
	}

	beg := time.Now()
	line, err := sess.tr.ReadLine(ctx, sess.cfg.poll, beg.Add(sess.cfg.timeouts.ack))
	if err != nil {
		if errors.Is(err, transport.ErrDeadline) {
			return "", &TimeoutError{
				Op:      op + " acknowledgement",
				Elapsed: time.Since(beg),
			}
		}
		return "", fmt.Errorf("device: could not read %s acknowledgement: %w", op, err)
	}
	return line, nil
}

// sendHex sends a zero-padded hexadecimal parameter.
func (sess *Session) sendHex(ctx context.Context, v, digits int) error {
	err := sess.tr.WriteLine(fmt.Sprintf("%0*X", digits, v))
	if err != nil {
		return err
	}
	return sess.tr.Wait(ctx, sess.cfg.delay)
}

// waitMenu reports lines until the menu shows up.
// Each reported line is also handed to inspect, when not nil.
func (sess *Session) waitMenu(ctx context.Context, op string, timeout time.Duration, inspect func(line string)) error {
	var (
		last string
		beg  = time.Now()
		dead = beg.Add(timeout)
	)
	for {
		line, err := sess.tr.ReadLine(ctx, sess.cfg.poll, dead)
		if err != nil {
			if errors.Is(err, transport.ErrDeadline) {
				return &TimeoutError{
					Op:      op,
					Elapsed: time.Since(beg),
					Last:    last,
				}
			}
			return fmt.Errorf("device: could not wait for %s: %w", op, err)
		}
		if strings.HasSuffix(line, "Commands:") {
			return nil
		}
		last = line
		sess.cfg.progress(line)
		if inspect != nil {
			inspect(line)
		}
	}
}
