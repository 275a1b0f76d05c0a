// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ihex

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"golang.org/x/xerrors"
)

const (
	extSegAddr   uint8 = 0x02 // extended segment address record
	startSegAddr uint8 = 0x03 // start segment address record
	extLinAddr   uint8 = 0x04 // extended linear address record
	startLinAddr uint8 = 0x05 // start linear address record
)

// Decoder reads Intel HEX files.
type Decoder struct {
	r *bufio.Scanner
}

// NewDecoder returns a new Decoder that reads from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewScanner(r)}
}

// Decode reads records until the end-of-file record (or the end of the
// stream) and returns the decoded image.
// Contiguous data records are merged into a single segment.
// Start address records are ignored; extended address records are
// rejected as the 16-bit address space is all a 28C chip can hold.
func (dec *Decoder) Decode() (Image, error) {
	var (
		img  Image
		line = 0
	)

loop:
	for dec.r.Scan() {
		line++
		txt := strings.TrimSpace(dec.r.Text())
		if txt == "" {
			continue
		}

		rec, err := DecodeRecord(txt)
		if err != nil {
			return img, xerrors.Errorf("ihex: could not decode line %d: %w", line, err)
		}

		switch rec.Type {
		case Data:
			img = appendData(img, rec)
		case End:
			break loop
		case startSegAddr, startLinAddr:
			// no entry point for an EEPROM.
		case extSegAddr, extLinAddr:
			return img, xerrors.Errorf("ihex: line %d: %w", line, &DecodingError{
				Line:   txt,
				Reason: fmt.Sprintf("unsupported extended address record (type=0x%02X)", rec.Type),
			})
		default:
			return img, xerrors.Errorf("ihex: line %d: %w", line, &DecodingError{
				Line:   txt,
				Reason: fmt.Sprintf("invalid record type 0x%02X", rec.Type),
			})
		}
	}

	if err := dec.r.Err(); err != nil {
		return img, xerrors.Errorf("ihex: could not read records: %w", err)
	}

	return img, nil
}

func appendData(img Image, rec Record) Image {
	if len(rec.Data) == 0 {
		return img
	}
	addr := uint32(rec.Address)
	if n := len(img); n > 0 {
		last := &img[n-1]
		if last.Addr+uint32(len(last.Data)) == addr {
			last.Data = append(last.Data, rec.Data...)
			return img
		}
	}
	data := make([]byte, len(rec.Data))
	copy(data, rec.Data)
	return append(img, Segment{Addr: addr, Data: data})
}
