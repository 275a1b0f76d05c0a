// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ihex

import (
	"bufio"
	"fmt"
	"io"
)

// DefaultChunkSize is the default number of data bytes per record.
const DefaultChunkSize = 16

// Encoder writes memory images as Intel HEX files.
type Encoder struct {
	w     *bufio.Writer
	err   error
	chunk int
}

// NewEncoder returns a new Encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		w:     bufio.NewWriter(w),
		chunk: DefaultChunkSize,
	}
}

// SetChunkSize sets the maximum number of data bytes per record.
// Values outside [1, 255] are ignored.
func (enc *Encoder) SetChunkSize(n int) {
	if n < 1 || n > maxLen {
		return
	}
	enc.chunk = n
}

// Encode writes all the segments of img as data records, followed by the
// end-of-file record. Each record is terminated by a newline.
func (enc *Encoder) Encode(img Image) error {
	for _, seg := range img {
		for beg := 0; beg < len(seg.Data); beg += enc.chunk {
			end := beg + enc.chunk
			if end > len(seg.Data) {
				end = len(seg.Data)
			}
			addr := int(seg.Addr) + beg
			if addr > maxAddr {
				return fmt.Errorf("ihex: could not encode segment @0x%04X: %w",
					seg.Addr, &EncodingError{Field: "address", Value: addr},
				)
			}
			rec := Record{
				Address: uint16(addr),
				Type:    Data,
				Data:    seg.Data[beg:end],
			}
			enc.writeRecord(rec)
			if enc.err != nil {
				return fmt.Errorf("ihex: could not write record @0x%04X: %w", addr, enc.err)
			}
		}
	}

	enc.writeLine(EOF)
	if enc.err != nil {
		return fmt.Errorf("ihex: could not write end-of-file record: %w", enc.err)
	}

	enc.err = enc.w.Flush()
	if enc.err != nil {
		return fmt.Errorf("ihex: could not flush records: %w", enc.err)
	}
	return nil
}

func (enc *Encoder) writeRecord(rec Record) {
	if enc.err != nil {
		return
	}
	txt, err := rec.MarshalText()
	if err != nil {
		enc.err = err
		return
	}
	enc.writeLine(string(txt))
}

func (enc *Encoder) writeLine(s string) {
	if enc.err != nil {
		return
	}
	_, enc.err = enc.w.WriteString(s + "\n")
}
