// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ihex encodes and decodes Intel HEX records.
//
// A record is a single line of text:
//
//	:LLAAAATT[DD...]CC
//
// where LL is the number of data bytes, AAAA the 16-bit address,
// TT the record type, DD the data bytes and CC the two's complement of the
// sum of all the preceding bytes, modulo 256.
package ihex // import "github.com/go-lpc/at28c/ihex"

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/go-lpc/at28c/internal/sum8"
)

// Record types.
const (
	Data uint8 = 0x00 // data record
	End  uint8 = 0x01 // end-of-file record
)

const (
	maxAddr = 0xffff
	maxType = 0xff
	maxByte = 0xff
	maxLen  = 0xff

	hdrLen = 4 // len, addr-hi, addr-lo, type
)

// EOF is the end-of-file record terminating an Intel HEX file.
const EOF = ":00000001FF"

// Record is a single Intel HEX record.
// The checksum is not stored: it is derived from the other fields.
type Record struct {
	Address uint16
	Type    uint8
	Data    []byte
}

// EncodingError describes a record field that can not be encoded.
type EncodingError struct {
	Field string
	Value int
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("ihex: invalid record %s (0x%X)", e.Field, e.Value)
}

// DecodingError describes a malformed Intel HEX record.
type DecodingError struct {
	Line   string
	Reason string
}

func (e *DecodingError) Error() string {
	return fmt.Sprintf("ihex: could not decode record %q: %s", e.Line, e.Reason)
}

// Checksum returns the two's complement of the sum of p, modulo 256.
func Checksum(p []byte) byte {
	return sum8.Checksum(p)
}

// EncodeRecord validates the raw record fields and returns the
// corresponding Intel HEX record.
// Out of range values are rejected with an *EncodingError, never truncated.
func EncodeRecord(addr, typ int, data []int) (string, error) {
	switch {
	case addr < 0 || addr > maxAddr:
		return "", &EncodingError{Field: "address", Value: addr}
	case typ < 0 || typ > maxType:
		return "", &EncodingError{Field: "type", Value: typ}
	case len(data) > maxLen:
		return "", &EncodingError{Field: "length", Value: len(data)}
	}

	rec := Record{
		Address: uint16(addr),
		Type:    uint8(typ),
		Data:    make([]byte, len(data)),
	}
	for i, v := range data {
		if v < 0 || v > maxByte {
			return "", &EncodingError{Field: fmt.Sprintf("data[%d]", i), Value: v}
		}
		rec.Data[i] = byte(v)
	}

	txt, err := rec.MarshalText()
	if err != nil {
		return "", err
	}
	return string(txt), nil
}

// MarshalText implements encoding.TextMarshaler.
func (rec Record) MarshalText() ([]byte, error) {
	if len(rec.Data) > maxLen {
		return nil, &EncodingError{Field: "length", Value: len(rec.Data)}
	}

	raw := make([]byte, 0, hdrLen+len(rec.Data)+1)
	raw = append(raw,
		byte(len(rec.Data)),
		byte(rec.Address>>8),
		byte(rec.Address),
		rec.Type,
	)
	raw = append(raw, rec.Data...)
	raw = append(raw, Checksum(raw))

	out := make([]byte, 1+hex.EncodedLen(len(raw)))
	out[0] = ':'
	hex.Encode(out[1:], raw)
	return []byte(strings.ToUpper(string(out))), nil
}

// String returns the Intel HEX representation of the record.
// Records with more than 255 data bytes are rendered as an empty string.
func (rec Record) String() string {
	txt, err := rec.MarshalText()
	if err != nil {
		return ""
	}
	return string(txt)
}

// DecodeRecord parses a single Intel HEX record.
// Trailing whitespace is ignored.
func DecodeRecord(line string) (Record, error) {
	var rec Record

	txt := strings.TrimRight(line, " \t\r\n")
	if !strings.HasPrefix(txt, ":") {
		return rec, &DecodingError{Line: line, Reason: "missing start code ':'"}
	}
	body := txt[1:]
	if len(body)%2 != 0 {
		return rec, &DecodingError{Line: line, Reason: "odd number of hex digits"}
	}

	raw, err := hex.DecodeString(body)
	if err != nil {
		return rec, &DecodingError{Line: line, Reason: fmt.Sprintf("invalid hex digits: %v", err)}
	}
	if len(raw) < hdrLen+1 {
		return rec, &DecodingError{Line: line, Reason: "record too short"}
	}

	n := int(raw[0])
	if got, want := len(raw)-hdrLen-1, n; got != want {
		return rec, &DecodingError{
			Line:   line,
			Reason: fmt.Sprintf("declared length %d, got %d data bytes", want, got),
		}
	}

	var (
		end = len(raw) - 1
		chk = raw[end]
	)
	if want := Checksum(raw[:end]); chk != want {
		return rec, &DecodingError{
			Line:   line,
			Reason: fmt.Sprintf("checksum mismatch (got=0x%02X, want=0x%02X)", chk, want),
		}
	}

	rec.Address = uint16(raw[1])<<8 | uint16(raw[2])
	rec.Type = raw[3]
	rec.Data = make([]byte, n)
	copy(rec.Data, raw[hdrLen:end])

	return rec, nil
}
