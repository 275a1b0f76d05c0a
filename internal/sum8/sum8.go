// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sum8 implements the 8-bit two's-complement checksum used by
// Intel HEX records.
package sum8 // import "github.com/go-lpc/at28c/internal/sum8"

import "hash"

// Size of a sum8 checksum in bytes.
const Size = 1

// Hash8 is the common interface implemented by all 8-bit hash functions.
type Hash8 interface {
	hash.Hash
	Sum8() uint8
}

type digest struct {
	sum uint8
}

// New creates a new Hash8 computing the two's complement of the
// byte sum, modulo 256.
func New() Hash8 {
	return &digest{}
}

func (d *digest) Size() int      { return Size }
func (d *digest) BlockSize() int { return 1 }
func (d *digest) Reset()         { d.sum = 0 }

func (d *digest) Write(p []byte) (int, error) {
	for _, v := range p {
		d.sum += v
	}
	return len(p), nil
}

// Sum8 returns the checksum of the data written so far.
func (d *digest) Sum8() uint8 {
	return -d.sum
}

func (d *digest) Sum(b []byte) []byte {
	return append(b, d.Sum8())
}

// Checksum returns the sum8 checksum of data.
func Checksum(data []byte) uint8 {
	var d digest
	_, _ = d.Write(data)
	return d.Sum8()
}

var _ Hash8 = (*digest)(nil)
