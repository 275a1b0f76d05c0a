// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ihex

import (
	"fmt"
	"sort"

	"github.com/marcinbor85/gohex"
)

// Segment is a run of bytes starting at a base address.
type Segment struct {
	Addr uint32
	Data []byte
}

// Image is the content of a memory, as an ordered list of segments.
// Segments are kept in the order they were produced: they are not
// necessarily contiguous nor sorted.
type Image []Segment

// Len returns the total number of bytes held by the image.
func (img Image) Len() int {
	n := 0
	for _, seg := range img {
		n += len(seg.Data)
	}
	return n
}

// Bytes returns the concatenation of all segments' data.
// Gaps between segments are not represented.
func (img Image) Bytes() []byte {
	out := make([]byte, 0, img.Len())
	for _, seg := range img {
		out = append(out, seg.Data...)
	}
	return out
}

// Memory flattens the image into a sparse memory.
// Overlapping segments are reported as an error.
func (img Image) Memory() (*gohex.Memory, error) {
	mem := gohex.NewMemory()
	for _, seg := range img {
		if len(seg.Data) == 0 {
			continue
		}
		err := mem.AddBinary(seg.Addr, seg.Data)
		if err != nil {
			return nil, fmt.Errorf("ihex: could not add segment @0x%04X (len=%d): %w",
				seg.Addr, len(seg.Data), err,
			)
		}
	}
	return mem, nil
}

// FromMemory returns the image of the data segments held by mem,
// sorted by address.
func FromMemory(mem *gohex.Memory) Image {
	segs := mem.GetDataSegments()
	img := make(Image, 0, len(segs))
	for _, seg := range segs {
		data := make([]byte, len(seg.Data))
		copy(data, seg.Data)
		img = append(img, Segment{Addr: seg.Address, Data: data})
	}
	sort.Slice(img, func(i, j int) bool {
		return img[i].Addr < img[j].Addr
	})
	return img
}

// Mismatch describes a byte that differs between two images.
type Mismatch struct {
	Addr    uint32
	Want    byte
	Got     byte
	Missing bool // Got is not defined
}

func (m Mismatch) String() string {
	if m.Missing {
		return fmt.Sprintf("0x%04X: want=0x%02X, got=<missing>", m.Addr, m.Want)
	}
	return fmt.Sprintf("0x%04X: want=0x%02X, got=0x%02X", m.Addr, m.Want, m.Got)
}

// Compare checks that every byte defined in want holds the same value in got.
// Bytes only defined in got are not reported.
func Compare(want, got Image) ([]Mismatch, error) {
	wmem, err := want.Memory()
	if err != nil {
		return nil, fmt.Errorf("ihex: could not flatten reference image: %w", err)
	}
	gmem, err := got.Memory()
	if err != nil {
		return nil, fmt.Errorf("ihex: could not flatten image: %w", err)
	}

	sparse := make(map[uint32]byte, got.Len())
	for _, seg := range gmem.GetDataSegments() {
		for i, v := range seg.Data {
			sparse[seg.Address+uint32(i)] = v
		}
	}

	var diffs []Mismatch
	for _, seg := range FromMemory(wmem) {
		for i, v := range seg.Data {
			addr := seg.Addr + uint32(i)
			g, ok := sparse[addr]
			switch {
			case !ok:
				diffs = append(diffs, Mismatch{Addr: addr, Want: v, Missing: true})
			case g != v:
				diffs = append(diffs, Mismatch{Addr: addr, Want: v, Got: g})
			}
		}
	}
	return diffs, nil
}
