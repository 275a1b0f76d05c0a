// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package serial

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

var (
	sysfs = "/sys/class/tty"
	devfs = "/dev"

	// manufacturers of the USB-serial bridges found on programmer boards.
	manufacturers = []string{"arduino", "wch.cn", "ftdi"}
)

// Info describes a USB-serial adapter attached to the host.
type Info struct {
	Port         string // device path, e.g. /dev/ttyUSB0
	Manufacturer string
	Product      string
	VendorID     string
	ProductID    string
	Serial       string
}

func (info Info) String() string {
	o := new(strings.Builder)
	fmt.Fprintf(o, "%s: %s", info.Port, info.Manufacturer)
	if info.Product != "" {
		fmt.Fprintf(o, " %s", info.Product)
	}
	fmt.Fprintf(o, " [%s:%s]", info.VendorID, info.ProductID)
	if info.Serial != "" {
		fmt.Fprintf(o, " serial=%s", info.Serial)
	}
	return o.String()
}

// IsCandidate returns whether the adapter was built by a manufacturer
// known to drive programmer boards.
func (info Info) IsCandidate() bool {
	m := strings.ToLower(info.Manufacturer)
	for _, v := range manufacturers {
		if strings.Contains(m, v) {
			return true
		}
	}
	return false
}

// List returns the candidate programmer ports, sorted by port name.
func List() ([]Info, error) {
	all, err := USB()
	if err != nil {
		return nil, err
	}
	o := all[:0]
	for _, info := range all {
		if !info.IsCandidate() {
			continue
		}
		o = append(o, info)
	}
	return o, nil
}

// USB returns all the USB-serial adapters attached to the host,
// sorted by port name.
func USB() ([]Info, error) {
	ents, err := os.ReadDir(sysfs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("serial: could not list ttys: %w", err)
	}

	var (
		grp   errgroup.Group
		infos = make([]*Info, len(ents))
	)
	for i, ent := range ents {
		i := i
		name := ent.Name()
		grp.Go(func() error {
			info, err := probe(name)
			if err != nil {
				return fmt.Errorf("serial: could not probe %q: %w", name, err)
			}
			infos[i] = info
			return nil
		})
	}

	err = grp.Wait()
	if err != nil {
		return nil, err
	}

	var o []Info
	for _, info := range infos {
		if info == nil {
			continue
		}
		o = append(o, *info)
	}
	sort.Slice(o, func(i, j int) bool {
		return o[i].Port < o[j].Port
	})
	return o, nil
}

// probe returns the USB attributes of the named tty, or nil when the tty
// is not backed by a USB device.
func probe(name string) (*Info, error) {
	dev, err := filepath.EvalSymlinks(filepath.Join(sysfs, name, "device"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	// the USB device sits a few levels above the tty interface.
	dir := dev
	for i := 0; i < 4; i++ {
		_, err := os.Stat(filepath.Join(dir, "idVendor"))
		if err == nil {
			return &Info{
				Port:         filepath.Join(devfs, name),
				Manufacturer: attr(dir, "manufacturer"),
				Product:      attr(dir, "product"),
				VendorID:     attr(dir, "idVendor"),
				ProductID:    attr(dir, "idProduct"),
				Serial:       attr(dir, "serial"),
			}, nil
		}
		dir = filepath.Dir(dir)
	}
	return nil, nil
}

func attr(dir, name string) string {
	raw, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}
