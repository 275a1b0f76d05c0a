// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fakeport provides an in-memory emulation of the programmer
// firmware, behind the transport.Port interface.
//
// The emulated firmware processes every written byte synchronously:
// all the output a command produces is available as soon as the
// corresponding Write returns.
package fakeport // import "github.com/go-lpc/at28c/internal/fakeport"

import (
	"bytes"
	"fmt"
	"io"
	"sync"
)

const (
	// AT28C64 is the size of an AT28C64 EEPROM.
	AT28C64 = 8192
	// AT28C256 is the size of an AT28C256 EEPROM.
	AT28C256 = 32768

	maxLine = 45
	help    = "\r\nCommands:\r\n" +
		" E - Erase EEPROM\r\n" +
		" T - Full EEPROM test\r\n" +
		" D - Dump EEPROM contents\r\n" +
		" W - Write Intel HEX data to EEPROM\r\n" +
		" R - Write default ROM data from UNO flash\r\n" +
		" X - Enable write protection\r\n" +
		" S - Disable write protection\r\n" +
		" ? - Help\r\n" +
		"\r\n>"
)

type state int

const (
	stIdle   state = iota
	stValue        // reading a hex value
	stPaused       // dump waiting for SPACE or Q
	stUpload       // reading Intel HEX records
	stHung         // not responding anymore
)

// Event is a chunk of bytes exchanged with the host.
type Event struct {
	Write bool // whether the host wrote (true) or read (false) the data
	Data  string
}

func (e Event) String() string {
	if e.Write {
		return fmt.Sprintf("> %q", e.Data)
	}
	return fmt.Sprintf("< %q", e.Data)
}

// Device is an emulated programmer with its EEPROM.
type Device struct {
	mu  sync.Mutex
	out bytes.Buffer
	log []Event

	mem   []byte
	stuck map[int]byte
	wp    bool
	hang  byte

	state  state
	skipLF bool

	// hex value prompt
	size   int
	empty  uint32
	digits []byte
	done   func(v uint32)

	// dump
	addr  int
	lines int

	// upload
	line []byte
}

// New returns a freshly powered-up device with an EEPROM of the given size,
// filled with 0xFF.
func New(size int) *Device {
	dev := &Device{
		mem:   bytes.Repeat([]byte{0xFF}, size),
		stuck: make(map[int]byte),
	}
	dev.println("")
	dev.println("======================")
	dev.println("EEPROM Programmer v0.1 ")
	dev.println("======================")
	dev.print("\nSelected chip: ")
	switch size {
	case AT28C256:
		dev.println("AT28C256")
	default:
		dev.println("AT28C64")
	}
	dev.printf("Memory size:   %d\r\n", size)
	dev.print(help)
	return dev
}

// Memory returns a copy of the EEPROM content.
func (dev *Device) Memory() []byte {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return append([]byte(nil), dev.mem...)
}

// Load stores data in the EEPROM at addr, bypassing the firmware.
func (dev *Device) Load(addr int, data []byte) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	copy(dev.mem[addr:], data)
}

// Protected returns whether software data protection is enabled.
func (dev *Device) Protected() bool {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.wp
}

// Stick makes the EEPROM cell at addr stuck at v.
func (dev *Device) Stick(addr int, v byte) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.stuck[addr] = v
	dev.mem[addr] = v
}

// Hang makes the firmware stop responding right after it echoed cmd.
func (dev *Device) Hang(cmd byte) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.hang = cmd
}

// Log returns the bytes exchanged with the host so far.
func (dev *Device) Log() []Event {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return append([]Event(nil), dev.log...)
}

// Buffered returns the number of output bytes not yet read by the host.
func (dev *Device) Buffered() (int, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.out.Len(), nil
}

// Read reads the firmware output.
func (dev *Device) Read(p []byte) (int, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.out.Len() == 0 {
		return 0, io.EOF
	}
	n, _ := dev.out.Read(p)
	dev.log = append(dev.log, Event{Data: string(p[:n])})
	return n, nil
}

// Write feeds p to the firmware.
func (dev *Device) Write(p []byte) (int, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.log = append(dev.log, Event{Write: true, Data: string(p)})
	for _, c := range p {
		dev.feed(c)
	}
	return len(p), nil
}

// Flush discards the pending firmware output.
func (dev *Device) Flush() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.out.Reset()
	return nil
}

func (dev *Device) print(s string)   { dev.out.WriteString(s) }
func (dev *Device) println(s string) { dev.out.WriteString(s + "\r\n") }
func (dev *Device) printf(format string, args ...interface{}) {
	fmt.Fprintf(&dev.out, format, args...)
}

func (dev *Device) feed(c byte) {
	if dev.skipLF {
		dev.skipLF = false
		if c == '\n' {
			return
		}
	}

	switch dev.state {
	case stIdle:
		dev.command(c)
	case stValue:
		dev.value(c)
	case stPaused:
		dev.resume(c)
	case stUpload:
		dev.upload(c)
	case stHung:
		// swallow everything.
	}
}

func (dev *Device) command(c byte) {
	if c == '\r' || c == '\n' {
		dev.print("\n>")
		dev.skipLF = c == '\r'
		return
	}

	cmd := upper(c)
	switch cmd {
	case 'E', 'D', 'W', 'T', 'X', 'S', '?':
		dev.print(string(rune(cmd)))
		if cmd == dev.hang {
			dev.state = stHung
			return
		}
	}

	switch cmd {
	case 'E':
		dev.println("")
		dev.print("Start: ")
		dev.ask(4, 0, func(start uint32) {
			dev.println("")
			dev.print("End: ")
			dev.ask(4, 0, func(end uint32) {
				dev.println("")
				dev.print("Pattern: ")
				dev.ask(2, 0xFF, func(pattern uint32) {
					dev.println("")
					dev.erase(int(start), int(end), byte(pattern))
				})
			})
		})

	case 'D':
		dev.println("")
		dev.print("Addr: ")
		dev.ask(4, 0, func(v uint32) {
			dev.addr = int(v) % len(dev.mem)
			dev.lines = 0
			dev.dump(false)
		})

	case 'W':
		dev.println("")
		dev.println("Enter Intel HEX data (finish with empty line):")
		dev.line = dev.line[:0]
		dev.state = stUpload

	case 'T':
		dev.test()
		dev.print(help)

	case 'X', 'S':
		enable := cmd == 'X'
		dev.println("")
		dev.print("Write protection: ")
		if enable {
			dev.println("enable...")
		} else {
			dev.println("disable...")
		}
		dev.wp = enable
		dev.println("Done.")
		dev.print(help)

	case '?':
		dev.print(help)

	default:
		dev.println("\nUnknown command. Type ? for help.")
		dev.print(">")
	}
}

func (dev *Device) ask(size int, empty uint32, done func(v uint32)) {
	dev.state = stValue
	dev.size = size
	dev.empty = empty
	dev.digits = dev.digits[:0]
	dev.done = done
}

func (dev *Device) value(c byte) {
	switch {
	case c == '\r' || c == '\n':
		dev.skipLF = c == '\r'
		v := dev.empty
		if len(dev.digits) > 0 {
			v = 0
			for _, d := range dev.digits {
				v = v<<4 | uint32(nibble(d))
			}
		}
		dev.state = stIdle
		dev.done(v)

	case isHex(c):
		if len(dev.digits) == dev.size {
			copy(dev.digits, dev.digits[1:])
			dev.digits[dev.size-1] = upper(c)
		} else {
			dev.digits = append(dev.digits, upper(c))
		}
		dev.out.WriteByte(c)
	}
}

func (dev *Device) write(addr int, v byte) {
	if addr >= len(dev.mem) || dev.wp {
		return
	}
	if _, ok := dev.stuck[addr]; ok {
		return
	}
	dev.mem[addr] = v
}

func (dev *Device) read(addr int) byte {
	if addr >= len(dev.mem) {
		return 0xFF
	}
	return dev.mem[addr]
}

func (dev *Device) progress(addr int) {
	if addr&0x0F == 0x0F {
		dev.print(".")
	}
	if addr&0x3FF == 0x3FF {
		dev.println("")
	}
}

func (dev *Device) erase(start, end int, pattern byte) {
	start %= len(dev.mem)
	end %= len(dev.mem)
	if end == 0 {
		end = len(dev.mem)
	}
	dev.printf("Erasing EEPROM from 0x%X to 0x%X with pattern 0x%X\r\n", start, end-1, pattern)
	for addr := start; addr < end; addr++ {
		dev.write(addr, pattern)
		dev.progress(addr)
	}
	dev.println("\nErase Done!")
	dev.println("Execution time: 0 minutes, 0 seconds")
	dev.print(help)
}

func (dev *Device) dump(resume bool) {
	for ; dev.addr < len(dev.mem); dev.addr++ {
		if dev.addr%16 == 0 {
			if !resume {
				dev.println("")
				dev.lines++
				if dev.lines >= 10 {
					dev.print("Press SPACE to continue, Q to quit...")
					dev.state = stPaused
					return
				}
			}
			resume = false
			dev.printf("%04X: ", dev.addr)
		}
		dev.printf("%02X ", dev.read(dev.addr))
	}
	dev.state = stIdle
	dev.print(help)
}

func (dev *Device) resume(c byte) {
	switch upper(c) {
	case 'Q':
		dev.println("")
		dev.state = stIdle
		dev.print(help)
	case ' ':
		dev.println("")
		dev.lines = 0
		dev.state = stIdle
		dev.dump(true)
	}
}

func (dev *Device) upload(c byte) {
	switch c {
	case '\r':
		return
	case '\n':
		if len(dev.line) == 0 {
			dev.state = stIdle
			dev.print(help)
			return
		}
		status := dev.record(string(dev.line))
		dev.line = dev.line[:0]
		switch status {
		case recordFailed:
			dev.println("Error processing hex line!")
		case recordEOF:
			dev.state = stIdle
			dev.print(help)
		}
	default:
		if len(dev.line) < maxLine {
			dev.line = append(dev.line, c)
		}
	}
}

const (
	recordFailed = iota
	recordOK
	recordEOF
)

func (dev *Device) record(line string) int {
	if len(line) < 11 {
		dev.println("Error: Line too short")
		return recordFailed
	}
	if line[0] != ':' {
		dev.println("Error: Missing start character (:)")
		return recordFailed
	}

	at := func(i int) int {
		if i >= len(line) {
			return 0
		}
		return int(nibble(line[i]))
	}
	var (
		n    = at(1)<<4 | at(2)
		addr = at(3)<<12 | at(4)<<8 | at(5)<<4 | at(6)
		typ  = at(7)<<4 | at(8)
	)

	dev.printf("Line - Type: %X", typ)
	if typ == 0x00 {
		dev.printf(", Address: %Xh, Byte count: %d\r\n", addr, n)
	}

	switch typ {
	case 0x00:
		for i := 0; i < n; i++ {
			var (
				v = byte(at(9+2*i)<<4 | at(10+2*i))
				a = (addr + i) & 0xFFFF
			)
			dev.write(a, v)
			if back := dev.read(a); back != v {
				dev.printf("Verification failed at 0x%X: wrote 0x%X, read 0x%X\r\n", a, v, back)
				return recordFailed
			}
		}
		return recordOK
	case 0x01:
		dev.println("\nHex input complete.")
		return recordEOF
	default:
		dev.printf("Unsupported record type: %X\r\n", typ)
		return recordFailed
	}
}

var patterns = []struct {
	name string
	gen  func(addr int) byte
}{
	{"Pattern 1: Walking 1's", func(addr int) byte { return 1 << (addr & 7) }},
	{"Pattern 2: Address as data", func(addr int) byte { return byte(addr) }},
	{"Pattern 3: Alternating 0x55/0xAA", func(addr int) byte {
		if addr&1 != 0 {
			return 0xAA
		}
		return 0x55
	}},
	{"Pattern 4: All zeros", func(addr int) byte { return 0x00 }},
	{"Pattern 5: All ones", func(addr int) byte { return 0xFF }},
	{"Pattern 6: Inverted address", func(addr int) byte { return ^byte(addr) }},
}

func (dev *Device) test() {
	size := len(dev.mem)
	seg := size / len(patterns)
	errs := 0

	dev.println("")
	dev.println("Starting Full EEPROM Test")
	dev.printf("Testing %d bytes\r\n", size)
	for i, p := range patterns {
		start, stop := i*seg, (i+1)*seg
		if i == len(patterns)-1 {
			stop = size
		}
		dev.printf("Testing %s (0x%X - 0x%X)\r\n", p.name, start, stop)
		for addr := start; addr < stop; addr++ {
			v := p.gen(addr)
			dev.write(addr, v)
			if back := dev.read(addr); back != v {
				dev.printf("\nVerification failed at 0x%X: Expected 0x%X, Read 0x%X\r\n", addr, v, back)
				errs++
			}
			dev.progress(addr - start)
		}
		dev.println("")
		if errs != 0 {
			dev.printf("Test failed with %d errors.\n\r\n", errs)
		} else {
			dev.printf("Testing %s - Done.\n\r\n", p.name)
		}
	}

	dev.println("EEPROM Test Complete")
	dev.printf("Tested %d bytes\n\r\n", size)
	if errs == 0 {
		dev.println("EEPROM test passed successfully!")
	} else {
		dev.printf("Test failed with %d errors.\r\n", errs)
	}
	dev.println("Execution time: 0 minutes, 0 seconds")
}

func upper(c byte) byte {
	if 'a' <= c && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}

func isHex(c byte) bool {
	switch {
	case '0' <= c && c <= '9', 'a' <= c && c <= 'f', 'A' <= c && c <= 'F':
		return true
	}
	return false
}

func nibble(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}
