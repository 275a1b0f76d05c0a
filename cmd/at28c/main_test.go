// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/go-lpc/at28c/device"
	"github.com/go-lpc/at28c/dumpdb"
	"github.com/go-lpc/at28c/ihex"
	"github.com/go-lpc/at28c/internal/fakeport"
	"github.com/go-lpc/at28c/serial"
	"github.com/go-lpc/at28c/transport"
)

const fakeName = "/dev/ttyFAKE0"

type fakeSerial struct {
	*fakeport.Device
	name   string
	closed bool
}

func (p *fakeSerial) Name() string { return p.name }
func (p *fakeSerial) Close() error {
	p.closed = true
	return nil
}

// newFake plugs an emulated programmer of the given size on fakeName.
func newFake(t *testing.T, size int) *fakeport.Device {
	t.Helper()

	var (
		dev      = fakeport.New(size)
		oldOpen  = serialOpen
		oldLine  = lineOpts
		oldDev   = devOpts
		oldList  = serialList
		oldAlert = sendAlert
	)
	t.Cleanup(func() {
		serialOpen = oldOpen
		lineOpts = oldLine
		devOpts = oldDev
		serialList = oldList
		sendAlert = oldAlert
	})

	serialOpen = func(name string, baud int) (port, error) {
		if name != fakeName {
			return nil, fmt.Errorf("no such device %q", name)
		}
		return &fakeSerial{Device: dev, name: name}, nil
	}
	serialList = func() ([]serial.Info, error) {
		return []serial.Info{{Port: fakeName, Manufacturer: "Arduino (www.arduino.cc)"}}, nil
	}
	sendAlert = func(subject, body string) error {
		t.Errorf("unexpected alert %q:\n%s", subject, body)
		return nil
	}
	lineOpts = []transport.Option{transport.WithStaleTimeout(time.Millisecond)}
	devOpts = []device.Option{
		device.WithSettle(0),
		device.WithCommandDelay(0),
		device.WithUploadSettle(0),
		device.WithPollInterval(time.Millisecond),
		device.WithLogger(log.New(io.Discard, "device: ", 0)),
	}
	return dev
}

func execute(args ...string) (stdout, stderr string, err error) {
	var (
		cmd  = newRootCmd()
		obuf = new(bytes.Buffer)
		ebuf = new(bytes.Buffer)
	)
	cmd.SetOut(obuf)
	cmd.SetErr(ebuf)
	cmd.SetArgs(args)
	err = cmd.ExecuteContext(context.Background())
	return obuf.String(), ebuf.String(), err
}

func testImage() ihex.Image {
	img := ihex.Image{
		{Addr: 0x0020, Data: make([]byte, 40)},
		{Addr: 0x00A0, Data: []byte("AT28C")},
	}
	for i := range img[0].Data {
		img[0].Data[i] = byte(i + 1)
	}
	return img
}

func writeHex(t *testing.T, fname string, img ihex.Image) {
	t.Helper()
	buf := new(bytes.Buffer)
	err := ihex.NewEncoder(buf).Encode(img)
	if err != nil {
		t.Fatalf("could not encode image: %+v", err)
	}
	err = os.WriteFile(fname, buf.Bytes(), 0644)
	if err != nil {
		t.Fatalf("could not write hex file: %+v", err)
	}
}

func TestPick(t *testing.T) {
	infos := []serial.Info{
		{Port: "/dev/ttyACM0"},
		{Port: "/dev/ttyUSB0"},
	}
	for _, tc := range []struct {
		ans  string
		want string
		err  bool
	}{
		{ans: "0", want: "/dev/ttyACM0"},
		{ans: " 1\n", want: "/dev/ttyUSB0"},
		{ans: "/dev/ttyUSB0", want: "/dev/ttyUSB0"},
		{ans: "2", err: true},
		{ans: "-1", err: true},
		{ans: "/dev/ttyS0", err: true},
		{ans: "", err: true},
	} {
		t.Run(tc.ans, func(t *testing.T) {
			got, err := pick(infos, tc.ans)
			switch {
			case err != nil && tc.err:
				return
			case err != nil:
				t.Fatalf("could not pick port: %+v", err)
			case tc.err:
				t.Fatalf("expected an error (got=%q)", got)
			}
			if got != tc.want {
				t.Fatalf("invalid port: got=%q, want=%q", got, tc.want)
			}
		})
	}
}

func TestPortName(t *testing.T) {
	defer func(
		list func() ([]serial.Info, error),
		prompt func([]serial.Info) (string, error),
	) {
		serialList = list
		promptPort = prompt
	}(serialList, promptPort)

	var infos []serial.Info
	serialList = func() ([]serial.Info, error) { return infos, nil }
	promptPort = func(infos []serial.Info) (string, error) {
		return infos[len(infos)-1].Port, nil
	}

	for _, tc := range []struct {
		name  string
		port  string
		infos []serial.Info
		want  string
		err   bool
	}{
		{
			name: "explicit",
			port: "/dev/ttyS1",
			want: "/dev/ttyS1",
		},
		{
			name: "none",
			err:  true,
		},
		{
			name:  "single",
			infos: []serial.Info{{Port: "/dev/ttyACM0"}},
			want:  "/dev/ttyACM0",
		},
		{
			name:  "several",
			infos: []serial.Info{{Port: "/dev/ttyACM0"}, {Port: "/dev/ttyUSB1"}},
			want:  "/dev/ttyUSB1",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			infos = tc.infos
			a := app{port: tc.port}
			got, err := a.portName()
			switch {
			case err != nil && tc.err:
				return
			case err != nil:
				t.Fatalf("could not select port: %+v", err)
			case tc.err:
				t.Fatalf("expected an error (got=%q)", got)
			}
			if got != tc.want {
				t.Fatalf("invalid port: got=%q, want=%q", got, tc.want)
			}
		})
	}

	serialList = func() ([]serial.Info, error) { return nil, serial.ErrUnsupported }
	_, err := new(app).portName()
	if !errors.Is(err, serial.ErrUnsupported) {
		t.Fatalf("invalid error: %+v", err)
	}
}

func TestList(t *testing.T) {
	defer func(list, usb func() ([]serial.Info, error)) {
		serialList = list
		serialUSB = usb
	}(serialList, serialUSB)

	arduino := serial.Info{
		Port:         "/dev/ttyACM0",
		Manufacturer: "Arduino (www.arduino.cc)",
		Product:      "Mega 2560",
		VendorID:     "2341",
		ProductID:    "0042",
	}
	other := serial.Info{
		Port:         "/dev/ttyUSB3",
		Manufacturer: "Prolific",
		VendorID:     "067b",
		ProductID:    "2303",
	}
	serialList = func() ([]serial.Info, error) { return []serial.Info{arduino}, nil }
	serialUSB = func() ([]serial.Info, error) { return []serial.Info{arduino, other}, nil }

	for _, tc := range []struct {
		args []string
		want string
	}{
		{
			args: []string{"list"},
			want: fmt.Sprintf("0. %v\n", arduino),
		},
		{
			args: []string{"list", "--all"},
			want: fmt.Sprintf("0. %v\n1. %v\n", arduino, other),
		},
	} {
		t.Run(strings.Join(tc.args, " "), func(t *testing.T) {
			got, _, err := execute(tc.args...)
			if err != nil {
				t.Fatalf("could not list ports: %+v", err)
			}
			if got != tc.want {
				t.Fatalf("invalid list:\ngot:\n%s\nwant:\n%s", got, tc.want)
			}
		})
	}

	serialList = func() ([]serial.Info, error) { return nil, nil }
	got, _, err := execute("list")
	if err != nil {
		t.Fatalf("could not list ports: %+v", err)
	}
	if want := "no programmer detected\n"; got != want {
		t.Fatalf("invalid list: got=%q, want=%q", got, want)
	}
}

func TestOpenError(t *testing.T) {
	newFake(t, 256)

	_, _, err := execute("clean", "--port=/dev/ttyS9")
	if err == nil || !strings.Contains(err.Error(), `could not open serial port "/dev/ttyS9"`) {
		t.Fatalf("invalid error: %+v", err)
	}
}

func TestClean(t *testing.T) {
	dev := newFake(t, 256)
	dev.Load(0, make([]byte, 256))

	_, stderr, err := execute("clean", "--port="+fakeName, "--start=0x10", "--end=0x30", "--pattern=0xAA")
	if err != nil {
		t.Fatalf("could not clean EEPROM: %+v", err)
	}
	if !strings.Contains(stderr, "Erase Done!") {
		t.Fatalf("missing erase progress:\n%s", stderr)
	}

	for i, v := range dev.Memory() {
		want := byte(0x00)
		if 0x10 <= i && i < 0x30 {
			want = 0xAA
		}
		if v != want {
			t.Fatalf("invalid memory at 0x%04X: got=0x%02X, want=0x%02X", i, v, want)
		}
	}

	// the programmer is auto-detected.
	_, _, err = execute("clean")
	if err != nil {
		t.Fatalf("could not clean EEPROM: %+v", err)
	}
	if !bytes.Equal(dev.Memory(), bytes.Repeat([]byte{0xFF}, 256)) {
		t.Fatalf("EEPROM not erased")
	}
}

func TestHang(t *testing.T) {
	dev := newFake(t, 256)
	dev.Hang('E')
	devOpts = append(devOpts, device.WithEraseTimeout(20*time.Millisecond))

	_, _, err := execute("clean", "--port="+fakeName)
	if !errors.Is(err, device.ErrTimeout) {
		t.Fatalf("invalid error: %+v", err)
	}
}

func TestWriteReadVerify(t *testing.T) {
	dev := newFake(t, 256)
	dir := t.TempDir()
	fname := filepath.Join(dir, "rom.hex")
	want := testImage()
	writeHex(t, fname, want)

	_, _, err := execute("write", "--port="+fakeName, fname)
	if err != nil {
		t.Fatalf("could not write EEPROM: %+v", err)
	}
	mem := dev.Memory()
	if got, want := mem[0x20:0x48], want[0].Data; !bytes.Equal(got, want) {
		t.Fatalf("invalid EEPROM content:\ngot= % X\nwant=% X", got, want)
	}

	t.Run("hex", func(t *testing.T) {
		oname := filepath.Join(dir, "dump.hex")
		_, _, err := execute("read", "--port="+fakeName, "--output="+oname)
		if err != nil {
			t.Fatalf("could not read EEPROM: %+v", err)
		}
		img, err := load(oname)
		if err != nil {
			t.Fatalf("could not load dump: %+v", err)
		}
		if !bytes.Equal(img.Bytes(), dev.Memory()) {
			t.Fatalf("invalid dump:\ngot= % X\nwant=% X", img.Bytes(), dev.Memory())
		}
	})

	t.Run("bin", func(t *testing.T) {
		oname := filepath.Join(dir, "dump.bin")
		_, _, err := execute("read", "--port="+fakeName, "--format=bin", "-o", oname)
		if err != nil {
			t.Fatalf("could not read EEPROM: %+v", err)
		}
		got, err := os.ReadFile(oname)
		if err != nil {
			t.Fatalf("could not read dump: %+v", err)
		}
		if !bytes.Equal(got, dev.Memory()) {
			t.Fatalf("invalid dump:\ngot= % X\nwant=% X", got, dev.Memory())
		}
	})

	t.Run("stdout", func(t *testing.T) {
		stdout, stderr, err := execute("read", "--port="+fakeName, "--start=0x80")
		if err != nil {
			t.Fatalf("could not read EEPROM: %+v", err)
		}
		img, err := ihex.NewDecoder(strings.NewReader(stdout)).Decode()
		if err != nil {
			t.Fatalf("could not decode dump: %+v\n%s", err, stdout)
		}
		if got, want := img.Bytes(), dev.Memory()[0x80:]; !bytes.Equal(got, want) {
			t.Fatalf("invalid dump:\ngot= % X\nwant=% X", got, want)
		}
		if !strings.Contains(stderr, "00A0: 41 54 32 38 43 ") {
			t.Fatalf("missing dump progress:\n%s", stderr)
		}
	})

	t.Run("invalid-format", func(t *testing.T) {
		_, _, err := execute("read", "--port="+fakeName, "--format=srec")
		if err == nil || !strings.Contains(err.Error(), `invalid output format "srec"`) {
			t.Fatalf("invalid error: %+v", err)
		}
	})

	t.Run("verify", func(t *testing.T) {
		stdout, _, err := execute("verify", "--port="+fakeName, fname)
		if err != nil {
			t.Fatalf("could not verify EEPROM: %+v", err)
		}
		if got, want := stdout, fname+": 45 bytes verified\n"; got != want {
			t.Fatalf("invalid report: got=%q, want=%q", got, want)
		}
	})

	t.Run("verify-mismatch", func(t *testing.T) {
		dev.Load(0xA1, []byte{0x00, 0x01})
		defer dev.Load(0xA1, []byte("T2"))

		stdout, _, err := execute("verify", "--port="+fakeName, "--max=1", fname)
		if err == nil || !strings.Contains(err.Error(), "2/45 bytes differ") {
			t.Fatalf("invalid error: %+v", err)
		}
		want := "0x00A1: want=0x54, got=0x00\n... (1 more)\n"
		if stdout != want {
			t.Fatalf("invalid report:\ngot= %q\nwant=%q", stdout, want)
		}
	})
}

func TestWriteErrors(t *testing.T) {
	dev := newFake(t, 256)
	dir := t.TempDir()

	_, _, err := execute("write", "--port="+fakeName, filepath.Join(dir, "missing.hex"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("invalid error: %+v", err)
	}

	fname := filepath.Join(dir, "bad.hex")
	err = os.WriteFile(fname, []byte(":0400100001020304E2\n:0400100001020304E3\n"), 0644)
	if err != nil {
		t.Fatalf("could not create hex file: %+v", err)
	}

	_, _, err = execute("write", "--port="+fakeName, fname)
	var derr *ihex.DecodingError
	if !errors.As(err, &derr) {
		t.Fatalf("invalid error: %+v", err)
	}
	if !bytes.Equal(dev.Memory(), bytes.Repeat([]byte{0xFF}, 256)) {
		t.Fatalf("invalid file modified the EEPROM")
	}

	_, _, err = execute("verify", "--port="+fakeName, fname)
	if !errors.As(err, &derr) {
		t.Fatalf("invalid error: %+v", err)
	}
}

type memArchive struct {
	dumps []dumpdb.Dump
	init  bool
}

func (db *memArchive) Init(ctx context.Context) error {
	db.init = true
	return nil
}

func (db *memArchive) Store(ctx context.Context, dump dumpdb.Dump) (int64, error) {
	dump.ID = int64(len(db.dumps) + 1)
	dump.Time = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	db.dumps = append(db.dumps, dump)
	return dump.ID, nil
}

func (db *memArchive) Last(ctx context.Context, port string) (dumpdb.Dump, error) {
	for i := len(db.dumps) - 1; i >= 0; i-- {
		if db.dumps[i].Port == port {
			return db.dumps[i], nil
		}
	}
	return dumpdb.Dump{}, fmt.Errorf("no dump for %q: %w", port, dumpdb.ErrNoDump)
}

func (db *memArchive) Close() error { return nil }

func TestArchive(t *testing.T) {
	dev := newFake(t, 256)
	dev.Load(0x20, testImage()[0].Data)
	dev.Load(0xA0, testImage()[1].Data)

	defer func(f func(string) (archive, error)) {
		openDB = f
	}(openDB)

	db := new(memArchive)
	openDB = func(name string) (archive, error) {
		if name != "eeproms" {
			return nil, fmt.Errorf("unknown db %q", name)
		}
		return db, nil
	}

	dir := t.TempDir()
	fname := filepath.Join(dir, "rom.hex")
	writeHex(t, fname, testImage())

	_, _, err := execute("verify", "--port="+fakeName, "--db=eeproms", fname)
	if !errors.Is(err, dumpdb.ErrNoDump) {
		t.Fatalf("invalid error: %+v", err)
	}

	_, _, err = execute("read", "--port="+fakeName, "--db=eeproms", "-o", filepath.Join(dir, "dump.hex"))
	if err != nil {
		t.Fatalf("could not read EEPROM: %+v", err)
	}
	if !db.init {
		t.Fatalf("db not initialized")
	}
	if got, want := len(db.dumps), 1; got != want {
		t.Fatalf("invalid number of dumps: got=%d, want=%d", got, want)
	}
	if got, want := db.dumps[0].Port, fakeName; got != want {
		t.Fatalf("invalid port: got=%q, want=%q", got, want)
	}
	if got, want := db.dumps[0].Image.Bytes(), dev.Memory(); !bytes.Equal(got, want) {
		t.Fatalf("invalid archived dump")
	}

	// the archived dump is used, whatever the current EEPROM content.
	dev.Load(0x20, make([]byte, 8))
	stdout, _, err := execute("verify", "--port="+fakeName, "--db=eeproms", fname)
	if err != nil {
		t.Fatalf("could not verify archived dump: %+v", err)
	}
	if got, want := stdout, fname+": 45 bytes verified\n"; got != want {
		t.Fatalf("invalid report: got=%q, want=%q", got, want)
	}

	_, _, err = execute("read", "--port="+fakeName, "--db=dumps")
	if err == nil || !strings.Contains(err.Error(), `unknown db "dumps"`) {
		t.Fatalf("invalid error: %+v", err)
	}
}

func TestProtect(t *testing.T) {
	dev := newFake(t, 256)

	_, _, err := execute("protect", "--port="+fakeName, "on")
	if err != nil {
		t.Fatalf("could not enable write protection: %+v", err)
	}
	if !dev.Protected() {
		t.Fatalf("write protection not enabled")
	}

	_, _, err = execute("protect", "--port="+fakeName, "off")
	if err != nil {
		t.Fatalf("could not disable write protection: %+v", err)
	}
	if dev.Protected() {
		t.Fatalf("write protection not disabled")
	}

	_, _, err = execute("protect", "--port="+fakeName, "maybe")
	if err == nil {
		t.Fatalf("expected an error")
	}
}

func TestSelfTest(t *testing.T) {
	dev := newFake(t, 600)

	_, _, err := execute("test", "--port="+fakeName)
	if err != nil {
		t.Fatalf("self-test failed: %+v", err)
	}

	dev.Stick(0xA0, 0x00)
	_, _, err = execute("test", "--port="+fakeName)
	if err == nil || !strings.Contains(err.Error(), "Test failed with 1 errors.") {
		t.Fatalf("invalid error: %+v", err)
	}
}

func TestVersion(t *testing.T) {
	stdout, _, err := execute("version")
	if err != nil {
		t.Fatalf("could not run version: %+v", err)
	}
	if !strings.HasPrefix(stdout, "at28c ") {
		t.Fatalf("invalid version: %q", stdout)
	}
}

func TestShell(t *testing.T) {
	dev := newFake(t, 256)
	dir := t.TempDir()
	fname := filepath.Join(dir, "rom.hex")
	writeHex(t, fname, testImage())

	a := app{port: fakeName}
	c, err := a.open(context.Background(), io.Discard)
	if err != nil {
		t.Fatalf("could not open programmer: %+v", err)
	}
	defer c.Close()

	ctx := context.Background()
	exec := func(line string) (string, bool, error) {
		out := new(strings.Builder)
		quit, err := run(ctx, c, out, line)
		return out.String(), quit, err
	}

	for _, tc := range []struct {
		line  string
		check func(t *testing.T, out string)
		err   string
	}{
		{line: "   "},
		{
			line: "help",
			check: func(t *testing.T, out string) {
				if got, want := strings.Count(out, "\n"), len(shellCmds); got != want {
					t.Fatalf("invalid help:\n%s", out)
				}
			},
		},
		{
			line: "menu",
			check: func(t *testing.T, out string) {
				if !strings.Contains(out, " D - Dump EEPROM contents\n") {
					t.Fatalf("invalid menu:\n%s", out)
				}
			},
		},
		{
			line: "erase 0 0 00",
			check: func(t *testing.T, out string) {
				if !bytes.Equal(dev.Memory(), make([]byte, 256)) {
					t.Fatalf("EEPROM not erased")
				}
			},
		},
		{line: "erase 0 0 100", err: "invalid erase arguments"},
		{line: "erase 0 0 0 0", err: "too many arguments"},
		{
			line: "write " + fname,
			check: func(t *testing.T, out string) {
				if got, want := dev.Memory()[0xA0:0xA5], []byte("AT28C"); !bytes.Equal(got, want) {
					t.Fatalf("invalid EEPROM content: got=%q, want=%q", got, want)
				}
			},
		},
		{line: "write", err: "usage: write"},
		{
			line: "verify " + fname,
			check: func(t *testing.T, out string) {
				if got, want := out, fname+": 45 bytes verified\n"; got != want {
					t.Fatalf("invalid report: got=%q, want=%q", got, want)
				}
			},
		},
		{
			line: "dump 0xF0",
			check: func(t *testing.T, out string) {
				want := ":10" + "00F000" + strings.Repeat("00", 16) + "00\n" + ihex.EOF + "\n"
				if out != want {
					t.Fatalf("invalid dump:\ngot= %q\nwant=%q", out, want)
				}
			},
		},
		{line: "dump zz", err: "invalid dump arguments"},
		{
			line: "protect on",
			check: func(t *testing.T, out string) {
				if !dev.Protected() {
					t.Fatalf("write protection not enabled")
				}
			},
		},
		{
			line: "PROTECT off",
			check: func(t *testing.T, out string) {
				if dev.Protected() {
					t.Fatalf("write protection not disabled")
				}
			},
		},
		{line: "protect", err: "usage: protect on|off"},
		{line: "reset"},
		{line: "flash", err: `unknown command "flash"`},
	} {
		t.Run(tc.line, func(t *testing.T) {
			out, quit, err := exec(tc.line)
			if quit {
				t.Fatalf("unexpected quit")
			}
			switch {
			case tc.err != "":
				if err == nil || !strings.Contains(err.Error(), tc.err) {
					t.Fatalf("invalid error: got=%+v, want=%q", err, tc.err)
				}
				return
			case err != nil:
				t.Fatalf("could not run %q: %+v", tc.line, err)
			}
			if tc.check != nil {
				tc.check(t, out)
			}
		})
	}

	for _, line := range []string{"quit", "exit", "q"} {
		_, quit, err := exec(line)
		if err != nil || !quit {
			t.Fatalf("%q did not quit: quit=%v, err=%+v", line, quit, err)
		}
	}
}

func TestComplete(t *testing.T) {
	for _, tc := range []struct {
		line string
		want []string
	}{
		{"", []string{"dump", "erase", "help", "menu", "protect", "quit", "reset", "test", "verify", "write"}},
		{"re", []string{"reset"}},
		{"x", nil},
	} {
		t.Run(tc.line, func(t *testing.T) {
			got := complete(tc.line)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("invalid completion:\ngot= %q\nwant=%q", got, tc.want)
			}
		})
	}
}

func TestWatch(t *testing.T) {
	dev := newFake(t, 256)
	dir := t.TempDir()
	fname := filepath.Join(dir, "rom.hex")
	writeHex(t, fname, testImage())

	alerts := make(chan string, 8)
	sendAlert = func(subject, body string) error {
		alerts <- subject
		return nil
	}

	a := app{port: fakeName}
	c, err := a.open(context.Background(), io.Discard)
	if err != nil {
		t.Fatalf("could not open programmer: %+v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- watchFile(ctx, c, fname)
	}()

	waitFor := func(addr int, want []byte) {
		t.Helper()
		timeout := time.After(5 * time.Second)
		for {
			if bytes.Equal(dev.Memory()[addr:addr+len(want)], want) {
				return
			}
			select {
			case <-timeout:
				t.Fatalf("EEPROM not updated at 0x%04X: got=% X, want=% X",
					addr, dev.Memory()[addr:addr+len(want)], want,
				)
			case err := <-done:
				t.Fatalf("watcher stopped: %+v", err)
			case <-time.After(10 * time.Millisecond):
			}
		}
	}

	waitFor(0xA0, []byte("AT28C"))

	writeHex(t, fname, ihex.Image{{Addr: 0xA0, Data: []byte("AT28C256")}})
	waitFor(0xA0, []byte("AT28C256"))

	err = os.WriteFile(fname, []byte(":0400100001020304E3\n"), 0644)
	if err != nil {
		t.Fatalf("could not corrupt hex file: %+v", err)
	}
	select {
	case subject := <-alerts:
		if got, want := subject, "upload of rom.hex failed"; got != want {
			t.Fatalf("invalid alert: got=%q, want=%q", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no alert sent")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watcher failed: %+v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("watcher did not stop")
	}
}
