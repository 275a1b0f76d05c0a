// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command at28c-srv starts a TDAQ server driving an EEPROM programmer.
//
// Usage:
//
//	$> at28c-srv [tdaq-options] /dev/ttyACM0
//
// Each run dumps the EEPROM and publishes the Intel HEX text of the dump
// on the /eeprom output.
// The baud rate of the serial port is taken from AT28C_BAUD (default: 115200).
package main // import "github.com/go-lpc/at28c/cmd/at28c-srv"

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-lpc/at28c/device"
	"github.com/go-lpc/at28c/ihex"
	"github.com/go-lpc/at28c/serial"
	"github.com/go-lpc/at28c/transport"
)

type port interface {
	transport.Port
	io.Closer
}

var (
	serialOpen = func(name string, baud int) (port, error) {
		return serial.Open(name, baud, 1*time.Second)
	}

	lineOpts []transport.Option
	devOpts  []device.Option
)

func main() {
	cmd := flags.New()
	if len(cmd.Args) == 0 {
		log.Panicf("missing serial port argument")
	}

	baud := 115200
	if v, err := strconv.Atoi(os.Getenv("AT28C_BAUD")); err == nil {
		baud = v
	}

	dev := programmer{
		name: cmd.Args[0],
		baud: baud,
	}

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/eeprom", dev.eeprom)

	srv.RunHandle(dev.run)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

type programmer struct {
	name string
	baud int

	port port
	sess *device.Session

	n    int
	data chan []byte
}

func (dev *programmer) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")
	if dev.port != nil {
		_ = dev.port.Close()
		dev.port = nil
		dev.sess = nil
	}

	p, err := serialOpen(dev.name, dev.baud)
	if err != nil {
		return fmt.Errorf("could not open serial port %q: %w", dev.name, err)
	}
	dev.port = p
	return nil
}

func (dev *programmer) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	if dev.port == nil {
		return fmt.Errorf("serial port %q not configured", dev.name)
	}

	opts := append([]device.Option{
		device.WithProgress(func(line string) {
			ctx.Msg.Debugf("%s", line)
		}),
	}, devOpts...)

	sess, err := device.New(ctx.Ctx, transport.New(dev.port, lineOpts...), opts...)
	if err != nil {
		return fmt.Errorf("could not connect to programmer on %q: %w", dev.name, err)
	}
	dev.sess = sess
	dev.data = make(chan []byte, 16)
	dev.n = 0
	return nil
}

func (dev *programmer) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	if dev.sess == nil {
		return fmt.Errorf("programmer on %q not initialized", dev.name)
	}
	err := dev.sess.Reset(ctx.Ctx)
	if err != nil {
		return fmt.Errorf("could not reset programmer on %q: %w", dev.name, err)
	}
	dev.data = make(chan []byte, 16)
	dev.n = 0
	return nil
}

func (dev *programmer) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	if dev.sess == nil {
		return fmt.Errorf("programmer on %q not initialized", dev.name)
	}
	return nil
}

func (dev *programmer) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	n := dev.n
	ctx.Msg.Debugf("received /stop command... -> n=%d", n)
	return nil
}

func (dev *programmer) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	if dev.port == nil {
		return nil
	}
	err := dev.port.Close()
	dev.port = nil
	dev.sess = nil
	if err != nil {
		return fmt.Errorf("could not close serial port %q: %w", dev.name, err)
	}
	return nil
}

func (dev *programmer) eeprom(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case data := <-dev.data:
		dst.Body = data
	}
	return nil
}

// run dumps the EEPROM once per run.
func (dev *programmer) run(ctx tdaq.Context) error {
	img, err := dev.sess.Read(ctx.Ctx, 0)
	if err != nil {
		if len(img) == 0 {
			return fmt.Errorf("could not dump EEPROM: %w", err)
		}
		ctx.Msg.Warnf("partial dump (%d bytes): %+v", img.Len(), err)
	}

	buf := new(bytes.Buffer)
	err = ihex.NewEncoder(buf).Encode(img)
	if err != nil {
		return fmt.Errorf("could not encode dump: %w", err)
	}

	select {
	case <-ctx.Ctx.Done():
		return nil
	case dev.data <- buf.Bytes():
		dev.n++
		ctx.Msg.Infof("published dump #%d (%d bytes)", dev.n, img.Len())
	}

	<-ctx.Ctx.Done()
	return nil
}
