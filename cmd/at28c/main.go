// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command at28c erases, dumps and programs AT28C EEPROMs through a
// programmer attached to a serial port.
//
// Usage:
//
//	$> at28c list
//	$> at28c clean --start=0x0000 --end=0x1FFF --pattern=0xFF
//	$> at28c read --output=rom.hex
//	$> at28c read --format=bin --output=rom.bin
//	$> at28c write rom.hex
//	$> at28c verify rom.hex
//	$> at28c protect on
//	$> at28c shell
//
// The serial port and its baud rate default to the AT28C_PORT and
// AT28C_BAUD environment variables.
// Without any port, the programmer is detected among the USB serial ports.
package main // import "github.com/go-lpc/at28c/cmd/at28c"

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/go-lpc/at28c"
	"github.com/go-lpc/at28c/device"
	"github.com/go-lpc/at28c/dumpdb"
	"github.com/go-lpc/at28c/serial"
	"github.com/go-lpc/at28c/transport"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"
)

const readTimeout = 1 * time.Second

// port is an opened serial port.
type port interface {
	transport.Port
	io.Closer
	Name() string
}

// archive stores and retrieves EEPROM dumps.
type archive interface {
	Init(ctx context.Context) error
	Store(ctx context.Context, dump dumpdb.Dump) (int64, error)
	Last(ctx context.Context, port string) (dumpdb.Dump, error)
	Close() error
}

var (
	serialOpen = serialOpenImpl
	serialList = serial.List
	serialUSB  = serial.USB
	promptPort = promptPortImpl
	openDB     = openDBImpl

	lineOpts []transport.Option
	devOpts  []device.Option
)

func serialOpenImpl(name string, baud int) (port, error) {
	return serial.Open(name, baud, readTimeout)
}

func openDBImpl(name string) (archive, error) {
	db, err := dumpdb.Open(name)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func main() {
	log.SetPrefix("at28c: ")
	log.SetFlags(0)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

type app struct {
	port string
	baud int
}

func newRootCmd() *cobra.Command {
	var (
		a    = new(app)
		root = &cobra.Command{
			Use:           "at28c",
			Short:         "Erase, dump and program AT28C EEPROMs",
			SilenceUsage:  true,
			SilenceErrors: true,
		}
	)

	root.PersistentFlags().StringVarP(&a.port, "port", "p", os.Getenv("AT28C_PORT"), "serial port of the programmer (default: auto-detect)")
	root.PersistentFlags().IntVarP(&a.baud, "baud", "b", envInt("AT28C_BAUD", 115200), "baud rate of the serial port")

	root.AddCommand(
		newListCmd(),
		newCleanCmd(a),
		newReadCmd(a),
		newWriteCmd(a),
		newVerifyCmd(a),
		newProtectCmd(a),
		newTestCmd(a),
		newShellCmd(a),
		newVersionCmd(),
	)
	return root
}

func envInt(k string, def int) int {
	v, err := strconv.Atoi(os.Getenv(k))
	if err != nil {
		return def
	}
	return v
}

func newListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the serial ports a programmer may be attached to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list := serialList
			if all {
				list = serialUSB
			}
			infos, err := list()
			if err != nil {
				return fmt.Errorf("could not list serial ports: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(infos) == 0 {
				fmt.Fprintf(out, "no programmer detected\n")
				return nil
			}
			for i, info := range infos {
				fmt.Fprintf(out, "%d. %v\n", i, info)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "list all USB serial ports")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of at28c",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			vers, sum := at28c.Version()
			if vers == "" {
				vers = "(devel)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "at28c %s %s\n", vers, sum)
		},
	}
}

// portName returns the name of the serial port to use, detecting it
// when none was given.
func (a *app) portName() (string, error) {
	if a.port != "" {
		return a.port, nil
	}

	infos, err := serialList()
	if err != nil {
		return "", fmt.Errorf("could not detect programmer: %w", err)
	}
	switch len(infos) {
	case 0:
		return "", errors.New("no programmer detected (use --port)")
	case 1:
		log.Printf("using detected programmer %v", infos[0])
		return infos[0].Port, nil
	default:
		name, err := promptPort(infos)
		if err != nil {
			return "", fmt.Errorf("could not select programmer: %w", err)
		}
		a.port = name
		return name, nil
	}
}

func promptPortImpl(infos []serial.Info) (string, error) {
	log.Printf("several programmers detected:")
	for i, info := range infos {
		log.Printf("%d. %v", i, info)
	}

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	for {
		ans, err := ln.Prompt(fmt.Sprintf("select programmer [0-%d]: ", len(infos)-1))
		if err != nil {
			return "", err
		}
		name, err := pick(infos, ans)
		if err != nil {
			log.Printf("%+v", err)
			continue
		}
		return name, nil
	}
}

// pick returns the port designated by ans, either its index in infos or
// its name.
func pick(infos []serial.Info, ans string) (string, error) {
	ans = strings.TrimSpace(ans)
	if i, err := strconv.Atoi(ans); err == nil {
		if i < 0 || i >= len(infos) {
			return "", fmt.Errorf("invalid selection %d", i)
		}
		return infos[i].Port, nil
	}
	for _, info := range infos {
		if info.Port == ans {
			return info.Port, nil
		}
	}
	return "", fmt.Errorf("invalid selection %q", ans)
}

// conn is an opened session with a programmer.
type conn struct {
	name string
	port port
	sess *device.Session
}

func (c *conn) Close() error {
	err := c.port.Close()
	if err != nil {
		return fmt.Errorf("could not close %q: %w", c.name, err)
	}
	return nil
}

func (a *app) open(ctx context.Context, w io.Writer) (*conn, error) {
	name, err := a.portName()
	if err != nil {
		return nil, err
	}

	p, err := serialOpen(name, a.baud)
	if err != nil {
		return nil, fmt.Errorf("could not open serial port %q: %w", name, err)
	}

	opts := append([]device.Option{
		device.WithProgress(func(line string) {
			fmt.Fprintln(w, line)
		}),
	}, devOpts...)

	sess, err := device.New(ctx, transport.New(p, lineOpts...), opts...)
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("could not connect to programmer on %q: %w", name, err)
	}

	return &conn{name: name, port: p, sess: sess}, nil
}

// with runs f with a session on the programmer.
func (a *app) with(cmd *cobra.Command, f func(ctx context.Context, c *conn) error) error {
	ctx := cmd.Context()
	c, err := a.open(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer c.Close()

	err = f(ctx, c)
	if err != nil {
		return err
	}

	return c.Close()
}
