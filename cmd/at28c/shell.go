// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"strings"

	"github.com/go-lpc/at28c/ihex"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"
)

func newShellCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Drive the programmer interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.with(cmd, func(ctx context.Context, c *conn) error {
				return shell(ctx, c, cmd.OutOrStdout())
			})
		},
	}
}

var shellCmds = map[string]string{
	"help":    "display this help",
	"menu":    "display the menu of the programmer",
	"erase":   "erase [start [end [pattern]]]",
	"dump":    "dump [start]",
	"write":   "write <file.hex>",
	"verify":  "verify <file.hex>",
	"protect": "protect on|off",
	"test":    "run the self-test (overwrites the EEPROM)",
	"reset":   "discard pending output of the programmer",
	"quit":    "leave the shell",
}

func shell(ctx context.Context, c *conn, w io.Writer) error {
	ln := liner.NewLiner()
	defer ln.Close()

	ln.SetCtrlCAborts(true)
	ln.SetCompleter(complete)

	for {
		line, err := ln.Prompt("at28c> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("could not read command: %w", err)
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		ln.AppendHistory(line)

		quit, err := run(ctx, c, w, line)
		if err != nil {
			log.Printf("%+v", err)
		}
		if quit || ctx.Err() != nil {
			return nil
		}
	}
}

func complete(line string) []string {
	var out []string
	for name := range shellCmds {
		if strings.HasPrefix(name, line) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// run executes a single shell command.
func run(ctx context.Context, c *conn, w io.Writer, line string) (quit bool, err error) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return false, nil
	}

	switch cmd, args := strings.ToLower(args[0]), args[1:]; cmd {
	case "quit", "exit", "q":
		return true, nil

	case "help", "?":
		names := make([]string, 0, len(shellCmds))
		for name := range shellCmds {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "  %-8s %s\n", name, shellCmds[name])
		}
		return false, nil

	case "menu":
		lines, err := c.sess.Help(ctx)
		if err != nil {
			return false, fmt.Errorf("could not retrieve menu: %w", err)
		}
		for _, line := range lines {
			fmt.Fprintln(w, line)
		}
		return false, nil

	case "erase":
		vs, err := hexArgs(args, 16, 16, 8)
		if err != nil {
			return false, fmt.Errorf("invalid erase arguments: %w", err)
		}
		pattern := uint64(0xFF)
		if len(args) > 2 {
			pattern = vs[2]
		}
		err = c.sess.Erase(ctx, uint16(vs[0]), uint16(vs[1]), uint8(pattern))
		if err != nil {
			return false, fmt.Errorf("could not erase EEPROM: %w", err)
		}
		return false, nil

	case "dump":
		vs, err := hexArgs(args, 16)
		if err != nil {
			return false, fmt.Errorf("invalid dump arguments: %w", err)
		}
		img, rerr := c.sess.Read(ctx, uint16(vs[0]))
		if len(img) > 0 {
			err = ihex.NewEncoder(w).Encode(img)
			if err != nil {
				return false, fmt.Errorf("could not encode dump: %w", err)
			}
		}
		if rerr != nil {
			return false, fmt.Errorf("could not read EEPROM: %w", rerr)
		}
		return false, nil

	case "write":
		if len(args) != 1 {
			return false, errors.New("usage: write <file.hex>")
		}
		return false, upload(ctx, c, args[0])

	case "verify":
		if len(args) != 1 {
			return false, errors.New("usage: verify <file.hex>")
		}
		want, err := load(args[0])
		if err != nil {
			return false, err
		}
		got, err := c.sess.Read(ctx, 0)
		if err != nil {
			return false, fmt.Errorf("could not read EEPROM: %w", err)
		}
		diffs, err := ihex.Compare(want, got)
		if err != nil {
			return false, fmt.Errorf("could not compare images: %w", err)
		}
		return false, report(w, args[0], want.Len(), diffs, 16)

	case "protect":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			return false, errors.New("usage: protect on|off")
		}
		err := c.sess.SetWriteProtect(ctx, args[0] == "on")
		if err != nil {
			return false, fmt.Errorf("could not set write protection %s: %w", args[0], err)
		}
		return false, nil

	case "test":
		err := c.sess.SelfTest(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(w, "self-test passed\n")
		return false, nil

	case "reset":
		err := c.sess.Reset(ctx)
		if err != nil {
			return false, fmt.Errorf("could not reset session: %w", err)
		}
		return false, nil

	default:
		return false, fmt.Errorf("unknown command %q (type help)", cmd)
	}
}

// hexArgs parses the optional hexadecimal arguments args, whose sizes in
// bits are given by bits. Missing arguments are returned as 0.
func hexArgs(args []string, bits ...int) ([]uint64, error) {
	if len(args) > len(bits) {
		return nil, fmt.Errorf("too many arguments (got=%d, max=%d)", len(args), len(bits))
	}
	vs := make([]uint64, len(bits))
	for i, arg := range args {
		s := strings.TrimPrefix(strings.ToLower(arg), "0x")
		v, err := strconv.ParseUint(s, 16, bits[i])
		if err != nil {
			return nil, fmt.Errorf("invalid value %q: %w", arg, err)
		}
		vs[i] = v
	}
	return vs, nil
}
