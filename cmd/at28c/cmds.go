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
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-lpc/at28c/device"
	"github.com/go-lpc/at28c/dumpdb"
	"github.com/go-lpc/at28c/ihex"
	"github.com/go-lpc/at28c/internal/alert"
	"github.com/spf13/cobra"
)

var sendAlert = alert.Mail

func newCleanCmd(a *app) *cobra.Command {
	var (
		start   uint16
		end     uint16
		pattern uint8
	)
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Erase the EEPROM",
		Long: `Erase the EEPROM, filling addresses from start up to (excluding) end
with pattern. An end address of 0 erases up to the end of the EEPROM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.with(cmd, func(ctx context.Context, c *conn) error {
				log.Printf("erasing EEPROM on %q...", c.name)
				err := c.sess.Erase(ctx, start, end, pattern)
				if err != nil {
					return fmt.Errorf("could not erase EEPROM: %w", err)
				}
				return nil
			})
		},
	}
	cmd.Flags().Uint16Var(&start, "start", 0, "start address")
	cmd.Flags().Uint16Var(&end, "end", 0, "end address (0: end of EEPROM)")
	cmd.Flags().Uint8Var(&pattern, "pattern", 0xFF, "fill pattern")
	return cmd
}

func newReadCmd(a *app) *cobra.Command {
	var (
		output string
		format string
		start  uint16
		dbname string
	)
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Dump the content of the EEPROM",
		Long: `Dump the content of the EEPROM, as Intel HEX or as raw binary.
Without any output file, the dump is printed on stdout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch format {
			case "hex", "bin":
			default:
				return fmt.Errorf("invalid output format %q (want hex or bin)", format)
			}

			return a.with(cmd, func(ctx context.Context, c *conn) error {
				log.Printf("reading EEPROM on %q...", c.name)
				img, rerr := c.sess.Read(ctx, start)
				if rerr != nil && len(img) == 0 {
					return fmt.Errorf("could not read EEPROM: %w", rerr)
				}
				if rerr != nil {
					log.Printf("partial dump (%d bytes): %+v", img.Len(), rerr)
				}

				err := save(cmd.OutOrStdout(), output, format, img)
				if err != nil {
					return err
				}

				if dbname != "" {
					err = archiveDump(ctx, dbname, dumpdb.Dump{
						Port:  c.name,
						Start: start,
						Image: img,
					})
					if err != nil {
						return err
					}
				}

				if rerr != nil {
					return fmt.Errorf("could not read EEPROM: %w", rerr)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file")
	cmd.Flags().StringVarP(&format, "format", "f", "hex", "output format (hex|bin)")
	cmd.Flags().Uint16Var(&start, "start", 0, "start address")
	cmd.Flags().StringVar(&dbname, "db", "", "name of the database where to archive the dump")
	return cmd
}

func save(stdout io.Writer, fname, format string, img ihex.Image) error {
	var buf bytes.Buffer
	switch format {
	case "bin":
		buf.Write(img.Bytes())
	default:
		err := ihex.NewEncoder(&buf).Encode(img)
		if err != nil {
			return fmt.Errorf("could not encode dump: %w", err)
		}
	}

	if fname == "" || fname == "-" {
		_, err := stdout.Write(buf.Bytes())
		if err != nil {
			return fmt.Errorf("could not write dump: %w", err)
		}
		return nil
	}

	err := os.WriteFile(fname, buf.Bytes(), 0644)
	if err != nil {
		return fmt.Errorf("could not save dump to %q: %w", fname, err)
	}
	log.Printf("saved %d bytes to %q", img.Len(), fname)
	return nil
}

func archiveDump(ctx context.Context, dbname string, dump dumpdb.Dump) error {
	db, err := openDB(dbname)
	if err != nil {
		return fmt.Errorf("could not open dumps db: %w", err)
	}
	defer db.Close()

	err = db.Init(ctx)
	if err != nil {
		return fmt.Errorf("could not initialize dumps db: %w", err)
	}

	id, err := db.Store(ctx, dump)
	if err != nil {
		return fmt.Errorf("could not archive dump: %w", err)
	}
	log.Printf("archived dump #%d of %q", id, dump.Port)

	return db.Close()
}

func newWriteCmd(a *app) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "write <file.hex>",
		Short: "Program the EEPROM with an Intel HEX file",
		Long: `Program the EEPROM with an Intel HEX file.
With --watch, the file is uploaded again each time it changes. Upload
failures are then reported by mail when MAIL_USERNAME, MAIL_PASSWORD,
MAIL_SERVER, MAIL_PORT and MAIL_TGTS are set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fname := args[0]
			return a.with(cmd, func(ctx context.Context, c *conn) error {
				if !watch {
					return upload(ctx, c, fname)
				}
				return watchFile(ctx, c, fname)
			})
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "upload the file again each time it changes")
	return cmd
}

func upload(ctx context.Context, c *conn, fname string) error {
	raw, err := os.ReadFile(fname)
	if err != nil {
		return fmt.Errorf("could not read hex file: %w", err)
	}

	log.Printf("uploading %q to %q...", fname, c.name)
	err = c.sess.WriteHex(ctx, string(raw))
	if err != nil {
		return fmt.Errorf("could not upload %q: %w", fname, err)
	}
	log.Printf("upload complete")
	return nil
}

// watchFile uploads fname and uploads it again after each modification,
// until ctx is done.
func watchFile(ctx context.Context, c *conn, fname string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("could not create file watcher: %w", err)
	}
	defer watcher.Close()

	// editors commonly replace files: watch the directory.
	abs, err := filepath.Abs(fname)
	if err != nil {
		return fmt.Errorf("could not resolve %q: %w", fname, err)
	}
	err = watcher.Add(filepath.Dir(abs))
	if err != nil {
		return fmt.Errorf("could not watch %q: %w", fname, err)
	}

	reload := func() {
		err := upload(ctx, c, fname)
		if err == nil {
			return
		}
		log.Printf("%+v", err)
		if ctx.Err() != nil {
			return
		}
		aerr := sendAlert(
			fmt.Sprintf("upload of %s failed", filepath.Base(fname)),
			fmt.Sprintf("could not upload %q to %q:\n%+v\n", fname, c.name, err),
		)
		switch {
		case errors.Is(aerr, alert.ErrNoCredentials):
		case aerr != nil:
			log.Printf("could not send alert: %+v", aerr)
		}
	}

	reload()

	const quiet = 200 * time.Millisecond
	var (
		pending bool
		timer   = time.NewTimer(quiet)
	)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if evt.Name != abs {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// coalesce the bursts of events produced by a single save.
			if pending && !timer.Stop() {
				<-timer.C
			}
			timer.Reset(quiet)
			pending = true
		case <-timer.C:
			pending = false
			reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("watcher error: %+v", err)
		}
	}
}

func newVerifyCmd(a *app) *cobra.Command {
	var (
		dbname string
		nmax   int
	)
	cmd := &cobra.Command{
		Use:   "verify <file.hex>",
		Short: "Check the EEPROM holds the content of an Intel HEX file",
		Long: `Check the EEPROM holds the content of an Intel HEX file.
With --db, the file is checked against the last archived dump of the
programmer instead of a fresh dump.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			want, err := load(args[0])
			if err != nil {
				return err
			}

			var got ihex.Image
			switch dbname {
			case "":
				err = a.with(cmd, func(ctx context.Context, c *conn) error {
					log.Printf("reading EEPROM on %q...", c.name)
					img, err := c.sess.Read(ctx, 0)
					if err != nil {
						return fmt.Errorf("could not read EEPROM: %w", err)
					}
					got = img
					return nil
				})
			default:
				got, err = a.lastDump(cmd.Context(), dbname)
			}
			if err != nil {
				return err
			}

			diffs, err := ihex.Compare(want, got)
			if err != nil {
				return fmt.Errorf("could not compare images: %w", err)
			}
			return report(cmd.OutOrStdout(), args[0], want.Len(), diffs, nmax)
		},
	}
	cmd.Flags().StringVar(&dbname, "db", "", "name of the database holding the archived dumps")
	cmd.Flags().IntVar(&nmax, "max", 16, "maximum number of mismatches to display")
	return cmd
}

func load(fname string) (ihex.Image, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, fmt.Errorf("could not open hex file: %w", err)
	}
	defer f.Close()

	img, err := ihex.NewDecoder(f).Decode()
	if err != nil {
		return nil, fmt.Errorf("could not decode %q: %w", fname, err)
	}
	return img, nil
}

func (a *app) lastDump(ctx context.Context, dbname string) (ihex.Image, error) {
	name, err := a.portName()
	if err != nil {
		return nil, err
	}

	db, err := openDB(dbname)
	if err != nil {
		return nil, fmt.Errorf("could not open dumps db: %w", err)
	}
	defer db.Close()

	dump, err := db.Last(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("could not retrieve last dump of %q: %w", name, err)
	}
	log.Printf("using dump #%d of %q (%v)", dump.ID, name, dump.Time.Format(time.RFC3339))
	return dump.Image, nil
}

func report(w io.Writer, fname string, n int, diffs []ihex.Mismatch, limit int) error {
	if len(diffs) == 0 {
		fmt.Fprintf(w, "%s: %d bytes verified\n", fname, n)
		return nil
	}
	for i, diff := range diffs {
		if limit > 0 && i >= limit {
			fmt.Fprintf(w, "... (%d more)\n", len(diffs)-i)
			break
		}
		fmt.Fprintf(w, "%v\n", diff)
	}
	return fmt.Errorf("verification of %q failed: %d/%d bytes differ", fname, len(diffs), n)
}

func newProtectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "protect on|off",
		Short:     "Enable or disable the software write protection",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			enable := args[0] == "on"
			return a.with(cmd, func(ctx context.Context, c *conn) error {
				err := c.sess.SetWriteProtect(ctx, enable)
				if err != nil {
					return fmt.Errorf("could not set write protection %s: %w", args[0], err)
				}
				return nil
			})
		},
	}
}

func newTestCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Run the self-test of the programmer",
		Long: `Run the self-test of the programmer.
The self-test overwrites the whole content of the EEPROM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.with(cmd, func(ctx context.Context, c *conn) error {
				err := c.sess.SelfTest(ctx)
				var terr *device.SelfTestError
				switch {
				case errors.As(err, &terr):
					return fmt.Errorf("self-test failed: %s", terr.Line)
				case err != nil:
					return fmt.Errorf("could not run self-test: %w", err)
				}
				log.Printf("self-test passed")
				return nil
			})
		},
	}
}
