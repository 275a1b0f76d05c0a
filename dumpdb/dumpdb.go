// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dumpdb archives EEPROM dumps in a MySQL database.
package dumpdb // import "github.com/go-lpc/at28c/dumpdb"

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-lpc/at28c/ihex"
	"github.com/go-sql-driver/mysql"
)

var (
	drvName = "mysql"

	// ErrNoDump is returned when no dump was archived for a port.
	ErrNoDump = errors.New("dumpdb: no dump")
)

const schema = `
CREATE TABLE IF NOT EXISTS dumps (
	id       BIGINT AUTO_INCREMENT PRIMARY KEY,
	port     VARCHAR(255) NOT NULL,
	datetime DATETIME NOT NULL,
	start    SMALLINT UNSIGNED NOT NULL,
	hex      MEDIUMTEXT NOT NULL,
	INDEX (port, datetime)
)`

// Dump is an archived EEPROM dump.
type Dump struct {
	ID    int64
	Port  string    // serial port the programmer was attached to
	Time  time.Time // time of the dump
	Start uint16    // start address of the dump
	Image ihex.Image
}

// DB is a connection to the dumps database.
type DB struct {
	db   *sql.DB
	name string
}

// Open opens a connection to the dumps database dbname.
//
// Credentials are taken from the AT28C_DB_USER and AT28C_DB_PASS
// environment variables, the server address from AT28C_DB_HOST.
func Open(dbname string) (*DB, error) {
	db, err := sql.Open(drvName, dsn(dbname))
	if err != nil {
		return nil, fmt.Errorf("dumpdb: could not open %q db: %w", dbname, err)
	}

	err = ping(db, dbname)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{db: db, name: dbname}, nil
}

func dsn(dbname string) string {
	cfg := mysql.NewConfig()
	cfg.User = getenv("AT28C_DB_USER", "at28c")
	cfg.Passwd = getenv("AT28C_DB_PASS", "")
	cfg.Net = "tcp"
	cfg.Addr = getenv("AT28C_DB_HOST", "localhost:3306")
	cfg.DBName = dbname
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

func getenv(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("dumpdb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// Init creates the dumps table if needed.
func (db *DB) Init(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := db.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("dumpdb: could not create dumps table: %w", err)
	}
	return nil
}

// Store archives a dump and returns its identifier.
func (db *DB) Store(ctx context.Context, dump Dump) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	hex := new(strings.Builder)
	err := ihex.NewEncoder(hex).Encode(dump.Image)
	if err != nil {
		return 0, fmt.Errorf("dumpdb: could not encode dump: %w", err)
	}

	if dump.Time.IsZero() {
		dump.Time = time.Now().UTC()
	}

	res, err := db.db.ExecContext(
		ctx,
		"INSERT INTO dumps (port, datetime, start, hex) VALUES (?, ?, ?, ?)",
		dump.Port, dump.Time, int64(dump.Start), hex.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("dumpdb: could not insert dump: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("dumpdb: could not retrieve dump id: %w", err)
	}

	return id, nil
}

// Last returns the most recent dump archived for port.
func (db *DB) Last(ctx context.Context, port string) (Dump, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var (
		dump Dump
		hex  string
		n    int
	)
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT id, port, datetime, start, hex FROM dumps WHERE port=? ORDER BY datetime DESC LIMIT 1",
		port,
	)
	if err != nil {
		return dump, fmt.Errorf("dumpdb: could not query last dump: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		err = rows.Scan(&dump.ID, &dump.Port, &dump.Time, &dump.Start, &hex)
		if err != nil {
			return dump, fmt.Errorf("dumpdb: could not get last dump: %w", err)
		}
		n++
	}

	if err := rows.Err(); err != nil {
		return dump, fmt.Errorf("dumpdb: could not scan db for last dump: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return dump, fmt.Errorf("dumpdb: context error while retrieving last dump: %w", err)
	}

	if n == 0 {
		return dump, fmt.Errorf("dumpdb: could not find dump for %q: %w", port, ErrNoDump)
	}

	dump.Image, err = ihex.NewDecoder(strings.NewReader(hex)).Decode()
	if err != nil {
		return dump, fmt.Errorf("dumpdb: could not decode dump %d: %w", dump.ID, err)
	}

	return dump, nil
}
