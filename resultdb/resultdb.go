// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package resultdb stores the outcome of conformance scenarios in a MySQL
// database.
package resultdb // import "github.com/go-lpc/uartfix/resultdb"

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-lpc/uartfix/harness"
	"github.com/go-sql-driver/mysql"
)

const timeout = 5 * time.Second

var (
	drvName = "mysql"
)

// DB is a connection to the results database.
type DB struct {
	db   *sql.DB
	name string
}

// Open opens a connection to the results database described by dsn,
// in the go-sql-driver/mysql format, eg:
//  user:s3cr3t@tcp(localhost:3306)/fixtures
func Open(dsn string) (*DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("resultdb: could not parse DSN: %w", err)
	}
	cfg.ParseTime = true

	db, err := sql.Open(drvName, cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("resultdb: could not open %q db: %w", cfg.DBName, err)
	}

	err = ping(db, cfg.DBName)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{db: db, name: cfg.DBName}, nil
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("resultdb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

// Name returns the name of the database.
func (db *DB) Name() string { return db.name }

func (db *DB) Close() error {
	return db.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
	id           BIGINT AUTO_INCREMENT PRIMARY KEY,
	board        VARCHAR(32) NOT NULL,
	scenario     VARCHAR(64) NOT NULL,
	fixture      VARCHAR(16) NOT NULL,
	status       VARCHAR(16) NOT NULL,
	started      DATETIME(6) NOT NULL,
	elapsed_ns   BIGINT NOT NULL,
	transactions INT NOT NULL,
	failures     INT NOT NULL,
	led          SMALLINT NULL,
	INDEX (board, started)
)`,
	`CREATE TABLE IF NOT EXISTS transactions (
	run_id     BIGINT NOT NULL,
	idx        INT NOT NULL,
	stimulus   VARBINARY(255) NOT NULL,
	expected   VARBINARY(255) NOT NULL,
	observed   VARBINARY(255) NULL,
	status     VARCHAR(16) NOT NULL,
	symbol     INT NOT NULL,
	error      TEXT NULL,
	elapsed_ns BIGINT NOT NULL,
	PRIMARY KEY (run_id, idx),
	FOREIGN KEY (run_id) REFERENCES runs(id)
)`,
}

// CreateTables creates the tables of the results database, if needed.
func (db *DB) CreateTables(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for _, stmt := range schema {
		_, err := db.db.ExecContext(ctx, stmt)
		if err != nil {
			return fmt.Errorf("resultdb: could not create tables: %w", err)
		}
	}
	return nil
}

// Record stores the report of a scenario, and returns the identifier of
// the new run.
func (db *DB) Record(ctx context.Context, rep harness.Report) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("resultdb: could not start transaction: %w", err)
	}
	defer tx.Rollback()

	var led sql.NullInt16
	if rep.LED != nil {
		led = sql.NullInt16{Int16: int16(rep.LED.Mirror), Valid: true}
	}

	res, err := tx.ExecContext(
		ctx,
		`INSERT INTO runs
(board, scenario, fixture, status, started, elapsed_ns, transactions, failures, led)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rep.Board, rep.Name, rep.Kind.String(), rep.Status.String(),
		rep.Started.UTC(), int64(rep.Elapsed),
		len(rep.Transactions), rep.Failures(), led,
	)
	if err != nil {
		return 0, fmt.Errorf("resultdb: could not insert run %q: %w", rep.Name, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("resultdb: could not retrieve run id: %w", err)
	}

	for _, t := range rep.Transactions {
		var msg sql.NullString
		if t.Err != nil {
			msg = sql.NullString{String: t.Err.Error(), Valid: true}
		}
		_, err = tx.ExecContext(
			ctx,
			`INSERT INTO transactions
(run_id, idx, stimulus, expected, observed, status, symbol, error, elapsed_ns)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, t.Index, t.Stimulus, t.Expected, t.Observed,
			t.Status.String(), t.Symbol, msg, int64(t.Elapsed),
		)
		if err != nil {
			return 0, fmt.Errorf("resultdb: could not insert transaction %d of run %q: %w", t.Index, rep.Name, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return 0, fmt.Errorf("resultdb: could not commit run %q: %w", rep.Name, err)
	}

	return id, nil
}

// Run is a scenario stored in the database.
type Run struct {
	ID           int64
	Board        string
	Scenario     string
	Fixture      string
	Status       harness.Status
	Started      time.Time
	Elapsed      time.Duration
	Transactions int
	Failures     int
}

// LastRuns returns the n most recent runs on board, most recent first.
func (db *DB) LastRuns(ctx context.Context, board string, n int) ([]Run, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rows, err := db.db.QueryContext(
		ctx,
		`SELECT id, board, scenario, fixture, status, started, elapsed_ns, transactions, failures
FROM runs WHERE board=? ORDER BY started DESC LIMIT ?`,
		board, n,
	)
	if err != nil {
		return nil, fmt.Errorf("resultdb: could not query runs of %q: %w", board, err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run    Run
			status string
			dt     int64
		)
		err = rows.Scan(
			&run.ID, &run.Board, &run.Scenario, &run.Fixture, &status,
			&run.Started, &dt, &run.Transactions, &run.Failures,
		)
		if err != nil {
			return runs, fmt.Errorf("resultdb: could not scan run: %w", err)
		}
		run.Status, err = harness.ParseStatus(status)
		if err != nil {
			return runs, fmt.Errorf("resultdb: could not decode run %d: %w", run.ID, err)
		}
		run.Elapsed = time.Duration(dt)
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return runs, fmt.Errorf("resultdb: could not scan db for runs: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return runs, fmt.Errorf("resultdb: context error while retrieving runs: %w", err)
	}

	return runs, nil
}

// FailureRate returns the fraction of the n most recent runs on board that
// did not pass.
func (db *DB) FailureRate(ctx context.Context, board string, n int) (float64, error) {
	runs, err := db.LastRuns(ctx, board, n)
	if err != nil {
		return 0, err
	}
	if len(runs) == 0 {
		return 0, nil
	}
	bad := 0
	for _, run := range runs {
		if run.Status != harness.StatusPass {
			bad++
		}
	}
	return float64(bad) / float64(len(runs)), nil
}
