package store

/*
issuerscan — measures which certificate authorities sign the web's TLS certificates
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// Schema creates the tables used by PostgresSink.
const Schema = `
CREATE TABLE IF NOT EXISTS scan_runs (
	run_id       TEXT PRIMARY KEY,
	input_digest TEXT NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL,
	finished_at  TIMESTAMPTZ NOT NULL,
	domains      INTEGER NOT NULL,
	complete     BOOLEAN NOT NULL
);
CREATE TABLE IF NOT EXISTS issuer_counts (
	run_id TEXT NOT NULL REFERENCES scan_runs (run_id) ON DELETE CASCADE,
	label  TEXT NOT NULL,
	count  BIGINT NOT NULL,
	PRIMARY KEY (run_id, label)
);
`

// PostgresSink records each run and its label counts in PostgreSQL.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink wraps an open database handle.
func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// OpenPostgres connects with the lib/pq driver and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresSink, error) {
	connector, err := pq.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	db := sql.OpenDB(connector)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return NewPostgresSink(db), nil
}

// EnsureSchema creates the sink's tables if they do not exist.
func (p *PostgresSink) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Write implements Sink. The run row and all counts are written in one transaction;
// rewriting a run replaces its counts.
func (p *PostgresSink) Write(ctx context.Context, report *Report) (err error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin report transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO scan_runs (run_id, input_digest, started_at, finished_at, domains, complete)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id) DO UPDATE SET
			finished_at = EXCLUDED.finished_at,
			complete = EXCLUDED.complete
	`, report.RunID, report.InputDigest, report.StartedAt, report.FinishedAt, report.Domains, report.Complete)
	if err != nil {
		return fmt.Errorf("insert scan run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO issuer_counts (run_id, label, count)
		VALUES ($1, $2, $3)
		ON CONFLICT (run_id, label) DO UPDATE SET count = EXCLUDED.count
	`)
	if err != nil {
		return fmt.Errorf("prepare issuer counts: %w", err)
	}
	defer stmt.Close()

	for _, label := range report.SortedLabels() {
		if _, err = stmt.ExecContext(ctx, report.RunID, label, report.Counts[label]); err != nil {
			return fmt.Errorf("insert count for %q: %w", label, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit report: %w", err)
	}
	return nil
}

// Close implements Sink.
func (p *PostgresSink) Close() error {
	return p.db.Close()
}
