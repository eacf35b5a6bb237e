// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Postgres schema (reference):
//
// CREATE TABLE IF NOT EXISTS billing_balances (
//   key TEXT PRIMARY KEY,
//   micro BIGINT NOT NULL DEFAULT 0
// );
//
// CREATE TABLE IF NOT EXISTS billing_applied_commits (
//   commit_id TEXT PRIMARY KEY,
//   key TEXT NOT NULL,
//   micro BIGINT NOT NULL,
//   ts TIMESTAMPTZ NOT NULL DEFAULT now()
// );
// CREATE INDEX IF NOT EXISTS idx_billing_applied_commits_key
//   ON billing_applied_commits(key);

// PostgresLedger applies cost entries idempotently against a
// caller-supplied *sql.DB. No driver is imported here; the caller
// registers whichever database/sql driver it needs (e.g. pgx, lib/pq).
type PostgresLedger struct {
	db                *sql.DB
	createMissingKeys bool
	defaultTimeout    time.Duration
}

// NewPostgresLedger constructs a PostgresLedger. If createMissingKeys
// is true, a zero-balance row is inserted for any key seen for the
// first time.
func NewPostgresLedger(db *sql.DB, createMissingKeys bool) *PostgresLedger {
	return &PostgresLedger{db: db, createMissingKeys: createMissingKeys, defaultTimeout: 10 * time.Second}
}

// CommitBatch applies every entry within a single transaction.
func (p *PostgresLedger) CommitBatch(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok && p.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.defaultTimeout)
		defer cancel()
	}

	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if p.createMissingKeys {
		for _, e := range entries {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO billing_balances(key, micro) VALUES ($1, 0) ON CONFLICT DO NOTHING`, e.Key); err != nil {
				return fmt.Errorf("billing: insert billing_balances(%s): %w", e.Key, err)
			}
		}
	}

	for _, e := range entries {
		if e.CommitID == "" {
			return errors.New("billing: Entry.CommitID must be set")
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO billing_applied_commits(commit_id, key, micro) VALUES ($1,$2,$3) ON CONFLICT DO NOTHING`,
			e.CommitID, e.Key, e.MicroCost)
		if err != nil {
			return fmt.Errorf("billing: insert billing_applied_commits(%s): %w", e.CommitID, err)
		}
		applied, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("billing: insert billing_applied_commits(%s): %w", e.CommitID, err)
		}
		if applied == 0 {
			// marker already present: this CommitID was applied before
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE billing_balances SET micro = micro - $2 WHERE key = $1`,
			e.Key, e.MicroCost); err != nil {
			return fmt.Errorf("billing: update billing_balances(%s): %w", e.Key, err)
		}
	}

	return tx.Commit()
}
