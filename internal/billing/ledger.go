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

// Package billing provides idempotent persistence adapters for the
// per-tick accrued holding/server cost: Redis, Postgres (via a
// caller-supplied *sql.DB), and Kafka. Every adapter applies each
// Entry's CommitID exactly once, so a retried tick after a crash or a
// socket reconnect never double-charges the ledger.
package billing

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

// Entry is one tick's cost accrual against a logical billing key (the
// reserve pool, or an individual backend, depending on how the
// controller is configured to attribute cost).
//
//   - Key: the account the cost accrues against.
//   - MicroCost: the cost for this tick, in micro-units of the configured
//     cost currency, applied as balance -= MicroCost (so a positive
//     MicroCost consumes budget and a negative one refunds it, matching
//     the signed-delta convention used throughout this codebase).
//   - CommitID: idempotency key. Replaying the same CommitID for the
//     same Key is a no-op.
type Entry struct {
	Key       string
	MicroCost int64
	CommitID  string
}

// Ledger is the minimal API every adapter implements.
type Ledger interface {
	CommitBatch(ctx context.Context, entries []Entry) error
}

// NewCommitID generates a fresh random idempotency key. Adapters that
// need stable IDs across retries should instead derive one from the
// tick epoch and key; this is the fallback used when the caller has no
// better identifier on hand.
func NewCommitID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	dst := make([]byte, 32)
	hex.Encode(dst, b[:])
	return string(dst)
}
