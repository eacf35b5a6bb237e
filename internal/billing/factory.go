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

// Options carries the knobs needed to build a Ledger for whichever
// adapter the deployment chooses.
type Options struct {
	RedisAddr      string
	RedisMarkerTTL time.Duration
	KafkaTopic     string
	PostgresDB     *sql.DB
}

// noopLedger discards every entry; useful when billing is disabled
// entirely (-billing flag empty) without branching call sites on a nil Ledger.
type noopLedger struct{}

func (noopLedger) CommitBatch(ctx context.Context, entries []Entry) error { return nil }

// BuildLedger constructs a Ledger for the named adapter: "redis",
// "postgres", "kafka", or "" / "noop" to disable billing.
func BuildLedger(adapter string, opts Options) (Ledger, error) {
	switch adapter {
	case "", "noop":
		return noopLedger{}, nil
	case "redis":
		if opts.RedisAddr == "" {
			return nil, errors.New("billing: redis adapter requires RedisAddr")
		}
		ttl := opts.RedisMarkerTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		return NewRedisLedger(NewGoRedisEvaler(opts.RedisAddr), ttl), nil
	case "postgres":
		if opts.PostgresDB == nil {
			return nil, errors.New("billing: postgres adapter requires a *sql.DB")
		}
		return NewPostgresLedger(opts.PostgresDB, true), nil
	case "kafka":
		return nil, errors.New("billing: kafka adapter requires a caller-supplied Producer; use NewKafkaLedger directly")
	default:
		return nil, fmt.Errorf("billing: unknown ledger adapter: %s", adapter)
	}
}
