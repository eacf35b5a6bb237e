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
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisEvaler abstracts the minimal Redis surface a ledger adapter
// needs, so it can be satisfied by a real client or a test double.
type RedisEvaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
}

// GoRedisEvaler wraps a real github.com/redis/go-redis/v9 client.
type GoRedisEvaler struct{ c *redis.Client }

// NewGoRedisEvaler connects to the given address, e.g. "127.0.0.1:6379".
func NewGoRedisEvaler(addr string) *GoRedisEvaler {
	return &GoRedisEvaler{c: redis.NewClient(&redis.Options{Addr: addr})}
}

func (g *GoRedisEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	return g.c.Eval(ctx, script, keys, args...).Result()
}

// RedisLedger applies cost entries idempotently via a Lua script:
//  1. SETNX commit:<key>:<commit_id> 1
//  2. if set, HINCRBY balance:<key> micro -<micro_cost>
//  3. EXPIRE the marker for leak protection
type RedisLedger struct {
	client    RedisEvaler
	markerTTL time.Duration
}

// NewRedisLedger constructs a RedisLedger. A non-positive markerTTL
// defaults to 24h.
func NewRedisLedger(client RedisEvaler, markerTTL time.Duration) *RedisLedger {
	if markerTTL <= 0 {
		markerTTL = 24 * time.Hour
	}
	return &RedisLedger{client: client, markerTTL: markerTTL}
}

const redisLuaScript = `
local balanceKey = KEYS[1]
local markerKey = KEYS[2]
local microCost = tonumber(ARGV[1])
local ttlSeconds = tonumber(ARGV[2])
local set = redis.call('SETNX', markerKey, 1)
if set == 1 then
  redis.call('HINCRBY', balanceKey, 'micro', -microCost)
  if ttlSeconds and ttlSeconds > 0 then
    redis.call('EXPIRE', markerKey, ttlSeconds)
  end
  return 1
else
  return 0
end
`

func balanceKey(key string) string        { return fmt.Sprintf("balance:%s", key) }
func commitMarkerKey(key, id string) string { return fmt.Sprintf("commit:%s:%s", key, id) }

// CommitBatch applies every entry via one EVAL each.
func (r *RedisLedger) CommitBatch(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if e.CommitID == "" {
			return errors.New("billing: Entry.CommitID must be set")
		}
		keys := []string{balanceKey(e.Key), commitMarkerKey(e.Key, e.CommitID)}
		args := []interface{}{e.MicroCost, int(r.markerTTL.Seconds())}
		if _, err := r.client.Eval(ctx, redisLuaScript, keys, args...); err != nil {
			return fmt.Errorf("billing: redis eval key=%s commit=%s: %w", e.Key, e.CommitID, err)
		}
	}
	return nil
}
