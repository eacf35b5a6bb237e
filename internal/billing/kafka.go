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
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Producer is a minimal abstraction over a Kafka client. Implementations
// should enable an idempotent producer and use CommitID as the message
// key so broker-side dedup and per-key ordering are preserved.
//
// No concrete Kafka client is imported here; materialization of these
// messages into a balance is left to downstream consumers, same as
// this codebase's other write-ahead-log-shaped adapters.
type Producer interface {
	Produce(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// KafkaLedger publishes cost entries as Kafka messages rather than
// applying them locally.
type KafkaLedger struct {
	producer       Producer
	topic          string
	defaultTimeout time.Duration
}

// NewKafkaLedger constructs a KafkaLedger publishing to the given topic.
func NewKafkaLedger(p Producer, topic string) *KafkaLedger {
	return &KafkaLedger{producer: p, topic: topic, defaultTimeout: 10 * time.Second}
}

// commitMessage is the JSON payload published for each entry.
type commitMessage struct {
	Key       string `json:"key"`
	MicroCost int64  `json:"micro_cost"`
	CommitID  string `json:"commit_id"`
	TsUnixMs  int64  `json:"ts_unix_ms"`
}

func (k *KafkaLedger) CommitBatch(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok && k.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, k.defaultTimeout)
		defer cancel()
	}
	nowMs := time.Now().UnixMilli()
	for _, e := range entries {
		if e.CommitID == "" {
			return errors.New("billing: Entry.CommitID must be set")
		}
		msg := commitMessage{Key: e.Key, MicroCost: e.MicroCost, CommitID: e.CommitID, TsUnixMs: nowMs}
		b, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("billing: marshal kafka message: %w", err)
		}
		headers := map[string]string{"content-type": "application/json"}
		if err := k.producer.Produce(ctx, k.topic, []byte(e.CommitID), b, headers); err != nil {
			return fmt.Errorf("billing: kafka produce key=%s commit=%s: %w", e.Key, e.CommitID, err)
		}
	}
	return nil
}
