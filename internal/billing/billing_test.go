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
	"testing"
)

type fakeRedisEvaler struct {
	calls []string
}

func (f *fakeRedisEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	f.calls = append(f.calls, keys[0])
	return int64(1), nil
}

// TestRedisLedgerRejectsMissingCommitID checks the idempotency
// precondition is enforced before any network call.
func TestRedisLedgerRejectsMissingCommitID(t *testing.T) {
	fake := &fakeRedisEvaler{}
	l := NewRedisLedger(fake, 0)
	err := l.CommitBatch(context.Background(), []Entry{{Key: "reserve-pool", MicroCost: 100}})
	if err == nil {
		t.Fatal("expected an error for a missing CommitID")
	}
}

// TestRedisLedgerAppliesEachEntry checks that every entry in the batch
// reaches Eval with its balance key.
func TestRedisLedgerAppliesEachEntry(t *testing.T) {
	fake := &fakeRedisEvaler{}
	l := NewRedisLedger(fake, 0)
	entries := []Entry{
		{Key: "reserve-pool", MicroCost: 100, CommitID: NewCommitID()},
		{Key: "always-on", MicroCost: 200, CommitID: NewCommitID()},
	}
	if err := l.CommitBatch(context.Background(), entries); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fake.calls) != 2 {
		t.Fatalf("expected 2 Eval calls, got %d", len(fake.calls))
	}
	if fake.calls[0] != "balance:reserve-pool" {
		t.Fatalf("unexpected key: %s", fake.calls[0])
	}
}

type fakeProducer struct {
	n int
}

func (f *fakeProducer) Produce(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	f.n++
	return nil
}

// TestKafkaLedgerPublishesOnePerEntry checks batch fan-out.
func TestKafkaLedgerPublishesOnePerEntry(t *testing.T) {
	fp := &fakeProducer{}
	l := NewKafkaLedger(fp, "capctl-cost")
	entries := []Entry{
		{Key: "reserve-pool", MicroCost: 50, CommitID: NewCommitID()},
		{Key: "reserve-pool", MicroCost: 60, CommitID: NewCommitID()},
		{Key: "reserve-pool", MicroCost: 70, CommitID: NewCommitID()},
	}
	if err := l.CommitBatch(context.Background(), entries); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fp.n != 3 {
		t.Fatalf("expected 3 produced messages, got %d", fp.n)
	}
}

// TestBuildLedgerNoopDisablesBilling checks the empty-adapter default.
func TestBuildLedgerNoopDisablesBilling(t *testing.T) {
	l, err := BuildLedger("", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l.CommitBatch(context.Background(), []Entry{{Key: "x", MicroCost: 1, CommitID: "c"}}); err != nil {
		t.Fatalf("noop ledger should never error: %v", err)
	}
}

// TestBuildLedgerUnknownAdapter checks the error path.
func TestBuildLedgerUnknownAdapter(t *testing.T) {
	if _, err := BuildLedger("carrier-pigeon", Options{}); err == nil {
		t.Fatal("expected an error for an unknown adapter")
	}
}
