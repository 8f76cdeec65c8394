// Copyright (c) 2026 John Earle
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

// Package dedup provides a Redis seen-filter in front of the message ledger.
// Fetch windows overlap under at-least-once semantics, so most duplicates can
// be rejected with one SETNX instead of a ledger lookup. The ledger's unique
// constraint remains the source of truth; losing Redis only costs extra
// lookups.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long a seen message ID is remembered. Fetch windows
	// span at most the account watermark gap, so 24h is comfortably larger.
	DefaultTTL = 24 * time.Hour

	// keyPrefix namespaces seen-filter keys in Redis.
	keyPrefix = "dispatch:seen:"
)

// Filter tracks which (account, message) pairs have already been processed.
type Filter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewFilter creates a seen-filter backed by Redis.
func NewFilter(rdb *redis.Client) *Filter {
	return &Filter{
		rdb: rdb,
		ttl: DefaultTTL,
	}
}

// IsNewMessage returns true if the (account, message) pair has NOT been seen
// before. If true, the pair is marked as seen atomically (SETNX).
func (f *Filter) IsNewMessage(ctx context.Context, accountID int64, messageID string) (bool, error) {
	key := fmt.Sprintf("%s%d:%s", keyPrefix, accountID, messageID)

	// SET NX = set only if key does not exist. Returns true if the key was set.
	set, err := f.rdb.SetNX(ctx, key, 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}

	return set, nil
}

// Forget drops all seen-filter entries for an account. Called by the
// reanalyze action so purged messages are re-admitted on the next fetch.
func (f *Filter) Forget(ctx context.Context, accountID int64) error {
	pattern := fmt.Sprintf("%s%d:*", keyPrefix, accountID)

	iter := f.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := f.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("dedup DEL: %w", err)
		}
	}
	return iter.Err()
}
