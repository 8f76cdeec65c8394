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

// Package models defines the data structures shared across the dispatch service.
package models

import (
	"fmt"
	"time"
)

// Tier is the importance classification of a message. Tiers are ordered:
// spam < low < medium < high.
type Tier string

const (
	TierSpam   Tier = "spam"
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

// tierRank gives each tier its position in the ordering.
var tierRank = map[Tier]int{
	TierSpam:   0,
	TierLow:    1,
	TierMedium: 2,
	TierHigh:   3,
}

// ParseTier validates a raw tier string.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if _, ok := tierRank[t]; !ok {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return t, nil
}

// Valid reports whether t is one of the four known tiers.
func (t Tier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

// AtLeast reports whether t ranks at or above min.
func (t Tier) AtLeast(min Tier) bool {
	return tierRank[t] >= tierRank[min]
}

// Notification status values for a ledger record. Transitions only move
// forward: pending -> sent.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
)

// Reply-need verdicts from the classifier.
const (
	ReplyYes     = "yes"
	ReplyNo      = "no"
	ReplyUnknown = "unknown"
)

// FetchedMessage is one message returned by the mailbox fetcher.
//
// The JSON tags match the fetcher subprocess output contract; received_at
// is epoch milliseconds.
type FetchedMessage struct {
	MessageID  string `json:"message_id"`
	Sender     string `json:"sender"`
	SenderName string `json:"sender_name"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	ReceivedAt int64  `json:"received_at"`
}

// ReceivedTime converts the epoch-millisecond timestamp to time.Time.
func (m FetchedMessage) ReceivedTime() time.Time {
	return time.UnixMilli(m.ReceivedAt).UTC()
}

// FetchResult is the outcome of one fetch collaborator call. A fetch-level
// failure is reported through Success/Error, never as a Go error.
type FetchResult struct {
	Success  bool             `json:"success"`
	Messages []FetchedMessage `json:"emails"`
	Count    int              `json:"count"`
	Error    string           `json:"error,omitempty"`
}

// Classification is the structured verdict for a single message.
type Classification struct {
	Summary         string
	Tier            Tier
	SenderName      string
	NeedsReply      string
	ReplyReason     string
	ReplySuggestion string
}

// MessageRecord is one ledger entry: a classified message with its
// notification status. (account_id, message_id) is unique.
type MessageRecord struct {
	ID              int64
	AccountID       int64
	MessageID       string
	Sender          string
	SenderName      string
	Subject         string
	Summary         string
	Tier            Tier
	NeedsReply      string
	ReplyReason     string
	ReplySuggestion string
	Status          string
	ReceivedAt      time.Time
	CreatedAt       time.Time
}
