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

// Package coordinator decides when an account's pending backlog becomes one
// chat delivery and owns the pending -> sent transition. The central rule:
// no record is ever marked sent unless a successful delivery covered the
// flush that included it.
package coordinator

import (
	"context"
	"log/slog"
	"time"

	"github.com/aimailer/dispatch/internal/chatwork"
	"github.com/aimailer/dispatch/internal/models"
)

// Ledger is the subset of the message ledger the coordinator needs.
type Ledger interface {
	ListPending(ctx context.Context, accountID int64) ([]models.MessageRecord, error)
	MarkSent(ctx context.Context, ids []int64) error
}

// Accounts records confirmed deliveries for the interval gate.
type Accounts interface {
	TouchNotified(ctx context.Context, accountID int64) error
}

// Deliverer is the outbound chat collaborator. It reports success as a
// boolean and never returns an error.
type Deliverer interface {
	Send(ctx context.Context, roomID, body string) bool
}

// FlushResult summarises one flush decision.
type FlushResult struct {
	// Delivered is true when a chat message was confirmed sent this flush.
	Delivered bool
	// Notified is how many records were included in the delivered digest.
	Notified int
	// Retired is how many records transitioned pending -> sent.
	Retired int
}

// Coordinator owns delivery decisions and notification-state transitions.
type Coordinator struct {
	ledger    Ledger
	accounts  Accounts
	deliverer Deliverer

	now func() time.Time
}

// New creates a notification coordinator.
func New(ledger Ledger, accounts Accounts, deliverer Deliverer) *Coordinator {
	return &Coordinator{
		ledger:    ledger,
		accounts:  accounts,
		deliverer: deliverer,
		now:       time.Now,
	}
}

// Flush evaluates the account's pending backlog against the tenant
// preference and performs at most one delivery.
//
// Semantics:
//   - Records below the minimum tier (and spam, always) are never notified,
//     but they are retired alongside any successful flush so the backlog
//     cannot grow without bound.
//   - At most pref.MaxPerDelivery newest records make the digest; the
//     over-cap remainder is retired with them once delivery succeeds.
//   - A failed delivery leaves every record pending for the next run.
func (c *Coordinator) Flush(ctx context.Context, account models.Account, pref models.Preference) FlushResult {
	var res FlushResult

	if account.LastNotifiedAt != nil {
		elapsed := c.now().Sub(*account.LastNotifiedAt)
		if elapsed < pref.Interval() {
			slog.Debug("flush deferred by interval gate",
				"account", account.Email,
				"elapsed", elapsed,
				"interval", pref.Interval(),
			)
			return res
		}
	}

	pending, err := c.ledger.ListPending(ctx, account.ID)
	if err != nil {
		slog.Error("listing pending records failed",
			"account", account.Email,
			"error", err,
		)
		return res
	}
	if len(pending) == 0 && !pref.NotifyWhenEmpty {
		return res
	}

	// Tier filter: spam is unconditionally suppressed, everything below the
	// tenant's minimum is suppressed too.
	var toNotify []models.MessageRecord
	for _, r := range pending {
		if r.Tier == models.TierSpam {
			continue
		}
		if r.Tier.AtLeast(pref.MinimumTier) {
			toNotify = append(toNotify, r)
		}
	}

	if len(toNotify) == 0 {
		return c.flushEmpty(ctx, account, pref, pending)
	}

	if account.ChatworkRoomID == "" {
		// No destination configured: the notification step is skipped
		// silently and the backlog stays pending.
		slog.Debug("no chat room configured, notification skipped",
			"account", account.Email,
		)
		return res
	}

	// ListPending returns newest first, so the cap keeps the most recent.
	notifySet := toNotify
	skipped := 0
	if len(notifySet) > pref.MaxPerDelivery {
		notifySet = toNotify[:pref.MaxPerDelivery]
		skipped = len(toNotify) - pref.MaxPerDelivery
	}

	digest := chatwork.BuildDigest(notifySet, account.Email, len(toNotify), skipped, pref.IncludeReplySuggestion)

	if !c.deliverer.Send(ctx, account.ChatworkRoomID, digest) {
		slog.Warn("delivery failed, backlog stays pending",
			"account", account.Email,
			"pending", len(pending),
		)
		return res
	}

	// Delivery confirmed: retire the whole flush window — the notify-set,
	// the over-cap remainder, and the tier-filtered records.
	ids := recordIDs(pending)
	if err := c.ledger.MarkSent(ctx, ids); err != nil {
		// The delivery happened; the records will be re-offered next run
		// and the digest may repeat. Log loudly, nothing else to do.
		slog.Error("marking records sent failed after delivery",
			"account", account.Email,
			"error", err,
		)
		return FlushResult{Delivered: true, Notified: len(notifySet)}
	}

	if err := c.accounts.TouchNotified(ctx, account.ID); err != nil {
		slog.Error("recording delivery time failed",
			"account", account.Email,
			"error", err,
		)
	}

	slog.Info("backlog flushed",
		"account", account.Email,
		"notified", len(notifySet),
		"retired", len(ids),
		"skipped", skipped,
	)

	return FlushResult{Delivered: true, Notified: len(notifySet), Retired: len(ids)}
}

// flushEmpty handles a flush window whose filtered set is empty. The
// optional empty-state digest is best effort; the originally-pending records
// (all tier-filtered or spam) are retired either way, so low-tier mail never
// accumulates for tenants that never clear it.
func (c *Coordinator) flushEmpty(ctx context.Context, account models.Account, pref models.Preference, pending []models.MessageRecord) FlushResult {
	var res FlushResult

	if pref.NotifyWhenEmpty && account.ChatworkRoomID != "" {
		if c.deliverer.Send(ctx, account.ChatworkRoomID, chatwork.BuildEmptyDigest(account.Email)) {
			res.Delivered = true
			if err := c.accounts.TouchNotified(ctx, account.ID); err != nil {
				slog.Error("recording delivery time failed",
					"account", account.Email,
					"error", err,
				)
			}
		}
	}

	if len(pending) > 0 {
		ids := recordIDs(pending)
		if err := c.ledger.MarkSent(ctx, ids); err != nil {
			slog.Error("retiring filtered records failed",
				"account", account.Email,
				"error", err,
			)
			return res
		}
		res.Retired = len(ids)
		slog.Info("filtered backlog retired without notification",
			"account", account.Email,
			"retired", len(ids),
		)
	}

	return res
}

func recordIDs(records []models.MessageRecord) []int64 {
	ids := make([]int64, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	return ids
}
