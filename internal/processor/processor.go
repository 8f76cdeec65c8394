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

// Package processor runs the per-account pipeline: fetch, dedup-filter,
// classify, persist. A failed fetch leaves the account untouched; a failed
// classification persists the message with a conservative default tier
// rather than dropping it.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aimailer/dispatch/internal/models"
)

// Fetcher is the mailbox fetch collaborator. Fetch-level failures are
// carried inside the result, never as a Go error.
type Fetcher interface {
	Fetch(ctx context.Context, account models.Account) models.FetchResult
}

// Classifier is the LLM classification collaborator.
type Classifier interface {
	Classify(ctx context.Context, msg models.FetchedMessage, pref models.Preference, ignored []string) (models.Classification, error)
}

// Ledger is the subset of the message ledger the processor needs.
type Ledger interface {
	Exists(ctx context.Context, accountID int64, messageID string) (bool, error)
	Insert(ctx context.Context, r models.MessageRecord) (bool, error)
}

// Accounts is the subset of the account store the processor needs.
type Accounts interface {
	AdvanceWatermark(ctx context.Context, accountID int64, t time.Time) error
}

// Prefs supplies tenant preferences and the sender suppression list.
type Prefs interface {
	PreferenceFor(ctx context.Context, tenantID int64) (models.Preference, error)
	IgnoredSenders(ctx context.Context, tenantID int64) ([]string, error)
}

// SeenFilter is the optional fast-path dedup check in front of the ledger.
type SeenFilter interface {
	IsNewMessage(ctx context.Context, accountID int64, messageID string) (bool, error)
}

// Result summarises one account's processing pass.
type Result struct {
	Fetched    int
	Classified int
	Important  int
	Errors     []string
}

// Processor is the per-account pipeline.
type Processor struct {
	fetcher    Fetcher
	classifier Classifier
	ledger     Ledger
	accounts   Accounts
	prefs      Prefs
	seen       SeenFilter // may be nil

	now func() time.Time
}

// Config holds the processor's collaborators.
type Config struct {
	Fetcher    Fetcher
	Classifier Classifier
	Ledger     Ledger
	Accounts   Accounts
	Prefs      Prefs
	Seen       SeenFilter
}

// New creates an account processor.
func New(cfg Config) *Processor {
	return &Processor{
		fetcher:    cfg.Fetcher,
		classifier: cfg.Classifier,
		ledger:     cfg.Ledger,
		accounts:   cfg.Accounts,
		prefs:      cfg.Prefs,
		seen:       cfg.Seen,
		now:        time.Now,
	}
}

// Process fetches, classifies, and persists new messages for one account.
// Per-message failures are collected and logged; they never abort sibling
// messages. The watermark advances only when the fetch itself succeeded.
func (p *Processor) Process(ctx context.Context, account models.Account) Result {
	var res Result

	pref, err := p.prefs.PreferenceFor(ctx, account.TenantID)
	if err != nil {
		slog.Error("loading preferences failed, using defaults",
			"tenant_id", account.TenantID,
			"error", err,
		)
		pref = models.DefaultPreference(account.TenantID)
	}

	ignored, err := p.prefs.IgnoredSenders(ctx, account.TenantID)
	if err != nil {
		slog.Error("loading ignored senders failed",
			"tenant_id", account.TenantID,
			"error", err,
		)
	}
	ignoredSet := make(map[string]bool, len(ignored))
	for _, s := range ignored {
		ignoredSet[strings.ToLower(s)] = true
	}

	// The watermark target is captured before the fetch so that mail
	// arriving while we classify is picked up by the next window.
	fetchStart := p.now().UTC()

	fetched := p.fetcher.Fetch(ctx, account)
	if !fetched.Success {
		res.Errors = append(res.Errors, fmt.Sprintf("fetch failed: %s", fetched.Error))
		return res
	}
	res.Fetched = len(fetched.Messages)

	for _, msg := range fetched.Messages {
		if err := p.processMessage(ctx, account, pref, ignored, ignoredSet, msg, &res); err != nil {
			slog.Error("message processing failed",
				"account", account.Email,
				"message_id", msg.MessageID,
				"error", err,
			)
			res.Errors = append(res.Errors, fmt.Sprintf("message %s: %v", msg.MessageID, err))
		}
	}

	if err := p.accounts.AdvanceWatermark(ctx, account.ID, fetchStart); err != nil {
		slog.Error("advancing watermark failed",
			"account", account.Email,
			"error", err,
		)
		res.Errors = append(res.Errors, fmt.Sprintf("advance watermark: %v", err))
	}

	return res
}

func (p *Processor) processMessage(ctx context.Context, account models.Account, pref models.Preference, ignored []string, ignoredSet map[string]bool, msg models.FetchedMessage, res *Result) error {
	if p.seen != nil {
		isNew, err := p.seen.IsNewMessage(ctx, account.ID, msg.MessageID)
		if err != nil {
			// Fail open: the ledger's unique constraint still dedups.
			slog.Warn("seen-filter check failed", "error", err)
		} else if !isNew {
			return nil
		}
	}

	exists, err := p.ledger.Exists(ctx, account.ID, msg.MessageID)
	if err != nil {
		return fmt.Errorf("ledger lookup: %w", err)
	}
	if exists {
		slog.Debug("skipping known message",
			"account", account.Email,
			"message_id", msg.MessageID,
		)
		return nil
	}

	// Explicit suppression, distinct from classification: ignored senders
	// are skipped without persisting.
	if ignoredSet[strings.ToLower(msg.Sender)] {
		slog.Debug("skipping ignored sender",
			"account", account.Email,
			"sender", msg.Sender,
		)
		return nil
	}

	classification, err := p.classifier.Classify(ctx, msg, pref, ignored)
	if err != nil {
		// A lost classification must not lose the message.
		slog.Warn("classification failed, falling back to medium",
			"account", account.Email,
			"message_id", msg.MessageID,
			"error", err,
		)
		classification = fallbackClassification(msg)
	}

	inserted, err := p.ledger.Insert(ctx, models.MessageRecord{
		AccountID:       account.ID,
		MessageID:       msg.MessageID,
		Sender:          msg.Sender,
		SenderName:      classification.SenderName,
		Subject:         msg.Subject,
		Summary:         classification.Summary,
		Tier:            classification.Tier,
		NeedsReply:      classification.NeedsReply,
		ReplyReason:     classification.ReplyReason,
		ReplySuggestion: classification.ReplySuggestion,
		Status:          models.StatusPending,
		ReceivedAt:      msg.ReceivedTime(),
	})
	if err != nil {
		return fmt.Errorf("ledger insert: %w", err)
	}
	if !inserted {
		// Raced with an earlier window; duplicate insert is a no-op.
		return nil
	}

	res.Classified++
	if classification.Tier.AtLeast(models.TierMedium) {
		res.Important++
	}
	return nil
}

// fallbackClassification is the conservative default used when the
// classification collaborator fails.
func fallbackClassification(msg models.FetchedMessage) models.Classification {
	senderName := msg.SenderName
	if senderName == "" {
		senderName = msg.Sender
		if at := strings.IndexByte(msg.Sender, '@'); at > 0 {
			senderName = msg.Sender[:at]
		}
	}
	return models.Classification{
		Summary:    fmt.Sprintf("Mail from %s regarding %q", msg.Sender, msg.Subject),
		Tier:       models.TierMedium,
		SenderName: senderName,
		NeedsReply: models.ReplyUnknown,
	}
}
