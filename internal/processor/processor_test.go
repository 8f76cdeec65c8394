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

package processor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aimailer/dispatch/internal/models"
)

type mockFetcher struct {
	result models.FetchResult
}

func (m *mockFetcher) Fetch(ctx context.Context, account models.Account) models.FetchResult {
	return m.result
}

type mockClassifier struct {
	mu     sync.Mutex
	calls  []string
	result models.Classification
	err    error
}

func (m *mockClassifier) Classify(ctx context.Context, msg models.FetchedMessage, pref models.Preference, ignored []string) (models.Classification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, msg.MessageID)
	if m.err != nil {
		return models.Classification{}, m.err
	}
	return m.result, nil
}

type mockLedger struct {
	mu        sync.Mutex
	known     map[string]bool
	inserted  []models.MessageRecord
	existsErr error
	insertErr error
}

func (m *mockLedger) Exists(ctx context.Context, accountID int64, messageID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.existsErr != nil {
		return false, m.existsErr
	}
	return m.known[messageID], nil
}

func (m *mockLedger) Insert(ctx context.Context, r models.MessageRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return false, m.insertErr
	}
	if m.known == nil {
		m.known = make(map[string]bool)
	}
	if m.known[r.MessageID] {
		return false, nil
	}
	m.known[r.MessageID] = true
	m.inserted = append(m.inserted, r)
	return true, nil
}

type mockAccounts struct {
	mu         sync.Mutex
	watermarks []time.Time
}

func (m *mockAccounts) AdvanceWatermark(ctx context.Context, accountID int64, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watermarks = append(m.watermarks, t)
	return nil
}

type mockPrefs struct {
	pref    models.Preference
	ignored []string
}

func (m *mockPrefs) PreferenceFor(ctx context.Context, tenantID int64) (models.Preference, error) {
	return m.pref, nil
}

func (m *mockPrefs) IgnoredSenders(ctx context.Context, tenantID int64) ([]string, error) {
	return m.ignored, nil
}

type mockSeen struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func (m *mockSeen) IsNewMessage(ctx context.Context, accountID int64, messageID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	return !m.seen[messageID], nil
}

func fetchedMessage(id, sender string) models.FetchedMessage {
	return models.FetchedMessage{
		MessageID:  id,
		Sender:     sender,
		Subject:    "Subject " + id,
		Body:       "Body",
		ReceivedAt: 1740000000000,
	}
}

func testAccount() models.Account {
	return models.Account{ID: 7, TenantID: 3, Email: "me@example.com", Active: true}
}

func newTestProcessor(f *mockFetcher, c *mockClassifier, l Ledger, a *mockAccounts, p *mockPrefs, s *mockSeen) *Processor {
	cfg := Config{Fetcher: f, Classifier: c, Ledger: l, Accounts: a, Prefs: p}
	if s != nil {
		cfg.Seen = s
	}
	return New(cfg)
}

// TestProcess verifies the happy path: new mail classified, persisted
// pending, watermark advanced to the pre-fetch instant.
func TestProcess(t *testing.T) {
	fetcher := &mockFetcher{result: models.FetchResult{
		Success:  true,
		Messages: []models.FetchedMessage{fetchedMessage("m1", "alice@example.com"), fetchedMessage("m2", "bob@example.com")},
		Count:    2,
	}}
	classifier := &mockClassifier{result: models.Classification{
		Summary:    "Summary",
		Tier:       models.TierHigh,
		NeedsReply: models.ReplyYes,
	}}
	ledger := &mockLedger{}
	accounts := &mockAccounts{}
	prefs := &mockPrefs{pref: models.DefaultPreference(3)}

	p := newTestProcessor(fetcher, classifier, ledger, accounts, prefs, nil)
	before := time.Now().UTC()
	res := p.Process(context.Background(), testAccount())
	after := time.Now().UTC()

	if len(res.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	if res.Fetched != 2 || res.Classified != 2 || res.Important != 2 {
		t.Errorf("result = %+v", res)
	}
	if len(ledger.inserted) != 2 {
		t.Fatalf("expected 2 inserted records, got %d", len(ledger.inserted))
	}
	if ledger.inserted[0].Status != models.StatusPending {
		t.Errorf("record status = %q, want pending", ledger.inserted[0].Status)
	}
	if len(accounts.watermarks) != 1 {
		t.Fatalf("expected exactly one watermark advance, got %d", len(accounts.watermarks))
	}
	wm := accounts.watermarks[0]
	if wm.Before(before) || wm.After(after) {
		t.Errorf("watermark %v outside [%v, %v]", wm, before, after)
	}
}

// TestProcess_FetchFailure verifies a failed fetch records an error and never
// advances the watermark.
func TestProcess_FetchFailure(t *testing.T) {
	fetcher := &mockFetcher{result: models.FetchResult{Success: false, Error: "connection refused"}}
	ledger := &mockLedger{}
	accounts := &mockAccounts{}
	prefs := &mockPrefs{pref: models.DefaultPreference(3)}

	p := newTestProcessor(fetcher, &mockClassifier{}, ledger, accounts, prefs, nil)
	res := p.Process(context.Background(), testAccount())

	if len(res.Errors) != 1 {
		t.Fatalf("expected one error, got %v", res.Errors)
	}
	if len(accounts.watermarks) != 0 {
		t.Error("watermark must not advance on fetch failure")
	}
	if len(ledger.inserted) != 0 {
		t.Error("no records should be inserted on fetch failure")
	}
}

// TestProcess_KnownMessageSkipped verifies ledger-known mail is skipped
// without a classifier call.
func TestProcess_KnownMessageSkipped(t *testing.T) {
	fetcher := &mockFetcher{result: models.FetchResult{
		Success:  true,
		Messages: []models.FetchedMessage{fetchedMessage("m1", "alice@example.com")},
		Count:    1,
	}}
	classifier := &mockClassifier{result: models.Classification{Tier: models.TierHigh}}
	ledger := &mockLedger{known: map[string]bool{"m1": true}}
	prefs := &mockPrefs{pref: models.DefaultPreference(3)}

	p := newTestProcessor(fetcher, classifier, ledger, &mockAccounts{}, prefs, nil)
	res := p.Process(context.Background(), testAccount())

	if res.Classified != 0 {
		t.Errorf("classified = %d, want 0", res.Classified)
	}
	if len(classifier.calls) != 0 {
		t.Error("classifier should not be called for known messages")
	}
}

// TestProcess_SeenFilterSkip verifies the fast-path filter short-circuits
// before the ledger.
func TestProcess_SeenFilterSkip(t *testing.T) {
	fetcher := &mockFetcher{result: models.FetchResult{
		Success:  true,
		Messages: []models.FetchedMessage{fetchedMessage("m1", "alice@example.com")},
		Count:    1,
	}}
	classifier := &mockClassifier{result: models.Classification{Tier: models.TierHigh}}
	seen := &mockSeen{seen: map[string]bool{"m1": true}}
	prefs := &mockPrefs{pref: models.DefaultPreference(3)}

	p := newTestProcessor(fetcher, classifier, &mockLedger{}, &mockAccounts{}, prefs, seen)
	res := p.Process(context.Background(), testAccount())

	if res.Classified != 0 || len(classifier.calls) != 0 {
		t.Error("seen-filter hit should skip classification")
	}
}

// TestProcess_SeenFilterFailsOpen verifies a broken filter does not block
// processing; the ledger constraint still dedups.
func TestProcess_SeenFilterFailsOpen(t *testing.T) {
	fetcher := &mockFetcher{result: models.FetchResult{
		Success:  true,
		Messages: []models.FetchedMessage{fetchedMessage("m1", "alice@example.com")},
		Count:    1,
	}}
	classifier := &mockClassifier{result: models.Classification{Tier: models.TierHigh}}
	seen := &mockSeen{err: errors.New("redis down")}
	ledger := &mockLedger{}
	prefs := &mockPrefs{pref: models.DefaultPreference(3)}

	p := newTestProcessor(fetcher, classifier, ledger, &mockAccounts{}, prefs, seen)
	res := p.Process(context.Background(), testAccount())

	if res.Classified != 1 || len(ledger.inserted) != 1 {
		t.Error("processing should continue when the seen filter errors")
	}
}

// TestProcess_IgnoredSender verifies suppressed senders are skipped without
// persisting anything.
func TestProcess_IgnoredSender(t *testing.T) {
	fetcher := &mockFetcher{result: models.FetchResult{
		Success: true,
		Messages: []models.FetchedMessage{
			fetchedMessage("m1", "Spammer@ignore.me"),
			fetchedMessage("m2", "alice@example.com"),
		},
		Count: 2,
	}}
	classifier := &mockClassifier{result: models.Classification{Tier: models.TierHigh}}
	ledger := &mockLedger{}
	prefs := &mockPrefs{pref: models.DefaultPreference(3), ignored: []string{"spammer@ignore.me"}}

	p := newTestProcessor(fetcher, classifier, ledger, &mockAccounts{}, prefs, nil)
	res := p.Process(context.Background(), testAccount())

	if res.Classified != 1 {
		t.Errorf("classified = %d, want 1", res.Classified)
	}
	if len(ledger.inserted) != 1 || ledger.inserted[0].MessageID != "m2" {
		t.Errorf("only m2 should be persisted, got %+v", ledger.inserted)
	}
}

// TestProcess_ClassifierFailure verifies the conservative default: the
// message persists at medium with an unknown reply verdict.
func TestProcess_ClassifierFailure(t *testing.T) {
	fetcher := &mockFetcher{result: models.FetchResult{
		Success:  true,
		Messages: []models.FetchedMessage{fetchedMessage("m1", "alice@example.com")},
		Count:    1,
	}}
	classifier := &mockClassifier{err: errors.New("quota exhausted")}
	ledger := &mockLedger{}
	accounts := &mockAccounts{}
	prefs := &mockPrefs{pref: models.DefaultPreference(3)}

	p := newTestProcessor(fetcher, classifier, ledger, accounts, prefs, nil)
	res := p.Process(context.Background(), testAccount())

	if len(ledger.inserted) != 1 {
		t.Fatalf("message must be persisted despite classifier failure")
	}
	rec := ledger.inserted[0]
	if rec.Tier != models.TierMedium {
		t.Errorf("fallback tier = %q, want medium", rec.Tier)
	}
	if rec.NeedsReply != models.ReplyUnknown {
		t.Errorf("fallback needsReply = %q, want unknown", rec.NeedsReply)
	}
	if res.Classified != 1 {
		t.Errorf("classified = %d, want 1", res.Classified)
	}
	if len(accounts.watermarks) != 1 {
		t.Error("watermark should still advance after a successful fetch")
	}
}

// TestProcess_InsertFailureIsolated verifies one bad message does not abort
// its siblings or the watermark advance.
func TestProcess_InsertFailureIsolated(t *testing.T) {
	fetcher := &mockFetcher{result: models.FetchResult{
		Success:  true,
		Messages: []models.FetchedMessage{fetchedMessage("m1", "alice@example.com"), fetchedMessage("m2", "bob@example.com")},
		Count:    2,
	}}
	classifier := &mockClassifier{result: models.Classification{Tier: models.TierHigh}}
	ledger := &failFirstLedger{}
	accounts := &mockAccounts{}
	prefs := &mockPrefs{pref: models.DefaultPreference(3)}

	p := newTestProcessor(fetcher, classifier, ledger, accounts, prefs, nil)
	res := p.Process(context.Background(), testAccount())

	if len(res.Errors) != 1 {
		t.Fatalf("expected one error, got %v", res.Errors)
	}
	if res.Classified != 1 {
		t.Errorf("second message should still be processed, classified = %d", res.Classified)
	}
	if len(accounts.watermarks) != 1 {
		t.Error("watermark advances when the fetch succeeded, even with per-message errors")
	}
}

// failFirstLedger fails the first insert and accepts the rest.
type failFirstLedger struct {
	mu       sync.Mutex
	attempts int
	inserted []models.MessageRecord
}

func (m *failFirstLedger) Exists(ctx context.Context, accountID int64, messageID string) (bool, error) {
	return false, nil
}

func (m *failFirstLedger) Insert(ctx context.Context, r models.MessageRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.attempts == 1 {
		return false, errors.New("constraint violation")
	}
	m.inserted = append(m.inserted, r)
	return true, nil
}
