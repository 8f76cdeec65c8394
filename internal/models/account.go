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

package models

import "time"

// Account is a tenant-scoped mail source. The IMAP connection parameters are
// opaque to the batch core; they are passed straight through to the fetch
// collaborator.
type Account struct {
	ID           int64
	TenantID     int64
	Email        string
	IMAPHost     string
	IMAPPort     int
	IMAPUsername string
	IMAPPassword string

	// ChatworkRoomID is the delivery destination. Empty means notifications
	// are skipped for this account; fetch and classify still run.
	ChatworkRoomID string

	Active bool

	// Watermark is the last successful fetch time. Nil means fetch the full
	// mailbox history. Advanced only by the account processor after a
	// successful fetch; reset to nil by an explicit reanalyze action.
	Watermark *time.Time

	// LastNotifiedAt is the time of the last confirmed delivery for this
	// account, used for the tenant interval gate.
	LastNotifiedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Preference is the per-tenant notification configuration. Read-only to the
// batch core.
type Preference struct {
	TenantID int64

	// IntervalMinutes is the minimum number of minutes between flushes.
	IntervalMinutes int

	// MinimumTier is the lowest tier worth notifying about. Spam is always
	// suppressed regardless of this value.
	MinimumTier Tier

	// NotifyWhenEmpty sends an empty-state digest when a flush window has
	// nothing to report.
	NotifyWhenEmpty bool

	// MaxPerDelivery caps the number of messages included in one digest.
	MaxPerDelivery int

	IncludeReplySuggestion bool

	// Classifier hints.
	PersonalName       string
	CompanyName        string
	AdditionalKeywords string
	IgnorePromotions   bool
	IgnoreSales        bool
	DetectReplyNeeded  bool
	CustomPrompt       string
}

// Interval returns the flush interval as a duration.
func (p Preference) Interval() time.Duration {
	return time.Duration(p.IntervalMinutes) * time.Minute
}

// DefaultPreference returns the preference bundle used when a tenant has no
// stored settings.
func DefaultPreference(tenantID int64) Preference {
	return Preference{
		TenantID:          tenantID,
		IntervalMinutes:   10,
		MinimumTier:       TierMedium,
		NotifyWhenEmpty:   false,
		MaxPerDelivery:    15,
		IgnorePromotions:  true,
		IgnoreSales:       true,
		DetectReplyNeeded: true,
	}
}
