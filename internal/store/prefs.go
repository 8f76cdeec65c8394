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

package store

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/aimailer/dispatch/internal/models"
)

// PreferenceFor returns the notification preference bundle for a tenant.
// Tenants without stored settings get the defaults. A malformed minimum
// tier in the row falls back to medium rather than failing the batch.
func (s *Store) PreferenceFor(ctx context.Context, tenantID int64) (models.Preference, error) {
	p := models.DefaultPreference(tenantID)

	var minTier string
	err := s.pool.QueryRow(ctx, `
		SELECT interval_minutes, minimum_tier, notify_when_empty, max_per_delivery,
		       include_reply_suggestion, personal_name, company_name,
		       additional_keywords, ignore_promotions, ignore_sales,
		       detect_reply_needed, custom_prompt
		FROM preferences
		WHERE tenant_id = $1
	`, tenantID).Scan(
		&p.IntervalMinutes, &minTier, &p.NotifyWhenEmpty, &p.MaxPerDelivery,
		&p.IncludeReplySuggestion, &p.PersonalName, &p.CompanyName,
		&p.AdditionalKeywords, &p.IgnorePromotions, &p.IgnoreSales,
		&p.DetectReplyNeeded, &p.CustomPrompt,
	)
	if err == pgx.ErrNoRows {
		return models.DefaultPreference(tenantID), nil
	}
	if err != nil {
		return models.DefaultPreference(tenantID), err
	}

	tier, terr := models.ParseTier(minTier)
	if terr != nil {
		slog.Warn("invalid minimum tier in preferences, using medium",
			"tenant_id", tenantID,
			"tier", minTier,
		)
		tier = models.TierMedium
	}
	p.MinimumTier = tier

	if p.IntervalMinutes <= 0 {
		p.IntervalMinutes = models.DefaultPreference(tenantID).IntervalMinutes
	}
	if p.MaxPerDelivery <= 0 {
		p.MaxPerDelivery = models.DefaultPreference(tenantID).MaxPerDelivery
	}

	return p, nil
}

// IgnoredSenders returns the tenant's sender suppression list.
func (s *Store) IgnoredSenders(ctx context.Context, tenantID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT sender_email FROM ignored_senders WHERE tenant_id = $1
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var senders []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		senders = append(senders, email)
	}
	return senders, rows.Err()
}
