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

	"github.com/jackc/pgx/v5"

	"github.com/aimailer/dispatch/internal/models"
)

const messageColumns = `id, account_id, message_id, sender, sender_name, subject,
	summary, tier, needs_reply, reply_reason, reply_suggestion, status,
	received_at, created_at`

// Exists reports whether the ledger already holds (accountID, messageID).
func (s *Store) Exists(ctx context.Context, accountID int64, messageID string) (bool, error) {
	var found int
	err := s.pool.QueryRow(ctx, `
		SELECT 1 FROM messages
		WHERE account_id = $1 AND message_id = $2
		LIMIT 1
	`, accountID, messageID).Scan(&found)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Insert adds a classified message to the ledger with status pending.
// A duplicate (account_id, message_id) is a no-op, not an error — expected
// under at-least-once fetch semantics. Returns whether a row was inserted.
func (s *Store) Insert(ctx context.Context, r models.MessageRecord) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO messages
			(account_id, message_id, sender, sender_name, subject, summary,
			 tier, needs_reply, reply_reason, reply_suggestion, status, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (account_id, message_id) DO NOTHING
	`, r.AccountID, r.MessageID, r.Sender, r.SenderName, r.Subject, r.Summary,
		string(r.Tier), r.NeedsReply, r.ReplyReason, r.ReplySuggestion,
		models.StatusPending, r.ReceivedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListPending returns all pending records for an account, newest first.
func (s *Store) ListPending(ctx context.Context, accountID int64) ([]models.MessageRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE account_id = $1 AND status = $2
		ORDER BY received_at DESC
	`, accountID, models.StatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

// MarkSent transitions the given records from pending to sent in a single
// statement. Records already sent are left untouched; the transition is
// never reversed.
func (s *Store) MarkSent(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE messages
		SET status = $1
		WHERE id = ANY($2) AND status = $3
	`, models.StatusSent, ids, models.StatusPending)
	return err
}

// PendingCount returns the number of pending records, optionally scoped to
// one account. Read-only diagnostic.
func (s *Store) PendingCount(ctx context.Context, accountID *int64) (int, error) {
	var count int
	var err error
	if accountID != nil {
		err = s.pool.QueryRow(ctx, `
			SELECT COUNT(*) FROM messages WHERE account_id = $1 AND status = $2
		`, *accountID, models.StatusPending).Scan(&count)
	} else {
		err = s.pool.QueryRow(ctx, `
			SELECT COUNT(*) FROM messages WHERE status = $1
		`, models.StatusPending).Scan(&count)
	}
	return count, err
}

// collectMessages scans multiple rows into a slice of MessageRecords.
func collectMessages(rows pgx.Rows) ([]models.MessageRecord, error) {
	var records []models.MessageRecord
	for rows.Next() {
		var r models.MessageRecord
		var tier string
		if err := rows.Scan(
			&r.ID, &r.AccountID, &r.MessageID, &r.Sender, &r.SenderName, &r.Subject,
			&r.Summary, &tier, &r.NeedsReply, &r.ReplyReason, &r.ReplySuggestion,
			&r.Status, &r.ReceivedAt, &r.CreatedAt,
		); err != nil {
			return nil, err
		}
		r.Tier = models.Tier(tier)
		records = append(records, r)
	}
	return records, rows.Err()
}
