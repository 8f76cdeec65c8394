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

// Package store provides the Postgres-backed account registry and message
// ledger. The ledger is append-only per account: records are created pending
// and only ever move forward to sent.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides account, ledger, and preference operations in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a store backed by the given Postgres pool. It ensures the
// schema exists on creation.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure dispatch schema: %w", err)
	}
	slog.Info("dispatch store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			id                BIGSERIAL PRIMARY KEY,
			tenant_id         BIGINT NOT NULL,
			email             TEXT NOT NULL,
			imap_host         TEXT NOT NULL,
			imap_port         INT NOT NULL DEFAULT 993,
			imap_username     TEXT NOT NULL,
			imap_password     TEXT NOT NULL,
			chatwork_room_id  TEXT DEFAULT '',
			is_active         BOOLEAN DEFAULT TRUE,
			last_checked_at   TIMESTAMPTZ,
			last_notified_at  TIMESTAMPTZ,
			created_at        TIMESTAMPTZ DEFAULT NOW(),
			updated_at        TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(tenant_id, email)
		);
		CREATE INDEX IF NOT EXISTS idx_accounts_tenant ON accounts(tenant_id);
		CREATE INDEX IF NOT EXISTS idx_accounts_active ON accounts(is_active);

		CREATE TABLE IF NOT EXISTS messages (
			id               BIGSERIAL PRIMARY KEY,
			account_id       BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			message_id       TEXT NOT NULL,
			sender           TEXT NOT NULL,
			sender_name      TEXT DEFAULT '',
			subject          TEXT DEFAULT '',
			summary          TEXT DEFAULT '',
			tier             TEXT NOT NULL DEFAULT 'medium',
			needs_reply      TEXT DEFAULT 'unknown',
			reply_reason     TEXT DEFAULT '',
			reply_suggestion TEXT DEFAULT '',
			status           TEXT NOT NULL DEFAULT 'pending',
			received_at      TIMESTAMPTZ NOT NULL,
			created_at       TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(account_id, message_id)
		);
		CREATE INDEX IF NOT EXISTS idx_messages_pending ON messages(account_id, status);
		CREATE INDEX IF NOT EXISTS idx_messages_received ON messages(received_at);

		CREATE TABLE IF NOT EXISTS preferences (
			id                       BIGSERIAL PRIMARY KEY,
			tenant_id                BIGINT NOT NULL UNIQUE,
			interval_minutes         INT NOT NULL DEFAULT 10,
			minimum_tier             TEXT NOT NULL DEFAULT 'medium',
			notify_when_empty        BOOLEAN DEFAULT FALSE,
			max_per_delivery         INT NOT NULL DEFAULT 15,
			include_reply_suggestion BOOLEAN DEFAULT FALSE,
			personal_name            TEXT DEFAULT '',
			company_name             TEXT DEFAULT '',
			additional_keywords      TEXT DEFAULT '',
			ignore_promotions        BOOLEAN DEFAULT TRUE,
			ignore_sales             BOOLEAN DEFAULT TRUE,
			detect_reply_needed      BOOLEAN DEFAULT TRUE,
			custom_prompt            TEXT DEFAULT '',
			created_at               TIMESTAMPTZ DEFAULT NOW(),
			updated_at               TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS ignored_senders (
			id           BIGSERIAL PRIMARY KEY,
			tenant_id    BIGINT NOT NULL,
			sender_email TEXT NOT NULL,
			created_at   TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(tenant_id, sender_email)
		);
	`)
	return err
}
