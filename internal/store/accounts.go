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
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aimailer/dispatch/internal/models"
)

const accountColumns = `id, tenant_id, email, imap_host, imap_port, imap_username,
	imap_password, chatwork_room_id, is_active, last_checked_at,
	last_notified_at, created_at, updated_at`

// ListActive returns all active accounts across all tenants. Order across
// accounts is unspecified; the batch run processes whatever comes back.
func (s *Store) ListActive(ctx context.Context) ([]models.Account, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE is_active = TRUE
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAccounts(rows)
}

// ListByTenant returns all of a tenant's accounts, active or not.
func (s *Store) ListByTenant(ctx context.Context, tenantID int64) ([]models.Account, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE tenant_id = $1
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAccounts(rows)
}

// GetAccount retrieves a single account by ID. Returns nil if not found.
func (s *Store) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1
	`, id)
	return scanAccount(row)
}

// AdvanceWatermark sets the account's last successful fetch time. Called only
// after a fetch reported success, so a failed fetch never moves the watermark.
func (s *Store) AdvanceWatermark(ctx context.Context, accountID int64, t time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE accounts
		SET last_checked_at = $1, updated_at = NOW()
		WHERE id = $2
	`, t, accountID)
	return err
}

// TouchNotified records the time of a confirmed delivery for the account.
func (s *Store) TouchNotified(ctx context.Context, accountID int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE accounts
		SET last_notified_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, accountID)
	return err
}

// ResetAccount purges the ledger for one account and nulls its watermark,
// forcing a full re-fetch and re-classification on the next run.
func (s *Store) ResetAccount(ctx context.Context, accountID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reset: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE account_id = $1`, accountID); err != nil {
		return fmt.Errorf("purge ledger: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE accounts SET last_checked_at = NULL, updated_at = NOW() WHERE id = $1
	`, accountID); err != nil {
		return fmt.Errorf("reset watermark: %w", err)
	}

	return tx.Commit(ctx)
}

// ResetTenant performs ResetAccount across all of a tenant's accounts.
func (s *Store) ResetTenant(ctx context.Context, tenantID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tenant reset: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		DELETE FROM messages
		WHERE account_id IN (SELECT id FROM accounts WHERE tenant_id = $1)
	`, tenantID); err != nil {
		return fmt.Errorf("purge tenant ledger: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE accounts SET last_checked_at = NULL, updated_at = NOW() WHERE tenant_id = $1
	`, tenantID); err != nil {
		return fmt.Errorf("reset tenant watermarks: %w", err)
	}

	return tx.Commit(ctx)
}

// scanAccount scans a single row into an Account.
func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(
		&a.ID, &a.TenantID, &a.Email, &a.IMAPHost, &a.IMAPPort, &a.IMAPUsername,
		&a.IMAPPassword, &a.ChatworkRoomID, &a.Active, &a.Watermark,
		&a.LastNotifiedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// collectAccounts scans multiple rows into a slice of Accounts.
func collectAccounts(rows pgx.Rows) ([]models.Account, error) {
	var accounts []models.Account
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(
			&a.ID, &a.TenantID, &a.Email, &a.IMAPHost, &a.IMAPPort, &a.IMAPUsername,
			&a.IMAPPassword, &a.ChatworkRoomID, &a.Active, &a.Watermark,
			&a.LastNotifiedAt, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}
