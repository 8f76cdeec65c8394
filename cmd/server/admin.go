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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/aimailer/dispatch/internal/models"
)

// adminStore is the subset of the store the admin surface needs.
type adminStore interface {
	ResetAccount(ctx context.Context, accountID int64) error
	ResetTenant(ctx context.Context, tenantID int64) error
	ListByTenant(ctx context.Context, tenantID int64) ([]models.Account, error)
	PendingCount(ctx context.Context, accountID *int64) (int, error)
}

// seenFilter clears the fast-path dedup state during resets.
type seenFilter interface {
	Forget(ctx context.Context, accountID int64) error
}

// runTrigger requests a manual batch run.
type runTrigger interface {
	TriggerRunNow(ctx context.Context) bool
}

// newAdminMux builds the admin/health surface: health check, manual run
// trigger, per-account and per-tenant resets, and the pending-count
// diagnostic. Resets must clear the seen-filter alongside the ledger purge,
// or the stale filter entries silently drop the re-fetched messages.
func newAdminMux(runCtx context.Context, st adminStore, seen seenFilter, sched runTrigger, healthCheck func(context.Context) error) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if err := healthCheck(r.Context()); err != nil {
			slog.Warn("health check failed", "error", err)
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy"}`))
	})

	mux.HandleFunc("POST /run", func(w http.ResponseWriter, r *http.Request) {
		// Manual trigger shares the single-flight guard with the cadence;
		// run in the background so slow collaborators don't hold the request.
		go sched.TriggerRunNow(runCtx)
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"status": "triggered"}`))
	})

	mux.HandleFunc("POST /accounts/{id}/reset", func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid account id", http.StatusBadRequest)
			return
		}
		if err := st.ResetAccount(r.Context(), id); err != nil {
			slog.Error("account reset failed", "account_id", id, "error", err)
			http.Error(w, "reset failed", http.StatusInternalServerError)
			return
		}
		if err := seen.Forget(r.Context(), id); err != nil {
			slog.Warn("clearing seen-filter failed", "account_id", id, "error", err)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "reset"}`))
	})

	mux.HandleFunc("POST /tenants/{id}/reset", func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid tenant id", http.StatusBadRequest)
			return
		}
		accounts, err := st.ListByTenant(r.Context(), id)
		if err != nil {
			slog.Error("listing tenant accounts failed", "tenant_id", id, "error", err)
			http.Error(w, "reset failed", http.StatusInternalServerError)
			return
		}
		if err := st.ResetTenant(r.Context(), id); err != nil {
			slog.Error("tenant reset failed", "tenant_id", id, "error", err)
			http.Error(w, "reset failed", http.StatusInternalServerError)
			return
		}
		for _, account := range accounts {
			if err := seen.Forget(r.Context(), account.ID); err != nil {
				slog.Warn("clearing seen-filter failed", "account_id", account.ID, "error", err)
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "reset"}`))
	})

	mux.HandleFunc("GET /pending", func(w http.ResponseWriter, r *http.Request) {
		var accountID *int64
		if raw := r.URL.Query().Get("account_id"); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				http.Error(w, "invalid account id", http.StatusBadRequest)
				return
			}
			accountID = &id
		}
		count, err := st.PendingCount(r.Context(), accountID)
		if err != nil {
			slog.Error("pending count failed", "error", err)
			http.Error(w, "count failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"pending": %d}`, count)
	})

	return mux
}
