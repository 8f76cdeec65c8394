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

// Dispatch — Single Batch Pass Command
//
// Standalone CLI tool that runs one batch pass (fetch, classify, persist,
// flush) and exits. Intended for cron-style deployments and for verifying
// a new account's wiring without waiting for the service cadence.
//
// Usage:
//
//	go run ./cmd/runonce/ [--account <id>] [--dry-run]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/aimailer/dispatch/internal/chatwork"
	"github.com/aimailer/dispatch/internal/classify"
	"github.com/aimailer/dispatch/internal/config"
	"github.com/aimailer/dispatch/internal/coordinator"
	"github.com/aimailer/dispatch/internal/dedup"
	"github.com/aimailer/dispatch/internal/fetch"
	"github.com/aimailer/dispatch/internal/models"
	"github.com/aimailer/dispatch/internal/processor"
	"github.com/aimailer/dispatch/internal/scheduler"
	"github.com/aimailer/dispatch/internal/store"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	_ = godotenv.Load()

	// --- CLI Flags ---
	accountFlag := flag.Int64("account", 0, "Process a single account ID instead of all active accounts")
	dryRunFlag := flag.Bool("dry-run", false, "Fetch and classify but skip the notification flush")
	flag.Parse()

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	// --- Store + Collaborators ---
	st, err := store.New(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise store", "error", err)
		os.Exit(1)
	}

	proc := processor.New(processor.Config{
		Fetcher:    fetch.NewRunner(cfg.FetchCommand, cfg.FetchTimeout),
		Classifier: classify.NewClient(ctx, cfg.Classifier),
		Ledger:     st,
		Accounts:   st,
		Prefs:      st,
		Seen:       dedup.NewFilter(rdb),
	})
	coord := coordinator.New(st, st, chatwork.NewClient(cfg.Chatwork.BaseURL, cfg.Chatwork.APIToken))

	// --- Single account mode ---
	if *accountFlag != 0 {
		account, err := st.GetAccount(ctx, *accountFlag)
		if err != nil {
			slog.Error("failed to load account", "account_id", *accountFlag, "error", err)
			os.Exit(1)
		}
		if account == nil {
			fmt.Fprintf(os.Stderr, "Error: account %d not found\n", *accountFlag)
			os.Exit(1)
		}

		result := proc.Process(ctx, *account)
		slog.Info("account processed",
			"account", account.Email,
			"fetched", result.Fetched,
			"classified", result.Classified,
			"errors", len(result.Errors),
		)

		if !*dryRunFlag {
			pref, err := st.PreferenceFor(ctx, account.TenantID)
			if err != nil {
				slog.Error("loading preferences failed, using defaults",
					"tenant_id", account.TenantID,
					"error", err,
				)
				pref = models.DefaultPreference(account.TenantID)
			}
			flush := coord.Flush(ctx, *account, pref)
			slog.Info("account flushed",
				"account", account.Email,
				"delivered", flush.Delivered,
				"notified", flush.Notified,
				"retired", flush.Retired,
			)
		}
		return
	}

	// --- Full pass ---
	if *dryRunFlag {
		accounts, err := st.ListActive(ctx)
		if err != nil {
			slog.Error("listing active accounts failed", "error", err)
			os.Exit(1)
		}
		for _, account := range accounts {
			result := proc.Process(ctx, account)
			slog.Info("account processed",
				"account", account.Email,
				"fetched", result.Fetched,
				"classified", result.Classified,
				"errors", len(result.Errors),
			)
		}
		return
	}

	sched := scheduler.New(scheduler.Config{
		Source:    st,
		Processor: proc,
		Flusher:   coord,
	})
	sched.RunOnce(ctx)
}
