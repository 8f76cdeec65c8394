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

// Dispatch — Mail Summary Batch Service
//
// Entry point for the batch notification service. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Connects to PostgreSQL and Redis
//  3. Wires the fetch, classification, and delivery collaborators
//  4. Starts the batch scheduler (immediate delayed run + fixed cadence)
//  5. Serves the admin/health endpoints (manual run, resets, diagnostics)
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/aimailer/dispatch/internal/chatwork"
	"github.com/aimailer/dispatch/internal/classify"
	"github.com/aimailer/dispatch/internal/config"
	"github.com/aimailer/dispatch/internal/coordinator"
	"github.com/aimailer/dispatch/internal/dedup"
	"github.com/aimailer/dispatch/internal/fetch"
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

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	slog.Info("starting dispatch batch service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"batch_interval", cfg.BatchInterval,
		"startup_delay", cfg.StartupDelay,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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
	slog.Info("connected to PostgreSQL")

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Store (accounts + ledger + preferences) ---
	st, err := store.New(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise store", "error", err)
		os.Exit(1)
	}

	// --- Collaborators ---
	seen := dedup.NewFilter(rdb)
	fetcher := fetch.NewRunner(cfg.FetchCommand, cfg.FetchTimeout)
	classifier := classify.NewClient(ctx, cfg.Classifier)
	deliverer := chatwork.NewClient(cfg.Chatwork.BaseURL, cfg.Chatwork.APIToken)

	// --- Pipeline ---
	proc := processor.New(processor.Config{
		Fetcher:    fetcher,
		Classifier: classifier,
		Ledger:     st,
		Accounts:   st,
		Prefs:      st,
		Seen:       seen,
	})
	coord := coordinator.New(st, st, deliverer)

	sched := scheduler.New(scheduler.Config{
		Source:       st,
		Processor:    proc,
		Flusher:      coord,
		Interval:     cfg.BatchInterval,
		StartupDelay: cfg.StartupDelay,
	})
	sched.Start(ctx)

	// --- Admin / Health Server ---
	mux := newAdminMux(ctx, st, seen, sched, func(ctx context.Context) error {
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		if err := pgPool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		return nil
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("admin server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

		select {
		case sig := <-sigCh:
			slog.Info("received shutdown signal", "signal", sig.String())
		case <-gCtx.Done():
		}

		cancel()
		sched.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("service error", "error", err)
		os.Exit(1)
	}

	slog.Info("dispatch batch service stopped")
}
