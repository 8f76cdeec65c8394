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

// Package scheduler drives the batch: on a fixed cadence it enumerates
// active accounts and runs the processor and coordinator for each. At most
// one run is in flight at a time; a tick during a run is skipped, never
// queued. One account's failure never aborts the rest of the run.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/aimailer/dispatch/internal/coordinator"
	"github.com/aimailer/dispatch/internal/models"
	"github.com/aimailer/dispatch/internal/processor"
)

// AccountSource enumerates active accounts and their tenant preferences.
type AccountSource interface {
	ListActive(ctx context.Context) ([]models.Account, error)
	PreferenceFor(ctx context.Context, tenantID int64) (models.Preference, error)
}

// AccountProcessor runs the per-account fetch/classify/persist pipeline.
type AccountProcessor interface {
	Process(ctx context.Context, account models.Account) processor.Result
}

// Flusher runs the per-account notification decision.
type Flusher interface {
	Flush(ctx context.Context, account models.Account, pref models.Preference) coordinator.FlushResult
}

// Scheduler is the root batch driver.
type Scheduler struct {
	source  AccountSource
	proc    AccountProcessor
	flusher Flusher

	interval     time.Duration
	startupDelay time.Duration

	// running is the single-flight guard: idle (false) <-> running (true),
	// transitioned by compare-and-swap so the guarantee holds even if a
	// manual trigger races the ticker.
	running atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config holds the scheduler's collaborators and cadence.
type Config struct {
	Source       AccountSource
	Processor    AccountProcessor
	Flusher      Flusher
	Interval     time.Duration
	StartupDelay time.Duration
}

// New creates a batch scheduler.
func New(cfg Config) *Scheduler {
	return &Scheduler{
		source:       cfg.Source,
		proc:         cfg.Processor,
		flusher:      cfg.Flusher,
		interval:     cfg.Interval,
		startupDelay: cfg.StartupDelay,
	}
}

// RunOnce executes a single batch pass over all active accounts. Returns
// false when another run was already in flight (the pass is skipped, not
// queued).
func (s *Scheduler) RunOnce(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		slog.Info("previous batch still running, skipping")
		return false
	}
	defer s.running.Store(false)

	runID := uuid.New().String()
	start := time.Now()

	accounts, err := s.source.ListActive(ctx)
	if err != nil {
		slog.Error("listing active accounts failed", "run_id", runID, "error", err)
		return true
	}

	slog.Info("batch run starting",
		"run_id", runID,
		"accounts", len(accounts),
	)

	for _, account := range accounts {
		s.runAccount(ctx, runID, account)
	}

	slog.Info("batch run complete",
		"run_id", runID,
		"accounts", len(accounts),
		"elapsed", time.Since(start),
	)

	return true
}

// runAccount processes and flushes one account, isolating any failure —
// including a panic — so siblings in the same run are unaffected.
func (s *Scheduler) runAccount(ctx context.Context, runID string, account models.Account) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("account processing panicked",
				"run_id", runID,
				"account", account.Email,
				"panic", fmt.Sprintf("%v", r),
			)
		}
	}()

	result := s.proc.Process(ctx, account)
	slog.Info("account processed",
		"run_id", runID,
		"account", account.Email,
		"fetched", result.Fetched,
		"classified", result.Classified,
		"important", result.Important,
	)
	for _, e := range result.Errors {
		slog.Error("account processing error",
			"run_id", runID,
			"account", account.Email,
			"error", e,
		)
	}

	pref, err := s.source.PreferenceFor(ctx, account.TenantID)
	if err != nil {
		slog.Error("loading preferences failed, using defaults",
			"run_id", runID,
			"tenant_id", account.TenantID,
			"error", err,
		)
		pref = models.DefaultPreference(account.TenantID)
	}

	flush := s.flusher.Flush(ctx, account, pref)
	if flush.Delivered || flush.Retired > 0 {
		slog.Info("account flushed",
			"run_id", runID,
			"account", account.Email,
			"delivered", flush.Delivered,
			"notified", flush.Notified,
			"retired", flush.Retired,
		)
	}
}

// TriggerRunNow requests a manual run, subject to the same single-flight
// guard as the cadence. Returns false if a run was already in flight.
func (s *Scheduler) TriggerRunNow(ctx context.Context) bool {
	return s.RunOnce(ctx)
}

// Start launches the cadence loop: one delayed initial run, then a run per
// tick. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		// Initial run shortly after startup, once dependencies settle.
		select {
		case <-loopCtx.Done():
			return
		case <-time.After(s.startupDelay):
			s.RunOnce(loopCtx)
		}

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.RunOnce(loopCtx)
			}
		}
	}()

	slog.Info("batch scheduler started",
		"interval", s.interval,
		"startup_delay", s.startupDelay,
	)
}

// Stop shuts down the cadence loop and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}
