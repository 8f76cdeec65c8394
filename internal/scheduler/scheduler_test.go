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

package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aimailer/dispatch/internal/coordinator"
	"github.com/aimailer/dispatch/internal/models"
	"github.com/aimailer/dispatch/internal/processor"
)

type mockSource struct {
	accounts []models.Account
}

func (m *mockSource) ListActive(ctx context.Context) ([]models.Account, error) {
	return m.accounts, nil
}

func (m *mockSource) PreferenceFor(ctx context.Context, tenantID int64) (models.Preference, error) {
	return models.DefaultPreference(tenantID), nil
}

type mockProcessor struct {
	mu        sync.Mutex
	processed []int64
	block     chan struct{} // when set, Process waits until closed
	panicOn   int64
}

func (m *mockProcessor) Process(ctx context.Context, account models.Account) processor.Result {
	if m.block != nil {
		<-m.block
	}
	if m.panicOn != 0 && account.ID == m.panicOn {
		panic("mailbox reader returned garbage")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed = append(m.processed, account.ID)
	return processor.Result{Fetched: 1, Classified: 1}
}

type mockFlusher struct {
	mu      sync.Mutex
	flushed []int64
}

func (m *mockFlusher) Flush(ctx context.Context, account models.Account, pref models.Preference) coordinator.FlushResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushed = append(m.flushed, account.ID)
	return coordinator.FlushResult{}
}

func accounts(ids ...int64) []models.Account {
	var out []models.Account
	for _, id := range ids {
		out = append(out, models.Account{ID: id, TenantID: id, Email: "a@example.com", Active: true})
	}
	return out
}

// TestRunOnce verifies every active account is processed and flushed.
func TestRunOnce(t *testing.T) {
	proc := &mockProcessor{}
	flusher := &mockFlusher{}
	s := New(Config{
		Source:    &mockSource{accounts: accounts(1, 2, 3)},
		Processor: proc,
		Flusher:   flusher,
	})

	if !s.RunOnce(context.Background()) {
		t.Fatal("RunOnce should report the pass ran")
	}

	if len(proc.processed) != 3 {
		t.Errorf("processed %v, want 3 accounts", proc.processed)
	}
	if len(flusher.flushed) != 3 {
		t.Errorf("flushed %v, want 3 accounts", flusher.flushed)
	}
}

// TestRunOnce_SingleFlight verifies a concurrent trigger is skipped, not
// queued.
func TestRunOnce_SingleFlight(t *testing.T) {
	block := make(chan struct{})
	proc := &mockProcessor{block: block}
	s := New(Config{
		Source:    &mockSource{accounts: accounts(1)},
		Processor: proc,
		Flusher:   &mockFlusher{},
	})

	done := make(chan bool)
	go func() {
		done <- s.RunOnce(context.Background())
	}()

	// Wait until the first run is inside Process.
	deadline := time.After(2 * time.Second)
	for !s.running.Load() {
		select {
		case <-deadline:
			t.Fatal("first run never started")
		case <-time.After(time.Millisecond):
		}
	}

	if s.TriggerRunNow(context.Background()) {
		t.Error("second trigger should be skipped while a run is in flight")
	}

	close(block)
	if !<-done {
		t.Error("first run should report it ran")
	}

	if len(proc.processed) != 1 {
		t.Errorf("processed %v, want exactly one pass", proc.processed)
	}
}

// TestRunOnce_PanicIsolation verifies one account's panic does not abort the
// rest of the run.
func TestRunOnce_PanicIsolation(t *testing.T) {
	proc := &mockProcessor{panicOn: 2}
	flusher := &mockFlusher{}
	s := New(Config{
		Source:    &mockSource{accounts: accounts(1, 2, 3)},
		Processor: proc,
		Flusher:   flusher,
	})

	s.RunOnce(context.Background())

	if len(proc.processed) != 2 {
		t.Errorf("processed %v, accounts 1 and 3 should survive account 2's panic", proc.processed)
	}
	for _, id := range flusher.flushed {
		if id == 2 {
			t.Error("the panicked account must not reach the flush step")
		}
	}
	if len(flusher.flushed) != 2 {
		t.Errorf("flushed %v, want accounts 1 and 3", flusher.flushed)
	}
}

// TestStartStop verifies the cadence loop runs the initial pass and shuts
// down cleanly.
func TestStartStop(t *testing.T) {
	proc := &mockProcessor{}
	s := New(Config{
		Source:       &mockSource{accounts: accounts(1)},
		Processor:    proc,
		Flusher:      &mockFlusher{},
		Interval:     time.Hour,
		StartupDelay: 10 * time.Millisecond,
	})

	s.Start(context.Background())

	deadline := time.After(2 * time.Second)
	for {
		proc.mu.Lock()
		n := len(proc.processed)
		proc.mu.Unlock()
		if n >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("initial run never happened")
		case <-time.After(5 * time.Millisecond):
		}
	}

	s.Stop()

	proc.mu.Lock()
	n := len(proc.processed)
	proc.mu.Unlock()
	if n != 1 {
		t.Errorf("expected exactly the initial run before Stop, got %d", n)
	}
}
