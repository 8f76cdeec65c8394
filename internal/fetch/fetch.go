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

// Package fetch invokes the external mailbox-reader command and decodes its
// JSON result. The reader is a black box: it receives connection parameters
// and a watermark, and prints {success, emails, count, error} on stdout.
// Fetch-level failures are reported inside the result, never as a Go error,
// so a bad mailbox can never crash a batch run.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/aimailer/dispatch/internal/models"
)

// maxOutputBytes caps the reader's stdout to guard against a runaway
// subprocess filling memory.
const maxOutputBytes = 10 * 1024 * 1024

// pipeWaitDelay bounds how long Run waits for the reader's pipes after the
// timeout killed it. A descendant of the reader can inherit stdout and hold
// it open past the reader's own death; without this bound, Run blocks until
// that descendant exits and the batch never finishes.
const pipeWaitDelay = 2 * time.Second

// Runner executes the mailbox-reader subprocess.
type Runner struct {
	// command is the executable plus leading arguments, e.g.
	// ["python3", "./scripts/imap_client.py"].
	command []string
	timeout time.Duration
}

// NewRunner creates a fetch runner from a command line string and a
// per-invocation timeout.
func NewRunner(command string, timeout time.Duration) *Runner {
	return &Runner{
		command: strings.Fields(command),
		timeout: timeout,
	}
}

// Fetch retrieves messages newer than the account's watermark. A nil
// watermark means full history (watermark argument 0).
func (r *Runner) Fetch(ctx context.Context, account models.Account) models.FetchResult {
	if len(r.command) == 0 {
		return failure("fetch command not configured")
	}

	var watermarkMillis int64
	if account.Watermark != nil {
		watermarkMillis = account.Watermark.UnixMilli()
	}

	args := append(r.command[1:],
		account.IMAPHost,
		strconv.Itoa(account.IMAPPort),
		account.IMAPUsername,
		account.IMAPPassword,
		strconv.FormatInt(watermarkMillis, 10),
	)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.command[0], args...)
	cmd.WaitDelay = pipeWaitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdout, remaining: maxOutputBytes}
	cmd.Stderr = &stderr

	slog.Info("fetching mailbox",
		"account", account.Email,
		"watermark_millis", watermarkMillis,
	)

	if err := cmd.Run(); err != nil {
		slog.Error("mailbox reader failed",
			"account", account.Email,
			"error", err,
			"stderr", truncate(stderr.String(), 512),
		)
		return failure("mailbox reader: " + err.Error())
	}

	if stderr.Len() > 0 {
		slog.Debug("mailbox reader stderr",
			"account", account.Email,
			"stderr", truncate(stderr.String(), 512),
		)
	}

	var result models.FetchResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		slog.Error("mailbox reader output unparseable",
			"account", account.Email,
			"error", err,
		)
		return failure("decode reader output: " + err.Error())
	}

	slog.Info("mailbox fetch complete",
		"account", account.Email,
		"count", result.Count,
		"success", result.Success,
	)

	return result
}

func failure(msg string) models.FetchResult {
	return models.FetchResult{Success: false, Error: msg}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// limitedWriter discards bytes past the configured limit.
type limitedWriter struct {
	w         *bytes.Buffer
	remaining int
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if l.remaining > 0 {
		if len(p) > l.remaining {
			p = p[:l.remaining]
		}
		l.w.Write(p)
		l.remaining -= len(p)
	}
	return n, nil
}
