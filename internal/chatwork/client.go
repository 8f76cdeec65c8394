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

// Package chatwork delivers message digests to chat rooms. Delivery reports
// a plain boolean: the coordinator only ever needs to know whether the mark
// sent transition may proceed. A circuit breaker sheds calls while the chat
// API is failing so a dead endpoint cannot stall the whole batch.
package chatwork

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Client posts messages to the chat API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiToken   string
	breaker    *gobreaker.CircuitBreaker[*http.Response]
}

// NewClient creates a chat delivery client.
func NewClient(baseURL, apiToken string) *Client {
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "chatwork",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiToken:   apiToken,
		breaker:    cb,
	}
}

// Send posts one message body to a room and reports success. All failure
// modes (network error, non-2xx, open breaker) log and return false; the
// caller treats false as "leave everything pending and retry next run".
func (c *Client) Send(ctx context.Context, roomID, body string) bool {
	if c.apiToken == "" || roomID == "" || body == "" {
		slog.Warn("chat delivery skipped, missing token, room, or body", "room", roomID)
		return false
	}

	form := url.Values{}
	form.Set("body", body)

	endpoint := fmt.Sprintf("%s/rooms/%s/messages", c.baseURL, roomID)

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, fmt.Errorf("build chat request: %w", err)
		}
		req.Header.Set("X-ChatworkToken", c.apiToken)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("chat call: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			respBody, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, fmt.Errorf("chat API returned HTTP %d: %s", resp.StatusCode, string(respBody))
		}
		return resp, nil
	})
	if err != nil {
		slog.Error("chat delivery failed", "room", roomID, "error", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	slog.Info("chat message delivered", "room", roomID, "chars", len(body))
	return true
}
