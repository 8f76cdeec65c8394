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

// Package classify calls the LLM classification gateway to assign each
// message an importance tier, a summary, and a reply-need verdict. The
// caller substitutes a conservative default when classification fails;
// nothing in this package is allowed to drop a message.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/aimailer/dispatch/internal/config"
	"github.com/aimailer/dispatch/internal/models"
)

// maxBodyChars caps how much of the message body is sent to the gateway.
// Counted in runes, so truncation never splits a multi-byte character.
const maxBodyChars = 3000

// selfSenderMarkers identify this service's own outbound notifications. Mail
// from the notifier must never be re-notified, so it classifies as spam
// locally without a gateway call.
var selfSenderMarkers = []string{"aimail", "ai-mail", "auto-mailer"}

// Client calls the classification gateway.
type Client struct {
	httpClient *http.Client
	baseURL    string
	model      string
	apiKey     string
}

// NewClient creates a classifier client. When OAuth2 client credentials are
// configured the HTTP client carries the token transport; otherwise requests
// authenticate with the static API key.
func NewClient(ctx context.Context, cfg config.ClassifierConfig) *Client {
	httpClient := &http.Client{Timeout: 60 * time.Second}

	if cfg.ClientID != "" && cfg.ClientSecret != "" && cfg.TokenURL != "" {
		creds := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		httpClient = creds.Client(ctx)
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
	}
}

// generateRequest is the gateway request body.
type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	ResponseMimeType string `json:"responseMimeType"`
}

// generateResponse is the gateway response envelope.
type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// verdict is the structured JSON the model is instructed to emit.
type verdict struct {
	Summary         string `json:"summary"`
	Importance      string `json:"importance"`
	SenderName      string `json:"senderName"`
	NeedsReply      string `json:"needsReply"`
	ReplyReason     string `json:"replyReason"`
	ReplySuggestion string `json:"replySuggestion"`
}

// Classify analyses one message under the tenant's preferences. Ignored
// senders and the service's own notifications short-circuit to spam without
// a gateway call.
func (c *Client) Classify(ctx context.Context, msg models.FetchedMessage, pref models.Preference, ignored []string) (models.Classification, error) {
	for _, s := range ignored {
		if strings.EqualFold(s, msg.Sender) {
			return models.Classification{
				Summary:    "Sender is on the suppression list",
				Tier:       models.TierSpam,
				SenderName: msg.Sender,
				NeedsReply: models.ReplyNo,
			}, nil
		}
	}

	lowerSender := strings.ToLower(msg.Sender)
	for _, marker := range selfSenderMarkers {
		if strings.Contains(lowerSender, marker) {
			return models.Classification{
				Summary:    "Own notification mail, ignored",
				Tier:       models.TierSpam,
				SenderName: "notifier",
				NeedsReply: models.ReplyNo,
			}, nil
		}
	}

	prompt := buildPrompt(msg, pref)

	reqBody := generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			ResponseMimeType: "application/json",
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return models.Classification{}, fmt.Errorf("marshal classify request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return models.Classification{}, fmt.Errorf("build classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-goog-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.Classification{}, fmt.Errorf("classify call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		slog.Error("classification gateway error",
			"status", resp.StatusCode,
			"body", string(body),
		)
		return models.Classification{}, fmt.Errorf("classification gateway returned HTTP %d", resp.StatusCode)
	}

	var envelope generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return models.Classification{}, fmt.Errorf("decode classify response: %w", err)
	}

	if len(envelope.Candidates) == 0 || len(envelope.Candidates[0].Content.Parts) == 0 {
		return models.Classification{}, fmt.Errorf("classification response has no candidates")
	}

	var v verdict
	if err := json.Unmarshal([]byte(envelope.Candidates[0].Content.Parts[0].Text), &v); err != nil {
		return models.Classification{}, fmt.Errorf("parse verdict JSON: %w", err)
	}

	tier, err := models.ParseTier(v.Importance)
	if err != nil {
		return models.Classification{}, fmt.Errorf("verdict: %w", err)
	}

	needsReply := v.NeedsReply
	switch needsReply {
	case models.ReplyYes, models.ReplyNo, models.ReplyUnknown:
	default:
		needsReply = models.ReplyUnknown
	}

	result := models.Classification{
		Summary:         v.Summary,
		Tier:            tier,
		SenderName:      v.SenderName,
		NeedsReply:      needsReply,
		ReplyReason:     v.ReplyReason,
		ReplySuggestion: v.ReplySuggestion,
	}

	slog.Debug("message classified",
		"message_id", msg.MessageID,
		"tier", tier,
		"needs_reply", needsReply,
	)

	return result, nil
}
