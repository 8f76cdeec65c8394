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

package chatwork

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/aimailer/dispatch/internal/models"
)

func record(sender, senderName, summary string, tier models.Tier, needsReply string) models.MessageRecord {
	return models.MessageRecord{
		Sender:     sender,
		SenderName: senderName,
		Subject:    "Subject of " + sender,
		Summary:    summary,
		Tier:       tier,
		NeedsReply: needsReply,
	}
}

// TestBuildDigest verifies section grouping and numbering of the full digest.
func TestBuildDigest(t *testing.T) {
	records := []models.MessageRecord{
		record("alice@example.com", "Alice", "Asks for the renewed contract.", models.TierHigh, models.ReplyYes),
		record("bob@example.com", "", "Server maintenance window announced.", models.TierMedium, models.ReplyNo),
	}

	body := BuildDigest(records, "me@example.com", 2, 0, false)

	if !strings.Contains(body, "[info][title]📧 me@example.com[/title]") {
		t.Error("digest missing account title")
	}
	if !strings.Contains(body, "You have 2 new message(s). 2 of them look worth your attention") {
		t.Errorf("digest missing headline: %q", body)
	}
	if !strings.Contains(body, "①From: Alice") {
		t.Error("reply-needed item should come first with circled numbering")
	}
	if !strings.Contains(body, "②From: bob") {
		t.Error("confirm-only item should fall back to the address local part")
	}
	if !strings.Contains(body, "(for your information, no reply needed)") {
		t.Error("confirm-only marker missing")
	}
	if strings.Contains(body, "Suggested reply") {
		t.Error("reply suggestion rendered despite being disabled")
	}
}

// TestBuildDigest_ReplySuggestion verifies the suggestion line when enabled.
func TestBuildDigest_ReplySuggestion(t *testing.T) {
	r := record("alice@example.com", "Alice", "Asks for the contract.", models.TierHigh, models.ReplyYes)
	r.ReplySuggestion = "Thank you,\nI will send it today."

	body := BuildDigest([]models.MessageRecord{r}, "me@example.com", 1, 0, true)

	if !strings.Contains(body, "Suggested reply: Thank you, I will send it today.") {
		t.Errorf("suggestion missing or newlines not flattened: %q", body)
	}
}

// TestBuildDigest_OmittedCounts verifies suppressed and capped footers.
func TestBuildDigest_OmittedCounts(t *testing.T) {
	records := []models.MessageRecord{
		record("alice@example.com", "Alice", "Important.", models.TierHigh, models.ReplyYes),
		record("shop@example.com", "", "Sale ends today.", models.TierLow, models.ReplyNo),
	}

	body := BuildDigest(records, "me@example.com", 5, 3, false)

	if !strings.Contains(body, "1 promotional or low-priority message(s) omitted.") {
		t.Errorf("suppressed footer missing: %q", body)
	}
	if !strings.Contains(body, "3 older message(s) omitted.") {
		t.Errorf("capped footer missing: %q", body)
	}
	if !strings.Contains(body, "You have 5 new message(s)") {
		t.Error("headline should use the full backlog count")
	}
}

// TestBuildDigest_CompactFallback verifies long digests fall back to the
// compact format and stay under the message cap.
func TestBuildDigest_CompactFallback(t *testing.T) {
	longSummary := strings.Repeat("A very long summary line. ", 40)
	var records []models.MessageRecord
	for i := 0; i < 15; i++ {
		records = append(records, record("alice@example.com", "Alice", longSummary, models.TierHigh, models.ReplyYes))
	}

	body := BuildDigest(records, "me@example.com", 15, 0, true)

	if len(body) > maxMessageLength {
		t.Errorf("digest length %d exceeds cap %d", len(body), maxMessageLength)
	}
	if !strings.Contains(body, "See the web console for details.") {
		t.Error("expected the compact format")
	}
	if !strings.Contains(body, "...and 14 more awaiting a reply") {
		t.Errorf("compact format should count remaining reply-needed items: %q", body)
	}
}

// TestBuildDigest_CompactSubjectRunes verifies subject truncation in the
// compact format never splits a multi-byte character.
func TestBuildDigest_CompactSubjectRunes(t *testing.T) {
	longSummary := strings.Repeat("A very long summary line. ", 40)
	var records []models.MessageRecord
	for i := 0; i < 15; i++ {
		records = append(records, record("alice@example.com", "Alice", longSummary, models.TierHigh, models.ReplyYes))
	}
	records[0].Subject = strings.Repeat("領収書の件につきまして", 8)

	body := BuildDigest(records, "me@example.com", 15, 0, true)

	if !strings.Contains(body, "See the web console for details.") {
		t.Fatal("expected the compact format")
	}
	if !utf8.ValidString(body) {
		t.Error("digest contains invalid UTF-8")
	}
	want := string([]rune(records[0].Subject)[:40]) + "..."
	if !strings.Contains(body, want) {
		t.Errorf("subject not truncated on a character boundary: %q", body)
	}
}

// TestCircled verifies numbering past the circled glyph range.
func TestCircled(t *testing.T) {
	if circled(1) != "①" || circled(15) != "⑮" {
		t.Error("circled glyphs wrong for in-range items")
	}
	if circled(16) != "(16)" {
		t.Errorf("circled(16) = %q", circled(16))
	}
}

// TestBuildEmptyDigest verifies the nothing-to-report notification.
func TestBuildEmptyDigest(t *testing.T) {
	body := BuildEmptyDigest("me@example.com")
	if !strings.Contains(body, "me@example.com") || !strings.Contains(body, "No important mail") {
		t.Errorf("empty digest = %q", body)
	}
}
