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
	"fmt"
	"strings"

	"github.com/aimailer/dispatch/internal/models"
)

// maxMessageLength is the chat API message cap with a safety margin; digests
// past this length fall back to the compact format.
const maxMessageLength = 3500

var circledNumbers = []string{
	"①", "②", "③", "④", "⑤", "⑥", "⑦", "⑧", "⑨", "⑩", "⑪", "⑫", "⑬", "⑭", "⑮",
}

func circled(n int) string {
	if n >= 1 && n <= len(circledNumbers) {
		return circledNumbers[n-1]
	}
	return fmt.Sprintf("(%d)", n)
}

// displayName prefers the classified sender name, falling back to the
// address local part.
func displayName(r models.MessageRecord) string {
	if r.SenderName != "" {
		return r.SenderName
	}
	if at := strings.IndexByte(r.Sender, '@'); at > 0 {
		return r.Sender[:at]
	}
	return r.Sender
}

// groupRecords splits the notify-set into the digest's three sections.
func groupRecords(records []models.MessageRecord) (needsReply, confirmOnly, suppressed []models.MessageRecord) {
	for _, r := range records {
		switch {
		case r.NeedsReply == models.ReplyYes && r.Tier != models.TierSpam:
			needsReply = append(needsReply, r)
		case r.Tier == models.TierHigh || r.Tier == models.TierMedium:
			confirmOnly = append(confirmOnly, r)
		default:
			suppressed = append(suppressed, r)
		}
	}
	return
}

// BuildDigest renders the assistant-style digest for one delivery. totalCount
// is the full filtered backlog; skippedCount is how many older messages were
// cut by the per-delivery cap. Falls back to the compact format when the full
// digest exceeds the message cap.
func BuildDigest(records []models.MessageRecord, accountEmail string, totalCount, skippedCount int, includeReplySuggestion bool) string {
	body := buildFullDigest(records, accountEmail, totalCount, skippedCount, includeReplySuggestion)
	if len(body) > maxMessageLength {
		return buildCompactDigest(records, accountEmail, totalCount, skippedCount)
	}
	return body
}

func buildFullDigest(records []models.MessageRecord, accountEmail string, totalCount, skippedCount int, includeReplySuggestion bool) string {
	needsReply, confirmOnly, suppressed := groupRecords(records)
	importantCount := len(needsReply) + len(confirmOnly)

	var b strings.Builder
	fmt.Fprintf(&b, "[info][title]📧 %s[/title]", accountEmail)
	fmt.Fprintf(&b, "You have %d new message(s). ", totalCount)
	if importantCount > 0 {
		fmt.Fprintf(&b, "%d of them look worth your attention:\n", importantCount)
	} else {
		b.WriteString("None of them look important.\n")
	}

	item := 1
	for _, r := range needsReply {
		fmt.Fprintf(&b, "\n%sFrom: %s\n", circled(item), displayName(r))
		fmt.Fprintf(&b, "　Summary: %s\n", r.Summary)
		if includeReplySuggestion && r.ReplySuggestion != "" {
			suggestion := strings.ReplaceAll(r.ReplySuggestion, "\n", " ")
			fmt.Fprintf(&b, "\n　Suggested reply: %s\n", suggestion)
		}
		item++
	}

	for _, r := range confirmOnly {
		fmt.Fprintf(&b, "\n%sFrom: %s\n", circled(item), displayName(r))
		fmt.Fprintf(&b, "　Summary: %s\n", r.Summary)
		b.WriteString("\n　(for your information, no reply needed)\n")
		item++
	}

	if len(suppressed) > 0 {
		fmt.Fprintf(&b, "\n%d promotional or low-priority message(s) omitted.\n", len(suppressed))
	}
	if skippedCount > 0 {
		fmt.Fprintf(&b, "\n%d older message(s) omitted.\n", skippedCount)
	}

	b.WriteString("\nThat is all for now.[/info]")
	return b.String()
}

// buildCompactDigest is the fallback when the full digest would exceed the
// chat API message cap: headline counts plus the single most urgent item.
func buildCompactDigest(records []models.MessageRecord, accountEmail string, totalCount, skippedCount int) string {
	needsReply, confirmOnly, suppressed := groupRecords(records)
	importantCount := len(needsReply) + len(confirmOnly)

	var b strings.Builder
	fmt.Fprintf(&b, "[info][title]📧 %s[/title]", accountEmail)
	fmt.Fprintf(&b, "You have %d new message(s), %d worth your attention.\n", totalCount, importantCount)

	if len(needsReply) > 0 {
		top := needsReply[0]
		subject := top.Subject
		if runes := []rune(subject); len(runes) > 40 {
			subject = string(runes[:40]) + "..."
		}
		fmt.Fprintf(&b, "\n①From: %s\n", displayName(top))
		fmt.Fprintf(&b, "　Subject: %s\n", subject)
		if len(needsReply) > 1 {
			fmt.Fprintf(&b, "　...and %d more awaiting a reply\n", len(needsReply)-1)
		}
	}
	if len(confirmOnly) > 0 {
		fmt.Fprintf(&b, "\nFor your information: %d message(s)\n", len(confirmOnly))
	}
	if len(suppressed) > 0 {
		fmt.Fprintf(&b, "Promotional: %d message(s) omitted\n", len(suppressed))
	}
	if skippedCount > 0 {
		fmt.Fprintf(&b, "\n%d older message(s) omitted\n", skippedCount)
	}

	b.WriteString("\nSee the web console for details.[/info]")
	return b.String()
}

// BuildEmptyDigest renders the nothing-to-report notification.
func BuildEmptyDigest(accountEmail string) string {
	return fmt.Sprintf("[info][title]📧 %s[/title]No important mail at the moment.[/info]", accountEmail)
}
