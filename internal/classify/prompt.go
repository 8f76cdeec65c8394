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

package classify

import (
	"fmt"
	"strings"

	"github.com/aimailer/dispatch/internal/models"
)

// buildPrompt renders the analysis instructions for one message, folding in
// the tenant's classification hints.
func buildPrompt(msg models.FetchedMessage, pref models.Preference) string {
	body := msg.Body
	truncated := ""
	if runes := []rune(body); len(runes) > maxBodyChars {
		body = string(runes[:maxBodyChars])
		truncated = " ..."
	}

	var custom strings.Builder
	if pref.PersonalName != "" {
		fmt.Fprintf(&custom, "\n- Mail mentioning %q is addressed to the user personally; rate it high.", pref.PersonalName)
	}
	if pref.CompanyName != "" {
		fmt.Fprintf(&custom, "\n- Mail mentioning the company %q deserves a higher tier.", pref.CompanyName)
	}
	if keywords := splitKeywords(pref.AdditionalKeywords); len(keywords) > 0 {
		fmt.Fprintf(&custom, "\n- Raise the tier when any of these keywords appear: %s.", strings.Join(keywords, ", "))
	}
	if pref.IgnorePromotions {
		custom.WriteString("\n- Promotional mail, newsletters, and advertising are spam.")
	}
	if pref.IgnoreSales {
		custom.WriteString("\n- Unsolicited sales and recruitment mail is spam.")
	}
	if pref.CustomPrompt != "" {
		fmt.Fprintf(&custom, "\n\nAdditional tenant instructions:\n%s", pref.CustomPrompt)
	}

	replyRule := "Set needsReply to yes, no, or unknown, and when yes, draft a short courteous reply in replySuggestion."
	if !pref.DetectReplyNeeded {
		replyRule = "Set needsReply to unknown and leave replyReason and replySuggestion empty."
	}

	return fmt.Sprintf(`You are a diligent executive assistant. Analyse the mail below and report back.

Sender address: %s
Subject: %s
Body:
%s%s

Answer with exactly this JSON shape:
{
  "summary": "one or two sentence report of what the mail wants",
  "importance": "high/medium/low/spam",
  "senderName": "the sender's personal name, extracted from the mail",
  "needsReply": "yes/no/unknown",
  "replyReason": "why a reply is needed",
  "replySuggestion": "a draft reply, only when needsReply is yes"
}

Rules:
- importance must be one of high, medium, low, spam.
- %s%s`,
		msg.Sender, msg.Subject, body, truncated, replyRule, custom.String())
}

func splitKeywords(raw string) []string {
	var out []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
