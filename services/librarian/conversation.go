// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package librarian

import (
	"log/slog"

	"github.com/AleutianAI/librarian/services/llm"
)

// approxConversationTokens estimates the token footprint of a history.
func approxConversationTokens(messages []llm.ChatMessage) int {
	total := 0
	for _, m := range messages {
		total += llm.EstimateTokens(m.Content)
		for _, tc := range m.ToolCalls {
			total += llm.EstimateTokens(tc.Name) + llm.EstimateTokens(string(tc.Arguments))
		}
	}
	return total
}

// TrimToBudget bounds a conversation history to an approximate token budget.
//
// Description:
//
//	Operates on the history WITHOUT the system turn; the session
//	re-prepends the system prompt on every model call, so it is never
//	counted or trimmed here. When over budget, the oldest turns are
//	dropped and the most recent suffix kept. The pair repair pass runs
//	unconditionally, because trimming can orphan tool turns from the
//	assistant turn that requested them, and an untrimmed history can
//	already be malformed if a previous step appended partial results.
//
// Inputs:
//   - messages: History in order, no system turn.
//   - budget: Approximate token budget. Non-positive keeps only the
//     repair pass.
//
// Outputs:
//   - []llm.ChatMessage: The trimmed, repaired history. Never nil for
//     non-nil input with surviving turns; may be empty.
func TrimToBudget(messages []llm.ChatMessage, budget int) []llm.ChatMessage {
	kept := messages
	if budget > 0 && approxConversationTokens(messages) > budget {
		// Keep the largest suffix that fits. The most recent turn is
		// always kept even if it alone exceeds the budget, so the model
		// never loses the latest exchange entirely.
		total := 0
		start := len(messages)
		for i := len(messages) - 1; i >= 0; i-- {
			turnCost := approxConversationTokens(messages[i : i+1])
			if start < len(messages) && total+turnCost > budget {
				break
			}
			total += turnCost
			start = i
		}
		kept = messages[start:]
		slog.Debug("trimmed conversation window",
			slog.Int("dropped_turns", start),
			slog.Int("kept_turns", len(kept)),
		)
	}
	return repairToolPairs(kept)
}

// repairToolPairs drops tool turns that lost their requesting assistant turn.
//
// Description:
//
//	A tool turn is valid only while the closest preceding assistant turn
//	carries a tool call with a matching id, with nothing but other tool
//	turns in between. Any turn that is not a tool turn resets the active
//	id set. Idempotent: repairing a repaired history changes nothing.
func repairToolPairs(messages []llm.ChatMessage) []llm.ChatMessage {
	out := make([]llm.ChatMessage, 0, len(messages))
	active := map[string]bool{}

	for _, m := range messages {
		switch {
		case m.Role == "tool":
			if !active[m.ToolCallID] {
				slog.Debug("dropped orphaned tool turn", slog.String("tool_call_id", m.ToolCallID))
				continue
			}
			out = append(out, m)
		case m.Role == "assistant" && len(m.ToolCalls) > 0:
			active = make(map[string]bool, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				active[tc.ID] = true
			}
			out = append(out, m)
		default:
			active = map[string]bool{}
			out = append(out, m)
		}
	}
	return out
}
