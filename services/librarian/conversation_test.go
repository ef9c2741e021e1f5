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
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/AleutianAI/librarian/services/llm"
)

func assistantWithCall(id, name string) llm.ChatMessage {
	return llm.ChatMessage{
		Role: "assistant",
		ToolCalls: []llm.ToolCallResponse{
			{ID: id, Name: name, Arguments: json.RawMessage(`{}`)},
		},
	}
}

func toolTurn(id, content string) llm.ChatMessage {
	return llm.ChatMessage{Role: "tool", Content: content, ToolCallID: id}
}

func TestTrimToBudget_UnderBudgetUnchanged(t *testing.T) {
	history := []llm.ChatMessage{
		{Role: "user", Content: "find the upload action"},
		assistantWithCall("call_1", "search_keywords"),
		toolTurn("call_1", "one match"),
		{Role: "assistant", Content: "done"},
	}

	got := TrimToBudget(history, 100000)
	if !reflect.DeepEqual(got, history) {
		t.Errorf("well-formed under-budget history must pass through unchanged")
	}
}

func TestTrimToBudget_DropsOldestFirst(t *testing.T) {
	long := strings.Repeat("x", 400) // ~100 tokens per turn
	history := []llm.ChatMessage{
		{Role: "user", Content: long},
		{Role: "assistant", Content: long},
		{Role: "user", Content: long},
		{Role: "assistant", Content: "recent answer"},
	}

	got := TrimToBudget(history, 150)
	if len(got) == 0 || len(got) >= len(history) {
		t.Fatalf("expected a strict suffix, got %d of %d turns", len(got), len(history))
	}
	if got[len(got)-1].Content != "recent answer" {
		t.Errorf("most recent turn must survive: %+v", got)
	}
	if approxConversationTokens(got) > 150 {
		t.Errorf("kept suffix exceeds budget: %d tokens", approxConversationTokens(got))
	}
}

func TestTrimToBudget_SingleOversizedTurnKept(t *testing.T) {
	history := []llm.ChatMessage{
		{Role: "assistant", Content: strings.Repeat("y", 4000)},
	}
	got := TrimToBudget(history, 10)
	if len(got) != 1 {
		t.Fatalf("latest turn must always be kept, got %d turns", len(got))
	}
}

func TestTrimToBudget_RepairsOrphanedToolTurn(t *testing.T) {
	long := strings.Repeat("x", 4000)
	history := []llm.ChatMessage{
		assistantWithCall("call_1", "search_keywords"),
		{Role: "user", Content: long}, // forces the assistant turn out of the window
		toolTurn("call_1", "stale result"),
	}

	got := TrimToBudget(history, 900)
	for _, m := range got {
		if m.Role == "tool" {
			t.Errorf("tool turn survived without its requesting assistant turn: %+v", got)
		}
	}
}

func TestRepairToolPairs_DropsUnmatchedID(t *testing.T) {
	history := []llm.ChatMessage{
		assistantWithCall("call_1", "search_keywords"),
		toolTurn("call_1", "match"),
		toolTurn("call_999", "imposter"),
	}

	got := repairToolPairs(history)
	if len(got) != 2 {
		t.Fatalf("expected imposter tool turn dropped, got %+v", got)
	}
	if got[1].ToolCallID != "call_1" {
		t.Errorf("matching tool turn must be kept: %+v", got)
	}
}

func TestRepairToolPairs_NonToolTurnResetsWindow(t *testing.T) {
	history := []llm.ChatMessage{
		assistantWithCall("call_1", "search_keywords"),
		{Role: "assistant", Content: "changed my mind"},
		toolTurn("call_1", "late result"),
	}

	got := repairToolPairs(history)
	for _, m := range got {
		if m.Role == "tool" {
			t.Errorf("tool turn after an interposed assistant turn must be dropped: %+v", got)
		}
	}
}

func TestRepairToolPairs_MultipleToolTurnsOneAssistant(t *testing.T) {
	history := []llm.ChatMessage{
		{
			Role: "assistant",
			ToolCalls: []llm.ToolCallResponse{
				{ID: "call_1", Name: "search_keywords", Arguments: json.RawMessage(`{}`)},
				{ID: "call_2", Name: "list_files", Arguments: json.RawMessage(`{}`)},
			},
		},
		toolTurn("call_1", "a"),
		toolTurn("call_2", "b"),
	}

	got := repairToolPairs(history)
	if !reflect.DeepEqual(got, history) {
		t.Errorf("sibling tool turns from one assistant turn must all be kept")
	}
}

func TestRepairToolPairs_Idempotent(t *testing.T) {
	histories := [][]llm.ChatMessage{
		{
			toolTurn("call_0", "orphan at start"),
			assistantWithCall("call_1", "search_keywords"),
			toolTurn("call_1", "ok"),
			toolTurn("call_2", "wrong id"),
			{Role: "user", Content: "next"},
			toolTurn("call_1", "stale"),
		},
		{},
		{{Role: "user", Content: "just text"}},
	}

	for i, h := range histories {
		once := repairToolPairs(h)
		twice := repairToolPairs(once)
		if !reflect.DeepEqual(once, twice) {
			t.Errorf("case %d: repair not idempotent:\nonce:  %+v\ntwice: %+v", i, once, twice)
		}
	}
}
