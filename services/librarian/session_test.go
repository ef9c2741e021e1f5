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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/AleutianAI/librarian/services/librarian/tools"
	"github.com/AleutianAI/librarian/services/llm"
)

// scriptedModel replays a fixed sequence of strict-path outcomes and
// records every request it receives.
type scriptedModel struct {
	strict  []strictStep
	raw     []rawStep
	seen    [][]llm.ChatMessage
	rawSeen int
}

type strictStep struct {
	result *llm.ChatWithToolsResult
	err    error
}

type rawStep struct {
	result *llm.RawResult
	err    error
}

func (m *scriptedModel) ChatWithTools(_ context.Context, messages []llm.ChatMessage,
	_ llm.GenerationParams, _ []llm.ToolDef) (*llm.ChatWithToolsResult, error) {
	m.seen = append(m.seen, messages)
	if len(m.strict) == 0 {
		return nil, fmt.Errorf("scripted model exhausted after %d calls", len(m.seen))
	}
	step := m.strict[0]
	m.strict = m.strict[1:]
	return step.result, step.err
}

func (m *scriptedModel) RawChatWithTools(_ context.Context, _ []llm.ChatMessage,
	_ llm.GenerationParams, _ []llm.ToolDef) (*llm.RawResult, error) {
	m.rawSeen++
	if len(m.raw) == 0 {
		return nil, errors.New("unexpected raw call")
	}
	step := m.raw[0]
	m.raw = m.raw[1:]
	return step.result, step.err
}

func (m *scriptedModel) Model() string { return "scripted-test-model" }

func toolCallStep(id, name, args string) strictStep {
	return strictStep{result: &llm.ChatWithToolsResult{
		Content: "Let me search the knowledge base.",
		ToolCalls: []llm.ToolCallResponse{
			{ID: id, Name: name, Arguments: json.RawMessage(args)},
		},
		StopReason: "tool_use",
	}}
}

func finalStep(content string) strictStep {
	return strictStep{result: &llm.ChatWithToolsResult{Content: content, StopReason: "end"}}
}

const finalCandidateReply = "The create action fits.\n```json\n" +
	`[{"aw_id": "aw_createProject", "aw_name": "创建项目", "parameters": [{"name": "projectName", "type": "string"}], "reason": "task asks to create a project"}]` +
	"\n```"

func newTestSession(t *testing.T, cfg Config, model ModelClient) *Session {
	t.Helper()
	lib, ranker := fiveRecordLibrary(t)
	reg := tools.NewRegistry(
		tools.NewListFilesTool(lib),
		tools.NewSearchKeywordsTool(lib),
		tools.NewSearchPatternTool(lib),
		tools.NewReadEntryTool(lib),
		tools.NewExtractMetadataTool(lib),
	)
	return NewSession(cfg, lib, reg, ranker, model, createProjectQuery())
}

func TestSession_ToolLoopThenCandidates(t *testing.T) {
	model := &scriptedModel{strict: []strictStep{
		toolCallStep("call_1", "search_keywords", `{"keywords": "create, 项目"}`),
		finalStep(finalCandidateReply),
	}}
	s := newTestSession(t, Config{TopN: 3}, model)

	got := s.Run(context.Background())
	if len(got) != 3 {
		t.Fatalf("got %d candidates, want 3", len(got))
	}
	if got[0].AWID != "aw_createProject" || got[0].Reason != "task asks to create a project" {
		t.Errorf("model candidate must lead: %+v", got[0])
	}

	if len(model.seen) != 2 {
		t.Fatalf("model called %d times, want 2", len(model.seen))
	}
	second := model.seen[1]
	if second[0].Role != "system" {
		t.Fatalf("first message must be the system turn, got %q", second[0].Role)
	}
	var sawAssistantCall, sawToolReport bool
	for _, m := range second[1:] {
		if m.Role == "assistant" && len(m.ToolCalls) == 1 && m.ToolCalls[0].ID == "call_1" {
			sawAssistantCall = true
		}
		if m.Role == "tool" && m.ToolCallID == "call_1" {
			sawToolReport = true
			if m.Content == "" {
				t.Error("tool turn has empty report")
			}
		}
	}
	if !sawAssistantCall || !sawToolReport {
		t.Errorf("second request missing replayed call or tool report: %+v", second)
	}
	if model.rawSeen != 0 {
		t.Errorf("raw path used %d times without a shape error", model.rawSeen)
	}
}

func TestSession_ShapeErrorRetriesRawPath(t *testing.T) {
	shapeErr := &llm.ArgumentShapeError{Tool: "search_keywords", Detail: "inline object arguments"}
	envelope := `[{"id": "call_raw", "function": {"name": "search_keywords", "arguments": {"keywords": "upload"}}}]`

	model := &scriptedModel{
		strict: []strictStep{
			{err: shapeErr},
			finalStep(finalCandidateReply),
		},
		raw: []rawStep{
			{result: &llm.RawResult{
				Content:   "Searching.",
				ToolCalls: json.RawMessage(envelope),
			}},
		},
	}
	s := newTestSession(t, Config{TopN: 1}, model)

	got := s.Run(context.Background())
	if model.rawSeen != 1 {
		t.Fatalf("raw path used %d times, want exactly 1", model.rawSeen)
	}
	if len(got) != 1 || got[0].AWID != "aw_createProject" {
		t.Fatalf("unexpected candidates: %+v", got)
	}
	// The recovered call must have produced a tool turn on the next request.
	second := model.seen[1]
	var sawToolReport bool
	for _, m := range second {
		if m.Role == "tool" && m.ToolCallID == "call_raw" {
			sawToolReport = true
		}
	}
	if !sawToolReport {
		t.Errorf("recovered tool call was not dispatched: %+v", second)
	}
}

func TestSession_ModelErrorDegradesToBackfill(t *testing.T) {
	model := &scriptedModel{strict: []strictStep{
		{err: errors.New("openai: chat request failed: connection refused")},
	}}
	s := newTestSession(t, Config{TopN: 3}, model)

	got := s.Run(context.Background())
	if len(got) != 3 {
		t.Fatalf("got %d candidates, want full backfill of 3", len(got))
	}
	for _, c := range got {
		if c.Reason != supplementedReason {
			t.Errorf("degraded query must produce supplemented candidates only: %+v", c)
		}
	}
}

func TestSession_RawPathFailureIsTerminal(t *testing.T) {
	model := &scriptedModel{
		strict: []strictStep{
			{err: &llm.ArgumentShapeError{Tool: "read_entry", Detail: "bad"}},
		},
		raw: []rawStep{
			{err: errors.New("openai: chat request failed: returned status 500")},
		},
	}
	s := newTestSession(t, Config{TopN: 2}, model)

	got := s.Run(context.Background())
	if len(model.seen) != 1 {
		t.Fatalf("strict path called %d times, want 1", len(model.seen))
	}
	if len(got) != 2 {
		t.Fatalf("got %d candidates, want backfill of 2", len(got))
	}
}

func TestSession_IterationCeiling(t *testing.T) {
	// Every reply requests another tool, so only the ceiling stops the loop.
	model := &scriptedModel{}
	for i := 0; i < 10; i++ {
		model.strict = append(model.strict,
			toolCallStep(fmt.Sprintf("call_%d", i), "list_files", `{}`))
	}
	s := newTestSession(t, Config{MaxIterations: 4, TopN: 3}, model)

	got := s.Run(context.Background())
	if len(model.seen) != 4 {
		t.Fatalf("model called %d times, want 4", len(model.seen))
	}
	if len(got) != 0 {
		t.Fatalf("ceiling termination must yield empty candidates, got %+v", got)
	}
}

func TestSession_NoMatchAnswer(t *testing.T) {
	model := &scriptedModel{strict: []strictStep{
		finalStep("Nothing in the knowledge base performs this task.\n```json\n[]\n```"),
	}}
	s := newTestSession(t, Config{}, model)

	got := s.Run(context.Background())
	if len(got) != 0 {
		t.Fatalf("explicit no-match must yield empty candidates, got %+v", got)
	}
}
