// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package librarian runs the search loop that matches task descriptions
// against an action word knowledge base: a model reasons over the task,
// calls knowledge-base tools, and emits candidate entries, with the
// extractor guaranteeing a complete ranked result even when the model
// produces nothing usable.
package librarian

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/librarian/services/librarian/library"
	"github.com/AleutianAI/librarian/services/librarian/rank"
	"github.com/AleutianAI/librarian/services/librarian/tools"
	"github.com/AleutianAI/librarian/services/llm"
)

// Default session policy. Overridable per Config.
const (
	// DefaultMaxIterations bounds the number of assistant turns that
	// request tools, and with it the worst-case cost of one query.
	DefaultMaxIterations = 15

	// DefaultTokenBudget is the approximate window budget for the
	// history passed to the model, system turn excluded.
	DefaultTokenBudget = 8000

	// DefaultTopN is the number of candidates the extractor returns.
	DefaultTopN = 3
)

// budgetExhaustedReply is the terminal assistant turn appended when the
// iteration ceiling is reached. The fenced empty array routes the
// extractor to its explicit no-match outcome.
const budgetExhaustedReply = "Search budget exhausted before a conclusion was reached.\n```json\n[]\n```"

// Query is one task to match against the knowledge base.
type Query struct {
	// ID identifies the query in batch results.
	ID string `json:"step_id"`

	// Description is the natural-language task text the model reasons
	// about. Chinese or English.
	Description string `json:"description"`

	// ActionKind is the step's declared action type, when known.
	ActionKind string `json:"action_type,omitempty"`

	// Phase is the scenario phase the step belongs to (given, when,
	// then, cleanup).
	Phase string `json:"phase,omitempty"`
}

// Config is the session policy passed to NewSession.
//
// Description:
//
//	Explicit so that concurrent sessions can run with different policies.
//	Zero values select the package defaults.
type Config struct {
	// MaxIterations caps tool-requesting assistant turns per query.
	MaxIterations int

	// TokenBudget is the approximate token budget for the trimmed
	// history.
	TokenBudget int

	// TopN is the candidate count the extractor guarantees.
	TopN int

	// PromptTemplate overrides the default system prompt. A %s
	// placeholder receives the library path.
	PromptTemplate string

	// Temperature and MaxTokens are forwarded to the model unchanged
	// when set.
	Temperature *float32
	MaxTokens   *int
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.TokenBudget <= 0 {
		c.TokenBudget = DefaultTokenBudget
	}
	if c.TopN <= 0 {
		c.TopN = DefaultTopN
	}
	return c
}

// ModelClient is the model invocation boundary.
//
// Description:
//
//	Satisfied by *llm.Client. The strict path is tried first; the raw
//	path exists to recover tool calls from responses that break the wire
//	contract.
type ModelClient interface {
	ChatWithTools(ctx context.Context, messages []llm.ChatMessage,
		params llm.GenerationParams, tools []llm.ToolDef) (*llm.ChatWithToolsResult, error)
	RawChatWithTools(ctx context.Context, messages []llm.ChatMessage,
		params llm.GenerationParams, tools []llm.ToolDef) (*llm.RawResult, error)
	Model() string
}

// sessionState enumerates the loop's states.
type sessionState int

const (
	stateReasoning sessionState = iota
	stateTooling
	stateExtracting
	stateDone
)

// Session is the state machine for one query.
//
// Description:
//
//	Owns its conversation exclusively: a fresh Session is created per
//	query and discarded after Run returns. The loop alternates between
//	Reasoning (one model call) and Tooling (dispatching the requested
//	calls) until the model stops requesting tools, a model call fails, or
//	the iteration ceiling forces termination; the candidate extractor
//	then produces the final result from the transcript.
//
// Thread Safety: a Session must not be used from multiple goroutines.
// Run separate Sessions concurrently instead; they share only the
// read-only library, registry, and ranking index.
type Session struct {
	cfg    Config
	lib    *library.Library
	reg    *tools.Registry
	ranker *rank.Index
	model  ModelClient
	query  Query

	// history is the conversation without the system turn, which is
	// re-rendered on every model call.
	history    []llm.ChatMessage
	toolRounds int
	pending    []ToolInvocation
	logger     *slog.Logger
}

// NewSession creates the state machine for one query.
func NewSession(cfg Config, lib *library.Library, reg *tools.Registry,
	ranker *rank.Index, model ModelClient, query Query) *Session {
	return &Session{
		cfg:    cfg.withDefaults(),
		lib:    lib,
		reg:    reg,
		ranker: ranker,
		model:  model,
		query:  query,
		logger: slog.Default().With("query_id", query.ID),
	}
}

// Run drives the state machine to completion and returns the candidates.
//
// Description:
//
//	Never returns an error: model failures become a terminal assistant
//	turn and the extractor still runs, so a failed query degrades to
//	backfilled candidates instead of aborting a batch.
func (s *Session) Run(ctx context.Context) []Candidate {
	ctx, span := sessionTracer.Start(ctx, "librarian.session")
	defer span.End()
	span.SetAttributes(
		attribute.String("query.id", s.query.ID),
		attribute.Int("library.records", s.lib.Len()),
	)

	state := stateReasoning
	for state != stateExtracting {
		switch state {
		case stateReasoning:
			state = s.reason(ctx)
		case stateTooling:
			state = s.dispatchTools(ctx)
		}
	}

	candidates := ExtractCandidates(s.transcript(), s.query, s.lib, s.ranker, s.cfg.TopN)
	span.SetAttributes(
		attribute.Int("session.tool_rounds", s.toolRounds),
		attribute.Int("session.candidates", len(candidates)),
	)
	sessionToolRounds.Observe(float64(s.toolRounds))
	s.logger.Info("session finished",
		"tool_rounds", s.toolRounds,
		"candidates", len(candidates),
	)
	return candidates
}

// reason performs one model call and routes on its outcome.
func (s *Session) reason(ctx context.Context) sessionState {
	if s.toolRounds >= s.cfg.MaxIterations {
		s.logger.Warn("iteration ceiling reached", "tool_rounds", s.toolRounds)
		s.history = append(s.history, llm.ChatMessage{Role: "assistant", Content: budgetExhaustedReply})
		return stateExtracting
	}

	if len(s.history) == 0 {
		s.history = append(s.history, llm.ChatMessage{Role: "user", Content: firstTaskPrompt(s.query)})
	}

	messages := append(
		[]llm.ChatMessage{{Role: "system", Content: systemPrompt(s.cfg.PromptTemplate, s.lib.Root())}},
		TrimToBudget(s.history, s.cfg.TokenBudget)...,
	)
	params := llm.GenerationParams{Temperature: s.cfg.Temperature, MaxTokens: s.cfg.MaxTokens}
	defs := convertToolDefs(s.reg.Definitions())

	var content string
	var invocations []ToolInvocation

	result, err := s.model.ChatWithTools(ctx, messages, params, defs)
	switch {
	case err == nil:
		content = result.Content
		invocations = NormalizeToolCalls(result.Content, result.ToolCalls, nil)
	case isShapeError(err):
		// The payload broke the strict wire shape. One retry through the
		// lenient path, then the normalizer works on the raw tool_calls.
		s.logger.Warn("tool call shape invalid, retrying via raw path", "error", err)
		raw, rawErr := s.model.RawChatWithTools(ctx, messages, params, defs)
		if rawErr != nil {
			return s.failReasoning(rawErr)
		}
		content = raw.Content
		invocations = NormalizeToolCalls(raw.Content, nil, raw.ToolCalls)
	default:
		return s.failReasoning(err)
	}

	s.history = append(s.history, assistantTurn(content, invocations))
	if len(invocations) == 0 {
		return stateExtracting
	}
	s.toolRounds++
	s.pending = invocations
	return stateTooling
}

// failReasoning records a model failure as a terminal assistant turn.
func (s *Session) failReasoning(err error) sessionState {
	s.logger.Error("model call failed", "error", err)
	s.history = append(s.history, llm.ChatMessage{
		Role:    "assistant",
		Content: "Model call failed: " + err.Error(),
	})
	return stateExtracting
}

// dispatchTools executes every pending invocation and appends the tool
// turns before handing control back to Reasoning.
func (s *Session) dispatchTools(ctx context.Context) sessionState {
	for _, inv := range s.pending {
		report := s.reg.Dispatch(ctx, inv.Name, inv.Arguments)
		s.logger.Debug("tool dispatched",
			"tool", inv.Name,
			"call_id", inv.CallID,
			"report_bytes", len(report),
		)
		s.history = append(s.history, llm.ChatMessage{
			Role:       "tool",
			Content:    report,
			ToolCallID: inv.CallID,
			ToolName:   inv.Name,
		})
	}
	s.pending = nil
	return stateReasoning
}

// transcript joins every turn's textual payload into one buffer for the
// candidate extractor.
func (s *Session) transcript() string {
	var parts []string
	for _, m := range s.history {
		if m.Content != "" {
			parts = append(parts, m.Content)
		}
	}
	return joinTranscript(parts)
}

// assistantTurn rebuilds an assistant history turn from normalized
// invocations, so the wire request on the next step replays the calls the
// tool turns answer.
func assistantTurn(content string, invocations []ToolInvocation) llm.ChatMessage {
	msg := llm.ChatMessage{Role: "assistant", Content: content}
	for _, inv := range invocations {
		args, err := json.Marshal(inv.Arguments)
		if err != nil {
			args = []byte("{}")
		}
		msg.ToolCalls = append(msg.ToolCalls, llm.ToolCallResponse{
			ID:        inv.CallID,
			Name:      inv.Name,
			Arguments: args,
		})
	}
	return msg
}

func isShapeError(err error) bool {
	var shapeErr *llm.ArgumentShapeError
	return errors.As(err, &shapeErr)
}
