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
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/librarian/services/librarian/library"
	"github.com/AleutianAI/librarian/services/librarian/rank"
	"github.com/AleutianAI/librarian/services/librarian/tools"
)

// StepResult is the outcome of one query in a batch.
type StepResult struct {
	StepID      string      `json:"step_id"`
	Phase       string      `json:"phase,omitempty"`
	Description string      `json:"description"`
	ActionKind  string      `json:"action_type,omitempty"`
	Candidates  []Candidate `json:"candidates"`
	Error       string      `json:"error,omitempty"`
}

// Runner processes query batches against one library and model.
//
// Description:
//
//	Builds the registry and ranking index once; every query then runs in
//	its own Session. Sequential and bounded-parallel execution produce
//	identical per-query behavior and identical result order.
//
// Thread Safety: Runner is immutable after NewRunner and safe for
// concurrent use.
type Runner struct {
	cfg    Config
	lib    *library.Library
	reg    *tools.Registry
	ranker *rank.Index
	model  ModelClient
}

// NewRunner creates a Runner with the standard tool set bound.
func NewRunner(cfg Config, lib *library.Library, model ModelClient) *Runner {
	return &Runner{
		cfg: cfg.withDefaults(),
		lib: lib,
		reg: tools.NewRegistry(
			tools.NewListFilesTool(lib),
			tools.NewSearchKeywordsTool(lib),
			tools.NewSearchPatternTool(lib),
			tools.NewReadEntryTool(lib),
			tools.NewExtractMetadataTool(lib),
		),
		ranker: rank.BuildIndex(lib.Records()),
		model:  model,
	}
}

// Run processes queries and returns one result per query, in input order.
//
// Description:
//
//	concurrency <= 1 runs the batch strictly sequentially. Larger values
//	run up to that many sessions at once through an errgroup limiter.
//	A query that panics or fails is recorded as an error-flagged result
//	with empty candidates; it never aborts its siblings, so the result
//	list always has exactly one entry per input query.
func (r *Runner) Run(ctx context.Context, queries []Query, concurrency int) []StepResult {
	results := make([]StepResult, len(queries))

	if concurrency <= 1 {
		for i, q := range queries {
			results[i] = r.runOne(ctx, q)
		}
		return results
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			results[i] = r.runOne(ctx, q)
			return nil
		})
	}
	// Workers never return errors; results carry per-query failures.
	_ = g.Wait()
	return results
}

// runOne executes a single query with a panic barrier.
func (r *Runner) runOne(ctx context.Context, q Query) (result StepResult) {
	result = StepResult{
		StepID:      q.ID,
		Phase:       q.Phase,
		Description: q.Description,
		ActionKind:  q.ActionKind,
		Candidates:  []Candidate{},
	}
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("query panicked", "query_id", q.ID, "panic", rec)
			result.Error = fmt.Sprintf("panic: %v", rec)
			result.Candidates = []Candidate{}
			queriesTotal.WithLabelValues("error").Inc()
		}
	}()

	session := NewSession(r.cfg, r.lib, r.reg, r.ranker, r.model, q)
	result.Candidates = session.Run(ctx)
	queriesTotal.WithLabelValues("ok").Inc()
	return result
}

// OutputMetadata describes one batch run in the persisted output.
type OutputMetadata struct {
	GeneratedAt string `json:"generated_at"`
	Model       string `json:"model"`
	LibraryPath string `json:"library_path"`
}

// OutputDocument is the persisted batch result consumed downstream.
type OutputDocument struct {
	Metadata OutputMetadata `json:"metadata"`
	Results  []StepResult   `json:"results"`
}

// BuildOutput assembles the persisted document for one run.
func (r *Runner) BuildOutput(results []StepResult) OutputDocument {
	return OutputDocument{
		Metadata: OutputMetadata{
			GeneratedAt: time.Now().UTC().Format(time.RFC3339),
			Model:       r.model.Model(),
			LibraryPath: r.lib.Root(),
		},
		Results: results,
	}
}

// WriteOutput writes the document as indented JSON.
func WriteOutput(path string, doc OutputDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("output: marshaling document: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("output: writing %s: %w", path, err)
	}
	return nil
}
