// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command librarian matches test-intent steps against an action word
// knowledge base and writes ranked candidates as JSON.
//
// Usage:
//
//	librarian run --library ./knowledge_base --intent ./intent.json
//	librarian run --library ./knowledge_base --intent ./intent.json \
//	  --output candidates.json --top-n 5 --concurrency 4
//	librarian validate --library ./knowledge_base
//
// Model access is configured through the environment (a .env file is
// loaded when present):
//
//	OPENAI_API_KEY   API key, optional for local endpoints
//	OPENAI_MODEL     model name, defaults to gpt-4o-mini
//	OPENAI_BASE_URL  override for OpenAI-compatible local servers
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/librarian/services/librarian"
	"github.com/AleutianAI/librarian/services/librarian/library"
	"github.com/AleutianAI/librarian/services/llm"
)

// Flag values for the run and validate commands.
var (
	libraryPath   string
	intentPath    string
	outputPath    string
	topN          int
	concurrency   int
	maxIterations int
	tokenBudget   int
	debugLogging  bool
)

func main() {
	// Missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "librarian",
		Short: "Match test-intent steps against an action word knowledge base",
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			level := slog.LevelInfo
			if debugLogging {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	root.PersistentFlags().BoolVar(&debugLogging, "debug", false, "Enable debug logging")

	root.AddCommand(newRunCommand(), newValidateCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process an intent document and write candidate matches",
		RunE:  runBatch,
	}
	cmd.Flags().StringVar(&libraryPath, "library", "", "Path to the knowledge base directory (required)")
	cmd.Flags().StringVar(&intentPath, "intent", "", "Path to the intent JSON document (required)")
	cmd.Flags().StringVar(&outputPath, "output", "librarian_candidates.json", "Path for the result document")
	cmd.Flags().IntVar(&topN, "top-n", librarian.DefaultTopN, "Candidates guaranteed per step")
	cmd.Flags().IntVar(&concurrency, "concurrency", 1, "Steps processed in parallel")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", librarian.DefaultMaxIterations, "Tool rounds allowed per step")
	cmd.Flags().IntVar(&tokenBudget, "token-budget", librarian.DefaultTokenBudget, "Approximate token budget for conversation history")
	_ = cmd.MarkFlagRequired("library")
	_ = cmd.MarkFlagRequired("intent")
	return cmd
}

func runBatch(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lib, err := library.LoadDirectory(libraryPath)
	if err != nil {
		return fmt.Errorf("loading knowledge base: %w", err)
	}
	if lib.Len() == 0 {
		return fmt.Errorf("knowledge base %s contains no entries", libraryPath)
	}

	intent, err := librarian.LoadIntent(intentPath)
	if err != nil {
		return err
	}
	queries := librarian.FlattenIntent(intent)
	if len(queries) == 0 {
		return fmt.Errorf("intent %s contains no steps", intentPath)
	}

	client, err := llm.NewClientFromEnv()
	if err != nil {
		return fmt.Errorf("configuring model client: %w", err)
	}

	slog.Info("Starting batch",
		"scenario", intent.ScenarioName,
		"steps", len(queries),
		"entries", lib.Len(),
		"model", client.Model(),
		"concurrency", concurrency,
	)

	runner := librarian.NewRunner(librarian.Config{
		MaxIterations: maxIterations,
		TokenBudget:   tokenBudget,
		TopN:          topN,
	}, lib, client)

	results := runner.Run(ctx, queries, concurrency)
	if err := librarian.WriteOutput(outputPath, runner.BuildOutput(results)); err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	slog.Info("Batch finished", "steps", len(results), "failed", failed, "output", outputPath)
	if failed > 0 {
		return fmt.Errorf("%d of %d steps failed", failed, len(results))
	}
	return nil
}

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Parse the knowledge base and report what was loaded",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			lib, err := library.LoadDirectory(libraryPath)
			if err != nil {
				return fmt.Errorf("loading knowledge base: %w", err)
			}
			fmt.Printf("%s: %d entries\n", libraryPath, lib.Len())
			for _, rec := range lib.Records() {
				fmt.Printf("  %s\t%s\t%d parameters\n", rec.ID, rec.Name, len(rec.Parameters))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&libraryPath, "library", "", "Path to the knowledge base directory (required)")
	_ = cmd.MarkFlagRequired("library")
	return cmd
}
