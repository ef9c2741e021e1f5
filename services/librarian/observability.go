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
	"go.opentelemetry.io/otel"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sessionTracer = otel.Tracer("librarian.session")

// Package-level Prometheus metrics for the session loop and extractor.
// Auto-registered via promauto so no explicit registry wiring is needed.
var (
	// sessionToolRounds observes how many tool-requesting assistant turns
	// each session used before terminating.
	sessionToolRounds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "librarian",
			Subsystem: "session",
			Name:      "tool_rounds",
			Help:      "Tool-requesting assistant turns per session.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 10, 15},
		},
	)

	// candidatesTotal counts emitted candidates by origin.
	//
	// Labels:
	//   - source: "model" (extracted from the transcript) or
	//     "backfill" (supplemented by the lexical ranker)
	candidatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "librarian",
			Subsystem: "extract",
			Name:      "candidates_total",
			Help:      "Candidates emitted, by origin.",
		},
		[]string{"source"},
	)

	// queriesTotal counts processed queries by outcome.
	//
	// Labels:
	//   - status: "ok" or "error"
	queriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "librarian",
			Subsystem: "batch",
			Name:      "queries_total",
			Help:      "Queries processed by the batch runner, by outcome.",
		},
		[]string{"status"},
	)
)
