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
	"fmt"
	"os"
)

// Intent is a parsed test-intent document: scenario metadata plus steps
// grouped into BDD phases.
type Intent struct {
	ScenarioName string                  `json:"scenario_name"`
	Metadata     map[string]any          `json:"metadata,omitempty"`
	BDDFlow      map[string][]IntentStep `json:"bdd_flow"`
}

// IntentStep is one step inside a phase.
type IntentStep struct {
	StepID      string `json:"step_id"`
	Description string `json:"description"`
	ActionType  string `json:"action_type,omitempty"`
	CheckType   string `json:"check_type,omitempty"`
}

// bddPhases is the phase iteration order. Map iteration would scramble
// step order between runs.
var bddPhases = []string{"given", "when", "then", "cleanup"}

// LoadIntent reads and parses an intent JSON document.
func LoadIntent(path string) (*Intent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("intent: reading %s: %w", path, err)
	}
	var intent Intent
	if err := json.Unmarshal(data, &intent); err != nil {
		return nil, fmt.Errorf("intent: parsing %s: %w", path, err)
	}
	return &intent, nil
}

// FlattenIntent turns an intent document into the ordered query list the
// batch runner consumes.
//
// Description:
//
//	Phases flatten in fixed given, when, then, cleanup order; any phase
//	absent from the document is skipped. A step without a declared
//	action_type falls back to its check_type, so verification steps still
//	carry a kind. Steps without an id get a positional one.
func FlattenIntent(intent *Intent) []Query {
	var queries []Query
	pos := 0
	for _, phase := range bddPhases {
		for _, step := range intent.BDDFlow[phase] {
			pos++
			id := step.StepID
			if id == "" {
				id = fmt.Sprintf("step_%d", pos)
			}
			kind := step.ActionType
			if kind == "" {
				kind = step.CheckType
			}
			queries = append(queries, Query{
				ID:          id,
				Description: step.Description,
				ActionKind:  kind,
				Phase:       phase,
			})
		}
	}
	return queries
}
