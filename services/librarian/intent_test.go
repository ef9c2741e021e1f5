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
	"os"
	"path/filepath"
	"testing"
)

const sampleIntentJSON = `{
  "scenario_name": "项目创建流程",
  "metadata": {"author": "qa", "priority": 1},
  "bdd_flow": {
    "then": [
      {"step_id": "t1", "description": "验证项目出现在列表中", "check_type": "ui_assertion"}
    ],
    "given": [
      {"step_id": "g1", "description": "登录系统", "action_type": "ui_operation"},
      {"description": "打开工作台"}
    ],
    "when": [
      {"step_id": "w1", "description": "创建一个新的项目", "action_type": "ui_operation"}
    ]
  }
}`

func writeIntentFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "intent.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing intent fixture: %v", err)
	}
	return path
}

func TestLoadIntent(t *testing.T) {
	intent, err := LoadIntent(writeIntentFile(t, sampleIntentJSON))
	if err != nil {
		t.Fatalf("LoadIntent: %v", err)
	}
	if intent.ScenarioName != "项目创建流程" {
		t.Errorf("scenario name = %q", intent.ScenarioName)
	}
	if len(intent.BDDFlow["given"]) != 2 {
		t.Errorf("given steps = %d, want 2", len(intent.BDDFlow["given"]))
	}
}

func TestLoadIntent_Errors(t *testing.T) {
	if _, err := LoadIntent(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("missing file must error")
	}
	if _, err := LoadIntent(writeIntentFile(t, "{not json")); err == nil {
		t.Error("malformed document must error")
	}
}

func TestFlattenIntent_PhaseOrder(t *testing.T) {
	intent, err := LoadIntent(writeIntentFile(t, sampleIntentJSON))
	if err != nil {
		t.Fatalf("LoadIntent: %v", err)
	}

	queries := FlattenIntent(intent)
	if len(queries) != 4 {
		t.Fatalf("got %d queries, want 4", len(queries))
	}

	wantPhases := []string{"given", "given", "when", "then"}
	for i, q := range queries {
		if q.Phase != wantPhases[i] {
			t.Errorf("query %d phase = %q, want %q", i, q.Phase, wantPhases[i])
		}
	}
	if queries[0].ID != "g1" || queries[2].ID != "w1" || queries[3].ID != "t1" {
		t.Errorf("declared ids not preserved: %+v", queries)
	}
	// The second given step has no id and gets a positional one.
	if queries[1].ID != "step_2" {
		t.Errorf("anonymous step id = %q, want step_2", queries[1].ID)
	}
}

func TestFlattenIntent_CheckTypeFallback(t *testing.T) {
	intent := &Intent{BDDFlow: map[string][]IntentStep{
		"when": {{StepID: "w1", Description: "点击创建", ActionType: "ui_operation"}},
		"then": {{StepID: "t1", Description: "断言结果", CheckType: "ui_assertion"}},
	}}

	queries := FlattenIntent(intent)
	if queries[0].ActionKind != "ui_operation" {
		t.Errorf("action_type not carried: %+v", queries[0])
	}
	if queries[1].ActionKind != "ui_assertion" {
		t.Errorf("check_type fallback not applied: %+v", queries[1])
	}
}

func TestFlattenIntent_UnknownPhaseSkipped(t *testing.T) {
	intent := &Intent{BDDFlow: map[string][]IntentStep{
		"setup": {{StepID: "x", Description: "ignored"}},
		"given": {{StepID: "g1", Description: "kept"}},
	}}

	queries := FlattenIntent(intent)
	if len(queries) != 1 || queries[0].ID != "g1" {
		t.Errorf("non-BDD phase must be skipped: %+v", queries)
	}
}
