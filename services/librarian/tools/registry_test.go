// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/AleutianAI/librarian/services/librarian/library"
)

func testLibrary(t *testing.T) *library.Library {
	t.Helper()
	records := []library.Record{
		{
			ID:             "aw_createProject",
			Name:           "创建项目",
			Description:    "Creates a new project.",
			Keywords:       []string{"创建", "项目", "create", "project"},
			Tags:           []string{"项目管理"},
			Parameters:     []library.Parameter{{Name: "projectName", Type: "string", Required: true}},
			SourceLocation: "api/aw_createProject.md",
			Raw:            "# 创建项目\n\n关键词: 创建, 项目, create, project\n\nCreates a new project in the workspace.\n",
		},
		{
			ID:             "aw_uploadFile",
			Name:           "上传文件",
			Description:    "Uploads a file.",
			Keywords:       []string{"上传", "文件", "upload"},
			SourceLocation: "files/aw_uploadFile.md",
			Raw:            "# 上传文件\n\n关键词: 上传, 文件, upload\n\nUploads a file to storage.\n",
		},
	}
	lib, err := library.New(records)
	if err != nil {
		t.Fatalf("library.New: %v", err)
	}
	return lib
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	lib := testLibrary(t)
	return NewRegistry(
		NewListFilesTool(lib),
		NewSearchKeywordsTool(lib),
		NewSearchPatternTool(lib),
		NewReadEntryTool(lib),
		NewExtractMetadataTool(lib),
	)
}

func TestRegistry_DefinitionsOrder(t *testing.T) {
	r := testRegistry(t)

	want := []string{"list_files", "search_keywords", "search_pattern", "read_entry", "extract_metadata"}
	got := r.Names()
	if len(got) != len(want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if len(r.Definitions()) != len(want) {
		t.Errorf("Definitions() length = %d, want %d", len(r.Definitions()), len(want))
	}
}

func TestRegistry_DispatchUnknownTool(t *testing.T) {
	r := testRegistry(t)

	out := r.Dispatch(context.Background(), "run_shell", nil)
	if !strings.Contains(out, "Unknown tool") || !strings.Contains(out, "search_keywords") {
		t.Errorf("unknown tool report should name available tools, got %q", out)
	}
}

type panickingTool struct{}

func (panickingTool) Name() string                { return "boom" }
func (panickingTool) Definition() ToolDefinition  { return ToolDefinition{Name: "boom"} }
func (panickingTool) Execute(context.Context, map[string]any) string {
	panic("broken invariant")
}

func TestRegistry_DispatchRecoversPanic(t *testing.T) {
	r := NewRegistry(panickingTool{})

	out := r.Dispatch(context.Background(), "boom", nil)
	if !strings.Contains(out, "failed internally") {
		t.Errorf("panic should become a text report, got %q", out)
	}
}

func TestListFiles(t *testing.T) {
	r := testRegistry(t)

	out := r.Dispatch(context.Background(), "list_files", nil)
	if !strings.Contains(out, "aw_createProject") || !strings.Contains(out, "aw_uploadFile") {
		t.Errorf("unfiltered listing missing entries: %q", out)
	}

	out = r.Dispatch(context.Background(), "list_files", map[string]any{"name_filter": "upload"})
	if strings.Contains(out, "aw_createProject") || !strings.Contains(out, "aw_uploadFile") {
		t.Errorf("filtered listing wrong: %q", out)
	}

	out = r.Dispatch(context.Background(), "list_files", map[string]any{"name_filter": "nosuchentry"})
	if !strings.Contains(out, "No entries match") {
		t.Errorf("empty filter result should be descriptive text: %q", out)
	}
}

func TestSearchKeywords(t *testing.T) {
	r := testRegistry(t)

	out := r.Dispatch(context.Background(), "search_keywords", map[string]any{"keywords": "project,创建"})
	if !strings.Contains(out, "aw_createProject.md") {
		t.Errorf("expected hit in aw_createProject.md: %q", out)
	}
	if strings.Contains(out, "aw_uploadFile.md:") {
		t.Errorf("unexpected hit in aw_uploadFile.md: %q", out)
	}

	out = r.Dispatch(context.Background(), "search_keywords", map[string]any{"keywords": "zzz_nothing"})
	if !strings.Contains(out, "No matches") {
		t.Errorf("no-hit search should suggest retry: %q", out)
	}

	out = r.Dispatch(context.Background(), "search_keywords", nil)
	if !strings.Contains(out, "Missing required argument") {
		t.Errorf("missing argument should be reported as text: %q", out)
	}
}

func TestSearchPattern(t *testing.T) {
	r := testRegistry(t)

	out := r.Dispatch(context.Background(), "search_pattern", map[string]any{"pattern": `关键词\s*:`})
	if !strings.Contains(out, "aw_createProject.md") || !strings.Contains(out, "aw_uploadFile.md") {
		t.Errorf("pattern should hit both entries: %q", out)
	}

	out = r.Dispatch(context.Background(), "search_pattern", map[string]any{
		"pattern":     "upload",
		"file_filter": "aw_upload*.md",
	})
	if strings.Contains(out, "aw_createProject.md") || !strings.Contains(out, "aw_uploadFile.md") {
		t.Errorf("file_filter not applied: %q", out)
	}

	out = r.Dispatch(context.Background(), "search_pattern", map[string]any{"pattern": "([unclosed"})
	if !strings.Contains(out, "Invalid regular expression") {
		t.Errorf("bad regexp should be reported as text: %q", out)
	}
}

func TestReadEntry(t *testing.T) {
	r := testRegistry(t)

	cases := []struct {
		name string
		ref  string
	}{
		{"by id", "aw_createProject"},
		{"by display name", "创建项目"},
		{"by source path", "api/aw_createProject.md"},
		{"by fuzzy basename", "createProject"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := r.Dispatch(context.Background(), "read_entry", map[string]any{"path_or_id": tc.ref})
			if !strings.Contains(out, "Creates a new project in the workspace.") {
				t.Errorf("read_entry(%q) missing document body: %q", tc.ref, out)
			}
		})
	}

	out := r.Dispatch(context.Background(), "read_entry", map[string]any{"path_or_id": "aw_missing"})
	if !strings.Contains(out, "No entry found") {
		t.Errorf("missing entry should be reported as text: %q", out)
	}
}

func TestExtractMetadata(t *testing.T) {
	r := testRegistry(t)

	out := r.Dispatch(context.Background(), "extract_metadata", map[string]any{"path_or_id": "aw_createProject"})
	for _, want := range []string{"id: aw_createProject", "name: 创建项目", "projectName (string) [required]", "keywords: 创建, 项目, create, project"} {
		if !strings.Contains(out, want) {
			t.Errorf("metadata summary missing %q:\n%s", want, out)
		}
	}

	out = r.Dispatch(context.Background(), "extract_metadata", map[string]any{"path_or_id": "aw_uploadFile"})
	if !strings.Contains(out, "parameters: none") {
		t.Errorf("entry without parameters should say so: %q", out)
	}
}
