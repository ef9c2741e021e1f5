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
	"fmt"

	"github.com/AleutianAI/librarian/services/librarian/library"
)

// readEntryTool returns the full raw document of one entry.
//
// Description:
//
//	Resolution is forgiving on purpose. Models routinely pass a source
//	path from an earlier search hit, a bare id, a display name, or a
//	truncated basename; ResolveFuzzy accepts all of those before giving
//	up.
//
// Thread Safety: Safe for concurrent use. Read-only over the library.
type readEntryTool struct {
	lib *library.Library
}

// NewReadEntryTool creates the read_entry tool over lib.
func NewReadEntryTool(lib *library.Library) Tool {
	return &readEntryTool{lib: lib}
}

func (t *readEntryTool) Name() string {
	return "read_entry"
}

func (t *readEntryTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name: "read_entry",
		Description: "Read the full document of one knowledge base entry. " +
			"Accepts a file path from a search result, an entry id such as \"aw_createProject\", " +
			"or a display name. Read an entry before proposing it as a candidate.",
		Parameters: map[string]ParamDef{
			"path_or_id": {
				Type:        ParamTypeString,
				Description: "File path, entry id, or display name of the entry to read",
				Required:    true,
			},
		},
	}
}

func (t *readEntryTool) Execute(_ context.Context, params map[string]any) string {
	ref, ok := stringParam(params, "path_or_id")
	if !ok {
		return "Missing required argument \"path_or_id\". Pass an entry id or file path from a search result."
	}

	rec, found := t.lib.ResolveFuzzy(ref)
	if !found {
		return fmt.Sprintf("No entry found for %q. Call list_files or search_keywords to locate the right entry.", ref)
	}
	return fmt.Sprintf("=== %s (%s) ===\n%s", rec.ID, rec.SourceLocation, rec.Raw)
}
