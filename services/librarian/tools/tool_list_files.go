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
	"strings"

	"github.com/AleutianAI/librarian/services/librarian/library"
)

// listFilesTool lists the entries in the knowledge base.
//
// Description:
//
//	The discovery tool a model reaches for first. With no filter it lists
//	every entry; with a filter it narrows by case-insensitive substring
//	over id, name, and source location.
//
// Thread Safety: Safe for concurrent use. Read-only over the library.
type listFilesTool struct {
	lib *library.Library
}

// NewListFilesTool creates the list_files tool over lib.
func NewListFilesTool(lib *library.Library) Tool {
	return &listFilesTool{lib: lib}
}

func (t *listFilesTool) Name() string {
	return "list_files"
}

func (t *listFilesTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name: "list_files",
		Description: "List the action word entries available in the knowledge base. " +
			"Returns one line per entry with its id, display name, and source file. " +
			"Use the optional name_filter to narrow the listing.",
		Parameters: map[string]ParamDef{
			"name_filter": {
				Type:        ParamTypeString,
				Description: "Case-insensitive substring to filter entries by id, name, or file path",
				Required:    false,
			},
		},
	}
}

func (t *listFilesTool) Execute(_ context.Context, params map[string]any) string {
	filter, hasFilter := stringParam(params, "name_filter")
	filter = strings.ToLower(filter)

	var b strings.Builder
	matched := 0
	for _, rec := range t.lib.Records() {
		if hasFilter {
			haystack := strings.ToLower(rec.ID + " " + rec.Name + " " + rec.SourceLocation)
			if !strings.Contains(haystack, filter) {
				continue
			}
		}
		matched++
		fmt.Fprintf(&b, "%s\t%s\t%s\n", rec.ID, rec.Name, rec.SourceLocation)
	}

	if matched == 0 {
		if hasFilter {
			return fmt.Sprintf("No entries match filter %q. Call list_files without a filter to see all %d entries.", filter, t.lib.Len())
		}
		return "The knowledge base contains no entries."
	}
	return fmt.Sprintf("%d entries:\n%s", matched, b.String())
}
