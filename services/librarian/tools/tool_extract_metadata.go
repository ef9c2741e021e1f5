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

// extractMetadataTool summarizes one entry's parsed metadata.
//
// Description:
//
//	Where read_entry returns the raw document, this tool returns the
//	parsed view: id, name, keywords, tags, and the parameter table. The
//	compact form is what the model should echo into its final candidate
//	array, so surfacing it directly cuts a reasoning step.
//
// Thread Safety: Safe for concurrent use. Read-only over the library.
type extractMetadataTool struct {
	lib *library.Library
}

// NewExtractMetadataTool creates the extract_metadata tool over lib.
func NewExtractMetadataTool(lib *library.Library) Tool {
	return &extractMetadataTool{lib: lib}
}

func (t *extractMetadataTool) Name() string {
	return "extract_metadata"
}

func (t *extractMetadataTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name: "extract_metadata",
		Description: "Return the parsed metadata of one entry: id, name, category, description, " +
			"keywords, scenario tags, and the full parameter table with types. " +
			"Use this to get exact parameter names and types for a candidate.",
		Parameters: map[string]ParamDef{
			"path_or_id": {
				Type:        ParamTypeString,
				Description: "File path, entry id, or display name of the entry",
				Required:    true,
			},
		},
	}
}

func (t *extractMetadataTool) Execute(_ context.Context, params map[string]any) string {
	ref, ok := stringParam(params, "path_or_id")
	if !ok {
		return "Missing required argument \"path_or_id\". Pass an entry id or file path."
	}

	rec, found := t.lib.ResolveFuzzy(ref)
	if !found {
		return fmt.Sprintf("No entry found for %q. Call list_files or search_keywords to locate the right entry.", ref)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "id: %s\n", rec.ID)
	fmt.Fprintf(&b, "name: %s\n", rec.Name)
	if rec.Category != "" {
		fmt.Fprintf(&b, "category: %s\n", rec.Category)
	}
	if rec.Description != "" {
		fmt.Fprintf(&b, "description: %s\n", rec.Description)
	}
	if len(rec.Keywords) > 0 {
		fmt.Fprintf(&b, "keywords: %s\n", strings.Join(rec.Keywords, ", "))
	}
	if len(rec.Tags) > 0 {
		fmt.Fprintf(&b, "tags: %s\n", strings.Join(rec.Tags, ", "))
	}
	if len(rec.Parameters) > 0 {
		b.WriteString("parameters:\n")
		for _, p := range rec.Parameters {
			fmt.Fprintf(&b, "  - %s (%s)", p.Name, p.Type)
			if p.Required {
				b.WriteString(" [required]")
			}
			if p.Default != "" {
				fmt.Fprintf(&b, " default=%s", p.Default)
			}
			if p.Description != "" {
				fmt.Fprintf(&b, ": %s", p.Description)
			}
			b.WriteString("\n")
		}
	} else {
		b.WriteString("parameters: none\n")
	}
	fmt.Fprintf(&b, "source: %s\n", rec.SourceLocation)
	return b.String()
}
