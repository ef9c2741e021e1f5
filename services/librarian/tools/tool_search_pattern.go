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
	"path/filepath"
	"regexp"
	"strings"

	"github.com/AleutianAI/librarian/services/librarian/library"
)

const maxPatternMatches = 60

// searchPatternTool runs a regular expression over entry documents.
//
// Description:
//
//	Complements search_keywords when the model needs structure rather
//	than vocabulary, e.g. matching parameter table rows or identifiers.
//	An invalid expression is reported as text so the model can correct
//	it on the next turn.
//
// Thread Safety: Safe for concurrent use. Read-only over the library.
type searchPatternTool struct {
	lib *library.Library
}

// NewSearchPatternTool creates the search_pattern tool over lib.
func NewSearchPatternTool(lib *library.Library) Tool {
	return &searchPatternTool{lib: lib}
}

func (t *searchPatternTool) Name() string {
	return "search_pattern"
}

func (t *searchPatternTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name: "search_pattern",
		Description: "Search the knowledge base with a regular expression. " +
			"Returns matching lines with their file and line number. " +
			"The optional file_filter is a glob applied to entry file names, e.g. \"aw_*.md\".",
		Parameters: map[string]ParamDef{
			"pattern": {
				Type:        ParamTypeString,
				Description: "Regular expression to search for (RE2 syntax)",
				Required:    true,
			},
			"file_filter": {
				Type:        ParamTypeString,
				Description: "Glob pattern applied to entry file basenames",
				Required:    false,
			},
		},
	}
}

func (t *searchPatternTool) Execute(_ context.Context, params map[string]any) string {
	pattern, ok := stringParam(params, "pattern")
	if !ok {
		return "Missing required argument \"pattern\". Pass a regular expression, e.g. search_pattern(pattern=\"aw_\\\\w+\")."
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Sprintf("Invalid regular expression %q: %v. Fix the pattern and try again.", pattern, err)
	}

	fileFilter, hasFilter := stringParam(params, "file_filter")

	var b strings.Builder
	total := 0
	scanned := 0
	for _, rec := range t.lib.Records() {
		if hasFilter {
			matched, globErr := filepath.Match(fileFilter, filepath.Base(rec.SourceLocation))
			if globErr != nil {
				return fmt.Sprintf("Invalid file_filter glob %q: %v.", fileFilter, globErr)
			}
			if !matched {
				continue
			}
		}
		scanned++
		for lineNo, line := range strings.Split(rec.Raw, "\n") {
			if re.MatchString(line) {
				if total < maxPatternMatches {
					fmt.Fprintf(&b, "%s:%d: %s\n", rec.SourceLocation, lineNo+1, strings.TrimSpace(line))
				}
				total++
			}
		}
	}

	if scanned == 0 {
		return fmt.Sprintf("No entries match file_filter %q. Call list_files to see available entry files.", fileFilter)
	}
	if total == 0 {
		return fmt.Sprintf("No matches for pattern %q. Try a broader expression or use search_keywords instead.", pattern)
	}

	out := fmt.Sprintf("%d matching lines:\n%s", total, b.String())
	if total > maxPatternMatches {
		out += fmt.Sprintf("... %d more matches omitted. Narrow the pattern to see them.\n", total-maxPatternMatches)
	}
	return out
}
