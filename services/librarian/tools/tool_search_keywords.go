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

// maxKeywordMatches caps per-call output so one broad search cannot flood
// the token budget of the conversation.
const maxKeywordMatches = 60

// searchKeywordsTool finds lines in entry documents containing any of the
// given keywords.
//
// Description:
//
//	Case-insensitive substring match over every line of every entry's raw
//	document. Each hit is reported as path:line: text, which gives the
//	model enough context to decide which entry to read in full.
//
// Thread Safety: Safe for concurrent use. Read-only over the library.
type searchKeywordsTool struct {
	lib *library.Library
}

// NewSearchKeywordsTool creates the search_keywords tool over lib.
func NewSearchKeywordsTool(lib *library.Library) Tool {
	return &searchKeywordsTool{lib: lib}
}

func (t *searchKeywordsTool) Name() string {
	return "search_keywords"
}

func (t *searchKeywordsTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name: "search_keywords",
		Description: "Search the knowledge base for one or more keywords. " +
			"Pass keywords as a single comma-separated string, e.g. \"create,project\" or \"创建,项目\". " +
			"Matching is case-insensitive. Returns matching lines with their file and line number. " +
			"This is usually the best first search for a task description.",
		Parameters: map[string]ParamDef{
			"keywords": {
				Type:        ParamTypeString,
				Description: "Comma-separated keywords to search for",
				Required:    true,
			},
		},
	}
}

func (t *searchKeywordsTool) Execute(_ context.Context, params map[string]any) string {
	raw, ok := stringParam(params, "keywords")
	if !ok {
		return "Missing required argument \"keywords\". Pass a comma-separated string, e.g. search_keywords(keywords=\"create,project\")."
	}
	terms := splitTerms(raw)
	if len(terms) == 0 {
		return "Argument \"keywords\" is empty. Pass a comma-separated string of search terms."
	}
	for i, term := range terms {
		terms[i] = strings.ToLower(term)
	}

	var b strings.Builder
	total := 0
	var hitIDs []string
	for _, rec := range t.lib.Records() {
		recHit := false
		for lineNo, line := range strings.Split(rec.Raw, "\n") {
			lower := strings.ToLower(line)
			for _, term := range terms {
				if strings.Contains(lower, term) {
					if total < maxKeywordMatches {
						fmt.Fprintf(&b, "%s:%d: %s\n", rec.SourceLocation, lineNo+1, strings.TrimSpace(line))
					}
					total++
					recHit = true
					break
				}
			}
		}
		if recHit {
			hitIDs = append(hitIDs, rec.ID)
		}
	}

	if total == 0 {
		return fmt.Sprintf("No matches for %q. Try different or more general terms, or call list_files to browse the entries.", raw)
	}

	out := fmt.Sprintf("%d matching lines in %d entries (%s):\n%s",
		total, len(hitIDs), strings.Join(hitIDs, ", "), b.String())
	if total > maxKeywordMatches {
		out += fmt.Sprintf("... %d more matches omitted. Narrow the keywords to see them.\n", total-maxKeywordMatches)
	}
	return out
}
