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
	"fmt"
	"strings"
)

// DefaultSystemPrompt is the system turn used when Config.PromptTemplate
// is empty. The %s placeholder receives the library path.
const DefaultSystemPrompt = `You are a librarian for an action word knowledge base located at %s.
Each entry describes one reusable automation action: its id (like aw_createProject), display name, keywords, and parameter table.

Your job: given a task description, find the entries that can implement it.

Rules:
- ALWAYS search before answering. Use search_keywords first; fall back to list_files or search_pattern if nothing matches.
- Read promising entries with read_entry or extract_metadata before proposing them.
- Keyword text may be in Chinese or English; search with terms from the task in both languages when possible.
- When you have identified the matching entries, reply with ONLY a fenced json array of candidates:

` + "```json" + `
[{"aw_id": "aw_example", "aw_name": "示例", "parameters": [{"name": "param1", "type": "string"}], "reason": "why it matches"}]
` + "```" + `

- If NO entry matches the task, reply with exactly:

` + "```json" + `
[]
` + "```" + `

Do not invent entry ids. Only propose ids you have seen in tool results.`

// systemPrompt renders the session's system turn content.
func systemPrompt(template, libraryPath string) string {
	if template == "" {
		template = DefaultSystemPrompt
	}
	if strings.Contains(template, "%s") {
		return fmt.Sprintf(template, libraryPath)
	}
	return template
}

// firstTaskPrompt renders the opening human turn for one query.
func firstTaskPrompt(q Query) string {
	var b strings.Builder
	b.WriteString("Task: ")
	b.WriteString(q.Description)
	b.WriteString("\n")
	if q.ActionKind != "" {
		fmt.Fprintf(&b, "Action type: %s\n", q.ActionKind)
	}
	if q.Phase != "" {
		fmt.Fprintf(&b, "Phase: %s\n", q.Phase)
	}
	b.WriteString("\nSearch the knowledge base before answering. Finish with the fenced json candidate array.")
	return b.String()
}
