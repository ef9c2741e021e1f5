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
	"sort"

	"github.com/AleutianAI/librarian/services/librarian/tools"
	"github.com/AleutianAI/librarian/services/llm"
)

// convertToolDefs converts registry tool definitions to the LLM wire format.
//
// Description:
//
//	Maps tools.ToolDefinition to llm.ToolDef for ChatWithTools. Preserves
//	parameter types, descriptions, defaults, and required flags.
//
// Thread Safety: This function is safe for concurrent use.
func convertToolDefs(defs []tools.ToolDefinition) []llm.ToolDef {
	if len(defs) == 0 {
		return nil
	}

	result := make([]llm.ToolDef, 0, len(defs))
	for _, def := range defs {
		properties := make(map[string]llm.ToolParamDef, len(def.Parameters))
		var required []string
		for name, p := range def.Parameters {
			properties[name] = llm.ToolParamDef{
				Type:        string(p.Type),
				Description: p.Description,
				Default:     p.Default,
			}
			if p.Required {
				required = append(required, name)
			}
		}
		sort.Strings(required)
		result = append(result, llm.ToolDef{
			Type: "function",
			Function: llm.ToolFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters: llm.ToolParameters{
					Type:       "object",
					Properties: properties,
					Required:   required,
				},
			},
		})
	}
	return result
}
