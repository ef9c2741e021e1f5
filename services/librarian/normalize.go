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
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/AleutianAI/librarian/services/llm"
)

// ToolInvocation is one normalized tool call, ready for dispatch.
//
// Description:
//
//	Produced by NormalizeToolCalls from whichever shape the model used,
//	consumed by the registry dispatcher. Arguments is always a mapping:
//	an unparseable argument payload normalizes to an empty mapping so the
//	dispatcher can report the missing arguments back to the model instead
//	of the call being dropped.
type ToolInvocation struct {
	// Name is the tool to dispatch. Never empty.
	Name string

	// Arguments is the argument mapping. Never nil.
	Arguments map[string]any

	// CallID pairs the eventual tool turn with this call. Synthetic when
	// the source payload carried none.
	CallID string
}

// NormalizeToolCalls recovers tool calls from a model response.
//
// Description:
//
//	Three sources are tried in priority order, stopping at the first that
//	yields at least one call:
//
//	 1. structured: the response's own tool-call list;
//	 2. envelope: a raw tool_calls payload in the OpenAI
//	    {function: {name, arguments}} shape, as returned by the lenient
//	    invocation path;
//	 3. embedded text: JSON following one of three content conventions
//	    (fenced json array, legacy function<> delimiter, bracket-balanced
//	    array scan).
//
//	Calls without a name are dropped: a call must have a name to be
//	actionable. An empty result is a valid outcome meaning the model
//	produced a final answer rather than a tool request.
//
// Inputs:
//   - content: The response's text content. May be empty.
//   - calls: The structured tool-call list. May be nil.
//   - envelope: Raw tool_calls JSON from the lenient path. May be nil.
//
// Outputs:
//   - []ToolInvocation: Normalized calls in source order. Possibly empty,
//     never an error.
func NormalizeToolCalls(content string, calls []llm.ToolCallResponse, envelope json.RawMessage) []ToolInvocation {
	if out := fromStructured(calls); len(out) > 0 {
		return out
	}
	if out := fromEnvelope(envelope); len(out) > 0 {
		return out
	}
	return fromContent(content)
}

// fromStructured normalizes the response's own tool-call list.
func fromStructured(calls []llm.ToolCallResponse) []ToolInvocation {
	out := make([]ToolInvocation, 0, len(calls))
	for _, tc := range calls {
		if tc.Name == "" {
			slog.Debug("dropped nameless structured tool call", slog.String("id", tc.ID))
			continue
		}
		id := tc.ID
		if id == "" {
			id = syntheticCallID()
		}
		out = append(out, ToolInvocation{
			Name:      tc.Name,
			Arguments: normalizeArgs(tc.ArgumentsString()),
			CallID:    id,
		})
	}
	return out
}

// fromEnvelope normalizes a raw tool_calls payload.
//
// Description:
//
//	Accepts both the flat {name, arguments} shape and the OpenAI envelope
//	{id, function: {name, arguments}}. Arguments may be a mapping or a
//	serialized-JSON string; both normalize to a mapping.
func fromEnvelope(envelope json.RawMessage) []ToolInvocation {
	if len(envelope) == 0 {
		return nil
	}
	var items []map[string]any
	if err := json.Unmarshal(envelope, &items); err != nil {
		// Some servers wrap a single call in a bare object.
		var single map[string]any
		if err := json.Unmarshal(envelope, &single); err != nil {
			slog.Debug("tool_calls envelope is not decodable JSON")
			return nil
		}
		items = []map[string]any{single}
	}
	return callsFromObjects(items)
}

// fenced blocks labeled json; non-greedy body so multiple blocks split.
var fencedJSONRe = regexp.MustCompile("(?s)```json\\s*(.*?)```")

// legacy single-call convention: function<...> name ```json {...} ```
var legacyCallRe = regexp.MustCompile("(?s)function<[^>]*>\\s*(\\w+)\\s*```json\\s*(\\{.*?\\})\\s*```")

// fromContent applies the three embedded-text strategies in order.
func fromContent(content string) []ToolInvocation {
	if content == "" {
		return nil
	}

	// Strategy a: fenced json blocks containing a call array.
	for _, m := range fencedJSONRe.FindAllStringSubmatch(content, -1) {
		var items []map[string]any
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &items); err != nil {
			continue
		}
		if out := callsFromObjects(items); len(out) > 0 {
			return out
		}
	}

	// Strategy b: legacy function<> delimiter, one call per match.
	var legacy []ToolInvocation
	for _, m := range legacyCallRe.FindAllStringSubmatch(content, -1) {
		legacy = append(legacy, ToolInvocation{
			Name:      m[1],
			Arguments: normalizeArgs(m[2]),
			CallID:    syntheticCallID(),
		})
	}
	if len(legacy) > 0 {
		return legacy
	}

	// Strategy c: bracket-balanced array scan. Only worth running when a
	// name key appears at all.
	if !strings.Contains(content, `"name"`) {
		return nil
	}
	for offset := 0; offset < len(content); {
		idx := strings.IndexByte(content[offset:], '[')
		if idx < 0 {
			return nil
		}
		idx += offset
		candidate, end := balancedSlice(content, idx)
		if candidate == "" {
			offset = idx + 1
			continue
		}
		var items []map[string]any
		if err := json.Unmarshal([]byte(candidate), &items); err == nil {
			if out := callsFromObjects(items); len(out) > 0 {
				return out
			}
		}
		offset = end
	}
	return nil
}

// callsFromObjects converts decoded call objects into invocations,
// dropping nameless entries.
func callsFromObjects(items []map[string]any) []ToolInvocation {
	var out []ToolInvocation
	for _, item := range items {
		name, args := callFields(item)
		if name == "" {
			continue
		}
		id, _ := item["id"].(string)
		if id == "" {
			id = syntheticCallID()
		}
		out = append(out, ToolInvocation{
			Name:      name,
			Arguments: normalizeArgs(args),
			CallID:    id,
		})
	}
	return out
}

// callFields pulls the name and argument payload out of one call object,
// accepting both the flat and the {function: {...}} envelope shapes, and
// both "arguments" and "args" keys.
func callFields(item map[string]any) (string, any) {
	if fn, ok := item["function"].(map[string]any); ok {
		name, _ := fn["name"].(string)
		args, ok := fn["arguments"]
		if !ok {
			args = fn["args"]
		}
		return name, args
	}
	name, _ := item["name"].(string)
	args, ok := item["arguments"]
	if !ok {
		args = item["args"]
	}
	return name, args
}

// normalizeArgs coerces an argument payload to a mapping.
//
// Description:
//
//	Mappings pass through. Strings are parsed as JSON objects; a string
//	that fails to parse, and any other payload shape, yields an empty
//	mapping rather than an error.
func normalizeArgs(v any) map[string]any {
	switch args := v.(type) {
	case map[string]any:
		if args == nil {
			return map[string]any{}
		}
		return args
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(args), &m); err != nil || m == nil {
			return map[string]any{}
		}
		return m
	default:
		return map[string]any{}
	}
}

// balancedSlice extracts the smallest bracket-balanced slice starting at
// start (which must index a '['). String-aware: brackets inside JSON
// string values do not affect the depth count. Returns the slice and the
// index just past it, or "" when the brackets never balance.
func balancedSlice(s string, start int) (string, int) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth == 0 {
				return s[start : i+1], i + 1
			}
		}
	}
	return "", len(s)
}

func syntheticCallID() string {
	return "call_" + uuid.NewString()
}
