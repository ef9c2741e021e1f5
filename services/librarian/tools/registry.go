// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools exposes the knowledge-base operations bound to the model
// during a librarian session. Every tool takes scalar arguments and returns
// a text report. Tools never return errors: any internal failure (bad
// arguments, bad pattern, no matches) becomes descriptive text, because the
// caller feeds tool output back to the model as conversation content, not
// as a success/failure signal.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var registryTracer = otel.Tracer("librarian.tools")

// ParamType is the JSON Schema type of a tool parameter.
type ParamType string

const (
	ParamTypeString ParamType = "string"
	ParamTypeInt    ParamType = "integer"
	ParamTypeBool   ParamType = "boolean"
)

// ParamDef describes one parameter of a tool.
type ParamDef struct {
	// Type is the JSON Schema type of the parameter.
	Type ParamType

	// Description explains the parameter to the model.
	Description string

	// Required marks parameters the model must supply.
	Required bool

	// Default is used when an optional parameter is absent.
	Default any
}

// ToolDefinition is the model-facing description of a tool.
type ToolDefinition struct {
	// Name is the function name the model will call.
	Name string

	// Description explains what the tool does and when to use it.
	Description string

	// Parameters maps parameter names to their definitions.
	Parameters map[string]ParamDef
}

// Tool is a named, read-only operation over the knowledge base.
//
// Description:
//
//	Execute takes the raw argument mapping produced by the response
//	normalizer and returns a text report. Implementations must not panic
//	and must not return errors: missing arguments, no matches, and other
//	failures are reported as text addressed to the model.
//
// Thread Safety: implementations must be safe for concurrent use; all
// shipped tools are read-only views over an immutable library.
type Tool interface {
	Name() string
	Definition() ToolDefinition
	Execute(ctx context.Context, params map[string]any) string
}

// Registry holds the bound tool set for a session.
//
// Description:
//
//	Preserves registration order for Definitions (the order tools are
//	presented to the model) and dispatches invocations by name. Dispatch
//	follows the same never-fail contract as Tool.Execute: unknown names
//	and tool panics produce text reports.
//
// Thread Safety: Registry is immutable after construction. Safe for
// concurrent use.
type Registry struct {
	order  []Tool
	byName map[string]Tool
	logger *slog.Logger
}

// NewRegistry builds a Registry from tools in presentation order.
// Later registrations with a duplicate name are ignored.
func NewRegistry(toolList ...Tool) *Registry {
	r := &Registry{
		byName: make(map[string]Tool, len(toolList)),
		logger: slog.Default(),
	}
	for _, t := range toolList {
		if _, dup := r.byName[t.Name()]; dup {
			r.logger.Warn("duplicate tool registration ignored", "tool", t.Name())
			continue
		}
		r.order = append(r.order, t)
		r.byName[t.Name()] = t
	}
	return r
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// Definitions returns the tool definitions in registration order.
func (r *Registry) Definitions() []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(r.order))
	for _, t := range r.order {
		defs = append(defs, t.Definition())
	}
	return defs
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.order))
	for _, t := range r.order {
		names = append(names, t.Name())
	}
	return names
}

// Dispatch executes the named tool and returns its text report.
//
// Description:
//
//	Unknown tool names produce a text report listing the available tools so
//	the model can self-correct on the next turn. A panicking tool is
//	recovered and reported as text; the session keeps running.
func (r *Registry) Dispatch(ctx context.Context, name string, params map[string]any) (report string) {
	ctx, span := registryTracer.Start(ctx, "tools.dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", name))

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool panicked", "tool", name, "panic", rec)
			report = fmt.Sprintf("Tool %s failed internally: %v. Try a different tool or different arguments.", name, rec)
		}
	}()

	t, ok := r.byName[name]
	if !ok {
		return fmt.Sprintf("Unknown tool %q. Available tools: %s.", name, strings.Join(r.Names(), ", "))
	}

	report = t.Execute(ctx, params)
	span.SetAttributes(attribute.Int("tool.report_bytes", len(report)))
	return report
}

// stringParam extracts a string argument, tolerating absent or
// wrongly-typed values. Non-string scalars are formatted with fmt so a
// model that sends a number where a string belongs still gets served.
func stringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key]
	if !ok || v == nil {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, s != ""
	default:
		formatted := fmt.Sprintf("%v", s)
		return formatted, formatted != ""
	}
}

// splitTerms splits a model-supplied list on ASCII and full-width commas
// and semicolons, trimming whitespace and dropping empties.
func splitTerms(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == '，' || r == ';' || r == '；'
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
