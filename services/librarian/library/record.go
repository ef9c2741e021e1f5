// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package library holds the action-word knowledge base: the Record model,
// the markdown loader that produces Records, and an in-memory Library with
// id/name lookup. Records are immutable once loaded; the rest of the system
// only ever reads them.
package library

import (
	"fmt"
	"strings"
)

// Parameter describes one declared parameter of an action word.
type Parameter struct {
	// Name is the parameter identifier (e.g. "projectName").
	Name string `json:"name" yaml:"name"`

	// Type is the declared value type (e.g. "string", "int").
	Type string `json:"type" yaml:"type"`

	// Required reports whether the parameter must be supplied.
	Required bool `json:"required,omitempty" yaml:"required,omitempty"`

	// Default is the default value, if any, as written in the source file.
	Default string `json:"default,omitempty" yaml:"default,omitempty"`

	// Description is the free-text parameter description.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Record is one knowledge-base entry describing a reusable action word.
//
// Description:
//
//	A Record is produced by the loader (or supplied directly by the caller)
//	and never mutated afterwards. IDs must be unique and stable for the
//	duration of a session; the Library constructor enforces uniqueness.
//
// Thread Safety: Record is immutable after construction and safe for
// concurrent read access.
type Record struct {
	// ID is the unique, stable identifier (e.g. "aw_createProject").
	ID string `json:"id"`

	// Name is the human-readable name (often localized).
	Name string `json:"name"`

	// Category groups related action words (e.g. "API", "UI").
	Category string `json:"category,omitempty"`

	// Description is the free-text summary of what the action does.
	Description string `json:"description,omitempty"`

	// Keywords are the search keywords declared in the source file.
	Keywords []string `json:"keywords,omitempty"`

	// Tags are the scenario tags declared in the source file.
	Tags []string `json:"tags,omitempty"`

	// Parameters are the declared parameters, in source order.
	Parameters []Parameter `json:"parameters,omitempty"`

	// SourceLocation is the path of the source file, relative to the
	// library root.
	SourceLocation string `json:"source_location,omitempty"`

	// Raw is the full source text of the entry. Used by the read-oriented
	// tools so they never have to touch the filesystem again.
	Raw string `json:"-"`
}

// Library is a read-only collection of Records with id and name lookup.
//
// Thread Safety: Library is immutable after construction via New and safe
// for concurrent use without synchronization.
type Library struct {
	records []Record
	byID    map[string]int
	byName  map[string]int
	root    string
}

// New builds a Library from a slice of Records.
//
// Description:
//
//	Records keep their input order; that order is the stable tie-break used
//	by the ranking fallback. Duplicate IDs are rejected because every
//	downstream guarantee (dedup, top-N validation) assumes id uniqueness.
//
// Inputs:
//   - records: The pre-parsed records. May be empty.
//
// Outputs:
//   - *Library: The constructed library.
//   - error: Non-nil if two records share an ID.
func New(records []Record) (*Library, error) {
	byID := make(map[string]int, len(records))
	byName := make(map[string]int, len(records))
	for i, r := range records {
		if r.ID == "" {
			return nil, fmt.Errorf("library: record %d has an empty id", i)
		}
		if prev, ok := byID[r.ID]; ok {
			return nil, fmt.Errorf("library: duplicate record id %q (records %d and %d)", r.ID, prev, i)
		}
		byID[r.ID] = i
		if r.Name != "" {
			if _, ok := byName[r.Name]; !ok {
				byName[r.Name] = i
			}
		}
	}
	return &Library{records: records, byID: byID, byName: byName}, nil
}

// Root returns the library root directory recorded by the loader, or ""
// when the records were supplied directly.
func (l *Library) Root() string {
	return l.root
}

// Len returns the number of records.
func (l *Library) Len() int {
	return len(l.records)
}

// Records returns the records in stable input order. Callers must not
// modify the returned slice.
func (l *Library) Records() []Record {
	return l.records
}

// GetByID returns the record with the given id.
func (l *Library) GetByID(id string) (Record, bool) {
	i, ok := l.byID[id]
	if !ok {
		return Record{}, false
	}
	return l.records[i], true
}

// GetByName returns the first record with the given display name.
func (l *Library) GetByName(name string) (Record, bool) {
	i, ok := l.byName[name]
	if !ok {
		return Record{}, false
	}
	return l.records[i], true
}

// Resolve maps an id-or-name reference to a record.
//
// Description:
//
//	Tries the reference as an exact id, then as an exact display name.
//	This mirrors how model output is validated: a candidate may carry only
//	an aw_name, and that is still a legitimate reference to a real record.
func (l *Library) Resolve(ref string) (Record, bool) {
	if r, ok := l.GetByID(ref); ok {
		return r, true
	}
	return l.GetByName(ref)
}

// ResolveFuzzy resolves a path-or-id reference with a basename fallback.
//
// Description:
//
//	Resolution order: exact source path, exact id, exact name, then a
//	case-insensitive substring match of the reference's basename (with any
//	".md" suffix stripped) against record ids and source basenames. The
//	first record in input order wins, keeping the result deterministic.
func (l *Library) ResolveFuzzy(ref string) (Record, bool) {
	for _, r := range l.records {
		if r.SourceLocation == ref {
			return r, true
		}
	}
	if r, ok := l.Resolve(ref); ok {
		return r, true
	}

	base := ref
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	base = strings.ToLower(strings.TrimSuffix(base, ".md"))
	if base == "" {
		return Record{}, false
	}
	for _, r := range l.records {
		srcBase := r.SourceLocation
		if i := strings.LastIndexAny(srcBase, `/\`); i >= 0 {
			srcBase = srcBase[i+1:]
		}
		srcBase = strings.ToLower(strings.TrimSuffix(srcBase, ".md"))
		if strings.Contains(strings.ToLower(r.ID), base) || strings.Contains(srcBase, base) {
			return r, true
		}
	}
	return Record{}, false
}
