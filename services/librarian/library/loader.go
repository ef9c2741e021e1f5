// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package library

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// frontMatter is the YAML block at the top of an action-word file.
type frontMatter struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Category    string `yaml:"category"`
	Description string `yaml:"description"`
}

var (
	frontMatterRe = regexp.MustCompile(`(?s)\A---\s*\n(.*?)\n---`)

	// Keyword and tag lines appear in both localized and English forms.
	keywordLineRe = regexp.MustCompile(`(?m)^(?:关键词|[Kk]eywords?)\s*[:：]\s*(.+)$`)
	tagLineRe     = regexp.MustCompile(`(?m)^(?:场景标签|[Tt]ags?)\s*[:：]\s*(.+)$`)

	// Parameter tables: a header row mentioning a name column, a separator
	// row, then data rows.
	paramTableRe = regexp.MustCompile(`(?m)^\|\s*(?:参数名|[Nn]ame)[^\n]*\n\|[-:\s|]*\n((?:\|[^\n]*\n?)*)`)
)

// LoadDirectory parses every markdown file under root into a Library.
//
// Description:
//
//	Walks root recursively, parsing each .md file into a Record: YAML
//	front matter (id, name, category, description), keyword and tag lines,
//	and the markdown parameter table. Files that fail to parse are skipped
//	with a warning rather than failing the load; a knowledge base with one
//	malformed entry is still usable.
//
// Inputs:
//   - root: The library root directory.
//
// Outputs:
//   - *Library: The loaded library. Records are ordered by relative path.
//   - error: Non-nil if root cannot be walked or two entries share an id.
func LoadDirectory(root string) (*Library, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".md") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("library: walking %s: %w", root, err)
	}
	sort.Strings(paths)

	records := make([]Record, 0, len(paths))
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("library: skipping unreadable file",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		records = append(records, ParseRecord(string(raw), filepath.ToSlash(rel)))
	}

	lib, err := New(records)
	if err != nil {
		return nil, err
	}
	lib.root = root

	slog.Info("library loaded",
		slog.String("root", root),
		slog.Int("records", lib.Len()),
	)
	return lib, nil
}

// ParseRecord parses one action-word markdown document into a Record.
//
// Description:
//
//	Front-matter fields win over derived values. When the front matter has
//	no id, the file basename (without extension) is used, matching how
//	authors name action-word files after their ids.
func ParseRecord(raw, sourceLocation string) Record {
	rec := Record{
		Raw:            raw,
		SourceLocation: sourceLocation,
	}

	if m := frontMatterRe.FindStringSubmatch(raw); m != nil {
		var fm frontMatter
		if err := yaml.Unmarshal([]byte(m[1]), &fm); err != nil {
			slog.Warn("library: malformed front matter",
				slog.String("source", sourceLocation),
				slog.String("error", err.Error()),
			)
		} else {
			rec.ID = fm.ID
			rec.Name = fm.Name
			rec.Category = fm.Category
			rec.Description = fm.Description
		}
	}

	if rec.ID == "" {
		base := filepath.Base(sourceLocation)
		rec.ID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if rec.Name == "" {
		rec.Name = rec.ID
	}

	if m := keywordLineRe.FindStringSubmatch(raw); m != nil {
		rec.Keywords = splitList(m[1])
	}
	if m := tagLineRe.FindStringSubmatch(raw); m != nil {
		rec.Tags = splitList(m[1])
	}
	rec.Parameters = parseParamTable(raw)

	return rec
}

// splitList splits a comma-separated list, accepting both ASCII and
// full-width commas.
func splitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == '，' || r == ';' || r == '；'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// parseParamTable extracts the markdown parameter table, if present.
func parseParamTable(raw string) []Parameter {
	m := paramTableRe.FindStringSubmatch(raw)
	if m == nil {
		return nil
	}

	var params []Parameter
	for _, line := range strings.Split(strings.TrimSpace(m[1]), "\n") {
		cells := strings.Split(line, "|")
		if len(cells) < 4 {
			continue
		}
		// cells[0] and cells[len-1] are the empty fragments outside the
		// leading and trailing pipes.
		cols := make([]string, 0, len(cells)-2)
		for _, c := range cells[1 : len(cells)-1] {
			cols = append(cols, strings.TrimSpace(c))
		}
		if len(cols) < 2 || cols[0] == "" {
			continue
		}
		p := Parameter{
			Name: strings.Trim(cols[0], "`"),
			Type: cols[1],
		}
		if len(cols) >= 3 {
			p.Required = isAffirmative(cols[2])
		}
		if len(cols) >= 4 {
			p.Default = cols[3]
		}
		if len(cols) >= 5 {
			p.Description = cols[4]
		}
		params = append(params, p)
	}
	return params
}

// isAffirmative reports whether a table cell marks a parameter required.
func isAffirmative(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "true", "required", "是", "必填", "必须":
		return true
	}
	return false
}
