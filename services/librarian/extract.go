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

	"github.com/AleutianAI/librarian/services/librarian/library"
	"github.com/AleutianAI/librarian/services/librarian/rank"
)

// supplementedReason marks candidates the ranker backfilled rather than
// the model proposed.
const supplementedReason = "supplemented by lexical relevance ranking"

// CandidateParam is one parameter of a proposed action word.
type CandidateParam struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Candidate is one proposed match between a query and a record.
//
// Description:
//
//	Model-proposed entries start untrusted: the extractor validates the
//	id against the library and enriches the entry with query metadata
//	before it reaches output. Backfilled entries are built from the
//	record definition directly.
type Candidate struct {
	StepID      string           `json:"step_id,omitempty"`
	Description string           `json:"description,omitempty"`
	ActionKind  string           `json:"action_type,omitempty"`
	AWID        string           `json:"aw_id"`
	AWName      string           `json:"aw_name"`
	Parameters  []CandidateParam `json:"parameters"`
	Reason      string           `json:"reason,omitempty"`
}

// rawCandidate is the untrusted shape the model emits. Placeholder
// sentinels in aw_id and aw_name are filtered during validation.
type rawCandidate struct {
	AWID       string     `json:"aw_id"`
	AWName     string     `json:"aw_name"`
	Parameters []rawParam `json:"parameters"`
	Reason     string     `json:"reason"`
}

type rawParam struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// joinTranscript concatenates turn contents for extraction.
func joinTranscript(parts []string) string {
	return strings.Join(parts, "\n")
}

// ExtractCandidates builds the final candidate list for one query.
//
// Description:
//
//	Pulls candidate arrays out of the transcript with strategies
//	mirroring the normalizer's embedded-text handling, validates every
//	entry against the library, and tops the list up to
//	min(topN, records) with ranker backfill. An explicit empty array in
//	the transcript is an intentional "no match" and bypasses backfill.
//
// Inputs:
//   - transcript: All turn contents joined, assistant and tool alike.
//   - query: The originating query, copied into each candidate.
//   - lib: The record collection ids are validated against.
//   - ranker: The lexical index used for deterministic backfill.
//   - topN: The guaranteed result size when enough records exist.
//
// Outputs:
//   - []Candidate: min(topN, lib.Len()) entries, or empty on an explicit
//     no-match answer. Never nil.
func ExtractCandidates(transcript string, query Query, lib *library.Library,
	ranker *rank.Index, topN int) []Candidate {

	raws, found := extractRawCandidates(transcript)
	if !found && containsEmptyArray(transcript) {
		slog.Debug("explicit empty candidate array", "query_id", query.ID)
		return []Candidate{}
	}

	target := topN
	if lib.Len() < target {
		target = lib.Len()
	}

	out := make([]Candidate, 0, target)
	used := make(map[string]bool, target)

	for _, raw := range raws {
		if len(out) >= target {
			break
		}
		ref := raw.AWID
		if isSentinel(ref) {
			ref = raw.AWName
		}
		if isSentinel(ref) {
			continue
		}
		rec, ok := lib.Resolve(ref)
		if !ok {
			slog.Debug("dropped candidate with unknown id", "ref", ref, "query_id", query.ID)
			continue
		}
		if used[rec.ID] {
			continue
		}
		used[rec.ID] = true

		params := make([]CandidateParam, 0, len(raw.Parameters))
		for _, p := range raw.Parameters {
			if p.Name == "" {
				continue
			}
			params = append(params, CandidateParam{Name: p.Name, Type: p.Type})
		}
		out = append(out, Candidate{
			StepID:      query.ID,
			Description: query.Description,
			ActionKind:  query.ActionKind,
			AWID:        rec.ID,
			AWName:      rec.Name,
			Parameters:  params,
			Reason:      raw.Reason,
		})
	}
	candidatesTotal.WithLabelValues("model").Add(float64(len(out)))

	// Top-N guarantee: rank unused records against the query description
	// and fill the remainder in descending relevance, input order on ties.
	if len(out) < target {
		backfilled := 0
		for _, id := range ranker.Rank(query.Description, used) {
			if len(out) >= target {
				break
			}
			rec, ok := lib.GetByID(id)
			if !ok {
				continue
			}
			used[rec.ID] = true
			out = append(out, Candidate{
				StepID:      query.ID,
				Description: query.Description,
				ActionKind:  query.ActionKind,
				AWID:        rec.ID,
				AWName:      rec.Name,
				Parameters:  recordParams(rec),
				Reason:      supplementedReason,
			})
			backfilled++
		}
		candidatesTotal.WithLabelValues("backfill").Add(float64(backfilled))
	}
	return out
}

// recordParams copies a record's declared parameters verbatim.
func recordParams(rec library.Record) []CandidateParam {
	params := make([]CandidateParam, 0, len(rec.Parameters))
	for _, p := range rec.Parameters {
		params = append(params, CandidateParam{Name: p.Name, Type: p.Type})
	}
	return params
}

// isSentinel reports whether a reference field is empty or a placeholder
// the model emits when it has nothing real to say.
func isSentinel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unknown", "none", "null", "n/a":
		return true
	}
	return false
}

// extractRawCandidates pulls the first well-formed, non-empty candidate
// array out of the transcript.
//
// Description:
//
//	Strategies in strict first-match order: fenced json blocks, generic
//	fenced blocks starting with an array or object, then a
//	bracket-balanced scan anchored on aw_id/aw_name keys. The first
//	strategy yielding a non-empty array wins; later strategies never run,
//	so overlapping matches cannot produce inconsistent sets.
func extractRawCandidates(transcript string) ([]rawCandidate, bool) {
	for _, m := range fencedJSONRe.FindAllStringSubmatch(transcript, -1) {
		if raws, ok := decodeCandidateArray(strings.TrimSpace(m[1])); ok {
			return raws, true
		}
	}

	for _, m := range genericFencedRe.FindAllStringSubmatch(transcript, -1) {
		body := strings.TrimSpace(m[1])
		if body == "" || (body[0] != '[' && body[0] != '{') {
			continue
		}
		if raws, ok := decodeCandidateArray(body); ok {
			return raws, true
		}
	}

	if !strings.Contains(transcript, `"aw_id"`) && !strings.Contains(transcript, `"aw_name"`) {
		return nil, false
	}
	for offset := 0; offset < len(transcript); {
		idx := strings.IndexByte(transcript[offset:], '[')
		if idx < 0 {
			break
		}
		idx += offset
		candidate, end := balancedSlice(transcript, idx)
		if candidate == "" {
			offset = idx + 1
			continue
		}
		if strings.Contains(candidate, `"aw_id"`) || strings.Contains(candidate, `"aw_name"`) {
			if raws, ok := decodeCandidateArray(candidate); ok {
				return raws, true
			}
		}
		offset = end
	}
	return nil, false
}

// decodeCandidateArray parses one body as a candidate array. A single
// object is accepted as a one-element array. Empty arrays do not count as
// a match so later strategies still get a chance.
func decodeCandidateArray(body string) ([]rawCandidate, bool) {
	var raws []rawCandidate
	if err := json.Unmarshal([]byte(body), &raws); err != nil {
		var single rawCandidate
		if err := json.Unmarshal([]byte(body), &single); err != nil {
			return nil, false
		}
		if isSentinel(single.AWID) && isSentinel(single.AWName) {
			return nil, false
		}
		return []rawCandidate{single}, true
	}
	if len(raws) == 0 {
		return nil, false
	}
	return raws, true
}

// genericFencedRe matches any fenced block regardless of language label.
var genericFencedRe = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n?(.*?)```")

// containsEmptyArray reports whether the transcript contains a bare empty
// array token, the model's explicit "no match" answer.
func containsEmptyArray(transcript string) bool {
	return emptyArrayRe.MatchString(transcript)
}

var emptyArrayRe = regexp.MustCompile(`\[\s*\]`)
