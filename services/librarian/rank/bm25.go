// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rank provides the lexical relevance scorer used to backfill
// candidate lists: Okapi BM25 over record keywords, names, and
// descriptions, normalized to [0, 1].
package rank

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/AleutianAI/librarian/services/librarian/library"
)

// BM25 tuning constants. Standard values recommended by Robertson et al.
const (
	// bm25K1 controls term frequency saturation. Higher = slower saturation.
	bm25K1 = 1.5

	// bm25B controls document length normalization.
	// 0 = no normalization, 1 = full normalization. 0.75 is the standard default.
	bm25B = 0.75
)

// bm25Doc holds the BM25 representation of a single record's corpus.
type bm25Doc struct {
	// id is the record identifier.
	id string

	// tf maps each term to its frequency within the record's document.
	tf map[string]int

	// len is the total number of terms in this record's document.
	len int
}

// Index is a pre-built BM25 index over a record collection.
//
// # Description
//
// Each record's "document" is the concatenation of its id, name, keywords,
// tags, and description. At query time BM25 produces a score per record
// proportional to how well its document matches the query terms, weighted
// by term rarity (IDF). Scores are normalized to [0, 1], so the score is
// monotonic in keyword/description term overlap, which is the contract the
// candidate extractor's backfill relies on.
//
// # Thread Safety
//
// Index is immutable after construction via BuildIndex. Safe for concurrent
// use without additional synchronization.
type Index struct {
	docs   []bm25Doc
	idf    map[string]float64
	avgLen float64
}

// BuildIndex constructs a BM25 Index from a record collection.
//
// # Inputs
//
//   - records: Records to index, in stable input order. Empty input yields
//     a valid index producing zero scores for all queries.
//
// # Outputs
//
//   - *Index: The constructed index. Never nil.
func BuildIndex(records []library.Record) *Index {
	if len(records) == 0 {
		return &Index{idf: make(map[string]float64)}
	}

	docs := make([]bm25Doc, 0, len(records))
	totalLen := 0

	// df[term] = number of records whose document contains term.
	df := make(map[string]int)

	for _, rec := range records {
		doc := buildDoc(rec)
		docs = append(docs, doc)
		totalLen += doc.len
		for term := range doc.tf {
			df[term]++
		}
	}

	n := len(docs)
	avgLen := float64(totalLen) / float64(n)

	// Lucene-style smoothing: log((N+1)/(df+1)) + 1, always >= 1.
	idf := make(map[string]float64, len(df))
	for term, docFreq := range df {
		idf[term] = math.Log(float64(n+1)/float64(docFreq+1)) + 1.0
	}

	return &Index{docs: docs, idf: idf, avgLen: avgLen}
}

// buildDoc tokenizes one record into a bm25Doc.
func buildDoc(rec library.Record) bm25Doc {
	parts := make([]string, 0, len(rec.Keywords)+len(rec.Tags)+3)
	parts = append(parts, rec.ID, rec.Name)
	parts = append(parts, rec.Keywords...)
	parts = append(parts, rec.Tags...)
	if rec.Description != "" {
		parts = append(parts, rec.Description)
	}

	tf := make(map[string]int)
	total := 0
	for _, term := range Tokenize(strings.Join(parts, " ")) {
		tf[term]++
		total++
	}

	return bm25Doc{id: rec.ID, tf: tf, len: total}
}

// Score computes normalized BM25 scores for every record given a query.
//
// # Description
//
// Tokenizes the query, scores each record's document, and normalizes by the
// maximum score so results land in [0, 1]. Records with zero score are
// omitted from the result.
//
// # Thread Safety
//
// Safe for concurrent use. Does not modify the index.
func (idx *Index) Score(query string) map[string]float64 {
	if query == "" || len(idx.docs) == 0 {
		return map[string]float64{}
	}
	terms := Tokenize(query)
	if len(terms) == 0 {
		return map[string]float64{}
	}

	scores := make(map[string]float64, len(idx.docs))
	var maxScore float64
	for _, doc := range idx.docs {
		s := idx.scoreDoc(terms, doc)
		if s > 0 {
			scores[doc.id] = s
			if s > maxScore {
				maxScore = s
			}
		}
	}
	if maxScore > 0 {
		for id, s := range scores {
			scores[id] = s / maxScore
		}
	}
	return scores
}

// Rank orders record ids by descending relevance to the query.
//
// # Description
//
// Records absent from the exclude set are ordered by BM25 score descending;
// ties (including the all-zero case) are broken by stable input order. The
// result therefore always lists every non-excluded record, which is what a
// deterministic backfill needs: even a query with no lexical overlap still
// yields a complete, reproducible ordering.
func (idx *Index) Rank(query string, exclude map[string]bool) []string {
	scores := idx.Score(query)

	type ranked struct {
		id    string
		score float64
		pos   int
	}
	out := make([]ranked, 0, len(idx.docs))
	for i, doc := range idx.docs {
		if exclude[doc.id] {
			continue
		}
		out = append(out, ranked{id: doc.id, score: scores[doc.id], pos: i})
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].score != out[b].score {
			return out[a].score > out[b].score
		}
		return out[a].pos < out[b].pos
	})

	ids := make([]string, len(out))
	for i, r := range out {
		ids[i] = r.id
	}
	return ids
}

// scoreDoc computes the raw BM25 score of one document for the query terms.
func (idx *Index) scoreDoc(terms []string, doc bm25Doc) float64 {
	if doc.len == 0 {
		return 0
	}
	norm := bm25K1 * (1 - bm25B + bm25B*float64(doc.len)/idx.avgLen)

	seen := make(map[string]bool, len(terms))
	var score float64
	for _, t := range terms {
		if seen[t] {
			continue
		}
		seen[t] = true
		tf := doc.tf[t]
		if tf == 0 {
			continue
		}
		score += idx.idf[t] * (float64(tf) * (bm25K1 + 1)) / (float64(tf) + norm)
	}
	return score
}

// Tokenize splits text into BM25 terms.
//
// # Description
//
// Latin-script runs are lowercased, split on non-alphanumeric delimiters,
// and additionally split on camelCase boundaries ("createProject" yields
// "createproject", "create", "project"). Han runs have no delimiters, so
// each rune and each adjacent bigram becomes a term; bigrams approximate
// Chinese words well enough for keyword overlap ("创建项目" yields 创, 建,
// 项, 目, 创建, 建项, 项目).
func Tokenize(text string) []string {
	var terms []string

	flushLatin := func(word []rune) {
		if len(word) == 0 {
			return
		}
		terms = append(terms, strings.ToLower(string(word)))
		// camelCase split: emit each lowercase sub-word as well.
		start := 0
		for i := 1; i < len(word); i++ {
			if unicode.IsUpper(word[i]) && !unicode.IsUpper(word[i-1]) {
				if i-start > 1 {
					terms = append(terms, strings.ToLower(string(word[start:i])))
				}
				start = i
			}
		}
		if start > 0 && len(word)-start > 1 {
			terms = append(terms, strings.ToLower(string(word[start:])))
		}
	}

	flushHan := func(run []rune) {
		for i := range run {
			terms = append(terms, string(run[i]))
			if i+1 < len(run) {
				terms = append(terms, string(run[i:i+2]))
			}
		}
	}

	var latin, han []rune
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flushLatin(latin)
			latin = latin[:0]
			han = append(han, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushHan(han)
			han = han[:0]
			latin = append(latin, r)
		default:
			flushLatin(latin)
			latin = latin[:0]
			flushHan(han)
			han = han[:0]
		}
	}
	flushLatin(latin)
	flushHan(han)

	return terms
}
