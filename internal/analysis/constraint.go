// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analysis

import "sort"

const (
	constraintWorkstreamOverrideMin = 3
	constraintToolOverrideMin       = 3
	constraintCoherencePairMin      = 2
	constraintConfidenceHighCount   = 5
	constraintConfidenceMedCount    = 3
)

// ConstraintKind distinguishes the data-driven constraint suggestions
// the inference pass can surface.
type ConstraintKind string

const (
	ConstraintWorkstreamOverrides ConstraintKind = "workstream_overrides"
	ConstraintToolOverrides       ConstraintKind = "tool_overrides"
	ConstraintWorkstreamPair      ConstraintKind = "workstream_pair_coherence"
)

// ConstraintSuggestion is one data-driven suggestion for a new
// guardrail, derived purely from accumulated audit-log counts.
type ConstraintSuggestion struct {
	Kind       ConstraintKind
	Key        string
	Count      int
	Confidence Confidence
}

// InferConstraints surfaces suggestions when a workstream or tool
// category accumulates at least 3 overrides, or a workstream pair
// accumulates at least 2 coherence issues (spec.md §4.6).
func InferConstraints(reader AuditReader) []ConstraintSuggestion {
	pattern := AnalyzeOverrides(reader)
	pairCounts := workstreamPairCoherenceCounts(reader)

	var out []ConstraintSuggestion
	for ws, count := range pattern.ByWorkstream {
		if count >= constraintWorkstreamOverrideMin {
			out = append(out, ConstraintSuggestion{Kind: ConstraintWorkstreamOverrides, Key: ws, Count: count, Confidence: constraintConfidence(count)})
		}
	}
	for tool, count := range pattern.ByToolCategory {
		if count >= constraintToolOverrideMin {
			out = append(out, ConstraintSuggestion{Kind: ConstraintToolOverrides, Key: tool, Count: count, Confidence: constraintConfidence(count)})
		}
	}
	for pair, count := range pairCounts {
		if count >= constraintCoherencePairMin {
			out = append(out, ConstraintSuggestion{Kind: ConstraintWorkstreamPair, Key: pair, Count: count, Confidence: constraintConfidence(count)})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func constraintConfidence(count int) Confidence {
	switch {
	case count >= constraintConfidenceHighCount:
		return ConfidenceHigh
	case count >= constraintConfidenceMedCount:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// workstreamPairCoherenceCounts tallies coherence_event entries by the
// sorted pair of workstreams they affect, skipping events that touch
// fewer than two distinct workstreams.
func workstreamPairCoherenceCounts(reader AuditReader) map[string]int {
	counts := make(map[string]int)
	for _, e := range reader.ListAuditLog("coherence_event", "") {
		ws := detailStringSlice(e.Details, "workstreams")
		unique := dedupeSorted(ws)
		if len(unique) < 2 {
			continue
		}
		// Spec-level pairs are unordered; tally every combination when
		// an event spans more than two workstreams.
		for i := 0; i < len(unique); i++ {
			for j := i + 1; j < len(unique); j++ {
				counts[unique[i]+"|"+unique[j]]++
			}
		}
	}
	return counts
}

func dedupeSorted(ss []string) []string {
	seen := make(map[string]struct{}, len(ss))
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
