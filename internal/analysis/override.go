// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analysis

import "sort"

// burstWindowTicks and burstMinCount implement spec.md §4.6's
// temporal-burst definition: a window of 5 ticks containing more than
// 3 overrides.
const (
	burstWindowTicks = 5
	burstMinCount    = 3
)

// OverrideEvent is one override-shaped trust_outcome audit entry.
type OverrideEvent struct {
	AgentID      string
	Outcome      string
	Tick         int64
	Workstreams  []string
	ToolCategory string
}

// TemporalBurst is a contiguous run of ticks with an unusually high
// concentration of overrides.
type TemporalBurst struct {
	StartTick int64
	EndTick   int64
	Count     int
}

// OverridePattern is the grouped view of every override in the audit
// log, per spec.md §4.6.
type OverridePattern struct {
	Total          int
	ByAgent        map[string]int
	ByWorkstream   map[string]int
	ByToolCategory map[string]int
	Bursts         []TemporalBurst
}

// AnalyzeOverrides groups trust_outcome entries that represent a human
// override by workstream, tool category, and agent, and flags temporal
// bursts.
func AnalyzeOverrides(reader AuditReader) OverridePattern {
	events := collectOverrideEvents(reader)

	pat := OverridePattern{
		ByAgent:        make(map[string]int),
		ByWorkstream:   make(map[string]int),
		ByToolCategory: make(map[string]int),
	}
	for _, e := range events {
		pat.Total++
		pat.ByAgent[e.AgentID]++
		for _, ws := range e.Workstreams {
			pat.ByWorkstream[ws]++
		}
		if e.ToolCategory != "" {
			pat.ByToolCategory[e.ToolCategory]++
		}
	}
	pat.Bursts = detectBursts(events)
	return pat
}

func collectOverrideEvents(reader AuditReader) []OverrideEvent {
	entries := reader.ListAuditLog("trust_outcome", "")
	events := make([]OverrideEvent, 0, len(entries))
	for _, entry := range entries {
		if !isOverrideOutcome(entry.Action) {
			continue
		}
		tick, _ := detailTick(entry.Details)
		events = append(events, OverrideEvent{
			AgentID:      entry.EntityID,
			Outcome:      entry.Action,
			Tick:         tick,
			Workstreams:  detailStringSlice(entry.Details, "workstreams"),
			ToolCategory: detailString(entry.Details, "tool_category"),
		})
	}
	return events
}

// detectBursts scans non-overlapping 5-tick windows anchored at each
// distinct tick an override occurred, reporting any window whose
// override count exceeds burstMinCount.
func detectBursts(events []OverrideEvent) []TemporalBurst {
	if len(events) == 0 {
		return nil
	}
	ticks := make([]int64, len(events))
	for i, e := range events {
		ticks[i] = e.Tick
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i] < ticks[j] })

	var bursts []TemporalBurst
	i := 0
	for i < len(ticks) {
		start := ticks[i]
		end := start + burstWindowTicks - 1
		count := 0
		j := i
		for j < len(ticks) && ticks[j] <= end {
			count++
			j++
		}
		if count > burstMinCount {
			bursts = append(bursts, TemporalBurst{StartTick: start, EndTick: end, Count: count})
		}
		i = j
	}
	return bursts
}
