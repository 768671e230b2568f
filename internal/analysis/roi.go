// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analysis

import (
	"math"
	"sort"
)

const (
	roiMinDecisionsPerMode = 5
	roiOverrideWeight      = 0.4
	roiCompletionWeight    = 0.4
	roiCoherenceWeight     = 0.2
	roiConfidenceHighTotal = 50
	roiConfidenceMedTotal  = 20
)

// ModeInterval is one span during which a single control mode was
// active, derived from control_mode_change audit entries.
type ModeInterval struct {
	Mode      string
	StartTick int64
	EndTick   int64 // exclusive; math.MaxInt64 for the currently active mode
}

// ModeStats is the attributed activity and derived score for one
// control mode across all of its intervals.
type ModeStats struct {
	Mode               string
	Decisions          int
	Overrides          int
	CompletedClean     int
	CompletedPartial   int
	Abandoned          int
	CoherenceIssues    int
	ArtifactUpdates    int
	OverrideRate       float64
	CompletionRate     float64
	CoherenceIssueRate float64
	Score              float64
	Eligible           bool
}

// ROIReport is the control-mode ROI service's output.
type ROIReport struct {
	Modes           []ModeStats
	RecommendedMode string
	Confidence      Confidence
	TotalDecisions  int
}

// AnalyzeControlModeROI builds mode intervals from control_mode_change
// audit entries, attributes trust outcomes, decisions, and coherence
// issues to whichever mode was active at their tick, and recommends
// the highest-scoring mode among those with enough decisions to
// compare (spec.md §4.6).
func AnalyzeControlModeROI(reader AuditReader) ROIReport {
	intervals := buildModeIntervals(reader)
	if len(intervals) == 0 {
		return ROIReport{Confidence: ConfidenceLow}
	}

	statsByMode := make(map[string]*ModeStats)
	modeFor := func(tick int64) string {
		for _, iv := range intervals {
			if tick >= iv.StartTick && tick < iv.EndTick {
				return iv.Mode
			}
		}
		return ""
	}
	ensure := func(mode string) *ModeStats {
		s, ok := statsByMode[mode]
		if !ok {
			s = &ModeStats{Mode: mode}
			statsByMode[mode] = s
		}
		return s
	}
	for _, iv := range intervals {
		ensure(iv.Mode)
	}

	total := 0
	for _, e := range reader.ListAuditLog("decision", "") {
		if e.Action != "enqueued" {
			continue
		}
		tick, ok := detailTick(e.Details)
		if !ok {
			continue
		}
		mode := modeFor(tick)
		if mode == "" {
			continue
		}
		ensure(mode).Decisions++
		total++
	}

	for _, e := range reader.ListAuditLog("trust_outcome", "") {
		tick, ok := detailTick(e.Details)
		if !ok {
			continue
		}
		mode := modeFor(tick)
		if mode == "" {
			continue
		}
		s := ensure(mode)
		switch {
		case isOverrideOutcome(e.Action):
			s.Overrides++
		case e.Action == "task_completed_clean":
			s.CompletedClean++
		case e.Action == "task_completed_partial":
			s.CompletedPartial++
		case e.Action == "task_abandoned_or_max_turns":
			s.Abandoned++
		}
	}

	for _, e := range reader.ListAuditLog("coherence_event", "") {
		tick, ok := detailTick(e.Details)
		if !ok {
			continue
		}
		if mode := modeFor(tick); mode != "" {
			ensure(mode).CoherenceIssues++
		}
	}

	for _, e := range reader.ListAuditLog("artifact", "") {
		if e.Action != "updated" {
			continue
		}
		tick, ok := detailTick(e.Details)
		if !ok {
			continue
		}
		if mode := modeFor(tick); mode != "" {
			ensure(mode).ArtifactUpdates++
		}
	}

	modes := make([]string, 0, len(statsByMode))
	for m := range statsByMode {
		modes = append(modes, m)
	}
	sort.Strings(modes)

	report := ROIReport{TotalDecisions: total}
	bestScore := -1.0
	for _, m := range modes {
		s := statsByMode[m]
		s.Eligible = s.Decisions >= roiMinDecisionsPerMode
		if s.Decisions > 0 {
			s.OverrideRate = float64(s.Overrides) / float64(s.Decisions)
		}
		completedTotal := s.CompletedClean + s.CompletedPartial + s.Abandoned
		if completedTotal > 0 {
			s.CompletionRate = float64(s.CompletedClean+s.CompletedPartial) / float64(completedTotal)
		}
		if s.ArtifactUpdates > 0 {
			s.CoherenceIssueRate = math.Min(1.0, float64(s.CoherenceIssues)/float64(s.ArtifactUpdates))
		}
		s.Score = roiOverrideWeight*(1-s.OverrideRate) + roiCompletionWeight*s.CompletionRate + roiCoherenceWeight*(1-s.CoherenceIssueRate)

		report.Modes = append(report.Modes, *s)
		if s.Eligible && s.Score > bestScore {
			bestScore = s.Score
			report.RecommendedMode = s.Mode
		}
	}

	switch {
	case total >= roiConfidenceHighTotal:
		report.Confidence = ConfidenceHigh
	case total >= roiConfidenceMedTotal:
		report.Confidence = ConfidenceMedium
	default:
		report.Confidence = ConfidenceLow
	}
	return report
}

func buildModeIntervals(reader AuditReader) []ModeInterval {
	entries := reader.ListAuditLog("control_mode_change", "")
	type change struct {
		mode string
		tick int64
	}
	changes := make([]change, 0, len(entries))
	for _, e := range entries {
		tick, ok := detailTick(e.Details)
		if !ok {
			continue
		}
		mode := detailString(e.Details, "mode")
		if mode == "" {
			continue
		}
		changes = append(changes, change{mode: mode, tick: tick})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].tick < changes[j].tick })

	intervals := make([]ModeInterval, 0, len(changes))
	for i, c := range changes {
		end := int64(math.MaxInt64)
		if i+1 < len(changes) {
			end = changes[i+1].tick
		}
		intervals = append(intervals, ModeInterval{Mode: c.mode, StartTick: c.tick, EndTick: end})
	}
	return intervals
}
