// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analysis

import "fmt"

const (
	retroMaxInsights          = 5
	retroOverrideRateAdjust   = 0.3
	retroCoherenceCountAdjust = 3
)

// WindowStats tallies activity over a closed tick interval
// [FromTick, ToTick].
type WindowStats struct {
	FromTick         int64
	ToTick           int64
	Decisions        int
	Overrides        int
	CoherenceIssues  int
	ArtifactUpdates  int
	PositiveOutcomes int
	NegativeOutcomes int
	NeutralOutcomes  int
	ByWorkstream     map[string]int // overrides by workstream, for the top-override insight
}

// Insight is a single human-readable observation about a window.
type Insight struct {
	Kind        string
	Description string
}

// Retrospective is the output of one retrospective run: the current
// window's stats, optionally the preceding window for trend
// comparison, up to five derived insights, and a suggested-adjustment
// flag.
type Retrospective struct {
	Current           WindowStats
	Previous          *WindowStats
	Insights          []Insight
	SuggestAdjustment bool
	AdjustmentReasons []string
}

// AnalyzeRetrospective computes a retrospective for [fromTick, toTick].
// When includePrevious is true, it also computes stats for the
// equal-length window immediately preceding fromTick, used for the
// coherence-trend insight.
func AnalyzeRetrospective(reader AuditReader, fromTick, toTick int64, includePrevious bool) Retrospective {
	current := windowStats(reader, fromTick, toTick)
	retro := Retrospective{Current: current}

	if includePrevious {
		length := toTick - fromTick
		prevFrom, prevTo := fromTick-length-1, fromTick-1
		prev := windowStats(reader, prevFrom, prevTo)
		retro.Previous = &prev
	}

	retro.Insights = deriveInsights(retro)

	if current.Decisions > 0 && float64(current.Overrides)/float64(current.Decisions) > retroOverrideRateAdjust {
		retro.SuggestAdjustment = true
		retro.AdjustmentReasons = append(retro.AdjustmentReasons, "override rate exceeds 30% of decisions")
	}
	if current.CoherenceIssues > retroCoherenceCountAdjust {
		retro.SuggestAdjustment = true
		retro.AdjustmentReasons = append(retro.AdjustmentReasons, "coherence issue count exceeds 3")
	}
	if current.NegativeOutcomes > current.PositiveOutcomes+current.NeutralOutcomes {
		retro.SuggestAdjustment = true
		retro.AdjustmentReasons = append(retro.AdjustmentReasons, "negative trust outcomes hold a majority")
	}
	return retro
}

func windowStats(reader AuditReader, fromTick, toTick int64) WindowStats {
	stats := WindowStats{FromTick: fromTick, ToTick: toTick, ByWorkstream: make(map[string]int)}

	for _, e := range reader.ListAuditLog("decision", "") {
		if e.Action != "enqueued" {
			continue
		}
		if tick, ok := detailTick(e.Details); ok && inWindow(tick, fromTick, toTick) {
			stats.Decisions++
		}
	}

	for _, e := range reader.ListAuditLog("trust_outcome", "") {
		tick, ok := detailTick(e.Details)
		if !ok || !inWindow(tick, fromTick, toTick) {
			continue
		}
		if isOverrideOutcome(e.Action) {
			stats.Overrides++
			for _, ws := range detailStringSlice(e.Details, "workstreams") {
				stats.ByWorkstream[ws]++
			}
		}
		classifyOutcomeSign(e.Action, &stats)
	}

	for _, e := range reader.ListAuditLog("coherence_event", "") {
		if tick, ok := detailTick(e.Details); ok && inWindow(tick, fromTick, toTick) {
			stats.CoherenceIssues++
		}
	}

	for _, e := range reader.ListAuditLog("artifact", "") {
		if e.Action != "updated" {
			continue
		}
		if tick, ok := detailTick(e.Details); ok && inWindow(tick, fromTick, toTick) {
			stats.ArtifactUpdates++
		}
	}

	return stats
}

func inWindow(tick, from, to int64) bool { return tick >= from && tick <= to }

// classifyOutcomeSign counts an outcome as positive or negative by a
// fixed list of outcome names whose grouping matches the sign of each
// outcome's entry in trust.DefaultDeltas(). It does not read the audit
// entry's base_delta; an outcome name not in either list counts as
// neutral.
func classifyOutcomeSign(outcome string, stats *WindowStats) {
	switch outcome {
	case "human_approves_recommended_option", "human_approves_tool_call", "human_approves_always",
		"task_completed_clean", "task_completed_partial":
		stats.PositiveOutcomes++
	case "human_picks_non_recommended", "human_modifies_tool_args", "human_rejects_tool_call",
		"human_overrides_agent_decision", "task_abandoned_or_max_turns", "error_event":
		stats.NegativeOutcomes++
	default:
		stats.NeutralOutcomes++
	}
}

func deriveInsights(retro Retrospective) []Insight {
	var insights []Insight

	if topWS, count := topByCount(retro.Current.ByWorkstream); topWS != "" {
		insights = append(insights, Insight{
			Kind:        "top_override_workstream",
			Description: workstreamInsightText(topWS, count),
		})
	}

	if retro.Previous != nil {
		switch {
		case retro.Current.CoherenceIssues > retro.Previous.CoherenceIssues:
			insights = append(insights, Insight{Kind: "coherence_trend", Description: "coherence issues rose versus the preceding window"})
		case retro.Current.CoherenceIssues < retro.Previous.CoherenceIssues:
			insights = append(insights, Insight{Kind: "coherence_trend", Description: "coherence issues fell versus the preceding window"})
		default:
			insights = append(insights, Insight{Kind: "coherence_trend", Description: "coherence issues held flat versus the preceding window"})
		}
	}

	if retro.Current.NegativeOutcomes > retro.Current.PositiveOutcomes+retro.Current.NeutralOutcomes {
		insights = append(insights, Insight{Kind: "negative_trust_majority", Description: "negative trust outcomes outnumbered positive and neutral combined"})
	}

	if retro.Current.Decisions > 0 {
		rate := float64(retro.Current.Overrides) / float64(retro.Current.Decisions)
		if rate > retroOverrideRateAdjust {
			insights = append(insights, Insight{Kind: "override_rate", Description: "override rate exceeded 30% of decisions"})
		}
	}

	if len(insights) > retroMaxInsights {
		insights = insights[:retroMaxInsights]
	}
	return insights
}

func topByCount(counts map[string]int) (string, int) {
	best, bestCount := "", 0
	for k, v := range counts {
		if v > bestCount || (v == bestCount && k < best) {
			best, bestCount = k, v
		}
	}
	return best, bestCount
}

func workstreamInsightText(ws string, count int) string {
	return fmt.Sprintf("workstream %s accounts for the most overrides in this window (%d)", ws, count)
}
