// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analysis

import (
	"sort"
	"strconv"
)

// reworkLookbackTicks bounds how far back the causal linker searches
// for what triggered an artifact update (spec.md §4.6).
const reworkLookbackTicks = 10

// ReworkTrigger is the classification the causal linker assigns to an
// artifact update.
type ReworkTrigger string

const (
	TriggerCoherenceIssue ReworkTrigger = "coherence_issue"
	TriggerOverride       ReworkTrigger = "override"
	TriggerCascade        ReworkTrigger = "cascade"
	TriggerVoluntary      ReworkTrigger = "voluntary_improvement"
)

// ReworkLink is one artifact update and whatever the linker believes
// triggered it.
type ReworkLink struct {
	ArtifactID   string
	Tick         int64
	Trigger      ReworkTrigger
	TriggerTick  int64 // zero for TriggerVoluntary
	LinesAdded   int
	LinesRemoved int
}

// RevisionContent supplies the before/after body of one artifact
// update so the linker can attach a go-diff-based change-size metric.
// Supplying revisions is optional; updates without a matching entry
// are linked with a zero line delta.
type RevisionContent struct {
	ArtifactID string
	Tick       int64
	Before     string
	After      string
}

// ReworkReport is the causal linker's output: every link plus the
// aggregate rate at which each trigger kind explains an update.
type ReworkReport struct {
	Links         []ReworkLink
	RateByTrigger map[ReworkTrigger]float64
}

type triggerCandidate struct {
	artifactID string
	tick       int64
}

// AnalyzeRework links every artifact update to the closest preceding
// trigger within a 10-tick lookback window: a coherence issue
// affecting the artifact ranks first, an override touching it ranks
// second, another artifact's update (cascade) ranks third, and absent
// any of those the update is classified a voluntary improvement.
func AnalyzeRework(reader AuditReader, revisions []RevisionContent) ReworkReport {
	updates := collectArtifactUpdates(reader)
	coherenceByArtifact := collectCoherenceTriggersByArtifact(reader)
	overridesByArtifact := collectOverrideTriggersByArtifact(reader)

	revisionByKey := make(map[string]RevisionContent, len(revisions))
	for _, r := range revisions {
		revisionByKey[revisionKey(r.ArtifactID, r.Tick)] = r
	}

	links := make([]ReworkLink, 0, len(updates))
	counts := make(map[ReworkTrigger]int)

	for _, u := range updates {
		link := ReworkLink{ArtifactID: u.artifactID, Tick: u.tick, Trigger: TriggerVoluntary}

		if t, ok := closestBefore(coherenceByArtifact[u.artifactID], u.tick); ok {
			link.Trigger = TriggerCoherenceIssue
			link.TriggerTick = t
		} else if t, ok := closestBefore(overridesByArtifact[u.artifactID], u.tick); ok {
			link.Trigger = TriggerOverride
			link.TriggerTick = t
		} else if t, ok := closestCascade(updates, u); ok {
			link.Trigger = TriggerCascade
			link.TriggerTick = t
		}

		if rev, ok := revisionByKey[revisionKey(u.artifactID, u.tick)]; ok {
			added, removed, err := LineDelta(rev.Before, rev.After)
			if err == nil {
				link.LinesAdded, link.LinesRemoved = added, removed
			}
		}

		counts[link.Trigger]++
		links = append(links, link)
	}

	rates := make(map[ReworkTrigger]float64, len(counts))
	if len(updates) > 0 {
		for trigger, n := range counts {
			rates[trigger] = float64(n) / float64(len(updates))
		}
	}
	return ReworkReport{Links: links, RateByTrigger: rates}
}

func revisionKey(artifactID string, tick int64) string {
	return artifactID + "@" + strconv.FormatInt(tick, 10)
}

func collectArtifactUpdates(reader AuditReader) []triggerCandidate {
	entries := reader.ListAuditLog("artifact", "")
	out := make([]triggerCandidate, 0, len(entries))
	for _, e := range entries {
		if e.Action != "updated" {
			continue
		}
		tick, _ := detailTick(e.Details)
		out = append(out, triggerCandidate{artifactID: e.EntityID, tick: tick})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].tick < out[j].tick })
	return out
}

func collectCoherenceTriggersByArtifact(reader AuditReader) map[string][]int64 {
	entries := reader.ListAuditLog("coherence_event", "")
	out := make(map[string][]int64)
	for _, e := range entries {
		tick, ok := detailTick(e.Details)
		if !ok {
			continue
		}
		for _, artifactID := range detailStringSlice(e.Details, "artifact_ids") {
			out[artifactID] = append(out[artifactID], tick)
		}
	}
	return out
}

func collectOverrideTriggersByArtifact(reader AuditReader) map[string][]int64 {
	entries := reader.ListAuditLog("decision", "")
	out := make(map[string][]int64)
	for _, e := range entries {
		if e.Action != "resolved" && e.Action != "auto_resolved" && e.Action != "timed_out" {
			continue
		}
		outcome := detailString(e.Details, "outcome")
		if !isOverrideOutcome(outcome) {
			continue
		}
		artifactID := detailString(e.Details, "artifact_id")
		if artifactID == "" {
			continue
		}
		tick, ok := detailTick(e.Details)
		if !ok {
			continue
		}
		out[artifactID] = append(out[artifactID], tick)
	}
	return out
}

func closestBefore(ticks []int64, before int64) (int64, bool) {
	best := int64(-1)
	found := false
	for _, t := range ticks {
		if t < before && t >= before-reworkLookbackTicks && t > best {
			best, found = t, true
		}
	}
	return best, found
}

func closestCascade(all []triggerCandidate, target triggerCandidate) (int64, bool) {
	best := int64(-1)
	found := false
	for _, c := range all {
		if c.artifactID == target.artifactID {
			continue
		}
		if c.tick < target.tick && c.tick >= target.tick-reworkLookbackTicks && c.tick > best {
			best, found = c.tick, true
		}
	}
	return best, found
}
