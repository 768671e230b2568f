// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llmreview defines the LLM review/sweep service contract used
// by the Coherence Monitor's Layer 2 deep review and Layer 1c
// full-corpus sweep, a tolerant JSON-array response parser, a sliding-
// hour rate limiter, and an OpenAI-backed provider (spec.md §4.5,
// §6.2).
package llmreview

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/intelplane-dev/intelplane/internal/domain"
)

// Confidence is the model's self-reported confidence in a review
// result.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceLikely Confidence = "likely"
	ConfidenceLow    Confidence = "low"
)

// CandidatePair is one pair under review.
type CandidatePair struct {
	ArtifactA string
	ArtifactB string
}

// ReviewRequest is a Layer 2 batch review request.
type ReviewRequest struct {
	Candidates        []CandidatePair
	ArtifactContent   map[string]string
	DecisionContext   string
	WorkstreamContext map[string]string
	Model             string
}

// ReviewResult is the model's verdict on one candidate pair.
type ReviewResult struct {
	ArtifactA   string
	ArtifactB   string
	Confirmed   bool
	Confidence  Confidence
	Severity    domain.Severity
	Explanation string
}

// SweepRequest is a Layer 1c full-corpus sweep request. Prompt is
// pre-built by the caller (the Coherence Monitor), which knows the
// workstream grouping; the provider only executes it.
type SweepRequest struct {
	Corpus map[string]string
	Prompt string
	Model  string
}

// SweepIssue is one cross-workstream pair the sweep flagged.
type SweepIssue struct {
	ArtifactA   string
	ArtifactB   string
	Category    domain.CoherenceCategory
	Explanation string
}

// Service is the LLM review/sweep contract.
type Service interface {
	Review(ctx context.Context, req ReviewRequest) ([]ReviewResult, error)
	SweepCorpus(ctx context.Context, req SweepRequest) ([]SweepIssue, error)
}

// fencedBlock strips a leading/trailing markdown code fence (```json
// ... ``` or ``` ... ```) so the JSON array inside can be parsed.
var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// extractJSONArray pulls the first top-level JSON array out of raw,
// tolerating a surrounding code fence and/or leading or trailing
// prose.
func extractJSONArray(raw string) (json.RawMessage, bool) {
	text := strings.TrimSpace(raw)
	if m := fencedBlock.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end < 0 || end < start {
		return nil, false
	}
	candidate := text[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return nil, false
	}
	return json.RawMessage(candidate), true
}

type rawReviewResult struct {
	ArtifactA   string `json:"artifactA"`
	ArtifactB   string `json:"artifactB"`
	Confirmed   bool   `json:"confirmed"`
	Confidence  string `json:"confidence"`
	Severity    string `json:"severity"`
	Explanation string `json:"explanation"`
}

// ParseReviewResponse parses a model's raw text response into review
// results. On an unparseable response it returns the conservative
// fallback required by spec.md §6.2: every requested pair is reported
// confirmed, at "likely" confidence, so the candidate surfaces as an
// advisory rather than being silently dropped.
func ParseReviewResponse(raw string, candidates []CandidatePair) []ReviewResult {
	arr, ok := extractJSONArray(raw)
	if !ok {
		return conservativeFallback(candidates)
	}
	var rows []rawReviewResult
	if err := json.Unmarshal(arr, &rows); err != nil {
		return conservativeFallback(candidates)
	}
	out := make([]ReviewResult, 0, len(rows))
	for _, r := range rows {
		severity := domain.Severity(r.Severity)
		if severity == "" {
			severity = domain.SeverityMedium
		}
		confidence := Confidence(r.Confidence)
		if confidence == "" {
			confidence = ConfidenceLikely
		}
		out = append(out, ReviewResult{
			ArtifactA: r.ArtifactA, ArtifactB: r.ArtifactB,
			Confirmed: r.Confirmed, Confidence: confidence,
			Severity: severity, Explanation: r.Explanation,
		})
	}
	return out
}

func conservativeFallback(candidates []CandidatePair) []ReviewResult {
	out := make([]ReviewResult, len(candidates))
	for i, c := range candidates {
		out[i] = ReviewResult{
			ArtifactA: c.ArtifactA, ArtifactB: c.ArtifactB,
			Confirmed: true, Confidence: ConfidenceLikely, Severity: domain.SeverityMedium,
			Explanation: "review response could not be parsed; conservatively flagged",
		}
	}
	return out
}

type rawSweepIssue struct {
	ArtifactA   string `json:"artifactA"`
	ArtifactB   string `json:"artifactB"`
	Category    string `json:"category"`
	Explanation string `json:"explanation"`
}

// ParseSweepResponse parses a sweep's raw text response. An
// unparseable response degrades to an empty list, per spec.md §6.2.
func ParseSweepResponse(raw string) []SweepIssue {
	arr, ok := extractJSONArray(raw)
	if !ok {
		return nil
	}
	var rows []rawSweepIssue
	if err := json.Unmarshal(arr, &rows); err != nil {
		return nil
	}
	out := make([]SweepIssue, 0, len(rows))
	for _, r := range rows {
		out = append(out, SweepIssue{
			ArtifactA: r.ArtifactA, ArtifactB: r.ArtifactB,
			Category: domain.CoherenceCategory(r.Category), Explanation: r.Explanation,
		})
	}
	return out
}

// minBurstPerMinute floors the per-minute burst sub-limit so a small
// hourly budget (e.g. 1-5/hour) still gets a usable, if tight, burst
// allowance instead of rounding down to zero.
const minBurstPerMinute = 1

// HourlyLimiter is the sliding-hour token bucket from spec.md §4.5
// Layer 2, composed with a golang.org/x/time/rate burst sub-limit:
// CanReview requires both fewer than max calls in the last rolling
// hour AND an available per-minute burst token, so a caller that has
// hourly budget left still can't fire its whole hour's worth of
// reviews in the same few seconds.
type HourlyLimiter struct {
	mu    sync.Mutex
	max   int
	calls []time.Time
	burst *rate.Limiter
}

// NewHourlyLimiter constructs a limiter allowing up to max calls per
// rolling hour, with a burst sub-limit of max/6 calls per minute (a
// sixth of the hourly budget, evenly spread).
func NewHourlyLimiter(max int) *HourlyLimiter {
	burstPerMinute := max / 6
	if burstPerMinute < minBurstPerMinute {
		burstPerMinute = minBurstPerMinute
	}
	return &HourlyLimiter{
		max:   max,
		burst: rate.NewLimiter(rate.Limit(float64(burstPerMinute)/60.0), burstPerMinute),
	}
}

// CanReview reports whether another call is permitted at now.
func (l *HourlyLimiter) CanReview(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.countSince(now) < l.max && l.burst.TokensAt(now) >= 1
}

// Record registers a call at now, consuming one hourly slot and one
// burst token.
func (l *HourlyLimiter) Record(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, now)
	l.prune(now)
	l.burst.AllowN(now, 1)
}

func (l *HourlyLimiter) countSince(now time.Time) int {
	cutoff := now.Add(-time.Hour)
	n := 0
	for _, t := range l.calls {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

func (l *HourlyLimiter) prune(now time.Time) {
	cutoff := now.Add(-time.Hour)
	kept := l.calls[:0]
	for _, t := range l.calls {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.calls = kept
}
