// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package coherence

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/intelplane-dev/intelplane/internal/domain"
	"github.com/intelplane-dev/intelplane/internal/llmreview"
)

const layer2BatchSize = 5

var layer2Tracer = otel.Tracer("intelplane/coherence/layer2")

// RunLayer2Review processes one batch of rate-limited LLM deep review
// (spec.md §4.5 Layer 2). It is a no-op if Layer 2 is disabled, no
// reviewer is attached, there is nothing to review, or the sliding-
// hour rate limiter currently refuses.
func (m *Monitor) RunLayer2Review(ctx context.Context, now time.Time, tick int64) error {
	m.mu.Lock()
	if !m.cfg.Layer2Enabled || m.reviewer == nil {
		m.mu.Unlock()
		return nil
	}

	var queue []*domain.CoherenceCandidate
	for _, c := range m.candidateByID {
		if !c.PromotedToLayer2 || m.dismissed[c.ID] {
			continue
		}
		if m.cfg.SkipLayer2ForEmbeddings && c.Source == domain.SourceEmbedding {
			m.autoConfirmEmbeddingCandidateLocked(c, tick)
			continue
		}
		queue = append(queue, c)
	}
	if len(queue) == 0 || !m.limiter.CanReview(now) {
		m.mu.Unlock()
		return nil
	}
	if len(queue) > layer2BatchSize {
		queue = queue[:layer2BatchSize]
	}

	req := llmreview.ReviewRequest{Model: m.cfg.ReviewModel}
	req.ArtifactContent = make(map[string]string)
	for _, c := range queue {
		req.Candidates = append(req.Candidates, llmreview.CandidatePair{ArtifactA: c.Pair.A, ArtifactB: c.Pair.B})
		for _, id := range []string{c.Pair.A, c.Pair.B} {
			if _, ok := req.ArtifactContent[id]; ok {
				continue
			}
			meta := m.artifacts[id]
			if content, ok := m.knowledge.GetArtifactContent(meta.AgentID, id); ok {
				req.ArtifactContent[id] = content
			}
		}
	}
	m.mu.Unlock()

	spanCtx, span := layer2Tracer.Start(ctx, "coherence.layer2.review",
		trace.WithAttributes(attribute.Int("candidate_count", len(req.Candidates)), attribute.String("model", req.Model)))
	results, err := m.reviewer.Review(spanCtx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return err
	}
	span.SetStatus(codes.Ok, "")
	span.End()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiter.Record(now)
	m.rollFeedbackWindowLocked(now)

	for _, r := range results {
		pair := domain.CanonicalPairKey(r.ArtifactA, r.ArtifactB)
		cand, ok := m.candidates[pair]
		if !ok {
			continue
		}
		m.dismissed[cand.ID] = true

		confirmedAndNotLow := r.Confirmed && r.Confidence != llmreview.ConfidenceLow
		if confirmedAndNotLow {
			m.feedback.confirmed++
		} else {
			m.feedback.dismissed++
		}
		if !confirmedAndNotLow {
			continue
		}

		severity := r.Severity
		if severity == "" {
			severity = domain.SeverityMedium
		}
		title := fmt.Sprintf("Confirmed: %s between %s and %s", cand.Category, pair.A, pair.B)
		if r.Confidence == llmreview.ConfidenceLikely {
			title = fmt.Sprintf("Advisory: %s between %s and %s", cand.Category, pair.A, pair.B)
			severity = domain.SeverityLow
		}
		m.publish(domain.CoherenceEvent{
			ID:                  m.nextEventID(),
			Title:               title,
			Description:         r.Explanation,
			Category:            cand.Category,
			Severity:            severity,
			AffectedWorkstreams: map[string]struct{}{cand.WorkstreamA: {}, cand.WorkstreamB: {}},
			AffectedArtifactIDs: []string{pair.A, pair.B},
			Tick:                tick,
		})
	}

	if m.cfg.FeedbackLoopEnabled {
		m.maybeAdjustThresholdLocked(tick, now)
	}
	return nil
}

// autoConfirmEmbeddingCandidateLocked implements
// skipLayer2ForEmbeddings: embedding-only candidates are emitted as
// confirmed medium-severity duplication issues without ever calling
// the LLM. Caller holds m.mu.
func (m *Monitor) autoConfirmEmbeddingCandidateLocked(c *domain.CoherenceCandidate, tick int64) {
	m.dismissed[c.ID] = true
	m.publish(domain.CoherenceEvent{
		ID:                  m.nextEventID(),
		Title:               fmt.Sprintf("Confirmed: duplication between %s and %s", c.Pair.A, c.Pair.B),
		Description:         fmt.Sprintf("similarity score %.3f", c.SimilarityScore),
		Category:            domain.CategoryDuplication,
		Severity:            domain.SeverityMedium,
		AffectedWorkstreams: map[string]struct{}{c.WorkstreamA: {}, c.WorkstreamB: {}},
		AffectedArtifactIDs: []string{c.Pair.A, c.Pair.B},
		Tick:                tick,
	})
}

// DismissCandidate marks a candidate as dismissed without emitting an
// issue. Idempotent: dismissing an already-dismissed candidate is a
// no-op success.
func (m *Monitor) DismissCandidate(candidateID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.candidateByID[candidateID]; !ok {
		return false
	}
	m.dismissed[candidateID] = true
	return true
}

func (m *Monitor) rollFeedbackWindowLocked(now time.Time) {
	if m.feedback.windowStart.IsZero() {
		m.feedback.windowStart = now
		return
	}
	if now.Sub(m.feedback.windowStart) >= 24*time.Hour {
		m.feedback.windowStart = now
		m.feedback.confirmed = 0
		m.feedback.dismissed = 0
	}
}

func (m *Monitor) maybeAdjustThresholdLocked(tick int64, now time.Time) {
	total := m.feedback.confirmed + m.feedback.dismissed
	if total < m.cfg.MinReviewsBeforeAdjust {
		return
	}
	dismissalRate := float64(m.feedback.dismissed) / float64(total)

	old := m.currentPromotionThreshold
	next := old
	switch {
	case dismissalRate > m.cfg.FPThresholdHigh:
		next = old + m.cfg.IncreaseStep
		if next > m.cfg.MaxPromotionThreshold {
			next = m.cfg.MaxPromotionThreshold
		}
	case dismissalRate < m.cfg.FPThresholdLow:
		next = old - m.cfg.DecreaseStep
		if next < m.cfg.MinPromotionThreshold {
			next = m.cfg.MinPromotionThreshold
		}
	}
	if next == old {
		return
	}
	m.currentPromotionThreshold = next
	change := ThresholdChange{Tick: tick, OldThreshold: old, NewThreshold: next, DismissalRate: dismissalRate, RecordedAt: now}
	m.thresholdHistory = append(m.thresholdHistory, change)
	if m.audit != nil {
		m.audit.AppendAuditLog("coherence_feedback_loop", "", "threshold_adjusted", "", map[string]any{
			"old_threshold": old, "new_threshold": next, "dismissal_rate": dismissalRate, "tick": tick,
		})
	}
}

// FeedbackLoopStatus is the read-only snapshot backing
// GET /api/coherence/feedback-loop.
type FeedbackLoopStatus struct {
	CurrentPromotionThreshold float64
	WindowConfirmed           int
	WindowDismissed           int
	History                   []ThresholdChange
}

// FeedbackLoopStatus returns the current threshold, window tallies,
// and adjustment history.
func (m *Monitor) FeedbackLoopStatus() FeedbackLoopStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := make([]ThresholdChange, len(m.thresholdHistory))
	copy(history, m.thresholdHistory)
	return FeedbackLoopStatus{
		CurrentPromotionThreshold: m.currentPromotionThreshold,
		WindowConfirmed:           m.feedback.confirmed,
		WindowDismissed:           m.feedback.dismissed,
		History:                   history,
	}
}

// Candidates returns a snapshot of every tracked candidate, for tests
// and operator tooling.
func (m *Monitor) Candidates() []domain.CoherenceCandidate {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.CoherenceCandidate, 0, len(m.candidateByID))
	for _, c := range m.candidateByID {
		out = append(out, *c)
	}
	return out
}
