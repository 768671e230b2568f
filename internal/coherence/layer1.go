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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/intelplane-dev/intelplane/internal/domain"
	"github.com/intelplane-dev/intelplane/internal/embedding"
)

var layer1Tracer = otel.Tracer("intelplane/coherence/layer1")

// ShouldRunLayer1Scan reports whether a Layer 1 scan should run at
// tick t: an embedder must be attached, there must be changed
// artifacts, and the scan interval must have elapsed.
func (m *Monitor) ShouldRunLayer1Scan(t int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.embedder != nil && len(m.changed) > 0 && t-m.lastScanTick >= m.cfg.ScanIntervalTicks
}

// RunLayer1Scan performs one embedding-similarity scan plus the
// Layer 1b content-hash fast path that piggybacks on it (spec.md §4.5
// Layer 1 / Layer 1b). The entire scan holds the monitor's mutex so it
// never interleaves with ProcessArtifact mutations, per spec.md §5.
func (m *Monitor) RunLayer1Scan(ctx context.Context, t int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	drained := make([]string, 0, len(m.changed))
	for id := range m.changed {
		drained = append(drained, id)
	}
	m.changed = make(map[string]struct{})
	m.lastScanTick = t

	ids := make([]string, 0, len(drained))
	for _, id := range drained {
		meta, ok := m.artifacts[id]
		if !ok || !embeddable(meta.Kind, meta.MimeType) {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) > m.cfg.MaxArtifactsPerScan {
		ids = ids[:m.cfg.MaxArtifactsPerScan]
	}

	if len(ids) > 0 {
		texts := make([]string, len(ids))
		for i, id := range ids {
			meta := m.artifacts[id]
			content, _ := m.knowledge.GetArtifactContent(meta.AgentID, id)
			texts[i] = content
		}
		spanCtx, span := layer1Tracer.Start(ctx, "coherence.layer1.embed",
			trace.WithAttributes(attribute.Int("artifact_count", len(texts))))
		vectors, err := m.embedder.EmbedBatch(spanCtx, texts)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return err
		}
		span.SetStatus(codes.Ok, "")
		span.End()
		for i, id := range ids {
			m.embeddings[id] = vectors[i]
		}
		m.compareAgainstCorpus(ids, t)
	}

	m.runLayer1bFastPath(drained)
	return nil
}

func (m *Monitor) compareAgainstCorpus(justEmbedded []string, tick int64) {
	for _, x := range justEmbedded {
		xMeta := m.artifacts[x]
		for y, yVec := range m.embeddings {
			if y == x {
				continue
			}
			yMeta := m.artifacts[y]
			if yMeta.Workstream == xMeta.Workstream {
				continue
			}
			sim := embedding.CosineSimilarity(m.embeddings[x], yVec)
			if sim < m.cfg.AdvisoryThreshold {
				continue
			}
			pair := domain.CanonicalPairKey(x, y)
			promoted := sim >= m.currentPromotionThreshold
			wsA := m.artifacts[pair.A].Workstream
			wsB := m.artifacts[pair.B].Workstream
			_, isNew := m.upsertCandidate(pair, wsA, wsB, sim, domain.SourceEmbedding, promoted)
			if isNew && !promoted {
				m.publish(domain.CoherenceEvent{
					ID:                  m.nextEventID(),
					Title:               fmt.Sprintf("Advisory: possible duplication between %s and %s", pair.A, pair.B),
					Description:         fmt.Sprintf("similarity %.3f is above the advisory threshold but below promotion", sim),
					Category:            domain.CategoryDuplication,
					Severity:            domain.SeverityLow,
					AffectedWorkstreams: map[string]struct{}{wsA: {}, wsB: {}},
					AffectedArtifactIDs: []string{pair.A, pair.B},
					Tick:                tick,
				})
			}
		}
	}
}

// runLayer1bFastPath emits/upgrades duplication candidates for exact
// content-hash matches across workstream and agent boundaries.
func (m *Monitor) runLayer1bFastPath(changedIDs []string) {
	for _, id := range changedIDs {
		meta, ok := m.artifacts[id]
		if !ok || meta.ContentHash == "" {
			continue
		}
		for _, e := range m.hashIndex[meta.ContentHash] {
			if e.ArtifactID == id || e.Workstream == meta.Workstream || e.AgentID == meta.AgentID {
				continue
			}
			pair := domain.CanonicalPairKey(id, e.ArtifactID)
			wsA := m.artifacts[pair.A].Workstream
			wsB := m.artifacts[pair.B].Workstream
			m.upsertCandidate(pair, wsA, wsB, 1.0, domain.SourceEmbedding, true)
		}
	}
}
