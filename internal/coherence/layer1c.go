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
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/intelplane-dev/intelplane/internal/domain"
	"github.com/intelplane-dev/intelplane/internal/llmreview"
)

const corpusFetchConcurrency = 8

var layer1cTracer = otel.Tracer("intelplane/coherence/layer1c")

// ShouldRunLayer1cSweep reports whether a full-corpus sweep should run
// at tick t (spec.md §4.5 Layer 1c): enabled, a reviewer attached, the
// interval elapsed, and at least one artifact processed since the
// last sweep.
func (m *Monitor) ShouldRunLayer1cSweep(t int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Layer1cEnabled && m.reviewer != nil && m.dirty &&
		t-m.lastSweepTick >= m.cfg.Layer1cScanIntervalTicks
}

// RunLayer1cSweep fetches the full corpus, token-budget-checks it,
// prompts the sweep model, and folds confirmed cross-workstream pairs
// into the candidate set.
func (m *Monitor) RunLayer1cSweep(ctx context.Context, t int64) error {
	m.mu.Lock()
	artifacts := m.knowledge.ListArtifacts()
	m.mu.Unlock()

	corpus, err := fetchCorpusConcurrently(ctx, m.knowledge, artifacts)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.lastSweepTick = t
	m.dirty = false

	totalTokens := 0
	for _, content := range corpus {
		totalTokens += (len(content) + 3) / 4
	}
	if totalTokens > m.cfg.Layer1cMaxCorpusTokens {
		m.mu.Unlock()
		return nil
	}

	workstreamByArtifact := make(map[string]string, len(m.artifacts))
	for id, meta := range m.artifacts {
		workstreamByArtifact[id] = meta.Workstream
	}
	prompt := buildSweepPrompt(corpus, workstreamByArtifact)
	model := m.cfg.Layer1cModel
	m.mu.Unlock()

	spanCtx, span := layer1cTracer.Start(ctx, "coherence.layer1c.sweep",
		trace.WithAttributes(attribute.Int("corpus_size", len(corpus)), attribute.String("model", model)))
	issues, err := m.reviewer.SweepCorpus(spanCtx, llmreview.SweepRequest{Corpus: corpus, Prompt: prompt, Model: model})
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
	seen := make(map[domain.PairKey]struct{})
	for _, issue := range issues {
		if issue.ArtifactA == "" || issue.ArtifactB == "" || issue.ArtifactA == issue.ArtifactB {
			continue
		}
		wsA, wsB := m.artifacts[issue.ArtifactA].Workstream, m.artifacts[issue.ArtifactB].Workstream
		if wsA != "" && wsA == wsB {
			continue
		}
		pair := domain.CanonicalPairKey(issue.ArtifactA, issue.ArtifactB)
		if _, dup := seen[pair]; dup {
			continue
		}
		seen[pair] = struct{}{}
		m.foldSweepIssue(pair, wsA, wsB, issue, t)
	}
	return nil
}

func (m *Monitor) foldSweepIssue(pair domain.PairKey, wsA, wsB string, issue llmreview.SweepIssue, tick int64) {
	category := issue.Category
	if category == "" {
		category = domain.CategoryDuplication
	}

	existing, ok := m.candidates[pair]
	if ok {
		existing.PromotedToLayer2 = true
		existing.Source = domain.SourceSweep
		existing.SweepExplanation = issue.Explanation
		existing.Category = category
	} else {
		existing = &domain.CoherenceCandidate{
			ID: m.nextCandidateID(), Pair: pair, WorkstreamA: wsA, WorkstreamB: wsB,
			SimilarityScore: 0, Category: category, PromotedToLayer2: true,
			Source: domain.SourceSweep, SweepExplanation: issue.Explanation,
		}
		m.candidates[pair] = existing
		m.candidateByID[existing.ID] = existing
		m.candidateGauge.Set(float64(len(m.candidates)))
	}

	if !m.cfg.Layer2Enabled {
		m.dismissed[existing.ID] = true
		m.publish(domain.CoherenceEvent{
			ID:                  m.nextEventID(),
			Title:               fmt.Sprintf("Confirmed: %s between %s and %s", category, pair.A, pair.B),
			Description:         issue.Explanation,
			Category:            category,
			Severity:            domain.SeverityMedium,
			AffectedWorkstreams: map[string]struct{}{wsA: {}, wsB: {}},
			AffectedArtifactIDs: []string{pair.A, pair.B},
			Tick:                tick,
		})
	}
}

func fetchCorpusConcurrently(ctx context.Context, reader KnowledgeReader, artifacts []domain.ArtifactEvent) (map[string]string, error) {
	var mu sync.Mutex
	corpus := make(map[string]string, len(artifacts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(corpusFetchConcurrency)
	for _, a := range artifacts {
		a := a
		g.Go(func() error {
			content, ok := reader.GetArtifactContent(a.AgentID, a.ArtifactID)
			if !ok {
				return nil
			}
			mu.Lock()
			corpus[a.ArtifactID] = content
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return corpus, nil
}

func buildSweepPrompt(corpus map[string]string, workstreamByArtifact map[string]string) string {
	byWorkstream := make(map[string][]string)
	for id := range corpus {
		ws := workstreamByArtifact[id]
		byWorkstream[ws] = append(byWorkstream[ws], id)
	}
	workstreams := make([]string, 0, len(byWorkstream))
	for ws := range byWorkstream {
		workstreams = append(workstreams, ws)
	}
	sort.Strings(workstreams)

	var b strings.Builder
	b.WriteString("Identify duplication, contradiction, gap, or dependency_violation issues that cross workstream boundaries only. ")
	b.WriteString("Do not flag a documentation artifact as duplicating the code it documents.\n\n")
	for _, ws := range workstreams {
		ids := byWorkstream[ws]
		sort.Strings(ids)
		fmt.Fprintf(&b, "Workstream %q:\n", ws)
		for _, id := range ids {
			fmt.Fprintf(&b, "- %s: %s\n", id, truncate(corpus[id], 500))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
