// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package coherence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intelplane-dev/intelplane/internal/domain"
	"github.com/intelplane-dev/intelplane/internal/embedding"
	"github.com/intelplane-dev/intelplane/internal/llmreview"
)

type fakeKnowledge struct {
	content   map[string]string // agentID+":"+artifactID -> content
	artifacts []domain.ArtifactEvent
}

func newFakeKnowledge() *fakeKnowledge {
	return &fakeKnowledge{content: make(map[string]string)}
}

func (f *fakeKnowledge) put(agentID, artifactID, content string) {
	f.content[agentID+":"+artifactID] = content
}

func (f *fakeKnowledge) GetArtifactContent(agentID, artifactID string) (string, bool) {
	c, ok := f.content[agentID+":"+artifactID]
	return c, ok
}

func (f *fakeKnowledge) ListArtifacts() []domain.ArtifactEvent { return f.artifacts }

func processTextArtifact(m *Monitor, kb *fakeKnowledge, id, agentID, workstream, text string) {
	ev := domain.ArtifactEvent{
		ArtifactID: id, AgentID: agentID, Workstream: workstream,
		Kind: domain.KindDocument, MimeType: "text/plain", ContentHash: text,
	}
	kb.put(agentID, id, text)
	m.ProcessArtifact(ev, 1)
}

func TestLayer0SameAgentWriteIsNotAConflict(t *testing.T) {
	kb := newFakeKnowledge()
	m := New(DefaultConfig(), nil, nil, kb, nil, nil)
	ev1 := domain.ArtifactEvent{ArtifactID: "a-1", AgentID: "agent-1", Provenance: domain.Provenance{SourcePath: "src/x.go"}}
	ev2 := domain.ArtifactEvent{ArtifactID: "a-2", AgentID: "agent-1", Provenance: domain.Provenance{SourcePath: "src/x.go"}}
	assert.Nil(t, m.ProcessArtifact(ev1, 1))
	assert.Nil(t, m.ProcessArtifact(ev2, 1))
}

func TestLayer0DifferentAgentWriteEmitsConflict(t *testing.T) {
	kb := newFakeKnowledge()
	m := New(DefaultConfig(), nil, nil, kb, nil, nil)
	ev1 := domain.ArtifactEvent{ArtifactID: "a-1", AgentID: "agent-1", Provenance: domain.Provenance{SourcePath: "src/x.go"}}
	ev2 := domain.ArtifactEvent{ArtifactID: "a-2", AgentID: "agent-2", Provenance: domain.Provenance{SourcePath: "src/x.go"}}
	assert.Nil(t, m.ProcessArtifact(ev1, 1))
	issue := m.ProcessArtifact(ev2, 1)
	require.NotNil(t, issue)
	assert.Equal(t, domain.SeverityHigh, issue.Severity)
}

func TestLayer1NoCandidateWithinSameWorkstream(t *testing.T) {
	kb := newFakeKnowledge()
	m := New(DefaultConfig(), nil, nil, kb, embedding.MockService{}, nil)
	processTextArtifact(m, kb, "a-1", "agent-1", "ws-a", "identical content about the payments pipeline")
	processTextArtifact(m, kb, "a-2", "agent-2", "ws-a", "identical content about the payments pipeline")

	require.True(t, m.ShouldRunLayer1Scan(10))
	require.NoError(t, m.RunLayer1Scan(context.Background(), 10))
	assert.Empty(t, m.Candidates())
}

func TestLayer1CandidateAcrossWorkstreamsIsUnique(t *testing.T) {
	kb := newFakeKnowledge()
	m := New(DefaultConfig(), nil, nil, kb, embedding.MockService{}, nil)
	processTextArtifact(m, kb, "a-1", "agent-1", "ws-a", "identical content about the payments pipeline")
	processTextArtifact(m, kb, "a-2", "agent-2", "ws-b", "identical content about the payments pipeline")

	require.NoError(t, m.RunLayer1Scan(context.Background(), 10))
	candidates := m.Candidates()
	require.Len(t, candidates, 1)
	assert.True(t, candidates[0].PromotedToLayer2)

	// A second scan over the same (now unchanged) artifacts must not
	// create a duplicate candidate for the same pair.
	processTextArtifact(m, kb, "a-1", "agent-1", "ws-a", "identical content about the payments pipeline")
	require.NoError(t, m.RunLayer1Scan(context.Background(), 20))
	assert.Len(t, m.Candidates(), 1)
}

func TestLayer1bHashMatchRequiresDifferentAgentAndWorkstream(t *testing.T) {
	kb := newFakeKnowledge()
	m := New(DefaultConfig(), nil, nil, kb, embedding.MockService{}, nil)
	// Same hash, different workstream, same agent: must not candidate.
	m.ProcessArtifact(domain.ArtifactEvent{ArtifactID: "a-1", AgentID: "agent-1", Workstream: "ws-a", ContentHash: "h1"}, 1)
	m.ProcessArtifact(domain.ArtifactEvent{ArtifactID: "a-2", AgentID: "agent-1", Workstream: "ws-b", ContentHash: "h1"}, 1)
	require.NoError(t, m.RunLayer1Scan(context.Background(), 10))
	assert.Empty(t, m.Candidates())

	// Same hash, different workstream AND different agent: candidate,
	// promoted, similarity 1.0.
	m.ProcessArtifact(domain.ArtifactEvent{ArtifactID: "a-3", AgentID: "agent-2", Workstream: "ws-c", ContentHash: "h1"}, 1)
	require.NoError(t, m.RunLayer1Scan(context.Background(), 20))
	candidates := m.Candidates()
	require.NotEmpty(t, candidates)
	found := false
	for _, c := range candidates {
		if c.SimilarityScore == 1.0 {
			found = true
			assert.True(t, c.PromotedToLayer2)
		}
	}
	assert.True(t, found)
}

type fakeReviewer struct {
	results []llmreview.ReviewResult
}

func (f *fakeReviewer) Review(_ context.Context, _ llmreview.ReviewRequest) ([]llmreview.ReviewResult, error) {
	return f.results, nil
}
func (f *fakeReviewer) SweepCorpus(context.Context, llmreview.SweepRequest) ([]llmreview.SweepIssue, error) {
	return nil, nil
}

func TestLayer2DismissalIsIdempotent(t *testing.T) {
	kb := newFakeKnowledge()
	cfg := DefaultConfig()
	cfg.Layer2Enabled = true
	reviewer := &fakeReviewer{}
	m := New(cfg, nil, nil, kb, embedding.MockService{}, reviewer)

	m.ProcessArtifact(domain.ArtifactEvent{ArtifactID: "a-1", AgentID: "agent-1", Workstream: "ws-a", Kind: domain.KindDocument, MimeType: "text/plain"}, 1)
	m.ProcessArtifact(domain.ArtifactEvent{ArtifactID: "a-2", AgentID: "agent-2", Workstream: "ws-b", Kind: domain.KindDocument, MimeType: "text/plain"}, 1)
	kb.put("agent-1", "a-1", "the payments pipeline retries on failure")
	kb.put("agent-2", "a-2", "the payments pipeline retries on failure")
	require.NoError(t, m.RunLayer1Scan(context.Background(), 10))
	require.NotEmpty(t, m.Candidates())

	cand := m.Candidates()[0]
	reviewer.results = []llmreview.ReviewResult{{
		ArtifactA: cand.Pair.A, ArtifactB: cand.Pair.B, Confirmed: true, Confidence: llmreview.ConfidenceHigh, Severity: domain.SeverityHigh,
	}}
	now := time.Now()
	require.NoError(t, m.RunLayer2Review(context.Background(), now, 10))

	assert.True(t, m.DismissCandidate(cand.ID))
	assert.True(t, m.DismissCandidate(cand.ID)) // idempotent: already dismissed
}

func TestFeedbackLoopRaisesThresholdOnHighDismissalRate(t *testing.T) {
	kb := newFakeKnowledge()
	cfg := DefaultConfig()
	cfg.Layer2Enabled = true
	cfg.FeedbackLoopEnabled = true
	cfg.MinReviewsBeforeAdjust = 1
	cfg.Layer2MaxReviewsPerHour = 1000
	reviewer := &fakeReviewer{}
	m := New(cfg, nil, nil, kb, embedding.MockService{}, reviewer)

	before := m.FeedbackLoopStatus().CurrentPromotionThreshold

	m.ProcessArtifact(domain.ArtifactEvent{ArtifactID: "a-1", AgentID: "agent-1", Workstream: "ws-a", Kind: domain.KindDocument, MimeType: "text/plain"}, 1)
	m.ProcessArtifact(domain.ArtifactEvent{ArtifactID: "a-2", AgentID: "agent-2", Workstream: "ws-b", Kind: domain.KindDocument, MimeType: "text/plain"}, 1)
	kb.put("agent-1", "a-1", "the payments pipeline retries on failure")
	kb.put("agent-2", "a-2", "the payments pipeline retries on failure")
	require.NoError(t, m.RunLayer1Scan(context.Background(), 10))
	cand := m.Candidates()[0]

	reviewer.results = []llmreview.ReviewResult{{
		ArtifactA: cand.Pair.A, ArtifactB: cand.Pair.B, Confirmed: false, Confidence: llmreview.ConfidenceLow,
	}}
	require.NoError(t, m.RunLayer2Review(context.Background(), time.Now(), 10))

	after := m.FeedbackLoopStatus().CurrentPromotionThreshold
	assert.Greater(t, after, before)
	assert.LessOrEqual(t, after, cfg.MaxPromotionThreshold)
}

func TestMonotoneCandidateAndEventIDs(t *testing.T) {
	kb := newFakeKnowledge()
	m := New(DefaultConfig(), nil, nil, kb, embedding.MockService{}, nil)
	m.ProcessArtifact(domain.ArtifactEvent{ArtifactID: "a-1", AgentID: "agent-1", Workstream: "ws-a", Provenance: domain.Provenance{SourcePath: "p1"}}, 1)
	issue := m.ProcessArtifact(domain.ArtifactEvent{ArtifactID: "a-2", AgentID: "agent-2", Workstream: "ws-b", Provenance: domain.Provenance{SourcePath: "p1"}}, 1)
	require.NotNil(t, issue)
	assert.Equal(t, "coherence-1", issue.ID)
}
