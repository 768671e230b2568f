// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package coherence implements the Coherence Monitor: a synchronous
// Layer 0 structural-conflict check, a periodic embedding-similarity
// Layer 1 scan, a Layer 1b content-hash fast path, a periodic
// full-corpus LLM sweep (Layer 1c), a rate-limited LLM deep review
// (Layer 2), and an auto-tuning feedback loop between Layer 1 and
// Layer 2 (spec.md §4.5).
//
// # Thread Safety
//
// Monitor serializes every mutation behind a single mutex:
// processArtifact must never interleave with a Layer 1 scan, and
// candidate/event ids must stay monotonic and unique.
package coherence

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/intelplane-dev/intelplane/internal/domain"
	"github.com/intelplane-dev/intelplane/internal/embedding"
	"github.com/intelplane-dev/intelplane/internal/eventbus"
	"github.com/intelplane-dev/intelplane/internal/llmreview"
)

// Config tunes the monitor. New replaces a zero ScanIntervalTicks,
// MaxArtifactsPerScan, PromotionThreshold, AdvisoryThreshold, or
// Layer2MaxReviewsPerHour with DefaultConfig's value; every other field
// is used as given.
type Config struct {
	ScanIntervalTicks   int64
	PromotionThreshold  float64
	AdvisoryThreshold   float64
	MaxArtifactsPerScan int

	Layer1cEnabled           bool
	Layer1cScanIntervalTicks int64
	Layer1cMaxCorpusTokens   int
	Layer1cModel             string

	Layer2Enabled           bool
	Layer2MaxReviewsPerHour int
	SkipLayer2ForEmbeddings bool
	ReviewModel             string

	FeedbackLoopEnabled   bool
	MinReviewsBeforeAdjust int
	FPThresholdHigh        float64
	FPThresholdLow         float64
	IncreaseStep           float64
	DecreaseStep           float64
	MaxPromotionThreshold  float64
	MinPromotionThreshold  float64
}

// DefaultConfig returns the spec's defaults (spec.md §4.5).
func DefaultConfig() Config {
	return Config{
		ScanIntervalTicks:   10,
		PromotionThreshold:  0.75,
		AdvisoryThreshold:   0.65,
		MaxArtifactsPerScan: 500,

		Layer1cEnabled:           false,
		Layer1cScanIntervalTicks: 300,
		Layer1cMaxCorpusTokens:   200000,

		Layer2Enabled:           false,
		Layer2MaxReviewsPerHour: 30,
		SkipLayer2ForEmbeddings: false,

		FeedbackLoopEnabled:    false,
		MinReviewsBeforeAdjust: 20,
		FPThresholdHigh:        0.50,
		FPThresholdLow:         0.10,
		IncreaseStep:           0.02,
		DecreaseStep:           0.01,
		MaxPromotionThreshold:  0.95,
		MinPromotionThreshold:  0.75,
	}
}

// AuditSink receives one entry per state mutation.
type AuditSink interface {
	AppendAuditLog(entityType, entityID, action, callerAgentID string, details map[string]any)
}

// Publisher is the event-bus surface the monitor needs to emit issues.
type Publisher interface {
	Publish(topic eventbus.Topic, event any) error
}

// KnowledgeReader is the read surface of the knowledge store the
// monitor needs (spec.md §6.3 subset).
type KnowledgeReader interface {
	ListArtifacts() []domain.ArtifactEvent
	GetArtifactContent(agentID, artifactID string) (string, bool)
}

type artifactRecord struct {
	AgentID     string
	Workstream  string
	Kind        domain.ArtifactKind
	MimeType    string
	ContentHash string
	SourcePath  string
}

type hashEntry struct {
	ArtifactID string
	Workstream string
	AgentID    string
}

type ownership struct {
	AgentID    string
	ArtifactID string
}

// ThresholdChange records one actual adjustment of the Layer 1
// promotion threshold by the feedback loop.
type ThresholdChange struct {
	Tick          int64
	OldThreshold  float64
	NewThreshold  float64
	DismissalRate float64
	RecordedAt    time.Time
}

type feedbackWindow struct {
	windowStart time.Time
	confirmed   int
	dismissed   int
}

// Monitor is the Coherence Monitor.
type Monitor struct {
	mu  sync.Mutex
	cfg Config

	bus       Publisher
	audit     AuditSink
	embedder  embedding.Service
	reviewer  llmreview.Service
	knowledge KnowledgeReader

	pathOwner map[string]ownership
	artifacts map[string]artifactRecord

	changed      map[string]struct{}
	dirty        bool
	lastScanTick int64
	lastSweepTick int64

	embeddings map[string]embedding.Vector

	hashIndex map[string][]hashEntry

	candidates          map[domain.PairKey]*domain.CoherenceCandidate
	candidateByID       map[string]*domain.CoherenceCandidate
	dismissed           map[string]bool
	nextCandidateSeq    int
	nextEventSeq        int

	currentPromotionThreshold float64
	limiter                   *llmreview.HourlyLimiter
	feedback                  feedbackWindow
	thresholdHistory          []ThresholdChange

	candidateGauge prometheus.Gauge
	eventsTotal    *prometheus.CounterVec
}

// New constructs a Monitor. embedder and reviewer may be nil if Layer 1
// / Layer 1c+Layer 2 are not in use, respectively.
func New(cfg Config, bus Publisher, audit AuditSink, knowledge KnowledgeReader, embedder embedding.Service, reviewer llmreview.Service) *Monitor {
	if cfg.ScanIntervalTicks <= 0 {
		cfg.ScanIntervalTicks = DefaultConfig().ScanIntervalTicks
	}
	if cfg.MaxArtifactsPerScan <= 0 {
		cfg.MaxArtifactsPerScan = DefaultConfig().MaxArtifactsPerScan
	}
	if cfg.PromotionThreshold == 0 {
		cfg.PromotionThreshold = DefaultConfig().PromotionThreshold
	}
	if cfg.AdvisoryThreshold == 0 {
		cfg.AdvisoryThreshold = DefaultConfig().AdvisoryThreshold
	}
	if cfg.Layer2MaxReviewsPerHour <= 0 {
		cfg.Layer2MaxReviewsPerHour = DefaultConfig().Layer2MaxReviewsPerHour
	}

	m := &Monitor{
		cfg:                       cfg,
		bus:                       bus,
		audit:                     audit,
		embedder:                  embedder,
		reviewer:                  reviewer,
		knowledge:                 knowledge,
		pathOwner:                 make(map[string]ownership),
		artifacts:                 make(map[string]artifactRecord),
		changed:                   make(map[string]struct{}),
		embeddings:                make(map[string]embedding.Vector),
		hashIndex:                 make(map[string][]hashEntry),
		candidates:                make(map[domain.PairKey]*domain.CoherenceCandidate),
		candidateByID:             make(map[string]*domain.CoherenceCandidate),
		dismissed:                 make(map[string]bool),
		currentPromotionThreshold: cfg.PromotionThreshold,
		limiter:                   llmreview.NewHourlyLimiter(cfg.Layer2MaxReviewsPerHour),
	}
	m.candidateGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "intelplane_coherence_candidates",
		Help: "Number of coherence candidates currently tracked.",
	})
	m.eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "intelplane_coherence_events_total",
		Help: "Coherence issues emitted, labeled by category.",
	}, []string{"category"})
	_ = prometheus.Register(m.candidateGauge)
	_ = prometheus.Register(m.eventsTotal)
	return m
}

func (m *Monitor) nextCandidateID() string {
	m.nextCandidateSeq++
	return fmt.Sprintf("candidate-%d", m.nextCandidateSeq)
}

func (m *Monitor) nextEventID() string {
	m.nextEventSeq++
	return fmt.Sprintf("coherence-%d", m.nextEventSeq)
}

func (m *Monitor) publish(event domain.CoherenceEvent) {
	m.eventsTotal.WithLabelValues(string(event.Category)).Inc()
	if m.audit != nil {
		m.audit.AppendAuditLog("coherence_event", event.ID, "emitted", "", map[string]any{
			"category": event.Category, "severity": event.Severity,
			"tick": event.Tick, "artifact_ids": event.AffectedArtifactIDs, "workstreams": workstreamList(event.AffectedWorkstreams),
		})
	}
	if m.bus != nil {
		_ = m.bus.Publish(eventbus.TopicCoherenceEvents, event)
	}
}

func workstreamList(ws map[string]struct{}) []string {
	out := make([]string, 0, len(ws))
	for w := range ws {
		out = append(out, w)
	}
	return out
}

// ProcessArtifact is Layer 0: synchronous, deterministic structural
// conflict detection plus bookkeeping for Layers 1 and 1b. It must be
// serialized against Layer 1 scans, which it is, by sharing m.mu.
func (m *Monitor) ProcessArtifact(event domain.ArtifactEvent, tick int64) *domain.CoherenceEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	hash := m.layer1bHash(event)
	m.artifacts[event.ArtifactID] = artifactRecord{
		AgentID: event.AgentID, Workstream: event.Workstream, Kind: event.Kind,
		MimeType: event.MimeType, ContentHash: hash, SourcePath: event.Provenance.SourcePath,
	}
	m.changed[event.ArtifactID] = struct{}{}
	m.dirty = true

	m.rebindHash(event.ArtifactID, hash, event.Workstream, event.AgentID)

	if event.Provenance.SourcePath == "" {
		return nil
	}

	owner, exists := m.pathOwner[event.Provenance.SourcePath]
	if exists && owner.AgentID != event.AgentID {
		issue := domain.CoherenceEvent{
			ID:                  m.nextEventID(),
			Title:               "Path ownership conflict",
			Description:         fmt.Sprintf("%s is now written by agent %s, previously owned by %s", event.Provenance.SourcePath, event.AgentID, owner.AgentID),
			Category:            domain.CategoryDuplication,
			Severity:            domain.SeverityHigh,
			AffectedWorkstreams: map[string]struct{}{event.Workstream: {}},
			AffectedArtifactIDs: []string{event.ArtifactID, owner.ArtifactID},
			Tick:                tick,
		}
		m.pathOwner[event.Provenance.SourcePath] = ownership{AgentID: event.AgentID, ArtifactID: event.ArtifactID}
		m.publish(issue)
		return &issue
	}

	m.pathOwner[event.Provenance.SourcePath] = ownership{AgentID: event.AgentID, ArtifactID: event.ArtifactID}
	return nil
}

// layer1bHash returns the key Layer 1b's fast path indexes event under.
// Code artifacts are normalized through tree-sitter first (stripping
// comments and formatting) so near-identical code collapses to the
// same hash; everything else, and code that fails to parse, falls
// back to the raw content hash the caller supplied.
func (m *Monitor) layer1bHash(event domain.ArtifactEvent) string {
	if event.Kind != domain.KindCode || m.knowledge == nil {
		return event.ContentHash
	}
	content, ok := m.knowledge.GetArtifactContent(event.AgentID, event.ArtifactID)
	if !ok {
		return event.ContentHash
	}
	normalized, ok := normalizeCodeHash(content)
	if !ok {
		return event.ContentHash
	}
	return normalized
}

func (m *Monitor) rebindHash(artifactID, hash, workstream, agentID string) {
	for h, entries := range m.hashIndex {
		kept := entries[:0]
		for _, e := range entries {
			if e.ArtifactID != artifactID {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(m.hashIndex, h)
		} else {
			m.hashIndex[h] = kept
		}
	}
	if hash == "" {
		return
	}
	m.hashIndex[hash] = append(m.hashIndex[hash], hashEntry{ArtifactID: artifactID, Workstream: workstream, AgentID: agentID})
}

// upsertCandidate inserts or updates the candidate for a canonical
// pair, returning it plus whether it was newly created. Callers hold
// m.mu.
func (m *Monitor) upsertCandidate(pair domain.PairKey, wsA, wsB string, similarity float64, source domain.CandidateSource, promoted bool) (*domain.CoherenceCandidate, bool) {
	if existing, ok := m.candidates[pair]; ok {
		existing.SimilarityScore = similarity
		if promoted {
			existing.PromotedToLayer2 = true
		}
		if source == domain.SourceSweep {
			existing.Source = domain.SourceSweep
		}
		return existing, false
	}
	c := &domain.CoherenceCandidate{
		ID: m.nextCandidateID(), Pair: pair, WorkstreamA: wsA, WorkstreamB: wsB,
		SimilarityScore: similarity, Category: domain.CategoryDuplication,
		DetectedAt: time.Now(), PromotedToLayer2: promoted, Source: source,
	}
	m.candidates[pair] = c
	m.candidateByID[c.ID] = c
	m.candidateGauge.Set(float64(len(m.candidates)))
	return c, true
}

// embeddable implements spec.md §4.5 Layer 1 step 2's filter.
func embeddable(kind domain.ArtifactKind, mimeType string) bool {
	isText := mimeType == "" || strings.HasPrefix(mimeType, "text/")
	switch kind {
	case domain.KindDesign:
		return false
	case domain.KindCode, domain.KindConfig, domain.KindTest:
		return isText
	case domain.KindDocument:
		return strings.HasPrefix(mimeType, "text/") || mimeType == "application/json"
	case domain.KindOther:
		return mimeType != "" && strings.HasPrefix(mimeType, "text/")
	default:
		return false
	}
}
