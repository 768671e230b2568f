// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package domain defines the shared data model for the Intelligence
// Plane: artifact and decision events, coherence candidates and
// issues, and audit-log entries. These types are produced by agents
// and the engines, and consumed across package boundaries, so they
// live in one place rather than being redeclared per-engine.
package domain

import "time"

// ArtifactKind is one of the fixed artifact kinds an agent can produce.
type ArtifactKind string

const (
	KindCode     ArtifactKind = "code"
	KindDocument ArtifactKind = "document"
	KindDesign   ArtifactKind = "design"
	KindConfig   ArtifactKind = "config"
	KindTest     ArtifactKind = "test"
	KindOther    ArtifactKind = "other"
)

// ArtifactStatus is the review state of an artifact.
type ArtifactStatus string

const (
	StatusDraft    ArtifactStatus = "draft"
	StatusInReview ArtifactStatus = "in_review"
	StatusApproved ArtifactStatus = "approved"
	StatusRejected ArtifactStatus = "rejected"
)

// Provenance records who created an artifact and, optionally, where
// from and from which prior artifacts.
type Provenance struct {
	Creator          string
	CreatedAt        time.Time
	SourcePath       string
	SourceArtifactIDs []string
}

// ArtifactEvent is an immutable record produced by an agent (spec.md §3).
type ArtifactEvent struct {
	ArtifactID   string
	AgentID      string
	Workstream   string
	Kind         ArtifactKind
	Status       ArtifactStatus
	MimeType     string
	ContentHash  string
	QualityScore *float64 // in [0,1] when set
	Provenance   Provenance
}

// DecisionType distinguishes the two decision event subtypes.
type DecisionType string

const (
	DecisionOption        DecisionType = "option"
	DecisionToolApproval  DecisionType = "tool_approval"
)

// Severity is one of the fixed severity levels.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityCritical: 3,
	SeverityHigh:      2,
	SeverityMedium:    1,
	SeverityLow:       0,
}

// Rank returns a comparable integer rank for severity ordering, higher
// is more severe. Unknown severities rank lowest.
func (s Severity) Rank() int {
	return severityRank[s]
}

// BlastRadius is one of the fixed blast-radius categories.
type BlastRadius string

const (
	BlastTrivial BlastRadius = "trivial"
	BlastSmall   BlastRadius = "small"
	BlastMedium  BlastRadius = "medium"
	BlastLarge   BlastRadius = "large"
	BlastUnknown BlastRadius = "unknown"
)

// Option is one labeled choice in an "option" decision.
type Option struct {
	ID    string
	Label string
}

// AutoResolvePolicy names the action to take if a decision times out
// without a human response.
type AutoResolvePolicy struct {
	Enabled      bool
	TimeoutAction string // the option id (or "deny"/"reject" for tool approvals) to apply
}

// DecisionEvent is a question that cannot be auto-resolved by an agent
// (spec.md §3).
type DecisionEvent struct {
	ID                   string
	Type                 DecisionType
	Severity             Severity
	BlastRadius          BlastRadius
	DueByTick            *int64
	ArtifactID           string
	Workstream           string
	AgentID              string
	ToolCategory         string // only meaningful for tool_approval decisions

	// Option-decision fields.
	Options              []Option
	RecommendedOptionID  string
	AutoResolve          AutoResolvePolicy
}

// CoherenceCategory is one of the fixed coherence issue/candidate
// categories.
type CoherenceCategory string

const (
	CategoryDuplication         CoherenceCategory = "duplication"
	CategoryContradiction       CoherenceCategory = "contradiction"
	CategoryGap                 CoherenceCategory = "gap"
	CategoryDependencyViolation CoherenceCategory = "dependency_violation"
)

// CandidateSource records which layer most recently touched a
// candidate.
type CandidateSource string

const (
	SourceEmbedding CandidateSource = "embedding"
	SourceSweep     CandidateSource = "sweep"
)

// PairKey is the canonical (sorted) key for an unordered artifact pair.
type PairKey struct {
	A string
	B string
}

// CanonicalPairKey returns a PairKey with A <= B so that (x,y) and
// (y,x) produce the same key (spec.md §3 invariant: canonical pair
// keys).
func CanonicalPairKey(artifactA, artifactB string) PairKey {
	if artifactA <= artifactB {
		return PairKey{A: artifactA, B: artifactB}
	}
	return PairKey{A: artifactB, B: artifactA}
}

// CoherenceCandidate is a suspected cross-workstream issue between two
// artifacts (spec.md §3).
type CoherenceCandidate struct {
	ID               string
	Pair             PairKey
	WorkstreamA      string
	WorkstreamB      string
	SimilarityScore  float64
	Category         CoherenceCategory
	DetectedAt       time.Time
	PromotedToLayer2 bool
	Source           CandidateSource
	SweepExplanation string
}

// CoherenceEvent is a surfaced issue (spec.md §3, "issue").
type CoherenceEvent struct {
	ID                  string
	Title               string
	Description         string
	Category            CoherenceCategory
	Severity            Severity
	AffectedWorkstreams map[string]struct{}
	AffectedArtifactIDs []string
	Tick                int64
}

// AuditLogEntry is an append-only record of a state mutation in the
// Intelligence Plane (spec.md §3).
type AuditLogEntry struct {
	EntityType string
	EntityID   string
	Action     string
	CallerAgentID string
	Timestamp  time.Time
	Tick       int64
	Details    map[string]any
}
