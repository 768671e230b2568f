// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package trust implements the per-agent trust engine: global and
// per-domain scores, outcome deltas, risk-weighted adjustment,
// diminishing returns, decay toward a target, and a calibration mode
// that records what a score adjustment would have been without
// mutating state.
//
// # Description
//
// Each agent carries a global score and a lazily populated map from
// artifact kind to a per-domain score. Both decay toward a configured
// target when an agent is inactive, and both are clamped to
// [Floor, Ceiling] after every mutation.
//
// # Thread Safety
//
// Engine is safe for concurrent use; all mutating methods hold an
// internal mutex for the duration of the update.
package trust

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/intelplane-dev/intelplane/internal/domain"
)

// Outcome names one of the fixed trust-affecting outcomes (spec.md
// §4.3).
type Outcome string

const (
	HumanApprovesRecommendedOption Outcome = "human_approves_recommended_option"
	HumanApprovesToolCall          Outcome = "human_approves_tool_call"
	HumanApprovesAlways            Outcome = "human_approves_always"
	HumanPicksNonRecommended       Outcome = "human_picks_non_recommended"
	HumanModifiesToolArgs          Outcome = "human_modifies_tool_args"
	HumanRejectsToolCall           Outcome = "human_rejects_tool_call"
	HumanOverridesAgentDecision    Outcome = "human_overrides_agent_decision"
	TaskCompletedClean             Outcome = "task_completed_clean"
	TaskCompletedPartial           Outcome = "task_completed_partial"
	TaskAbandonedOrMaxTurns        Outcome = "task_abandoned_or_max_turns"
	ErrorEvent                     Outcome = "error_event"
)

// DefaultDeltas returns the spec's default outcome -> delta table.
func DefaultDeltas() map[Outcome]int {
	return map[Outcome]int{
		HumanApprovesRecommendedOption: 2,
		HumanApprovesToolCall:          1,
		HumanApprovesAlways:            3,
		HumanPicksNonRecommended:       -1,
		HumanModifiesToolArgs:          -1,
		HumanRejectsToolCall:           -2,
		HumanOverridesAgentDecision:    -3,
		TaskCompletedClean:             3,
		TaskCompletedPartial:           1,
		TaskAbandonedOrMaxTurns:        -1,
		ErrorEvent:                     -2,
	}
}

var riskWeights = map[domain.BlastRadius]float64{
	domain.BlastTrivial: 0.5,
	domain.BlastSmall:   0.75,
	domain.BlastMedium:  1.0,
	domain.BlastLarge:   1.5,
	domain.BlastUnknown: 1.0,
}

// Config tunes the engine. All fields have spec-mandated defaults via
// DefaultConfig.
type Config struct {
	InitialScore             int
	Floor                    int
	Ceiling                  int
	DecayTarget              int
	DecayRatePerTick         float64
	DiminishingReturnHigh    int
	DiminishingReturnLow     int
	DecayCeiling             int
	InactivityThresholdTicks int64
	RiskWeightingEnabled     bool
	CalibrationMode          bool
	Deltas                   map[Outcome]int
}

// DefaultConfig returns the spec's defaults (spec.md §4.3).
func DefaultConfig() Config {
	return Config{
		InitialScore:             50,
		Floor:                    10,
		Ceiling:                  100,
		DecayTarget:              50,
		DecayRatePerTick:         0.01,
		DiminishingReturnHigh:    90,
		DiminishingReturnLow:     20,
		DecayCeiling:             50,
		InactivityThresholdTicks: 0,
		RiskWeightingEnabled:     false,
		CalibrationMode:          false,
		Deltas:                   DefaultDeltas(),
	}
}

// OutcomeContext carries the optional contextual information an
// ApplyOutcome call may supply (spec.md §4.3 step 2/6).
type OutcomeContext struct {
	ArtifactKinds []domain.ArtifactKind
	Workstreams   []string
	ToolCategory  string
	BlastRadius   *domain.BlastRadius
}

// DomainState is the per-artifact-kind score and decay state.
type DomainState struct {
	Score             int
	decayAccumulator  float64
	LastActivityTick  int64
}

// AgentState is a read-only snapshot of an agent's trust state.
type AgentState struct {
	AgentID          string
	GlobalScore      int
	LastActivityTick int64
	Domains          map[domain.ArtifactKind]DomainState
}

type agentRecord struct {
	globalScore      int
	lastActivityTick int64
	decayAccumulator float64
	domains          map[domain.ArtifactKind]*DomainState
}

// CalibrationEntry records what an ApplyOutcome call would have done,
// without mutating state, while the engine is in calibration mode.
type CalibrationEntry struct {
	AgentID        string
	Outcome        Outcome
	Tick           int64
	BaseDelta      int
	EffectiveDelta int
	WouldBeScore   int
	RecordedAt     time.Time
}

// AuditSink receives one entry per agent registration and one per
// ApplyOutcome call (calibration-mode calls included). Score changes
// made by Tick's decay are not written to it.
type AuditSink interface {
	AppendAuditLog(entityType, entityID, action, callerAgentID string, details map[string]any)
}

// Engine is the trust engine.
type Engine struct {
	mu             sync.RWMutex
	cfg            Config
	agents         map[string]*agentRecord
	calibrationLog []CalibrationEntry
	audit          AuditSink

	scoreGauge *prometheus.GaugeVec
}

// New constructs an Engine. audit may be nil (no audit entries are
// written, useful for unit tests of scoring math in isolation).
func New(cfg Config, audit AuditSink) *Engine {
	if cfg.Deltas == nil {
		cfg.Deltas = DefaultDeltas()
	}
	e := &Engine{
		cfg:    cfg,
		agents: make(map[string]*agentRecord),
		audit:  audit,
	}
	e.scoreGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "intelplane_trust_score",
		Help: "Current trust score per agent and domain (domain=\"\" is the global score).",
	}, []string{"agent", "domain"})
	_ = prometheus.Register(e.scoreGauge)
	return e
}

func clampInt(v, floor, ceiling int) int {
	if v < floor {
		return floor
	}
	if v > ceiling {
		return ceiling
	}
	return v
}

// RegisterAgent lazily creates an agent's trust state at InitialScore
// if it doesn't already exist. Safe to call repeatedly.
func (e *Engine) RegisterAgent(agentID string, tick int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.registerLocked(agentID, tick)
}

func (e *Engine) registerLocked(agentID string, tick int64) *agentRecord {
	rec, ok := e.agents[agentID]
	if !ok {
		rec = &agentRecord{
			globalScore:      e.cfg.InitialScore,
			lastActivityTick: tick,
			domains:          make(map[domain.ArtifactKind]*DomainState),
		}
		e.agents[agentID] = rec
		if e.audit != nil {
			e.audit.AppendAuditLog("agent_trust", agentID, "registered", agentID, map[string]any{"initial_score": rec.globalScore})
		}
	}
	return rec
}

// Get returns a snapshot of an agent's trust state, or false if the
// agent has never been registered / applied an outcome.
func (e *Engine) Get(agentID string) (AgentState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, ok := e.agents[agentID]
	if !ok {
		return AgentState{}, false
	}
	return snapshot(agentID, rec), true
}

// ListAgents returns a snapshot of every registered agent's trust
// state, sorted by agent id. Used by the HTTP/WS surface's state-sync
// broadcaster to assemble the trust-scores array.
func (e *Engine) ListAgents() []AgentState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]AgentState, 0, len(e.agents))
	for agentID, rec := range e.agents {
		out = append(out, snapshot(agentID, rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

func snapshot(agentID string, rec *agentRecord) AgentState {
	domains := make(map[domain.ArtifactKind]DomainState, len(rec.domains))
	for k, v := range rec.domains {
		domains[k] = DomainState{Score: v.Score, LastActivityTick: v.LastActivityTick}
	}
	return AgentState{
		AgentID:          agentID,
		GlobalScore:      rec.globalScore,
		LastActivityTick: rec.lastActivityTick,
		Domains:          domains,
	}
}

// CalibrationLog returns a copy of the calibration entries recorded so
// far (only populated when CalibrationMode is enabled).
func (e *Engine) CalibrationLog() []CalibrationEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]CalibrationEntry, len(e.calibrationLog))
	copy(out, e.calibrationLog)
	return out
}

func riskWeight(br domain.BlastRadius) float64 {
	if w, ok := riskWeights[br]; ok {
		return w
	}
	return 1.0
}

func diminish(score, delta, high, low int) int {
	switch {
	case score > high && delta > 0:
		return int(math.Floor(float64(delta) / 2))
	case score < low && delta < 0:
		return int(math.Ceil(float64(delta) / 2))
	default:
		return delta
	}
}

// ApplyOutcome applies outcome O for agent A at tick T with optional
// context C, following spec.md §4.3's six-step procedure. It returns
// the effective delta that was (or, in calibration mode, would have
// been) applied to the global score.
func (e *Engine) ApplyOutcome(agentID string, outcome Outcome, tick int64, ctx OutcomeContext) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec := e.registerLocked(agentID, tick)

	// Step 1: base delta.
	base, ok := e.cfg.Deltas[outcome]
	if !ok {
		base = 0
	}
	delta := base

	// Step 2: risk weighting, positive deltas only, never dampens
	// negative deltas.
	if e.cfg.RiskWeightingEnabled && ctx.BlastRadius != nil && delta > 0 {
		delta = int(math.Floor(float64(delta) * riskWeight(*ctx.BlastRadius)))
	}

	// Step 3: diminishing returns against the current global score.
	delta = diminish(rec.globalScore, delta, e.cfg.DiminishingReturnHigh, e.cfg.DiminishingReturnLow)

	wouldBeScore := clampInt(rec.globalScore+delta, e.cfg.Floor, e.cfg.Ceiling)

	if e.cfg.CalibrationMode {
		e.calibrationLog = append(e.calibrationLog, CalibrationEntry{
			AgentID: agentID, Outcome: outcome, Tick: tick,
			BaseDelta: base, EffectiveDelta: delta, WouldBeScore: wouldBeScore,
			RecordedAt: time.Now(),
		})
		if e.audit != nil {
			e.audit.AppendAuditLog("trust_outcome", agentID, string(outcome), agentID, mergeOutcomeDetails(map[string]any{
				"calibration": true, "base_delta": base, "effective_delta": delta, "would_be_score": wouldBeScore, "tick": tick,
			}, ctx))
		}
		return delta
	}

	// Step 5: mutate global score.
	rec.globalScore = wouldBeScore
	rec.lastActivityTick = tick
	rec.decayAccumulator = 0
	e.scoreGauge.WithLabelValues(agentID, "").Set(float64(rec.globalScore))

	// Step 6: per-domain scores, risk-adjusted delta re-diminished
	// against each domain's own current score.
	for _, kind := range ctx.ArtifactKinds {
		ds, ok := rec.domains[kind]
		if !ok {
			ds = &DomainState{Score: e.cfg.InitialScore}
			rec.domains[kind] = ds
		}
		domainDelta := diminish(ds.Score, delta, e.cfg.DiminishingReturnHigh, e.cfg.DiminishingReturnLow)
		ds.Score = clampInt(ds.Score+domainDelta, e.cfg.Floor, e.cfg.Ceiling)
		ds.LastActivityTick = tick
		ds.decayAccumulator = 0
		e.scoreGauge.WithLabelValues(agentID, string(kind)).Set(float64(ds.Score))
	}

	if e.audit != nil {
		e.audit.AppendAuditLog("trust_outcome", agentID, string(outcome), agentID, mergeOutcomeDetails(map[string]any{
			"base_delta": base, "effective_delta": delta, "new_score": rec.globalScore, "tick": tick,
		}, ctx))
	}

	return delta
}

// mergeOutcomeDetails folds the workstream/tool-category context of an
// outcome into its audit details so the override-pattern analyzer
// (spec.md §4.6) can group trust_outcome entries without re-deriving
// context from elsewhere in the audit log.
func mergeOutcomeDetails(details map[string]any, ctx OutcomeContext) map[string]any {
	if len(ctx.Workstreams) > 0 {
		details["workstreams"] = ctx.Workstreams
	}
	if len(ctx.ArtifactKinds) > 0 {
		details["artifact_kinds"] = ctx.ArtifactKinds
	}
	if ctx.ToolCategory != "" {
		details["tool_category"] = ctx.ToolCategory
	}
	return details
}

// Tick applies decay for every agent whose lastActivityTick precedes T
// (spec.md §4.3 decay). Call this once per logical tick, typically via
// a tick.Subscriber.
func (e *Engine) Tick(t int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for agentID, rec := range e.agents {
		if rec.lastActivityTick >= t {
			continue
		}
		e.decayGlobal(agentID, rec, t)
		for kind, ds := range rec.domains {
			e.decayDomain(agentID, kind, ds, t)
		}
	}
}

func (e *Engine) decayGlobal(agentID string, rec *agentRecord, t int64) {
	rec.decayAccumulator += e.cfg.DecayRatePerTick
	if rec.decayAccumulator < 1 {
		return
	}
	rec.decayAccumulator -= 1

	idleTicks := t - rec.lastActivityTick
	target := e.cfg.DecayTarget
	if idleTicks > e.cfg.InactivityThresholdTicks {
		target = e.cfg.DecayTarget
		if e.cfg.DecayCeiling < target {
			target = e.cfg.DecayCeiling
		}
		if target < e.cfg.Floor {
			target = e.cfg.Floor
		}
	}

	switch {
	case rec.globalScore < target:
		rec.globalScore++
	case rec.globalScore > target:
		rec.globalScore--
	}
	rec.globalScore = clampInt(rec.globalScore, e.cfg.Floor, e.cfg.Ceiling)
	e.scoreGauge.WithLabelValues(agentID, "").Set(float64(rec.globalScore))
}

func (e *Engine) decayDomain(agentID string, kind domain.ArtifactKind, ds *DomainState, t int64) {
	if ds.LastActivityTick >= t {
		return
	}
	ds.decayAccumulator += e.cfg.DecayRatePerTick
	if ds.decayAccumulator < 1 {
		return
	}
	ds.decayAccumulator -= 1
	target := e.cfg.DecayTarget
	switch {
	case ds.Score < target:
		ds.Score++
	case ds.Score > target:
		ds.Score--
	}
	ds.Score = clampInt(ds.Score, e.cfg.Floor, e.cfg.Ceiling)
	e.scoreGauge.WithLabelValues(agentID, string(kind)).Set(float64(ds.Score))
}

// MapOptionResolution maps a human's resolution of an "option" decision
// to the corresponding Outcome (spec.md §4.3 "Mapping a human
// resolution to an outcome").
func MapOptionResolution(recommendedOptionID, chosenOptionID string) Outcome {
	if recommendedOptionID != "" && recommendedOptionID == chosenOptionID {
		return HumanApprovesRecommendedOption
	}
	return HumanPicksNonRecommended
}

// ToolResolutionAction is the human's action on a tool_approval
// decision.
type ToolResolutionAction string

const (
	ToolActionApprove ToolResolutionAction = "approve"
	ToolActionReject  ToolResolutionAction = "reject"
	ToolActionModify  ToolResolutionAction = "modify"
)

// MapToolResolution maps a human's resolution of a "tool_approval"
// decision to the corresponding Outcome.
func MapToolResolution(action ToolResolutionAction, always bool) Outcome {
	switch action {
	case ToolActionApprove:
		if always {
			return HumanApprovesAlways
		}
		return HumanApprovesToolCall
	case ToolActionReject:
		return HumanRejectsToolCall
	case ToolActionModify:
		return HumanModifiesToolArgs
	default:
		return HumanRejectsToolCall
	}
}
