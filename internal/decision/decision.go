// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package decision implements the human-in-the-loop decision queue: a
// FIFO of questions agents cannot auto-resolve, ordered by enqueue
// tick then severity, with per-tick deadline expiry and resolution
// fan-out over the event bus.
package decision

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/intelplane-dev/intelplane/internal/domain"
	"github.com/intelplane-dev/intelplane/internal/errs"
	"github.com/intelplane-dev/intelplane/internal/eventbus"
	"github.com/intelplane-dev/intelplane/internal/trust"
)

// Status is the lifecycle state of a queued decision.
type Status string

const (
	StatusPending      Status = "pending"
	StatusResolved     Status = "resolved"
	StatusAutoResolved Status = "auto_resolved"
	StatusTimedOut     Status = "timed_out"
)

// Resolution is the outcome of resolving a decision, either by a human
// or by the per-tick deadline sweep.
type Resolution struct {
	DecisionID     string
	Status         Status
	ChosenOptionID string
	ToolAction     trust.ToolResolutionAction
	Always         bool
	Outcome        trust.Outcome
	ResolvedAtTick int64
}

// ResolutionInput is what a caller supplies to resolve a pending
// decision manually; only the fields relevant to the decision's Type
// are read.
type ResolutionInput struct {
	ChosenOptionID string
	ToolAction     trust.ToolResolutionAction
	Always         bool
}

// QueuedDecision is a decision event plus its queue bookkeeping.
type QueuedDecision struct {
	Event          domain.DecisionEvent
	Status         Status
	EnqueuedTick   int64
	Deadline       *int64
	ResolvedAtTick *int64
	Resolution     *Resolution
	seq            int64
}

// AuditSink receives one entry per state mutation.
type AuditSink interface {
	AppendAuditLog(entityType, entityID, action, callerAgentID string, details map[string]any)
}

// Publisher is the event-bus surface the queue needs to fan out
// resolutions; satisfied by *eventbus.Bus.
type Publisher interface {
	Publish(topic eventbus.Topic, event any) error
}

// Queue is the decision queue.
type Queue struct {
	mu        sync.Mutex
	decisions map[string]*QueuedDecision
	nextSeq   int64
	bus       Publisher
	audit     AuditSink

	pendingGauge  prometheus.Gauge
	resolvedTotal *prometheus.CounterVec
}

// New constructs a Queue. bus and audit may be nil (useful for
// isolated unit tests of the ordering/expiry logic).
func New(bus Publisher, audit AuditSink) *Queue {
	q := &Queue{
		decisions: make(map[string]*QueuedDecision),
		bus:       bus,
		audit:     audit,
	}
	q.pendingGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "intelplane_decisions_pending",
		Help: "Number of decisions currently pending human resolution.",
	})
	q.resolvedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "intelplane_decisions_resolved_total",
		Help: "Decisions resolved, labeled by final status.",
	}, []string{"status"})
	_ = prometheus.Register(q.pendingGauge)
	_ = prometheus.Register(q.resolvedTotal)
	return q
}

func decisionID(event domain.DecisionEvent) string { return event.ID }

// Enqueue adds a new decision to the queue. Duplicate ids fail with
// errs.ErrDuplicate.
func (q *Queue) Enqueue(event domain.DecisionEvent, currentTick int64) (*QueuedDecision, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := decisionID(event)
	if _, exists := q.decisions[id]; exists {
		return nil, errs.New(errs.BadInput, "decision.Enqueue", errs.ErrDuplicate).WithField("decision_id", id)
	}

	q.nextSeq++
	qd := &QueuedDecision{
		Event:        event,
		Status:       StatusPending,
		EnqueuedTick: currentTick,
		Deadline:     event.DueByTick,
		seq:          q.nextSeq,
	}
	q.decisions[id] = qd
	q.pendingGauge.Set(float64(q.countPendingLocked()))

	if q.audit != nil {
		q.audit.AppendAuditLog("decision", id, "enqueued", event.AgentID, map[string]any{
			"type": event.Type, "severity": event.Severity, "tick": currentTick,
		})
	}
	return qd, nil
}

func (q *Queue) countPendingLocked() int {
	n := 0
	for _, d := range q.decisions {
		if d.Status == StatusPending {
			n++
		}
	}
	return n
}

// Resolve resolves a pending decision with a human-supplied input.
// Resolving a decision that is not pending (unknown id, already
// resolved/expired) fails with errs.ErrNotPending.
func (q *Queue) Resolve(decisionID string, input ResolutionInput, tick int64) (Resolution, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	qd, ok := q.decisions[decisionID]
	if !ok || qd.Status != StatusPending {
		return Resolution{}, errs.New(errs.BadInput, "decision.Resolve", errs.ErrNotPending).WithField("decision_id", decisionID)
	}

	outcome := outcomeForManualResolution(qd.Event, input)
	res := Resolution{
		DecisionID: decisionID, Status: StatusResolved,
		ChosenOptionID: input.ChosenOptionID, ToolAction: input.ToolAction, Always: input.Always,
		Outcome: outcome, ResolvedAtTick: tick,
	}
	qd.Status = StatusResolved
	qd.ResolvedAtTick = &tick
	qd.Resolution = &res

	q.pendingGauge.Set(float64(q.countPendingLocked()))
	q.resolvedTotal.WithLabelValues(string(StatusResolved)).Inc()

	if q.audit != nil {
		q.audit.AppendAuditLog("decision", decisionID, "resolved", qd.Event.AgentID, map[string]any{
			"outcome": outcome, "tick": tick, "artifact_id": qd.Event.ArtifactID,
			"workstream": qd.Event.Workstream, "tool_category": qd.Event.ToolCategory,
		})
	}
	if q.bus != nil {
		_ = q.bus.Publish(eventbus.TopicResolutions, res)
	}
	return res, nil
}

func outcomeForManualResolution(event domain.DecisionEvent, input ResolutionInput) trust.Outcome {
	switch event.Type {
	case domain.DecisionToolApproval:
		return trust.MapToolResolution(input.ToolAction, input.Always)
	default:
		return trust.MapOptionResolution(event.RecommendedOptionID, input.ChosenOptionID)
	}
}

// ListPending returns every pending decision, ordered by enqueue tick,
// then severity (critical first), then insertion order within a tick.
func (q *Queue) ListPending() []QueuedDecision {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]QueuedDecision, 0, len(q.decisions))
	for _, d := range q.decisions {
		if d.Status == StatusPending {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EnqueuedTick != out[j].EnqueuedTick {
			return out[i].EnqueuedTick < out[j].EnqueuedTick
		}
		if out[i].Event.Severity.Rank() != out[j].Event.Severity.Rank() {
			return out[i].Event.Severity.Rank() > out[j].Event.Severity.Rank()
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// Tick expires decisions whose deadline has passed as of T: decisions
// carrying an enabled autoResolve policy are marked auto_resolved with
// that policy's action; others are marked timed_out. Both produce a
// synthetic resolution reported to the Trust Engine as
// task_abandoned_or_max_turns, fanned out on the event bus exactly
// like a manual resolution.
func (q *Queue) Tick(t int64) {
	q.mu.Lock()
	var expired []*QueuedDecision
	for _, d := range q.decisions {
		if d.Status != StatusPending || d.Deadline == nil {
			continue
		}
		if t > *d.Deadline {
			expired = append(expired, d)
		}
	}

	var toPublish []Resolution
	for _, qd := range expired {
		status := StatusTimedOut
		chosen := ""
		if qd.Event.AutoResolve.Enabled {
			status = StatusAutoResolved
			chosen = qd.Event.AutoResolve.TimeoutAction
		}
		res := Resolution{
			DecisionID: qd.Event.ID, Status: status, ChosenOptionID: chosen,
			Outcome: trust.TaskAbandonedOrMaxTurns, ResolvedAtTick: t,
		}
		qd.Status = status
		qd.ResolvedAtTick = &t
		qd.Resolution = &res
		q.resolvedTotal.WithLabelValues(string(status)).Inc()
		if q.audit != nil {
			q.audit.AppendAuditLog("decision", qd.Event.ID, string(status), qd.Event.AgentID, map[string]any{
				"tick": t, "chosen": chosen, "outcome": trust.TaskAbandonedOrMaxTurns,
				"artifact_id": qd.Event.ArtifactID, "workstream": qd.Event.Workstream, "tool_category": qd.Event.ToolCategory,
			})
		}
		toPublish = append(toPublish, res)
	}
	q.pendingGauge.Set(float64(q.countPendingLocked()))
	q.mu.Unlock()

	if q.bus != nil {
		for _, res := range toPublish {
			_ = q.bus.Publish(eventbus.TopicResolutions, res)
		}
	}
}

// Get returns a queued decision by id.
func (q *Queue) Get(id string) (QueuedDecision, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	d, ok := q.decisions[id]
	if !ok {
		return QueuedDecision{}, false
	}
	return *d, true
}
