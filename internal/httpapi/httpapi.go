// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package httpapi is the thin HTTP + WebSocket collaborator bound by
// spec.md §6.4: a feedback-loop status endpoint, an unrelated pipeline
// trigger stub carried over from the original surface, and a
// WebSocket broadcaster for state-sync snapshots. It is not part of
// the core: every handler here only reads through the core engines'
// already-exported read-only views.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-openapi/strfmt"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/intelplane-dev/intelplane/internal/coherence"
	"github.com/intelplane-dev/intelplane/internal/contextinject"
	"github.com/intelplane-dev/intelplane/internal/decision"
	"github.com/intelplane-dev/intelplane/internal/trust"
	"github.com/intelplane-dev/intelplane/pkg/logging"
)

// FeedbackLoopProvider is the coherence-monitor surface the feedback-
// loop endpoint needs; satisfied by *coherence.Monitor.
type FeedbackLoopProvider interface {
	FeedbackLoopStatus() coherence.FeedbackLoopStatus
}

// AgentLister is the trust-engine surface the state-sync broadcaster
// needs; satisfied by *trust.Engine.
type AgentLister interface {
	ListAgents() []trust.AgentState
}

// ModeProvider is the context-injection surface the state-sync
// broadcaster needs; satisfied by *contextinject.Service.
type ModeProvider interface {
	Mode() contextinject.Mode
}

// TickProvider is the tick-service surface the state-sync broadcaster
// needs; satisfied by *tick.Service.
type TickProvider interface {
	Current() int64
}

// PendingDecisionsProvider is the decision-queue surface the operator
// console polls; satisfied by *decision.Queue.
type PendingDecisionsProvider interface {
	ListPending() []decision.QueuedDecision
}

// PendingDecision is the JSON shape of one entry in
// GET /api/decisions/pending.
type PendingDecision struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Severity     string `json:"severity"`
	Workstream   string `json:"workstream"`
	AgentID      string `json:"agentId"`
	ToolCategory string `json:"toolCategory,omitempty"`
	EnqueuedTick int64  `json:"enqueuedTick"`
	Deadline     *int64 `json:"deadline,omitempty"`
}

// FeedbackLoopResponse is the JSON body for
// GET /api/coherence/feedback-loop.
type FeedbackLoopResponse struct {
	CurrentPromotionThreshold float64                     `json:"currentPromotionThreshold"`
	WindowConfirmed           int                         `json:"windowConfirmed"`
	WindowDismissed           int                         `json:"windowDismissed"`
	History                   []coherence.ThresholdChange `json:"history"`
}

// PipelineTriggerRequest is the optional JSON body for
// POST /api/posts/:slug/pipeline/:action. The endpoint is unrelated to
// the Intelligence Plane's core (spec.md §6.4); this router only
// acknowledges the trigger, it does not dispatch it anywhere.
type PipelineTriggerRequest struct {
	RequestID strfmt.UUID `json:"requestId,omitempty" validate:"omitempty"`
	Reason    string      `json:"reason,omitempty" validate:"omitempty,max=500"`
}

// PipelineTriggerResponse acknowledges a pipeline trigger.
type PipelineTriggerResponse struct {
	Slug   string `json:"slug"`
	Action string `json:"action"`
	Status string `json:"status"`
}

// Router wires the feedback-loop endpoint, the pipeline stub, and the
// WebSocket state-sync broadcaster onto a Gin engine.
type Router struct {
	engine   *gin.Engine
	hub      *Hub
	log      *logging.Logger
	validate *validator.Validate

	coherence FeedbackLoopProvider
	trust     AgentLister
	mode      ModeProvider
	tick      TickProvider
	decisions PendingDecisionsProvider

	snapshotProvider func() any
}

// New constructs a Router and registers its routes. Any dependency may
// be nil; handlers degrade to empty/zero responses rather than panic,
// which keeps the router usable in tests that only exercise a subset
// of the wiring.
func New(coherenceMonitor FeedbackLoopProvider, trustEngine AgentLister, mode ModeProvider, tickSvc TickProvider, log *logging.Logger) *Router {
	if log == nil {
		log = logging.Default()
	}
	r := &Router{
		hub:       NewHub(),
		log:       log,
		validate:  validator.New(),
		coherence: coherenceMonitor,
		trust:     trustEngine,
		mode:      mode,
		tick:      tickSvc,
	}
	r.engine = gin.New()
	r.engine.Use(gin.Recovery())
	r.engine.Use(otelgin.Middleware("intelplane-httpapi"))
	r.registerRoutes()
	return r
}

// SetSnapshotProvider configures how the broadcaster fills the opaque
// ProjectSnapshot field; the project snapshot's shape is owned by the
// editor UI collaborator (out of scope here), so this router only
// carries whatever the caller supplies.
func (r *Router) SetSnapshotProvider(f func() any) {
	r.snapshotProvider = f
}

// SetDecisionsProvider wires the decision queue that
// GET /api/decisions/pending reads through. Added for the operator
// console (SPEC_FULL.md's supplemented read-only TUI), which has no
// other way to observe the queue from outside the process.
func (r *Router) SetDecisionsProvider(p PendingDecisionsProvider) {
	r.decisions = p
}

// Engine returns the underlying Gin engine, primarily for tests that
// want to drive requests with httptest.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func (r *Router) registerRoutes() {
	r.engine.GET("/api/coherence/feedback-loop", r.handleFeedbackLoop)
	r.engine.POST("/api/posts/:slug/pipeline/:action", r.handlePipelineTrigger)
	r.engine.GET("/api/decisions/pending", r.handlePendingDecisions)
	r.engine.GET("/ws/state", r.hub.HandleWebSocket)
}

func (r *Router) handlePendingDecisions(c *gin.Context) {
	if r.decisions == nil {
		c.JSON(http.StatusOK, []PendingDecision{})
		return
	}
	pending := r.decisions.ListPending()
	out := make([]PendingDecision, 0, len(pending))
	for _, qd := range pending {
		out = append(out, PendingDecision{
			ID:           qd.Event.ID,
			Type:         string(qd.Event.Type),
			Severity:     string(qd.Event.Severity),
			Workstream:   qd.Event.Workstream,
			AgentID:      qd.Event.AgentID,
			ToolCategory: qd.Event.ToolCategory,
			EnqueuedTick: qd.EnqueuedTick,
			Deadline:     qd.Deadline,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (r *Router) handleFeedbackLoop(c *gin.Context) {
	if r.coherence == nil {
		c.JSON(http.StatusOK, FeedbackLoopResponse{})
		return
	}
	status := r.coherence.FeedbackLoopStatus()
	c.JSON(http.StatusOK, FeedbackLoopResponse{
		CurrentPromotionThreshold: status.CurrentPromotionThreshold,
		WindowConfirmed:           status.WindowConfirmed,
		WindowDismissed:           status.WindowDismissed,
		History:                   status.History,
	})
}

func (r *Router) handlePipelineTrigger(c *gin.Context) {
	slug := c.Param("slug")
	action := c.Param("action")

	if c.Request.ContentLength > 0 {
		var req PipelineTriggerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := r.validate.Struct(req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	r.log.Info("pipeline trigger received", "slug", slug, "action", action)
	c.JSON(http.StatusAccepted, PipelineTriggerResponse{Slug: slug, Action: action, Status: "accepted"})
}

// BroadcastState assembles a Snapshot from the wired engines and fans
// it out to every connected WebSocket client. It is meant to be
// registered as a tick.Subscriber directly: its signature matches
// tick.Subscriber, and it falls back to TickProvider.Current when no
// tick value is supplied by the caller (newTick == 0 from a caller
// that doesn't track ticks itself).
func (r *Router) BroadcastState(newTick int64) {
	tick := newTick
	if tick == 0 && r.tick != nil {
		tick = r.tick.Current()
	}
	snap := Snapshot{Tick: tick}
	if r.mode != nil {
		snap.ControlMode = string(r.mode.Mode())
	}
	if r.trust != nil {
		agents := r.trust.ListAgents()
		snap.ActiveAgents = make([]string, 0, len(agents))
		snap.TrustScores = make([]TrustScoreEntry, 0, len(agents))
		for _, a := range agents {
			snap.ActiveAgents = append(snap.ActiveAgents, a.AgentID)
			snap.TrustScores = append(snap.TrustScores, TrustScoreEntry{AgentID: a.AgentID, Score: a.GlobalScore})
		}
	}
	if r.snapshotProvider != nil {
		snap.ProjectSnapshot = r.snapshotProvider()
	}
	r.hub.Broadcast(snap)
}
