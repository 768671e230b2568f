// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intelplane-dev/intelplane/internal/coherence"
	"github.com/intelplane-dev/intelplane/internal/contextinject"
	"github.com/intelplane-dev/intelplane/internal/decision"
	"github.com/intelplane-dev/intelplane/internal/domain"
	"github.com/intelplane-dev/intelplane/internal/trust"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeFeedbackLoop struct {
	status coherence.FeedbackLoopStatus
}

func (f *fakeFeedbackLoop) FeedbackLoopStatus() coherence.FeedbackLoopStatus { return f.status }

type fakeAgentLister struct {
	agents []trust.AgentState
}

func (f *fakeAgentLister) ListAgents() []trust.AgentState { return f.agents }

type fakeMode struct {
	mode contextinject.Mode
}

func (f *fakeMode) Mode() contextinject.Mode { return f.mode }

type fakeDecisionsProvider struct {
	pending []decision.QueuedDecision
}

func (f *fakeDecisionsProvider) ListPending() []decision.QueuedDecision { return f.pending }

func TestHandleFeedbackLoopReturnsStatus(t *testing.T) {
	fb := &fakeFeedbackLoop{status: coherence.FeedbackLoopStatus{
		CurrentPromotionThreshold: 0.8, WindowConfirmed: 3, WindowDismissed: 1,
	}}
	r := New(fb, nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/coherence/feedback-loop", nil)
	w := httptest.NewRecorder()
	r.Engine().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp FeedbackLoopResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 0.8, resp.CurrentPromotionThreshold)
	assert.Equal(t, 3, resp.WindowConfirmed)
}

func TestHandleFeedbackLoopWithoutProviderReturnsZeroValue(t *testing.T) {
	r := New(nil, nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/coherence/feedback-loop", nil)
	w := httptest.NewRecorder()
	r.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandlePipelineTriggerAcknowledges(t *testing.T) {
	r := New(nil, nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/posts/my-slug/pipeline/publish", nil)
	w := httptest.NewRecorder()
	r.Engine().ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	var resp PipelineTriggerResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "my-slug", resp.Slug)
	assert.Equal(t, "publish", resp.Action)
	assert.Equal(t, "accepted", resp.Status)
}

func TestHandlePipelineTriggerRejectsOversizedReason(t *testing.T) {
	r := New(nil, nil, nil, nil, nil)

	body := `{"reason":"` + strings.Repeat("x", 600) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/posts/s/pipeline/a", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlePendingDecisionsReturnsQueueEntries(t *testing.T) {
	deadline := int64(12)
	provider := &fakeDecisionsProvider{pending: []decision.QueuedDecision{
		{
			Event: domain.DecisionEvent{
				ID: "d1", Type: domain.DecisionToolApproval, Severity: domain.SeverityHigh,
				Workstream: "ws-a", AgentID: "agent-1", ToolCategory: "shell",
			},
			Status:       decision.StatusPending,
			EnqueuedTick: 10,
			Deadline:     &deadline,
		},
	}}
	r := New(nil, nil, nil, nil, nil)
	r.SetDecisionsProvider(provider)

	req := httptest.NewRequest(http.MethodGet, "/api/decisions/pending", nil)
	w := httptest.NewRecorder()
	r.Engine().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp []PendingDecision
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "d1", resp[0].ID)
	assert.Equal(t, "agent-1", resp[0].AgentID)
	assert.Equal(t, int64(10), resp[0].EnqueuedTick)
	require.NotNil(t, resp[0].Deadline)
	assert.Equal(t, int64(12), *resp[0].Deadline)
}

func TestHandlePendingDecisionsWithoutProviderReturnsEmptyList(t *testing.T) {
	r := New(nil, nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/decisions/pending", nil)
	w := httptest.NewRecorder()
	r.Engine().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestBroadcastStateWithProvidersAndNoClientsDoesNotPanic(t *testing.T) {
	trustLister := &fakeAgentLister{agents: []trust.AgentState{
		{AgentID: "agent-1", GlobalScore: 55},
		{AgentID: "agent-2", GlobalScore: 40},
	}}
	mode := &fakeMode{mode: contextinject.ModeAdaptive}
	r := New(nil, trustLister, mode, nil, nil)
	r.SetSnapshotProvider(func() any { return map[string]string{"status": "ok"} })

	assert.Equal(t, 0, r.hub.ClientCount())
	// BroadcastState should not panic even with no connected clients.
	r.BroadcastState(42)
}
