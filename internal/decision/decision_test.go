// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intelplane-dev/intelplane/internal/domain"
	"github.com/intelplane-dev/intelplane/internal/trust"
)

func dueAt(tick int64) *int64 { return &tick }

func TestEnqueueRejectsDuplicateID(t *testing.T) {
	q := New(nil, nil)
	ev := domain.DecisionEvent{ID: "d-1", Type: domain.DecisionOption, Severity: domain.SeverityLow}
	_, err := q.Enqueue(ev, 0)
	require.NoError(t, err)
	_, err = q.Enqueue(ev, 1)
	require.Error(t, err)
}

func TestListPendingOrdersByTickThenSeverity(t *testing.T) {
	q := New(nil, nil)
	_, _ = q.Enqueue(domain.DecisionEvent{ID: "low-tick0", Severity: domain.SeverityLow}, 0)
	_, _ = q.Enqueue(domain.DecisionEvent{ID: "critical-tick0", Severity: domain.SeverityCritical}, 0)
	_, _ = q.Enqueue(domain.DecisionEvent{ID: "high-tick0", Severity: domain.SeverityHigh}, 0)
	_, _ = q.Enqueue(domain.DecisionEvent{ID: "critical-tick1", Severity: domain.SeverityCritical}, 1)

	pending := q.ListPending()
	ids := make([]string, len(pending))
	for i, d := range pending {
		ids[i] = d.Event.ID
	}
	assert.Equal(t, []string{"critical-tick0", "high-tick0", "low-tick0", "critical-tick1"}, ids)
}

func TestResolveOnlyPendingAllowed(t *testing.T) {
	q := New(nil, nil)
	ev := domain.DecisionEvent{ID: "d-1", Type: domain.DecisionToolApproval}
	_, _ = q.Enqueue(ev, 0)

	_, err := q.Resolve("d-1", ResolutionInput{ToolAction: trust.ToolActionApprove}, 1)
	require.NoError(t, err)

	_, err = q.Resolve("d-1", ResolutionInput{ToolAction: trust.ToolActionApprove}, 2)
	require.Error(t, err)

	_, err = q.Resolve("no-such-id", ResolutionInput{}, 2)
	require.Error(t, err)
}

func TestResolveOptionMapsOutcome(t *testing.T) {
	q := New(nil, nil)
	ev := domain.DecisionEvent{
		ID: "d-1", Type: domain.DecisionOption,
		Options:             []domain.Option{{ID: "a"}, {ID: "b"}},
		RecommendedOptionID: "a",
	}
	_, _ = q.Enqueue(ev, 0)

	res, err := q.Resolve("d-1", ResolutionInput{ChosenOptionID: "a"}, 1)
	require.NoError(t, err)
	assert.Equal(t, trust.HumanApprovesRecommendedOption, res.Outcome)

	ev2 := domain.DecisionEvent{
		ID: "d-2", Type: domain.DecisionOption,
		Options:             []domain.Option{{ID: "a"}, {ID: "b"}},
		RecommendedOptionID: "a",
	}
	_, _ = q.Enqueue(ev2, 0)
	res2, err := q.Resolve("d-2", ResolutionInput{ChosenOptionID: "b"}, 1)
	require.NoError(t, err)
	assert.Equal(t, trust.HumanPicksNonRecommended, res2.Outcome)
}

func TestTickExpiresWithAutoResolvePolicy(t *testing.T) {
	q := New(nil, nil)
	ev := domain.DecisionEvent{
		ID: "d-1", Type: domain.DecisionToolApproval, DueByTick: dueAt(5),
		AutoResolve: domain.AutoResolvePolicy{Enabled: true, TimeoutAction: "reject"},
	}
	_, _ = q.Enqueue(ev, 0)

	q.Tick(5) // deadline not yet passed
	qd, _ := q.Get("d-1")
	assert.Equal(t, StatusPending, qd.Status)

	q.Tick(6) // now past the deadline
	qd, _ = q.Get("d-1")
	assert.Equal(t, StatusAutoResolved, qd.Status)
	assert.Equal(t, "reject", qd.Resolution.ChosenOptionID)
	assert.Equal(t, trust.TaskAbandonedOrMaxTurns, qd.Resolution.Outcome)
}

func TestTickExpiresWithoutAutoResolvePolicy(t *testing.T) {
	q := New(nil, nil)
	ev := domain.DecisionEvent{ID: "d-1", DueByTick: dueAt(1)}
	_, _ = q.Enqueue(ev, 0)

	q.Tick(2)
	qd, _ := q.Get("d-1")
	assert.Equal(t, StatusTimedOut, qd.Status)
}

func TestTickIgnoresDecisionsWithoutDeadline(t *testing.T) {
	q := New(nil, nil)
	ev := domain.DecisionEvent{ID: "d-1"}
	_, _ = q.Enqueue(ev, 0)

	q.Tick(1000)
	qd, _ := q.Get("d-1")
	assert.Equal(t, StatusPending, qd.Status)
}
