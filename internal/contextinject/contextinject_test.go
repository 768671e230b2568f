// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package contextinject

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intelplane-dev/intelplane/internal/domain"
	"github.com/intelplane-dev/intelplane/internal/eventbus"
)

type fakeStore struct {
	artifacts []domain.ArtifactEvent
}

func (f *fakeStore) ListArtifacts() []domain.ArtifactEvent { return f.artifacts }

type fakeBus struct {
	published []any
}

func (f *fakeBus) Publish(topic eventbus.Topic, event any) error {
	f.published = append(f.published, event)
	return nil
}

type fakeAudit struct {
	entries []string
}

func (f *fakeAudit) AppendAuditLog(entityType, entityID, action, callerAgentID string, details map[string]any) {
	f.entries = append(f.entries, entityType+":"+action)
}

func TestOnTickDoesNothingWithoutActiveAgents(t *testing.T) {
	bus := &fakeBus{}
	svc := New(DefaultConfig(), &fakeStore{}, bus, nil)

	svc.OnTick(10)
	assert.Empty(t, bus.published)
}

func TestOnTickInjectsAtIntervalForOrchestratorMode(t *testing.T) {
	bus := &fakeBus{}
	audit := &fakeAudit{}
	store := &fakeStore{artifacts: []domain.ArtifactEvent{
		{ArtifactID: "a-1", Workstream: "ws-a", Provenance: domain.Provenance{CreatedAt: time.Unix(100, 0)}},
		{ArtifactID: "a-2", Workstream: "ws-a", Provenance: domain.Provenance{CreatedAt: time.Unix(200, 0)}},
	}}
	svc := New(DefaultConfig(), store, bus, audit)
	svc.Register("agent-1", "ws-a")

	svc.OnTick(1) // due: the first injection fires immediately (lastInjectedTick==0)
	require.Len(t, bus.published, 1)
	msg := bus.published[0].(Message)
	assert.Equal(t, ModeOrchestrator, msg.Mode)
	assert.Equal(t, []string{"agent-1"}, msg.AgentIDs)
	// a-2 was created later, so it sorts first.
	assert.Equal(t, []string{"a-2", "a-1"}, msg.ArtifactIDs)

	svc.OnTick(5) // within the 10-tick interval: no second injection
	assert.Len(t, bus.published, 1)

	svc.OnTick(11) // interval elapsed since tick 1
	assert.Len(t, bus.published, 2)

	assert.Contains(t, audit.entries, "context_injection:emitted")
}

func TestSetModeChangesIntervalAndRecordsAudit(t *testing.T) {
	audit := &fakeAudit{}
	svc := New(DefaultConfig(), &fakeStore{}, &fakeBus{}, audit)
	svc.Register("agent-1", "")

	svc.SetMode(ModeEcosystem, 100)
	assert.Equal(t, ModeEcosystem, svc.Mode())
	assert.Contains(t, audit.entries, "control_mode_change:changed")

	bus := &fakeBus{}
	svc2 := New(DefaultConfig(), &fakeStore{}, bus, nil)
	svc2.Register("agent-1", "")
	svc2.SetMode(ModeEcosystem, 100)

	svc2.OnTick(130) // 30 ticks since mode switch: below the 50-tick ecosystem interval
	assert.Empty(t, bus.published)

	svc2.OnTick(151) // 51 ticks since mode switch: due
	assert.Len(t, bus.published, 1)
}

func TestReportReferencedAttachesToExistingRecord(t *testing.T) {
	bus := &fakeBus{}
	svc := New(DefaultConfig(), &fakeStore{}, bus, nil)
	svc.Register("agent-1", "")
	svc.OnTick(1)

	require.Len(t, bus.published, 1)
	msg := bus.published[0].(Message)

	svc.ReportReferenced(msg.ID, []string{"a-1"})
	svc.ReportReferenced("unknown-message", []string{"a-2"})

	records := svc.Records()
	require.Len(t, records, 1)
	assert.Equal(t, []string{"a-1"}, records[0].ReferencedArtifacts)
}

func TestUnregisterStopsFurtherInjections(t *testing.T) {
	bus := &fakeBus{}
	svc := New(DefaultConfig(), &fakeStore{}, bus, nil)
	svc.Register("agent-1", "")
	svc.OnTick(1)
	require.Len(t, bus.published, 1)

	svc.Unregister("agent-1")
	svc.OnTick(11)
	assert.Len(t, bus.published, 1)
}
