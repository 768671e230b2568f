// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"testing"

	"github.com/intelplane-dev/intelplane/internal/domain"
)

type fakeAuditReader struct {
	entries []domain.AuditLogEntry
}

func (f *fakeAuditReader) ListAuditLog(entityType, entityID string) []domain.AuditLogEntry {
	return f.entries
}

func TestMaxTickSeenReturnsHighestTick(t *testing.T) {
	reader := &fakeAuditReader{entries: []domain.AuditLogEntry{
		{EntityType: "trust_outcome", Tick: 5},
		{EntityType: "coherence_event", Tick: 42},
		{EntityType: "decision", Tick: 17},
	}}

	if got, want := maxTickSeen(reader), int64(42); got != want {
		t.Fatalf("maxTickSeen() = %d, want %d", got, want)
	}
}

func TestMaxTickSeenOnEmptyLogReturnsZero(t *testing.T) {
	reader := &fakeAuditReader{}
	if got := maxTickSeen(reader); got != 0 {
		t.Fatalf("maxTickSeen() on empty log = %d, want 0", got)
	}
}
