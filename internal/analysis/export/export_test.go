// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package export

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/intelplane-dev/intelplane/internal/analysis"
)

func TestWriteModeStatsDoesNotPanicWithoutAServer(t *testing.T) {
	s := NewSink("http://127.0.0.1:0", "test-token", "intelplane", "analysis")
	defer s.Close()

	assert.NotPanics(t, func() {
		s.WriteModeStats(42, analysis.ModeStats{Mode: "adaptive", Decisions: 10, Score: 0.75, Eligible: true})
	})
}

func TestWriteWindowStatsDoesNotPanicWithoutAServer(t *testing.T) {
	s := NewSink("http://127.0.0.1:0", "test-token", "intelplane", "analysis")
	defer s.Close()

	assert.NotPanics(t, func() {
		s.WriteWindowStats(analysis.WindowStats{FromTick: 0, ToTick: 9, Decisions: 10, Overrides: 4})
	})
}
