// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package export is an optional time-series sink for the analysis
// suite's computed aggregates. It never recomputes or adjusts a value
// itself; it only persists what the ROI and retrospective analyzers
// already derived, so operators can chart trend lines outside the
// process.
package export

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/intelplane-dev/intelplane/internal/analysis"
)

// Sink writes analyzer output to an InfluxDB bucket using the
// non-blocking write API.
type Sink struct {
	client influxdb2.Client
	writer api.WriteAPI
}

// NewSink opens an InfluxDB client for url/token and prepares a
// non-blocking writer against org/bucket. Call Close to flush pending
// points on shutdown.
func NewSink(url, token, org, bucket string) *Sink {
	client := influxdb2.NewClient(url, token)
	return &Sink{client: client, writer: client.WriteAPI(org, bucket)}
}

// Close flushes any buffered points and releases the client.
func (s *Sink) Close() {
	s.writer.Flush()
	s.client.Close()
}

// WriteModeStats persists one control-mode's ROI snapshot at tick.
func (s *Sink) WriteModeStats(tick int64, stats analysis.ModeStats) {
	p := influxdb2.NewPointWithMeasurement("control_mode_roi").
		AddTag("mode", stats.Mode).
		AddField("tick", tick).
		AddField("decisions", stats.Decisions).
		AddField("override_rate", stats.OverrideRate).
		AddField("completion_rate", stats.CompletionRate).
		AddField("coherence_issue_rate", stats.CoherenceIssueRate).
		AddField("score", stats.Score).
		AddField("eligible", stats.Eligible).
		SetTime(time.Now())
	s.writer.WritePoint(p)
}

// WriteWindowStats persists one retrospective window's tallies.
func (s *Sink) WriteWindowStats(stats analysis.WindowStats) {
	p := influxdb2.NewPointWithMeasurement("retrospective_window").
		AddField("from_tick", stats.FromTick).
		AddField("to_tick", stats.ToTick).
		AddField("decisions", stats.Decisions).
		AddField("overrides", stats.Overrides).
		AddField("coherence_issues", stats.CoherenceIssues).
		AddField("artifact_updates", stats.ArtifactUpdates).
		AddField("positive_outcomes", stats.PositiveOutcomes).
		AddField("negative_outcomes", stats.NegativeOutcomes).
		AddField("neutral_outcomes", stats.NeutralOutcomes).
		SetTime(time.Now())
	s.writer.WritePoint(p)
}

// Errors surfaces the writer's asynchronous error channel; callers
// typically drain this in a background goroutine for logging.
func (s *Sink) Errors() <-chan error {
	return s.writer.Errors()
}

var _ = context.Background // reserved for a future blocking-flush variant
