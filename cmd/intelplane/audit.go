// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/intelplane-dev/intelplane/cmd/intelplane/config"
	"github.com/intelplane-dev/intelplane/internal/analysis"
	"github.com/intelplane-dev/intelplane/internal/knowledge"
	"github.com/intelplane-dev/intelplane/pkg/logging"
)

// runAuditReplay opens the configured knowledge store read-through and
// prints the override, retrospective, ROI, and constraint analyzers'
// findings over the full recorded history (spec.md §4.6). The rework
// analyzer is not run by this command.
// It opens its own Store rather than reusing a running serve process,
// so it can run offline against the same on-disk data.
func runAuditReplay(cmd *cobra.Command, args []string) error {
	cfg := config.Current()

	contentDir := config.ExpandHome(cfg.Knowledge.ContentDir)
	if contentDir == "" {
		contentDir = config.ExpandHome(cfg.Knowledge.MetadataDir) + "-content"
	}
	log := logging.Default()
	contentStore, err := knowledge.NewLocalContentStore(contentDir, log)
	if err != nil {
		return fmt.Errorf("opening content store: %w", err)
	}
	store, err := knowledge.Open(config.ExpandHome(cfg.Knowledge.MetadataDir), contentStore, log)
	if err != nil {
		return fmt.Errorf("opening knowledge store: %w", err)
	}
	defer store.Close()

	out := cmd.OutOrStdout()

	overrides := analysis.AnalyzeOverrides(store)
	fmt.Fprintf(out, "override patterns: %d bursts detected\n", len(overrides.Bursts))

	roi := analysis.AnalyzeControlModeROI(store)
	fmt.Fprintf(out, "control-mode ROI: recommended=%s confidence=%s across %d decisions\n",
		roi.RecommendedMode, roi.Confidence, roi.TotalDecisions)

	constraints := analysis.InferConstraints(store)
	fmt.Fprintf(out, "inferred constraints: %d suggestions\n", len(constraints))

	retro := analysis.AnalyzeRetrospective(store, 0, maxTickSeen(store), true)
	fmt.Fprintf(out, "retrospective: %d decisions, %d overrides, %d coherence issues, %d insights\n",
		retro.Current.Decisions, retro.Current.Overrides, retro.Current.CoherenceIssues, len(retro.Insights))

	return nil
}

// maxTickSeen scans the audit log for the highest recorded tick so
// `audit replay` can cover the full history without the caller having
// to know where it ends.
func maxTickSeen(reader analysis.AuditReader) int64 {
	var max int64
	for _, entry := range reader.ListAuditLog("", "") {
		if entry.Tick > max {
			max = entry.Tick
		}
	}
	return max
}
