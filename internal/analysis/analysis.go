// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package analysis implements the audit-log analysis suite: override
// patterns, rework causal attribution, phase retrospectives,
// control-mode ROI, and constraint inference (spec.md §4.6). Every
// analyzer is read-only with respect to the engines; it only ever
// reads entries already written by the Trust Engine, Decision Queue,
// and Coherence Monitor through their shared AuditSink.
package analysis

import (
	"strings"

	"github.com/intelplane-dev/intelplane/internal/domain"
)

// AuditReader is the read surface the analysis suite needs; satisfied
// by *knowledge.Store. entityType may be empty to mean "any".
type AuditReader interface {
	ListAuditLog(entityType, entityID string) []domain.AuditLogEntry
}

// Confidence is the coarse confidence tier attached to a derived
// recommendation or suggestion.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// detailTick extracts the logical tick an audit entry was recorded at.
// Details travel through a knowledge.Store as JSON, so an int64 stored
// by a caller decodes back as float64; this normalizes either shape.
func detailTick(details map[string]any) (int64, bool) {
	if details == nil {
		return 0, false
	}
	switch v := details["tick"].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

func detailString(details map[string]any, key string) string {
	if details == nil {
		return ""
	}
	s, _ := details[key].(string)
	return s
}

// detailStringSlice reads a []string detail that may have round-tripped
// through JSON as []any.
func detailStringSlice(details map[string]any, key string) []string {
	if details == nil {
		return nil
	}
	switch v := details[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// isOverrideOutcome reports whether an outcome name represents a human
// override of an agent's behavior, per spec.md §4.6: the outcome name
// contains "override" or is exactly human_picks_non_recommended.
func isOverrideOutcome(outcome string) bool {
	return outcome == "human_picks_non_recommended" || strings.Contains(outcome, "override")
}
