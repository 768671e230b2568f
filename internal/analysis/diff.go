// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analysis

import (
	"bytes"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sourcegraph/go-diff/diff"
)

// LineDelta computes a line-level change-size metric between two
// artifact revisions: a unified diff is generated with go-difflib,
// then parsed with go-diff to tally added and removed lines per hunk.
// Identical inputs return (0, 0, nil).
func LineDelta(before, after string) (added, removed int, err error) {
	if before == after {
		return 0, 0, nil
	}

	unified := difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: "before",
		ToFile:   "after",
		Context:  0,
	}
	text, err := difflib.GetUnifiedDiffString(unified)
	if err != nil {
		return 0, 0, err
	}

	fileDiff, err := diff.ParseFileDiff([]byte(text))
	if err != nil {
		return 0, 0, err
	}
	for _, hunk := range fileDiff.Hunks {
		for _, line := range bytes.Split(hunk.Body, []byte("\n")) {
			switch {
			case bytes.HasPrefix(line, []byte("+")):
				added++
			case bytes.HasPrefix(line, []byte("-")):
				removed++
			}
		}
	}
	return added, removed, nil
}
