// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package coherence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
)

// normalizeCodeHash parses a "code" artifact with tree-sitter and
// hashes the concatenation of its non-comment token text, so two
// artifacts that differ only in whitespace, comments, or formatting
// collapse to the same Layer 1b fast-path hash. It reports false when
// the content cannot be parsed (or parses with syntax errors), in
// which case the caller falls back to hashing the raw content.
func normalizeCodeHash(content string) (string, bool) {
	if strings.TrimSpace(content) == "" {
		return "", false
	}

	parser := sitter.NewParser()
	parser.SetLanguage(golang.GetLanguage())

	tree, err := parser.ParseCtx(context.Background(), nil, []byte(content))
	if err != nil || tree == nil {
		return "", false
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil || root.HasError() {
		return "", false
	}

	var b strings.Builder
	collectTokens(root, []byte(content), &b)
	if b.Len() == 0 {
		return "", false
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:]), true
}

// collectTokens walks every leaf node of the tree in source order,
// appending its text unless the node is a comment, so indentation,
// blank lines, and comment bodies never affect the resulting hash.
func collectTokens(node *sitter.Node, content []byte, b *strings.Builder) {
	if int(node.ChildCount()) == 0 {
		if node.Type() != "comment" {
			b.Write(content[node.StartByte():node.EndByte()])
			b.WriteByte('\x1f')
		}
		return
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		collectTokens(node.Child(i), content, b)
	}
}
