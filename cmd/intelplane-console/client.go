// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// snapshotMsg carries one decoded WebSocket state-sync frame into the
// bubbletea Update loop.
type snapshotMsg struct {
	Tick         int64             `json:"tick"`
	ActiveAgents []string          `json:"activeAgents"`
	TrustScores  []trustScoreEntry `json:"trustScores"`
	ControlMode  string            `json:"controlMode"`
}

type trustScoreEntry struct {
	AgentID string `json:"agentId"`
	Score   int    `json:"score"`
}

// pendingDecision mirrors httpapi.PendingDecision; kept as a separate
// type here so this console never imports the server's internal
// packages, only its wire shapes.
type pendingDecision struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Severity     string `json:"severity"`
	Workstream   string `json:"workstream"`
	AgentID      string `json:"agentId"`
	ToolCategory string `json:"toolCategory,omitempty"`
	EnqueuedTick int64  `json:"enqueuedTick"`
	Deadline     *int64 `json:"deadline,omitempty"`
}

// pendingDecisionsMsg carries a polled decision-queue snapshot into Update.
type pendingDecisionsMsg struct {
	decisions []pendingDecision
	err       error
}

// connErrMsg reports a WebSocket dial or read failure.
type connErrMsg struct{ err error }

// wsConn dials the server's state-sync WebSocket and streams Snapshot
// frames back over a channel. It does not reconnect: on a read error it
// closes the channel, the model records the error for its status line,
// and a new dial happens only when the operator presses 'r'.
func wsConn(httpAddr string) (<-chan snapshotMsg, <-chan error, error) {
	u, err := url.Parse(httpAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing server address: %w", err)
	}
	u.Scheme = "ws"
	if strings.HasPrefix(httpAddr, "https://") {
		u.Scheme = "wss"
	}
	u.Path = "/ws/state"

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dialing %s: %w", u.String(), err)
	}

	snaps := make(chan snapshotMsg, 8)
	errs := make(chan error, 1)
	go func() {
		defer conn.Close()
		defer close(snaps)
		for {
			var snap snapshotMsg
			if err := conn.ReadJSON(&snap); err != nil {
				errs <- err
				return
			}
			snaps <- snap
		}
	}()
	return snaps, errs, nil
}

// pollPendingDecisions fetches GET /api/decisions/pending once.
func pollPendingDecisions(httpAddr string) pendingDecisionsMsg {
	client := http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(strings.TrimSuffix(httpAddr, "/") + "/api/decisions/pending")
	if err != nil {
		return pendingDecisionsMsg{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return pendingDecisionsMsg{err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	var decisions []pendingDecision
	if err := json.NewDecoder(resp.Body).Decode(&decisions); err != nil {
		return pendingDecisionsMsg{err: fmt.Errorf("decoding response: %w", err)}
	}
	return pendingDecisionsMsg{decisions: decisions}
}
