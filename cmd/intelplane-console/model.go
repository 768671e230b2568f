// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package main implements the operator console: a read-only Bubble
// Tea TUI over the Intelligence Plane's HTTP+WebSocket surface,
// showing live trust scores, the pending-decision queue, and the
// current control mode. It makes no mutating calls; it is strictly an
// observability window, distinct from the out-of-scope editor UI.
package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const decisionPollInterval = 2 * time.Second

// defaultPendingViewWidth/Height size the pending-decisions viewport
// before the first tea.WindowSizeMsg arrives (e.g. under test, where
// no terminal resize is ever delivered).
const (
	defaultPendingViewWidth  = 200
	defaultPendingViewHeight = 10
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	goodStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	badStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	sectionHead = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("75"))
)

// consoleModel is the bubbletea model driving the console.
type consoleModel struct {
	httpAddr string

	snapshots <-chan snapshotMsg
	connErrs  <-chan error

	latest    snapshotMsg
	connected bool
	lastErr   error

	pending     []pendingDecision
	pendingView viewport.Model

	width, height int
	quitting      bool
}

func newConsoleModel(httpAddr string) consoleModel {
	pv := viewport.New(defaultPendingViewWidth, defaultPendingViewHeight)
	pv.SetContent(labelStyle.Render("  (queue empty)"))
	return consoleModel{httpAddr: httpAddr, pendingView: pv}
}

// Init implements tea.Model.
func (m consoleModel) Init() tea.Cmd {
	return tea.Batch(connectCmd(m.httpAddr), pollDecisionsCmd(m.httpAddr), pollDecisionsTickCmd())
}

// connectCmd dials the WebSocket endpoint once; failures surface as
// connErrMsg and the user can retry with 'r'.
func connectCmd(httpAddr string) tea.Cmd {
	return func() tea.Msg {
		snaps, errs, err := wsConn(httpAddr)
		if err != nil {
			return connErrMsg{err: err}
		}
		return wsReadyMsg{snaps: snaps, errs: errs}
	}
}

// wsReadyMsg hands the model its live channels once the dial succeeds.
type wsReadyMsg struct {
	snaps <-chan snapshotMsg
	errs  <-chan error
}

func waitForSnapshot(ch <-chan snapshotMsg) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-ch
		if !ok {
			return connErrMsg{err: fmt.Errorf("state-sync stream closed")}
		}
		return snap
	}
}

func waitForConnErr(ch <-chan error) tea.Cmd {
	return func() tea.Msg {
		err, ok := <-ch
		if !ok {
			return nil
		}
		return connErrMsg{err: err}
	}
}

func pollDecisionsCmd(httpAddr string) tea.Cmd {
	return func() tea.Msg {
		return pollPendingDecisions(httpAddr)
	}
}

type decisionPollTickMsg struct{}

func pollDecisionsTickCmd() tea.Cmd {
	return tea.Tick(decisionPollInterval, func(time.Time) tea.Msg {
		return decisionPollTickMsg{}
	})
}

// Update implements tea.Model.
func (m consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.pendingView.Width = m.width - 4
		if m.pendingView.Width < 10 {
			m.pendingView.Width = 10
		}
		m.pendingView.Height = m.height / 3
		if m.pendingView.Height < 3 {
			m.pendingView.Height = 3
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "r":
			m.connected = false
			m.lastErr = nil
			return m, connectCmd(m.httpAddr)
		}
		var cmd tea.Cmd
		m.pendingView, cmd = m.pendingView.Update(msg)
		return m, cmd

	case wsReadyMsg:
		m.snapshots = msg.snaps
		m.connErrs = msg.errs
		m.connected = true
		m.lastErr = nil
		return m, tea.Batch(waitForSnapshot(m.snapshots), waitForConnErr(m.connErrs))

	case snapshotMsg:
		m.latest = msg
		return m, waitForSnapshot(m.snapshots)

	case connErrMsg:
		m.connected = false
		m.lastErr = msg.err
		return m, nil

	case decisionPollTickMsg:
		return m, tea.Batch(pollDecisionsCmd(m.httpAddr), pollDecisionsTickCmd())

	case pendingDecisionsMsg:
		if msg.err == nil {
			m.pending = msg.decisions
			m.pendingView.SetContent(renderPendingDecisions(m.pending))
		}
		return m, nil
	}

	return m, nil
}

// View implements tea.Model.
func (m consoleModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render("intelplane console") + "  " +
		labelStyle.Render(fmt.Sprintf("tick=%d mode=%s", m.latest.Tick, valueOr(m.latest.ControlMode, "-"))))
	b.WriteString("\n")

	if m.lastErr != nil {
		b.WriteString(badStyle.Render(fmt.Sprintf("disconnected: %v (press r to retry)", m.lastErr)))
	} else if m.connected {
		b.WriteString(goodStyle.Render("connected"))
	} else {
		b.WriteString(warnStyle.Render("connecting..."))
	}
	b.WriteString("\n\n")

	b.WriteString(sectionHead.Render("trust scores"))
	b.WriteString("\n")
	if len(m.latest.TrustScores) == 0 {
		b.WriteString(labelStyle.Render("  (no active agents)") + "\n")
	} else {
		scores := append([]trustScoreEntry(nil), m.latest.TrustScores...)
		sort.Slice(scores, func(i, j int) bool { return scores[i].AgentID < scores[j].AgentID })
		for _, s := range scores {
			b.WriteString(fmt.Sprintf("  %-24s %s\n", s.AgentID, scoreStyle(s.Score).Render(fmt.Sprintf("%d", s.Score))))
		}
	}
	b.WriteString("\n")

	b.WriteString(sectionHead.Render(fmt.Sprintf("pending decisions (%d)", len(m.pending))))
	b.WriteString("\n")
	b.WriteString(m.pendingView.View())
	b.WriteString("\n")
	b.WriteString(labelStyle.Render("q: quit   r: reconnect   j/k: scroll queue"))

	return b.String()
}

// renderPendingDecisions builds the pending-decisions viewport content:
// one styled row per queued decision.
func renderPendingDecisions(pending []pendingDecision) string {
	if len(pending) == 0 {
		return labelStyle.Render("  (queue empty)")
	}
	var b strings.Builder
	for i, d := range pending {
		deadline := "no deadline"
		if d.Deadline != nil {
			deadline = fmt.Sprintf("due tick %d", *d.Deadline)
		}
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "  [%s] %-20s agent=%-16s workstream=%-12s %s",
			severityStyle(d.Severity).Render(d.Severity), d.Type, d.AgentID, d.Workstream, labelStyle.Render(deadline))
	}
	return b.String()
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func scoreStyle(score int) lipgloss.Style {
	switch {
	case score >= 70:
		return goodStyle
	case score >= 40:
		return warnStyle
	default:
		return badStyle
	}
}

func severityStyle(severity string) lipgloss.Style {
	switch severity {
	case "critical", "high":
		return badStyle
	case "medium":
		return warnStyle
	default:
		return labelStyle
	}
}
