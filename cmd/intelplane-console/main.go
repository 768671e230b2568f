// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
)

func main() {
	addr := flag.String("addr", "http://localhost:8088", "intelplane serve HTTP address")
	once := flag.Bool("once", false, "print one plain-text snapshot and exit, instead of the live TUI")
	flag.Parse()

	if *once || !isatty.IsTerminal(os.Stdout.Fd()) {
		runPlain(*addr)
		return
	}

	p := tea.NewProgram(newConsoleModel(*addr))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "console error: %v\n", err)
		os.Exit(1)
	}
}

// runPlain prints a single decisions snapshot and exits, for
// non-interactive terminals (piped output, CI, `--once`) where
// launching the full-screen TUI would not render usefully.
func runPlain(addr string) {
	decisions := pollPendingDecisions(addr)
	if decisions.err != nil {
		fmt.Fprintf(os.Stderr, "fetching pending decisions: %v\n", decisions.err)
		os.Exit(1)
	}
	fmt.Printf("pending decisions: %d\n", len(decisions.decisions))
	for _, d := range decisions.decisions {
		deadline := "no deadline"
		if d.Deadline != nil {
			deadline = fmt.Sprintf("due tick %d", *d.Deadline)
		}
		fmt.Printf("  [%s] %-20s agent=%-16s workstream=%-12s %s\n",
			d.Severity, d.Type, d.AgentID, d.Workstream, deadline)
	}

	snaps, errs, err := wsConn(addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connecting for trust snapshot: %v\n", err)
		os.Exit(1)
	}
	select {
	case snap, ok := <-snaps:
		if !ok {
			return
		}
		fmt.Printf("tick=%d mode=%s\n", snap.Tick, snap.ControlMode)
		for _, s := range snap.TrustScores {
			fmt.Printf("  %-24s %d\n", s.AgentID, s.Score)
		}
	case err := <-errs:
		fmt.Fprintf(os.Stderr, "reading snapshot: %v\n", err)
		os.Exit(1)
	case <-time.After(5 * time.Second):
		fmt.Fprintln(os.Stderr, "timed out waiting for a state-sync snapshot")
		os.Exit(1)
	}
}
