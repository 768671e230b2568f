// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/intelplane-dev/intelplane/cmd/intelplane/config"
)

var (
	serveListenAddr string

	rootCmd = &cobra.Command{
		Use:   "intelplane",
		Short: "Control plane for a human-in-the-loop multi-agent software team",
		Long: `intelplane runs the Intelligence Plane: the Tick Service, Event Bus,
Trust Engine, Decision Queue, Coherence Monitor, and Context Injection
Service that sit between a fleet of coding agents and the humans
supervising them.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.Load()
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the Intelligence Plane (wall-clock tick, HTTP+WS surface)",
		RunE:  runServe,
	}

	tickCmd = &cobra.Command{
		Use:   "tick",
		Short: "Inspect or drive the logical clock",
	}
	tickAdvanceCmd = &cobra.Command{
		Use:   "advance [n]",
		Short: "Report a manual-mode advance of n ticks (default 1); no running instance is reached and no clock is advanced",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runTickAdvance,
	}

	auditCmd = &cobra.Command{
		Use:   "audit",
		Short: "Inspect the append-only audit log",
	}
	auditReplayCmd = &cobra.Command{
		Use:   "replay",
		Short: "Replay the audit log and print the analysis suite's findings",
		RunE:  runAuditReplay,
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Manage the on-disk configuration file",
	}
	configInitCmd = &cobra.Command{
		Use:   "init",
		Short: "Create ~/.intelplane/intelplane.yaml with default settings if it does not exist",
		RunE:  runConfigInit,
	}
)

func init() {
	serveCmd.Flags().StringVar(&serveListenAddr, "listen", "", "HTTP+WS listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)

	rootCmd.AddCommand(tickCmd)
	tickCmd.AddCommand(tickAdvanceCmd)

	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditReplayCmd)

	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
}

func runTickAdvance(cmd *cobra.Command, args []string) error {
	n := int64(1)
	if len(args) == 1 {
		parsed, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid tick count %q: %w", args[0], err)
		}
		n = parsed
	}
	fmt.Fprintf(cmd.OutOrStdout(), "this process does not hold a running instance; a manual-mode advance by %d was not applied\n", n)
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.Current()
	fmt.Fprintf(cmd.OutOrStdout(), "configuration loaded: tick.mode=%s coherence.scan_interval_ticks=%d auth.token_ttl_ms=%d\n",
		cfg.Tick.Mode, cfg.Coherence.ScanIntervalTicks, cfg.Auth.TokenTTLMS)
	return nil
}
