// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/intelplane-dev/intelplane/cmd/intelplane/config"
	"github.com/intelplane-dev/intelplane/pkg/logging"
)

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Current()
	if serveListenAddr != "" {
		cfg.HTTP.ListenAddr = serveListenAddr
	}

	log := logging.Default()
	app, err := buildApp(cfg, log)
	if err != nil {
		return fmt.Errorf("building app: %w", err)
	}
	defer app.Close()

	app.Tick.Start()
	log.Info("intelplane serving", "listen", cfg.HTTP.ListenAddr, "tick_mode", cfg.Tick.Mode)

	errCh := make(chan error, 1)
	go func() {
		errCh <- http.ListenAndServe(cfg.HTTP.ListenAddr, app.HTTP.Engine())
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-quit:
		log.Info("shutting down intelplane")
		return nil
	}
}
