// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

var (
	current atomic.Pointer[Config]
	once    sync.Once
)

// Load ensures the config is loaded into the process-wide singleton on
// first call; subsequent calls are no-ops. Use Current to read it.
func Load() error {
	var err error
	once.Do(func() {
		var cfg Config
		cfg, err = loadInternal()
		if err == nil {
			current.Store(&cfg)
		}
	})
	return err
}

// Current returns the most recently loaded/reconfigured Config. Callers
// never observe a torn read: Reload swaps a single pointer.
func Current() Config {
	if c := current.Load(); c != nil {
		return *c
	}
	def := Default()
	return def
}

// Reload re-reads the YAML file and environment, then atomically swaps
// the singleton (spec.md §5's "reconfigure atomically").
func Reload() error {
	cfg, err := loadInternal()
	if err != nil {
		return err
	}
	current.Store(&cfg)
	return nil
}

func loadInternal() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf("could not find the user's home directory: %w", err)
	}
	configPath := filepath.Join(home, ".intelplane", "intelplane.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := createDefault(configPath); err != nil {
			return Config{}, err
		}
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read the config file: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse the config file: %w", err)
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnvOverrides applies every environment variable named in
// spec.md §6.5 on top of the YAML-loaded config. Env wins over file,
// file wins over hardcoded defaults.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TICK_MODE"); v != "" {
		cfg.Tick.Mode = v
	}
	if v, ok := envInt("TICK_INTERVAL_MS"); ok {
		cfg.Tick.IntervalMS = v
	}
	if v, ok := envBool("LAYER1C_ENABLED"); ok {
		cfg.Coherence.Layer1cEnabled = v
	}
	if v, ok := envInt64("LAYER1C_SCAN_INTERVAL_TICKS"); ok {
		cfg.Coherence.Layer1cScanIntervalTicks = v
	}
	if v, ok := envInt("LAYER1C_MAX_CORPUS_TOKENS"); ok {
		cfg.Coherence.Layer1cMaxCorpusTokens = v
	}
	if v := os.Getenv("LAYER1C_MODEL"); v != "" {
		cfg.Coherence.Layer1cModel = v
	}
	if v := os.Getenv("COHERENCE_REVIEW_MODEL"); v != "" {
		cfg.Coherence.ReviewModel = v
	}
	if v, ok := envBool("ENABLE_LAYER2"); ok {
		cfg.Coherence.Layer2Enabled = v
	}
	if v, ok := envBool("SKIP_LAYER2_FOR_EMBEDDINGS"); ok {
		cfg.Coherence.SkipLayer2ForEmbeddings = v
	}
	if v, ok := envInt("TOKEN_TTL_MS"); ok {
		cfg.Auth.TokenTTLMS = v
	}
	if v := os.Getenv("API_AUTH_MODE"); v != "" {
		cfg.Auth.AuthMode = v
	}
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envInt64(name string) (int64, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(name string) (bool, bool) {
	v := os.Getenv(name)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

// ExpandHome expands a leading "~" in path to the user's home
// directory, matching the teacher's ~/.aleutian convention applied to
// configurable data directories (spec.md §6.3's knowledge store dirs).
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
