// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config defines the configuration schema for the Intelligence
// Plane and loads it from ~/.intelplane/intelplane.yaml, overridden by
// environment variables (spec.md §6.5).
package config

import "time"

// Config is the full configuration schema. Every field has a
// spec-mandated default via Default.
type Config struct {
	Tick       TickConfig       `yaml:"tick"`
	EventBus   EventBusConfig   `yaml:"event_bus"`
	Coherence  CoherenceConfig  `yaml:"coherence"`
	Auth       AuthConfig       `yaml:"auth"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Knowledge  KnowledgeConfig  `yaml:"knowledge"`
	HTTP       HTTPConfig       `yaml:"http"`
	Export     ExportConfig     `yaml:"export"`
}

// TickConfig configures the logical clock.
type TickConfig struct {
	Mode       string `yaml:"mode"`        // "manual" | "wall_clock"
	IntervalMS int    `yaml:"interval_ms"`
}

// EventBusConfig configures the pub/sub bus.
type EventBusConfig struct {
	SubscriberQueueSize int   `yaml:"subscriber_queue_size"`
	GlobalCap           int64 `yaml:"global_cap"`
}

// CoherenceConfig configures the Coherence Monitor's layers.
type CoherenceConfig struct {
	ScanIntervalTicks        int64   `yaml:"scan_interval_ticks"`
	Layer1cEnabled           bool    `yaml:"layer1c_enabled"`
	Layer1cScanIntervalTicks int64   `yaml:"layer1c_scan_interval_ticks"`
	Layer1cMaxCorpusTokens   int     `yaml:"layer1c_max_corpus_tokens"`
	Layer1cModel             string  `yaml:"layer1c_model"`
	ReviewModel              string  `yaml:"review_model"`
	Layer2Enabled            bool    `yaml:"layer2_enabled"`
	SkipLayer2ForEmbeddings  bool    `yaml:"skip_layer2_for_embeddings"`
	FeedbackLoopEnabled      bool    `yaml:"feedback_loop_enabled"`
}

// AuthConfig configures the external auth token issuer.
type AuthConfig struct {
	TokenTTLMS int    `yaml:"token_ttl_ms"`
	AuthMode   string `yaml:"auth_mode"` // API_AUTH_* family collapses to this one knob
}

// ProvidersConfig holds the non-secret provider selection; API keys
// themselves are never stored here — they live in pkg/secrets,
// loaded directly from the environment.
type ProvidersConfig struct {
	EmbeddingProvider string `yaml:"embedding_provider"` // "weaviate" | "langchain" | "mock"
	ReviewProvider    string `yaml:"review_provider"`    // "openai" | "mock"
}

// KnowledgeConfig configures the knowledge store collaborator.
type KnowledgeConfig struct {
	MetadataDir string `yaml:"metadata_dir"`
	ContentDir  string `yaml:"content_dir"` // empty + GCSBucket set => GCS-backed
	GCSBucket   string `yaml:"gcs_bucket"`
}

// HTTPConfig configures the HTTP + WebSocket collaborator.
type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// ExportConfig configures the optional InfluxDB time-series sink.
type ExportConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
}

// Default returns the spec's defaults (spec.md §4.1–§4.5, §6.5).
func Default() Config {
	return Config{
		Tick: TickConfig{Mode: "wall_clock", IntervalMS: 1000},
		EventBus: EventBusConfig{
			SubscriberQueueSize: 500,
			GlobalCap:           10000,
		},
		Coherence: CoherenceConfig{
			ScanIntervalTicks:        10,
			Layer1cEnabled:           false,
			Layer1cScanIntervalTicks: 300,
			Layer1cMaxCorpusTokens:   200000,
			Layer2Enabled:            false,
			SkipLayer2ForEmbeddings:  false,
			FeedbackLoopEnabled:      false,
		},
		Auth: AuthConfig{
			TokenTTLMS: int(30 * time.Minute / time.Millisecond),
			AuthMode:   "bearer",
		},
		Providers: ProvidersConfig{
			EmbeddingProvider: "mock",
			ReviewProvider:    "mock",
		},
		Knowledge: KnowledgeConfig{
			MetadataDir: "~/.intelplane/knowledge",
		},
		HTTP: HTTPConfig{
			ListenAddr: ":8088",
		},
		Export: ExportConfig{
			Enabled: false,
		},
	}
}

// TickInterval returns Tick.IntervalMS as a time.Duration.
func (c Config) TickInterval() time.Duration {
	return time.Duration(c.Tick.IntervalMS) * time.Millisecond
}

// TokenTTL returns Auth.TokenTTLMS as a time.Duration.
func (c Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLMS) * time.Millisecond
}
