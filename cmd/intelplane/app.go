// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"

	"github.com/intelplane-dev/intelplane/cmd/intelplane/config"
	"github.com/intelplane-dev/intelplane/internal/analysis"
	"github.com/intelplane-dev/intelplane/internal/analysis/export"
	"github.com/intelplane-dev/intelplane/internal/coherence"
	"github.com/intelplane-dev/intelplane/internal/contextinject"
	"github.com/intelplane-dev/intelplane/internal/decision"
	"github.com/intelplane-dev/intelplane/internal/domain"
	"github.com/intelplane-dev/intelplane/internal/embedding"
	"github.com/intelplane-dev/intelplane/internal/eventbus"
	"github.com/intelplane-dev/intelplane/internal/httpapi"
	"github.com/intelplane-dev/intelplane/internal/knowledge"
	"github.com/intelplane-dev/intelplane/internal/llmreview"
	"github.com/intelplane-dev/intelplane/internal/telemetry"
	"github.com/intelplane-dev/intelplane/internal/tick"
	"github.com/intelplane-dev/intelplane/internal/trust"
	"github.com/intelplane-dev/intelplane/pkg/logging"
	"github.com/intelplane-dev/intelplane/pkg/secrets"
)

// App wires every Intelligence Plane engine together: this is the one
// place in the repo that knows about all of them at once.
type App struct {
	cfg config.Config
	log *logging.Logger

	Tick        *tick.Service
	Bus         *eventbus.Bus
	Trust       *trust.Engine
	Decisions   *decision.Queue
	Coherence   *coherence.Monitor
	Knowledge   *knowledge.Store
	ContextInj  *contextinject.Service
	HTTP        *httpapi.Router
	Secrets     *secrets.Store
	Tokens      *secrets.TokenIssuer
	ExportSink  *export.Sink

	shutdownTracing func(context.Context) error
}

// buildApp constructs every engine from cfg and wires their
// dependencies and tick/event-bus subscriptions. The returned App is
// ready for Start.
func buildApp(cfg config.Config, log *logging.Logger) (*App, error) {
	if log == nil {
		log = logging.Default()
	}

	shutdownTracing, err := telemetry.Setup(context.Background(), "intelplane")
	if err != nil {
		return nil, fmt.Errorf("installing tracer provider: %w", err)
	}

	secretStore := secrets.NewStore()
	if _, err := secretStore.LoadFromEnv(
		secrets.SecretAnthropicAPIKey,
		secrets.SecretOpenAIAPIKey,
		secrets.SecretWeaviateAPIKey,
	); err != nil {
		return nil, fmt.Errorf("loading provider secrets: %w", err)
	}
	tokenIssuer, err := secrets.NewTokenIssuer(secretStore, cfg.TokenTTL())
	if err != nil {
		return nil, fmt.Errorf("constructing token issuer: %w", err)
	}

	var contentStore knowledge.ContentStore
	if cfg.Knowledge.ContentDir == "" && cfg.Knowledge.GCSBucket != "" {
		contentStore, err = knowledge.NewGCSContentStore(context.Background(), cfg.Knowledge.GCSBucket, log)
	} else {
		contentDir := config.ExpandHome(cfg.Knowledge.ContentDir)
		if contentDir == "" {
			contentDir = config.ExpandHome(cfg.Knowledge.MetadataDir) + "-content"
		}
		contentStore, err = knowledge.NewLocalContentStore(contentDir, log)
	}
	if err != nil {
		return nil, fmt.Errorf("constructing content store: %w", err)
	}
	store, err := knowledge.Open(config.ExpandHome(cfg.Knowledge.MetadataDir), contentStore, log)
	if err != nil {
		return nil, fmt.Errorf("opening knowledge store: %w", err)
	}

	bus := eventbus.New(eventbus.Config{
		SubscriberQueueSize: cfg.EventBus.SubscriberQueueSize,
		GlobalCap:           cfg.EventBus.GlobalCap,
	})

	trustEngine := trust.New(trust.DefaultConfig(), store)
	decisionQueue := decision.New(bus, store)

	embedder, err := buildEmbedder(cfg, secretStore, log)
	if err != nil {
		return nil, err
	}
	reviewer, err := buildReviewer(cfg, secretStore, log)
	if err != nil {
		return nil, err
	}

	coherenceCfg := coherence.DefaultConfig()
	coherenceCfg.ScanIntervalTicks = cfg.Coherence.ScanIntervalTicks
	coherenceCfg.Layer1cEnabled = cfg.Coherence.Layer1cEnabled
	coherenceCfg.Layer1cScanIntervalTicks = cfg.Coherence.Layer1cScanIntervalTicks
	coherenceCfg.Layer1cMaxCorpusTokens = cfg.Coherence.Layer1cMaxCorpusTokens
	coherenceCfg.Layer1cModel = cfg.Coherence.Layer1cModel
	coherenceCfg.ReviewModel = cfg.Coherence.ReviewModel
	coherenceCfg.Layer2Enabled = cfg.Coherence.Layer2Enabled
	coherenceCfg.SkipLayer2ForEmbeddings = cfg.Coherence.SkipLayer2ForEmbeddings
	coherenceCfg.FeedbackLoopEnabled = cfg.Coherence.FeedbackLoopEnabled
	coherenceMonitor := coherence.New(coherenceCfg, bus, store, store, embedder, reviewer)

	contextSvc := contextinject.New(contextinject.DefaultConfig(), store, bus, store)

	tickSvc := tick.New(tick.Config{Mode: tick.Mode(cfg.Tick.Mode), Interval: cfg.TickInterval()})

	router := httpapi.New(coherenceMonitor, trustEngine, contextSvc, tickSvc, log)
	router.SetDecisionsProvider(decisionQueue)

	var exportSink *export.Sink
	if cfg.Export.Enabled {
		token, _ := secretStore.Get("INFLUXDB_TOKEN")
		exportSink = export.NewSink(cfg.Export.URL, token, cfg.Export.Org, cfg.Export.Bucket)
	}

	app := &App{
		cfg: cfg, log: log,
		Tick: tickSvc, Bus: bus, Trust: trustEngine, Decisions: decisionQueue,
		Coherence: coherenceMonitor, Knowledge: store, ContextInj: contextSvc,
		HTTP: router, Secrets: secretStore, Tokens: tokenIssuer, ExportSink: exportSink,
		shutdownTracing: shutdownTracing,
	}
	app.wire()
	return app, nil
}

// buildEmbedder selects the embedding.Service implementation named by
// cfg.Providers.EmbeddingProvider, falling back to the deterministic
// mock when no provider is configured (e.g. local/offline development).
func buildEmbedder(cfg config.Config, store *secrets.Store, log *logging.Logger) (embedding.Service, error) {
	switch cfg.Providers.EmbeddingProvider {
	case "weaviate":
		return embedding.NewWeaviateService(embedding.WeaviateConfig{
			Scheme: "http", Host: "localhost:8080", ClassName: "IntelplaneArtifact",
		}, log), nil
	case "langchain":
		key, err := store.Get(secrets.SecretOpenAIAPIKey)
		if err != nil {
			return nil, fmt.Errorf("langchain embedder requires %s: %w", secrets.SecretOpenAIAPIKey, err)
		}
		return embedding.NewLangchainService(key, "text-embedding-3-small", log)
	default:
		return embedding.MockService{}, nil
	}
}

// buildReviewer selects the llmreview.Service implementation named by
// cfg.Providers.ReviewProvider.
func buildReviewer(cfg config.Config, store *secrets.Store, log *logging.Logger) (llmreview.Service, error) {
	switch cfg.Providers.ReviewProvider {
	case "openai":
		key, err := store.Get(secrets.SecretOpenAIAPIKey)
		if err != nil {
			return nil, fmt.Errorf("openai reviewer requires %s: %w", secrets.SecretOpenAIAPIKey, err)
		}
		return llmreview.NewOpenAIService(key, llmreview.DefaultRetryConfig(), log), nil
	default:
		return nil, nil
	}
}

// wire subscribes every engine to the tick service and event bus so
// that, once Tick is started (or manually Advance'd), the whole
// pipeline runs without further intervention.
func (a *App) wire() {
	a.Tick.Subscribe(a.Trust.Tick)
	a.Tick.Subscribe(a.Decisions.Tick)
	a.Tick.Subscribe(a.ContextInj.OnTick)
	a.Tick.Subscribe(a.HTTP.BroadcastState)
	a.Tick.Subscribe(a.runCoherenceScans)
	if a.ExportSink != nil {
		a.Tick.Subscribe(a.runExportTick)
	}

	a.Bus.Subscribe(eventbus.TopicArtifactEvents, func(_ eventbus.Topic, event any) {
		artifact, ok := event.(domain.ArtifactEvent)
		if !ok {
			return
		}
		a.Coherence.ProcessArtifact(artifact, a.Tick.Current())
	})

	a.Bus.Subscribe(eventbus.TopicResolutions, func(_ eventbus.Topic, event any) {
		res, ok := event.(decision.Resolution)
		if !ok {
			return
		}
		qd, ok := a.Decisions.Get(res.DecisionID)
		if !ok {
			return
		}
		a.Trust.ApplyOutcome(qd.Event.AgentID, res.Outcome, res.ResolvedAtTick, trust.OutcomeContext{
			Workstreams:  []string{qd.Event.Workstream},
			ToolCategory: qd.Event.ToolCategory,
		})
	})
}

// runCoherenceScans drives the Coherence Monitor's periodic Layer 1 and
// Layer 1c passes off the logical clock, matching spec.md §4.5's
// "runs every ScanIntervalTicks" language.
func (a *App) runCoherenceScans(t int64) {
	ctx := context.Background()
	if a.Coherence.ShouldRunLayer1Scan(t) {
		if err := a.Coherence.RunLayer1Scan(ctx, t); err != nil {
			a.log.Error("layer1 scan failed", "tick", t, "error", err)
		}
	}
	if a.Coherence.ShouldRunLayer1cSweep(t) {
		if err := a.Coherence.RunLayer1cSweep(ctx, t); err != nil {
			a.log.Error("layer1c sweep failed", "tick", t, "error", err)
		}
	}
}

// exportIntervalTicks bounds how often the ROI/retrospective analyzers
// re-run and re-publish to the time-series sink; running them every
// tick would recompute an audit-log-wide scan for no new information.
const exportIntervalTicks = 50

// runExportTick periodically re-derives the ROI and retrospective
// analyzers' aggregates and persists them via ExportSink, without ever
// adjusting a value the analyzers computed.
func (a *App) runExportTick(t int64) {
	if t%exportIntervalTicks != 0 {
		return
	}
	roi := analysis.AnalyzeControlModeROI(a.Knowledge)
	for _, stats := range roi.Modes {
		a.ExportSink.WriteModeStats(t, stats)
	}
	from := t - exportIntervalTicks
	if from < 0 {
		from = 0
	}
	retro := analysis.AnalyzeRetrospective(a.Knowledge, from, t, false)
	a.ExportSink.WriteWindowStats(retro.Current)
}

// Close releases every resource the App owns. Safe to call once,
// after Tick has been stopped.
func (a *App) Close() {
	a.Tick.Stop()
	if a.ExportSink != nil {
		a.ExportSink.Close()
	}
	a.Secrets.Destroy()
	if err := a.Knowledge.Close(); err != nil {
		a.log.Error("closing knowledge store", "error", err)
	}
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(context.Background()); err != nil {
			a.log.Error("shutting down tracer provider", "error", err)
		}
	}
}
