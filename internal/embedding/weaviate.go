// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/intelplane-dev/intelplane/internal/errs"
	"github.com/intelplane-dev/intelplane/pkg/logging"
)

// WeaviateConfig configures a vector-store-backed Service that
// delegates embedding generation to a Weaviate class's configured
// vectorizer and round-trips the resulting vector via a throwaway
// object upsert.
type WeaviateConfig struct {
	Scheme    string
	Host      string
	ClassName string
}

// WeaviateService embeds text by upserting a throwaway object into a
// Weaviate class whose vectorizer module produces the embedding, then
// reading the vector back.
type WeaviateService struct {
	client    *weaviate.Client
	className string
	log       *logging.Logger
}

// NewWeaviateService constructs a WeaviateService. A nil log defaults
// to logging.Default().
func NewWeaviateService(cfg WeaviateConfig, log *logging.Logger) *WeaviateService {
	if log == nil {
		log = logging.Default()
	}
	wcfg := weaviate.Config{Scheme: cfg.Scheme, Host: cfg.Host}
	return &WeaviateService{client: weaviate.New(wcfg), className: cfg.ClassName, log: log}
}

// Embed implements Service by upserting a scratch object and reading
// back the vector the class's vectorizer assigned to it.
func (s *WeaviateService) Embed(ctx context.Context, text string) (Vector, error) {
	start := time.Now()
	created, err := s.client.Data().Creator().
		WithClassName(s.className).
		WithProperties(map[string]any{"text": text}).
		Do(ctx)
	if err != nil {
		s.log.Error("weaviate object create failed", "op", "embedding.WeaviateService.Embed", "class", s.className, "elapsed_ms", time.Since(start).Milliseconds(), "error", err)
		return nil, errs.New(errs.Transient, "embedding.WeaviateService.Embed", err)
	}
	defer func() {
		_ = s.client.Data().Deleter().
			WithClassName(s.className).
			WithID(created.Object.ID.String()).
			Do(ctx)
	}()

	obj, err := s.client.Data().ObjectsGetter().
		WithClassName(s.className).
		WithID(created.Object.ID.String()).
		WithVector().
		Do(ctx)
	if err != nil {
		s.log.Error("weaviate vector fetch failed", "op", "embedding.WeaviateService.Embed", "class", s.className, "elapsed_ms", time.Since(start).Milliseconds(), "error", err)
		return nil, errs.New(errs.Transient, "embedding.WeaviateService.Embed", err)
	}
	if len(obj) == 0 {
		err := fmt.Errorf("weaviate: object not found after creation")
		s.log.Error("weaviate vector fetch failed", "op", "embedding.WeaviateService.Embed", "class", s.className, "elapsed_ms", time.Since(start).Milliseconds(), "error", err)
		return nil, errs.New(errs.Transient, "embedding.WeaviateService.Embed", err)
	}
	return vectorFromModel(obj[0].Vector), nil
}

// EmbedBatch implements Service with sequential per-text Embed calls;
// Weaviate's batch API vectorizes per-object regardless, so this keeps
// the error-handling path uniform with Embed.
func (s *WeaviateService) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	out := make([]Vector, len(texts))
	for i, text := range texts {
		v, err := s.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func vectorFromModel(v models.C11yVector) Vector {
	out := make(Vector, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}
