// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package embedding

import (
	"context"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/intelplane-dev/intelplane/internal/errs"
	"github.com/intelplane-dev/intelplane/pkg/logging"
)

// LangchainService embeds text via an OpenAI-compatible embeddings
// model, wired through langchaingo so a future provider swap (Azure,
// local inference) only touches construction.
type LangchainService struct {
	embedder *embeddings.EmbedderImpl
	model    string
	log      *logging.Logger
}

// NewLangchainService constructs a LangchainService using an OpenAI
// chat/embeddings model identified by apiKey and model name. A nil log
// defaults to logging.Default().
func NewLangchainService(apiKey, model string, log *logging.Logger) (*LangchainService, error) {
	if log == nil {
		log = logging.Default()
	}
	llm, err := openai.New(openai.WithToken(apiKey), openai.WithEmbeddingModel(model))
	if err != nil {
		return nil, errs.New(errs.Permanent, "embedding.NewLangchainService", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, errs.New(errs.Permanent, "embedding.NewLangchainService", err)
	}
	return &LangchainService{embedder: embedder, model: model, log: log}, nil
}

// Embed implements Service.
func (s *LangchainService) Embed(ctx context.Context, text string) (Vector, error) {
	start := time.Now()
	vecs, err := s.embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		s.log.Error("embedding request failed", "op", "embedding.LangchainService.Embed", "model", s.model, "elapsed_ms", time.Since(start).Milliseconds(), "error", err)
		return nil, errs.New(errs.Transient, "embedding.LangchainService.Embed", err)
	}
	return vectorFromFloat32(vecs[0]), nil
}

// EmbedBatch implements Service.
func (s *LangchainService) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	start := time.Now()
	vecs, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		s.log.Error("embedding batch request failed", "op", "embedding.LangchainService.EmbedBatch", "model", s.model, "batch_size", len(texts), "elapsed_ms", time.Since(start).Milliseconds(), "error", err)
		return nil, errs.New(errs.Transient, "embedding.LangchainService.EmbedBatch", err)
	}
	out := make([]Vector, len(vecs))
	for i, v := range vecs {
		out[i] = vectorFromFloat32(v)
	}
	return out, nil
}

func vectorFromFloat32(v []float32) Vector {
	out := make(Vector, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}
