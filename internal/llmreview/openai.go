// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llmreview

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/intelplane-dev/intelplane/internal/errs"
	"github.com/intelplane-dev/intelplane/pkg/logging"
)

// OpenAIService implements Service against an OpenAI-compatible chat
// completions endpoint.
type OpenAIService struct {
	client *openai.Client
	retry  RetryConfig
	log    *logging.Logger
}

// NewOpenAIService constructs an OpenAIService. A nil log defaults to
// logging.Default().
func NewOpenAIService(apiKey string, retry RetryConfig, log *logging.Logger) *OpenAIService {
	if log == nil {
		log = logging.Default()
	}
	return &OpenAIService{client: openai.NewClient(apiKey), retry: retry, log: log}
}

// Review implements Service.
func (s *OpenAIService) Review(ctx context.Context, req ReviewRequest) ([]ReviewResult, error) {
	prompt := buildReviewPrompt(req)
	model := modelOrDefault(req.Model)
	var raw string
	err := withRetry(ctx, s.log, s.retry, "llmreview.OpenAIService.Review", model, func() error {
		resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: modelOrDefault(req.Model),
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: reviewSystemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("llmreview: empty response")
		}
		raw = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		// A failed call still degrades safely, whether its retries ran
		// out or the error was not retryable: surface every requested
		// pair via the conservative fallback rather than losing them
		// outright.
		return conservativeFallback(req.Candidates), nil
	}
	return ParseReviewResponse(raw, req.Candidates), nil
}

// SweepCorpus implements Service.
func (s *OpenAIService) SweepCorpus(ctx context.Context, req SweepRequest) ([]SweepIssue, error) {
	model := modelOrDefault(req.Model)
	var raw string
	err := withRetry(ctx, s.log, s.retry, "llmreview.OpenAIService.SweepCorpus", model, func() error {
		resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: modelOrDefault(req.Model),
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: sweepSystemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
			},
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("llmreview: empty response")
		}
		raw = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		if errs.IsKind(err, errs.Transient) {
			return nil, nil
		}
		return nil, err
	}
	return ParseSweepResponse(raw), nil
}

const reviewSystemPrompt = "You review pairs of software artifacts for cross-workstream duplication. " +
	"Respond only with a JSON array of objects: artifactA, artifactB, confirmed, confidence (high|likely|low), severity, explanation."

const sweepSystemPrompt = "You scan a full artifact corpus grouped by workstream for duplication, contradiction, gap, " +
	"or dependency_violation issues that cross workstream boundaries. Never flag a documentation artifact as duplicating " +
	"the code it documents. Respond only with a JSON array of objects: artifactA, artifactB, category, explanation."

func modelOrDefault(model string) string {
	if model == "" {
		return openai.GPT4oMini
	}
	return model
}

func buildReviewPrompt(req ReviewRequest) string {
	var b strings.Builder
	b.WriteString("Candidate pairs:\n")
	for _, c := range req.Candidates {
		fmt.Fprintf(&b, "- %s <-> %s\n", c.ArtifactA, c.ArtifactB)
	}
	b.WriteString("\nArtifact contents:\n")
	contents, _ := json.Marshal(req.ArtifactContent)
	b.Write(contents)
	if req.DecisionContext != "" {
		fmt.Fprintf(&b, "\n\nDecision context: %s", req.DecisionContext)
	}
	if len(req.WorkstreamContext) > 0 {
		b.WriteString("\n\nWorkstream context:\n")
		wsContext, _ := json.Marshal(req.WorkstreamContext)
		b.Write(wsContext)
	}
	return b.String()
}
