// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llmreview

import (
	"context"
	"errors"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/intelplane-dev/intelplane/internal/errs"
	"github.com/intelplane-dev/intelplane/pkg/logging"
)

// RetryConfig tunes the exponential-backoff retry wrapper (spec.md §5:
// base 1s default, up to maxRetries default 3, retry on 429/5xx only).
type RetryConfig struct {
	Base       time.Duration
	MaxRetries int
}

// DefaultRetryConfig returns the spec's defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Base: time.Second, MaxRetries: 3}
}

// withRetry runs fn, retrying on 429/5xx responses with exponential
// backoff. 4xx (non-429) and other errors propagate immediately. Every
// attempt that fails is logged at the engine boundary (spec.md §7)
// with the model, attempt number, and elapsed time, so operators can
// see a flaky provider without instrumenting every call site.
func withRetry(ctx context.Context, log *logging.Logger, cfg RetryConfig, op, model string, fn func() error) error {
	if log == nil {
		log = logging.Default()
	}
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		start := time.Now()
		lastErr = fn()
		elapsed := time.Since(start)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			log.Error("external call failed", "op", op, "model", model, "attempt", attempt, "elapsed_ms", elapsed.Milliseconds(), "error", lastErr)
			return errs.New(errs.Permanent, op, lastErr)
		}
		if attempt == cfg.MaxRetries {
			log.Error("external call exhausted retries", "op", op, "model", model, "attempt", attempt, "elapsed_ms", elapsed.Milliseconds(), "error", lastErr)
			return errs.New(errs.Transient, op, lastErr)
		}
		log.Warn("retrying external call", "op", op, "model", model, "attempt", attempt, "elapsed_ms", elapsed.Milliseconds(), "error", lastErr)
		wait := cfg.Base * time.Duration(1<<uint(attempt))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			log.Error("external call canceled", "op", op, "model", model, "attempt", attempt, "error", ctx.Err())
			return errs.New(errs.Transient, op, ctx.Err())
		}
	}
	return errs.New(errs.Transient, op, lastErr)
}

func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	return false
}
