// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package telemetry installs the process-wide OpenTelemetry
// TracerProvider the engines use to trace their external-call
// suspension points (spec.md §7): embedding calls, LLM review/sweep
// calls, and knowledge-store I/O.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// Setup installs a TracerProvider identified by serviceName as the
// global provider and returns its shutdown func. Engines obtain
// tracers via otel.Tracer(name) and never hold the provider directly.
//
// No span exporter is attached: spans are sampled and ended like any
// other OTel span, which is enough for engines to exercise the API
// and for a collector to be wired in later purely by configuration,
// without touching engine code.
func Setup(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			attribute.String("intelplane.component", "engine"),
		),
	)
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}
