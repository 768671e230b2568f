// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package knowledge

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/intelplane-dev/intelplane/internal/errs"
	"github.com/intelplane-dev/intelplane/pkg/logging"
)

var contentTracer = otel.Tracer("intelplane/knowledge/content")

// ContentStore persists artifact bodies, keyed by agent and artifact
// id. Metadata and the audit log never go through a ContentStore; only
// the (potentially large) artifact body does.
type ContentStore interface {
	Get(agentID, artifactID string) (string, error)
	Put(agentID, artifactID, content string) error
}

// GCSContentStore stores artifact bodies as objects in a Cloud Storage
// bucket, one object per (agentID, artifactID) pair.
type GCSContentStore struct {
	client *storage.Client
	bucket string
	log    *logging.Logger
}

// NewGCSContentStore constructs a GCSContentStore against bucket using
// ambient application-default credentials. A nil log defaults to
// logging.Default().
func NewGCSContentStore(ctx context.Context, bucket string, log *logging.Logger) (*GCSContentStore, error) {
	if log == nil {
		log = logging.Default()
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, errs.New(errs.Permanent, "knowledge.NewGCSContentStore", err)
	}
	return &GCSContentStore{client: client, bucket: bucket, log: log}, nil
}

func objectName(agentID, artifactID string) string {
	return agentID + "/" + artifactID
}

// Get implements ContentStore.
func (g *GCSContentStore) Get(agentID, artifactID string) (string, error) {
	ctx, span := contentTracer.Start(context.Background(), "knowledge.content.gcs.get",
		trace.WithAttributes(attribute.String("agent_id", agentID), attribute.String("artifact_id", artifactID)))
	defer span.End()
	start := time.Now()

	r, err := g.client.Bucket(g.bucket).Object(objectName(agentID, artifactID)).NewReader(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.log.Error("gcs content fetch failed", "op", "knowledge.GCSContentStore.Get", "artifact_id", artifactID, "elapsed_ms", time.Since(start).Milliseconds(), "error", err)
		return "", errs.New(errs.Transient, "knowledge.GCSContentStore.Get", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.log.Error("gcs content fetch failed", "op", "knowledge.GCSContentStore.Get", "artifact_id", artifactID, "elapsed_ms", time.Since(start).Milliseconds(), "error", err)
		return "", errs.New(errs.Transient, "knowledge.GCSContentStore.Get", err)
	}
	span.SetStatus(codes.Ok, "")
	return string(data), nil
}

// Put implements ContentStore.
func (g *GCSContentStore) Put(agentID, artifactID, content string) error {
	ctx, span := contentTracer.Start(context.Background(), "knowledge.content.gcs.put",
		trace.WithAttributes(attribute.String("agent_id", agentID), attribute.String("artifact_id", artifactID), attribute.Int("content_bytes", len(content))))
	defer span.End()
	start := time.Now()

	w := g.client.Bucket(g.bucket).Object(objectName(agentID, artifactID)).NewWriter(ctx)
	if _, err := w.Write([]byte(content)); err != nil {
		_ = w.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.log.Error("gcs content store failed", "op", "knowledge.GCSContentStore.Put", "artifact_id", artifactID, "elapsed_ms", time.Since(start).Milliseconds(), "error", err)
		return errs.New(errs.Transient, "knowledge.GCSContentStore.Put", err)
	}
	if err := w.Close(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.log.Error("gcs content store failed", "op", "knowledge.GCSContentStore.Put", "artifact_id", artifactID, "elapsed_ms", time.Since(start).Milliseconds(), "error", err)
		return errs.New(errs.Transient, "knowledge.GCSContentStore.Put", err)
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// LocalContentStore is a local-disk ContentStore used in tests and
// single-node operation in place of GCS.
type LocalContentStore struct {
	dir string
	log *logging.Logger
}

// NewLocalContentStore constructs a LocalContentStore rooted at dir,
// creating it if necessary. A nil log defaults to logging.Default().
func NewLocalContentStore(dir string, log *logging.Logger) (*LocalContentStore, error) {
	if log == nil {
		log = logging.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.New(errs.Permanent, "knowledge.NewLocalContentStore", err)
	}
	return &LocalContentStore{dir: dir, log: log}, nil
}

func (l *LocalContentStore) path(agentID, artifactID string) string {
	return filepath.Join(l.dir, agentID+"_"+artifactID+".content")
}

// Get implements ContentStore.
func (l *LocalContentStore) Get(agentID, artifactID string) (string, error) {
	data, err := os.ReadFile(l.path(agentID, artifactID))
	if err != nil {
		l.log.Error("local content fetch failed", "op", "knowledge.LocalContentStore.Get", "artifact_id", artifactID, "error", err)
		return "", errs.New(errs.Transient, "knowledge.LocalContentStore.Get", err)
	}
	return string(data), nil
}

// Put implements ContentStore.
func (l *LocalContentStore) Put(agentID, artifactID, content string) error {
	if err := os.WriteFile(l.path(agentID, artifactID), []byte(content), 0o644); err != nil {
		l.log.Error("local content store failed", "op", "knowledge.LocalContentStore.Put", "artifact_id", artifactID, "error", err)
		return errs.New(errs.Transient, "knowledge.LocalContentStore.Put", err)
	}
	return nil
}
