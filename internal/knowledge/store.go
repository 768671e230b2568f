// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package knowledge is the reference implementation of the knowledge
// store collaborator (spec.md §6.3): artifact metadata and the
// append-only audit log live in Badger; artifact content lives in a
// pluggable ContentStore (GCS-backed in production, local-disk in
// tests).
package knowledge

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/intelplane-dev/intelplane/internal/domain"
	"github.com/intelplane-dev/intelplane/internal/errs"
	"github.com/intelplane-dev/intelplane/pkg/logging"
)

const (
	artifactKeyPrefix = "artifact:"
	auditKeyPrefix    = "audit:"
)

// Store is the Badger-backed metadata and audit-log collaborator.
type Store struct {
	db      *badger.DB
	content ContentStore
	log     *logging.Logger

	mu          sync.Mutex
	nextAuditID uint64
}

// Open opens (creating if necessary) a Badger database at dir and
// pairs it with a ContentStore for artifact bodies. A nil log defaults
// to logging.Default().
func Open(dir string, content ContentStore, log *logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.Default()
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errs.New(errs.Permanent, "knowledge.Open", err)
	}
	return &Store{db: db, content: content, log: log}, nil
}

// Close closes the underlying Badger database.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutArtifact records or updates an artifact's metadata at tick, and
// appends an "artifact" audit entry: "created" the first time the id is
// written, "updated" after that. The rework causal linker (spec.md
// §4.6) keys its lookback window on the "updated" entries.
func (s *Store) PutArtifact(event domain.ArtifactEvent, tick int64) error {
	_, existed := s.GetArtifact(event.ArtifactID)

	payload, err := json.Marshal(event)
	if err != nil {
		return errs.New(errs.BadInput, "knowledge.PutArtifact", err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(artifactKeyPrefix+event.ArtifactID), payload)
	}); err != nil {
		s.log.Error("artifact metadata write failed", "op", "knowledge.Store.PutArtifact", "artifact_id", event.ArtifactID, "error", err)
		return err
	}

	action := "created"
	if existed {
		action = "updated"
	}
	s.AppendAuditLog("artifact", event.ArtifactID, action, event.AgentID, map[string]any{
		"tick": tick, "workstream": event.Workstream, "kind": string(event.Kind),
	})
	return nil
}

// GetArtifact returns an artifact's latest known metadata.
func (s *Store) GetArtifact(artifactID string) (domain.ArtifactEvent, bool) {
	var event domain.ArtifactEvent
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(artifactKeyPrefix + artifactID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &event)
		})
	})
	return event, err == nil
}

// GetArtifactContent fetches an artifact's body from the ContentStore.
func (s *Store) GetArtifactContent(agentID, artifactID string) (string, bool) {
	content, err := s.content.Get(agentID, artifactID)
	return content, err == nil
}

// PutArtifactContent stores an artifact's body in the ContentStore.
func (s *Store) PutArtifactContent(agentID, artifactID, content string) error {
	return s.content.Put(agentID, artifactID, content)
}

// ListArtifacts returns every known artifact, for Layer 1c's
// full-corpus sweep.
func (s *Store) ListArtifacts() []domain.ArtifactEvent {
	var out []domain.ArtifactEvent
	_ = s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(artifactKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var event domain.ArtifactEvent
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &event)
			})
			if err == nil {
				out = append(out, event)
			}
		}
		return nil
	})
	return out
}

// AppendAuditLog implements the AuditSink interface shared by the
// Trust Engine, Decision Queue, and Coherence Monitor.
func (s *Store) AppendAuditLog(entityType, entityID, action, callerAgentID string, details map[string]any) {
	s.mu.Lock()
	s.nextAuditID++
	id := s.nextAuditID
	s.mu.Unlock()

	entry := domain.AuditLogEntry{
		EntityType: entityType, EntityID: entityID, Action: action,
		CallerAgentID: callerAgentID, Timestamp: time.Now(), Details: details,
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return
	}
	key := fmt.Sprintf("%s%020d:%s:%s", auditKeyPrefix, id, entityType, entityID)
	_ = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), payload)
	})
}

// ListAuditLog returns audit entries matching entityType/entityID
// (either may be empty to mean "any"), ordered by append sequence.
func (s *Store) ListAuditLog(entityType, entityID string) []domain.AuditLogEntry {
	var out []domain.AuditLogEntry
	_ = s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(auditKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var entry domain.AuditLogEntry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				continue
			}
			if entityType != "" && entry.EntityType != entityType {
				continue
			}
			if entityID != "" && entry.EntityID != entityID {
				continue
			}
			out = append(out, entry)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
