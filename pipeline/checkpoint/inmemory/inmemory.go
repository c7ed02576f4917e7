//
// Tencent is pleased to support the open source community by making trpc-forge-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-forge-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides in-memory snapshot storage for execution state
// persistence and recovery. Suitable for tests and single-process use.
package inmemory

import (
	"context"
	"fmt"
	"sync"

	"trpc.group/trpc-go/trpc-forge-go/pipeline"
)

// DefaultMaxSnapshotsPerLineage limits how many snapshots a lineage keeps.
const DefaultMaxSnapshotsPerLineage = 100

// Saver is an in-memory implementation of pipeline.SnapshotSaver.
type Saver struct {
	mu sync.RWMutex
	// storage keeps each lineage's snapshots in Put order, oldest first.
	storage map[string][]*pipeline.Snapshot

	maxSnapshotsPerLineage int
}

var _ pipeline.SnapshotSaver = (*Saver)(nil)

// NewSaver creates a new in-memory snapshot saver.
func NewSaver() *Saver {
	return &Saver{
		storage:                make(map[string][]*pipeline.Snapshot),
		maxSnapshotsPerLineage: DefaultMaxSnapshotsPerLineage,
	}
}

// WithMaxSnapshotsPerLineage sets the per-lineage retention limit.
func (s *Saver) WithMaxSnapshotsPerLineage(max int) *Saver {
	s.maxSnapshotsPerLineage = max
	return s
}

// Put stores a snapshot, evicting the oldest entries beyond the limit.
func (s *Saver) Put(ctx context.Context, snap *pipeline.Snapshot) error {
	if snap == nil || snap.State == nil {
		return fmt.Errorf("snapshot cannot be nil")
	}
	if snap.LineageID == "" {
		return pipeline.ErrLineageRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external modification.
	stored := *snap
	stored.State = snap.State.Clone()
	snaps := append(s.storage[snap.LineageID], &stored)
	if s.maxSnapshotsPerLineage > 0 && len(snaps) > s.maxSnapshotsPerLineage {
		snaps = snaps[len(snaps)-s.maxSnapshotsPerLineage:]
	}
	s.storage[snap.LineageID] = snaps
	return nil
}

// Latest retrieves the most recent snapshot of a lineage, or nil.
func (s *Saver) Latest(ctx context.Context, lineageID string) (*pipeline.Snapshot, error) {
	if lineageID == "" {
		return nil, pipeline.ErrLineageRequired
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps := s.storage[lineageID]
	if len(snaps) == 0 {
		return nil, nil
	}
	return copySnapshot(snaps[len(snaps)-1]), nil
}

// Get retrieves a specific snapshot of a lineage, or nil.
func (s *Saver) Get(ctx context.Context, lineageID, snapshotID string) (*pipeline.Snapshot, error) {
	if lineageID == "" {
		return nil, pipeline.ErrLineageRequired
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, snap := range s.storage[lineageID] {
		if snap.ID == snapshotID {
			return copySnapshot(snap), nil
		}
	}
	return nil, nil
}

// List retrieves all snapshots of a lineage, oldest first.
func (s *Saver) List(ctx context.Context, lineageID string) ([]*pipeline.Snapshot, error) {
	if lineageID == "" {
		return nil, pipeline.ErrLineageRequired
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps := s.storage[lineageID]
	results := make([]*pipeline.Snapshot, 0, len(snaps))
	for _, snap := range snaps {
		results = append(results, copySnapshot(snap))
	}
	return results, nil
}

// DeleteLineage removes all snapshots of a lineage.
func (s *Saver) DeleteLineage(ctx context.Context, lineageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.storage, lineageID)
	return nil
}

// Close releases resources held by the saver.
func (s *Saver) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.storage = make(map[string][]*pipeline.Snapshot)
	return nil
}

func copySnapshot(snap *pipeline.Snapshot) *pipeline.Snapshot {
	out := *snap
	out.State = snap.State.Clone()
	return &out
}
