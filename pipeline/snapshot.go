//
// Tencent is pleased to support the open source community by making trpc-forge-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-forge-go is licensed under the Apache License Version 2.0.
//
//

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StateVersion is the current version of the persisted state format.
const StateVersion = 1

// Snapshot is a complete, self-describing serialization of one
// ExecutionState, sufficient to resume step/approve/feedback with no other
// inputs. The lineage ID is the state ID: all snapshots of one execution
// share it.
type Snapshot struct {
	Version   int             `json:"v"`
	ID        string          `json:"id"`
	LineageID string          `json:"lineage_id"`
	TakenAt   time.Time       `json:"ts"`
	State     *ExecutionState `json:"state"`
}

// NewSnapshot captures the given state.
func NewSnapshot(s *ExecutionState) *Snapshot {
	return &Snapshot{
		Version:   StateVersion,
		ID:        uuid.New().String(),
		LineageID: s.ID,
		TakenAt:   time.Now().UTC(),
		State:     s.Clone(),
	}
}

// Encode serializes the snapshot.
func (s *Snapshot) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// DecodeSnapshot reconstructs a snapshot from its serialized form.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != StateVersion {
		return nil, fmt.Errorf("%w: %d", ErrSnapshotVersion, snap.Version)
	}
	if snap.State == nil {
		return nil, fmt.Errorf("decode snapshot: missing state")
	}
	return &snap, nil
}

// SnapshotSaver is the port to the snapshot store. The pipeline only relies
// on the shape of the snapshot, never on the storage technology behind it.
// Missing snapshots are reported as (nil, nil).
type SnapshotSaver interface {
	// Put stores a snapshot.
	Put(ctx context.Context, snap *Snapshot) error
	// Latest retrieves the most recent snapshot of a lineage.
	Latest(ctx context.Context, lineageID string) (*Snapshot, error)
	// Get retrieves a specific snapshot of a lineage.
	Get(ctx context.Context, lineageID, snapshotID string) (*Snapshot, error)
	// List retrieves all snapshots of a lineage, oldest first.
	List(ctx context.Context, lineageID string) ([]*Snapshot, error)
	// DeleteLineage removes all snapshots of a lineage.
	DeleteLineage(ctx context.Context, lineageID string) error
	// Close releases resources held by the saver.
	Close() error
}
