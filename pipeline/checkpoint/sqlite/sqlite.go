//
// Tencent is pleased to support the open source community by making trpc-forge-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-forge-go is licensed under the Apache License Version 2.0.
//
//

// Package sqlite provides SQLite-backed snapshot storage for execution
// state persistence and recovery.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"trpc.group/trpc-go/trpc-forge-go/pipeline"
)

const (
	sqliteCreateSnapshots = "CREATE TABLE IF NOT EXISTS snapshots (" +
		"lineage_id TEXT NOT NULL, " +
		"snapshot_id TEXT NOT NULL, " +
		"ts INTEGER NOT NULL, " +
		"seq INTEGER NOT NULL, " +
		"snapshot_json BLOB NOT NULL, " +
		"PRIMARY KEY (lineage_id, snapshot_id)" +
		")"

	sqliteInsertSnapshot = "INSERT OR REPLACE INTO snapshots (" +
		"lineage_id, snapshot_id, ts, seq, snapshot_json) VALUES (?, ?, ?, " +
		"COALESCE((SELECT MAX(seq) FROM snapshots WHERE lineage_id = ?), 0) + 1, ?)"

	sqliteSelectLatest = "SELECT snapshot_json FROM snapshots " +
		"WHERE lineage_id = ? ORDER BY seq DESC LIMIT 1"

	sqliteSelectByID = "SELECT snapshot_json FROM snapshots " +
		"WHERE lineage_id = ? AND snapshot_id = ? LIMIT 1"

	sqliteSelectAllAsc = "SELECT snapshot_json FROM snapshots " +
		"WHERE lineage_id = ? ORDER BY seq ASC"

	sqliteDeleteLineage = "DELETE FROM snapshots WHERE lineage_id = ?"
)

// Saver is a SQLite-backed implementation of pipeline.SnapshotSaver.
// It expects an initialized *sql.DB and creates the required schema. The
// whole snapshot is stored as a JSON blob, so schema migrations track the
// snapshot format version rather than individual state fields.
type Saver struct {
	db *sql.DB
}

var _ pipeline.SnapshotSaver = (*Saver)(nil)

// NewSaver creates a new saver using the provided DB.
// The DB must use a SQLite driver. The constructor creates tables if needed.
func NewSaver(db *sql.DB) (*Saver, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if _, err := db.Exec(sqliteCreateSnapshots); err != nil {
		return nil, fmt.Errorf("create snapshots table: %w", err)
	}
	return &Saver{db: db}, nil
}

// Put stores a snapshot.
func (s *Saver) Put(ctx context.Context, snap *pipeline.Snapshot) error {
	if snap == nil || snap.State == nil {
		return errors.New("snapshot cannot be nil")
	}
	if snap.LineageID == "" {
		return pipeline.ErrLineageRequired
	}
	data, err := snap.Encode()
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, sqliteInsertSnapshot,
		snap.LineageID, snap.ID, snap.TakenAt.UnixNano(), snap.LineageID, data)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// Latest retrieves the most recent snapshot of a lineage, or nil.
func (s *Saver) Latest(ctx context.Context, lineageID string) (*pipeline.Snapshot, error) {
	if lineageID == "" {
		return nil, pipeline.ErrLineageRequired
	}
	return s.queryOne(ctx, sqliteSelectLatest, lineageID)
}

// Get retrieves a specific snapshot of a lineage, or nil.
func (s *Saver) Get(ctx context.Context, lineageID, snapshotID string) (*pipeline.Snapshot, error) {
	if lineageID == "" {
		return nil, pipeline.ErrLineageRequired
	}
	return s.queryOne(ctx, sqliteSelectByID, lineageID, snapshotID)
}

// List retrieves all snapshots of a lineage, oldest first.
func (s *Saver) List(ctx context.Context, lineageID string) ([]*pipeline.Snapshot, error) {
	if lineageID == "" {
		return nil, pipeline.ErrLineageRequired
	}
	rows, err := s.db.QueryContext(ctx, sqliteSelectAllAsc, lineageID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var results []*pipeline.Snapshot
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap, err := pipeline.DecodeSnapshot(data)
		if err != nil {
			return nil, err
		}
		results = append(results, snap)
	}
	return results, rows.Err()
}

// DeleteLineage removes all snapshots of a lineage.
func (s *Saver) DeleteLineage(ctx context.Context, lineageID string) error {
	if _, err := s.db.ExecContext(ctx, sqliteDeleteLineage, lineageID); err != nil {
		return fmt.Errorf("delete lineage: %w", err)
	}
	return nil
}

// Close releases resources held by the saver. It does not close the DB,
// which is owned by the caller.
func (s *Saver) Close() error { return nil }

func (s *Saver) queryOne(ctx context.Context, query string, args ...any) (*pipeline.Snapshot, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	return pipeline.DecodeSnapshot(data)
}
