//
// Tencent is pleased to support the open source community by making trpc-forge-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-forge-go is licensed under the Apache License Version 2.0.
//
//

// Package session manages live pipeline executions: it owns the state
// records, serializes commands per execution, and persists snapshots after
// every transition so executions survive a process restart.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"

	"trpc.group/trpc-go/trpc-forge-go/log"
	"trpc.group/trpc-go/trpc-forge-go/pipeline"
)

// Service errors.
var (
	// ErrSessionNotFound indicates the execution ID is unknown.
	ErrSessionNotFound = errors.New("session: execution not found")
	// ErrStepInFlight indicates another command holds the execution.
	ErrStepInFlight = errors.New("session: step already in flight")
	// ErrClosed indicates the service has been closed.
	ErrClosed = errors.New("session: service closed")
)

const defaultPoolSize = 16

// Option configures a Service.
type Option func(*options)

type options struct {
	saver    pipeline.SnapshotSaver
	poolSize int
}

// WithSaver attaches a snapshot saver. When set, the service snapshots the
// state after every successful transition.
func WithSaver(saver pipeline.SnapshotSaver) Option {
	return func(o *options) { o.saver = saver }
}

// WithPoolSize sets the size of the background run pool.
func WithPoolSize(size int) Option {
	return func(o *options) { o.poolSize = size }
}

// Service manages executions over a shared Executor. All methods are safe
// for concurrent use; commands against the same execution are serialized.
type Service struct {
	exec  *pipeline.Executor
	saver pipeline.SnapshotSaver
	pool  *ants.Pool

	mu       sync.RWMutex
	sessions map[string]*entry
	closed   bool
}

// entry guards one execution. held is flipped under the service lock so a
// concurrent command fails fast instead of queueing behind a slow node.
type entry struct {
	state *pipeline.ExecutionState
	held  bool
}

// New creates a session service over the given executor.
func New(exec *pipeline.Executor, opts ...Option) (*Service, error) {
	if exec == nil {
		return nil, errors.New("session: executor is nil")
	}
	o := options{poolSize: defaultPoolSize}
	for _, opt := range opts {
		opt(&o)
	}
	pool, err := ants.NewPool(o.poolSize)
	if err != nil {
		return nil, fmt.Errorf("session: create pool: %w", err)
	}
	return &Service{
		exec:     exec,
		saver:    o.saver,
		pool:     pool,
		sessions: make(map[string]*entry),
	}, nil
}

// Start registers a new execution for the given demand and returns its
// initial state.
func (s *Service) Start(ctx context.Context, demand string) (*pipeline.ExecutionState, error) {
	if demand == "" {
		return nil, errors.New("session: demand is empty")
	}
	state := pipeline.NewExecutionState(demand)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.sessions[state.ID] = &entry{state: state}
	s.mu.Unlock()

	if err := s.persist(ctx, state); err != nil {
		return nil, err
	}
	log.Infof("session %s: started", state.ID)
	return state.Clone(), nil
}

// Step advances the execution by one node.
func (s *Service) Step(ctx context.Context, id string) (*pipeline.StepResult, error) {
	return s.transition(ctx, id, func(state *pipeline.ExecutionState) (*pipeline.StepResult, error) {
		return s.exec.Step(ctx, state)
	})
}

// Approve accepts the plan awaiting approval.
func (s *Service) Approve(ctx context.Context, id string) (*pipeline.StepResult, error) {
	return s.transition(ctx, id, func(state *pipeline.ExecutionState) (*pipeline.StepResult, error) {
		return s.exec.Resume(ctx, state, pipeline.Approve())
	})
}

// Feedback rejects the pending plan with reviewer feedback.
func (s *Service) Feedback(ctx context.Context, id, text string) (*pipeline.StepResult, error) {
	return s.transition(ctx, id, func(state *pipeline.ExecutionState) (*pipeline.StepResult, error) {
		return s.exec.Resume(ctx, state, pipeline.Feedback(text))
	})
}

// Abort forces the execution to a terminal state.
func (s *Service) Abort(ctx context.Context, id string) (*pipeline.StepResult, error) {
	return s.transition(ctx, id, func(state *pipeline.ExecutionState) (*pipeline.StepResult, error) {
		return s.exec.Resume(ctx, state, pipeline.Abort())
	})
}

// transition acquires the execution, applies fn, and commits the new state.
func (s *Service) transition(ctx context.Context, id string,
	fn func(*pipeline.ExecutionState) (*pipeline.StepResult, error)) (*pipeline.StepResult, error) {
	state, release, err := s.acquire(id)
	if err != nil {
		return nil, err
	}
	defer release()

	result, err := fn(state)
	if err != nil {
		return nil, err
	}
	s.commit(id, result.State)
	if err := s.persist(ctx, result.State); err != nil {
		return nil, err
	}
	return result, nil
}

// State returns a copy of the execution's current state.
func (s *Service) State(ctx context.Context, id string) (*pipeline.ExecutionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e.state.Clone(), nil
}

// Snapshot captures the execution's current state and, when a saver is
// attached, persists the capture.
func (s *Service) Snapshot(ctx context.Context, id string) (*pipeline.Snapshot, error) {
	state, err := s.State(ctx, id)
	if err != nil {
		return nil, err
	}
	snap := pipeline.NewSnapshot(state)
	if s.saver != nil {
		if err := s.saver.Put(ctx, snap); err != nil {
			return nil, fmt.Errorf("session: persist snapshot: %w", err)
		}
	}
	return snap, nil
}

// Restore registers an execution from a snapshot, replacing any in-memory
// record with the same ID.
func (s *Service) Restore(ctx context.Context, snap *pipeline.Snapshot) (*pipeline.ExecutionState, error) {
	if snap == nil || snap.State == nil {
		return nil, errors.New("session: snapshot is empty")
	}
	state := snap.State.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if e, ok := s.sessions[state.ID]; ok && e.held {
		return nil, ErrStepInFlight
	}
	s.sessions[state.ID] = &entry{state: state}
	log.Infof("session %s: restored at stage %s", state.ID, state.CurrentStage)
	return state.Clone(), nil
}

// RestoreLatest restores an execution from the saver's newest snapshot of
// the lineage.
func (s *Service) RestoreLatest(ctx context.Context, lineageID string) (*pipeline.ExecutionState, error) {
	if s.saver == nil {
		return nil, errors.New("session: no saver configured")
	}
	snap, err := s.saver.Latest(ctx, lineageID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, ErrSessionNotFound
	}
	return s.Restore(ctx, snap)
}

// RunUntilPause drives the execution on the background pool until it
// suspends for approval, reaches a terminal state, or fails. The callback
// receives the final state of the run, or the error that stopped it.
func (s *Service) RunUntilPause(ctx context.Context, id string, done func(*pipeline.ExecutionState, error)) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	if _, ok := s.sessions[id]; !ok {
		s.mu.RUnlock()
		return ErrSessionNotFound
	}
	s.mu.RUnlock()

	return s.pool.Submit(func() {
		state, err := s.runloop(ctx, id)
		if done != nil {
			done(state, err)
		}
	})
}

func (s *Service) runloop(ctx context.Context, id string) (*pipeline.ExecutionState, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := s.Step(ctx, id)
		if err != nil {
			if errors.Is(err, pipeline.ErrAwaitingApproval) || errors.Is(err, pipeline.ErrAlreadyTerminal) {
				return s.State(ctx, id)
			}
			return nil, err
		}
		if result.Suspended || result.Terminal != "" {
			return result.State, nil
		}
	}
}

// Close stops the background pool and closes the saver. In-flight runs are
// allowed to finish their current step.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.pool.Release()
	if s.saver != nil {
		return s.saver.Close()
	}
	return nil
}

// acquire takes exclusive hold of an execution and returns its live state.
func (s *Service) acquire(id string) (*pipeline.ExecutionState, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, ErrClosed
	}
	e, ok := s.sessions[id]
	if !ok {
		return nil, nil, ErrSessionNotFound
	}
	if e.held {
		return nil, nil, ErrStepInFlight
	}
	e.held = true
	release := func() {
		s.mu.Lock()
		e.held = false
		s.mu.Unlock()
	}
	return e.state, release, nil
}

// commit swaps in the state produced by a transition.
func (s *Service) commit(id string, state *pipeline.ExecutionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.sessions[id]; ok {
		e.state = state
	}
}

// persist autosaves the state when a saver is attached.
func (s *Service) persist(ctx context.Context, state *pipeline.ExecutionState) error {
	if s.saver == nil {
		return nil
	}
	if err := s.saver.Put(ctx, pipeline.NewSnapshot(state)); err != nil {
		return fmt.Errorf("session: persist snapshot: %w", err)
	}
	return nil
}
