//
// Tencent is pleased to support the open source community by making trpc-forge-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-forge-go is licensed under the Apache License Version 2.0.
//
//

// Package server exposes the pipeline as a small HTTP API. Each execution
// is a resource; stepping, approving, giving feedback and aborting are
// commands against it.
package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"trpc.group/trpc-go/trpc-forge-go/log"
	"trpc.group/trpc-go/trpc-forge-go/pipeline"
	"trpc.group/trpc-go/trpc-forge-go/session"
)

// Server wraps a session.Service with HTTP routing.
type Server struct {
	svc    *session.Service
	router *mux.Router
}

// New creates the HTTP server over the given session service.
func New(svc *session.Service) *Server {
	s := &Server{
		svc:    svc,
		router: mux.NewRouter(),
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
	})
	s.router.Use(c.Handler)
	s.registerRoutes()
	return s
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/sessions", s.handleStart).Methods(http.MethodPost)
	s.router.HandleFunc("/sessions/restore", s.handleRestore).Methods(http.MethodPost)
	s.router.HandleFunc("/sessions/{id}", s.handleGet).Methods(http.MethodGet)
	s.router.HandleFunc("/sessions/{id}/step", s.handleStep).Methods(http.MethodPost)
	s.router.HandleFunc("/sessions/{id}/approve", s.handleApprove).Methods(http.MethodPost)
	s.router.HandleFunc("/sessions/{id}/feedback", s.handleFeedback).Methods(http.MethodPost)
	s.router.HandleFunc("/sessions/{id}/abort", s.handleAbort).Methods(http.MethodPost)
	s.router.HandleFunc("/sessions/{id}/snapshot", s.handleSnapshot).Methods(http.MethodGet)
}

type startRequest struct {
	Demand string `json:"demand"`
}

type feedbackRequest struct {
	Feedback string `json:"feedback"`
}

type restoreRequest struct {
	// Snapshot carries a full snapshot document to restore from.
	Snapshot json.RawMessage `json:"snapshot,omitempty"`
	// LineageID restores the newest persisted snapshot of the lineage.
	LineageID string `json:"lineage_id,omitempty"`
}

// sessionView is the wire shape of an execution's state.
type sessionView struct {
	ID        string            `json:"id"`
	Demand    string            `json:"demand"`
	Stage     pipeline.Stage    `json:"stage"`
	Status    pipeline.Status   `json:"status"`
	Terminal  pipeline.Terminal `json:"terminal,omitempty"`
	Summary   string            `json:"summary"`
	LastError string            `json:"last_error,omitempty"`
	Reasons   []string          `json:"reasons,omitempty"`
	Counters  pipeline.Counters `json:"counters"`
	Artifacts map[string]string `json:"artifacts,omitempty"`
}

// stepView is the wire shape of one transition.
type stepView struct {
	Session   sessionView       `json:"session"`
	Stage     pipeline.Stage    `json:"stage,omitempty"`
	Outcome   pipeline.Outcome  `json:"outcome,omitempty"`
	Verdict   pipeline.Verdict  `json:"verdict,omitempty"`
	NextStage pipeline.Stage    `json:"next_stage"`
	Suspended bool              `json:"suspended"`
	Terminal  pipeline.Terminal `json:"terminal,omitempty"`
}

func viewOf(state *pipeline.ExecutionState) sessionView {
	return sessionView{
		ID:        state.ID,
		Demand:    state.Demand,
		Stage:     state.CurrentStage,
		Status:    state.Status,
		Terminal:  state.Terminal,
		Summary:   pipeline.Describe(state.CurrentStage, state.Status, state.Terminal),
		LastError: string(state.LastError),
		Reasons:   state.Reasons,
		Counters:  state.Counters,
		Artifacts: state.Artifacts,
	}
}

func stepViewOf(result *pipeline.StepResult) stepView {
	return stepView{
		Session:   viewOf(result.State),
		Stage:     result.Stage,
		Outcome:   result.Outcome,
		Verdict:   result.Verdict,
		NextStage: result.NextStage,
		Suspended: result.Suspended,
		Terminal:  result.Terminal,
	}
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Demand == "" {
		http.Error(w, "demand is required", http.StatusBadRequest)
		return
	}
	state, err := s.svc.Start(r.Context(), req.Demand)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(viewOf(state)); err != nil {
		log.Errorf("write response: %v", err)
	}
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	state, err := s.svc.State(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, viewOf(state))
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	result, err := s.svc.Step(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, stepViewOf(result))
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	result, err := s.svc.Approve(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, stepViewOf(result))
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Feedback == "" {
		http.Error(w, "feedback is required", http.StatusBadRequest)
		return
	}
	result, err := s.svc.Feedback(r.Context(), mux.Vars(r)["id"], req.Feedback)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, stepViewOf(result))
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	result, err := s.svc.Abort(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, stepViewOf(result))
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.Snapshot(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, snap)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	var (
		state *pipeline.ExecutionState
		err   error
	)
	switch {
	case len(req.Snapshot) > 0:
		snap, decErr := pipeline.DecodeSnapshot(req.Snapshot)
		if decErr != nil {
			http.Error(w, decErr.Error(), http.StatusBadRequest)
			return
		}
		state, err = s.svc.Restore(r.Context(), snap)
	case req.LineageID != "":
		state, err = s.svc.RestoreLatest(r.Context(), req.LineageID)
	default:
		http.Error(w, "snapshot or lineage_id is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, viewOf(state))
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, pipeline.ErrAlreadyTerminal),
		errors.Is(err, pipeline.ErrAwaitingApproval),
		errors.Is(err, pipeline.ErrNotSuspended),
		errors.Is(err, session.ErrStepInFlight):
		status = http.StatusConflict
	case errors.Is(err, session.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), status)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("write response: %v", err)
	}
}
