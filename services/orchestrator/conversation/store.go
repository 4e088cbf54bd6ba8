// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conversation manages per-session conversation state.
//
// # Description
//
// The Store is the single authority over ConversationState. Handlers lease a
// session for the duration of one request, hand a deep copy to the execution
// loop, and commit the mutated copy back only when the request succeeds. A
// failed or cancelled request releases the lease without committing, so
// partial mutations never become visible.
//
// Sessions are serialized: at most one request holds a session's lease at a
// time, and a second concurrent request is rejected with ErrSessionBusy
// rather than queued.
//
// # Thread Safety
//
// All Store methods are safe for concurrent use.
package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/datatypes"
)

// ErrSessionBusy is returned when a session already has a request in flight.
var ErrSessionBusy = errors.New("session has a request in flight")

// ErrSessionNotFound is returned for lookups of sessions the store has never
// seen.
var ErrSessionNotFound = errors.New("session not found")

// ErrLeaseNotHeld is returned when Commit or Release is called for a session
// that was never leased.
var ErrLeaseNotHeld = errors.New("session lease not held")

// Persistence is the durable backing for conversation state. The in-memory
// map is authoritative while the process runs; persistence exists so sessions
// survive restarts.
type Persistence interface {
	SaveState(ctx context.Context, state *datatypes.ConversationState) error
	LoadState(ctx context.Context, sessionId string) (*datatypes.ConversationState, error)
	DeleteState(ctx context.Context, sessionId string) error
	ListStates(ctx context.Context) ([]*datatypes.ConversationState, error)
}

// Store holds conversation state and the per-session request leases.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*datatypes.ConversationState
	leased   map[string]bool
	persist  Persistence
}

// NewStore builds a Store. persist may be nil for a purely in-memory store.
func NewStore(persist Persistence) *Store {
	return &Store{
		sessions: make(map[string]*datatypes.ConversationState),
		leased:   make(map[string]bool),
		persist:  persist,
	}
}

// Restore loads all persisted sessions into memory. Call once at startup,
// before the store is shared.
func (s *Store) Restore(ctx context.Context) error {
	if s.persist == nil {
		return nil
	}
	states, err := s.persist.ListStates(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, state := range states {
		s.sessions[state.SessionId] = state
	}
	slog.Info("Restored conversation sessions", "count", len(states))
	return nil
}

// Acquire leases a session for one request and returns a deep copy of its
// state.
//
// # Description
//
// An unknown session id creates a fresh session. A session that already has
// a request in flight returns ErrSessionBusy; callers surface that as a
// conflict rather than waiting. The returned copy is the caller's to mutate;
// nothing becomes visible until Commit.
func (s *Store) Acquire(sessionId string) (*datatypes.ConversationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.leased[sessionId] {
		return nil, ErrSessionBusy
	}

	state, ok := s.sessions[sessionId]
	if !ok {
		state = datatypes.NewConversationState(sessionId)
		s.sessions[sessionId] = state
	}

	s.leased[sessionId] = true
	return state.Clone(), nil
}

// Commit stores the mutated state and releases the lease.
//
// # Description
//
// The committed copy replaces the stored state wholesale. Persistence errors
// are logged, not returned: the in-memory state is already committed and the
// request already succeeded from the caller's point of view.
func (s *Store) Commit(ctx context.Context, state *datatypes.ConversationState) error {
	s.mu.Lock()
	if !s.leased[state.SessionId] {
		s.mu.Unlock()
		return ErrLeaseNotHeld
	}
	state.UpdatedAt = time.Now().UTC()
	s.sessions[state.SessionId] = state
	delete(s.leased, state.SessionId)
	s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.SaveState(ctx, state); err != nil {
			slog.Error("Failed to persist session state",
				"session_id", state.SessionId, "error", err)
		}
	}
	return nil
}

// Release drops a lease without committing. The session keeps the state it
// had before Acquire.
func (s *Store) Release(sessionId string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.leased, sessionId)
}

// History returns a copy of a session's message history.
func (s *Store) History(sessionId string) ([]datatypes.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sessions[sessionId]
	if !ok {
		return nil, ErrSessionNotFound
	}
	history := make([]datatypes.Message, len(state.History))
	copy(history, state.History)
	return history, nil
}

// List returns a summary of every known session, newest first.
func (s *Store) List() []datatypes.SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	summaries := make([]datatypes.SessionSummary, 0, len(s.sessions))
	for _, state := range s.sessions {
		summaries = append(summaries, datatypes.SessionSummary{
			SessionId:    state.SessionId,
			MessageCount: len(state.History),
			CreatedAt:    state.CreatedAt,
			UpdatedAt:    state.UpdatedAt,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries
}

// Delete removes a session from memory and persistence. Deleting a leased
// session fails with ErrSessionBusy.
func (s *Store) Delete(ctx context.Context, sessionId string) error {
	s.mu.Lock()
	if s.leased[sessionId] {
		s.mu.Unlock()
		return ErrSessionBusy
	}
	if _, ok := s.sessions[sessionId]; !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(s.sessions, sessionId)
	s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.DeleteState(ctx, sessionId); err != nil {
			slog.Error("Failed to delete persisted session",
				"session_id", sessionId, "error", err)
		}
	}
	return nil
}
