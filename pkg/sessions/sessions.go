// SPDX-FileCopyrightText: Copyright 2025 Zoneid Authors
// SPDX-License-Identifier: Apache-2.0

// Package sessions provides the session store used by browser-facing flows.
// The store is keyed by an opaque session ID; nothing here knows about
// cookies or any other transport — that stays in the HTTP layer.
package sessions

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound indicates the session does not exist or has expired.
var ErrNotFound = errors.New("session not found")

// DefaultSessionTTL bounds how long an interactive session lives.
const DefaultSessionTTL = 8 * time.Hour

// Session is the per-browser login state.
type Session struct {
	// ID is the opaque session identifier.
	ID string

	// Subject is the authenticated user.
	Subject string

	// CreatedAt is when the session was established.
	CreatedAt time.Time

	// ExpiresAt bounds the session's validity.
	ExpiresAt time.Time
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	dup := *s
	return &dup
}

// NewID returns a fresh opaque session identifier.
func NewID() string {
	return uuid.NewString()
}

// Store persists sessions by ID.
type Store interface {
	// Get returns the session, or ErrNotFound when absent or expired.
	Get(ctx context.Context, id string) (*Session, error)

	// Set stores or replaces the session under its ID.
	Set(ctx context.Context, session *Session) error

	// Clear removes the session. Clearing an unknown ID is not an error.
	Clear(ctx context.Context, id string) error
}

// MemoryStore is an in-memory Store for single-replica deployments and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

// Get returns the session by ID. Expired sessions are removed lazily.
func (s *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if time.Now().After(session.ExpiresAt) {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	return session.clone(), nil
}

// Set stores or replaces the session under its ID.
func (s *MemoryStore) Set(_ context.Context, session *Session) error {
	if session == nil || session.ID == "" {
		return errors.New("session ID cannot be empty")
	}

	stored := session.clone()
	if stored.ExpiresAt.IsZero() {
		stored.ExpiresAt = time.Now().Add(DefaultSessionTTL)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = stored
	return nil
}

// Clear removes the session.
func (s *MemoryStore) Clear(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)
