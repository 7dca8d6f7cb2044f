// SPDX-FileCopyrightText: Copyright 2025 Zoneid Authors
// SPDX-License-Identifier: Apache-2.0

// Package users defines the narrow interface to the external user store.
// The authorization server authenticates interactive logins and resolves
// identity claims through this interface; the backing store (database,
// directory, ...) is deliberately not specified here. The in-memory
// implementation exists for development and tests.
package users

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Store errors.
var (
	ErrNotFound           = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// User is an account as seen by the identity boundary: a stable subject plus
// the claims identity resources may release.
type User struct {
	// Subject is the stable subject identifier stamped into tokens.
	Subject string

	// Username is the interactive login name.
	Username string

	// PasswordHash is the bcrypt hash of the login password.
	PasswordHash []byte

	// Claims are the user's identity claims by claim type (e.g. "name").
	Claims map[string]any
}

// Store is the external user/credential collaborator.
type Store interface {
	// Authenticate verifies the credentials and returns the user.
	// Returns ErrInvalidCredentials for a bad username or password.
	Authenticate(ctx context.Context, username, password string) (*User, error)

	// Lookup returns the user for a subject, for claim resolution.
	Lookup(ctx context.Context, subject string) (*User, error)
}

// ClaimsFor filters the user's claims to the requested claim types.
func (u *User) ClaimsFor(claimTypes []string) map[string]any {
	claims := make(map[string]any, len(claimTypes))
	for _, name := range claimTypes {
		if value, ok := u.Claims[name]; ok {
			claims[name] = value
		}
	}
	return claims
}

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu         sync.RWMutex
	byUsername map[string]*User
	bySubject  map[string]*User
}

// NewMemoryStore creates a store holding the given users.
func NewMemoryStore(accounts ...*User) *MemoryStore {
	s := &MemoryStore{
		byUsername: make(map[string]*User, len(accounts)),
		bySubject:  make(map[string]*User, len(accounts)),
	}
	for _, u := range accounts {
		s.byUsername[u.Username] = u
		s.bySubject[u.Subject] = u
	}
	return s
}

// Authenticate verifies the credentials with a constant-time bcrypt compare.
func (s *MemoryStore) Authenticate(_ context.Context, username, password string) (*User, error) {
	s.mu.RLock()
	user, ok := s.byUsername[username]
	s.mu.RUnlock()

	if !ok {
		// Burn a compare anyway so unknown usernames cost the same as
		// wrong passwords.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// Lookup returns the user for a subject.
func (s *MemoryStore) Lookup(_ context.Context, subject string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.bySubject[subject]
	if !ok {
		return nil, ErrNotFound
	}
	return user, nil
}

// dummyHash is compared against when the username is unknown.
var dummyHash = mustHash("not-a-real-password")

func mustHash(password string) []byte {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return hash
}

// HashPassword returns the bcrypt hash for a password, for seeding stores.
func HashPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)
