// SPDX-FileCopyrightText: Copyright 2025 Zoneid Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zoneauth/zoneid/pkg/logger"
)

// Default TTLs for in-memory grant state.
const (
	// DefaultCleanupInterval is how often expired entries are removed.
	DefaultCleanupInterval = time.Minute

	// DefaultRedeemedCodeTTL is how long a redeemed-code tombstone is kept
	// so replayed codes can be reported as reuse rather than unknown.
	DefaultRedeemedCodeTTL = 10 * time.Minute
)

// timedEntry wraps a value with its creation time for TTL tracking.
type timedEntry[T any] struct {
	value     T
	createdAt time.Time
	expiresAt time.Time
}

// MemoryStore implements Store with in-memory maps.
// It is thread-safe and suitable for single-replica deployments and tests;
// multi-replica deployments need the Redis backend.
//
// Redemption is a single map delete under the write lock, which gives the
// exactly-one-winner guarantee for concurrent redemption attempts. Redeemed
// authorization codes leave a tombstone in redeemedCodes so a replay is
// distinguishable from an unknown code.
type MemoryStore struct {
	mu sync.RWMutex

	// codes maps code value -> pending authorization code.
	codes map[string]*timedEntry[*AuthorizationCode]

	// redeemedCodes tracks codes that have been exchanged.
	redeemedCodes map[string]*timedEntry[bool]

	// refreshTokens maps token value -> refresh token state.
	refreshTokens map[string]*timedEntry[*RefreshToken]

	// cleanupInterval is how often the background cleanup runs.
	cleanupInterval time.Duration

	// stopCleanup signals the cleanup goroutine to stop.
	stopCleanup chan struct{}

	// cleanupDone is closed when the cleanup goroutine has fully stopped.
	cleanupDone chan struct{}
}

// MemoryStoreOption configures a MemoryStore instance.
type MemoryStoreOption func(*MemoryStore)

// WithCleanupInterval sets a custom cleanup interval.
func WithCleanupInterval(interval time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.cleanupInterval = interval
	}
}

// NewMemoryStore creates a MemoryStore with initialized maps and starts the
// background cleanup goroutine.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		codes:           make(map[string]*timedEntry[*AuthorizationCode]),
		redeemedCodes:   make(map[string]*timedEntry[bool]),
		refreshTokens:   make(map[string]*timedEntry[*RefreshToken]),
		cleanupInterval: DefaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupLoop()

	return s
}

// Close stops the background cleanup goroutine and waits for it to finish.
func (s *MemoryStore) Close() error {
	close(s.stopCleanup)
	<-s.cleanupDone
	return nil
}

func (s *MemoryStore) cleanupLoop() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanupExpired()
		}
	}
}

// cleanupExpired removes all expired entries.
// Collects expired keys under the read lock, then deletes under the write
// lock to keep write lock hold time short.
func (s *MemoryStore) cleanupExpired() {
	now := time.Now()

	s.mu.RLock()

	var expiredCodes []string
	for k, v := range s.codes {
		if now.After(v.expiresAt) {
			expiredCodes = append(expiredCodes, k)
		}
	}

	var expiredRedeemed []string
	for k, v := range s.redeemedCodes {
		if now.After(v.expiresAt) {
			expiredRedeemed = append(expiredRedeemed, k)
		}
	}

	var expiredRefresh []string
	for k, v := range s.refreshTokens {
		if now.After(v.expiresAt) {
			expiredRefresh = append(expiredRefresh, k)
		}
	}

	s.mu.RUnlock()

	if len(expiredCodes) == 0 && len(expiredRedeemed) == 0 && len(expiredRefresh) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range expiredCodes {
		delete(s.codes, k)
	}
	for _, k := range expiredRedeemed {
		delete(s.redeemedCodes, k)
	}
	for _, k := range expiredRefresh {
		delete(s.refreshTokens, k)
	}
}

// PutCode stores a freshly minted authorization code.
func (s *MemoryStore) PutCode(_ context.Context, code *AuthorizationCode) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("authorization code cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.codes[code.Code] = &timedEntry[*AuthorizationCode]{
		value:     code.clone(),
		createdAt: time.Now(),
		expiresAt: code.ExpiresAt,
	}
	return nil
}

// RedeemCode atomically fetches and invalidates the code. The delete and the
// tombstone write happen under one write lock, so exactly one concurrent
// caller observes the live entry.
func (s *MemoryStore) RedeemCode(_ context.Context, code string) (*AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.codes[code]
	if !ok {
		if _, redeemed := s.redeemedCodes[code]; redeemed {
			logger.Warnw("authorization code replay attempt")
			return nil, ErrCodeAlreadyRedeemed
		}
		logger.Debugw("authorization code not found")
		return nil, ErrNotFound
	}

	delete(s.codes, code)

	now := time.Now()
	s.redeemedCodes[code] = &timedEntry[bool]{
		value:     true,
		createdAt: now,
		expiresAt: now.Add(DefaultRedeemedCodeTTL),
	}

	if now.After(entry.expiresAt) {
		return nil, ErrExpired
	}

	return entry.value.clone(), nil
}

// PutRefreshToken stores a refresh token.
func (s *MemoryStore) PutRefreshToken(_ context.Context, token *RefreshToken) error {
	if token == nil || token.Token == "" {
		return fmt.Errorf("refresh token cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.refreshTokens[token.Token] = &timedEntry[*RefreshToken]{
		value:     token.clone(),
		createdAt: time.Now(),
		expiresAt: token.ExpiresAt,
	}
	return nil
}

// GetRefreshToken returns the refresh token without consuming it.
func (s *MemoryStore) GetRefreshToken(_ context.Context, token string) (*RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.refreshTokens[token]
	if !ok {
		logger.Debugw("refresh token not found")
		return nil, ErrNotFound
	}
	if time.Now().After(entry.expiresAt) {
		return nil, ErrExpired
	}
	return entry.value.clone(), nil
}

// RedeemRefreshToken atomically fetches and deletes the token for rotation.
func (s *MemoryStore) RedeemRefreshToken(_ context.Context, token string) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.refreshTokens[token]
	if !ok {
		logger.Debugw("refresh token not found for redemption")
		return nil, ErrNotFound
	}

	delete(s.refreshTokens, token)

	if time.Now().After(entry.expiresAt) {
		return nil, ErrExpired
	}
	return entry.value.clone(), nil
}

// RevokeRefreshToken deletes the token. Unknown tokens are ignored.
func (s *MemoryStore) RevokeRefreshToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.refreshTokens, token)
	return nil
}

// Stats contains statistics about the store contents, for tests and
// monitoring.
type Stats struct {
	Codes         int
	RedeemedCodes int
	RefreshTokens int
}

// Stats returns current statistics about store contents.
func (s *MemoryStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		Codes:         len(s.codes),
		RedeemedCodes: len(s.redeemedCodes),
		RefreshTokens: len(s.refreshTokens),
	}
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)
