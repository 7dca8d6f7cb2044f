// SPDX-FileCopyrightText: Copyright 2025 Zoneid Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCode(code string, ttl time.Duration) *AuthorizationCode {
	now := time.Now()
	return &AuthorizationCode{
		Code:        code,
		ClientID:    "mvc",
		RedirectURI: "http://localhost:5002/signin-oidc",
		Subject:     "alice",
		Scopes:      []string{"openid", "api1"},
		Nonce:       "n-123",
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

func testRefreshToken(token string, ttl time.Duration) *RefreshToken {
	now := time.Now()
	return &RefreshToken{
		Token:     token,
		ClientID:  "mvc",
		Subject:   "alice",
		Scopes:    []string{"openid", "api1", "offline_access"},
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestMemoryStoreCodeLifecycle(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.PutCode(ctx, testCode("c1", time.Minute)))

	got, err := store.RedeemCode(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "mvc", got.ClientID)
	assert.Equal(t, "alice", got.Subject)
	assert.Equal(t, "n-123", got.Nonce)

	// Second redemption is a replay, not an unknown code.
	_, err = store.RedeemCode(ctx, "c1")
	require.ErrorIs(t, err, ErrCodeAlreadyRedeemed)
}

func TestMemoryStoreUnknownCode(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	defer store.Close()

	_, err := store.RedeemCode(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreExpiredCode(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.PutCode(ctx, testCode("c1", -time.Second)))

	_, err := store.RedeemCode(ctx, "c1")
	require.ErrorIs(t, err, ErrExpired)
}

func TestMemoryStoreCodeSingleWinner(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.PutCode(ctx, testCode("c1", time.Minute)))

	const attempts = 32
	var wg sync.WaitGroup
	wins := make(chan struct{}, attempts)

	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.RedeemCode(ctx, "c1"); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	assert.Len(t, wins, 1, "exactly one concurrent redemption must win")
}

func TestMemoryStoreRefreshTokenLifecycle(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.PutRefreshToken(ctx, testRefreshToken("r1", time.Hour)))

	// Get does not consume.
	got, err := store.GetRefreshToken(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Subject)

	got, err = store.GetRefreshToken(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "mvc", got.ClientID)

	// Redeem consumes.
	_, err = store.RedeemRefreshToken(ctx, "r1")
	require.NoError(t, err)

	_, err = store.GetRefreshToken(ctx, "r1")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = store.RedeemRefreshToken(ctx, "r1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreRevokeRefreshToken(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.PutRefreshToken(ctx, testRefreshToken("r1", time.Hour)))
	require.NoError(t, store.RevokeRefreshToken(ctx, "r1"))

	_, err := store.GetRefreshToken(ctx, "r1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreExpiredRefreshToken(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.PutRefreshToken(ctx, testRefreshToken("r1", -time.Second)))

	_, err := store.GetRefreshToken(ctx, "r1")
	require.ErrorIs(t, err, ErrExpired)
	_, err = store.RedeemRefreshToken(ctx, "r1")
	require.ErrorIs(t, err, ErrExpired)
}

func TestMemoryStoreCleanup(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(WithCleanupInterval(10 * time.Millisecond))
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.PutCode(ctx, testCode("c1", 20*time.Millisecond)))
	require.NoError(t, store.PutRefreshToken(ctx, testRefreshToken("r1", 20*time.Millisecond)))

	assert.Eventually(t, func() bool {
		stats := store.Stats()
		return stats.Codes == 0 && stats.RefreshTokens == 0
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryStoreCloneIsolation(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	original := testCode("c1", time.Minute)
	require.NoError(t, store.PutCode(ctx, original))

	// Mutating the caller's copy after Put must not affect the stored value.
	original.Scopes[0] = "mutated"

	got, err := store.RedeemCode(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "openid", got.Scopes[0])
}
