// SPDX-FileCopyrightText: Copyright 2025 Zoneid Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/zoneauth/zoneid/pkg/keys"
)

// KeySource resolves a verification key by its key identifier.
// Implementations cover in-process keys (the server validating its own
// tokens) and remote JWKS endpoints (resource servers).
type KeySource interface {
	// VerificationKey returns the raw public key for the given kid.
	// Returns ErrUnknownKey when the kid is not in the verification set,
	// e.g. after the key has been fully retired.
	VerificationKey(ctx context.Context, kid string) (any, error)
}

// LocalKeySource resolves keys directly from a keys.Provider.
type LocalKeySource struct {
	provider keys.Provider
}

// NewLocalKeySource creates a KeySource backed by an in-process key provider.
func NewLocalKeySource(provider keys.Provider) *LocalKeySource {
	return &LocalKeySource{provider: provider}
}

// VerificationKey returns the public key with the given kid.
func (s *LocalKeySource) VerificationKey(ctx context.Context, kid string) (any, error) {
	verificationKeys, err := s.provider.VerificationKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list verification keys: %w", err)
	}
	for _, key := range verificationKeys {
		if key.KeyID == kid {
			return key.PublicKey, nil
		}
	}
	return nil, fmt.Errorf("%w: kid %q", ErrUnknownKey, kid)
}

// jwksRegistrationTimeout bounds the first fetch of a remote JWKS.
const jwksRegistrationTimeout = 5 * time.Second

// RemoteKeySource resolves keys from a remote JWKS endpoint with an
// auto-refreshing cache. Registration happens lazily on first use so
// constructing a validator never blocks on the network.
type RemoteKeySource struct {
	jwksURL string
	cache   *jwk.Cache

	registrationMu  sync.Mutex
	registered      bool
	registrationErr error
}

// NewRemoteKeySource creates a KeySource that fetches and caches the JWKS at
// the given URL.
func NewRemoteKeySource(ctx context.Context, jwksURL string) (*RemoteKeySource, error) {
	if jwksURL == "" {
		return nil, fmt.Errorf("JWKS URL is required")
	}

	cache, err := jwk.NewCache(ctx, httprc.NewClient())
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS cache: %w", err)
	}

	return &RemoteKeySource{
		jwksURL: jwksURL,
		cache:   cache,
	}, nil
}

// JWKSURL returns the JWKS endpoint this source fetches keys from.
func (s *RemoteKeySource) JWKSURL() string {
	return s.jwksURL
}

func (s *RemoteKeySource) ensureRegistered(ctx context.Context) error {
	s.registrationMu.Lock()
	defer s.registrationMu.Unlock()

	if s.registered {
		return s.registrationErr
	}

	registrationCtx, cancel := context.WithTimeout(ctx, jwksRegistrationTimeout)
	defer cancel()

	if err := s.cache.Register(registrationCtx, s.jwksURL); err != nil {
		s.registrationErr = fmt.Errorf("failed to register JWKS URL: %w", err)
	} else {
		s.registrationErr = nil
	}

	s.registered = true
	return s.registrationErr
}

// VerificationKey returns the raw public key with the given kid from the
// cached JWKS.
func (s *RemoteKeySource) VerificationKey(ctx context.Context, kid string) (any, error) {
	if err := s.ensureRegistered(ctx); err != nil {
		return nil, err
	}

	keySet, err := s.cache.Lookup(ctx, s.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup JWKS: %w", err)
	}

	key, found := keySet.LookupKeyID(kid)
	if !found {
		return nil, fmt.Errorf("%w: kid %q not found in JWKS", ErrUnknownKey, kid)
	}

	var rawKey any
	if err := jwk.Export(key, &rawKey); err != nil {
		return nil, fmt.Errorf("failed to export raw key: %w", err)
	}
	return rawKey, nil
}

// Compile-time interface checks.
var (
	_ KeySource = (*LocalKeySource)(nil)
	_ KeySource = (*RemoteKeySource)(nil)
)
