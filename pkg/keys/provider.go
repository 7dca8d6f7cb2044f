// SPDX-FileCopyrightText: Copyright 2025 Zoneid Authors
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// timeNow is overridable in tests.
var timeNow = time.Now

// Provider provides signing keys for token operations.
// Implementations handle key sourcing (file, memory, generation).
type Provider interface {
	// SigningKey returns the current signing key.
	// Returns ErrNoSigningKey if no key is available.
	SigningKey(ctx context.Context) (*SigningKey, error)

	// VerificationKeys returns all public keys for the JWKS endpoint.
	// May return multiple keys during rotation periods so that in-flight
	// tokens signed with a retired key remain verifiable.
	VerificationKeys(ctx context.Context) ([]*VerificationKey, error)
}

// FileProvider loads signing keys from PEM files in a directory.
// The signing key is used for signing new tokens; all keys (signing +
// fallback) are exposed via VerificationKeys for JWKS.
// Keys are loaded once at construction time; changes require restart.
type FileProvider struct {
	signingKey *SigningKey
	allKeys    []*SigningKey
}

// NewFileProvider creates a provider that loads keys from a directory.
// Config.SigningKeyFile is the primary key used for signing new tokens.
// Config.FallbackKeyFiles are loaded for JWKS verification (key rotation).
// All keys are loaded immediately and validated.
func NewFileProvider(cfg Config) (*FileProvider, error) {
	if cfg.SigningKeyFile == "" {
		return nil, fmt.Errorf("%w: signing key file is required", ErrNoSigningKey)
	}

	signingKey, err := loadKeyFromFile(filepath.Join(cfg.KeyDir, cfg.SigningKeyFile))
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}

	allKeys := []*SigningKey{signingKey}
	for _, filename := range cfg.FallbackKeyFiles {
		key, err := loadKeyFromFile(filepath.Join(cfg.KeyDir, filename))
		if err != nil {
			return nil, fmt.Errorf("failed to load fallback key %s: %w", filename, err)
		}
		allKeys = append(allKeys, key)
	}

	return &FileProvider{
		signingKey: signingKey,
		allKeys:    allKeys,
	}, nil
}

func loadKeyFromFile(keyPath string) (*SigningKey, error) {
	signer, err := LoadSigningKey(keyPath)
	if err != nil {
		return nil, err
	}
	return newSigningKeyFromSigner(signer)
}

// SigningKey returns the primary signing key used for signing new tokens.
// Returns a copy to prevent external mutation of internal state.
func (p *FileProvider) SigningKey(_ context.Context) (*SigningKey, error) {
	return p.signingKey.clone(), nil
}

// VerificationKeys returns public keys for all loaded keys (signing + fallback).
func (p *FileProvider) VerificationKeys(_ context.Context) ([]*VerificationKey, error) {
	pubKeys := make([]*VerificationKey, 0, len(p.allKeys))
	for _, key := range p.allKeys {
		pubKeys = append(pubKeys, key.verificationKey())
	}
	return pubKeys, nil
}

// GeneratingProvider generates an ephemeral key on first access.
// Suitable for development but NOT recommended for production.
// Generated keys are lost on restart, invalidating all issued tokens.
type GeneratingProvider struct {
	algorithm string
	mu        sync.Mutex
	key       *SigningKey
}

// NewGeneratingProvider creates a provider that generates an ephemeral key.
// The key is generated lazily on first SigningKey() call.
// If algorithm is empty, DefaultAlgorithm (ES256) is used.
func NewGeneratingProvider(algorithm string) *GeneratingProvider {
	if algorithm == "" {
		algorithm = DefaultAlgorithm
	}
	return &GeneratingProvider{algorithm: algorithm}
}

// SigningKey returns the signing key, generating one if needed.
// Thread-safe: uses a mutex so only one key is ever generated.
func (p *GeneratingProvider) SigningKey(_ context.Context) (*SigningKey, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.key != nil {
		return p.key.clone(), nil
	}

	key, err := p.generateKey()
	if err != nil {
		return nil, err
	}

	slog.Warn("generated ephemeral signing key - tokens will be invalid after restart",
		"algorithm", key.Algorithm,
		"key_id", key.KeyID,
	)

	p.key = key
	return p.key.clone(), nil
}

// VerificationKeys returns the public key for JWKS.
// Generates the signing key if it hasn't been generated yet.
func (p *GeneratingProvider) VerificationKeys(ctx context.Context) ([]*VerificationKey, error) {
	key, err := p.SigningKey(ctx)
	if err != nil {
		return nil, err
	}
	return []*VerificationKey{key.verificationKey()}, nil
}

func (p *GeneratingProvider) generateKey() (*SigningKey, error) {
	privateKey, err := generatePrivateKey(p.algorithm)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return newSigningKeyFromSigner(privateKey)
}

func generatePrivateKey(algorithm string) (crypto.Signer, error) {
	switch algorithm {
	case "ES256":
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case "ES384":
		return ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	case "ES512":
		return ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	default:
		return nil, fmt.Errorf("unsupported algorithm for key generation: %s", algorithm)
	}
}

// keySet is the immutable state of a RotatingProvider: one current signing key
// plus the retired keys still published for verification.
type keySet struct {
	current *SigningKey
	retired []*SigningKey
}

// RotatingProvider wraps a signing key with copy-on-write rotation.
// Readers load the full key set through a single atomic pointer, so a
// concurrent validation never observes a half-updated set. Rotate is the
// single mutation point; triggers (schedule, operator action) are the
// caller's concern.
type RotatingProvider struct {
	mu      sync.Mutex // serializes writers
	set     atomic.Pointer[keySet]
	maxKeys int
}

// NewRotatingProvider creates a rotating provider seeded with the given key.
// maxRetired bounds how many retired keys remain published for verification;
// zero means DefaultMaxRetiredKeys.
func NewRotatingProvider(initial *SigningKey, maxRetired int) (*RotatingProvider, error) {
	if initial == nil {
		return nil, ErrNoSigningKey
	}
	if maxRetired <= 0 {
		maxRetired = DefaultMaxRetiredKeys
	}
	p := &RotatingProvider{maxKeys: maxRetired}
	p.set.Store(&keySet{current: initial.clone()})
	return p, nil
}

// DefaultMaxRetiredKeys is how many retired keys a RotatingProvider keeps
// published for verification.
const DefaultMaxRetiredKeys = 2

// SigningKey returns the current signing key.
func (p *RotatingProvider) SigningKey(_ context.Context) (*SigningKey, error) {
	return p.set.Load().current.clone(), nil
}

// VerificationKeys returns the current key plus all retired keys.
func (p *RotatingProvider) VerificationKeys(_ context.Context) ([]*VerificationKey, error) {
	set := p.set.Load()
	pubKeys := make([]*VerificationKey, 0, 1+len(set.retired))
	pubKeys = append(pubKeys, set.current.verificationKey())
	for _, key := range set.retired {
		pubKeys = append(pubKeys, key.verificationKey())
	}
	return pubKeys, nil
}

// Rotate promotes newKey to the signing key and retires the previous one.
// The old key stays in the verification set so tokens it signed remain valid
// until they expire. Concurrent Rotate calls are serialized; readers are
// never blocked.
func (p *RotatingProvider) Rotate(newKey *SigningKey) error {
	if newKey == nil {
		return ErrNoSigningKey
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	old := p.set.Load()
	retired := make([]*SigningKey, 0, len(old.retired)+1)
	retired = append(retired, old.current)
	retired = append(retired, old.retired...)
	if len(retired) > p.maxKeys {
		retired = retired[:p.maxKeys]
	}

	p.set.Store(&keySet{current: newKey.clone(), retired: retired})

	slog.Info("rotated signing key",
		"key_id", newKey.KeyID,
		"algorithm", newKey.Algorithm,
		"retired_keys", len(retired),
	)
	return nil
}

// Compile-time interface checks.
var (
	_ Provider = (*FileProvider)(nil)
	_ Provider = (*GeneratingProvider)(nil)
	_ Provider = (*RotatingProvider)(nil)
)
