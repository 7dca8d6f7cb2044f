// SPDX-FileCopyrightText: Copyright 2025 Zoneid Authors
// SPDX-License-Identifier: Apache-2.0

// Package keys provides signing key management for the authorization server.
// It handles key lifecycle including loading from files, generation, rotation
// and retrieval.
package keys

import (
	"crypto"
	"errors"
	"time"
)

// DefaultAlgorithm is the default signing algorithm for auto-generated keys.
// ES256 (ECDSA with P-256) is recommended by NIST and OWASP for JWT signing.
const DefaultAlgorithm = "ES256"

// ErrNoSigningKey is returned when no signing key is available. This is fatal
// at startup wiring and is never retried.
var ErrNoSigningKey = errors.New("no signing key available")

// SigningKey is a signing key with its metadata. It contains private key
// material and must not be exposed externally.
type SigningKey struct {
	// KeyID is the unique identifier for this key (RFC 7638 thumbprint).
	KeyID string

	// Algorithm is the signing algorithm (e.g. "ES256", "RS256").
	Algorithm string

	// Key is the private key used for signing.
	Key crypto.Signer

	// CreatedAt is when this key was generated or loaded.
	CreatedAt time.Time
}

func (k *SigningKey) clone() *SigningKey {
	return &SigningKey{
		KeyID:     k.KeyID,
		Algorithm: k.Algorithm,
		Key:       k.Key,
		CreatedAt: k.CreatedAt,
	}
}

// verificationKey derives the public portion of the key.
func (k *SigningKey) verificationKey() *VerificationKey {
	return &VerificationKey{
		KeyID:     k.KeyID,
		Algorithm: k.Algorithm,
		PublicKey: k.Key.Public(),
		CreatedAt: k.CreatedAt,
	}
}

// VerificationKey is the public portion of a signing key. It is safe to
// expose via the JWKS endpoint.
type VerificationKey struct {
	// KeyID is the unique identifier for this key (RFC 7638 thumbprint).
	KeyID string

	// Algorithm is the signing algorithm (e.g. "ES256", "RS256").
	Algorithm string

	// PublicKey is the public key for verification.
	PublicKey crypto.PublicKey

	// CreatedAt is when this key was generated or loaded.
	CreatedAt time.Time
}
