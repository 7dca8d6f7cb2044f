// SPDX-FileCopyrightText: Copyright 2025 Zoneid Authors
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"context"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"
)

// PublicJWKS builds the JSON Web Key Set for the provider's verification keys.
// The result is safe to serve from the JWKS endpoint; it contains public key
// material only, keyed by key identifier.
func PublicJWKS(ctx context.Context, provider Provider) (*jose.JSONWebKeySet, error) {
	verificationKeys, err := provider.VerificationKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list verification keys: %w", err)
	}

	set := &jose.JSONWebKeySet{
		Keys: make([]jose.JSONWebKey, 0, len(verificationKeys)),
	}
	for _, key := range verificationKeys {
		set.Keys = append(set.Keys, jose.JSONWebKey{
			Key:       key.PublicKey,
			KeyID:     key.KeyID,
			Algorithm: key.Algorithm,
			Use:       "sig",
		})
	}
	return set, nil
}

// SigningAlgorithms returns the distinct signing algorithms across the
// provider's verification keys, for discovery metadata.
func SigningAlgorithms(ctx context.Context, provider Provider) ([]string, error) {
	verificationKeys, err := provider.VerificationKeys(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(verificationKeys))
	var algs []string
	for _, key := range verificationKeys {
		if key.Algorithm != "" && !seen[key.Algorithm] {
			seen[key.Algorithm] = true
			algs = append(algs, key.Algorithm)
		}
	}
	return algs, nil
}
