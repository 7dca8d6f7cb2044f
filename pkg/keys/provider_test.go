// SPDX-FileCopyrightText: Copyright 2025 Zoneid Authors
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestKey(t *testing.T, dir, name string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	data := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o600))
}

func TestFileProvider(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTestKey(t, dir, "signing.pem")
	writeTestKey(t, dir, "old.pem")

	provider, err := NewFileProvider(Config{
		KeyDir:           dir,
		SigningKeyFile:   "signing.pem",
		FallbackKeyFiles: []string{"old.pem"},
	})
	require.NoError(t, err)

	ctx := context.Background()

	signing, err := provider.SigningKey(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, signing.KeyID)
	assert.Equal(t, "ES256", signing.Algorithm)

	verification, err := provider.VerificationKeys(ctx)
	require.NoError(t, err)
	require.Len(t, verification, 2)

	// The signing key must be among the verification keys.
	kids := []string{verification[0].KeyID, verification[1].KeyID}
	assert.Contains(t, kids, signing.KeyID)
}

func TestFileProviderMissingKey(t *testing.T) {
	t.Parallel()

	_, err := NewFileProvider(Config{
		KeyDir:         t.TempDir(),
		SigningKeyFile: "missing.pem",
	})
	require.Error(t, err)
}

func TestGeneratingProvider(t *testing.T) {
	t.Parallel()

	provider := NewGeneratingProvider(DefaultAlgorithm)
	ctx := context.Background()

	first, err := provider.SigningKey(ctx)
	require.NoError(t, err)

	second, err := provider.SigningKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.KeyID, second.KeyID, "generated key must be stable across calls")

	verification, err := provider.VerificationKeys(ctx)
	require.NoError(t, err)
	require.Len(t, verification, 1)
	assert.Equal(t, first.KeyID, verification[0].KeyID)
}

func TestRotatingProvider(t *testing.T) {
	t.Parallel()

	makeKey := func() *SigningKey {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)
		sk, err := newSigningKeyFromSigner(key)
		require.NoError(t, err)
		return sk
	}

	initial := makeKey()
	provider, err := NewRotatingProvider(initial, 1)
	require.NoError(t, err)

	ctx := context.Background()

	signing, err := provider.SigningKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, initial.KeyID, signing.KeyID)

	next := makeKey()
	require.NoError(t, provider.Rotate(next))

	signing, err = provider.SigningKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, next.KeyID, signing.KeyID)

	// The retired key must still verify.
	verification, err := provider.VerificationKeys(ctx)
	require.NoError(t, err)
	require.Len(t, verification, 2)

	// A second rotation with maxRetired=1 drops the oldest key.
	require.NoError(t, provider.Rotate(makeKey()))
	verification, err = provider.VerificationKeys(ctx)
	require.NoError(t, err)
	require.Len(t, verification, 2)
	for _, vk := range verification {
		assert.NotEqual(t, initial.KeyID, vk.KeyID)
	}
}

func TestDeriveAlgorithm(t *testing.T) {
	t.Parallel()

	ecKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	alg, err := DeriveAlgorithm(ecKey)
	require.NoError(t, err)
	assert.Equal(t, "ES384", alg)

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	alg, err = DeriveAlgorithm(rsaKey)
	require.NoError(t, err)
	assert.Equal(t, "RS256", alg)
}

func TestDeriveKeyIDIsStable(t *testing.T) {
	t.Parallel()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	kid1, err := DeriveKeyID(key)
	require.NoError(t, err)
	kid2, err := DeriveKeyID(key)
	require.NoError(t, err)

	assert.Equal(t, kid1, kid2)
	assert.NotEmpty(t, kid1)
}

func TestPublicJWKS(t *testing.T) {
	t.Parallel()

	provider := NewGeneratingProvider(DefaultAlgorithm)
	ctx := context.Background()

	set, err := PublicJWKS(ctx, provider)
	require.NoError(t, err)
	require.Len(t, set.Keys, 1)

	jwk := set.Keys[0]
	assert.Equal(t, "sig", jwk.Use)
	assert.NotEmpty(t, jwk.KeyID)
	assert.True(t, jwk.IsPublic(), "JWKS must never contain private key material")

	algs, err := SigningAlgorithms(ctx, provider)
	require.NoError(t, err)
	assert.Equal(t, []string{"ES256"}, algs)
}
