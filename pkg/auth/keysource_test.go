// SPDX-FileCopyrightText: Copyright 2025 Zoneid Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoneauth/zoneid/pkg/issuer"
	"github.com/zoneauth/zoneid/pkg/keys"
)

func TestLocalKeySource(t *testing.T) {
	t.Parallel()

	provider := keys.NewGeneratingProvider(keys.DefaultAlgorithm)
	source := NewLocalKeySource(provider)
	ctx := context.Background()

	signing, err := provider.SigningKey(ctx)
	require.NoError(t, err)

	key, err := source.VerificationKey(ctx, signing.KeyID)
	require.NoError(t, err)
	assert.NotNil(t, key)

	_, err = source.VerificationKey(ctx, "no-such-kid")
	require.ErrorIs(t, err, ErrUnknownKey)
}

func TestRemoteKeySource(t *testing.T) {
	t.Parallel()

	provider := keys.NewGeneratingProvider(keys.DefaultAlgorithm)
	ctx := context.Background()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		set, err := keys.PublicJWKS(r.Context(), provider)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(ts.Close)

	source, err := NewRemoteKeySource(ctx, ts.URL)
	require.NoError(t, err)

	// A validator over the remote JWKS accepts tokens signed with the
	// published key.
	iss := issuer.New(testIssuerURL, provider)
	validator := NewValidator(source, testIssuerURL)

	issued, err := iss.IssueAccessToken(ctx, testClient(), "alice", []string{"api1"}, nil)
	require.NoError(t, err)

	claims, err := validator.Validate(ctx, issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)

	_, err = source.VerificationKey(ctx, "no-such-kid")
	require.ErrorIs(t, err, ErrUnknownKey)
}
