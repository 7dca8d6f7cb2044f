// SPDX-FileCopyrightText: Copyright 2025 Zoneid Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testScopes() []*Scope {
	return []*Scope{
		{Name: "api1", Description: "My API", Resource: "api1"},
	}
}

func testIdentityResources() []*IdentityResource {
	return []*IdentityResource{
		{Name: ScopeOpenID, ClaimTypes: []string{"sub"}},
		{Name: ScopeProfile, ClaimTypes: []string{"name", "website"}},
	}
}

func testClients(t *testing.T) []*Client {
	t.Helper()
	return []*Client{
		{
			ID:         "client",
			SecretHash: []byte("$2a$10$fakehashfakehashfakehashfakehashfakehashfakehashfake"),
			GrantTypes: []string{GrantTypeClientCredentials},
			Scopes:     []string{"api1"},
		},
		{
			ID:                 "mvc",
			SecretHash:         []byte("$2a$10$fakehashfakehashfakehashfakehashfakehashfakehashfake"),
			GrantTypes:         []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken},
			Scopes:             []string{ScopeOpenID, ScopeProfile, "api1", ScopeOfflineAccess},
			RedirectURIs:       []string{"http://localhost:5002/signin-oidc"},
			AllowOfflineAccess: true,
		},
	}
}

func TestNewSnapshot(t *testing.T) {
	t.Parallel()

	snap, err := NewSnapshot(testClients(t), testScopes(), testIdentityResources())
	require.NoError(t, err)

	assert.NotNil(t, snap.Client("client"))
	assert.NotNil(t, snap.Client("mvc"))
	assert.Nil(t, snap.Client("unknown"))
	assert.NotNil(t, snap.Scope("api1"))
	assert.NotNil(t, snap.IdentityResource(ScopeOpenID))
}

func TestNewSnapshotRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(clients []*Client)
		wantErr string
	}{
		{
			name: "confidential client without secret",
			mutate: func(clients []*Client) {
				clients[0].SecretHash = nil
			},
			wantErr: "secret",
		},
		{
			name: "code flow client without redirect URIs",
			mutate: func(clients []*Client) {
				clients[1].RedirectURIs = nil
			},
			wantErr: "redirect",
		},
		{
			name: "client references unknown scope",
			mutate: func(clients []*Client) {
				clients[0].Scopes = append(clients[0].Scopes, "nope")
			},
			wantErr: "scope",
		},
		{
			name: "duplicate client id",
			mutate: func(clients []*Client) {
				clients[1].ID = clients[0].ID
			},
			wantErr: "duplicate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			clients := testClients(t)
			tt.mutate(clients)

			_, err := NewSnapshot(clients, testScopes(), testIdentityResources())
			require.Error(t, err)

			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSnapshotIdentityClaimsFor(t *testing.T) {
	t.Parallel()

	snap, err := NewSnapshot(testClients(t), testScopes(), testIdentityResources())
	require.NoError(t, err)

	claims := snap.IdentityClaimsFor([]string{ScopeOpenID, ScopeProfile, "api1"})
	assert.ElementsMatch(t, []string{"sub", "name", "website"}, claims)

	assert.Empty(t, snap.IdentityClaimsFor([]string{"api1"}))
}

func TestClientAllows(t *testing.T) {
	t.Parallel()

	client := testClients(t)[1]

	assert.True(t, client.AllowsGrantType(GrantTypeAuthorizationCode))
	assert.False(t, client.AllowsGrantType(GrantTypeClientCredentials))

	assert.True(t, client.AllowsScopes([]string{ScopeOpenID, "api1"}))
	assert.False(t, client.AllowsScopes([]string{"api2"}))

	assert.True(t, client.AllowsRedirectURI("http://localhost:5002/signin-oidc"))
	assert.False(t, client.AllowsRedirectURI("http://evil.example.com/cb"))
}

func TestRegistryReplace(t *testing.T) {
	t.Parallel()

	snap, err := NewSnapshot(testClients(t), testScopes(), testIdentityResources())
	require.NoError(t, err)

	reg := New(snap)
	before := reg.Snapshot()

	_, err = reg.Replace(testClients(t), testScopes(), testIdentityResources())
	require.NoError(t, err)

	after := reg.Snapshot()
	assert.Greater(t, after.Version(), before.Version())

	// A replace that fails validation must leave the old snapshot serving.
	broken := testClients(t)
	broken[0].SecretHash = nil
	_, err = reg.Replace(broken, testScopes(), testIdentityResources())
	require.Error(t, err)
	assert.Equal(t, after.Version(), reg.Snapshot().Version())
}
