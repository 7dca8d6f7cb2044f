// SPDX-FileCopyrightText: Copyright 2025 Zoneid Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/zoneauth/zoneid/pkg/auth"
	"github.com/zoneauth/zoneid/pkg/grants"
	"github.com/zoneauth/zoneid/pkg/issuer"
	"github.com/zoneauth/zoneid/pkg/keys"
	"github.com/zoneauth/zoneid/pkg/registry"
	"github.com/zoneauth/zoneid/pkg/server"
	"github.com/zoneauth/zoneid/pkg/sessions"
	"github.com/zoneauth/zoneid/pkg/storage"
	"github.com/zoneauth/zoneid/pkg/users"
)

const testSecret = "secret"

type identityServer struct {
	url       string
	processor *grants.Processor
}

// startIdentityServer runs a complete identity server on a loopback listener.
// The issuer URL is only known once the listener is up, so the handler is
// swapped in after construction. A wrap middleware, when given, fronts the
// router.
func startIdentityServer(t *testing.T, wrap ...func(http.Handler) http.Handler) *identityServer {
	t.Helper()

	var handler atomic.Pointer[http.Handler]
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		(*handler.Load()).ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)

	secretHash, err := bcrypt.GenerateFromPassword([]byte(testSecret), bcrypt.MinCost)
	require.NoError(t, err)

	snap, err := registry.NewSnapshot(
		[]*registry.Client{
			{
				ID:         "client",
				SecretHash: secretHash,
				GrantTypes: []string{registry.GrantTypeClientCredentials},
				Scopes:     []string{"api1"},
			},
			{
				ID:                 "mvc",
				SecretHash:         secretHash,
				GrantTypes:         []string{registry.GrantTypeAuthorizationCode, registry.GrantTypeRefreshToken},
				Scopes:             []string{registry.ScopeOpenID, registry.ScopeProfile, "api1", registry.ScopeOfflineAccess},
				RedirectURIs:       []string{"http://localhost:5002/signin-oidc"},
				AllowOfflineAccess: true,
			},
		},
		[]*registry.Scope{{Name: "api1", Resource: "api1"}},
		[]*registry.IdentityResource{
			{Name: registry.ScopeOpenID, ClaimTypes: []string{"sub"}},
			{Name: registry.ScopeProfile, ClaimTypes: []string{"name"}},
		},
	)
	require.NoError(t, err)
	reg := registry.New(snap)

	provider := keys.NewGeneratingProvider(keys.DefaultAlgorithm)
	iss := issuer.New(ts.URL, provider)

	store := storage.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	userStore := users.NewMemoryStore(&users.User{
		Subject:  "1",
		Username: "alice",
		Claims:   map[string]any{"name": "Alice Smith"},
	})

	processor := grants.NewProcessor(reg, iss, store, userStore)

	srv := server.New(
		ts.URL,
		reg,
		processor,
		provider,
		auth.NewValidator(auth.NewLocalKeySource(provider), ts.URL),
		userStore,
		sessions.NewMemoryStore(),
	)
	h := srv.Router()
	for _, w := range wrap {
		h = w(h)
	}
	handler.Store(&h)

	return &identityServer{url: ts.URL, processor: processor}
}

// mintCode performs the back half of the authorize endpoint directly, as if
// the user had signed in.
func (s *identityServer) mintCode(t *testing.T, scopes []string, nonce string) string {
	t.Helper()

	authReq, err := s.processor.ValidateAuthorizationRequest(
		"code", "mvc", "http://localhost:5002/signin-oidc", scopes, "st-1", nonce)
	require.NoError(t, err)

	code, err := s.processor.MintAuthorizationCode(context.Background(), authReq, "1")
	require.NoError(t, err)
	return code
}

func TestDiscoverAndClientCredentials(t *testing.T) {
	t.Parallel()

	ids := startIdentityServer(t)
	ctx := context.Background()

	agent, err := Discover(ctx, Config{
		IssuerURL:    ids.url,
		ClientID:     "client",
		ClientSecret: testSecret,
		Scopes:       []string{"api1"},
	})
	require.NoError(t, err)

	token, err := agent.Token(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, token.AccessToken)
	assert.Equal(t, "Bearer", token.TokenType)
	assert.True(t, token.Expiry.After(time.Now()))

	// A second call reuses the cached token.
	again, err := agent.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, token.AccessToken, again.AccessToken)
}

func TestDiscoverRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	// The first two discovery fetches fail, the third succeeds.
	var calls atomic.Int32
	flaky := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) <= 2 {
				http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	ids := startIdentityServer(t, flaky)

	_, err := Discover(context.Background(), Config{
		IssuerURL: ids.url,
		ClientID:  "client",
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestDiscoverUnreachableIssuer(t *testing.T) {
	t.Parallel()

	// A listener that is already closed refuses connections immediately.
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := ts.URL
	ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Discover(ctx, Config{IssuerURL: url, ClientID: "client"})
	require.ErrorIs(t, err, ErrNetwork)
}

func TestAuthorizationCodeExchange(t *testing.T) {
	t.Parallel()

	ids := startIdentityServer(t)
	ctx := context.Background()

	agent, err := Discover(ctx, Config{
		IssuerURL:    ids.url,
		ClientID:     "mvc",
		ClientSecret: testSecret,
		Scopes:       []string{"openid", "profile", "api1", "offline_access"},
		RedirectURL:  "http://localhost:5002/signin-oidc",
	})
	require.NoError(t, err)

	authURL := agent.AuthCodeURL("st-1", "n-1")
	assert.Contains(t, authURL, ids.url)
	assert.Contains(t, authURL, "nonce=n-1")

	code := ids.mintCode(t, []string{"openid", "profile", "api1", "offline_access"}, "n-1")

	identity, err := agent.Exchange(ctx, code, "n-1")
	require.NoError(t, err)

	assert.Equal(t, "1", identity.Subject)
	assert.NotEmpty(t, identity.AccessToken)
	assert.NotEmpty(t, identity.IDToken)
	assert.NotEmpty(t, identity.RefreshToken)
	assert.Equal(t, "Alice Smith", identity.Claims["name"])
}

func TestExchangeRejectsNonceMismatch(t *testing.T) {
	t.Parallel()

	ids := startIdentityServer(t)
	ctx := context.Background()

	agent, err := Discover(ctx, Config{
		IssuerURL:    ids.url,
		ClientID:     "mvc",
		ClientSecret: testSecret,
		Scopes:       []string{"openid"},
		RedirectURL:  "http://localhost:5002/signin-oidc",
	})
	require.NoError(t, err)

	code := ids.mintCode(t, []string{"openid"}, "n-issued")

	_, err = agent.Exchange(ctx, code, "n-expected")
	require.ErrorIs(t, err, ErrIdentity)
}

func TestRefresh(t *testing.T) {
	t.Parallel()

	ids := startIdentityServer(t)
	ctx := context.Background()

	agent, err := Discover(ctx, Config{
		IssuerURL:    ids.url,
		ClientID:     "mvc",
		ClientSecret: testSecret,
		Scopes:       []string{"openid", "offline_access"},
		RedirectURL:  "http://localhost:5002/signin-oidc",
	})
	require.NoError(t, err)

	code := ids.mintCode(t, []string{"openid", "offline_access"}, "")
	identity, err := agent.Exchange(ctx, code, "")
	require.NoError(t, err)
	require.NotEmpty(t, identity.RefreshToken)

	refreshed, err := agent.Refresh(ctx, identity.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, refreshed.AccessToken)
	assert.NotEqual(t, identity.AccessToken, refreshed.AccessToken)

	// Rotation consumed the original refresh token.
	_, err = agent.Refresh(ctx, identity.RefreshToken)
	require.Error(t, err)
}

func TestUserInfo(t *testing.T) {
	t.Parallel()

	ids := startIdentityServer(t)
	ctx := context.Background()

	agent, err := Discover(ctx, Config{
		IssuerURL:    ids.url,
		ClientID:     "mvc",
		ClientSecret: testSecret,
		Scopes:       []string{"openid", "profile"},
		RedirectURL:  "http://localhost:5002/signin-oidc",
	})
	require.NoError(t, err)

	code := ids.mintCode(t, []string{"openid", "profile"}, "")
	identity, err := agent.Exchange(ctx, code, "")
	require.NoError(t, err)

	claims, err := agent.UserInfo(ctx, identity.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "1", claims["sub"])
	assert.Equal(t, "Alice Smith", claims["name"])
}
