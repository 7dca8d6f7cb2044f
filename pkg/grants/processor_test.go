// SPDX-FileCopyrightText: Copyright 2025 Zoneid Authors
// SPDX-License-Identifier: Apache-2.0

package grants

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/zoneauth/zoneid/pkg/auth"
	"github.com/zoneauth/zoneid/pkg/issuer"
	"github.com/zoneauth/zoneid/pkg/keys"
	"github.com/zoneauth/zoneid/pkg/registry"
	"github.com/zoneauth/zoneid/pkg/storage"
	"github.com/zoneauth/zoneid/pkg/users"
)

const (
	testIssuerURL    = "https://id.example.com"
	testClientSecret = "secret"
	testUserPassword = "password"
)

type testEnv struct {
	registry  *registry.Registry
	processor *Processor
	validator *auth.Validator
	store     storage.Store
	users     *users.MemoryStore
}

func hash(t *testing.T, value string) []byte {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(value), bcrypt.MinCost)
	require.NoError(t, err)
	return h
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	secretHash := hash(t, testClientSecret)

	scopes := []*registry.Scope{
		{Name: "api1", Resource: "api1"},
		{Name: "api2", Resource: "api2"},
	}
	identityResources := []*registry.IdentityResource{
		{Name: registry.ScopeOpenID, ClaimTypes: []string{"sub"}},
		{Name: registry.ScopeProfile, ClaimTypes: []string{"name", "website"}},
	}
	clients := []*registry.Client{
		{
			ID:         "client",
			SecretHash: secretHash,
			GrantTypes: []string{registry.GrantTypeClientCredentials},
			Scopes:     []string{"api1", "api2"},
		},
		{
			ID:                 "mvc",
			SecretHash:         secretHash,
			GrantTypes:         []string{registry.GrantTypeAuthorizationCode, registry.GrantTypeRefreshToken},
			Scopes:             []string{registry.ScopeOpenID, registry.ScopeProfile, "api1", registry.ScopeOfflineAccess},
			RedirectURIs:       []string{"http://localhost:5002/signin-oidc"},
			AllowOfflineAccess: true,
		},
	}

	snap, err := registry.NewSnapshot(clients, scopes, identityResources)
	require.NoError(t, err)
	reg := registry.New(snap)

	provider := keys.NewGeneratingProvider(keys.DefaultAlgorithm)
	iss := issuer.New(testIssuerURL, provider)

	store := storage.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	userStore := users.NewMemoryStore(&users.User{
		Subject:      "1",
		Username:     "alice",
		PasswordHash: hash(t, testUserPassword),
		Claims: map[string]any{
			"name":    "Alice Smith",
			"website": "https://alice.example.com",
		},
	})

	return &testEnv{
		registry:  reg,
		processor: NewProcessor(reg, iss, store, userStore, opts...),
		validator: auth.NewValidator(auth.NewLocalKeySource(provider), testIssuerURL),
		store:     store,
		users:     userStore,
	}
}

// mintCode drives the authorize path: validates a front-channel request and
// mints a code for the given subject.
func (e *testEnv) mintCode(t *testing.T, scopes []string, nonce string) string {
	t.Helper()

	authReq, err := e.processor.ValidateAuthorizationRequest(
		"code", "mvc", "http://localhost:5002/signin-oidc", scopes, "st-1", nonce)
	require.NoError(t, err)

	code, err := e.processor.MintAuthorizationCode(context.Background(), authReq, "1")
	require.NoError(t, err)
	return code
}

func TestClientCredentialsGrant(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	resp, err := env.processor.Process(ctx, &Request{
		GrantType:    registry.GrantTypeClientCredentials,
		ClientID:     "client",
		ClientSecret: testClientSecret,
		Scopes:       []string{"api1"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, "api1", resp.Scope)
	assert.Empty(t, resp.RefreshToken)
	assert.Empty(t, resp.IDToken)
	assert.Positive(t, resp.ExpiresIn)

	claims, err := env.validator.Validate(ctx, resp.AccessToken, auth.WithAudience("api1"))
	require.NoError(t, err)
	assert.Equal(t, "client", claims.ClientID)
	assert.Empty(t, claims.Subject, "machine tokens carry no subject")
}

func TestClientCredentialsDefaultsToAllMachineScopes(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	resp, err := env.processor.Process(context.Background(), &Request{
		GrantType:    registry.GrantTypeClientCredentials,
		ClientID:     "client",
		ClientSecret: testClientSecret,
	})
	require.NoError(t, err)
	assert.Equal(t, "api1 api2", resp.Scope)
}

func TestClientCredentialsRejections(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	tests := []struct {
		name string
		req  *Request
		want error
	}{
		{
			name: "unknown client",
			req:  &Request{GrantType: registry.GrantTypeClientCredentials, ClientID: "nope", ClientSecret: "x"},
			want: ErrInvalidClient,
		},
		{
			name: "wrong secret",
			req:  &Request{GrantType: registry.GrantTypeClientCredentials, ClientID: "client", ClientSecret: "wrong"},
			want: ErrInvalidClient,
		},
		{
			name: "missing client id",
			req:  &Request{GrantType: registry.GrantTypeClientCredentials, ClientSecret: testClientSecret},
			want: ErrInvalidClient,
		},
		{
			name: "unknown scope",
			req: &Request{
				GrantType: registry.GrantTypeClientCredentials,
				ClientID:  "client", ClientSecret: testClientSecret,
				Scopes: []string{"api9"},
			},
			want: ErrInvalidScope,
		},
		{
			name: "scope not allowed for client",
			req: &Request{
				GrantType: registry.GrantTypeClientCredentials,
				ClientID:  "client", ClientSecret: testClientSecret,
				Scopes: []string{registry.ScopeOpenID},
			},
			want: ErrInvalidScope,
		},
		{
			name: "grant type not allowed",
			req: &Request{
				GrantType: registry.GrantTypeClientCredentials,
				ClientID:  "mvc", ClientSecret: testClientSecret,
			},
			want: ErrUnauthorizedClient,
		},
		{
			name: "unsupported grant type",
			req:  &Request{GrantType: "password", ClientID: "client", ClientSecret: testClientSecret},
			want: ErrUnsupportedGrantType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := env.processor.Process(context.Background(), tt.req)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAuthorizationCodeGrant(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	code := env.mintCode(t, []string{registry.ScopeOpenID, registry.ScopeProfile, "api1"}, "n-1")

	resp, err := env.processor.Process(ctx, &Request{
		GrantType:    registry.GrantTypeAuthorizationCode,
		ClientID:     "mvc",
		ClientSecret: testClientSecret,
		Code:         code,
		RedirectURI:  "http://localhost:5002/signin-oidc",
	})
	require.NoError(t, err)

	claims, err := env.validator.Validate(ctx, resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "1", claims.Subject)
	assert.Equal(t, "mvc", claims.ClientID)
	assert.ElementsMatch(t, []string{"openid", "profile", "api1"}, claims.Scopes)

	// openid was granted, so an ID token is present; offline_access was
	// not, so no refresh token.
	assert.NotEmpty(t, resp.IDToken)
	assert.Empty(t, resp.RefreshToken)
}

func TestAuthorizationCodeReplay(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	code := env.mintCode(t, []string{registry.ScopeOpenID}, "")

	req := &Request{
		GrantType:    registry.GrantTypeAuthorizationCode,
		ClientID:     "mvc",
		ClientSecret: testClientSecret,
		Code:         code,
		RedirectURI:  "http://localhost:5002/signin-oidc",
	}

	_, err := env.processor.Process(ctx, req)
	require.NoError(t, err)

	_, err = env.processor.Process(ctx, req)
	require.ErrorIs(t, err, ErrInvalidGrant)
}

func TestAuthorizationCodeSingleWinner(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	code := env.mintCode(t, []string{registry.ScopeOpenID}, "")

	const attempts = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, attempts)

	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.processor.Process(ctx, &Request{
				GrantType:    registry.GrantTypeAuthorizationCode,
				ClientID:     "mvc",
				ClientSecret: testClientSecret,
				Code:         code,
				RedirectURI:  "http://localhost:5002/signin-oidc",
			})
			if err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	assert.Len(t, wins, 1, "exactly one concurrent redemption must win")
}

func TestAuthorizationCodeRejections(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("redirect URI mismatch", func(t *testing.T) {
		code := env.mintCode(t, []string{registry.ScopeOpenID}, "")
		_, err := env.processor.Process(ctx, &Request{
			GrantType:    registry.GrantTypeAuthorizationCode,
			ClientID:     "mvc",
			ClientSecret: testClientSecret,
			Code:         code,
			RedirectURI:  "http://localhost:5002/other",
		})
		require.ErrorIs(t, err, ErrInvalidGrant)
	})

	t.Run("unknown code", func(t *testing.T) {
		_, err := env.processor.Process(ctx, &Request{
			GrantType:    registry.GrantTypeAuthorizationCode,
			ClientID:     "mvc",
			ClientSecret: testClientSecret,
			Code:         "never-minted",
			RedirectURI:  "http://localhost:5002/signin-oidc",
		})
		require.ErrorIs(t, err, ErrInvalidGrant)
	})

	t.Run("missing code", func(t *testing.T) {
		_, err := env.processor.Process(ctx, &Request{
			GrantType:    registry.GrantTypeAuthorizationCode,
			ClientID:     "mvc",
			ClientSecret: testClientSecret,
			RedirectURI:  "http://localhost:5002/signin-oidc",
		})
		require.ErrorIs(t, err, ErrInvalidGrant)
	})
}

func TestRefreshTokenGrantWithRotation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	code := env.mintCode(t, []string{registry.ScopeOpenID, "api1", registry.ScopeOfflineAccess}, "")

	first, err := env.processor.Process(ctx, &Request{
		GrantType:    registry.GrantTypeAuthorizationCode,
		ClientID:     "mvc",
		ClientSecret: testClientSecret,
		Code:         code,
		RedirectURI:  "http://localhost:5002/signin-oidc",
	})
	require.NoError(t, err)
	require.NotEmpty(t, first.RefreshToken)

	second, err := env.processor.Process(ctx, &Request{
		GrantType:    registry.GrantTypeRefreshToken,
		ClientID:     "mvc",
		ClientSecret: testClientSecret,
		RefreshToken: first.RefreshToken,
	})
	require.NoError(t, err)
	require.NotEmpty(t, second.RefreshToken)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken, "rotation must replace the token")

	claims, err := env.validator.Validate(ctx, second.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "1", claims.Subject)

	// The consumed refresh token is gone.
	_, err = env.processor.Process(ctx, &Request{
		GrantType:    registry.GrantTypeRefreshToken,
		ClientID:     "mvc",
		ClientSecret: testClientSecret,
		RefreshToken: first.RefreshToken,
	})
	require.ErrorIs(t, err, ErrInvalidGrant)

	// The replacement still works.
	_, err = env.processor.Process(ctx, &Request{
		GrantType:    registry.GrantTypeRefreshToken,
		ClientID:     "mvc",
		ClientSecret: testClientSecret,
		RefreshToken: second.RefreshToken,
	})
	require.NoError(t, err)
}

func TestRefreshTokenGrantWithoutRotation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, WithoutRefreshTokenRotation())
	ctx := context.Background()

	code := env.mintCode(t, []string{registry.ScopeOpenID, registry.ScopeOfflineAccess}, "")

	first, err := env.processor.Process(ctx, &Request{
		GrantType:    registry.GrantTypeAuthorizationCode,
		ClientID:     "mvc",
		ClientSecret: testClientSecret,
		Code:         code,
		RedirectURI:  "http://localhost:5002/signin-oidc",
	})
	require.NoError(t, err)
	require.NotEmpty(t, first.RefreshToken)

	for range 3 {
		resp, err := env.processor.Process(ctx, &Request{
			GrantType:    registry.GrantTypeRefreshToken,
			ClientID:     "mvc",
			ClientSecret: testClientSecret,
			RefreshToken: first.RefreshToken,
		})
		require.NoError(t, err)
		assert.Empty(t, resp.RefreshToken, "no replacement without rotation")
	}
}

func TestRefreshTokenWrongClient(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	code := env.mintCode(t, []string{registry.ScopeOpenID, registry.ScopeOfflineAccess}, "")
	resp, err := env.processor.Process(ctx, &Request{
		GrantType:    registry.GrantTypeAuthorizationCode,
		ClientID:     "mvc",
		ClientSecret: testClientSecret,
		Code:         code,
		RedirectURI:  "http://localhost:5002/signin-oidc",
	})
	require.NoError(t, err)

	// "client" authenticates fine but does not own the token.
	_, err = env.processor.Process(ctx, &Request{
		GrantType:    registry.GrantTypeRefreshToken,
		ClientID:     "client",
		ClientSecret: testClientSecret,
		RefreshToken: resp.RefreshToken,
	})
	require.ErrorIs(t, err, ErrInvalidGrant)
}

func TestIDTokenCarriesIdentityClaimsAndNonce(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	code := env.mintCode(t, []string{registry.ScopeOpenID, registry.ScopeProfile}, "n-42")

	resp, err := env.processor.Process(ctx, &Request{
		GrantType:    registry.GrantTypeAuthorizationCode,
		ClientID:     "mvc",
		ClientSecret: testClientSecret,
		Code:         code,
		RedirectURI:  "http://localhost:5002/signin-oidc",
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.IDToken)

	claims, err := env.validator.Validate(ctx, resp.IDToken, auth.WithAudience("mvc"))
	require.NoError(t, err)
	assert.Equal(t, "1", claims.Subject)

	nonce, ok := claims.Claim("nonce")
	require.True(t, ok)
	assert.Equal(t, "n-42", nonce)

	name, ok := claims.Claim("name")
	require.True(t, ok)
	assert.Equal(t, "Alice Smith", name)
}

func TestValidateAuthorizationRequestRejections(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	tests := []struct {
		name         string
		responseType string
		clientID     string
		redirectURI  string
		scopes       []string
		want         error
	}{
		{
			name:         "unsupported response type",
			responseType: "token",
			clientID:     "mvc",
			redirectURI:  "http://localhost:5002/signin-oidc",
			scopes:       []string{"openid"},
			want:         ErrUnsupportedGrantType,
		},
		{
			name:         "unknown client",
			responseType: "code",
			clientID:     "nope",
			redirectURI:  "http://localhost:5002/signin-oidc",
			scopes:       []string{"openid"},
			want:         ErrInvalidClient,
		},
		{
			name:         "unregistered redirect URI",
			responseType: "code",
			clientID:     "mvc",
			redirectURI:  "http://evil.example.com/cb",
			scopes:       []string{"openid"},
			want:         ErrInvalidGrant,
		},
		{
			name:         "no scopes",
			responseType: "code",
			clientID:     "mvc",
			redirectURI:  "http://localhost:5002/signin-oidc",
			want:         ErrInvalidScope,
		},
		{
			name:         "client not allowed code flow",
			responseType: "code",
			clientID:     "client",
			redirectURI:  "http://localhost:5002/signin-oidc",
			scopes:       []string{"api1"},
			want:         ErrUnauthorizedClient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := env.processor.ValidateAuthorizationRequest(
				tt.responseType, tt.clientID, tt.redirectURI, tt.scopes, "", "")
			require.ErrorIs(t, err, tt.want)
		})
	}
}
