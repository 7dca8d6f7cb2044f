// SPDX-FileCopyrightText: Copyright 2025 Zoneid Authors
// SPDX-License-Identifier: Apache-2.0

// Package grants implements the OAuth2 grant processor behind the token
// endpoint. It authenticates clients, validates requested scopes against the
// registry snapshot, redeems authorization codes and refresh tokens against
// the store, and asks the issuer for the resulting tokens.
package grants

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/zoneauth/zoneid/pkg/issuer"
	"github.com/zoneauth/zoneid/pkg/logger"
	"github.com/zoneauth/zoneid/pkg/registry"
	"github.com/zoneauth/zoneid/pkg/storage"
	"github.com/zoneauth/zoneid/pkg/users"
)

// Request is a parsed token endpoint request. Client credentials arrive
// either via HTTP Basic auth or form fields; the transport layer normalizes
// both into ClientID/ClientSecret before calling Process.
type Request struct {
	GrantType    string
	ClientID     string
	ClientSecret string

	// Scopes are the requested scope names. Empty means "everything the
	// client is allowed", for the client credentials grant.
	Scopes []string

	// Code and RedirectURI are set for the authorization code grant.
	Code        string
	RedirectURI string

	// RefreshToken is set for the refresh token grant.
	RefreshToken string
}

// Response is a successful token endpoint response body.
type Response struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// SnapshotSource yields the current registry snapshot. *registry.Registry
// satisfies it.
type SnapshotSource interface {
	Snapshot() *registry.Snapshot
}

// Processor executes token endpoint grants.
type Processor struct {
	registry SnapshotSource
	issuer   *issuer.Issuer
	store    storage.Store
	users    users.Store

	rotateRefreshTokens bool
	now                 func() time.Time
}

// Option configures a Processor.
type Option func(*Processor)

// WithoutRefreshTokenRotation keeps refresh tokens valid across uses instead
// of replacing them on every redemption.
func WithoutRefreshTokenRotation() Option {
	return func(p *Processor) {
		p.rotateRefreshTokens = false
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		p.now = now
	}
}

// NewProcessor creates a grant processor over the given collaborators.
// userStore may be nil when only the client credentials grant is served.
func NewProcessor(
	reg SnapshotSource,
	iss *issuer.Issuer,
	store storage.Store,
	userStore users.Store,
	opts ...Option,
) *Processor {
	p := &Processor{
		registry:            reg,
		issuer:              iss,
		store:               store,
		users:               userStore,
		rotateRefreshTokens: true,
		now:                 time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process dispatches a token endpoint request to its grant handler.
func (p *Processor) Process(ctx context.Context, req *Request) (*Response, error) {
	switch req.GrantType {
	case registry.GrantTypeClientCredentials:
		return p.clientCredentials(ctx, req)
	case registry.GrantTypeAuthorizationCode:
		return p.authorizationCode(ctx, req)
	case registry.GrantTypeRefreshToken:
		return p.refreshToken(ctx, req)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedGrantType, req.GrantType)
	}
}

// clientCredentials implements the client credentials grant: a confidential
// client trades its secret for a subject-less access token.
func (p *Processor) clientCredentials(ctx context.Context, req *Request) (*Response, error) {
	snap := p.registry.Snapshot()

	client, err := p.authenticateClient(snap, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}
	if client.Public {
		// The grant requires client authentication, which public
		// clients cannot perform.
		return nil, fmt.Errorf("%w: public client %q", ErrUnauthorizedClient, client.ID)
	}
	if !client.AllowsGrantType(registry.GrantTypeClientCredentials) {
		return nil, fmt.Errorf("%w: %q", ErrUnauthorizedClient, client.ID)
	}

	scopes := req.Scopes
	if len(scopes) == 0 {
		scopes = machineScopes(snap, client)
	}
	if err := validateScopes(snap, client, scopes); err != nil {
		return nil, err
	}
	for _, scope := range scopes {
		if snap.IdentityResource(scope) != nil || scope == registry.ScopeOfflineAccess {
			// Identity scopes only make sense with a user present.
			return nil, fmt.Errorf("%w: %q requires an interactive grant", ErrInvalidScope, scope)
		}
	}

	token, err := p.issuer.IssueAccessToken(ctx, client, "", scopes, audiencesFor(snap, scopes))
	if err != nil {
		return nil, fmt.Errorf("issuing access token: %w", err)
	}

	logger.Debugw("client credentials grant completed",
		"client_id", client.ID,
		"scopes", scopes)

	return &Response{
		AccessToken: token.Token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(token.Lifetime().Seconds()),
		Scope:       strings.Join(scopes, " "),
	}, nil
}

// authorizationCode implements the authorization code grant: the client
// redeems a single-use code minted by the authorize endpoint.
func (p *Processor) authorizationCode(ctx context.Context, req *Request) (*Response, error) {
	snap := p.registry.Snapshot()

	client, err := p.authenticateClient(snap, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}
	if !client.AllowsGrantType(registry.GrantTypeAuthorizationCode) {
		return nil, fmt.Errorf("%w: %q", ErrUnauthorizedClient, client.ID)
	}
	if req.Code == "" {
		return nil, fmt.Errorf("%w: missing code", ErrInvalidGrant)
	}

	code, err := p.store.RedeemCode(ctx, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrCodeAlreadyRedeemed):
			logger.Warnw("authorization code replay detected",
				"client_id", req.ClientID)
			return nil, fmt.Errorf("%w: code already redeemed", ErrInvalidGrant)
		case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrExpired):
			return nil, fmt.Errorf("%w: code is unknown or expired", ErrInvalidGrant)
		default:
			return nil, fmt.Errorf("redeeming code: %w", err)
		}
	}

	if code.ClientID != client.ID {
		return nil, fmt.Errorf("%w: code was issued to a different client", ErrInvalidGrant)
	}
	if code.RedirectURI != req.RedirectURI {
		return nil, fmt.Errorf("%w: redirect_uri mismatch", ErrInvalidGrant)
	}

	access, err := p.issuer.IssueAccessToken(ctx, client, code.Subject, code.Scopes, audiencesFor(snap, code.Scopes))
	if err != nil {
		return nil, fmt.Errorf("issuing access token: %w", err)
	}

	resp := &Response{
		AccessToken: access.Token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(access.Lifetime().Seconds()),
		Scope:       strings.Join(code.Scopes, " "),
	}

	if slices.Contains(code.Scopes, registry.ScopeOpenID) {
		idToken, err := p.issueIDToken(ctx, snap, client, code)
		if err != nil {
			return nil, err
		}
		resp.IDToken = idToken
	}

	if client.AllowOfflineAccess && slices.Contains(code.Scopes, registry.ScopeOfflineAccess) {
		refresh, err := p.mintRefreshToken(ctx, client, code.Subject, code.Scopes)
		if err != nil {
			return nil, err
		}
		resp.RefreshToken = refresh
	}

	logger.Debugw("authorization code grant completed",
		"client_id", client.ID,
		"subject", code.Subject,
		"scopes", code.Scopes)

	return resp, nil
}

// refreshToken implements the refresh token grant. With rotation enabled
// (the default) the presented token is consumed and a replacement returned.
func (p *Processor) refreshToken(ctx context.Context, req *Request) (*Response, error) {
	snap := p.registry.Snapshot()

	client, err := p.authenticateClient(snap, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}
	if !client.AllowsGrantType(registry.GrantTypeRefreshToken) && !client.AllowOfflineAccess {
		return nil, fmt.Errorf("%w: %q", ErrUnauthorizedClient, client.ID)
	}
	if req.RefreshToken == "" {
		return nil, fmt.Errorf("%w: missing refresh_token", ErrInvalidGrant)
	}

	var rt *storage.RefreshToken
	if p.rotateRefreshTokens {
		rt, err = p.store.RedeemRefreshToken(ctx, req.RefreshToken)
	} else {
		rt, err = p.store.GetRefreshToken(ctx, req.RefreshToken)
	}
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrExpired) {
			return nil, fmt.Errorf("%w: refresh token is unknown or expired", ErrInvalidGrant)
		}
		return nil, fmt.Errorf("loading refresh token: %w", err)
	}

	if rt.ClientID != client.ID {
		// With rotation the token is already gone, which is the safe
		// outcome for a token presented by the wrong client.
		return nil, fmt.Errorf("%w: refresh token was issued to a different client", ErrInvalidGrant)
	}

	access, err := p.issuer.IssueAccessToken(ctx, client, rt.Subject, rt.Scopes, audiencesFor(snap, rt.Scopes))
	if err != nil {
		return nil, fmt.Errorf("issuing access token: %w", err)
	}

	resp := &Response{
		AccessToken: access.Token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(access.Lifetime().Seconds()),
		Scope:       strings.Join(rt.Scopes, " "),
	}

	if p.rotateRefreshTokens {
		replacement, err := p.mintRefreshToken(ctx, client, rt.Subject, rt.Scopes)
		if err != nil {
			return nil, err
		}
		resp.RefreshToken = replacement
	}

	logger.Debugw("refresh token grant completed",
		"client_id", client.ID,
		"subject", rt.Subject,
		"rotated", p.rotateRefreshTokens)

	return resp, nil
}

// authenticateClient resolves and authenticates the client. Confidential
// clients must present the correct secret; public clients must present none.
func (p *Processor) authenticateClient(snap *registry.Snapshot, clientID, clientSecret string) (*registry.Client, error) {
	if clientID == "" {
		return nil, fmt.Errorf("%w: missing client_id", ErrInvalidClient)
	}

	client := snap.Client(clientID)
	if client == nil {
		// Burn a compare so unknown clients cost the same as wrong
		// secrets.
		_ = bcrypt.CompareHashAndPassword(dummySecretHash, []byte(clientSecret))
		return nil, fmt.Errorf("%w: unknown client %q", ErrInvalidClient, clientID)
	}

	if client.Public {
		if clientSecret != "" {
			return nil, fmt.Errorf("%w: public client %q must not send a secret", ErrInvalidClient, clientID)
		}
		return client, nil
	}

	if err := bcrypt.CompareHashAndPassword(client.SecretHash, []byte(clientSecret)); err != nil {
		return nil, fmt.Errorf("%w: secret mismatch for %q", ErrInvalidClient, clientID)
	}
	return client, nil
}

// issueIDToken resolves the user's identity claims for the granted identity
// scopes and issues the ID token.
func (p *Processor) issueIDToken(ctx context.Context, snap *registry.Snapshot, client *registry.Client, code *storage.AuthorizationCode) (string, error) {
	identityClaims := map[string]any{}
	if p.users != nil {
		user, err := p.users.Lookup(ctx, code.Subject)
		if err != nil && !errors.Is(err, users.ErrNotFound) {
			return "", fmt.Errorf("resolving identity claims: %w", err)
		}
		if user != nil {
			identityClaims = user.ClaimsFor(snap.IdentityClaimsFor(code.Scopes))
		}
	}

	idToken, err := p.issuer.IssueIDToken(ctx, client, code.Subject, identityClaims, code.Nonce)
	if err != nil {
		return "", fmt.Errorf("issuing ID token: %w", err)
	}
	return idToken.Token, nil
}

// mintRefreshToken stores and returns a new opaque refresh token.
func (p *Processor) mintRefreshToken(ctx context.Context, client *registry.Client, subject string, scopes []string) (string, error) {
	now := p.now()
	rt := &storage.RefreshToken{
		Token:     newOpaqueToken(),
		ClientID:  client.ID,
		Subject:   subject,
		Scopes:    slices.Clone(scopes),
		CreatedAt: now,
		ExpiresAt: now.Add(client.RefreshTokenLifetime()),
	}
	if err := p.store.PutRefreshToken(ctx, rt); err != nil {
		return "", fmt.Errorf("storing refresh token: %w", err)
	}
	return rt.Token, nil
}

// validateScopes checks that every requested scope is registered and allowed
// for the client.
func validateScopes(snap *registry.Snapshot, client *registry.Client, scopes []string) error {
	for _, scope := range scopes {
		if scope != registry.ScopeOfflineAccess &&
			snap.Scope(scope) == nil && snap.IdentityResource(scope) == nil {
			return fmt.Errorf("%w: unknown scope %q", ErrInvalidScope, scope)
		}
	}
	if !client.AllowsScopes(scopes) {
		return fmt.Errorf("%w: client %q is not allowed the requested scopes", ErrInvalidScope, client.ID)
	}
	return nil
}

// machineScopes returns the client's allowed API scopes, excluding identity
// resources and offline_access. Used when a client credentials request names
// no scopes.
func machineScopes(snap *registry.Snapshot, client *registry.Client) []string {
	scopes := make([]string, 0, len(client.Scopes))
	for _, scope := range client.Scopes {
		if scope == registry.ScopeOfflineAccess || snap.IdentityResource(scope) != nil {
			continue
		}
		scopes = append(scopes, scope)
	}
	return scopes
}

// audiencesFor collects the distinct resource names backing the granted API
// scopes, in sorted order.
func audiencesFor(snap *registry.Snapshot, scopes []string) []string {
	seen := map[string]struct{}{}
	for _, name := range scopes {
		scope := snap.Scope(name)
		if scope == nil || scope.Resource == "" {
			continue
		}
		seen[scope.Resource] = struct{}{}
	}
	audiences := make([]string, 0, len(seen))
	for resource := range seen {
		audiences = append(audiences, resource)
	}
	slices.Sort(audiences)
	return audiences
}

// newOpaqueToken returns a 256-bit random URL-safe token.
func newOpaqueToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

var dummySecretHash = mustHashSecret("not-a-real-secret")

func mustHashSecret(secret string) []byte {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return hash
}
