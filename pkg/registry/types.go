// SPDX-FileCopyrightText: Copyright 2025 Zoneid Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry holds the client, scope and identity resource configuration
// of the authorization server. Registrations happen out-of-band; at runtime the
// registry is read-mostly and exposed as immutable snapshots.
package registry

import (
	"slices"
	"time"
)

// Grant type identifiers from RFC 6749.
const (
	GrantTypeClientCredentials = "client_credentials"
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
)

// Well-known scope names from OIDC Core.
const (
	ScopeOpenID        = "openid"
	ScopeProfile       = "profile"
	ScopeOfflineAccess = "offline_access"
)

// Default token lifetimes applied when a client does not configure its own.
const (
	DefaultAccessTokenTTL  = time.Hour
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
	DefaultIDTokenTTL      = 5 * time.Minute
)

// Client is a registered OAuth client. Clients are immutable per request;
// changing a client produces a new registry snapshot.
type Client struct {
	// ID is the client identifier presented in grant requests.
	ID string

	// Name is a human-readable display name.
	Name string

	// SecretHash is the bcrypt hash of the client secret.
	// Empty for public clients, which cannot use confidential grants.
	SecretHash []byte

	// GrantTypes lists the grant types this client may use.
	GrantTypes []string

	// Scopes lists the scope names this client may request.
	Scopes []string

	// RedirectURIs are the exact-match callback URLs for the code flow.
	RedirectURIs []string

	// AllowOfflineAccess permits issuing refresh tokens to this client.
	AllowOfflineAccess bool

	// Public marks a client without a secret (e.g. SPA / native app).
	Public bool

	// AccessTokenTTL overrides DefaultAccessTokenTTL when non-zero.
	AccessTokenTTL time.Duration

	// RefreshTokenTTL overrides DefaultRefreshTokenTTL when non-zero.
	RefreshTokenTTL time.Duration

	// IDTokenTTL overrides DefaultIDTokenTTL when non-zero.
	IDTokenTTL time.Duration
}

// AllowsGrantType reports whether the client may use the given grant type.
func (c *Client) AllowsGrantType(grantType string) bool {
	return slices.Contains(c.GrantTypes, grantType)
}

// AllowsScopes reports whether every requested scope is in the client's
// allowed set. An empty request is trivially allowed.
func (c *Client) AllowsScopes(requested []string) bool {
	for _, s := range requested {
		if !slices.Contains(c.Scopes, s) {
			return false
		}
	}
	return true
}

// AllowsRedirectURI reports whether the URI exactly matches a registered
// redirect URI. Exact matching only, per the OAuth 2.0 security BCP.
func (c *Client) AllowsRedirectURI(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

// AccessTokenLifetime returns the configured access token lifetime or the default.
func (c *Client) AccessTokenLifetime() time.Duration {
	if c.AccessTokenTTL > 0 {
		return c.AccessTokenTTL
	}
	return DefaultAccessTokenTTL
}

// RefreshTokenLifetime returns the configured refresh token lifetime or the default.
func (c *Client) RefreshTokenLifetime() time.Duration {
	if c.RefreshTokenTTL > 0 {
		return c.RefreshTokenTTL
	}
	return DefaultRefreshTokenTTL
}

// IDTokenLifetime returns the configured ID token lifetime or the default.
func (c *Client) IDTokenLifetime() time.Duration {
	if c.IDTokenTTL > 0 {
		return c.IDTokenTTL
	}
	return DefaultIDTokenTTL
}

// Scope is a named API capability a token can carry, optionally grouped under
// a resource identifier.
type Scope struct {
	// Name is the scope string clients request (e.g. "api1").
	Name string

	// Description is shown in discovery tooling; optional.
	Description string

	// Resource optionally groups the scope under an API resource identifier.
	Resource string
}

// IdentityResource is a named bundle of user claims exposed only to
// interactive flows, distinct from API scopes.
type IdentityResource struct {
	// Name is the identity scope string (e.g. "openid", "profile").
	Name string

	// DisplayName is a human-readable name; optional.
	DisplayName string

	// ClaimTypes are the user claim names released when this resource is granted.
	ClaimTypes []string
}
