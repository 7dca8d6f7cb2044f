// SPDX-FileCopyrightText: Copyright 2025 Zoneid Authors
// SPDX-License-Identifier: Apache-2.0

// Package issuer constructs and signs access and ID tokens.
// The issuer stamps the signing key identifier into the token header so
// validators can select the right verification key during rotation.
package issuer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/zoneauth/zoneid/pkg/keys"
	"github.com/zoneauth/zoneid/pkg/registry"
)

// IssuedToken is a freshly signed token together with its time bounds.
type IssuedToken struct {
	// Token is the compact JWT serialization.
	Token string

	// IssuedAt is the iat claim.
	IssuedAt time.Time

	// ExpiresAt is the exp claim.
	ExpiresAt time.Time

	// Scopes are the scope names embedded in the token.
	Scopes []string
}

// Lifetime returns the token's validity duration.
func (t *IssuedToken) Lifetime() time.Duration {
	return t.ExpiresAt.Sub(t.IssuedAt)
}

// Issuer mints signed tokens for a single issuer identity.
type Issuer struct {
	issuerURL string
	keys      keys.Provider
	now       func() time.Time
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithClock overrides the issuer's time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

// New creates an Issuer minting tokens with the given issuer URL, signed by
// the key provider's current key.
func New(issuerURL string, keyProvider keys.Provider, opts ...Option) *Issuer {
	i := &Issuer{
		issuerURL: issuerURL,
		keys:      keyProvider,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// IssuerURL returns the issuer identity stamped into tokens.
func (i *Issuer) IssuerURL() string {
	return i.issuerURL
}

// IssueAccessToken mints an access token for the client.
// Subject is empty for client-credential tokens; the sub claim is omitted in
// that case. Scopes become the space-delimited scope claim per RFC 9068.
// Expiry is issuedAt plus the client's configured access token lifetime.
func (i *Issuer) IssueAccessToken(
	ctx context.Context,
	client *registry.Client,
	subject string,
	scopes []string,
	audiences []string,
) (*IssuedToken, error) {
	now := i.now().UTC()
	expiresAt := now.Add(client.AccessTokenLifetime())

	claims := jwt.MapClaims{
		"iss":       i.issuerURL,
		"client_id": client.ID,
		"jti":       uuid.NewString(),
		"iat":       jwt.NewNumericDate(now),
		"nbf":       jwt.NewNumericDate(now),
		"exp":       jwt.NewNumericDate(expiresAt),
		"scope":     strings.Join(scopes, " "),
	}
	if subject != "" {
		claims["sub"] = subject
	}
	if len(audiences) > 0 {
		claims["aud"] = audiences
	}

	token, err := i.sign(ctx, claims)
	if err != nil {
		return nil, err
	}

	return &IssuedToken{
		Token:     token,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
		Scopes:    scopes,
	}, nil
}

// IssueIDToken mints an ID token for an interactive grant. The audience is
// the requesting client, and identity-resource claims are embedded only
// because a subject is present; machine-to-machine grants never receive
// ID tokens.
func (i *Issuer) IssueIDToken(
	ctx context.Context,
	client *registry.Client,
	subject string,
	identityClaims map[string]any,
	nonce string,
) (*IssuedToken, error) {
	if subject == "" {
		return nil, fmt.Errorf("ID token requires a subject")
	}

	now := i.now().UTC()
	expiresAt := now.Add(client.IDTokenLifetime())

	claims := jwt.MapClaims{
		"iss": i.issuerURL,
		"sub": subject,
		"aud": client.ID,
		"iat": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(expiresAt),
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}
	for name, value := range identityClaims {
		// Registered claims always win over identity resource claims.
		if _, reserved := claims[name]; !reserved {
			claims[name] = value
		}
	}

	token, err := i.sign(ctx, claims)
	if err != nil {
		return nil, err
	}

	return &IssuedToken{
		Token:     token,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}, nil
}

func (i *Issuer) sign(ctx context.Context, claims jwt.MapClaims) (string, error) {
	signingKey, err := i.keys.SigningKey(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get signing key: %w", err)
	}

	method := jwt.GetSigningMethod(signingKey.Algorithm)
	if method == nil {
		return "", fmt.Errorf("unsupported signing algorithm %q", signingKey.Algorithm)
	}

	token := jwt.NewWithClaims(method, claims)
	token.Header["kid"] = signingKey.KeyID

	signed, err := token.SignedString(signingKey.Key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
