// SPDX-FileCopyrightText: Copyright 2025 Zoneid Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth provides bearer token validation for resource servers and for
// the authorization server's own protected endpoints.
package auth

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ClaimSet is the validated claim content of a token, ready for policy
// evaluation. It is a pure value: validating the same token twice yields
// equal claim sets.
type ClaimSet struct {
	// Issuer is the iss claim.
	Issuer string

	// Subject is the sub claim; empty for client-credential tokens.
	Subject string

	// ClientID is the client_id claim.
	ClientID string

	// Audience is the aud claim (zero or more values).
	Audience []string

	// Scopes is the parsed scope claim.
	Scopes []string

	// IssuedAt is the iat claim.
	IssuedAt time.Time

	// ExpiresAt is the exp claim.
	ExpiresAt time.Time

	// Raw is the full claim map for downstream consumers that need claims
	// not modeled above.
	Raw jwt.MapClaims
}

// Authenticated reports whether the token carries a user subject.
// Client-credential tokens have no subject and are not user-authenticated.
func (c *ClaimSet) Authenticated() bool {
	return c.Subject != ""
}

// HasScope reports whether the token's scope set contains the given scope.
func (c *ClaimSet) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// Claim returns the raw claim value by name.
func (c *ClaimSet) Claim(name string) (any, bool) {
	v, ok := c.Raw[name]
	return v, ok
}

// newClaimSet shapes raw JWT claims into a ClaimSet.
func newClaimSet(claims jwt.MapClaims) (*ClaimSet, error) {
	cs := &ClaimSet{Raw: claims}

	issuer, err := claims.GetIssuer()
	if err != nil {
		return nil, fmt.Errorf("failed to read issuer claim: %w", err)
	}
	cs.Issuer = issuer

	subject, err := claims.GetSubject()
	if err == nil {
		cs.Subject = subject
	}

	if audiences, err := claims.GetAudience(); err == nil {
		cs.Audience = audiences
	}

	if clientID, ok := claims["client_id"].(string); ok {
		cs.ClientID = clientID
	}

	cs.Scopes = parseScopeClaim(claims["scope"])

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		cs.ExpiresAt = exp.Time
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		cs.IssuedAt = iat.Time
	}

	return cs, nil
}

// parseScopeClaim accepts both the RFC 9068 space-delimited string form and
// the array form some issuers emit.
func parseScopeClaim(claim any) []string {
	switch v := claim.(type) {
	case string:
		if v == "" {
			return nil
		}
		return strings.Fields(v)
	case []any:
		scopes := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				scopes = append(scopes, s)
			}
		}
		return scopes
	case []string:
		return slices.Clone(v)
	default:
		return nil
	}
}
