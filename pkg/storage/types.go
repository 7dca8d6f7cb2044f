// SPDX-FileCopyrightText: Copyright 2025 Zoneid Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage holds the mutable grant state of the authorization server:
// single-use authorization codes and rotating refresh tokens. Both require
// atomic check-and-invalidate semantics — two concurrent redemption attempts
// on the same record must yield exactly one winner.
package storage

import (
	"context"
	"errors"
	"slices"
	"time"
)

// Storage errors.
var (
	// ErrNotFound indicates the code or token does not exist (or expired
	// and was cleaned up).
	ErrNotFound = errors.New("not found")

	// ErrCodeAlreadyRedeemed indicates a second redemption attempt on a
	// code that has already been exchanged. Kept distinct from ErrNotFound
	// so replay attempts can be logged as such.
	ErrCodeAlreadyRedeemed = errors.New("authorization code already redeemed")

	// ErrExpired indicates the record exists but its validity window has
	// passed.
	ErrExpired = errors.New("expired")
)

// AuthorizationCode is a pending single-use code minted by the authorize
// endpoint and exchanged exactly once at the token endpoint.
type AuthorizationCode struct {
	// Code is the opaque code value handed to the client via redirect.
	Code string

	// ClientID is the client the code was issued for.
	ClientID string

	// RedirectURI is the exact redirect URI used in the authorization
	// request; the token request must present the same value.
	RedirectURI string

	// Subject is the authenticated user the code represents.
	Subject string

	// Scopes are the granted scope names.
	Scopes []string

	// Nonce is the client's OIDC nonce, echoed into the ID token.
	Nonce string

	// CreatedAt is when the code was minted.
	CreatedAt time.Time

	// ExpiresAt bounds the exchange window.
	ExpiresAt time.Time
}

func (c *AuthorizationCode) clone() *AuthorizationCode {
	if c == nil {
		return nil
	}
	dup := *c
	dup.Scopes = slices.Clone(c.Scopes)
	return &dup
}

// RefreshToken is server-side state for a long-lived grant, keyed by the
// opaque token value. Refresh tokens are the one mutable token kind: they are
// invalidated on use-once rotation or explicit revocation.
type RefreshToken struct {
	// Token is the opaque refresh token value.
	Token string

	// ClientID is the client the token belongs to.
	ClientID string

	// Subject is the user the token represents.
	Subject string

	// Scopes are the scope names granted to the original request.
	Scopes []string

	// CreatedAt is when this token (or rotation generation) was issued.
	CreatedAt time.Time

	// ExpiresAt bounds the token's lifetime.
	ExpiresAt time.Time
}

func (t *RefreshToken) clone() *RefreshToken {
	if t == nil {
		return nil
	}
	dup := *t
	dup.Scopes = slices.Clone(t.Scopes)
	return &dup
}

// CodeStore persists single-use authorization codes.
type CodeStore interface {
	// PutCode stores a freshly minted code.
	PutCode(ctx context.Context, code *AuthorizationCode) error

	// RedeemCode atomically fetches and invalidates the code.
	// Exactly one concurrent caller wins; the rest get
	// ErrCodeAlreadyRedeemed. Unknown codes yield ErrNotFound, expired
	// ones ErrExpired.
	RedeemCode(ctx context.Context, code string) (*AuthorizationCode, error)
}

// RefreshTokenStore persists refresh tokens with atomic rotation semantics.
type RefreshTokenStore interface {
	// PutRefreshToken stores a refresh token.
	PutRefreshToken(ctx context.Context, token *RefreshToken) error

	// GetRefreshToken returns the token without consuming it. Used when
	// rotation is disabled.
	GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	// RedeemRefreshToken atomically fetches and deletes the token for
	// use-once rotation. Exactly one concurrent caller wins; the rest get
	// ErrNotFound.
	RedeemRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	// RevokeRefreshToken deletes the token. Revoking an unknown token is
	// not an error.
	RevokeRefreshToken(ctx context.Context, token string) error
}

// Store combines the grant-state stores behind a single handle.
type Store interface {
	CodeStore
	RefreshTokenStore

	// Close releases backend resources.
	Close() error
}
