// SPDX-FileCopyrightText: Copyright 2025 Zoneid Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Validation errors, one per failure mode. Each step of Validate fails with
// exactly one of these, so callers can map the failure precisely while
// keeping the wire response generic.
var (
	ErrNoToken           = errors.New("no token provided")
	ErrMalformedToken    = errors.New("malformed token")
	ErrUnknownKey        = errors.New("unknown signing key")
	ErrSignatureInvalid  = errors.New("token signature invalid")
	ErrTokenExpired      = errors.New("token expired")
	ErrNotYetValid       = errors.New("token not yet valid")
	ErrIssuerMismatch    = errors.New("token issuer mismatch")
	ErrInsufficientScope = errors.New("insufficient scope")
)

// DefaultClockSkew is the tolerance window applied to iat/nbf checks to
// absorb clock drift between issuer and validator.
const DefaultClockSkew = 5 * time.Minute

// Validator verifies bearer tokens: signature, time bounds, issuer and scope.
// Validation is pure and side-effect-free; it never mutates token or key
// state.
type Validator struct {
	source    KeySource
	issuer    string
	clockSkew time.Duration
	now       func() time.Time
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithClockSkew overrides the iat/nbf tolerance window.
func WithClockSkew(skew time.Duration) ValidatorOption {
	return func(v *Validator) {
		v.clockSkew = skew
	}
}

// WithClock overrides the validator's time source. Intended for tests.
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) {
		v.now = now
	}
}

// NewValidator creates a Validator that accepts tokens from expectedIssuer,
// verified against keys from the given source.
func NewValidator(source KeySource, expectedIssuer string, opts ...ValidatorOption) *Validator {
	v := &Validator{
		source:    source,
		issuer:    expectedIssuer,
		clockSkew: DefaultClockSkew,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateOption adjusts a single Validate call.
type ValidateOption func(*validateOptions)

type validateOptions struct {
	requiredScope string
	audience      string
}

// WithRequiredScope makes validation fail with ErrInsufficientScope unless
// the token's scope set contains the given scope.
func WithRequiredScope(scope string) ValidateOption {
	return func(o *validateOptions) {
		o.requiredScope = scope
	}
}

// WithAudience makes validation require the given audience value.
func WithAudience(audience string) ValidateOption {
	return func(o *validateOptions) {
		o.audience = audience
	}
}

// Validate verifies the token and returns its claim set.
// The checks run in a fixed order, each with its own failure mode:
// structure, key lookup, signature, expiry, not-before (with clock skew),
// issuer, then required scope.
func (v *Validator) Validate(ctx context.Context, tokenString string, opts ...ValidateOption) (*ClaimSet, error) {
	var options validateOptions
	for _, opt := range opts {
		opt(&options)
	}

	if tokenString == "" {
		return nil, ErrNoToken
	}

	// Claims validation is done explicitly below so every failure mode is
	// distinct; the parser only checks structure and signature.
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	token, err := parser.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return v.keyForToken(ctx, token)
	})
	if err != nil {
		return nil, classifyParseError(err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type", ErrMalformedToken)
	}

	claimSet, err := newClaimSet(claims)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	if err := v.validateTimeBounds(claimSet); err != nil {
		return nil, err
	}

	if claimSet.Issuer != v.issuer {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrIssuerMismatch, claimSet.Issuer, v.issuer)
	}

	if options.audience != "" && !containsAudience(claimSet.Audience, options.audience) {
		return nil, fmt.Errorf("%w: audience %q not present", ErrIssuerMismatch, options.audience)
	}

	if options.requiredScope != "" && !claimSet.HasScope(options.requiredScope) {
		return nil, fmt.Errorf("%w: scope %q not granted", ErrInsufficientScope, options.requiredScope)
	}

	return claimSet, nil
}

func (v *Validator) keyForToken(ctx context.Context, token *jwt.Token) (any, error) {
	kid, ok := token.Header["kid"].(string)
	if !ok || kid == "" {
		return nil, fmt.Errorf("%w: token header missing kid", ErrMalformedToken)
	}
	return v.source.VerificationKey(ctx, kid)
}

func (v *Validator) validateTimeBounds(claims *ClaimSet) error {
	now := v.now()

	if claims.ExpiresAt.IsZero() {
		return fmt.Errorf("%w: missing exp claim", ErrTokenExpired)
	}
	if !now.Before(claims.ExpiresAt) {
		return fmt.Errorf("%w: expired at %s", ErrTokenExpired, claims.ExpiresAt.Format(time.RFC3339))
	}

	// iat and nbf must not be in the future beyond the skew tolerance.
	if !claims.IssuedAt.IsZero() && claims.IssuedAt.After(now.Add(v.clockSkew)) {
		return fmt.Errorf("%w: issued at %s", ErrNotYetValid, claims.IssuedAt.Format(time.RFC3339))
	}
	if nbf, err := claims.Raw.GetNotBefore(); err == nil && nbf != nil {
		if nbf.After(now.Add(v.clockSkew)) {
			return fmt.Errorf("%w: not before %s", ErrNotYetValid, nbf.Format(time.RFC3339))
		}
	}

	return nil
}

// classifyParseError maps golang-jwt parse failures to this package's
// distinct failure modes. Key lookup errors pass through unchanged.
func classifyParseError(err error) error {
	switch {
	case errors.Is(err, ErrUnknownKey):
		return err
	case errors.Is(err, ErrMalformedToken):
		return err
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	default:
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
}

func containsAudience(audiences []string, want string) bool {
	for _, aud := range audiences {
		if aud == want {
			return true
		}
	}
	return false
}
