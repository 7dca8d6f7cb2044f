// SPDX-FileCopyrightText: Copyright 2025 Zoneid Authors
// SPDX-License-Identifier: Apache-2.0

package grants

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/zoneauth/zoneid/pkg/logger"
	"github.com/zoneauth/zoneid/pkg/registry"
	"github.com/zoneauth/zoneid/pkg/storage"
)

// DefaultAuthorizationCodeTTL is how long a minted code stays redeemable.
const DefaultAuthorizationCodeTTL = 5 * time.Minute

// AuthorizationRequest is a validated front-channel authorization request.
type AuthorizationRequest struct {
	Client      *registry.Client
	RedirectURI string
	Scopes      []string
	State       string
	Nonce       string
}

// ValidateAuthorizationRequest checks an incoming authorize request against
// the registry. Errors here must not redirect to the redirect_uri, since the
// URI itself may be the invalid part.
func (p *Processor) ValidateAuthorizationRequest(
	responseType, clientID, redirectURI string,
	scopes []string,
	state, nonce string,
) (*AuthorizationRequest, error) {
	snap := p.registry.Snapshot()

	if responseType != "code" {
		return nil, fmt.Errorf("%w: response_type %q", ErrUnsupportedGrantType, responseType)
	}

	client := snap.Client(clientID)
	if client == nil {
		return nil, fmt.Errorf("%w: unknown client %q", ErrInvalidClient, clientID)
	}
	if !client.AllowsGrantType(registry.GrantTypeAuthorizationCode) {
		return nil, fmt.Errorf("%w: %q", ErrUnauthorizedClient, clientID)
	}
	if !client.AllowsRedirectURI(redirectURI) {
		return nil, fmt.Errorf("%w: redirect_uri %q is not registered", ErrInvalidGrant, redirectURI)
	}

	if len(scopes) == 0 {
		return nil, fmt.Errorf("%w: no scopes requested", ErrInvalidScope)
	}
	if err := validateScopes(snap, client, scopes); err != nil {
		return nil, err
	}
	if slices.Contains(scopes, registry.ScopeOfflineAccess) && !client.AllowOfflineAccess {
		return nil, fmt.Errorf("%w: client %q may not request offline_access", ErrInvalidScope, clientID)
	}

	return &AuthorizationRequest{
		Client:      client,
		RedirectURI: redirectURI,
		Scopes:      slices.Clone(scopes),
		State:       state,
		Nonce:       nonce,
	}, nil
}

// MintAuthorizationCode stores and returns a single-use code binding the
// authenticated subject to the validated request.
func (p *Processor) MintAuthorizationCode(ctx context.Context, req *AuthorizationRequest, subject string) (string, error) {
	now := p.now()
	code := &storage.AuthorizationCode{
		Code:        newOpaqueToken(),
		ClientID:    req.Client.ID,
		RedirectURI: req.RedirectURI,
		Subject:     subject,
		Scopes:      slices.Clone(req.Scopes),
		Nonce:       req.Nonce,
		CreatedAt:   now,
		ExpiresAt:   now.Add(DefaultAuthorizationCodeTTL),
	}
	if err := p.store.PutCode(ctx, code); err != nil {
		return "", fmt.Errorf("storing authorization code: %w", err)
	}

	logger.Debugw("authorization code minted",
		"client_id", req.Client.ID,
		"subject", subject,
		"scopes", req.Scopes)

	return code.Code, nil
}
