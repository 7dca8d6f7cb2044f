// SPDX-FileCopyrightText: Copyright 2025 Zoneid Authors
// SPDX-License-Identifier: Apache-2.0

package grants

import "errors"

// Grant processing errors. Each maps to exactly one OAuth2 wire error code
// at the token endpoint; see pkg/server for the HTTP mapping.
var (
	// ErrInvalidClient means client authentication failed: unknown client,
	// wrong secret, or a missing secret for a confidential client.
	ErrInvalidClient = errors.New("client authentication failed")

	// ErrUnauthorizedClient means the client authenticated but is not
	// allowed to use the requested grant type.
	ErrUnauthorizedClient = errors.New("client is not authorized for this grant type")

	// ErrInvalidScope means a requested scope is unknown or not allowed
	// for the client.
	ErrInvalidScope = errors.New("invalid scope")

	// ErrInvalidGrant means the presented grant is unusable: an unknown,
	// expired or already redeemed code or refresh token, or one bound to
	// a different client or redirect URI.
	ErrInvalidGrant = errors.New("invalid grant")

	// ErrUnsupportedGrantType means the grant_type value is not one the
	// server implements.
	ErrUnsupportedGrantType = errors.New("unsupported grant type")
)
