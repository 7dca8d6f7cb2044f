// SPDX-FileCopyrightText: Copyright 2025 Zoneid Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/zoneauth/zoneid/pkg/auth"
	"github.com/zoneauth/zoneid/pkg/logger"
	"github.com/zoneauth/zoneid/pkg/registry"
	"github.com/zoneauth/zoneid/pkg/users"
)

// userInfoHandler handles GET and POST /connect/userinfo. The validator
// middleware has already verified the bearer token; this handler additionally
// requires the openid scope and releases only the claims the token's identity
// scopes cover.
func (s *Server) userInfoHandler(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok || !claims.Authenticated() {
		unauthorizedUserInfo(w, "invalid_token", "token has no subject")
		return
	}
	if !claims.HasScope(registry.ScopeOpenID) {
		w.Header().Set("WWW-Authenticate", `Bearer error="insufficient_scope"`)
		http.Error(w, "openid scope required", http.StatusForbidden)
		return
	}

	response := map[string]any{"sub": claims.Subject}

	user, err := s.users.Lookup(r.Context(), claims.Subject)
	switch {
	case errors.Is(err, users.ErrNotFound):
		// Token outlived the account; release the subject only.
	case err != nil:
		logger.Errorw("userinfo lookup failed",
			"subject", claims.Subject,
			"error", err.Error())
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	default:
		claimTypes := s.registry.Snapshot().IdentityClaimsFor(claims.Scopes)
		for name, value := range user.ClaimsFor(claimTypes) {
			response[name] = value
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Errorw("failed to encode userinfo response",
			"error", err.Error())
	}
}

func unauthorizedUserInfo(w http.ResponseWriter, code, description string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="`+code+`"`)
	http.Error(w, description, http.StatusUnauthorized)
}
