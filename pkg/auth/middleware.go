// SPDX-FileCopyrightText: Copyright 2025 Zoneid Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// ClaimsContextKey is the context key under which the validated claim set is
// stored for downstream handlers and authorization middleware.
type ClaimsContextKey struct{}

// ClaimsFromContext returns the validated claim set attached by Middleware.
func ClaimsFromContext(ctx context.Context) (*ClaimSet, bool) {
	claims, ok := ctx.Value(ClaimsContextKey{}).(*ClaimSet)
	return claims, ok
}

// Middleware returns HTTP middleware that requires a valid bearer token.
// Validation failures are logged with their specific reason and answered
// with a generic 401 so the response is not a validation oracle.
func (v *Validator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, ok := bearerToken(r)
		if !ok {
			unauthorized(w)
			return
		}

		claims, err := v.Validate(r.Context(), tokenString)
		if err != nil {
			slog.Debug("bearer token rejected",
				"path", r.URL.Path,
				"error", err,
			)
			unauthorized(w)
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsContextKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return header[len(prefix):], true
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	http.Error(w, "invalid or missing token", http.StatusUnauthorized)
}
