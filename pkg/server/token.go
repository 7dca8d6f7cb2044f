// SPDX-FileCopyrightText: Copyright 2025 Zoneid Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/zoneauth/zoneid/pkg/grants"
	"github.com/zoneauth/zoneid/pkg/logger"
)

// tokenError is an OAuth2 error response body (RFC 6749 section 5.2).
type tokenError struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// tokenHandler handles POST /connect/token.
func (s *Server) tokenHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeTokenError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}

	clientID, clientSecret, err := clientCredentialsFrom(r)
	if err != nil {
		writeTokenError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	req := &grants.Request{
		GrantType:    r.PostFormValue("grant_type"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       splitScopes(r.PostFormValue("scope")),
		Code:         r.PostFormValue("code"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
		RefreshToken: r.PostFormValue("refresh_token"),
	}

	resp, err := s.processor.Process(r.Context(), req)
	if err != nil {
		writeGrantError(w, req, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Errorw("failed to encode token response",
			"error", err.Error())
	}
}

// clientCredentialsFrom extracts client credentials from HTTP Basic auth or,
// failing that, from the form body. Basic auth values are URL-decoded per
// RFC 6749 section 2.3.1.
func clientCredentialsFrom(r *http.Request) (string, string, error) {
	if id, secret, ok := r.BasicAuth(); ok {
		decodedID, err := url.QueryUnescape(id)
		if err != nil {
			return "", "", errors.New("malformed client_id in authorization header")
		}
		decodedSecret, err := url.QueryUnescape(secret)
		if err != nil {
			return "", "", errors.New("malformed client_secret in authorization header")
		}
		return decodedID, decodedSecret, nil
	}
	return r.PostFormValue("client_id"), r.PostFormValue("client_secret"), nil
}

// writeGrantError maps a grant processing error onto its wire form. Client
// authentication failures get 401 plus a WWW-Authenticate challenge; all
// other grant errors are 400s with the matching OAuth2 error code.
func writeGrantError(w http.ResponseWriter, req *grants.Request, err error) {
	logger.Debugw("token request rejected",
		"grant_type", req.GrantType,
		"client_id", req.ClientID,
		"error", err.Error())

	switch {
	case errors.Is(err, grants.ErrInvalidClient):
		w.Header().Set("WWW-Authenticate", `Basic realm="token"`)
		writeTokenError(w, http.StatusUnauthorized, "invalid_client", "")
	case errors.Is(err, grants.ErrUnauthorizedClient):
		writeTokenError(w, http.StatusBadRequest, "unauthorized_client", "")
	case errors.Is(err, grants.ErrInvalidScope):
		writeTokenError(w, http.StatusBadRequest, "invalid_scope", "")
	case errors.Is(err, grants.ErrInvalidGrant):
		writeTokenError(w, http.StatusBadRequest, "invalid_grant", "")
	case errors.Is(err, grants.ErrUnsupportedGrantType):
		writeTokenError(w, http.StatusBadRequest, "unsupported_grant_type", "")
	default:
		logger.Errorw("token request failed",
			"grant_type", req.GrantType,
			"error", err.Error())
		writeTokenError(w, http.StatusInternalServerError, "server_error", "")
	}
}

func writeTokenError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(tokenError{Error: code, Description: description})
}

func splitScopes(scope string) []string {
	if scope == "" {
		return nil
	}
	return strings.Fields(scope)
}
