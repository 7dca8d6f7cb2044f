// SPDX-FileCopyrightText: Copyright 2025 Zoneid Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/zoneauth/zoneid/pkg/logger"
	"github.com/zoneauth/zoneid/pkg/sessions"
)

const sessionCookieName = "zoneid.session"

// authorizeHandler handles GET /connect/authorize. Unauthenticated browsers
// are sent to the login page and return here afterwards; authenticated ones
// get a single-use code delivered to the client's redirect URI.
func (s *Server) authorizeHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	authReq, err := s.processor.ValidateAuthorizationRequest(
		query.Get("response_type"),
		query.Get("client_id"),
		query.Get("redirect_uri"),
		splitScopes(query.Get("scope")),
		query.Get("state"),
		query.Get("nonce"),
	)
	if err != nil {
		// The client identity or redirect URI may itself be the bad
		// part, so never bounce errors to the redirect URI.
		logger.Debugw("authorization request rejected",
			"client_id", query.Get("client_id"),
			"error", err.Error())
		http.Error(w, "invalid authorization request", http.StatusBadRequest)
		return
	}

	session := s.currentSession(r)
	if session == nil {
		returnURL := r.URL.Path + "?" + r.URL.RawQuery
		http.Redirect(w, r, PathLogin+"?return_url="+url.QueryEscape(returnURL), http.StatusFound)
		return
	}

	code, err := s.processor.MintAuthorizationCode(r.Context(), authReq, session.Subject)
	if err != nil {
		logger.Errorw("failed to mint authorization code",
			"client_id", authReq.Client.ID,
			"error", err.Error())
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	redirect, err := url.Parse(authReq.RedirectURI)
	if err != nil {
		http.Error(w, "invalid authorization request", http.StatusBadRequest)
		return
	}
	params := redirect.Query()
	params.Set("code", code)
	if authReq.State != "" {
		params.Set("state", authReq.State)
	}
	redirect.RawQuery = params.Encode()

	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

// currentSession resolves the browser's session cookie, if any.
func (s *Server) currentSession(r *http.Request) *sessions.Session {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return nil
	}

	session, err := s.sessions.Get(r.Context(), cookie.Value)
	if err != nil {
		if !errors.Is(err, sessions.ErrNotFound) {
			logger.Errorw("session lookup failed",
				"error", err.Error())
		}
		return nil
	}
	return session
}
