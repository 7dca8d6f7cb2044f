// SPDX-FileCopyrightText: Copyright 2025 Zoneid Authors
// SPDX-License-Identifier: Apache-2.0

// Package server wires the HTTP surface of the identity boundary: the OIDC
// discovery documents, the token and authorize endpoints, userinfo, and the
// minimal interactive login pages backing the authorization code flow.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zoneauth/zoneid/pkg/auth"
	"github.com/zoneauth/zoneid/pkg/grants"
	"github.com/zoneauth/zoneid/pkg/keys"
	"github.com/zoneauth/zoneid/pkg/logger"
	"github.com/zoneauth/zoneid/pkg/registry"
	"github.com/zoneauth/zoneid/pkg/sessions"
	"github.com/zoneauth/zoneid/pkg/users"
)

// Endpoint paths, relative to the issuer URL.
const (
	PathDiscovery = "/.well-known/openid-configuration"
	PathJWKS      = "/.well-known/jwks.json"
	PathAuthorize = "/connect/authorize"
	PathToken     = "/connect/token"
	PathUserInfo  = "/connect/userinfo"
	PathLogin     = "/account/login"
	PathLogout    = "/account/logout"
)

const readHeaderTimeout = 10 * time.Second

// Server is the identity server's HTTP surface.
type Server struct {
	issuerURL string
	registry  *registry.Registry
	processor *grants.Processor
	keys      keys.Provider
	validator *auth.Validator
	users     users.Store
	sessions  sessions.Store
}

// New creates a Server. The validator guards the userinfo endpoint and must
// verify tokens minted by the same key provider.
func New(
	issuerURL string,
	reg *registry.Registry,
	processor *grants.Processor,
	keyProvider keys.Provider,
	validator *auth.Validator,
	userStore users.Store,
	sessionStore sessions.Store,
) *Server {
	return &Server{
		issuerURL: issuerURL,
		registry:  reg,
		processor: processor,
		keys:      keyProvider,
		validator: validator,
		users:     userStore,
		sessions:  sessionStore,
	}
}

// Router returns the server's HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get(PathDiscovery, s.discoveryHandler)
	r.Get(PathJWKS, s.jwksHandler)

	r.Get(PathAuthorize, s.authorizeHandler)
	r.Post(PathToken, s.tokenHandler)

	r.Group(func(r chi.Router) {
		r.Use(s.validator.Middleware)
		r.Get(PathUserInfo, s.userInfoHandler)
		r.Post(PathUserInfo, s.userInfoHandler)
	})

	r.Get(PathLogin, s.loginPageHandler)
	r.Post(PathLogin, s.loginHandler)
	r.Post(PathLogout, s.logoutHandler)

	return r
}

// Run serves HTTP on addr until the context is canceled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("identity server listening",
			"addr", addr,
			"issuer", s.issuerURL)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving http: %w", err)
	}
}
