// SPDX-FileCopyrightText: Copyright 2025 Zoneid Authors
// SPDX-License-Identifier: Apache-2.0

// Package client implements the relying-party side of the identity boundary:
// discovery of the identity server, the machine-to-machine client credentials
// flow, and the interactive authorization code flow with ID token
// verification.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/zoneauth/zoneid/pkg/logger"
)

// ErrNetwork is returned when the identity server cannot be reached after
// retries. It is distinct from a rejection: the caller may retry later.
var ErrNetwork = errors.New("identity server unreachable")

// ErrIdentity is returned when the token exchange succeeded but the identity
// in the response could not be verified.
var ErrIdentity = errors.New("identity verification failed")

const (
	defaultDiscoveryTries    = 4
	defaultDiscoveryInterval = 500 * time.Millisecond
)

// Config configures an Agent.
type Config struct {
	// IssuerURL is the identity server's issuer URL. Discovery fetches
	// {IssuerURL}/.well-known/openid-configuration.
	IssuerURL string

	ClientID     string
	ClientSecret string
	Scopes       []string

	// RedirectURL is required for the authorization code flow.
	RedirectURL string

	// HTTPClient overrides the HTTP client used for discovery and token
	// requests. Nil means http.DefaultClient.
	HTTPClient *http.Client
}

// Agent obtains and refreshes tokens from a discovered identity server.
type Agent struct {
	config   Config
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier

	// tokenSource caches and auto-refreshes the client credentials token.
	tokenSource oauth2.TokenSource
}

// Discover creates an Agent by fetching the issuer's discovery document,
// retrying transient failures with exponential backoff.
func Discover(ctx context.Context, config Config) (*Agent, error) {
	if config.IssuerURL == "" {
		return nil, errors.New("issuer URL is required")
	}
	if config.ClientID == "" {
		return nil, errors.New("client ID is required")
	}

	if config.HTTPClient != nil {
		ctx = oidc.ClientContext(ctx, config.HTTPClient)
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = defaultDiscoveryInterval

	operation := func() (*oidc.Provider, error) {
		provider, err := oidc.NewProvider(ctx, config.IssuerURL)
		if err != nil {
			logger.Debugw("discovery attempt failed",
				"issuer", config.IssuerURL,
				"error", err.Error())
			return nil, err
		}
		return provider, nil
	}

	provider, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(defaultDiscoveryTries),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}

	logger.Debugw("identity server discovered",
		"issuer", config.IssuerURL)

	return &Agent{
		config:   config,
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: config.ClientID}),
	}, nil
}

// Token returns a valid access token from the client credentials flow,
// reusing the cached token until it nears expiry.
func (a *Agent) Token(ctx context.Context) (*oauth2.Token, error) {
	if a.config.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, a.config.HTTPClient)
	}

	if a.tokenSource == nil {
		cc := &clientcredentials.Config{
			ClientID:     a.config.ClientID,
			ClientSecret: a.config.ClientSecret,
			TokenURL:     a.provider.Endpoint().TokenURL,
			Scopes:       a.config.Scopes,
		}
		a.tokenSource = oauth2.ReuseTokenSource(nil, cc.TokenSource(ctx))
	}

	token, err := a.tokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("fetching token: %w", err)
	}
	return token, nil
}

// HTTPClient returns a client that attaches a bearer token from the client
// credentials flow to every request.
func (a *Agent) HTTPClient(ctx context.Context) (*http.Client, error) {
	if _, err := a.Token(ctx); err != nil {
		return nil, err
	}
	return oauth2.NewClient(ctx, a.tokenSource), nil
}

// oauth2Config builds the authorization code flow configuration.
func (a *Agent) oauth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     a.config.ClientID,
		ClientSecret: a.config.ClientSecret,
		RedirectURL:  a.config.RedirectURL,
		Scopes:       a.config.Scopes,
		Endpoint:     a.provider.Endpoint(),
	}
}

// AuthCodeURL returns the URL to send the browser to for the authorization
// code flow. The state and nonce must be verified on the way back.
func (a *Agent) AuthCodeURL(state, nonce string) string {
	return a.oauth2Config().AuthCodeURL(state, oidc.Nonce(nonce))
}

// Identity is the verified outcome of an authorization code exchange.
type Identity struct {
	Subject      string
	AccessToken  string
	RefreshToken string
	IDToken      string
	Expiry       time.Time
	Claims       map[string]any
}

// Exchange redeems an authorization code and verifies the returned ID token,
// including the nonce bound at the authorization request.
func (a *Agent) Exchange(ctx context.Context, code, nonce string) (*Identity, error) {
	if a.config.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, a.config.HTTPClient)
	}

	token, err := a.oauth2Config().Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("%w: response has no ID token", ErrIdentity)
	}

	idToken, err := a.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIdentity, err)
	}
	if nonce != "" && idToken.Nonce != nonce {
		return nil, fmt.Errorf("%w: nonce mismatch", ErrIdentity)
	}

	claims := map[string]any{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIdentity, err)
	}

	logger.Debugw("authorization code exchange verified",
		"subject", idToken.Subject,
		"has_refresh_token", token.RefreshToken != "")

	return &Identity{
		Subject:      idToken.Subject,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		IDToken:      rawIDToken,
		Expiry:       token.Expiry,
		Claims:       claims,
	}, nil
}

// Refresh redeems a refresh token for a new token set. With server-side
// rotation the response carries a replacement refresh token.
func (a *Agent) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if a.config.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, a.config.HTTPClient)
	}

	source := a.oauth2Config().TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("refreshing token: %w", err)
	}
	return token, nil
}

// UserInfo fetches the userinfo endpoint with the given access token.
func (a *Agent) UserInfo(ctx context.Context, accessToken string) (map[string]any, error) {
	if a.config.HTTPClient != nil {
		ctx = oidc.ClientContext(ctx, a.config.HTTPClient)
	}

	info, err := a.provider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
	if err != nil {
		return nil, fmt.Errorf("fetching userinfo: %w", err)
	}

	claims := map[string]any{}
	if err := info.Claims(&claims); err != nil {
		return nil, fmt.Errorf("decoding userinfo claims: %w", err)
	}
	return claims, nil
}
