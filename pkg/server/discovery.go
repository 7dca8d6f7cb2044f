// SPDX-FileCopyrightText: Copyright 2025 Zoneid Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/zoneauth/zoneid/pkg/keys"
	"github.com/zoneauth/zoneid/pkg/logger"
	"github.com/zoneauth/zoneid/pkg/registry"
)

// Cache-Control max-age for the discovery and JWKS endpoints. An hour keeps
// validators from hammering the endpoints while still propagating key
// rotation within a bounded window.
const discoveryCacheMaxAge = 3600

// discoveryDocument is the OIDC discovery response, a subset of OIDC
// Discovery 1.0 plus RFC 8414 fields.
type discoveryDocument struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	UserInfoEndpoint                  string   `json:"userinfo_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	ScopesSupported                   []string `json:"scopes_supported"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	SubjectTypesSupported             []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
}

// discoveryHandler handles GET /.well-known/openid-configuration.
func (s *Server) discoveryHandler(w http.ResponseWriter, r *http.Request) {
	algs, err := keys.SigningAlgorithms(r.Context(), s.keys)
	if err != nil {
		logger.Errorw("failed to determine signing algorithms",
			"error", err.Error())
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	doc := discoveryDocument{
		Issuer:                s.issuerURL,
		AuthorizationEndpoint: s.issuerURL + PathAuthorize,
		TokenEndpoint:         s.issuerURL + PathToken,
		UserInfoEndpoint:      s.issuerURL + PathUserInfo,
		JWKSURI:               s.issuerURL + PathJWKS,
		ScopesSupported:       s.registry.Snapshot().ScopeNames(),
		ResponseTypesSupported: []string{
			"code",
		},
		GrantTypesSupported: []string{
			registry.GrantTypeAuthorizationCode,
			registry.GrantTypeClientCredentials,
			registry.GrantTypeRefreshToken,
		},
		SubjectTypesSupported:            []string{"public"},
		IDTokenSigningAlgValuesSupported: algs,
		TokenEndpointAuthMethodsSupported: []string{
			"client_secret_basic",
			"client_secret_post",
		},
	}

	writeCachedJSON(w, doc)
}

// jwksHandler handles GET /.well-known/jwks.json, publishing the public half
// of every verification key.
func (s *Server) jwksHandler(w http.ResponseWriter, r *http.Request) {
	set, err := keys.PublicJWKS(r.Context(), s.keys)
	if err != nil {
		logger.Errorw("failed to build JWKS",
			"error", err.Error())
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeCachedJSON(w, set)
}

func writeCachedJSON(w http.ResponseWriter, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		logger.Errorw("failed to encode response",
			"error", err.Error())
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", discoveryCacheMaxAge))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	_, _ = w.Write(data)
}
