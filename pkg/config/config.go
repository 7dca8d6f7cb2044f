// SPDX-FileCopyrightText: Copyright 2025 Zoneid Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the identity server configuration file and builds the
// runtime registry and collaborator configs from it.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/zoneauth/zoneid/pkg/keys"
	"github.com/zoneauth/zoneid/pkg/registry"
	"github.com/zoneauth/zoneid/pkg/storage"
	"github.com/zoneauth/zoneid/pkg/users"
)

// Config is the top-level configuration file shape.
type Config struct {
	// Issuer is the external issuer URL stamped into tokens.
	Issuer string `mapstructure:"issuer"`

	// ListenAddr is the HTTP listen address, e.g. ":5001".
	ListenAddr string `mapstructure:"listen_addr"`

	// RotateRefreshTokens disables refresh token rotation when false.
	// Defaults to true.
	RotateRefreshTokens *bool `mapstructure:"rotate_refresh_tokens"`

	Keys    keys.Config    `mapstructure:"keys"`
	Storage storage.Config `mapstructure:"storage"`

	Scopes            []ScopeConfig            `mapstructure:"scopes"`
	IdentityResources []IdentityResourceConfig `mapstructure:"identity_resources"`
	Clients           []ClientConfig           `mapstructure:"clients"`
	Users             []UserConfig             `mapstructure:"users"`
}

// ScopeConfig declares an API scope.
type ScopeConfig struct {
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`
	Resource    string `mapstructure:"resource"`
}

// IdentityResourceConfig declares an identity resource.
type IdentityResourceConfig struct {
	Name        string   `mapstructure:"name"`
	DisplayName string   `mapstructure:"display_name"`
	ClaimTypes  []string `mapstructure:"claim_types"`
}

// ClientConfig declares a client. Exactly one of SecretHash (a bcrypt hash)
// or Secret (hashed at load time, for development setups) should be set for
// confidential clients.
type ClientConfig struct {
	ID                 string   `mapstructure:"id"`
	Name               string   `mapstructure:"name"`
	Secret             string   `mapstructure:"secret"`
	SecretHash         string   `mapstructure:"secret_hash"`
	Public             bool     `mapstructure:"public"`
	GrantTypes         []string `mapstructure:"grant_types"`
	Scopes             []string `mapstructure:"scopes"`
	RedirectURIs       []string `mapstructure:"redirect_uris"`
	AllowOfflineAccess bool     `mapstructure:"allow_offline_access"`

	AccessTokenTTL  string `mapstructure:"access_token_ttl"`
	RefreshTokenTTL string `mapstructure:"refresh_token_ttl"`
	IDTokenTTL      string `mapstructure:"id_token_ttl"`
}

// UserConfig declares a development user.
type UserConfig struct {
	Subject      string         `mapstructure:"subject"`
	Username     string         `mapstructure:"username"`
	Password     string         `mapstructure:"password"`
	PasswordHash string         `mapstructure:"password_hash"`
	Claims       map[string]any `mapstructure:"claims"`
}

// Load reads the configuration file at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ZONEID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":5001")
	v.SetDefault("storage.backend", storage.BackendMemory)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if cfg.Issuer == "" {
		return nil, fmt.Errorf("config: issuer is required")
	}
	return &cfg, nil
}

// BuildRegistry converts the declared scopes, identity resources and clients
// into a validated registry.
func (c *Config) BuildRegistry() (*registry.Registry, error) {
	scopes := make([]*registry.Scope, 0, len(c.Scopes))
	for _, s := range c.Scopes {
		scopes = append(scopes, &registry.Scope{
			Name:        s.Name,
			Description: s.Description,
			Resource:    s.Resource,
		})
	}

	resources := make([]*registry.IdentityResource, 0, len(c.IdentityResources))
	for _, r := range c.IdentityResources {
		resources = append(resources, &registry.IdentityResource{
			Name:        r.Name,
			DisplayName: r.DisplayName,
			ClaimTypes:  r.ClaimTypes,
		})
	}

	clients := make([]*registry.Client, 0, len(c.Clients))
	for _, cc := range c.Clients {
		client, err := cc.build()
		if err != nil {
			return nil, err
		}
		clients = append(clients, client)
	}

	snap, err := registry.NewSnapshot(clients, scopes, resources)
	if err != nil {
		return nil, err
	}
	return registry.New(snap), nil
}

func (c *ClientConfig) build() (*registry.Client, error) {
	client := &registry.Client{
		ID:                 c.ID,
		Name:               c.Name,
		Public:             c.Public,
		GrantTypes:         c.GrantTypes,
		Scopes:             c.Scopes,
		RedirectURIs:       c.RedirectURIs,
		AllowOfflineAccess: c.AllowOfflineAccess,
	}

	switch {
	case c.SecretHash != "":
		client.SecretHash = []byte(c.SecretHash)
	case c.Secret != "":
		hash, err := users.HashPassword(c.Secret)
		if err != nil {
			return nil, fmt.Errorf("hashing secret for client %q: %w", c.ID, err)
		}
		client.SecretHash = hash
	}

	for _, ttl := range []struct {
		raw  string
		dest *time.Duration
		name string
	}{
		{c.AccessTokenTTL, &client.AccessTokenTTL, "access_token_ttl"},
		{c.RefreshTokenTTL, &client.RefreshTokenTTL, "refresh_token_ttl"},
		{c.IDTokenTTL, &client.IDTokenTTL, "id_token_ttl"},
	} {
		if ttl.raw == "" {
			continue
		}
		d, err := time.ParseDuration(ttl.raw)
		if err != nil {
			return nil, fmt.Errorf("client %q: invalid %s: %w", c.ID, ttl.name, err)
		}
		*ttl.dest = d
	}

	return client, nil
}

// BuildUserStore converts the declared users into an in-memory store.
// Returns nil when no users are declared; interactive flows then reject all
// logins.
func (c *Config) BuildUserStore() (*users.MemoryStore, error) {
	accounts := make([]*users.User, 0, len(c.Users))
	for _, u := range c.Users {
		hash := []byte(u.PasswordHash)
		if len(hash) == 0 && u.Password != "" {
			h, err := users.HashPassword(u.Password)
			if err != nil {
				return nil, fmt.Errorf("hashing password for user %q: %w", u.Username, err)
			}
			hash = h
		}
		accounts = append(accounts, &users.User{
			Subject:      u.Subject,
			Username:     u.Username,
			PasswordHash: hash,
			Claims:       u.Claims,
		})
	}
	return users.NewMemoryStore(accounts...), nil
}

// RotationEnabled reports whether refresh token rotation is on.
func (c *Config) RotationEnabled() bool {
	return c.RotateRefreshTokens == nil || *c.RotateRefreshTokens
}
