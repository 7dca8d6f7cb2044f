// SPDX-FileCopyrightText: Copyright 2025 Zoneid Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"fmt"
	"slices"
	"sync/atomic"
)

// ConfigError indicates an invalid registry configuration. It is fatal at
// startup and never produced per request.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("registry configuration error: %s", e.Reason)
}

func configErrorf(format string, args ...any) error {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// Snapshot is an immutable view of the registry. All lookups during a request
// go through a single snapshot so mid-request mutations are never observed.
type Snapshot struct {
	version           uint64
	clients           map[string]*Client
	scopes            map[string]*Scope
	identityResources map[string]*IdentityResource
	scopeNames        []string
}

// NewSnapshot validates the registrations and builds an immutable snapshot.
// Returns a *ConfigError when the configuration is internally inconsistent.
func NewSnapshot(clients []*Client, scopes []*Scope, identityResources []*IdentityResource) (*Snapshot, error) {
	return newSnapshot(1, clients, scopes, identityResources)
}

func newSnapshot(version uint64, clients []*Client, scopes []*Scope, identityResources []*IdentityResource) (*Snapshot, error) {
	s := &Snapshot{
		version:           version,
		clients:           make(map[string]*Client, len(clients)),
		scopes:            make(map[string]*Scope, len(scopes)),
		identityResources: make(map[string]*IdentityResource, len(identityResources)),
	}

	for _, sc := range scopes {
		if sc.Name == "" {
			return nil, configErrorf("scope with empty name")
		}
		if _, dup := s.scopes[sc.Name]; dup {
			return nil, configErrorf("duplicate scope %q", sc.Name)
		}
		s.scopes[sc.Name] = sc
		s.scopeNames = append(s.scopeNames, sc.Name)
	}

	for _, ir := range identityResources {
		if ir.Name == "" {
			return nil, configErrorf("identity resource with empty name")
		}
		if _, dup := s.identityResources[ir.Name]; dup {
			return nil, configErrorf("duplicate identity resource %q", ir.Name)
		}
		if _, clash := s.scopes[ir.Name]; clash {
			return nil, configErrorf("identity resource %q collides with an API scope", ir.Name)
		}
		s.identityResources[ir.Name] = ir
		s.scopeNames = append(s.scopeNames, ir.Name)
	}

	for _, c := range clients {
		if err := s.validateClient(c); err != nil {
			return nil, err
		}
		s.clients[c.ID] = c
	}

	slices.Sort(s.scopeNames)
	return s, nil
}

func (s *Snapshot) validateClient(c *Client) error {
	if c.ID == "" {
		return configErrorf("client with empty ID")
	}
	if _, dup := s.clients[c.ID]; dup {
		return configErrorf("duplicate client %q", c.ID)
	}
	if len(c.GrantTypes) == 0 {
		return configErrorf("client %q has no grant types", c.ID)
	}
	if !c.Public && len(c.SecretHash) == 0 {
		return configErrorf("confidential client %q has no secret", c.ID)
	}
	if c.AllowsGrantType(GrantTypeAuthorizationCode) && len(c.RedirectURIs) == 0 {
		return configErrorf("client %q allows authorization_code but has no redirect URIs", c.ID)
	}
	for _, scope := range c.Scopes {
		if !s.knownScope(scope) {
			return configErrorf("client %q references unregistered scope %q", c.ID, scope)
		}
	}
	return nil
}

func (s *Snapshot) knownScope(name string) bool {
	if name == ScopeOfflineAccess {
		// offline_access is a protocol scope, not a registered resource.
		return true
	}
	if _, ok := s.scopes[name]; ok {
		return true
	}
	_, ok := s.identityResources[name]
	return ok
}

// Version returns the snapshot's monotonically increasing version.
func (s *Snapshot) Version() uint64 {
	return s.version
}

// Client returns the registered client by ID, or nil when unknown.
func (s *Snapshot) Client(id string) *Client {
	return s.clients[id]
}

// Scope returns the registered API scope by name, or nil when unknown.
func (s *Snapshot) Scope(name string) *Scope {
	return s.scopes[name]
}

// IdentityResource returns the registered identity resource by name, or nil
// when unknown.
func (s *Snapshot) IdentityResource(name string) *IdentityResource {
	return s.identityResources[name]
}

// ScopeNames returns all registered scope and identity resource names, sorted.
// The returned slice is a copy.
func (s *Snapshot) ScopeNames() []string {
	return slices.Clone(s.scopeNames)
}

// IdentityClaimsFor returns the union of user claim names released by the
// identity resources present in the granted scope set.
func (s *Snapshot) IdentityClaimsFor(scopes []string) []string {
	var claims []string
	for _, scope := range scopes {
		ir, ok := s.identityResources[scope]
		if !ok {
			continue
		}
		for _, claim := range ir.ClaimTypes {
			if !slices.Contains(claims, claim) {
				claims = append(claims, claim)
			}
		}
	}
	slices.Sort(claims)
	return claims
}

// Registry hands out the current snapshot and accepts replacement snapshots.
// Reads are lock-free; Replace is the single mutation point and bumps the
// version, so concurrent requests either see the old or the new snapshot in
// full, never a partial update.
type Registry struct {
	current atomic.Pointer[Snapshot]
}

// New creates a Registry serving the given initial snapshot.
func New(initial *Snapshot) *Registry {
	r := &Registry{}
	r.current.Store(initial)
	return r
}

// Snapshot returns the current immutable snapshot.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Replace validates the new registrations and atomically swaps the snapshot.
// The new snapshot's version is one greater than the current one.
func (r *Registry) Replace(clients []*Client, scopes []*Scope, identityResources []*IdentityResource) (*Snapshot, error) {
	next, err := newSnapshot(r.current.Load().version+1, clients, scopes, identityResources)
	if err != nil {
		return nil, err
	}
	r.current.Store(next)
	return next, nil
}
