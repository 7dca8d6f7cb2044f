// SPDX-FileCopyrightText: Copyright 2025 Zoneid Authors
// SPDX-License-Identifier: Apache-2.0

// Package authz evaluates named authorization policies against validated
// token claims. A policy is an ordered list of predicates, all of which must
// hold; the first unmet predicate becomes the deny reason.
package authz

import (
	"errors"
	"fmt"

	"github.com/zoneauth/zoneid/pkg/auth"
)

// ErrUnknownPolicy indicates a policy name with no registration. This is a
// configuration error surfaced at wiring time, never a per-request failure.
var ErrUnknownPolicy = errors.New("unknown policy")

// Predicate is a single condition over a validated claim set.
type Predicate interface {
	// Name identifies the predicate in deny reasons and logs.
	Name() string

	// Check returns nil when the predicate holds, or an error describing
	// the unmet condition.
	Check(claims *auth.ClaimSet) error
}

// RequireAuthenticatedUser holds when the token carries a user subject.
// Client-credential tokens have no subject and fail this predicate.
func RequireAuthenticatedUser() Predicate {
	return authenticatedUser{}
}

type authenticatedUser struct{}

func (authenticatedUser) Name() string { return "authenticated_user" }

func (authenticatedUser) Check(claims *auth.ClaimSet) error {
	if !claims.Authenticated() {
		return fmt.Errorf("token has no user subject")
	}
	return nil
}

// RequireScope holds when the token's scope set contains the given scope.
func RequireScope(scope string) Predicate {
	return scopePredicate{scope: scope}
}

type scopePredicate struct {
	scope string
}

func (p scopePredicate) Name() string { return fmt.Sprintf("scope:%s", p.scope) }

func (p scopePredicate) Check(claims *auth.ClaimSet) error {
	if !claims.HasScope(p.scope) {
		return fmt.Errorf("scope %q not granted", p.scope)
	}
	return nil
}

// RequireClaim holds when the named claim is present with the given string
// value. Multi-valued claims match when any element equals the value.
func RequireClaim(name, value string) Predicate {
	return claimPredicate{claim: name, value: value}
}

type claimPredicate struct {
	claim string
	value string
}

func (p claimPredicate) Name() string { return fmt.Sprintf("claim:%s=%s", p.claim, p.value) }

func (p claimPredicate) Check(claims *auth.ClaimSet) error {
	raw, ok := claims.Claim(p.claim)
	if !ok {
		return fmt.Errorf("claim %q not present", p.claim)
	}

	switch v := raw.(type) {
	case string:
		if v == p.value {
			return nil
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == p.value {
				return nil
			}
		}
	case []string:
		for _, s := range v {
			if s == p.value {
				return nil
			}
		}
	}
	return fmt.Errorf("claim %q does not contain %q", p.claim, p.value)
}

// Policy is a named, ordered conjunction of predicates.
type Policy struct {
	// Name identifies the policy at protected endpoints.
	Name string

	// Predicates all must hold for the policy to allow. Evaluated in order;
	// the first unmet predicate is reported.
	Predicates []Predicate
}

// Decision is the outcome of a policy evaluation.
type Decision struct {
	// Allowed is true when every predicate held.
	Allowed bool

	// Policy is the evaluated policy name.
	Policy string

	// FailedPredicate names the first unmet predicate on deny.
	FailedPredicate string

	// Reason is the unmet predicate's description on deny.
	Reason string
}

// Engine holds the named policies of a server. Policies are fixed at
// construction; evaluation is stateless and safe for concurrent use.
type Engine struct {
	policies map[string]Policy
}

// NewEngine builds an engine from the given policies. Duplicate names, empty
// names and predicate-less policies are configuration errors.
func NewEngine(policies ...Policy) (*Engine, error) {
	e := &Engine{policies: make(map[string]Policy, len(policies))}
	for _, p := range policies {
		if p.Name == "" {
			return nil, fmt.Errorf("policy with empty name")
		}
		if len(p.Predicates) == 0 {
			return nil, fmt.Errorf("policy %q has no predicates", p.Name)
		}
		if _, dup := e.policies[p.Name]; dup {
			return nil, fmt.Errorf("duplicate policy %q", p.Name)
		}
		e.policies[p.Name] = p
	}
	return e, nil
}

// HasPolicy reports whether the engine knows the named policy.
func (e *Engine) HasPolicy(name string) bool {
	_, ok := e.policies[name]
	return ok
}

// Evaluate runs the named policy against the claim set.
// Returns ErrUnknownPolicy for unregistered names; callers should check
// policy names at wiring time via HasPolicy instead of relying on this.
func (e *Engine) Evaluate(policyName string, claims *auth.ClaimSet) (Decision, error) {
	policy, ok := e.policies[policyName]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownPolicy, policyName)
	}

	for _, predicate := range policy.Predicates {
		if err := predicate.Check(claims); err != nil {
			return Decision{
				Allowed:         false,
				Policy:          policyName,
				FailedPredicate: predicate.Name(),
				Reason:          err.Error(),
			}, nil
		}
	}

	return Decision{Allowed: true, Policy: policyName}, nil
}
