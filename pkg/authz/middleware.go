// SPDX-FileCopyrightText: Copyright 2025 Zoneid Authors
// SPDX-License-Identifier: Apache-2.0

package authz

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/zoneauth/zoneid/pkg/auth"
)

// Middleware returns HTTP middleware gating the wrapped handler behind the
// named policy. The policy name is resolved at wiring time: an unknown name
// is a configuration error returned here, not a per-request failure.
//
// Requests without validated claims in the context (i.e. not behind
// auth.Middleware) get 401; policy denials get 403 with a generic body while
// the specific unmet predicate goes to the log.
func Middleware(engine *Engine, policyName string) (func(http.Handler) http.Handler, error) {
	if !engine.HasPolicy(policyName) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, policyName)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.ClaimsFromContext(r.Context())
			if !ok {
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}

			decision, err := engine.Evaluate(policyName, claims)
			if err != nil {
				// Unreachable for names checked above; fail closed anyway.
				slog.Error("policy evaluation failed",
					"policy", policyName,
					"error", err,
				)
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			if !decision.Allowed {
				slog.Debug("request denied by policy",
					"policy", decision.Policy,
					"predicate", decision.FailedPredicate,
					"reason", decision.Reason,
					"path", r.URL.Path,
				)
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}, nil
}
