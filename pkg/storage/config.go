// SPDX-FileCopyrightText: Copyright 2025 Zoneid Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"fmt"
)

// Backend identifiers for Config.Backend.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config selects and configures the grant-state backend.
type Config struct {
	// Backend is "memory" (default) or "redis".
	Backend string `mapstructure:"backend"`

	// Redis holds the Redis connection settings when Backend is "redis".
	Redis RedisConfig `mapstructure:"redis"`
}

// NewStore creates a Store for the configured backend.
func NewStore(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendRedis:
		return NewRedisStore(cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
