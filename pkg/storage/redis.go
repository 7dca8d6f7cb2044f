// SPDX-FileCopyrightText: Copyright 2025 Zoneid Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zoneauth/zoneid/pkg/logger"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// redeemedCodeTombstoneTTL mirrors DefaultRedeemedCodeTTL for the Redis
// backend, in whole seconds as Redis expects.
const redeemedCodeTombstoneTTL = int64(DefaultRedeemedCodeTTL / time.Second)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string `mapstructure:"addr"`

	// Username and Password authenticate against Redis ACLs; optional.
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	// DB selects the logical database.
	DB int `mapstructure:"db"`

	// KeyPrefix namespaces all keys, e.g. "zoneid:grants:".
	KeyPrefix string `mapstructure:"key_prefix"`

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// RedisStore implements Store on a Redis backend, for deployments with more
// than one authorization server replica.
//
// Redemption runs as a Lua script so the read and the invalidation are one
// atomic step on the server; two concurrent redemption attempts on the same
// key see exactly one winner regardless of which replica they hit.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisStore creates a RedisStore connecting to the configured server.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = DefaultDialTimeout
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = DefaultReadTimeout
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = DefaultWriteTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	return NewRedisStoreWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisStoreWithClient creates a RedisStore around an existing client.
// This is useful for testing with miniredis.
func NewRedisStoreWithClient(client redis.UniversalClient, keyPrefix string) *RedisStore {
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Close releases the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Health pings the Redis server.
func (s *RedisStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) codeKey(code string) string {
	return s.keyPrefix + "code:" + code
}

func (s *RedisStore) redeemedCodeKey(code string) string {
	return s.keyPrefix + "code-used:" + code
}

func (s *RedisStore) refreshTokenKey(token string) string {
	return s.keyPrefix + "refresh:" + token
}

// redeemCodeScript atomically consumes an authorization code:
// delete the live entry, write a tombstone, and report which of the three
// states (live, already redeemed, unknown) the code was in.
var redeemCodeScript = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
	if redis.call('EXISTS', KEYS[2]) == 1 then
		return {'redeemed'}
	end
	return {'missing'}
end
redis.call('DEL', KEYS[1])
redis.call('SET', KEYS[2], '1', 'EX', tonumber(ARGV[1]))
return {'ok', data}
`)

// redeemRefreshScript atomically consumes a refresh token (get-and-delete).
var redeemRefreshScript = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
	return false
end
redis.call('DEL', KEYS[1])
return data
`)

// PutCode stores a freshly minted authorization code with a TTL matching its
// expiry.
func (s *RedisStore) PutCode(ctx context.Context, code *AuthorizationCode) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("authorization code cannot be empty")
	}

	data, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("failed to encode authorization code: %w", err)
	}

	ttl := time.Until(code.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("authorization code already expired")
	}

	if err := s.client.Set(ctx, s.codeKey(code.Code), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store authorization code: %w", err)
	}
	return nil
}

// RedeemCode atomically fetches and invalidates the code via a Lua script.
func (s *RedisStore) RedeemCode(ctx context.Context, code string) (*AuthorizationCode, error) {
	result, err := redeemCodeScript.Run(ctx, s.client,
		[]string{s.codeKey(code), s.redeemedCodeKey(code)},
		redeemedCodeTombstoneTTL,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to redeem authorization code: %w", err)
	}

	reply, ok := result.([]any)
	if !ok || len(reply) == 0 {
		return nil, fmt.Errorf("unexpected redeem script reply: %v", result)
	}

	switch reply[0] {
	case "ok":
		if len(reply) < 2 {
			return nil, fmt.Errorf("redeem script reply missing payload")
		}
		payload, ok := reply[1].(string)
		if !ok {
			return nil, fmt.Errorf("unexpected redeem script payload type: %T", reply[1])
		}
		var record AuthorizationCode
		if err := json.Unmarshal([]byte(payload), &record); err != nil {
			return nil, fmt.Errorf("failed to decode authorization code: %w", err)
		}
		// The key TTL matches the expiry, but re-check against the record
		// to avoid trusting Redis clock granularity at the boundary.
		if time.Now().After(record.ExpiresAt) {
			return nil, ErrExpired
		}
		return &record, nil
	case "redeemed":
		logger.Warnw("authorization code replay attempt")
		return nil, ErrCodeAlreadyRedeemed
	default:
		logger.Debugw("authorization code not found")
		return nil, ErrNotFound
	}
}

// PutRefreshToken stores a refresh token with a TTL matching its expiry.
func (s *RedisStore) PutRefreshToken(ctx context.Context, token *RefreshToken) error {
	if token == nil || token.Token == "" {
		return fmt.Errorf("refresh token cannot be empty")
	}

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to encode refresh token: %w", err)
	}

	ttl := time.Until(token.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("refresh token already expired")
	}

	if err := s.client.Set(ctx, s.refreshTokenKey(token.Token), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}
	return nil
}

// GetRefreshToken returns the refresh token without consuming it.
func (s *RedisStore) GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error) {
	data, err := s.client.Get(ctx, s.refreshTokenKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	var record RefreshToken
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode refresh token: %w", err)
	}
	if time.Now().After(record.ExpiresAt) {
		return nil, ErrExpired
	}
	return &record, nil
}

// RedeemRefreshToken atomically fetches and deletes the token via a Lua
// script.
func (s *RedisStore) RedeemRefreshToken(ctx context.Context, token string) (*RefreshToken, error) {
	result, err := redeemRefreshScript.Run(ctx, s.client,
		[]string{s.refreshTokenKey(token)},
	).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			logger.Debugw("refresh token not found for redemption")
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to redeem refresh token: %w", err)
	}

	payload, ok := result.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected redeem script payload type: %T", result)
	}

	var record RefreshToken
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return nil, fmt.Errorf("failed to decode refresh token: %w", err)
	}
	if time.Now().After(record.ExpiresAt) {
		return nil, ErrExpired
	}
	return &record, nil
}

// RevokeRefreshToken deletes the token. Unknown tokens are ignored.
func (s *RedisStore) RevokeRefreshToken(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.refreshTokenKey(token)).Err(); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ Store = (*RedisStore)(nil)
