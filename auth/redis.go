// Copyright (c) 2024-2025 Darcy Buskermolen <darcy@dbitech.ca>
// SPDX-License-Identifier: BSD-3-Clause

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gauthier-th/whisper-dashboard/config"
	"github.com/redis/go-redis/v9"
)

const tokenKeyPrefix = "token:"

// RedisTokenStore implements TokenStore for Redis
type RedisTokenStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient connects to the Redis server in auth.redis. Download links
// share this connection.
func NewRedisClient(cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Auth.Redis.Host, cfg.Auth.Redis.Port),
		Password: cfg.Auth.Redis.Password,
		DB:       cfg.Auth.Redis.DB,
	})

	// Test connection
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

func NewRedisTokenStore(cfg *config.Config) (*RedisTokenStore, error) {
	client, err := NewRedisClient(cfg)
	if err != nil {
		return nil, err
	}
	return NewRedisTokenStoreWithClient(client, time.Duration(cfg.Auth.Redis.KeyTTL)*time.Second), nil
}

func NewRedisTokenStoreWithClient(client *redis.Client, ttl time.Duration) *RedisTokenStore {
	return &RedisTokenStore{client: client, ttl: ttl}
}

func (s *RedisTokenStore) Lookup(ctx context.Context, token string) (*TokenInfo, error) {
	data, err := s.client.Get(ctx, tokenKeyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}

	var info TokenInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("corrupt cached token: %w", err)
	}
	info.Token = token
	return &info, nil
}

func (s *RedisTokenStore) Cache(ctx context.Context, info *TokenInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, tokenKeyPrefix+info.Token, data, s.ttl).Err()
}

func (s *RedisTokenStore) Close() error {
	return s.client.Close()
}
