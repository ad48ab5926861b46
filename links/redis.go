// Copyright (c) 2024-2025 Darcy Buskermolen <darcy@dbitech.ca>
// SPDX-License-Identifier: BSD-3-Clause

package links

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "link:"

// RedisStore keeps links in Redis so every API instance can resolve them.
// Expiry is left to the key TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Issue(ctx context.Context, id int64) (string, error) {
	token := uuid.NewString()
	if err := s.client.Set(ctx, keyPrefix+token, id, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to store download link: %w", err)
	}
	return token, nil
}

func (s *RedisStore) Resolve(ctx context.Context, token string) (int64, error) {
	id, err := s.client.Get(ctx, keyPrefix+token).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, ErrLinkExpired
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve download link: %w", err)
	}
	return id, nil
}
