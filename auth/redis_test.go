// Copyright (c) 2024-2025 Darcy Buskermolen <darcy@dbitech.ca>
// SPDX-License-Identifier: BSD-3-Clause

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gauthier-th/whisper-dashboard/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisTest(t *testing.T) (*RedisTokenStore, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{}
	cfg.Auth.Redis.Host = mr.Host()
	cfg.Auth.Redis.Port = mr.Server().Addr().Port
	cfg.Auth.Redis.KeyTTL = 1 // 1 second TTL for testing

	store, err := NewRedisTokenStore(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store, mr
}

func TestRedisTokenStore(t *testing.T) {
	store, mr := setupRedisTest(t)
	defer mr.Close()
	ctx := context.Background()

	t.Run("LookupNonExistentToken", func(t *testing.T) {
		info, err := store.Lookup(ctx, "non-existent")
		assert.ErrorIs(t, err, ErrTokenNotFound)
		assert.Nil(t, info)
	})

	t.Run("CacheAndLookupToken", func(t *testing.T) {
		err := store.Cache(ctx, &TokenInfo{Token: "test-token", UserID: "alice", Admin: true})
		assert.NoError(t, err)
		assert.True(t, mr.Exists("token:test-token"))

		info, err := store.Lookup(ctx, "test-token")
		require.NoError(t, err)
		assert.Equal(t, &TokenInfo{Token: "test-token", UserID: "alice", Admin: true}, info)
	})

	t.Run("TokenExpiration", func(t *testing.T) {
		err := store.Cache(ctx, &TokenInfo{Token: "expiring-token", UserID: "bob"})
		assert.NoError(t, err)

		mr.FastForward(2 * time.Second)

		_, err = store.Lookup(ctx, "expiring-token")
		assert.ErrorIs(t, err, ErrTokenNotFound)
	})

	t.Run("CorruptEntry", func(t *testing.T) {
		require.NoError(t, mr.Set("token:broken", "{not json"))
		_, err := store.Lookup(ctx, "broken")
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrTokenNotFound)
	})
}

func TestRedisConnectionFailure(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	cfg := &config.Config{}
	cfg.Auth.Redis.Host = mr.Host()
	cfg.Auth.Redis.Port = mr.Server().Addr().Port
	mr.Close()

	_, err = NewRedisTokenStore(cfg)
	assert.ErrorContains(t, err, "redis connection failed")
}
