// Copyright (c) 2024-2025 Darcy Buskermolen <darcy@dbitech.ca>
// SPDX-License-Identifier: BSD-3-Clause

package auth

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupPostgresTest(t *testing.T) (*PostgresTokenStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}

	store := &PostgresTokenStore{
		db:    db,
		query: "SELECT user_id, is_admin FROM api_tokens WHERE token = $1 AND valid_until > NOW()",
	}

	return store, mock
}

func TestPostgresTokenStore(t *testing.T) {
	store, mock := setupPostgresTest(t)
	defer store.Close()
	ctx := context.Background()

	t.Run("LookupValidToken", func(t *testing.T) {
		mock.ExpectQuery(`SELECT user_id, is_admin FROM api_tokens`).
			WithArgs("valid-token").
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "is_admin"}).AddRow("alice", false))

		info, err := store.Lookup(ctx, "valid-token")
		require.NoError(t, err)
		assert.Equal(t, &TokenInfo{Token: "valid-token", UserID: "alice"}, info)
	})

	t.Run("LookupAdminToken", func(t *testing.T) {
		mock.ExpectQuery(`SELECT user_id, is_admin FROM api_tokens`).
			WithArgs("admin-token").
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "is_admin"}).AddRow("root", true))

		info, err := store.Lookup(ctx, "admin-token")
		require.NoError(t, err)
		assert.True(t, info.Admin)
	})

	t.Run("LookupInvalidToken", func(t *testing.T) {
		mock.ExpectQuery(`SELECT user_id, is_admin FROM api_tokens`).
			WithArgs("invalid-token").
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "is_admin"}))

		info, err := store.Lookup(ctx, "invalid-token")
		assert.ErrorIs(t, err, ErrTokenNotFound)
		assert.Nil(t, info)
	})

	t.Run("DatabaseError", func(t *testing.T) {
		mock.ExpectQuery(`SELECT user_id, is_admin FROM api_tokens`).
			WithArgs("error-token").
			WillReturnError(sqlmock.ErrCancelled)

		_, err := store.Lookup(ctx, "error-token")
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrTokenNotFound)
	})

	t.Run("CacheIsNoop", func(t *testing.T) {
		assert.NoError(t, store.Cache(ctx, &TokenInfo{Token: "x"}))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
