// Copyright (c) 2024-2025 Darcy Buskermolen <darcy@dbitech.ca>
// SPDX-License-Identifier: BSD-3-Clause

package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/gauthier-th/whisper-dashboard/config"
	_ "github.com/lib/pq"
)

// PostgresTokenStore implements TokenStore for PostgreSQL
type PostgresTokenStore struct {
	db    *sql.DB
	query string
}

func NewPostgresTokenStore(cfg *config.Config) (*PostgresTokenStore, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Auth.Postgres.Host,
		cfg.Auth.Postgres.Port,
		cfg.Auth.Postgres.User,
		cfg.Auth.Postgres.Password,
		cfg.Auth.Postgres.DBName,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("postgres connection failed: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	return &PostgresTokenStore{
		db:    db,
		query: cfg.Auth.Postgres.Query,
	}, nil
}

// Lookup runs the configured query, which must return user_id and is_admin
// for a valid token and no rows otherwise.
func (s *PostgresTokenStore) Lookup(ctx context.Context, token string) (*TokenInfo, error) {
	info := TokenInfo{Token: token}
	err := s.db.QueryRowContext(ctx, s.query, token).Scan(&info.UserID, &info.Admin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// Cache is a no-op for PostgreSQL as it is the source of truth
func (s *PostgresTokenStore) Cache(context.Context, *TokenInfo) error {
	return nil
}

func (s *PostgresTokenStore) Close() error {
	return s.db.Close()
}
