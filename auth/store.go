// Copyright (c) 2024-2025 Darcy Buskermolen <darcy@dbitech.ca>
// SPDX-License-Identifier: BSD-3-Clause

package auth

import (
	"context"
	"errors"
)

// ErrTokenNotFound is returned when a store does not know a token.
var ErrTokenNotFound = errors.New("token not found")

// TokenStore defines the basic token operations
type TokenStore interface {
	Lookup(ctx context.Context, token string) (*TokenInfo, error)
	Cache(ctx context.Context, info *TokenInfo) error
	Close() error
}

// TokenInfo identifies the caller behind a bearer token.
type TokenInfo struct {
	Token  string `json:"-"`
	UserID string `json:"user_id"`
	Admin  bool   `json:"admin"`
}

// Anonymous is the identity used when authentication is disabled. It can see
// every transcription.
var Anonymous = TokenInfo{UserID: "anonymous", Admin: true}

// CanAccess reports whether the caller may see rows owned by owner.
func (i *TokenInfo) CanAccess(owner string) bool {
	return i.Admin || i.UserID == owner
}
