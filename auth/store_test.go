// Copyright (c) 2024-2025 Darcy Buskermolen <darcy@dbitech.ca>
// SPDX-License-Identifier: BSD-3-Clause

package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenStoreInterface(t *testing.T) {
	var store TokenStore = NewMockTokenStore()
	ctx := context.Background()

	// Unknown token
	_, err := store.Lookup(ctx, "test-token")
	assert.ErrorIs(t, err, ErrTokenNotFound)

	err = store.Cache(ctx, &TokenInfo{Token: "test-token", UserID: "alice"})
	assert.NoError(t, err)

	info, err := store.Lookup(ctx, "test-token")
	require.NoError(t, err)
	assert.Equal(t, "alice", info.UserID)
	assert.False(t, info.Admin)
}

func TestCanAccess(t *testing.T) {
	alice := &TokenInfo{UserID: "alice"}
	assert.True(t, alice.CanAccess("alice"))
	assert.False(t, alice.CanAccess("bob"))

	admin := &TokenInfo{UserID: "root", Admin: true}
	assert.True(t, admin.CanAccess("bob"))
	assert.True(t, Anonymous.CanAccess("bob"))
}
