// Copyright (c) 2024-2025 Darcy Buskermolen <darcy@dbitech.ca>
// SPDX-License-Identifier: BSD-3-Clause

package auth

import (
	"context"
	"sync"
)

// MockTokenStore is an in-memory TokenStore for testing
type MockTokenStore struct {
	mu     sync.Mutex
	tokens map[string]TokenInfo
}

func NewMockTokenStore() *MockTokenStore {
	return &MockTokenStore{
		tokens: make(map[string]TokenInfo),
	}
}

func (m *MockTokenStore) Lookup(_ context.Context, token string) (*TokenInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.tokens[token]
	if !ok {
		return nil, ErrTokenNotFound
	}
	return &info, nil
}

func (m *MockTokenStore) Cache(_ context.Context, info *TokenInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[info.Token] = *info
	return nil
}

func (m *MockTokenStore) Close() error { return nil }
