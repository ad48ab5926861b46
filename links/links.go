// Copyright (c) 2024-2025 Darcy Buskermolen <darcy@dbitech.ca>
// SPDX-License-Identifier: BSD-3-Clause

// Package links issues short-lived tokens that let a browser download a
// transcription without sending its API token.
package links

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrLinkExpired is returned for tokens that are unknown or past their TTL.
var ErrLinkExpired = errors.New("download link expired")

type Store interface {
	Issue(ctx context.Context, id int64) (string, error)
	Resolve(ctx context.Context, token string) (int64, error)
}

type memoryLink struct {
	id      int64
	expires time.Time
}

// MemoryStore keeps links in process. They do not survive a restart.
type MemoryStore struct {
	ttl   time.Duration
	now   func() time.Time
	mu    sync.Mutex
	links map[string]memoryLink
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:   ttl,
		now:   time.Now,
		links: make(map[string]memoryLink),
	}
}

func (s *MemoryStore) Issue(_ context.Context, id int64) (string, error) {
	token := uuid.NewString()
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for t, l := range s.links {
		if !now.Before(l.expires) {
			delete(s.links, t)
		}
	}
	s.links[token] = memoryLink{id: id, expires: now.Add(s.ttl)}
	return token, nil
}

func (s *MemoryStore) Resolve(_ context.Context, token string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[token]
	if !ok {
		return 0, ErrLinkExpired
	}
	if !s.now().Before(l.expires) {
		delete(s.links, token)
		return 0, ErrLinkExpired
	}
	return l.id, nil
}
