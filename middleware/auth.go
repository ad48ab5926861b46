// Copyright (c) 2024-2025 Darcy Buskermolen <darcy@dbitech.ca>
// SPDX-License-Identifier: BSD-3-Clause

package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gauthier-th/whisper-dashboard/auth"
	"github.com/gauthier-th/whisper-dashboard/config"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const tokenInfoKey = "token_info"

type storeConstructor func(*config.Config) (auth.TokenStore, error)

// AuthMiddleware handles bearer token authentication
type AuthMiddleware struct {
	cfg        *config.Config
	redisStore auth.TokenStore
	pgStore    auth.TokenStore

	redisConstructor    storeConstructor
	postgresConstructor storeConstructor
}

// NewAuthMiddleware creates a new auth middleware instance
func NewAuthMiddleware(cfg *config.Config) (*AuthMiddleware, error) {
	redisConstructor := func(cfg *config.Config) (auth.TokenStore, error) {
		return auth.NewRedisTokenStore(cfg)
	}

	postgresConstructor := func(cfg *config.Config) (auth.TokenStore, error) {
		return auth.NewPostgresTokenStore(cfg)
	}

	m := &AuthMiddleware{
		cfg:                 cfg,
		redisConstructor:    redisConstructor,
		postgresConstructor: postgresConstructor,
	}
	return m, m.initialize()
}

func (m *AuthMiddleware) initialize() error {
	// If auth is disabled, ensure no stores are initialized
	if !m.cfg.Auth.Enabled {
		m.redisStore = nil
		m.pgStore = nil
		return nil
	}

	if m.cfg.Auth.Redis.Enabled {
		store, err := m.redisConstructor(m.cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize Redis store: %w", err)
		}
		m.redisStore = store
	}

	if m.cfg.Auth.Postgres.Enabled {
		store, err := m.postgresConstructor(m.cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize Postgres store: %w", err)
		}
		m.pgStore = store
	}

	return nil
}

// Close releases the token store connections.
func (m *AuthMiddleware) Close() error {
	var errs []error
	for _, store := range []auth.TokenStore{m.redisStore, m.pgStore} {
		if store != nil {
			errs = append(errs, store.Close())
		}
	}
	return errors.Join(errs...)
}

// Handler returns the gin middleware handler function
func (m *AuthMiddleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Fast path: if auth is disabled, everyone is the anonymous admin
		if !m.cfg.Auth.Enabled {
			info := auth.Anonymous
			c.Set(tokenInfoKey, &info)
			c.Next()
			return
		}

		token := extractToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		info := m.lookup(c, token)
		if info == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}

		c.Set(tokenInfoKey, info)
		c.Next()
	}
}

// lookup tries Redis, then PostgreSQL, then the static tokens. Tokens found
// past Redis are cached there.
func (m *AuthMiddleware) lookup(c *gin.Context, token string) *auth.TokenInfo {
	ctx := c.Request.Context()

	if m.redisStore != nil {
		info, err := m.redisStore.Lookup(ctx, token)
		if err == nil {
			return info
		}
		if !errors.Is(err, auth.ErrTokenNotFound) {
			slog.Warn("redis token lookup failed", "component", "auth", "error", err)
		}
	}

	var info *auth.TokenInfo
	if m.pgStore != nil {
		found, err := m.pgStore.Lookup(ctx, token)
		if err == nil {
			info = found
		} else if !errors.Is(err, auth.ErrTokenNotFound) {
			slog.Warn("postgres token lookup failed", "component", "auth", "error", err)
		}
	}

	if info == nil {
		for _, st := range m.cfg.Auth.Tokens {
			if token == st.Token {
				info = &auth.TokenInfo{Token: st.Token, UserID: st.User, Admin: st.Admin}
				break
			}
		}
	}

	if info != nil && m.redisStore != nil {
		_ = m.redisStore.Cache(ctx, info)
	}
	return info
}

// TokenFrom returns the caller identity set by the auth handler. Requests
// that never went through it get a non-admin identity with no user.
func TokenFrom(c *gin.Context) *auth.TokenInfo {
	if v, ok := c.Get(tokenInfoKey); ok {
		if info, ok := v.(*auth.TokenInfo); ok {
			return info
		}
	}
	return &auth.TokenInfo{}
}

func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		// Browsers cannot set headers on a websocket handshake.
		if websocket.IsWebSocketUpgrade(c.Request) {
			return c.Query("access_token")
		}
		return ""
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}

	return parts[1]
}
