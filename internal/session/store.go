// Package session maps opaque session ids to verified identity claims stored in
// Redis.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"

	"github.com/schoolhub/schoolhub/internal/rbac"
)

// HeaderName carries the session id for non-browser clients.
const HeaderName = "X-Session-Token"

// ErrNotFound is returned when a session id is unknown or expired.
var ErrNotFound = errors.New("session: not found")

// Manager stores claims under hashed session ids.
type Manager struct {
	client     redis.Cmdable
	cookieName string
	ttl        time.Duration
	secure     bool
}

// NewManager constructs a Manager.
func NewManager(client redis.Cmdable, cookieName string, ttl time.Duration, secure bool) *Manager {
	if cookieName == "" {
		cookieName = "schoolhub_session"
	}
	return &Manager{client: client, cookieName: cookieName, ttl: ttl, secure: secure}
}

// Create validates claims and stores them under a new session id.
func (m *Manager) Create(ctx context.Context, claims rbac.Claims) (string, error) {
	if _, err := rbac.NewPrincipal(claims); err != nil {
		return "", err
	}
	id, err := generateID()
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	if err := m.client.Set(ctx, m.redisKey(id), data, m.ttl).Err(); err != nil {
		return "", fmt.Errorf("session: store: %w", err)
	}
	return id, nil
}

// Load returns the claims stored for id.
func (m *Manager) Load(ctx context.Context, id string) (rbac.Claims, error) {
	if id == "" {
		return rbac.Claims{}, ErrNotFound
	}
	payload, err := m.client.Get(ctx, m.redisKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return rbac.Claims{}, ErrNotFound
		}
		return rbac.Claims{}, fmt.Errorf("session: load: %w", err)
	}
	var claims rbac.Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return rbac.Claims{}, fmt.Errorf("session: decode: %w", err)
	}
	return claims, nil
}

// Revoke deletes the session. Unknown ids are not an error.
func (m *Manager) Revoke(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := m.client.Del(ctx, m.redisKey(id)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("session: revoke: %w", err)
	}
	return nil
}

// IDFromRequest reads the session id from the cookie or, failing that, the header.
func (m *Manager) IDFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(m.cookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return strings.TrimSpace(r.Header.Get(HeaderName))
}

// SetCookie writes the session cookie.
func (m *Manager) SetCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Now().Add(m.ttl),
	})
}

// ClearCookie expires the session cookie.
func (m *Manager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// CookieName returns the cookie identifier used for sessions.
func (m *Manager) CookieName() string {
	return m.cookieName
}

// redisKey hashes the id so a Redis dump does not expose usable tokens.
func (m *Manager) redisKey(id string) string {
	sum := blake2b.Sum256([]byte(id))
	return "session:" + hex.EncodeToString(sum[:])
}

func generateID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session: generate id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
