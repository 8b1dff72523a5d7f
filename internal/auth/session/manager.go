package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/tuxedoai/vaultgate/internal/platform/errors"
	"github.com/tuxedoai/vaultgate/internal/platform/logging"
	"github.com/tuxedoai/vaultgate/internal/storage"
)

const (
	// DefaultTTL is the fixed session lifetime. Sessions do not slide.
	DefaultTTL = 7 * 24 * time.Hour

	tokenBytes = 32
)

// Manager issues and resolves bearer sessions.
type Manager struct {
	store storage.SessionStore
	ttl   time.Duration
	clock func() time.Time
	log   logging.Logger
}

// Option customizes a Manager.
type Option func(*Manager)

// WithTTL overrides the session lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithLogger overrides the audit logger.
func WithLogger(log logging.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// NewManager builds a session manager over the given store.
func NewManager(store storage.SessionStore, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	m := &Manager{
		store: store,
		ttl:   DefaultTTL,
		clock: time.Now,
		log:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Issue creates a session for the user and returns its opaque token.
func (m *Manager) Issue(ctx context.Context, userID string) (storage.Session, error) {
	if m == nil || m.store == nil {
		return storage.Session{}, fmt.Errorf("session manager is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return storage.Session{}, fmt.Errorf("user id is required")
	}

	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return storage.Session{}, fmt.Errorf("generate session token: %w", err)
	}

	now := m.clock().UTC()
	session := storage.Session{
		Token:          hex.EncodeToString(raw),
		UserID:         userID,
		IssuedAt:       now,
		ExpiresAt:      now.Add(m.ttl),
		LastAccessedAt: now,
	}
	if err := m.store.PutSession(ctx, session); err != nil {
		return storage.Session{}, fmt.Errorf("store session: %w", err)
	}
	m.log.Info(ctx, "session issued", "user_id", userID)
	return session, nil
}

// Resolve maps a bearer token to its user and refreshes the last-accessed
// time. Unknown, expired, and revoked tokens all fail the same way.
func (m *Manager) Resolve(ctx context.Context, token string) (string, error) {
	if m == nil || m.store == nil {
		return "", fmt.Errorf("session manager is not configured")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New(errors.CodeSessionInvalid, "session is not valid")
	}

	session, err := m.store.GetSession(ctx, token)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return "", errors.New(errors.CodeSessionInvalid, "session is not valid")
		}
		return "", fmt.Errorf("load session: %w", err)
	}

	now := m.clock().UTC()
	if session.RevokedAt != nil || !session.ExpiresAt.After(now) {
		return "", errors.New(errors.CodeSessionInvalid, "session is not valid")
	}

	if err := m.store.TouchSession(ctx, token, now); err != nil {
		return "", fmt.Errorf("touch session: %w", err)
	}
	return session.UserID, nil
}

// Revoke invalidates one session. Revoking an unknown token is a no-op; the
// caller already holds nothing usable.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	if m == nil || m.store == nil {
		return fmt.Errorf("session manager is not configured")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	if err := m.store.RevokeSession(ctx, token, m.clock().UTC()); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RevokeAll invalidates every live session for the user, for account-wide
// logout after recovery.
func (m *Manager) RevokeAll(ctx context.Context, userID string) error {
	if m == nil || m.store == nil {
		return fmt.Errorf("session manager is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if err := m.store.RevokeUserSessions(ctx, userID, m.clock().UTC()); err != nil {
		return fmt.Errorf("revoke user sessions: %w", err)
	}
	m.log.Info(ctx, "all sessions revoked", "user_id", userID)
	return nil
}

// SweepExpired deletes sessions past their expiry.
func (m *Manager) SweepExpired(ctx context.Context) error {
	if m == nil || m.store == nil {
		return fmt.Errorf("session manager is not configured")
	}
	return m.store.DeleteExpiredSessions(ctx, m.clock().UTC())
}
