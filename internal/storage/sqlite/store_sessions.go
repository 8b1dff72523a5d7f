package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tuxedoai/vaultgate/internal/storage"
)

const sessionColumns = "token, user_id, issued_at, expires_at, last_accessed_at, revoked_at"

func scanSession(row userScanner) (storage.Session, error) {
	var sess storage.Session
	var issuedAt int64
	var expiresAt int64
	var lastAccessed int64
	var revokedAt sql.NullInt64
	if err := row.Scan(&sess.Token, &sess.UserID, &issuedAt, &expiresAt, &lastAccessed, &revokedAt); err != nil {
		return storage.Session{}, err
	}
	sess.IssuedAt = fromMillis(issuedAt)
	sess.ExpiresAt = fromMillis(expiresAt)
	sess.LastAccessedAt = fromMillis(lastAccessed)
	sess.RevokedAt = millisPtr(revokedAt)
	return sess, nil
}

// PutSession stores a newly issued bearer session.
func (s *Store) PutSession(ctx context.Context, session storage.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(session.Token) == "" {
		return fmt.Errorf("session token is required")
	}
	if strings.TrimSpace(session.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if session.ExpiresAt.IsZero() {
		return fmt.Errorf("session expiry is required")
	}

	if session.IssuedAt.IsZero() {
		session.IssuedAt = time.Now().UTC()
	}
	if session.LastAccessedAt.IsZero() {
		session.LastAccessedAt = session.IssuedAt
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO sessions (token, user_id, issued_at, expires_at, last_accessed_at, revoked_at)
VALUES (?, ?, ?, ?, ?, ?)
`,
		session.Token,
		session.UserID,
		toMillis(session.IssuedAt),
		toMillis(session.ExpiresAt),
		toMillis(session.LastAccessedAt),
		nullMillis(session.RevokedAt),
	)
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// GetSession fetches a session by its opaque token.
func (s *Store) GetSession(ctx context.Context, token string) (storage.Session, error) {
	if err := ctx.Err(); err != nil {
		return storage.Session{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Session{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(token) == "" {
		return storage.Session{}, fmt.Errorf("session token is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE token = ?", token)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Session{}, storage.ErrNotFound
		}
		return storage.Session{}, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// TouchSession records session activity for auditing.
func (s *Store) TouchSession(ctx context.Context, token string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("session token is required")
	}

	if _, err := s.sqlDB.ExecContext(ctx,
		"UPDATE sessions SET last_accessed_at = ? WHERE token = ?",
		toMillis(at), token,
	); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// RevokeSession invalidates one session immediately.
func (s *Store) RevokeSession(ctx context.Context, token string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("session token is required")
	}

	if _, err := s.sqlDB.ExecContext(ctx,
		"UPDATE sessions SET revoked_at = ? WHERE token = ? AND revoked_at IS NULL",
		toMillis(at), token,
	); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RevokeUserSessions invalidates every live session for a user.
func (s *Store) RevokeUserSessions(ctx context.Context, userID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}

	if _, err := s.sqlDB.ExecContext(ctx,
		"UPDATE sessions SET revoked_at = ? WHERE user_id = ? AND revoked_at IS NULL",
		toMillis(at), userID,
	); err != nil {
		return fmt.Errorf("revoke user sessions: %w", err)
	}
	return nil
}

// DeleteExpiredSessions sweeps sessions past their expiry.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	if _, err := s.sqlDB.ExecContext(ctx,
		"DELETE FROM sessions WHERE expires_at <= ?", toMillis(now),
	); err != nil {
		return fmt.Errorf("delete expired sessions: %w", err)
	}
	return nil
}
