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

const userColumns = "id, email, is_active, recovery_ack_at, created_at, last_login_at"

type userScanner interface {
	Scan(dest ...any) error
}

func scanUser(row userScanner) (storage.User, error) {
	var u storage.User
	var active int
	var recoveryAck sql.NullInt64
	var createdAt int64
	var lastLogin sql.NullInt64
	if err := row.Scan(&u.ID, &u.Email, &active, &recoveryAck, &createdAt, &lastLogin); err != nil {
		return storage.User{}, err
	}
	u.Active = active != 0
	u.RecoveryAckAt = millisPtr(recoveryAck)
	u.CreatedAt = fromMillis(createdAt)
	u.LastLoginAt = millisPtr(lastLogin)
	return u, nil
}

// PutUser inserts or replaces a user record.
func (s *Store) PutUser(ctx context.Context, u storage.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(u.Email) == "" {
		return fmt.Errorf("user email is required")
	}

	active := 0
	if u.Active {
		active = 1
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO users (id, email, is_active, recovery_ack_at, created_at, last_login_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	email = excluded.email,
	is_active = excluded.is_active,
	recovery_ack_at = excluded.recovery_ack_at,
	last_login_at = excluded.last_login_at
`,
		u.ID,
		strings.ToLower(strings.TrimSpace(u.Email)),
		active,
		nullMillis(u.RecoveryAckAt),
		toMillis(u.CreatedAt),
		nullMillis(u.LastLoginAt),
	)
	if err != nil {
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, userID string) (storage.User, error) {
	if err := ctx.Err(); err != nil {
		return storage.User{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.User{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return storage.User{}, fmt.Errorf("user id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", userID)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.User{}, storage.ErrNotFound
		}
		return storage.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GetUserByEmail fetches a user by its lowercase email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (storage.User, error) {
	if err := ctx.Err(); err != nil {
		return storage.User{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.User{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(email) == "" {
		return storage.User{}, fmt.Errorf("user email is required")
	}

	row := s.sqlDB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email = ?",
		strings.ToLower(strings.TrimSpace(email)),
	)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.User{}, storage.ErrNotFound
		}
		return storage.User{}, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// SetLastLogin records a successful authentication time.
func (s *Store) SetLastLogin(ctx context.Context, userID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx,
		"UPDATE users SET last_login_at = ? WHERE id = ?",
		toMillis(at), userID,
	)
	if err != nil {
		return fmt.Errorf("set last login: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set last login rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// SetRecoveryAcknowledged records the user confirming they saved their
// recovery codes.
func (s *Store) SetRecoveryAcknowledged(ctx context.Context, userID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx,
		"UPDATE users SET recovery_ack_at = ? WHERE id = ?",
		toMillis(at), userID,
	)
	if err != nil {
		return fmt.Errorf("set recovery acknowledged: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set recovery acknowledged rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteUser removes a user and, via cascade, every dependent record.
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}

	if _, err := s.sqlDB.ExecContext(ctx, "DELETE FROM users WHERE id = ?", userID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}
