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

const challengeColumns = "id, kind, user_id, challenge, session_json, created_at, expires_at, consumed_at"

func scanChallenge(row userScanner) (storage.Challenge, error) {
	var c storage.Challenge
	var kind string
	var userID sql.NullString
	var createdAt int64
	var expiresAt int64
	var consumedAt sql.NullInt64
	if err := row.Scan(&c.ID, &kind, &userID, &c.Value, &c.SessionJSON, &createdAt, &expiresAt, &consumedAt); err != nil {
		return storage.Challenge{}, err
	}
	c.Kind = storage.CeremonyKind(kind)
	if userID.Valid {
		c.UserID = userID.String
	}
	c.CreatedAt = fromMillis(createdAt)
	c.ExpiresAt = fromMillis(expiresAt)
	c.ConsumedAt = millisPtr(consumedAt)
	return c, nil
}

// PutChallenge stores a freshly issued ceremony challenge.
func (s *Store) PutChallenge(ctx context.Context, challenge storage.Challenge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(challenge.ID) == "" {
		return fmt.Errorf("challenge id is required")
	}
	if strings.TrimSpace(string(challenge.Kind)) == "" {
		return fmt.Errorf("challenge kind is required")
	}
	if strings.TrimSpace(challenge.Value) == "" {
		return fmt.Errorf("challenge value is required")
	}
	if challenge.ExpiresAt.IsZero() {
		return fmt.Errorf("challenge expiry is required")
	}

	var userID sql.NullString
	if strings.TrimSpace(challenge.UserID) != "" {
		userID = sql.NullString{String: challenge.UserID, Valid: true}
	}
	if challenge.CreatedAt.IsZero() {
		challenge.CreatedAt = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO challenges (id, kind, user_id, challenge, session_json, created_at, expires_at, consumed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
		challenge.ID,
		string(challenge.Kind),
		userID,
		challenge.Value,
		challenge.SessionJSON,
		toMillis(challenge.CreatedAt),
		toMillis(challenge.ExpiresAt),
		nullMillis(challenge.ConsumedAt),
	)
	if err != nil {
		return fmt.Errorf("put challenge: %w", err)
	}
	return nil
}

// ConsumeChallenge marks a challenge consumed in a single conditional UPDATE.
// The row transitions at most once: a second caller, or a caller arriving
// after expiry, sees zero rows affected and reports ok=false.
func (s *Store) ConsumeChallenge(ctx context.Context, id string, now time.Time) (storage.Challenge, bool, error) {
	if err := ctx.Err(); err != nil {
		return storage.Challenge{}, false, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Challenge{}, false, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return storage.Challenge{}, false, fmt.Errorf("challenge id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE challenges
SET consumed_at = ?
WHERE id = ? AND consumed_at IS NULL AND expires_at > ?
`, toMillis(now), id, toMillis(now))
	if err != nil {
		return storage.Challenge{}, false, fmt.Errorf("consume challenge: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return storage.Challenge{}, false, fmt.Errorf("consume challenge rows affected: %w", err)
	}
	if affected == 0 {
		return storage.Challenge{}, false, nil
	}

	row := s.sqlDB.QueryRowContext(ctx, "SELECT "+challengeColumns+" FROM challenges WHERE id = ?", id)
	challenge, err := scanChallenge(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Challenge{}, false, storage.ErrNotFound
		}
		return storage.Challenge{}, false, fmt.Errorf("load consumed challenge: %w", err)
	}
	return challenge, true, nil
}

// DeleteExpiredChallenges sweeps rows past their expiry. Consumed rows are
// removed too once expired; they have no further evidentiary value.
func (s *Store) DeleteExpiredChallenges(ctx context.Context, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	if _, err := s.sqlDB.ExecContext(ctx,
		"DELETE FROM challenges WHERE expires_at <= ?", toMillis(now),
	); err != nil {
		return fmt.Errorf("delete expired challenges: %w", err)
	}
	return nil
}
