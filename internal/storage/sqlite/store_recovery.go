package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/tuxedoai/vaultgate/internal/storage"
)

// ReplaceRecoveryCodes swaps a user's recovery batch atomically. Old codes,
// used or not, stop working the moment the transaction commits, and the
// user's acknowledgment is cleared so custody operations stay refused until
// the new batch is confirmed saved.
func (s *Store) ReplaceRecoveryCodes(ctx context.Context, userID string, codes []storage.RecoveryCode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}
	for _, code := range codes {
		if strings.TrimSpace(code.ID) == "" {
			return fmt.Errorf("recovery code id is required")
		}
		if strings.TrimSpace(code.CodeHash) == "" {
			return fmt.Errorf("recovery code hash is required")
		}
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace recovery codes: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM recovery_codes WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("clear recovery codes: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "UPDATE users SET recovery_ack_at = NULL WHERE id = ?", userID); err != nil {
		return fmt.Errorf("clear recovery acknowledgment: %w", err)
	}

	now := time.Now().UTC()
	for _, code := range codes {
		createdAt := code.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO recovery_codes (id, user_id, code_hash, created_at, used_at)
VALUES (?, ?, ?, ?, ?)
`, code.ID, userID, code.CodeHash, toMillis(createdAt), nullMillis(code.UsedAt)); err != nil {
			return fmt.Errorf("insert recovery code: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace recovery codes: %w", err)
	}
	return nil
}

// ListRecoveryCodes returns the user's codes, used and unused, oldest first.
func (s *Store) ListRecoveryCodes(ctx context.Context, userID string) ([]storage.RecoveryCode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, user_id, code_hash, created_at, used_at
FROM recovery_codes
WHERE user_id = ?
ORDER BY created_at ASC
`, userID)
	if err != nil {
		return nil, fmt.Errorf("list recovery codes: %w", err)
	}
	defer rows.Close()

	var codes []storage.RecoveryCode
	for rows.Next() {
		var code storage.RecoveryCode
		var createdAt int64
		var usedAt sql.NullInt64
		if err := rows.Scan(&code.ID, &code.UserID, &code.CodeHash, &createdAt, &usedAt); err != nil {
			return nil, fmt.Errorf("scan recovery code: %w", err)
		}
		code.CreatedAt = fromMillis(createdAt)
		code.UsedAt = millisPtr(usedAt)
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recovery codes: %w", err)
	}
	return codes, nil
}

// MarkRecoveryCodeUsed burns a code in a single conditional UPDATE. A code
// transitions to used at most once; the loser of a race sees ok=false.
func (s *Store) MarkRecoveryCodeUsed(ctx context.Context, codeID string, usedAt time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(codeID) == "" {
		return false, fmt.Errorf("recovery code id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx,
		"UPDATE recovery_codes SET used_at = ? WHERE id = ? AND used_at IS NULL",
		toMillis(usedAt), codeID,
	)
	if err != nil {
		return false, fmt.Errorf("mark recovery code used: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark recovery code used rows affected: %w", err)
	}
	return affected > 0, nil
}

// CountUnusedRecoveryCodes reports how many codes the user has left.
func (s *Store) CountUnusedRecoveryCodes(ctx context.Context, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return 0, fmt.Errorf("user id is required")
	}

	var count int
	row := s.sqlDB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM recovery_codes WHERE user_id = ? AND used_at IS NULL",
		userID,
	)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count unused recovery codes: %w", err)
	}
	return count, nil
}

// RecordRecoveryAttempt appends one redemption attempt for rate limiting.
func (s *Store) RecordRecoveryAttempt(ctx context.Context, attempt storage.RecoveryAttempt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(attempt.ID) == "" {
		return fmt.Errorf("attempt id is required")
	}
	if strings.TrimSpace(attempt.Identity) == "" {
		return fmt.Errorf("attempt identity is required")
	}

	success := 0
	if attempt.Success {
		success = 1
	}
	if attempt.AttemptedAt.IsZero() {
		attempt.AttemptedAt = time.Now().UTC()
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO recovery_attempts (id, identity, attempted_at, success)
VALUES (?, ?, ?, ?)
`, attempt.ID, attempt.Identity, toMillis(attempt.AttemptedAt), success); err != nil {
		return fmt.Errorf("record recovery attempt: %w", err)
	}
	return nil
}

// CountFailedRecoveryAttempts counts failures for an identity since a cutoff.
func (s *Store) CountFailedRecoveryAttempts(ctx context.Context, identity string, since time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(identity) == "" {
		return 0, fmt.Errorf("attempt identity is required")
	}

	var count int
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT COUNT(*)
FROM recovery_attempts
WHERE identity = ? AND success = 0 AND attempted_at >= ?
`, identity, toMillis(since))
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count failed recovery attempts: %w", err)
	}
	return count, nil
}
