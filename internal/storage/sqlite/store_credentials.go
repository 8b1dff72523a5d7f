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

const credentialColumns = "credential_id, user_id, credential_json, sign_count, label, backup_eligible, cloned_at, created_at, last_used_at"

func scanCredential(row userScanner) (storage.Credential, error) {
	var c storage.Credential
	var backupEligible int
	var clonedAt sql.NullInt64
	var createdAt int64
	var lastUsed sql.NullInt64
	if err := row.Scan(
		&c.CredentialID,
		&c.UserID,
		&c.CredentialJSON,
		&c.SignCount,
		&c.Label,
		&backupEligible,
		&clonedAt,
		&createdAt,
		&lastUsed,
	); err != nil {
		return storage.Credential{}, err
	}
	c.BackupEligible = backupEligible != 0
	c.ClonedAt = millisPtr(clonedAt)
	c.CreatedAt = fromMillis(createdAt)
	c.LastUsedAt = millisPtr(lastUsed)
	return c, nil
}

// PutCredential stores a verified WebAuthn credential.
func (s *Store) PutCredential(ctx context.Context, credential storage.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credential.CredentialID) == "" {
		return fmt.Errorf("credential id is required")
	}
	if strings.TrimSpace(credential.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(credential.CredentialJSON) == "" {
		return fmt.Errorf("credential json is required")
	}

	backupEligible := 0
	if credential.BackupEligible {
		backupEligible = 1
	}
	if credential.CreatedAt.IsZero() {
		credential.CreatedAt = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO credentials (credential_id, user_id, credential_json, sign_count, label, backup_eligible, cloned_at, created_at, last_used_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(credential_id) DO UPDATE SET
	credential_json = excluded.credential_json,
	sign_count = excluded.sign_count,
	label = excluded.label,
	backup_eligible = excluded.backup_eligible,
	cloned_at = excluded.cloned_at,
	last_used_at = excluded.last_used_at
`,
		credential.CredentialID,
		credential.UserID,
		credential.CredentialJSON,
		credential.SignCount,
		credential.Label,
		backupEligible,
		nullMillis(credential.ClonedAt),
		toMillis(credential.CreatedAt),
		nullMillis(credential.LastUsedAt),
	)
	if err != nil {
		return fmt.Errorf("put credential: %w", err)
	}
	return nil
}

// GetCredential fetches a stored credential by its authenticator id.
func (s *Store) GetCredential(ctx context.Context, credentialID string) (storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return storage.Credential{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Credential{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return storage.Credential{}, fmt.Errorf("credential id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx,
		"SELECT "+credentialColumns+" FROM credentials WHERE credential_id = ?",
		credentialID,
	)
	credential, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Credential{}, storage.ErrNotFound
		}
		return storage.Credential{}, fmt.Errorf("get credential: %w", err)
	}
	return credential, nil
}

// ListCredentials returns credentials for a user, oldest first.
func (s *Store) ListCredentials(ctx context.Context, userID string) ([]storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		"SELECT "+credentialColumns+" FROM credentials WHERE user_id = ? ORDER BY created_at ASC",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var credentials []storage.Credential
	for rows.Next() {
		credential, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		credentials = append(credentials, credential)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	return credentials, nil
}

// UpdateCredentialUsage stores the authenticator counter observed during a
// successful assertion alongside the serialized credential state.
func (s *Store) UpdateCredentialUsage(ctx context.Context, credentialID string, signCount uint32, usedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return fmt.Errorf("credential id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx,
		"UPDATE credentials SET sign_count = ?, last_used_at = ? WHERE credential_id = ?",
		signCount, toMillis(usedAt), credentialID,
	)
	if err != nil {
		return fmt.Errorf("update credential usage: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update credential usage rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// FlagCredentialCloned marks a credential as a suspected clone. The flag is
// never cleared by normal operation.
func (s *Store) FlagCredentialCloned(ctx context.Context, credentialID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return fmt.Errorf("credential id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx,
		"UPDATE credentials SET cloned_at = ? WHERE credential_id = ? AND cloned_at IS NULL",
		toMillis(at), credentialID,
	)
	if err != nil {
		return fmt.Errorf("flag credential cloned: %w", err)
	}
	if _, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("flag credential cloned rows affected: %w", err)
	}
	return nil
}

// DeleteCredentialGuarded removes a credential only while the owner keeps
// another way in. The guard runs inside the DELETE itself, so two concurrent
// removals can never strand an account: at most one of them sees the
// remaining-credential condition hold.
func (s *Store) DeleteCredentialGuarded(ctx context.Context, userID, credentialID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return false, fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(credentialID) == "" {
		return false, fmt.Errorf("credential id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM credentials
WHERE credential_id = ?1
  AND user_id = ?2
  AND (
	(SELECT COUNT(*) FROM credentials WHERE user_id = ?2) > 1
	OR EXISTS (
		SELECT 1 FROM recovery_codes
		WHERE user_id = ?2 AND used_at IS NULL
	)
  )
`, credentialID, userID)
	if err != nil {
		return false, fmt.Errorf("delete credential: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete credential rows affected: %w", err)
	}
	return affected > 0, nil
}
