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

const accountColumns = "id, user_id, address, public_key, encrypted_secret, key_salt, label, created_at, last_used_at"

func scanAccount(row userScanner) (storage.CustodialAccount, error) {
	var account storage.CustodialAccount
	var createdAt int64
	var lastUsed sql.NullInt64
	if err := row.Scan(
		&account.ID,
		&account.UserID,
		&account.Address,
		&account.PublicKey,
		&account.EncryptedSecret,
		&account.KeySalt,
		&account.Label,
		&createdAt,
		&lastUsed,
	); err != nil {
		return storage.CustodialAccount{}, err
	}
	account.CreatedAt = fromMillis(createdAt)
	account.LastUsedAt = millisPtr(lastUsed)
	return account, nil
}

// PutAccount stores a custodial account with its sealed secret.
func (s *Store) PutAccount(ctx context.Context, account storage.CustodialAccount) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(account.ID) == "" {
		return fmt.Errorf("account id is required")
	}
	if strings.TrimSpace(account.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(account.Address) == "" {
		return fmt.Errorf("account address is required")
	}
	if strings.TrimSpace(account.EncryptedSecret) == "" {
		return fmt.Errorf("encrypted secret is required")
	}
	if strings.TrimSpace(account.KeySalt) == "" {
		return fmt.Errorf("key salt is required")
	}

	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO custodial_accounts (id, user_id, address, public_key, encrypted_secret, key_salt, label, created_at, last_used_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		account.ID,
		account.UserID,
		account.Address,
		account.PublicKey,
		account.EncryptedSecret,
		account.KeySalt,
		account.Label,
		toMillis(account.CreatedAt),
		nullMillis(account.LastUsedAt),
	)
	if err != nil {
		return fmt.Errorf("put account: %w", err)
	}
	return nil
}

// GetAccountByAddress fetches a custodial account by its public address.
func (s *Store) GetAccountByAddress(ctx context.Context, address string) (storage.CustodialAccount, error) {
	if err := ctx.Err(); err != nil {
		return storage.CustodialAccount{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.CustodialAccount{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(address) == "" {
		return storage.CustodialAccount{}, fmt.Errorf("account address is required")
	}

	row := s.sqlDB.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM custodial_accounts WHERE address = ?",
		address,
	)
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.CustodialAccount{}, storage.ErrNotFound
		}
		return storage.CustodialAccount{}, fmt.Errorf("get account: %w", err)
	}
	return account, nil
}

// ListAccountsByUser returns the user's custodial accounts, oldest first.
func (s *Store) ListAccountsByUser(ctx context.Context, userID string) ([]storage.CustodialAccount, error) {
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
		"SELECT "+accountColumns+" FROM custodial_accounts WHERE user_id = ? ORDER BY created_at ASC",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []storage.CustodialAccount
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return accounts, nil
}

// TouchAccount records key material usage for auditing.
func (s *Store) TouchAccount(ctx context.Context, address string, usedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(address) == "" {
		return fmt.Errorf("account address is required")
	}

	if _, err := s.sqlDB.ExecContext(ctx,
		"UPDATE custodial_accounts SET last_used_at = ? WHERE address = ?",
		toMillis(usedAt), address,
	); err != nil {
		return fmt.Errorf("touch account: %w", err)
	}
	return nil
}

// DeleteAccount removes a custodial account owned by userID. It reports
// whether a row was deleted, so callers can distinguish an unknown address
// from one owned by somebody else without a second query.
func (s *Store) DeleteAccount(ctx context.Context, userID, address string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return false, fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(address) == "" {
		return false, fmt.Errorf("account address is required")
	}

	result, err := s.sqlDB.ExecContext(ctx,
		"DELETE FROM custodial_accounts WHERE address = ? AND user_id = ?",
		address, userID,
	)
	if err != nil {
		return false, fmt.Errorf("delete account: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete account rows affected: %w", err)
	}
	return affected > 0, nil
}
