package custody

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base32"
	"encoding/base64"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tuxedoai/vaultgate/internal/platform/errors"
	"github.com/tuxedoai/vaultgate/internal/platform/logging"
	"github.com/tuxedoai/vaultgate/internal/storage"
)

// addressEncoding renders public keys as stable uppercase account addresses.
var addressEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Vault provisions custodial accounts and controls access to their secrets.
type Vault struct {
	accounts storage.AccountStore
	users    storage.UserStore
	keyring  *Keyring
	clock    func() time.Time
	log      logging.Logger
}

// VaultOption customizes a Vault.
type VaultOption func(*Vault)

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) VaultOption {
	return func(v *Vault) {
		if clock != nil {
			v.clock = clock
		}
	}
}

// WithLogger overrides the audit logger.
func WithLogger(log logging.Logger) VaultOption {
	return func(v *Vault) {
		if log != nil {
			v.log = log
		}
	}
}

// NewVault builds a custody vault over the given stores and keyring.
func NewVault(accounts storage.AccountStore, users storage.UserStore, keyring *Keyring, opts ...VaultOption) (*Vault, error) {
	if accounts == nil {
		return nil, fmt.Errorf("account store is required")
	}
	if users == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if keyring == nil {
		return nil, errors.New(errors.CodeEncryptionKeyUnavailable, "custody keyring is not configured")
	}
	v := &Vault{
		accounts: accounts,
		users:    users,
		keyring:  keyring,
		clock:    time.Now,
		log:      logging.Nop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// CreateAccount generates a fresh ed25519 keypair for the user and stores
// the seed sealed under a key derived for this account alone.
func (v *Vault) CreateAccount(ctx context.Context, userID, label string) (storage.CustodialAccount, error) {
	if v == nil {
		return storage.CustodialAccount{}, fmt.Errorf("vault is not configured")
	}
	_, seed, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return storage.CustodialAccount{}, fmt.Errorf("generate keypair: %w", err)
	}
	return v.provision(ctx, userID, label, seed.Seed())
}

// ImportAccount provisions an account from a caller-supplied ed25519 seed,
// base64 encoded.
func (v *Vault) ImportAccount(ctx context.Context, userID, label, seedB64 string) (storage.CustodialAccount, error) {
	if v == nil {
		return storage.CustodialAccount{}, fmt.Errorf("vault is not configured")
	}
	seed, err := base64.RawStdEncoding.DecodeString(strings.TrimSpace(seedB64))
	if err != nil {
		return storage.CustodialAccount{}, fmt.Errorf("decode seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return storage.CustodialAccount{}, fmt.Errorf("seed must be %d bytes", ed25519.SeedSize)
	}
	return v.provision(ctx, userID, label, seed)
}

func (v *Vault) provision(ctx context.Context, userID, label string, seed []byte) (storage.CustodialAccount, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return storage.CustodialAccount{}, fmt.Errorf("user id is required")
	}
	user, err := v.users.GetUser(ctx, userID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return storage.CustodialAccount{}, errors.New(errors.CodeUnknownIdentity, "account not found")
		}
		return storage.CustodialAccount{}, fmt.Errorf("load user: %w", err)
	}
	if user.RecoveryAckAt == nil {
		return storage.CustodialAccount{}, errors.New(errors.CodeRecoveryNotAcknowledged, "recovery codes must be saved before custody is provisioned")
	}

	salt, err := NewSalt()
	if err != nil {
		return storage.CustodialAccount{}, err
	}
	key, err := v.keyring.DeriveUserKey(salt, userID)
	if err != nil {
		return storage.CustodialAccount{}, err
	}
	sealer, err := NewAESGCMSealer(key)
	if err != nil {
		return storage.CustodialAccount{}, fmt.Errorf("build sealer: %w", err)
	}
	sealed, err := sealer.Seal(seed)
	if err != nil {
		return storage.CustodialAccount{}, fmt.Errorf("seal secret: %w", err)
	}

	publicKey := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
	account := storage.CustodialAccount{
		ID:              uuid.NewString(),
		UserID:          userID,
		Address:         Address(publicKey),
		PublicKey:       base64.RawStdEncoding.EncodeToString(publicKey),
		EncryptedSecret: sealed,
		KeySalt:         base64.RawStdEncoding.EncodeToString(salt),
		Label:           strings.TrimSpace(label),
		CreatedAt:       v.clock().UTC(),
	}
	if err := v.accounts.PutAccount(ctx, account); err != nil {
		return storage.CustodialAccount{}, fmt.Errorf("store account: %w", err)
	}

	v.log.Info(ctx, "custodial account provisioned",
		"user_id", userID,
		"address", account.Address,
	)
	return account, nil
}

// ExportSecret decrypts and returns one account seed, base64 encoded.
//
// Ownership is re-resolved from storage on every call: the requesting
// session's user must own the row regardless of how the address was
// obtained. Violations are logged in full server-side.
func (v *Vault) ExportSecret(ctx context.Context, sessionUserID, address string) (string, error) {
	if v == nil {
		return "", fmt.Errorf("vault is not configured")
	}
	sessionUserID = strings.TrimSpace(sessionUserID)
	if sessionUserID == "" {
		return "", fmt.Errorf("session user id is required")
	}

	account, err := v.accounts.GetAccountByAddress(ctx, strings.TrimSpace(address))
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return "", errors.New(errors.CodeNotFound, "account not found")
		}
		return "", fmt.Errorf("load account: %w", err)
	}
	if account.UserID != sessionUserID {
		v.log.Error(ctx, "account ownership violation on export",
			"session_user_id", sessionUserID,
			"owner_user_id", account.UserID,
			"address", account.Address,
		)
		return "", errors.WithMetadata(errors.CodeAccountOwnershipViolation, "account is not owned by this session",
			map[string]string{"address": account.Address})
	}

	owner, err := v.users.GetUser(ctx, account.UserID)
	if err != nil {
		return "", fmt.Errorf("load owner: %w", err)
	}
	if owner.RecoveryAckAt == nil {
		return "", errors.New(errors.CodeRecoveryNotAcknowledged, "recovery codes must be saved before secrets are exported")
	}

	salt, err := base64.RawStdEncoding.DecodeString(account.KeySalt)
	if err != nil {
		return "", fmt.Errorf("decode key salt: %w", err)
	}
	key, err := v.keyring.DeriveUserKey(salt, account.UserID)
	if err != nil {
		return "", err
	}
	sealer, err := NewAESGCMSealer(key)
	if err != nil {
		return "", fmt.Errorf("build sealer: %w", err)
	}
	seed, err := sealer.Open(account.EncryptedSecret)
	if err != nil {
		return "", fmt.Errorf("open secret: %w", err)
	}

	if err := v.accounts.TouchAccount(ctx, account.Address, v.clock().UTC()); err != nil {
		return "", fmt.Errorf("touch account: %w", err)
	}
	v.log.Warn(ctx, "custodial secret exported",
		"user_id", account.UserID,
		"address", account.Address,
	)
	return base64.RawStdEncoding.EncodeToString(seed), nil
}

// ListAccounts returns the user's custodial accounts. Encrypted secrets are
// stripped from the result.
func (v *Vault) ListAccounts(ctx context.Context, userID string) ([]storage.CustodialAccount, error) {
	if v == nil {
		return nil, fmt.Errorf("vault is not configured")
	}
	accounts, err := v.accounts.ListAccountsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	for i := range accounts {
		accounts[i].EncryptedSecret = ""
		accounts[i].KeySalt = ""
	}
	return accounts, nil
}

// DeleteAccount removes one custodial account owned by the session user.
func (v *Vault) DeleteAccount(ctx context.Context, sessionUserID, address string) error {
	if v == nil {
		return fmt.Errorf("vault is not configured")
	}
	deleted, err := v.accounts.DeleteAccount(ctx, strings.TrimSpace(sessionUserID), strings.TrimSpace(address))
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if !deleted {
		account, err := v.accounts.GetAccountByAddress(ctx, strings.TrimSpace(address))
		if err != nil {
			if stderrors.Is(err, storage.ErrNotFound) {
				return errors.New(errors.CodeNotFound, "account not found")
			}
			return fmt.Errorf("load account: %w", err)
		}
		v.log.Error(ctx, "account ownership violation on delete",
			"session_user_id", sessionUserID,
			"owner_user_id", account.UserID,
			"address", account.Address,
		)
		return errors.New(errors.CodeAccountOwnershipViolation, "account is not owned by this session")
	}
	v.log.Info(ctx, "custodial account deleted", "user_id", sessionUserID, "address", address)
	return nil
}

// Address renders a public key as the account's external address.
func Address(publicKey ed25519.PublicKey) string {
	return "G" + addressEncoding.EncodeToString(publicKey)
}
