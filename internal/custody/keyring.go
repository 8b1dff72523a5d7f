package custody

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/tuxedoai/vaultgate/internal/platform/errors"
)

// argon2id parameters; 64 MiB memory, 4 lanes, one pass, 32-byte key.
const (
	kdfTime    = 1
	kdfMemory  = 64 * 1024
	kdfThreads = 4
	kdfKeyLen  = 32

	saltLen = 16
)

// Keyring derives per-account encryption keys from the process master
// secret. A process without a master secret cannot serve custody at all, so
// construction fails rather than falling back.
type Keyring struct {
	master []byte
}

// NewKeyring wraps the master secret.
func NewKeyring(master []byte) (*Keyring, error) {
	if len(master) == 0 {
		return nil, errors.New(errors.CodeEncryptionKeyUnavailable, "custody master key is not configured")
	}
	return &Keyring{master: master}, nil
}

// DeriveUserKey stretches the master secret into an AES key bound to one
// account salt and one user. The same inputs always yield the same key.
func (k *Keyring) DeriveUserKey(salt []byte, userID string) ([]byte, error) {
	if k == nil || len(k.master) == 0 {
		return nil, errors.New(errors.CodeEncryptionKeyUnavailable, "custody master key is not configured")
	}
	if len(salt) == 0 {
		return nil, fmt.Errorf("key salt is required")
	}
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	bound := make([]byte, 0, len(salt)+len(userID))
	bound = append(bound, salt...)
	bound = append(bound, userID...)
	return argon2.IDKey(k.master, bound, kdfTime, kdfMemory, kdfThreads, kdfKeyLen), nil
}

// NewSalt draws a fresh per-account salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("read salt: %w", err)
	}
	return salt, nil
}
