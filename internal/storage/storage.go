package storage

import (
	"context"
	"time"

	"github.com/tuxedoai/vaultgate/internal/platform/errors"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// CeremonyKind scopes a challenge to one ceremony type.
type CeremonyKind string

const (
	CeremonyRegistration CeremonyKind = "registration"
	CeremonyLogin        CeremonyKind = "login"
)

// User is an authenticated identity record.
type User struct {
	ID string
	// Email is the unique contact identity, stored lowercase.
	Email         string
	Active        bool
	RecoveryAckAt *time.Time
	CreatedAt     time.Time
	LastLoginAt   *time.Time
}

// Credential stores a verified WebAuthn credential for a user.
type Credential struct {
	// CredentialID is the authenticator-assigned id, base64url encoded.
	CredentialID string
	UserID       string
	// CredentialJSON is the serialized webauthn.Credential, including the
	// public key and authenticator metadata.
	CredentialJSON string
	// SignCount mirrors the authenticator counter inside CredentialJSON so
	// the clone check and listing queries never parse JSON.
	SignCount      uint32
	Label          string
	BackupEligible bool
	// ClonedAt is set when a sign counter regression flagged this
	// credential; flagged credentials never authenticate again.
	ClonedAt   *time.Time
	CreatedAt  time.Time
	LastUsedAt *time.Time
}

// Challenge is a single-use, time-bounded ceremony challenge.
type Challenge struct {
	ID   string
	Kind CeremonyKind
	// UserID is the candidate user for login ceremonies; empty for
	// registration, where no user exists yet.
	UserID string
	// Value holds the random challenge bytes, base64url encoded.
	Value string
	// SessionJSON carries the serialized webauthn.SessionData issued with
	// this challenge.
	SessionJSON string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	ConsumedAt  *time.Time
}

// Session is an opaque bearer session bound to one user.
type Session struct {
	Token          string
	UserID         string
	IssuedAt       time.Time
	ExpiresAt      time.Time
	LastAccessedAt time.Time
	RevokedAt      *time.Time
}

// RecoveryCode stores the salted hash of one single-use backup code.
type RecoveryCode struct {
	ID        string
	UserID    string
	CodeHash  string
	CreatedAt time.Time
	UsedAt    *time.Time
}

// RecoveryAttempt records one redemption attempt for rate limiting. Rows are
// written for unknown identities too, so attackers cannot distinguish
// existing accounts by lockout behavior.
type RecoveryAttempt struct {
	ID          string
	Identity    string
	AttemptedAt time.Time
	Success     bool
}

// CustodialAccount is a platform-held keypair encrypted at rest.
type CustodialAccount struct {
	ID        string
	UserID    string
	Address   string
	PublicKey string
	// EncryptedSecret is the AES-GCM sealed private key, base64 encoded.
	EncryptedSecret string
	// KeySalt is the per-account random salt fed into the key derivation.
	KeySalt    string
	Label      string
	CreatedAt  time.Time
	LastUsedAt *time.Time
}

// UserStore persists user identity records.
type UserStore interface {
	PutUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, userID string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	SetLastLogin(ctx context.Context, userID string, at time.Time) error
	SetRecoveryAcknowledged(ctx context.Context, userID string, at time.Time) error
	DeleteUser(ctx context.Context, userID string) error
}

// CredentialStore persists WebAuthn credentials.
type CredentialStore interface {
	PutCredential(ctx context.Context, credential Credential) error
	GetCredential(ctx context.Context, credentialID string) (Credential, error)
	ListCredentials(ctx context.Context, userID string) ([]Credential, error)
	// UpdateCredentialUsage stores the new sign counter and last-used time
	// after a successful authentication.
	UpdateCredentialUsage(ctx context.Context, credentialID string, signCount uint32, usedAt time.Time) error
	// FlagCredentialCloned marks a credential as a suspected clone.
	FlagCredentialCloned(ctx context.Context, credentialID string, at time.Time) error
	// DeleteCredentialGuarded removes a credential owned by userID unless
	// doing so would leave the user with no credential and no unused
	// recovery code. It reports whether a row was deleted.
	DeleteCredentialGuarded(ctx context.Context, userID, credentialID string) (bool, error)
}

// ChallengeStore persists ceremony challenges.
type ChallengeStore interface {
	PutChallenge(ctx context.Context, challenge Challenge) error
	// ConsumeChallenge atomically marks the challenge consumed if it is
	// still unconsumed and unexpired, returning the row on success. Zero
	// rows affected reports ok=false; that is the sole replay defense.
	ConsumeChallenge(ctx context.Context, id string, now time.Time) (Challenge, bool, error)
	DeleteExpiredChallenges(ctx context.Context, now time.Time) error
}

// SessionStore persists bearer sessions.
type SessionStore interface {
	PutSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, token string) (Session, error)
	TouchSession(ctx context.Context, token string, at time.Time) error
	RevokeSession(ctx context.Context, token string, at time.Time) error
	RevokeUserSessions(ctx context.Context, userID string, at time.Time) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) error
}

// RecoveryStore persists recovery codes and attempt records.
type RecoveryStore interface {
	// ReplaceRecoveryCodes deletes any existing batch for the user, stores
	// the new hashes, and clears the user's recovery acknowledgment, all in
	// one transaction. Custody operations stay refused until the user
	// confirms saving the new batch.
	ReplaceRecoveryCodes(ctx context.Context, userID string, codes []RecoveryCode) error
	// ListRecoveryCodes returns the user's codes, used and unused, so
	// redemption can tell a burned code apart from one that never existed.
	ListRecoveryCodes(ctx context.Context, userID string) ([]RecoveryCode, error)
	// MarkRecoveryCodeUsed atomically marks a code used if it is still
	// unused, reporting whether the row transitioned.
	MarkRecoveryCodeUsed(ctx context.Context, codeID string, usedAt time.Time) (bool, error)
	CountUnusedRecoveryCodes(ctx context.Context, userID string) (int, error)
	RecordRecoveryAttempt(ctx context.Context, attempt RecoveryAttempt) error
	CountFailedRecoveryAttempts(ctx context.Context, identity string, since time.Time) (int, error)
}

// AccountStore persists custodial accounts.
type AccountStore interface {
	PutAccount(ctx context.Context, account CustodialAccount) error
	GetAccountByAddress(ctx context.Context, address string) (CustodialAccount, error)
	ListAccountsByUser(ctx context.Context, userID string) ([]CustodialAccount, error)
	TouchAccount(ctx context.Context, address string, usedAt time.Time) error
	DeleteAccount(ctx context.Context, userID, address string) (bool, error)
}
