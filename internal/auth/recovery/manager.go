package recovery

import (
	"context"
	"crypto/rand"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/tuxedoai/vaultgate/internal/platform/errors"
	"github.com/tuxedoai/vaultgate/internal/platform/id"
	"github.com/tuxedoai/vaultgate/internal/platform/logging"
	"github.com/tuxedoai/vaultgate/internal/storage"
)

const (
	// BatchSize is the number of codes issued per batch.
	BatchSize = 8

	// codeGroups x codeGroupLen shape the XXXX-XXXX-XXXX-XXXX format.
	codeGroups   = 4
	codeGroupLen = 4

	// codeAlphabet is 32 characters so random bytes map without modulo
	// bias; lookalike letters stay in because codes are copied, not read
	// over the phone.
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

	// maxFailedAttempts failures within attemptWindow lock the identity
	// out of redemption, correct code or not.
	maxFailedAttempts = 10
	attemptWindow     = 15 * time.Minute
)

// Manager issues, acknowledges, and redeems recovery codes.
type Manager struct {
	users storage.UserStore
	codes storage.RecoveryStore
	clock func() time.Time
	newID func() (string, error)
	cost  int
	log   logging.Logger
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithIDGenerator overrides row id generation, for tests.
func WithIDGenerator(generate func() (string, error)) Option {
	return func(m *Manager) {
		if generate != nil {
			m.newID = generate
		}
	}
}

// WithBcryptCost overrides the hash cost. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(m *Manager) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			m.cost = cost
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

// NewManager builds a recovery manager over the given stores.
func NewManager(users storage.UserStore, codes storage.RecoveryStore, opts ...Option) (*Manager, error) {
	if users == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if codes == nil {
		return nil, fmt.Errorf("recovery store is required")
	}
	m := &Manager{
		users: users,
		codes: codes,
		clock: time.Now,
		newID: id.NewID,
		cost:  bcrypt.DefaultCost,
		log:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// IssueBatch replaces the user's recovery codes and returns the plaintext
// batch. This is the only moment the plaintext exists; only bcrypt hashes
// are stored. Issuing resets the acknowledgment: the user must confirm they
// saved the new batch before custody operations resume.
func (m *Manager) IssueBatch(ctx context.Context, userID string) ([]string, error) {
	if m == nil {
		return nil, fmt.Errorf("recovery manager is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if _, err := m.users.GetUser(ctx, userID); err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return nil, errors.New(errors.CodeUnknownIdentity, "account not found")
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	now := m.clock().UTC()
	plaintext := make([]string, 0, BatchSize)
	records := make([]storage.RecoveryCode, 0, BatchSize)
	for i := 0; i < BatchSize; i++ {
		code, err := generateCode()
		if err != nil {
			return nil, fmt.Errorf("generate recovery code: %w", err)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(normalizeCode(code)), m.cost)
		if err != nil {
			return nil, fmt.Errorf("hash recovery code: %w", err)
		}
		rowID, err := m.newID()
		if err != nil {
			return nil, fmt.Errorf("generate code id: %w", err)
		}
		plaintext = append(plaintext, code)
		records = append(records, storage.RecoveryCode{
			ID:        rowID,
			UserID:    userID,
			CodeHash:  string(hash),
			CreatedAt: now,
		})
	}

	if err := m.codes.ReplaceRecoveryCodes(ctx, userID, records); err != nil {
		return nil, fmt.Errorf("store recovery codes: %w", err)
	}
	m.log.Info(ctx, "recovery codes issued", "user_id", userID, "count", BatchSize)
	return plaintext, nil
}

// Acknowledge records that the user confirmed saving their recovery codes.
// Custody provisioning and export stay refused until this runs.
func (m *Manager) Acknowledge(ctx context.Context, userID string) error {
	if m == nil {
		return fmt.Errorf("recovery manager is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if err := m.users.SetRecoveryAcknowledged(ctx, userID, m.clock().UTC()); err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return errors.New(errors.CodeUnknownIdentity, "account not found")
		}
		return fmt.Errorf("record acknowledgment: %w", err)
	}
	return nil
}

// Remaining reports how many unused codes the user has left.
func (m *Manager) Remaining(ctx context.Context, userID string) (int, error) {
	if m == nil {
		return 0, fmt.Errorf("recovery manager is not configured")
	}
	return m.codes.CountUnusedRecoveryCodes(ctx, userID)
}

// Redeem burns one recovery code for the identity and returns its user.
//
// The rate limit check runs before any code comparison, so a locked-out
// identity learns nothing from the response even with a correct code.
// Attempts are recorded for unknown identities too.
func (m *Manager) Redeem(ctx context.Context, identity, code string) (storage.User, error) {
	if m == nil {
		return storage.User{}, fmt.Errorf("recovery manager is not configured")
	}
	identity = strings.ToLower(strings.TrimSpace(identity))
	if identity == "" {
		return storage.User{}, errors.New(errors.CodeRecoveryCodeInvalid, "recovery code is not valid")
	}

	now := m.clock().UTC()
	failures, err := m.codes.CountFailedRecoveryAttempts(ctx, identity, now.Add(-attemptWindow))
	if err != nil {
		return storage.User{}, fmt.Errorf("count recovery attempts: %w", err)
	}
	if failures >= maxFailedAttempts {
		if err := m.recordAttempt(ctx, identity, now, false); err != nil {
			return storage.User{}, err
		}
		m.log.Warn(ctx, "recovery redemption rate limited", "identity", identity, "failures", failures)
		return storage.User{}, errors.New(errors.CodeRecoveryAttemptsExceeded, "too many recovery attempts")
	}

	normalized := normalizeCode(code)
	if normalized == "" {
		return m.failRedemption(ctx, identity, now, errors.CodeRecoveryCodeInvalid)
	}

	user, err := m.users.GetUserByEmail(ctx, identity)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return m.failRedemption(ctx, identity, now, errors.CodeRecoveryCodeInvalid)
		}
		return storage.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if !user.Active {
		return m.failRedemption(ctx, identity, now, errors.CodeRecoveryCodeInvalid)
	}

	codes, err := m.codes.ListRecoveryCodes(ctx, user.ID)
	if err != nil {
		return storage.User{}, fmt.Errorf("list recovery codes: %w", err)
	}

	// Burned codes stay in the comparison set so a reused code reports
	// already-used instead of never-valid.
	var matched *storage.RecoveryCode
	for i := range codes {
		if bcrypt.CompareHashAndPassword([]byte(codes[i].CodeHash), []byte(normalized)) == nil {
			matched = &codes[i]
			break
		}
	}
	if matched == nil {
		return m.failRedemption(ctx, identity, now, errors.CodeRecoveryCodeInvalid)
	}
	if matched.UsedAt != nil {
		return m.failRedemption(ctx, identity, now, errors.CodeRecoveryCodeAlreadyUsed)
	}

	ok, err := m.codes.MarkRecoveryCodeUsed(ctx, matched.ID, now)
	if err != nil {
		return storage.User{}, fmt.Errorf("mark recovery code used: %w", err)
	}
	if !ok {
		return m.failRedemption(ctx, identity, now, errors.CodeRecoveryCodeAlreadyUsed)
	}

	if err := m.recordAttempt(ctx, identity, now, true); err != nil {
		return storage.User{}, err
	}
	m.log.Info(ctx, "recovery code redeemed", "user_id", user.ID, "code_id", matched.ID)
	return user, nil
}

func (m *Manager) failRedemption(ctx context.Context, identity string, now time.Time, code errors.Code) (storage.User, error) {
	if err := m.recordAttempt(ctx, identity, now, false); err != nil {
		return storage.User{}, err
	}
	return storage.User{}, errors.New(code, "recovery code was not accepted")
}

func (m *Manager) recordAttempt(ctx context.Context, identity string, now time.Time, success bool) error {
	attemptID, err := m.newID()
	if err != nil {
		return fmt.Errorf("generate attempt id: %w", err)
	}
	attempt := storage.RecoveryAttempt{
		ID:          attemptID,
		Identity:    identity,
		AttemptedAt: now,
		Success:     success,
	}
	if err := m.codes.RecordRecoveryAttempt(ctx, attempt); err != nil {
		return fmt.Errorf("record recovery attempt: %w", err)
	}
	return nil
}

// generateCode draws a XXXX-XXXX-XXXX-XXXX code from crypto/rand.
func generateCode() (string, error) {
	raw := make([]byte, codeGroups*codeGroupLen)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	var b strings.Builder
	for i, value := range raw {
		if i > 0 && i%codeGroupLen == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(codeAlphabet[value&31])
	}
	return b.String(), nil
}

// normalizeCode strips separators and case so users can paste codes however
// their password manager formatted them.
func normalizeCode(code string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(code)) {
		if r == '-' || r == ' ' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
