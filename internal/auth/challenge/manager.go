package challenge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/tuxedoai/vaultgate/internal/platform/errors"
	"github.com/tuxedoai/vaultgate/internal/platform/id"
	"github.com/tuxedoai/vaultgate/internal/storage"
)

// DefaultTTL bounds a ceremony when no override is configured.
const DefaultTTL = 5 * time.Minute

// Manager issues and consumes ceremony challenges.
type Manager struct {
	store storage.ChallengeStore
	ttl   time.Duration
	clock func() time.Time
	newID func() (string, error)
}

// Option customizes a Manager.
type Option func(*Manager)

// WithTTL overrides the challenge lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithIDGenerator overrides challenge id generation, for tests.
func WithIDGenerator(generate func() (string, error)) Option {
	return func(m *Manager) {
		if generate != nil {
			m.newID = generate
		}
	}
}

// NewManager builds a challenge manager over the given store.
func NewManager(store storage.ChallengeStore, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("challenge store is required")
	}
	m := &Manager{
		store: store,
		ttl:   DefaultTTL,
		clock: time.Now,
		newID: id.NewID,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Start stores a new challenge bound to one ceremony kind and returns its id.
// The session data carries the relying party state go-webauthn needs to
// finish the ceremony.
func (m *Manager) Start(ctx context.Context, kind storage.CeremonyKind, userID string, session *webauthn.SessionData) (string, error) {
	if m == nil || m.store == nil {
		return "", fmt.Errorf("challenge manager is not configured")
	}
	if session == nil {
		return "", fmt.Errorf("session data is required")
	}

	sessionJSON, err := json.Marshal(session)
	if err != nil {
		return "", fmt.Errorf("encode session data: %w", err)
	}

	challengeID, err := m.newID()
	if err != nil {
		return "", fmt.Errorf("generate challenge id: %w", err)
	}

	now := m.clock().UTC()
	record := storage.Challenge{
		ID:          challengeID,
		Kind:        kind,
		UserID:      strings.TrimSpace(userID),
		Value:       session.Challenge,
		SessionJSON: string(sessionJSON),
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.ttl),
	}
	if err := m.store.PutChallenge(ctx, record); err != nil {
		return "", fmt.Errorf("store challenge: %w", err)
	}
	return challengeID, nil
}

// Consume burns a challenge before any verification runs. A challenge that
// is missing, expired, or already consumed reports the same error, so a
// caller cannot distinguish replay from expiry. A kind mismatch still burns
// the challenge: presenting a registration challenge to the login ceremony
// forfeits it.
func (m *Manager) Consume(ctx context.Context, challengeID string, kind storage.CeremonyKind) (storage.Challenge, *webauthn.SessionData, error) {
	if m == nil || m.store == nil {
		return storage.Challenge{}, nil, fmt.Errorf("challenge manager is not configured")
	}
	if strings.TrimSpace(challengeID) == "" {
		return storage.Challenge{}, nil, errors.New(errors.CodeChallengeExpiredOrReplayed, "challenge is expired or already used")
	}

	record, ok, err := m.store.ConsumeChallenge(ctx, challengeID, m.clock().UTC())
	if err != nil {
		return storage.Challenge{}, nil, fmt.Errorf("consume challenge: %w", err)
	}
	if !ok {
		return storage.Challenge{}, nil, errors.New(errors.CodeChallengeExpiredOrReplayed, "challenge is expired or already used")
	}
	if record.Kind != kind {
		return storage.Challenge{}, nil, errors.New(errors.CodeCeremonyTypeMismatch, "challenge was issued for a different ceremony")
	}

	var session webauthn.SessionData
	if err := json.Unmarshal([]byte(record.SessionJSON), &session); err != nil {
		return storage.Challenge{}, nil, fmt.Errorf("decode session data: %w", err)
	}
	return record, &session, nil
}

// SweepExpired deletes challenges past their expiry.
func (m *Manager) SweepExpired(ctx context.Context) error {
	if m == nil || m.store == nil {
		return fmt.Errorf("challenge manager is not configured")
	}
	return m.store.DeleteExpiredChallenges(ctx, m.clock().UTC())
}
