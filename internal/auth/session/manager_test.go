package session

import (
	"context"
	"testing"
	"time"

	platformerrors "github.com/tuxedoai/vaultgate/internal/platform/errors"
	"github.com/tuxedoai/vaultgate/internal/storage"
)

type fakeSessionStore struct {
	sessions map[string]storage.Session
	swept    bool
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]storage.Session)}
}

func (f *fakeSessionStore) PutSession(_ context.Context, session storage.Session) error {
	f.sessions[session.Token] = session
	return nil
}

func (f *fakeSessionStore) GetSession(_ context.Context, token string) (storage.Session, error) {
	session, ok := f.sessions[token]
	if !ok {
		return storage.Session{}, storage.ErrNotFound
	}
	return session, nil
}

func (f *fakeSessionStore) TouchSession(_ context.Context, token string, at time.Time) error {
	session, ok := f.sessions[token]
	if !ok {
		return nil
	}
	session.LastAccessedAt = at
	f.sessions[token] = session
	return nil
}

func (f *fakeSessionStore) RevokeSession(_ context.Context, token string, at time.Time) error {
	session, ok := f.sessions[token]
	if !ok || session.RevokedAt != nil {
		return nil
	}
	session.RevokedAt = &at
	f.sessions[token] = session
	return nil
}

func (f *fakeSessionStore) RevokeUserSessions(_ context.Context, userID string, at time.Time) error {
	for token, session := range f.sessions {
		if session.UserID == userID && session.RevokedAt == nil {
			session.RevokedAt = &at
			f.sessions[token] = session
		}
	}
	return nil
}

func (f *fakeSessionStore) DeleteExpiredSessions(_ context.Context, now time.Time) error {
	f.swept = true
	for token, session := range f.sessions {
		if !session.ExpiresAt.After(now) {
			delete(f.sessions, token)
		}
	}
	return nil
}

func TestNewManagerRequiresStore(t *testing.T) {
	if _, err := NewManager(nil); err == nil {
		t.Fatal("expected error for nil store")
	}
}

func TestIssueAndResolve(t *testing.T) {
	store := newFakeSessionStore()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	manager, err := NewManager(store, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	session, err := manager.Issue(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(session.Token) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(session.Token))
	}
	if !session.ExpiresAt.Equal(now.Add(DefaultTTL)) {
		t.Fatalf("unexpected expiry: %v", session.ExpiresAt)
	}

	userID, err := manager.Resolve(context.Background(), session.Token)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("unexpected user: %q", userID)
	}
}

func TestIssueTokensAreUnique(t *testing.T) {
	manager, err := NewManager(newFakeSessionStore())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	seen := make(map[string]bool)
	for i := 0; i < 32; i++ {
		session, err := manager.Issue(context.Background(), "user-1")
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		if seen[session.Token] {
			t.Fatal("duplicate token")
		}
		seen[session.Token] = true
	}
}

func TestResolveRefreshesLastAccessed(t *testing.T) {
	store := newFakeSessionStore()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := now
	manager, err := NewManager(store, WithClock(func() time.Time { return clock }))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	session, err := manager.Issue(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	clock = now.Add(time.Hour)
	if _, err := manager.Resolve(context.Background(), session.Token); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	stored := store.sessions[session.Token]
	if !stored.LastAccessedAt.Equal(clock) {
		t.Fatalf("expected last accessed %v, got %v", clock, stored.LastAccessedAt)
	}
	// Expiry is fixed at issue time; resolving must not extend it.
	if !stored.ExpiresAt.Equal(now.Add(DefaultTTL)) {
		t.Fatalf("expiry moved: %v", stored.ExpiresAt)
	}
}

func TestResolveFailuresCollapse(t *testing.T) {
	store := newFakeSessionStore()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := now
	manager, err := NewManager(store, WithClock(func() time.Time { return clock }))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	session, err := manager.Issue(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	// Unknown token.
	if _, err := manager.Resolve(context.Background(), "deadbeef"); !platformerrors.IsCode(err, platformerrors.CodeSessionInvalid) {
		t.Fatalf("unknown token: expected session invalid, got %v", err)
	}

	// Revoked token.
	if err := manager.Revoke(context.Background(), session.Token); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := manager.Resolve(context.Background(), session.Token); !platformerrors.IsCode(err, platformerrors.CodeSessionInvalid) {
		t.Fatalf("revoked token: expected session invalid, got %v", err)
	}

	// Expired token.
	fresh, err := manager.Issue(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	clock = now.Add(DefaultTTL + time.Minute)
	if _, err := manager.Resolve(context.Background(), fresh.Token); !platformerrors.IsCode(err, platformerrors.CodeSessionInvalid) {
		t.Fatalf("expired token: expected session invalid, got %v", err)
	}

	// Empty token.
	if _, err := manager.Resolve(context.Background(), " "); !platformerrors.IsCode(err, platformerrors.CodeSessionInvalid) {
		t.Fatalf("empty token: expected session invalid, got %v", err)
	}
}

func TestRevokeLeavesOtherSessions(t *testing.T) {
	store := newFakeSessionStore()
	manager, err := NewManager(store)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	first, err := manager.Issue(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	second, err := manager.Issue(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if err := manager.Revoke(context.Background(), first.Token); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	if _, err := manager.Resolve(context.Background(), second.Token); err != nil {
		t.Fatalf("expected second session to survive, got %v", err)
	}
}

func TestRevokeAll(t *testing.T) {
	store := newFakeSessionStore()
	manager, err := NewManager(store)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	mine, err := manager.Issue(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	other, err := manager.Issue(context.Background(), "user-2")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if err := manager.RevokeAll(context.Background(), "user-1"); err != nil {
		t.Fatalf("revoke all: %v", err)
	}

	if _, err := manager.Resolve(context.Background(), mine.Token); !platformerrors.IsCode(err, platformerrors.CodeSessionInvalid) {
		t.Fatalf("expected revoked session, got %v", err)
	}
	if _, err := manager.Resolve(context.Background(), other.Token); err != nil {
		t.Fatalf("expected other user's session to survive, got %v", err)
	}
}

func TestSweepExpired(t *testing.T) {
	store := newFakeSessionStore()
	manager, err := NewManager(store)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := manager.SweepExpired(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !store.swept {
		t.Fatal("expected sweep to run")
	}
}
