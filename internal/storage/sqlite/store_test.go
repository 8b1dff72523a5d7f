package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tuxedoai/vaultgate/internal/storage"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vaultgate.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func putTestUser(t *testing.T, store *Store, id string) {
	t.Helper()
	err := store.PutUser(context.Background(), storage.User{
		ID:        id,
		Email:     id + "@example.com",
		Active:    true,
		CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("put user: %v", err)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestPutGetUserRoundTrip(t *testing.T) {
	store := openTempStore(t)

	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	input := storage.User{
		ID:        "user-1",
		Email:     "Person@Example.com",
		Active:    true,
		CreatedAt: created,
	}

	if err := store.PutUser(context.Background(), input); err != nil {
		t.Fatalf("put user: %v", err)
	}

	got, err := store.GetUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.ID != input.ID || !got.Active {
		t.Fatalf("unexpected user: %+v", got)
	}
	if got.Email != "person@example.com" {
		t.Fatalf("expected lowercase email, got %q", got.Email)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("expected created at %v, got %v", created, got.CreatedAt)
	}

	byEmail, err := store.GetUserByEmail(context.Background(), "PERSON@example.COM")
	if err != nil {
		t.Fatalf("get user by email: %v", err)
	}
	if byEmail.ID != "user-1" {
		t.Fatalf("unexpected user by email: %+v", byEmail)
	}
}

func TestPutUserRequiresID(t *testing.T) {
	store := openTempStore(t)

	err := store.PutUser(context.Background(), storage.User{ID: "  ", Email: "a@b.c"})
	if err == nil {
		t.Fatal("expected error for empty user id")
	}
}

func TestGetUserNotFound(t *testing.T) {
	store := openTempStore(t)

	_, err := store.GetUser(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSetLastLoginAndRecoveryAcknowledged(t *testing.T) {
	store := openTempStore(t)
	putTestUser(t, store, "user-1")

	at := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	if err := store.SetLastLogin(context.Background(), "user-1", at); err != nil {
		t.Fatalf("set last login: %v", err)
	}
	if err := store.SetRecoveryAcknowledged(context.Background(), "user-1", at); err != nil {
		t.Fatalf("set recovery acknowledged: %v", err)
	}

	got, err := store.GetUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.LastLoginAt == nil || !got.LastLoginAt.Equal(at) {
		t.Fatalf("unexpected last login: %v", got.LastLoginAt)
	}
	if got.RecoveryAckAt == nil || !got.RecoveryAckAt.Equal(at) {
		t.Fatalf("unexpected recovery ack: %v", got.RecoveryAckAt)
	}

	if err := store.SetLastLogin(context.Background(), "missing", at); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found for missing user, got %v", err)
	}
}

func TestDeleteUserCascades(t *testing.T) {
	store := openTempStore(t)
	putTestUser(t, store, "user-1")

	credential := storage.Credential{
		CredentialID:   "cred-1",
		UserID:         "user-1",
		CredentialJSON: `{"id":"cred-1"}`,
		CreatedAt:      time.Now().UTC(),
	}
	if err := store.PutCredential(context.Background(), credential); err != nil {
		t.Fatalf("put credential: %v", err)
	}

	if err := store.DeleteUser(context.Background(), "user-1"); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if _, err := store.GetCredential(context.Background(), "cred-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected cascade delete, got %v", err)
	}
}

func TestCredentialRoundTripAndUsage(t *testing.T) {
	store := openTempStore(t)
	putTestUser(t, store, "user-1")

	credential := storage.Credential{
		CredentialID:   "cred-1",
		UserID:         "user-1",
		CredentialJSON: `{"id":"cred-1"}`,
		SignCount:      3,
		Label:          "laptop",
		BackupEligible: true,
		CreatedAt:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	if err := store.PutCredential(context.Background(), credential); err != nil {
		t.Fatalf("put credential: %v", err)
	}

	got, err := store.GetCredential(context.Background(), "cred-1")
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}
	if got.SignCount != 3 || got.Label != "laptop" || !got.BackupEligible {
		t.Fatalf("unexpected credential: %+v", got)
	}
	if got.ClonedAt != nil {
		t.Fatalf("expected no clone flag, got %v", got.ClonedAt)
	}

	used := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	if err := store.UpdateCredentialUsage(context.Background(), "cred-1", 7, used); err != nil {
		t.Fatalf("update usage: %v", err)
	}
	got, err = store.GetCredential(context.Background(), "cred-1")
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}
	if got.SignCount != 7 {
		t.Fatalf("expected sign count 7, got %d", got.SignCount)
	}
	if got.LastUsedAt == nil || !got.LastUsedAt.Equal(used) {
		t.Fatalf("unexpected last used: %v", got.LastUsedAt)
	}

	if err := store.FlagCredentialCloned(context.Background(), "cred-1", used); err != nil {
		t.Fatalf("flag cloned: %v", err)
	}
	got, err = store.GetCredential(context.Background(), "cred-1")
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}
	if got.ClonedAt == nil {
		t.Fatal("expected clone flag to be set")
	}
}

func TestDeleteCredentialGuardedBlocksLastCredential(t *testing.T) {
	store := openTempStore(t)
	putTestUser(t, store, "user-1")

	credential := storage.Credential{
		CredentialID:   "cred-1",
		UserID:         "user-1",
		CredentialJSON: `{"id":"cred-1"}`,
		CreatedAt:      time.Now().UTC(),
	}
	if err := store.PutCredential(context.Background(), credential); err != nil {
		t.Fatalf("put credential: %v", err)
	}

	deleted, err := store.DeleteCredentialGuarded(context.Background(), "user-1", "cred-1")
	if err != nil {
		t.Fatalf("delete credential: %v", err)
	}
	if deleted {
		t.Fatal("expected removal to be blocked for the only credential")
	}

	codes := []storage.RecoveryCode{{ID: "code-1", UserID: "user-1", CodeHash: "hash"}}
	if err := store.ReplaceRecoveryCodes(context.Background(), "user-1", codes); err != nil {
		t.Fatalf("replace recovery codes: %v", err)
	}

	deleted, err = store.DeleteCredentialGuarded(context.Background(), "user-1", "cred-1")
	if err != nil {
		t.Fatalf("delete credential: %v", err)
	}
	if !deleted {
		t.Fatal("expected removal once an unused recovery code exists")
	}
}

func TestDeleteCredentialGuardedEnforcesOwnership(t *testing.T) {
	store := openTempStore(t)
	putTestUser(t, store, "user-1")
	putTestUser(t, store, "user-2")

	for _, id := range []string{"cred-1", "cred-2"} {
		credential := storage.Credential{
			CredentialID:   id,
			UserID:         "user-1",
			CredentialJSON: `{}`,
			CreatedAt:      time.Now().UTC(),
		}
		if err := store.PutCredential(context.Background(), credential); err != nil {
			t.Fatalf("put credential: %v", err)
		}
	}

	deleted, err := store.DeleteCredentialGuarded(context.Background(), "user-2", "cred-1")
	if err != nil {
		t.Fatalf("delete credential: %v", err)
	}
	if deleted {
		t.Fatal("expected delete to fail for non-owner")
	}
}

func TestConsumeChallengeSingleUse(t *testing.T) {
	store := openTempStore(t)

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	challenge := storage.Challenge{
		ID:          "chal-1",
		Kind:        storage.CeremonyRegistration,
		Value:       "random",
		SessionJSON: `{}`,
		CreatedAt:   now,
		ExpiresAt:   now.Add(5 * time.Minute),
	}
	if err := store.PutChallenge(context.Background(), challenge); err != nil {
		t.Fatalf("put challenge: %v", err)
	}

	got, ok, err := store.ConsumeChallenge(context.Background(), "chal-1", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("consume challenge: %v", err)
	}
	if !ok {
		t.Fatal("expected first consume to succeed")
	}
	if got.Kind != storage.CeremonyRegistration || got.Value != "random" {
		t.Fatalf("unexpected challenge: %+v", got)
	}
	if got.ConsumedAt == nil {
		t.Fatal("expected consumed at to be set")
	}

	_, ok, err = store.ConsumeChallenge(context.Background(), "chal-1", now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("consume challenge: %v", err)
	}
	if ok {
		t.Fatal("expected second consume to fail")
	}
}

func TestConsumeChallengeExpired(t *testing.T) {
	store := openTempStore(t)

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	challenge := storage.Challenge{
		ID:          "chal-1",
		Kind:        storage.CeremonyLogin,
		UserID:      "user-1",
		Value:       "random",
		SessionJSON: `{}`,
		CreatedAt:   now,
		ExpiresAt:   now.Add(5 * time.Minute),
	}
	if err := store.PutChallenge(context.Background(), challenge); err != nil {
		t.Fatalf("put challenge: %v", err)
	}

	_, ok, err := store.ConsumeChallenge(context.Background(), "chal-1", now.Add(6*time.Minute))
	if err != nil {
		t.Fatalf("consume challenge: %v", err)
	}
	if ok {
		t.Fatal("expected expired consume to fail")
	}
}

func TestConsumeChallengeConcurrent(t *testing.T) {
	store := openTempStore(t)

	now := time.Now().UTC()
	challenge := storage.Challenge{
		ID:          "chal-1",
		Kind:        storage.CeremonyLogin,
		Value:       "random",
		SessionJSON: `{}`,
		CreatedAt:   now,
		ExpiresAt:   now.Add(5 * time.Minute),
	}
	if err := store.PutChallenge(context.Background(), challenge); err != nil {
		t.Fatalf("put challenge: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	wins := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := store.ConsumeChallenge(context.Background(), "chal-1", time.Now().UTC())
			if err != nil {
				t.Errorf("consume challenge: %v", err)
				return
			}
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for ok := range wins {
		if ok {
			won++
		}
	}
	if won != 1 {
		t.Fatalf("expected exactly one winner, got %d", won)
	}
}

func TestDeleteExpiredChallenges(t *testing.T) {
	store := openTempStore(t)

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, expiry := range []time.Time{now.Add(-time.Minute), now.Add(time.Hour)} {
		challenge := storage.Challenge{
			ID:          fmt.Sprintf("chal-%d", i),
			Kind:        storage.CeremonyLogin,
			Value:       "random",
			SessionJSON: `{}`,
			CreatedAt:   now.Add(-time.Hour),
			ExpiresAt:   expiry,
		}
		if err := store.PutChallenge(context.Background(), challenge); err != nil {
			t.Fatalf("put challenge: %v", err)
		}
	}

	if err := store.DeleteExpiredChallenges(context.Background(), now); err != nil {
		t.Fatalf("delete expired: %v", err)
	}

	if _, ok, err := store.ConsumeChallenge(context.Background(), "chal-1", now); err != nil || !ok {
		t.Fatalf("expected live challenge to survive sweep: ok=%v err=%v", ok, err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	store := openTempStore(t)
	putTestUser(t, store, "user-1")

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	session := storage.Session{
		Token:     "token-1",
		UserID:    "user-1",
		IssuedAt:  now,
		ExpiresAt: now.Add(7 * 24 * time.Hour),
	}
	if err := store.PutSession(context.Background(), session); err != nil {
		t.Fatalf("put session: %v", err)
	}

	got, err := store.GetSession(context.Background(), "token-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.UserID != "user-1" || got.RevokedAt != nil {
		t.Fatalf("unexpected session: %+v", got)
	}
	if !got.LastAccessedAt.Equal(now) {
		t.Fatalf("expected last accessed to default to issue time, got %v", got.LastAccessedAt)
	}

	touched := now.Add(time.Hour)
	if err := store.TouchSession(context.Background(), "token-1", touched); err != nil {
		t.Fatalf("touch session: %v", err)
	}
	if err := store.RevokeSession(context.Background(), "token-1", touched); err != nil {
		t.Fatalf("revoke session: %v", err)
	}

	got, err = store.GetSession(context.Background(), "token-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !got.LastAccessedAt.Equal(touched) {
		t.Fatalf("unexpected last accessed: %v", got.LastAccessedAt)
	}
	if got.RevokedAt == nil || !got.RevokedAt.Equal(touched) {
		t.Fatalf("unexpected revoked at: %v", got.RevokedAt)
	}
}

func TestRevokeUserSessions(t *testing.T) {
	store := openTempStore(t)
	putTestUser(t, store, "user-1")

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for _, token := range []string{"token-1", "token-2"} {
		session := storage.Session{
			Token:     token,
			UserID:    "user-1",
			IssuedAt:  now,
			ExpiresAt: now.Add(time.Hour),
		}
		if err := store.PutSession(context.Background(), session); err != nil {
			t.Fatalf("put session: %v", err)
		}
	}

	if err := store.RevokeUserSessions(context.Background(), "user-1", now.Add(time.Minute)); err != nil {
		t.Fatalf("revoke user sessions: %v", err)
	}

	for _, token := range []string{"token-1", "token-2"} {
		got, err := store.GetSession(context.Background(), token)
		if err != nil {
			t.Fatalf("get session: %v", err)
		}
		if got.RevokedAt == nil {
			t.Fatalf("expected session %s to be revoked", token)
		}
	}
}

func TestDeleteExpiredSessions(t *testing.T) {
	store := openTempStore(t)
	putTestUser(t, store, "user-1")

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	session := storage.Session{
		Token:     "token-1",
		UserID:    "user-1",
		IssuedAt:  now.Add(-2 * time.Hour),
		ExpiresAt: now.Add(-time.Hour),
	}
	if err := store.PutSession(context.Background(), session); err != nil {
		t.Fatalf("put session: %v", err)
	}

	if err := store.DeleteExpiredSessions(context.Background(), now); err != nil {
		t.Fatalf("delete expired sessions: %v", err)
	}
	if _, err := store.GetSession(context.Background(), "token-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected session to be swept, got %v", err)
	}
}

func TestReplaceRecoveryCodesSwapsBatch(t *testing.T) {
	store := openTempStore(t)
	putTestUser(t, store, "user-1")

	first := []storage.RecoveryCode{
		{ID: "old-1", UserID: "user-1", CodeHash: "hash-old-1"},
		{ID: "old-2", UserID: "user-1", CodeHash: "hash-old-2"},
	}
	if err := store.ReplaceRecoveryCodes(context.Background(), "user-1", first); err != nil {
		t.Fatalf("replace recovery codes: %v", err)
	}

	second := []storage.RecoveryCode{
		{ID: "new-1", UserID: "user-1", CodeHash: "hash-new-1"},
	}
	if err := store.ReplaceRecoveryCodes(context.Background(), "user-1", second); err != nil {
		t.Fatalf("replace recovery codes: %v", err)
	}

	codes, err := store.ListRecoveryCodes(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("list codes: %v", err)
	}
	if len(codes) != 1 || codes[0].ID != "new-1" {
		t.Fatalf("unexpected codes: %+v", codes)
	}

	count, err := store.CountUnusedRecoveryCodes(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("count unused: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 unused code, got %d", count)
	}
}

func TestReplaceRecoveryCodesClearsAcknowledgment(t *testing.T) {
	store := openTempStore(t)
	putTestUser(t, store, "user-1")

	if err := store.SetRecoveryAcknowledged(context.Background(), "user-1", time.Now().UTC()); err != nil {
		t.Fatalf("set acknowledged: %v", err)
	}

	codes := []storage.RecoveryCode{{ID: "code-1", UserID: "user-1", CodeHash: "hash"}}
	if err := store.ReplaceRecoveryCodes(context.Background(), "user-1", codes); err != nil {
		t.Fatalf("replace recovery codes: %v", err)
	}

	user, err := store.GetUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.RecoveryAckAt != nil {
		t.Fatal("expected replacement to clear the acknowledgment")
	}
}

func TestListRecoveryCodesIncludesUsed(t *testing.T) {
	store := openTempStore(t)
	putTestUser(t, store, "user-1")

	codes := []storage.RecoveryCode{
		{ID: "code-1", UserID: "user-1", CodeHash: "hash-1"},
		{ID: "code-2", UserID: "user-1", CodeHash: "hash-2"},
	}
	if err := store.ReplaceRecoveryCodes(context.Background(), "user-1", codes); err != nil {
		t.Fatalf("replace recovery codes: %v", err)
	}
	if _, err := store.MarkRecoveryCodeUsed(context.Background(), "code-1", time.Now().UTC()); err != nil {
		t.Fatalf("mark used: %v", err)
	}

	listed, err := store.ListRecoveryCodes(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("list codes: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected both codes, got %d", len(listed))
	}
	usedByID := make(map[string]bool, len(listed))
	for _, code := range listed {
		usedByID[code.ID] = code.UsedAt != nil
	}
	if !usedByID["code-1"] || usedByID["code-2"] {
		t.Fatalf("unexpected used markers: %+v", usedByID)
	}
}

func TestMarkRecoveryCodeUsedSingleUse(t *testing.T) {
	store := openTempStore(t)
	putTestUser(t, store, "user-1")

	codes := []storage.RecoveryCode{{ID: "code-1", UserID: "user-1", CodeHash: "hash"}}
	if err := store.ReplaceRecoveryCodes(context.Background(), "user-1", codes); err != nil {
		t.Fatalf("replace recovery codes: %v", err)
	}

	now := time.Now().UTC()
	ok, err := store.MarkRecoveryCodeUsed(context.Background(), "code-1", now)
	if err != nil {
		t.Fatalf("mark used: %v", err)
	}
	if !ok {
		t.Fatal("expected first mark to succeed")
	}

	ok, err = store.MarkRecoveryCodeUsed(context.Background(), "code-1", now)
	if err != nil {
		t.Fatalf("mark used: %v", err)
	}
	if ok {
		t.Fatal("expected second mark to fail")
	}
}

func TestMarkRecoveryCodeUsedConcurrent(t *testing.T) {
	store := openTempStore(t)
	putTestUser(t, store, "user-1")

	codes := []storage.RecoveryCode{{ID: "code-1", UserID: "user-1", CodeHash: "hash"}}
	if err := store.ReplaceRecoveryCodes(context.Background(), "user-1", codes); err != nil {
		t.Fatalf("replace recovery codes: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	wins := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.MarkRecoveryCodeUsed(context.Background(), "code-1", time.Now().UTC())
			if err != nil {
				t.Errorf("mark used: %v", err)
				return
			}
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for ok := range wins {
		if ok {
			won++
		}
	}
	if won != 1 {
		t.Fatalf("expected exactly one winner, got %d", won)
	}
}

func TestRecoveryAttemptCounting(t *testing.T) {
	store := openTempStore(t)

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	attempts := []storage.RecoveryAttempt{
		{ID: "a-1", Identity: "person@example.com", AttemptedAt: now.Add(-20 * time.Minute)},
		{ID: "a-2", Identity: "person@example.com", AttemptedAt: now.Add(-10 * time.Minute)},
		{ID: "a-3", Identity: "person@example.com", AttemptedAt: now.Add(-5 * time.Minute)},
		{ID: "a-4", Identity: "person@example.com", AttemptedAt: now.Add(-time.Minute), Success: true},
		{ID: "a-5", Identity: "other@example.com", AttemptedAt: now.Add(-time.Minute)},
	}
	for _, attempt := range attempts {
		if err := store.RecordRecoveryAttempt(context.Background(), attempt); err != nil {
			t.Fatalf("record attempt: %v", err)
		}
	}

	count, err := store.CountFailedRecoveryAttempts(context.Background(), "person@example.com", now.Add(-15*time.Minute))
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 failures in window, got %d", count)
	}
}

func TestAccountRoundTripAndOwnership(t *testing.T) {
	store := openTempStore(t)
	putTestUser(t, store, "user-1")
	putTestUser(t, store, "user-2")

	account := storage.CustodialAccount{
		ID:              "acct-1",
		UserID:          "user-1",
		Address:         "GABC123",
		PublicKey:       "pub",
		EncryptedSecret: "sealed",
		KeySalt:         "salt",
		Label:           "primary",
		CreatedAt:       time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	if err := store.PutAccount(context.Background(), account); err != nil {
		t.Fatalf("put account: %v", err)
	}

	got, err := store.GetAccountByAddress(context.Background(), "GABC123")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if got.UserID != "user-1" || got.EncryptedSecret != "sealed" || got.KeySalt != "salt" {
		t.Fatalf("unexpected account: %+v", got)
	}

	listed, err := store.ListAccountsByUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("list accounts: %v", err)
	}
	if len(listed) != 1 || listed[0].Address != "GABC123" {
		t.Fatalf("unexpected accounts: %+v", listed)
	}

	used := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	if err := store.TouchAccount(context.Background(), "GABC123", used); err != nil {
		t.Fatalf("touch account: %v", err)
	}

	deleted, err := store.DeleteAccount(context.Background(), "user-2", "GABC123")
	if err != nil {
		t.Fatalf("delete account: %v", err)
	}
	if deleted {
		t.Fatal("expected delete to fail for non-owner")
	}

	deleted, err = store.DeleteAccount(context.Background(), "user-1", "GABC123")
	if err != nil {
		t.Fatalf("delete account: %v", err)
	}
	if !deleted {
		t.Fatal("expected delete to succeed for owner")
	}
}

func TestPutAccountDuplicateAddress(t *testing.T) {
	store := openTempStore(t)
	putTestUser(t, store, "user-1")

	account := storage.CustodialAccount{
		ID:              "acct-1",
		UserID:          "user-1",
		Address:         "GABC123",
		PublicKey:       "pub",
		EncryptedSecret: "sealed",
		KeySalt:         "salt",
	}
	if err := store.PutAccount(context.Background(), account); err != nil {
		t.Fatalf("put account: %v", err)
	}

	account.ID = "acct-2"
	if err := store.PutAccount(context.Background(), account); err == nil {
		t.Fatal("expected error for duplicate address")
	}
}
