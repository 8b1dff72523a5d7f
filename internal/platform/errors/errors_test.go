package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	base := New(CodeSessionInvalid, "session is invalid")
	other := New(CodeSessionInvalid, "different message")

	if !stderrors.Is(base, other) {
		t.Fatal("expected errors with the same code to match")
	}
	if stderrors.Is(base, New(CodeNotFound, "missing")) {
		t.Fatal("expected errors with different codes not to match")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("row scan failed")
	err := Wrap(CodeUnknown, "load session", cause)

	if !stderrors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be reachable")
	}
	if err.Error() != "load session" {
		t.Fatalf("Error() = %q, want %q", err.Error(), "load session")
	}
}

func TestGetCode(t *testing.T) {
	if got := GetCode(New(CodeCredentialCloneDetected, "clone")); got != CodeCredentialCloneDetected {
		t.Fatalf("GetCode = %q, want %q", got, CodeCredentialCloneDetected)
	}
	if got := GetCode(fmt.Errorf("plain")); got != CodeUnknown {
		t.Fatalf("GetCode = %q, want %q", got, CodeUnknown)
	}
	wrapped := fmt.Errorf("outer: %w", New(CodeRecoveryAttemptsExceeded, "locked"))
	if got := GetCode(wrapped); got != CodeRecoveryAttemptsExceeded {
		t.Fatalf("GetCode = %q, want %q", got, CodeRecoveryAttemptsExceeded)
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		code Code
		want int
	}{
		{CodeChallengeExpiredOrReplayed, http.StatusBadRequest},
		{CodeSignatureVerificationFailed, http.StatusUnauthorized},
		{CodeSessionInvalid, http.StatusUnauthorized},
		{CodeAccountOwnershipViolation, http.StatusForbidden},
		{CodeNotFound, http.StatusNotFound},
		{CodeIdentityExists, http.StatusConflict},
		{CodeCredentialRemovalBlocked, http.StatusConflict},
		{CodeRecoveryAttemptsExceeded, http.StatusTooManyRequests},
		{CodeEncryptionKeyUnavailable, http.StatusInternalServerError},
		{CodeUnknown, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := tc.code.HTTPStatus(); got != tc.want {
			t.Fatalf("%s.HTTPStatus() = %d, want %d", tc.code, got, tc.want)
		}
	}
}

func TestGenericCodes(t *testing.T) {
	for _, code := range []Code{
		CodeChallengeExpiredOrReplayed,
		CodeSignatureVerificationFailed,
		CodeUnknownCredential,
		CodeUnknownIdentity,
		CodeCredentialCloneDetected,
		CodeRecoveryCodeInvalid,
		CodeSessionInvalid,
	} {
		if !code.Generic() {
			t.Fatalf("expected %s to be generic", code)
		}
	}
	for _, code := range []Code{CodeAccountOwnershipViolation, CodeRecoveryAttemptsExceeded, CodeIdentityExists} {
		if code.Generic() {
			t.Fatalf("expected %s not to be generic", code)
		}
	}
}
