// Package errors provides structured error handling for the vaultgate core.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Challenge errors
	CodeChallengeExpiredOrReplayed Code = "CHALLENGE_EXPIRED_OR_REPLAYED"
	CodeCeremonyTypeMismatch       Code = "CEREMONY_TYPE_MISMATCH"

	// Credential errors
	CodeOriginOrRPMismatch          Code = "ORIGIN_OR_RP_MISMATCH"
	CodeSignatureVerificationFailed Code = "SIGNATURE_VERIFICATION_FAILED"
	CodeUnknownCredential           Code = "UNKNOWN_CREDENTIAL"
	CodeCredentialExists            Code = "CREDENTIAL_EXISTS"
	CodeCredentialCloneDetected     Code = "CREDENTIAL_CLONE_DETECTED"
	CodeCredentialRemovalBlocked    Code = "CREDENTIAL_REMOVAL_BLOCKED"

	// Identity errors
	CodeUnknownIdentity Code = "UNKNOWN_IDENTITY"
	CodeIdentityExists  Code = "IDENTITY_EXISTS"

	// Recovery errors
	CodeRecoveryCodeInvalid      Code = "RECOVERY_CODE_INVALID"
	CodeRecoveryCodeAlreadyUsed  Code = "RECOVERY_CODE_ALREADY_USED"
	CodeRecoveryAttemptsExceeded Code = "RECOVERY_ATTEMPTS_EXCEEDED"
	CodeRecoveryNotAcknowledged  Code = "RECOVERY_NOT_ACKNOWLEDGED"

	// Session errors
	CodeSessionInvalid Code = "SESSION_INVALID"

	// Custody errors
	CodeAccountOwnershipViolation Code = "ACCOUNT_OWNERSHIP_VIOLATION"
	CodeEncryptionKeyUnavailable  Code = "ENCRYPTION_KEY_UNAVAILABLE"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// HTTPStatus maps domain codes to HTTP response statuses.
func (c Code) HTTPStatus() int {
	switch c {
	// Bad request - validation and ceremony failures
	case CodeChallengeExpiredOrReplayed,
		CodeCeremonyTypeMismatch,
		CodeOriginOrRPMismatch,
		CodeRecoveryCodeInvalid,
		CodeRecoveryCodeAlreadyUsed:
		return http.StatusBadRequest

	// Unauthorized - the caller could not be authenticated
	case CodeSignatureVerificationFailed,
		CodeUnknownCredential,
		CodeUnknownIdentity,
		CodeCredentialCloneDetected,
		CodeSessionInvalid:
		return http.StatusUnauthorized

	// Forbidden - authenticated but not allowed
	case CodeAccountOwnershipViolation:
		return http.StatusForbidden

	case CodeNotFound:
		return http.StatusNotFound

	// Conflict - unique resource constraint or blocked state change
	case CodeIdentityExists,
		CodeCredentialExists,
		CodeCredentialRemovalBlocked,
		CodeRecoveryNotAcknowledged:
		return http.StatusConflict

	case CodeRecoveryAttemptsExceeded:
		return http.StatusTooManyRequests

	case CodeEncryptionKeyUnavailable:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// Generic reports whether the code must be rendered to external callers as a
// single generic message to prevent account and credential enumeration.
func (c Code) Generic() bool {
	switch c {
	case CodeChallengeExpiredOrReplayed,
		CodeCeremonyTypeMismatch,
		CodeOriginOrRPMismatch,
		CodeSignatureVerificationFailed,
		CodeUnknownCredential,
		CodeUnknownIdentity,
		CodeCredentialCloneDetected,
		CodeRecoveryCodeInvalid,
		CodeRecoveryCodeAlreadyUsed,
		CodeSessionInvalid:
		return true
	}
	return false
}
