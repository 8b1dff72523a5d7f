// Package credential verifies WebAuthn registration and login ceremonies.
//
// Ceremony parsing and signature verification delegate to go-webauthn; the
// verifier consumes the single-use challenge before any verification runs,
// re-checks the collected client data explicitly, and owns the sign counter
// clone policy.
package credential
