// Package session issues and resolves opaque bearer sessions.
//
// Tokens carry no claims; every resolution goes to storage. All resolution
// failures collapse to a single invalid-session error so a caller cannot
// distinguish expiry from revocation or a token that never existed.
package session
