// Package recovery manages single-use account recovery codes.
//
// Codes are issued in batches of eight, stored only as bcrypt hashes, and
// burn exactly once. Redemption is rate limited per identity whether or not
// the account exists, so lockout behavior leaks nothing about registered
// emails.
package recovery
