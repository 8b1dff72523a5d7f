// Package custody holds platform-custodied signing keys encrypted at rest.
//
// Every account secret is sealed under a key derived from the process master
// secret, a per-account random salt, and the owning user id, so no two
// accounts share an encryption key and a leaked database is useless without
// the master secret. Decrypted secrets exist only for the duration of an
// export call and are never logged.
package custody
