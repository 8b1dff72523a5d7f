// Package challenge issues and consumes single-use WebAuthn ceremony
// challenges.
//
// Every ceremony burns its challenge exactly once, before any signature
// verification runs, so a replayed or raced response can never reach the
// verifier with live state.
package challenge
