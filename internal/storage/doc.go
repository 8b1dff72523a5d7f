// Package storage defines persistence contracts for identity and custody
// assets.
//
// These interfaces exist so ceremony logic and the custody layer can depend
// on stable domain semantics without coupling to SQLite schema details.
package storage
