// Package stores provides the Redis-backed records behind passcode authentication:
// one-time codes (OTPStore) and identities with their credentials (IdentityStore).
//
// # Design
//
// OTP records are versioned and binary-encoded, one key per (purpose, identity key), so
// issuing a code replaces the previous one. Redeem, Restore and Sweep are Lua scripts:
// each is a single atomic read-validate-write on one key. Standard codes are marked
// consumed instead of deleted, which lets the caller undo a consumption when the work
// guarded by it fails. Code hashes are compared in constant time after the script match.
//
// Identity writes are Lua scripts guarded by EXISTS so creation is exactly-once per key.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control only. It does not generate
// codes or make authentication decisions; those belong to internal/flows.
//
//   - Never import goPasscode or any sibling internal package.
//   - Never log or expose plaintext codes or passwords.
package stores
