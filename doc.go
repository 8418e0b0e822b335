// Package goPasscode is an email passcode authentication engine: password login,
// one-time codes that log in or register in a single step, admin-granted reviewer codes,
// and JWT access and refresh tokens with version-based revocation.
//
// Engine methods are safe to call from multiple goroutines after [Builder.Build].
//
// # Architecture boundaries
//
// goPasscode is the public surface. It exposes [Engine], [Builder], [Config], the
// [IdentityStore] contract and value types. Flow orchestration, the Redis code store,
// scope matching and audit dispatch live under internal/ and are never exported.
//
// # Codes
//
// Only an HMAC of each code is stored. A standard code is consumed by its first
// successful redemption, atomically in Redis, so concurrent redemptions of one code
// succeed at most once. The development code and the reviewer code are reusable until
// they expire and never create identities.
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or encoding details in its public API.
//   - Tell a caller why a code or password was rejected. Reasons go to audit only.
//   - Import any sub-package that re-imports goPasscode.
//
// # Performance contract
//
// ValidateAccess is the hot path and never touches Redis. Code redemption is one Lua
// round trip per purpose tried.
package goPasscode
