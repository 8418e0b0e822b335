// Package internal holds helpers private to goPasscode: one-time code generation, keyed
// code hashing and identity key normalization.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: pure-function orchestrators for every Engine operation
//   - logging: slog handler construction with trace correlation
//   - scope: reviewer scope pattern matching
//   - stores: Redis-backed OTP and identity records
//
// Nothing here is part of the public API.
package internal
