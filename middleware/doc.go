// Package middleware exposes HTTP middleware built on goPasscode.Engine token
// validation.
//
// # Guards
//
//   - [RequireAccess] verifies a bearer access token and injects the result into the
//     request context.
//   - [RequireAdmin] admits only requests whose validated role is an admin role. It must
//     run behind RequireAccess.
//
// Validation is stateless; a revoked token version takes effect at the next refresh.
//
// This package translates HTTP semantics into Engine calls. It never parses tokens
// itself and never touches Redis.
package middleware
