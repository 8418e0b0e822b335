// Package jwt issues and verifies the access/refresh token pair. Tokens carry a typ claim
// so that a refresh token is never accepted where an access token is expected, and a token
// version used by callers for refresh revocation.
package jwt
