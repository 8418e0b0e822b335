// Package postgres provides a PostgreSQL implementation of goPasscode.IdentityStore.
//
// Identities and credentials live in two tables keyed by the normalized identity key.
// Creation relies on the UNIQUE constraint on identity_key, so concurrent creates for one
// key have exactly one winner; the losers receive goPasscode.ErrIdentityConflict.
//
// Errors are samber/oops errors carrying a code and the identity key. They wrap the
// goPasscode sentinels, so errors.Is works on everything this package returns.
package postgres
