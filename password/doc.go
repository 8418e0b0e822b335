// Package password hashes and verifies passwords with Argon2id.
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.Check] is the form used on login paths: a missing or unreadable stored hash
// costs one full derivation against a dummy hash and reports false, so callers cannot
// tell an unknown account from a wrong password by timing.
//
// This package never stores passwords and never logs plaintext.
package password
