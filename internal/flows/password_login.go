package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/goPasscode/internal"
	"github.com/MrEthical07/goPasscode/jwt"
)

type PasswordLoginMetrics struct {
	Success int
	Failure int
	Rehash  int
}

type PasswordLoginEvents struct {
	Success string
	Failure string
}

type PasswordLoginErrors struct {
	EngineNotReady      error
	InvalidCredentials  error
	IdentityNotFound    error
	CredentialNotFound  error
	IdentityUnavailable error
	TokenIssueFailed    error
}

type PasswordLoginDeps struct {
	GetIdentity     GetIdentityFunc
	GetPasswordHash func(ctx context.Context, key string) (string, error)
	// CheckPassword must spend the same work for an empty hash as for a real one.
	CheckPassword func(password, encodedHash string) bool
	IssueTokens   IssueTokensFunc

	// Optional. When NeedsRehash reports true after a successful check, the password is
	// hashed again with current parameters and stored through UpdatePasswordHash.
	NeedsRehash        func(encodedHash string) bool
	HashPassword       func(password string) (string, error)
	UpdatePasswordHash func(ctx context.Context, key, encodedHash string) error

	Warn      WarnFunc
	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics PasswordLoginMetrics
	Events  PasswordLoginEvents
	Errors  PasswordLoginErrors
}

type PasswordLoginResult struct {
	Tokens   jwt.Pair
	Identity Identity
}

// RunPasswordLogin checks email and password. Unknown identities, identities without a
// password and wrong passwords all fail with InvalidCredentials after one full hash
// verification.
func RunPasswordLogin(ctx context.Context, email, password string, deps PasswordLoginDeps) (PasswordLoginResult, error) {
	normalizePasswordLoginDeps(&deps)
	if deps.GetIdentity == nil || deps.GetPasswordHash == nil || deps.CheckPassword == nil || deps.IssueTokens == nil {
		return PasswordLoginResult{}, deps.Errors.EngineNotReady
	}

	key := internal.NormalizeIdentityKey(email)
	fail := func(err error, reason string) (PasswordLoginResult, error) {
		deps.MetricInc(deps.Metrics.Failure)
		deps.EmitAudit(ctx, deps.Events.Failure, false, key, "", err, func() map[string]string {
			return map[string]string{"reason": reason}
		})
		return PasswordLoginResult{}, err
	}

	if key == "" {
		deps.CheckPassword(password, "")
		return fail(deps.Errors.InvalidCredentials, "empty_identifier")
	}

	identity, err := deps.GetIdentity(ctx, key)
	if err != nil {
		if errors.Is(err, deps.Errors.IdentityNotFound) {
			deps.CheckPassword(password, "")
			return fail(deps.Errors.InvalidCredentials, "identity_not_found")
		}
		deps.Warn(ctx, "password login: identity lookup failed", "error", err)
		return fail(deps.Errors.IdentityUnavailable, "identity_lookup_failed")
	}

	hash, err := deps.GetPasswordHash(ctx, key)
	reason := "password_mismatch"
	if err != nil {
		if !errors.Is(err, deps.Errors.CredentialNotFound) {
			deps.Warn(ctx, "password login: credential lookup failed", "error", err)
			return fail(deps.Errors.IdentityUnavailable, "credential_lookup_failed")
		}
		hash = ""
		reason = "no_credential"
	}

	if !deps.CheckPassword(password, hash) {
		return fail(deps.Errors.InvalidCredentials, reason)
	}
	rehashPassword(ctx, key, password, hash, deps)

	tokens, err := deps.IssueTokens(identity)
	if err != nil {
		deps.Warn(ctx, "password login: token issue failed", "error", err)
		return fail(deps.Errors.TokenIssueFailed, "token_issue_failed")
	}

	deps.MetricInc(deps.Metrics.Success)
	deps.EmitAudit(ctx, deps.Events.Success, true, key, "", nil, nil)

	return PasswordLoginResult{Tokens: tokens, Identity: identity}, nil
}

// rehashPassword upgrades a stored hash made with weaker parameters. Failures are logged
// and never fail the login.
func rehashPassword(ctx context.Context, key, password, hash string, deps PasswordLoginDeps) {
	if deps.NeedsRehash == nil || deps.HashPassword == nil || deps.UpdatePasswordHash == nil {
		return
	}
	if !deps.NeedsRehash(hash) {
		return
	}
	upgraded, err := deps.HashPassword(password)
	if err != nil {
		deps.Warn(ctx, "password login: rehash failed", "error", err)
		return
	}
	if err := deps.UpdatePasswordHash(ctx, key, upgraded); err != nil {
		deps.Warn(ctx, "password login: storing rehashed password failed", "error", err)
		return
	}
	deps.MetricInc(deps.Metrics.Rehash)
}

func normalizePasswordLoginDeps(deps *PasswordLoginDeps) {
	if deps.Warn == nil {
		deps.Warn = noopWarn
	}
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
}
