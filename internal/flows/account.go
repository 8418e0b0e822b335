package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/goPasscode/internal"
	"github.com/MrEthical07/goPasscode/jwt"
)

type AccountMetrics struct {
	Registered       int
	RegisterConflict int
	PasswordSet      int
	SessionsRevoked  int
}

type AccountEvents struct {
	RegisterSuccess string
	RegisterFailure string
	PasswordSet     string
	SessionsRevoked string
}

type AccountErrors struct {
	EngineNotReady      error
	InvalidIdentityKey  error
	PasswordPolicy      error
	IdentityConflict    error
	IdentityNotFound    error
	IdentityUnavailable error
	TokenIssueFailed    error
}

type AccountDeps struct {
	// ReservedEmail can never be registered with a password.
	ReservedEmail string
	StandardRole  string

	HashPassword   func(password string) (string, error)
	GetIdentity    GetIdentityFunc
	CreateIdentity CreateIdentityFunc
	// SetPasswordHash replaces the credential and bumps the token version.
	SetPasswordHash  func(ctx context.Context, key, passwordHash string) (uint32, error)
	BumpTokenVersion func(ctx context.Context, key string) (uint32, error)
	IssueTokens      IssueTokensFunc

	Warn      WarnFunc
	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics AccountMetrics
	Events  AccountEvents
	Errors  AccountErrors
}

type RegisterResult struct {
	Tokens   jwt.Pair
	Identity Identity
}

// RunRegister creates an identity with a password credential and signs it in.
func RunRegister(ctx context.Context, email, password string, deps AccountDeps) (RegisterResult, error) {
	normalizeAccountDeps(&deps)
	if deps.HashPassword == nil || deps.CreateIdentity == nil || deps.IssueTokens == nil {
		return RegisterResult{}, deps.Errors.EngineNotReady
	}

	key := internal.NormalizeIdentityKey(email)
	fail := func(err error, reason string) (RegisterResult, error) {
		deps.EmitAudit(ctx, deps.Events.RegisterFailure, false, key, "", err, func() map[string]string {
			return map[string]string{"reason": reason}
		})
		return RegisterResult{}, err
	}

	if key == "" {
		return fail(deps.Errors.InvalidIdentityKey, "empty_identifier")
	}
	if deps.ReservedEmail != "" && key == deps.ReservedEmail {
		deps.MetricInc(deps.Metrics.RegisterConflict)
		return fail(deps.Errors.IdentityConflict, "reserved_identity")
	}

	hash, err := deps.HashPassword(password)
	if err != nil {
		return fail(errors.Join(deps.Errors.PasswordPolicy, err), "password_policy")
	}

	identity, err := deps.CreateIdentity(ctx, key, deps.StandardRole, hash)
	if err != nil {
		if errors.Is(err, deps.Errors.IdentityConflict) {
			deps.MetricInc(deps.Metrics.RegisterConflict)
			return fail(deps.Errors.IdentityConflict, "identity_exists")
		}
		deps.Warn(ctx, "register: identity creation failed", "identity_key", key, "error", err)
		return fail(deps.Errors.IdentityUnavailable, "identity_create_failed")
	}

	tokens, err := deps.IssueTokens(identity)
	if err != nil {
		deps.Warn(ctx, "register: token issue failed", "identity_key", key, "error", err)
		return fail(deps.Errors.TokenIssueFailed, "token_issue_failed")
	}

	deps.MetricInc(deps.Metrics.Registered)
	deps.EmitAudit(ctx, deps.Events.RegisterSuccess, true, key, "", nil, func() map[string]string {
		return map[string]string{"identity_id": identity.ID}
	})
	return RegisterResult{Tokens: tokens, Identity: identity}, nil
}

// RunSetPassword replaces the password of an existing identity. Every outstanding
// refresh token stops working.
func RunSetPassword(ctx context.Context, email, password string, deps AccountDeps) (uint32, error) {
	normalizeAccountDeps(&deps)
	if deps.HashPassword == nil || deps.SetPasswordHash == nil {
		return 0, deps.Errors.EngineNotReady
	}

	key := internal.NormalizeIdentityKey(email)
	if key == "" {
		return 0, deps.Errors.InvalidIdentityKey
	}
	hash, err := deps.HashPassword(password)
	if err != nil {
		return 0, errors.Join(deps.Errors.PasswordPolicy, err)
	}

	version, err := deps.SetPasswordHash(ctx, key, hash)
	if err != nil {
		if errors.Is(err, deps.Errors.IdentityNotFound) {
			return 0, deps.Errors.IdentityNotFound
		}
		deps.Warn(ctx, "set password: store write failed", "identity_key", key, "error", err)
		return 0, deps.Errors.IdentityUnavailable
	}

	deps.MetricInc(deps.Metrics.PasswordSet)
	deps.EmitAudit(ctx, deps.Events.PasswordSet, true, key, "", nil, nil)
	return version, nil
}

// RunRevokeAll bumps the token version of email, invalidating every refresh token.
func RunRevokeAll(ctx context.Context, email string, deps AccountDeps) (uint32, error) {
	normalizeAccountDeps(&deps)
	if deps.BumpTokenVersion == nil {
		return 0, deps.Errors.EngineNotReady
	}

	key := internal.NormalizeIdentityKey(email)
	if key == "" {
		return 0, deps.Errors.InvalidIdentityKey
	}
	version, err := deps.BumpTokenVersion(ctx, key)
	if err != nil {
		if errors.Is(err, deps.Errors.IdentityNotFound) {
			return 0, deps.Errors.IdentityNotFound
		}
		deps.Warn(ctx, "revoke sessions: store write failed", "identity_key", key, "error", err)
		return 0, deps.Errors.IdentityUnavailable
	}

	deps.MetricInc(deps.Metrics.SessionsRevoked)
	deps.EmitAudit(ctx, deps.Events.SessionsRevoked, true, key, "", nil, nil)
	return version, nil
}

func normalizeAccountDeps(deps *AccountDeps) {
	if deps.StandardRole == "" {
		deps.StandardRole = "standard"
	}
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
