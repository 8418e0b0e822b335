package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/goPasscode/jwt"
)

type RefreshMetrics struct {
	Success int
	Failure int
	Revoked int
}

type RefreshEvents struct {
	Success string
	Failure string
}

type RefreshErrors struct {
	EngineNotReady      error
	TokenInvalid        error
	TokenExpired        error
	TokenRevoked        error
	TokenIssueFailed    error
	IdentityNotFound    error
	IdentityUnavailable error
}

type RefreshDeps struct {
	// VerifyRefresh checks signature, expiry and that the token is a refresh token.
	VerifyRefresh func(token string) (*jwt.Claims, error)
	GetIdentity   GetIdentityFunc
	IssueTokens   IssueTokensFunc

	Warn      WarnFunc
	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics RefreshMetrics
	Events  RefreshEvents
	Errors  RefreshErrors
}

type RefreshResult struct {
	Tokens   jwt.Pair
	Identity Identity
}

// RunRefresh exchanges a refresh token for a new pair. The token must carry the
// identity's current token version; bumping the version revokes every outstanding pair.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) (RefreshResult, error) {
	normalizeRefreshDeps(&deps)
	if deps.VerifyRefresh == nil || deps.GetIdentity == nil || deps.IssueTokens == nil {
		return RefreshResult{}, deps.Errors.EngineNotReady
	}

	fail := func(key string, err error, reason string) (RefreshResult, error) {
		deps.MetricInc(deps.Metrics.Failure)
		deps.EmitAudit(ctx, deps.Events.Failure, false, key, "", err, func() map[string]string {
			return map[string]string{"reason": reason}
		})
		return RefreshResult{}, err
	}

	claims, err := deps.VerifyRefresh(refreshToken)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return fail("", deps.Errors.TokenExpired, "expired")
		}
		return fail("", deps.Errors.TokenInvalid, "invalid")
	}

	key := claims.Subject
	identity, err := deps.GetIdentity(ctx, key)
	if err != nil {
		if errors.Is(err, deps.Errors.IdentityNotFound) {
			deps.MetricInc(deps.Metrics.Revoked)
			return fail(key, deps.Errors.TokenRevoked, "identity_missing")
		}
		deps.Warn(ctx, "refresh: identity lookup failed", "identity_key", key, "error", err)
		return fail(key, deps.Errors.IdentityUnavailable, "identity_lookup_failed")
	}
	if identity.TokenVersion != claims.TokenVersion {
		deps.MetricInc(deps.Metrics.Revoked)
		return fail(key, deps.Errors.TokenRevoked, "token_version")
	}

	tokens, err := deps.IssueTokens(identity)
	if err != nil {
		deps.Warn(ctx, "refresh: token issue failed", "identity_key", key, "error", err)
		return fail(key, deps.Errors.TokenIssueFailed, "token_issue_failed")
	}

	deps.MetricInc(deps.Metrics.Success)
	deps.EmitAudit(ctx, deps.Events.Success, true, key, "", nil, nil)
	return RefreshResult{Tokens: tokens, Identity: identity}, nil
}

func normalizeRefreshDeps(deps *RefreshDeps) {
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
