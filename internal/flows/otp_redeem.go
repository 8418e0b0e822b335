package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goPasscode/internal"
	"github.com/MrEthical07/goPasscode/internal/stores"
	"github.com/MrEthical07/goPasscode/jwt"
)

type OTPRedeemMetrics struct {
	Success         int
	Failure         int
	IdentityCreated int
	Compensated     int
	PersistentUsed  int
	ReviewerUsed    int
}

type OTPRedeemEvents struct {
	Success         string
	Failure         string
	IdentityCreated string
	Compensated     string
}

type OTPRedeemErrors struct {
	EngineNotReady          error
	InvalidOrExpiredCode    error
	IdentityNotFound        error
	IdentityConflict        error
	IdentityUnavailable     error
	TokenIssueFailed        error
	OTPUnavailable          error
	ReviewerIdentityMissing error
}

type OTPRedeemDeps struct {
	Grace time.Duration
	// ReservedEmail is the normalized reviewer identity; it never takes the standard path.
	ReservedEmail   string
	ReviewerEnabled bool
	// PersistentEnabled turns on the development code stored under PersistentKey.
	PersistentEnabled bool
	PersistentKey     string

	Now      func() time.Time
	HashCode func(code string) [32]byte
	Store    OTPStore
	// SeedPersistent writes the development record when it is missing and reports whether
	// a record was written.
	SeedPersistent func(ctx context.Context) (bool, error)
	ScopeMatch     func(pattern, email string) bool

	GetIdentity    GetIdentityFunc
	CreateIdentity CreateIdentityFunc
	IssueTokens    IssueTokensFunc
	StandardRole   string

	Warn      WarnFunc
	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics OTPRedeemMetrics
	Events  OTPRedeemEvents
	Errors  OTPRedeemErrors
}

type OTPRedeemResult struct {
	Tokens   jwt.Pair
	Identity Identity
	Created  bool
	Purpose  stores.Purpose
}

// redeemFailure orders internal failure reasons. When several purposes are tried, the
// highest-ranked reason is the one recorded.
type redeemFailure int

const (
	failureNone redeemFailure = iota
	failureNotFound
	failureExpired
	failureMismatch
	failureRejected
)

func (f redeemFailure) String() string {
	switch f {
	case failureNotFound:
		return "not_found"
	case failureExpired:
		return "expired"
	case failureMismatch:
		return "mismatch"
	case failureRejected:
		return "rejected"
	default:
		return "none"
	}
}

type redeemOutcome struct {
	kind   redeemFailure
	detail string
}

func (o *redeemOutcome) note(kind redeemFailure, detail string) {
	if kind > o.kind {
		o.kind = kind
		o.detail = detail
	}
}

func classifyRedeemError(err error) (redeemFailure, bool) {
	switch {
	case errors.Is(err, stores.ErrOTPNotFound):
		return failureNotFound, true
	case errors.Is(err, stores.ErrOTPExpired):
		return failureExpired, true
	case errors.Is(err, stores.ErrOTPMismatch):
		return failureMismatch, true
	default:
		return failureNone, false
	}
}

// RunRedeemOTP is the unified login-or-register flow. It tries, in order, the standard
// code for email, the development code, and the reviewer code. Only the standard path
// can create an identity. Every caller-visible failure is InvalidOrExpiredCode; the
// specific reason goes to audit metadata.
func RunRedeemOTP(ctx context.Context, email, code string, deps OTPRedeemDeps) (OTPRedeemResult, error) {
	normalizeOTPRedeemDeps(&deps)
	if deps.Store == nil || deps.HashCode == nil || deps.GetIdentity == nil || deps.CreateIdentity == nil || deps.IssueTokens == nil {
		return OTPRedeemResult{}, deps.Errors.EngineNotReady
	}

	key := internal.NormalizeIdentityKey(email)
	if key == "" || code == "" {
		return failRedeem(ctx, key, deps.Errors.InvalidOrExpiredCode, redeemOutcome{kind: failureNotFound, detail: "empty_input"}, deps)
	}

	hash := deps.HashCode(code)
	now := deps.Now()
	var outcome redeemOutcome

	if key != deps.ReservedEmail {
		record, err := deps.Store.Redeem(ctx, stores.PurposeStandard, key, hash, now, deps.Grace)
		if err == nil {
			return completeStandard(ctx, key, record, deps)
		}
		kind, ok := classifyRedeemError(err)
		if !ok {
			deps.Warn(ctx, "otp redeem: standard lookup failed", "error", err)
			return failRedeem(ctx, key, deps.Errors.OTPUnavailable, redeemOutcome{detail: "store_failed"}, deps)
		}
		outcome.note(kind, "standard_"+kind.String())
	}

	if deps.PersistentEnabled && key != deps.ReservedEmail {
		result, kind, detail, err := redeemPersistent(ctx, key, hash, now, deps)
		if err != nil {
			return failRedeem(ctx, key, err, redeemOutcome{detail: detail}, deps)
		}
		if kind == failureNone {
			return finish(ctx, key, result, deps)
		}
		outcome.note(kind, detail)
	}

	if deps.ReviewerEnabled && deps.ReservedEmail != "" {
		result, kind, detail, err := redeemReviewer(ctx, key, hash, now, deps)
		if err != nil {
			return failRedeem(ctx, key, err, redeemOutcome{detail: detail}, deps)
		}
		if kind == failureNone {
			return finish(ctx, key, result, deps)
		}
		outcome.note(kind, detail)
	}

	if outcome.kind == failureNone {
		outcome.note(failureNotFound, "no_record")
	}
	return failRedeem(ctx, key, deps.Errors.InvalidOrExpiredCode, outcome, deps)
}

// completeStandard resolves or creates the identity for a consumed standard code. Any
// failure after consumption restores the code so it is not burned without a session.
func completeStandard(ctx context.Context, key string, record *stores.OTPRecord, deps OTPRedeemDeps) (OTPRedeemResult, error) {
	created := false
	identity, err := deps.GetIdentity(ctx, key)
	switch {
	case err == nil:
	case errors.Is(err, deps.Errors.IdentityNotFound):
		identity, err = deps.CreateIdentity(ctx, key, deps.StandardRole, "")
		switch {
		case err == nil:
			created = true
		case errors.Is(err, deps.Errors.IdentityConflict):
			// Lost a creation race; the winner's identity is the one to log into.
			identity, err = deps.GetIdentity(ctx, key)
			if err != nil {
				compensate(ctx, record, "reload_after_conflict", deps)
				deps.Warn(ctx, "otp redeem: identity reload after conflict failed", "identity_key", key, "error", err)
				return failRedeem(ctx, key, deps.Errors.IdentityUnavailable, redeemOutcome{detail: "identity_reload_failed"}, deps)
			}
		default:
			compensate(ctx, record, "identity_create_failed", deps)
			deps.Warn(ctx, "otp redeem: identity creation failed", "identity_key", key, "error", err)
			return failRedeem(ctx, key, deps.Errors.IdentityUnavailable, redeemOutcome{detail: "identity_create_failed"}, deps)
		}
	default:
		compensate(ctx, record, "identity_lookup_failed", deps)
		deps.Warn(ctx, "otp redeem: identity lookup failed", "identity_key", key, "error", err)
		return failRedeem(ctx, key, deps.Errors.IdentityUnavailable, redeemOutcome{detail: "identity_lookup_failed"}, deps)
	}

	tokens, err := deps.IssueTokens(identity)
	if err != nil {
		compensate(ctx, record, "token_issue_failed", deps)
		deps.Warn(ctx, "otp redeem: token issue failed", "identity_key", key, "error", err)
		return failRedeem(ctx, key, deps.Errors.TokenIssueFailed, redeemOutcome{detail: "token_issue_failed"}, deps)
	}

	if created {
		deps.MetricInc(deps.Metrics.IdentityCreated)
		deps.EmitAudit(ctx, deps.Events.IdentityCreated, true, key, stores.PurposeStandard.String(), nil, func() map[string]string {
			return map[string]string{"identity_id": identity.ID}
		})
	}

	return finish(ctx, key, OTPRedeemResult{
		Tokens:   tokens,
		Identity: identity,
		Created:  created,
		Purpose:  stores.PurposeStandard,
	}, deps)
}

func redeemPersistent(ctx context.Context, key string, hash [32]byte, now time.Time, deps OTPRedeemDeps) (OTPRedeemResult, redeemFailure, string, error) {
	_, err := deps.Store.Redeem(ctx, stores.PurposePersistent, deps.PersistentKey, hash, now, deps.Grace)
	if errors.Is(err, stores.ErrOTPNotFound) && deps.SeedPersistent != nil {
		seeded, seedErr := deps.SeedPersistent(ctx)
		if seedErr != nil {
			deps.Warn(ctx, "otp redeem: persistent code seed failed", "error", seedErr)
			return OTPRedeemResult{}, failureNone, "persistent_seed_failed", deps.Errors.OTPUnavailable
		}
		if seeded {
			_, err = deps.Store.Redeem(ctx, stores.PurposePersistent, deps.PersistentKey, hash, now, deps.Grace)
		}
	}
	if err != nil {
		kind, ok := classifyRedeemError(err)
		if !ok {
			deps.Warn(ctx, "otp redeem: persistent lookup failed", "error", err)
			return OTPRedeemResult{}, failureNone, "store_failed", deps.Errors.OTPUnavailable
		}
		return OTPRedeemResult{}, kind, "persistent_" + kind.String(), nil
	}

	// The development code only ever logs into an identity that already exists.
	identity, err := deps.GetIdentity(ctx, key)
	if err != nil {
		if errors.Is(err, deps.Errors.IdentityNotFound) {
			return OTPRedeemResult{}, failureRejected, "persistent_no_identity", nil
		}
		deps.Warn(ctx, "otp redeem: identity lookup failed", "identity_key", key, "error", err)
		return OTPRedeemResult{}, failureNone, "identity_lookup_failed", deps.Errors.IdentityUnavailable
	}

	tokens, err := deps.IssueTokens(identity)
	if err != nil {
		deps.Warn(ctx, "otp redeem: token issue failed", "identity_key", key, "error", err)
		return OTPRedeemResult{}, failureNone, "token_issue_failed", deps.Errors.TokenIssueFailed
	}
	return OTPRedeemResult{Tokens: tokens, Identity: identity, Purpose: stores.PurposePersistent}, failureNone, "", nil
}

func redeemReviewer(ctx context.Context, key string, hash [32]byte, now time.Time, deps OTPRedeemDeps) (OTPRedeemResult, redeemFailure, string, error) {
	record, err := deps.Store.Redeem(ctx, stores.PurposeReviewer, deps.ReservedEmail, hash, now, deps.Grace)
	if err != nil {
		kind, ok := classifyRedeemError(err)
		if !ok {
			deps.Warn(ctx, "otp redeem: reviewer lookup failed", "error", err)
			return OTPRedeemResult{}, failureNone, "store_failed", deps.Errors.OTPUnavailable
		}
		return OTPRedeemResult{}, kind, "reviewer_" + kind.String(), nil
	}

	if deps.ScopeMatch == nil || !deps.ScopeMatch(record.Scope, key) {
		return OTPRedeemResult{}, failureRejected, "reviewer_out_of_scope", nil
	}

	// The scope decides who may use the code, never which account it opens.
	identity, err := deps.GetIdentity(ctx, deps.ReservedEmail)
	if err != nil {
		if errors.Is(err, deps.Errors.IdentityNotFound) {
			deps.Warn(ctx, "otp redeem: reviewer identity missing", "identity_key", deps.ReservedEmail, "error", deps.Errors.ReviewerIdentityMissing)
			return OTPRedeemResult{}, failureRejected, "reviewer_identity_missing", nil
		}
		deps.Warn(ctx, "otp redeem: reviewer identity lookup failed", "error", err)
		return OTPRedeemResult{}, failureNone, "identity_lookup_failed", deps.Errors.IdentityUnavailable
	}

	tokens, err := deps.IssueTokens(identity)
	if err != nil {
		deps.Warn(ctx, "otp redeem: token issue failed", "identity_key", identity.Key, "error", err)
		return OTPRedeemResult{}, failureNone, "token_issue_failed", deps.Errors.TokenIssueFailed
	}
	return OTPRedeemResult{Tokens: tokens, Identity: identity, Purpose: stores.PurposeReviewer}, failureNone, "", nil
}

func finish(ctx context.Context, key string, result OTPRedeemResult, deps OTPRedeemDeps) (OTPRedeemResult, error) {
	switch result.Purpose {
	case stores.PurposeStandard:
	case stores.PurposePersistent:
		deps.MetricInc(deps.Metrics.PersistentUsed)
	case stores.PurposeReviewer:
		deps.MetricInc(deps.Metrics.ReviewerUsed)
	}
	deps.MetricInc(deps.Metrics.Success)
	deps.EmitAudit(ctx, deps.Events.Success, true, key, result.Purpose.String(), nil, func() map[string]string {
		meta := map[string]string{"identity": result.Identity.Key}
		if result.Created {
			meta["created"] = "true"
		}
		return meta
	})
	return result, nil
}

func failRedeem(ctx context.Context, key string, err error, outcome redeemOutcome, deps OTPRedeemDeps) (OTPRedeemResult, error) {
	deps.MetricInc(deps.Metrics.Failure)
	deps.EmitAudit(ctx, deps.Events.Failure, false, key, "", err, func() map[string]string {
		meta := map[string]string{"reason": outcome.detail}
		if outcome.kind != failureNone {
			meta["class"] = outcome.kind.String()
		}
		return meta
	})
	return OTPRedeemResult{}, err
}

func compensate(ctx context.Context, record *stores.OTPRecord, reason string, deps OTPRedeemDeps) {
	// The request context may already be cancelled; the restore must still run.
	restored, err := deps.Store.Restore(context.WithoutCancel(ctx), record)
	if err != nil {
		deps.Warn(ctx, "otp redeem: compensating restore failed", "identity_key", record.IdentityKey, "error", err)
		return
	}
	if !restored {
		return
	}
	deps.MetricInc(deps.Metrics.Compensated)
	deps.EmitAudit(ctx, deps.Events.Compensated, true, record.IdentityKey, record.Purpose.String(), nil, func() map[string]string {
		return map[string]string{"reason": reason}
	})
}

func normalizeOTPRedeemDeps(deps *OTPRedeemDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.StandardRole == "" {
		deps.StandardRole = "standard"
	}
	if deps.PersistentKey == "" {
		deps.PersistentKey = "*"
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
