package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goPasscode/internal"
	"github.com/MrEthical07/goPasscode/internal/stores"
)

type ReviewerMetrics struct {
	Granted   int
	Revoked   int
	Forbidden int
}

type ReviewerEvents struct {
	Granted   string
	Revoked   string
	Forbidden string
}

type ReviewerErrors struct {
	EngineNotReady      error
	Disabled            error
	Forbidden           error
	IdentityNotFound    error
	IdentityConflict    error
	IdentityUnavailable error
	OTPUnavailable      error
}

type ReviewerDeps struct {
	Enabled       bool
	ReservedEmail string
	Role          string
	Scope         string
	TTL           time.Duration
	Retention     time.Duration
	Digits        int
	// ExcludeCodes keeps a reviewer code from colliding with the development code.
	ExcludeCodes []string

	Now      func() time.Time
	NewCode  func(digits int, exclude ...string) (string, error)
	HashCode func(code string) [32]byte
	Store    OTPStore

	GetIdentity    GetIdentityFunc
	CreateIdentity CreateIdentityFunc
	IsAdmin        func(Identity) bool

	Warn      WarnFunc
	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics ReviewerMetrics
	Events  ReviewerEvents
	Errors  ReviewerErrors
}

type ReviewerGrantResult struct {
	Code        string
	IdentityKey string
	Scope       string
	ExpiresAt   time.Time
}

// RunGrantReviewer replaces the reviewer code with a fresh one. Only identities the
// admin predicate accepts may call it.
func RunGrantReviewer(ctx context.Context, adminKey string, deps ReviewerDeps) (ReviewerGrantResult, error) {
	normalizeReviewerDeps(&deps)
	if !deps.Enabled {
		return ReviewerGrantResult{}, deps.Errors.Disabled
	}
	if deps.Store == nil || deps.NewCode == nil || deps.HashCode == nil || deps.GetIdentity == nil || deps.CreateIdentity == nil {
		return ReviewerGrantResult{}, deps.Errors.EngineNotReady
	}

	admin, err := authorizeReviewerAdmin(ctx, adminKey, deps)
	if err != nil {
		return ReviewerGrantResult{}, err
	}

	if err := ensureReviewerIdentity(ctx, deps); err != nil {
		return ReviewerGrantResult{}, err
	}

	code, err := deps.NewCode(deps.Digits, deps.ExcludeCodes...)
	if err != nil {
		deps.Warn(ctx, "reviewer grant: code generation failed", "error", err)
		return ReviewerGrantResult{}, deps.Errors.OTPUnavailable
	}

	now := deps.Now()
	record := &stores.OTPRecord{
		IdentityKey: deps.ReservedEmail,
		Purpose:     stores.PurposeReviewer,
		CodeHash:    deps.HashCode(code),
		IssuedAt:    now,
		ExpiresAt:   now.Add(deps.TTL),
		Scope:       deps.Scope,
	}
	if err := deps.Store.Put(ctx, record, deps.Retention); err != nil {
		deps.Warn(ctx, "reviewer grant: store write failed", "error", err)
		return ReviewerGrantResult{}, deps.Errors.OTPUnavailable
	}

	deps.MetricInc(deps.Metrics.Granted)
	deps.EmitAudit(ctx, deps.Events.Granted, true, deps.ReservedEmail, stores.PurposeReviewer.String(), nil, func() map[string]string {
		return map[string]string{
			"granted_by": admin.Key,
			"scope":      deps.Scope,
			"expires_at": record.ExpiresAt.UTC().Format(time.RFC3339),
		}
	})

	return ReviewerGrantResult{
		Code:        code,
		IdentityKey: deps.ReservedEmail,
		Scope:       deps.Scope,
		ExpiresAt:   record.ExpiresAt,
	}, nil
}

// RunRevokeReviewer deletes the reviewer code. It reports whether a code existed.
func RunRevokeReviewer(ctx context.Context, adminKey string, deps ReviewerDeps) (bool, error) {
	normalizeReviewerDeps(&deps)
	if !deps.Enabled {
		return false, deps.Errors.Disabled
	}
	if deps.Store == nil || deps.GetIdentity == nil {
		return false, deps.Errors.EngineNotReady
	}

	admin, err := authorizeReviewerAdmin(ctx, adminKey, deps)
	if err != nil {
		return false, err
	}

	removed, err := deps.Store.Delete(ctx, stores.PurposeReviewer, deps.ReservedEmail)
	if err != nil {
		deps.Warn(ctx, "reviewer revoke: store delete failed", "error", err)
		return false, deps.Errors.OTPUnavailable
	}
	if removed {
		deps.MetricInc(deps.Metrics.Revoked)
	}
	deps.EmitAudit(ctx, deps.Events.Revoked, true, deps.ReservedEmail, stores.PurposeReviewer.String(), nil, func() map[string]string {
		meta := map[string]string{"revoked_by": admin.Key}
		if !removed {
			meta["result"] = "absent"
		}
		return meta
	})
	return removed, nil
}

func authorizeReviewerAdmin(ctx context.Context, adminKey string, deps ReviewerDeps) (Identity, error) {
	key := internal.NormalizeIdentityKey(adminKey)
	forbid := func(reason string) (Identity, error) {
		deps.MetricInc(deps.Metrics.Forbidden)
		deps.EmitAudit(ctx, deps.Events.Forbidden, false, key, stores.PurposeReviewer.String(), deps.Errors.Forbidden, func() map[string]string {
			return map[string]string{"reason": reason}
		})
		return Identity{}, deps.Errors.Forbidden
	}

	if key == "" {
		return forbid("empty_identifier")
	}
	admin, err := deps.GetIdentity(ctx, key)
	if err != nil {
		if errors.Is(err, deps.Errors.IdentityNotFound) {
			return forbid("unknown_identity")
		}
		deps.Warn(ctx, "reviewer: admin lookup failed", "identity_key", key, "error", err)
		return Identity{}, deps.Errors.IdentityUnavailable
	}
	if deps.IsAdmin == nil || !deps.IsAdmin(admin) {
		return forbid("not_admin")
	}
	return admin, nil
}

func ensureReviewerIdentity(ctx context.Context, deps ReviewerDeps) error {
	_, err := deps.GetIdentity(ctx, deps.ReservedEmail)
	if err == nil {
		return nil
	}
	if !errors.Is(err, deps.Errors.IdentityNotFound) {
		deps.Warn(ctx, "reviewer grant: reserved identity lookup failed", "error", err)
		return deps.Errors.IdentityUnavailable
	}

	_, err = deps.CreateIdentity(ctx, deps.ReservedEmail, deps.Role, "")
	if err == nil || errors.Is(err, deps.Errors.IdentityConflict) {
		return nil
	}
	deps.Warn(ctx, "reviewer grant: reserved identity creation failed", "error", err)
	return deps.Errors.IdentityUnavailable
}

func normalizeReviewerDeps(deps *ReviewerDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Role == "" {
		deps.Role = "reviewer"
	}
	if deps.Digits == 0 {
		deps.Digits = 6
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
