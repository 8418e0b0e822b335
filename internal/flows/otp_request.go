package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/goPasscode/internal"
	"github.com/MrEthical07/goPasscode/internal/stores"
)

type OTPRequestMetrics struct {
	Issued     int
	Suppressed int
}

type OTPRequestEvents struct {
	Requested  string
	Suppressed string
	Failure    string
}

type OTPRequestErrors struct {
	EngineNotReady     error
	InvalidIdentityKey error
	OTPUnavailable     error
}

type OTPRequestDeps struct {
	TTL    time.Duration
	Digits int
	// Retention keeps the record readable past expiry so late redeems report expired.
	Retention time.Duration
	// ReservedEmail is the normalized reviewer identity. Requests for it issue nothing.
	ReservedEmail string
	// ExcludeCodes are values a generated code must never equal.
	ExcludeCodes []string

	Now      func() time.Time
	NewCode  func(digits int, exclude ...string) (string, error)
	HashCode func(code string) [32]byte
	Store    OTPStore

	Warn      WarnFunc
	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics OTPRequestMetrics
	Events  OTPRequestEvents
	Errors  OTPRequestErrors
}

type OTPRequestResult struct {
	IdentityKey string
	Code        string
	ExpiresAt   time.Time
	Suppressed  bool
}

// RunRequestOTP issues a standard code for email, replacing any outstanding one.
func RunRequestOTP(ctx context.Context, email string, deps OTPRequestDeps) (OTPRequestResult, error) {
	normalizeOTPRequestDeps(&deps)
	if deps.Store == nil || deps.NewCode == nil || deps.HashCode == nil {
		return OTPRequestResult{}, deps.Errors.EngineNotReady
	}

	key := internal.NormalizeIdentityKey(email)
	purpose := stores.PurposeStandard.String()
	if key == "" {
		deps.EmitAudit(ctx, deps.Events.Failure, false, "", purpose, deps.Errors.InvalidIdentityKey, func() map[string]string {
			return map[string]string{"reason": "empty_identifier"}
		})
		return OTPRequestResult{}, deps.Errors.InvalidIdentityKey
	}

	if deps.ReservedEmail != "" && key == deps.ReservedEmail {
		deps.MetricInc(deps.Metrics.Suppressed)
		deps.EmitAudit(ctx, deps.Events.Suppressed, true, key, purpose, nil, nil)
		return OTPRequestResult{IdentityKey: key, Suppressed: true}, nil
	}

	code, err := deps.NewCode(deps.Digits, deps.ExcludeCodes...)
	if err != nil {
		deps.Warn(ctx, "otp request: code generation failed", "error", err)
		deps.EmitAudit(ctx, deps.Events.Failure, false, key, purpose, deps.Errors.OTPUnavailable, func() map[string]string {
			return map[string]string{"reason": "generate_failed"}
		})
		return OTPRequestResult{}, deps.Errors.OTPUnavailable
	}

	now := deps.Now()
	record := &stores.OTPRecord{
		IdentityKey: key,
		Purpose:     stores.PurposeStandard,
		CodeHash:    deps.HashCode(code),
		IssuedAt:    now,
		ExpiresAt:   now.Add(deps.TTL),
	}
	if err := deps.Store.Put(ctx, record, deps.Retention); err != nil {
		deps.Warn(ctx, "otp request: store failed", "error", err)
		deps.EmitAudit(ctx, deps.Events.Failure, false, key, purpose, deps.Errors.OTPUnavailable, func() map[string]string {
			return map[string]string{"reason": "store_failed"}
		})
		return OTPRequestResult{}, deps.Errors.OTPUnavailable
	}

	deps.MetricInc(deps.Metrics.Issued)
	deps.EmitAudit(ctx, deps.Events.Requested, true, key, purpose, nil, nil)

	return OTPRequestResult{
		IdentityKey: key,
		Code:        code,
		ExpiresAt:   record.ExpiresAt,
	}, nil
}

func normalizeOTPRequestDeps(deps *OTPRequestDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
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
