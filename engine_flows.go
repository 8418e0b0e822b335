package goPasscode

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goPasscode/internal"
	internalflows "github.com/MrEthical07/goPasscode/internal/flows"
	"github.com/MrEthical07/goPasscode/internal/stores"
	"github.com/MrEthical07/goPasscode/jwt"
	"github.com/google/uuid"
)

// PersistentRecordKey is the identity key slot holding the development code record.
const PersistentRecordKey = "*"

func (e *Engine) flowDeps() internalflows.Deps {
	metricInc := func(id int) {
		e.metricInc(MetricID(id))
	}

	return internalflows.Deps{
		PasswordLogin: internalflows.PasswordLoginDeps{
			GetIdentity:     e.getFlowIdentity,
			GetPasswordHash: e.getPasswordHash,
			CheckPassword:   e.passwordHash.Check,
			IssueTokens:     e.issueTokens,

			NeedsRehash:        e.needsRehash,
			HashPassword:       e.passwordHash.Hash,
			UpdatePasswordHash: e.updatePasswordHash,

			Warn:      e.warn,
			MetricInc: metricInc,
			EmitAudit: e.emitAudit,
			Metrics: internalflows.PasswordLoginMetrics{
				Success: int(MetricPasswordLoginSuccess),
				Failure: int(MetricPasswordLoginFailure),
				Rehash:  int(MetricPasswordRehashed),
			},
			Events: internalflows.PasswordLoginEvents{
				Success: auditEventPasswordLoginSuccess,
				Failure: auditEventPasswordLoginFailure,
			},
			Errors: internalflows.PasswordLoginErrors{
				EngineNotReady:      ErrEngineNotReady,
				InvalidCredentials:  ErrInvalidCredentials,
				IdentityNotFound:    ErrIdentityNotFound,
				CredentialNotFound:  ErrCredentialNotFound,
				IdentityUnavailable: ErrIdentityUnavailable,
				TokenIssueFailed:    ErrTokenIssueFailed,
			},
		},
		OTPRequest: internalflows.OTPRequestDeps{
			TTL:           e.config.OTP.TTL,
			Digits:        e.config.OTP.Digits,
			Retention:     e.otpRetention(),
			ReservedEmail: e.reservedEmail,
			ExcludeCodes:  e.excludedCodes(),
			Now:           e.now,
			NewCode:       internal.NewOTP,
			HashCode:      e.hashCode,
			Store:         e.otpStore,
			Warn:          e.warn,
			MetricInc:     metricInc,
			EmitAudit:     e.emitAudit,
			Metrics: internalflows.OTPRequestMetrics{
				Issued:     int(MetricOTPIssued),
				Suppressed: int(MetricOTPIssueSuppressed),
			},
			Events: internalflows.OTPRequestEvents{
				Requested:  auditEventOTPRequested,
				Suppressed: auditEventOTPRequestSuppressed,
				Failure:    auditEventOTPRequestFailure,
			},
			Errors: internalflows.OTPRequestErrors{
				EngineNotReady:     ErrEngineNotReady,
				InvalidIdentityKey: ErrInvalidIdentityKey,
				OTPUnavailable:     ErrOTPUnavailable,
			},
		},
		OTPRedeem: internalflows.OTPRedeemDeps{
			Grace:             e.config.OTP.ClockSkewGrace,
			ReservedEmail:     e.reservedEmail,
			ReviewerEnabled:   e.config.Reviewer.Enabled,
			PersistentEnabled: e.config.PersistentOTP.Enabled,
			PersistentKey:     PersistentRecordKey,
			Now:               e.now,
			HashCode:          e.hashCode,
			Store:             e.otpStore,
			SeedPersistent:    e.seedPersistent,
			ScopeMatch:        e.scopes.Match,
			GetIdentity:       e.getFlowIdentity,
			CreateIdentity:    e.createFlowIdentity,
			IssueTokens:       e.issueTokens,
			StandardRole:      RoleStandard,
			Warn:              e.warn,
			MetricInc:         metricInc,
			EmitAudit:         e.emitAudit,
			Metrics: internalflows.OTPRedeemMetrics{
				Success:         int(MetricOTPRedeemSuccess),
				Failure:         int(MetricOTPRedeemFailure),
				IdentityCreated: int(MetricOTPIdentityCreated),
				Compensated:     int(MetricOTPCompensated),
				PersistentUsed:  int(MetricPersistentOTPUsed),
				ReviewerUsed:    int(MetricReviewerOTPUsed),
			},
			Events: internalflows.OTPRedeemEvents{
				Success:         auditEventOTPLoginSuccess,
				Failure:         auditEventOTPLoginFailure,
				IdentityCreated: auditEventOTPIdentityCreated,
				Compensated:     auditEventOTPCompensated,
			},
			Errors: internalflows.OTPRedeemErrors{
				EngineNotReady:          ErrEngineNotReady,
				InvalidOrExpiredCode:    ErrInvalidOrExpiredCode,
				IdentityNotFound:        ErrIdentityNotFound,
				IdentityConflict:        ErrIdentityConflict,
				IdentityUnavailable:     ErrIdentityUnavailable,
				TokenIssueFailed:        ErrTokenIssueFailed,
				OTPUnavailable:          ErrOTPUnavailable,
				ReviewerIdentityMissing: ErrReviewerIdentityMissing,
			},
		},
		Reviewer: internalflows.ReviewerDeps{
			Enabled:        e.config.Reviewer.Enabled,
			ReservedEmail:  e.reservedEmail,
			Role:           RoleReviewer,
			Scope:          e.config.Reviewer.ScopePattern,
			TTL:            e.config.Reviewer.TTL,
			Retention:      e.otpRetention(),
			Digits:         e.config.OTP.Digits,
			ExcludeCodes:   e.excludedCodes(),
			Now:            e.now,
			NewCode:        internal.NewOTP,
			HashCode:       e.hashCode,
			Store:          e.otpStore,
			GetIdentity:    e.getFlowIdentity,
			CreateIdentity: e.createFlowIdentity,
			IsAdmin: func(identity internalflows.Identity) bool {
				return e.isAdmin(fromFlowIdentity(identity))
			},
			Warn:      e.warn,
			MetricInc: metricInc,
			EmitAudit: e.emitAudit,
			Metrics: internalflows.ReviewerMetrics{
				Granted:   int(MetricReviewerOTPGranted),
				Revoked:   int(MetricReviewerOTPRevoked),
				Forbidden: int(MetricReviewerOTPForbidden),
			},
			Events: internalflows.ReviewerEvents{
				Granted:   auditEventReviewerGranted,
				Revoked:   auditEventReviewerRevoked,
				Forbidden: auditEventReviewerForbidden,
			},
			Errors: internalflows.ReviewerErrors{
				EngineNotReady:      ErrEngineNotReady,
				Disabled:            ErrReviewerDisabled,
				Forbidden:           ErrForbidden,
				IdentityNotFound:    ErrIdentityNotFound,
				IdentityConflict:    ErrIdentityConflict,
				IdentityUnavailable: ErrIdentityUnavailable,
				OTPUnavailable:      ErrOTPUnavailable,
			},
		},
		Refresh: internalflows.RefreshDeps{
			VerifyRefresh: func(token string) (*jwt.Claims, error) {
				return e.jwtManager.Verify(token, jwt.TokenRefresh)
			},
			GetIdentity: e.getFlowIdentity,
			IssueTokens: e.issueTokens,
			Warn:        e.warn,
			MetricInc:   metricInc,
			EmitAudit:   e.emitAudit,
			Metrics: internalflows.RefreshMetrics{
				Success: int(MetricRefreshSuccess),
				Failure: int(MetricRefreshFailure),
				Revoked: int(MetricRefreshRevoked),
			},
			Events: internalflows.RefreshEvents{
				Success: auditEventRefreshSuccess,
				Failure: auditEventRefreshFailure,
			},
			Errors: internalflows.RefreshErrors{
				EngineNotReady:      ErrEngineNotReady,
				TokenInvalid:        ErrTokenInvalid,
				TokenExpired:        ErrTokenExpired,
				TokenRevoked:        ErrTokenRevoked,
				TokenIssueFailed:    ErrTokenIssueFailed,
				IdentityNotFound:    ErrIdentityNotFound,
				IdentityUnavailable: ErrIdentityUnavailable,
			},
		},
		Account: internalflows.AccountDeps{
			ReservedEmail:    e.reservedEmail,
			StandardRole:     RoleStandard,
			HashPassword:     e.passwordHash.Hash,
			GetIdentity:      e.getFlowIdentity,
			CreateIdentity:   e.createFlowIdentity,
			SetPasswordHash:  e.setPasswordHash,
			BumpTokenVersion: e.identities.BumpTokenVersion,
			IssueTokens:      e.issueTokens,
			Warn:             e.warn,
			MetricInc:        metricInc,
			EmitAudit:        e.emitAudit,
			Metrics: internalflows.AccountMetrics{
				Registered:       int(MetricRegisterSuccess),
				RegisterConflict: int(MetricRegisterConflict),
				PasswordSet:      int(MetricPasswordSet),
				SessionsRevoked:  int(MetricSessionsRevoked),
			},
			Events: internalflows.AccountEvents{
				RegisterSuccess: auditEventRegisterSuccess,
				RegisterFailure: auditEventRegisterFailure,
				PasswordSet:     auditEventPasswordSet,
				SessionsRevoked: auditEventSessionsRevoked,
			},
			Errors: internalflows.AccountErrors{
				EngineNotReady:      ErrEngineNotReady,
				InvalidIdentityKey:  ErrInvalidIdentityKey,
				PasswordPolicy:      ErrPasswordPolicy,
				IdentityConflict:    ErrIdentityConflict,
				IdentityNotFound:    ErrIdentityNotFound,
				IdentityUnavailable: ErrIdentityUnavailable,
				TokenIssueFailed:    ErrTokenIssueFailed,
			},
		},
		Validate: internalflows.ValidateDeps{
			VerifyAccess: func(token string) (*jwt.Claims, error) {
				return e.jwtManager.Verify(token, jwt.TokenAccess)
			},
			Now:            time.Now,
			ObserveLatency: e.observeValidateLatency(),
			Errors: internalflows.ValidateErrors{
				EngineNotReady: ErrEngineNotReady,
				TokenInvalid:   ErrTokenInvalid,
				TokenExpired:   ErrTokenExpired,
			},
		},
	}
}

func (e *Engine) observeValidateLatency() func(time.Duration) {
	if !e.metrics.LatencyEnabled() {
		return nil
	}
	return func(d time.Duration) {
		e.metrics.Observe(MetricValidateLatency, d)
	}
}

func (e *Engine) hashCode(code string) [32]byte {
	return internal.HashCode(e.config.OTP.HMACKey, code)
}

// otpRetention keeps a record past its expiry so a late redeem reports expired rather
// than not_found.
func (e *Engine) otpRetention() time.Duration {
	return e.config.OTP.ClockSkewGrace + time.Minute
}

func (e *Engine) excludedCodes() []string {
	if e.config.PersistentOTP.Code == "" {
		return nil
	}
	return []string{e.config.PersistentOTP.Code}
}

func (e *Engine) issueTokens(identity internalflows.Identity) (jwt.Pair, error) {
	return e.jwtManager.Issue(identity.Key, identity.Role, identity.TokenVersion)
}

func (e *Engine) getFlowIdentity(ctx context.Context, key string) (internalflows.Identity, error) {
	identity, err := e.identities.GetIdentity(ctx, key)
	if err != nil {
		return internalflows.Identity{}, err
	}
	return toFlowIdentity(identity), nil
}

func (e *Engine) createFlowIdentity(ctx context.Context, key, role, passwordHash string) (internalflows.Identity, error) {
	now := e.now().UTC()
	identity := Identity{
		ID:           uuid.NewString(),
		Key:          key,
		Role:         role,
		TokenVersion: 1,
		CreatedAt:    now,
	}

	var credential *Credential
	if passwordHash != "" {
		credential = &Credential{IdentityKey: key, PasswordHash: passwordHash, UpdatedAt: now}
	}
	if err := e.identities.CreateIdentity(ctx, identity, credential); err != nil {
		return internalflows.Identity{}, err
	}
	return toFlowIdentity(identity), nil
}

func (e *Engine) getPasswordHash(ctx context.Context, key string) (string, error) {
	credential, err := e.identities.GetCredential(ctx, key)
	if err != nil {
		return "", err
	}
	return credential.PasswordHash, nil
}

func (e *Engine) setPasswordHash(ctx context.Context, key, passwordHash string) (uint32, error) {
	return e.identities.SetCredential(ctx, Credential{
		IdentityKey:  key,
		PasswordHash: passwordHash,
		UpdatedAt:    e.now().UTC(),
	})
}

func (e *Engine) needsRehash(encodedHash string) bool {
	upgrade, err := e.passwordHash.NeedsUpgrade(encodedHash)
	return err == nil && upgrade
}

func (e *Engine) updatePasswordHash(ctx context.Context, key, encodedHash string) error {
	return e.identities.UpdatePasswordHash(ctx, Credential{
		IdentityKey:  key,
		PasswordHash: encodedHash,
		UpdatedAt:    e.now().UTC(),
	})
}

// seedPersistent writes the development code record, replacing any stored one. Redeeming
// it is idempotent, so a concurrent double seed is harmless.
func (e *Engine) seedPersistent(ctx context.Context) (bool, error) {
	if !e.config.PersistentOTP.Enabled {
		return false, nil
	}
	now := e.now()
	record := &stores.OTPRecord{
		IdentityKey: PersistentRecordKey,
		Purpose:     stores.PurposePersistent,
		CodeHash:    e.hashCode(e.config.PersistentOTP.Code),
		IssuedAt:    now,
		ExpiresAt:   now.Add(e.config.PersistentOTP.TTL),
	}
	if err := e.otpStore.Put(ctx, record, 0); err != nil {
		return false, errors.Join(ErrOTPUnavailable, err)
	}
	return true, nil
}

// syncPersistent makes the stored development code record match the configuration: it
// is rewritten when the code is enabled and removed otherwise, so a rotated or disabled
// code stops redeeming as soon as the engine starts.
func (e *Engine) syncPersistent(ctx context.Context) error {
	if e.config.PersistentOTP.Enabled {
		return e.SeedPersistentOTP(ctx)
	}
	removed, err := e.otpStore.Delete(ctx, stores.PurposePersistent, PersistentRecordKey)
	if err != nil {
		return errors.Join(ErrOTPUnavailable, err)
	}
	if removed {
		e.warn(ctx, "removed stored development code record", "reason", "disabled")
	}
	return nil
}

func toFlowIdentity(identity Identity) internalflows.Identity {
	return internalflows.Identity{
		ID:           identity.ID,
		Key:          identity.Key,
		Role:         identity.Role,
		TokenVersion: identity.TokenVersion,
		CreatedAt:    identity.CreatedAt,
	}
}

func fromFlowIdentity(identity internalflows.Identity) Identity {
	return Identity{
		ID:           identity.ID,
		Key:          identity.Key,
		Role:         identity.Role,
		TokenVersion: identity.TokenVersion,
		CreatedAt:    identity.CreatedAt,
	}
}
