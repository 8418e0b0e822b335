package goPasscode

import (
	"context"
	"errors"
)

const (
	auditEventPasswordLoginSuccess  = "password_login_success"
	auditEventPasswordLoginFailure  = "password_login_failure"
	auditEventOTPRequested          = "otp_requested"
	auditEventOTPRequestSuppressed  = "otp_request_suppressed"
	auditEventOTPRequestFailure     = "otp_request_failure"
	auditEventOTPLoginSuccess       = "otp_login_success"
	auditEventOTPLoginFailure       = "otp_login_failure"
	auditEventOTPIdentityCreated    = "otp_identity_created"
	auditEventOTPCompensated        = "otp_compensated"
	auditEventReviewerGranted       = "reviewer_otp_granted"
	auditEventReviewerRevoked       = "reviewer_otp_revoked"
	auditEventReviewerForbidden     = "reviewer_otp_forbidden"
	auditEventRefreshSuccess        = "refresh_success"
	auditEventRefreshFailure        = "refresh_failure"
	auditEventRegisterSuccess       = "register_success"
	auditEventRegisterFailure       = "register_failure"
	auditEventPasswordSet           = "password_set"
	auditEventSessionsRevoked       = "sessions_revoked"
	auditEventOTPSwept              = "otp_swept"
	auditEventPersistentOTPDisabled = "persistent_otp_disabled"
)

// AuditErrorCode is the coarse error label written to AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrInvalidCode        AuditErrorCode = "invalid_code"
	auditErrInvalidInput       AuditErrorCode = "invalid_input"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrExpiredToken       AuditErrorCode = "expired_token"
	auditErrRevokedToken       AuditErrorCode = "revoked_token"
	auditErrForbidden          AuditErrorCode = "forbidden"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrNotFound           AuditErrorCode = "not_found"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrReviewerDisabled   AuditErrorCode = "reviewer_disabled"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

// emitAudit matches the signature flows expect for their EmitAudit dependency.
func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	identityKey string,
	purpose string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:   e.now().UTC(),
		EventType:   eventType,
		IdentityKey: identityKey,
		Purpose:     purpose,
		IP:          clientIPFromContext(ctx),
		Success:     success,
		Metadata:    metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrInvalidOrExpiredCode),
		errors.Is(err, ErrReviewerIdentityMissing):
		return auditErrInvalidCode
	case errors.Is(err, ErrInvalidIdentityKey):
		return auditErrInvalidInput
	case errors.Is(err, ErrTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrTokenExpired):
		return auditErrExpiredToken
	case errors.Is(err, ErrTokenRevoked):
		return auditErrRevokedToken
	case errors.Is(err, ErrForbidden):
		return auditErrForbidden
	case errors.Is(err, ErrIdentityConflict):
		return auditErrDuplicate
	case errors.Is(err, ErrIdentityNotFound),
		errors.Is(err, ErrCredentialNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrReviewerDisabled):
		return auditErrReviewerDisabled
	case errors.Is(err, ErrOTPUnavailable),
		errors.Is(err, ErrIdentityUnavailable),
		errors.Is(err, ErrTokenIssueFailed):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
