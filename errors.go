package goPasscode

import "errors"

var (
	// ErrInvalidCredentials is returned for a wrong password and for an unknown identity alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidOrExpiredCode is the only error a caller sees for a failed code redemption.
	ErrInvalidOrExpiredCode = errors.New("invalid or expired code")
	// ErrInvalidIdentityKey is returned when an email is empty after normalization.
	ErrInvalidIdentityKey = errors.New("invalid identity key")

	// ErrTokenInvalid covers bad signatures, malformed tokens and wrong token types.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenExpired is returned when exp has passed, after leeway.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenRevoked is returned by refresh when the identity's token version moved on or
	// the identity no longer exists.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrTokenIssueFailed is returned when signing a token pair fails.
	ErrTokenIssueFailed = errors.New("token issue failed")

	// ErrForbidden is returned when a non-admin calls an admin-only operation.
	ErrForbidden = errors.New("forbidden")
	// ErrIdentityConflict is returned by password registration for an existing identity.
	ErrIdentityConflict = errors.New("identity already exists")
	// ErrIdentityNotFound is returned by lookups of a missing identity.
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrCredentialNotFound is returned by stores when an identity has no password.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrIdentityUnavailable is returned when the identity store fails.
	ErrIdentityUnavailable = errors.New("identity store unavailable")
	// ErrOTPUnavailable is returned when the code store fails.
	ErrOTPUnavailable = errors.New("otp store unavailable")

	// ErrReviewerDisabled is returned by reviewer grant and revoke when no reviewer is configured.
	ErrReviewerDisabled = errors.New("reviewer codes disabled")
	// ErrReviewerIdentityMissing is the internal reason a reviewer redemption fails when the
	// reserved identity does not exist. Callers see ErrInvalidOrExpiredCode.
	ErrReviewerIdentityMissing = errors.New("reviewer identity missing")

	// ErrPasswordPolicy is returned when a new password is rejected by the hasher.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrEngineNotReady is returned by a nil or partially built engine.
	ErrEngineNotReady = errors.New("engine not ready")
)
