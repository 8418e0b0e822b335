package internaldefs

import (
	goPasscode "github.com/MrEthical07/goPasscode"
)

// CounterDef maps an engine counter to its exported name.
type CounterDef struct {
	ID   goPasscode.MetricID
	Name string
	Help string
}

// HistogramDef maps an engine histogram to its exported name.
type HistogramDef struct {
	ID   goPasscode.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: goPasscode.MetricPasswordLoginSuccess, Name: "passcode_password_login_success_total", Help: "Successful password logins."},
	{ID: goPasscode.MetricPasswordLoginFailure, Name: "passcode_password_login_failure_total", Help: "Failed password logins."},
	{ID: goPasscode.MetricOTPIssued, Name: "passcode_otp_issued_total", Help: "Standard one-time codes issued."},
	{ID: goPasscode.MetricOTPIssueSuppressed, Name: "passcode_otp_issue_suppressed_total", Help: "Code requests for the reserved reviewer email that issued nothing."},
	{ID: goPasscode.MetricOTPRedeemSuccess, Name: "passcode_otp_redeem_success_total", Help: "Successful one-time code authentications of any purpose."},
	{ID: goPasscode.MetricOTPRedeemFailure, Name: "passcode_otp_redeem_failure_total", Help: "Failed one-time code authentications."},
	{ID: goPasscode.MetricOTPIdentityCreated, Name: "passcode_otp_identity_created_total", Help: "Identities created by a first successful code redemption."},
	{ID: goPasscode.MetricOTPCompensated, Name: "passcode_otp_compensated_total", Help: "Consumed codes restored after identity creation or token issue failed."},
	{ID: goPasscode.MetricPersistentOTPUsed, Name: "passcode_persistent_otp_used_total", Help: "Authentications with the persistent development code."},
	{ID: goPasscode.MetricReviewerOTPUsed, Name: "passcode_reviewer_otp_used_total", Help: "Authentications with the reviewer code."},
	{ID: goPasscode.MetricReviewerOTPGranted, Name: "passcode_reviewer_otp_granted_total", Help: "Reviewer codes granted."},
	{ID: goPasscode.MetricReviewerOTPRevoked, Name: "passcode_reviewer_otp_revoked_total", Help: "Reviewer codes revoked."},
	{ID: goPasscode.MetricReviewerOTPForbidden, Name: "passcode_reviewer_otp_forbidden_total", Help: "Reviewer grant or revoke attempts by non-admin callers."},
	{ID: goPasscode.MetricRefreshSuccess, Name: "passcode_refresh_success_total", Help: "Successful refresh operations."},
	{ID: goPasscode.MetricRefreshFailure, Name: "passcode_refresh_failure_total", Help: "Refresh operations rejected for an invalid or expired token."},
	{ID: goPasscode.MetricRefreshRevoked, Name: "passcode_refresh_revoked_total", Help: "Refresh operations rejected by token version."},
	{ID: goPasscode.MetricRegisterSuccess, Name: "passcode_register_success_total", Help: "Password registrations."},
	{ID: goPasscode.MetricRegisterConflict, Name: "passcode_register_conflict_total", Help: "Password registrations rejected as duplicate."},
	{ID: goPasscode.MetricPasswordSet, Name: "passcode_password_set_total", Help: "Password replacements."},
	{ID: goPasscode.MetricSessionsRevoked, Name: "passcode_sessions_revoked_total", Help: "Token version bumps that revoked outstanding refresh tokens."},
	{ID: goPasscode.MetricOTPSwept, Name: "passcode_otp_swept_total", Help: "Consumed or expired code records removed by the sweeper."},
	{ID: goPasscode.MetricPasswordRehashed, Name: "passcode_password_rehashed_total", Help: "Stored password hashes upgraded to current parameters on login."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goPasscode.MetricValidateLatency, Name: "passcode_validate_latency_seconds", Help: "Access token validation latency."},
}

// UpperBoundsSeconds converts the engine's millisecond bucket bounds to seconds.
func UpperBoundsSeconds() []float64 {
	out := make([]float64, len(goPasscode.HistogramBounds))
	for i, ms := range goPasscode.HistogramBounds {
		out[i] = ms / 1000
	}
	return out
}

// NormalizeBuckets pads or truncates raw to the engine bucket count.
func NormalizeBuckets(raw []uint64) []uint64 {
	out := make([]uint64, len(goPasscode.HistogramBounds)+1)
	copy(out, raw)
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw []uint64) []uint64 {
	out := make([]uint64, len(raw))
	var running uint64
	for i, v := range raw {
		running += v
		out[i] = running
	}
	return out
}
