package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/goPasscode/internal/stores"
	"github.com/MrEthical07/goPasscode/jwt"
)

// Deps groups flow dependency sets. The root engine builds this once and delegates
// request methods to the matching flow.
type Deps struct {
	PasswordLogin PasswordLoginDeps
	OTPRequest    OTPRequestDeps
	OTPRedeem     OTPRedeemDeps
	Reviewer      ReviewerDeps
	Refresh       RefreshDeps
	Account       AccountDeps
	Validate      ValidateDeps
}

// Identity is the flow-side view of a stored identity.
type Identity struct {
	ID           string
	Key          string
	Role         string
	TokenVersion uint32
	CreatedAt    time.Time
}

// OTPStore is the subset of the code store the flows drive.
type OTPStore interface {
	Put(ctx context.Context, record *stores.OTPRecord, retention time.Duration) error
	Redeem(ctx context.Context, purpose stores.Purpose, identityKey string, providedHash [32]byte, now time.Time, grace time.Duration) (*stores.OTPRecord, error)
	Restore(ctx context.Context, record *stores.OTPRecord) (bool, error)
	Delete(ctx context.Context, purpose stores.Purpose, identityKey string) (bool, error)
}

// AuditFunc emits one audit event. purpose may be empty.
type AuditFunc func(ctx context.Context, eventType string, success bool, identityKey, purpose string, err error, metadata func() map[string]string)

// WarnFunc logs an operator-facing warning.
type WarnFunc func(ctx context.Context, msg string, args ...any)

// GetIdentityFunc loads an identity by normalized key.
type GetIdentityFunc func(ctx context.Context, key string) (Identity, error)

// CreateIdentityFunc atomically creates an identity, with a credential when passwordHash
// is non-empty. It must report a taken key with the flow's IdentityConflict error.
type CreateIdentityFunc func(ctx context.Context, key, role, passwordHash string) (Identity, error)

// IssueTokensFunc signs a token pair for identity.
type IssueTokensFunc func(identity Identity) (jwt.Pair, error)

func noopAudit(context.Context, string, bool, string, string, error, func() map[string]string) {}

func noopWarn(context.Context, string, ...any) {}

func noopMetric(int) {}
