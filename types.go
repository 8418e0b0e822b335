package goPasscode

import (
	"context"
	"io"
	"log/slog"
	"time"

	internalaudit "github.com/MrEthical07/goPasscode/internal/audit"
	"github.com/MrEthical07/goPasscode/internal/stores"
	"github.com/MrEthical07/goPasscode/jwt"
)

// Built-in identity roles.
const (
	RoleStandard = "standard"
	RoleReviewer = "reviewer"
	RoleAdmin    = "admin"
)

// Purpose tags a one-time code record. The set is closed.
type Purpose = stores.Purpose

const (
	// PurposeStandard codes are emailed, short lived and redeem once.
	PurposeStandard = stores.PurposeStandard
	// PurposePersistent is the development code. It is reusable and never creates an identity.
	PurposePersistent = stores.PurposePersistent
	// PurposeReviewer codes are admin-granted, reusable and scope restricted.
	PurposeReviewer = stores.PurposeReviewer
)

// Identity is a registered account keyed by its normalized email.
type Identity struct {
	ID           string
	Key          string
	Role         string
	TokenVersion uint32
	CreatedAt    time.Time
}

// Credential is the password of one identity.
type Credential struct {
	IdentityKey  string
	PasswordHash string
	UpdatedAt    time.Time
}

// IdentityStore is the durable home of identities and credentials.
//
// CreateIdentity must be atomic: of two concurrent creates for one key exactly one
// succeeds and the other returns ErrIdentityConflict. GetIdentity returns
// ErrIdentityNotFound and GetCredential returns ErrCredentialNotFound for missing rows.
// SetCredential and BumpTokenVersion return the new token version. UpdatePasswordHash
// rewrites an existing credential without touching the token version and returns
// ErrCredentialNotFound when there is none.
type IdentityStore interface {
	GetIdentity(ctx context.Context, key string) (Identity, error)
	CreateIdentity(ctx context.Context, identity Identity, credential *Credential) error
	GetCredential(ctx context.Context, key string) (Credential, error)
	SetCredential(ctx context.Context, credential Credential) (uint32, error)
	UpdatePasswordHash(ctx context.Context, credential Credential) error
	BumpTokenVersion(ctx context.Context, key string) (uint32, error)
}

// TokenPair is a freshly signed access and refresh token.
type TokenPair = jwt.Pair

// OTPChallenge is returned by [Engine.RequestOTP]. Code is the raw code to deliver; it
// is never stored. Suppressed requests carry no code.
type OTPChallenge struct {
	IdentityKey string
	Code        string
	ExpiresAt   time.Time
	Suppressed  bool
}

// ReviewerGrant is returned by [Engine.GrantReviewerOTP].
type ReviewerGrant struct {
	Code        string
	IdentityKey string
	Scope       string
	ExpiresAt   time.Time
}

// AuthResult is the outcome of [Engine.ValidateAccess].
type AuthResult struct {
	IdentityKey  string
	Role         string
	TokenVersion uint32
	TokenID      string
	ExpiresAt    time.Time
}

// AdminPredicate decides whether an identity may grant or revoke reviewer codes.
type AdminPredicate func(Identity) bool

// Clock supplies the current time.
type Clock func() time.Time

// AuditEvent is one structured audit record.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = internalaudit.Sink

// NoOpSink discards events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink buffers events on a channel, mainly for tests.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// SlogSink logs events through a slog.Logger.
type SlogSink = internalaudit.SlogSink

// MultiSink fans events out to several sinks.
type MultiSink = internalaudit.MultiSink

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	return internalaudit.NewSlogSink(logger)
}
