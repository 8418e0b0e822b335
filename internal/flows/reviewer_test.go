package flows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/goPasscode/internal"
	"github.com/MrEthical07/goPasscode/internal/stores"
)

var (
	errDisabled  = errors.New("reviewer disabled")
	errForbidden = errors.New("forbidden")
)

func newReviewerDeps(store OTPStore, ids *fakeIdentities, audit *auditLog, metrics *metricCounts, now time.Time) ReviewerDeps {
	return ReviewerDeps{
		Enabled:        true,
		ReservedEmail:  reservedEmail,
		Scope:          "*@review.example.com",
		TTL:            30 * 24 * time.Hour,
		Retention:      30 * time.Second,
		Digits:         6,
		ExcludeCodes:   []string{persistentCode},
		Now:            func() time.Time { return now },
		NewCode:        internal.NewOTP,
		HashCode:       hashCode,
		Store:          store,
		GetIdentity:    ids.get,
		CreateIdentity: ids.create,
		IsAdmin:        func(id Identity) bool { return id.Role == "admin" },
		MetricInc:      metrics.inc,
		EmitAudit:      audit.emit,
		Metrics:        ReviewerMetrics{Granted: 1, Revoked: 2, Forbidden: 3},
		Events:         ReviewerEvents{Granted: "reviewer_otp_granted", Revoked: "reviewer_otp_revoked", Forbidden: "reviewer_otp_forbidden"},
		Errors: ReviewerErrors{
			EngineNotReady:      errNotReady,
			Disabled:            errDisabled,
			Forbidden:           errForbidden,
			IdentityNotFound:    errNotFound,
			IdentityConflict:    errConflict,
			IdentityUnavailable: errUnavailable,
			OTPUnavailable:      errOTPDown,
		},
	}
}

func TestGrantReviewerProvisionsIdentityAndStoresScope(t *testing.T) {
	_, store := newTestStore(t)
	ids := newFakeIdentities()
	ids.add("boss@example.com", "admin")
	audit, metrics := &auditLog{}, &metricCounts{}
	now := time.Unix(1_700_000_000, 0)
	deps := newReviewerDeps(store, ids, audit, metrics, now)

	grant, err := RunGrantReviewer(context.Background(), "boss@example.com", deps)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if grant.IdentityKey != reservedEmail || grant.Scope != "*@review.example.com" {
		t.Fatalf("unexpected grant %+v", grant)
	}
	if !grant.ExpiresAt.Equal(now.Add(30 * 24 * time.Hour)) {
		t.Fatalf("unexpected expiry %v", grant.ExpiresAt)
	}

	reviewer, err := ids.get(context.Background(), reservedEmail)
	if err != nil {
		t.Fatalf("expected reviewer identity to be provisioned: %v", err)
	}
	if reviewer.Role != "reviewer" {
		t.Fatalf("unexpected reviewer role %q", reviewer.Role)
	}

	rec, err := store.Get(context.Background(), stores.PurposeReviewer, reservedEmail)
	if err != nil {
		t.Fatalf("get reviewer record: %v", err)
	}
	if rec.Scope != grant.Scope || rec.CodeHash != hashCode(grant.Code) {
		t.Fatalf("unexpected stored record %+v", rec)
	}
	if metrics.get(1) != 1 {
		t.Fatal("expected granted metric")
	}
	if got := audit.last(t).meta["granted_by"]; got != "boss@example.com" {
		t.Fatalf("unexpected granted_by %q", got)
	}

	again, err := RunGrantReviewer(context.Background(), "boss@example.com", deps)
	if err != nil {
		t.Fatalf("second grant: %v", err)
	}
	rec, err = store.Get(context.Background(), stores.PurposeReviewer, reservedEmail)
	if err != nil {
		t.Fatalf("get reviewer record: %v", err)
	}
	if rec.CodeHash != hashCode(again.Code) {
		t.Fatal("second grant must replace the first")
	}
}

func TestGrantReviewerForbidden(t *testing.T) {
	_, store := newTestStore(t)
	ids := newFakeIdentities()
	ids.add("user@example.com", "standard")
	audit, metrics := &auditLog{}, &metricCounts{}
	deps := newReviewerDeps(store, ids, audit, metrics, time.Unix(1_700_000_000, 0))

	for _, caller := range []string{"user@example.com", "ghost@example.com", ""} {
		if _, err := RunGrantReviewer(context.Background(), caller, deps); !errors.Is(err, errForbidden) {
			t.Fatalf("%q: expected forbidden, got %v", caller, err)
		}
	}
	if metrics.get(3) != 3 {
		t.Fatalf("expected 3 forbidden metrics, got %d", metrics.get(3))
	}
	if _, err := store.Get(context.Background(), stores.PurposeReviewer, reservedEmail); !errors.Is(err, stores.ErrOTPNotFound) {
		t.Fatalf("forbidden grant must not store a record, got %v", err)
	}
	if _, err := RunRevokeReviewer(context.Background(), "user@example.com", deps); !errors.Is(err, errForbidden) {
		t.Fatalf("expected forbidden revoke, got %v", err)
	}
}

func TestRevokeReviewer(t *testing.T) {
	_, store := newTestStore(t)
	ids := newFakeIdentities()
	ids.add("boss@example.com", "admin")
	metrics := &metricCounts{}
	deps := newReviewerDeps(store, ids, &auditLog{}, metrics, time.Unix(1_700_000_000, 0))

	if _, err := RunGrantReviewer(context.Background(), "boss@example.com", deps); err != nil {
		t.Fatalf("grant: %v", err)
	}
	removed, err := RunRevokeReviewer(context.Background(), "boss@example.com", deps)
	if err != nil || !removed {
		t.Fatalf("expected revoke to remove the record, got %v %v", removed, err)
	}
	removed, err = RunRevokeReviewer(context.Background(), "boss@example.com", deps)
	if err != nil || removed {
		t.Fatalf("expected second revoke to be a no-op, got %v %v", removed, err)
	}
	if metrics.get(2) != 1 {
		t.Fatalf("expected one revoked metric, got %d", metrics.get(2))
	}
}

func TestReviewerDisabled(t *testing.T) {
	_, store := newTestStore(t)
	deps := newReviewerDeps(store, newFakeIdentities(), &auditLog{}, &metricCounts{}, time.Now())
	deps.Enabled = false

	if _, err := RunGrantReviewer(context.Background(), "boss@example.com", deps); !errors.Is(err, errDisabled) {
		t.Fatalf("expected disabled, got %v", err)
	}
	if _, err := RunRevokeReviewer(context.Background(), "boss@example.com", deps); !errors.Is(err, errDisabled) {
		t.Fatalf("expected disabled, got %v", err)
	}
}
