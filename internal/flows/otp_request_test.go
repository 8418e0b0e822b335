package flows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/goPasscode/internal"
	"github.com/MrEthical07/goPasscode/internal/stores"
)

func newRequestDeps(t *testing.T, store OTPStore, now time.Time, audit *auditLog, metrics *metricCounts) OTPRequestDeps {
	t.Helper()
	return OTPRequestDeps{
		TTL:           10 * time.Minute,
		Digits:        6,
		Retention:     30 * time.Second,
		ReservedEmail: reservedEmail,
		Now:           func() time.Time { return now },
		NewCode:       internal.NewOTP,
		HashCode:      hashCode,
		Store:         store,
		MetricInc:     metrics.inc,
		EmitAudit:     audit.emit,
		Metrics:       OTPRequestMetrics{Issued: 1, Suppressed: 2},
		Events:        OTPRequestEvents{Requested: "otp_requested", Suppressed: "otp_request_suppressed", Failure: "otp_request_failure"},
		Errors:        OTPRequestErrors{EngineNotReady: errNotReady, InvalidIdentityKey: errors.New("invalid identity key"), OTPUnavailable: errOTPDown},
	}
}

func TestRequestOTPStoresHashedCode(t *testing.T) {
	_, store := newTestStore(t)
	now := time.Unix(1_700_000_000, 0)
	audit, metrics := &auditLog{}, &metricCounts{}
	deps := newRequestDeps(t, store, now, audit, metrics)

	res, err := RunRequestOTP(context.Background(), "A@Example.com", deps)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if res.IdentityKey != "a@example.com" || len(res.Code) != 6 || res.Suppressed {
		t.Fatalf("unexpected result %+v", res)
	}
	if !res.ExpiresAt.Equal(now.Add(10 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", res.ExpiresAt)
	}

	rec, err := store.Get(context.Background(), stores.PurposeStandard, "a@example.com")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.CodeHash != hashCode(res.Code) {
		t.Fatal("stored hash does not match issued code")
	}
	if metrics.get(1) != 1 {
		t.Fatal("expected issued metric")
	}
}

func TestRequestOTPReplacesOutstandingCode(t *testing.T) {
	_, store := newTestStore(t)
	deps := newRequestDeps(t, store, time.Unix(1_700_000_000, 0), &auditLog{}, &metricCounts{})

	first, err := RunRequestOTP(context.Background(), "a@example.com", deps)
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	second, err := RunRequestOTP(context.Background(), "a@example.com", deps)
	if err != nil {
		t.Fatalf("second request: %v", err)
	}

	now := time.Unix(1_700_000_000, 0)
	if first.Code != second.Code {
		if _, err := store.Redeem(context.Background(), stores.PurposeStandard, "a@example.com", hashCode(first.Code), now, 0); !errors.Is(err, stores.ErrOTPMismatch) {
			t.Fatalf("expected first code to be replaced, got %v", err)
		}
	}
	if _, err := store.Redeem(context.Background(), stores.PurposeStandard, "a@example.com", hashCode(second.Code), now, 0); err != nil {
		t.Fatalf("expected latest code to redeem: %v", err)
	}
}

func TestRequestOTPSuppressedForReservedEmail(t *testing.T) {
	_, store := newTestStore(t)
	audit, metrics := &auditLog{}, &metricCounts{}
	deps := newRequestDeps(t, store, time.Unix(1_700_000_000, 0), audit, metrics)

	res, err := RunRequestOTP(context.Background(), "Reviewer@Passcode.test", deps)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if !res.Suppressed || res.Code != "" {
		t.Fatalf("expected suppressed request without a code, got %+v", res)
	}
	if _, err := store.Get(context.Background(), stores.PurposeStandard, reservedEmail); !errors.Is(err, stores.ErrOTPNotFound) {
		t.Fatalf("expected nothing stored, got %v", err)
	}
	if metrics.get(2) != 1 {
		t.Fatal("expected suppressed metric")
	}
	if got := audit.last(t).event; got != "otp_request_suppressed" {
		t.Fatalf("unexpected audit event %q", got)
	}
}

func TestRequestOTPExcludesPersistentCode(t *testing.T) {
	_, store := newTestStore(t)
	deps := newRequestDeps(t, store, time.Unix(1_700_000_000, 0), &auditLog{}, &metricCounts{})
	deps.ExcludeCodes = []string{"000000"}
	deps.NewCode = func(digits int, exclude ...string) (string, error) {
		if len(exclude) != 1 || exclude[0] != "000000" {
			t.Fatalf("expected exclusion list to be passed, got %v", exclude)
		}
		return "123456", nil
	}

	if _, err := RunRequestOTP(context.Background(), "a@example.com", deps); err != nil {
		t.Fatalf("request: %v", err)
	}
}

func TestRequestOTPErrors(t *testing.T) {
	mr, store := newTestStore(t)
	deps := newRequestDeps(t, store, time.Unix(1_700_000_000, 0), &auditLog{}, &metricCounts{})

	if _, err := RunRequestOTP(context.Background(), "   ", deps); !errors.Is(err, deps.Errors.InvalidIdentityKey) {
		t.Fatalf("expected invalid identity key, got %v", err)
	}

	mr.SetError("ERR simulated outage")
	if _, err := RunRequestOTP(context.Background(), "a@example.com", deps); !errors.Is(err, errOTPDown) {
		t.Fatalf("expected otp unavailable, got %v", err)
	}

	deps.Store = nil
	if _, err := RunRequestOTP(context.Background(), "a@example.com", deps); !errors.Is(err, errNotReady) {
		t.Fatalf("expected engine not ready, got %v", err)
	}
}
