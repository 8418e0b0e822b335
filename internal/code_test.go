package internal

import (
	"testing"
)

func TestNewOTPWidthAndDigits(t *testing.T) {
	for _, digits := range []int{6, 8, 10} {
		code, err := NewOTP(digits)
		if err != nil {
			t.Fatalf("NewOTP(%d): %v", digits, err)
		}
		if len(code) != digits {
			t.Fatalf("expected %d digits, got %q", digits, code)
		}
		for _, c := range code {
			if c < '0' || c > '9' {
				t.Fatalf("non-digit in code %q", code)
			}
		}
	}
}

func TestNewOTPRejectsBadWidth(t *testing.T) {
	if _, err := NewOTP(5); err == nil {
		t.Fatal("expected error for 5 digits")
	}
	if _, err := NewOTP(11); err == nil {
		t.Fatal("expected error for 11 digits")
	}
}

func TestNewOTPNeverReturnsExcludedCode(t *testing.T) {
	for i := 0; i < 2000; i++ {
		code, err := NewOTP(6, "123456")
		if err != nil {
			t.Fatalf("NewOTP: %v", err)
		}
		if code == "123456" {
			t.Fatal("excluded code was generated")
		}
	}
}

func TestHashCodeIsKeyed(t *testing.T) {
	a := HashCode([]byte("key-one-key-one-"), "123456")
	b := HashCode([]byte("key-two-key-two-"), "123456")
	if a == b {
		t.Fatal("expected different keys to produce different hashes")
	}
	if a != HashCode([]byte("key-one-key-one-"), "123456") {
		t.Fatal("expected hash to be deterministic")
	}
}

func TestNormalizeIdentityKey(t *testing.T) {
	if got := NormalizeIdentityKey("  Alice@Example.COM "); got != "alice@example.com" {
		t.Fatalf("unexpected normalized key %q", got)
	}
}
