package internal

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const maxCodeAttempts = 8

// NewOTP returns a uniformly random numeric code of the given width. Codes equal to any
// value in exclude are regenerated.
func NewOTP(digits int, exclude ...string) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		otp, err := randomDigits(digits)
		if err != nil {
			return "", err
		}
		if !excluded(otp, exclude) {
			return otp, nil
		}
	}
	return "", errors.New("otp generation kept producing excluded codes")
}

func randomDigits(digits int) (string, error) {
	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	otp := b.String()
	if len(otp) != digits {
		return "", fmt.Errorf("invalid otp generation length")
	}
	return otp, nil
}

func excluded(code string, exclude []string) bool {
	for _, e := range exclude {
		if e != "" && e == code {
			return true
		}
	}
	return false
}

// HashCode derives the stored form of a one-time code. Codes are short, so a keyed HMAC
// is used instead of a bare digest.
func HashCode(key []byte, code string) [32]byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(code))
	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// NormalizeIdentityKey lower-cases and trims an email-like identity key.
func NormalizeIdentityKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
