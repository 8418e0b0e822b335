package flows

import (
	"errors"
	"time"

	"github.com/MrEthical07/goPasscode/jwt"
)

type ValidateErrors struct {
	EngineNotReady error
	TokenInvalid   error
	TokenExpired   error
}

type ValidateDeps struct {
	VerifyAccess func(token string) (*jwt.Claims, error)
	Now          func() time.Time

	// ObserveLatency is nil when latency histograms are off.
	ObserveLatency func(time.Duration)

	Errors ValidateErrors
}

// RunValidate verifies an access token without touching any store.
func RunValidate(token string, deps ValidateDeps) (*jwt.Claims, error) {
	if deps.VerifyAccess == nil {
		return nil, deps.Errors.EngineNotReady
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	if deps.ObserveLatency != nil {
		start := deps.Now()
		defer func() {
			deps.ObserveLatency(deps.Now().Sub(start))
		}()
	}

	claims, err := deps.VerifyAccess(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, deps.Errors.TokenExpired
		}
		return nil, deps.Errors.TokenInvalid
	}

	return claims, nil
}
