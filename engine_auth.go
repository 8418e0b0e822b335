package goPasscode

import (
	"context"
	"errors"
)

// LoginWithPassword authenticates email with a password and returns a fresh token pair.
// Unknown identities, identities without a password and wrong passwords all fail with
// ErrInvalidCredentials after the same amount of hashing work.
func (e *Engine) LoginWithPassword(ctx context.Context, email, password string) (TokenPair, error) {
	if !e.ready() {
		return TokenPair{}, ErrEngineNotReady
	}
	res, err := e.flows.PasswordLogin(ctx, email, password)
	if err != nil {
		return TokenPair{}, err
	}
	return res.Tokens, nil
}

// RequestOTP issues a standard code for email, replacing any outstanding one. The raw
// code is returned for delivery and is never stored. A request for the reserved reviewer
// email succeeds with Suppressed set and no code.
func (e *Engine) RequestOTP(ctx context.Context, email string) (*OTPChallenge, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	res, err := e.flows.RequestOTP(ctx, email)
	if err != nil {
		return nil, err
	}
	return &OTPChallenge{
		IdentityKey: res.IdentityKey,
		Code:        res.Code,
		ExpiresAt:   res.ExpiresAt,
		Suppressed:  res.Suppressed,
	}, nil
}

// AuthenticateOrRegisterWithOTP redeems code for email and returns a token pair. The
// boolean reports whether a new identity was created. Only standard codes create
// identities; the development code and the reviewer code only log into existing ones.
//
// Every rejected code fails with ErrInvalidOrExpiredCode.
func (e *Engine) AuthenticateOrRegisterWithOTP(ctx context.Context, email, code string) (TokenPair, bool, error) {
	if !e.ready() {
		return TokenPair{}, false, ErrEngineNotReady
	}
	res, err := e.flows.RedeemOTP(ctx, email, code)
	if err != nil {
		return TokenPair{}, false, err
	}
	return res.Tokens, res.Created, nil
}

// Login tries secret as a password and then as a one-time code. Any failure is reported
// as ErrInvalidCredentials.
func (e *Engine) Login(ctx context.Context, email, secret string) (TokenPair, error) {
	if !e.ready() {
		return TokenPair{}, ErrEngineNotReady
	}

	res, err := e.flows.PasswordLogin(ctx, email, secret)
	if err == nil {
		return res.Tokens, nil
	}
	if !errors.Is(err, ErrInvalidCredentials) {
		e.warn(ctx, "login: password path failed", "error", err)
	}

	pair, _, err := e.AuthenticateOrRegisterWithOTP(ctx, email, secret)
	if err != nil {
		if !errors.Is(err, ErrInvalidOrExpiredCode) {
			e.warn(ctx, "login: code path failed", "error", err)
		}
		return TokenPair{}, ErrInvalidCredentials
	}
	return pair, nil
}

// RefreshSession exchanges a refresh token for a new pair. It fails with ErrTokenRevoked
// once the identity's token version has moved past the one in the token.
func (e *Engine) RefreshSession(ctx context.Context, refreshToken string) (TokenPair, error) {
	if !e.ready() {
		return TokenPair{}, ErrEngineNotReady
	}
	res, err := e.flows.Refresh(ctx, refreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	return res.Tokens, nil
}

// ValidateAccess verifies an access token statelessly. Revocation by token version only
// takes effect at the next refresh, so access tokens stay valid until they expire.
func (e *Engine) ValidateAccess(token string) (*AuthResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	claims, err := e.flows.Validate(token)
	if err != nil {
		return nil, err
	}

	result := &AuthResult{
		IdentityKey:  claims.Subject,
		Role:         claims.Role,
		TokenVersion: claims.TokenVersion,
		TokenID:      claims.ID,
	}
	if claims.ExpiresAt != nil {
		result.ExpiresAt = claims.ExpiresAt.Time
	}
	return result, nil
}
