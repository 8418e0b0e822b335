package goPasscode

import (
	"context"

	"github.com/MrEthical07/goPasscode/internal"
)

// RegisterWithPassword creates an identity with a password and signs it in. It fails
// with ErrIdentityConflict when the email is taken or is the reserved reviewer email.
func (e *Engine) RegisterWithPassword(ctx context.Context, email, password string) (TokenPair, error) {
	if !e.ready() {
		return TokenPair{}, ErrEngineNotReady
	}
	res, err := e.flows.Register(ctx, email, password)
	if err != nil {
		return TokenPair{}, err
	}
	return res.Tokens, nil
}

// SetPassword replaces the password of email and revokes every refresh token issued to
// it.
func (e *Engine) SetPassword(ctx context.Context, email, password string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	_, err := e.flows.SetPassword(ctx, email, password)
	return err
}

// RevokeAllSessions bumps the token version of email. Outstanding refresh tokens stop
// working; access tokens run out on their own.
func (e *Engine) RevokeAllSessions(ctx context.Context, email string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	_, err := e.flows.RevokeAll(ctx, email)
	return err
}

// GetIdentity describes the getidentity operation and its observable behavior.
//
// GetIdentity may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) GetIdentity(ctx context.Context, email string) (Identity, error) {
	if !e.ready() {
		return Identity{}, ErrEngineNotReady
	}
	key := internal.NormalizeIdentityKey(email)
	if key == "" {
		return Identity{}, ErrInvalidIdentityKey
	}
	return e.identities.GetIdentity(ctx, key)
}
