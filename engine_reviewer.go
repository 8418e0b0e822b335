package goPasscode

import "context"

// GrantReviewerOTP replaces the reviewer code with a fresh one and returns it. adminKey
// must name an identity accepted by the admin predicate, otherwise ErrForbidden. The
// reserved reviewer identity is created on first grant.
func (e *Engine) GrantReviewerOTP(ctx context.Context, adminKey string) (*ReviewerGrant, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	res, err := e.flows.GrantReviewer(ctx, adminKey)
	if err != nil {
		return nil, err
	}
	return &ReviewerGrant{
		Code:        res.Code,
		IdentityKey: res.IdentityKey,
		Scope:       res.Scope,
		ExpiresAt:   res.ExpiresAt,
	}, nil
}

// RevokeReviewerOTP deletes the outstanding reviewer code. It reports whether one
// existed; revoking when none exists is not an error.
func (e *Engine) RevokeReviewerOTP(ctx context.Context, adminKey string) (bool, error) {
	if !e.ready() {
		return false, ErrEngineNotReady
	}
	return e.flows.RevokeReviewer(ctx, adminKey)
}

func roleAdminPredicate(roles []string) AdminPredicate {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(identity Identity) bool {
		_, ok := allowed[identity.Role]
		return ok
	}
}
