package flows

import (
	"context"

	"github.com/MrEthical07/goPasscode/jwt"
)

// Service is the flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.OTPRedeem.Store != nil && s.deps.Validate.VerifyAccess != nil
}

func (s Service) PasswordLogin(ctx context.Context, email, password string) (PasswordLoginResult, error) {
	return RunPasswordLogin(ctx, email, password, s.deps.PasswordLogin)
}

func (s Service) RequestOTP(ctx context.Context, email string) (OTPRequestResult, error) {
	return RunRequestOTP(ctx, email, s.deps.OTPRequest)
}

func (s Service) RedeemOTP(ctx context.Context, email, code string) (OTPRedeemResult, error) {
	return RunRedeemOTP(ctx, email, code, s.deps.OTPRedeem)
}

func (s Service) GrantReviewer(ctx context.Context, adminKey string) (ReviewerGrantResult, error) {
	return RunGrantReviewer(ctx, adminKey, s.deps.Reviewer)
}

func (s Service) RevokeReviewer(ctx context.Context, adminKey string) (bool, error) {
	return RunRevokeReviewer(ctx, adminKey, s.deps.Reviewer)
}

func (s Service) Refresh(ctx context.Context, refreshToken string) (RefreshResult, error) {
	return RunRefresh(ctx, refreshToken, s.deps.Refresh)
}

func (s Service) Register(ctx context.Context, email, password string) (RegisterResult, error) {
	return RunRegister(ctx, email, password, s.deps.Account)
}

func (s Service) SetPassword(ctx context.Context, email, password string) (uint32, error) {
	return RunSetPassword(ctx, email, password, s.deps.Account)
}

func (s Service) RevokeAll(ctx context.Context, email string) (uint32, error) {
	return RunRevokeAll(ctx, email, s.deps.Account)
}

func (s Service) Validate(token string) (*jwt.Claims, error) {
	return RunValidate(token, s.deps.Validate)
}
