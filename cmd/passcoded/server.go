package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	goPasscode "github.com/MrEthical07/goPasscode"
	promexport "github.com/MrEthical07/goPasscode/metrics/export/prometheus"
	"github.com/MrEthical07/goPasscode/middleware"
)

const maxBodyBytes = 1 << 16

type serverOptions struct {
	engine *goPasscode.Engine
	sender CodeSender
	logger *slog.Logger
	// echoCodes returns issued codes in the response body. Never set in production.
	echoCodes bool
	health    func(context.Context) error
}

type server struct {
	engine    *goPasscode.Engine
	sender    CodeSender
	logger    *slog.Logger
	echoCodes bool
	health    func(context.Context) error
}

func newServer(opts serverOptions) http.Handler {
	s := &server{
		engine:    opts.engine,
		sender:    opts.sender,
		logger:    opts.logger,
		echoCodes: opts.echoCodes,
		health:    opts.health,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.sender == nil {
		s.sender = logSender{logger: s.logger}
	}

	guard := middleware.RequireAccess(s.engine)
	admin := middleware.RequireAdmin(s.engine.Config().Reviewer.AdminRoles...)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("POST /auth/otp/request", s.handleRequestOTP)
	mux.HandleFunc("POST /auth/otp/verify", s.handleVerifyOTP)
	mux.HandleFunc("POST /auth/refresh", s.handleRefresh)
	mux.Handle("GET /auth/me", guard(http.HandlerFunc(s.handleMe)))
	mux.Handle("POST /auth/review-otp", guard(admin(http.HandlerFunc(s.handleGrantReviewer))))
	mux.Handle("DELETE /auth/review-otp", guard(admin(http.HandlerFunc(s.handleRevokeReviewer))))
	mux.Handle("GET /metrics", promexport.Handler(s.engine))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type codeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	Created          bool      `json:"created,omitempty"`
}

type challengeResponse struct {
	ExpiresAt time.Time `json:"expires_at,omitzero"`
	Code      string    `json:"code,omitempty"`
}

type grantResponse struct {
	Code        string    `json:"code"`
	IdentityKey string    `json:"identity_key"`
	Scope       string    `json:"scope"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type meResponse struct {
	IdentityKey  string    `json:"identity_key"`
	Role         string    `json:"role"`
	TokenVersion uint32    `json:"token_version"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body credentialsRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	pair, err := s.engine.RegisterWithPassword(requestContext(r), body.Email, body.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newTokenResponse(pair, true))
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body credentialsRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	pair, err := s.engine.Login(requestContext(r), body.Email, body.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(pair, false))
}

func (s *server) handleRequestOTP(w http.ResponseWriter, r *http.Request) {
	var body codeRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	ctx := requestContext(r)
	challenge, err := s.engine.RequestOTP(ctx, body.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := challengeResponse{ExpiresAt: challenge.ExpiresAt}
	if !challenge.Suppressed {
		if err := s.sender.SendCode(ctx, challenge.IdentityKey, challenge.Code, challenge.ExpiresAt); err != nil {
			s.logger.WarnContext(ctx, "code delivery failed", "error", err)
			http.Error(w, "code delivery failed", http.StatusBadGateway)
			return
		}
		if s.echoCodes {
			resp.Code = challenge.Code
		}
	}
	// Suppressed requests answer exactly like delivered ones.
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var body codeRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	pair, created, err := s.engine.AuthenticateOrRegisterWithOTP(requestContext(r), body.Email, body.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(pair, created))
}

func (s *server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	pair, err := s.engine.RefreshSession(requestContext(r), body.RefreshToken)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(pair, false))
}

func (s *server) handleMe(w http.ResponseWriter, r *http.Request) {
	res, _ := middleware.AuthResultFromContext(r.Context())
	writeJSON(w, http.StatusOK, meResponse{
		IdentityKey:  res.IdentityKey,
		Role:         res.Role,
		TokenVersion: res.TokenVersion,
		ExpiresAt:    res.ExpiresAt,
	})
}

func (s *server) handleGrantReviewer(w http.ResponseWriter, r *http.Request) {
	res, _ := middleware.AuthResultFromContext(r.Context())
	grant, err := s.engine.GrantReviewerOTP(r.Context(), res.IdentityKey)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, grantResponse{
		Code:        grant.Code,
		IdentityKey: grant.IdentityKey,
		Scope:       grant.Scope,
		ExpiresAt:   grant.ExpiresAt,
	})
}

func (s *server) handleRevokeReviewer(w http.ResponseWriter, r *http.Request) {
	res, _ := middleware.AuthResultFromContext(r.Context())
	revoked, err := s.engine.RevokeReviewerOTP(r.Context(), res.IdentityKey)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": revoked})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// writeError maps engine errors to status codes. Messages are the engine's public
// sentinels, which never say which check failed.
func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"

	switch {
	case errors.Is(err, goPasscode.ErrInvalidCredentials):
		status, msg = http.StatusUnauthorized, goPasscode.ErrInvalidCredentials.Error()
	case errors.Is(err, goPasscode.ErrInvalidOrExpiredCode):
		status, msg = http.StatusUnauthorized, goPasscode.ErrInvalidOrExpiredCode.Error()
	case errors.Is(err, goPasscode.ErrTokenExpired):
		status, msg = http.StatusUnauthorized, goPasscode.ErrTokenExpired.Error()
	case errors.Is(err, goPasscode.ErrTokenInvalid), errors.Is(err, goPasscode.ErrTokenRevoked):
		status, msg = http.StatusUnauthorized, goPasscode.ErrTokenInvalid.Error()
	case errors.Is(err, goPasscode.ErrForbidden):
		status, msg = http.StatusForbidden, goPasscode.ErrForbidden.Error()
	case errors.Is(err, goPasscode.ErrIdentityConflict):
		status, msg = http.StatusConflict, goPasscode.ErrIdentityConflict.Error()
	case errors.Is(err, goPasscode.ErrInvalidIdentityKey):
		status, msg = http.StatusBadRequest, goPasscode.ErrInvalidIdentityKey.Error()
	case errors.Is(err, goPasscode.ErrPasswordPolicy):
		status, msg = http.StatusBadRequest, goPasscode.ErrPasswordPolicy.Error()
	case errors.Is(err, goPasscode.ErrReviewerDisabled):
		status, msg = http.StatusNotFound, goPasscode.ErrReviewerDisabled.Error()
	case errors.Is(err, goPasscode.ErrOTPUnavailable), errors.Is(err, goPasscode.ErrIdentityUnavailable):
		status, msg = http.StatusServiceUnavailable, "temporarily unavailable"
	}

	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			"path", r.URL.Path,
			"error", err,
		)
	}
	http.Error(w, msg, status)
}

func newTokenResponse(pair goPasscode.TokenPair, created bool) tokenResponse {
	return tokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		Created:          created,
	}
}

func requestContext(r *http.Request) context.Context {
	return middleware.WithRemoteIP(r.Context(), r)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
