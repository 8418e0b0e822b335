package main

import (
	"context"
	"log/slog"
	"time"
)

// CodeSender delivers a one-time code to its owner.
type CodeSender interface {
	SendCode(ctx context.Context, email, code string, expiresAt time.Time) error
}

// logSender writes codes to the log. It stands in for a mail provider in development.
// With redact set only the delivery is recorded, never the code.
type logSender struct {
	logger *slog.Logger
	redact bool
}

func (s logSender) SendCode(ctx context.Context, email, code string, expiresAt time.Time) error {
	if s.redact {
		s.logger.WarnContext(ctx, "one-time code issued without a delivery provider",
			"email", email,
			"expires_at", expiresAt,
		)
		return nil
	}
	s.logger.InfoContext(ctx, "one-time code issued",
		"email", email,
		"code", code,
		"expires_at", expiresAt,
	)
	return nil
}
