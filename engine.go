package goPasscode

import (
	"context"
	"log/slog"
	"sync"
	"time"

	internalaudit "github.com/MrEthical07/goPasscode/internal/audit"
	internalflows "github.com/MrEthical07/goPasscode/internal/flows"
	"github.com/MrEthical07/goPasscode/internal/scope"
	"github.com/MrEthical07/goPasscode/internal/stores"
	"github.com/MrEthical07/goPasscode/jwt"
	"github.com/MrEthical07/goPasscode/password"
)

// Engine is the passcode authentication engine. Build it with [New].
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Engine struct {
	config        Config
	identities    IdentityStore
	otpStore      *stores.OTPStore
	jwtManager    *jwt.Manager
	passwordHash  *password.Argon2
	audit         *internalaudit.Dispatcher
	metrics       *Metrics
	logger        *slog.Logger
	clock         Clock
	isAdmin       AdminPredicate
	scopes        *scope.Cache
	reservedEmail string
	flows         internalflows.Service

	sweepMu     sync.Mutex
	sweepCancel context.CancelFunc
	sweepWG     sync.WaitGroup
	closeOnce   sync.Once
}

// Close stops the sweeper and drains the audit dispatcher. It is safe to call more than
// once.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		e.stopSweeper()
		if e.audit != nil {
			e.audit.Close()
		}
	})
}

// AuditDropped describes the auditdropped operation and its observable behavior.
//
// AuditDropped does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return cloneConfig(e.config)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) now() time.Time {
	if e == nil || e.clock == nil {
		return time.Now()
	}
	return e.clock()
}

func (e *Engine) warn(ctx context.Context, msg string, args ...any) {
	if e == nil || e.logger == nil {
		return
	}
	e.logger.WarnContext(ctx, msg, args...)
}

func (e *Engine) ready() bool {
	return e != nil && e.flows.Initialized()
}
