package goPasscode

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// ErrSweeperRunning is returned by StartSweeper when a sweeper is already active.
var ErrSweeperRunning = errors.New("sweeper already running")

// SweepExpiredOTPs deletes consumed standard codes and codes past expiry plus grace. It
// returns how many records were removed.
func (e *Engine) SweepExpiredOTPs(ctx context.Context) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	removed, err := e.otpStore.Sweep(ctx, e.now(), e.config.OTP.ClockSkewGrace)
	if removed > 0 {
		e.metrics.Add(MetricOTPSwept, uint64(removed))
		e.emitAudit(ctx, auditEventOTPSwept, true, "", "", nil, func() map[string]string {
			return map[string]string{"removed": strconv.Itoa(removed)}
		})
	}
	if err != nil {
		return removed, errors.Join(ErrOTPUnavailable, err)
	}
	return removed, nil
}

// StartSweeper runs SweepExpiredOTPs every Sweep.Interval on a background goroutine
// until ctx is cancelled or the engine is closed.
func (e *Engine) StartSweeper(ctx context.Context) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	e.sweepMu.Lock()
	defer e.sweepMu.Unlock()
	if e.sweepCancel != nil {
		return ErrSweeperRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	e.sweepCancel = cancel
	interval := e.config.Sweep.Interval
	if interval <= 0 {
		interval = DefaultConfig().Sweep.Interval
	}

	e.sweepWG.Add(1)
	go func() {
		defer e.sweepWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := e.SweepExpiredOTPs(ctx); err != nil && ctx.Err() == nil {
					e.warn(ctx, "otp sweep failed", "error", err)
				}
			}
		}
	}()
	return nil
}

func (e *Engine) stopSweeper() {
	e.sweepMu.Lock()
	cancel := e.sweepCancel
	e.sweepCancel = nil
	e.sweepMu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.sweepWG.Wait()
}

// SeedPersistentOTP rewrites the development code record with the configured code. Build
// calls it once; call it again after the record was flushed from Redis. It does nothing
// when the development code is disabled.
func (e *Engine) SeedPersistentOTP(ctx context.Context) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	_, err := e.seedPersistent(ctx)
	return err
}
