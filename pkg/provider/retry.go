package provider

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/orket/orket/pkg/config"
)

// RetryObserver is notified before each retry sleep. The orchestrator
// uses it to append audit events so the retry schedule is reconstructible
// from the ledger alone.
type RetryObserver func(attempt int, wait time.Duration, err error)

// Retrying wraps a Provider with exponential backoff on transient
// failures. Permanent rejections and context cancellation pass through
// immediately.
type Retrying struct {
	inner    Provider
	cfg      config.RetryConfig
	logger   *slog.Logger
	observer RetryObserver
}

// NewRetrying creates the retry wrapper. observer may be nil.
func NewRetrying(inner Provider, cfg config.RetryConfig, logger *slog.Logger, observer RetryObserver) *Retrying {
	return &Retrying{inner: inner, cfg: cfg, logger: logger, observer: observer}
}

// Complete retries transient failures on a deterministic schedule:
// base, base*factor, ... capped, up to MaxAttempts total attempts.
func (r *Retrying) Complete(ctx context.Context, req Request) (*Response, error) {
	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = r.cfg.Base()
	schedule.Multiplier = r.cfg.Factor
	schedule.MaxInterval = r.cfg.Cap()
	// Zero jitter keeps the schedule reproducible across runs.
	schedule.RandomizationFactor = 0
	schedule.MaxElapsedTime = 0
	schedule.Reset()

	attempt := 0
	operation := func() (*Response, error) {
		attempt++
		resp, err := r.inner.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrUnreachable) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	notify := func(err error, wait time.Duration) {
		if r.logger != nil {
			r.logger.Warn("Provider call failed, backing off",
				slog.Int("attempt", attempt),
				slog.Duration("wait", wait),
				slog.String("error", err.Error()))
		}
		if r.observer != nil {
			r.observer(attempt, wait, err)
		}
	}

	maxRetries := uint64(0)
	if r.cfg.MaxAttempts > 1 {
		maxRetries = uint64(r.cfg.MaxAttempts - 1)
	}
	return backoff.RetryNotifyWithData(operation,
		backoff.WithContext(backoff.WithMaxRetries(schedule, maxRetries), ctx),
		notify)
}

// Health delegates without retry; health probes are best-effort.
func (r *Retrying) Health(ctx context.Context) error {
	return r.inner.Health(ctx)
}
