package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/dan-elliott-appneta/sequel/telemetry"
)

const (
	// DefaultMaxAttempts is the default number of attempts per call.
	DefaultMaxAttempts = 3

	// DefaultBaseDelay is the first backoff delay for transient failures.
	DefaultBaseDelay = 1 * time.Second

	// DefaultMultiplier is the exponential backoff multiplier.
	DefaultMultiplier = 2.0

	// DefaultTimeout is the per-attempt deadline.
	DefaultTimeout = 30 * time.Second

	// DefaultQuotaWait is the wait on a quota error that carries no
	// retry-after hint.
	DefaultQuotaWait = 60 * time.Second

	// maxBackoffInterval caps a single backoff delay.
	maxBackoffInterval = 5 * time.Minute
)

// Config holds executor policy. Zero values mean the defaults above.
type Config struct {
	// MaxAttempts is the maximum number of attempts per call.
	MaxAttempts int

	// BaseDelay is the first backoff delay for transient failures; each
	// further delay is the previous one times Multiplier.
	BaseDelay time.Duration

	// Multiplier is the exponential backoff multiplier.
	Multiplier float64

	// Timeout is the deadline applied to each individual attempt.
	// Exceeding it counts as a transient failure.
	Timeout time.Duration

	// QuotaWait is the wait on quota errors without a retry-after hint.
	QuotaWait time.Duration

	// RefreshCredentials, when set, is invoked once on the first auth
	// failure of a call; the attempt is then retried immediately. A
	// second auth failure, or a refresh failure, is terminal.
	RefreshCredentials func(ctx context.Context) error

	// Logger for attempt and wait events.
	Logger *slog.Logger
}

// Executor runs remote operations under the configured policy. It holds
// no per-call state; each Do invocation tracks its own attempts, so one
// executor is shared by every fetcher.
type Executor struct {
	cfg    Config
	logger *slog.Logger

	// sleep is the cancellable wait, replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an executor, filling unset policy fields with defaults.
func New(cfg Config) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = DefaultMultiplier
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.QuotaWait <= 0 {
		cfg.QuotaWait = DefaultQuotaWait
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Executor{
		cfg:    cfg,
		logger: cfg.Logger,
		sleep:  sleepCtx,
	}
}

// Do executes op under the executor's policy and returns its result or a
// terminal *Error. Attempts are strictly sequential; every wait and the
// in-flight call itself cancel promptly when ctx does.
func Do[T any](ctx context.Context, ex *Executor, name string, op func(context.Context) (T, error)) (T, error) {
	var zero T

	logger := ex.logger.With("op", name, "invocation", uuid.NewString()[:8])

	// Delay sequence for transient failures: base, base*m, base*m^2, ...
	bo := &backoff.ExponentialBackOff{
		InitialInterval:     ex.cfg.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          ex.cfg.Multiplier,
		MaxInterval:         maxBackoffInterval,
	}

	authRefreshed := false

	for attempt := 1; attempt <= ex.cfg.MaxAttempts; {
		logger.Debug("executing attempt", "attempt", attempt, "max_attempts", ex.cfg.MaxAttempts)

		result, err := runAttempt(ctx, ex.cfg.Timeout, op)
		if err == nil {
			if attempt > 1 {
				logger.Info("operation succeeded after retry", "attempts", attempt)
			}
			telemetry.RecordRetryAttempt(ctx, "none", "success")
			return result, nil
		}

		// A cancelled caller wins over classification: surface the
		// context error untouched and populate nothing.
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		cerr := Classify(err)
		cerr.Op = name
		cerr.Attempts = attempt

		switch cerr.Category {
		case CategoryAuth:
			if !authRefreshed && ex.cfg.RefreshCredentials != nil {
				logger.Warn("authentication failed, refreshing credentials")
				if rerr := ex.cfg.RefreshCredentials(ctx); rerr != nil {
					telemetry.RecordRetryAttempt(ctx, cerr.Category.String(), "terminal")
					cerr.Err = fmt.Errorf("refreshing credentials: %w", errors.Join(err, rerr))
					return zero, cerr
				}
				authRefreshed = true
				telemetry.RecordRetryAttempt(ctx, cerr.Category.String(), "retried")
				// Retry immediately; the refresh path does not consume
				// an attempt or a backoff slot.
				continue
			}
			logger.Error("authentication failed", "error", err)
			telemetry.RecordRetryAttempt(ctx, cerr.Category.String(), "terminal")
			return zero, cerr

		case CategoryPermission, CategoryNotFound, CategoryServiceDisabled:
			// Retrying cannot change the outcome.
			logger.Error("operation failed", "category", cerr.Category.String(), "error", err)
			telemetry.RecordRetryAttempt(ctx, cerr.Category.String(), "terminal")
			return zero, cerr

		case CategoryQuota:
			if attempt == ex.cfg.MaxAttempts {
				logger.Error("quota exceeded on final attempt", "error", err)
				telemetry.RecordRetryAttempt(ctx, cerr.Category.String(), "terminal")
				return zero, cerr
			}
			wait := cerr.RetryAfter
			if wait <= 0 {
				wait = ex.cfg.QuotaWait
			}
			logger.Warn("quota exceeded, waiting", "wait", wait, "hinted", cerr.RetryAfter > 0)
			telemetry.RecordRetryAttempt(ctx, cerr.Category.String(), "retried")
			telemetry.RecordRetryWait(ctx, "quota", wait)
			if werr := ex.sleep(ctx, wait); werr != nil {
				return zero, werr
			}
			attempt++

		default: // transient and unclassified
			if attempt == ex.cfg.MaxAttempts {
				logger.Error("operation failed, attempts exhausted",
					"category", cerr.Category.String(), "attempts", attempt, "error", err)
				telemetry.RecordRetryAttempt(ctx, cerr.Category.String(), "terminal")
				return zero, cerr
			}
			delay := bo.NextBackOff()
			if delay == backoff.Stop {
				delay = ex.cfg.BaseDelay
			}
			logger.Warn("operation failed, retrying",
				"category", cerr.Category.String(), "attempt", attempt, "delay", delay, "error", err)
			telemetry.RecordRetryAttempt(ctx, cerr.Category.String(), "retried")
			telemetry.RecordRetryWait(ctx, "backoff", delay)
			if werr := ex.sleep(ctx, delay); werr != nil {
				return zero, werr
			}
			attempt++
		}
	}

	// Unreachable: every exit above returns. Kept for the compiler.
	return zero, &Error{Category: CategoryUnclassified, Op: name, Err: errors.New("attempts exhausted")}
}

// runAttempt invokes op under the per-attempt deadline.
func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(context.Context) (T, error)) (T, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return op(attemptCtx)
}

// sleepCtx waits d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
