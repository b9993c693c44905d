package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	sequel "github.com/dan-elliott-appneta/sequel"
)

// newTestExecutor returns an executor whose sleeps are recorded instead
// of slept.
func newTestExecutor(t *testing.T, cfg Config) (*Executor, *[]time.Duration) {
	t.Helper()

	ex := New(cfg)
	var slept []time.Duration
	ex.sleep = func(ctx context.Context, d time.Duration) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		slept = append(slept, d)
		return nil
	}
	return ex, &slept
}

func TestDoSuccessFirstAttempt(t *testing.T) {
	ex, slept := newTestExecutor(t, Config{})

	calls := 0
	got, err := Do(context.Background(), ex, "op", func(ctx context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", got)
	require.Equal(t, 1, calls)
	require.Empty(t, *slept)
}

func TestDoRetriesTransientWithExponentialBackoff(t *testing.T) {
	ex, slept := newTestExecutor(t, Config{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2.0})

	calls := 0
	got, err := Do(context.Background(), ex, "op", func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, &sequel.APIError{StatusCode: 503}
		}
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, got)
	require.Equal(t, 3, calls)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *slept)
}

func TestDoExhaustsAttempts(t *testing.T) {
	ex, slept := newTestExecutor(t, Config{MaxAttempts: 3, BaseDelay: time.Second})

	calls := 0
	_, err := Do(context.Background(), ex, "op", func(ctx context.Context) (int, error) {
		calls++
		return 0, &sequel.APIError{StatusCode: 500, Message: "boom"}
	})
	require.Error(t, err)
	require.Equal(t, 3, calls)
	require.Len(t, *slept, 2)

	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, CategoryTransient, cerr.Category)
	require.Equal(t, "op", cerr.Op)
	require.Equal(t, 3, cerr.Attempts)
}

func TestDoDoesNotRetryTerminalCategories(t *testing.T) {
	tests := []struct {
		name string
		err  *sequel.APIError
		want Category
	}{
		{"permission", &sequel.APIError{StatusCode: 403, Status: "PERMISSION_DENIED"}, CategoryPermission},
		{"not found", &sequel.APIError{StatusCode: 404}, CategoryNotFound},
		{"service disabled", &sequel.APIError{StatusCode: 403, Reason: "accessNotConfigured"}, CategoryServiceDisabled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex, slept := newTestExecutor(t, Config{MaxAttempts: 3})

			calls := 0
			_, err := Do(context.Background(), ex, "op", func(ctx context.Context) (int, error) {
				calls++
				return 0, tt.err
			})
			require.Equal(t, 1, calls, "terminal failures must not retry")
			require.Empty(t, *slept)
			require.Equal(t, tt.want, CategoryOf(err))
		})
	}
}

func TestDoRefreshesCredentialsOnceOnAuthFailure(t *testing.T) {
	refreshes := 0
	ex, slept := newTestExecutor(t, Config{
		MaxAttempts: 3,
		RefreshCredentials: func(ctx context.Context) error {
			refreshes++
			return nil
		},
	})

	calls := 0
	got, err := Do(context.Background(), ex, "op", func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", &sequel.APIError{StatusCode: 401}
		}
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", got)
	require.Equal(t, 2, calls)
	require.Equal(t, 1, refreshes)
	require.Empty(t, *slept, "the refresh retry must not wait")
}

func TestDoSecondAuthFailureIsTerminal(t *testing.T) {
	refreshes := 0
	ex, _ := newTestExecutor(t, Config{
		MaxAttempts: 5,
		RefreshCredentials: func(ctx context.Context) error {
			refreshes++
			return nil
		},
	})

	calls := 0
	_, err := Do(context.Background(), ex, "op", func(ctx context.Context) (string, error) {
		calls++
		return "", &sequel.APIError{StatusCode: 401}
	})
	require.Equal(t, 2, calls, "one retry after the refresh, then terminal")
	require.Equal(t, 1, refreshes)
	require.Equal(t, CategoryAuth, CategoryOf(err))
}

func TestDoRefreshFailureIsTerminal(t *testing.T) {
	refreshErr := errors.New("gcloud not installed")
	ex, _ := newTestExecutor(t, Config{
		MaxAttempts: 3,
		RefreshCredentials: func(ctx context.Context) error {
			return refreshErr
		},
	})

	calls := 0
	_, err := Do(context.Background(), ex, "op", func(ctx context.Context) (string, error) {
		calls++
		return "", &sequel.APIError{StatusCode: 401}
	})
	require.Equal(t, 1, calls)
	require.Equal(t, CategoryAuth, CategoryOf(err))
	require.ErrorIs(t, err, refreshErr)
}

func TestDoAuthWithoutRefresherIsTerminal(t *testing.T) {
	ex, _ := newTestExecutor(t, Config{MaxAttempts: 3})

	calls := 0
	_, err := Do(context.Background(), ex, "op", func(ctx context.Context) (string, error) {
		calls++
		return "", &sequel.APIError{StatusCode: 401}
	})
	require.Equal(t, 1, calls)
	require.Equal(t, CategoryAuth, CategoryOf(err))
}

func TestDoQuotaWaitsForHint(t *testing.T) {
	ex, slept := newTestExecutor(t, Config{MaxAttempts: 2, QuotaWait: time.Minute})

	calls := 0
	got, err := Do(context.Background(), ex, "op", func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", &sequel.APIError{StatusCode: 429, RetryAfter: 45 * time.Second}
		}
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", got)
	require.Equal(t, []time.Duration{45 * time.Second}, *slept)
}

func TestDoQuotaWaitsDefaultWithoutHint(t *testing.T) {
	ex, slept := newTestExecutor(t, Config{MaxAttempts: 2, QuotaWait: time.Minute})

	calls := 0
	_, err := Do(context.Background(), ex, "op", func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", &sequel.APIError{StatusCode: 429}
		}
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, []time.Duration{time.Minute}, *slept)
}

func TestDoQuotaOnFinalAttemptIsTerminal(t *testing.T) {
	ex, slept := newTestExecutor(t, Config{MaxAttempts: 1})

	_, err := Do(context.Background(), ex, "op", func(ctx context.Context) (string, error) {
		return "", &sequel.APIError{StatusCode: 429}
	})
	require.Equal(t, CategoryQuota, CategoryOf(err))
	require.Empty(t, *slept, "no wait when no attempt remains")
}

func TestDoSurfacesContextCancellation(t *testing.T) {
	ex, _ := newTestExecutor(t, Config{MaxAttempts: 3})

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, ex, "op", func(opCtx context.Context) (string, error) {
		calls++
		cancel()
		return "", opCtx.Err()
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)

	var cerr *Error
	require.False(t, errors.As(err, &cerr), "a cancelled caller gets the bare context error")
}

func TestDoStopsWaitingWhenContextCancelled(t *testing.T) {
	ex := New(Config{MaxAttempts: 3, BaseDelay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	start := time.Now()
	_, err := Do(ctx, ex, "op", func(opCtx context.Context) (string, error) {
		calls++
		cancel()
		return "", &sequel.APIError{StatusCode: 500}
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
	require.Less(t, time.Since(start), time.Minute, "must not sit out the backoff")
}

func TestSleepCtx(t *testing.T) {
	require.NoError(t, sleepCtx(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
}

func TestNewFillsDefaults(t *testing.T) {
	ex := New(Config{})
	require.Equal(t, DefaultMaxAttempts, ex.cfg.MaxAttempts)
	require.Equal(t, DefaultBaseDelay, ex.cfg.BaseDelay)
	require.Equal(t, DefaultMultiplier, ex.cfg.Multiplier)
	require.Equal(t, DefaultTimeout, ex.cfg.Timeout)
	require.Equal(t, DefaultQuotaWait, ex.cfg.QuotaWait)
}
