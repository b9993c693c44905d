// Package credentials resolves the OAuth access tokens the API clients
// attach to requests. Providers cache tokens and expose Refresh, which
// the retry executor invokes once when a call fails with an auth error.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// ErrNoToken is returned when a provider has no token to offer.
var ErrNoToken = errors.New("credentials: no access token available")

// Provider resolves an access token for outgoing API requests.
type Provider interface {
	// Token returns a token to attach to the next request.
	Token(ctx context.Context) (string, error)

	// Refresh discards any cached token and obtains a fresh one.
	Refresh(ctx context.Context) error
}

// Static is a fixed token, typically supplied via a flag. Refresh is a
// no-op; if the token has gone stale there is nothing to rotate to.
type Static string

func (s Static) Token(_ context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

func (s Static) Refresh(_ context.Context) error { return nil }

// EnvProvider reads the token from an environment variable on every call,
// so an externally rotated value is picked up without a restart.
type EnvProvider struct {
	// Var is the variable name. Empty means "GOOGLE_OAUTH_ACCESS_TOKEN".
	Var string
}

func (p EnvProvider) name() string {
	if p.Var == "" {
		return "GOOGLE_OAUTH_ACCESS_TOKEN"
	}
	return p.Var
}

func (p EnvProvider) Token(_ context.Context) (string, error) {
	tok := strings.TrimSpace(os.Getenv(p.name()))
	if tok == "" {
		return "", fmt.Errorf("%w: %s is not set", ErrNoToken, p.name())
	}
	return tok, nil
}

func (p EnvProvider) Refresh(_ context.Context) error { return nil }

const (
	// DefaultCommandTTL is how long a token obtained from the gcloud CLI
	// is reused before being fetched again. Access tokens live for an
	// hour; the margin absorbs clock skew and slow starts.
	DefaultCommandTTL = 45 * time.Minute
)

// CommandProvider obtains tokens by running an external command, by
// default `gcloud auth print-access-token` — the same credential path the
// interactive gcloud CLI uses. Tokens are cached until TTL or Refresh.
type CommandProvider struct {
	// Command is the argv to run. Empty means
	// ["gcloud", "auth", "print-access-token"].
	Command []string

	// TTL is how long a fetched token is reused. Zero means
	// DefaultCommandTTL.
	TTL time.Duration

	// Logger for refresh events.
	Logger *slog.Logger

	mu        sync.Mutex
	token     string
	fetchedAt time.Time
	now       func() time.Time
}

// NewCommandProvider creates a provider running the given command, or the
// gcloud default when cmd is empty.
func NewCommandProvider(cmd []string, logger *slog.Logger) *CommandProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandProvider{
		Command: cmd,
		Logger:  logger,
		now:     time.Now,
	}
}

func (p *CommandProvider) argv() []string {
	if len(p.Command) == 0 {
		return []string{"gcloud", "auth", "print-access-token"}
	}
	return p.Command
}

func (p *CommandProvider) ttl() time.Duration {
	if p.TTL <= 0 {
		return DefaultCommandTTL
	}
	return p.TTL
}

// Token returns the cached token, fetching a new one when the cache is
// empty or past its TTL.
func (p *CommandProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.now == nil {
		p.now = time.Now
	}
	if p.token != "" && p.now().Sub(p.fetchedAt) < p.ttl() {
		return p.token, nil
	}
	return p.fetchLocked(ctx)
}

// Refresh discards the cached token and fetches a fresh one.
func (p *CommandProvider) Refresh(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.now == nil {
		p.now = time.Now
	}
	p.token = ""
	_, err := p.fetchLocked(ctx)
	return err
}

func (p *CommandProvider) fetchLocked(ctx context.Context) (string, error) {
	argv := p.argv()

	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("fetching access token", "command", argv[0])

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("running %s: %w: %s", argv[0], err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("running %s: %w", argv[0], err)
	}

	tok := strings.TrimSpace(string(out))
	if tok == "" {
		return "", fmt.Errorf("%w: %s printed nothing", ErrNoToken, argv[0])
	}

	p.token = tok
	p.fetchedAt = p.now()
	return tok, nil
}

// Chain tries each provider in order, returning the first token found.
// Refresh is forwarded to every provider that knows how to refresh.
type Chain []Provider

func (c Chain) Token(ctx context.Context) (string, error) {
	var lastErr error
	for _, p := range c {
		tok, err := p.Token(ctx)
		if err == nil {
			return tok, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrNoToken
	}
	return "", lastErr
}

func (c Chain) Refresh(ctx context.Context) error {
	var errs []error
	for _, p := range c {
		if err := p.Refresh(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
