// Package retry executes remote calls with timeout enforcement, error
// classification and category-specific recovery: credential refresh for
// auth failures, hint-driven waits for quota errors, and exponential
// backoff for transient ones.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
	"time"

	sequel "github.com/dan-elliott-appneta/sequel"
)

// Category is the recovery-relevant class of a remote failure. It is
// decoupled from the originating error's literal shape so callers can
// branch on it without string matching.
type Category int

const (
	CategoryUnclassified Category = iota
	CategoryAuth
	CategoryPermission
	CategoryQuota
	CategoryNotFound
	CategoryServiceDisabled
	CategoryTransient
)

func (c Category) String() string {
	switch c {
	case CategoryAuth:
		return "auth"
	case CategoryPermission:
		return "permission"
	case CategoryQuota:
		return "quota"
	case CategoryNotFound:
		return "not-found"
	case CategoryServiceDisabled:
		return "service-disabled"
	case CategoryTransient:
		return "transient"
	default:
		return "unclassified"
	}
}

// Error is a classified remote failure. Every terminal failure surfaced
// by the executor is an *Error; the underlying error stays reachable via
// Unwrap for diagnostics.
type Error struct {
	Category Category

	// Op is the operation name, for messages and logs.
	Op string

	// Permission is the missing IAM permission, when extractable from a
	// permission-denied error.
	Permission string

	// APIName is the disabled API's name (e.g. "compute.googleapis.com"),
	// when extractable from a service-disabled error.
	APIName string

	// RetryAfter is the wait the remote system asked for on a quota
	// error, zero when it gave no hint.
	RetryAfter time.Duration

	// Attempts is how many attempts ran before the failure became
	// terminal.
	Attempts int

	// Err is the underlying error.
	Err error
}

func (e *Error) Error() string {
	op := e.Op
	if op == "" {
		op = "operation"
	}
	switch e.Category {
	case CategoryAuth:
		return fmt.Sprintf("authentication failed for %s: run 'gcloud auth application-default login' and retry: %v", op, e.Err)
	case CategoryPermission:
		if e.Permission != "" {
			return fmt.Sprintf("permission denied for %s: missing permission %s, grant it in IAM or contact your administrator", op, e.Permission)
		}
		return fmt.Sprintf("permission denied for %s: %v", op, e.Err)
	case CategoryQuota:
		if e.RetryAfter > 0 {
			return fmt.Sprintf("quota exceeded for %s: retry after %s", op, e.RetryAfter)
		}
		return fmt.Sprintf("quota exceeded for %s: wait or request a quota increase: %v", op, e.Err)
	case CategoryNotFound:
		return fmt.Sprintf("resource not found for %s: %v", op, e.Err)
	case CategoryServiceDisabled:
		api := e.APIName
		if api == "" {
			api = "the required API"
		}
		return fmt.Sprintf("API not enabled for %s: enable %s at https://console.cloud.google.com/apis/library/%s", op, api, api)
	case CategoryTransient:
		if e.Attempts > 1 {
			return fmt.Sprintf("%s failed after %d attempts: %v", op, e.Attempts, e.Err)
		}
		return fmt.Sprintf("%s failed: %v", op, e.Err)
	default:
		return fmt.Sprintf("%s failed unexpectedly: %v", op, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// CategoryOf returns the category of a classified error, or
// CategoryUnclassified for anything else.
func CategoryOf(err error) Category {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Category
	}
	return CategoryUnclassified
}

// IsNotFound reports whether err is a classified not-found failure.
// Callers treat these as "absent" where that is semantically right.
func IsNotFound(err error) bool {
	return CategoryOf(err) == CategoryNotFound
}

// IsPermissionDenied reports whether err is a classified permission
// failure.
func IsPermissionDenied(err error) bool {
	return CategoryOf(err) == CategoryPermission
}

// IsRetryable reports whether retrying without outside intervention could
// ever help.
func IsRetryable(err error) bool {
	switch CategoryOf(err) {
	case CategoryQuota, CategoryTransient, CategoryUnclassified:
		return true
	default:
		return false
	}
}

var (
	permissionRe = regexp.MustCompile(`[Pp]ermission ['"]([^'"]+)['"]`)
	apiNameRes   = []*regexp.Regexp{
		regexp.MustCompile(`([a-z][a-z0-9-]*\.googleapis\.com)`),
		regexp.MustCompile(`API \[([^\]]+)\]`),
	}
)

// Classify normalises a raw remote-call failure into an *Error. All
// signature matching against provider error shapes lives here; nothing
// else in the system inspects raw errors.
//
// When an error could match several categories the first match in the
// order auth, permission, quota, not-found, service-disabled wins. A bare
// 403 with no quota or service-disabled markers falls through to
// permission; the generic matchers come after the signature-specific
// ones so a quota-flavoured 403 still classifies as quota.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr
	}

	var apiErr *sequel.APIError
	if errors.As(err, &apiErr) {
		return classifyAPIError(err, apiErr)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Category: CategoryTransient, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Category: CategoryTransient, Err: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &Error{Category: CategoryTransient, Err: err}
	}

	return &Error{Category: CategoryUnclassified, Err: err}
}

func classifyAPIError(err error, apiErr *sequel.APIError) *Error {
	msg := apiErr.Message
	reason := apiErr.Reason
	status := apiErr.Status

	switch {
	case apiErr.StatusCode == 401 ||
		status == "UNAUTHENTICATED" ||
		reason == "authError" ||
		strings.Contains(msg, "invalid authentication credentials"):
		return &Error{Category: CategoryAuth, Err: err}

	case status == "PERMISSION_DENIED" && !isServiceDisabled(apiErr),
		permissionRe.MatchString(msg):
		return &Error{
			Category:   CategoryPermission,
			Permission: extractPermission(msg),
			Err:        err,
		}

	case apiErr.StatusCode == 429 ||
		status == "RESOURCE_EXHAUSTED" ||
		reason == "rateLimitExceeded" ||
		reason == "userRateLimitExceeded" ||
		reason == "quotaExceeded":
		return &Error{
			Category:   CategoryQuota,
			RetryAfter: apiErr.RetryAfter,
			Err:        err,
		}

	case apiErr.StatusCode == 404 || status == "NOT_FOUND":
		return &Error{Category: CategoryNotFound, Err: err}

	case isServiceDisabled(apiErr):
		return &Error{
			Category: CategoryServiceDisabled,
			APIName:  extractAPIName(msg),
			Err:      err,
		}

	case apiErr.StatusCode == 403:
		// Plain 403 with no quota or service-disabled markers.
		return &Error{
			Category:   CategoryPermission,
			Permission: extractPermission(msg),
			Err:        err,
		}

	case apiErr.StatusCode >= 500:
		return &Error{Category: CategoryTransient, Err: err}

	default:
		return &Error{Category: CategoryUnclassified, Err: err}
	}
}

func isServiceDisabled(apiErr *sequel.APIError) bool {
	return apiErr.Reason == "accessNotConfigured" ||
		apiErr.Status == "SERVICE_DISABLED" ||
		strings.Contains(apiErr.Message, "has not been used") ||
		strings.Contains(apiErr.Message, "API has not been enabled")
}

func extractPermission(msg string) string {
	if m := permissionRe.FindStringSubmatch(msg); m != nil {
		return m[1]
	}
	return ""
}

func extractAPIName(msg string) string {
	for _, re := range apiNameRes {
		if m := re.FindStringSubmatch(msg); m != nil {
			return m[1]
		}
	}
	return ""
}
