package sequel

import (
	"fmt"
	"time"
)

// APIError is the normalised shape of a failed Google Cloud REST call.
// The gcloud clients produce it from the error document and response
// headers; retry.Classify is the only consumer that inspects its fields.
type APIError struct {
	// StatusCode is the HTTP status of the response.
	StatusCode int

	// Status is the google.rpc status string, e.g. "PERMISSION_DENIED".
	Status string

	// Reason is the first error reason, e.g. "rateLimitExceeded" or
	// "accessNotConfigured".
	Reason string

	// Message is the human-readable message from the error document.
	Message string

	// RetryAfter is the wait hinted by a Retry-After header, zero when
	// the response carried none.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("googleapi: %d %s (%s): %s", e.StatusCode, e.Status, e.Reason, e.Message)
	}
	return fmt.Sprintf("googleapi: %d %s: %s", e.StatusCode, e.Status, e.Message)
}
