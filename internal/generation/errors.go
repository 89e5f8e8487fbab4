package generation

import (
	"context"
	"errors"

	"github.com/webtoonlab/panelgen/internal/domain"
)

// Failure taxonomy for capability calls. Every error returned by a
// StoryGenerator or ImageGenerator wraps exactly one of these sentinels;
// the classification decides whether the retry policy re-attempts a stage
// or gives up immediately.
var (
	// ErrTransientFailure marks temporary conditions worth retrying:
	// timeouts, rate limits, and 5xx-class provider errors.
	ErrTransientFailure = errors.New("transient error calling generation provider")

	// ErrInvalidInput is returned when the provider rejects the request as
	// malformed. Retrying the same input cannot succeed.
	ErrInvalidInput = errors.New("generation provider rejected input")

	// ErrUnauthorized is returned on authentication or authorization
	// failures from the provider.
	ErrUnauthorized = errors.New("generation provider rejected credentials")

	// ErrContentBlocked is returned when the provider blocks the content
	// via safety filters.
	ErrContentBlocked = errors.New("content blocked by provider safety filters")

	// ErrInvalidResponse is returned when the provider response cannot be
	// parsed or is structurally malformed.
	ErrInvalidResponse = errors.New("invalid response from generation provider")
)

// IsRetryable reports whether err represents a transient condition the
// retry policy may re-attempt. Context deadline expiry counts as transient
// (the stage timeout fired); explicit cancellation does not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransientFailure) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

// Classify maps err onto the two-way failure classification recorded on
// stage records.
func Classify(err error) domain.FailureClass {
	if IsRetryable(err) {
		return domain.FailureClassRetryable
	}
	return domain.FailureClassFatal
}
