package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/vietddude/noteably/internal/core/apperr"
)

// Action determines how to handle an error.
type Action int

const (
	ActionRetry Action = iota
	ActionFail
)

func (a Action) String() string {
	if a == ActionRetry {
		return "retry"
	}
	return "fail"
}

// UnknownErrorDelay is the fixed wait before the single retry granted to
// unrecognized errors.
const UnknownErrorDelay = 5 * time.Second

// Decision is the classifier's verdict for one failed call.
type Decision struct {
	Action      Action
	Delay       time.Duration
	Message     string
	Retryable   bool
	MaxAttempts int // total attempts allowed, including the first
	StatusCode  int
}

// Classify maps err to a Decision. attempt is the zero-indexed attempt that
// just failed and feeds the backoff for delay-based rules.
func Classify(err error, attempt int, backoff Backoff) Decision {
	if errors.Is(err, context.Canceled) {
		return Decision{
			Action:     ActionFail,
			Message:    "operation cancelled",
			StatusCode: http.StatusInternalServerError,
		}
	}

	ae, classified := apperr.As(err)
	var policy apperr.Policy
	if classified {
		policy = ae.Policy()
	}

	if classified && policy.Category == apperr.CategoryRateLimit {
		delay := ae.RetryAfter
		if delay <= 0 {
			delay = apperr.DefaultRetryAfter
		}
		return Decision{
			Action:      ActionRetry,
			Delay:       delay,
			Message:     "API rate limit exceeded",
			Retryable:   true,
			MaxAttempts: attemptsOf(policy),
		}
	}

	if isTimeout(err) || (classified && policy.Category == apperr.CategoryTimeout) {
		return Decision{
			Action:      ActionRetry,
			Delay:       backoff.Delay(attempt),
			Message:     "operation timed out",
			Retryable:   true,
			MaxAttempts: apperr.DefaultMaxAttempts,
		}
	}

	if classified && policy.Category == apperr.CategoryService {
		return Decision{
			Action:      ActionRetry,
			Delay:       backoff.Delay(attempt),
			Message:     ae.Message,
			Retryable:   true,
			MaxAttempts: attemptsOf(policy),
		}
	}

	if classified && policy.Category == apperr.CategoryStorage {
		return Decision{
			Action:      ActionRetry,
			Delay:       backoff.Delay(attempt),
			Message:     ae.Message,
			Retryable:   true,
			MaxAttempts: 3,
		}
	}

	if classified && !policy.Retryable {
		return Decision{
			Action:     ActionFail,
			Message:    ae.Message,
			StatusCode: policy.StatusCode,
		}
	}

	if classified {
		// Declared retryable without a dedicated rule (e.g. transient database errors).
		return Decision{
			Action:      ActionRetry,
			Delay:       backoff.Delay(attempt),
			Message:     ae.Message,
			Retryable:   true,
			MaxAttempts: attemptsOf(policy),
		}
	}

	return Decision{
		Action:      ActionRetry,
		Delay:       UnknownErrorDelay,
		Message:     "an unexpected error occurred",
		Retryable:   true,
		MaxAttempts: 2,
	}
}

func attemptsOf(p apperr.Policy) int {
	if p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return apperr.DefaultMaxAttempts
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
