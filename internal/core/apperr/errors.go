// Package apperr defines the classified error kinds used across the pipeline.
//
// Every failure that the system knows how to reason about is an *Error tagged
// with a Kind. The retry policy for a kind (whether it may be retried, how many
// attempts it gets, and the status code reported to clients) lives in a single
// policy table instead of being spread over call sites.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind identifies a class of failure.
type Kind string

const (
	// Subscription and usage
	KindQuotaExceeded   Kind = "quota_exceeded"
	KindPaymentRequired Kind = "payment_required"

	// Transcription provider
	KindTranscription Kind = "transcription"
	KindRateLimit     Kind = "rate_limit"
	KindInvalidFile   Kind = "invalid_file"
	KindTimeout       Kind = "timeout"

	// Generation provider
	KindGeneration      Kind = "generation"
	KindSafetyFilter    Kind = "safety_filter"
	KindMalformedOutput Kind = "malformed_output"

	// Object storage
	KindUpload   Kind = "upload"
	KindDownload Kind = "download"

	// Persistence
	KindDatabase  Kind = "database"
	KindNotFound  Kind = "not_found"
	KindDuplicate Kind = "duplicate"

	// Client input outside the uploaded file
	KindInvalidRequest Kind = "invalid_request"

	// Access
	KindUnauthenticated  Kind = "unauthenticated"
	KindInvalidToken     Kind = "invalid_token"
	KindPermissionDenied Kind = "permission_denied"

	// Any other external service
	KindThirdParty Kind = "third_party"

	KindInternal Kind = "internal"
)

// Category groups kinds that the classifier treats alike.
type Category int

const (
	CategoryOther Category = iota
	CategoryRateLimit
	CategoryTimeout
	CategoryService
	CategoryStorage
)

// Policy is the declared retry behaviour of a kind.
type Policy struct {
	Retryable   bool
	MaxAttempts int
	StatusCode  int
	Category    Category
}

// DefaultMaxAttempts applies to retryable kinds that do not declare their own limit.
const DefaultMaxAttempts = 3

// DefaultRetryAfter is used for rate limits when the provider gave no hint.
const DefaultRetryAfter = 60 * time.Second

var policies = map[Kind]Policy{
	KindQuotaExceeded:   {Retryable: false, StatusCode: http.StatusTooManyRequests},
	KindPaymentRequired: {Retryable: false, StatusCode: http.StatusPaymentRequired},

	KindTranscription: {Retryable: true, MaxAttempts: DefaultMaxAttempts, StatusCode: http.StatusBadGateway, Category: CategoryService},
	KindRateLimit:     {Retryable: true, MaxAttempts: DefaultMaxAttempts, StatusCode: http.StatusServiceUnavailable, Category: CategoryRateLimit},
	KindInvalidFile:   {Retryable: false, StatusCode: http.StatusBadRequest},
	KindTimeout:       {Retryable: true, MaxAttempts: DefaultMaxAttempts, StatusCode: http.StatusGatewayTimeout, Category: CategoryTimeout},

	KindGeneration:      {Retryable: true, MaxAttempts: DefaultMaxAttempts, StatusCode: http.StatusBadGateway, Category: CategoryService},
	KindSafetyFilter:    {Retryable: false, StatusCode: http.StatusInternalServerError},
	KindMalformedOutput: {Retryable: true, MaxAttempts: 2, StatusCode: http.StatusBadGateway, Category: CategoryService},

	KindUpload:   {Retryable: true, MaxAttempts: 3, StatusCode: http.StatusBadGateway, Category: CategoryStorage},
	KindDownload: {Retryable: true, MaxAttempts: 3, StatusCode: http.StatusBadGateway, Category: CategoryStorage},

	KindDatabase:  {Retryable: true, MaxAttempts: DefaultMaxAttempts, StatusCode: http.StatusInternalServerError},
	KindNotFound:  {Retryable: false, StatusCode: http.StatusNotFound},
	KindDuplicate: {Retryable: false, StatusCode: http.StatusConflict},

	KindInvalidRequest: {Retryable: false, StatusCode: http.StatusBadRequest},

	KindUnauthenticated:  {Retryable: false, StatusCode: http.StatusUnauthorized},
	KindInvalidToken:     {Retryable: false, StatusCode: http.StatusUnauthorized},
	KindPermissionDenied: {Retryable: false, StatusCode: http.StatusForbidden},

	KindThirdParty: {Retryable: true, MaxAttempts: DefaultMaxAttempts, StatusCode: http.StatusBadGateway, Category: CategoryService},

	KindInternal: {Retryable: false, StatusCode: http.StatusInternalServerError},
}

// PolicyFor returns the declared policy of k. Unknown kinds are treated as
// non-retryable internal errors.
func PolicyFor(k Kind) Policy {
	if p, ok := policies[k]; ok {
		return p
	}
	return policies[KindInternal]
}

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Message string
	// RetryAfter is the provider's hint for rate limits; zero means no hint.
	RetryAfter time.Duration
	Details    map[string]any
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: KindNotFound})
// works on wrapped chains.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Policy returns the declared policy of the error's kind.
func (e *Error) Policy() Policy { return PolicyFor(e.Kind) }

// StatusCode returns the externally reported status for the error's kind.
func (e *Error) StatusCode() int { return e.Policy().StatusCode }

// New creates a classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies cause under kind. A nil cause yields nil.
func Wrap(kind Kind, cause error, message string) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: cause}
}

// RateLimited creates a rate-limit error carrying the provider's retry hint.
func RateLimited(message string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimit, Message: message, RetryAfter: retryAfter}
}

// WithDetails attaches structured details and returns the same error.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// As extracts the outermost *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or "" if err is not classified.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err's chain carries a classified error of kind k.
func IsKind(err error, k Kind) bool {
	return errors.Is(err, &Error{Kind: k})
}

// StatusCode returns the status code to report for err; unclassified errors map to 500.
func StatusCode(err error) int {
	if e, ok := As(err); ok {
		return e.StatusCode()
	}
	return http.StatusInternalServerError
}
