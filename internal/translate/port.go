// Package translate defines the translation-service port (C4): the boundary
// between the pipeline and whatever concrete backend performs the actual
// language translation. The capability-set shape (a required single-line
// method, an optional batch method discovered at runtime) mirrors the
// original media pipeline's Provider/ModelProvider split in pkg/llms.
package translate

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Translator is the capability every backend must implement.
type Translator interface {
	Name() string
	TranslateLine(ctx context.Context, text, srcLang, tgtLang string) (string, error)
}

// BatchTranslator is an optional capability, queried for with a type
// assertion rather than modeled as a separate constructor argument — the
// same capability-discovery idiom used here instead of an
// inheritance tree of backend types.
//
// contextBefore/contextAfter are extra lines the caller supplies purely as
// context for the backend — neither translated themselves nor counted in
// the returned slice, whose length always equals len(lines).
type BatchTranslator interface {
	Translator
	TranslateBatch(ctx context.Context, lines, contextBefore, contextAfter []string, srcLang, tgtLang string) ([]string, error)
}

// ErrorKind closes the error taxonomy callers switch on.
type ErrorKind int

const (
	KindRateLimited ErrorKind = iota
	KindInvalidResponse
	KindServiceFailure
	KindNonRetryable
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindInvalidResponse:
		return "invalid_response"
	case KindServiceFailure:
		return "service_failure"
	case KindNonRetryable:
		return "non_retryable"
	default:
		return "unknown"
	}
}

// Error wraps a backend failure with its taxonomy kind, following the same
// typed-error-carrying-behavior shape the original pipeline used for its own
// ProcessingError (kind instead of log Behavior).
type Error struct {
	Kind       ErrorKind
	RetryAfter time.Duration // only meaningful for KindRateLimited
	Err        error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("translate: %s", e.Kind)
	}
	return fmt.Sprintf("translate: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func RateLimited(retryAfter time.Duration, err error) *Error {
	return &Error{Kind: KindRateLimited, RetryAfter: retryAfter, Err: err}
}

func InvalidResponse(err error) *Error { return &Error{Kind: KindInvalidResponse, Err: err} }

func ServiceFailure(err error) *Error { return &Error{Kind: KindServiceFailure, Err: err} }

func NonRetryable(err error) *Error { return &Error{Kind: KindNonRetryable, Err: err} }

// IsRetryable reports whether a backend error should be retried by the
// caller's backoff loop (job runner per-line path or batch translator).
func IsRetryable(err error) bool {
	var te *Error
	if !errors.As(err, &te) {
		return false
	}
	return te.Kind == KindRateLimited || te.Kind == KindServiceFailure
}
