// Package extract turns one document into an ExtractedRecord using the
// OpenRouter chat completion API.
//
// Outcomes are values, never errors: every call yields a tagged Result, so
// retry decisions can be made on the tag alone. A fatal result means the run
// itself cannot continue, such as a rejected token refresh.
package extract

import (
	"fmt"
	"time"

	"github.com/jun/invoicescout/internal/model"
)

// Kind tags an extraction outcome.
type Kind int

const (
	KindSuccess Kind = iota
	KindRetryable
	KindPermanent
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindRetryable:
		return "retryable"
	case KindPermanent:
		return "permanent"
	case KindFatal:
		return "fatal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Reason classifies a failure.
type Reason string

const (
	ReasonParseError         Reason = "PARSE_ERROR"
	ReasonInvalidRecord      Reason = "INVALID_RECORD"
	ReasonUnsupportedContent Reason = "UNSUPPORTED_CONTENT"
	ReasonFetchError         Reason = "FETCH_ERROR"
	ReasonServiceError       Reason = "SERVICE_ERROR"
	ReasonRateLimited        Reason = "RATE_LIMITED"
	ReasonTimeout            Reason = "TIMEOUT"
	ReasonServerError        Reason = "SERVER_ERROR"
	ReasonRetriesExhausted   Reason = "RETRIES_EXHAUSTED"
	ReasonReauthorization    Reason = "REAUTHORIZATION_REQUIRED"
)

// Failure describes why a document produced no record.
type Failure struct {
	Reason  Reason
	Message string
	// RetryAfter is the delay the service asked for, if any.
	RetryAfter time.Duration
	// Cause is kept for fatal failures so callers can match sentinels.
	Cause error
}

func (f *Failure) Error() string {
	if f.Message == "" {
		return string(f.Reason)
	}
	return string(f.Reason) + ": " + f.Message
}

func (f *Failure) Unwrap() error {
	return f.Cause
}

// Result is the outcome of one extraction attempt.
type Result struct {
	Kind    Kind
	Record  model.ExtractedRecord
	Failure *Failure
}

// Success wraps a record.
func Success(rec model.ExtractedRecord) Result {
	return Result{Kind: KindSuccess, Record: rec}
}

// Retryable reports a transient failure.
func Retryable(reason Reason, message string, retryAfter time.Duration) Result {
	return Result{Kind: KindRetryable, Failure: &Failure{Reason: reason, Message: message, RetryAfter: retryAfter}}
}

// Permanent reports a failure that retrying cannot fix.
func Permanent(reason Reason, message string) Result {
	return Result{Kind: KindPermanent, Failure: &Failure{Reason: reason, Message: message}}
}

// Fatal reports a failure that invalidates every later call of the run.
func Fatal(reason Reason, cause error) Result {
	return Result{Kind: KindFatal, Failure: &Failure{Reason: reason, Message: cause.Error(), Cause: cause}}
}

// IsFatal reports whether the run must stop.
func (r Result) IsFatal() bool {
	return r.Kind == KindFatal
}

// OK reports whether the result carries a record.
func (r Result) OK() bool {
	return r.Kind == KindSuccess
}
