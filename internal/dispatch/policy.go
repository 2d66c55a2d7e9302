package dispatch

import (
	"fmt"
	"time"

	"github.com/jun/invoicescout/internal/extract"
	"github.com/jun/invoicescout/internal/retry"
)

// Decision is what to do after one attempt.
type Decision struct {
	Retry bool
	Delay time.Duration
	// Final is set when Retry is false.
	Final extract.Result
}

// Decide applies the retry policy to the outcome of the given 1-based
// attempt. Only retryable results are retried; a retryable result on the
// last attempt becomes a permanent RETRIES_EXHAUSTED failure. A delay
// requested by the service overrides the backoff, clamped to its maximum.
func Decide(res extract.Result, attempt, maxAttempts int, backoff retry.Backoff) Decision {
	if res.Kind != extract.KindRetryable {
		return Decision{Final: res}
	}
	if attempt >= maxAttempts {
		msg := fmt.Sprintf("gave up after %d attempts", attempt)
		if res.Failure != nil {
			msg += ": " + res.Failure.Error()
		}
		return Decision{Final: extract.Permanent(extract.ReasonRetriesExhausted, msg)}
	}
	delay := backoff.Delay(attempt)
	if res.Failure != nil && res.Failure.RetryAfter > 0 {
		delay = backoff.Cap(res.Failure.RetryAfter)
	}
	return Decision{Retry: true, Delay: delay}
}
