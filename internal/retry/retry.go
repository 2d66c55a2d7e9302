// Package retry holds the exponential backoff shared by the dispatcher, the
// extraction transport and the Google API adapters.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseDelay = time.Second
	DefaultMaxDelay  = 30 * time.Second
)

// Backoff computes doubling delays capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before the attempt after the given 1-based attempt:
// attempt 1 -> Base, 2 -> Base*2, 3 -> Base*4 and so on.
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		return 0
	}
	maxDelay := b.Max
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > maxDelay/2 {
			return maxDelay
		}
		delay *= 2
	}
	return b.Cap(delay)
}

// Cap clamps d into [0, Max].
func (b Backoff) Cap(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	maxDelay := b.Max
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	if d > maxDelay {
		return maxDelay
	}
	return d
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the real-time Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Policy retries an operation while its error is classified as transient.
type Policy struct {
	MaxAttempts int
	Backoff     Backoff
	Sleep       Sleeper
	// Retryable reports whether err warrants another attempt. Nil never retries.
	Retryable func(err error) bool
}

// Do runs fn until it succeeds, returns a non-retryable error, or the attempt
// ceiling is reached. It stops early once ctx is done; an error that merely
// wraps a deadline, such as an http.Client timeout, is left to Retryable.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := max(p.MaxAttempts, 1)
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if p.Retryable == nil || !p.Retryable(err) || attempt == attempts {
			break
		}
		delay := p.Backoff.Delay(attempt)
		if after, ok := RetryAfterOf(err); ok {
			delay = p.Backoff.Cap(after)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return serr
		}
	}
	if attempts > 1 && p.Retryable != nil && p.Retryable(err) {
		return fmt.Errorf("%s: failed after %d attempts: %w", op, attempts, err)
	}
	return err
}

// RetryAfterer is implemented by errors that carry a server-requested delay.
type RetryAfterer interface {
	RetryAfter() time.Duration
}

// RetryAfterOf extracts a positive server-requested delay from err.
func RetryAfterOf(err error) (time.Duration, bool) {
	var ra RetryAfterer
	if errors.As(err, &ra) && ra.RetryAfter() > 0 {
		return ra.RetryAfter(), true
	}
	return 0, false
}

// ParseRetryAfter parses a Retry-After header in seconds or HTTP-date form.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := when.Sub(now)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}

// IsRetryableStatus reports whether an HTTP status is worth retrying.
func IsRetryableStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= http.StatusInternalServerError
}
