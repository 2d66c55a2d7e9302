package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"google.golang.org/api/googleapi"

	"github.com/jun/invoicescout/internal/auth"
	"github.com/jun/invoicescout/internal/retry"
)

var (
	// ErrNotFound is returned when a requested resource is not found.
	ErrNotFound = errors.New("resource not found")

	// ErrPermissionDenied is returned when the account cannot read a resource.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrAlreadyExists is returned by conditional writes that found an existing item.
	ErrAlreadyExists = errors.New("already exists")

	// ErrTransient marks rate limiting, timeouts and server-side failures.
	ErrTransient = errors.New("transient store error")
)

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

var rateLimitReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"backendError":          true,
}

// GoogleError maps a Google API error onto the adapter sentinels.
func GoogleError(op string, err error) error {
	if err == nil {
		return nil
	}
	var gErr *googleapi.Error
	if !errors.As(err, &gErr) {
		if transportTransient(err) {
			return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	switch {
	case gErr.Code == http.StatusNotFound:
		return fmt.Errorf("%s: %w: %v", op, ErrNotFound, err)
	case gErr.Code == http.StatusForbidden && hasReason(gErr, rateLimitReasons):
		return fmt.Errorf("%s: %w: %v", op, ErrTransient, err)
	case gErr.Code == http.StatusForbidden || gErr.Code == http.StatusUnauthorized:
		return fmt.Errorf("%s: %w: %v", op, ErrPermissionDenied, err)
	case retry.IsRetryableStatus(gErr.Code):
		return fmt.Errorf("%s: %w: %v", op, ErrTransient, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// transportTransient reports network failures below the API layer: client
// timeouts, dropped connections and truncated bodies. A rejected token
// refresh and caller cancellation are never transient.
func transportTransient(err error) bool {
	if errors.Is(err, auth.ErrReauthorizationRequired) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func hasReason(gErr *googleapi.Error, reasons map[string]bool) bool {
	for _, item := range gErr.Errors {
		if reasons[item.Reason] {
			return true
		}
	}
	return false
}
