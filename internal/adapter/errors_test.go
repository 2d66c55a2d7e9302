package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"syscall"
	"testing"

	"google.golang.org/api/googleapi"

	"github.com/jun/invoicescout/internal/auth"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestGoogleError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		want      error
	}{
		{"client timeout", &url.Error{Op: "Get", URL: "https://x", Err: timeoutErr{}}, true, nil},
		{"unexpected eof", fmt.Errorf("read body: %w", io.ErrUnexpectedEOF), true, nil},
		{"connection reset", &url.Error{Op: "Get", URL: "https://x", Err: syscall.ECONNRESET}, true, nil},
		{"server error", &googleapi.Error{Code: http.StatusBadGateway}, true, nil},
		{"not found", &googleapi.Error{Code: http.StatusNotFound}, false, ErrNotFound},
		{"refresh rejected", &url.Error{Op: "Get", URL: "https://x", Err: fmt.Errorf("refresh: %w", auth.ErrReauthorizationRequired)}, false, auth.ErrReauthorizationRequired},
		{"cancelled", &url.Error{Op: "Get", URL: "https://x", Err: context.Canceled}, false, context.Canceled},
		{"other", errors.New("boom"), false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := GoogleError("op", tt.err)
			if got := IsTransient(err); got != tt.transient {
				t.Errorf("IsTransient(%v) = %v, want %v", err, got, tt.transient)
			}
			if !errors.Is(err, tt.err) {
				t.Errorf("Expected %v to keep the original error in its chain", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("Expected %v in chain of %v", tt.want, err)
			}
		})
	}
	if GoogleError("op", nil) != nil {
		t.Error("Expected nil for a nil error")
	}
}
