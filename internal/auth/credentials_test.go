package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/jun/invoicescout/internal/model"
	"github.com/jun/invoicescout/internal/state"
)

// tokenServer is an instrumented OAuth token endpoint.
type tokenServer struct {
	*httptest.Server
	calls    atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
	status   int
	body     string
}

func newTokenServer(t *testing.T, status int, body string) *tokenServer {
	t.Helper()
	ts := &tokenServer{status: status, body: body}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.calls.Add(1)
		n := ts.inFlight.Add(1)
		defer ts.inFlight.Add(-1)
		for {
			seen := ts.maxSeen.Load()
			if n <= seen || ts.maxSeen.CompareAndSwap(seen, n) {
				break
			}
		}
		if ts.delay > 0 {
			time.Sleep(ts.delay)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(ts.status)
		_, _ = w.Write([]byte(ts.body))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func testOAuthConfig(tokenURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://accounts.example.com/auth",
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// prefixEncryptor marks values so tests can see what reached the state file.
type prefixEncryptor struct{}

func (prefixEncryptor) Encrypt(_ context.Context, s string) (string, error) { return "enc:" + s, nil }

func (prefixEncryptor) Decrypt(_ context.Context, s string) (string, error) {
	if !strings.HasPrefix(s, "enc:") {
		return "", errors.New("not encrypted")
	}
	return strings.TrimPrefix(s, "enc:"), nil
}

func newTestCredentialStore(t *testing.T, tokenURL string, seed model.TokenSet) (*CredentialStore, *state.Store) {
	t.Helper()
	st := state.NewStore(filepath.Join(t.TempDir(), "state.json"))
	cs := NewCredentialStore(testOAuthConfig(tokenURL), st, CredentialOptions{
		Margin:    time.Minute,
		Encryptor: prefixEncryptor{},
	})
	if seed != (model.TokenSet{}) {
		if err := cs.Persist(context.Background(), seed); err != nil {
			t.Fatalf("Persist failed: %v", err)
		}
		cs.cached = nil
	}
	return cs, st
}

const refreshedBody = `{"access_token":"new-access","token_type":"Bearer","expires_in":3600}`

func TestGetValidToken_FreshTokenIsNotRefreshed(t *testing.T) {
	srv := newTokenServer(t, http.StatusOK, refreshedBody)
	cs, _ := newTestCredentialStore(t, srv.URL, model.TokenSet{
		AccessToken:  "access",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(time.Hour),
	})

	got, err := cs.GetValidToken(context.Background())
	if err != nil {
		t.Fatalf("GetValidToken failed: %v", err)
	}
	if got.AccessToken != "access" {
		t.Errorf("Expected cached access token, got %q", got.AccessToken)
	}
	if srv.calls.Load() != 0 {
		t.Errorf("Expected no refresh calls, got %d", srv.calls.Load())
	}
}

func TestGetValidToken_RefreshesWithinMargin(t *testing.T) {
	srv := newTokenServer(t, http.StatusOK, refreshedBody)
	cs, st := newTestCredentialStore(t, srv.URL, model.TokenSet{
		AccessToken:  "old-access",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(30 * time.Second),
	})

	got, err := cs.GetValidToken(context.Background())
	if err != nil {
		t.Fatalf("GetValidToken failed: %v", err)
	}
	if got.AccessToken != "new-access" {
		t.Errorf("Expected refreshed access token, got %q", got.AccessToken)
	}
	if !got.Expiry.After(time.Now().Add(time.Minute)) {
		t.Errorf("Expected expiry beyond the margin, got %v", got.Expiry)
	}
	if got.RefreshToken != "refresh" {
		t.Errorf("Expected refresh token to be kept, got %q", got.RefreshToken)
	}

	f, err := st.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if f.AccessToken != "new-access" || f.RefreshToken != "enc:refresh" {
		t.Errorf("Unexpected persisted tokens: %+v", f.TokenSet)
	}
}

func TestGetValidToken_ConcurrentCallersRefreshOnce(t *testing.T) {
	srv := newTokenServer(t, http.StatusOK, refreshedBody)
	srv.delay = 50 * time.Millisecond
	cs, _ := newTestCredentialStore(t, srv.URL, model.TokenSet{
		AccessToken:  "expired",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(-time.Minute),
	})

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cs.GetValidToken(context.Background()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("GetValidToken failed: %v", err)
	}

	if srv.maxSeen.Load() != 1 {
		t.Errorf("Expected at most 1 concurrent refresh, saw %d", srv.maxSeen.Load())
	}
	if srv.calls.Load() != 1 {
		t.Errorf("Expected exactly 1 refresh exchange, got %d", srv.calls.Load())
	}
}

func TestGetValidToken_ReauthorizationRequired(t *testing.T) {
	tests := []struct {
		name   string
		seed   model.TokenSet
		status int
		body   string
	}{
		{
			name: "no tokens stored",
		},
		{
			name: "no refresh token",
			seed: model.TokenSet{AccessToken: "a", Expiry: time.Now().Add(-time.Hour)},
		},
		{
			name:   "revoked grant",
			seed:   model.TokenSet{AccessToken: "a", RefreshToken: "revoked", Expiry: time.Now().Add(-time.Hour)},
			status: http.StatusBadRequest,
			body:   `{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := tt.status
			if status == 0 {
				status = http.StatusOK
			}
			srv := newTokenServer(t, status, tt.body)
			cs, _ := newTestCredentialStore(t, srv.URL, tt.seed)

			_, err := cs.GetValidToken(context.Background())
			if !errors.Is(err, ErrReauthorizationRequired) {
				t.Errorf("Expected ErrReauthorizationRequired, got %v", err)
			}
		})
	}
}

func TestReset_KeepsRunState(t *testing.T) {
	cs, st := newTestCredentialStore(t, "http://unused", model.TokenSet{
		AccessToken:  "a",
		RefreshToken: "r",
		Expiry:       time.Now().Add(time.Hour),
	})
	if _, err := st.Update(func(f *state.File) error {
		f.SelectedRoot = "folder-1"
		return nil
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if err := cs.Reset(context.Background()); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	f, err := st.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if f.TokenSet != (model.TokenSet{}) {
		t.Errorf("Expected empty token set, got %+v", f.TokenSet)
	}
	if f.SelectedRoot != "folder-1" {
		t.Errorf("Expected run state to survive, got %q", f.SelectedRoot)
	}
	if _, err := cs.GetValidToken(context.Background()); !errors.Is(err, ErrReauthorizationRequired) {
		t.Errorf("Expected ErrReauthorizationRequired after reset, got %v", err)
	}
}

func TestHTTPClient_AuthorizesRequests(t *testing.T) {
	var gotAuth string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer api.Close()

	cs, _ := newTestCredentialStore(t, "http://unused", model.TokenSet{
		AccessToken:  "access",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(time.Hour),
	})

	resp, err := cs.HTTPClient(context.Background()).Get(api.URL)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	resp.Body.Close()
	if gotAuth != "Bearer access" {
		t.Errorf("Expected bearer header, got %q", gotAuth)
	}
}
