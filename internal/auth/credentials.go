package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/jun/invoicescout/internal/crypto"
	"github.com/jun/invoicescout/internal/logging"
	"github.com/jun/invoicescout/internal/model"
	"github.com/jun/invoicescout/internal/state"
)

// CredentialOptions tunes a CredentialStore.
type CredentialOptions struct {
	// Margin is how long before expiry an access token is treated as stale.
	Margin time.Duration
	// HTTPClient is used for refresh exchanges and as the base transport of
	// authorized clients. Its Timeout bounds every API call.
	HTTPClient *http.Client
	// Encryptor protects the refresh token in the state file.
	Encryptor crypto.Encryptor
	Logger    *slog.Logger
	Now       func() time.Time
}

// CredentialStore owns the token set. It loads it from the state file,
// refreshes it when stale and writes every change back.
type CredentialStore struct {
	oauth      *oauth2.Config
	state      *state.Store
	enc        crypto.Encryptor
	margin     time.Duration
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	// mu serializes refresh exchanges. It is held for the whole
	// check-refresh-persist sequence.
	mu     sync.Mutex
	cached *model.TokenSet
}

// NewCredentialStore creates a CredentialStore backed by st.
func NewCredentialStore(oauthConfig *oauth2.Config, st *state.Store, opts CredentialOptions) *CredentialStore {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if opts.Encryptor == nil {
		opts.Encryptor = crypto.NewPassthrough()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &CredentialStore{
		oauth:      oauthConfig,
		state:      st,
		enc:        opts.Encryptor,
		margin:     opts.Margin,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger.With("component", "credentials"),
		now:        opts.Now,
	}
}

// GetValidToken returns a token set valid for at least the configured margin,
// refreshing it first when needed. A missing refresh token or a grant the
// provider rejects is reported as ErrReauthorizationRequired.
func (s *CredentialStore) GetValidToken(ctx context.Context) (model.TokenSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load(ctx)
	if err != nil {
		return model.TokenSet{}, err
	}
	if current.ValidFor(s.now(), s.margin) {
		return current, nil
	}
	if !current.HasRefreshToken() {
		return model.TokenSet{}, fmt.Errorf("%w: no refresh token stored", ErrReauthorizationRequired)
	}

	refreshed, err := s.refresh(ctx, current)
	if err != nil {
		return model.TokenSet{}, err
	}
	if err := s.persistLocked(ctx, refreshed); err != nil {
		return model.TokenSet{}, err
	}
	s.logger.Debug("access token refreshed", "expiry", refreshed.Expiry)
	return refreshed, nil
}

// Current returns the stored token set without refreshing it.
func (s *CredentialStore) Current(ctx context.Context) (model.TokenSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Persist replaces the stored token set.
func (s *CredentialStore) Persist(ctx context.Context, ts model.TokenSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked(ctx, ts)
}

// Reset deletes the stored credentials and leaves the run state intact.
func (s *CredentialStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.state.Update(func(f *state.File) error {
		f.TokenSet = model.TokenSet{}
		return nil
	})
	if err != nil {
		return fmt.Errorf("reset credentials: %w", err)
	}
	s.cached = nil
	return nil
}

// TokenSource adapts the store to oauth2.TokenSource.
func (s *CredentialStore) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &storeTokenSource{ctx: ctx, store: s}
}

// HTTPClient returns a client that authorizes every request with a valid
// access token and inherits the configured timeout.
func (s *CredentialStore) HTTPClient(ctx context.Context) *http.Client {
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: s.TokenSource(ctx),
			Base:   s.httpClient.Transport,
		},
		Timeout: s.httpClient.Timeout,
	}
}

func (s *CredentialStore) load(ctx context.Context) (model.TokenSet, error) {
	if s.cached != nil {
		return *s.cached, nil
	}
	f, err := s.state.Load()
	if err != nil {
		return model.TokenSet{}, err
	}
	ts := f.TokenSet
	if ts.RefreshToken != "" {
		plain, err := s.enc.Decrypt(ctx, ts.RefreshToken)
		if err != nil {
			return model.TokenSet{}, fmt.Errorf("decrypt refresh token: %w", err)
		}
		ts.RefreshToken = plain
	}
	s.cached = &ts
	return ts, nil
}

func (s *CredentialStore) refresh(ctx context.Context, current model.TokenSet) (model.TokenSet, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	src := s.oauth.TokenSource(ctx, &oauth2.Token{
		RefreshToken: current.RefreshToken,
		Expiry:       s.now().Add(-time.Hour),
	})
	tok, err := src.Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return model.TokenSet{}, fmt.Errorf("%w: refresh rejected: %v", ErrReauthorizationRequired, err)
		}
		return model.TokenSet{}, fmt.Errorf("refresh access token: %w", err)
	}

	next := model.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}
	return next, nil
}

func (s *CredentialStore) persistLocked(ctx context.Context, ts model.TokenSet) error {
	stored := ts
	if stored.RefreshToken != "" {
		encrypted, err := s.enc.Encrypt(ctx, stored.RefreshToken)
		if err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
		stored.RefreshToken = encrypted
	}
	_, err := s.state.Update(func(f *state.File) error {
		f.TokenSet = stored
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist token set: %w", err)
	}
	s.cached = &ts
	return nil
}

type storeTokenSource struct {
	ctx   context.Context
	store *CredentialStore
}

func (t *storeTokenSource) Token() (*oauth2.Token, error) {
	ts, err := t.store.GetValidToken(t.ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken:  ts.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: ts.RefreshToken,
		Expiry:       ts.Expiry,
	}, nil
}
