package auth

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"golang.org/x/oauth2"

	"github.com/jun/invoicescout/internal/logging"
	"github.com/jun/invoicescout/internal/model"
)

// LoopbackHost is the address the callback listener binds and the redirect
// URL names.
const LoopbackHost = "127.0.0.1"

// Phase is the state of an authorization attempt.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseListenerStarted
	PhaseAwaitingRedirect
	PhaseCodeReceived
	PhaseExchanged
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseListenerStarted:
		return "listener_started"
	case PhaseAwaitingRedirect:
		return "awaiting_redirect"
	case PhaseCodeReceived:
		return "code_received"
	case PhaseExchanged:
		return "exchanged"
	default:
		return "unknown"
	}
}

// TokenPersister receives the token set obtained by a successful flow.
type TokenPersister interface {
	Persist(ctx context.Context, ts model.TokenSet) error
}

// FlowOptions configures an AuthorizationFlow.
type FlowOptions struct {
	// Port is the loopback port to listen on. Zero picks a free port.
	Port         int
	CallbackPath string
	Timeout      time.Duration
	// OpenURL presents the authorization URL to the user. Defaults to
	// launching the system browser.
	OpenURL    func(url string) error
	HTTPClient *http.Client
	Logger     *slog.Logger
	Now        func() time.Time
}

// AuthorizationFlow runs the loopback redirect protocol once per Run call.
type AuthorizationFlow struct {
	oauth *oauth2.Config
	store TokenPersister
	opts  FlowOptions
	log   *slog.Logger

	mu    sync.Mutex
	phase Phase
	trail []Phase
}

// NewAuthorizationFlow creates a flow that persists its result into store.
func NewAuthorizationFlow(oauthConfig *oauth2.Config, store TokenPersister, opts FlowOptions) *AuthorizationFlow {
	if opts.CallbackPath == "" {
		opts.CallbackPath = "/oauth2callback"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.OpenURL == nil {
		opts.OpenURL = browser.OpenURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &AuthorizationFlow{
		oauth: oauthConfig,
		store: store,
		opts:  opts,
		log:   opts.Logger.With("component", "auth"),
	}
}

// Phase returns the current state of the flow.
func (f *AuthorizationFlow) Phase() Phase {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phase
}

// Trail returns every phase the last Run call entered, in order.
func (f *AuthorizationFlow) Trail() []Phase {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Phase(nil), f.trail...)
}

func (f *AuthorizationFlow) enter(p Phase) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phase = p
	f.trail = append(f.trail, p)
	f.log.Debug("authorization phase", "phase", p.String())
}

// callbackResult is what the redirect handler hands back to Run.
type callbackResult struct {
	code string
	err  error
}

// Run performs one authorization attempt: listen, send the user to the
// consent page, wait for the redirect, exchange the code and persist the
// tokens. The listener is closed before Run returns, whatever the outcome.
func (f *AuthorizationFlow) Run(ctx context.Context) (model.TokenSet, error) {
	f.mu.Lock()
	if f.phase != PhaseIdle {
		f.mu.Unlock()
		return model.TokenSet{}, errors.New("authorization already in progress")
	}
	f.trail = []Phase{PhaseIdle}
	f.mu.Unlock()
	defer f.enter(PhaseIdle)

	ln, err := net.Listen("tcp", net.JoinHostPort(LoopbackHost, strconv.Itoa(f.opts.Port)))
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return model.TokenSet{}, fmt.Errorf("%w: port %d: stop the process using it or set google.callback_port", ErrPortInUse, f.opts.Port)
		}
		return model.TokenSet{}, fmt.Errorf("start callback listener: %w", err)
	}
	f.enter(PhaseListenerStarted)

	port := ln.Addr().(*net.TCPAddr).Port
	oc := *f.oauth
	oc.RedirectURL = "http://" + net.JoinHostPort(LoopbackHost, strconv.Itoa(port)) + f.opts.CallbackPath

	issuer, err := newStateIssuer(f.opts.Timeout+time.Minute, f.opts.Now)
	if err != nil {
		_ = ln.Close()
		return model.TokenSet{}, err
	}
	stateValue, err := issuer.Issue()
	if err != nil {
		_ = ln.Close()
		return model.TokenSet{}, err
	}
	verifier := oauth2.GenerateVerifier()

	results := make(chan callbackResult, 1)
	srv := &http.Server{
		Handler:           f.router(issuer, results),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			f.log.Warn("callback listener stopped", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
		}
	}()

	authURL := oc.AuthCodeURL(stateValue,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.S256ChallengeOption(verifier),
	)
	f.enter(PhaseAwaitingRedirect)
	f.log.Info("waiting for authorization", "url", authURL, "timeout", f.opts.Timeout)
	if err := f.opts.OpenURL(authURL); err != nil {
		f.log.Warn("could not open browser; visit the url manually", "error", err)
	}

	timer := time.NewTimer(f.opts.Timeout)
	defer timer.Stop()

	var res callbackResult
	select {
	case <-ctx.Done():
		return model.TokenSet{}, ctx.Err()
	case <-timer.C:
		return model.TokenSet{}, fmt.Errorf("%w after %s", ErrAuthorizationTimeout, f.opts.Timeout)
	case res = <-results:
	}
	if res.err != nil {
		return model.TokenSet{}, res.err
	}
	f.enter(PhaseCodeReceived)

	exchangeCtx := context.WithValue(ctx, oauth2.HTTPClient, f.opts.HTTPClient)
	tok, err := oc.Exchange(exchangeCtx, res.code, oauth2.VerifierOption(verifier))
	if err != nil {
		return model.TokenSet{}, fmt.Errorf("exchange authorization code: %w", err)
	}
	if tok.RefreshToken == "" {
		return model.TokenSet{}, errors.New("no refresh token in response; revoke the app's access in your Google account and retry")
	}
	f.enter(PhaseExchanged)

	ts := model.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
	if err := f.store.Persist(ctx, ts); err != nil {
		return model.TokenSet{}, err
	}
	f.log.Info("authorization complete", "expiry", ts.Expiry)
	return ts, nil
}

func (f *AuthorizationFlow) router(issuer *stateIssuer, results chan<- callbackResult) http.Handler {
	var once sync.Once
	deliver := func(res callbackResult) bool {
		delivered := false
		once.Do(func() {
			results <- res
			delivered = true
		})
		return delivered
	}

	r := mux.NewRouter()
	r.HandleFunc("/favicon.ico", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.HandleFunc(f.opts.CallbackPath, func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		var res callbackResult
		switch {
		case q.Get("error") != "":
			res.err = fmt.Errorf("%w: %s", ErrAuthorizationDenied, q.Get("error"))
		default:
			if err := issuer.Verify(q.Get("state")); err != nil {
				res.err = err
			} else if q.Get("code") == "" {
				res.err = errors.New("callback did not include an authorization code")
			} else {
				res.code = q.Get("code")
			}
		}

		if !deliver(res) {
			renderPage(w, http.StatusGone, "Authorization already handled", "This authorization attempt has finished. You can close this window.")
			return
		}
		if res.err != nil {
			renderPage(w, http.StatusBadRequest, "Authorization failed", res.err.Error())
			return
		}
		renderPage(w, http.StatusOK, "Authorization complete", "invoicescout is now authorized. You can close this window and return to the terminal.")
	}).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
	return r
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body style="font-family: sans-serif; margin: 3em;"><h1>{{.Title}}</h1><p>{{.Message}}</p></body></html>
`))

func renderPage(w http.ResponseWriter, status int, title, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = pageTemplate.Execute(w, struct{ Title, Message string }{title, message})
}
