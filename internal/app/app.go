// Package app wires configuration, credentials and stores into the commands
// the CLI runs.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"golang.org/x/oauth2"

	"github.com/jun/invoicescout/internal/adapter"
	"github.com/jun/invoicescout/internal/adapter/dynamo"
	"github.com/jun/invoicescout/internal/adapter/googledrive"
	"github.com/jun/invoicescout/internal/adapter/googlesheets"
	"github.com/jun/invoicescout/internal/auth"
	"github.com/jun/invoicescout/internal/config"
	"github.com/jun/invoicescout/internal/crypto"
	"github.com/jun/invoicescout/internal/extract"
	"github.com/jun/invoicescout/internal/logging"
	"github.com/jun/invoicescout/internal/runlock"
	"github.com/jun/invoicescout/internal/secret"
	"github.com/jun/invoicescout/internal/state"
)

// App holds the dependencies of one CLI invocation. Remote clients are built
// on first use so commands that never touch them need no credentials.
type App struct {
	Config *config.Config
	Logger *slog.Logger
	State  *state.Store

	awsOnce sync.Once
	awsCfg  aws.Config
	awsErr  error

	oauth       *oauth2.Config
	credentials *auth.CredentialStore
	encryptor   crypto.Encryptor
}

// New loads the persisted selections into cfg and prepares the state store.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	st := state.NewStore(cfg.State.Path)
	f, err := st.Load()
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	cfg.ApplyRunState(f.RunState)
	return &App{Config: cfg, Logger: logger, State: st}, nil
}

func (a *App) awsConfig(ctx context.Context) (aws.Config, error) {
	a.awsOnce.Do(func() {
		a.awsCfg, a.awsErr = awsconfig.LoadDefaultConfig(ctx)
		if a.awsErr != nil {
			a.awsErr = fmt.Errorf("load AWS config: %w", a.awsErr)
		}
	})
	return a.awsCfg, a.awsErr
}

// Encryptor returns the refresh token encryptor selected in config.
func (a *App) Encryptor(ctx context.Context) (crypto.Encryptor, error) {
	if a.encryptor != nil {
		return a.encryptor, nil
	}
	switch a.Config.Security.TokenEncryption {
	case config.EncryptionKMS:
		awsCfg, err := a.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		a.encryptor = crypto.NewKMSService(kms.NewFromConfig(awsCfg), a.Config.Security.KMSKeyID)
	default:
		a.encryptor = crypto.NewPassthrough()
	}
	return a.encryptor, nil
}

// OAuthConfig returns the Google client configuration.
func (a *App) OAuthConfig() (*oauth2.Config, error) {
	if a.oauth == nil {
		oc, err := a.Config.OAuthConfig()
		if err != nil {
			return nil, err
		}
		a.oauth = oc
	}
	return a.oauth, nil
}

func (a *App) requestClient() *http.Client {
	return &http.Client{Timeout: a.Config.RequestTimeout()}
}

// Credentials returns the CredentialStore over the state file.
func (a *App) Credentials(ctx context.Context) (*auth.CredentialStore, error) {
	if a.credentials != nil {
		return a.credentials, nil
	}
	oc, err := a.OAuthConfig()
	if err != nil {
		return nil, err
	}
	enc, err := a.Encryptor(ctx)
	if err != nil {
		return nil, err
	}
	a.credentials = auth.NewCredentialStore(oc, a.State, auth.CredentialOptions{
		Margin:     a.Config.RefreshMargin(),
		HTTPClient: a.requestClient(),
		Encryptor:  enc,
		Logger:     a.Logger,
	})
	return a.credentials, nil
}

// AuthorizationFlow returns a flow that persists through the CredentialStore.
func (a *App) AuthorizationFlow(ctx context.Context) (*auth.AuthorizationFlow, error) {
	creds, err := a.Credentials(ctx)
	if err != nil {
		return nil, err
	}
	oc, err := a.OAuthConfig()
	if err != nil {
		return nil, err
	}
	return auth.NewAuthorizationFlow(oc, creds, auth.FlowOptions{
		Port:         a.Config.Google.CallbackPort,
		CallbackPath: a.Config.Google.CallbackPath,
		Timeout:      a.Config.CallbackTimeout(),
		HTTPClient:   a.requestClient(),
		Logger:       a.Logger,
	}), nil
}

// GoogleClient returns an HTTP client authorized with the stored token.
// It fails with auth.ErrReauthorizationRequired when no usable token exists.
func (a *App) GoogleClient(ctx context.Context) (*http.Client, error) {
	creds, err := a.Credentials(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := creds.GetValidToken(ctx); err != nil {
		return nil, err
	}
	return creds.HTTPClient(ctx), nil
}

// DocumentStore returns the Drive adapter.
func (a *App) DocumentStore(ctx context.Context) (*googledrive.DriveAdapter, error) {
	client, err := a.GoogleClient(ctx)
	if err != nil {
		return nil, err
	}
	return googledrive.NewDriveAdapter(ctx, client)
}

// SpreadsheetStore returns the Sheets adapter for spreadsheetID.
func (a *App) SpreadsheetStore(ctx context.Context, spreadsheetID string) (*googlesheets.SheetsAdapter, error) {
	client, err := a.GoogleClient(ctx)
	if err != nil {
		return nil, err
	}
	return googlesheets.NewSheetsAdapter(ctx, client, spreadsheetID)
}

// ResultStore returns the configured result backend.
func (a *App) ResultStore(ctx context.Context) (adapter.ResultStore, error) {
	switch a.Config.Results.Backend {
	case config.BackendDynamoDB:
		client, err := a.dynamoClient(ctx)
		if err != nil {
			return nil, err
		}
		return dynamo.NewStore(client, a.Config.Results.DynamoDBTable), nil
	default:
		return a.SpreadsheetStore(ctx, a.Config.Results.SpreadsheetID)
	}
}

func (a *App) dynamoClient(ctx context.Context) (*dynamodb.Client, error) {
	awsCfg, err := a.awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	return dynamodb.NewFromConfig(awsCfg), nil
}

// RunLocker returns the lease store guarding scans. Only the shared
// DynamoDB backend needs one; other backends return nil.
func (a *App) RunLocker(ctx context.Context) (runlock.Locker, error) {
	if a.Config.Results.Backend != config.BackendDynamoDB {
		return nil, nil
	}
	client, err := a.dynamoClient(ctx)
	if err != nil {
		return nil, err
	}
	return runlock.NewDynamoLocker(client, a.Config.Results.DynamoDBTable), nil
}

// APIKey resolves the extraction service key: the configured value first,
// then the named parameter through the environment or SSM.
func (a *App) APIKey(ctx context.Context) (string, error) {
	if a.Config.Extraction.APIKey != "" {
		return a.Config.Extraction.APIKey, nil
	}
	name := a.Config.Extraction.APIKeyParam
	if name == "" {
		return "", fmt.Errorf("OPENROUTER_API_KEY: %w", config.ErrMissingConfiguration)
	}
	router := secret.Router{Env: secret.NewEnvResolver()}
	if secret.IsSSMName(name) {
		awsCfg, err := a.awsConfig(ctx)
		if err != nil {
			return "", err
		}
		router.SSM = secret.NewSSMResolver(ssm.NewFromConfig(awsCfg))
	}
	key, err := router.GetSecret(ctx, name)
	if err != nil {
		return "", fmt.Errorf("resolve extraction api key: %w", err)
	}
	return key, nil
}

// Extractor builds the extraction client that fetches through fetcher.
func (a *App) Extractor(ctx context.Context, fetcher extract.Fetcher) (*extract.Client, error) {
	key, err := a.APIKey(ctx)
	if err != nil {
		return nil, err
	}
	ex := a.Config.Extraction
	return extract.New(ctx, fetcher, extract.Options{
		Service: extract.Config{
			BaseURL: ex.BaseURL,
			APIKey:  key,
			Model:   ex.Model,
			Referer: ex.Referer,
			Title:   ex.Title,
			Timeout: a.Config.ExtractionTimeout(),
		},
		Logger: a.Logger,
	})
}

// Orchestrator wires a full sync against the configured stores.
func (a *App) Orchestrator(ctx context.Context) (*Orchestrator, error) {
	if err := a.Config.ValidateForSync(); err != nil {
		return nil, err
	}
	creds, err := a.Credentials(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := a.DocumentStore(ctx)
	if err != nil {
		return nil, err
	}
	resultStore, err := a.ResultStore(ctx)
	if err != nil {
		return nil, err
	}
	extractor, err := a.Extractor(ctx, docs)
	if err != nil {
		return nil, err
	}
	locker, err := a.RunLocker(ctx)
	if err != nil {
		return nil, err
	}
	return NewOrchestrator(docs, resultStore, extractor, a.State, OrchestratorOptions{
		RootFolderID: a.Config.Drive.RootFolderID,
		SheetPrefix:  a.Config.Results.SheetPrefix,
		MIMETypes:    a.Config.Drive.MIMETypes,
		PageSize:     a.Config.Results.PageSize,
		Concurrency:  a.Config.Extraction.Concurrency,
		MaxAttempts:  a.Config.Extraction.MaxAttempts,
		Tokens:       creds,
		Lock:         locker,
		Logger:       a.Logger,
	}), nil
}
