// Package config loads invoicescout settings from a TOML file and the
// environment.
//
// Values are layered: built-in defaults, then the TOML file (optional), then
// environment variables. The selected Drive folder and spreadsheet chosen with
// `invoicescout setup` live in the state file and take precedence over the
// values here; see ApplyRunState.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/jun/invoicescout/internal/model"
)

// ErrMissingConfiguration marks configuration that must be present before a run.
var ErrMissingConfiguration = errors.New("missing required configuration")

// Google holds OAuth client and callback listener settings.
type Google struct {
	CredentialsPath           string `toml:"credentials_path"`
	CallbackPort              int    `toml:"callback_port"`
	CallbackPath              string `toml:"callback_path"`
	CallbackTimeoutSeconds    int    `toml:"callback_timeout_seconds"`
	TokenRefreshMarginSeconds int    `toml:"token_refresh_margin_seconds"`
	RequestTimeoutSeconds     int    `toml:"request_timeout_seconds"`
}

// Drive selects which documents are scanned.
type Drive struct {
	RootFolderID string   `toml:"root_folder_id"`
	MIMETypes    []string `toml:"mime_types"`
}

// Results configures the tabular result store.
type Results struct {
	Backend       string `toml:"backend"`
	SpreadsheetID string `toml:"spreadsheet_id"`
	SheetPrefix   string `toml:"sheet_prefix"`
	DynamoDBTable string `toml:"dynamodb_table"`
	PageSize      int    `toml:"page_size"`
}

// Extraction configures the extraction service client and dispatcher.
type Extraction struct {
	APIKey         string `toml:"api_key"`
	APIKeyParam    string `toml:"api_key_param"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxAttempts    int    `toml:"max_attempts"`
	Concurrency    int    `toml:"concurrency"`
}

// Security configures refresh token encryption at rest.
type Security struct {
	TokenEncryption string `toml:"token_encryption"`
	KMSKeyID        string `toml:"kms_key_id"`
}

// State locates the local state file.
type State struct {
	Path string `toml:"path"`
}

// Logging contains configuration for log output.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config encapsulates all configuration values.
type Config struct {
	Google     Google     `toml:"google"`
	Drive      Drive      `toml:"drive"`
	Results    Results    `toml:"results"`
	Extraction Extraction `toml:"extraction"`
	Security   Security   `toml:"security"`
	State      State      `toml:"state"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/invoicescout/config.toml")
}

// Load reads the configuration at path (or the default location when empty),
// applies environment overrides and normalizes the result. A missing file is
// only an error when the path was given explicitly.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		p, err := DefaultConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	resolved, err := expandPath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(resolved)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", resolved, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config %s: %w", resolved, err)
	}

	cfg.applyEnv(os.LookupEnv)
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&c.Extraction.APIKey, "OPENROUTER_API_KEY")
	set(&c.Google.CredentialsPath, "GOOGLE_CREDENTIALS_PATH")
	set(&c.State.Path, "INVOICESCOUT_STATE_PATH")
	set(&c.Logging.Level, "INVOICESCOUT_LOG_LEVEL")
	set(&c.Drive.RootFolderID, "DRIVE_FOLDER_ID")
	set(&c.Results.SpreadsheetID, "SPREADSHEET_ID")
	set(&c.Results.SheetPrefix, "SHEET_NAME")
	if v, ok := lookup("INVOICESCOUT_CALLBACK_PORT"); ok {
		if port, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			c.Google.CallbackPort = port
		}
	}
}

// ApplyRunState overlays the selections persisted by setup.
func (c *Config) ApplyRunState(rs model.RunState) {
	if rs.SelectedRoot != "" {
		c.Drive.RootFolderID = rs.SelectedRoot
	}
	if rs.SelectedResultStore != "" {
		c.Results.SpreadsheetID = rs.SelectedResultStore
	}
	if rs.SheetPrefix != "" {
		c.Results.SheetPrefix = rs.SheetPrefix
	}
}

// CallbackTimeout returns how long the authorization listener waits for the redirect.
func (c *Config) CallbackTimeout() time.Duration {
	return time.Duration(c.Google.CallbackTimeoutSeconds) * time.Second
}

// RefreshMargin returns the safety margin before expiry at which tokens are refreshed.
func (c *Config) RefreshMargin() time.Duration {
	return time.Duration(c.Google.TokenRefreshMarginSeconds) * time.Second
}

// RequestTimeout bounds every Google API call.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Google.RequestTimeoutSeconds) * time.Second
}

// ExtractionTimeout bounds every extraction service call.
func (c *Config) ExtractionTimeout() time.Duration {
	return time.Duration(c.Extraction.TimeoutSeconds) * time.Second
}

func expandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Clean(path), nil
}
