package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	var err error
	if c.Google.CredentialsPath, err = expandPath(c.Google.CredentialsPath); err != nil {
		return err
	}
	if c.State.Path, err = expandPath(c.State.Path); err != nil {
		return err
	}
	if c.State.Path == "" {
		if c.State.Path, err = expandPath(defaultStatePath); err != nil {
			return err
		}
	}

	c.Google.CallbackPath = strings.TrimSpace(c.Google.CallbackPath)
	if c.Google.CallbackPath == "" {
		c.Google.CallbackPath = defaultCallbackPath
	}
	if !strings.HasPrefix(c.Google.CallbackPath, "/") {
		c.Google.CallbackPath = "/" + c.Google.CallbackPath
	}
	if c.Google.CallbackPort <= 0 || c.Google.CallbackPort > 65535 {
		return fmt.Errorf("google.callback_port: %d out of range", c.Google.CallbackPort)
	}
	if c.Google.CallbackTimeoutSeconds <= 0 {
		c.Google.CallbackTimeoutSeconds = defaultCallbackTimeout
	}
	if c.Google.TokenRefreshMarginSeconds < 0 {
		c.Google.TokenRefreshMarginSeconds = defaultRefreshMargin
	}
	if c.Google.RequestTimeoutSeconds <= 0 {
		c.Google.RequestTimeoutSeconds = defaultRequestTimeout
	}

	mimeTypes := make([]string, 0, len(c.Drive.MIMETypes))
	seen := make(map[string]struct{}, len(c.Drive.MIMETypes))
	for _, mt := range c.Drive.MIMETypes {
		mt = strings.ToLower(strings.TrimSpace(mt))
		if mt == "" {
			continue
		}
		if _, ok := seen[mt]; ok {
			continue
		}
		seen[mt] = struct{}{}
		mimeTypes = append(mimeTypes, mt)
	}
	if len(mimeTypes) == 0 {
		mimeTypes = []string{MIMETypePDF}
	}
	c.Drive.MIMETypes = mimeTypes
	c.Drive.RootFolderID = strings.TrimSpace(c.Drive.RootFolderID)

	c.Results.Backend = strings.ToLower(strings.TrimSpace(c.Results.Backend))
	switch c.Results.Backend {
	case "":
		c.Results.Backend = BackendSheets
	case BackendSheets, BackendDynamoDB:
	default:
		return fmt.Errorf("results.backend: unsupported value %q", c.Results.Backend)
	}
	c.Results.SpreadsheetID = strings.TrimSpace(c.Results.SpreadsheetID)
	c.Results.SheetPrefix = strings.TrimSpace(c.Results.SheetPrefix)
	if c.Results.SheetPrefix == "" {
		c.Results.SheetPrefix = defaultSheetPrefix
	}
	if c.Results.PageSize <= 0 {
		c.Results.PageSize = defaultPageSize
	}

	c.Extraction.APIKey = strings.TrimSpace(c.Extraction.APIKey)
	c.Extraction.APIKeyParam = strings.TrimSpace(c.Extraction.APIKeyParam)
	c.Extraction.BaseURL = strings.TrimRight(strings.TrimSpace(c.Extraction.BaseURL), "/")
	if c.Extraction.BaseURL == "" {
		c.Extraction.BaseURL = defaultBaseURL
	}
	c.Extraction.Model = strings.TrimSpace(c.Extraction.Model)
	if c.Extraction.Model == "" {
		c.Extraction.Model = defaultModel
	}
	if c.Extraction.TimeoutSeconds <= 0 {
		c.Extraction.TimeoutSeconds = defaultExtractTimeout
	}
	if c.Extraction.MaxAttempts <= 0 {
		c.Extraction.MaxAttempts = defaultMaxAttempts
	}
	if c.Extraction.Concurrency <= 0 {
		c.Extraction.Concurrency = defaultConcurrency
	}

	c.Security.TokenEncryption = strings.ToLower(strings.TrimSpace(c.Security.TokenEncryption))
	switch c.Security.TokenEncryption {
	case "":
		c.Security.TokenEncryption = EncryptionNone
	case EncryptionNone:
	case EncryptionKMS:
		if strings.TrimSpace(c.Security.KMSKeyID) == "" {
			return fmt.Errorf("security.kms_key_id: %w (required when token_encryption = %q)", ErrMissingConfiguration, EncryptionKMS)
		}
	default:
		return fmt.Errorf("security.token_encryption: unsupported value %q", c.Security.TokenEncryption)
	}

	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	return nil
}

// ValidateForSync reports missing settings that a scan cannot run without.
func (c *Config) ValidateForSync() error {
	if c.Drive.RootFolderID == "" {
		return fmt.Errorf("drive folder: %w (run 'invoicescout setup --folder <id>')", ErrMissingConfiguration)
	}
	switch c.Results.Backend {
	case BackendSheets:
		if c.Results.SpreadsheetID == "" {
			return fmt.Errorf("spreadsheet: %w (run 'invoicescout setup --spreadsheet <id>')", ErrMissingConfiguration)
		}
	case BackendDynamoDB:
		if strings.TrimSpace(c.Results.DynamoDBTable) == "" {
			return fmt.Errorf("results.dynamodb_table: %w", ErrMissingConfiguration)
		}
	}
	return c.ValidateForExtraction()
}

// ValidateForExtraction reports whether the extraction service can be reached.
func (c *Config) ValidateForExtraction() error {
	if c.Extraction.APIKey == "" && c.Extraction.APIKeyParam == "" {
		return fmt.Errorf("OPENROUTER_API_KEY: %w", ErrMissingConfiguration)
	}
	return nil
}
