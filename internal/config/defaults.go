package config

const (
	defaultCredentialsPath = "credentials.json"
	defaultCallbackPort    = 8080
	defaultCallbackPath    = "/oauth2callback"
	defaultCallbackTimeout = 300
	defaultRefreshMargin   = 60
	defaultRequestTimeout  = 60
	defaultSheetPrefix     = "Invoices"
	defaultPageSize        = 500
	defaultBaseURL         = "https://openrouter.ai/api/v1"
	defaultModel           = "google/gemini-2.5-flash-lite"
	defaultExtractTimeout  = 120
	defaultMaxAttempts     = 3
	defaultConcurrency     = 5
	defaultTitle           = "InvoiceScout"
	defaultStatePath       = "~/.invoice_scanner_state.json"
	BackendSheets          = "sheets"
	BackendDynamoDB        = "dynamodb"
	EncryptionNone         = "none"
	EncryptionKMS          = "kms"
	MIMETypePDF            = "application/pdf"
	MIMETypeGoogleDocument = "application/vnd.google-apps.document"
	MIMETypePlainText      = "text/plain"
)

// Default returns a Config populated with built-in defaults.
func Default() Config {
	return Config{
		Google: Google{
			CredentialsPath:           defaultCredentialsPath,
			CallbackPort:              defaultCallbackPort,
			CallbackPath:              defaultCallbackPath,
			CallbackTimeoutSeconds:    defaultCallbackTimeout,
			TokenRefreshMarginSeconds: defaultRefreshMargin,
			RequestTimeoutSeconds:     defaultRequestTimeout,
		},
		Drive: Drive{
			MIMETypes: []string{MIMETypePDF},
		},
		Results: Results{
			Backend:     BackendSheets,
			SheetPrefix: defaultSheetPrefix,
			PageSize:    defaultPageSize,
		},
		Extraction: Extraction{
			BaseURL:        defaultBaseURL,
			Model:          defaultModel,
			Title:          defaultTitle,
			TimeoutSeconds: defaultExtractTimeout,
			MaxAttempts:    defaultMaxAttempts,
			Concurrency:    defaultConcurrency,
		},
		Security: Security{
			TokenEncryption: EncryptionNone,
		},
		State: State{
			Path: defaultStatePath,
		},
		Logging: Logging{
			Level:  "info",
			Format: "auto",
		},
	}
}

// GoogleScopes lists the OAuth scopes requested during authorization.
func GoogleScopes() []string {
	return []string{
		"https://www.googleapis.com/auth/drive.readonly",
		"https://www.googleapis.com/auth/drive.metadata.readonly",
		"https://www.googleapis.com/auth/spreadsheets",
		"https://www.googleapis.com/auth/userinfo.email",
	}
}
