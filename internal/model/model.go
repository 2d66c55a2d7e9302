package model

import "time"

// TokenSet is the delegated-authorization token triple persisted in the state file.
type TokenSet struct {
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"token_expiry,omitzero"`
}

// HasRefreshToken reports whether the set can be refreshed without user interaction.
func (t TokenSet) HasRefreshToken() bool {
	return t.RefreshToken != ""
}

// ValidFor reports whether the access token is still usable margin past now.
func (t TokenSet) ValidFor(now time.Time, margin time.Duration) bool {
	if t.AccessToken == "" || t.Expiry.IsZero() {
		return false
	}
	return now.Add(margin).Before(t.Expiry)
}

// DocumentRef identifies a candidate document discovered in the document store.
// ID is the identity key and doubles as the dedup key of result rows.
type DocumentRef struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	MIMEType        string `json:"mimeType"`
	RetrievalHandle string `json:"retrievalHandle"`
	ParentPath      string `json:"parentPath"`
	WebViewLink     string `json:"webViewLink,omitempty"`
	Size            int64  `json:"size"`
}

// ExtractedRecord is the structured invoice produced for one document.
type ExtractedRecord struct {
	DocumentID    string    `json:"document_id"`
	DocumentName  string    `json:"document_name"`
	DocumentURL   string    `json:"document_url"`
	InvoiceNumber string    `json:"invoice_number"`
	InvoiceDate   string    `json:"invoice_date"`
	Company       string    `json:"company"`
	Product       string    `json:"product"`
	TotalValue    string    `json:"total_value"`
	Currency      string    `json:"currency"`
	Taxes         string    `json:"taxes_paid"`
	LanguageTag   string    `json:"language"`
	ExtractedAt   time.Time `json:"extraction_date"`
}

// RunState is the per-installation selection and run summary kept next to the tokens.
type RunState struct {
	SelectedRoot        string     `json:"drive_folder_id,omitempty"`
	SelectedRootName    string     `json:"drive_folder_name,omitempty"`
	SelectedResultStore string     `json:"spreadsheet_id,omitempty"`
	ResultStoreName     string     `json:"spreadsheet_name,omitempty"`
	SheetPrefix         string     `json:"sheet_name,omitempty"`
	LastRun             *time.Time `json:"last_run,omitempty"`
	ProcessedCount      int        `json:"processed_count"`
}

// RunLease marks a scan in progress against one root folder. A lease past
// ExpiresAt (unix seconds) is free to be taken over.
type RunLease struct {
	Key       string `dynamodbav:"sk" json:"key"`
	Owner     string `dynamodbav:"owner" json:"owner"`
	ExpiresAt int64  `dynamodbav:"expires_at" json:"expires_at"`
}
