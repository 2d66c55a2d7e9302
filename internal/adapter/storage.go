package adapter

import (
	"context"
	"time"

	"github.com/jun/invoicescout/internal/model"
)

// FolderMIMEType identifies folders in every DocumentStore.
const FolderMIMEType = "application/vnd.google-apps.folder"

// Entry describes one file or folder in a document store.
type Entry struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MIMEType     string    `json:"mimeType"`
	ModifiedTime time.Time `json:"modifiedTime"`
	Size         int64     `json:"size"`
	WebViewLink  string    `json:"webViewLink,omitempty"`
}

// IsFolder reports whether the entry can have children.
func (e Entry) IsFolder() bool {
	return e.MIMEType == FolderMIMEType
}

// EntryPage is one page of a folder listing.
type EntryPage struct {
	Entries       []Entry
	NextPageToken string
}

// Content is a fetched document body. MIMEType is the type of Data, which
// differs from the stored type when the store converts on export.
type Content struct {
	Data     []byte
	MIMEType string
}

// DocumentStore is the read-only view of the remote file tree.
type DocumentStore interface {
	// ListChildren returns one page of the direct children of folderID.
	ListChildren(ctx context.Context, folderID, pageToken string) (EntryPage, error)

	// Stat returns the metadata of a single file or folder.
	Stat(ctx context.Context, id string) (Entry, error)

	// Fetch downloads the content behind a document's retrieval handle.
	Fetch(ctx context.Context, doc model.DocumentRef) (Content, error)

	// ListFolders returns one page of every folder the account can see, used for setup.
	ListFolders(ctx context.Context, pageToken string) (EntryPage, error)
}

// RowPage is one page of data rows read from a sheet.
type RowPage struct {
	Rows       [][]string
	NextCursor string
}

// ResultStore is the append-only tabular store results are written to.
type ResultStore interface {
	// Title returns the human-readable name of the store.
	Title(ctx context.Context) (string, error)

	// ListSheets returns the names of all sheets in the store.
	ListSheets(ctx context.Context) ([]string, error)

	// EnsureSheet creates the named sheet when missing and makes sure its
	// header row matches header. It reports whether the sheet was created.
	EnsureSheet(ctx context.Context, name string, header []string) (bool, error)

	// ReadRows returns up to limit data rows (the header row excluded) starting
	// at cursor. An empty NextCursor means the sheet is exhausted.
	ReadRows(ctx context.Context, sheet, cursor string, limit int) (RowPage, error)

	// AppendRows adds rows at the end of the sheet. Existing rows are never modified.
	AppendRows(ctx context.Context, sheet string, rows [][]string) error
}
