package googledrive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/jun/invoicescout/internal/adapter"
	"github.com/jun/invoicescout/internal/model"
	"github.com/jun/invoicescout/internal/retry"
)

const (
	pageSize = 100

	googleDocMIMEType = "application/vnd.google-apps.document"
	exportMIMEType    = "text/plain"

	entryFields = "id, name, mimeType, modifiedTime, size, webViewLink"
	listFields  = "nextPageToken, files(" + entryFields + ")"
)

// DriveAdapter implements adapter.DocumentStore for Google Drive.
type DriveAdapter struct {
	service *drive.Service
	retry   retry.Policy
}

// NewDriveAdapter creates a new DriveAdapter.
// client should be an authenticated http.Client with the user's credentials.
func NewDriveAdapter(ctx context.Context, client *http.Client, opts ...option.ClientOption) (*DriveAdapter, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	srv, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Drive client: %w", err)
	}
	return &DriveAdapter{
		service: srv,
		retry: retry.Policy{
			MaxAttempts: 3,
			Backoff:     retry.Backoff{Base: retry.DefaultBaseDelay, Max: retry.DefaultMaxDelay},
			Retryable:   adapter.IsTransient,
		},
	}, nil
}

// WithRetry replaces the retry policy applied to every Drive call.
func (d *DriveAdapter) WithRetry(p retry.Policy) *DriveAdapter {
	if p.Retryable == nil {
		p.Retryable = adapter.IsTransient
	}
	d.retry = p
	return d
}

// ListChildren lists one page of the non-trashed children of folderID.
func (d *DriveAdapter) ListChildren(ctx context.Context, folderID, pageToken string) (adapter.EntryPage, error) {
	q := fmt.Sprintf("'%s' in parents and trashed = false", escapeQuery(folderID))
	return d.list(ctx, "list folder children", q, "", pageToken)
}

// ListFolders lists one page of every folder the account can access, ordered by name.
func (d *DriveAdapter) ListFolders(ctx context.Context, pageToken string) (adapter.EntryPage, error) {
	q := fmt.Sprintf("mimeType = '%s' and trashed = false", adapter.FolderMIMEType)
	return d.list(ctx, "list folders", q, "name", pageToken)
}

func (d *DriveAdapter) list(ctx context.Context, op, q, orderBy, pageToken string) (adapter.EntryPage, error) {
	var r *drive.FileList
	err := d.retry.Do(ctx, op, func(ctx context.Context) error {
		call := d.service.Files.List().
			Q(q).
			PageSize(pageSize).
			SupportsAllDrives(true).
			IncludeItemsFromAllDrives(true).
			Fields(googleapi.Field(listFields)).
			Context(ctx)
		if orderBy != "" {
			call = call.OrderBy(orderBy)
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		var err error
		r, err = call.Do()
		return adapter.GoogleError("unable to "+op, err)
	})
	if err != nil {
		return adapter.EntryPage{}, err
	}

	page := adapter.EntryPage{
		Entries:       make([]adapter.Entry, 0, len(r.Files)),
		NextPageToken: r.NextPageToken,
	}
	for _, f := range r.Files {
		page.Entries = append(page.Entries, toEntry(f))
	}
	return page, nil
}

// Stat returns the metadata of a file or folder.
func (d *DriveAdapter) Stat(ctx context.Context, id string) (adapter.Entry, error) {
	var f *drive.File
	err := d.retry.Do(ctx, "get file metadata", func(ctx context.Context) error {
		var err error
		f, err = d.service.Files.Get(id).
			SupportsAllDrives(true).
			Fields(googleapi.Field(entryFields)).
			Context(ctx).
			Do()
		return adapter.GoogleError("unable to get file metadata", err)
	})
	if err != nil {
		return adapter.Entry{}, err
	}
	return toEntry(f), nil
}

// Fetch downloads a binary file, or exports a Google Doc as plain text.
func (d *DriveAdapter) Fetch(ctx context.Context, doc model.DocumentRef) (adapter.Content, error) {
	id := doc.RetrievalHandle
	if id == "" {
		id = doc.ID
	}

	var content adapter.Content
	err := d.retry.Do(ctx, "download file", func(ctx context.Context) error {
		var (
			resp *http.Response
			err  error
		)
		mimeType := doc.MIMEType
		if doc.MIMEType == googleDocMIMEType {
			resp, err = d.service.Files.Export(id, exportMIMEType).Context(ctx).Download()
			mimeType = exportMIMEType
		} else {
			resp, err = d.service.Files.Get(id).SupportsAllDrives(true).Context(ctx).Download()
		}
		if err != nil {
			return adapter.GoogleError("unable to download file", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("unable to read file content: %w: %v", adapter.ErrTransient, err)
		}
		content = adapter.Content{Data: data, MIMEType: mimeType}
		return nil
	})
	return content, err
}

func toEntry(f *drive.File) adapter.Entry {
	modTime, _ := time.Parse(time.RFC3339, f.ModifiedTime)
	return adapter.Entry{
		ID:           f.Id,
		Name:         f.Name,
		MIMEType:     f.MimeType,
		ModifiedTime: modTime,
		Size:         f.Size,
		WebViewLink:  f.WebViewLink,
	}
}

// escapeQuery quotes a value for use inside a single-quoted Drive query literal.
func escapeQuery(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return strings.ReplaceAll(v, `'`, `\'`)
}
