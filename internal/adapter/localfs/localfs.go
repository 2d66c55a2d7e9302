// Package localfs exposes a directory tree as an adapter.DocumentStore.
// Entry IDs are file paths; the root path is the root folder ID.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/jun/invoicescout/internal/adapter"
	"github.com/jun/invoicescout/internal/model"
)

// Store reads documents from the local filesystem.
type Store struct {
	root string
}

// New returns a Store rooted at root.
func New(root string) *Store {
	return &Store{root: filepath.Clean(root)}
}

// Root returns the folder ID of the root directory.
func (s *Store) Root() string {
	return s.root
}

// ListChildren returns every entry of the directory in a single page.
func (s *Store) ListChildren(_ context.Context, folderID, _ string) (adapter.EntryPage, error) {
	dirEntries, err := os.ReadDir(folderID)
	if err != nil {
		return adapter.EntryPage{}, translate("read directory", err)
	}
	page := adapter.EntryPage{Entries: make([]adapter.Entry, 0, len(dirEntries))}
	for _, de := range dirEntries {
		if strings.HasPrefix(de.Name(), ".") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		page.Entries = append(page.Entries, toEntry(filepath.Join(folderID, de.Name()), info))
	}
	return page, nil
}

// ListFolders lists the direct subdirectories of the root.
func (s *Store) ListFolders(ctx context.Context, pageToken string) (adapter.EntryPage, error) {
	page, err := s.ListChildren(ctx, s.root, pageToken)
	if err != nil {
		return page, err
	}
	folders := page.Entries[:0]
	for _, e := range page.Entries {
		if e.IsFolder() {
			folders = append(folders, e)
		}
	}
	page.Entries = folders
	return page, nil
}

// Stat returns the entry for a path.
func (s *Store) Stat(_ context.Context, id string) (adapter.Entry, error) {
	info, err := os.Stat(id)
	if err != nil {
		return adapter.Entry{}, translate("stat", err)
	}
	return toEntry(id, info), nil
}

// Fetch reads the whole file.
func (s *Store) Fetch(_ context.Context, doc model.DocumentRef) (adapter.Content, error) {
	path := doc.RetrievalHandle
	if path == "" {
		path = doc.ID
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return adapter.Content{}, translate("read file", err)
	}
	mimeType := doc.MIMEType
	if mimeType == "" {
		mimeType = DetectMIMEType(path)
	}
	return adapter.Content{Data: data, MIMEType: mimeType}, nil
}

// DetectMIMEType guesses a file's media type from its extension, without parameters.
func DetectMIMEType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".pdf":
		return "application/pdf"
	case ".txt", ".text":
		return "text/plain"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if mediaType, _, err := mime.ParseMediaType(t); err == nil {
			return mediaType
		}
	}
	return "application/octet-stream"
}

func toEntry(path string, info fs.FileInfo) adapter.Entry {
	e := adapter.Entry{
		ID:           path,
		Name:         info.Name(),
		ModifiedTime: info.ModTime(),
		Size:         info.Size(),
		WebViewLink:  "file://" + filepath.ToSlash(path),
	}
	if info.IsDir() {
		e.MIMEType = adapter.FolderMIMEType
		e.Size = 0
	} else {
		e.MIMEType = DetectMIMEType(path)
	}
	return e
}

func translate(op string, err error) error {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%s: %w: %v", op, adapter.ErrPermissionDenied, err)
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%s: %w: %v", op, adapter.ErrNotFound, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
