// Package scan discovers candidate documents under a root folder.
package scan

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"path"
	"strings"

	"github.com/jun/invoicescout/internal/adapter"
	"github.com/jun/invoicescout/internal/logging"
	"github.com/jun/invoicescout/internal/model"
)

// Options configures a Scanner.
type Options struct {
	// MIMETypes selects the documents that are yielded. Folders are always traversed.
	MIMETypes []string
	Logger    *slog.Logger
	// OnSkip, when set, is called for every subtree skipped because it could not be read.
	OnSkip func(folderID string, err error)
}

// Scanner walks a DocumentStore.
type Scanner struct {
	store  adapter.DocumentStore
	accept map[string]bool
	logger *slog.Logger
	onSkip func(string, error)
}

// New creates a Scanner over store.
func New(store adapter.DocumentStore, opts Options) *Scanner {
	accept := make(map[string]bool, len(opts.MIMETypes))
	for _, t := range opts.MIMETypes {
		accept[strings.ToLower(strings.TrimSpace(t))] = true
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Scanner{
		store:  store,
		accept: accept,
		logger: opts.Logger.With("component", "scan"),
		onSkip: opts.OnSkip,
	}
}

type pending struct {
	id   string
	path string
}

// Scan lazily yields every accepted document reachable from root, each
// exactly once. Folders that cannot be read (permission denied or gone) are
// logged and skipped; root itself must be readable. Any other listing error
// is yielded and ends the sequence. The sequence can be ranged over again to
// restart the walk.
func (s *Scanner) Scan(ctx context.Context, root string) iter.Seq2[model.DocumentRef, error] {
	return func(yield func(model.DocumentRef, error) bool) {
		seenFolders := map[string]bool{root: true}
		seenDocs := make(map[string]bool)
		stack := []pending{{id: root}}

		for len(stack) > 0 {
			folder := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			pageToken := ""
			for {
				if err := ctx.Err(); err != nil {
					yield(model.DocumentRef{}, err)
					return
				}
				page, err := s.store.ListChildren(ctx, folder.id, pageToken)
				if err != nil {
					if folder.id != root && skippable(err) {
						s.logger.Warn("skipping unreadable folder", "folder_id", folder.id, "path", folder.path, "error", err)
						if s.onSkip != nil {
							s.onSkip(folder.id, err)
						}
						break
					}
					yield(model.DocumentRef{}, err)
					return
				}

				for _, e := range page.Entries {
					if e.IsFolder() {
						if !seenFolders[e.ID] {
							seenFolders[e.ID] = true
							stack = append(stack, pending{id: e.ID, path: path.Join(folder.path, e.Name)})
						}
						continue
					}
					if !s.accept[strings.ToLower(e.MIMEType)] || seenDocs[e.ID] {
						continue
					}
					seenDocs[e.ID] = true
					doc := model.DocumentRef{
						ID:              e.ID,
						Name:            e.Name,
						MIMEType:        e.MIMEType,
						RetrievalHandle: e.ID,
						ParentPath:      folder.path,
						WebViewLink:     e.WebViewLink,
						Size:            e.Size,
					}
					if !yield(doc, nil) {
						return
					}
				}

				if page.NextPageToken == "" {
					break
				}
				pageToken = page.NextPageToken
			}
		}
	}
}

// Collect drains a scan into a slice.
func Collect(seq iter.Seq2[model.DocumentRef, error]) ([]model.DocumentRef, error) {
	var docs []model.DocumentRef
	for doc, err := range seq {
		if err != nil {
			return docs, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func skippable(err error) bool {
	return errors.Is(err, adapter.ErrPermissionDenied) || errors.Is(err, adapter.ErrNotFound)
}
