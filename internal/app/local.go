package app

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/jun/invoicescout/internal/adapter/localfs"
	"github.com/jun/invoicescout/internal/config"
	"github.com/jun/invoicescout/internal/dispatch"
	"github.com/jun/invoicescout/internal/model"
	"github.com/jun/invoicescout/internal/scan"
)

// LocalDocuments returns path itself when it is a file, or every document
// of an accepted type below it when it is a directory.
func LocalDocuments(ctx context.Context, store *localfs.Store, path string, mimeTypes []string) ([]model.DocumentRef, error) {
	entry, err := store.Stat(ctx, path)
	if err != nil {
		return nil, err
	}
	if !entry.IsFolder() {
		return []model.DocumentRef{{
			ID:              entry.ID,
			Name:            entry.Name,
			MIMEType:        entry.MIMEType,
			RetrievalHandle: entry.ID,
			WebViewLink:     entry.WebViewLink,
			Size:            entry.Size,
		}}, nil
	}
	return scan.Collect(scan.New(store, scan.Options{MIMETypes: mimeTypes}).Scan(ctx, entry.ID))
}

// localMIMETypes swaps Google Docs for the plain text they export to.
func localMIMETypes(types []string) []string {
	out := make([]string, 0, len(types))
	for _, t := range types {
		if t == config.MIMETypeGoogleDocument {
			t = config.MIMETypePlainText
		}
		if !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

// Local runs extraction over a file or directory and returns the outcomes
// without reading or writing any remote store.
func (a *App) Local(ctx context.Context, path string) ([]dispatch.Outcome, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	store := localfs.New(filepath.Dir(abs))
	docs, err := LocalDocuments(ctx, store, abs, localMIMETypes(a.Config.Drive.MIMETypes))
	if err != nil {
		return nil, fmt.Errorf("list local documents: %w", err)
	}
	extractor, err := a.Extractor(ctx, store)
	if err != nil {
		return nil, err
	}
	d := dispatch.New(extractor, dispatch.Options{
		Concurrency: a.Config.Extraction.Concurrency,
		MaxAttempts: a.Config.Extraction.MaxAttempts,
		Logger:      a.Logger,
	})
	return d.Collect(ctx, docs), nil
}
