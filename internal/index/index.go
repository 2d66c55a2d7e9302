// Package index loads the set of document IDs already recorded in the result
// store. The set is a snapshot taken once per run and is never mutated
// afterwards, so it is safe for concurrent readers without locking.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/jun/invoicescout/internal/adapter"
	"github.com/jun/invoicescout/internal/logging"
	"github.com/jun/invoicescout/internal/model"
)

// UnknownYear is the sheet suffix for records without a recognisable date.
const UnknownYear = "Unknown"

// SheetName returns the result sheet for a year ("2024") or UnknownYear.
func SheetName(prefix, year string) string {
	return prefix + " " + year
}

// IsResultSheet reports whether name is one of the year sheets for prefix.
func IsResultSheet(prefix, name string) bool {
	return sheetPattern(prefix).MatchString(name)
}

func sheetPattern(prefix string) *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + ` (\d{4}|` + UnknownYear + `)$`)
}

// Index is an immutable set of processed document IDs.
type Index struct {
	ids    map[string]struct{}
	sheets []string
}

// New builds an index from known IDs.
func New(ids ...string) *Index {
	idx := &Index{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		idx.ids[id] = struct{}{}
	}
	return idx
}

// Contains reports whether id was already recorded.
func (i *Index) Contains(id string) bool {
	_, ok := i.ids[id]
	return ok
}

// Len returns the number of recorded IDs.
func (i *Index) Len() int {
	return len(i.ids)
}

// Sheets returns the result sheets the index was loaded from.
func (i *Index) Sheets() []string {
	return append([]string(nil), i.sheets...)
}

// Filter returns the documents that are not yet recorded, preserving order.
func (i *Index) Filter(docs []model.DocumentRef) []model.DocumentRef {
	out := make([]model.DocumentRef, 0, len(docs))
	for _, d := range docs {
		if !i.Contains(d.ID) {
			out = append(out, d)
		}
	}
	return out
}

// Options configures Load.
type Options struct {
	SheetPrefix string
	PageSize    int
	Logger      *slog.Logger
}

// Load reads the leading cell of every row of every result sheet, following
// pagination until each sheet is exhausted.
func Load(ctx context.Context, store adapter.ResultStore, opts Options) (*Index, error) {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	logger := opts.Logger.With("component", "index")

	names, err := store.ListSheets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list result sheets: %w", err)
	}

	pattern := sheetPattern(opts.SheetPrefix)
	idx := New()
	for _, name := range names {
		if !pattern.MatchString(name) {
			continue
		}
		idx.sheets = append(idx.sheets, name)

		rows := 0
		cursor := ""
		for {
			page, err := store.ReadRows(ctx, name, cursor, opts.PageSize)
			if err != nil {
				return nil, fmt.Errorf("read sheet %s: %w", name, err)
			}
			for _, row := range page.Rows {
				if len(row) == 0 {
					continue
				}
				if id := strings.TrimSpace(row[0]); id != "" {
					idx.ids[id] = struct{}{}
					rows++
				}
			}
			if page.NextCursor == "" {
				break
			}
			cursor = page.NextCursor
		}
		logger.Debug("result sheet loaded", "sheet", name, "rows", rows)
	}
	logger.Info("result index loaded", "documents", idx.Len(), "sheets", len(idx.sheets))
	return idx, nil
}
