// Package results writes extracted records to year sheets in the result
// store, appending each document at most once.
package results

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jun/invoicescout/internal/adapter"
	"github.com/jun/invoicescout/internal/extract"
	"github.com/jun/invoicescout/internal/index"
	"github.com/jun/invoicescout/internal/logging"
	"github.com/jun/invoicescout/internal/model"
)

// Header is the first row of every result sheet. The document ID stays in
// the first column so the index can find it.
var Header = []string{
	"File ID",
	"File Name",
	"File URL",
	"Invoice Number",
	"Invoice Date",
	"Company",
	"Product",
	"Total Value",
	"Currency",
	"Taxes Paid",
	"Language",
	"Extraction Date",
}

const extractionDateLayout = "2006-01-02 15:04:05"

// Status says whether Append wrote a row.
type Status int

const (
	Written Status = iota
	Skipped
)

func (s Status) String() string {
	if s == Written {
		return "written"
	}
	return "skipped"
}

// AlreadyPresent is the only skip reason.
const AlreadyPresent = "already_present"

// WriteOutcome reports what Append did with a record.
type WriteOutcome struct {
	Status Status
	Reason string
	Sheet  string
}

// Options configures a Writer.
type Options struct {
	SheetPrefix string
	Logger      *slog.Logger
}

// Writer appends records. It is safe for concurrent use; appends for the
// same document are serialized so only the first one writes.
type Writer struct {
	store  adapter.ResultStore
	index  *index.Index
	prefix string
	logger *slog.Logger

	mu      sync.Mutex
	written map[string]struct{}
	ensured map[string]bool
}

// NewWriter creates a Writer that treats every ID in idx as already written.
func NewWriter(store adapter.ResultStore, idx *index.Index, opts Options) *Writer {
	if idx == nil {
		idx = index.New()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Writer{
		store:   store,
		index:   idx,
		prefix:  opts.SheetPrefix,
		logger:  opts.Logger.With("component", "results"),
		written: make(map[string]struct{}),
		ensured: make(map[string]bool),
	}
}

// Append writes rec to its year sheet unless its document ID is already in
// the index or was written earlier in this run.
func (w *Writer) Append(ctx context.Context, rec model.ExtractedRecord) (WriteOutcome, error) {
	if rec.DocumentID == "" {
		return WriteOutcome{}, errors.New("record has no document id")
	}
	sheet := SheetFor(w.prefix, rec)

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, done := w.written[rec.DocumentID]; done || w.index.Contains(rec.DocumentID) {
		w.logger.Debug("record already present", "document_id", rec.DocumentID)
		return WriteOutcome{Status: Skipped, Reason: AlreadyPresent, Sheet: sheet}, nil
	}

	if !w.ensured[sheet] {
		created, err := w.store.EnsureSheet(ctx, sheet, Header)
		if err != nil {
			return WriteOutcome{}, fmt.Errorf("ensure sheet %s: %w", sheet, err)
		}
		if created {
			w.logger.Info("result sheet created", "sheet", sheet)
		}
		w.ensured[sheet] = true
	}

	err := w.store.AppendRows(ctx, sheet, [][]string{Row(rec)})
	if errors.Is(err, adapter.ErrAlreadyExists) {
		w.written[rec.DocumentID] = struct{}{}
		return WriteOutcome{Status: Skipped, Reason: AlreadyPresent, Sheet: sheet}, nil
	}
	if err != nil {
		return WriteOutcome{}, fmt.Errorf("append to %s: %w", sheet, err)
	}
	w.written[rec.DocumentID] = struct{}{}
	w.logger.Debug("record appended", "document_id", rec.DocumentID, "sheet", sheet)
	return WriteOutcome{Status: Written, Sheet: sheet}, nil
}

// SheetFor returns the year sheet a record belongs to.
func SheetFor(prefix string, rec model.ExtractedRecord) string {
	year := extract.InvoiceYear(rec.InvoiceDate)
	if year == "" {
		year = index.UnknownYear
	}
	return index.SheetName(prefix, year)
}

// Row lays a record out in Header order.
func Row(rec model.ExtractedRecord) []string {
	extracted := ""
	if !rec.ExtractedAt.IsZero() {
		extracted = rec.ExtractedAt.Format(extractionDateLayout)
	}
	return []string{
		rec.DocumentID,
		rec.DocumentName,
		rec.DocumentURL,
		rec.InvoiceNumber,
		rec.InvoiceDate,
		rec.Company,
		rec.Product,
		rec.TotalValue,
		rec.Currency,
		rec.Taxes,
		rec.LanguageTag,
		extracted,
	}
}
