// Package googlesheets implements adapter.ResultStore on a Google spreadsheet.
// Every sheet keeps its header in row 1; data rows start at row 2.
package googlesheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/jun/invoicescout/internal/adapter"
	"github.com/jun/invoicescout/internal/retry"
)

const firstDataRow = 2

// SheetsAdapter writes result rows to one spreadsheet.
type SheetsAdapter struct {
	service       *sheets.Service
	spreadsheetID string
	retry         retry.Policy
}

// NewSheetsAdapter creates a SheetsAdapter for spreadsheetID.
func NewSheetsAdapter(ctx context.Context, client *http.Client, spreadsheetID string, opts ...option.ClientOption) (*SheetsAdapter, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Sheets client: %w", err)
	}
	return &SheetsAdapter{
		service:       srv,
		spreadsheetID: spreadsheetID,
		retry: retry.Policy{
			MaxAttempts: 3,
			Backoff:     retry.Backoff{Base: retry.DefaultBaseDelay, Max: retry.DefaultMaxDelay},
			Retryable:   adapter.IsTransient,
		},
	}, nil
}

// WithRetry replaces the retry policy applied to every Sheets call.
func (s *SheetsAdapter) WithRetry(p retry.Policy) *SheetsAdapter {
	if p.Retryable == nil {
		p.Retryable = adapter.IsTransient
	}
	s.retry = p
	return s
}

func (s *SheetsAdapter) spreadsheet(ctx context.Context) (*sheets.Spreadsheet, error) {
	var ss *sheets.Spreadsheet
	err := s.retry.Do(ctx, "get spreadsheet", func(ctx context.Context) error {
		var err error
		ss, err = s.service.Spreadsheets.Get(s.spreadsheetID).
			Fields(googleapi.Field("properties.title,sheets.properties(title,gridProperties.rowCount)")).
			Context(ctx).
			Do()
		return adapter.GoogleError("unable to get spreadsheet", err)
	})
	return ss, err
}

// Title returns the spreadsheet title.
func (s *SheetsAdapter) Title(ctx context.Context) (string, error) {
	ss, err := s.spreadsheet(ctx)
	if err != nil {
		return "", err
	}
	if ss.Properties == nil {
		return "", nil
	}
	return ss.Properties.Title, nil
}

// ListSheets returns every sheet title in tab order.
func (s *SheetsAdapter) ListSheets(ctx context.Context) ([]string, error) {
	ss, err := s.spreadsheet(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ss.Sheets))
	for _, sh := range ss.Sheets {
		if sh.Properties != nil {
			names = append(names, sh.Properties.Title)
		}
	}
	return names, nil
}

// gridRows returns the row count of sheet's grid, blank rows included.
func (s *SheetsAdapter) gridRows(ctx context.Context, sheet string) (int, error) {
	ss, err := s.spreadsheet(ctx)
	if err != nil {
		return 0, err
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == sheet {
			if sh.Properties.GridProperties == nil {
				return 0, nil
			}
			return int(sh.Properties.GridProperties.RowCount), nil
		}
	}
	return 0, fmt.Errorf("sheet %q: %w", sheet, adapter.ErrNotFound)
}

// EnsureSheet adds the sheet when missing and rewrites row 1 when it does
// not match header.
func (s *SheetsAdapter) EnsureSheet(ctx context.Context, name string, header []string) (bool, error) {
	names, err := s.ListSheets(ctx)
	if err != nil {
		return false, err
	}

	created := false
	if !slices.Contains(names, name) {
		err := s.retry.Do(ctx, "add sheet", func(ctx context.Context) error {
			_, err := s.service.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
				Requests: []*sheets.Request{{
					AddSheet: &sheets.AddSheetRequest{
						Properties: &sheets.SheetProperties{Title: name},
					},
				}},
			}).Context(ctx).Do()
			if isDuplicateSheet(err) {
				return nil
			}
			return adapter.GoogleError("unable to add sheet", err)
		})
		if err != nil {
			return false, err
		}
		created = true
	}

	var current *sheets.ValueRange
	err = s.retry.Do(ctx, "read header", func(ctx context.Context) error {
		var err error
		current, err = s.service.Spreadsheets.Values.Get(s.spreadsheetID, rowRange(name, 1, 1)).Context(ctx).Do()
		return adapter.GoogleError("unable to read header", err)
	})
	if err != nil {
		return created, err
	}
	if len(current.Values) > 0 && slices.Equal(toStrings(current.Values[0]), header) {
		return created, nil
	}

	err = s.retry.Do(ctx, "write header", func(ctx context.Context) error {
		_, err := s.service.Spreadsheets.Values.Update(s.spreadsheetID, quoteSheet(name)+"!A1", &sheets.ValueRange{
			Values: [][]any{toCells(header)},
		}).ValueInputOption("RAW").Context(ctx).Do()
		return adapter.GoogleError("unable to write header", err)
	})
	return created, err
}

// ReadRows reads up to limit data rows. The cursor is the 1-based row number
// to start from. Blank rows inside the range come back as empty rows.
func (s *SheetsAdapter) ReadRows(ctx context.Context, sheet, cursor string, limit int) (adapter.RowPage, error) {
	start := firstDataRow
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < firstDataRow {
			return adapter.RowPage{}, fmt.Errorf("invalid row cursor %q", cursor)
		}
		start = n
	}
	if limit <= 0 {
		limit = 500
	}

	var vr *sheets.ValueRange
	err := s.retry.Do(ctx, "read rows", func(ctx context.Context) error {
		var err error
		vr, err = s.service.Spreadsheets.Values.Get(s.spreadsheetID, rowRange(sheet, start, start+limit-1)).
			MajorDimension("ROWS").
			Context(ctx).
			Do()
		return adapter.GoogleError("unable to read rows", err)
	})
	if err != nil {
		return adapter.RowPage{}, err
	}

	page := adapter.RowPage{Rows: make([][]string, 0, len(vr.Values))}
	for _, row := range vr.Values {
		page.Rows = append(page.Rows, toStrings(row))
	}
	next := start + limit
	switch {
	case len(vr.Values) == limit:
		page.NextCursor = strconv.Itoa(next)
	default:
		// Trailing blank rows are dropped from the range, so a short page
		// only ends the sheet once the grid itself ends.
		rows, err := s.gridRows(ctx, sheet)
		if err != nil {
			return adapter.RowPage{}, err
		}
		if next <= rows {
			page.NextCursor = strconv.Itoa(next)
		}
	}
	return page, nil
}

// AppendRows inserts rows after the last row of the sheet's table.
func (s *SheetsAdapter) AppendRows(ctx context.Context, sheet string, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	values := make([][]any, 0, len(rows))
	for _, row := range rows {
		values = append(values, toCells(row))
	}
	return s.retry.Do(ctx, "append rows", func(ctx context.Context) error {
		_, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, quoteSheet(sheet), &sheets.ValueRange{
			Values: values,
		}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
		return adapter.GoogleError("unable to append rows", err)
	})
}

func quoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

func rowRange(sheet string, from, to int) string {
	return fmt.Sprintf("%s!%d:%d", quoteSheet(sheet), from, to)
}

func toCells(row []string) []any {
	cells := make([]any, len(row))
	for i, v := range row {
		cells[i] = v
	}
	return cells
}

func toStrings(row []any) []string {
	out := make([]string, len(row))
	for i, v := range row {
		if v == nil {
			continue
		}
		out[i] = fmt.Sprint(v)
	}
	return out
}

func isDuplicateSheet(err error) bool {
	var gErr *googleapi.Error
	return errors.As(err, &gErr) && gErr.Code == http.StatusBadRequest && strings.Contains(gErr.Message, "already exists")
}
