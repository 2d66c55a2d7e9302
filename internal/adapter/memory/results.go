package memory

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"github.com/jun/invoicescout/internal/adapter"
)

// ResultStore is an in-memory spreadsheet.
type ResultStore struct {
	mu      sync.Mutex
	title   string
	order   []string
	headers map[string][]string
	rows    map[string][][]string
	appends int
	failAll error
}

// NewResultStore creates an empty store with the given title.
func NewResultStore(title string) *ResultStore {
	return &ResultStore{
		title:   title,
		headers: make(map[string][]string),
		rows:    make(map[string][][]string),
	}
}

// Seed adds data rows to a sheet, creating it without a header if needed.
func (m *ResultStore) Seed(sheet string, rows ...[]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[sheet]; !ok {
		m.order = append(m.order, sheet)
	}
	m.rows[sheet] = append(m.rows[sheet], rows...)
}

// Rows returns a copy of the data rows of sheet.
func (m *ResultStore) Rows(sheet string) [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.rows[sheet])
}

// Header returns the header row of sheet.
func (m *ResultStore) Header(sheet string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.headers[sheet])
}

// FailAppends makes every later AppendRows return err.
func (m *ResultStore) FailAppends(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAll = err
}

// AppendCalls returns the number of AppendRows calls that wrote rows.
func (m *ResultStore) AppendCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appends
}

func (m *ResultStore) Title(context.Context) (string, error) {
	return m.title, nil
}

func (m *ResultStore) ListSheets(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.order), nil
}

func (m *ResultStore) EnsureSheet(_ context.Context, name string, header []string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.rows[name]
	if !exists {
		m.order = append(m.order, name)
		m.rows[name] = nil
	}
	m.headers[name] = slices.Clone(header)
	return !exists, nil
}

func (m *ResultStore) ReadRows(_ context.Context, sheet, cursor string, limit int) (adapter.RowPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows, ok := m.rows[sheet]
	if !ok {
		return adapter.RowPage{}, fmt.Errorf("sheet %q: %w", sheet, adapter.ErrNotFound)
	}
	if limit <= 0 {
		limit = len(rows) + 1
	}
	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 || n > len(rows) {
			return adapter.RowPage{}, fmt.Errorf("invalid row cursor %q", cursor)
		}
		start = n
	}
	end := min(start+limit, len(rows))
	page := adapter.RowPage{Rows: make([][]string, 0, end-start)}
	for _, r := range rows[start:end] {
		page.Rows = append(page.Rows, slices.Clone(r))
	}
	if end < len(rows) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

func (m *ResultStore) AppendRows(_ context.Context, sheet string, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return m.failAll
	}
	if _, ok := m.rows[sheet]; !ok {
		return fmt.Errorf("sheet %q: %w", sheet, adapter.ErrNotFound)
	}
	for _, r := range rows {
		m.rows[sheet] = append(m.rows[sheet], slices.Clone(r))
	}
	m.appends++
	return nil
}
