package googlesheets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"

	"google.golang.org/api/option"
)

// fakeSpreadsheet serves the subset of the Sheets v4 REST API the adapter uses.
type fakeSpreadsheet struct {
	mu      sync.Mutex
	title   string
	order   []string
	sheets  map[string][][]string
	appends int
}

func newFakeSpreadsheet(title string) *fakeSpreadsheet {
	return &fakeSpreadsheet{title: title, sheets: map[string][][]string{}}
}

func (f *fakeSpreadsheet) addSheet(name string, rows ...[]string) {
	f.order = append(f.order, name)
	f.sheets[name] = rows
}

func parseRange(r string) (sheet string, from, to int) {
	name, rows, _ := strings.Cut(r, "!")
	name = strings.ReplaceAll(strings.Trim(name, "'"), "''", "'")
	if rows == "" || rows == "A1" {
		return name, 1, 1
	}
	a, b, _ := strings.Cut(rows, ":")
	from, _ = strconv.Atoi(a)
	to, _ = strconv.Atoi(b)
	return name, from, to
}

func (f *fakeSpreadsheet) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	const prefix = "/v4/spreadsheets/sheet-id"
	path := strings.TrimPrefix(r.URL.Path, prefix)
	w.Header().Set("Content-Type", "application/json")

	switch {
	case path == "" && r.Method == http.MethodGet:
		type grid struct {
			RowCount int `json:"rowCount"`
		}
		type props struct {
			Title          string `json:"title"`
			GridProperties *grid  `json:"gridProperties,omitempty"`
		}
		type sheet struct {
			Properties props `json:"properties"`
		}
		resp := struct {
			Properties props   `json:"properties"`
			Sheets     []sheet `json:"sheets"`
		}{Properties: props{Title: f.title}}
		for _, name := range f.order {
			resp.Sheets = append(resp.Sheets, sheet{Properties: props{Title: name, GridProperties: &grid{RowCount: len(f.sheets[name])}}})
		}
		_ = json.NewEncoder(w).Encode(resp)

	case path == ":batchUpdate":
		var req struct {
			Requests []struct {
				AddSheet struct {
					Properties struct {
						Title string `json:"title"`
					} `json:"properties"`
				} `json:"addSheet"`
			} `json:"requests"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		for _, rq := range req.Requests {
			f.addSheet(rq.AddSheet.Properties.Title)
		}
		_, _ = w.Write([]byte(`{}`))

	case strings.HasPrefix(path, "/values/") && strings.HasSuffix(path, ":append"):
		name, _, _ := parseRange(strings.TrimSuffix(strings.TrimPrefix(path, "/values/"), ":append"))
		var body struct {
			Values [][]string `json:"values"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.sheets[name] = append(f.sheets[name], body.Values...)
		f.appends++
		_, _ = w.Write([]byte(`{}`))

	case strings.HasPrefix(path, "/values/") && r.Method == http.MethodPut:
		name, _, _ := parseRange(strings.TrimPrefix(path, "/values/"))
		var body struct {
			Values [][]string `json:"values"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		rows := f.sheets[name]
		if len(rows) == 0 {
			rows = [][]string{body.Values[0]}
		} else {
			rows[0] = body.Values[0]
		}
		f.sheets[name] = rows
		_, _ = w.Write([]byte(`{}`))

	case strings.HasPrefix(path, "/values/") && r.Method == http.MethodGet:
		name, from, to := parseRange(strings.TrimPrefix(path, "/values/"))
		rows := f.sheets[name]
		var out [][]string
		for i := from; i <= to && i <= len(rows); i++ {
			out = append(out, rows[i-1])
		}
		// Like the real API, drop trailing blank rows from the range.
		for len(out) > 0 && blank(out[len(out)-1]) {
			out = out[:len(out)-1]
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"values": out})

	default:
		http.NotFound(w, r)
	}
}

func blank(row []string) bool {
	for _, v := range row {
		if v != "" {
			return false
		}
	}
	return true
}

func newTestAdapter(t *testing.T, fake *fakeSpreadsheet) *SheetsAdapter {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	s, err := NewSheetsAdapter(context.Background(), srv.Client(), "sheet-id", option.WithEndpoint(srv.URL+"/"))
	if err != nil {
		t.Fatalf("NewSheetsAdapter failed: %v", err)
	}
	return s
}

var header = []string{"File ID", "File Name"}

func TestSheetsAdapter_EnsureSheet(t *testing.T) {
	fake := newFakeSpreadsheet("Invoices")
	fake.addSheet("Sheet1")
	s := newTestAdapter(t, fake)
	ctx := context.Background()

	created, err := s.EnsureSheet(ctx, "Invoices 2024", header)
	if err != nil {
		t.Fatalf("EnsureSheet failed: %v", err)
	}
	if !created {
		t.Error("Expected sheet to be created")
	}
	if got := fake.sheets["Invoices 2024"]; len(got) != 1 || !slices.Equal(got[0], header) {
		t.Errorf("Expected header row, got %v", got)
	}

	created, err = s.EnsureSheet(ctx, "Invoices 2024", header)
	if err != nil {
		t.Fatalf("EnsureSheet failed: %v", err)
	}
	if created {
		t.Error("Second EnsureSheet should not create the sheet again")
	}

	names, err := s.ListSheets(ctx)
	if err != nil {
		t.Fatalf("ListSheets failed: %v", err)
	}
	if !slices.Equal(names, []string{"Sheet1", "Invoices 2024"}) {
		t.Errorf("Unexpected sheets %v", names)
	}
	if title, _ := s.Title(ctx); title != "Invoices" {
		t.Errorf("Expected title Invoices, got %q", title)
	}
}

func TestSheetsAdapter_EnsureSheet_RepairsHeader(t *testing.T) {
	fake := newFakeSpreadsheet("Invoices")
	fake.addSheet("Invoices 2023", []string{"wrong"}, []string{"id-1", "a.pdf"})
	s := newTestAdapter(t, fake)

	if _, err := s.EnsureSheet(context.Background(), "Invoices 2023", header); err != nil {
		t.Fatalf("EnsureSheet failed: %v", err)
	}
	rows := fake.sheets["Invoices 2023"]
	if !slices.Equal(rows[0], header) || rows[1][0] != "id-1" {
		t.Errorf("Expected header rewritten and data kept, got %v", rows)
	}
}

func TestSheetsAdapter_ReadRowsPaginates(t *testing.T) {
	fake := newFakeSpreadsheet("Invoices")
	rows := [][]string{header}
	for i := range 5 {
		rows = append(rows, []string{"id-" + strconv.Itoa(i), "f.pdf"})
	}
	fake.addSheet("Invoices 2024", rows...)
	s := newTestAdapter(t, fake)

	var ids []string
	cursor := ""
	pages := 0
	for {
		page, err := s.ReadRows(context.Background(), "Invoices 2024", cursor, 2)
		if err != nil {
			t.Fatalf("ReadRows failed: %v", err)
		}
		pages++
		for _, r := range page.Rows {
			ids = append(ids, r[0])
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	if !slices.Equal(ids, []string{"id-0", "id-1", "id-2", "id-3", "id-4"}) {
		t.Errorf("Unexpected ids %v", ids)
	}
	if pages != 3 {
		t.Errorf("Expected 3 pages, got %d", pages)
	}
}

func TestSheetsAdapter_ReadRowsContinuesPastBlankRowAtPageEnd(t *testing.T) {
	fake := newFakeSpreadsheet("Invoices")
	fake.addSheet("Invoices 2024", header, []string{"a", "a.pdf"}, []string{}, []string{"b", "b.pdf"})
	s := newTestAdapter(t, fake)

	var ids []string
	cursor := ""
	for range 10 {
		page, err := s.ReadRows(context.Background(), "Invoices 2024", cursor, 2)
		if err != nil {
			t.Fatalf("ReadRows failed: %v", err)
		}
		for _, r := range page.Rows {
			if len(r) > 0 {
				ids = append(ids, r[0])
			}
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	if !slices.Equal(ids, []string{"a", "b"}) {
		t.Errorf("Expected ids [a b], got %v", ids)
	}
}

func TestSheetsAdapter_AppendRows(t *testing.T) {
	fake := newFakeSpreadsheet("Invoices")
	fake.addSheet("Invoices 2024", header)
	s := newTestAdapter(t, fake)

	if err := s.AppendRows(context.Background(), "Invoices 2024", [][]string{{"id-9", "x.pdf"}}); err != nil {
		t.Fatalf("AppendRows failed: %v", err)
	}
	if err := s.AppendRows(context.Background(), "Invoices 2024", nil); err != nil {
		t.Fatalf("AppendRows with no rows failed: %v", err)
	}
	got := fake.sheets["Invoices 2024"]
	if len(got) != 2 || got[1][0] != "id-9" {
		t.Errorf("Unexpected rows %v", got)
	}
	if fake.appends != 1 {
		t.Errorf("Expected a single append call, got %d", fake.appends)
	}
}

func TestQuoteSheet(t *testing.T) {
	if got := quoteSheet("Bob's 2024"); got != "'Bob''s 2024'" {
		t.Errorf("quoteSheet = %q", got)
	}
	if got := rowRange("Invoices 2024", 2, 501); got != "'Invoices 2024'!2:501" {
		t.Errorf("rowRange = %q", got)
	}
}
