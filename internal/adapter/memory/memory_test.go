package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/jun/invoicescout/internal/adapter"
	"github.com/jun/invoicescout/internal/model"
)

func TestDocumentStore_ListChildrenPages(t *testing.T) {
	m := NewDocumentStore(2)
	ctx := context.Background()
	m.AddFolder("root", "Root", "")
	m.AddFile("c", "c.pdf", "application/pdf", "root", nil)
	m.AddFile("a", "a.pdf", "application/pdf", "root", nil)
	m.AddFolder("sub", "b-sub", "root")
	m.AddFile("x", "x.pdf", "application/pdf", "sub", nil)

	first, err := m.ListChildren(ctx, "root", "")
	if err != nil {
		t.Fatalf("ListChildren failed: %v", err)
	}
	if len(first.Entries) != 2 || first.Entries[0].ID != "a" || first.NextPageToken == "" {
		t.Fatalf("Unexpected first page %+v", first)
	}
	second, err := m.ListChildren(ctx, "root", first.NextPageToken)
	if err != nil {
		t.Fatalf("ListChildren failed: %v", err)
	}
	if len(second.Entries) != 1 || second.Entries[0].ID != "c" || second.NextPageToken != "" {
		t.Errorf("Unexpected second page %+v", second)
	}
}

func TestDocumentStore_Errors(t *testing.T) {
	m := NewDocumentStore(0)
	ctx := context.Background()
	m.AddFolder("root", "Root", "")
	m.AddFolder("secret", "Secret", "root")
	m.Deny("secret")

	if _, err := m.ListChildren(ctx, "secret", ""); !errors.Is(err, adapter.ErrPermissionDenied) {
		t.Errorf("Expected ErrPermissionDenied, got %v", err)
	}
	if _, err := m.ListChildren(ctx, "missing", ""); !errors.Is(err, adapter.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := m.Stat(ctx, "missing"); !errors.Is(err, adapter.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := m.Fetch(ctx, model.DocumentRef{ID: "root"}); !errors.Is(err, adapter.ErrNotFound) {
		t.Errorf("Fetching a folder should fail, got %v", err)
	}
}

func TestDocumentStore_FetchCounts(t *testing.T) {
	m := NewDocumentStore(0)
	m.AddFolder("root", "Root", "")
	m.AddFile("a", "a.pdf", "application/pdf", "root", []byte("%PDF"))

	c, err := m.Fetch(context.Background(), model.DocumentRef{ID: "a", RetrievalHandle: "a"})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(c.Data) != "%PDF" || c.MIMEType != "application/pdf" {
		t.Errorf("Unexpected content %+v", c)
	}
	if m.Fetches("a") != 1 {
		t.Errorf("Expected 1 fetch, got %d", m.Fetches("a"))
	}
}

func TestResultStore_SheetsAndRows(t *testing.T) {
	m := NewResultStore("Results")
	ctx := context.Background()

	created, err := m.EnsureSheet(ctx, "Invoices 2024", []string{"File ID"})
	if err != nil || !created {
		t.Fatalf("EnsureSheet = %v, %v", created, err)
	}
	if created, _ := m.EnsureSheet(ctx, "Invoices 2024", []string{"File ID"}); created {
		t.Error("Sheet should only be created once")
	}
	if err := m.AppendRows(ctx, "Missing", [][]string{{"x"}}); !errors.Is(err, adapter.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for a missing sheet, got %v", err)
	}
	if err := m.AppendRows(ctx, "Invoices 2024", [][]string{{"a"}, {"b"}, {"c"}}); err != nil {
		t.Fatalf("AppendRows failed: %v", err)
	}

	page, err := m.ReadRows(ctx, "Invoices 2024", "", 2)
	if err != nil {
		t.Fatalf("ReadRows failed: %v", err)
	}
	if len(page.Rows) != 2 || page.NextCursor != "2" {
		t.Fatalf("Unexpected page %+v", page)
	}
	page, err = m.ReadRows(ctx, "Invoices 2024", page.NextCursor, 2)
	if err != nil {
		t.Fatalf("ReadRows failed: %v", err)
	}
	if len(page.Rows) != 1 || page.Rows[0][0] != "c" || page.NextCursor != "" {
		t.Errorf("Unexpected last page %+v", page)
	}
	if m.AppendCalls() != 1 {
		t.Errorf("Expected 1 append call, got %d", m.AppendCalls())
	}
}
