// Package memory provides in-process DocumentStore and ResultStore
// implementations, used by tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jun/invoicescout/internal/adapter"
	"github.com/jun/invoicescout/internal/model"
)

const defaultPageSize = 100

type node struct {
	entry   adapter.Entry
	parent  string
	content []byte
}

// DocumentStore is an in-memory file tree.
type DocumentStore struct {
	mu       sync.RWMutex
	nodes    map[string]*node
	denied   map[string]bool
	failing  map[string]error
	fetches  map[string]int
	pageSize int
}

// NewDocumentStore creates an empty tree. pageSize <= 0 uses 100.
func NewDocumentStore(pageSize int) *DocumentStore {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &DocumentStore{
		nodes:    make(map[string]*node),
		denied:   make(map[string]bool),
		failing:  make(map[string]error),
		fetches:  make(map[string]int),
		pageSize: pageSize,
	}
}

// AddFolder adds a folder under parent ("" for a top-level folder).
func (m *DocumentStore) AddFolder(id, name, parent string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[id] = &node{
		entry:  adapter.Entry{ID: id, Name: name, MIMEType: adapter.FolderMIMEType, ModifiedTime: time.Now()},
		parent: parent,
	}
}

// AddFile adds a file under parent.
func (m *DocumentStore) AddFile(id, name, mimeType, parent string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[id] = &node{
		entry: adapter.Entry{
			ID:           id,
			Name:         name,
			MIMEType:     mimeType,
			ModifiedTime: time.Now(),
			Size:         int64(len(content)),
			WebViewLink:  "memory://" + id,
		},
		parent:  parent,
		content: content,
	}
}

// Deny makes listing folderID fail with ErrPermissionDenied.
func (m *DocumentStore) Deny(folderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.denied[folderID] = true
}

// FailFetch makes fetching id return err.
func (m *DocumentStore) FailFetch(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing[id] = err
}

// Fetches returns how often the document was downloaded.
func (m *DocumentStore) Fetches(id string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fetches[id]
}

// ListChildren lists the children of folderID ordered by name.
func (m *DocumentStore) ListChildren(_ context.Context, folderID, pageToken string) (adapter.EntryPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.denied[folderID] {
		return adapter.EntryPage{}, fmt.Errorf("list %s: %w", folderID, adapter.ErrPermissionDenied)
	}
	if n, ok := m.nodes[folderID]; !ok || !n.entry.IsFolder() {
		return adapter.EntryPage{}, fmt.Errorf("list %s: %w", folderID, adapter.ErrNotFound)
	}

	var children []adapter.Entry
	for _, n := range m.nodes {
		if n.parent == folderID {
			children = append(children, n.entry)
		}
	}
	return m.page(children, pageToken)
}

// ListFolders lists every folder ordered by name.
func (m *DocumentStore) ListFolders(_ context.Context, pageToken string) (adapter.EntryPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var folders []adapter.Entry
	for _, n := range m.nodes {
		if n.entry.IsFolder() {
			folders = append(folders, n.entry)
		}
	}
	return m.page(folders, pageToken)
}

func (m *DocumentStore) page(entries []adapter.Entry, pageToken string) (adapter.EntryPage, error) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Name == entries[j].Name {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].Name < entries[j].Name
	})
	start := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil || n < 0 || n > len(entries) {
			return adapter.EntryPage{}, fmt.Errorf("invalid page token %q", pageToken)
		}
		start = n
	}
	end := min(start+m.pageSize, len(entries))
	page := adapter.EntryPage{Entries: append([]adapter.Entry(nil), entries[start:end]...)}
	if end < len(entries) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

// Stat returns the entry for id.
func (m *DocumentStore) Stat(_ context.Context, id string) (adapter.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[id]
	if !ok {
		return adapter.Entry{}, adapter.ErrNotFound
	}
	return n.entry, nil
}

// Fetch returns a copy of the document content.
func (m *DocumentStore) Fetch(_ context.Context, doc model.DocumentRef) (adapter.Content, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := doc.RetrievalHandle
	if id == "" {
		id = doc.ID
	}
	n, ok := m.nodes[id]
	if !ok || n.entry.IsFolder() {
		return adapter.Content{}, adapter.ErrNotFound
	}
	m.fetches[id]++
	if err := m.failing[id]; err != nil {
		return adapter.Content{}, err
	}
	return adapter.Content{Data: append([]byte(nil), n.content...), MIMEType: n.entry.MIMEType}, nil
}
