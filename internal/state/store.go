// Package state persists the local state file shared by the credential store
// and the sync orchestrator.
//
// The file is a single human-readable JSON object holding the token set and
// the run state side by side. Every mutation rewrites it atomically (temp file
// in the same directory, fsync, rename) while holding an advisory file lock,
// so a crash mid-write leaves the previous version intact and two processes
// never interleave their read-modify-write cycles.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/jun/invoicescout/internal/model"
)

// File is the on-disk layout. Token and run fields are flattened into one object.
type File struct {
	model.RunState
	model.TokenSet
}

// Store reads and writes the state file.
type Store struct {
	path string
	lock *flock.Flock
	mu   sync.Mutex
}

// NewStore returns a Store for the given path. The file need not exist yet.
func NewStore(path string) *Store {
	return &Store{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the state file location.
func (s *Store) Path() string {
	return s.path
}

// Load returns the current state. A missing file yields an empty state.
func (s *Store) Load() (File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Update applies fn to the current state and persists the result atomically.
// Nothing is written when fn returns an error.
func (s *Store) Update(fn func(*File) error) (File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.acquire(); err != nil {
		return File{}, err
	}
	defer func() { _ = s.lock.Unlock() }()

	current, err := s.read()
	if err != nil {
		return File{}, err
	}
	if err := fn(&current); err != nil {
		return File{}, err
	}
	if err := s.write(current); err != nil {
		return File{}, err
	}
	return current, nil
}

// Remove deletes the state file. Removing a missing file is not an error.
func (s *Store) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.acquire(); err != nil {
		return err
	}
	defer func() { _ = s.lock.Unlock() }()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove state file: %w", err)
	}
	return nil
}

func (s *Store) acquire() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("ensure state directory: %w", err)
	}
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock state file: %w", err)
	}
	return nil
}

func (s *Store) read() (File, error) {
	var f File
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return f, fmt.Errorf("read state file: %w", err)
	}
	if len(data) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("parse state file %s: %w", s.path, err)
	}
	return f, nil
}

func (s *Store) write(f File) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
