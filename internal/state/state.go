// Package state persists the small amount of local device state the sync
// layer needs across restarts: the active share URL and role, the shared
// zone, the last daily-reset date, the local data-format version and the
// one-time migration flag.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StateFileName is the name of the state file inside the data directory.
const StateFileName = "sync-state.json"

// LocalState is everything persisted in local key-value storage.
type LocalState struct {
	ShareURL        string     `json:"shareUrl,omitempty"`
	IsOwner         bool       `json:"isOwner,omitempty"`
	SharedZoneName  string     `json:"sharedZoneName,omitempty"`
	SharedZoneOwner string     `json:"sharedZoneOwner,omitempty"`
	LastResetDate   *time.Time `json:"lastResetDate,omitempty"`
	DataFormat      string     `json:"dataFormat,omitempty"`
	MigrationDone   bool       `json:"migrationDone,omitempty"`
}

// Store persists LocalState.
type Store interface {
	// Load reads the persisted state, returning an empty state when none
	// has been written yet.
	Load(ctx context.Context) (*LocalState, error)

	// Save persists the state.
	Save(ctx context.Context, st *LocalState) error

	// Update applies fn to the persisted state and writes it back.
	Update(ctx context.Context, fn func(st *LocalState)) error
}

// fileStore implements Store on a JSON file with atomic writes.
type fileStore struct {
	mu       sync.Mutex
	basePath string
}

// NewFileStore creates a file-backed store rooted at basePath.
func NewFileStore(basePath string) Store {
	return &fileStore{basePath: basePath}
}

func (f *fileStore) path() string {
	return filepath.Join(f.basePath, StateFileName)
}

func (f *fileStore) Load(_ context.Context) (*LocalState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadLocked()
}

func (f *fileStore) loadLocked() (*LocalState, error) {
	// #nosec G304 -- path is basePath + fixed file name
	data, err := os.ReadFile(f.path())
	if err != nil {
		if os.IsNotExist(err) {
			return &LocalState{}, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var st LocalState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state file: %w", err)
	}
	return &st, nil
}

func (f *fileStore) Save(_ context.Context, st *LocalState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saveLocked(st)
}

func (f *fileStore) saveLocked(st *LocalState) error {
	if err := os.MkdirAll(f.basePath, 0750); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	// Write to a temporary file first for an atomic replace.
	tempPath := f.path() + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary state file: %w", err)
	}
	if err := os.Rename(tempPath, f.path()); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename state file: %w", err)
	}
	return nil
}

func (f *fileStore) Update(_ context.Context, fn func(st *LocalState)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, err := f.loadLocked()
	if err != nil {
		return err
	}
	fn(st)
	return f.saveLocked(st)
}

// memStore implements Store in memory for tests.
type memStore struct {
	mu sync.Mutex
	st LocalState
}

// NewMemStore creates an in-memory store.
func NewMemStore() Store {
	return &memStore{}
}

func (m *memStore) Load(_ context.Context) (*LocalState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := m.st
	return &cp, nil
}

func (m *memStore) Save(_ context.Context, st *LocalState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = *st
	return nil
}

func (m *memStore) Update(_ context.Context, fn func(st *LocalState)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.st)
	return nil
}
