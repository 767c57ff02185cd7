package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/scott0229/scott-agent-sub000/internal/models"
)

// JSONStorage persists resolved contract identifiers to a single JSON
// file. Writes go through a temp file and an atomic rename so a crash
// mid-save never corrupts the store. An empty filepath gives an
// ephemeral in-memory store (used by tests and the integration harness).
type JSONStorage struct {
	mu       sync.RWMutex
	filepath string
	data     *storeData
}

type storeData struct {
	Underlyings map[string]int64 `json:"underlyings"`
	Options     map[string]int64 `json:"options"`
	LastUpdated time.Time        `json:"last_updated"`
}

// NewJSONStorage creates a contract store backed by filepath, loading
// existing data if the file is present.
func NewJSONStorage(filepath string) (*JSONStorage, error) {
	s := &JSONStorage{
		filepath: filepath,
		data: &storeData{
			Underlyings: make(map[string]int64),
			Options:     make(map[string]int64),
		},
	}

	if filepath == "" {
		return s, nil
	}
	if _, err := os.Stat(filepath); err == nil {
		if err := s.Load(); err != nil {
			return nil, fmt.Errorf("loading contract store: %w", err)
		}
	}
	return s, nil
}

// Load replaces in-memory state with the file's contents.
func (s *JSONStorage) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.filepath == "" {
		return nil
	}
	raw, err := os.ReadFile(s.filepath)
	if err != nil {
		return err
	}

	loaded := &storeData{}
	if err := json.Unmarshal(raw, loaded); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}
	if loaded.Underlyings == nil {
		loaded.Underlyings = make(map[string]int64)
	}
	if loaded.Options == nil {
		loaded.Options = make(map[string]int64)
	}
	s.data = loaded
	return nil
}

// Save writes the store to disk via a temp file and atomic rename.
// Ephemeral stores save to nowhere and report success.
func (s *JSONStorage) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.filepath == "" {
		return nil
	}
	s.data.LastUpdated = time.Now()

	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	tmpFile := s.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpFile, s.filepath)
}

// UnderlyingConID returns the cached identifier for an underlying.
func (s *JSONStorage) UnderlyingConID(symbol string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.data.Underlyings[symbol]
	return id, ok
}

// SetUnderlyingConID records an underlying's identifier and writes
// through to disk.
func (s *JSONStorage) SetUnderlyingConID(symbol string, conID int64) error {
	s.mu.Lock()
	s.data.Underlyings[symbol] = conID
	s.mu.Unlock()

	return s.Save()
}

// OptionConID returns the cached identifier for an option contract.
func (s *JSONStorage) OptionConID(contract models.OptionContract) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.data.Options[contract.CacheKey()]
	return id, ok
}

// SetOptionConID records an option contract's identifier and writes
// through to disk.
func (s *JSONStorage) SetOptionConID(contract models.OptionContract, conID int64) error {
	s.mu.Lock()
	s.data.Options[contract.CacheKey()] = conID
	s.mu.Unlock()

	return s.Save()
}

// ConIDCount reports the total number of cached identifiers.
func (s *JSONStorage) ConIDCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data.Underlyings) + len(s.data.Options)
}
