package storage

import (
	"sync"

	"github.com/scott0229/scott-agent-sub000/internal/models"
)

// MockStorage implements Interface for testing.
type MockStorage struct {
	mu          sync.Mutex
	underlyings map[string]int64
	options     map[string]int64

	saveError     error
	loadError     error
	setError      error
	saveCallCount int
	setCallCount  int
}

// NewMockStorage creates a new mock storage for testing.
func NewMockStorage() *MockStorage {
	return &MockStorage{
		underlyings: make(map[string]int64),
		options:     make(map[string]int64),
	}
}

// UnderlyingConID returns a seeded or recorded identifier.
func (m *MockStorage) UnderlyingConID(symbol string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.underlyings[symbol]
	return id, ok
}

// SetUnderlyingConID records an identifier, honoring any injected error.
func (m *MockStorage) SetUnderlyingConID(symbol string, conID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCallCount++
	if m.setError != nil {
		return m.setError
	}
	m.underlyings[symbol] = conID
	return nil
}

// OptionConID returns a seeded or recorded identifier.
func (m *MockStorage) OptionConID(contract models.OptionContract) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.options[contract.CacheKey()]
	return id, ok
}

// SetOptionConID records an identifier, honoring any injected error.
func (m *MockStorage) SetOptionConID(contract models.OptionContract, conID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCallCount++
	if m.setError != nil {
		return m.setError
	}
	m.options[contract.CacheKey()] = conID
	return nil
}

// ConIDCount reports the total number of recorded identifiers.
func (m *MockStorage) ConIDCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.underlyings) + len(m.options)
}

// Save honors any injected error.
func (m *MockStorage) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCallCount++
	return m.saveError
}

// Load honors any injected error.
func (m *MockStorage) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadError
}

// Mock control methods for testing.

// SetSaveError injects an error for Save calls.
func (m *MockStorage) SetSaveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveError = err
}

// SetLoadError injects an error for Load calls.
func (m *MockStorage) SetLoadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadError = err
}

// SetWriteError injects an error for SetUnderlyingConID/SetOptionConID.
func (m *MockStorage) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setError = err
}

// GetSaveCallCount reports how many times Save was called.
func (m *MockStorage) GetSaveCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveCallCount
}

// GetSetCallCount reports how many identifier writes were attempted.
func (m *MockStorage) GetSetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setCallCount
}

// SeedUnderlying preloads an underlying identifier.
func (m *MockStorage) SeedUnderlying(symbol string, conID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.underlyings[symbol] = conID
}

// SeedOption preloads an option identifier.
func (m *MockStorage) SeedOption(contract models.OptionContract, conID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.options[contract.CacheKey()] = conID
}

// Ensure MockStorage implements Interface
var _ Interface = (*MockStorage)(nil)
