package storage

import (
	"fmt"
	"testing"

	"github.com/scott0229/scott-agent-sub000/internal/models"
)

// TestInterface runs the shared contract against both implementations.
func TestInterface(t *testing.T) {
	t.Run("MockStorage", func(t *testing.T) {
		testInterface(t, NewMockStorage())
	})

	t.Run("JSONStorage", func(t *testing.T) {
		s, err := NewJSONStorage(fmt.Sprintf("%s/contracts.json", t.TempDir()))
		if err != nil {
			t.Fatalf("Failed to create JSON storage: %v", err)
		}
		testInterface(t, s)
	})
}

// testInterface runs common tests on any storage implementation.
func testInterface(t *testing.T, s Interface) {
	if got := s.ConIDCount(); got != 0 {
		t.Errorf("Expected empty store, got %d entries", got)
	}

	if err := s.SetUnderlyingConID("QQQ", 320227571); err != nil {
		t.Fatalf("Failed to set underlying conid: %v", err)
	}
	id, ok := s.UnderlyingConID("QQQ")
	if !ok || id != 320227571 {
		t.Errorf("UnderlyingConID(QQQ) = %d, %v; want 320227571, true", id, ok)
	}

	// Lookups are exact on symbol.
	if _, ok := s.UnderlyingConID("SPY"); ok {
		t.Error("Expected miss for unknown symbol")
	}

	call := models.OptionContract{Symbol: "QQQ", Expiry: "20260220", Strike: 590, Right: models.RightCall}
	put := models.OptionContract{Symbol: "QQQ", Expiry: "20260220", Strike: 590, Right: models.RightPut}

	if err := s.SetOptionConID(call, 731000001); err != nil {
		t.Fatalf("Failed to set option conid: %v", err)
	}
	if err := s.SetOptionConID(put, 731000002); err != nil {
		t.Fatalf("Failed to set option conid: %v", err)
	}

	// Call and put at the same strike are distinct contracts.
	if id, ok := s.OptionConID(call); !ok || id != 731000001 {
		t.Errorf("OptionConID(call) = %d, %v; want 731000001, true", id, ok)
	}
	if id, ok := s.OptionConID(put); !ok || id != 731000002 {
		t.Errorf("OptionConID(put) = %d, %v; want 731000002, true", id, ok)
	}

	// Re-setting a key overwrites rather than duplicating.
	if err := s.SetOptionConID(call, 731000099); err != nil {
		t.Fatalf("Failed to overwrite option conid: %v", err)
	}
	if id, _ := s.OptionConID(call); id != 731000099 {
		t.Errorf("OptionConID after overwrite = %d, want 731000099", id)
	}

	if got := s.ConIDCount(); got != 3 {
		t.Errorf("ConIDCount() = %d, want 3", got)
	}

	if err := s.Save(); err != nil {
		t.Errorf("Save() error = %v", err)
	}
}

// TestMockStorageSpecificFeatures tests mock-specific features.
func TestMockStorageSpecificFeatures(t *testing.T) {
	mock := NewMockStorage()

	// Test error injection
	testErr := &MockError{"test save error"}
	mock.SetSaveError(testErr)

	if err := mock.Save(); err != testErr {
		t.Errorf("Expected injected save error, got %v", err)
	}

	// Test call counting
	mock.SetSaveError(nil)
	if err := mock.Save(); err != nil {
		t.Errorf("Unexpected save error: %v", err)
	}
	if err := mock.Save(); err != nil {
		t.Errorf("Unexpected save error: %v", err)
	}
	if mock.GetSaveCallCount() != 3 { // 2 new + 1 from error test
		t.Errorf("Expected 3 save calls, got %d", mock.GetSaveCallCount())
	}

	// Test write error injection on setters
	writeErr := &MockError{"test write error"}
	mock.SetWriteError(writeErr)
	if err := mock.SetUnderlyingConID("QQQ", 1); err != writeErr {
		t.Errorf("Expected injected write error, got %v", err)
	}
	mock.SetWriteError(nil)

	// Test data seeding
	mock.SeedUnderlying("SPY", 756733)
	if id, ok := mock.UnderlyingConID("SPY"); !ok || id != 756733 {
		t.Errorf("Seeded conid = %d, %v; want 756733, true", id, ok)
	}
}

// MockError is a simple error type for testing
type MockError struct {
	message string
}

func (e *MockError) Error() string {
	return e.message
}

// TestInterfaceCompliance ensures all implementations satisfy the interface
func TestInterfaceCompliance(t *testing.T) {
	var _ Interface = (*MockStorage)(nil)
	var _ Interface = (*JSONStorage)(nil)

	// Test factory function
	tmpFile := fmt.Sprintf("%s/factory.json", t.TempDir())
	storage, err := NewStorage(tmpFile)
	if err != nil {
		t.Fatalf("Factory function failed: %v", err)
	}
	_ = storage
}
