package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/planmirror/internal/ir"
)

// createTestStore creates a new temp-dir backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testSyncTime = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

// createTestItem creates a planning item with minimal required fields.
func createTestItem(typ ir.ItemType, id string, version int64) ir.CanonicalItem {
	return ir.CanonicalItem{
		Source:       ir.SourcePlanning,
		Type:         typ,
		ExternalID:   id,
		Title:        "title " + id,
		Status:       "New",
		RawPayload:   ir.Document{"id": id},
		LastSyncedAt: testSyncTime,
		Version:      version,
	}
}
