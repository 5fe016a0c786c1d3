package testsupport

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/goliatone/go-record-service/record"
)

func TestLoadFixtureJSON(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "test.json")
	testData := map[string]any{
		"name":  "test",
		"value": 42,
	}

	jsonData, err := json.Marshal(testData)
	if err != nil {
		t.Fatalf("failed to marshal test data: %v", err)
	}
	if err := os.WriteFile(testFile, jsonData, 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	var result map[string]any
	LoadFixtureJSON(t, testFile, &result)

	if result["name"] != "test" {
		t.Errorf("expected name=test, got %v", result["name"])
	}
	if result["value"] != float64(42) {
		t.Errorf("expected value=42, got %v", result["value"])
	}
}

func TestCatalogFixtureDecodes(t *testing.T) {
	var inputs []record.NewRecord
	LoadFixtureJSON(t, FixturePath("records.json"), &inputs)

	if len(inputs) != 5 {
		t.Fatalf("expected 5 fixture records, got %d", len(inputs))
	}
	if inputs[2].Description != nil {
		t.Errorf("expected third fixture to have a null description")
	}
}

func TestSeedCatalog(t *testing.T) {
	s := NewStore(t)
	owner := SeedOwner(t, s, "seed@example.com")

	created := SeedCatalog(t, s, owner.ID)
	if len(created) != 5 {
		t.Fatalf("expected 5 records, got %d", len(created))
	}

	page, err := s.List(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(page) != 5 {
		t.Fatalf("expected 5 listed records, got %d", len(page))
	}
	if page[0].Owner == nil || page[0].Owner.Email != "seed@example.com" {
		t.Errorf("expected owner to be joined, got %+v", page[0].Owner)
	}
}

func TestFixturePath(t *testing.T) {
	if got := FixturePath("records.json"); got != filepath.Join("testdata", "records.json") {
		t.Errorf("unexpected fixture path %q", got)
	}
}
