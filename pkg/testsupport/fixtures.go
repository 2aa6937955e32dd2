// Package testsupport holds helpers shared by the package tests: fixture
// loaders and an in-memory Remote Endpoint.
package testsupport

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/gabrielgits/crudrepo/record"
)

// LoadFixture reads a fixture file relative to the test package directory.
func LoadFixture(t *testing.T, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to load fixture from %s: %v", path, err)
	}
	return data
}

// LoadFixtureJSON unmarshals a JSON fixture into dest.
func LoadFixtureJSON(t *testing.T, path string, dest any) {
	t.Helper()

	data := LoadFixture(t, path)
	if err := json.Unmarshal(data, dest); err != nil {
		t.Fatalf("failed to unmarshal JSON fixture from %s: %v", path, err)
	}
}

// LoadRecords reads a JSON array of records. Every record must carry an id.
func LoadRecords(t *testing.T, path string) []record.Fields {
	t.Helper()

	var items []record.Fields
	LoadFixtureJSON(t, path, &items)
	for i, item := range items {
		if _, ok := item.ID(); !ok {
			t.Fatalf("fixture %s: record %d has no %q", path, i, record.IDField)
		}
	}
	return items
}

// FixturePath joins filename onto the package testdata directory.
func FixturePath(filename string) string {
	return filepath.Join("testdata", filename)
}

// WriteTempFile writes content to name inside a per-test directory and
// returns the full path. The directory is removed with the test.
func WriteTempFile(t *testing.T, name string, content []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("failed to write temp file %s: %v", path, err)
	}
	return path
}
