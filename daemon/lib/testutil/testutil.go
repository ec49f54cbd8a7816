// Package testutil provides small filesystem helpers shared by package
// tests across the gateway.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// TempDir creates a temporary directory and returns its path and a cleanup function.
func TempDir(t *testing.T) (string, func()) {
	t.Helper()
	dir, err := os.MkdirTemp("", "mcp-gateway-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	return dir, func() {
		//nolint:gosec,errcheck // G104: Cleanup in tests - errors are acceptable
		_ = os.RemoveAll(dir)
	}
}

// WriteFile writes content to a file in the given directory.
func WriteFile(t *testing.T, dir, filename, content string) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	//nolint:gosec // G301: Test directory permissions - 0755 is acceptable for tests
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	//nolint:gosec // G306: Test file permissions - 0644 is acceptable for tests
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write file %s: %v", path, err)
	}
	return path
}

// ReadFileContent reads file content or fails the test.
func ReadFileContent(t *testing.T, path string) string {
	t.Helper()
	//nolint:gosec // G304: Test utility - path comes from test code, not user input
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(data)
}
