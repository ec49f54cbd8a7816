package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTempDir(t *testing.T) {
	dir, cleanup := TempDir(t)
	defer cleanup()

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("TempDir returned dir that doesn't exist: %v", err)
	}
	if !info.IsDir() {
		t.Error("TempDir returned a file, not a directory")
	}
	if !strings.Contains(dir, "mcp-gateway-test-") {
		t.Errorf("TempDir name should contain 'mcp-gateway-test-', got: %s", dir)
	}
}

func TestWriteFile(t *testing.T) {
	dir, cleanup := TempDir(t)
	defer cleanup()

	content := "test content"
	path := WriteFile(t, dir, "test.txt", content)

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if info.IsDir() {
		t.Error("WriteFile created a directory, not a file")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read written file: %v", err)
	}
	if string(data) != content {
		t.Errorf("WriteFile content = %q, want %q", string(data), content)
	}
}

func TestWriteFileNested(t *testing.T) {
	dir, cleanup := TempDir(t)
	defer cleanup()

	content := "nested content"
	path := WriteFile(t, dir, "subdir/nested/test.txt", content)

	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Fatalf("Nested directory not created: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read nested file: %v", err)
	}
	if string(data) != content {
		t.Errorf("Nested file content = %q, want %q", string(data), content)
	}
}

func TestReadFileContent(t *testing.T) {
	dir, cleanup := TempDir(t)
	defer cleanup()

	content := "read me"
	path := WriteFile(t, dir, "read.txt", content)

	result := ReadFileContent(t, path)
	if result != content {
		t.Errorf("ReadFileContent = %q, want %q", result, content)
	}
}

func TestTempDirCleanup(t *testing.T) {
	dir, cleanup := TempDir(t)
	testDir := dir

	WriteFile(t, dir, "test.txt", "content")

	cleanup()

	if _, err := os.Stat(testDir); !os.IsNotExist(err) {
		t.Error("TempDir cleanup should have removed the directory")
	}
}
