package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mcp-gateway/gateway/daemon/catalog"
)

func TestExportImportINIRoundTrip(t *testing.T) {
	r := newTestRegistry()
	original := catalog.ServiceTemplate{
		Name:      "weather",
		Transport: catalog.TransportStdio,
		Command:   "./weather-mcp",
		Args:      []string{"--region", "eu"},
		Trust:     catalog.TrustTrusted,
		Env:       map[string]string{"API_KEY": "${WEATHER_API_KEY}"},
		Container: &catalog.ContainerSpec{Image: "weather-mcp:latest", Network: "none"},
	}
	if err := r.Register(original); err != nil {
		t.Fatalf("Register: %v", err)
	}

	path := filepath.Join(t.TempDir(), "templates.ini")
	if err := r.ExportINI(path); err != nil {
		t.Fatalf("ExportINI: %v", err)
	}

	r2 := newTestRegistry()
	n, err := r2.ImportINI(path)
	if err != nil {
		t.Fatalf("ImportINI: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 imported template, got %d", n)
	}

	got, ok := r2.Get("weather")
	if !ok {
		t.Fatal("expected weather template to round-trip")
	}
	if got.Command != original.Command {
		t.Errorf("command: got %q want %q", got.Command, original.Command)
	}
	if len(got.Args) != 2 || got.Args[0] != "--region" || got.Args[1] != "eu" {
		t.Errorf("args: got %+v", got.Args)
	}
	if got.Trust != catalog.TrustTrusted {
		t.Errorf("trust: got %q", got.Trust)
	}
	if got.Env["API_KEY"] != "${WEATHER_API_KEY}" {
		t.Errorf("env API_KEY: got %+v", got.Env)
	}
	if got.Container == nil || got.Container.Image != "weather-mcp:latest" {
		t.Errorf("container: got %+v", got.Container)
	}
}

func TestImportINIRejectsInvalidTemplate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.ini")
	content := "[broken]\ntransport = stdio\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r := newTestRegistry()
	if _, err := r.ImportINI(path); err == nil {
		t.Fatal("expected an error importing a stdio section with no command")
	}
}

func TestImportINIMissingFile(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.ImportINI(filepath.Join(t.TempDir(), "missing.ini")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
