package sandbox

import (
	"strings"
	"testing"

	"github.com/mcp-gateway/gateway/daemon/catalog"
)

func TestAuditTemplate_FlagsHighEntropyEnv(t *testing.T) {
	tmpl := catalog.ServiceTemplate{
		Name:      "svc",
		Transport: catalog.TransportStdio,
		Command:   "./svc",
		Env: map[string]string{
			"API_KEY": "sk-9f2KxQ7mP3vL8wZ1aR6tY4nB0cD5eJ2h",
		},
	}
	report := AuditTemplate(DefaultPolicy(), tmpl)
	found := false
	for _, f := range report.Findings {
		if strings.Contains(f.Message, "API_KEY") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a finding for the high-entropy API_KEY value, got %+v", report.Findings)
	}
}

func TestAuditTemplate_IgnoresReferencesAndShortValues(t *testing.T) {
	tmpl := catalog.ServiceTemplate{
		Name:      "svc",
		Transport: catalog.TransportStdio,
		Command:   "./svc",
		Env: map[string]string{
			"API_KEY":  "${OPENAI_API_KEY}",
			"LOG_MODE": "VERBOSE",
			"SHORT":    "abc123",
		},
	}
	report := AuditTemplate(DefaultPolicy(), tmpl)
	if len(report.Findings) != 0 {
		t.Fatalf("expected no findings for reference/short env values, got %+v", report.Findings)
	}
}

func TestAuditTemplate_FlagsUnsandboxedNpm(t *testing.T) {
	tmpl := catalog.ServiceTemplate{
		Name:      "svc",
		Transport: catalog.TransportStdio,
		Command:   "npx",
		Args:      []string{"-y", "some-mcp-server"},
	}
	report := AuditTemplate(DefaultPolicy(), tmpl)
	found := false
	for _, f := range report.Findings {
		if strings.Contains(f.Message, "sandbox isolation") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an info finding about missing sandbox isolation, got %+v", report.Findings)
	}
}

func TestAuditTemplate_FlagsAllowShell(t *testing.T) {
	tmpl := catalog.ServiceTemplate{
		Name:      "svc",
		Transport: catalog.TransportStdio,
		Command:   "./svc",
		Security:  catalog.SecuritySpec{AllowShell: true},
	}
	report := AuditTemplate(DefaultPolicy(), tmpl)
	if len(report.Findings) != 1 || !strings.Contains(report.Findings[0].Message, "allowShell") {
		t.Fatalf("expected one allowShell finding, got %+v", report.Findings)
	}
}

func TestShannonEntropy_EmptyIsZero(t *testing.T) {
	if e := shannonEntropy(""); e != 0 {
		t.Fatalf("expected 0 entropy for empty string, got %v", e)
	}
}

func TestShannonEntropy_RepeatedCharIsZero(t *testing.T) {
	if e := shannonEntropy("aaaaaaaaaaaaaaaa"); e != 0 {
		t.Fatalf("expected 0 entropy for a repeated character, got %v", e)
	}
}
