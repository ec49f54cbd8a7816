package sandbox

import (
	"math"
	"strconv"
	"strings"

	"github.com/mcp-gateway/gateway/daemon/catalog"
)

// AuditFinding is one concern the auditor raised about a template. It is
// advisory: the auditor never blocks Apply, it only feeds additional
// reasons an operator can act on (spec.md §2 lists the auditor as "used by
// sandbox policy; not in the hot path").
type AuditFinding struct {
	Severity string // "info" | "warning"
	Message  string
}

// AuditReport is the auditor's output for one template.
type AuditReport struct {
	Findings []AuditFinding
}

// HighEntropyThreshold is the Shannon-entropy-per-character cutoff above
// which a bare env value looks like an embedded secret rather than a
// literal config value, prompting a warning to move it to an
// environment-referenced form instead.
const HighEntropyThreshold = 3.5

// MinSecretLikeLength bounds how short a string can be before entropy
// alone is too noisy a signal (e.g. "abc123" scores high per-character
// entropy purely from its length).
const MinSecretLikeLength = 16

// AuditTemplate inspects a template's declared command, args, and env for
// two concerns: (1) env values that look like embedded high-entropy
// secrets rather than references (`${VAR}` or an env-var name), and (2)
// commands that resemble package-manager invocations without the
// portable-sandbox or container isolation the policy would otherwise
// apply, so an operator can see why a template got (or didn't get)
// quarantined.
func AuditTemplate(policy Policy, tmpl catalog.ServiceTemplate) AuditReport {
	var report AuditReport

	for k, v := range tmpl.Env {
		if looksLikeReference(v) {
			continue
		}
		if entropy := shannonEntropy(v); len(v) >= MinSecretLikeLength && entropy >= HighEntropyThreshold {
			report.Findings = append(report.Findings, AuditFinding{
				Severity: "warning",
				Message: "env " + k + " looks like an embedded secret (entropy " +
					strconv.FormatFloat(entropy, 'f', 2, 64) + " bits/char); prefer an environment-referenced value",
			})
		}
	}

	if looksLikeNpm(tmpl.Command, tmpl.Args) && tmpl.Env["SANDBOX"] == "" && tmpl.Container == nil {
		report.Findings = append(report.Findings, AuditFinding{
			Severity: "info",
			Message: "package-manager-shaped command with no sandbox isolation declared; the default profile will " +
				"apply portable-sandbox env hints automatically, locked-down will quarantine into a container",
		})
	}

	if tmpl.Security.AllowShell {
		report.Findings = append(report.Findings, AuditFinding{
			Severity: "warning",
			Message: "template opts into shell execution (security.allowShell); the command allow-list no longer applies",
		})
	}

	return report
}

// looksLikeReference reports whether v is already a reference form rather
// than a literal value: `${NAME}`, `$NAME`, or an all-caps identifier that
// reads as an env-var name rather than a secret value.
func looksLikeReference(v string) bool {
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		return true
	}
	if strings.HasPrefix(v, "$") {
		return true
	}
	if v == strings.ToUpper(v) && !strings.ContainsAny(v, " \t/\\") {
		return true
	}
	return false
}

// shannonEntropy returns the Shannon entropy of s in bits per character,
// the standard per-byte-frequency estimator used to flag random-looking
// strings (API keys, tokens) without parsing any particular key format.
func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	counts := make(map[rune]int)
	for _, r := range s {
		counts[r]++
	}
	n := float64(len(s))
	var entropy float64
	for _, c := range counts {
		p := float64(c) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}
