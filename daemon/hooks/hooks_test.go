package hooks

import (
	"context"
	"regexp"
	"testing"
	"time"
)

func TestRunAllowOnExitZero(t *testing.T) {
	e := New()
	e.Register(Hook{Point: PreToolUse, Command: "true"})

	results := e.Run(context.Background(), PreToolUse, "any-tool", nil)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Decision != Allow {
		t.Errorf("expected Allow, got %v (err=%v)", results[0].Decision, results[0].Err)
	}
}

func TestRunDenyOnExitOne(t *testing.T) {
	e := New()
	e.Register(Hook{Point: PreToolUse, Command: "sh", Args: []string{"-c", "exit 1"}})

	results := e.Run(context.Background(), PreToolUse, "any-tool", nil)
	if results[0].Decision != Deny {
		t.Errorf("expected Deny, got %v", results[0].Decision)
	}
}

func TestRunAskOnExitTwo(t *testing.T) {
	e := New()
	e.Register(Hook{Point: PreToolUse, Command: "sh", Args: []string{"-c", "exit 2"}})

	results := e.Run(context.Background(), PreToolUse, "any-tool", nil)
	if results[0].Decision != Ask {
		t.Errorf("expected Ask, got %v", results[0].Decision)
	}
}

func TestRunErrorOnOtherExitCode(t *testing.T) {
	e := New()
	e.Register(Hook{Point: PreToolUse, Command: "sh", Args: []string{"-c", "exit 7"}})

	results := e.Run(context.Background(), PreToolUse, "any-tool", nil)
	if results[0].Decision != DecisionError {
		t.Errorf("expected DecisionError, got %v", results[0].Decision)
	}
}

func TestRunTimesOutAndForceKills(t *testing.T) {
	e := New()
	e.Register(Hook{Point: PreToolUse, Command: "sleep", Args: []string{"5"}, Timeout: 20 * time.Millisecond})

	start := time.Now()
	results := e.Run(context.Background(), PreToolUse, "any-tool", nil)
	if time.Since(start) > 2*time.Second {
		t.Fatal("expected the hook to be force-killed well before the sleep finished")
	}
	if results[0].Decision != DecisionError {
		t.Errorf("expected DecisionError on timeout, got %v", results[0].Decision)
	}
}

func TestRunSkipsNonMatchingSelector(t *testing.T) {
	e := New()
	e.Register(Hook{Point: PreToolUse, Command: "true", Selector: regexp.MustCompile(`^disk:`)})

	results := e.Run(context.Background(), PreToolUse, "network:list", nil)
	if len(results) != 0 {
		t.Errorf("expected no hooks to run for a non-matching tool name, got %d", len(results))
	}
}

func TestRunDoesNotShortCircuitOnDeny(t *testing.T) {
	e := New()
	e.Register(Hook{Point: PreToolUse, Command: "sh", Args: []string{"-c", "exit 1"}})
	e.Register(Hook{Point: PreToolUse, Command: "true"})

	results := e.Run(context.Background(), PreToolUse, "any-tool", nil)
	if len(results) != 2 {
		t.Fatalf("expected both hooks to run, got %d results", len(results))
	}
	if results[0].Decision != Deny {
		t.Errorf("expected first hook to deny, got %v", results[0].Decision)
	}
	if results[1].Decision != Allow {
		t.Errorf("expected second hook to still run and allow, got %v", results[1].Decision)
	}
}

func TestRunMatchesPayload(t *testing.T) {
	e := New()
	e.Register(Hook{Point: PreToolUse, Command: "true", Selector: regexp.MustCompile(`"disk":"sda"`)})

	results := e.Run(context.Background(), PreToolUse, "array:status", []byte(`{"disk":"sda"}`))
	if len(results) != 1 {
		t.Fatalf("expected the hook to match on payload content, got %d results", len(results))
	}
}
