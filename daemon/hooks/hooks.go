// Package hooks runs external shell commands at named lifecycle points and
// folds their exit codes into an allow/deny/ask/error decision. Shaped
// after the timeout-bounded command execution in daemon/lib/shell.go,
// generalized from "read a tool's stdout lines" to "run a hook to
// completion and classify its exit code".
package hooks

import (
	"bytes"
	"context"
	"os/exec"
	"regexp"
	"sync"
	"time"

	"github.com/mcp-gateway/gateway/daemon/gwerrors"
	"github.com/mcp-gateway/gateway/daemon/logger"
)

// Point is a named lifecycle point a hook can be registered against.
type Point string

const (
	PreToolUse       Point = "PreToolUse"
	PostToolUse      Point = "PostToolUse"
	UserPromptSubmit Point = "UserPromptSubmit"
	SessionStart     Point = "SessionStart"
	SessionEnd       Point = "SessionEnd"
)

// Decision is the outcome a hook's exit code maps to.
type Decision string

const (
	Allow         Decision = "allow"
	Deny          Decision = "deny"
	Ask           Decision = "ask"
	DecisionError Decision = "error"
)

// DefaultTimeout is how long a hook gets to run before it is force-killed
// and marked DecisionError.
const DefaultTimeout = 30 * time.Second

// Hook is one external command registered at a Point, gated by an
// optional selector matched against the tool name or a stably-serialized
// payload.
type Hook struct {
	Point    Point
	Command  string
	Args     []string
	Selector *regexp.Regexp // nil matches everything
	Timeout  time.Duration  // 0 means DefaultTimeout
}

// Result is one hook's outcome.
type Result struct {
	Hook     Hook
	Decision Decision
	Stdout   string
	Stderr   string
	Err      error
}

// Executor holds hooks registered per lifecycle point and runs them
// sequentially, in registration order, never short-circuiting on a deny
// or error: callers decide how to combine results.
type Executor struct {
	mu    sync.Mutex
	hooks map[Point][]Hook
}

// New builds an empty Executor.
func New() *Executor {
	return &Executor{hooks: make(map[Point][]Hook)}
}

// Register appends a hook to the point it targets.
func (e *Executor) Register(h Hook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hooks[h.Point] = append(e.hooks[h.Point], h)
}

// Hooks returns the hooks registered at point, in registration order.
func (e *Executor) Hooks(point Point) []Hook {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Hook, len(e.hooks[point]))
	copy(out, e.hooks[point])
	return out
}

// matches reports whether h's selector matches toolName or payload. A nil
// selector always matches.
func (h Hook) matches(toolName string, payload []byte) bool {
	if h.Selector == nil {
		return true
	}
	return h.Selector.MatchString(toolName) || h.Selector.Match(payload)
}

// Run executes every hook registered at point whose selector matches
// toolName/payload, sequentially in registration order. It never stops
// early: a deny or error from one hook does not prevent the next from
// running.
func (e *Executor) Run(ctx context.Context, point Point, toolName string, payload []byte) []Result {
	candidates := e.Hooks(point)
	results := make([]Result, 0, len(candidates))
	for _, h := range candidates {
		if !h.matches(toolName, payload) {
			continue
		}
		results = append(results, e.runOne(ctx, h))
	}
	return results
}

func (e *Executor) runOne(ctx context.Context, h Hook) Result {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, h.Command, h.Args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		logger.Warning("hook %s at %s timed out after %v", h.Command, h.Point, timeout)
		return Result{Hook: h, Decision: DecisionError, Stdout: stdout.String(), Stderr: stderr.String(),
			Err: gwerrors.New(gwerrors.KindTimeout, "hook %s timed out after %v", h.Command, timeout)}
	}

	return Result{Hook: h, Decision: classify(err), Stdout: stdout.String(), Stderr: stderr.String(), Err: err}
}

// classify maps a hook's exit code to a Decision: 0 allows, 1 denies, 2
// asks for confirmation, anything else (including a non-ExitError failure
// to start) is an error.
func classify(err error) Decision {
	if err == nil {
		return Allow
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return DecisionError
	}
	switch exitErr.ExitCode() {
	case 1:
		return Deny
	case 2:
		return Ask
	default:
		return DecisionError
	}
}
