package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/mcp-gateway/gateway/daemon/gwerrors"
	"github.com/mcp-gateway/gateway/daemon/logger"
)

// commandAllowList restricts which executables the stdio adapter may spawn
// on platforms where it would otherwise be tempting to invoke a shell
// . Direct program invocation (no shell) is the default per
// design note 9.1; AllowShell opts a template into shell features.
var commandAllowList = map[string]bool{
	"node": true, "npm": true, "npx": true,
	"python": true, "python3": true, "pip": true, "pip3": true,
	"go": true, "deno": true, "bun": true,
	"docker": true, "podman": true,
	"uvx": true, "uv": true,
}

// envHintPattern matches stderr lines that typically indicate a missing
// environment variable, so callers can surface actionable diagnostics.
var envHintPattern = regexp.MustCompile(`(?i)(missing|required|undefined).{0,40}(env|environment variable|api[_ -]?key)`)

// StdioConfig configures a StdioAdapter.
type StdioConfig struct {
	Command string
	Args    []string
	Env     map[string]string
	WorkDir string

	// ProjectRoot and SandboxRoots bound WorkDir confinement .
	ProjectRoot  string
	SandboxRoots []string

	// AllowShell opts out of the command allow-list check for templates
	// that genuinely need shell features (design note 9.1).
	AllowShell bool

	// Portable sandbox runtime roots, consulted when Env["SANDBOX"] == "portable".
	NodeDir, PythonDir, GoDir string
	GOPATH, GOBIN             string
	OfflineOnly               bool
	PackagesDir               string
}

// StdioAdapter spawns a child process and speaks newline-delimited JSON-RPC
// over its stdin/stdout, the same way an existing stdio transport does for
// inbound connections, generalized here to dial out to a downstream MCP
// peer instead of serving one.
type StdioAdapter struct {
	cfg StdioConfig

	mu      sync.RWMutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	stderr  io.ReadCloser
	connected bool
	version   string
	handlers  EventHandlers

	inbox chan *Message

	// exited is closed once, by waitExit alone, when cmd.Wait returns.
	// waitExit is the sole caller of cmd.Wait — exec.Cmd forbids calling
	// Wait concurrently from more than one goroutine — so Disconnect
	// selects on this channel instead of calling Wait itself.
	exited chan struct{}
}

// NewStdioAdapter creates a stdio adapter for the given configuration.
func NewStdioAdapter(cfg StdioConfig) *StdioAdapter {
	return &StdioAdapter{cfg: cfg, inbox: make(chan *Message, 64)}
}

func (a *StdioAdapter) Kind() Kind { return KindStdio }

func (a *StdioAdapter) ProtocolVersion() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.version
}

func (a *StdioAdapter) SetNegotiatedVersion(v string) {
	a.mu.Lock()
	a.version = v
	a.mu.Unlock()
}

func (a *StdioAdapter) SetHandlers(h EventHandlers) {
	a.mu.Lock()
	a.handlers = h
	a.mu.Unlock()
}

func (a *StdioAdapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected
}

// buildEnv constructs the child's environment. When SANDBOX=portable is
// set, it builds an isolated environment: minimal OS-required variables,
// PATH prepended with bundled runtime bin directories, hardened
// package-manager flags, disabled proxies, then user overrides applied
// last .
func (a *StdioAdapter) buildEnv() ([]string, error) {
	if a.cfg.Env["SANDBOX"] != "portable" {
		env := os.Environ()
		for k, v := range a.cfg.Env {
			env = append(env, k+"="+v)
		}
		return env, nil
	}

	if a.cfg.OfflineOnly {
		if err := a.checkOfflinePackage(); err != nil {
			return nil, err
		}
	}

	base := map[string]string{
		"HOME": os.Getenv("HOME"),
		"LANG": "C.UTF-8",
		"TERM": "xterm",
	}

	path := []string{}
	if a.cfg.NodeDir != "" {
		path = append(path, filepath.Join(a.cfg.NodeDir, "bin"))
	}
	if a.cfg.PythonDir != "" {
		path = append(path, filepath.Join(a.cfg.PythonDir, "bin"))
	}
	if a.cfg.GoDir != "" {
		path = append(path, filepath.Join(a.cfg.GoDir, "bin"))
	}
	path = append(path, "/usr/bin", "/bin")
	base["PATH"] = strings.Join(path, string(os.PathListSeparator))

	// Hardened package-manager flags: no telemetry, no background update
	// checks, deterministic installs.
	base["NPM_CONFIG_FUND"] = "false"
	base["NPM_CONFIG_AUDIT"] = "false"
	base["NPM_CONFIG_UPDATE_NOTIFIER"] = "false"
	base["PIP_DISABLE_PIP_VERSION_CHECK"] = "1"
	base["PIP_NO_INPUT"] = "1"

	// Disabled proxy variables: a sandboxed child should never egress
	// through an ambient proxy it did not ask for.
	for _, k := range []string{"HTTP_PROXY", "HTTPS_PROXY", "ALL_PROXY", "http_proxy", "https_proxy", "all_proxy"} {
		base[k] = ""
	}

	if a.cfg.GOPATH != "" {
		base["GOPATH"] = a.cfg.GOPATH
	}
	if a.cfg.GOBIN != "" {
		base["GOBIN"] = a.cfg.GOBIN
	}

	// User overrides applied last.
	for k, v := range a.cfg.Env {
		base[k] = v
	}

	env := make([]string, 0, len(base))
	for k, v := range base {
		env = append(env, k+"="+v)
	}
	return env, nil
}

func (a *StdioAdapter) checkOfflinePackage() error {
	if a.cfg.PackagesDir == "" {
		return gwerrors.New(gwerrors.KindOfflinePackageMissing, "offline install enforced but no packages directory configured")
	}
	lock := filepath.Join(a.cfg.PackagesDir, "lock.json")
	if _, err := os.Stat(lock); err != nil {
		return gwerrors.New(gwerrors.KindOfflinePackageMissing, "lock file missing at %s; run the offline bundler first", lock)
	}
	if len(a.cfg.Args) > 0 {
		pkg := a.cfg.Args[len(a.cfg.Args)-1]
		pkgPath := filepath.Join(a.cfg.PackagesDir, pkg)
		if _, err := os.Stat(pkgPath); err != nil {
			return gwerrors.New(gwerrors.KindOfflinePackageMissing, "package %q not found under %s; bundle it offline first", pkg, a.cfg.PackagesDir)
		}
	}
	return nil
}

// resolveWorkDir confines WorkDir to the project root or, under portable
// sandbox mode, one of the sandbox/data roots. Enforcement is always
// mandatory, never advisory.
func (a *StdioAdapter) resolveWorkDir() (string, error) {
	if a.cfg.WorkDir == "" {
		return "", nil
	}
	abs, err := filepath.Abs(a.cfg.WorkDir)
	if err != nil {
		return "", gwerrors.Wrap(gwerrors.KindWorkingDirectoryOutsideRoot, err, "resolving working directory %q", a.cfg.WorkDir)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// Directory may not exist yet; fall back to the lexical path for
		// the confinement check, the subsequent exec.Cmd.Start will fail
		// loudly if it truly does not exist.
		real = abs
	}

	roots := append([]string{a.cfg.ProjectRoot}, a.cfg.SandboxRoots...)
	for _, root := range roots {
		if root == "" {
			continue
		}
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		if real == rootAbs || strings.HasPrefix(real, rootAbs+string(os.PathSeparator)) {
			return real, nil
		}
	}
	return "", gwerrors.New(gwerrors.KindWorkingDirectoryOutsideRoot, "working directory %q escapes project/sandbox roots", a.cfg.WorkDir)
}

// Connect spawns the child process, wires stdin/stdout/stderr, waits up to
// ConnectTimeout for stdout to present, and starts the read loops.
func (a *StdioAdapter) Connect(ctx context.Context) error {
	if !a.cfg.AllowShell && !commandAllowList[filepath.Base(a.cfg.Command)] {
		return gwerrors.New(gwerrors.KindCommandNotAllowed, "command %q is not on the allow-list", a.cfg.Command)
	}

	workDir, err := a.resolveWorkDir()
	if err != nil {
		return err
	}

	env, err := a.buildEnv()
	if err != nil {
		return err
	}

	connectCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	cmd := exec.CommandContext(context.Background(), a.cfg.Command, a.cfg.Args...) //nolint:gosec // command is allow-listed or explicitly opted in above
	cmd.Env = env
	cmd.Dir = workDir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return gwerrors.Wrap(gwerrors.KindConnectionFailed, err, "opening stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return gwerrors.Wrap(gwerrors.KindConnectionFailed, err, "opening stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return gwerrors.Wrap(gwerrors.KindConnectionFailed, err, "opening stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		return gwerrors.Wrap(gwerrors.KindConnectionFailed, err, "spawning %s", a.cfg.Command)
	}

	reader := bufio.NewReaderSize(stdout, 64*1024)

	type peekResult struct {
		b   byte
		err error
	}
	ready := make(chan peekResult, 1)
	go func() {
		b, err := reader.Peek(1)
		if len(b) > 0 {
			ready <- peekResult{b: b[0]}
			return
		}
		ready <- peekResult{err: err}
	}()

	select {
	case res := <-ready:
		if res.err != nil && res.err != io.EOF {
			_ = cmd.Process.Kill()
			return gwerrors.Wrap(gwerrors.KindConnectionFailed, res.err, "waiting for child stdout")
		}
	case <-connectCtx.Done():
		_ = cmd.Process.Kill()
		return gwerrors.New(gwerrors.KindConnectionFailed, "timed out waiting for child stdout")
	}

	a.mu.Lock()
	a.cmd = cmd
	a.stdin = stdin
	a.stdout = stdout
	a.stderr = stderr
	a.connected = true
	a.exited = make(chan struct{})
	a.mu.Unlock()

	go a.readStdout(reader)
	go a.readStderr()
	go a.waitExit()

	return nil
}

func (a *StdioAdapter) readStdout(reader *bufio.Reader) {
	parser := NewFrameParser(0, false)
	parser.OnError(func(err error, raw []byte) {
		a.emitError(err)
	})

	buf := make([]byte, 4096)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			values, perr := parser.Push(buf[:n])
			if perr != nil {
				a.emitError(perr)
			}
			for _, v := range values {
				var msg Message
				if jerr := json.Unmarshal(v, &msg); jerr != nil {
					a.emitError(gwerrors.Wrap(gwerrors.KindMalformedMessage, jerr, "decoding downstream message"))
					continue
				}
				a.deliver(&msg)
			}
		}
		if err != nil {
			if err != io.EOF {
				a.emitError(gwerrors.Wrap(gwerrors.KindConnectionClosed, err, "reading downstream stdout"))
			}
			a.handleDisconnect(err)
			return
		}
	}
}

func (a *StdioAdapter) readStderr() {
	a.mu.RLock()
	stderr := a.stderr
	a.mu.RUnlock()
	if stderr == nil {
		return
	}
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		if envHintPattern.MatchString(line) {
			line = "env-hint: " + line
		}
		a.mu.RLock()
		h := a.handlers.OnStderr
		a.mu.RUnlock()
		if h != nil {
			h(line)
		}
	}
}

func (a *StdioAdapter) waitExit() {
	a.mu.RLock()
	cmd := a.cmd
	exited := a.exited
	a.mu.RUnlock()
	if cmd == nil {
		return
	}
	_ = cmd.Wait()
	close(exited)
}

func (a *StdioAdapter) deliver(msg *Message) {
	a.mu.RLock()
	h := a.handlers.OnMessage
	a.mu.RUnlock()
	if h != nil {
		h(context.Background(), msg)
	}
	select {
	case a.inbox <- msg:
	default:
		logger.Warning("mcp stdio adapter: inbox full, dropping message")
	}
}

func (a *StdioAdapter) emitError(err error) {
	a.mu.RLock()
	h := a.handlers.OnError
	a.mu.RUnlock()
	if h != nil {
		h(err)
	}
}

func (a *StdioAdapter) handleDisconnect(cause error) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return
	}
	a.connected = false
	h := a.handlers.OnDisconnect
	a.mu.Unlock()
	if h != nil {
		h(cause)
	}
}

func (a *StdioAdapter) Send(ctx context.Context, msg *Message) error {
	a.mu.RLock()
	connected := a.connected
	stdin := a.stdin
	a.mu.RUnlock()
	if !connected || stdin == nil {
		return gwerrors.New(gwerrors.KindNotConnected, "stdio adapter is not connected")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}
	data = append(data, '\n')

	done := make(chan error, 1)
	go func() {
		_, werr := stdin.Write(data)
		done <- werr
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return gwerrors.Wrap(gwerrors.KindConnectionClosed, err, "writing to downstream stdin")
		}
		return nil
	}
}

// Receive blocks until the next queued message arrives or ctx expires.
func (a *StdioAdapter) Receive(ctx context.Context) (*Message, error) {
	select {
	case msg := <-a.inbox:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Disconnect sends a graceful terminate signal, then force-kills after
// GracefulStopTO if the child is still alive .
func (a *StdioAdapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	cmd := a.cmd
	stdin := a.stdin
	exited := a.exited
	a.connected = false
	a.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	if stdin != nil {
		_ = stdin.Close()
	}
	_ = cmd.Process.Signal(os.Interrupt)

	if exited == nil {
		// waitExit never started (Connect failed before spawning it); there
		// is nothing to wait on.
		return nil
	}

	select {
	case <-exited:
	case <-time.After(GracefulStopTO):
		_ = cmd.Process.Kill()
	case <-ctx.Done():
		_ = cmd.Process.Kill()
	}

	a.handleDisconnect(gwerrors.New(gwerrors.KindConnectionClosed, "adapter disconnected"))
	return nil
}
