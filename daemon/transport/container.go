package transport

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mcp-gateway/gateway/daemon/gwerrors"
	"github.com/mcp-gateway/gateway/daemon/lib"
	"github.com/mcp-gateway/gateway/daemon/logger"
)

// ContainerConfig configures a ContainerAdapter. It mirrors
// catalog.ContainerSpec but lives in the transport package so adapters stay
// free of a dependency on the registry layer; sandbox.Policy is what
// translates a catalog.ServiceTemplate into one of these.
type ContainerConfig struct {
	Image   string
	Runtime string // docker | podman; "" lets the adapter pick (docker first, podman on retry)
	Network string // "" => "none"
	ReadOnly *bool // nil => true (read-only root by default)
	CPULimit string
	MemLimit string
	WorkDir  string
	Volumes  []ContainerVolume
	Env      map[string]string
	EnvPassthroughPrefixes []string
	AllowedHostRoots       []string

	// Inner is the stdio configuration for the process launched *inside*
	// the container (command/args become the container's entrypoint args).
	Inner StdioConfig
}

// ContainerVolume is a host:container bind mount.
type ContainerVolume struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

// ContainerAdapter is a thin wrapper around StdioAdapter: it constructs a
// container-runtime invocation (docker- or podman-compatible) and delegates
// the actual JSON-RPC framing to the standard-stream adapter underneath,
// exactly the same way. Grounded on
// daemon/services/controllers/docker.go's direct-SDK style, generalized
// here to shell out to the `docker`/`podman` CLI since the gateway needs to
// run arbitrary images, not just control a fixed Unraid Docker daemon.
type ContainerAdapter struct {
	cfg      ContainerConfig
	inner    *StdioAdapter
	handlers EventHandlers
}

// NewContainerAdapter validates the container config and builds the
// underlying stdio adapter that will run `docker run ...`.
func NewContainerAdapter(cfg ContainerConfig) (*ContainerAdapter, error) {
	if cfg.Image == "" {
		return nil, gwerrors.New(gwerrors.KindPolicyViolation, "container adapter requires an image")
	}
	for _, v := range cfg.Volumes {
		if strings.Contains(v.ContainerPath, "..") {
			return nil, gwerrors.New(gwerrors.KindPolicyViolation, "container path %q must not contain ..", v.ContainerPath)
		}
		if !hostPathAllowed(v.HostPath, cfg.AllowedHostRoots) {
			return nil, gwerrors.New(gwerrors.KindPolicyViolation, "host path %q is outside the allowed volume roots", v.HostPath)
		}
	}

	runtime := cfg.Runtime
	if runtime == "" {
		// Prefer whichever CLI is actually on PATH rather than assuming
		// docker: a podman-only host would otherwise fail Connect once
		// before the podman retry kicks in.
		switch {
		case lib.CommandExists("docker"):
			runtime = "docker"
		case lib.CommandExists("podman"):
			runtime = "podman"
		default:
			runtime = "docker"
		}
	}

	args := buildRunArgs(runtime, cfg)
	inner := cfg.Inner
	inner.Command = runtime
	inner.Args = args
	inner.AllowShell = false

	return &ContainerAdapter{cfg: cfg, inner: NewStdioAdapter(inner)}, nil
}

func hostPathAllowed(hostPath string, roots []string) bool {
	abs, err := filepath.Abs(hostPath)
	if err != nil {
		return false
	}
	for _, root := range roots {
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		if abs == rootAbs || strings.HasPrefix(abs, rootAbs+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func buildRunArgs(runtime string, cfg ContainerConfig) []string {
	args := []string{"run", "--rm", "-i"}

	readOnly := true
	if cfg.ReadOnly != nil {
		readOnly = *cfg.ReadOnly
	}
	if readOnly {
		args = append(args, "--read-only")
	}

	network := cfg.Network
	if network == "" {
		network = "none"
	}
	args = append(args, "--network", network)

	if cfg.CPULimit != "" {
		args = append(args, "--cpus", cfg.CPULimit)
	}
	if cfg.MemLimit != "" {
		args = append(args, "--memory", cfg.MemLimit)
	}
	if cfg.WorkDir != "" {
		args = append(args, "--workdir", cfg.WorkDir)
	}

	for _, v := range cfg.Volumes {
		mode := "rw"
		if v.ReadOnly {
			mode = "ro"
		}
		args = append(args, "-v", fmt.Sprintf("%s:%s:%s", v.HostPath, v.ContainerPath, mode))
	}

	for k, v := range cfg.Env {
		if isSandboxMarker(k) {
			// Strip sandbox-marker variables so the child does not
			// recursively enter sandbox mode inside the container.
			continue
		}
		if !envPassthroughAllowed(k, cfg.EnvPassthroughPrefixes) {
			continue
		}
		args = append(args, "-e", k+"="+v)
	}

	args = append(args, cfg.Image)
	if cfg.Inner.Command != "" {
		args = append(args, cfg.Inner.Command)
	}
	args = append(args, cfg.Inner.Args...)
	return args
}

func isSandboxMarker(key string) bool {
	return key == "SANDBOX" || strings.HasPrefix(key, "SANDBOX_")
}

func envPassthroughAllowed(key string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

func (a *ContainerAdapter) Kind() Kind { return KindContainer }

func (a *ContainerAdapter) ProtocolVersion() string   { return a.inner.ProtocolVersion() }
func (a *ContainerAdapter) SetNegotiatedVersion(v string) { a.inner.SetNegotiatedVersion(v) }
func (a *ContainerAdapter) SetHandlers(h EventHandlers) {
	a.handlers = h
	a.inner.SetHandlers(h)
}
func (a *ContainerAdapter) IsConnected() bool             { return a.inner.IsConnected() }
func (a *ContainerAdapter) Send(ctx context.Context, msg *Message) error {
	return a.inner.Send(ctx, msg)
}
func (a *ContainerAdapter) Receive(ctx context.Context) (*Message, error) {
	return a.inner.Receive(ctx)
}
func (a *ContainerAdapter) Disconnect(ctx context.Context) error { return a.inner.Disconnect(ctx) }

// Connect launches the container via the inner stdio adapter. On failure
// with the default (unspecified) runtime, it retries once with podman,
// accordingly.
func (a *ContainerAdapter) Connect(ctx context.Context) error {
	err := a.inner.Connect(ctx)
	if err == nil {
		return nil
	}
	if a.cfg.Runtime != "" {
		return err
	}

	logger.Warning("container adapter: docker failed (%v), retrying with podman", err)
	podmanCfg := a.cfg
	podmanCfg.Runtime = "podman"
	podmanInner := podmanCfg.Inner
	podmanInner.Command = "podman"
	podmanInner.Args = buildRunArgs("podman", podmanCfg)
	podmanInner.AllowShell = false

	a.inner = NewStdioAdapter(podmanInner)
	a.inner.SetHandlers(a.handlers)
	return a.inner.Connect(ctx)
}

// PortStringToInt is a small helper used by callers translating a
// MCP_PORT-style env var into a numeric port; kept here because the
// container and HTTP adapters both need it.
func PortStringToInt(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
