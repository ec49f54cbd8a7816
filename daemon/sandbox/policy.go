// Package sandbox implements the gateway-wide sandbox policy engine: given
// a template and policy, it returns an effective transport factory
// configuration plus the reasons policy was applied. It never mutates the
// input template.
package sandbox

import (
	"strings"

	"github.com/mcp-gateway/gateway/daemon/catalog"
	"github.com/mcp-gateway/gateway/daemon/logger"
	"github.com/mcp-gateway/gateway/daemon/transport"
)

// Profile selects how aggressively the policy quarantines templates.
type Profile string

const (
	ProfileDefault    Profile = "default"
	ProfileLockedDown Profile = "locked-down"
)

// ContainerDefaults carries the allow-lists the container adapter enforces
// describing network default, read-only root, allowed host volume
// roots, and the env-prefix allow-list.
type ContainerDefaults struct {
	Network                string
	ReadOnly               bool
	AllowedHostRoots       []string
	EnvPassthroughPrefixes []string
	DefaultRuntime         string // docker | podman
	DefaultImage           string // fallback image for templates quarantined without one declared
}

// Policy is the gateway-wide sandbox configuration.
type Policy struct {
	Profile              Profile
	PreferContainerForUntrusted bool
	Container             ContainerDefaults

	SandboxPackagesRoot string
	ProjectRoot         string
	NodeDir, PythonDir, GoDir string
	GOPATH, GOBIN             string
	OfflineOnly               bool
}

// DefaultPolicy returns a conservative starting point: default profile,
// prefer-container disabled, container network none / read-only true.
func DefaultPolicy() Policy {
	return Policy{
		Profile: ProfileDefault,
		Container: ContainerDefaults{
			Network:                "none",
			ReadOnly:               true,
			EnvPassthroughPrefixes: []string{"MCP_"},
			DefaultRuntime:         "docker",
		},
	}
}

// Decision is the result of applying Policy to a ServiceTemplate.
type Decision struct {
	Config  transport.FactoryConfig
	Applied bool
	Reasons []string
	Policy  Policy
}

// npmLikePattern matches args that look like npm/npx invocations, used by
// decision rule 4 (portable-sandbox env hints under the default profile).
func looksLikeNpm(command string, args []string) bool {
	base := command
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	switch base {
	case "npm", "npx", "node":
		return true
	}
	for _, a := range args {
		if a == "npx" || strings.HasSuffix(a, ".js") {
			return true
		}
	}
	return false
}

// Apply runs the decision rules in order and returns the
// effective transport configuration. tmpl is never mutated.
func Apply(policy Policy, tmpl catalog.ServiceTemplate) (Decision, error) {
	if err := tmpl.Validate(); err != nil {
		return Decision{}, err
	}

	d := Decision{Policy: policy}
	containerMandatory := false

	// Rule 1: template opts into a mandatory container.
	if tmpl.Security.RequireContainer {
		containerMandatory = true
		d.Reasons = append(d.Reasons, "template sets security.requireContainer")
	}

	// Rule 2: gateway prefers containers for non-trusted templates.
	if policy.PreferContainerForUntrusted && tmpl.Trust != catalog.TrustTrusted {
		containerMandatory = true
		d.Reasons = append(d.Reasons, "gateway prefers containers for non-trusted templates")
	}

	// Rule 3: locked-down profile quarantines any stdio template lacking an
	// explicit trusted level.
	if policy.Profile == ProfileLockedDown && tmpl.Transport == catalog.TransportStdio && tmpl.Trust != catalog.TrustTrusted {
		containerMandatory = true
		d.Reasons = append(d.Reasons, "locked-down profile quarantines untrusted stdio templates")
	}

	env := map[string]string{}
	for k, v := range tmpl.Env {
		env[k] = v
	}
	workDir := tmpl.WorkDir

	// Rule 4: default profile gives npm/npx-shaped templates portable
	// sandbox env hints, unless they are already being quarantined.
	if policy.Profile == ProfileDefault && !containerMandatory &&
		tmpl.Transport == catalog.TransportStdio && looksLikeNpm(tmpl.Command, tmpl.Args) {
		env["SANDBOX"] = "portable"
		if workDir == "" {
			workDir = policy.SandboxPackagesRoot
		}
		d.Applied = true
		d.Reasons = append(d.Reasons, "npm/npx-shaped template received portable-sandbox env hints")
	}

	if containerMandatory {
		d.Applied = true
		cfg, err := buildContainerConfig(policy, tmpl, env)
		if err != nil {
			return Decision{}, err
		}
		d.Config = cfg
		return d, nil
	}

	switch tmpl.Transport {
	case catalog.TransportStdio:
		d.Config = transport.FactoryConfig{
			Kind: transport.KindStdio,
			Stdio: transport.StdioConfig{
				Command:      tmpl.Command,
				Args:         tmpl.Args,
				Env:          env,
				WorkDir:      workDir,
				ProjectRoot:  policy.ProjectRoot,
				SandboxRoots: []string{policy.SandboxPackagesRoot},
				AllowShell:   tmpl.Security.AllowShell,
				NodeDir:      policy.NodeDir,
				PythonDir:    policy.PythonDir,
				GoDir:        policy.GoDir,
				GOPATH:       policy.GOPATH,
				GOBIN:        policy.GOBIN,
				OfflineOnly:  policy.OfflineOnly,
				PackagesDir:  policy.SandboxPackagesRoot,
			},
		}
	case catalog.TransportHTTP, catalog.TransportStreamableHTTP:
		kind := transport.KindHTTP
		if tmpl.Transport == catalog.TransportStreamableHTTP {
			kind = transport.KindStreamableHTTP
		}
		d.Config = transport.FactoryConfig{
			Kind: kind,
			HTTP: transport.HTTPConfig{
				BaseURL: tmpl.URL,
				Headers: tmpl.Headers,
				Timeout: tmpl.RequestTimeout,
			},
		}
	}

	return d, nil
}

func buildContainerConfig(policy Policy, tmpl catalog.ServiceTemplate, env map[string]string) (transport.FactoryConfig, error) {
	spec := tmpl.Container
	if spec == nil {
		spec = &catalog.ContainerSpec{}
	}

	network := spec.Network
	if network == "" {
		network = policy.Container.Network
	}
	readOnly := policy.Container.ReadOnly
	if spec.ReadOnly != nil {
		readOnly = *spec.ReadOnly
	}
	runtime := spec.Runtime
	if runtime == "" {
		runtime = policy.Container.DefaultRuntime
	}

	allowedRoots := policy.Container.AllowedHostRoots
	prefixes := policy.Container.EnvPassthroughPrefixes
	if len(spec.EnvPassthrough) > 0 {
		prefixes = append(append([]string{}, prefixes...), spec.EnvPassthrough...)
	}

	volumes := make([]transport.ContainerVolume, 0, len(spec.Volumes))
	for _, v := range spec.Volumes {
		volumes = append(volumes, transport.ContainerVolume{
			HostPath: v.HostPath, ContainerPath: v.ContainerPath, ReadOnly: v.ReadOnly,
		})
	}

	image := spec.Image
	if image == "" {
		image = policy.Container.DefaultImage
	}
	if image == "" {
		// No image declared on a stdio template quarantined by policy: log
		// and surface via PolicyViolation so the caller can react (a
		// template the operator never intended to containerize).
		logger.Warning("sandbox: template %q quarantined into a container but declares no image", tmpl.Name)
	}

	cfg := transport.FactoryConfig{
		Kind: transport.KindContainer,
		Container: transport.ContainerConfig{
			Image:                  image,
			Runtime:                runtime,
			Network:                network,
			ReadOnly:               &readOnly,
			CPULimit:               spec.CPULimit,
			MemLimit:               spec.MemLimit,
			WorkDir:                spec.WorkDir,
			Volumes:                volumes,
			Env:                    env,
			EnvPassthroughPrefixes: prefixes,
			AllowedHostRoots:       allowedRoots,
			Inner: transport.StdioConfig{
				Command: tmpl.Command,
				Args:    tmpl.Args,
			},
		},
	}
	return cfg, nil
}
