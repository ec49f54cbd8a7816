// Package catalog holds the gateway's core entities: service templates and
// the instances spawned from them. It mirrors spec.md §3's data model.
package catalog

import (
	"encoding/json"
	"fmt"
	"time"
)

// TransportKind names which wire a template's downstream service speaks.
type TransportKind string

const (
	TransportStdio          TransportKind = "stdio"
	TransportHTTP           TransportKind = "http"
	TransportStreamableHTTP TransportKind = "streamable-http"
)

// TrustLevel classifies how much a template is trusted by the operator,
// consulted by the sandbox policy engine.
type TrustLevel string

const (
	TrustUntrusted TrustLevel = "untrusted"
	TrustTrusted   TrustLevel = "trusted"
)

// ContainerSpec is the optional container execution configuration. It is
// required when Transport == stdio but the sandbox policy (or the template
// itself) forces container quarantine.
type ContainerSpec struct {
	Image      string            `json:"image" yaml:"image"`
	Runtime    string            `json:"runtime,omitempty" yaml:"runtime,omitempty"` // docker | podman, "" = policy default
	Network    string            `json:"network,omitempty" yaml:"network,omitempty"` // "" = policy default (none)
	ReadOnly   *bool             `json:"readOnly,omitempty" yaml:"readOnly,omitempty"`
	CPULimit   string            `json:"cpuLimit,omitempty" yaml:"cpuLimit,omitempty"`
	MemLimit   string            `json:"memLimit,omitempty" yaml:"memLimit,omitempty"`
	WorkDir    string            `json:"workDir,omitempty" yaml:"workDir,omitempty"`
	Volumes    []VolumeMount     `json:"volumes,omitempty" yaml:"volumes,omitempty"`
	EnvPassthrough []string      `json:"envPassthrough,omitempty" yaml:"envPassthrough,omitempty"`
}

// VolumeMount binds a host path allow-listed by policy to a container path.
type VolumeMount struct {
	HostPath      string `json:"hostPath" yaml:"hostPath"`
	ContainerPath string `json:"containerPath" yaml:"containerPath"`
	ReadOnly      bool   `json:"readOnly,omitempty" yaml:"readOnly,omitempty"`
}

// SecuritySpec captures per-template overrides to the gateway-wide sandbox
// policy the decision rules below.
type SecuritySpec struct {
	RequireContainer bool `json:"requireContainer,omitempty" yaml:"requireContainer,omitempty"`
	AllowShell       bool `json:"allowShell,omitempty" yaml:"allowShell,omitempty"`
}

// ServiceTemplate is the declarative description of a downstream MCP
// service. Templates are never mutated in place while a derived instance is
// running; re-registration replaces the template atomically (see
// registry.Registry.Register).
type ServiceTemplate struct {
	Name      string            `json:"name" yaml:"name"`
	Transport TransportKind     `json:"transport" yaml:"transport"`
	Command   string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args      []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	WorkDir   string            `json:"workDir,omitempty" yaml:"workDir,omitempty"`
	URL       string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	RequestTimeout time.Duration `json:"requestTimeout,omitempty" yaml:"requestTimeout,omitempty"`

	Container *ContainerSpec `json:"container,omitempty" yaml:"container,omitempty"`
	Security  SecuritySpec   `json:"security,omitempty" yaml:"security,omitempty"`
	Trust     TrustLevel     `json:"trust,omitempty" yaml:"trust,omitempty"`
}

// Validate enforces the data-model invariant: transport=container (the
// template opting into it via Security.RequireContainer or an explicit
// Container block) requires an image, and a stdio template running inside
// a container still declares transport=stdio (the container is a
// *wrapper*, not a fourth transport kind).
func (t *ServiceTemplate) Validate() error {
	if t.Name == "" {
		return errInvalidTemplate("template name is required")
	}
	switch t.Transport {
	case TransportStdio:
		if t.Command == "" {
			return errInvalidTemplate("stdio template %q requires a command", t.Name)
		}
	case TransportHTTP, TransportStreamableHTTP:
		if t.URL == "" && t.Command == "" {
			return errInvalidTemplate("http template %q requires a url or command", t.Name)
		}
	default:
		return errInvalidTemplate("template %q has unknown transport %q", t.Name, t.Transport)
	}
	if t.Container != nil && t.Container.Image == "" {
		return errInvalidTemplate("template %q sets a container spec without an image", t.Name)
	}
	return nil
}

func errInvalidTemplate(format string, args ...any) error {
	return &templateError{msg: fmt.Sprintf(format, args...)}
}

type templateError struct{ msg string }

func (e *templateError) Error() string { return e.msg }

// InstanceState is the state-machine value of a ServiceInstance.
type InstanceState string

const (
	StateIdle         InstanceState = "idle"
	StateInitializing InstanceState = "initializing"
	StateStarting     InstanceState = "starting"
	StateRunning      InstanceState = "running"
	StateStopping     InstanceState = "stopping"
	StateStopped      InstanceState = "stopped"
	StateError        InstanceState = "error"
	StateCrashed      InstanceState = "crashed"
	StateRestarting   InstanceState = "restarting"
	StateMaintenance  InstanceState = "maintenance"
)

// Adjacency is the explicit transition table from the state machine. Any transition
// not listed here is a programming error: it is logged but still applied
// self-healing state manager.
var Adjacency = map[InstanceState][]InstanceState{
	StateIdle:         {StateInitializing},
	StateInitializing: {StateStarting, StateError},
	StateStarting:     {StateRunning, StateError, StateCrashed},
	StateRunning:      {StateStopping, StateError, StateCrashed, StateRestarting, StateMaintenance},
	StateStopping:     {StateStopped, StateError, StateCrashed},
	StateRestarting:   {StateStarting, StateError, StateCrashed},
	StateMaintenance:  {StateRunning, StateStopping},
	StateError:        {StateRestarting, StateStopping},
	StateCrashed:      {StateRestarting},
	StateStopped:      {},
}

// CanTransition reports whether to is a declared successor of from.
func CanTransition(from, to InstanceState) bool {
	for _, s := range Adjacency[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StateTransition records one observed transition for diagnostics.
type StateTransition struct {
	From    InstanceState
	To      InstanceState
	At      time.Time
	Valid   bool
	Reason  string
}

// CapabilitySet is the server-advertised capability object from the MCP
// initialize response, cached per instance after handshake.
type CapabilitySet map[string]json.RawMessage

// ServiceInstance is a running (or terminal) instantiation of a template.
type ServiceInstance struct {
	ID           string
	TemplateName string
	State        InstanceState
	PID          int
	StartedAt    time.Time
	ErrorCount   int
	History      []StateTransition

	Capabilities CapabilitySet
}

// RecordTransition appends to History, capping it at the last 10 entries
// and applies the transition regardless of validity
// (self-healing — reality sometimes diverges from the idealized adjacency
// list, e.g. a crash during stop).
func (si *ServiceInstance) RecordTransition(to InstanceState, now time.Time, reason string) {
	valid := CanTransition(si.State, to)
	si.History = append(si.History, StateTransition{From: si.State, To: to, At: now, Valid: valid, Reason: reason})
	if len(si.History) > 10 {
		si.History = si.History[len(si.History)-10:]
	}
	si.State = to
}
