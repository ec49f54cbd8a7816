// Package supervisor owns the lifetime of every ServiceInstance:
// spawning via the transport factory, running the protocol handshake, and
// serializing state transitions per instance. Shaped after a
// register/start/stop runtime manager under a single map+mutex, plus a
// ticking/panic-recovery pattern, generalized from "collector goroutines"
// to "child MCP processes".
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mcp-gateway/gateway/daemon/catalog"
	"github.com/mcp-gateway/gateway/daemon/gwerrors"
	"github.com/mcp-gateway/gateway/daemon/logger"
	"github.com/mcp-gateway/gateway/daemon/protocol"
	"github.com/mcp-gateway/gateway/daemon/sandbox"
	"github.com/mcp-gateway/gateway/daemon/transport"
)

// EventKind names the events the supervisor emits per instance.
type EventKind string

const (
	EventServiceStarted EventKind = "service-started"
	EventServiceStopped EventKind = "service-stopped"
	EventServiceError   EventKind = "service-error"
)

// Event is published on state transitions that matter to callers (the
// router's health aggregation, the admin facade's activity feed).
type Event struct {
	Kind     EventKind
	Instance catalog.ServiceInstance
	Err      error
}

// managed bundles a live instance with the adapter/protocol stack driving
// it. Only the supervisor mutates this; everyone else gets snapshots.
type managed struct {
	instance catalog.ServiceInstance
	adapter  transport.Adapter
	stack    *protocol.Stack
	cancel   context.CancelFunc
}

// Supervisor tracks every ServiceInstance the gateway has started.
type Supervisor struct {
	policy sandbox.Policy

	mu        sync.Mutex // serializes per-instance transitions
	instances map[string]*managed

	onEvent func(Event)

	newID func() string
}

// New builds a Supervisor applying policy to every template it starts.
func New(policy sandbox.Policy, newID func() string) *Supervisor {
	return &Supervisor{
		policy:    policy,
		instances: make(map[string]*managed),
		newID:     newID,
	}
}

// OnEvent registers the callback fired for every lifecycle event.
func (sv *Supervisor) OnEvent(fn func(Event)) {
	sv.mu.Lock()
	sv.onEvent = fn
	sv.mu.Unlock()
}

func (sv *Supervisor) emit(ev Event) {
	sv.mu.Lock()
	fn := sv.onEvent
	sv.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// StartProcess creates a fresh instance, transitions it through
// idle -> initializing -> starting -> running, and performs the MCP
// handshake. On any failure it cleans up and returns the instance in its
// terminal state alongside the error.
func (sv *Supervisor) StartProcess(ctx context.Context, tmpl catalog.ServiceTemplate) (catalog.ServiceInstance, error) {
	id := sv.newID()
	now := time.Now()

	inst := catalog.ServiceInstance{
		ID:           id,
		TemplateName: tmpl.Name,
		State:        catalog.StateIdle,
	}
	inst.RecordTransition(catalog.StateInitializing, now, "start requested")

	m := &managed{instance: inst}
	sv.mu.Lock()
	sv.instances[id] = m
	sv.mu.Unlock()

	decision, err := sandbox.Apply(sv.policy, tmpl)
	if err != nil {
		return sv.fail(m, err, "applying sandbox policy")
	}

	adapter, err := transport.NewAdapter(decision.Config)
	if err != nil {
		return sv.fail(m, err, "building transport adapter")
	}
	m.adapter = adapter

	connectCtx, cancel := context.WithTimeout(ctx, transport.ConnectTimeout)
	defer cancel()
	if err := adapter.Connect(connectCtx); err != nil {
		return sv.fail(m, err, "connecting to downstream")
	}

	sv.transition(m, catalog.StateStarting, "connected, negotiating handshake")

	stack := protocol.New(adapter, tmpl.RequestTimeout)
	stack.OnDisconnect(func(err error) { sv.handleCrash(id, err) })
	m.stack = stack

	if err := stack.Handshake(ctx, protocol.SupportedVersions); err != nil {
		_ = adapter.Disconnect(context.Background())
		return sv.fail(m, err, "handshake")
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	m.cancel = runCancel
	_ = runCtx

	sv.transition(m, catalog.StateRunning, "handshake complete")
	sv.emit(Event{Kind: EventServiceStarted, Instance: m.instance})

	return m.instance, nil
}

func (sv *Supervisor) fail(m *managed, cause error, what string) (catalog.ServiceInstance, error) {
	wrapped := fmt.Errorf("%s: %w", what, cause)
	sv.mu.Lock()
	m.instance.ErrorCount++
	m.instance.RecordTransition(catalog.StateError, time.Now(), wrapped.Error())
	inst := m.instance
	sv.mu.Unlock()

	if m.adapter != nil && m.adapter.IsConnected() {
		_ = m.adapter.Disconnect(context.Background())
	}
	sv.emit(Event{Kind: EventServiceError, Instance: inst, Err: wrapped})
	return inst, wrapped
}

func (sv *Supervisor) transition(m *managed, to catalog.InstanceState, reason string) {
	sv.mu.Lock()
	if !catalog.CanTransition(m.instance.State, to) {
		logger.Warning("supervisor: instance %s invalid transition %s -> %s applied anyway (%s)", m.instance.ID, m.instance.State, to, reason)
	}
	m.instance.RecordTransition(to, time.Now(), reason)
	sv.mu.Unlock()
}

// handleCrash reacts to an unsolicited transport disconnect (the peer died
// or the pipe broke) by moving the instance to crashed/error; restart
// policy belongs to the caller, not here.
func (sv *Supervisor) handleCrash(id string, cause error) {
	sv.mu.Lock()
	m, ok := sv.instances[id]
	if !ok {
		sv.mu.Unlock()
		return
	}
	if m.instance.State == catalog.StateStopping || m.instance.State == catalog.StateStopped {
		sv.mu.Unlock()
		return
	}
	m.instance.ErrorCount++
	m.instance.RecordTransition(catalog.StateCrashed, time.Now(), fmt.Sprintf("transport disconnected: %v", cause))
	inst := m.instance
	sv.mu.Unlock()

	sv.emit(Event{Kind: EventServiceError, Instance: inst, Err: cause})
}

// StopProcess transitions the instance to stopping, requests a graceful
// disconnect, and force-kills after GracefulStopTimeout.
func (sv *Supervisor) StopProcess(ctx context.Context, id string) error {
	sv.mu.Lock()
	m, ok := sv.instances[id]
	if !ok {
		sv.mu.Unlock()
		return gwerrors.New(gwerrors.KindServerError, "unknown instance %q", id)
	}
	m.instance.RecordTransition(catalog.StateStopping, time.Now(), "stop requested")
	adapter := m.adapter
	cancel := m.cancel
	sv.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	stopCtx, stopCancel := context.WithTimeout(ctx, transport.GracefulStopTO)
	defer stopCancel()

	var stopErr error
	if adapter != nil {
		stopErr = adapter.Disconnect(stopCtx)
	}

	sv.mu.Lock()
	m.instance.RecordTransition(catalog.StateStopped, time.Now(), "stopped")
	inst := m.instance
	sv.mu.Unlock()

	sv.emit(Event{Kind: EventServiceStopped, Instance: inst})
	return stopErr
}

// RestartProcess composes stop + start against the same template; on
// failure the instance enters error.
func (sv *Supervisor) RestartProcess(ctx context.Context, id string, tmpl catalog.ServiceTemplate) (catalog.ServiceInstance, error) {
	if err := sv.StopProcess(ctx, id); err != nil {
		logger.Warning("supervisor: restart %s: stop returned %v, continuing with start", id, err)
	}
	return sv.StartProcess(ctx, tmpl)
}

// GetProcessInfo returns a snapshot of the instance, or ok=false if unknown.
func (sv *Supervisor) GetProcessInfo(id string) (catalog.ServiceInstance, bool) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	m, ok := sv.instances[id]
	if !ok {
		return catalog.ServiceInstance{}, false
	}
	return m.instance, true
}

// ListInstances returns a snapshot of every instance the supervisor knows
// about, optionally filtered to a single template name.
func (sv *Supervisor) ListInstances(templateName string) []catalog.ServiceInstance {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	out := make([]catalog.ServiceInstance, 0, len(sv.instances))
	for _, m := range sv.instances {
		if templateName != "" && m.instance.TemplateName != templateName {
			continue
		}
		out = append(out, m.instance)
	}
	return out
}

// Stack returns the protocol stack driving id's transport, for callers
// (the router) that need to issue requests directly. ok is false if the
// instance is unknown or not yet running.
func (sv *Supervisor) Stack(id string) (*protocol.Stack, bool) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	m, ok := sv.instances[id]
	if !ok || m.stack == nil {
		return nil, false
	}
	return m.stack, true
}
