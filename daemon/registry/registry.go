// Package registry holds service templates and the instances spawned from
// them, and aggregates per-template health for the router's selector.
// Shaped after a downstream-manager design: a single mutex-guarded map
// keyed by name, atomic replace-on-register, and an errgroup fan-out for
// bulk tools/list probes.
package registry

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mcp-gateway/gateway/daemon/catalog"
	"github.com/mcp-gateway/gateway/daemon/gwerrors"
	"github.com/mcp-gateway/gateway/daemon/logger"
	"github.com/mcp-gateway/gateway/daemon/supervisor"
)

// Health is the rolling aggregate the router's selector consumes for one
// template (metrics surfaced: total requests, success rate,
// average response time").
type Health struct {
	TotalRequests    int64
	SuccessCount     int64
	TotalLatencyNS   int64
	ConsecutiveFails int
}

// SuccessRate returns the fraction of requests that succeeded, or 1.0 with
// no data yet (an untested template is not penalized).
func (h Health) SuccessRate() float64 {
	if h.TotalRequests == 0 {
		return 1.0
	}
	return float64(h.SuccessCount) / float64(h.TotalRequests)
}

// AverageLatencyNS returns the mean observed latency, or 0 with no data.
func (h Health) AverageLatencyNS() int64 {
	if h.TotalRequests == 0 {
		return 0
	}
	return h.TotalLatencyNS / h.TotalRequests
}

// Registry owns the set of service templates, mediates instance creation
// through the supervisor, and tracks per-template health.
type Registry struct {
	sv *supervisor.Supervisor

	mu        sync.Mutex
	templates map[string]catalog.ServiceTemplate
	health    map[string]*Health
}

// New builds a Registry that creates instances via sv.
func New(sv *supervisor.Supervisor) *Registry {
	return &Registry{
		sv:        sv,
		templates: make(map[string]catalog.ServiceTemplate),
		health:    make(map[string]*Health),
	}
}

// Register validates and stores tmpl, atomically replacing any prior
// template of the same name. It does not start or restart instances; the
// caller (the admin facade) decides whether a live instance should be
// restarted against the new definition.
func (r *Registry) Register(tmpl catalog.ServiceTemplate) error {
	if err := tmpl.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[tmpl.Name] = tmpl
	if _, ok := r.health[tmpl.Name]; !ok {
		r.health[tmpl.Name] = &Health{}
	}
	return nil
}

// Remove deletes a template by name. Live instances are left running; the
// caller stops them via the supervisor first if that is desired.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.templates[name]; !ok {
		return gwerrors.New(gwerrors.KindServerError, "unknown template %q", name)
	}
	delete(r.templates, name)
	delete(r.health, name)
	return nil
}

// Get returns a copy of the named template.
func (r *Registry) Get(name string) (catalog.ServiceTemplate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.templates[name]
	return t, ok
}

// List returns a snapshot of every registered template.
func (r *Registry) List() []catalog.ServiceTemplate {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]catalog.ServiceTemplate, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t)
	}
	return out
}

// Repair re-validates every template and reports which ones fail, without
// mutating the registry; it is the read side of a "template went bad after
// an upstream edit" diagnostic the admin facade exposes.
func (r *Registry) Repair() map[string]error {
	r.mu.Lock()
	templates := make([]catalog.ServiceTemplate, 0, len(r.templates))
	for _, t := range r.templates {
		templates = append(templates, t)
	}
	r.mu.Unlock()

	bad := make(map[string]error)
	for _, t := range templates {
		if err := t.Validate(); err != nil {
			bad[t.Name] = err
		}
	}
	return bad
}

// RecordOutcome updates a template's rolling health counters after a
// router dispatch attempt.
func (r *Registry) RecordOutcome(templateName string, success bool, latencyNS int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.health[templateName]
	if !ok {
		h = &Health{}
		r.health[templateName] = h
	}
	h.TotalRequests++
	h.TotalLatencyNS += latencyNS
	if success {
		h.SuccessCount++
		h.ConsecutiveFails = 0
	} else {
		h.ConsecutiveFails++
	}
}

// HealthOf returns a copy of the health aggregate for templateName.
func (r *Registry) HealthOf(templateName string) Health {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.health[templateName]; ok {
		return *h
	}
	return Health{}
}

// RunningInstances returns every running instance whose template matches
// templateName, used by the router's selector to enumerate candidates.
func (r *Registry) RunningInstances(templateName string) []catalog.ServiceInstance {
	all := r.sv.ListInstances(templateName)
	out := make([]catalog.ServiceInstance, 0, len(all))
	for _, inst := range all {
		if inst.State == catalog.StateRunning {
			out = append(out, inst)
		}
	}
	return out
}

// ListAllTools probes every running instance's protocol stack for
// tools/list in parallel using an errgroup fan-out. A single instance's
// failure is logged and excluded rather than failing the whole call.
func (r *Registry) ListAllTools(ctx context.Context) (map[string]any, error) {
	templates := r.List()
	names := make([]string, len(templates))
	for i, t := range templates {
		names[i] = t.Name
	}
	return r.ListToolsForTemplates(ctx, names)
}

// ListToolsForTemplates probes a specific subset of templates' running
// instances for tools/list, in parallel.
func (r *Registry) ListToolsForTemplates(ctx context.Context, templateNames []string) (map[string]any, error) {
	var mu sync.Mutex
	result := make(map[string]any, len(templateNames))

	g, gCtx := errgroup.WithContext(ctx)
	for _, name := range templateNames {
		name := name
		g.Go(func() error {
			instances := r.RunningInstances(name)
			if len(instances) == 0 {
				return nil
			}
			stack, ok := r.sv.Stack(instances[0].ID)
			if !ok {
				return nil
			}
			resp, err := stack.Call(gCtx, "tools/list", struct{}{})
			if err != nil {
				logger.Warning("registry: tools/list probe failed for %q: %v", name, err)
				return nil
			}
			mu.Lock()
			result[name] = resp.Result
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("listing tools: %w", err)
	}
	return result, nil
}
