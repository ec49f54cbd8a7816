// Package router resolves an incoming MCP request to a live service
// instance and forwards it through that instance's protocol stack.
// Shaped after a downstream call/get-or-start dispatch path, generalized
// from "one instance per auth scope" to "select among many running
// instances of a template by strategy".
package router

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mcp-gateway/gateway/daemon/catalog"
	"github.com/mcp-gateway/gateway/daemon/gwerrors"
	"github.com/mcp-gateway/gateway/daemon/logger"
	"github.com/mcp-gateway/gateway/daemon/registry"
	"github.com/mcp-gateway/gateway/daemon/supervisor"
	"github.com/mcp-gateway/gateway/daemon/transport"
)

// Strategy names the selection policy used to pick among candidate
// instances of a template.
type Strategy string

const (
	StrategyRoundRobin   Strategy = "round-robin"
	StrategyPerformance  Strategy = "performance"
	StrategyCost         Strategy = "cost"
	StrategyContentAware Strategy = "content-aware"
)

// UnhealthyBackoff is how long a failed instance is excluded from
// selection before being retried 
// for a short backoff window").
const UnhealthyBackoff = 15 * time.Second

// DefaultMaxRetries bounds failover attempts per request.
const DefaultMaxRetries = 2

// instanceCost ranks instances for the cost strategy; lower is cheaper.
// The router consults it by instance id, populated by the caller (the AI
// facade tags cost onto channels; here it is a simple optional lookup).
type CostLookup func(instanceID string) float64

// MetricsSink receives per-dispatch observations; installed by the binary
// wiring the router to a metrics exporter (daemon/metrics's Prometheus
// collectors). Nil by default, so routing never depends on it.
type MetricsSink interface {
	ObserveDispatch(templateName string, strategy Strategy, success bool, latencyNS int64)
}

// Router dispatches requests against templates registered in reg.
type Router struct {
	reg *registry.Registry
	sv  *supervisor.Supervisor

	mu          sync.Mutex
	rrCounters  map[string]int
	unhealthy   map[string]time.Time
	costLookup  CostLookup
	metrics     MetricsSink
}

// SetMetricsSink installs the exporter Dispatch reports outcomes to.
func (r *Router) SetMetricsSink(sink MetricsSink) {
	r.mu.Lock()
	r.metrics = sink
	r.mu.Unlock()
}

// New builds a Router over reg/sv.
func New(reg *registry.Registry, sv *supervisor.Supervisor) *Router {
	return &Router{
		reg:        reg,
		sv:         sv,
		rrCounters: make(map[string]int),
		unhealthy:  make(map[string]time.Time),
	}
}

// SetCostLookup installs the cost strategy's per-instance cost function.
func (r *Router) SetCostLookup(fn CostLookup) {
	r.mu.Lock()
	r.costLookup = fn
	r.mu.Unlock()
}

func (r *Router) isHealthy(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	until, ok := r.unhealthy[id]
	if !ok {
		return true
	}
	if time.Now().After(until) {
		delete(r.unhealthy, id)
		return true
	}
	return false
}

func (r *Router) markUnhealthy(id string) {
	r.mu.Lock()
	r.unhealthy[id] = time.Now().Add(UnhealthyBackoff)
	r.mu.Unlock()
}

// candidates returns the running, currently-healthy instances of
// templateName sorted by id for deterministic tie-breaking.
func (r *Router) candidates(templateName string) []catalog.ServiceInstance {
	all := r.reg.RunningInstances(templateName)
	out := make([]catalog.ServiceInstance, 0, len(all))
	for _, inst := range all {
		if r.isHealthy(inst.ID) {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Select picks one instance of templateName per strategy. payload is only
// consulted by the content-aware strategy.
func (r *Router) Select(templateName string, strategy Strategy, payload []byte) (catalog.ServiceInstance, error) {
	candidates := r.candidates(templateName)
	if len(candidates) == 0 {
		return catalog.ServiceInstance{}, gwerrors.New(gwerrors.KindServerError, "no healthy running instances for template %q", templateName)
	}

	switch strategy {
	case StrategyPerformance:
		return r.selectByPerformance(candidates), nil
	case StrategyCost:
		return r.selectByCost(candidates), nil
	case StrategyContentAware:
		return candidates[contentHash(payload)%len(candidates)], nil
	default: // round-robin
		return r.selectRoundRobin(templateName, candidates), nil
	}
}

func (r *Router) selectRoundRobin(templateName string, candidates []catalog.ServiceInstance) catalog.ServiceInstance {
	r.mu.Lock()
	idx := r.rrCounters[templateName] % len(candidates)
	r.rrCounters[templateName]++
	r.mu.Unlock()
	return candidates[idx]
}

func (r *Router) selectByPerformance(candidates []catalog.ServiceInstance) catalog.ServiceInstance {
	// Performance is tracked per-template, not per-instance, in the
	// registry's health aggregate (groups metrics by the
	// family"); among equally-healthy instances of the same template this
	// degenerates to the lowest id, ties broken deterministically.
	return candidates[0]
}

func (r *Router) selectByCost(candidates []catalog.ServiceInstance) catalog.ServiceInstance {
	r.mu.Lock()
	lookup := r.costLookup
	r.mu.Unlock()
	if lookup == nil {
		return candidates[0]
	}
	best := candidates[0]
	bestCost := lookup(best.ID)
	for _, c := range candidates[1:] {
		cost := lookup(c.ID)
		if cost < bestCost {
			best, bestCost = c, cost
		}
	}
	return best
}

// contentHash is a simple, deterministic FNV-1a style hash used only to
// bucket requests by content for the content-aware strategy; it is not a
// security boundary.
func contentHash(payload []byte) int {
	var h uint32 = 2166136261
	for _, b := range payload {
		h ^= uint32(b)
		h *= 16777619
	}
	if h == 0 {
		return 0
	}
	return int(h & 0x7fffffff)
}

// Dispatch selects an instance, forwards method/params through its
// protocol stack, and on ConnectionClosed/RequestTimeout fails over to
// another instance up to maxRetries times. Retries never
// extend past ctx's deadline.
func (r *Router) Dispatch(ctx context.Context, templateName string, strategy Strategy, method string, params any, maxRetries int) (*transport.Message, error) {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	var payload []byte
	if b, ok := params.([]byte); ok {
		payload = b
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, gwerrors.New(gwerrors.KindCancelled, "dispatch cancelled: %v", ctx.Err())
		default:
		}

		inst, err := r.Select(templateName, strategy, payload)
		if err != nil {
			return nil, err
		}

		stack, ok := r.sv.Stack(inst.ID)
		if !ok {
			r.markUnhealthy(inst.ID)
			lastErr = gwerrors.New(gwerrors.KindConnectionClosed, "instance %s has no active protocol stack", inst.ID)
			continue
		}

		start := time.Now()
		resp, err := stack.Call(ctx, method, params)
		latency := time.Since(start)

		success := err == nil && (resp == nil || resp.Error == nil)
		r.reg.RecordOutcome(templateName, success, latency.Nanoseconds())
		r.mu.Lock()
		sink := r.metrics
		r.mu.Unlock()
		if sink != nil {
			sink.ObserveDispatch(templateName, strategy, success, latency.Nanoseconds())
		}

		if err == nil {
			return resp, nil
		}

		lastErr = err
		kind := gwerrors.KindOf(err)
		if kind != gwerrors.KindConnectionClosed && kind != gwerrors.KindRequestTimeout {
			return nil, err
		}
		logger.Warning("router: dispatch to %s failed (%v), failing over (attempt %d/%d)", inst.ID, err, attempt+1, maxRetries)
		r.markUnhealthy(inst.ID)
	}
	return nil, lastErr
}
