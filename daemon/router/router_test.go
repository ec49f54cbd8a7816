package router

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mcp-gateway/gateway/daemon/catalog"
	"github.com/mcp-gateway/gateway/daemon/gwerrors"
	"github.com/mcp-gateway/gateway/daemon/registry"
	"github.com/mcp-gateway/gateway/daemon/sandbox"
	"github.com/mcp-gateway/gateway/daemon/supervisor"
)

func TestDispatchFailsWithNoRunningInstances(t *testing.T) {
	n := 0
	sv := supervisor.New(sandbox.DefaultPolicy(), func() string {
		n++
		return fmt.Sprintf("inst-%d", n)
	})
	reg := registry.New(sv)
	if err := reg.Register(catalog.ServiceTemplate{Name: "svc", Transport: catalog.TransportStdio, Command: "echo"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	r := New(reg, sv)

	_, err := r.Dispatch(context.Background(), "svc", StrategyRoundRobin, "tools/list", struct{}{}, 1)
	if err == nil {
		t.Fatal("expected dispatch to fail with no running instances")
	}
	if gwerrors.KindOf(err) != gwerrors.KindServerError {
		t.Errorf("expected ServerError, got %v", gwerrors.KindOf(err))
	}
}

func TestContentHashDeterministic(t *testing.T) {
	a := contentHash([]byte("same payload"))
	b := contentHash([]byte("same payload"))
	if a != b {
		t.Errorf("expected identical payloads to hash identically, got %d vs %d", a, b)
	}
	c := contentHash([]byte("different payload"))
	if a == c {
		t.Errorf("expected different payloads to usually hash differently")
	}
}

func TestSelectByCostPicksCheapest(t *testing.T) {
	r := &Router{rrCounters: make(map[string]int), unhealthy: make(map[string]time.Time)}
	candidates := []catalog.ServiceInstance{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	r.SetCostLookup(func(id string) float64 {
		switch id {
		case "a":
			return 3
		case "b":
			return 1
		default:
			return 2
		}
	})
	got := r.selectByCost(candidates)
	if got.ID != "b" {
		t.Errorf("expected cheapest instance b, got %s", got.ID)
	}
}

func TestSelectRoundRobinCycles(t *testing.T) {
	r := &Router{rrCounters: make(map[string]int), unhealthy: make(map[string]time.Time)}
	candidates := []catalog.ServiceInstance{{ID: "a"}, {ID: "b"}}
	first := r.selectRoundRobin("tmpl", candidates)
	second := r.selectRoundRobin("tmpl", candidates)
	third := r.selectRoundRobin("tmpl", candidates)
	if first.ID == second.ID {
		t.Error("expected round-robin to alternate instances")
	}
	if first.ID != third.ID {
		t.Error("expected round-robin to cycle back after n selections")
	}
}

func TestMarkUnhealthyExcludesFromIsHealthy(t *testing.T) {
	r := &Router{rrCounters: make(map[string]int), unhealthy: make(map[string]time.Time)}
	if !r.isHealthy("x") {
		t.Fatal("expected unknown instance to start healthy")
	}
	r.markUnhealthy("x")
	if r.isHealthy("x") {
		t.Error("expected instance to be unhealthy immediately after marking")
	}
}
