package supervisor

import (
	"context"
	"fmt"
	"testing"

	"github.com/mcp-gateway/gateway/daemon/catalog"
	"github.com/mcp-gateway/gateway/daemon/gwerrors"
	"github.com/mcp-gateway/gateway/daemon/sandbox"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("inst-%d", n)
	}
}

func TestStartProcessFailsFastOnPolicyViolation(t *testing.T) {
	sv := New(sandbox.DefaultPolicy(), sequentialIDs())

	tmpl := catalog.ServiceTemplate{
		Name:      "bad",
		Transport: catalog.TransportStdio,
		// Command left empty: Validate() should reject this before any
		// process gets spawned.
	}

	inst, err := sv.StartProcess(context.Background(), tmpl)
	if err == nil {
		t.Fatal("expected an error for an invalid template")
	}
	if inst.State != catalog.StateError {
		t.Errorf("expected instance to land in error state, got %s", inst.State)
	}
	if gwerrors.KindOf(err) == "" {
		t.Error("expected a tagged error")
	}
}

func TestStartProcessUnknownTransportKind(t *testing.T) {
	sv := New(sandbox.DefaultPolicy(), sequentialIDs())

	tmpl := catalog.ServiceTemplate{
		Name:      "broken-http",
		Transport: catalog.TransportHTTP,
		URL:       "not a url",
	}

	inst, err := sv.StartProcess(context.Background(), tmpl)
	if err == nil {
		t.Fatal("expected an error for an unparsable URL")
	}
	if inst.State != catalog.StateError {
		t.Errorf("expected instance to land in error state, got %s", inst.State)
	}
}

func TestGetProcessInfoUnknown(t *testing.T) {
	sv := New(sandbox.DefaultPolicy(), sequentialIDs())
	if _, ok := sv.GetProcessInfo("nope"); ok {
		t.Error("expected ok=false for an unknown instance id")
	}
}

func TestStopProcessUnknownInstance(t *testing.T) {
	sv := New(sandbox.DefaultPolicy(), sequentialIDs())
	if err := sv.StopProcess(context.Background(), "nope"); err == nil {
		t.Error("expected an error stopping an unknown instance")
	}
}

func TestListInstancesFiltersByTemplate(t *testing.T) {
	sv := New(sandbox.DefaultPolicy(), sequentialIDs())
	_, _ = sv.StartProcess(context.Background(), catalog.ServiceTemplate{Name: "a", Transport: catalog.TransportStdio})
	_, _ = sv.StartProcess(context.Background(), catalog.ServiceTemplate{Name: "b", Transport: catalog.TransportStdio})

	all := sv.ListInstances("")
	if len(all) != 2 {
		t.Fatalf("expected 2 instances, got %d", len(all))
	}
	filtered := sv.ListInstances("a")
	if len(filtered) != 1 || filtered[0].TemplateName != "a" {
		t.Fatalf("expected 1 instance for template a, got %+v", filtered)
	}
}
