package sandbox

import (
	"testing"

	"github.com/mcp-gateway/gateway/daemon/catalog"
	"github.com/mcp-gateway/gateway/daemon/transport"
)

func TestApply_RequireContainerForcesQuarantine(t *testing.T) {
	tmpl := catalog.ServiceTemplate{
		Name:      "svc",
		Transport: catalog.TransportStdio,
		Command:   "./svc",
		Container: &catalog.ContainerSpec{Image: "svc:latest"},
		Security:  catalog.SecuritySpec{RequireContainer: true},
	}
	d, err := Apply(DefaultPolicy(), tmpl)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if d.Config.Kind != transport.KindContainer {
		t.Fatalf("expected container kind, got %v", d.Config.Kind)
	}
	if !d.Applied {
		t.Fatal("expected Applied=true")
	}
}

func TestApply_PreferContainerForUntrusted(t *testing.T) {
	policy := DefaultPolicy()
	policy.PreferContainerForUntrusted = true
	tmpl := catalog.ServiceTemplate{
		Name: "svc", Transport: catalog.TransportStdio, Command: "./svc",
		Container: &catalog.ContainerSpec{Image: "svc:latest"},
	}
	d, err := Apply(policy, tmpl)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if d.Config.Kind != transport.KindContainer {
		t.Fatalf("expected container kind for untrusted template, got %v", d.Config.Kind)
	}
}

func TestApply_TrustedTemplateSkipsPreferContainer(t *testing.T) {
	policy := DefaultPolicy()
	policy.PreferContainerForUntrusted = true
	tmpl := catalog.ServiceTemplate{
		Name: "svc", Transport: catalog.TransportStdio, Command: "./svc",
		Trust: catalog.TrustTrusted,
	}
	d, err := Apply(policy, tmpl)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if d.Config.Kind != transport.KindStdio {
		t.Fatalf("expected stdio kind for trusted template, got %v", d.Config.Kind)
	}
}

func TestApply_LockedDownQuarantinesUntrustedStdio(t *testing.T) {
	policy := DefaultPolicy()
	policy.Profile = ProfileLockedDown
	tmpl := catalog.ServiceTemplate{
		Name: "svc", Transport: catalog.TransportStdio, Command: "./svc",
	}
	d, err := Apply(policy, tmpl)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if d.Config.Kind != transport.KindContainer {
		t.Fatalf("expected locked-down profile to quarantine into a container, got %v", d.Config.Kind)
	}
}

func TestApply_LockedDownSparesTrustedStdio(t *testing.T) {
	policy := DefaultPolicy()
	policy.Profile = ProfileLockedDown
	tmpl := catalog.ServiceTemplate{
		Name: "svc", Transport: catalog.TransportStdio, Command: "./svc",
		Trust: catalog.TrustTrusted,
	}
	d, err := Apply(policy, tmpl)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if d.Config.Kind != transport.KindStdio {
		t.Fatalf("expected trusted stdio template to run ungated under locked-down, got %v", d.Config.Kind)
	}
}

func TestApply_DefaultProfileHintsNpmTemplates(t *testing.T) {
	tmpl := catalog.ServiceTemplate{
		Name: "svc", Transport: catalog.TransportStdio, Command: "npx", Args: []string{"-y", "some-server"},
	}
	d, err := Apply(DefaultPolicy(), tmpl)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if d.Config.Kind != transport.KindStdio {
		t.Fatalf("expected stdio kind, got %v", d.Config.Kind)
	}
	if d.Config.Stdio.Env["SANDBOX"] != "portable" {
		t.Fatalf("expected SANDBOX=portable env hint, got %+v", d.Config.Stdio.Env)
	}
	if !d.Applied {
		t.Fatal("expected Applied=true")
	}
}

func TestApply_HTTPTemplatePassesThrough(t *testing.T) {
	tmpl := catalog.ServiceTemplate{
		Name: "svc", Transport: catalog.TransportHTTP, URL: "https://example.com/mcp",
	}
	d, err := Apply(DefaultPolicy(), tmpl)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if d.Config.Kind != transport.KindHTTP || d.Config.HTTP.BaseURL != tmpl.URL {
		t.Fatalf("unexpected HTTP config: %+v", d.Config)
	}
}

func TestApply_RejectsInvalidTemplate(t *testing.T) {
	tmpl := catalog.ServiceTemplate{Name: "svc", Transport: catalog.TransportStdio}
	if _, err := Apply(DefaultPolicy(), tmpl); err == nil {
		t.Fatal("expected validation error for stdio template with no command")
	}
}

func TestApply_ContainerConfigCarriesVolumesAndNetwork(t *testing.T) {
	policy := DefaultPolicy()
	policy.Container.AllowedHostRoots = []string{"/srv/mcp"}
	tmpl := catalog.ServiceTemplate{
		Name: "svc", Transport: catalog.TransportStdio, Command: "./svc",
		Security: catalog.SecuritySpec{RequireContainer: true},
		Container: &catalog.ContainerSpec{
			Image:   "svc:latest",
			Volumes: []catalog.VolumeMount{{HostPath: "/srv/mcp/data", ContainerPath: "/data"}},
		},
	}
	d, err := Apply(policy, tmpl)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if d.Config.Container.Network != "none" {
		t.Fatalf("expected default network 'none', got %q", d.Config.Container.Network)
	}
	if len(d.Config.Container.Volumes) != 1 || d.Config.Container.Volumes[0].ContainerPath != "/data" {
		t.Fatalf("expected volume carried through, got %+v", d.Config.Container.Volumes)
	}
}
