package notify

import (
	"context"
	"testing"

	"github.com/mcp-gateway/gateway/daemon/ai"
	"github.com/mcp-gateway/gateway/daemon/catalog"
	"github.com/mcp-gateway/gateway/daemon/domain"
	"github.com/mcp-gateway/gateway/daemon/supervisor"
)

func TestNotifier_DisabledConfigIsNoOp(t *testing.T) {
	n := New(domain.MQTTConfig{Enabled: false})
	if err := n.Connect(context.Background()); err != nil {
		t.Fatalf("Connect on disabled config should be a no-op, got %v", err)
	}
	if n.shouldPublish() {
		t.Fatal("disabled notifier should never report shouldPublish=true")
	}
	// These must not panic even though no client was ever dialed.
	n.NotifyServiceEvent(supervisor.Event{
		Kind:     supervisor.EventServiceStarted,
		Instance: catalog.ServiceInstance{ID: "inst-1", TemplateName: "svc", State: catalog.StateRunning},
	})
	n.ObserveLease("primary", ai.ClassAuth, false)
	n.Disconnect()
}

func TestNotifier_TopicPrefixDefaultsAndTrims(t *testing.T) {
	n := New(domain.MQTTConfig{Enabled: true, TopicPrefix: "gw/"})
	if got := n.topic("services/x"); got != "gw/services/x" {
		t.Errorf("topic: got %q", got)
	}

	n2 := New(domain.MQTTConfig{Enabled: true})
	if got := n2.topic("availability"); got != "mcp-gateway/availability" {
		t.Errorf("default prefix topic: got %q", got)
	}
}

func TestInstanceStateLabel(t *testing.T) {
	if got := InstanceStateLabel(catalog.StateRunning); got != "running" {
		t.Errorf("InstanceStateLabel: got %q", got)
	}
}
