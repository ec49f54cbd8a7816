// Package notify publishes gateway lifecycle events onto an MQTT broker,
// so operators can wire service-instance state changes and AI channel
// cooldowns into home-automation-style dashboards the same way the
// teacher's own MQTT client fans out host metrics. Unlike that client this
// one carries no Home Assistant discovery payloads: the gateway publishes
// three narrow topics (service state, channel lease outcome, availability)
// rather than a device's worth of sensors.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/mcp-gateway/gateway/daemon/ai"
	"github.com/mcp-gateway/gateway/daemon/catalog"
	"github.com/mcp-gateway/gateway/daemon/domain"
	"github.com/mcp-gateway/gateway/daemon/logger"
	"github.com/mcp-gateway/gateway/daemon/supervisor"
)

// ServiceEvent is the JSON payload published when a service instance
// transitions state.
type ServiceEvent struct {
	TemplateName string    `json:"templateName"`
	InstanceID   string    `json:"instanceId"`
	State        string    `json:"state"`
	Err          string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// ChannelEvent is the JSON payload published when an AI channel lease
// completes, including the cases that trip its cooldown.
type ChannelEvent struct {
	ChannelID string    `json:"channelId"`
	Class     string    `json:"class"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier publishes gateway events to an MQTT broker. It implements
// ai.MetricsSink so the caller can install it as a second lease observer
// alongside the Prometheus registry (see daemon/metrics.ChannelFanout), and
// is wired directly into the supervisor's OnEvent callback for service
// lifecycle transitions.
type Notifier struct {
	cfg      domain.MQTTConfig
	client   pahomqtt.Client
	connected atomic.Bool
	msgSent  atomic.Int64
	msgErr   atomic.Int64
}

// New builds a Notifier from the gateway's MQTT configuration. The client
// is not connected until Connect is called; a disabled config makes every
// method a no-op so callers can construct and wire a Notifier unconditionally.
func New(cfg domain.MQTTConfig) *Notifier {
	return &Notifier{cfg: cfg}
}

// Connect dials the broker if the configuration enables MQTT. It blocks
// until the connect attempt resolves or ctx is canceled.
func (n *Notifier) Connect(ctx context.Context) error {
	if !n.cfg.Enabled {
		return nil
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(n.cfg.Broker)
	clientID := n.cfg.ClientID
	if clientID == "" {
		clientID = "mcp-gateway"
	}
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)

	if n.cfg.Username != "" {
		opts.SetUsername(n.cfg.Username)
	}
	if n.cfg.Password != "" {
		opts.SetPassword(n.cfg.Password)
	}

	availability := n.topic("availability")
	opts.SetWill(availability, "offline", 1, true)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		n.connected.Store(true)
		logger.Success("notify: connected to MQTT broker %s", n.cfg.Broker)
		_ = n.publish(availability, "online", true)
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		n.connected.Store(false)
		logger.Warning("notify: MQTT connection lost: %v", err)
	})

	n.client = pahomqtt.NewClient(opts)

	done := make(chan struct{})
	token := n.client.Connect()
	go func() {
		token.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt connect canceled: %w", ctx.Err())
	case <-done:
		if token.Error() != nil {
			return fmt.Errorf("mqtt connect: %w", token.Error())
		}
	}
	return nil
}

// Disconnect publishes an offline availability message and closes the
// connection, if one was ever established.
func (n *Notifier) Disconnect() {
	if n.client == nil || !n.client.IsConnected() {
		return
	}
	_ = n.publish(n.topic("availability"), "offline", true)
	n.client.Disconnect(250)
	n.connected.Store(false)
}

// NotifyServiceEvent publishes a supervisor lifecycle event. Wired by
// cmd.Bridge as the supervisor's single OnEvent callback (alongside the
// event-bus fan-out), so it observes every start/stop/crash.
func (n *Notifier) NotifyServiceEvent(ev supervisor.Event) {
	if !n.shouldPublish() {
		return
	}
	payload := ServiceEvent{
		TemplateName: ev.Instance.TemplateName,
		InstanceID:   ev.Instance.ID,
		State:        string(ev.Instance.State),
		Timestamp:    time.Now(),
	}
	if ev.Err != nil {
		payload.Err = ev.Err.Error()
	}
	_ = n.publishJSON(n.topic("services/"+ev.Instance.TemplateName), payload)
}

// ObserveLease implements ai.MetricsSink, publishing one message per lease
// outcome so a cooldown-triggering run of auth failures is externally
// visible without polling the admin facade.
func (n *Notifier) ObserveLease(channelID string, class ai.ErrorClass, success bool) {
	if !n.shouldPublish() {
		return
	}
	_ = n.publishJSON(n.topic("channels/"+channelID), ChannelEvent{
		ChannelID: channelID,
		Class:     string(class),
		Success:   success,
		Timestamp: time.Now(),
	})
}

// InstanceStateLabel is a convenience accessor kept separate from
// NotifyServiceEvent so callers building synthetic events (e.g. the admin
// facade replaying history) don't need a supervisor.Event wrapper.
func InstanceStateLabel(s catalog.InstanceState) string { return string(s) }

func (n *Notifier) shouldPublish() bool {
	return n.cfg.Enabled && n.connected.Load() && n.client != nil
}

func (n *Notifier) publish(topic, payload string, retained bool) error {
	token := n.client.Publish(topic, 1, retained, payload)
	token.Wait()
	if token.Error() != nil {
		n.msgErr.Add(1)
		return token.Error()
	}
	n.msgSent.Add(1)
	return nil
}

func (n *Notifier) publishJSON(topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		n.msgErr.Add(1)
		return fmt.Errorf("marshal mqtt payload: %w", err)
	}
	return n.publish(topic, string(data), false)
}

func (n *Notifier) topic(suffix string) string {
	prefix := strings.TrimSuffix(n.cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = "mcp-gateway"
	}
	return prefix + "/" + suffix
}
