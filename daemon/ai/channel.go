// Package ai implements the unified AI channel manager and client: a
// single generate/stream surface over many provider-specific back ends,
// with credential pooling, routing, retries, cost tracking, and rate
// limiting. Shaped after a unified Provider interface/request-response
// design, a reconnect-with-key-rotation idiom borrowed from MQTT client
// reconnection handling, and golang.org/x/time/rate for the sliding-window
// limiter.
package ai

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// RotationPolicy selects how a channel cycles through its key pool.
type RotationPolicy string

const (
	RotationPolling RotationPolicy = "polling"
	RotationRandom  RotationPolicy = "random"
)

// Channel binds a provider/model pair to a pool of credentials. Keys may
// be literal, environment-referenced (handled by the
// loader before a Channel is constructed), or newline/comma-separated for
// rotation; ParseKeys below does that splitting.
type Channel struct {
	ID       string
	Provider string
	Model    string
	Keys     []string
	Weight   int
	Enabled  bool
	Rotation RotationPolicy

	// Cost is consulted by the router's cost strategy and the tracker's
	// budget comparisons; it is a per-1k-token estimate in an arbitrary
	// currency unit the operator defines.
	Cost float64
}

// ParseKeys splits a raw key-pool string on newlines or commas, trimming
// blanks, tolerating whichever separator an operator's .env file happens
// to use.
func ParseKeys(raw string) []string {
	raw = strings.ReplaceAll(raw, ",", "\n")
	lines := strings.Split(raw, "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

// Lease is the only thing the client passes to the provider factory: one
// channel id plus one key index into its pool.
type Lease struct {
	ChannelID string
	KeyIndex  int
	Key       string
}

// channelState is the manager's mutable bookkeeping for one channel,
// separate from the immutable Channel descriptor so config reloads can
// swap descriptors without losing rotation position or cooldown state.
type channelState struct {
	channel      Channel
	rrIndex      int
	cooldownUntl time.Time
	consecutive  int
}

// Manager owns the channel set, issues/releases leases, and tracks
// per-channel cooldown state. Each channel is mutated only by the Manager;
// callers receive read-only snapshots.
type Manager struct {
	mu       sync.Mutex
	channels map[string]*channelState
	order    []string // registration order, for deterministic round-robin
	rrCursor int

	limiters map[string]*limiterPair

	metrics MetricsSink
}

// MetricsSink receives per-lease observations; installed by the binary
// wiring the manager to a metrics exporter (daemon/metrics's Prometheus
// collectors). Nil by default, so leasing never depends on it.
type MetricsSink interface {
	ObserveLease(channelID string, class ErrorClass, success bool)
}

// New builds an empty Manager.
func New() *Manager {
	return &Manager{
		channels: make(map[string]*channelState),
		limiters: make(map[string]*limiterPair),
	}
}

// SetMetricsSink installs the exporter Release reports outcomes to.
func (m *Manager) SetMetricsSink(sink MetricsSink) {
	m.mu.Lock()
	m.metrics = sink
	m.mu.Unlock()
}

// Register adds or replaces a channel definition.
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.channels[ch.ID]; !exists {
		m.order = append(m.order, ch.ID)
	}
	m.channels[ch.ID] = &channelState{channel: ch}
	if _, ok := m.limiters[ch.ID]; !ok {
		m.limiters[ch.ID] = newLimiterPair(DefaultRequestsPerMinute, DefaultTokensPerMinute)
	}
}

// SetEnabled flips a channel's enabled flag; the selector skips disabled
// channels and the cost tracker uses this as its budget-exhaustion lever
//; enforcement is the selector's job via enabled flips.
func (m *Manager) SetEnabled(channelID string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.channels[channelID]
	if !ok {
		return fmt.Errorf("unknown channel %q", channelID)
	}
	st.channel.Enabled = enabled
	return nil
}

// List returns a snapshot of every registered channel.
func (m *Manager) List() []Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Channel, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.channels[id].channel)
	}
	return out
}

// Get returns a snapshot of one channel.
func (m *Manager) Get(channelID string) (Channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.channels[channelID]
	if !ok {
		return Channel{}, false
	}
	return st.channel, true
}

func (m *Manager) cooldownExpired(id string, now time.Time) bool {
	st := m.channels[id]
	return now.After(st.cooldownUntl)
}

// selectableChannels returns enabled channels (in registration order)
// whose cooldown has expired.
func (m *Manager) selectableChannels(now time.Time) []*channelState {
	out := make([]*channelState, 0, len(m.order))
	for _, id := range m.order {
		st := m.channels[id]
		if st.channel.Enabled && m.cooldownExpired(id, now) {
			out = append(out, st)
		}
	}
	return out
}

// cooldown is how long a channel is skipped after its key pool is
// exhausted by an auth failure.
const cooldown = 30 * time.Second

func (m *Manager) applyCooldown(id string) {
	st, ok := m.channels[id]
	if !ok {
		return
	}
	st.cooldownUntl = time.Now().Add(cooldown)
}
