package ai

import (
	"math/rand"
	"time"

	"github.com/mcp-gateway/gateway/daemon/gwerrors"
)

// Selector is a pluggable load balancer over enabled, non-cooldown
// channels. The default selector is weighted round-robin;
// callers may install their own (e.g. the router's cost strategy reused
// for AI channels).
type Selector func(m *Manager, now time.Time) (string, error)

// DefaultSelector implements round-robin weighted by Channel.Weight: a
// channel with weight 3 is offered three times as often as one with
// weight 1, by expanding the candidate list before indexing it.
func DefaultSelector(m *Manager, now time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	candidates := m.selectableChannels(now)
	if len(candidates) == 0 {
		return "", gwerrors.New(gwerrors.KindServerError, "no enabled channels available (all disabled or cooling down)")
	}

	expanded := make([]string, 0, len(candidates))
	for _, st := range candidates {
		w := st.channel.Weight
		if w <= 0 {
			w = 1
		}
		for i := 0; i < w; i++ {
			expanded = append(expanded, st.channel.ID)
		}
	}

	id := expanded[m.rrCursor%len(expanded)]
	m.rrCursor++
	return id, nil
}

// AcquireLease picks a channel via selector, then picks a key from its pool
// per the channel's RotationPolicy ("polling" round-robins
// skipping disabled channels, "random" picks uniformly).
func (m *Manager) AcquireLease(selector Selector) (Lease, error) {
	if selector == nil {
		selector = DefaultSelector
	}
	channelID, err := selector(m, time.Now())
	if err != nil {
		return Lease{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.channels[channelID]
	if !ok {
		return Lease{}, gwerrors.New(gwerrors.KindServerError, "selector returned unknown channel %q", channelID)
	}
	if len(st.channel.Keys) == 0 {
		return Lease{}, gwerrors.New(gwerrors.KindAuthError, "channel %q has no keys configured", channelID)
	}

	var idx int
	switch st.channel.Rotation {
	case RotationRandom:
		idx = rand.Intn(len(st.channel.Keys))
	default: // polling
		idx = st.rrIndex % len(st.channel.Keys)
		st.rrIndex++
	}

	return Lease{ChannelID: channelID, KeyIndex: idx, Key: st.channel.Keys[idx]}, nil
}

// Release updates channel counters after a call completes. success=false
// with classification auth disables the exhausted key's channel briefly
// (cooldown) and rotates past it on the next acquire.
func (m *Manager) Release(lease Lease, success bool, class ErrorClass) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sink := m.metrics; sink != nil {
		sink.ObserveLease(lease.ChannelID, class, success)
	}
	st, ok := m.channels[lease.ChannelID]
	if !ok {
		return
	}
	if success {
		st.consecutive = 0
		return
	}
	st.consecutive++
	if class == ClassAuth {
		m.applyCooldown(lease.ChannelID)
	}
}
