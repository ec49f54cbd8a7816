package domain

import "github.com/cskr/pubsub"

// Context holds the application runtime context: resolved configuration,
// the internal typed EventBus every core component publishes on, and the
// raw cskr/pubsub hub the teacher's own HTTP/WebSocket facade pattern
// expects to subscribe against. main.go bridges every EventBus topic onto
// Hub so an out-of-core admin surface can fan events out to connected
// browser clients without depending on the core's internal event types.
type Context struct {
	Hub *pubsub.PubSub
	Bus *EventBus
	Config
}

// NewContext builds a Context with a live Hub and Bus, wiring a bridge
// goroutine per topic is the caller's responsibility (see cmd.Bridge) since
// the set of topics worth forwarding is a deployment decision, not a core
// one.
func NewContext(cfg Config, busBufferSize, hubBufferSize int) *Context {
	return &Context{
		Hub:    pubsub.New(hubBufferSize),
		Bus:    NewEventBus(busBufferSize),
		Config: cfg,
	}
}
