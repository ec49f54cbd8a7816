// Package cmd wires the gateway's core packages together behind kong
// subcommands: serve (the long-running gateway) and mcp-stdio (an MCP
// server surface over stdin/stdout for local AI clients). Shaped after the
// teacher's own cmd package: one small Run(ctx) type per kong subcommand.
package cmd

import (
	"github.com/mcp-gateway/gateway/daemon/domain"
)

// Bridge fans lifecycle events out to both the typed, generics-checked
// domain.EventBus (consumed in-process, e.g. by the admin facade's
// websocket stream) and the raw cskr/pubsub hub on domain.Context (kept
// for any subscriber written against that interface directly, and to give
// the gateway binary a second, independently-buffered distribution path
// for operators who want to attach their own pubsub.PubSub consumers).
type Bridge struct {
	ctx *domain.Context
}

// NewBridge builds a Bridge over ctx's Bus and Hub.
func NewBridge(ctx *domain.Context) *Bridge {
	return &Bridge{ctx: ctx}
}

// Forward publishes msg on topic through both distribution paths.
func (b *Bridge) Forward(topic string, msg any) {
	b.ctx.Bus.Pub(msg, topic)
	b.ctx.Hub.Pub(msg, topic)
}
