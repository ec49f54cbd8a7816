// Package transport provides the uniform adapter abstraction over the three
// downstream MCP wire transports (standard streams, HTTP, streamable HTTP)
// plus a container-runtime wrapper, and the incremental JSON-RPC frame
// parser they share. The shape (Connect/Send/Receive/Disconnect plus
// published events) is carried over from an existing inbound server
// transport, generalized to an outbound client transport: instead of
// accepting connections from AI clients, each adapter here dials out to
// (or spawns) a downstream MCP peer.
package transport

import (
	"context"
	"encoding/json"
	"time"
)

// Kind identifies which wire an adapter speaks.
type Kind string

const (
	KindStdio         Kind = "stdio"
	KindHTTP          Kind = "http"
	KindStreamableHTTP Kind = "streamable-http"
	KindContainer      Kind = "container"
)

// Message is a JSON-RPC 2.0 envelope. Exactly one of (Method) or
// (Result/Error) is set for a given message: method set means
// request/notification, result/error set means response.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// IsRequest reports whether m carries a method and an id (a request, as
// opposed to a notification which has a method but no id).
func (m *Message) IsRequest() bool { return m.Method != "" && m.ID != nil }

// IsNotification reports whether m carries a method but no id.
func (m *Message) IsNotification() bool { return m.Method != "" && m.ID == nil }

// IsResponse reports whether m carries a result or an error.
func (m *Message) IsResponse() bool { return m.Method == "" && (m.Result != nil || m.Error != nil) }

// EventHandlers are the callbacks an Adapter publishes to. Unlike the
// teacher's emitter-inheritance approach, each adapter exposes named setter
// methods (SetMessageHandler, SetErrorHandler, ...) rather than a shared
// base type — there is no global emitter (design note 9.1).
type EventHandlers struct {
	// OnMessage fires for every whole JSON-RPC value received from the peer.
	OnMessage func(ctx context.Context, msg *Message)
	// OnStderr fires per stderr line for adapters with a stderr stream (stdio/container).
	OnStderr func(line string)
	// OnDisconnect fires once when the transport's connection is lost.
	OnDisconnect func(err error)
	// OnError fires for non-fatal adapter errors (parse errors, write failures).
	OnError func(err error)
}

// Adapter is the contract every transport implements. Connect/Disconnect/
// Send/Receive are the suspension points a caller's deadline must reach
// through ctx.
type Adapter interface {
	// Kind returns the adapter's immutable transport tag.
	Kind() Kind
	// ProtocolVersion returns the MCP version negotiated at handshake time,
	// or "" before negotiation has happened.
	ProtocolVersion() string
	// Connect establishes the underlying connection (spawns a child process
	// or dials an HTTP endpoint). It must honor ctx's deadline.
	Connect(ctx context.Context) error
	// Disconnect tears down the connection and rejects any adapter-owned
	// in-flight state with ConnectionClosed.
	Disconnect(ctx context.Context) error
	// Send writes a single message to the peer. Correlation is performed by
	// the protocol stack, not here — Send is request-agnostic.
	Send(ctx context.Context, msg *Message) error
	// Receive blocks for the next queued message or ctx's deadline,
	// whichever comes first. Not all adapters support it (HTTP does not;
	// see HTTPAdapter.Receive).
	Receive(ctx context.Context) (*Message, error)
	// IsConnected reports the adapter's current connection state.
	IsConnected() bool
	// SetHandlers installs the event callbacks. Must be called before Connect.
	SetHandlers(h EventHandlers)
	// SetNegotiatedVersion records the MCP version chosen during handshake.
	SetNegotiatedVersion(version string)
}

// SupportedVersions are the MCP protocol versions this gateway advertises,
// most recent first. Version negotiation picks the
// lexicographically greatest version common to client and server from this
// list.
var SupportedVersions = []string{
	"2025-06-18",
	"2025-03-26",
	"2024-11-26",
}

// Timeouts mirror the gateway's concurrency/resource model.
const (
	ConnectTimeout   = 10 * time.Second
	DefaultRequestTO = 30 * time.Second
	GracefulStopTO   = 5 * time.Second
)
