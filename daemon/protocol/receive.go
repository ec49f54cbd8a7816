package protocol

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mcp-gateway/gateway/daemon/gwerrors"
	"github.com/mcp-gateway/gateway/daemon/transport"
)

// ReceiveMessage resolves with the next queued non-response message
// (notification or server-initiated request), or times out after timeout
//. It is a thin wrapper over the
// adapter's own Receive for transports that support polling (stdio,
// container); HTTP-family adapters reject with NotConnected since their
// response is delivered synchronously to Call instead.
func (s *Stack) ReceiveMessage(ctx context.Context, timeout time.Duration) (*transport.Message, error) {
	if timeout <= 0 {
		timeout = s.requestTimeout
	}
	recvCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.adapter.Receive(recvCtx)
}

// GreedyParse attempts to parse buf as a single JSON value even without a
// trailing newline, for peers that send full-object frames with no
// delimiter. Returns the parsed message and the number of
// leading bytes it consumed, or ok=false if buf is not yet a complete
// value.
func GreedyParse(buf []byte) (msg *transport.Message, consumed int, ok bool) {
	if len(buf) == 0 || !json.Valid(buf) {
		return nil, 0, false
	}
	var m transport.Message
	if err := json.Unmarshal(buf, &m); err != nil {
		return nil, 0, false
	}
	return &m, len(buf), true
}

// errUnsupportedReceive surfaces when ReceiveMessage is used against a
// transport kind that only delivers responses synchronously via Send.
var errUnsupportedReceive = gwerrors.New(gwerrors.KindNotConnected, "transport does not support polling receive")
