// Package protocol implements the MCP protocol stack: JSON-RPC 2.0
// framing on top of any transport.Adapter, version negotiation, the
// initialize/initialized handshake, and request/response correlation by
// message id with timer-based timeouts. Shaped after existing handshake
// handling code, generalized from "accept a handshake" to "perform one",
// plus JSON-RPC request type shapes seen elsewhere in the codebase.
package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcp-gateway/gateway/daemon/gwerrors"
	"github.com/mcp-gateway/gateway/daemon/logger"
	"github.com/mcp-gateway/gateway/daemon/transport"
)

// SupportedVersions are advertised during handshake, latest first.
var SupportedVersions = []string{"2025-06-18", "2025-03-26", "2024-11-26"}

// DefaultRequestTimeout is used when a service does not override it.
const DefaultRequestTimeout = 30 * time.Second

// pendingRequest is the correlation-map entry for one in-flight request.
type pendingRequest struct {
	resultCh chan result
	timer    *time.Timer
}

type result struct {
	msg *transport.Message
	err error
}

// Stack owns one adapter's correlation map and handshake state. One Stack
// per service instance; never shared across transports
// parser is single-owner").
type Stack struct {
	adapter transport.Adapter

	mu       sync.Mutex // serializes access to pending
	pending  map[string]*pendingRequest
	nextID   int64
	version  string
	capabilities json.RawMessage

	onNotification func(ctx context.Context, msg *transport.Message)
	onDisconnect   func(err error)

	requestTimeout time.Duration
	closed         bool
}

// New wraps adapter with a protocol stack. requestTimeout <= 0 uses
// DefaultRequestTimeout.
func New(adapter transport.Adapter, requestTimeout time.Duration) *Stack {
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	s := &Stack{
		adapter:        adapter,
		pending:        make(map[string]*pendingRequest),
		requestTimeout: requestTimeout,
	}
	adapter.SetHandlers(transport.EventHandlers{
		OnMessage:    s.handleMessage,
		OnDisconnect: s.handleDisconnect,
	})
	return s
}

// OnNotification registers the fan-out callback for messages with no id
// matching a pending request (notifications and server-initiated requests).
func (s *Stack) OnNotification(fn func(ctx context.Context, msg *transport.Message)) {
	s.mu.Lock()
	s.onNotification = fn
	s.mu.Unlock()
}

// OnDisconnect registers the callback fired when the transport disconnects
// and all pending correlations are rejected.
func (s *Stack) OnDisconnect(fn func(err error)) {
	s.mu.Lock()
	s.onDisconnect = fn
	s.mu.Unlock()
}

func (s *Stack) handleMessage(ctx context.Context, msg *transport.Message) {
	if msg.ID == nil {
		s.dispatchNotification(ctx, msg)
		return
	}

	key := idKey(*msg.ID)
	s.mu.Lock()
	pr, ok := s.pending[key]
	if ok {
		delete(s.pending, key)
	}
	s.mu.Unlock()

	if !ok {
		// No pending entry: either a server-initiated request, or a
		// late response for a cancelled id. Either way it is fanned
		// out, never silently dropped.
		s.dispatchNotification(ctx, msg)
		return
	}

	pr.timer.Stop()
	// A JSON-RPC error response is still a successfully correlated reply:
	// fold it into result.msg, not result.err. err is reserved for
	// transport/timeout/cancellation failures that mean no response body
	// exists to inspect at all. Callers that care about application-level
	// failure (a non-nil msg.Error) check resp.Error themselves, the same
	// way Handshake already does for "initialize rejected" and the
	// tools/list probe's MethodNotFound tolerance.
	select {
	case pr.resultCh <- result{msg: msg}:
	default:
	}
}

func (s *Stack) dispatchNotification(ctx context.Context, msg *transport.Message) {
	s.mu.Lock()
	fn := s.onNotification
	s.mu.Unlock()
	if fn != nil {
		fn(ctx, msg)
	}
}

func (s *Stack) handleDisconnect(err error) {
	s.mu.Lock()
	s.closed = true
	pending := s.pending
	s.pending = make(map[string]*pendingRequest)
	fn := s.onDisconnect
	s.mu.Unlock()

	closedErr := gwerrors.New(gwerrors.KindConnectionClosed, "transport disconnected")
	for _, pr := range pending {
		pr.timer.Stop()
		select {
		case pr.resultCh <- result{err: closedErr}:
		default:
		}
	}
	if fn != nil {
		fn(err)
	}
}

// Call sends a request and blocks until its correlated response arrives,
// the per-request timer fires, or ctx is cancelled. The timer is the single
// source of truth for the deadline.
func (s *Stack) Call(ctx context.Context, method string, params any) (*transport.Message, error) {
	id := atomic.AddInt64(&s.nextID, 1)
	rawID := json.RawMessage(fmt.Sprintf("%d", id))

	paramsRaw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshaling params for %s: %w", method, err)
	}

	msg := &transport.Message{
		JSONRPC: "2.0",
		ID:      &rawID,
		Method:  method,
		Params:  paramsRaw,
	}

	pr := &pendingRequest{resultCh: make(chan result, 1)}
	key := idKey(rawID)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, gwerrors.New(gwerrors.KindNotConnected, "protocol stack is closed")
	}
	pr.timer = time.AfterFunc(s.requestTimeout, func() {
		s.mu.Lock()
		_, stillPending := s.pending[key]
		delete(s.pending, key)
		s.mu.Unlock()
		if stillPending {
			select {
			case pr.resultCh <- result{err: gwerrors.New(gwerrors.KindRequestTimeout, "request %q timed out after %s", method, s.requestTimeout)}:
			default:
			}
		}
	})
	s.pending[key] = pr
	s.mu.Unlock()

	if err := s.adapter.Send(ctx, msg); err != nil {
		s.mu.Lock()
		delete(s.pending, key)
		s.mu.Unlock()
		pr.timer.Stop()
		return nil, err
	}

	select {
	case r := <-pr.resultCh:
		return r.msg, r.err
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, key)
		s.mu.Unlock()
		pr.timer.Stop()
		return nil, gwerrors.New(gwerrors.KindCancelled, "request %q cancelled: %v", method, ctx.Err())
	}
}

// Notify sends a one-way message with no id; no correlation entry is made.
func (s *Stack) Notify(ctx context.Context, method string, params any) error {
	paramsRaw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshaling params for %s: %w", method, err)
	}
	return s.adapter.Send(ctx, &transport.Message{JSONRPC: "2.0", Method: method, Params: paramsRaw})
}

func idKey(raw json.RawMessage) string { return string(raw) }

// NegotiateVersion picks the lexicographically greatest version common to
// client and server. clientVersions is latest-first; order does
// not affect the result, only which ties break deterministically.
func NegotiateVersion(clientVersions, serverVersions []string) (string, error) {
	serverSet := make(map[string]bool, len(serverVersions))
	for _, v := range serverVersions {
		serverSet[v] = true
	}
	best := ""
	for _, v := range clientVersions {
		if serverSet[v] && v > best {
			best = v
		}
	}
	if best == "" {
		return "", gwerrors.New(gwerrors.KindVersionUnsupported, "no common MCP version between %v and %v", clientVersions, serverVersions)
	}
	return best, nil
}

// clientCapabilities is the capability object advertised during initialize.
// Kept minimal and permissive; the gateway does not yet need a richer set.
type clientCapabilities struct {
	Tools     map[string]any `json:"tools,omitempty"`
	Resources map[string]any `json:"resources,omitempty"`
	Prompts   map[string]any `json:"prompts,omitempty"`
}

type initializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    clientCapabilities `json:"capabilities"`
	ClientInfo      clientInfo         `json:"clientInfo"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities"`
	ServerInfo      clientInfo      `json:"serverInfo"`
}

// Handshake performs version negotiation, the initialize/initialized
// exchange, and a tolerant tools/list probe. On success the
// negotiated version and capabilities are cached on the Stack.
func (s *Stack) Handshake(ctx context.Context, serverVersions []string) error {
	version, err := NegotiateVersion(SupportedVersions, serverVersions)
	if err != nil {
		return err
	}

	resp, err := s.Call(ctx, "initialize", initializeParams{
		ProtocolVersion: version,
		Capabilities:    clientCapabilities{Tools: map[string]any{}},
		ClientInfo:      clientInfo{Name: "mcp-gateway", Version: version},
	})
	if err != nil {
		return gwerrors.Wrap(gwerrors.KindHandshakeFailed, err, "initialize")
	}
	if resp.Error != nil {
		return gwerrors.New(gwerrors.KindHandshakeFailed, "initialize rejected: %s", resp.Error.Message)
	}

	var initRes initializeResult
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &initRes); err != nil {
			return gwerrors.Wrap(gwerrors.KindHandshakeFailed, err, "decoding initialize result")
		}
	}

	s.mu.Lock()
	s.version = version
	s.capabilities = initRes.Capabilities
	s.mu.Unlock()
	s.adapter.SetNegotiatedVersion(version)

	// Two differently-shaped initialized notifications, for compatibility
	// with peers expecting either the bare or the namespaced form.
	if err := s.Notify(ctx, "initialized", struct{}{}); err != nil {
		return gwerrors.Wrap(gwerrors.KindHandshakeFailed, err, "sending initialized")
	}
	if err := s.Notify(ctx, "notifications/initialized", struct{}{}); err != nil {
		return gwerrors.Wrap(gwerrors.KindHandshakeFailed, err, "sending notifications/initialized")
	}

	probeCtx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()
	probeResp, err := s.Call(probeCtx, "tools/list", struct{}{})
	if err != nil {
		return gwerrors.Wrap(gwerrors.KindHandshakeFailed, err, "tools/list probe")
	}
	if probeResp.Error != nil && probeResp.Error.Code != methodNotFoundCode {
		return gwerrors.New(gwerrors.KindHandshakeFailed, "tools/list probe failed: %s", probeResp.Error.Message)
	}

	logger.Info("protocol: handshake complete, negotiated version %s", version)
	return nil
}

const methodNotFoundCode = -32601

// Version returns the negotiated MCP version, or "" before handshake.
func (s *Stack) Version() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Capabilities returns the server capabilities object captured at
// handshake time, or nil before handshake.
func (s *Stack) Capabilities() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capabilities
}

// PendingCount reports the number of in-flight correlated requests; used by
// tests and diagnostics.
func (s *Stack) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
