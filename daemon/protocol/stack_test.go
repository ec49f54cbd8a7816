package protocol

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mcp-gateway/gateway/daemon/gwerrors"
	"github.com/mcp-gateway/gateway/daemon/transport"
)

// fakeAdapter is an in-memory transport.Adapter for protocol stack tests.
// Send optionally triggers an automatic reply via autoReply so Call() tests
// do not need a real child process.
type fakeAdapter struct {
	connected bool
	handlers  transport.EventHandlers
	sent      []*transport.Message
	autoReply func(req *transport.Message) *transport.Message
	sendErr   error
}

func (f *fakeAdapter) Kind() transport.Kind            { return transport.KindStdio }
func (f *fakeAdapter) ProtocolVersion() string         { return "" }
func (f *fakeAdapter) SetNegotiatedVersion(string)     {}
func (f *fakeAdapter) SetHandlers(h transport.EventHandlers) { f.handlers = h }
func (f *fakeAdapter) IsConnected() bool               { return f.connected }
func (f *fakeAdapter) Connect(ctx context.Context) error {
	f.connected = true
	return nil
}
func (f *fakeAdapter) Disconnect(ctx context.Context) error {
	f.connected = false
	return nil
}
func (f *fakeAdapter) Receive(ctx context.Context) (*transport.Message, error) {
	return nil, gwerrors.New(gwerrors.KindNotConnected, "fakeAdapter does not support Receive")
}
func (f *fakeAdapter) Send(ctx context.Context, msg *transport.Message) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	if f.autoReply != nil {
		if reply := f.autoReply(msg); reply != nil {
			go f.handlers.OnMessage(ctx, reply)
		}
	}
	return nil
}

func TestNegotiateVersion(t *testing.T) {
	tests := []struct {
		name    string
		client  []string
		server  []string
		want    string
		wantErr bool
	}{
		{"exact overlap picks greatest", []string{"2025-06-18", "2025-03-26"}, []string{"2025-03-26", "2024-11-26"}, "2025-03-26", false},
		{"full overlap picks latest", SupportedVersions, SupportedVersions, "2025-06-18", false},
		{"no overlap fails", []string{"2025-06-18"}, []string{"1999-01-01"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NegotiateVersion(tt.client, tt.server)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCallResolvesOnMatchingID(t *testing.T) {
	fa := &fakeAdapter{connected: true}
	fa.autoReply = func(req *transport.Message) *transport.Message {
		return &transport.Message{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{"ok":true}`)}
	}
	s := New(fa, time.Second)

	resp, err := s.Call(context.Background(), "tools/list", struct{}{})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(resp.Result) != `{"ok":true}` {
		t.Errorf("unexpected result: %s", resp.Result)
	}
	if s.PendingCount() != 0 {
		t.Errorf("expected no pending requests after resolution, got %d", s.PendingCount())
	}
}

func TestCallTimesOut(t *testing.T) {
	fa := &fakeAdapter{connected: true} // no autoReply: request never resolves
	s := New(fa, 20*time.Millisecond)

	_, err := s.Call(context.Background(), "tools/list", struct{}{})
	if gwerrors.KindOf(err) != gwerrors.KindRequestTimeout {
		t.Fatalf("expected RequestTimeout, got %v", err)
	}
}

func TestCallCancelledByCaller(t *testing.T) {
	fa := &fakeAdapter{connected: true}
	s := New(fa, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Call(ctx, "tools/list", struct{}{})
	if gwerrors.KindOf(err) != gwerrors.KindCancelled {
		t.Fatalf("expected Cancelled, got %v", err)
	}
}

func TestHandshakeTrivialNotFoundProbe(t *testing.T) {
	fa := &fakeAdapter{connected: true}
	fa.autoReply = func(req *transport.Message) *transport.Message {
		switch req.Method {
		case "initialize":
			return &transport.Message{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{"protocolVersion":"2025-03-26"}`)}
		case "tools/list":
			return &transport.Message{JSONRPC: "2.0", ID: req.ID, Error: &transport.RPCError{Code: methodNotFoundCode, Message: "method not found"}}
		}
		return nil
	}
	s := New(fa, time.Second)

	if err := s.Handshake(context.Background(), []string{"2025-03-26"}); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if s.Version() != "2025-03-26" {
		t.Errorf("expected negotiated version 2025-03-26, got %q", s.Version())
	}
}

func TestHandshakeFailsOnOtherProbeError(t *testing.T) {
	fa := &fakeAdapter{connected: true}
	fa.autoReply = func(req *transport.Message) *transport.Message {
		switch req.Method {
		case "initialize":
			return &transport.Message{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{"protocolVersion":"2025-03-26"}`)}
		case "tools/list":
			return &transport.Message{JSONRPC: "2.0", ID: req.ID, Error: &transport.RPCError{Code: -32000, Message: "boom"}}
		}
		return nil
	}
	s := New(fa, time.Second)

	if err := s.Handshake(context.Background(), []string{"2025-03-26"}); err == nil {
		t.Fatal("expected handshake to fail on non-MethodNotFound probe error")
	}
}

func TestDisconnectRejectsAllPending(t *testing.T) {
	fa := &fakeAdapter{connected: true}
	s := New(fa, time.Second)

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Call(context.Background(), "tools/list", struct{}{})
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	fa.handlers.OnDisconnect(gwerrors.New(gwerrors.KindConnectionClosed, "closed"))

	select {
	case err := <-errCh:
		if gwerrors.KindOf(err) != gwerrors.KindConnectionClosed {
			t.Fatalf("expected ConnectionClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pending call to be rejected")
	}
}

func TestGreedyParse(t *testing.T) {
	msg, n, ok := GreedyParse([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
	if !ok {
		t.Fatal("expected ok=true for a complete JSON object")
	}
	if msg.JSONRPC != "2.0" || n == 0 {
		t.Errorf("unexpected parse result: %+v, consumed=%d", msg, n)
	}

	if _, _, ok := GreedyParse([]byte(`{"jsonrpc":"2.0"`)); ok {
		t.Error("expected ok=false for a truncated object")
	}
}
