package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/mcp-gateway/gateway/daemon/gwerrors"
)

// sseEventKind distinguishes the framed events a streamable-HTTP peer may
// send in response to a single POST .
type sseEventKind string

const (
	sseEventDelta sseEventKind = "delta"
	sseEventDone  sseEventKind = "done"
	sseEventError sseEventKind = "error"
)

// StreamableHTTPAdapter shares HTTPAdapter's request path but consumes a
// server-sent stream for the response instead of a single JSON body,
// decoding framed events into messages as they arrive. Grounded on the
// teacher's SSETransport (daemon/services/mcp/transport.go), generalized
// from "broadcast to connected clients" to "consume one peer's response
// stream".
type StreamableHTTPAdapter struct {
	cfg HTTPConfig

	mu        sync.RWMutex
	client    *http.Client
	connected bool
	version   string
	handlers  EventHandlers
}

// NewStreamableHTTPAdapter validates cfg.BaseURL eagerly, same as HTTPAdapter.
func NewStreamableHTTPAdapter(cfg HTTPConfig) (*StreamableHTTPAdapter, error) {
	h, err := NewHTTPAdapter(cfg)
	if err != nil {
		return nil, err
	}
	return &StreamableHTTPAdapter{cfg: cfg, client: h.client}, nil
}

func (a *StreamableHTTPAdapter) Kind() Kind { return KindStreamableHTTP }

func (a *StreamableHTTPAdapter) ProtocolVersion() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.version
}

func (a *StreamableHTTPAdapter) SetNegotiatedVersion(v string) {
	a.mu.Lock()
	a.version = v
	a.mu.Unlock()
}

func (a *StreamableHTTPAdapter) SetHandlers(h EventHandlers) {
	a.mu.Lock()
	a.handlers = h
	a.mu.Unlock()
}

func (a *StreamableHTTPAdapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected
}

func (a *StreamableHTTPAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	a.connected = true
	a.mu.Unlock()
	return nil
}

func (a *StreamableHTTPAdapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	a.connected = false
	h := a.handlers.OnDisconnect
	a.mu.Unlock()
	if h != nil {
		h(gwerrors.New(gwerrors.KindConnectionClosed, "streamable-http adapter disconnected"))
	}
	return nil
}

// Send posts msg and streams the server-sent response, decoding each
// `event: <kind>\ndata: <json>` frame and dispatching it to OnMessage.
// A `done` event ends the stream normally; an `error` event is surfaced
// via OnError and also ends the stream.
func (a *StreamableHTTPAdapter) Send(ctx context.Context, msg *Message) error {
	a.mu.RLock()
	connected := a.connected
	a.mu.RUnlock()
	if !connected {
		return gwerrors.New(gwerrors.KindNotConnected, "streamable-http adapter is not connected")
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return gwerrors.Wrap(gwerrors.KindConnectionFailed, err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range a.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return gwerrors.Wrap(gwerrors.KindConnectionFailed, err, "posting to %s", a.cfg.BaseURL)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 != 2 {
		return gwerrors.New(gwerrors.KindServerError, "downstream returned HTTP %d", resp.StatusCode)
	}

	return a.consumeStream(ctx, resp.Body)
}

func (a *StreamableHTTPAdapter) consumeStream(ctx context.Context, body io.Reader) error {
	scanner := bufio.NewScanner(bufio.NewReader(body))
	var eventKind sseEventKind
	var dataLines []string

	flush := func() error {
		if len(dataLines) == 0 {
			return nil
		}
		data := strings.Join(dataLines, "\n")
		dataLines = nil

		switch eventKind {
		case sseEventError:
			a.mu.RLock()
			h := a.handlers.OnError
			a.mu.RUnlock()
			if h != nil {
				h(gwerrors.New(gwerrors.KindServerError, "downstream stream error: %s", data))
			}
			return gwerrors.New(gwerrors.KindServerError, "downstream stream error: %s", data)
		case sseEventDone:
			return errStreamDone
		default: // delta, or unspecified event type treated as delta
			var msg Message
			if err := json.Unmarshal([]byte(data), &msg); err != nil {
				return gwerrors.Wrap(gwerrors.KindMalformedMessage, err, "decoding stream frame")
			}
			a.mu.RLock()
			h := a.handlers.OnMessage
			a.mu.RUnlock()
			if h != nil {
				h(ctx, &msg)
			}
		}
		return nil
	}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				if err == errStreamDone {
					return nil
				}
				return err
			}
			eventKind = ""
		case strings.HasPrefix(line, "event:"):
			eventKind = sseEventKind(strings.TrimSpace(strings.TrimPrefix(line, "event:")))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		return gwerrors.Wrap(gwerrors.KindConnectionClosed, err, "reading downstream stream")
	}
	if err := flush(); err != nil && err != errStreamDone {
		return err
	}
	return nil
}

var errStreamDone = fmt.Errorf("stream done")

// Receive is unsupported; the stream is consumed synchronously within Send.
func (a *StreamableHTTPAdapter) Receive(ctx context.Context) (*Message, error) {
	return nil, gwerrors.New(gwerrors.KindNotConnected, "streamable-http adapter does not support Receive")
}
