package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mcp-gateway/gateway/daemon/gwerrors"
)

// HTTPConfig configures an HTTPAdapter. BaseURL is derived, in order, from
// an explicit URL, a command starting with http(s), a host+port pair, or a
// configured default .
type HTTPConfig struct {
	BaseURL string
	Headers map[string]string // pre-parsed; ParseHeadersEnv below handles the JSON env form
	Timeout time.Duration
}

// ParseHeadersEnv parses the HTTP_HEADERS env variable: a JSON object of
// extra request headers. Invalid entries are logged and discarded rather
// than failing the whole parse.
func ParseHeadersEnv(raw string, onInvalid func(reason string)) map[string]string {
	headers := map[string]string{}
	if raw == "" {
		return headers
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		if onInvalid != nil {
			onInvalid(fmt.Sprintf("HTTP_HEADERS is not a JSON object: %v", err))
		}
		return headers
	}
	for k, v := range obj {
		s, ok := v.(string)
		if !ok {
			if onInvalid != nil {
				onInvalid(fmt.Sprintf("HTTP_HEADERS[%q] is not a string, discarding", k))
			}
			continue
		}
		headers[k] = s
	}
	return headers
}

// ResolveBaseURL implements the precedence order below.
func ResolveBaseURL(explicitURL, command, host string, port int, defaultURL string) (string, error) {
	candidates := []string{explicitURL}
	if strings.HasPrefix(command, "http://") || strings.HasPrefix(command, "https://") {
		candidates = append(candidates, command)
	}
	if host != "" {
		scheme := "http"
		candidates = append(candidates, fmt.Sprintf("%s://%s:%d", scheme, host, port))
	}
	candidates = append(candidates, defaultURL)

	for _, c := range candidates {
		if c == "" {
			continue
		}
		u, err := url.Parse(c)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			continue
		}
		return c, nil
	}
	return "", gwerrors.New(gwerrors.KindConnectionFailed, "no valid http(s) base URL configured")
}

// HTTPAdapter issues a single POST per Send; Receive is unsupported, the
// response to a POST is delivered synchronously to OnMessage instead
// (callers needing request/response correlation use the protocol stack's
// helper).
type HTTPAdapter struct {
	cfg HTTPConfig

	mu        sync.RWMutex
	client    *http.Client
	connected bool
	version   string
	handlers  EventHandlers
}

// NewHTTPAdapter validates the base URL eagerly: construction fails fast on
// an unparsable or non-http(s) URL for testability.
func NewHTTPAdapter(cfg HTTPConfig) (*HTTPAdapter, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, gwerrors.New(gwerrors.KindConnectionFailed, "invalid http(s) URL: %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTO
	}
	return &HTTPAdapter{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

func (a *HTTPAdapter) Kind() Kind { return KindHTTP }

func (a *HTTPAdapter) ProtocolVersion() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.version
}

func (a *HTTPAdapter) SetNegotiatedVersion(v string) {
	a.mu.Lock()
	a.version = v
	a.mu.Unlock()
}

func (a *HTTPAdapter) SetHandlers(h EventHandlers) {
	a.mu.Lock()
	a.handlers = h
	a.mu.Unlock()
}

func (a *HTTPAdapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected
}

// Connect is a no-op beyond marking the adapter connected: HTTP is
// connectionless per request, there is nothing to dial ahead of time.
func (a *HTTPAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	a.connected = true
	a.mu.Unlock()
	return nil
}

func (a *HTTPAdapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	a.connected = false
	h := a.handlers.OnDisconnect
	a.mu.Unlock()
	if h != nil {
		h(gwerrors.New(gwerrors.KindConnectionClosed, "http adapter disconnected"))
	}
	return nil
}

// Send issues one POST carrying msg and delivers the decoded response body
// to OnMessage. Notifications (no expected response body) still issue the
// POST; a non-2xx or unparsable response is surfaced via OnError.
func (a *HTTPAdapter) Send(ctx context.Context, msg *Message) error {
	a.mu.RLock()
	connected := a.connected
	a.mu.RUnlock()
	if !connected {
		return gwerrors.New(gwerrors.KindNotConnected, "http adapter is not connected")
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

	var respMsg Message
	if err := json.NewDecoder(resp.Body).Decode(&respMsg); err != nil {
		// A notification's 202/204 may have no body; that is not an error.
		if err.Error() == "EOF" {
			return nil
		}
		return gwerrors.Wrap(gwerrors.KindMalformedMessage, err, "decoding downstream response")
	}

	a.mu.RLock()
	h := a.handlers.OnMessage
	a.mu.RUnlock()
	if h != nil {
		h(ctx, &respMsg)
	}
	return nil
}

// Receive is unsupported for the plain HTTP adapter .
func (a *HTTPAdapter) Receive(ctx context.Context) (*Message, error) {
	return nil, gwerrors.New(gwerrors.KindNotConnected, "HTTP adapter does not support Receive; use Send's synchronous response")
}
