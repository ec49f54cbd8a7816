package ai

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mcp-gateway/gateway/daemon/gwerrors"
	"github.com/mcp-gateway/gateway/daemon/logger"
)

// GenerateRequest is the unified request surface the client accepts,
// independent of which provider a lease resolves to. Shaped after a
// unified chat-request design, trimmed to what the gateway itself needs
// to route and bill.
type GenerateRequest struct {
	Model           string
	Messages        []Message
	MaxTokens       int
	EstimatedTokens int // upper token bound, reserved against the rate limiter before the call
}

// Message mirrors the OpenAI-style role/content pair every provider
// adapter translates from.
type Message struct {
	Role    string
	Content string
}

// GenerateResponse is the unified non-streaming result.
type GenerateResponse struct {
	Lease   Lease
	Content string
	Usage   Usage
}

// Usage tracks token counts for cost accounting.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ProviderCall is what a concrete provider adapter implements; the client
// is provider-agnostic and only ever sees this function shape.
type ProviderCall func(ctx context.Context, lease Lease, req GenerateRequest) (GenerateResponse, ErrorClass, error)

// Client is the unified generate/stream surface.
type Client struct {
	manager  *Manager
	tracker  *Tracker
	selector Selector

	maxAttempts  int
	baseDelay    time.Duration
}

// NewClient builds a Client over manager. selector may be nil to use
// DefaultSelector.
func NewClient(manager *Manager, tracker *Tracker, selector Selector) *Client {
	return &Client{
		manager:     manager,
		tracker:     tracker,
		selector:    selector,
		maxAttempts: 3,
		baseDelay:   500 * time.Millisecond,
	}
}

// Generate performs one logical request, retrying across leases per the
// error classification rules: auth disables the key and rotates; other
// retryable classes sleep (retry-after if provided, else exponential base
// delay) and rotate before the next attempt. Retries stop on exhausted
// attempts, a non-retryable class, or ctx's deadline.
func (c *Client) Generate(ctx context.Context, req GenerateRequest, call ProviderCall) (GenerateResponse, error) {
	var lastErr error

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return GenerateResponse{}, gwerrors.New(gwerrors.KindCancelled, "generate cancelled: %v", ctx.Err())
		default:
		}

		lease, err := c.manager.AcquireLease(c.selector)
		if err != nil {
			return GenerateResponse{}, err
		}

		if ok, _ := c.manager.Reserve(lease.ChannelID, req.EstimatedTokens); !ok {
			c.manager.Release(lease, false, ClassRateLimit)
			return GenerateResponse{}, gwerrors.New(gwerrors.KindRateLimited, "channel %q rate limit exhausted", lease.ChannelID)
		}

		resp, class, err := call(ctx, lease, req)
		if err == nil {
			c.manager.Release(lease, true, "")
			if c.tracker != nil {
				c.tracker.Record(req.Model, resp.Usage)
			}
			resp.Lease = lease
			return resp, nil
		}

		c.manager.Release(lease, false, class)
		lastErr = err

		if !class.Retryable() {
			return GenerateResponse{}, err
		}

		logger.Warning("ai: attempt %d/%d on channel %s failed (%s): %v", attempt+1, c.maxAttempts, lease.ChannelID, class, err)

		if attempt < c.maxAttempts-1 {
			delay := c.baseDelay * time.Duration(1<<uint(attempt))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return GenerateResponse{}, gwerrors.New(gwerrors.KindCancelled, "generate cancelled during backoff: %v", ctx.Err())
			}
		}
	}
	return GenerateResponse{}, lastErr
}

// StreamChunkKind tags which of the four chunk shapes a stream delivers.
type StreamChunkKind string

const (
	ChunkText     StreamChunkKind = "text"
	ChunkToolCall StreamChunkKind = "tool_call"
	ChunkError    StreamChunkKind = "error"
	ChunkFinish   StreamChunkKind = "finish"
)

// StreamChunk is one piece of a streaming response.
type StreamChunk struct {
	Kind     StreamChunkKind
	Text     string
	ToolCall json.RawMessage
	Err      error
	Usage    *Usage
}

// ProviderStreamCall is what a concrete provider adapter implements for
// streaming; it writes chunks to out and closes it when done.
type ProviderStreamCall func(ctx context.Context, lease Lease, req GenerateRequest, out chan<- StreamChunk) ErrorClass

// Stream yields chunks over the returned channel, which is closed when the
// stream ends. Before any chunk is emitted, a retryable error restarts the
// call on a new lease; after the first chunk, errors are surfaced as a
// {error} chunk and the stream ends.
func (c *Client) Stream(ctx context.Context, req GenerateRequest, call ProviderStreamCall) <-chan StreamChunk {
	out := make(chan StreamChunk, 8)

	go func() {
		defer close(out)

		for attempt := 0; attempt < c.maxAttempts; attempt++ {
			lease, err := c.manager.AcquireLease(c.selector)
			if err != nil {
				out <- StreamChunk{Kind: ChunkError, Err: err}
				return
			}
			if ok, _ := c.manager.Reserve(lease.ChannelID, req.EstimatedTokens); !ok {
				c.manager.Release(lease, false, ClassRateLimit)
				out <- StreamChunk{Kind: ChunkError, Err: gwerrors.New(gwerrors.KindRateLimited, "channel %q rate limit exhausted", lease.ChannelID)}
				return
			}

			inner := make(chan StreamChunk, 8)
			emitted := false
			classCh := make(chan ErrorClass, 1)
			go func() { classCh <- call(ctx, lease, req, inner) }()

			retry := false
			for chunk := range inner {
				if chunk.Kind == ChunkError && !emitted {
					class := <-classCh
					c.manager.Release(lease, false, class)
					if class.Retryable() && attempt < c.maxAttempts-1 {
						retry = true
						drain(inner)
						break
					}
					out <- chunk
					return
				}
				emitted = true
				out <- chunk
			}
			if retry {
				continue
			}

			class := <-classCh
			c.manager.Release(lease, emitted, class)
			return
		}
	}()

	return out
}

// drain discards any remaining chunks on ch so a provider adapter's write
// goroutine never blocks after the caller has stopped reading (the retry
// path abandons ch mid-stream).
func drain(ch <-chan StreamChunk) {
	go func() {
		for range ch {
		}
	}()
}
