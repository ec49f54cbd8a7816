package ai

import (
	"context"
	"testing"

	"github.com/mcp-gateway/gateway/daemon/gwerrors"
)

func TestClassifyHTTPStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorClass
	}{
		{401, ClassAuth},
		{403, ClassAuth},
		{429, ClassRateLimit},
		{400, ClassInvalidRequest},
		{408, ClassTimeout},
		{500, ClassServerError},
		{503, ClassServerError},
		{200, ClassUnknown},
	}
	for _, tt := range tests {
		if got := ClassifyHTTPStatus(tt.status); got != tt.want {
			t.Errorf("ClassifyHTTPStatus(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestGenerateRetriesOnServerErrorThenSucceeds(t *testing.T) {
	m := New()
	m.Register(Channel{ID: "c1", Keys: []string{"k1"}, Enabled: true, Weight: 1})
	c := NewClient(m, NewTracker(0), nil)
	c.baseDelay = 0

	attempts := 0
	resp, err := c.Generate(context.Background(), GenerateRequest{Model: "m"}, func(ctx context.Context, lease Lease, req GenerateRequest) (GenerateResponse, ErrorClass, error) {
		attempts++
		if attempts < 2 {
			return GenerateResponse{}, ClassServerError, gwerrors.New(gwerrors.KindServerError, "boom")
		}
		return GenerateResponse{Content: "ok", Usage: Usage{TotalTokens: 10}}, "", nil
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("expected final response content 'ok', got %q", resp.Content)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestGenerateDoesNotRetryInvalidRequest(t *testing.T) {
	m := New()
	m.Register(Channel{ID: "c1", Keys: []string{"k1"}, Enabled: true, Weight: 1})
	c := NewClient(m, NewTracker(0), nil)
	c.baseDelay = 0

	attempts := 0
	_, err := c.Generate(context.Background(), GenerateRequest{Model: "m"}, func(ctx context.Context, lease Lease, req GenerateRequest) (GenerateResponse, ErrorClass, error) {
		attempts++
		return GenerateResponse{}, ClassInvalidRequest, gwerrors.New(gwerrors.KindInvalidRequest, "bad request")
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if attempts != 1 {
		t.Errorf("expected exactly 1 attempt for a non-retryable class, got %d", attempts)
	}
}

func TestGenerateRecordsUsageOnSuccess(t *testing.T) {
	m := New()
	m.Register(Channel{ID: "c1", Keys: []string{"k1"}, Enabled: true, Weight: 1})
	tracker := NewTracker(0)
	c := NewClient(m, tracker, nil)

	_, err := c.Generate(context.Background(), GenerateRequest{Model: "gpt"}, func(ctx context.Context, lease Lease, req GenerateRequest) (GenerateResponse, ErrorClass, error) {
		return GenerateResponse{Usage: Usage{TotalTokens: 42}}, "", nil
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if tracker.TotalUsage().TotalTokens != 42 {
		t.Errorf("expected tracker to record 42 tokens, got %d", tracker.TotalUsage().TotalTokens)
	}
}

func TestStreamEmitsChunksThenFinish(t *testing.T) {
	m := New()
	m.Register(Channel{ID: "c1", Keys: []string{"k1"}, Enabled: true, Weight: 1})
	c := NewClient(m, NewTracker(0), nil)

	out := c.Stream(context.Background(), GenerateRequest{Model: "m"}, func(ctx context.Context, lease Lease, req GenerateRequest, outCh chan<- StreamChunk) ErrorClass {
		outCh <- StreamChunk{Kind: ChunkText, Text: "hello "}
		outCh <- StreamChunk{Kind: ChunkText, Text: "world"}
		outCh <- StreamChunk{Kind: ChunkFinish}
		close(outCh)
		return ""
	})

	var texts []string
	sawFinish := false
	for chunk := range out {
		switch chunk.Kind {
		case ChunkText:
			texts = append(texts, chunk.Text)
		case ChunkFinish:
			sawFinish = true
		}
	}
	if len(texts) != 2 || texts[0] != "hello " || texts[1] != "world" {
		t.Errorf("unexpected text chunks: %v", texts)
	}
	if !sawFinish {
		t.Error("expected a finish chunk")
	}
}

func TestStreamRestartsBeforeFirstChunk(t *testing.T) {
	m := New()
	m.Register(Channel{ID: "c1", Keys: []string{"k1"}, Enabled: true, Weight: 1})
	c := NewClient(m, NewTracker(0), nil)
	c.baseDelay = 0

	attempts := 0
	out := c.Stream(context.Background(), GenerateRequest{Model: "m"}, func(ctx context.Context, lease Lease, req GenerateRequest, outCh chan<- StreamChunk) ErrorClass {
		attempts++
		if attempts < 2 {
			outCh <- StreamChunk{Kind: ChunkError, Err: gwerrors.New(gwerrors.KindServerError, "boom")}
			close(outCh)
			return ClassServerError
		}
		outCh <- StreamChunk{Kind: ChunkText, Text: "recovered"}
		close(outCh)
		return ""
	})

	var texts []string
	for chunk := range out {
		if chunk.Kind == ChunkText {
			texts = append(texts, chunk.Text)
		}
	}
	if len(texts) != 1 || texts[0] != "recovered" {
		t.Errorf("expected stream to restart and recover, got %v (attempts=%d)", texts, attempts)
	}
}
