package transport

import (
	"encoding/json"
	"fmt"

	"github.com/mcp-gateway/gateway/daemon/gwerrors"
	"github.com/mcp-gateway/gateway/daemon/logger"
)

// DefaultFrameBudget bounds the in-progress frame buffer. A downstream peer
// that never closes a JSON value within this many bytes is misbehaving.
const DefaultFrameBudget = 8 * 1024 * 1024

// FrameParser turns a byte stream containing concatenated, possibly
// line-noisy JSON values into a sequence of whole values. It tolerates
// whitespace and junk between values and correctly tracks string/escape
// state so that `}{` inside a string literal never splits a frame.
type FrameParser struct {
	budget int
	strict bool

	buf       []byte
	depth     int
	inString  bool
	escaped   bool
	collecting bool

	onError func(err error, raw []byte)
}

// NewFrameParser creates a parser with the given byte budget (0 uses the
// default) and strict mode. In strict mode ParseError is returned from
// Push instead of routed to the error callback.
func NewFrameParser(budget int, strict bool) *FrameParser {
	if budget <= 0 {
		budget = DefaultFrameBudget
	}
	return &FrameParser{budget: budget, strict: strict}
}

// OnError registers the callback invoked when a completed frame fails to
// parse as JSON. The parser continues after emitting the callback.
func (p *FrameParser) OnError(fn func(err error, raw []byte)) {
	p.onError = fn
}

// Reset clears all in-progress state, discarding any partially buffered frame.
func (p *FrameParser) Reset() {
	p.buf = p.buf[:0]
	p.depth = 0
	p.inString = false
	p.escaped = false
	p.collecting = false
}

// Push feeds bytes into the parser and returns whole JSON values completed
// by this call, in order. Push never returns a partial value. It is safe to
// call Push repeatedly with arbitrary chunk boundaries:
// Push(a); Push(b) yields the same sequence as Push(a+b).
func (p *FrameParser) Push(chunk []byte) ([]json.RawMessage, error) {
	var values []json.RawMessage

	for _, b := range chunk {
		if !p.collecting {
			// Outer state: skip whitespace and junk until a value opens.
			if b == '{' || b == '[' {
				p.collecting = true
				p.depth = 0
				p.inString = false
				p.escaped = false
				p.buf = p.buf[:0]
			} else {
				continue
			}
		}

		p.buf = append(p.buf, b)

		if len(p.buf) > p.budget {
			p.Reset()
			err := gwerrors.New(gwerrors.KindBufferOverflow, "frame exceeded %d byte budget", p.budget)
			if p.strict {
				return values, err
			}
			logger.Warning("mcp frame parser: %v", err)
			continue
		}

		if p.inString {
			switch {
			case p.escaped:
				p.escaped = false
			case b == '\\':
				p.escaped = true
			case b == '"':
				p.inString = false
			}
			continue
		}

		switch b {
		case '"':
			p.inString = true
		case '{', '[':
			p.depth++
		case '}', ']':
			p.depth--
			if p.depth == 0 {
				raw := make(json.RawMessage, len(p.buf))
				copy(raw, p.buf)
				p.collecting = false
				p.buf = p.buf[:0]

				if !json.Valid(raw) {
					err := gwerrors.New(gwerrors.KindParseError, "malformed JSON-RPC frame")
					if p.strict {
						return values, err
					}
					if p.onError != nil {
						p.onError(err, raw)
					} else {
						logger.Warning("mcp frame parser: %v", err)
					}
					continue
				}
				values = append(values, raw)
			}
		}
	}

	return values, nil
}

// PushString is a convenience wrapper for Push([]byte(s)).
func (p *FrameParser) PushString(s string) ([]json.RawMessage, error) {
	return p.Push([]byte(s))
}

func (p *FrameParser) String() string {
	return fmt.Sprintf("FrameParser{depth=%d, inString=%v, buffered=%d}", p.depth, p.inString, len(p.buf))
}
