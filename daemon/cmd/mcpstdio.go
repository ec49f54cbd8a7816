package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	segjson "github.com/segmentio/encoding/json"

	"github.com/mcp-gateway/gateway/daemon/domain"
	"github.com/mcp-gateway/gateway/daemon/logger"
	"github.com/mcp-gateway/gateway/daemon/registry"
	"github.com/mcp-gateway/gateway/daemon/router"
	"github.com/mcp-gateway/gateway/daemon/transport"
)

// MCPStdio exposes the gateway's aggregated tool surface as an MCP server
// over stdin/stdout, so a local AI client can talk to the gateway the same
// way it would talk to any single downstream MCP service — tools/list
// fans out to every running instance, tools/call routes to whichever
// template owns the requested tool. Uses segmentio/encoding/json rather
// than the stdlib codec the internal protocol stack uses for this wire
// boundary, since it is a throughput-sensitive external pipe rather than
// in-process correlation bookkeeping.
type MCPStdio struct {
	Registry *registry.Registry
	Router   *router.Router
}

// toolCallParams is the MCP tools/call request shape. Name is expected in
// "<template>.<tool>" form; handleToolsCall strips the template prefix
// before forwarding to the downstream instance.
type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Run reads newline-delimited JSON-RPC frames from stdin and writes
// responses to stdout until stdin closes.
func (m *MCPStdio) Run(ctx *domain.Context) error {
	parser := transport.NewFrameParser(0, false)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), transport.DefaultFrameBudget)

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	background := context.Background()

	for scanner.Scan() {
		frames, err := parser.Push(append(scanner.Bytes(), '\n'))
		if err != nil {
			logger.Warning("mcp-stdio: frame error: %v", err)
			continue
		}
		for _, frame := range frames {
			resp := m.handle(background, frame)
			if resp == nil {
				continue
			}
			data, err := segjson.Marshal(resp)
			if err != nil {
				logger.Error("mcp-stdio: marshal response: %v", err)
				continue
			}
			out.Write(data)
			out.WriteByte('\n')
			out.Flush()
		}
	}
	return scanner.Err()
}

func (m *MCPStdio) handle(ctx context.Context, frame []byte) *transport.Message {
	var msg transport.Message
	if err := segjson.Unmarshal(frame, &msg); err != nil {
		return errorResponse(nil, -32700, "parse error: "+err.Error())
	}
	if msg.Method == "" {
		return nil // a response frame, nothing to reply to
	}

	switch msg.Method {
	case "initialize":
		return m.handleInitialize(msg.ID)
	case "notifications/initialized":
		return nil
	case "tools/list":
		return m.handleToolsList(ctx, msg.ID)
	case "tools/call":
		return m.handleToolsCall(ctx, msg.ID, msg.Params)
	default:
		return errorResponse(msg.ID, -32601, "method not found: "+msg.Method)
	}
}

func (m *MCPStdio) handleInitialize(id *json.RawMessage) *transport.Message {
	result := map[string]any{
		"protocolVersion": transport.SupportedVersions[0],
		"serverInfo":      map[string]string{"name": "mcp-gateway", "version": "dev"},
		"capabilities":    map[string]any{"tools": map[string]any{}},
	}
	return resultResponse(id, result)
}

func (m *MCPStdio) handleToolsList(ctx context.Context, id *json.RawMessage) *transport.Message {
	perTemplate, err := m.Registry.ListAllTools(ctx)
	if err != nil {
		return errorResponse(id, -32000, err.Error())
	}

	var tools []map[string]any
	for templateName, raw := range perTemplate {
		var listing struct {
			Tools []map[string]any `json:"tools"`
		}
		data, err := segjson.Marshal(raw)
		if err != nil {
			continue
		}
		if err := segjson.Unmarshal(data, &listing); err != nil {
			continue
		}
		for _, tool := range listing.Tools {
			name, _ := tool["name"].(string)
			tool["name"] = templateName + "." + name
			tools = append(tools, tool)
		}
	}
	return resultResponse(id, map[string]any{"tools": tools})
}

func (m *MCPStdio) handleToolsCall(ctx context.Context, id *json.RawMessage, params json.RawMessage) *transport.Message {
	var call toolCallParams
	if err := segjson.Unmarshal(params, &call); err != nil {
		return errorResponse(id, -32602, "invalid params: "+err.Error())
	}

	templateName, toolName, ok := strings.Cut(call.Name, ".")
	if !ok {
		return errorResponse(id, -32602, fmt.Sprintf("tool name %q is not of the form <template>.<tool>", call.Name))
	}

	downstreamParams := map[string]any{"name": toolName, "arguments": call.Arguments}
	resp, err := m.Router.Dispatch(ctx, templateName, router.StrategyRoundRobin, "tools/call", downstreamParams, 0)
	if err != nil {
		return errorResponse(id, -32000, err.Error())
	}
	return resultResponse(id, resp.Result)
}

func resultResponse(id *json.RawMessage, result any) *transport.Message {
	data, err := segjson.Marshal(result)
	if err != nil {
		return errorResponse(id, -32000, "marshal result: "+err.Error())
	}
	return &transport.Message{JSONRPC: "2.0", ID: id, Result: data}
}

func errorResponse(id *json.RawMessage, code int, message string) *transport.Message {
	return &transport.Message{JSONRPC: "2.0", ID: id, Error: &transport.RPCError{Code: code, Message: message}}
}
