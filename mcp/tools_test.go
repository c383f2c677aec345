package mcp

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mbocsi/devlink/link"
	"github.com/mbocsi/devlink/services"
	"github.com/mbocsi/devlink/transport"
)

func newTestMCPServer(t *testing.T) *MCPServer {
	t.Helper()
	r := transport.NewRegistry()
	r.Register(transport.NameSimulator, func() transport.Transport {
		return transport.NewSimulator(transport.SimulatorOptions{})
	})
	c := link.New(r, link.Options{})
	t.Cleanup(func() { c.Close() })
	return NewMCPServer(services.NewServiceContainer(c))
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatal("Expected tool result content")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("Expected text content, got %T", res.Content[0])
	}
	return text.Text
}

func TestTools_SelectAndSend(t *testing.T) {
	s := newTestMCPServer(t)
	ctx := context.Background()

	res, err := s.handleSelectTransport(ctx, call(map[string]any{"name": "simulator"}))
	if err != nil || res.IsError {
		t.Fatalf("select_transport failed: %v %s", err, resultText(t, res))
	}
	if !strings.Contains(resultText(t, res), `"connected": true`) {
		t.Errorf("Expected connected status, got %s", resultText(t, res))
	}

	res, _ = s.handleSendPacket(ctx, call(map[string]any{"command": "float_send", "id": 7.0, "value": 2.5, "wait_reply": true}))
	if res.IsError {
		t.Fatalf("send_packet failed: %s", resultText(t, res))
	}
	if !strings.Contains(resultText(t, res), `"value": 2.5`) {
		t.Errorf("Expected reply value in result, got %s", resultText(t, res))
	}

	res, _ = s.handleSendMessage(ctx, call(map[string]any{"text": "hi"}))
	if res.IsError {
		t.Errorf("send_message failed: %s", resultText(t, res))
	}
}

func TestTools_Errors(t *testing.T) {
	s := newTestMCPServer(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
		args    map[string]any
	}{
		{"unknown transport", s.handleSelectTransport, map[string]any{"name": "nope"}},
		{"missing command", s.handleSendPacket, map[string]any{}},
		{"bad id", s.handleSendPacket, map[string]any{"command": "on", "id": 300.0}},
		{"not connected", s.handleSendPacket, map[string]any{"command": "ping"}},
		{"missing text", s.handleSendMessage, map[string]any{}},
	}
	for _, tt := range tests {
		res, err := tt.handler(ctx, call(tt.args))
		if err != nil {
			t.Errorf("%s: unexpected protocol error %v", tt.name, err)
			continue
		}
		if !res.IsError {
			t.Errorf("%s: expected tool error, got %s", tt.name, resultText(t, res))
		}
	}
}

func TestTools_ListAndStatus(t *testing.T) {
	s := newTestMCPServer(t)
	res, _ := s.handleListTransports(context.Background(), call(nil))
	if !strings.Contains(resultText(t, res), `"count": 2`) {
		t.Errorf("Unexpected list result %s", resultText(t, res))
	}
	res, _ = s.handleGetStatus(context.Background(), call(nil))
	if !strings.Contains(resultText(t, res), `"selected": "none"`) {
		t.Errorf("Unexpected status result %s", resultText(t, res))
	}
}
