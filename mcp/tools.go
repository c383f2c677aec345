package mcp

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mbocsi/devlink/services"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// registerTransportTools registers MCP tools for transport selection
func (s *MCPServer) registerTransportTools() {
	listTool := mcp.NewTool("list_transports",
		mcp.WithDescription("List the transports that can connect to the device and which one is selected"),
	)
	s.Server.AddTool(listTool, s.handleListTransports)

	selectTool := mcp.NewTool("select_transport",
		mcp.WithDescription("Connect to the device over a transport. An empty name or \"none\" disconnects"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Transport name as returned by list_transports"),
		),
	)
	s.Server.AddTool(selectTool, s.handleSelectTransport)

	statusTool := mcp.NewTool("get_status",
		mcp.WithDescription("Get the connection status and the latest packet received from the device"),
	)
	s.Server.AddTool(statusTool, s.handleGetStatus)
}

// registerDeviceTools registers MCP tools for device traffic
func (s *MCPServer) registerDeviceTools() {
	packetTool := mcp.NewTool("send_packet",
		mcp.WithDescription("Send a command packet to a device variable"),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("Command name"),
			mcp.Enum("on", "off", "float_send", "mode", "up", "down", "ping"),
		),
		mcp.WithNumber("id",
			mcp.Description("Variable id, 0 to 255"),
		),
		mcp.WithNumber("value",
			mcp.Description("Float value for float_send and mode"),
		),
		mcp.WithBoolean("wait_reply",
			mcp.Description("Wait for the device reply and return it"),
		),
		mcp.WithNumber("timeout",
			mcp.Description("Reply timeout in seconds"),
		),
	)
	s.Server.AddTool(packetTool, s.handleSendPacket)

	messageTool := mcp.NewTool("send_message",
		mcp.WithDescription("Send a text message of 1 to 1023 UTF-8 bytes to the device"),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Message text"),
		),
	)
	s.Server.AddTool(messageTool, s.handleSendMessage)
}

func (s *MCPServer) handleListTransports(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	transports, err := s.services.Transport.ListTransports()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error listing transports: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"transports": transports,
		"count":      len(transports),
	})
}

func (s *MCPServer) handleSelectTransport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := request.GetString("name", "")
	if err := s.services.Transport.Select(ctx, name); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to select transport: %v", err)), nil
	}
	return jsonResult(s.services.Transport.Status())
}

func (s *MCPServer) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]any{
		"status":         s.services.Transport.Status(),
		"latest_packet":  s.services.Device.LatestPacket(),
		"latest_message": s.services.Device.LatestMessage(),
	})
}

func (s *MCPServer) handleSendPacket(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	command, err := request.RequireString("command")
	if err != nil {
		return mcp.NewToolResultError("command is required and must be a string"), nil
	}
	id := request.GetFloat("id", 0)
	if id < 0 || id > 255 {
		return mcp.NewToolResultError("id must be between 0 and 255"), nil
	}
	req := services.PacketRequest{
		Command: command,
		ID:      uint8(id),
		Value:   float32(request.GetFloat("value", 0)),
	}

	if !request.GetBool("wait_reply", false) {
		if err := s.services.Device.SendPacket(ctx, req); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to send packet: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Sent %s to variable %d", command, req.ID)), nil
	}

	timeout := time.Duration(request.GetFloat("timeout", 5) * float64(time.Second))
	resp, err := s.services.Device.Query(ctx, req, timeout)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Query failed: %v", err)), nil
	}
	return jsonResult(resp)
}

func (s *MCPServer) handleSendMessage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError("text is required and must be a string"), nil
	}
	if err := s.services.Device.SendMessage(ctx, services.MessageRequest{Text: text}); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to send message: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Sent %d byte message", len(text))), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}
