package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mbocsi/goxfs/services"
)

// MCPClient exposes the controller's service layer as MCP tools
type MCPClient struct {
	mcpServer *MCPServer
	services  *services.ServiceContainer
	log       *slog.Logger
}

func NewMCPClient(serviceContainer *services.ServiceContainer, mcpServer *MCPServer, logger *slog.Logger) *MCPClient {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MCPClient{
		services:  serviceContainer,
		mcpServer: mcpServer,
		log:       logger.With("component", "mcp"),
	}
	m.registerServiceTools()
	m.registerCommandTools()
	m.registerDiscoveryTools()
	m.registerResources()
	return m
}

func (m *MCPClient) Run() error {
	return m.mcpServer.Run()
}

func (m *MCPClient) registerServiceTools() {
	listTool := mcp.NewTool("list_services",
		mcp.WithDescription("List the discovered XFS4IoT device services with their status and capabilities"),
	)
	m.mcpServer.Server.AddTool(listTool, m.handleListServices)

	statusTool := mcp.NewTool("get_service_status",
		mcp.WithDescription("Get the status and capabilities of one device service"),
		mcp.WithString("service_id",
			mcp.Required(),
			mcp.Description("Short id of the service as returned by list_services"),
		),
		mcp.WithBoolean("refresh",
			mcp.Description("Ask the device for Common.Status and Common.Capabilities first"),
		),
	)
	m.mcpServer.Server.AddTool(statusTool, m.handleGetServiceStatus)
}

func (m *MCPClient) registerCommandTools() {
	executeTool := mcp.NewTool("execute_command",
		mcp.WithDescription("Run a command on a device service and wait for its completion"),
		mcp.WithString("service_id",
			mcp.Required(),
			mcp.Description("Short id of the target service"),
		),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("Command name in Interface.Command form, e.g. CardReader.ReadRawData"),
		),
		mcp.WithObject("payload",
			mcp.Description("Command payload"),
		),
		mcp.WithNumber("timeout_ms",
			mcp.Description("Completion timeout in milliseconds"),
		),
	)
	m.mcpServer.Server.AddTool(executeTool, m.handleExecuteCommand)

	cancelTool := mcp.NewTool("cancel_commands",
		mcp.WithDescription("Cancel running commands on a device service"),
		mcp.WithString("service_id",
			mcp.Required(),
			mcp.Description("Short id of the target service"),
		),
		mcp.WithNumber("request_id",
			mcp.Description("Request to cancel; omit to cancel every request of the controller"),
		),
	)
	m.mcpServer.Server.AddTool(cancelTool, m.handleCancelCommands)
}

func (m *MCPClient) registerDiscoveryTools() {
	discoverTool := mcp.NewTool("discover_services",
		mcp.WithDescription("Scan for publishers and bootstrap any new device services"),
	)
	m.mcpServer.Server.AddTool(discoverTool, m.handleDiscoverServices)
}

func (m *MCPClient) handleListServices(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list, err := m.services.Device.ListServices()
	if err != nil {
		return m.toolError("Error listing services", err), nil
	}
	return jsonResult(map[string]any{
		"services": list,
		"count":    len(list),
	})
}

func (m *MCPClient) handleGetServiceStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("service_id")
	if err != nil {
		return mcp.NewToolResultError("service_id is required and must be a string"), nil
	}

	var info *services.ServiceInfo
	if request.GetBool("refresh", false) {
		info, err = m.services.Device.RefreshService(ctx, id)
	} else {
		info, err = m.services.Device.GetService(id)
	}
	if err != nil {
		return m.toolError("Error reading service "+id, err), nil
	}
	return jsonResult(info)
}

func (m *MCPClient) handleExecuteCommand(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("service_id")
	if err != nil {
		return mcp.NewToolResultError("service_id is required and must be a string"), nil
	}
	name, err := request.RequireString("command")
	if err != nil {
		return mcp.NewToolResultError("command is required and must be a string"), nil
	}

	req := services.CommandRequest{
		Name:    name,
		Timeout: time.Duration(request.GetFloat("timeout_ms", 0)) * time.Millisecond,
	}
	if args, ok := request.GetRawArguments().(map[string]any); ok {
		if payload, exists := args["payload"]; exists && payload != nil {
			raw, err := json.Marshal(payload)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal payload: %v", err)), nil
			}
			req.Payload = raw
		}
	}

	res, err := m.services.Command.Execute(ctx, id, req)
	if err != nil {
		return m.toolError("Command "+name+" failed", err), nil
	}
	return jsonResult(res)
}

func (m *MCPClient) handleCancelCommands(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("service_id")
	if err != nil {
		return mcp.NewToolResultError("service_id is required and must be a string"), nil
	}

	var ids []int
	if rid := request.GetFloat("request_id", -1); rid >= 0 {
		ids = append(ids, int(rid))
	}
	if err := m.services.Command.Cancel(ctx, id, ids...); err != nil {
		return m.toolError("Cancel failed", err), nil
	}
	if len(ids) == 0 {
		return mcp.NewToolResultText("Cancel sent for every request on " + id), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Cancel sent for request %d on %s", ids[0], id)), nil
}

func (m *MCPClient) handleDiscoverServices(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := m.services.Discovery.Rescan(ctx)
	if err != nil {
		return m.toolError("Discovery failed", err), nil
	}
	return jsonResult(result)
}

// toolError formats err with its service error code, if any
func (m *MCPClient) toolError(prefix string, err error) *mcp.CallToolResult {
	m.log.Warn("Tool call failed", "error", err)
	var serviceErr services.ServiceError
	if errors.As(err, &serviceErr) {
		return mcp.NewToolResultError(fmt.Sprintf("%s [%s]: %v", prefix, serviceErr.Code, err))
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}
