package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	servicesResourceURI = "xfs4iot://services"
	serviceResourceURI  = "xfs4iot://services/{service_id}"
)

const instructions = `This server drives XFS4IoT self-service devices (ATMs, kiosks) through a controller.
Call list_services or read xfs4iot://services to find device services and their short ids.
Commands are named Interface.Command, e.g. CardReader.ReadRawData, and must appear in the
service's capabilities. A command that completes with a status other than success is
reported as a result with succeeded=false, not as a tool error.`

type Server interface {
	Run() error
}

type MCPServer struct {
	Server *server.MCPServer
	log    *slog.Logger
}

func NewMCPServer(version string) *MCPServer {
	return &MCPServer{
		Server: server.NewMCPServer("goxfs controller", version,
			server.WithToolCapabilities(false),
			server.WithResourceCapabilities(false, false),
			server.WithInstructions(instructions),
			server.WithRecovery(),
		),
		log: slog.Default().With("component", "mcp"),
	}
}

// Run serves MCP over stdin/stdout until stdin closes
func (s *MCPServer) Run() error {
	s.log.Info("Started stdio MCP server")
	defer s.log.Info("Shut down stdio MCP server")
	return server.ServeStdio(s.Server)
}

func (m *MCPClient) registerResources() {
	m.mcpServer.Server.AddResource(
		mcp.NewResource(servicesResourceURI, "Device services",
			mcp.WithResourceDescription("Every discovered XFS4IoT service with its status and capabilities"),
			mcp.WithMIMEType("application/json"),
		),
		m.handleServicesResource,
	)
	m.mcpServer.Server.AddResourceTemplate(
		mcp.NewResourceTemplate(serviceResourceURI, "Device service",
			mcp.WithTemplateDescription("One XFS4IoT service by short id"),
			mcp.WithTemplateMIMEType("application/json"),
		),
		m.handleServiceResource,
	)
}

func (m *MCPClient) handleServicesResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	list, err := m.services.Device.ListServices()
	if err != nil {
		return nil, err
	}
	return jsonResource(request.Params.URI, list)
}

func (m *MCPClient) handleServiceResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	id := templateArg(request, "service_id")
	if id == "" {
		id = strings.TrimPrefix(request.Params.URI, servicesResourceURI+"/")
	}
	info, err := m.services.Device.GetService(id)
	if err != nil {
		return nil, err
	}
	return jsonResource(request.Params.URI, info)
}

// templateArg reads a matched URI template variable. The server hands them
// over as string slices.
func templateArg(request mcp.ReadResourceRequest, name string) string {
	switch v := request.Params.Arguments[name].(type) {
	case string:
		return v
	case []string:
		if len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: uri, MIMEType: "application/json", Text: string(data)},
	}, nil
}
