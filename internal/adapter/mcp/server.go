// Package mcp exposes the command pipeline as MCP tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Borui-Eduation/student-records-sub000/internal/domain"
	"github.com/Borui-Eduation/student-records-sub000/internal/usecase"
	apperror "github.com/Borui-Eduation/student-records-sub000/pkg/error"
)

// CommandUseCase is the part of the command use case the tools call
type CommandUseCase interface {
	Run(ctx context.Context, actor domain.Actor, req usecase.CommandRequest) (*usecase.CommandResponse, error)
	Compile(ctx context.Context, req usecase.CommandRequest) (*usecase.CompileResponse, error)
}

// Server is an MCP server acting on behalf of one actor
type Server struct {
	mcpServer *server.MCPServer
	commands  CommandUseCase
	actor     domain.Actor
}

// NewServer creates a server whose tools run as actor
func NewServer(commands CommandUseCase, actor domain.Actor, version string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"student-records",
			version,
			server.WithToolCapabilities(true),
		),
		commands: commands,
		actor:    actor,
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying server
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio serves the tools over stdin/stdout until the client disconnects
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"compile_command",
			mcp.WithDescription("Compile a natural-language command into a validated workflow without running it"),
			mcp.WithString("text", mcp.Required(), mcp.Description("The command, in English or Chinese")),
			mcp.WithString("locale", mcp.Description("Locale for messages: en or zh")),
			mcp.WithString("timezone", mcp.Description("IANA timezone used to resolve relative dates")),
		),
		s.handleCompile,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"run_command",
			mcp.WithDescription("Route, execute and summarize a natural-language command"),
			mcp.WithString("text", mcp.Required(), mcp.Description("The command, in English or Chinese")),
			mcp.WithString("locale", mcp.Description("Locale for messages: en or zh")),
			mcp.WithString("timezone", mcp.Description("IANA timezone used to resolve relative dates")),
			mcp.WithBoolean("confirmed", mcp.Description("Allow workflows that delete data to run")),
		),
		s.handleRun,
	)
}

func commandRequest(request mcp.CallToolRequest) (usecase.CommandRequest, error) {
	text := request.GetString("text", "")
	if text == "" {
		return usecase.CommandRequest{}, fmt.Errorf("Missing required parameter: text")
	}
	return usecase.CommandRequest{
		Text:      text,
		Locale:    request.GetString("locale", ""),
		Timezone:  request.GetString("timezone", ""),
		Confirmed: request.GetBool("confirmed", false),
	}, nil
}

func (s *Server) handleCompile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req, err := commandRequest(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	resp, err := s.commands.Compile(ctx, req)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(resp)
}

func (s *Server) handleRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req, err := commandRequest(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	resp, err := s.commands.Run(ctx, s.actor, req)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(resp)
}

func toolError(err error) *mcp.CallToolResult {
	appErr := apperror.MapError(err)
	jsonBytes, _ := json.Marshal(appErr)
	return mcp.NewToolResultError(string(jsonBytes))
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}
