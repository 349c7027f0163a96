// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
// Package mcp exposes artifact generation as Model Context Protocol tools and
// provides a client for remote artifact servers.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jllopis/artifacts/pkg/artifact"
	"github.com/jllopis/artifacts/pkg/errors"
	"github.com/jllopis/artifacts/pkg/manifest"
	"github.com/jllopis/artifacts/pkg/pipeline"
)

// Tool names.
const (
	ToolGenerate = "generate_artifact"
	ToolEncode   = "encode_manifest"
	ToolDecode   = "decode_artifact"
)

// Runner is the part of the runtime the tools need.
type Runner interface {
	Run(ctx context.Context, prompt string) (*pipeline.Outcome, error)
	Encode(m *manifest.Manifest) (encoded, defineURL string, err error)
}

// Server wraps the mcp-go server with the artifact tools registered.
type Server struct {
	mcpServer *server.MCPServer
	runner    Runner
	logger    *slog.Logger
}

// NewServer creates a new MCP server backed by runner.
func NewServer(name, version string, runner Runner, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mcpServer: server.NewMCPServer(name, version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
		runner: runner,
		logger: logger,
	}

	s.mcpServer.AddTool(mcp.NewTool(ToolGenerate,
		mcp.WithDescription("Generate a runnable React project from a description, verify it and host it in a sandbox. Returns the run report with the preview URL."),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("What the project should do")),
	), s.generate)

	s.mcpServer.AddTool(mcp.NewTool(ToolEncode,
		mcp.WithDescription("Encode a set of project files as a sandbox define parameter."),
		mcp.WithString("files", mcp.Required(), mcp.Description("JSON object mapping file paths to file contents")),
	), s.encode)

	s.mcpServer.AddTool(mcp.NewTool(ToolDecode,
		mcp.WithDescription("Decode a sandbox define parameter back into project files."),
		mcp.WithString("artifact", mcp.Required(), mcp.Description("Encoded artifact string")),
	), s.decode)

	return s
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the server on Stdio.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// Handler returns the streamable HTTP transport as an http.Handler.
func (s *Server) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcpServer)
}

// ServeStreamableHTTP serves the streamable HTTP transport on addr.
func (s *Server) ServeStreamableHTTP(addr string) error {
	return server.NewStreamableHTTPServer(s.mcpServer).Start(addr)
}

func (s *Server) generate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt, err := req.RequireString("prompt")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	out, runErr := s.runner.Run(ctx, prompt)
	if out == nil {
		return mcp.NewToolResultError(runErr.Error()), nil
	}
	report, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	if runErr != nil {
		s.logger.Warn("mcp generate failed",
			"run_id", out.RunID,
			"diagnosis", string(out.Diagnosis()),
			"error", runErr)
		result := mcp.NewToolResultText(string(report))
		result.IsError = true
		return result, nil
	}
	return mcp.NewToolResultText(string(report)), nil
}

type encodeResult struct {
	Artifact  string `json:"artifact"`
	DefineURL string `json:"define_url"`
}

func (s *Server) encode(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("files")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	m, err := manifest.NewValidator().Validate(raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	encoded, defineURL, err := s.runner.Encode(m)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := json.Marshal(encodeResult{Artifact: encoded, DefineURL: defineURL})
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) decode(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	encoded, err := req.RequireString("artifact")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	m, err := artifact.Decode(encoded)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "marshal manifest", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
