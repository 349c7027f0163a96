// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/artifacts/pkg/errors"
	"github.com/jllopis/artifacts/pkg/resilience"
	"github.com/jllopis/artifacts/pkg/sandbox"
)

const defaultTimeout = 10 * time.Minute

// ClientOption customizes the client.
type ClientOption func(*Client)

// WithTimeout bounds each tool call. A generation runs the whole pipeline,
// so the default is long.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithRetry replaces the retry policy applied to transport errors.
func WithRetry(rc resilience.RetryConfig) ClientOption {
	return func(c *Client) {
		c.retry = rc
	}
}

// Client calls the artifact tools of a remote server.
type Client struct {
	mcpClient client.MCPClient
	timeout   time.Duration
	retry     resilience.RetryConfig
}

// Report is the decoded run report of generate_artifact.
type Report struct {
	RunID     string             `json:"run_id"`
	State     string             `json:"state"`
	Diagnosis string             `json:"diagnosis,omitempty"`
	Reference *sandbox.Reference `json:"reference,omitempty"`
	Artifact  string             `json:"artifact,omitempty"`
	DefineURL string             `json:"define_url,omitempty"`
	Files     json.RawMessage    `json:"files,omitempty"`
	Attempts  []json.RawMessage  `json:"attempts"`
	Error     string             `json:"error,omitempty"`
	Code      errors.ErrorCode   `json:"code,omitempty"`
	Duration  string             `json:"duration"`
}

// NewClient wraps an initialized MCP client.
func NewClient(c client.MCPClient, opts ...ClientOption) *Client {
	cl := &Client{
		mcpClient: c,
		timeout:   defaultTimeout,
		retry: resilience.DefaultRetryConfig().WithIsRecoverable(func(err error) bool {
			return !resilience.IsTimeout(err) && !resilience.IsCanceled(err)
		}),
	}
	for _, opt := range opts {
		opt(cl)
	}
	return cl
}

// NewClientWithStreamableHTTP connects to the streamable HTTP endpoint at
// baseURL and initializes the session.
func NewClientWithStreamableHTTP(ctx context.Context, baseURL string, opts ...ClientOption) (*Client, error) {
	c, err := client.NewStreamableHttpClient(baseURL)
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		return nil, err
	}
	if err := initialize(ctx, c); err != nil {
		_ = c.Close()
		return nil, err
	}
	return NewClient(c, opts...), nil
}

func initialize(ctx context.Context, c client.MCPClient) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{
		Name:    "artifacts-client",
		Version: "0.1.0",
	}
	_, err := c.Initialize(ctx, req)
	return err
}

// CallTool executes a tool on the server, retrying transport errors.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	return resilience.Retry(ctx, c.retry, func(ctx context.Context) (*mcp.CallToolResult, error) {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return c.mcpClient.CallTool(ctx, req)
	})
}

// Generate runs generate_artifact. A failed run returns its report together
// with an error carrying the report's code.
func (c *Client) Generate(ctx context.Context, prompt string) (*Report, error) {
	res, err := c.CallTool(ctx, ToolGenerate, map[string]any{"prompt": prompt})
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "generate_artifact call failed", err)
	}
	text := resultText(res)

	var report Report
	if err := json.Unmarshal([]byte(text), &report); err != nil {
		if res.IsError {
			return nil, errors.New(errors.CodeInvalidInput, text, nil)
		}
		return nil, errors.New(errors.CodeInternal, "unreadable run report", err)
	}
	if res.IsError || report.Error != "" {
		code := report.Code
		if code == "" {
			code = errors.CodeInternal
		}
		return &report, errors.New(code, report.Error, nil).
			WithContext("run_id", report.RunID).
			WithContext("diagnosis", report.Diagnosis)
	}
	return &report, nil
}

// Encode runs encode_manifest on a JSON object of files.
func (c *Client) Encode(ctx context.Context, files string) (encoded, defineURL string, err error) {
	res, err := c.CallTool(ctx, ToolEncode, map[string]any{"files": files})
	if err != nil {
		return "", "", errors.New(errors.CodeInternal, "encode_manifest call failed", err)
	}
	text := resultText(res)
	if res.IsError {
		return "", "", errors.New(errors.CodeInvalidInput, text, nil)
	}
	var out encodeResult
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return "", "", errors.New(errors.CodeInternal, fmt.Sprintf("unreadable encode result %q", text), err)
	}
	return out.Artifact, out.DefineURL, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	return c.mcpClient.Close()
}

func resultText(res *mcp.CallToolResult) string {
	var b strings.Builder
	for _, content := range res.Content {
		if text, ok := content.(mcp.TextContent); ok {
			b.WriteString(text.Text)
		}
	}
	return b.String()
}
