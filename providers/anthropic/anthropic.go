// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0

// Package anthropic provides an Anthropic Claude messages provider.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/jllopis/artifacts/pkg/llm"
)

// DefaultModel is used when neither the provider nor the request names one.
const DefaultModel = "claude-sonnet-4-20250514"

// Provider implements llm.Provider for the Anthropic API.
type Provider struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	options   []option.RequestOption
}

// Option configures the Provider.
type Option func(*Provider)

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithMaxTokens sets the maximum tokens for responses. A whole project is
// returned in one reply, so the default is generous.
func WithMaxTokens(tokens int64) Option {
	return func(p *Provider) {
		p.maxTokens = tokens
	}
}

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.options = append(p.options, option.WithBaseURL(url))
	}
}

// WithAPIKey sets the API key.
func WithAPIKey(apiKey string) Option {
	return func(p *Provider) {
		p.options = append(p.options, option.WithAPIKey(apiKey))
	}
}

// New creates a new Anthropic provider. The API key is read from
// ANTHROPIC_API_KEY unless WithAPIKey is given.
func New(opts ...Option) *Provider {
	p := &Provider{
		model:     DefaultModel,
		maxTokens: 8192,
		options:   []option.RequestOption{option.WithMaxRetries(0)},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.client = anthropic.NewClient(p.options...)
	return p
}

// NewWithAPIKey creates a new Anthropic provider with explicit API key.
func NewWithAPIKey(apiKey string, opts ...Option) *Provider {
	opts = append([]Option{WithAPIKey(apiKey)}, opts...)
	return New(opts...)
}

// Chat implements llm.Provider.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	var systemPrompt string
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		if msg.Role == llm.RoleSystem {
			systemPrompt = msg.Content
			continue
		}
		messages = append(messages, convertMessage(msg))
	}

	params := anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: p.maxTokens,
		Messages:  messages,
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Type: "text", Text: systemPrompt},
		}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, tool := range req.Tools {
			tools = append(tools, convertTool(tool))
		}
		params.Tools = tools
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, apiError(err)
	}
	return convertResponse(message), nil
}

func apiError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return llm.ProviderError("anthropic", apiErr.StatusCode, err)
	}
	return llm.ProviderError("anthropic", 0, err)
}

func convertMessage(msg llm.Message) anthropic.MessageParam {
	if msg.Role == llm.RoleAssistant {
		return anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content))
	}
	return anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content))
}

func convertTool(tool llm.Tool) anthropic.ToolUnionParam {
	paramsJSON, _ := json.Marshal(tool.Function.Parameters)
	var inputSchema anthropic.ToolInputSchemaParam
	_ = json.Unmarshal(paramsJSON, &inputSchema)

	return anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        tool.Function.Name,
			Description: anthropic.String(tool.Function.Description),
			InputSchema: inputSchema,
		},
	}
}

func convertResponse(message *anthropic.Message) *llm.ChatResponse {
	resp := &llm.ChatResponse{
		Usage: llm.Usage{
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
			TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
		},
	}

	for _, block := range message.Content {
		switch block.Type {
		case "text":
			resp.Content += block.Text
		case "tool_use":
			argsJSON, _ := json.Marshal(block.Input)
			resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{
				ID:   block.ID,
				Type: llm.ToolTypeFunction,
				Function: llm.FunctionCall{
					Name:      block.Name,
					Arguments: string(argsJSON),
				},
			})
		}
	}
	return resp
}

var _ llm.Provider = (*Provider)(nil)
