// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0

// Package gemini provides a Google Gemini provider.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jllopis/artifacts/pkg/llm"
	"google.golang.org/genai"
)

// DefaultModel is used when neither the provider nor the request names one.
const DefaultModel = "gemini-2.5-flash"

// Provider implements llm.Provider for the Gemini API.
type Provider struct {
	client *genai.Client
	model  string
	apiKey string
}

// Option configures the Provider.
type Option func(*Provider)

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithAPIKey sets the API key.
func WithAPIKey(apiKey string) Option {
	return func(p *Provider) {
		p.apiKey = apiKey
	}
}

// New creates a new Gemini provider. Without WithAPIKey the key is read
// from GOOGLE_API_KEY or GEMINI_API_KEY.
func New(ctx context.Context, opts ...Option) (*Provider, error) {
	p := &Provider{model: DefaultModel}
	for _, opt := range opts {
		opt(p)
	}

	var cc *genai.ClientConfig
	if p.apiKey != "" {
		cc = &genai.ClientConfig{APIKey: p.apiKey}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	p.client = client
	return p, nil
}

// NewWithAPIKey creates a new Gemini provider with explicit API key.
func NewWithAPIKey(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	opts = append([]Option{WithAPIKey(apiKey)}, opts...)
	return New(ctx, opts...)
}

// Chat implements llm.Provider.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	contents, systemInstruction := convertMessages(req.Messages)
	config := &genai.GenerateContentConfig{}
	if systemInstruction != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemInstruction}},
		}
	}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		config.Temperature = &temp
	}
	if len(req.Tools) > 0 {
		config.Tools = []*genai.Tool{
			{FunctionDeclarations: convertTools(req.Tools)},
		}
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, apiError(err)
	}
	return convertResponse(resp), nil
}

func apiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return llm.ProviderError("gemini", apiErr.Code, err)
	}
	return llm.ProviderError("gemini", 0, err)
}

func convertMessages(messages []llm.Message) ([]*genai.Content, string) {
	var systemInstruction string
	contents := make([]*genai.Content, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			systemInstruction = msg.Content
		case llm.RoleAssistant:
			contents = append(contents, &genai.Content{
				Role:  "model",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		}
	}
	return contents, systemInstruction
}

func convertTools(tools []llm.Tool) []*genai.FunctionDeclaration {
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		paramsJSON, _ := json.Marshal(tool.Function.Parameters)
		var schema *genai.Schema
		_ = json.Unmarshal(paramsJSON, &schema)

		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			Parameters:  schema,
		})
	}
	return declarations
}

func convertResponse(resp *genai.GenerateContentResponse) *llm.ChatResponse {
	result := &llm.ChatResponse{}
	if resp.UsageMetadata != nil {
		result.Usage = llm.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return result
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			result.Content += part.Text
		}
		if part.FunctionCall != nil {
			argsJSON, _ := json.Marshal(part.FunctionCall.Args)
			result.ToolCalls = append(result.ToolCalls, llm.ToolCall{
				// Gemini has no call ids.
				ID:   part.FunctionCall.Name,
				Type: llm.ToolTypeFunction,
				Function: llm.FunctionCall{
					Name:      part.FunctionCall.Name,
					Arguments: string(argsJSON),
				},
			})
		}
	}
	return result
}

var _ llm.Provider = (*Provider)(nil)
