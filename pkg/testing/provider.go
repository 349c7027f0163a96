// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0

// Package testing provides scripted collaborators for exercising the
// pipeline without network access: a completion provider that replays
// queued replies and a provisioner that replays queued sandbox outcomes.
package testing

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jllopis/artifacts/pkg/llm"
	"github.com/jllopis/artifacts/pkg/manifest"
)

// ScenarioProvider is a mock provider with scripted responses and request
// capture. It is safe for concurrent use; concurrent callers consume the
// script in arrival order.
type ScenarioProvider struct {
	mu           sync.Mutex
	responses    []ScriptedResponse
	currentIndex int
	requests     []llm.ChatRequest
	defaultError error
	onChat       func(req llm.ChatRequest) (*llm.ChatResponse, error)
}

// ScriptedResponse defines a response for the scenario provider.
type ScriptedResponse struct {
	Content   string
	ToolCalls []llm.ToolCall
	Error     error
	Usage     llm.Usage
	// Delay holds the reply back; a context that ends first wins.
	Delay time.Duration
	// Condition allows conditional responses based on request
	Condition func(req llm.ChatRequest) bool
}

// NewScenarioProvider creates a new scenario provider.
func NewScenarioProvider() *ScenarioProvider {
	return &ScenarioProvider{}
}

// AddResponse queues a response to be returned.
func (p *ScenarioProvider) AddResponse(content string) *ScenarioProvider {
	return p.AddScriptedResponse(ScriptedResponse{Content: content})
}

// AddToolCallResponse queues a response with tool calls.
func (p *ScenarioProvider) AddToolCallResponse(toolCalls ...llm.ToolCall) *ScenarioProvider {
	return p.AddScriptedResponse(ScriptedResponse{ToolCalls: toolCalls})
}

// AddErrorResponse queues an error response.
func (p *ScenarioProvider) AddErrorResponse(err error) *ScenarioProvider {
	return p.AddScriptedResponse(ScriptedResponse{Error: err})
}

// AddManifest queues a structured reply carrying m as create_files
// arguments, the way a provider answers a forced tool call.
func (p *ScenarioProvider) AddManifest(m *manifest.Manifest) *ScenarioProvider {
	data, err := json.Marshal(m)
	if err != nil {
		panic(fmt.Sprintf("testing: marshal manifest: %v", err))
	}
	return p.AddToolCallResponse(NewToolCall(manifest.ToolName).WithRawArgs(string(data)).Build())
}

// AddVerdicts queues one judge reply per verdict, each embedding the verdict
// token in prose.
func (p *ScenarioProvider) AddVerdicts(verdicts ...string) *ScenarioProvider {
	for _, v := range verdicts {
		p.AddResponse(fmt.Sprintf("After reviewing every file my verdict is %s.", v))
	}
	return p
}

// AddScriptedResponse adds a fully configured response.
func (p *ScenarioProvider) AddScriptedResponse(resp ScriptedResponse) *ScenarioProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, resp)
	return p
}

// WithDefaultError sets the error to return when no responses are queued.
func (p *ScenarioProvider) WithDefaultError(err error) *ScenarioProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaultError = err
	return p
}

// WithChatFunc sets a custom function for handling chat requests.
func (p *ScenarioProvider) WithChatFunc(fn func(req llm.ChatRequest) (*llm.ChatResponse, error)) *ScenarioProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChat = fn
	return p
}

// Chat implements llm.Provider.
func (p *ScenarioProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	resp, err := p.next(req)
	if err != nil {
		return nil, err
	}
	if resp.Delay > 0 {
		timer := time.NewTimer(resp.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return &llm.ChatResponse{
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
		Usage:     resp.Usage,
	}, nil
}

func (p *ScenarioProvider) next(req llm.ChatRequest) (ScriptedResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests = append(p.requests, req)

	if p.onChat != nil {
		resp, err := p.onChat(req)
		if err != nil || resp == nil {
			return ScriptedResponse{Error: err}, nil
		}
		return ScriptedResponse{Content: resp.Content, ToolCalls: resp.ToolCalls, Usage: resp.Usage}, nil
	}

	for p.currentIndex < len(p.responses) {
		resp := p.responses[p.currentIndex]
		p.currentIndex++
		if resp.Condition == nil || resp.Condition(req) {
			return resp, nil
		}
	}

	if p.defaultError != nil {
		return ScriptedResponse{}, p.defaultError
	}
	return ScriptedResponse{}, fmt.Errorf("no more scripted responses (call %d)", len(p.requests))
}

// Requests returns all captured requests.
func (p *ScenarioProvider) Requests() []llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	result := make([]llm.ChatRequest, len(p.requests))
	copy(result, p.requests)
	return result
}

// LastRequest returns the most recent request.
func (p *ScenarioProvider) LastRequest() *llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return nil
	}
	req := p.requests[len(p.requests)-1]
	return &req
}

// CallCount returns the number of Chat calls made.
func (p *ScenarioProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// Remaining returns the number of queued responses not yet consumed.
func (p *ScenarioProvider) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.responses) - p.currentIndex
}

// Reset clears all state.
func (p *ScenarioProvider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentIndex = 0
	p.requests = p.requests[:0]
}

// ToolCallBuilder helps construct tool calls for testing.
type ToolCallBuilder struct {
	id   string
	name string
	args map[string]any
	raw  string
}

// NewToolCall creates a new tool call builder.
func NewToolCall(name string) *ToolCallBuilder {
	return &ToolCallBuilder{
		name: name,
		args: make(map[string]any),
	}
}

// WithID sets the tool call ID.
func (b *ToolCallBuilder) WithID(id string) *ToolCallBuilder {
	b.id = id
	return b
}

// WithArg adds an argument to the tool call.
func (b *ToolCallBuilder) WithArg(key string, value any) *ToolCallBuilder {
	b.args[key] = value
	return b
}

// WithRawArgs sets the argument text verbatim, overriding WithArg.
func (b *ToolCallBuilder) WithRawArgs(raw string) *ToolCallBuilder {
	b.raw = raw
	return b
}

// Build creates the tool call.
func (b *ToolCallBuilder) Build() llm.ToolCall {
	args := b.raw
	if args == "" {
		data, _ := json.Marshal(b.args)
		args = string(data)
	}
	return llm.ToolCall{
		ID:   b.id,
		Type: llm.ToolTypeFunction,
		Function: llm.FunctionCall{
			Name:      b.name,
			Arguments: args,
		},
	}
}

var _ llm.Provider = (*ScenarioProvider)(nil)
