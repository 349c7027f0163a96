// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0

package gemini

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/jllopis/artifacts/pkg/errors"
	"github.com/jllopis/artifacts/pkg/llm"
	"google.golang.org/genai"
)

func TestWithModel(t *testing.T) {
	p := &Provider{model: DefaultModel}
	WithModel("gemini-2.5-pro")(p)
	if p.model != "gemini-2.5-pro" {
		t.Errorf("expected model gemini-2.5-pro, got %s", p.model)
	}
}

func TestConvertMessages(t *testing.T) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: "You write React projects."},
		{Role: llm.RoleUser, Content: "a button"},
		{Role: llm.RoleAssistant, Content: "done"},
	}

	contents, systemInstruction := convertMessages(messages)
	if systemInstruction != "You write React projects." {
		t.Errorf("unexpected system instruction %q", systemInstruction)
	}
	if len(contents) != 2 {
		t.Fatalf("expected 2 contents, got %d", len(contents))
	}
	if contents[0].Role != "user" || contents[1].Role != "model" {
		t.Errorf("unexpected roles %s, %s", contents[0].Role, contents[1].Role)
	}
}

func TestConvertTools(t *testing.T) {
	result := convertTools([]llm.Tool{{
		Type: llm.ToolTypeFunction,
		Function: llm.FunctionDef{
			Name:        "create_files",
			Description: "Write the project files",
			Parameters: map[string]any{
				"type":     "object",
				"required": []string{"files"},
			},
		},
	}})
	if len(result) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(result))
	}
	if result[0].Name != "create_files" || result[0].Parameters == nil {
		t.Errorf("unexpected declaration %+v", result[0])
	}
}

func TestConvertResponse(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role: "model",
				Parts: []*genai.Part{
					{Text: "Here you go."},
					{FunctionCall: &genai.FunctionCall{
						Name: "create_files",
						Args: map[string]any{"files": map[string]any{"App.js": "x"}},
					}},
				},
			},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     3,
			CandidatesTokenCount: 4,
			TotalTokenCount:      7,
		},
	}

	got := convertResponse(resp)
	if got.Content != "Here you go." {
		t.Errorf("unexpected content %q", got.Content)
	}
	if len(got.ToolCalls) != 1 {
		t.Fatalf("expected one tool call, got %d", len(got.ToolCalls))
	}
	var args map[string]map[string]string
	if err := json.Unmarshal([]byte(got.ToolCalls[0].Function.Arguments), &args); err != nil {
		t.Fatalf("arguments are not JSON: %v", err)
	}
	if args["files"]["App.js"] != "x" {
		t.Errorf("unexpected arguments %v", args)
	}
	if got.Usage.TotalTokens != 7 {
		t.Errorf("expected 7 tokens, got %d", got.Usage.TotalTokens)
	}
}

func TestConvertResponseEmpty(t *testing.T) {
	got := convertResponse(&genai.GenerateContentResponse{})
	if got.Content != "" || len(got.ToolCalls) != 0 {
		t.Errorf("expected empty response, got %+v", got)
	}
}

func TestAPIError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		recoverable bool
	}{
		{name: "rate limited", err: genai.APIError{Code: 429, Message: "quota"}, recoverable: true},
		{name: "unavailable", err: fmt.Errorf("call: %w", genai.APIError{Code: 503}), recoverable: true},
		{name: "bad request", err: genai.APIError{Code: 400, Message: "bad schema"}, recoverable: false},
		{name: "transport", err: fmt.Errorf("dial tcp: connection refused"), recoverable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := apiError(tt.err)
			if errors.CodeOf(err) != errors.CodeLLMError {
				t.Fatalf("expected LLM_ERROR, got %v", err)
			}
			if errors.IsRecoverable(err) != tt.recoverable {
				t.Errorf("recoverable = %v, want %v", errors.IsRecoverable(err), tt.recoverable)
			}
		})
	}
}
