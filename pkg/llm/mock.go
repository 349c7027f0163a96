// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
package llm

import (
	"context"
	"sync/atomic"
)

// MockProvider answers every request with Response, Err or ChatFunc, in
// that order of precedence from last to first.
type MockProvider struct {
	Response string
	Err      error
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	calls atomic.Int32
}

// Chat implements Provider.
func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	m.calls.Add(1)
	switch {
	case m.ChatFunc != nil:
		return m.ChatFunc(ctx, req)
	case m.Err != nil:
		return nil, m.Err
	}
	return &ChatResponse{Content: m.Response}, nil
}

// Calls returns the number of Chat calls.
func (m *MockProvider) Calls() int {
	return int(m.calls.Load())
}

// CompleterFunc adapts a function into a Completer.
type CompleterFunc func(ctx context.Context, req CompletionRequest) (string, error)

// Complete implements Completer.
func (f CompleterFunc) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	return f(ctx, req)
}
