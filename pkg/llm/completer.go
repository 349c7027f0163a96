// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jllopis/artifacts/pkg/errors"
	"github.com/jllopis/artifacts/pkg/resilience"
)

// OutputSchema describes a structured reply. When present on a request the
// provider is offered a single function tool with these parameters and the
// tool-call arguments become the reply text.
type OutputSchema struct {
	Name        string
	Description string
	Parameters  interface{}
}

// CompletionRequest is one system/user exchange.
type CompletionRequest struct {
	System      string
	User        string
	Schema      *OutputSchema
	Temperature float64
}

// Completer is the text-completion capability used by the pipeline.
// An empty reply is not an error; callers decide what it means.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// ProviderCompleter adapts a Provider into a Completer, adding a per-call
// timeout, retries of recoverable transport errors and a circuit breaker.
type ProviderCompleter struct {
	provider    Provider
	name        string
	model       string
	temperature float64
	timeout     time.Duration
	retry       resilience.RetryConfig
	breaker     *resilience.CircuitBreaker
	onBreaker   func(name string, from, to resilience.CircuitBreakerState)
	logger      *slog.Logger
}

// CompleterOption configures a ProviderCompleter.
type CompleterOption func(*ProviderCompleter)

// WithName labels the completer in logs and breaker errors.
func WithName(name string) CompleterOption {
	return func(c *ProviderCompleter) {
		c.name = name
	}
}

// WithModel sets the model sent on every request.
func WithModel(model string) CompleterOption {
	return func(c *ProviderCompleter) {
		c.model = model
	}
}

// WithTemperature sets the default sampling temperature.
func WithTemperature(t float64) CompleterOption {
	return func(c *ProviderCompleter) {
		c.temperature = t
	}
}

// WithCallTimeout bounds each provider call. Zero disables the bound.
func WithCallTimeout(d time.Duration) CompleterOption {
	return func(c *ProviderCompleter) {
		c.timeout = d
	}
}

// WithRetry replaces the retry policy.
func WithRetry(rc resilience.RetryConfig) CompleterOption {
	return func(c *ProviderCompleter) {
		c.retry = rc
	}
}

// WithBreaker replaces the circuit breaker. Sharing one breaker between
// completers that talk to the same backend is allowed.
func WithBreaker(cb *resilience.CircuitBreaker) CompleterOption {
	return func(c *ProviderCompleter) {
		c.breaker = cb
	}
}

// WithBreakerListener is called after every transition of the default
// breaker. It is ignored when WithBreaker is given.
func WithBreakerListener(fn func(name string, from, to resilience.CircuitBreakerState)) CompleterOption {
	return func(c *ProviderCompleter) {
		c.onBreaker = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) CompleterOption {
	return func(c *ProviderCompleter) {
		c.logger = l
	}
}

// NewCompleter wraps p.
func NewCompleter(p Provider, opts ...CompleterOption) *ProviderCompleter {
	c := &ProviderCompleter{
		provider: p,
		name:     "llm",
		timeout:  60 * time.Second,
		retry:    resilience.DefaultRetryConfig(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	// Timeouts and cancellations are answered by the caller, not retried.
	base := c.retry.IsRecoverable
	c.retry.IsRecoverable = func(err error) bool {
		if resilience.IsTimeout(err) || resilience.IsCanceled(err) {
			return false
		}
		if base == nil {
			return errors.IsRecoverable(err)
		}
		return base(err)
	}

	if c.breaker == nil {
		c.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             c.name,
			Code:             errors.CodeLLMError,
			FailureThreshold: 5,
			Timeout:          30 * time.Second,
			IsFailure:        isTransportFailure,
			OnStateChange: func(name string, from, to resilience.CircuitBreakerState) {
				c.logger.Warn("llm circuit breaker state changed",
					"breaker", name, "from", string(from), "to", string(to))
				if c.onBreaker != nil {
					c.onBreaker(name, from, to)
				}
			},
		})
	}
	return c
}

// BreakerState returns the state of the provider circuit breaker.
func (c *ProviderCompleter) BreakerState() resilience.CircuitBreakerState {
	return c.breaker.State()
}

// Complete implements Completer.
func (c *ProviderCompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	chat := ChatRequest{
		Model:       c.model,
		Temperature: c.temperature,
	}
	if req.Temperature > 0 {
		chat.Temperature = req.Temperature
	}
	if req.System != "" {
		chat.Messages = append(chat.Messages, Message{Role: RoleSystem, Content: req.System})
	}
	chat.Messages = append(chat.Messages, Message{Role: RoleUser, Content: req.User})
	if req.Schema != nil {
		chat.Tools = []Tool{{
			Type: ToolTypeFunction,
			Function: FunctionDef{
				Name:        req.Schema.Name,
				Description: req.Schema.Description,
				Parameters:  req.Schema.Parameters,
			},
		}}
	}

	start := time.Now()
	resp, err := resilience.Retry(ctx, c.retry, func(ctx context.Context) (*ChatResponse, error) {
		return c.call(ctx, chat)
	})
	if err != nil {
		c.logger.Debug("completion failed",
			"completer", c.name, "duration", time.Since(start), "error", err)
		return "", err
	}

	c.logger.Debug("completion done",
		"completer", c.name,
		"duration", time.Since(start),
		"tokens", resp.Usage.TotalTokens,
		"tool_calls", len(resp.ToolCalls))
	return replyText(resp, req.Schema), nil
}

func (c *ProviderCompleter) call(ctx context.Context, chat ChatRequest) (*ChatResponse, error) {
	var resp *ChatResponse
	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		return resilience.WithTimeout(ctx, c.timeout, func(ctx context.Context) error {
			r, err := c.provider.Chat(ctx, chat)
			if err != nil {
				return err
			}
			if r == nil {
				r = &ChatResponse{}
			}
			resp = r
			return nil
		})
	})
	if err != nil {
		return nil, classify(c.name, err)
	}
	return resp, nil
}

// replyText picks the structured arguments when a schema was requested and
// the provider honoured it; plain content otherwise.
func replyText(resp *ChatResponse, schema *OutputSchema) string {
	if schema != nil {
		for _, tc := range resp.ToolCalls {
			if tc.Function.Name == schema.Name && strings.TrimSpace(tc.Function.Arguments) != "" {
				return tc.Function.Arguments
			}
		}
		if len(resp.ToolCalls) > 0 && strings.TrimSpace(resp.ToolCalls[0].Function.Arguments) != "" {
			return resp.ToolCalls[0].Function.Arguments
		}
	}
	return resp.Content
}

// classify turns untyped provider errors into recoverable LLM errors so the
// retry policy sees a uniform shape.
func classify(name string, err error) error {
	if e := errors.As(err); e != nil && e.Code != errors.CodeInternal {
		return err
	}
	return errors.New(errors.CodeLLMError, fmt.Sprintf("%s completion failed", name), err).
		WithContext("completer", name).
		WithRecoverable(true)
}

func isTransportFailure(err error) bool {
	return !resilience.IsTimeout(err) && !resilience.IsCanceled(err)
}

// ProviderError builds the error a provider returns for a failed API call.
// Rate limits, server errors and unknown statuses (0) are recoverable.
func ProviderError(provider string, status int, err error) error {
	e := errors.New(errors.CodeLLMError, provider+" request failed", err).
		WithContext("provider", provider)
	if status > 0 {
		e = e.WithContext("status", status)
	}
	return e.WithRecoverable(status == 0 || status == 429 || status >= 500)
}

var _ Completer = (*ProviderCompleter)(nil)
