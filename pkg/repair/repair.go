// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
// Package repair asks the completion service for a complete corrected
// manifest given the current one and a description of what is wrong.
package repair

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/artifacts/pkg/errors"
	"github.com/jllopis/artifacts/pkg/llm"
	"github.com/jllopis/artifacts/pkg/manifest"
	"github.com/jllopis/artifacts/pkg/prompts"
	"github.com/jllopis/artifacts/pkg/resilience"
	"github.com/jllopis/artifacts/pkg/telemetry"
)

// Kind tags a GenerationError.
type Kind string

const (
	// KindEmptyResponse means the service answered with nothing usable or
	// did not answer within the call timeout.
	KindEmptyResponse Kind = "EMPTY_RESPONSE"

	// KindMalformed means the reply did not validate as a manifest.
	KindMalformed Kind = "MALFORMED"
)

// GenerationError reports a completion that did not yield a manifest. Both
// kinds are recoverable: the message is fed back on the next attempt.
type GenerationError struct {
	Kind  Kind
	Cause error
}

func (e *GenerationError) Error() string {
	switch e.Kind {
	case KindEmptyResponse:
		if e.Cause != nil && resilience.IsTimeout(e.Cause) {
			return "the completion service did not answer in time; reply with the complete file set"
		}
		return "the completion service returned an empty reply; reply with the complete file set"
	default:
		if e.Cause != nil {
			return e.Cause.Error()
		}
		return "the reply is not a valid file set"
	}
}

func (e *GenerationError) Unwrap() error { return e.Cause }

// Code implements errors.Coder.
func (e *GenerationError) Code() errors.ErrorCode {
	if e.Kind == KindEmptyResponse {
		return errors.CodeEmptyResponse
	}
	return errors.CodeMalformed
}

// Engine produces corrected manifests.
type Engine struct {
	completer llm.Completer
	validator *manifest.Validator
	catalog   *prompts.Catalog
	timeout   time.Duration
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithCatalog sets the prompt catalog.
func WithCatalog(c *prompts.Catalog) Option {
	return func(e *Engine) {
		e.catalog = c
	}
}

// WithCallTimeout bounds the repair completion. Zero disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.timeout = d
	}
}

// WithLogger sets the fallback logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine returns an Engine that validates replies with v.
func NewEngine(c llm.Completer, v *manifest.Validator, opts ...Option) *Engine {
	e := &Engine{
		completer: c,
		validator: v,
		timeout:   120 * time.Second,
		tracer:    otel.Tracer("artifacts/repair"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.catalog == nil {
		e.catalog = prompts.Default()
	}
	return e
}

// Repair sends the whole of m and feedback and returns the replacement
// manifest. Unusable replies yield a *GenerationError; transport failures and
// cancellation are returned as they are.
func (e *Engine) Repair(ctx context.Context, m *manifest.Manifest, feedback string) (*manifest.Manifest, error) {
	if m == nil {
		return nil, errors.New(errors.CodeInvalidInput, "nothing to repair", nil)
	}

	ctx, span := e.tracer.Start(ctx, "artifacts.repair",
		trace.WithAttributes(telemetry.ManifestAttributes(m.Len(), m.Digest())...))
	defer span.End()
	logger := telemetry.LoggerFrom(ctx, e.logger)

	required := e.validator.Required()
	user, err := e.catalog.Repairing(m, feedback, required)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "render repair prompt", err)
	}

	reply, err := resilience.WithTimeoutResult(ctx, e.timeout, func(ctx context.Context) (string, error) {
		return e.completer.Complete(ctx, llm.CompletionRequest{
			System: e.catalog.Repair.System,
			User:   user,
			Schema: &llm.OutputSchema{
				Name:        manifest.ToolName,
				Description: "Create the complete set of project files",
				Parameters:  manifest.Schema(required),
			},
		})
	})
	switch {
	case err != nil && resilience.IsTimeout(err):
		gerr := &GenerationError{Kind: KindEmptyResponse, Cause: err}
		span.SetStatus(codes.Error, gerr.Error())
		logger.Warn("repair timed out", "timeout", e.timeout)
		return nil, gerr
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "repair call failed")
		return nil, err
	case strings.TrimSpace(reply) == "":
		span.SetStatus(codes.Error, "empty reply")
		return nil, &GenerationError{Kind: KindEmptyResponse}
	}

	fixed, err := e.validator.Validate(reply)
	if err != nil {
		span.SetStatus(codes.Error, "malformed reply")
		logger.Info("repair reply rejected by validator", "error", err)
		return nil, &GenerationError{Kind: KindMalformed, Cause: err}
	}

	logger.Debug("repair produced manifest",
		"files", fixed.Len(), "changed", fixed.Digest() != m.Digest())
	return fixed, nil
}
