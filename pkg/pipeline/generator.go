// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/jllopis/artifacts/pkg/errors"
	"github.com/jllopis/artifacts/pkg/llm"
	"github.com/jllopis/artifacts/pkg/manifest"
	"github.com/jllopis/artifacts/pkg/prompts"
	"github.com/jllopis/artifacts/pkg/repair"
	"github.com/jllopis/artifacts/pkg/resilience"
)

// CompletionGenerator asks a completer for a fresh manifest.
type CompletionGenerator struct {
	completer llm.Completer
	catalog   *prompts.Catalog
	required  []string
	timeout   time.Duration
}

// NewGenerator returns a generator that asks for the required files.
// A zero timeout disables the per-call bound.
func NewGenerator(c llm.Completer, catalog *prompts.Catalog, required []string, timeout time.Duration) *CompletionGenerator {
	if catalog == nil {
		catalog = prompts.Default()
	}
	return &CompletionGenerator{
		completer: c,
		catalog:   catalog,
		required:  append([]string(nil), required...),
		timeout:   timeout,
	}
}

// Generate returns the raw reply for prompt. Feedback from the previous
// attempt is appended when present. A blank reply or a timeout yields a
// *repair.GenerationError of kind KindEmptyResponse.
func (g *CompletionGenerator) Generate(ctx context.Context, prompt, feedback string) (string, error) {
	user, err := g.catalog.Generation(prompt, feedback, g.required)
	if err != nil {
		return "", errors.New(errors.CodeInternal, "render generation prompt", err)
	}

	reply, err := resilience.WithTimeoutResult(ctx, g.timeout, func(ctx context.Context) (string, error) {
		return g.completer.Complete(ctx, llm.CompletionRequest{
			System: g.catalog.Generator.System,
			User:   user,
			Schema: &llm.OutputSchema{
				Name:        manifest.ToolName,
				Description: "Create the complete set of project files",
				Parameters:  manifest.Schema(g.required),
			},
		})
	})
	switch {
	case err != nil && resilience.IsTimeout(err):
		return "", &repair.GenerationError{Kind: repair.KindEmptyResponse, Cause: err}
	case err != nil:
		return "", err
	case strings.TrimSpace(reply) == "":
		return "", &repair.GenerationError{Kind: repair.KindEmptyResponse}
	}
	return reply, nil
}
