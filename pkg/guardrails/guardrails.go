// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0

// Package guardrails screens prompts before they reach a model.
//
// A Guardrails value runs its checkers in order and stops at the first one
// that blocks:
//
//	guard := guardrails.New(
//	    guardrails.WithLengthLimit(4000),
//	    guardrails.WithPromptInjectionDetector(),
//	    guardrails.WithContentFilter(guardrails.Categories()),
//	)
//
//	if res := guard.CheckInput(ctx, prompt); res.Blocked {
//	    return res.Reason
//	}
package guardrails

import "context"

// CheckResult represents the outcome of a guardrail check.
type CheckResult struct {
	// Blocked indicates the prompt should not proceed.
	Blocked bool

	// Reason explains why the prompt was blocked (empty if not blocked).
	Reason string

	// GuardrailID identifies which checker triggered the block.
	GuardrailID string

	// Confidence is the detection confidence (0.0-1.0).
	Confidence float64

	// Metadata contains additional context from the check.
	Metadata map[string]any
}

// InputChecker validates a prompt before it reaches the model.
type InputChecker interface {
	// CheckInput examines the prompt for policy violations.
	CheckInput(ctx context.Context, input string) CheckResult

	// ID returns a unique identifier for this checker.
	ID() string
}

// Guardrails runs a list of input checkers. It is not modified after New,
// so one value may serve concurrent runs.
type Guardrails struct {
	inputCheckers []InputChecker
	failOpen      bool
}

// Option configures the Guardrails instance.
type Option func(*Guardrails)

// New creates a Guardrails instance with the given options. With no
// checkers every prompt passes.
func New(opts ...Option) *Guardrails {
	g := &Guardrails{}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// WithInputChecker adds an input checker.
func WithInputChecker(checker InputChecker) Option {
	return func(g *Guardrails) {
		g.inputCheckers = append(g.inputCheckers, checker)
	}
}

// WithFailOpen lets prompts through when the check is interrupted.
// The default is to block them.
func WithFailOpen(failOpen bool) Option {
	return func(g *Guardrails) {
		g.failOpen = failOpen
	}
}

// CheckInput runs all checkers and returns the first blocking result.
func (g *Guardrails) CheckInput(ctx context.Context, input string) CheckResult {
	if g == nil {
		return CheckResult{}
	}
	for _, checker := range g.inputCheckers {
		select {
		case <-ctx.Done():
			if g.failOpen {
				return CheckResult{}
			}
			return CheckResult{
				Blocked:     true,
				Reason:      "guardrail check cancelled",
				GuardrailID: "system",
			}
		default:
		}

		result := checker.CheckInput(ctx, input)
		if result.Blocked {
			result.GuardrailID = checker.ID()
			return result
		}
	}
	return CheckResult{}
}

// Checkers returns the IDs of the configured checkers, in order.
func (g *Guardrails) Checkers() []string {
	if g == nil {
		return nil
	}
	ids := make([]string, 0, len(g.inputCheckers))
	for _, c := range g.inputCheckers {
		ids = append(ids, c.ID())
	}
	return ids
}
