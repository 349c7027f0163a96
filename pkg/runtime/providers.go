// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jllopis/artifacts/pkg/config"
	"github.com/jllopis/artifacts/pkg/errors"
	"github.com/jllopis/artifacts/pkg/guardrails"
	"github.com/jllopis/artifacts/pkg/llm"
	"github.com/jllopis/artifacts/pkg/resilience"
	"github.com/jllopis/artifacts/pkg/sandbox"
	"github.com/jllopis/artifacts/pkg/telemetry"
	"github.com/jllopis/artifacts/providers/anthropic"
	"github.com/jllopis/artifacts/providers/gemini"
	"github.com/jllopis/artifacts/providers/openai"
)

// NewGuard builds the prompt guardrails of cfg, or nil when they are
// disabled.
func NewGuard(cfg config.GuardConfig) (*guardrails.Guardrails, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	categories, err := cfg.ContentCategories()
	if err != nil {
		return nil, err
	}
	return guardrails.New(
		guardrails.WithLengthLimit(cfg.MaxPromptLength),
		guardrails.WithPromptInjectionDetector(
			guardrails.WithInjectionPatterns(cfg.Patterns...),
			guardrails.WithInjectionThreshold(cfg.InjectionThreshold),
		),
		guardrails.WithContentFilter(categories, guardrails.WithBlockedTerms(cfg.BlockedTerms...)),
		guardrails.WithFailOpen(cfg.FailOpen),
	), nil
}

// ProviderFactory builds the chat backend of one LLM section.
type ProviderFactory func(ctx context.Context, cfg config.LLMConfig) (llm.Provider, error)

// NewProvider selects the provider named by cfg.Provider. The API key comes
// from the configuration or the provider's usual environment variable.
func NewProvider(ctx context.Context, cfg config.LLMConfig) (llm.Provider, error) {
	key := cfg.ResolveAPIKey()
	switch strings.ToLower(cfg.Provider) {
	case "", "ollama":
		return llm.NewOllama(cfg.BaseURL), nil
	case "openai":
		var opts []openai.Option
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		if key != "" {
			opts = append(opts, openai.WithAPIKey(key))
		}
		return openai.New(opts...), nil
	case "anthropic":
		var opts []anthropic.Option
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		if key != "" {
			opts = append(opts, anthropic.WithAPIKey(key))
		}
		return anthropic.New(opts...), nil
	case "gemini":
		var opts []gemini.Option
		if key != "" {
			opts = append(opts, gemini.WithAPIKey(key))
		}
		p, err := gemini.New(ctx, opts...)
		if err != nil {
			return nil, errors.New(errors.CodeLLMError, "gemini client", err)
		}
		return p, nil
	default:
		return nil, errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("unknown llm provider %q", cfg.Provider), nil)
	}
}

// NewProvisioner builds the sandbox adapter of cfg and returns the name its
// metrics are labelled with.
func NewProvisioner(cfg config.SandboxConfig, logger *slog.Logger, metrics *telemetry.PipelineMetrics) (sandbox.Provisioner, string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch strings.ToLower(cfg.Provider) {
	case "", "codesandbox":
		opts := []sandbox.Option{
			sandbox.WithLogger(logger),
			sandbox.WithBreakerListener(breakerRecorder(metrics)),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, sandbox.WithBaseURL(cfg.BaseURL))
		}
		if key := cfg.ResolveAPIKey(); key != "" {
			opts = append(opts, sandbox.WithAPIKey(key))
		}
		if cfg.Probe {
			probe := sandbox.DefaultProbeConfig()
			if cfg.ProbeAttempts > 0 {
				probe.Attempts = cfg.ProbeAttempts
			}
			if cfg.ProbeIntervalSeconds > 0 {
				probe.Interval = config.Seconds(cfg.ProbeIntervalSeconds)
			}
			opts = append(opts, sandbox.WithProbe(probe))
		}
		return sandbox.NewCodeSandbox(opts...), "codesandbox", nil
	case "define":
		return sandbox.NewDefineLink(cfg.DefineEndpoint), "define", nil
	default:
		return nil, "", errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("unknown sandbox provider %q", cfg.Provider), nil)
	}
}

// breakerGauge maps a breaker state to the value of the breaker gauge.
func breakerGauge(state resilience.CircuitBreakerState) int64 {
	switch state {
	case resilience.StateOpen:
		return 0
	case resilience.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

func breakerRecorder(metrics *telemetry.PipelineMetrics) func(name string, from, to resilience.CircuitBreakerState) {
	return func(name string, _, to resilience.CircuitBreakerState) {
		metrics.RecordCircuitBreakerState(context.Background(), name, breakerGauge(to))
	}
}
