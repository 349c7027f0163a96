// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
// Package runtime builds the generation pipeline from configuration and runs
// prompts through it.
package runtime

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/artifacts/pkg/artifact"
	"github.com/jllopis/artifacts/pkg/config"
	"github.com/jllopis/artifacts/pkg/errors"
	"github.com/jllopis/artifacts/pkg/health"
	"github.com/jllopis/artifacts/pkg/llm"
	"github.com/jllopis/artifacts/pkg/manifest"
	"github.com/jllopis/artifacts/pkg/pipeline"
	"github.com/jllopis/artifacts/pkg/prompts"
	"github.com/jllopis/artifacts/pkg/resilience"
	"github.com/jllopis/artifacts/pkg/sandbox"
	"github.com/jllopis/artifacts/pkg/telemetry"
)

// Runtime owns the collaborators of a configured pipeline. Provider and
// sandbox clients live as long as the Runtime; Apply rebuilds only the
// pipeline around them.
type Runtime struct {
	mu           sync.RWMutex
	cfg          *config.Config
	orchestrator *pipeline.Orchestrator
	catalog      *prompts.Catalog

	generator   llm.Completer
	judge       llm.Completer
	provisioner sandbox.Provisioner
	sandboxName string

	health      *health.Registry
	newProvider ProviderFactory
	metrics     *telemetry.PipelineMetrics
	logger      *slog.Logger
	tracer      trace.Tracer
	started     bool
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithProviderFactory replaces NewProvider.
func WithProviderFactory(f ProviderFactory) Option {
	return func(r *Runtime) {
		r.newProvider = f
	}
}

// WithProvisioner replaces the sandbox built from configuration.
func WithProvisioner(name string, p sandbox.Provisioner) Option {
	return func(r *Runtime) {
		r.sandboxName = name
		r.provisioner = p
	}
}

// WithMetrics records pipeline and breaker metrics.
func WithMetrics(m *telemetry.PipelineMetrics) Option {
	return func(r *Runtime) {
		r.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) {
		r.logger = l
	}
}

// New validates cfg and builds its providers, sandbox, prompts and pipeline.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New(errors.CodeInvalidInput, "configuration is required", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Runtime{
		newProvider: NewProvider,
		logger:      slog.Default(),
		tracer:      otel.Tracer("artifacts/runtime"),
	}
	for _, opt := range opts {
		opt(r)
	}

	catalog, err := loadCatalog(cfg.Prompts.Path)
	if err != nil {
		return nil, err
	}
	r.catalog = catalog

	genProvider, err := r.newProvider(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}
	r.generator = r.completer("generator", cfg.LLM, genProvider)

	judgeCfg := cfg.JudgeLLM()
	judgeProvider := genProvider
	if judgeCfg != cfg.LLM {
		if judgeProvider, err = r.newProvider(ctx, judgeCfg); err != nil {
			return nil, err
		}
	}
	r.judge = r.completer("judge", judgeCfg, judgeProvider)

	if r.provisioner == nil {
		r.provisioner, r.sandboxName, err = NewProvisioner(cfg.Sandbox, r.logger, r.metrics)
		if err != nil {
			return nil, err
		}
	}

	orch, err := r.assemble(cfg, catalog)
	if err != nil {
		return nil, err
	}
	r.cfg = cfg
	r.orchestrator = orch
	r.registerChecks()
	return r, nil
}

// registerChecks reports the runtime itself and every collaborator guarded by
// a circuit breaker.
func (r *Runtime) registerChecks() {
	r.health = health.NewRegistry()
	r.health.Register("runtime", health.CheckerFunc(func(context.Context) health.Result {
		r.mu.RLock()
		started := r.started
		r.mu.RUnlock()
		if !started {
			return health.Result{Status: health.Unhealthy, Message: "not started"}
		}
		return health.Result{Status: health.Healthy, Message: "started"}
	}))
	deps := map[string]any{
		"generator": r.generator,
		"judge":     r.judge,
		"sandbox":   r.provisioner,
	}
	for name, dep := range deps {
		if src, ok := dep.(health.BreakerSource); ok {
			r.health.Register(name, health.Breaker(src))
		}
	}
}

func loadCatalog(path string) (*prompts.Catalog, error) {
	if path == "" {
		return prompts.Default(), nil
	}
	return prompts.Load(path)
}

func (r *Runtime) completer(name string, cfg config.LLMConfig, p llm.Provider) llm.Completer {
	retry := resilience.DefaultRetryConfig().WithMaxAttempts(cfg.MaxRetries + 1)
	return llm.NewCompleter(p,
		llm.WithName(name),
		llm.WithModel(cfg.Model),
		llm.WithTemperature(cfg.Temperature),
		llm.WithCallTimeout(config.Seconds(cfg.TimeoutSeconds)),
		llm.WithRetry(retry),
		llm.WithBreakerListener(breakerRecorder(r.metrics)),
		llm.WithLogger(r.logger.With("component", name)),
	)
}

func (r *Runtime) assemble(cfg *config.Config, catalog *prompts.Catalog) (*pipeline.Orchestrator, error) {
	required, err := cfg.Pipeline.Required()
	if err != nil {
		return nil, err
	}
	guard, err := NewGuard(cfg.Guard)
	if err != nil {
		return nil, err
	}
	opts := []pipeline.Option{
		pipeline.WithMetrics(r.metrics),
		pipeline.WithSandboxName(r.sandboxName),
	}
	if guard != nil {
		r.logger.Debug("prompt guard enabled", slog.Any("checkers", guard.Checkers()))
		opts = append(opts, pipeline.WithPromptGuard(guard))
	}

	p := cfg.Pipeline
	return pipeline.Assemble(pipeline.Setup{
		Generator:       r.generator,
		Judge:           r.judge,
		Provisioner:     r.provisioner,
		Required:        required,
		Catalog:         catalog,
		GenerateTimeout: config.Seconds(p.GenerateTimeoutSeconds),
		JudgeTimeout:    config.Seconds(p.JudgeTimeoutSeconds),
		RepairTimeout:   config.Seconds(p.RepairTimeoutSeconds),
		Logger:          r.logger,
	}, pipeline.Config{
		MaxAttempts:     p.MaxAttempts,
		QuorumRounds:    p.QuorumRounds,
		QuorumThreshold: p.QuorumThreshold,
		DefineEndpoint:  cfg.Sandbox.DefineEndpoint,
	}, opts...)
}

// Start marks the runtime as ready.
func (r *Runtime) Start(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = true
	return nil
}

// Stop marks the runtime as stopped. Runs in flight finish.
func (r *Runtime) Stop(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = false
	return nil
}

// Health runs the readiness checks.
func (r *Runtime) Health(ctx context.Context) ([]health.Result, health.Status) {
	return r.health.CheckAll(ctx)
}

// Config returns the configuration the pipeline was last built from.
func (r *Runtime) Config() *config.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// Pipeline returns the current orchestrator.
func (r *Runtime) Pipeline() *pipeline.Orchestrator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.orchestrator
}

// Apply rebuilds the pipeline from the pipeline, prompts, guard and define
// endpoint settings of cfg. LLM and sandbox sections are read only by New; changes to
// them are logged and ignored. On error the current pipeline is kept.
func (r *Runtime) Apply(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	catalog, err := loadCatalog(cfg.Prompts.Path)
	if err != nil {
		return err
	}
	orch, err := r.assemble(cfg, catalog)
	if err != nil {
		return err
	}

	r.mu.Lock()
	prev := r.cfg
	r.cfg = cfg
	r.catalog = catalog
	r.orchestrator = orch
	r.mu.Unlock()

	if prev.LLM != cfg.LLM || prev.JudgeLLM() != cfg.JudgeLLM() || prev.Sandbox != cfg.Sandbox {
		r.logger.Warn("runtime.apply: llm and sandbox changes need a restart")
	}
	r.logger.Info("runtime.apply",
		slog.Int("max_attempts", cfg.Pipeline.MaxAttempts),
		slog.Int("quorum_rounds", cfg.Pipeline.QuorumRounds),
		slog.Int("quorum_threshold", cfg.Pipeline.QuorumThreshold),
	)
	return nil
}

// Run turns prompt into an artifact with the current pipeline. See
// pipeline.Orchestrator.Run for the meaning of the results.
func (r *Runtime) Run(ctx context.Context, prompt string) (*pipeline.Outcome, error) {
	r.mu.RLock()
	started, orch := r.started, r.orchestrator
	r.mu.RUnlock()
	if !started {
		return nil, errors.New(errors.CodeInternal, "runtime not started", nil)
	}

	log := r.logger
	log.Info("runtime.run.start", slog.Int("prompt_length", len(prompt)))
	ctx, span := r.tracer.Start(ctx, "Runtime.Run", trace.WithAttributes(
		attribute.String("sandbox.provider", r.sandboxName),
	))
	defer span.End()
	traceID, spanID := traceIDs(span)

	out, err := orch.Run(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(telemetry.ErrorAttributes(err)...)
		log.Error("runtime.run.error",
			slog.String("run_id", out.RunID),
			slog.String("trace_id", traceID),
			slog.String("span_id", spanID),
			slog.String("diagnosis", string(out.Diagnosis())),
			slog.String("error", err.Error()),
		)
		return out, err
	}
	log.Info("runtime.run.complete",
		slog.String("run_id", out.RunID),
		slog.String("trace_id", traceID),
		slog.String("span_id", spanID),
		slog.Int("attempts", len(out.Attempts)),
		slog.String("preview_url", out.Reference.PreviewURL),
	)
	return out, nil
}

// Encode returns the artifact string of m and the define URL that opens it
// at the configured endpoint.
func (r *Runtime) Encode(m *manifest.Manifest) (encoded, defineURL string, err error) {
	encoded, err = artifact.Encode(m)
	if err != nil {
		return "", "", err
	}
	defineURL, err = artifact.DefineURL(r.Config().Sandbox.DefineEndpoint, m)
	if err != nil {
		return "", "", err
	}
	return encoded, defineURL, nil
}

func traceIDs(span trace.Span) (string, string) {
	sc := span.SpanContext()
	return sc.TraceID().String(), sc.SpanID().String()
}
