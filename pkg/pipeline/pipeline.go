// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
// Package pipeline drives the generate, verify and repair loop that turns a
// prompt into an accepted, provisioned artifact.
//
// A run is a bounded state machine. Each attempt obtains a manifest (a fresh
// generation, or a repair once a valid manifest exists), validates it, puts
// it to the verification quorum and provisions it. Every failure along the
// way is recorded as an attempt and its description becomes the feedback of
// the next one; the run fails once MaxAttempts attempts have been spent.
package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/artifacts/pkg/artifact"
	"github.com/jllopis/artifacts/pkg/errors"
	"github.com/jllopis/artifacts/pkg/guardrails"
	"github.com/jllopis/artifacts/pkg/manifest"
	"github.com/jllopis/artifacts/pkg/repair"
	"github.com/jllopis/artifacts/pkg/sandbox"
	"github.com/jllopis/artifacts/pkg/telemetry"
	"github.com/jllopis/artifacts/pkg/verify"
)

// Generator produces the raw reply for a fresh manifest.
type Generator interface {
	Generate(ctx context.Context, prompt, feedback string) (string, error)
}

// Validator turns a raw reply into a manifest.
type Validator interface {
	Validate(raw string) (*manifest.Manifest, error)
}

// Verifier decides whether a manifest is acceptable.
type Verifier interface {
	Verify(ctx context.Context, m *manifest.Manifest, rounds, threshold int) (*verify.Result, error)
}

// Repairer produces a corrected manifest from feedback.
type Repairer interface {
	Repair(ctx context.Context, m *manifest.Manifest, feedback string) (*manifest.Manifest, error)
}

// PromptGuard screens prompts before the first model call.
type PromptGuard interface {
	CheckInput(ctx context.Context, input string) guardrails.CheckResult
}

// Config bounds a run.
type Config struct {
	MaxAttempts     int
	QuorumRounds    int
	QuorumThreshold int
	// DefineEndpoint is used to build Outcome.DefineURL.
	DefineEndpoint string
}

// DefaultConfig returns 5 attempts and a 2 of 3 quorum.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     5,
		QuorumRounds:    3,
		QuorumThreshold: 2,
		DefineEndpoint:  artifact.DefaultDefineEndpoint,
	}
}

// Validate checks that the bounds describe a run that can terminate.
func (c Config) Validate() error {
	switch {
	case c.MaxAttempts < 1:
		return errors.New(errors.CodeInvalidInput, "max attempts must be at least 1", nil)
	case c.QuorumRounds < 1:
		return errors.New(errors.CodeInvalidInput, "quorum rounds must be at least 1", nil)
	case c.QuorumThreshold < 1 || c.QuorumThreshold > c.QuorumRounds:
		return errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("quorum threshold %d is outside 1..%d", c.QuorumThreshold, c.QuorumRounds), nil)
	}
	return nil
}

// Components are the collaborators of an Orchestrator.
type Components struct {
	Generator   Generator
	Validator   Validator
	Verifier    Verifier
	Repairer    Repairer
	Provisioner sandbox.Provisioner
}

// Orchestrator runs the pipeline. It holds no per-run state and may serve
// concurrent runs.
type Orchestrator struct {
	components  Components
	cfg         Config
	sandboxName string
	guard       PromptGuard
	logger      *slog.Logger
	metrics     *telemetry.PipelineMetrics
	tracer      trace.Tracer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithMetrics records runs, attempts, votes and provisions.
func WithMetrics(m *telemetry.PipelineMetrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithSandboxName labels provisioning metrics.
func WithSandboxName(name string) Option {
	return func(o *Orchestrator) {
		o.sandboxName = name
	}
}

// WithPromptGuard rejects prompts g blocks before any attempt is made.
func WithPromptGuard(g PromptGuard) Option {
	return func(o *Orchestrator) {
		o.guard = g
	}
}

// New returns an Orchestrator. Every component is required.
func New(c Components, cfg Config, opts ...Option) (*Orchestrator, error) {
	if c.Generator == nil || c.Validator == nil || c.Verifier == nil || c.Repairer == nil || c.Provisioner == nil {
		return nil, errors.New(errors.CodeInvalidInput, "pipeline needs a generator, validator, verifier, repairer and provisioner", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.DefineEndpoint == "" {
		cfg.DefineEndpoint = artifact.DefaultDefineEndpoint
	}

	o := &Orchestrator{
		components:  c,
		cfg:         cfg,
		sandboxName: "sandbox",
		logger:      slog.Default(),
		tracer:      otel.Tracer("artifacts/pipeline"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Config returns the run bounds.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// run is the state of one invocation.
type run struct {
	outcome  *Outcome
	current  *manifest.Manifest
	issue    string
	feedback string
	logger   *slog.Logger
}

func (r *run) enter(s State) {
	r.outcome.Path = append(r.outcome.Path, s)
	r.logger.Debug("pipeline state", "state", s.String())
}

// Run turns prompt into an accepted artifact. The returned Outcome is never
// nil and carries the attempt history; err is nil only for accepted runs. A
// run that used every attempt fails with *BudgetExceededError; collaborator
// transport failures and cancellation end the run early with their own error.
func (o *Orchestrator) Run(ctx context.Context, prompt string) (*Outcome, error) {
	start := time.Now()
	runID := uuid.NewString()
	out := &Outcome{RunID: runID, Prompt: prompt, State: StateStart}

	if strings.TrimSpace(prompt) == "" {
		return o.reject(ctx, out, start, errors.New(errors.CodeInvalidInput, "prompt is empty", nil))
	}
	if err := o.screen(ctx, prompt); err != nil {
		return o.reject(ctx, out, start, err)
	}

	ctx, span := o.tracer.Start(ctx, "artifacts.pipeline.run",
		trace.WithAttributes(telemetry.RunAttributes(runID, o.cfg.MaxAttempts)...))
	defer span.End()

	logger := o.logger.With("run_id", runID)
	ctx = telemetry.ContextWithLogger(ctx, logger)
	r := &run{outcome: out, logger: logger}
	r.enter(StateStart)
	logger.Info("pipeline run started", "max_attempts", o.cfg.MaxAttempts)

	err := o.loop(ctx, r)
	if err != nil && ctx.Err() != nil && errors.CodeOf(err) != errors.CodeCanceled {
		err = errors.New(errors.CodeCanceled, "run canceled", err)
	}

	out.Duration = time.Since(start)
	out.Err = err
	if err == nil {
		r.enter(StateAccepted)
		out.State = StateAccepted
	} else {
		r.enter(StateFailed)
		out.State = StateFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	diagnosis := out.Diagnosis()
	span.SetAttributes(telemetry.OutcomeAttributes(out.State.String(), string(diagnosis), len(out.Attempts))...)
	o.metrics.RecordRun(ctx, out.State.String(), string(diagnosis), out.Duration)

	if err != nil {
		o.metrics.RecordError(ctx, err, "pipeline")
		logger.Warn("pipeline run failed",
			"attempts", len(out.Attempts), "diagnosis", string(diagnosis), "error", err)
		return out, err
	}
	logger.Info("pipeline run accepted",
		"attempts", len(out.Attempts), "reference", out.Reference.String(), "duration", out.Duration)
	return out, nil
}

func (o *Orchestrator) screen(ctx context.Context, prompt string) error {
	if o.guard == nil {
		return nil
	}
	res := o.guard.CheckInput(ctx, prompt)
	if !res.Blocked {
		return nil
	}
	o.logger.Warn("prompt rejected", "guardrail", res.GuardrailID, "reason", res.Reason)
	return errors.New(errors.CodeInvalidInput, "prompt rejected: "+res.Reason, nil).
		WithContext("guardrail", res.GuardrailID).
		WithAttribute(telemetry.AttrGuardrail, res.GuardrailID)
}

func (o *Orchestrator) loop(ctx context.Context, r *run) error {
	var last error
	for index := 1; index <= o.cfg.MaxAttempts; index++ {
		if err := ctx.Err(); err != nil {
			return errors.New(errors.CodeCanceled, "run canceled", err)
		}

		a, err := o.attempt(ctx, r, index)
		r.outcome.Attempts = append(r.outcome.Attempts, a)
		o.metrics.RecordAttempt(ctx, string(a.Source), failedAt(a))

		if err != nil {
			// Terminal: the collaborator could not be used at all.
			return err
		}
		if !a.Failed() {
			return nil
		}
		last = a.Err
		r.logger.Info("attempt failed",
			"attempt", index, "source", string(a.Source), "failed_at", a.FailedAt.String(), "error", a.Err)
	}
	return &BudgetExceededError{Attempts: len(r.outcome.Attempts), LastError: last}
}

func failedAt(a Attempt) string {
	if !a.Failed() {
		return ""
	}
	return a.FailedAt.String()
}

// attempt runs one pass. Recoverable failures are recorded in the returned
// Attempt; the error is reserved for failures that end the run.
func (o *Orchestrator) attempt(ctx context.Context, r *run, index int) (Attempt, error) {
	start := time.Now()
	a := Attempt{Index: index, Source: SourceGenerate}
	if r.current != nil {
		a.Source = SourceRepair
	}

	ctx, span := o.tracer.Start(ctx, "artifacts.pipeline.attempt",
		trace.WithAttributes(telemetry.AttemptAttributes(index, string(a.Source))...))
	defer span.End()
	logger := r.logger.With("attempt", index)

	finish := func(at State, err error, feedback string) (Attempt, error) {
		a.FailedAt = at
		a.Err = err
		a.Feedback = feedback
		r.feedback = feedback
		a.Duration = time.Since(start)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		return a, nil
	}
	abort := func(at State, err error) (Attempt, error) {
		a.FailedAt = at
		a.Err = err
		a.Duration = time.Since(start)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return a, err
	}

	m, at, err := o.obtain(ctx, r, a.Source)
	if err != nil {
		if isTerminal(ctx, err) {
			return abort(at, err)
		}
		return finish(at, err, o.retryFeedback(r, a.Source, err))
	}
	a.Manifest = m
	r.current = m
	logger.Debug("manifest validated", "files", m.Len(), "digest", m.Digest())

	r.enter(StateVerifying)
	vctx, vspan := o.tracer.Start(ctx, "artifacts.pipeline.verify")
	res, err := o.components.Verifier.Verify(vctx, m, o.cfg.QuorumRounds, o.cfg.QuorumThreshold)
	if res != nil {
		vspan.SetAttributes(telemetry.VerifyAttributes(res.Tally.Rounds, res.Tally.Threshold,
			res.Tally.Valid, res.Tally.Invalid, res.Tally.Unparseable, string(res.Decision))...)
	}
	vspan.End()
	if err != nil {
		return abort(StateVerifying, err)
	}
	a.Verification = res
	for _, v := range res.Votes {
		o.metrics.RecordVote(ctx, v.String())
	}
	if !res.Accepted() {
		r.issue = res.Feedback()
		return finish(StateVerifying, &RejectedError{Result: res}, r.issue)
	}

	r.enter(StateProvisioning)
	pctx, pspan := o.tracer.Start(ctx, "artifacts.pipeline.provision")
	ref, err := o.components.Provisioner.Provision(pctx, m)
	pspan.SetAttributes(telemetry.SandboxAttributes(o.sandboxName, ref.ID)...)
	pspan.End()

	var perr *sandbox.ProvisioningError
	switch {
	case err == nil:
		o.metrics.RecordProvision(ctx, o.sandboxName, "ok")
	case stderrors.As(err, &perr) && perr.Kind == sandbox.KindRuntimeFailure && ctx.Err() == nil:
		o.metrics.RecordProvision(ctx, o.sandboxName, "runtime_failure")
		a.Reference = perr.Ref
		r.issue = fmt.Sprintf("The project failed in the sandbox with this error:\n%s", perr.Text)
		return finish(StateProvisioning, err, r.issue)
	default:
		o.metrics.RecordProvision(ctx, o.sandboxName, "error")
		return abort(StateProvisioning, err)
	}

	encoded, err := artifact.Encode(m)
	if err != nil {
		return abort(StateProvisioning, err)
	}
	defineURL, err := artifact.DefineURL(o.cfg.DefineEndpoint, m)
	if err != nil {
		return abort(StateProvisioning, err)
	}

	a.Reference = ref
	r.outcome.Reference = ref
	r.outcome.Manifest = m
	r.outcome.Artifact = encoded
	r.outcome.DefineURL = defineURL
	return finish(StateAccepted, nil, "")
}

// obtain produces a validated manifest: a fresh generation while no valid
// manifest exists, a repair of the current one afterwards. The returned state
// is where a failure happened.
func (o *Orchestrator) obtain(ctx context.Context, r *run, source Source) (*manifest.Manifest, State, error) {
	if source == SourceRepair {
		r.enter(StateRepairing)
		m, err := o.components.Repairer.Repair(ctx, r.current, r.feedback)
		if err != nil {
			return nil, StateRepairing, err
		}
		r.enter(StateValidating)
		return m, StateValidating, nil
	}

	r.enter(StateGenerating)
	gctx, span := o.tracer.Start(ctx, "artifacts.pipeline.generate")
	raw, err := o.components.Generator.Generate(gctx, r.outcome.Prompt, r.feedback)
	span.End()
	if err != nil {
		return nil, StateGenerating, err
	}

	r.enter(StateValidating)
	m, err := o.components.Validator.Validate(raw)
	if err != nil {
		return nil, StateValidating, err
	}
	return m, StateValidating, nil
}

// reject ends a run before its first attempt.
func (o *Orchestrator) reject(ctx context.Context, out *Outcome, start time.Time, err error) (*Outcome, error) {
	out.State = StateFailed
	out.Err = err
	out.Duration = time.Since(start)
	o.metrics.RecordRun(ctx, out.State.String(), string(out.Diagnosis()), out.Duration)
	return out, err
}

// retryFeedback builds the feedback after a failed generation or repair.
// Repair feedback keeps the reason the manifest needed repairing.
func (o *Orchestrator) retryFeedback(r *run, source Source, err error) string {
	text := err.Error()
	var gerr *repair.GenerationError
	if stderrors.As(err, &gerr) && gerr.Kind == repair.KindEmptyResponse {
		text = "empty response: " + text
	}
	if source == SourceRepair && r.issue != "" {
		return r.issue + "\n\nThe previous correction could not be used: " + text
	}
	return text
}

// isTerminal separates collaborator outages and cancellation from failures
// that the next attempt can address.
func isTerminal(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	var verr *manifest.ValidationError
	var gerr *repair.GenerationError
	return !stderrors.As(err, &verr) && !stderrors.As(err, &gerr)
}
