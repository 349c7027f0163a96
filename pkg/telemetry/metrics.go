// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/artifacts/pkg/errors"
)

// PipelineMetrics records run, attempt, vote and error counters.
// A nil *PipelineMetrics is valid and records nothing.
type PipelineMetrics struct {
	runs         metric.Int64Counter
	attempts     metric.Int64Counter
	votes        metric.Int64Counter
	provisions   metric.Int64Counter
	errors       metric.Int64Counter
	runDuration  metric.Float64Histogram
	breakerState metric.Int64Gauge
}

// NewPipelineMetrics creates the instruments on mp, or on the global meter
// provider when mp is nil.
func NewPipelineMetrics(mp metric.MeterProvider) (*PipelineMetrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter("artifacts/pipeline")

	var (
		pm  PipelineMetrics
		err error
	)
	if pm.runs, err = meter.Int64Counter(
		"artifacts.runs.total",
		metric.WithDescription("Pipeline runs by final state and diagnosis"),
	); err != nil {
		return nil, err
	}
	if pm.attempts, err = meter.Int64Counter(
		"artifacts.attempts.total",
		metric.WithDescription("Generation attempts by source and failed stage"),
	); err != nil {
		return nil, err
	}
	if pm.votes, err = meter.Int64Counter(
		"artifacts.verify.votes.total",
		metric.WithDescription("Judge votes by value"),
	); err != nil {
		return nil, err
	}
	if pm.provisions, err = meter.Int64Counter(
		"artifacts.sandbox.provisions.total",
		metric.WithDescription("Sandbox provisioning calls by provider and outcome"),
	); err != nil {
		return nil, err
	}
	if pm.errors, err = meter.Int64Counter(
		"artifacts.errors.total",
		metric.WithDescription("Errors by code and component"),
	); err != nil {
		return nil, err
	}
	if pm.runDuration, err = meter.Float64Histogram(
		"artifacts.run.duration",
		metric.WithDescription("Wall time of a pipeline run"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if pm.breakerState, err = meter.Int64Gauge(
		"artifacts.circuitbreaker.state",
		metric.WithDescription("Circuit breaker state per component (0=open, 1=half-open, 2=closed)"),
	); err != nil {
		return nil, err
	}
	return &pm, nil
}

// RecordRun counts a finished run and its duration.
func (pm *PipelineMetrics) RecordRun(ctx context.Context, state, diagnosis string, d time.Duration) {
	if pm == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrRunState, state),
		attribute.String(AttrDiagnosis, diagnosis),
	)
	pm.runs.Add(ctx, 1, attrs)
	pm.runDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordAttempt counts an attempt. failedAt is empty for the accepted one.
func (pm *PipelineMetrics) RecordAttempt(ctx context.Context, source, failedAt string) {
	if pm == nil {
		return
	}
	pm.attempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrAttemptSource, source),
		attribute.String(AttrFailedAt, failedAt),
	))
}

// RecordVote counts one judge vote.
func (pm *PipelineMetrics) RecordVote(ctx context.Context, vote string) {
	if pm == nil {
		return
	}
	pm.votes.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrVerifyVote, vote)))
}

// RecordProvision counts one provisioning call.
func (pm *PipelineMetrics) RecordProvision(ctx context.Context, provider, outcome string) {
	if pm == nil {
		return
	}
	pm.provisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrSandboxProvider, provider),
		attribute.String(AttrSandboxOutcome, outcome),
	))
}

// RecordError counts err under its error code.
func (pm *PipelineMetrics) RecordError(ctx context.Context, err error, component string) {
	if pm == nil || err == nil {
		return
	}
	recoverable := "unknown"
	if e := errors.As(err); e != nil && e.Code != errors.CodeInternal {
		recoverable = e.RecoverableString()
	}
	pm.errors.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrErrorCode, string(errors.CodeOf(err))),
		attribute.String("component", component),
		attribute.String("recoverable", recoverable),
	))
}

// RecordCircuitBreakerState records a breaker state (0=open, 1=half-open, 2=closed).
func (pm *PipelineMetrics) RecordCircuitBreakerState(ctx context.Context, component string, state int64) {
	if pm == nil {
		return
	}
	pm.breakerState.Record(ctx, state, metric.WithAttributes(attribute.String("component", component)))
}
