// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
package telemetry

import (
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/jllopis/artifacts/pkg/errors"
)

// Span and metric attribute keys for the artifact pipeline.
const (
	AttrRunID       = "artifacts.run.id"
	AttrMaxAttempts = "artifacts.run.max_attempts"
	AttrRunState    = "artifacts.run.state"
	AttrDiagnosis   = "artifacts.run.diagnosis"
	AttrAttempts    = "artifacts.run.attempts"

	AttrAttemptIndex  = "artifacts.attempt.index"
	AttrAttemptSource = "artifacts.attempt.source"
	AttrFailedAt      = "artifacts.attempt.failed_at"
	AttrFileCount     = "artifacts.manifest.files"
	AttrDigest        = "artifacts.manifest.digest"

	AttrVerifyRounds      = "artifacts.verify.rounds"
	AttrVerifyThreshold   = "artifacts.verify.threshold"
	AttrVerifyRound       = "artifacts.verify.round"
	AttrVerifyVote        = "artifacts.verify.vote"
	AttrVerifyValid       = "artifacts.verify.valid"
	AttrVerifyInvalid     = "artifacts.verify.invalid"
	AttrVerifyUnparseable = "artifacts.verify.unparseable"
	AttrVerifyDecision    = "artifacts.verify.decision"

	AttrSandboxProvider = "artifacts.sandbox.provider"
	AttrSandboxID       = "artifacts.sandbox.id"
	AttrSandboxOutcome  = "artifacts.sandbox.outcome"

	AttrGuardrail = "artifacts.guardrail"

	AttrErrorCode        = "error.code"
	AttrErrorRecoverable = "error.recoverable"
)

// RunAttributes describes a pipeline run.
func RunAttributes(runID string, maxAttempts int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrRunID, runID),
		attribute.Int(AttrMaxAttempts, maxAttempts),
	}
}

// OutcomeAttributes describes how a run ended.
func OutcomeAttributes(state, diagnosis string, attempts int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrRunState, state),
		attribute.Int(AttrAttempts, attempts),
	}
	if diagnosis != "" {
		attrs = append(attrs, attribute.String(AttrDiagnosis, diagnosis))
	}
	return attrs
}

// AttemptAttributes describes one attempt.
func AttemptAttributes(index int, source string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrAttemptIndex, index),
		attribute.String(AttrAttemptSource, source),
	}
}

// ManifestAttributes describes a produced manifest.
func ManifestAttributes(files int, digest string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.Int(AttrFileCount, files)}
	if digest != "" {
		attrs = append(attrs, attribute.String(AttrDigest, digest))
	}
	return attrs
}

// VerifyAttributes describes a quorum tally.
func VerifyAttributes(rounds, threshold, valid, invalid, unparseable int, decision string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrVerifyRounds, rounds),
		attribute.Int(AttrVerifyThreshold, threshold),
		attribute.Int(AttrVerifyValid, valid),
		attribute.Int(AttrVerifyInvalid, invalid),
		attribute.Int(AttrVerifyUnparseable, unparseable),
		attribute.String(AttrVerifyDecision, decision),
	}
}

// SandboxAttributes describes a provisioning call.
func SandboxAttributes(provider, id string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(AttrSandboxProvider, provider)}
	if id != "" {
		attrs = append(attrs, attribute.String(AttrSandboxID, id))
	}
	return attrs
}

// ErrorAttributes describes err: its code, whether it is recoverable and the
// trace attributes a typed error carries, sorted by key.
func ErrorAttributes(err error) []attribute.KeyValue {
	if err == nil {
		return nil
	}
	attrs := []attribute.KeyValue{attribute.String(AttrErrorCode, string(errors.CodeOf(err)))}
	e := errors.As(err)
	attrs = append(attrs, attribute.String(AttrErrorRecoverable, e.RecoverableString()))
	keys := make([]string, 0, len(e.Attributes))
	for k := range e.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, attribute.String(k, e.Attributes[k]))
	}
	return attrs
}
