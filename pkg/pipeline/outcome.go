// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jllopis/artifacts/pkg/errors"
	"github.com/jllopis/artifacts/pkg/manifest"
	"github.com/jllopis/artifacts/pkg/sandbox"
	"github.com/jllopis/artifacts/pkg/verify"
)

// State is a state of the generation state machine.
type State int

const (
	StateStart State = iota
	StateGenerating
	StateValidating
	StateVerifying
	StateProvisioning
	StateRepairing
	StateAccepted
	StateFailed
)

var stateNames = [...]string{
	StateStart:        "START",
	StateGenerating:   "GENERATING",
	StateValidating:   "VALIDATING",
	StateVerifying:    "VERIFYING",
	StateProvisioning: "PROVISIONING",
	StateRepairing:    "REPAIRING",
	StateAccepted:     "ACCEPTED",
	StateFailed:       "FAILED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateAccepted || s == StateFailed
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Source says how an attempt obtained its manifest.
type Source string

const (
	SourceGenerate Source = "generate"
	SourceRepair   Source = "repair"
)

// Attempt records one pass through the pipeline. FailedAt is the state in
// which the attempt failed and is StateAccepted for the successful one.
type Attempt struct {
	Index        int
	Source       Source
	Manifest     *manifest.Manifest
	Verification *verify.Result
	Reference    sandbox.Reference
	FailedAt     State
	Err          error
	// Feedback is what this attempt hands to the next one.
	Feedback string
	Duration time.Duration
}

// Failed reports whether the attempt did not produce an accepted artifact.
func (a Attempt) Failed() bool {
	return a.FailedAt != StateAccepted
}

// Diagnosis classifies a failed run.
type Diagnosis string

const (
	DiagnosisNone Diagnosis = ""
	// DiagnosisNeverValid means no attempt produced a valid manifest.
	DiagnosisNeverValid Diagnosis = "NEVER_VALID"
	// DiagnosisQuorumRejected means valid manifests kept failing verification.
	DiagnosisQuorumRejected Diagnosis = "QUORUM_REJECTED"
	// DiagnosisRuntimeFailing means accepted manifests kept failing in the sandbox.
	DiagnosisRuntimeFailing Diagnosis = "RUNTIME_FAILING"
	// DiagnosisTransportFailure means a collaborator could not be reached.
	DiagnosisTransportFailure Diagnosis = "TRANSPORT_FAILURE"
	// DiagnosisPromptRejected means the prompt was empty or blocked by a guard.
	DiagnosisPromptRejected Diagnosis = "PROMPT_REJECTED"
	// DiagnosisCanceled means the caller gave up.
	DiagnosisCanceled Diagnosis = "CANCELED"
)

// Outcome is the result of a run. It is returned for failed runs as well, so
// callers always get the attempt history.
type Outcome struct {
	RunID     string
	Prompt    string
	State     State
	Reference sandbox.Reference
	// Artifact is the encoded accepted manifest.
	Artifact  string
	DefineURL string
	Manifest  *manifest.Manifest
	Attempts  []Attempt
	// Path lists the states visited, in order.
	Path     []State
	Err      error
	Duration time.Duration
}

// Accepted reports whether the run produced an artifact.
func (o *Outcome) Accepted() bool {
	return o != nil && o.State == StateAccepted
}

// LastFeedback returns the feedback of the last attempt.
func (o *Outcome) LastFeedback() string {
	if o == nil || len(o.Attempts) == 0 {
		return ""
	}
	return o.Attempts[len(o.Attempts)-1].Feedback
}

// Diagnosis tells why a failed run failed.
func (o *Outcome) Diagnosis() Diagnosis {
	if o == nil || o.State != StateFailed {
		return DiagnosisNone
	}
	if o.Err != nil {
		switch errors.CodeOf(o.Err) {
		case errors.CodeCanceled:
			return DiagnosisCanceled
		case errors.CodeInvalidInput:
			return DiagnosisPromptRejected
		case errors.CodeLLMError, errors.CodeSandboxError, errors.CodeInternal:
			return DiagnosisTransportFailure
		}
	}

	var validated, rejected, runtime int
	for _, a := range o.Attempts {
		if a.Manifest != nil {
			validated++
		}
		switch a.FailedAt {
		case StateVerifying:
			rejected++
		case StateProvisioning:
			runtime++
		}
	}
	switch {
	case validated == 0:
		return DiagnosisNeverValid
	case runtime > rejected:
		return DiagnosisRuntimeFailing
	default:
		return DiagnosisQuorumRejected
	}
}

type attemptView struct {
	Index    int              `json:"index"`
	Source   Source           `json:"source"`
	FailedAt string           `json:"failed_at,omitempty"`
	Files    []string         `json:"files,omitempty"`
	Digest   string           `json:"digest,omitempty"`
	Votes    []string         `json:"votes,omitempty"`
	Tally    string           `json:"tally,omitempty"`
	Sandbox  string           `json:"sandbox,omitempty"`
	Error    string           `json:"error,omitempty"`
	Code     errors.ErrorCode `json:"code,omitempty"`
	Feedback string           `json:"feedback,omitempty"`
	Duration string           `json:"duration"`
}

// MarshalJSON renders the outcome as a report: manifests are summarised by
// their paths and digest, errors by their message and code.
func (o *Outcome) MarshalJSON() ([]byte, error) {
	out := struct {
		RunID     string             `json:"run_id"`
		State     State              `json:"state"`
		Diagnosis Diagnosis          `json:"diagnosis,omitempty"`
		Reference *sandbox.Reference `json:"reference,omitempty"`
		Artifact  string             `json:"artifact,omitempty"`
		DefineURL string             `json:"define_url,omitempty"`
		Files     *manifest.Manifest `json:"files,omitempty"`
		Attempts  []attemptView      `json:"attempts"`
		Error     string             `json:"error,omitempty"`
		Code      errors.ErrorCode   `json:"code,omitempty"`
		Duration  string             `json:"duration"`
	}{
		RunID:     o.RunID,
		State:     o.State,
		Diagnosis: o.Diagnosis(),
		Artifact:  o.Artifact,
		DefineURL: o.DefineURL,
		Files:     o.Manifest,
		Attempts:  make([]attemptView, 0, len(o.Attempts)),
		Duration:  o.Duration.String(),
	}
	if !o.Reference.IsZero() {
		ref := o.Reference
		out.Reference = &ref
	}
	if o.Err != nil {
		out.Error = o.Err.Error()
		out.Code = errors.CodeOf(o.Err)
	}
	for _, a := range o.Attempts {
		v := attemptView{
			Index:    a.Index,
			Source:   a.Source,
			Feedback: a.Feedback,
			Duration: a.Duration.String(),
			Sandbox:  a.Reference.String(),
		}
		if a.Failed() {
			v.FailedAt = a.FailedAt.String()
		}
		if a.Manifest != nil {
			v.Files = a.Manifest.Paths()
			v.Digest = a.Manifest.Digest()
		}
		if a.Verification != nil {
			for _, vote := range a.Verification.Votes {
				v.Votes = append(v.Votes, vote.String())
			}
			v.Tally = a.Verification.Tally.String()
		}
		if a.Err != nil {
			v.Error = a.Err.Error()
			v.Code = errors.CodeOf(a.Err)
		}
		out.Attempts = append(out.Attempts, v)
	}
	return json.Marshal(out)
}
