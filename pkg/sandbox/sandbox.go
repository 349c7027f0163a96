// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
// Package sandbox hands accepted manifests to a remote sandbox service and
// returns a reference to the hosted project.
package sandbox

import (
	"context"
	"fmt"

	"github.com/jllopis/artifacts/pkg/errors"
	"github.com/jllopis/artifacts/pkg/manifest"
)

// Reference identifies a provisioned sandbox. URL is always set; the other
// fields depend on what the service reports.
type Reference struct {
	ID         string `json:"id,omitempty"`
	URL        string `json:"url"`
	PreviewURL string `json:"preview_url,omitempty"`
	EmbedURL   string `json:"embed_url,omitempty"`
}

// String returns the most useful link for a human.
func (r Reference) String() string {
	if r.PreviewURL != "" {
		return r.PreviewURL
	}
	return r.URL
}

// IsZero reports whether r carries no location.
func (r Reference) IsZero() bool {
	return r.URL == ""
}

// Provisioner is the sandbox capability used by the pipeline. Asynchronous
// services are expected to block until they can answer.
type Provisioner interface {
	Provision(ctx context.Context, m *manifest.Manifest) (Reference, error)
}

// ProvisionerFunc adapts a function into a Provisioner.
type ProvisionerFunc func(ctx context.Context, m *manifest.Manifest) (Reference, error)

// Provision implements Provisioner.
func (f ProvisionerFunc) Provision(ctx context.Context, m *manifest.Manifest) (Reference, error) {
	return f(ctx, m)
}

// Kind tags a ProvisioningError.
type Kind string

const (
	// KindRuntimeFailure means the service took the files but they did not
	// build or run. Text describes what went wrong and is fit for repair.
	KindRuntimeFailure Kind = "RUNTIME_FAILURE"

	// KindServiceError means the service itself could not be used.
	KindServiceError Kind = "SERVICE_ERROR"
)

// ProvisioningError reports a failed provisioning.
type ProvisioningError struct {
	Kind Kind
	Text string
	Ref  Reference
	Err  error
}

func (e *ProvisioningError) Error() string {
	if e.Kind == KindRuntimeFailure {
		return fmt.Sprintf("sandbox runtime error: %s", e.Text)
	}
	if e.Err != nil {
		return fmt.Sprintf("sandbox service error: %s: %v", e.Text, e.Err)
	}
	return fmt.Sprintf("sandbox service error: %s", e.Text)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// Code implements errors.Coder.
func (e *ProvisioningError) Code() errors.ErrorCode {
	if e.Kind == KindRuntimeFailure {
		return errors.CodeRuntimeFailure
	}
	return errors.CodeSandboxError
}

// RuntimeFailure builds a KindRuntimeFailure error.
func RuntimeFailure(text string) *ProvisioningError {
	return &ProvisioningError{Kind: KindRuntimeFailure, Text: text}
}

// ServiceError builds a KindServiceError error.
func ServiceError(text string, cause error) *ProvisioningError {
	return &ProvisioningError{Kind: KindServiceError, Text: text, Err: cause}
}
