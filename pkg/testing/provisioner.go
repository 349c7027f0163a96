// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"context"
	"fmt"
	"sync"

	"github.com/jllopis/artifacts/pkg/manifest"
	"github.com/jllopis/artifacts/pkg/sandbox"
)

// ProvisionResult is one scripted sandbox outcome.
type ProvisionResult struct {
	Ref sandbox.Reference
	Err error
}

// ScriptedProvisioner replays queued outcomes and records every manifest it
// receives.
type ScriptedProvisioner struct {
	mu       sync.Mutex
	results  []ProvisionResult
	index    int
	fallback *ProvisionResult
	received []*manifest.Manifest
}

// NewScriptedProvisioner creates an empty provisioner.
func NewScriptedProvisioner() *ScriptedProvisioner {
	return &ScriptedProvisioner{}
}

// AddReference queues a successful provisioning of a sandbox with id.
func (p *ScriptedProvisioner) AddReference(id string) *ScriptedProvisioner {
	return p.Add(ProvisionResult{Ref: Reference(id)})
}

// AddRuntimeFailure queues a sandbox that reports text as its build error.
func (p *ScriptedProvisioner) AddRuntimeFailure(text string) *ScriptedProvisioner {
	return p.Add(ProvisionResult{Err: sandbox.RuntimeFailure(text)})
}

// AddError queues an arbitrary error.
func (p *ScriptedProvisioner) AddError(err error) *ScriptedProvisioner {
	return p.Add(ProvisionResult{Err: err})
}

// Add queues r.
func (p *ScriptedProvisioner) Add(r ProvisionResult) *ScriptedProvisioner {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, r)
	return p
}

// Always sets the outcome returned once the queue is empty.
func (p *ScriptedProvisioner) Always(r ProvisionResult) *ScriptedProvisioner {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fallback = &r
	return p
}

// Provision implements sandbox.Provisioner.
func (p *ScriptedProvisioner) Provision(ctx context.Context, m *manifest.Manifest) (sandbox.Reference, error) {
	if err := ctx.Err(); err != nil {
		return sandbox.Reference{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.received = append(p.received, m)

	if p.index < len(p.results) {
		r := p.results[p.index]
		p.index++
		return r.Ref, r.Err
	}
	if p.fallback != nil {
		return p.fallback.Ref, p.fallback.Err
	}
	return sandbox.Reference{}, fmt.Errorf("no more scripted provisions (call %d)", len(p.received))
}

// Received returns the manifests passed to Provision, in order.
func (p *ScriptedProvisioner) Received() []*manifest.Manifest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*manifest.Manifest, len(p.received))
	copy(out, p.received)
	return out
}

// CallCount returns the number of Provision calls made.
func (p *ScriptedProvisioner) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.received)
}

// Reference returns the CodeSandbox-shaped reference for id.
func Reference(id string) sandbox.Reference {
	return sandbox.Reference{
		ID:         id,
		URL:        fmt.Sprintf(sandbox.DefaultURLTemplates.Sandbox, id),
		PreviewURL: fmt.Sprintf(sandbox.DefaultURLTemplates.Preview, id),
		EmbedURL:   fmt.Sprintf(sandbox.DefaultURLTemplates.Embed, id),
	}
}

var _ sandbox.Provisioner = (*ScriptedProvisioner)(nil)
