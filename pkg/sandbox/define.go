// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
package sandbox

import (
	"context"

	"github.com/jllopis/artifacts/pkg/artifact"
	"github.com/jllopis/artifacts/pkg/manifest"
)

// DefineLink provisions nothing: it returns the GET define URL that creates
// the sandbox when opened in a browser. It never reports runtime errors.
type DefineLink struct {
	Endpoint string
}

// NewDefineLink returns a DefineLink for endpoint, or the public CodeSandbox
// define endpoint when empty.
func NewDefineLink(endpoint string) *DefineLink {
	if endpoint == "" {
		endpoint = artifact.DefaultDefineEndpoint
	}
	return &DefineLink{Endpoint: endpoint}
}

// Provision implements Provisioner.
func (d *DefineLink) Provision(ctx context.Context, m *manifest.Manifest) (Reference, error) {
	if err := ctx.Err(); err != nil {
		return Reference{}, err
	}
	u, err := artifact.DefineURL(d.Endpoint, m)
	if err != nil {
		return Reference{}, err
	}
	return Reference{URL: u}, nil
}

var _ Provisioner = (*DefineLink)(nil)
