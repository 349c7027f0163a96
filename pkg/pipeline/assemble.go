// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
package pipeline

import (
	"log/slog"
	"time"

	"github.com/jllopis/artifacts/pkg/errors"
	"github.com/jllopis/artifacts/pkg/llm"
	"github.com/jllopis/artifacts/pkg/manifest"
	"github.com/jllopis/artifacts/pkg/prompts"
	"github.com/jllopis/artifacts/pkg/repair"
	"github.com/jllopis/artifacts/pkg/sandbox"
	"github.com/jllopis/artifacts/pkg/verify"
)

// Setup describes an Orchestrator built from completers.
type Setup struct {
	// Generator produces and repairs manifests.
	Generator llm.Completer
	// Judge answers verification rounds; nil reuses Generator.
	Judge       llm.Completer
	Provisioner sandbox.Provisioner
	// Required lists the paths every manifest must contain; nil selects the
	// React preset.
	Required []string
	Catalog  *prompts.Catalog

	GenerateTimeout time.Duration
	JudgeTimeout    time.Duration
	RepairTimeout   time.Duration

	Logger *slog.Logger
}

// Assemble wires the default components around s.
func Assemble(s Setup, cfg Config, opts ...Option) (*Orchestrator, error) {
	if s.Generator == nil {
		return nil, errors.New(errors.CodeInvalidInput, "a generator completer is required", nil)
	}
	judge := s.Judge
	if judge == nil {
		judge = s.Generator
	}
	required := s.Required
	if required == nil {
		required = manifest.ReactFiles
	}
	catalog := s.Catalog
	if catalog == nil {
		catalog = prompts.Default()
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	validator := manifest.NewValidator(required...)
	c := Components{
		Generator: NewGenerator(s.Generator, catalog, required, s.GenerateTimeout),
		Validator: validator,
		Verifier: verify.NewQuorum(judge,
			verify.WithCatalog(catalog),
			verify.WithRoundTimeout(s.JudgeTimeout),
			verify.WithLogger(logger)),
		Repairer: repair.NewEngine(s.Generator, validator,
			repair.WithCatalog(catalog),
			repair.WithCallTimeout(s.RepairTimeout),
			repair.WithLogger(logger)),
		Provisioner: s.Provisioner,
	}
	return New(c, cfg, append([]Option{WithLogger(logger)}, opts...)...)
}
