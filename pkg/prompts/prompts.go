// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
// Package prompts loads the prompt catalog used by the generator, the judges
// and the repair engine, and renders the user messages for each of them.
package prompts

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/jllopis/artifacts/pkg/manifest"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultCatalog []byte

// Role holds the system prompt and user template of one participant.
type Role struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`

	tmpl *template.Template
}

// JudgeRole adds the rubric criteria to Role.
type JudgeRole struct {
	Role     `yaml:",inline"`
	Criteria []string `yaml:"criteria"`
}

// Catalog is the full set of prompts.
type Catalog struct {
	Generator Role      `yaml:"generator"`
	Judge     JudgeRole `yaml:"judge"`
	Repair    Role      `yaml:"repair"`
}

var funcs = template.FuncMap{
	"join": strings.Join,
	"inc":  func(i int) int { return i + 1 },
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("prompts: embedded catalog is invalid: %v", err))
	}
	return c
}

// Load reads a catalog from path. Roles absent from the file keep their
// embedded defaults. An empty path returns Default().
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt catalog: %w", err)
	}
	return parseOver(Default(), data)
}

// Parse decodes a complete catalog.
func Parse(data []byte) (*Catalog, error) {
	return parseOver(&Catalog{}, data)
}

func parseOver(base *Catalog, data []byte) (*Catalog, error) {
	c := *base
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse prompt catalog: %w", err)
	}
	if err := c.compile(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) compile() error {
	roles := []struct {
		name string
		role *Role
	}{
		{"generator", &c.Generator},
		{"judge", &c.Judge.Role},
		{"repair", &c.Repair},
	}
	for _, r := range roles {
		if strings.TrimSpace(r.role.System) == "" || strings.TrimSpace(r.role.User) == "" {
			return fmt.Errorf("prompt catalog: %s needs system and user prompts", r.name)
		}
		tmpl, err := template.New(r.name).Funcs(funcs).Option("missingkey=error").Parse(r.role.User)
		if err != nil {
			return fmt.Errorf("prompt catalog: %s user template: %w", r.name, err)
		}
		r.role.tmpl = tmpl
	}
	if len(c.Judge.Criteria) == 0 {
		return fmt.Errorf("prompt catalog: judge needs at least one criterion")
	}
	return nil
}

func (r *Role) render(data any) (string, error) {
	var sb strings.Builder
	if err := r.tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return strings.TrimSpace(sb.String()), nil
}

// Generation renders the generator user message. Feedback is empty on the
// first attempt.
func (c *Catalog) Generation(prompt, feedback string, required []string) (string, error) {
	return c.Generator.render(struct {
		Prompt   string
		Feedback string
		Required []string
	}{prompt, feedback, required})
}

// Judging renders the judge user message for m.
func (c *Catalog) Judging(m *manifest.Manifest) (string, error) {
	return c.Judge.render(struct {
		Files    string
		Criteria []string
	}{Listing(m), c.Judge.Criteria})
}

// Repairing renders the repair user message for m and feedback.
func (c *Catalog) Repairing(m *manifest.Manifest, feedback string, required []string) (string, error) {
	return c.Repair.render(struct {
		Files    string
		Feedback string
		Required []string
	}{Listing(m), feedback, required})
}

// Listing renders every file of m as a labelled, fenced block.
func Listing(m *manifest.Manifest) string {
	var sb strings.Builder
	m.Each(func(path, content string) {
		fmt.Fprintf(&sb, "File: %s\n```\n%s\n```\n\n", path, strings.TrimRight(content, "\n"))
	})
	return strings.TrimRight(sb.String(), "\n")
}
