// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jllopis/artifacts/pkg/manifest"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()
	if c.Generator.System == "" || c.Judge.System == "" || c.Repair.System == "" {
		t.Fatalf("expected every role to have a system prompt")
	}
	if len(c.Judge.Criteria) != 5 {
		t.Errorf("expected 5 rubric criteria, got %d", len(c.Judge.Criteria))
	}
}

func TestGeneration(t *testing.T) {
	c := Default()
	required := []string{"index.js", "App.js"}

	tests := []struct {
		name     string
		feedback string
		want     []string
		notWant  []string
	}{
		{
			name:    "first attempt",
			want:    []string{"a todo app", "index.js, App.js"},
			notWant: []string{"Previous attempt failed"},
		},
		{
			name:     "with feedback",
			feedback: "the file set is missing required files: App.js",
			want:     []string{"a todo app", "Previous attempt failed: the file set is missing required files: App.js"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Generation("a todo app", tt.feedback, required)
			if err != nil {
				t.Fatalf("Generation: %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("expected %q in:\n%s", w, got)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(got, w) {
					t.Errorf("did not expect %q in:\n%s", w, got)
				}
			}
		})
	}
}

func TestJudging(t *testing.T) {
	m := manifest.NewBuilder().Add("index.js", "console.log(1)\n").Add("App.css", "h1 {}").Build()
	got, err := Default().Judging(m)
	if err != nil {
		t.Fatalf("Judging: %v", err)
	}
	for _, w := range []string{"1. Functional correctness", "5. Deployability", "VALID", "File: index.js", "console.log(1)", "File: App.css"} {
		if !strings.Contains(got, w) {
			t.Errorf("expected %q in:\n%s", w, got)
		}
	}
	if strings.Index(got, "File: index.js") > strings.Index(got, "File: App.css") {
		t.Errorf("files must be listed in manifest order")
	}
}

func TestRepairing(t *testing.T) {
	m := manifest.NewBuilder().Add("App.js", "export default 1").Build()
	got, err := Default().Repairing(m, "Module not found: ./Header", []string{"App.js"})
	if err != nil {
		t.Fatalf("Repairing: %v", err)
	}
	for _, w := range []string{"Module not found: ./Header", "File: App.js", "export default 1"} {
		if !strings.Contains(got, w) {
			t.Errorf("expected %q in:\n%s", w, got)
		}
	}
}

func TestLoadOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompts.yaml")
	data := []byte("judge:\n  system: Strict reviewer.\n  criteria:\n    - Compiles.\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Judge.System != "Strict reviewer." {
		t.Errorf("expected override, got %q", c.Judge.System)
	}
	if len(c.Judge.Criteria) != 1 {
		t.Errorf("expected 1 criterion, got %d", len(c.Judge.Criteria))
	}
	if c.Generator.System != Default().Generator.System {
		t.Errorf("roles absent from the override must keep defaults")
	}

	got, err := c.Judging(manifest.NewBuilder().Add("a.js", "1").Build())
	if err != nil {
		t.Fatalf("Judging: %v", err)
	}
	if !strings.Contains(got, "1. Compiles.") {
		t.Errorf("expected overridden criteria in:\n%s", got)
	}
}

func TestParseErrors(t *testing.T) {
	tests := map[string]string{
		"not yaml":      "generator: [",
		"missing roles": "generator:\n  system: a\n  user: b\n",
		"bad template":  "generator:\n  system: a\n  user: '{{.Prompt'\njudge:\n  system: a\n  user: b\n  criteria: [x]\nrepair:\n  system: a\n  user: b\n",
		"no criteria":   "generator:\n  system: a\n  user: b\njudge:\n  system: a\n  user: b\nrepair:\n  system: a\n  user: b\n",
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(input)); err == nil {
				t.Errorf("expected error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Errorf("expected error for missing file")
	}
}
