// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
package config

import (
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadWithCLIOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	writeFile(t, path, `
llm:
  provider: ollama
  model: model-a
telemetry:
  exporter: stdout
`)
	t.Setenv("ARTIFACTS_LLM_PROVIDER", "openai")

	cfg, err := LoadWithCLI([]string{
		"generate", "a button",
		"--config", path,
		"--set", "llm.provider=anthropic",
		"--set", "sandbox.probe=true",
		"--set", "pipeline.quorum_rounds=5",
		`--set`, `pipeline.required_files=["index.html","style.css"]`,
	})
	if err != nil {
		t.Fatalf("LoadWithCLI failed: %v", err)
	}
	if cfg.LLM.Provider != "anthropic" {
		t.Fatalf("expected cli override provider, got %s", cfg.LLM.Provider)
	}
	if cfg.LLM.Model != "model-a" {
		t.Fatalf("expected model from file, got %s", cfg.LLM.Model)
	}
	if !cfg.Sandbox.Probe {
		t.Fatalf("expected sandbox.probe=true")
	}
	if cfg.Pipeline.QuorumRounds != 5 {
		t.Fatalf("expected quorum_rounds override, got %d", cfg.Pipeline.QuorumRounds)
	}
	if !reflect.DeepEqual(cfg.Pipeline.RequiredFiles, []string{"index.html", "style.css"}) {
		t.Fatalf("unexpected required files %v", cfg.Pipeline.RequiredFiles)
	}
	if cfg.Telemetry.Exporter != "stdout" {
		t.Fatalf("expected exporter from file, got %s", cfg.Telemetry.Exporter)
	}
}

func TestLoadWithCLIProfile(t *testing.T) {
	tmpDir := t.TempDir()
	basePath := filepath.Join(tmpDir, "config.yaml")
	writeFile(t, basePath, "llm:\n  provider: \"ollama\"\n")
	writeFile(t, filepath.Join(tmpDir, "config.dev.yaml"), "llm:\n  provider: \"gemini\"\n")

	tests := []struct {
		name         string
		args         []string
		wantProvider string
	}{
		{name: "profile flag", args: []string{"--config", basePath, "--profile", "dev"}, wantProvider: "gemini"},
		{name: "env flag alias", args: []string{"--config", basePath, "--env", "dev"}, wantProvider: "gemini"},
		{name: "profile with equals", args: []string{"--config=" + basePath, "--profile=dev"}, wantProvider: "gemini"},
		{name: "env with equals", args: []string{"--config=" + basePath, "--env=dev"}, wantProvider: "gemini"},
		{name: "no profile", args: []string{"--config", basePath}, wantProvider: "ollama"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := LoadWithCLI(tc.args)
			if err != nil {
				t.Fatalf("LoadWithCLI failed: %v", err)
			}
			if cfg.LLM.Provider != tc.wantProvider {
				t.Errorf("provider: got %s, want %s", cfg.LLM.Provider, tc.wantProvider)
			}
		})
	}
}

func TestParseCLIOverrides(t *testing.T) {
	opts, rest, err := parseCLIOverrides([]string{"serve", "--config=c.yaml", "--set", "server.addr=:9090", "--json"})
	if err != nil {
		t.Fatalf("parseCLIOverrides: %v", err)
	}
	want := LoadOptions{Path: "c.yaml", Sets: []string{"server.addr=:9090"}}
	if !reflect.DeepEqual(opts, want) {
		t.Errorf("opts = %+v, want %+v", opts, want)
	}
	if !reflect.DeepEqual(rest, []string{"serve", "--json"}) {
		t.Errorf("rest = %v", rest)
	}
}

func TestParseCLIOverridesErrors(t *testing.T) {
	if _, _, err := parseCLIOverrides([]string{"--config"}); err == nil {
		t.Fatalf("expected error for missing --config value")
	}
	if _, _, err := parseCLIOverrides([]string{"--set"}); err == nil {
		t.Fatalf("expected error for missing --set value")
	}
	if _, _, err := parseCLIOverrides([]string{"--set", "invalid"}); err == nil {
		t.Fatalf("expected error for invalid --set value")
	}
	if _, _, err := parseCLIOverrides([]string{"--set", "=value"}); err == nil {
		t.Fatalf("expected error for empty --set key")
	}
}

func TestParseValue(t *testing.T) {
	if got := parseValue("plain"); got != "plain" {
		t.Errorf("scalar should stay a string, got %#v", got)
	}
	if got := parseValue(`["a","b"]`); !reflect.DeepEqual(got, []any{"a", "b"}) {
		t.Errorf("array should be decoded, got %#v", got)
	}
	if got := parseValue(`{broken`); got != "{broken" {
		t.Errorf("invalid JSON should stay a string, got %#v", got)
	}
}
