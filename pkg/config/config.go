// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
// Package config loads the artifacts configuration from defaults, a YAML
// file, an optional profile overlay, ARTIFACTS_* environment variables and
// command line overrides, in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jllopis/artifacts/pkg/errors"
	"github.com/jllopis/artifacts/pkg/guardrails"
	"github.com/jllopis/artifacts/pkg/manifest"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment overrides. ARTIFACTS_LLM_API_KEY
// sets llm.api_key: the first underscore after the prefix separates the
// section from the key.
const EnvPrefix = "ARTIFACTS_"

type Config struct {
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	LLM       LLMConfig       `koanf:"llm"`
	// Judge overrides LLM for the verification quorum. Empty fields inherit.
	Judge    LLMConfig      `koanf:"judge"`
	Pipeline PipelineConfig `koanf:"pipeline"`
	Sandbox  SandboxConfig  `koanf:"sandbox"`
	Server   ServerConfig   `koanf:"server"`
	MCP      MCPConfig      `koanf:"mcp"`
	Prompts  PromptsConfig  `koanf:"prompts"`
	Guard    GuardConfig    `koanf:"guard"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Exporter              string `koanf:"exporter"` // none, stdout, otlp
	OTLPEndpoint          string `koanf:"otlp_endpoint"`
	OTLPInsecure          bool   `koanf:"otlp_insecure"`
	MetricIntervalSeconds int    `koanf:"metric_interval_seconds"`
}

type LLMConfig struct {
	Provider       string  `koanf:"provider"` // ollama, openai, anthropic, gemini
	Model          string  `koanf:"model"`
	BaseURL        string  `koanf:"base_url"`
	APIKey         string  `koanf:"api_key"`
	Temperature    float64 `koanf:"temperature"`
	MaxRetries     int     `koanf:"max_retries"`
	TimeoutSeconds int     `koanf:"timeout_seconds"`
}

type PipelineConfig struct {
	MaxAttempts     int `koanf:"max_attempts"`
	QuorumRounds    int `koanf:"quorum_rounds"`
	QuorumThreshold int `koanf:"quorum_threshold"`
	// Template selects a preset of required files (react, static).
	// RequiredFiles, when set, replaces the preset.
	Template               string   `koanf:"template"`
	RequiredFiles          []string `koanf:"required_files"`
	GenerateTimeoutSeconds int      `koanf:"generate_timeout_seconds"`
	JudgeTimeoutSeconds    int      `koanf:"judge_timeout_seconds"`
	RepairTimeoutSeconds   int      `koanf:"repair_timeout_seconds"`
}

type SandboxConfig struct {
	Provider             string `koanf:"provider"` // codesandbox, define
	BaseURL              string `koanf:"base_url"`
	APIKey               string `koanf:"api_key"`
	DefineEndpoint       string `koanf:"define_endpoint"`
	Probe                bool   `koanf:"probe"`
	ProbeAttempts        int    `koanf:"probe_attempts"`
	ProbeIntervalSeconds int    `koanf:"probe_interval_seconds"`
}

type ServerConfig struct {
	Addr                  string `koanf:"addr"`
	Mode                  string `koanf:"mode"` // debug, release, test
	RequestTimeoutSeconds int    `koanf:"request_timeout_seconds"`
}

type MCPConfig struct {
	Name string `koanf:"name"`
}

type PromptsConfig struct {
	// Path points at a YAML catalog overriding the embedded prompts.
	Path string `koanf:"path"`
}

// GuardConfig screens prompts before generation.
type GuardConfig struct {
	Enabled         bool `koanf:"enabled"`
	MaxPromptLength int  `koanf:"max_prompt_length"`
	// Patterns are extra prompt injection regular expressions.
	Patterns []string `koanf:"patterns"`
	// InjectionThreshold is the confidence a prompt injection match must
	// reach to block; 0 blocks on any match.
	InjectionThreshold float64  `koanf:"injection_threshold"`
	Categories         []string `koanf:"categories"` // phishing, malware, cryptomining
	BlockedTerms       []string `koanf:"blocked_terms"`
	// FailOpen lets prompts through when the check is interrupted.
	FailOpen bool `koanf:"fail_open"`
}

var defaults = map[string]any{
	"log.level":  "info",
	"log.format": "text",

	"telemetry.exporter":                "none",
	"telemetry.metric_interval_seconds": 60,

	"llm.provider":        "ollama",
	"llm.temperature":     0.2,
	"llm.max_retries":     3,
	"llm.timeout_seconds": 120,

	"pipeline.max_attempts":             5,
	"pipeline.quorum_rounds":            3,
	"pipeline.quorum_threshold":         2,
	"pipeline.template":                 "react",
	"pipeline.generate_timeout_seconds": 120,
	"pipeline.judge_timeout_seconds":    60,
	"pipeline.repair_timeout_seconds":   120,

	"sandbox.provider":               "codesandbox",
	"sandbox.probe":                  false,
	"sandbox.probe_attempts":         5,
	"sandbox.probe_interval_seconds": 2,

	"server.addr":                    ":8080",
	"server.mode":                    "release",
	"server.request_timeout_seconds": 600,

	"mcp.name": "artifacts",

	"guard.enabled":           true,
	"guard.max_prompt_length": 4000,
	"guard.categories":        []string{"phishing", "malware", "cryptomining"},
}

// Load reads the configuration file at path, which may be empty, and the
// environment.
func Load(path string) (*Config, error) {
	return LoadWithProfile(path, "")
}

// LoadWithProfile is Load plus the overlay config.<profile>.yaml found next
// to path. A missing overlay is ignored.
func LoadWithProfile(path, profile string) (*Config, error) {
	return load(koanf.New("."), path, profile, nil)
}

func load(k *koanf.Koanf, path, profile string, sets []string) (*Config, error) {
	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return nil, err
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		if overlay := profileConfigPath(path, profile); overlay != "" {
			if err := k.Load(file.Provider(overlay), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load profile %s: %w", overlay, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}

	for _, set := range sets {
		key, value, err := splitSet(set)
		if err != nil {
			return nil, err
		}
		if err := k.Set(key, parseValue(value)); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps ARTIFACTS_SANDBOX_API_KEY to sandbox.api_key.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.Replace(s, "_", ".", 1)
}

// profileConfigPath returns the overlay of base for profile, or "" when
// there is none on disk.
func profileConfigPath(base, profile string) string {
	if base == "" || profile == "" {
		return ""
	}
	ext := filepath.Ext(base)
	candidate := strings.TrimSuffix(base, ext) + "." + profile + ext
	if _, err := os.Stat(candidate); err != nil {
		return ""
	}
	return candidate
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	p := c.Pipeline
	switch {
	case p.MaxAttempts < 1:
		return invalid("pipeline.max_attempts must be at least 1")
	case p.QuorumRounds < 1:
		return invalid("pipeline.quorum_rounds must be at least 1")
	case p.QuorumThreshold < 1 || p.QuorumThreshold > p.QuorumRounds:
		return invalid(fmt.Sprintf("pipeline.quorum_threshold must be between 1 and %d", p.QuorumRounds))
	}
	if _, err := p.Required(); err != nil {
		return err
	}
	switch c.Sandbox.Provider {
	case "codesandbox", "define":
	default:
		return invalid(fmt.Sprintf("unknown sandbox provider %q", c.Sandbox.Provider))
	}
	switch c.LLM.Provider {
	case "ollama", "openai", "anthropic", "gemini":
	default:
		return invalid(fmt.Sprintf("unknown llm provider %q", c.LLM.Provider))
	}
	return c.Guard.validate()
}

func (g GuardConfig) validate() error {
	if g.MaxPromptLength < 0 {
		return invalid("guard.max_prompt_length must not be negative")
	}
	if g.InjectionThreshold < 0 || g.InjectionThreshold > 1 {
		return invalid("guard.injection_threshold must be between 0 and 1")
	}
	if err := guardrails.CompilePatterns(g.Patterns); err != nil {
		return invalid(fmt.Sprintf("guard.patterns: %v", err))
	}
	_, err := g.ContentCategories()
	return err
}

// ContentCategories resolves the configured category names.
func (g GuardConfig) ContentCategories() ([]guardrails.ContentCategory, error) {
	out := make([]guardrails.ContentCategory, 0, len(g.Categories))
	for _, name := range g.Categories {
		c, err := guardrails.ParseCategory(name)
		if err != nil {
			return nil, invalid("guard.categories: " + err.Error())
		}
		out = append(out, c)
	}
	return out, nil
}

// Required resolves the required file list.
func (p PipelineConfig) Required() ([]string, error) {
	if len(p.RequiredFiles) > 0 {
		for _, f := range p.RequiredFiles {
			if strings.TrimSpace(f) == "" {
				return nil, invalid("pipeline.required_files contains an empty name")
			}
		}
		return append([]string(nil), p.RequiredFiles...), nil
	}
	files, ok := manifest.RequiredFor(p.Template)
	if !ok {
		return nil, invalid(fmt.Sprintf("unknown pipeline.template %q", p.Template))
	}
	return files, nil
}

// JudgeLLM returns the judge settings with unset fields taken from LLM.
// Credentials are only inherited when the provider is the same.
func (c *Config) JudgeLLM() LLMConfig {
	j := c.Judge
	if j.Provider == "" || j.Provider == c.LLM.Provider {
		j.Provider = c.LLM.Provider
		if j.BaseURL == "" {
			j.BaseURL = c.LLM.BaseURL
		}
		if j.APIKey == "" {
			j.APIKey = c.LLM.APIKey
		}
	}
	if j.Model == "" && j.Provider == c.LLM.Provider {
		j.Model = c.LLM.Model
	}
	if j.Temperature == 0 {
		j.Temperature = c.LLM.Temperature
	}
	if j.MaxRetries == 0 {
		j.MaxRetries = c.LLM.MaxRetries
	}
	if j.TimeoutSeconds == 0 {
		j.TimeoutSeconds = c.LLM.TimeoutSeconds
	}
	return j
}

// Seconds converts a seconds setting to a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func invalid(msg string) error {
	return errors.New(errors.CodeInvalidInput, msg, nil)
}
