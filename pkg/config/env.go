// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/jllopis/artifacts/pkg/errors"
)

// Well known credential variables, read when the config carries no key.
var providerKeyEnv = map[string][]string{
	"openai":    {"OPENAI_API_KEY"},
	"anthropic": {"ANTHROPIC_API_KEY"},
	"gemini":    {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
}

// SandboxKeyEnv holds the CodeSandbox API key when sandbox.api_key is unset.
const SandboxKeyEnv = "CODESANDBOX_API_KEY"

// ResolveAPIKey returns the configured key or the provider's well known
// environment variable.
func (c LLMConfig) ResolveAPIKey() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	for _, name := range providerKeyEnv[c.Provider] {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// ResolveAPIKey returns the configured key or CODESANDBOX_API_KEY. The key is
// optional: anonymous sandboxes are accepted by the define API.
func (s SandboxConfig) ResolveAPIKey() string {
	if s.APIKey != "" {
		return s.APIKey
	}
	return os.Getenv(SandboxKeyEnv)
}

// CheckEnvironment reports the credentials the configured providers need
// and cannot find.
func (c *Config) CheckEnvironment() error {
	var missing []string
	for section, llm := range map[string]LLMConfig{"llm": c.LLM, "judge": c.JudgeLLM()} {
		names, needsKey := providerKeyEnv[llm.Provider]
		if !needsKey || llm.ResolveAPIKey() != "" {
			continue
		}
		missing = append(missing, fmt.Sprintf("%s (or %s%s_API_KEY)",
			strings.Join(names, " or "), EnvPrefix, strings.ToUpper(section)))
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return errors.New(errors.CodeInvalidInput,
		"missing credentials: "+strings.Join(missing, ", "), nil).
		WithContext("missing", missing)
}
