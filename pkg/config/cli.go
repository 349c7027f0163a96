// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/knadh/koanf/v2"
)

// LoadOptions are the command line inputs of a load.
type LoadOptions struct {
	Path    string
	Profile string
	// Sets are key=value overrides applied after the environment.
	Sets []string
}

// LoadWith loads the configuration described by opts.
func LoadWith(opts LoadOptions) (*Config, error) {
	return load(koanf.New("."), opts.Path, opts.Profile, opts.Sets)
}

// LoadWithCLI extracts --config, --profile (or --env) and repeated --set
// flags from args and loads the configuration. Other arguments are ignored.
func LoadWithCLI(args []string) (*Config, error) {
	opts, _, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	return LoadWith(opts)
}

// parseCLIOverrides returns the load options found in args and the
// arguments it did not consume.
func parseCLIOverrides(args []string) (LoadOptions, []string, error) {
	var (
		opts LoadOptions
		rest []string
	)
	for i := 0; i < len(args); i++ {
		name, value, inline := strings.Cut(args[i], "=")
		switch name {
		case "--config", "--profile", "--env", "--set":
		default:
			rest = append(rest, args[i])
			continue
		}
		if !inline {
			if i+1 >= len(args) {
				return LoadOptions{}, nil, fmt.Errorf("%s requires a value", name)
			}
			i++
			value = args[i]
		}
		switch name {
		case "--config":
			opts.Path = value
		case "--profile", "--env":
			opts.Profile = value
		case "--set":
			if _, _, err := splitSet(value); err != nil {
				return LoadOptions{}, nil, err
			}
			opts.Sets = append(opts.Sets, value)
		}
	}
	return opts, rest, nil
}

func splitSet(s string) (string, string, error) {
	key, value, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", "", fmt.Errorf("invalid --set %q, expected key=value", s)
	}
	return key, value, nil
}

// parseValue decodes JSON objects and arrays. Scalars stay strings and are
// converted when the config is unmarshalled.
func parseValue(v string) any {
	trimmed := strings.TrimSpace(v)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var out any
		if err := json.Unmarshal([]byte(trimmed), &out); err == nil {
			return out
		}
	}
	return v
}
