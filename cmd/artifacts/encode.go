// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jllopis/artifacts/pkg/artifact"
	"github.com/jllopis/artifacts/pkg/config"
	"github.com/jllopis/artifacts/pkg/errors"
	"github.com/jllopis/artifacts/pkg/manifest"
)

func newEncodeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "encode <files.json|->",
		Short: "Encode project files as a sandbox define parameter",
		Long: `Reads a JSON object mapping file paths to {"content": "..."} and prints the
encoded artifact and the define URL that opens it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWith(opts.loadOptions())
			if err != nil {
				return NewConfigError(err, opts.configPath)
			}
			data, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return NewCLIError(errors.New(errors.CodeInvalidInput, "read files", err), "")
			}
			m, err := manifest.NewValidator().Validate(string(data))
			if err != nil {
				return NewCLIError(err, `expected {"<path>": {"content": "..."}}`)
			}
			encoded, err := artifact.Encode(m)
			if err != nil {
				return NewCLIError(err, "")
			}
			defineURL, err := artifact.DefineURL(cfg.Sandbox.DefineEndpoint, m)
			if err != nil {
				return NewCLIError(err, "")
			}

			if opts.json {
				return writeJSON(cmd.OutOrStdout(), map[string]string{
					"artifact":   encoded,
					"define_url": defineURL,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), encoded)
			fmt.Fprintln(cmd.OutOrStdout(), defineURL)
			return nil
		},
	}
}

func newDecodeCmd(_ *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "decode <artifact|->",
		Short: "Decode an artifact back into project files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			encoded := args[0]
			if encoded == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return NewCLIError(errors.New(errors.CodeInvalidInput, "read artifact", err), "")
				}
				encoded = strings.TrimSpace(string(data))
			}
			m, err := artifact.Decode(encoded)
			if err != nil {
				return NewCLIError(err, "")
			}
			return writeJSON(cmd.OutOrStdout(), m)
		},
	}
}

func readInput(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(name)
}
