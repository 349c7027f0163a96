// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
package main

import (
	"github.com/spf13/cobra"

	"github.com/jllopis/artifacts/pkg/mcp"
)

func newMCPCmd(opts *rootOptions) *cobra.Command {
	var httpAddr string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the artifact tools over MCP",
		Long: `Serves the generate_artifact, encode_manifest and decode_artifact tools on
stdio, or on MCP streamable HTTP with --http.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			rt, err := a.runtime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Stop(cmd.Context())

			s := mcp.NewServer(a.cfg.MCP.Name, version, rt, a.logger)
			if httpAddr != "" {
				a.logger.Info("mcp streamable http listening", "addr", httpAddr)
				err = s.ServeStreamableHTTP(httpAddr)
			} else {
				err = s.ServeStdio()
			}
			if err != nil {
				return NewCLIError(err, "")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http", "", "serve streamable HTTP on this address instead of stdio")
	return cmd
}
