// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
package main

import (
	"github.com/spf13/cobra"

	"github.com/jllopis/artifacts/pkg/config"
	"github.com/jllopis/artifacts/pkg/mcp"
	"github.com/jllopis/artifacts/pkg/runtime"
	"github.com/jllopis/artifacts/pkg/server"
	"github.com/jllopis/artifacts/pkg/telemetry"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serves GET /generate?prompt=..., the /api/v1 routes, /healthz, /readyz,
/metrics and the MCP streamable HTTP endpoint at /mcp. With --config the file is watched and
pipeline, prompt and log level changes are applied without a restart.`,
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

			if opts.configPath != "" {
				watcher, err := config.NewWatcher(opts.loadOptions(), config.WithWatchLogger(a.logger))
				if err != nil {
					return NewConfigError(err, opts.configPath)
				}
				watcher.OnChange(func(cfg *config.Config) {
					telemetry.SetLogLevel(cfg.Log.Level)
					applyConfig(rt, cfg, a)
				})
				watcher.Start(cmd.Context())
				defer watcher.Stop()
			}

			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			mcpServer := mcp.NewServer(a.cfg.MCP.Name, version, rt, a.logger)
			srv := server.New(rt, a.cfg.Server.Mode,
				server.WithLogger(a.logger),
				server.WithVersion(version),
				server.WithRequestTimeout(config.Seconds(a.cfg.Server.RequestTimeoutSeconds)),
				server.WithMCPHandler(mcpServer.Handler()),
				server.WithReadiness(rt),
			)
			if err := srv.ListenAndServe(cmd.Context(), addr); err != nil {
				return NewCLIError(err, "check that the address is free")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	return cmd
}

func applyConfig(rt *runtime.Runtime, cfg *config.Config, a *app) {
	if err := rt.Apply(cfg); err != nil {
		a.logger.Error("config reload rejected", "error", err)
	}
}
