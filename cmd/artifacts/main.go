// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0

// Command artifacts turns a description into a running sandbox project.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/jllopis/artifacts/pkg/config"
	"github.com/jllopis/artifacts/pkg/runtime"
	"github.com/jllopis/artifacts/pkg/telemetry"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type rootOptions struct {
	configPath string
	profile    string
	sets       []string
	json       bool
}

func (o *rootOptions) loadOptions() config.LoadOptions {
	return config.LoadOptions{Path: o.configPath, Profile: o.profile, Sets: o.sets}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := &rootOptions{}
	root := newRootCmd(opts)
	if err := root.ExecuteContext(ctx); err != nil {
		ce := asCLIError(err)
		ce.PrintError(os.Stderr, opts.json)
		stop()
		os.Exit(ce.ExitCode())
	}
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:   "artifacts",
		Short: "Generate, verify and host small web projects from a description",
		Long: `artifacts asks a language model for a small web project, checks the files,
puts them to a panel of judges and hosts the accepted project in a sandbox.
Failures are fed back to the model until a project is accepted or the
attempt budget runs out.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "configuration file (YAML)")
	flags.StringVar(&opts.profile, "profile", "", "profile overlay, reads config.<profile>.yaml next to --config")
	flags.StringArrayVar(&opts.sets, "set", nil, "override a setting, e.g. --set pipeline.max_attempts=3")
	flags.BoolVar(&opts.json, "json", false, "print machine readable output")

	root.AddCommand(
		newGenerateCmd(opts),
		newServeCmd(opts),
		newMCPCmd(opts),
		newEncodeCmd(opts),
		newDecodeCmd(opts),
		newVersionCmd(opts),
	)
	return root
}

// app holds what every command that runs the pipeline needs.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *telemetry.PipelineMetrics
	shutdown telemetry.ShutdownFunc
}

// setup loads the configuration and installs logging and telemetry. Logs go
// to stderr so stdout stays clean for results and the MCP stdio transport.
func setup(cmd *cobra.Command, opts *rootOptions) (*app, error) {
	cfg, err := config.LoadWith(opts.loadOptions())
	if err != nil {
		return nil, NewConfigError(err, opts.configPath)
	}
	if err := cfg.Validate(); err != nil {
		return nil, NewConfigError(err, opts.configPath)
	}

	logger := telemetry.ConfigureSlog(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	shutdown, err := telemetry.InitWithConfig("artifacts", version, telemetry.Config{
		Exporter:       cfg.Telemetry.Exporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
		Output:         cmd.ErrOrStderr(),
		MetricInterval: config.Seconds(cfg.Telemetry.MetricIntervalSeconds),
	})
	if err != nil {
		return nil, NewCLIError(err, "check the telemetry settings")
	}
	metrics, err := telemetry.NewPipelineMetrics(otel.GetMeterProvider())
	if err != nil {
		_ = shutdown(context.Background())
		return nil, NewCLIError(err, "")
	}
	return &app{cfg: cfg, logger: logger, metrics: metrics, shutdown: shutdown}, nil
}

// runtime checks credentials and starts a runtime.
func (a *app) runtime(ctx context.Context) (*runtime.Runtime, error) {
	if err := a.cfg.CheckEnvironment(); err != nil {
		return nil, NewCLIError(err, "export the variable or set the api_key in the configuration file")
	}
	rt, err := runtime.New(ctx, a.cfg,
		runtime.WithLogger(a.logger),
		runtime.WithMetrics(a.metrics))
	if err != nil {
		return nil, NewCLIError(err, "")
	}
	if err := rt.Start(ctx); err != nil {
		return nil, NewCLIError(err, "")
	}
	return rt, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown", "error", err)
	}
}

func newVersionCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printVersion(cmd.OutOrStdout(), opts.json)
		},
	}
}

func printVersion(w io.Writer, asJSON bool) error {
	if asJSON {
		return writeJSON(w, map[string]string{"version": version})
	}
	_, err := fmt.Fprintf(w, "artifacts %s\n", version)
	return err
}
