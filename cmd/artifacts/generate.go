// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jllopis/artifacts/pkg/errors"
	"github.com/jllopis/artifacts/pkg/mcp"
	"github.com/jllopis/artifacts/pkg/pipeline"
)

func newGenerateCmd(opts *rootOptions) *cobra.Command {
	var remote string
	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Generate a project and host it in a sandbox",
		Long: `Runs the generate, verify and repair loop for the prompt and prints the
sandbox links of the accepted project. With --remote the run happens on an
artifacts server reached over MCP streamable HTTP.`,
		Example: `  artifacts generate "a button that says hello world"
  artifacts generate --set sandbox.provider=define "a todo list"
  artifacts generate --remote http://localhost:8080/mcp "a counter"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			if remote != "" {
				return generateRemote(cmd, opts, remote, prompt)
			}
			return generate(cmd, opts, prompt)
		},
	}
	cmd.Flags().StringVar(&remote, "remote", "", "URL of a remote artifacts MCP endpoint")
	return cmd
}

func generate(cmd *cobra.Command, opts *rootOptions, prompt string) error {
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

	out, runErr := rt.Run(cmd.Context(), prompt)
	if out == nil {
		return NewCLIError(runErr, "")
	}
	if opts.json {
		if err := writeJSON(cmd.OutOrStdout(), out); err != nil {
			return err
		}
	} else {
		printOutcome(cmd.OutOrStdout(), out)
	}
	if runErr != nil {
		return NewCLIError(runErr, "")
	}
	return nil
}

func generateRemote(cmd *cobra.Command, opts *rootOptions, url, prompt string) error {
	client, err := mcp.NewClientWithStreamableHTTP(cmd.Context(), url)
	if err != nil {
		return NewCLIError(errors.New(errors.CodeInternal, "connection failed", err).
			WithContext("address", url), fmt.Sprintf("check that an artifacts server is running at %s", url))
	}
	defer client.Close()

	report, runErr := client.Generate(cmd.Context(), prompt)
	if report != nil {
		if opts.json {
			if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
		} else {
			printReport(cmd.OutOrStdout(), report)
		}
	}
	if runErr != nil {
		return NewCLIError(runErr, "")
	}
	return nil
}

func printOutcome(w io.Writer, out *pipeline.Outcome) {
	fmt.Fprintf(w, "Run %s %s after %d attempt(s) in %s\n",
		out.RunID, out.State, len(out.Attempts), out.Duration.Round(time.Millisecond))
	for _, a := range out.Attempts {
		if !a.Failed() {
			continue
		}
		fmt.Fprintf(w, "  attempt %d (%s) failed at %s: %v\n", a.Index, a.Source, a.FailedAt, a.Err)
	}
	if !out.Accepted() {
		fmt.Fprintf(w, "Diagnosis: %s\n", out.Diagnosis())
		return
	}
	ref := out.Reference
	if ref.PreviewURL != "" {
		fmt.Fprintf(w, "Preview: %s\n", ref.PreviewURL)
	}
	fmt.Fprintf(w, "Sandbox: %s\n", ref.URL)
	if ref.EmbedURL != "" {
		fmt.Fprintf(w, "Embed:   %s\n", ref.EmbedURL)
	}
}

func printReport(w io.Writer, r *mcp.Report) {
	fmt.Fprintf(w, "Run %s %s after %d attempt(s) in %s\n", r.RunID, r.State, len(r.Attempts), r.Duration)
	if r.Diagnosis != "" {
		fmt.Fprintf(w, "Diagnosis: %s\n", r.Diagnosis)
	}
	if r.Reference != nil {
		fmt.Fprintf(w, "Preview: %s\n", r.Reference.String())
		fmt.Fprintf(w, "Sandbox: %s\n", r.Reference.URL)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
