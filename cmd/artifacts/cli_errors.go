// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/jllopis/artifacts/pkg/errors"
)

// Exit codes.
const (
	exitFailure = 1
	exitUsage   = 2
)

// CLIError is a command failure with a hint for the user.
type CLIError struct {
	Code    errors.ErrorCode
	Message string
	Hint    string
	Err     error
}

// NewCLIError wraps err. An empty hint is replaced by the default hint of
// the error's code.
func NewCLIError(err error, hint string) *CLIError {
	code := errors.CodeOf(err)
	if hint == "" {
		hint = hintFor(code)
	}
	return &CLIError{Code: code, Message: err.Error(), Hint: hint, Err: err}
}

// Error returns the formatted error message with hints.
func (e *CLIError) Error() string {
	msg := e.Message
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

func (e *CLIError) Unwrap() error { return e.Err }

// ExitCode maps the error code to the process exit status.
func (e *CLIError) ExitCode() int {
	if e.Code == errors.CodeInvalidInput {
		return exitUsage
	}
	return exitFailure
}

// PrintError prints the error with appropriate formatting.
func (e *CLIError) PrintError(w io.Writer, asJSON bool) {
	if asJSON {
		data, _ := json.Marshal(map[string]any{"error": map[string]string{
			"code":    string(e.Code),
			"message": e.Message,
			"hint":    e.Hint,
		}})
		fmt.Fprintln(w, string(data))
		return
	}

	fmt.Fprintf(w, "Error [%s]: %s\n", e.Code, e.Message)
	if e.Hint != "" {
		fmt.Fprintf(w, "  Hint: %s\n", e.Hint)
	}
}

// asCLIError returns err as a *CLIError, wrapping it when needed.
func asCLIError(err error) *CLIError {
	var ce *CLIError
	if stderrors.As(err, &ce) {
		return ce
	}
	return NewCLIError(err, "")
}

// NewConfigError creates a configuration error with CLI hints.
func NewConfigError(err error, configPath string) *CLIError {
	hint := "check the --set values and ARTIFACTS_* variables"
	if configPath != "" {
		hint = fmt.Sprintf("check %s for syntax errors", configPath)
	}
	ce := NewCLIError(errors.New(errors.CodeInvalidInput, "configuration error", err), hint)
	if errors.CodeOf(err) == errors.CodeInvalidInput {
		ce.Message = err.Error()
	}
	return ce
}

func hintFor(code errors.ErrorCode) string {
	switch code {
	case errors.CodeInvalidInput:
		return "run 'artifacts help' for usage information"
	case errors.CodeLLMError:
		return "check that the llm provider is reachable and the API key is valid"
	case errors.CodeSandboxError:
		return "the sandbox service failed; --set sandbox.provider=define builds an offline link instead"
	case errors.CodeBudgetExceeded:
		return "describe the component more precisely or raise pipeline.max_attempts"
	case errors.CodeTimeout, errors.CodeCanceled:
		return "raise the pipeline timeouts or llm.timeout_seconds"
	default:
		return ""
	}
}
