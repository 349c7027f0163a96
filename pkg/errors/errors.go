// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling with rich context for the
// artifact pipeline and its adapters.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies errors for monitoring, recovery and surface mapping.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the caller input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeCanceled indicates the caller abandoned the operation.
	CodeCanceled ErrorCode = "CANCELED"

	// CodeLLMError indicates a text-completion transport failure.
	CodeLLMError ErrorCode = "LLM_ERROR"

	// CodeSandboxError indicates a sandbox-provisioning service failure.
	CodeSandboxError ErrorCode = "SANDBOX_ERROR"

	// CodeMalformed indicates a completion reply with a broken structure.
	CodeMalformed ErrorCode = "MALFORMED"

	// CodeMissingRequired indicates a manifest without its required files.
	CodeMissingRequired ErrorCode = "MISSING_REQUIRED"

	// CodeEmptyResponse indicates a completion reply with no usable content.
	CodeEmptyResponse ErrorCode = "EMPTY_RESPONSE"

	// CodeRejected indicates the verification quorum rejected a manifest.
	CodeRejected ErrorCode = "REJECTED"

	// CodeRuntimeFailure indicates the sandbox reported a build/runtime error.
	CodeRuntimeFailure ErrorCode = "RUNTIME_FAILURE"

	// CodeBudgetExceeded indicates the attempt budget ran out.
	CodeBudgetExceeded ErrorCode = "BUDGET_EXCEEDED"
)

// Coder is implemented by domain errors that map onto an ErrorCode.
type Coder interface {
	Code() ErrorCode
}

// Error is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type Error struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Attributes  map[string]string
	Recoverable bool
	StatusCode  int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging and API replies.
func (e *Error) MarshalJSON() ([]byte, error) {
	out := struct {
		Message     string                 `json:"message"`
		Code        string                 `json:"code"`
		Err         string                 `json:"error,omitempty"`
		Recoverable bool                   `json:"recoverable"`
		Context     map[string]interface{} `json:"context,omitempty"`
		Attributes  map[string]string      `json:"attributes,omitempty"`
	}{
		Message:     e.Error(),
		Code:        string(e.Code),
		Recoverable: e.Recoverable,
		Context:     e.Context,
		Attributes:  e.Attributes,
	}
	if e.Err != nil {
		out.Err = e.Err.Error()
	}
	return json.Marshal(out)
}

// New creates a new Error with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *Error {
	return &Error{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		Attributes: make(map[string]string),
		StatusCode: StatusCode(code),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL traces.
// Returns the error for method chaining.
func (e *Error) WithAttribute(key, value string) *Error {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *Error) WithRecoverable(recoverable bool) *Error {
	e.Recoverable = recoverable
	return e
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *Error) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// As converts err to an *Error. Typed errors anywhere in the chain are
// returned as-is; domain errors implementing Coder are wrapped with their
// code; anything else is wrapped as internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	var c Coder
	if stderrors.As(err, &c) {
		return New(c.Code(), err.Error(), err)
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the ErrorCode carried by err, or CodeInternal.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var c Coder
	if stderrors.As(err, &c) {
		return c.Code()
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsRecoverable reports whether err is a typed error marked recoverable.
func IsRecoverable(err error) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Recoverable
	}
	return false
}

// StatusCode maps error codes to HTTP status codes.
func StatusCode(code ErrorCode) int {
	switch code {
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeCanceled:
		return 499 // client closed request
	case CodeLLMError, CodeSandboxError:
		return http.StatusBadGateway
	case CodeMalformed, CodeMissingRequired, CodeEmptyResponse, CodeRejected, CodeRuntimeFailure, CodeBudgetExceeded:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
