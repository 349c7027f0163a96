// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
package pipeline

import (
	"fmt"

	"github.com/jllopis/artifacts/pkg/errors"
	"github.com/jllopis/artifacts/pkg/verify"
)

// RejectedError records a quorum rejection in the attempt history.
type RejectedError struct {
	Result *verify.Result
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("verification rejected: %s", e.Result.Tally)
}

// Code implements errors.Coder.
func (e *RejectedError) Code() errors.ErrorCode { return errors.CodeRejected }

// BudgetExceededError ends a run that used all of its attempts.
type BudgetExceededError struct {
	Attempts  int
	LastError error
}

func (e *BudgetExceededError) Error() string {
	if e.LastError == nil {
		return fmt.Sprintf("no accepted artifact after %d attempts", e.Attempts)
	}
	return fmt.Sprintf("no accepted artifact after %d attempts: %v", e.Attempts, e.LastError)
}

func (e *BudgetExceededError) Unwrap() error { return e.LastError }

// Code implements errors.Coder.
func (e *BudgetExceededError) Code() errors.ErrorCode { return errors.CodeBudgetExceeded }
