// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jllopis/artifacts/pkg/errors"
)

// WithTimeout runs fn under a child context bounded by d.
// If the child deadline fires while the parent is still live, the result is a
// recoverable errors.CodeTimeout; cancellation of the parent is returned as
// errors.CodeCanceled. A zero duration runs fn with ctx unchanged.
func WithTimeout(ctx context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	err := fn(callCtx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return errors.New(errors.CodeCanceled, "operation canceled", ctx.Err())
	}
	if callCtx.Err() != nil && stderrors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return errors.New(errors.CodeTimeout, "operation exceeded timeout", err).
			WithContext("timeout", d.String()).
			WithRecoverable(true)
	}
	return err
}

// WithTimeoutResult is WithTimeout for functions returning a value.
func WithTimeoutResult[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := WithTimeout(ctx, d, func(ctx context.Context) error {
		var fnErr error
		result, fnErr = fn(ctx)
		return fnErr
	})
	return result, err
}

// IsTimeout reports whether err is a per-call timeout produced by WithTimeout.
func IsTimeout(err error) bool {
	return errors.CodeOf(err) == errors.CodeTimeout
}

// IsCanceled reports whether err signals that the caller gave up.
func IsCanceled(err error) bool {
	if stderrors.Is(err, context.Canceled) {
		return true
	}
	return errors.CodeOf(err) == errors.CodeCanceled
}
