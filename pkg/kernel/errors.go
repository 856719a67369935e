// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernel

import "github.com/pkg/errors"

// Outcome classification of failures. Implementations wrap these (errors.Wrapf) and the autotuner
// tests with errors.Is.
var (
	// ErrIllegalMove is returned by Plan.ApplyOpt when a move cannot apply to the current plan state.
	ErrIllegalMove = errors.New("illegal move")

	// ErrResourceLimit indicates a plan exceeds the hardware limits on upcast or local sizes.
	ErrResourceLimit = errors.New("resource limit exceeded")

	// ErrCompileOrExecute indicates lowering, compilation or launching a program failed.
	ErrCompileOrExecute = errors.New("compile or execute failure")

	// ErrUnresolvedBuffer indicates a plan references a buffer index without provisioned memory.
	ErrUnresolvedBuffer = errors.New("unresolved buffer")

	// ErrUnsupportedDType indicates a device doesn't support the buffer element type.
	ErrUnsupportedDType = errors.New("unsupported dtype")
)

// IllegalMovef returns an error wrapping ErrIllegalMove with the formatted message.
func IllegalMovef(format string, args ...any) error {
	return errors.Wrapf(ErrIllegalMove, format, args...)
}
