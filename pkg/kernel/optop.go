// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// OptOp is the kind of an optimization move.
type OptOp int

const (
	// OptUpcast splits a non-reduce axis and expands the inner part into registers.
	OptUpcast OptOp = iota
	// OptUnroll splits a reduce axis and unrolls the inner part.
	OptUnroll
	// OptLocal splits a non-reduce axis and moves the inner part into the workgroup.
	OptLocal
	// OptGroup splits a reduce axis and reduces the inner part cooperatively in local memory.
	OptGroup
	// OptGroupTop is like OptGroup, but the outer part of the split is grouped.
	OptGroupTop
	// OptUpcastMid upcasts a grouped reduce axis in the middle of the reduction (image outputs only).
	OptUpcastMid
)

var optOpNames = []string{"UPCAST", "UNROLL", "LOCAL", "GROUP", "GROUPTOP", "UPCASTMID"}

// String implements fmt.Stringer.
func (op OptOp) String() string {
	if op < 0 || int(op) >= len(optOpNames) {
		return "OptOp(" + strconv.Itoa(int(op)) + ")"
	}
	return optOpNames[op]
}

// OptOpValues returns all the OptOp values.
func OptOpValues() []OptOp {
	values := make([]OptOp, len(optOpNames))
	for ii := range values {
		values[ii] = OptOp(ii)
	}
	return values
}

// OptOpString parses the name of an OptOp, case-insensitive.
func OptOpString(name string) (OptOp, error) {
	for ii, n := range optOpNames {
		if strings.EqualFold(n, name) {
			return OptOp(ii), nil
		}
	}
	return 0, errors.Errorf("%q does not belong to OptOp values", name)
}

// UsesLocals returns whether the move requires local (workgroup) memory or dimensions.
func (op OptOp) UsesLocals() bool {
	switch op {
	case OptLocal, OptGroup, OptGroupTop, OptUpcastMid:
		return true
	default:
		return false
	}
}

// MarshalText implements encoding.TextMarshaler.
func (op OptOp) MarshalText() ([]byte, error) {
	if op < 0 || int(op) >= len(optOpNames) {
		return nil, errors.Errorf("invalid OptOp(%d)", int(op))
	}
	return []byte(op.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (op *OptOp) UnmarshalText(text []byte) error {
	var err error
	*op, err = OptOpString(string(text))
	return err
}
