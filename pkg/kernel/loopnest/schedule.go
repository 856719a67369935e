// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package loopnest

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gomlx/autotune/pkg/kernel"
)

// Schedule is the flattened shape state of a Plan, as consumed by a device to execute it.
type Schedule struct {
	// Shape is the full shape, Colors the classification of each axis.
	Shape  []int
	Colors []kernel.AxisColor

	// Reduced marks the axes reduced in the output.
	Reduced []bool

	// Strides per buffer: index 0 is the output, followed by the inputs.
	Strides [][]int
	DTypes  []dtypes.DType

	Reduce  ReduceOp
	Combine BinaryOp
	NumVars int
}

// Schedule returns the current shape state of the plan.
func (p *Plan) Schedule() Schedule {
	full := p.FullShape()
	out := p.outputShape()
	s := Schedule{
		Shape:   full,
		Colors:  p.Colors(),
		Reduced: make([]bool, len(full)),
		Reduce:  p.ast.Reduce,
		Combine: p.ast.Combine,
		NumVars: len(p.ast.Vars),
	}
	for axis := range full {
		s.Reduced[axis] = out[axis] != full[axis]
	}
	for ii, op := range p.ast.operands() {
		s.Strides = append(s.Strides, slices.Clone(p.views[ii].strides))
		s.DTypes = append(s.DTypes, op.DType)
	}
	return s
}

// AxesWith returns the axes for which keep returns true.
func (s Schedule) AxesWith(keep func(color kernel.AxisColor) bool) []int {
	var axes []int
	for axis, color := range s.Colors {
		if keep(color) {
			axes = append(axes, axis)
		}
	}
	return axes
}
