// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package loopnest

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/autotune/pkg/kernel"
)

// view is the shape and strides of one buffer over the current (split and permuted) axes.
//
// The output view has dimension 1 on the reduce axes, the input views have the full shape.
type view struct {
	shape, strides []int
}

func (v view) clone() view {
	return view{shape: slices.Clone(v.shape), strides: slices.Clone(v.strides)}
}

// Plan implements kernel.Plan for a Kernel.
//
// The axes of the full shape are kept in the order:
//
//	[global ...][local ...][grouped reduce ...][reduce ...][upcast ...]
//
// where the boundaries are given by firstReduce, localDims, groupForReduce and upcasted.
type Plan struct {
	ast *Kernel

	// views[0] is the output, views[1:] are the inputs.
	views []view

	localDims             int
	upcasted              int
	groupForReduce        []int
	upcastInMidReduceAxes []int
	dontUseLocals         bool

	applied []kernel.Opt
}

// Compile-time check.
var _ kernel.Plan = (*Plan)(nil)

// NewPlan creates a Plan for the kernel, with no moves applied.
//
// It panics if the kernel is malformed.
func NewPlan(k *Kernel) *Plan {
	k.validate()
	p := &Plan{ast: k}

	// Reduce axes are moved to the end, keeping the relative order of the others.
	var perm, reduceAxes []int
	for axis := range k.Shape {
		if k.IsReduceAxis(axis) {
			reduceAxes = append(reduceAxes, axis)
		} else {
			perm = append(perm, axis)
		}
	}
	perm = append(perm, reduceAxes...)
	outShape := slices.Clone(k.Shape)
	for _, axis := range reduceAxes {
		outShape[axis] = 1
	}
	p.views = append(p.views, permutedView(perm, outShape, k.Output.Strides))
	for _, in := range k.Inputs {
		p.views = append(p.views, permutedView(perm, k.Shape, in.Strides))
	}
	p.simplifyOnes()
	return p
}

func permutedView(perm, shape, strides []int) view {
	v := view{shape: make([]int, len(perm)), strides: make([]int, len(perm))}
	for ii, axis := range perm {
		v.shape[ii] = shape[axis]
		v.strides[ii] = strides[axis]
	}
	return v
}

// Kernel returns the immutable kernel description of the plan.
func (p *Plan) Kernel() *Kernel { return p.ast }

// ASTKey implements kernel.Plan.
func (p *Plan) ASTKey() string { return p.ast.String() }

// AppliedOpts implements kernel.Plan.
func (p *Plan) AppliedOpts() []kernel.Opt { return slices.Clone(p.applied) }

// Copy implements kernel.Plan. The Kernel is shared, the shape state is copied.
func (p *Plan) Copy() kernel.Plan {
	p2 := &Plan{
		ast:                   p.ast,
		views:                 make([]view, len(p.views)),
		localDims:             p.localDims,
		upcasted:              p.upcasted,
		groupForReduce:        slices.Clone(p.groupForReduce),
		upcastInMidReduceAxes: slices.Clone(p.upcastInMidReduceAxes),
		dontUseLocals:         p.dontUseLocals,
		applied:               slices.Clone(p.applied),
	}
	for ii, v := range p.views {
		p2.views[ii] = v.clone()
	}
	return p2
}

// SetDontUseLocals implements kernel.Plan.
func (p *Plan) SetDontUseLocals(dontUseLocals bool) { p.dontUseLocals = dontUseLocals }

// ShapeLen implements kernel.Plan.
func (p *Plan) ShapeLen() int { return len(p.views[0].shape) }

// FullShape implements kernel.Plan.
func (p *Plan) FullShape() []int {
	full := slices.Clone(p.views[0].shape)
	for _, v := range p.views[1:] {
		for axis, dim := range v.shape {
			full[axis] = max(full[axis], dim)
		}
	}
	return full
}

// outputShape is the shape of the output view.
func (p *Plan) outputShape() []int { return p.views[0].shape }

// firstReduce is the first non-upcasted axis where the output is reduced.
func (p *Plan) firstReduce() int {
	full := p.FullShape()
	out := p.outputShape()
	limit := p.ShapeLen() - p.upcasted
	for axis := range limit {
		if out[axis] != full[axis] {
			return axis
		}
	}
	return limit
}

func (p *Plan) globalDims() int { return p.firstReduce() - p.localDims }

// Colors implements kernel.Plan.
func (p *Plan) Colors() []kernel.AxisColor {
	shapeLen := p.ShapeLen()
	firstReduce := p.firstReduce()
	colors := make([]kernel.AxisColor, 0, shapeLen)
	for range p.globalDims() {
		colors = append(colors, kernel.ColorGlobal)
	}
	for range p.localDims {
		colors = append(colors, kernel.ColorLocal)
	}
	for axis := firstReduce; axis < firstReduce+len(p.groupForReduce); axis++ {
		if slices.Contains(p.upcastInMidReduceAxes, axis) {
			colors = append(colors, kernel.ColorUpcastMidReduce)
		} else {
			colors = append(colors, kernel.ColorGroupReduce)
		}
	}
	for range (shapeLen - p.upcasted) - (firstReduce + len(p.groupForReduce)) {
		colors = append(colors, kernel.ColorReduce)
	}
	full := p.FullShape()
	out := p.outputShape()
	for axis := shapeLen - p.upcasted; axis < shapeLen; axis++ {
		if full[axis] != out[axis] {
			colors = append(colors, kernel.ColorUnrollReduce)
		} else {
			colors = append(colors, kernel.ColorUpcast)
		}
	}
	return colors
}

// MemBuffers implements kernel.Plan. Buffer 0 is the output.
func (p *Plan) MemBuffers() []kernel.BufferDescriptor {
	operands := p.ast.operands()
	descs := make([]kernel.BufferDescriptor, len(operands))
	for ii, op := range operands {
		descs[ii] = kernel.BufferDescriptor{
			Index:      ii,
			DType:      op.DType,
			ImageShape: slices.Clone(op.Image),
			Footprint:  p.views[ii].footprint(),
		}
	}
	return descs
}

// footprint is the number of elements spanned by the view.
func (v view) footprint() int {
	size := 1
	for axis, dim := range v.shape {
		stride := v.strides[axis]
		if stride < 0 {
			stride = -stride
		}
		size += (dim - 1) * stride
	}
	return size
}

// Vars implements kernel.Plan.
func (p *Plan) Vars() []kernel.Variable { return slices.Clone(p.ast.Vars) }

// ColoredShape renders the full shape with the color of each axis, for debugging.
func (p *Plan) ColoredShape() string {
	full := p.FullShape()
	parts := make([]string, len(full))
	for axis, color := range p.Colors() {
		parts[axis] = fmt.Sprintf("%d:%s", full[axis], color)
	}
	return strings.Join(parts, " ")
}

// String implements fmt.Stringer.
func (p *Plan) String() string {
	return fmt.Sprintf("Plan(%s, shape=[%s], opts=%s)", p.ast.Name, p.ColoredShape(), kernel.OptsString(p.applied))
}
