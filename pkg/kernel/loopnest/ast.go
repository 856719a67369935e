// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package loopnest implements kernel.Plan for a family of loop-nest kernels: a (possibly broadcast)
// combination of input buffers over a full shape, optionally reduced over some of its axes.
// Matrix multiplications, axis reductions and elementwise kernels are all expressed this way.
//
// The shape tracking follows the classic "linearizer" design: every move splits one axis and moves the
// split part to a region of the shape (global, local, grouped reduce, reduce or upcast), and the region
// boundaries are tracked with a few counters.
package loopnest

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gomlx/autotune/pkg/kernel"
)

// ReduceOp is the reduction applied over the reduce axes of a Kernel.
type ReduceOp int

const (
	ReduceNone ReduceOp = iota
	ReduceSum
	ReduceMax
)

// String implements fmt.Stringer.
func (op ReduceOp) String() string {
	switch op {
	case ReduceNone:
		return "NONE"
	case ReduceSum:
		return "SUM"
	case ReduceMax:
		return "MAX"
	}
	return fmt.Sprintf("ReduceOp(%d)", int(op))
}

// BinaryOp combines the inputs of a Kernel into one value.
type BinaryOp int

const (
	CombineMul BinaryOp = iota
	CombineAdd
)

// String implements fmt.Stringer.
func (op BinaryOp) String() string {
	if op == CombineAdd {
		return "ADD"
	}
	return "MUL"
}

// Operand is a view of a buffer over the full shape of a Kernel: one stride per axis, where 0 means
// the buffer is broadcast over that axis.
type Operand struct {
	DType   dtypes.DType
	Strides []int

	// Image is the optional image shape of the buffer, for image-typed buffers.
	Image []int
}

// Kernel is the immutable description of the computation ("AST"): it is shared by all plans derived from it.
//
//	output[i...] = Reduce_{reduce axes}( Combine(inputs[0][...], inputs[1][...], ...) ) + sum(vars)
//
// The reduce axes are the axes where the Output stride is 0 and the dimension is larger than 1.
type Kernel struct {
	Name    string
	Shape   []int
	Reduce  ReduceOp
	Combine BinaryOp
	Output  Operand
	Inputs  []Operand

	// Vars are scalar arguments bound at launch time, and added to every output element.
	Vars []kernel.Variable
}

// ContiguousStrides returns the row-major strides for shape.
func ContiguousStrides(shape []int) []int {
	strides := make([]int, len(shape))
	stride := 1
	for axis := len(shape) - 1; axis >= 0; axis-- {
		strides[axis] = stride
		stride *= shape[axis]
	}
	return strides
}

// MatMul returns the kernel for out[m, n] = sum_k lhs[m, k] * rhs[k, n]. The full shape is [m, n, k].
func MatMul(m, n, k int, dtype dtypes.DType) *Kernel {
	return &Kernel{
		Name:    "matmul",
		Shape:   []int{m, n, k},
		Reduce:  ReduceSum,
		Combine: CombineMul,
		Output:  Operand{DType: dtype, Strides: []int{n, 1, 0}},
		Inputs: []Operand{
			{DType: dtype, Strides: []int{k, 0, 1}},
			{DType: dtype, Strides: []int{0, 1, n}},
		},
	}
}

// Reduce returns the kernel reducing a contiguous input of the given shape over the given axes.
func Reduce(op ReduceOp, shape []int, dtype dtypes.DType, axes ...int) *Kernel {
	outShape := slices.Clone(shape)
	for _, axis := range axes {
		if axis < 0 || axis >= len(shape) {
			exceptions.Panicf("loopnest.Reduce(shape=%v): invalid reduce axis %d", shape, axis)
		}
		outShape[axis] = 1
	}
	outStrides := ContiguousStrides(outShape)
	for _, axis := range axes {
		outStrides[axis] = 0
	}
	return &Kernel{
		Name:    "reduce_" + strings.ToLower(op.String()),
		Shape:   slices.Clone(shape),
		Reduce:  op,
		Combine: CombineAdd,
		Output:  Operand{DType: dtype, Strides: outStrides},
		Inputs:  []Operand{{DType: dtype, Strides: ContiguousStrides(shape)}},
	}
}

// Elementwise returns the kernel adding numInputs contiguous inputs of the given shape.
func Elementwise(shape []int, dtype dtypes.DType, numInputs int) *Kernel {
	k := &Kernel{
		Name:    "elementwise",
		Shape:   slices.Clone(shape),
		Reduce:  ReduceNone,
		Combine: CombineAdd,
		Output:  Operand{DType: dtype, Strides: ContiguousStrides(shape)},
	}
	for range numInputs {
		k.Inputs = append(k.Inputs, Operand{DType: dtype, Strides: ContiguousStrides(shape)})
	}
	return k
}

// WithVars returns a copy of the kernel with the given scalar variables.
func (k *Kernel) WithVars(vars ...kernel.Variable) *Kernel {
	k2 := *k
	k2.Vars = append(slices.Clone(k.Vars), vars...)
	return &k2
}

// WithImageOutput returns a copy of the kernel whose output is an image-typed buffer of the given shape.
func (k *Kernel) WithImageOutput(image ...int) *Kernel {
	k2 := *k
	k2.Output.Image = slices.Clone(image)
	return &k2
}

// IsReduceAxis returns whether the axis of the full shape is reduced.
func (k *Kernel) IsReduceAxis(axis int) bool {
	return k.Reduce != ReduceNone && k.Output.Strides[axis] == 0 && k.Shape[axis] > 1
}

// operands returns output followed by inputs.
func (k *Kernel) operands() []Operand {
	ops := make([]Operand, 0, 1+len(k.Inputs))
	ops = append(ops, k.Output)
	return append(ops, k.Inputs...)
}

func (k *Kernel) validate() {
	if len(k.Shape) == 0 {
		exceptions.Panicf("loopnest: kernel %q has an empty shape", k.Name)
	}
	for axis, dim := range k.Shape {
		if dim <= 0 {
			exceptions.Panicf("loopnest: kernel %q has axis %d with dimension %d <= 0", k.Name, axis, dim)
		}
	}
	for ii, op := range k.operands() {
		if len(op.Strides) != len(k.Shape) {
			exceptions.Panicf("loopnest: kernel %q operand #%d has %d strides, expected %d",
				k.Name, ii, len(op.Strides), len(k.Shape))
		}
	}
	for _, v := range k.Vars {
		if v.Min > v.Max {
			exceptions.Panicf("loopnest: kernel %q variable %q has min %d > max %d", k.Name, v.Name, v.Min, v.Max)
		}
	}
}

// String returns a stable rendering of the kernel, used as its identity in caches.
func (k *Kernel) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "Kernel(name=%s, shape=%v, reduce=%s, combine=%s, out=%s", k.Name, k.Shape, k.Reduce, k.Combine, k.Output)
	sb.WriteString(", in=[")
	for ii, op := range k.Inputs {
		if ii > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(op.String())
	}
	sb.WriteString("]")
	if len(k.Vars) > 0 {
		sb.WriteString(", vars=[")
		for ii, v := range k.Vars {
			if ii > 0 {
				sb.WriteString(", ")
			}
			_, _ = fmt.Fprintf(&sb, "%s[%d-%d]", v.Name, v.Min, v.Max)
		}
		sb.WriteString("]")
	}
	sb.WriteString(")")
	return sb.String()
}

// String implements fmt.Stringer.
func (op Operand) String() string {
	if len(op.Image) > 0 {
		return fmt.Sprintf("%s{strides=%v, image=%v}", op.DType, op.Strides, op.Image)
	}
	return fmt.Sprintf("%s{strides=%v}", op.DType, op.Strides)
}
