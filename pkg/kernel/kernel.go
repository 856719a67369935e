// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package kernel defines the contract between the autotuner and the systems it drives: the kernel
// representation (a Plan, lowered into Instructions), and the Device that compiles, allocates and
// launches plans.
//
// The autotuner in package github.com/gomlx/autotune/pkg/search only explores and measures: everything
// here is implemented by external collaborators. Reference implementations live in
// github.com/gomlx/autotune/pkg/kernel/loopnest (a Plan) and github.com/gomlx/autotune/pkg/devices/cpu (a Device).
//
// Errors are classified with the sentinel errors of this package (see ErrIllegalMove and friends) using errors.Is.
package kernel

import (
	"fmt"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
)

// Opt is a single parameterized optimization move applied to a Plan: e.g. "upcast axis 0 by 4".
//
// It is a comparable value, equality is by field values.
type Opt struct {
	Op     OptOp `json:"op"`
	Axis   int   `json:"axis"`
	Amount int   `json:"amt"`
}

// String implements fmt.Stringer.
func (o Opt) String() string {
	return fmt.Sprintf("Opt(op=%s, axis=%d, amt=%d)", o.Op, o.Axis, o.Amount)
}

// OptsString renders a sequence of moves, used for cache keys and logging.
func OptsString(opts []Opt) string {
	parts := make([]string, len(opts))
	for ii, o := range opts {
		parts[ii] = o.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// AxisColor is the classification of one axis of a Plan's full shape, after the moves applied so far.
type AxisColor int

const (
	// ColorGlobal axes are mapped to the global launch dimensions ("blue").
	ColorGlobal AxisColor = iota
	// ColorLocal axes are mapped to the local (workgroup) dimensions ("cyan").
	ColorLocal
	// ColorGroupReduce axes are reduce axes grouped into local memory ("green").
	ColorGroupReduce
	// ColorUpcastMidReduce axes are upcasted in the middle of a grouped reduce ("white").
	ColorUpcastMidReduce
	// ColorReduce axes are looped over by each work item ("red").
	ColorReduce
	// ColorUpcast are non-reduce axes expanded into registers ("yellow").
	ColorUpcast
	// ColorUnrollReduce are reduce axes unrolled into registers ("magenta").
	ColorUnrollReduce
)

var axisColorNames = []string{"blue", "cyan", "green", "white", "red", "yellow", "magenta"}

// String returns the traditional color name of the classification.
func (c AxisColor) String() string {
	if c < 0 || int(c) >= len(axisColorNames) {
		return fmt.Sprintf("AxisColor(%d)", int(c))
	}
	return axisColorNames[c]
}

// IsUpcast returns whether the axis is expanded into registers (it counts towards the upcast factor).
func (c AxisColor) IsUpcast() bool {
	return c == ColorUpcast || c == ColorUnrollReduce
}

// IsLocal returns whether the axis is part of the workgroup (it counts towards the local factor).
func (c AxisColor) IsLocal() bool {
	return c == ColorLocal || c == ColorGroupReduce || c == ColorUpcastMidReduce
}

// Instruction is one element of a lowered Plan.
//
// Inputs are positions of other instructions in the same sequence, never pointers, so two
// lowerings can be compared structurally.
type Instruction struct {
	Op     InstrOp
	DType  dtypes.DType
	Inputs []int
	Arg    string
}

// String implements fmt.Stringer.
func (ins Instruction) String() string {
	return fmt.Sprintf("%s:%s%v(%s)", ins.Op, ins.DType, ins.Inputs, ins.Arg)
}

// InstrOp is the kind of lowered Instruction.
type InstrOp int

const (
	InstrDefineGlobal InstrOp = iota
	InstrDefineVar
	InstrDefineLocal
	InstrSpecial
	InstrConst
	InstrDefineAcc
	InstrLoop
	InstrEndLoop
	InstrLoad
	InstrALU
	InstrStore
	InstrBarrier
)

var instrOpNames = []string{
	"DEFINE_GLOBAL", "DEFINE_VAR", "DEFINE_LOCAL", "SPECIAL", "CONST", "DEFINE_ACC",
	"LOOP", "ENDLOOP", "LOAD", "ALU", "STORE", "BARRIER",
}

// String implements fmt.Stringer.
func (op InstrOp) String() string {
	if op < 0 || int(op) >= len(instrOpNames) {
		return fmt.Sprintf("InstrOp(%d)", int(op))
	}
	return instrOpNames[op]
}

// BufferDescriptor describes one reference to a memory buffer made by a Plan.
//
// The same logical Index may be referenced more than once (e.g. with different views), with different footprints.
type BufferDescriptor struct {
	// Index is the logical buffer index, buffers are passed to programs in index order.
	Index int

	// DType of the elements.
	DType dtypes.DType

	// ImageShape is set for image-typed buffers, whose size is the product of the shape.
	ImageShape []int

	// Footprint is the number of elements spanned by this reference.
	Footprint int
}

// IsImage returns whether the buffer is image-typed.
func (d BufferDescriptor) IsImage() bool {
	return len(d.ImageShape) > 0
}

// Variable is a free symbolic variable of a Plan, bound at launch time.
type Variable struct {
	Name     string
	Min, Max int
}

// Plan is a kernel with a sequence of applied optimization moves.
//
// Plans are mutated only through ApplyOpt, which appends to AppliedOpts. Plans are owned by whoever holds
// them: call Copy before mutating one that must survive.
type Plan interface {
	// ASTKey returns a stable textual identity of the underlying kernel description (without the moves).
	ASTKey() string

	// AppliedOpts returns the moves applied so far, in order.
	AppliedOpts() []Opt

	// Copy returns an independent Plan that can be mutated without affecting the original.
	Copy() Plan

	// ApplyOpt applies the move. It returns an error wrapping ErrIllegalMove if the move doesn't apply to the
	// current state, in which case the Plan must not be used further.
	ApplyOpt(opt Opt) error

	// ShapeLen is the current number of axes.
	ShapeLen() int

	// FullShape is the current full shape (including reduce axes).
	FullShape() []int

	// Colors returns the classification of each axis of FullShape.
	Colors() []AxisColor

	// Linearize lowers the plan to its final instruction sequence.
	Linearize() ([]Instruction, error)

	// MemBuffers returns all buffer references of the plan.
	MemBuffers() []BufferDescriptor

	// Vars returns the free variables of the plan.
	Vars() []Variable

	// SetDontUseLocals forbids local (workgroup) moves.
	SetDontUseLocals(dontUseLocals bool)
}

// Buffer is a device memory buffer.
type Buffer interface {
	DType() dtypes.DType

	// Size in number of elements.
	Size() int
}

// Program is a compiled Plan ready to be launched.
type Program interface {
	// GlobalSize is the global launch size, nil if the program has no launch geometry.
	GlobalSize() []int

	// SetGlobalSize overrides the global size, used to launch a reduced version of the problem.
	SetGlobalSize(globalSize []int)

	// LocalSize is the explicit local (workgroup) size, nil if the program doesn't define one.
	LocalSize() []int

	// LaunchDims returns the global and local sizes to be used with the given variable values.
	LaunchDims(varVals map[string]int) (global, local []int)

	// Launch executes the program and returns the elapsed time in seconds.
	// If wait is false the call may return before completion with an elapsed time of 0.
	Launch(global, local []int, bufs []Buffer, varVals []int, wait bool) (float64, error)
}

// Device compiles plans and owns an execution queue.
//
// A Device is not safe for concurrent launches: use one Device per concurrent worker.
type Device interface {
	// Name of the device.
	Name() string

	// Compile lowers the plan into an executable Program.
	Compile(plan Plan) (Program, error)

	// Allocate a buffer of the given number of elements.
	Allocate(size int, dtype dtypes.DType) (Buffer, error)

	// OptimizeLocalSize chooses a local size for a program that doesn't define one.
	OptimizeLocalSize(globalSize []int, bufs []Buffer) []int

	// Finalize releases the device resources.
	Finalize()
}
