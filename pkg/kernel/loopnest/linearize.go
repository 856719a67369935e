// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package loopnest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/gomlx/autotune/pkg/kernel"
)

// MaxUpcastedElements is the largest number of upcasted elements (registers) a plan can be lowered with.
const MaxUpcastedElements = 4096

// linearizer accumulates the instructions of a lowered plan.
type linearizer struct {
	instrs []kernel.Instruction
}

func (l *linearizer) push(op kernel.InstrOp, dtype dtypes.DType, inputs []int, arg string) int {
	l.instrs = append(l.instrs, kernel.Instruction{Op: op, DType: dtype, Inputs: inputs, Arg: arg})
	return len(l.instrs) - 1
}

// Linearize implements kernel.Plan.
//
// The instruction sequence is a deterministic function of the current shape state: two different sequences of
// moves that reach the same state lower to the same instructions.
func (p *Plan) Linearize() ([]kernel.Instruction, error) {
	full := p.FullShape()
	colors := p.Colors()
	var upcastAxes, outUpcastAxes []int
	for axis, color := range colors {
		if color.IsUpcast() {
			upcastAxes = append(upcastAxes, axis)
			if color == kernel.ColorUpcast {
				outUpcastAxes = append(outUpcastAxes, axis)
			}
		}
	}
	numUpcasted := 1
	for _, axis := range upcastAxes {
		numUpcasted *= full[axis]
	}
	if numUpcasted > MaxUpcastedElements {
		return nil, errors.Wrapf(kernel.ErrCompileOrExecute, "plan %s has %d upcasted elements, at most %d can be lowered",
			p, numUpcasted, MaxUpcastedElements)
	}

	l := &linearizer{}
	operands := p.ast.operands()
	bufPos := make([]int, len(operands))
	for ii, op := range operands {
		bufPos[ii] = l.push(kernel.InstrDefineGlobal, op.DType, nil, "data"+strconv.Itoa(ii))
	}
	varPos := make([]int, len(p.ast.Vars))
	for ii, v := range p.ast.Vars {
		varPos[ii] = l.push(kernel.InstrDefineVar, dtypes.Int32, nil, v.Name)
	}

	// Symbolic names of the non-upcasted axes.
	names := make([]string, len(full))
	var loopPos []int
	for axis, color := range colors {
		switch color {
		case kernel.ColorGlobal:
			names[axis] = fmt.Sprintf("gidx%d", axis)
			l.push(kernel.InstrSpecial, dtypes.Int32, nil, fmt.Sprintf("%s:%d", names[axis], full[axis]))
		case kernel.ColorLocal, kernel.ColorGroupReduce, kernel.ColorUpcastMidReduce:
			names[axis] = fmt.Sprintf("lidx%d", axis)
			l.push(kernel.InstrSpecial, dtypes.Int32, nil, fmt.Sprintf("%s:%d", names[axis], full[axis]))
		}
	}

	outDType := operands[0].DType
	valueDType := outDType
	if len(p.ast.Inputs) > 0 {
		valueDType = p.ast.Inputs[0].DType
	}
	numOutUpcasted := 1
	for _, axis := range outUpcastAxes {
		numOutUpcasted *= full[axis]
	}
	localPos := -1
	if len(p.groupForReduce) > 0 {
		localSize := numOutUpcasted
		for axis, color := range colors {
			if color.IsLocal() {
				localSize *= full[axis]
			}
		}
		localPos = l.push(kernel.InstrDefineLocal, outDType, nil, fmt.Sprintf("temp:%d", localSize))
	}

	results := make([]int, numOutUpcasted)
	reducing := p.ast.Reduce != ReduceNone
	if reducing {
		identity := "0"
		if p.ast.Reduce == ReduceMax {
			identity = "-inf"
		}
		for ii := range results {
			results[ii] = l.push(kernel.InstrDefineAcc, outDType, nil, identity)
		}
	}
	for axis, color := range colors {
		if color == kernel.ColorReduce {
			names[axis] = fmt.Sprintf("ridx%d", axis)
			loopPos = append(loopPos, l.push(kernel.InstrLoop, dtypes.Int32, nil, fmt.Sprintf("%s:%d", names[axis], full[axis])))
		}
	}

	// Body: one copy per upcasted element.
	combo := make([]int, len(full))
	forEachCombo(full, upcastAxes, combo, func() {
		var value int
		for jj := range p.ast.Inputs {
			load := l.push(kernel.InstrLoad, p.ast.Inputs[jj].DType, []int{bufPos[jj+1]}, p.indexExpr(jj+1, names, combo))
			if jj == 0 {
				value = load
			} else {
				value = l.push(kernel.InstrALU, valueDType, []int{value, load}, p.ast.Combine.String())
			}
		}
		if len(p.ast.Inputs) == 0 {
			value = l.push(kernel.InstrConst, valueDType, nil, "0")
		}
		outIdx := comboIndex(full, outUpcastAxes, combo)
		if reducing {
			results[outIdx] = l.push(kernel.InstrALU, outDType, []int{results[outIdx], value}, reduceALU(p.ast.Reduce))
		} else {
			results[outIdx] = value
		}
	})
	for ii := len(loopPos) - 1; ii >= 0; ii-- {
		l.push(kernel.InstrEndLoop, dtypes.Int32, []int{loopPos[ii]}, "")
	}

	// Grouped reduce: partial results are combined through local memory.
	if localPos >= 0 {
		for ii, res := range results {
			l.push(kernel.InstrStore, outDType, []int{localPos, res}, fmt.Sprintf("temp[%d]", ii))
		}
		barrier := l.push(kernel.InstrBarrier, dtypes.InvalidDType, nil, "")
		groupSize := prod(p.groupForReduce)
		loop := l.push(kernel.InstrLoop, dtypes.Int32, []int{barrier}, fmt.Sprintf("group:%d", groupSize))
		for ii, res := range results {
			partial := l.push(kernel.InstrLoad, outDType, []int{localPos, loop}, fmt.Sprintf("temp[%d]", ii))
			results[ii] = l.push(kernel.InstrALU, outDType, []int{res, partial}, reduceALU(p.ast.Reduce))
		}
		l.push(kernel.InstrEndLoop, dtypes.Int32, []int{loop}, "")
	}

	for ii := range results {
		for _, pos := range varPos {
			results[ii] = l.push(kernel.InstrALU, outDType, []int{results[ii], pos}, "ADD")
		}
	}

	// Stores: one per output upcasted element.
	clear(combo)
	forEachCombo(full, outUpcastAxes, combo, func() {
		outIdx := comboIndex(full, outUpcastAxes, combo)
		l.push(kernel.InstrStore, outDType, []int{bufPos[0], results[outIdx]}, p.indexExpr(0, names, combo))
	})
	return l.instrs, nil
}

func reduceALU(op ReduceOp) string {
	if op == ReduceMax {
		return "MAX"
	}
	return "ADD"
}

// indexExpr renders the index into buffer bufIdx for the given upcasted combination.
func (p *Plan) indexExpr(bufIdx int, names []string, combo []int) string {
	v := p.views[bufIdx]
	var terms []string
	offset := 0
	for axis, stride := range v.strides {
		if stride == 0 || v.shape[axis] == 1 {
			continue
		}
		if names[axis] == "" {
			offset += combo[axis] * stride
			continue
		}
		if stride == 1 {
			terms = append(terms, names[axis])
		} else {
			terms = append(terms, fmt.Sprintf("%s*%d", names[axis], stride))
		}
	}
	if offset != 0 || len(terms) == 0 {
		terms = append(terms, strconv.Itoa(offset))
	}
	return strings.Join(terms, "+")
}

// forEachCombo calls fn for every combination of values of the given axes, written into combo.
// The last axis varies fastest.
func forEachCombo(full []int, axes []int, combo []int, fn func()) {
	if len(axes) == 0 {
		fn()
		return
	}
	axis := axes[0]
	for value := range full[axis] {
		combo[axis] = value
		forEachCombo(full, axes[1:], combo, fn)
	}
	combo[axis] = 0
}

// comboIndex is the row-major position of combo restricted to the given axes.
func comboIndex(full []int, axes []int, combo []int) int {
	idx := 0
	for _, axis := range axes {
		idx = idx*full[axis] + combo[axis]
	}
	return idx
}
