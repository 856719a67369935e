// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package loopnest

import (
	"slices"

	"github.com/gomlx/autotune/pkg/kernel"
)

const (
	// MaxUpcastAmount is the largest split allowed for an OptUpcast.
	MaxUpcastAmount = 8

	// MaxUnrollAmount is the largest split allowed for an OptUnroll.
	MaxUnrollAmount = 32

	// UpcastMidAmount is the only split allowed for an OptUpcastMid.
	UpcastMidAmount = 4
)

// ApplyOpt implements kernel.Plan.
//
// The move is validated before the plan is changed: on error the plan is left untouched.
func (p *Plan) ApplyOpt(opt kernel.Opt) error {
	if p.dontUseLocals && opt.Op.UsesLocals() {
		return kernel.IllegalMovef("%s: not using locals", opt)
	}
	firstReduce := p.firstReduce()
	shapeLen := p.ShapeLen()
	axis := opt.Axis
	switch opt.Op {
	case kernel.OptUnroll:
		axis += firstReduce
	case kernel.OptGroup, kernel.OptGroupTop:
		axis += firstReduce + len(p.groupForReduce)
	}
	if opt.Axis < 0 || axis >= shapeLen {
		return kernel.IllegalMovef("%s: axis %d out of range for %d axes", opt, axis, shapeLen)
	}
	full := p.FullShape()
	amount := opt.Amount
	if amount == 0 {
		amount = full[axis]
	}
	if amount < 0 || full[axis]%amount != 0 {
		return kernel.IllegalMovef("%s: no longer valid shift of axis with dimension %d", opt, full[axis])
	}
	if amount == 1 {
		return kernel.IllegalMovef("%s: shift of amount 1 is meaningless", opt)
	}

	switch opt.Op {
	case kernel.OptLocal:
		if axis >= firstReduce {
			return kernel.IllegalMovef("%s: can't local a reduce axis", opt)
		}
		p.shiftTo(axis, amount, false, firstReduce)
		p.localDims++

	case kernel.OptGroup, kernel.OptGroupTop:
		if axis >= shapeLen-p.upcasted {
			return kernel.IllegalMovef("%s: must be a reduce axis to group", opt)
		}
		p.shiftTo(axis, amount, opt.Op == kernel.OptGroupTop, firstReduce+len(p.groupForReduce))
		p.groupForReduce = append(p.groupForReduce, amount)

	case kernel.OptUnroll:
		if axis >= shapeLen-p.upcasted {
			return kernel.IllegalMovef("%s: can't unroll an already upcasted axis", opt)
		}
		if axis < firstReduce+len(p.groupForReduce) {
			return kernel.IllegalMovef("%s: can't unroll a grouped reduce axis", opt)
		}
		if amount > MaxUnrollAmount {
			return kernel.IllegalMovef("%s: don't unroll more than %d", opt, MaxUnrollAmount)
		}
		p.shiftTo(axis, amount, false, -1)
		p.upcasted++

	case kernel.OptUpcast:
		if axis >= firstReduce {
			return kernel.IllegalMovef("%s: upcast is for non-reduce axes", opt)
		}
		if amount > MaxUpcastAmount {
			return kernel.IllegalMovef("%s: don't upcast more than %d", opt, MaxUpcastAmount)
		}
		p.shiftTo(axis, amount, false, -1)
		p.upcasted++

	case kernel.OptUpcastMid:
		if err := p.checkUpcastMid(opt, axis, amount, firstReduce); err != nil {
			return err
		}
		insertAt := firstReduce + len(p.groupForReduce)
		p.shiftTo(axis, amount, false, insertAt)
		p.groupForReduce = append(p.groupForReduce, amount)
		p.upcastInMidReduceAxes = append(p.upcastInMidReduceAxes, insertAt)

	default:
		return kernel.IllegalMovef("%s: unknown move", opt)
	}
	p.applied = append(p.applied, opt)
	p.simplifyOnes()
	return nil
}

func (p *Plan) checkUpcastMid(opt kernel.Opt, axis, amount, firstReduce int) error {
	if len(p.ast.Output.Image) == 0 || len(p.groupForReduce) == 0 || firstReduce > 2 || prod(p.outputShape()) <= 1 {
		return kernel.IllegalMovef("%s: invalid upcast mid reduce", opt)
	}
	if axis >= firstReduce {
		return kernel.IllegalMovef("%s: upcast mid is for non-reduce axes", opt)
	}
	var unitStrideAxes []int
	for ii, stride := range p.views[0].strides {
		if stride == 1 {
			unitStrideAxes = append(unitStrideAxes, ii)
		}
	}
	if len(unitStrideAxes) != 1 {
		return kernel.IllegalMovef("%s: wrong number of stride 1 axes: %v", opt, unitStrideAxes)
	}
	if unitStrideAxes[0] != axis {
		return kernel.IllegalMovef("%s: wrong axis, unit stride axis is %d", opt, unitStrideAxes[0])
	}
	if amount != UpcastMidAmount {
		return kernel.IllegalMovef("%s: don't upcast mid anything but %d", opt, UpcastMidAmount)
	}
	return nil
}

// shiftTo splits axis into (dim/amount, amount) -- or (amount, dim/amount) if top -- and moves the amount
// part to the position insertBefore (in the original numbering), or to the end if insertBefore < 0.
func (p *Plan) shiftTo(axis, amount int, top bool, insertBefore int) {
	shapeLen := p.ShapeLen()
	if insertBefore < 0 {
		insertBefore = shapeLen
	}
	moveAxis := axis + 1
	if top {
		moveAxis = axis
	}
	if moveAxis < insertBefore {
		insertBefore++
	}
	perm := make([]int, 0, shapeLen+1)
	for ii := range insertBefore {
		if ii != moveAxis {
			perm = append(perm, ii)
		}
	}
	perm = append(perm, moveAxis)
	for ii := insertBefore; ii < shapeLen+1; ii++ {
		if ii != moveAxis {
			perm = append(perm, ii)
		}
	}

	for vIdx, v := range p.views {
		dim, stride := v.shape[axis], v.strides[axis]
		var dims, strides [2]int
		switch {
		case dim <= 1:
			dims, strides = [2]int{1, 1}, [2]int{0, 0}
		case top:
			dims, strides = [2]int{amount, dim / amount}, [2]int{stride * (dim / amount), stride}
		default:
			dims, strides = [2]int{dim / amount, amount}, [2]int{stride * amount, stride}
		}
		splitShape := slices.Concat(v.shape[:axis], dims[:], v.shape[axis+1:])
		splitStrides := slices.Concat(v.strides[:axis], strides[:], v.strides[axis+1:])
		newView := view{shape: make([]int, len(perm)), strides: make([]int, len(perm))}
		for ii, from := range perm {
			newView.shape[ii] = splitShape[from]
			newView.strides[ii] = splitStrides[from]
		}
		p.views[vIdx] = newView
	}
}

// simplifyOnes removes the axes of dimension 1.
func (p *Plan) simplifyOnes() {
	shapeLen := p.ShapeLen()
	if shapeLen == 0 {
		return
	}
	full := p.FullShape()
	firstReduce := p.firstReduce()
	isOne := func(axis int) bool { return full[axis] == 1 }
	for axis := firstReduce - p.localDims; axis < firstReduce; axis++ {
		if isOne(axis) {
			p.localDims--
		}
	}
	for axis := shapeLen - p.upcasted; axis < shapeLen; axis++ {
		if isOne(axis) {
			p.upcasted--
		}
	}
	for ii, midAxis := range p.upcastInMidReduceAxes {
		shift := 0
		for axis := range midAxis {
			if isOne(axis) {
				shift++
			}
		}
		p.upcastInMidReduceAxes[ii] = midAxis - shift
	}
	for vIdx, v := range p.views {
		newView := view{}
		for axis := range shapeLen {
			if !isOne(axis) {
				newView.shape = append(newView.shape, v.shape[axis])
				newView.strides = append(newView.strides, v.strides[axis])
			}
		}
		p.views[vIdx] = newView
	}
}

func prod(values []int) int {
	result := 1
	for _, v := range values {
		result *= v
	}
	return result
}
