// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cpu

import (
	"math"

	"github.com/gomlx/autotune/pkg/kernel/loopnest"
)

// execState is the scratch space of one worker goroutine.
type execState struct {
	coord  []int
	base   []int
	redIdx []int
	redOff []int
	regs   []float64

	// partials accumulates grouped reductions of a block, by output offset.
	partials map[int]float64
}

func (p *Program) newState(numBufs int) *execState {
	st := &execState{
		coord:  make([]int, len(p.sched.Shape)),
		base:   make([]int, numBufs),
		redIdx: make([]int, len(p.redAxes)),
		redOff: make([]int, numBufs),
		regs:   make([]float64, p.numOutUp),
	}
	if p.hasGroupReduce {
		st.partials = make(map[int]float64)
	}
	return st
}

func (p *Program) identity() float64 {
	if p.sched.Reduce == loopnest.ReduceMax {
		return math.Inf(-1)
	}
	return 0
}

func (p *Program) reduce(acc, value float64) float64 {
	if p.sched.Reduce == loopnest.ReduceMax {
		return max(acc, value)
	}
	return acc + value
}

// decode writes value, as a mixed-radix number over the axes of group, into coord.
func decode(value int, group []int, shape, coord []int) {
	for ii := len(group) - 1; ii >= 0; ii-- {
		axis := group[ii]
		coord[axis] = value % shape[axis]
		value /= shape[axis]
	}
}

// executeBlock runs all the threads of one block.
func (p *Program) executeBlock(st *execState, blockIdx int, global, local []int, elems []elements, bias float64) {
	shape := p.sched.Shape
	blockCoords := unflatten(blockIdx, global)
	threads := 1
	for _, l := range local {
		threads *= l
	}
	explicitLocal := p.localGroups != nil
	if st.partials != nil {
		clear(st.partials)
	}

threadsLoop:
	for threadIdx := range threads {
		threadCoords := unflatten(threadIdx, local)
		for d, group := range p.globalGroups {
			value := blockCoords[d]
			if !explicitLocal && local != nil {
				value = blockCoords[d]*local[d] + threadCoords[d]
			}
			if value >= p.globalSize[d] && !explicitLocal {
				continue threadsLoop
			}
			decode(value, group, shape, st.coord)
		}
		if explicitLocal {
			for d, group := range p.localGroups {
				decode(threadCoords[d], group, shape, st.coord)
			}
		}
		p.executeThread(st, elems, bias)
	}

	if st.partials != nil {
		out := elems[0]
		for offset, acc := range st.partials {
			out.set(offset, acc+bias)
		}
	}
}

// executeThread runs the reduce loops and the upcasted elements of one thread, whose thread
// axes are already set in st.coord.
func (p *Program) executeThread(st *execState, elems []elements, bias float64) {
	s := p.sched
	for bIdx, strides := range s.Strides {
		st.base[bIdx] = offsetOf(st.coord, strides, p.threadAxes)
		st.redOff[bIdx] = 0
	}
	clear(st.redIdx)
	identity := p.identity()
	for ii := range st.regs {
		st.regs[ii] = identity
	}
	numInputs := len(elems) - 1
	reducing := s.Reduce != loopnest.ReduceNone

	for {
		for u := range p.numUp {
			value := 0.0
			for in := 1; in <= numInputs; in++ {
				x := elems[in].at(st.base[in] + st.redOff[in] + p.upOffsets[in][u])
				switch {
				case in == 1:
					value = x
				case s.Combine == loopnest.CombineMul:
					value *= x
				default:
					value += x
				}
			}
			r := p.outUpIdx[u]
			if reducing {
				st.regs[r] = p.reduce(st.regs[r], value)
			} else {
				st.regs[r] = value
			}
		}

		// Odometer over the reduce axes.
		k := len(p.redAxes) - 1
		for ; k >= 0; k-- {
			axis := p.redAxes[k]
			st.redIdx[k]++
			for bIdx, strides := range s.Strides {
				st.redOff[bIdx] += strides[axis]
			}
			if st.redIdx[k] < s.Shape[axis] {
				break
			}
			for bIdx, strides := range s.Strides {
				st.redOff[bIdx] -= strides[axis] * s.Shape[axis]
			}
			st.redIdx[k] = 0
		}
		if k < 0 {
			break
		}
	}

	out := elems[0]
	for r, acc := range st.regs {
		offset := st.base[0] + p.outUpOffsets[r]
		if st.partials != nil {
			if prev, found := st.partials[offset]; found {
				acc = p.reduce(prev, acc)
			}
			st.partials[offset] = acc
			continue
		}
		out.set(offset, acc+bias)
	}
}

// unflatten converts a linear index into coordinates over dims, the last one varying fastest.
func unflatten(idx int, dims []int) []int {
	coords := make([]int, len(dims))
	for ii := len(dims) - 1; ii >= 0; ii-- {
		coords[ii] = idx % dims[ii]
		idx /= dims[ii]
	}
	return coords
}
