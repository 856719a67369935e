// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cpu

import (
	"slices"
	"sync"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/gomlx/autotune/pkg/kernel"
	"github.com/gomlx/autotune/pkg/kernel/loopnest"
)

// MaxLaunchDims is the maximum number of global or local launch dimensions: extra leading axes are merged.
const MaxLaunchDims = 3

// Program implements kernel.Program for a loopnest plan.
type Program struct {
	device     *Device
	sched      loopnest.Schedule
	footprints []int

	// globalGroups[d] are the axes merged into launch dimension d: the last axis varies fastest.
	globalGroups, localGroups [][]int
	globalSize, localSize     []int

	// threadAxes are the axes set per thread: global and local axes.
	threadAxes     []int
	redAxes        []int
	hasGroupReduce bool

	// Registers: offsets of each upcasted element into each buffer, and its output register.
	numUp, numOutUp int
	upOffsets       [][]int
	outUpIdx        []int
	outUpOffsets    []int
}

// Compile-time check.
var _ kernel.Program = (*Program)(nil)

// Compile implements kernel.Device. Only *loopnest.Plan are supported.
func (d *Device) Compile(plan kernel.Plan) (kernel.Program, error) {
	lp, ok := plan.(*loopnest.Plan)
	if !ok {
		return nil, errors.Wrapf(kernel.ErrCompileOrExecute, "cpu device can only compile *loopnest.Plan, got %T", plan)
	}
	if _, err := lp.Linearize(); err != nil {
		return nil, err
	}
	sched := lp.Schedule()
	for _, dtype := range sched.DTypes {
		switch dtype {
		case dtypes.Float32, dtypes.Float64, dtypes.Float16:
		default:
			return nil, errors.Wrapf(kernel.ErrUnsupportedDType, "cpu device can't compile kernels with %s buffers", dtype)
		}
	}
	p := &Program{device: d, sched: sched}
	for _, desc := range lp.MemBuffers() {
		p.footprints = append(p.footprints, desc.Footprint)
	}
	isGlobal := func(c kernel.AxisColor) bool { return c == kernel.ColorGlobal }
	p.globalGroups, p.globalSize = mergeLaunchDims(sched.AxesWith(isGlobal), sched.Shape)
	p.localGroups, p.localSize = mergeLaunchDims(sched.AxesWith(kernel.AxisColor.IsLocal), sched.Shape)
	for _, group := range slices.Concat(p.globalGroups, p.localGroups) {
		p.threadAxes = append(p.threadAxes, group...)
	}
	p.redAxes = sched.AxesWith(func(c kernel.AxisColor) bool { return c == kernel.ColorReduce })
	p.hasGroupReduce = len(sched.AxesWith(func(c kernel.AxisColor) bool { return c == kernel.ColorGroupReduce })) > 0
	p.buildRegisters()
	return p, nil
}

// mergeLaunchDims groups axes into at most MaxLaunchDims launch dimensions.
func mergeLaunchDims(axes []int, shape []int) (groups [][]int, sizes []int) {
	if len(axes) == 0 {
		return nil, nil
	}
	if len(axes) > MaxLaunchDims {
		merged := len(axes) - MaxLaunchDims + 1
		groups = append(groups, slices.Clone(axes[:merged]))
		axes = axes[merged:]
	}
	for _, axis := range axes {
		groups = append(groups, []int{axis})
	}
	for _, group := range groups {
		size := 1
		for _, axis := range group {
			size *= shape[axis]
		}
		sizes = append(sizes, size)
	}
	return
}

// buildRegisters precomputes the offsets of every upcasted element.
func (p *Program) buildRegisters() {
	s := p.sched
	upAxes := s.AxesWith(kernel.AxisColor.IsUpcast)
	var outUpAxes []int
	for _, axis := range upAxes {
		if !s.Reduced[axis] {
			outUpAxes = append(outUpAxes, axis)
		}
	}
	p.numUp, p.numOutUp = 1, 1
	for _, axis := range upAxes {
		p.numUp *= s.Shape[axis]
	}
	for _, axis := range outUpAxes {
		p.numOutUp *= s.Shape[axis]
	}
	p.upOffsets = make([][]int, len(s.Strides))
	for bIdx := range s.Strides {
		p.upOffsets[bIdx] = make([]int, 0, p.numUp)
	}
	p.outUpIdx = make([]int, 0, p.numUp)
	p.outUpOffsets = make([]int, p.numOutUp)
	coord := make([]int, len(s.Shape))
	var visit func(ii int)
	visit = func(ii int) {
		if ii == len(upAxes) {
			for bIdx, strides := range s.Strides {
				p.upOffsets[bIdx] = append(p.upOffsets[bIdx], offsetOf(coord, strides, upAxes))
			}
			outIdx := 0
			for _, axis := range outUpAxes {
				outIdx = outIdx*s.Shape[axis] + coord[axis]
			}
			p.outUpIdx = append(p.outUpIdx, outIdx)
			p.outUpOffsets[outIdx] = offsetOf(coord, s.Strides[0], outUpAxes)
			return
		}
		axis := upAxes[ii]
		for value := range s.Shape[axis] {
			coord[axis] = value
			visit(ii + 1)
		}
		coord[axis] = 0
	}
	visit(0)
}

func offsetOf(coord, strides, axes []int) int {
	offset := 0
	for _, axis := range axes {
		offset += coord[axis] * strides[axis]
	}
	return offset
}

// GlobalSize implements kernel.Program.
func (p *Program) GlobalSize() []int { return slices.Clone(p.globalSize) }

// SetGlobalSize implements kernel.Program.
func (p *Program) SetGlobalSize(globalSize []int) { p.globalSize = slices.Clone(globalSize) }

// LocalSize implements kernel.Program.
func (p *Program) LocalSize() []int { return slices.Clone(p.localSize) }

// LaunchDims implements kernel.Program. Variables don't change the launch geometry of loopnest kernels.
func (p *Program) LaunchDims(_ map[string]int) (global, local []int) {
	return slices.Clone(p.globalSize), slices.Clone(p.localSize)
}

// Launch implements kernel.Program.
//
// global is given in number of blocks, and local in number of threads per block. If the program has
// no local axes, local (if given) splits the global axes into blocks of threads.
func (p *Program) Launch(global, local []int, bufs []kernel.Buffer, varVals []int, wait bool) (float64, error) {
	elems, err := p.checkArgs(global, local, bufs, varVals)
	if err != nil {
		return 0, err
	}
	bias := 0.0
	for _, v := range varVals {
		bias += float64(v)
	}
	run := func() error { return p.run(global, local, elems, bias) }
	if !wait {
		go func() { _ = run() }()
		return 0, nil
	}
	start := time.Now()
	if err := run(); err != nil {
		return 0, err
	}
	return time.Since(start).Seconds(), nil
}

func (p *Program) checkArgs(global, local []int, bufs []kernel.Buffer, varVals []int) ([]elements, error) {
	if len(bufs) != len(p.sched.Strides) {
		return nil, errors.Wrapf(kernel.ErrCompileOrExecute, "program takes %d buffers, %d given", len(p.sched.Strides), len(bufs))
	}
	if len(varVals) != p.sched.NumVars {
		return nil, errors.Wrapf(kernel.ErrCompileOrExecute, "program takes %d variables, %d given", p.sched.NumVars, len(varVals))
	}
	if len(global) != len(p.globalGroups) {
		return nil, errors.Wrapf(kernel.ErrCompileOrExecute, "program has %d global dimensions, launched with %v", len(p.globalGroups), global)
	}
	if p.localGroups != nil && len(local) != len(p.localGroups) {
		return nil, errors.Wrapf(kernel.ErrCompileOrExecute, "program has %d local dimensions, launched with %v", len(p.localGroups), local)
	}
	if p.localGroups == nil && local != nil && len(local) != len(global) {
		return nil, errors.Wrapf(kernel.ErrCompileOrExecute, "local size %v doesn't match global size %v", local, global)
	}
	elems := make([]elements, len(bufs))
	for ii, buf := range bufs {
		cpuBuf, ok := buf.(*Buffer)
		if !ok || cpuBuf == nil {
			return nil, errors.Wrapf(kernel.ErrCompileOrExecute, "buffer #%d is not a cpu buffer (%T)", ii, buf)
		}
		if cpuBuf.dtype != p.sched.DTypes[ii] {
			return nil, errors.Wrapf(kernel.ErrCompileOrExecute, "buffer #%d has dtype %s, expected %s", ii, cpuBuf.dtype, p.sched.DTypes[ii])
		}
		if cpuBuf.size < p.footprints[ii] {
			return nil, errors.Wrapf(kernel.ErrCompileOrExecute, "buffer #%d has %d elements, at least %d needed", ii, cpuBuf.size, p.footprints[ii])
		}
		elems[ii] = cpuBuf.elements()
	}
	return elems, nil
}

// run executes all blocks, distributed over the device's workers.
func (p *Program) run(global, local []int, elems []elements, bias float64) error {
	numBlocks := 1
	for _, g := range global {
		numBlocks *= g
	}
	if numBlocks <= 0 {
		return nil
	}
	numWorkers := min(p.device.maxWorkers, numBlocks)
	blocksPerWorker := (numBlocks + numWorkers - 1) / numWorkers
	var (
		wg       sync.WaitGroup
		muErr    sync.Mutex
		firstErr error
	)
	for workerIdx := range numWorkers {
		startBlock := workerIdx * blocksPerWorker
		endBlock := min(startBlock+blocksPerWorker, numBlocks)
		if startBlock >= endBlock {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := exceptions.TryCatch[error](func() {
				st := p.newState(len(elems))
				for blockIdx := startBlock; blockIdx < endBlock; blockIdx++ {
					p.executeBlock(st, blockIdx, global, local, elems, bias)
				}
			})
			if err != nil {
				muErr.Lock()
				if firstErr == nil {
					firstErr = errors.Wrapf(kernel.ErrCompileOrExecute, "cpu kernel execution failed: %v", err)
				}
				muErr.Unlock()
			}
		}()
	}
	wg.Wait()
	return firstErr
}
