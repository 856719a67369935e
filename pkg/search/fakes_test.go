package search

import (
	"fmt"
	"slices"
	"strconv"
	"sync"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/gomlx/autotune/pkg/kernel"
)

// fakePlan is a kernel.Plan with a simple shape model: UPCAST and LOCAL split the axis
// and append the split part as a new yellow (upcast) or cyan (local) axis. Other moves are illegal.
//
// Its lowering only depends on the resulting shape, so moves on different axes commute.
type fakePlan struct {
	ast           string
	shape         []int
	colors        []kernel.AxisColor
	opts          []kernel.Opt
	vars          []kernel.Variable
	bufs          []kernel.BufferDescriptor
	dontUseLocals bool
	lowerErr      error
}

var _ kernel.Plan = (*fakePlan)(nil)

func newFakePlan(shape ...int) *fakePlan {
	p := &fakePlan{
		ast:   fmt.Sprintf("fake%v", shape),
		shape: slices.Clone(shape),
		bufs:  []kernel.BufferDescriptor{
			{Index: 0, DType: dtypes.Float32, Footprint: 16},
			{Index: 1, DType: dtypes.Float32, Footprint: 16},
		},
	}
	for range shape {
		p.colors = append(p.colors, kernel.ColorGlobal)
	}
	return p
}

func (p *fakePlan) ASTKey() string { return p.ast }
func (p *fakePlan) AppliedOpts() []kernel.Opt { return slices.Clone(p.opts) }
func (p *fakePlan) ShapeLen() int { return len(p.shape) }
func (p *fakePlan) FullShape() []int { return slices.Clone(p.shape) }
func (p *fakePlan) Colors() []kernel.AxisColor { return slices.Clone(p.colors) }
func (p *fakePlan) MemBuffers() []kernel.BufferDescriptor { return slices.Clone(p.bufs) }
func (p *fakePlan) Vars() []kernel.Variable { return slices.Clone(p.vars) }
func (p *fakePlan) SetDontUseLocals(dontUseLocals bool) { p.dontUseLocals = dontUseLocals }

func (p *fakePlan) Copy() kernel.Plan {
	p2 := *p
	p2.shape = slices.Clone(p.shape)
	p2.colors = slices.Clone(p.colors)
	p2.opts = slices.Clone(p.opts)
	return &p2
}

func (p *fakePlan) ApplyOpt(opt kernel.Opt) error {
	if opt.Axis < 0 || opt.Axis >= len(p.shape) {
		return kernel.IllegalMovef("%s: axis out of range", opt)
	}
	var color kernel.AxisColor
	switch opt.Op {
	case kernel.OptUpcast:
		color = kernel.ColorUpcast
	case kernel.OptLocal:
		if p.dontUseLocals {
			return kernel.IllegalMovef("%s: not using locals", opt)
		}
		color = kernel.ColorLocal
	default:
		return kernel.IllegalMovef("%s: unsupported", opt)
	}
	dim := p.shape[opt.Axis]
	amount := opt.Amount
	if amount == 0 {
		amount = dim
	}
	if amount <= 1 || dim%amount != 0 {
		return kernel.IllegalMovef("%s: can't split dimension %d", opt, dim)
	}
	p.shape[opt.Axis] = dim / amount
	p.shape = append(p.shape, amount)
	p.colors = append(p.colors, color)
	p.opts = append(p.opts, opt)
	return nil
}

// Linearize emits one instruction per axis. The split axes are sorted, so that the same
// splits applied in a different order lower the same.
func (p *fakePlan) Linearize() ([]kernel.Instruction, error) {
	if p.lowerErr != nil {
		return nil, p.lowerErr
	}
	numOrig := len(p.shape) - len(p.opts)
	args := make([]string, len(p.shape))
	for ii := range p.shape {
		args[ii] = p.colors[ii].String() + ":" + strconv.Itoa(p.shape[ii])
	}
	slices.Sort(args[numOrig:])
	instrs := []kernel.Instruction{{Op: kernel.InstrDefineGlobal, DType: dtypes.Float32, Arg: "data0"}}
	for _, arg := range args {
		instrs = append(instrs, kernel.Instruction{Op: kernel.InstrSpecial, DType: dtypes.Int32, Inputs: []int{0}, Arg: arg})
	}
	return instrs, nil
}

// launchCall records the arguments of one fakeProgram.Launch.
type launchCall struct {
	opts          string
	global, local []int
	varVals       []int
}

// fakeDevice compiles fakePlans. The time of each launch is given by timeFn, and defaults to 1.
type fakeDevice struct {
	name string

	// timeFn returns the duration of the run-th launch (counting from 0) of the plan.
	timeFn func(p *fakePlan, run int) (float64, error)

	// globalFn returns the global size of the program of a plan: the default is nil (no launch geometry).
	globalFn func(p *fakePlan) []int

	// localSize is the program explicit local size.
	localSize []int

	// optimizedLocal is returned by OptimizeLocalSize.
	optimizedLocal []int

	compileErr error
	allocErr   error

	mu        sync.Mutex
	launches  []launchCall
	allocs    []int
	finalized bool
}

var _ kernel.Device = (*fakeDevice)(nil)

func newFakeDevice() *fakeDevice {
	return &fakeDevice{name: "fake"}
}

func (d *fakeDevice) Name() string { return d.name }

func (d *fakeDevice) Compile(plan kernel.Plan) (kernel.Program, error) {
	if d.compileErr != nil {
		return nil, d.compileErr
	}
	fp, ok := plan.(*fakePlan)
	if !ok {
		return nil, errors.Errorf("fake device can't compile %T", plan)
	}
	prog := &fakeProgram{device: d, plan: fp, local: slices.Clone(d.localSize)}
	if d.globalFn != nil {
		prog.global = d.globalFn(fp)
	}
	return prog, nil
}

func (d *fakeDevice) Allocate(size int, dtype dtypes.DType) (kernel.Buffer, error) {
	if d.allocErr != nil {
		return nil, d.allocErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.allocs = append(d.allocs, size)
	return &fakeBuffer{dtype: dtype, size: size}, nil
}

func (d *fakeDevice) OptimizeLocalSize(global []int, _ []kernel.Buffer) []int {
	if d.optimizedLocal != nil {
		return slices.Clone(d.optimizedLocal)
	}
	local := make([]int, len(global))
	for ii := range local {
		local[ii] = 1
	}
	return local
}

func (d *fakeDevice) Finalize() { d.finalized = true }

func (d *fakeDevice) numLaunches() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.launches)
}

type fakeProgram struct {
	device        *fakeDevice
	plan          *fakePlan
	global, local []int
	runs          int
}

func (p *fakeProgram) GlobalSize() []int { return slices.Clone(p.global) }
func (p *fakeProgram) SetGlobalSize(global []int) { p.global = slices.Clone(global) }
func (p *fakeProgram) LocalSize() []int { return slices.Clone(p.local) }

func (p *fakeProgram) LaunchDims(map[string]int) (global, local []int) {
	return slices.Clone(p.global), slices.Clone(p.local)
}

func (p *fakeProgram) Launch(global, local []int, _ []kernel.Buffer, varVals []int, _ bool) (float64, error) {
	d := p.device
	d.mu.Lock()
	d.launches = append(d.launches, launchCall{
		opts:    kernel.OptsString(p.plan.opts),
		global:  slices.Clone(global),
		local:   slices.Clone(local),
		varVals: slices.Clone(varVals),
	})
	d.mu.Unlock()
	run := p.runs
	p.runs++
	if d.timeFn == nil {
		return 1, nil
	}
	return d.timeFn(p.plan, run)
}

type fakeBuffer struct {
	dtype dtypes.DType
	size  int
}

func (b *fakeBuffer) DType() dtypes.DType { return b.dtype }
func (b *fakeBuffer) Size() int { return b.size }

func fakeBuffers(n int) []kernel.Buffer {
	bufs := make([]kernel.Buffer, n)
	for ii := range bufs {
		bufs[ii] = &fakeBuffer{dtype: dtypes.Float32, size: 16}
	}
	return bufs
}
