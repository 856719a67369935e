package cpu

import (
	"math"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/gomlx/autotune/pkg/kernel"
	"github.com/gomlx/autotune/pkg/kernel/loopnest"
)

func newDevice(t *testing.T) *Device {
	t.Helper()
	device, err := New("workers=3")
	require.NoError(t, err)
	return device.(*Device)
}

// allocate returns zero buffers for the plan, with the inputs filled by fill(input, flatIdx).
func allocate(t *testing.T, d *Device, plan *loopnest.Plan, fill func(input, idx int) float64) []kernel.Buffer {
	t.Helper()
	var bufs []kernel.Buffer
	for ii, desc := range plan.MemBuffers() {
		buf, err := d.Allocate(desc.Footprint, desc.DType)
		require.NoError(t, err)
		if ii > 0 {
			switch flat := buf.(*Buffer).Flat().(type) {
			case []float32:
				for jj := range flat {
					flat[jj] = float32(fill(ii-1, jj))
				}
			case []float16.Float16:
				for jj := range flat {
					flat[jj] = float16.Fromfloat32(float32(fill(ii-1, jj)))
				}
			}
		}
		bufs = append(bufs, buf)
	}
	return bufs
}

// launch compiles and runs the plan, deriving a local size when the program has none.
func launch(t *testing.T, d *Device, plan *loopnest.Plan, bufs []kernel.Buffer, varVals ...int) {
	t.Helper()
	prog, err := d.Compile(plan)
	require.NoError(t, err)
	global, local := prog.LaunchDims(nil)
	if local == nil {
		local = d.OptimizeLocalSize(global, bufs)
		for ii := range global {
			global[ii] = (global[ii] + local[ii] - 1) / local[ii]
		}
	}
	elapsed, err := prog.Launch(global, local, bufs, varVals, true)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, elapsed, 0.0)
}

func smallInt(input, idx int) float64 { return float64((idx*7+input*3)%11 - 5) }

func flat32(buf kernel.Buffer) []float32 { return buf.(*Buffer).Flat().([]float32) }

func TestMatMul(t *testing.T) {
	const m, n, k = 8, 16, 32
	want := make([]float32, m*n)
	for i := range m {
		for j := range n {
			var sum float64
			for kk := range k {
				sum += smallInt(0, i*k+kk) * smallInt(1, kk*n+j)
			}
			want[i*n+j] = float32(sum)
		}
	}

	d := newDevice(t)
	for name, opts := range map[string][]kernel.Opt{
		"none":     nil,
		"upcast":   {{Op: kernel.OptUpcast, Axis: 0, Amount: 4}},
		"unroll":   {{Op: kernel.OptUpcast, Axis: 1, Amount: 4}, {Op: kernel.OptUnroll, Axis: 0, Amount: 4}},
		"local":    {{Op: kernel.OptLocal, Axis: 0, Amount: 2}, {Op: kernel.OptLocal, Axis: 1, Amount: 4}},
		"group":    {{Op: kernel.OptGroup, Axis: 0, Amount: 8}},
		"grouptop": {{Op: kernel.OptGroupTop, Axis: 0, Amount: 4}, {Op: kernel.OptUpcast, Axis: 0, Amount: 2}},
		"mixed":    {
			{Op: kernel.OptLocal, Axis: 0, Amount: 4},
			{Op: kernel.OptGroup, Axis: 0, Amount: 4},
			{Op: kernel.OptUnroll, Axis: 1, Amount: 2},
			{Op: kernel.OptUpcast, Axis: 0, Amount: 2},
		},
	} {
		plan := loopnest.NewPlan(loopnest.MatMul(m, n, k, dtypes.Float32))
		for _, opt := range opts {
			require.NoError(t, plan.ApplyOpt(opt), "%s: %s", name, opt)
		}
		bufs := allocate(t, d, plan, smallInt)
		launch(t, d, plan, bufs)
		assert.Equal(t, want, flat32(bufs[0]), name)
	}
}

func TestReduceMax(t *testing.T) {
	d := newDevice(t)
	for name, opts := range map[string][]kernel.Opt{
		"none":   nil,
		"unroll": {{Op: kernel.OptUpcast, Axis: 0, Amount: 2}, {Op: kernel.OptUnroll, Axis: 0, Amount: 5}},
		"group":  {{Op: kernel.OptGroup, Axis: 0, Amount: 2}},
	} {
		plan := loopnest.NewPlan(loopnest.Reduce(loopnest.ReduceMax, []int{6, 10}, dtypes.Float32, 1))
		for _, opt := range opts {
			require.NoError(t, plan.ApplyOpt(opt), "%s: %s", name, opt)
		}
		bufs := allocate(t, d, plan, smallInt)
		launch(t, d, plan, bufs)
		for row := range 6 {
			want := math.Inf(-1)
			for col := range 10 {
				want = max(want, smallInt(0, row*10+col))
			}
			assert.Equal(t, float32(want), flat32(bufs[0])[row], "%s: row %d", name, row)
		}
	}
}

func TestReduceLeadingAxis(t *testing.T) {
	d := newDevice(t)
	plan := loopnest.NewPlan(loopnest.Reduce(loopnest.ReduceSum, []int{6, 4}, dtypes.Float32, 0))
	bufs := allocate(t, d, plan, smallInt)
	launch(t, d, plan, bufs)
	for col := range 4 {
		var want float64
		for row := range 6 {
			want += smallInt(0, row*4+col)
		}
		assert.Equal(t, float32(want), flat32(bufs[0])[col], "col %d", col)
	}
}

func TestElementwiseWithVars(t *testing.T) {
	d := newDevice(t)
	k := loopnest.Elementwise([]int{4, 6}, dtypes.Float32, 2).WithVars(kernel.Variable{Name: "n", Min: 0, Max: 10})
	plan := loopnest.NewPlan(k)
	require.NoError(t, plan.ApplyOpt(kernel.Opt{Op: kernel.OptUpcast, Axis: 1, Amount: 3}))
	bufs := allocate(t, d, plan, smallInt)
	launch(t, d, plan, bufs, 3)
	out := flat32(bufs[0])
	for ii := range 24 {
		assert.Equal(t, float32(smallInt(0, ii)+smallInt(1, ii)+3), out[ii], "element %d", ii)
	}
}

func TestFloat16(t *testing.T) {
	d := newDevice(t)
	plan := loopnest.NewPlan(loopnest.MatMul(2, 4, 8, dtypes.Float16))
	bufs := allocate(t, d, plan, smallInt)
	launch(t, d, plan, bufs)
	out := bufs[0].(*Buffer).Flat().([]float16.Float16)
	for i := range 2 {
		for j := range 4 {
			var sum float64
			for kk := range 8 {
				sum += smallInt(0, i*8+kk) * smallInt(1, kk*4+j)
			}
			assert.Equal(t, float32(sum), out[i*4+j].Float32())
		}
	}
}

func TestLaunchWithoutLocal(t *testing.T) {
	d := newDevice(t)
	plan := loopnest.NewPlan(loopnest.Elementwise([]int{5, 7}, dtypes.Float32, 1))
	bufs := allocate(t, d, plan, smallInt)
	prog, err := d.Compile(plan)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 7}, prog.GlobalSize())
	assert.Nil(t, prog.LocalSize())
	_, err = prog.Launch(prog.GlobalSize(), nil, bufs, nil, true)
	require.NoError(t, err)
	out := flat32(bufs[0])
	for ii := range 35 {
		assert.Equal(t, float32(smallInt(0, ii)), out[ii])
	}
}

func TestSetGlobalSize(t *testing.T) {
	d := newDevice(t)
	plan := loopnest.NewPlan(loopnest.Elementwise([]int{4, 8}, dtypes.Float32, 1))
	bufs := allocate(t, d, plan, func(_, _ int) float64 { return 1 })
	prog, err := d.Compile(plan)
	require.NoError(t, err)
	prog.SetGlobalSize([]int{2, 8})
	global, local := prog.LaunchDims(nil)
	assert.Equal(t, []int{2, 8}, global)
	_, err = prog.Launch(global, local, bufs, nil, true)
	require.NoError(t, err)
	out := flat32(bufs[0])
	for ii := range 32 {
		assert.Equal(t, float32(min(1, 1-ii/16)), out[ii], "element %d", ii)
	}
}

func TestOptimizeLocalSize(t *testing.T) {
	d := newDevice(t)
	assert.Equal(t, []int{16, 16}, d.OptimizeLocalSize([]int{32, 64}, nil))
	assert.Equal(t, []int{1, 2, 16}, d.OptimizeLocalSize([]int{7, 6, 48}, nil))
	assert.Equal(t, []int{}, d.OptimizeLocalSize(nil, nil))
}

func TestErrors(t *testing.T) {
	_, err := New("threads=2")
	require.Error(t, err)
	_, err = New("workers=0")
	require.Error(t, err)

	d := newDevice(t)
	_, err = d.Allocate(4, dtypes.Int32)
	assert.True(t, errors.Is(err, kernel.ErrUnsupportedDType))
	_, err = d.Allocate(0, dtypes.Float32)
	assert.Error(t, err)

	_, err = d.Compile(loopnest.NewPlan(loopnest.Elementwise([]int{4}, dtypes.Int64, 1)))
	assert.True(t, errors.Is(err, kernel.ErrUnsupportedDType))

	plan := loopnest.NewPlan(loopnest.MatMul(4, 4, 4, dtypes.Float32))
	prog, err := d.Compile(plan)
	require.NoError(t, err)
	bufs := allocate(t, d, plan, smallInt)
	global, _ := prog.LaunchDims(nil)

	_, err = prog.Launch(global, nil, bufs[:2], nil, true)
	assert.True(t, errors.Is(err, kernel.ErrCompileOrExecute))
	_, err = prog.Launch(global, nil, bufs, []int{1}, true)
	assert.True(t, errors.Is(err, kernel.ErrCompileOrExecute))
	_, err = prog.Launch([]int{4}, nil, bufs, nil, true)
	assert.True(t, errors.Is(err, kernel.ErrCompileOrExecute))

	small, err := d.Allocate(2, dtypes.Float32)
	require.NoError(t, err)
	_, err = prog.Launch(global, nil, []kernel.Buffer{small, bufs[1], bufs[2]}, nil, true)
	assert.True(t, errors.Is(err, kernel.ErrCompileOrExecute))

	wrongType, err := d.Allocate(16, dtypes.Float64)
	require.NoError(t, err)
	_, err = prog.Launch(global, nil, []kernel.Buffer{wrongType, bufs[1], bufs[2]}, nil, true)
	assert.True(t, errors.Is(err, kernel.ErrCompileOrExecute))
}

func TestRegistered(t *testing.T) {
	assert.Contains(t, kernel.RegisteredDevices(), DeviceName)
	device, err := kernel.NewDeviceWithConfig("cpu:workers=1")
	require.NoError(t, err)
	assert.Equal(t, 1, device.(*Device).MaxWorkers())
	device.Finalize()
}
