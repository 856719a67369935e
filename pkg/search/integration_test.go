package search

import (
	"context"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/autotune/pkg/devices/cpu"
	"github.com/gomlx/autotune/pkg/kernel"
	"github.com/gomlx/autotune/pkg/kernel/loopnest"
)

func newCPU(t *testing.T) kernel.Device {
	t.Helper()
	device, err := cpu.New("workers=2")
	require.NoError(t, err)
	return device
}

func TestLoopNest_LinearizerActions(t *testing.T) {
	plan := loopnest.NewPlan(loopnest.MatMul(16, 16, 16, dtypes.Float32))
	acted := LinearizerActions(plan, false)
	require.NotEmpty(t, acted)
	for _, idx := range SortedIndices(acted) {
		up, lcl := AggregateFactors(acted[idx])
		assert.LessOrEqual(t, up, MaxUpcast)
		assert.LessOrEqual(t, lcl, MaxLocal)
		assert.Equal(t, []kernel.Opt{Actions()[idx-1]}, acted[idx].AppliedOpts())
	}
}

func TestLoopNest_DedupEquivalentMoves(t *testing.T) {
	plan := loopnest.NewPlan(loopnest.MatMul(4, 8, 8, dtypes.Float32))
	full := plan.Copy()
	require.NoError(t, full.ApplyOpt(kernel.Opt{Op: kernel.OptUpcast, Axis: 0, Amount: 0}))
	explicit := plan.Copy()
	require.NoError(t, explicit.ApplyOpt(kernel.Opt{Op: kernel.OptUpcast, Axis: 0, Amount: 4}))
	other := plan.Copy()
	require.NoError(t, other.ApplyOpt(kernel.Opt{Op: kernel.OptUpcast, Axis: 0, Amount: 2}))

	unique := Dedup([]kernel.Plan{full, explicit, other}, make(Seen), 2)
	require.Len(t, unique, 2)
	assert.Same(t, full, unique[0])
	assert.Same(t, other, unique[1])
}

func TestLoopNest_BeamSearch(t *testing.T) {
	device := newCPU(t)
	plan := loopnest.NewPlan(loopnest.MatMul(32, 32, 32, dtypes.Float32))
	bufs, err := BuffersFromPlan(device, plan)
	require.NoError(t, err)
	require.Len(t, bufs, 3)

	cfg := DefaultConfig()
	cfg.CacheLevel = CacheNone
	cfg.RepeatCount = 1
	cfg.Parallelism = 2
	engine, err := Build(device).WithConfig(cfg).Done()
	require.NoError(t, err)
	defer func() { require.NoError(t, engine.Close()) }()

	best, report, err := engine.BeamSearch(context.Background(), plan, bufs, 2)
	require.NoError(t, err)
	require.IsType(t, &loopnest.Plan{}, best)
	assert.LessOrEqual(t, report.Best, report.Initial)
	assert.NotEmpty(t, report.Iterations)
	for _, opt := range best.AppliedOpts() {
		assert.True(t, HasAction(opt), "%s not in the catalog", opt)
	}
}

func TestLoopNest_ExpandSeveralLevels(t *testing.T) {
	const (
		depth        = 3
		maxFrontier  = 12
		frontierStep = 7
	)
	kernels := map[string]*loopnest.Kernel{
		"matmul":      loopnest.MatMul(16, 16, 16, dtypes.Float32),
		"reduce_sum":  loopnest.Reduce(loopnest.ReduceSum, []int{64, 256}, dtypes.Float32, 1),
		"reduce_max":  loopnest.Reduce(loopnest.ReduceMax, []int{32, 8, 48}, dtypes.Float32, 0, 2),
		"image":       loopnest.MatMul(16, 16, 64, dtypes.Float32).WithImageOutput(16, 16),
		"elementwise": loopnest.Elementwise([]int{32, 48}, dtypes.Float16, 2),
	}
	for name, k := range kernels {
		t.Run(name, func(t *testing.T) {
			frontier := []kernel.Plan{loopnest.NewPlan(k)}
			var numCandidates int
			for level := range depth {
				var next []kernel.Plan
				for _, plan := range frontier {
					var acted map[int]kernel.Plan
					require.NotPanics(t, func() { acted = LinearizerActions(plan, false) },
						"expanding %s at level %d", plan, level)
					for _, idx := range SortedIndices(acted) {
						candidate := acted[idx]
						numCandidates++
						require.Len(t, candidate.Colors(), candidate.ShapeLen(), "colors of %s", candidate)
						require.Len(t, candidate.FullShape(), candidate.ShapeLen(), "shape of %s", candidate)
						up, lcl := AggregateFactors(candidate)
						assert.LessOrEqual(t, up, MaxUpcast, "upcast factor of %s", candidate)
						assert.LessOrEqual(t, lcl, MaxLocal, "local factor of %s", candidate)
						require.NotPanics(t, func() { _, _ = candidate.Linearize() }, "lowering %s", candidate)
						assert.Len(t, candidate.AppliedOpts(), level+1)
						next = append(next, candidate)
					}
				}
				// Keep a spread sample of the candidates, so the next level stays small.
				frontier = frontier[:0]
				for ii := 0; ii < len(next) && len(frontier) < maxFrontier; ii += frontierStep {
					frontier = append(frontier, next[ii])
				}
				if len(frontier) == 0 {
					break
				}
			}
			assert.Greater(t, numCandidates, 0)
		})
	}
}

func TestLoopNest_BeamSearchWide(t *testing.T) {
	if testing.Short() {
		t.Skip("wide beam search skipped in short mode")
	}
	device := newCPU(t)
	cfg := DefaultConfig()
	cfg.CacheLevel = CacheNone
	cfg.RepeatCount = 1
	cfg.Parallelism = 2
	engine, err := Build(device).WithConfig(cfg).Done()
	require.NoError(t, err)
	defer func() { require.NoError(t, engine.Close()) }()

	for _, k := range []*loopnest.Kernel{
		loopnest.MatMul(16, 16, 16, dtypes.Float32),
		loopnest.Reduce(loopnest.ReduceSum, []int{64, 256}, dtypes.Float32, 1),
	} {
		plan := loopnest.NewPlan(k)
		bufs, err := BuffersFromPlan(device, plan)
		require.NoError(t, err)
		var (
			best   kernel.Plan
			report *Report
		)
		require.NotPanics(t, func() {
			best, report, err = engine.BeamSearch(context.Background(), plan, bufs, 32)
		}, "searching %s", k.Name)
		require.NoError(t, err)
		assert.LessOrEqual(t, report.Best, report.Initial)
		assert.Len(t, best.Colors(), best.ShapeLen())
	}
}
