package search

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/autotune/pkg/kernel"
)

func applied(t *testing.T, plan kernel.Plan, opts ...kernel.Opt) kernel.Plan {
	t.Helper()
	plan = plan.Copy()
	for _, opt := range opts {
		require.NoError(t, plan.ApplyOpt(opt))
	}
	return plan
}

func TestFingerprintOf(t *testing.T) {
	base := newFakePlan(8, 8)
	up0 := kernel.Opt{Op: kernel.OptUpcast, Axis: 0, Amount: 2}
	up1 := kernel.Opt{Op: kernel.OptUpcast, Axis: 1, Amount: 2}
	a := applied(t, base, up0, up1)
	b := applied(t, base, up1, up0)
	fpA, err := FingerprintOf(a)
	require.NoError(t, err)
	fpB, err := FingerprintOf(b)
	require.NoError(t, err)
	assert.Equal(t, fpA, fpB)

	fpBase, err := FingerprintOf(base)
	require.NoError(t, err)
	assert.NotEqual(t, fpBase, fpA)

	failing := newFakePlan(8)
	failing.lowerErr = errors.New("can't lower")
	_, err = FingerprintOf(failing)
	require.Error(t, err)
}

func TestDedup(t *testing.T) {
	base := newFakePlan(8, 8)
	up0 := kernel.Opt{Op: kernel.OptUpcast, Axis: 0, Amount: 2}
	up1 := kernel.Opt{Op: kernel.OptUpcast, Axis: 1, Amount: 2}
	lcl := kernel.Opt{Op: kernel.OptLocal, Axis: 0, Amount: 4}
	first := applied(t, base, up0, up1)
	second := applied(t, base, up1, up0)
	third := applied(t, base, lcl)
	broken := applied(t, base, up0).(*fakePlan)
	broken.lowerErr = errors.New("can't lower")

	for _, parallelism := range []int{1, 4, -1} {
		seen := make(Seen)
		added, err := seen.Add(base)
		require.NoError(t, err)
		require.True(t, added)

		unique := Dedup([]kernel.Plan{first, broken, second, base.Copy(), third}, seen, parallelism)
		require.Len(t, unique, 2, "parallelism=%d", parallelism)
		assert.Same(t, first, unique[0], "the first of equivalent candidates is kept")
		assert.Same(t, third, unique[1])
		assert.Len(t, seen, 3)

		fp, err := FingerprintOf(second)
		require.NoError(t, err)
		assert.Equal(t, []kernel.Opt{up0, up1}, seen[fp], "seen records the moves of the first candidate")

		// Everything is already seen now.
		assert.Empty(t, Dedup([]kernel.Plan{second, third}, seen, parallelism))
	}
}
