package main

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"

	"github.com/gomlx/autotune/pkg/kernel"
	"github.com/gomlx/autotune/pkg/kernel/loopnest"
)

func TestParseOpts(t *testing.T) {
	opts := must.M1(parseOpts("UPCAST:0:4, local:1:8,GROUPTOP:0:16,"))
	assert.Equal(t, []kernel.Opt{
		{Op: kernel.OptUpcast, Axis: 0, Amount: 4},
		{Op: kernel.OptLocal, Axis: 1, Amount: 8},
		{Op: kernel.OptGroupTop, Axis: 0, Amount: 16},
	}, opts)
	assert.Equal(t, "UPCAST:0:4,LOCAL:1:8,GROUPTOP:0:16", formatOpts(opts))
	assert.Equal(t, opts, must.M1(parseOpts(formatOpts(opts))))

	assert.Empty(t, must.M1(parseOpts("")))
	for _, text := range []string{"UPCAST:0", "SHUFFLE:0:4", "UPCAST:x:4", "UPCAST:0:four"} {
		_, err := parseOpts(text)
		assert.Error(t, err, text)
	}
}

func TestKernelSpec(t *testing.T) {
	k := must.M1(kernelSpec{Kind: "matmul", Shape: []int{8, 16, 32}, DType: "Float16"}.build())
	assert.Equal(t, []int{8, 16, 32}, k.Shape)
	assert.Equal(t, dtypes.Float16, k.Output.DType)

	k = must.M1(kernelSpec{Kind: "reduce_max", Shape: []int{4, 64}, Axes: []int{1}, DType: "float32"}.build())
	assert.Equal(t, loopnest.ReduceMax, k.Reduce)
	assert.Equal(t, []int{1, 0}, k.Output.Strides)

	k = must.M1(kernelSpec{Kind: "elementwise", Shape: []int{32}, Inputs: 3, DType: "float64"}.build())
	assert.Len(t, k.Inputs, 3)

	for name, spec := range map[string]kernelSpec{
		"matmul rank":    {Kind: "matmul", Shape: []int{8, 8}, DType: "float32"},
		"no axes":        {Kind: "reduce_sum", Shape: []int{8, 8}, DType: "float32"},
		"bad axis":       {Kind: "reduce_sum", Shape: []int{8, 8}, Axes: []int{2}, DType: "float32"},
		"no inputs":      {Kind: "elementwise", Shape: []int{8}, DType: "float32"},
		"zero dimension": {Kind: "elementwise", Shape: []int{8, 0}, Inputs: 1, DType: "float32"},
		"unknown kind":   {Kind: "conv", Shape: []int{8}, DType: "float32"},
		"unknown dtype":  {Kind: "matmul", Shape: []int{8, 8, 8}, DType: "int8"},
	} {
		_, err := spec.build()
		assert.Error(t, err, name)
	}

	assert.Equal(t, "matmul 8x16x32 float32", kernelSpec{Kind: "matmul", Shape: []int{8, 16, 32}, DType: "float32"}.String())
	assert.Equal(t, "reduce_sum 4x64 float32 axes=[1]",
		kernelSpec{Kind: "reduce_sum", Shape: []int{4, 64}, Axes: []int{1}, DType: "float32"}.String())
}
