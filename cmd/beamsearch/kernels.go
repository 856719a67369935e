// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/gomlx/autotune/pkg/kernel"
	"github.com/gomlx/autotune/pkg/kernel/loopnest"
)

// kernelSpec describes the kernel to tune.
type kernelSpec struct {
	Kind   string `yaml:"kind"`
	Shape  []int  `yaml:"shape"`
	Axes   []int  `yaml:"axes"`
	Inputs int    `yaml:"inputs"`
	DType  string `yaml:"dtype"`
}

var kernelKinds = []string{"matmul", "reduce_sum", "reduce_max", "elementwise"}

func kernelKindsList() string { return strings.Join(kernelKinds, ", ") }

var dtypeNames = map[string]dtypes.DType{
	"float32": dtypes.Float32,
	"float64": dtypes.Float64,
	"float16": dtypes.Float16,
}

// build returns the kernel described.
func (s kernelSpec) build() (k *loopnest.Kernel, err error) {
	dtype, found := dtypeNames[strings.ToLower(s.DType)]
	if !found {
		return nil, errors.Errorf("unknown dtype %q, valid values are float32, float64 or float16", s.DType)
	}
	// Invalid shapes and axes panic in the loopnest constructors.
	err = exceptions.TryCatch[error](func() {
		switch s.Kind {
		case "matmul":
			if len(s.Shape) != 3 {
				exceptions.Panicf("matmul requires a shape [m,n,k], got %v", s.Shape)
			}
			k = loopnest.MatMul(s.Shape[0], s.Shape[1], s.Shape[2], dtype)
		case "reduce_sum", "reduce_max":
			if len(s.Axes) == 0 {
				exceptions.Panicf("%s requires at least one reduced axis (--axes)", s.Kind)
			}
			op := loopnest.ReduceSum
			if s.Kind == "reduce_max" {
				op = loopnest.ReduceMax
			}
			k = loopnest.Reduce(op, s.Shape, dtype, s.Axes...)
		case "elementwise":
			if s.Inputs <= 0 {
				exceptions.Panicf("elementwise requires at least one input, got %d", s.Inputs)
			}
			k = loopnest.Elementwise(s.Shape, dtype, s.Inputs)
		default:
			exceptions.Panicf("unknown kernel kind %q, valid values are %s", s.Kind, kernelKindsList())
		}
		// Validates the shape.
		_ = loopnest.NewPlan(k)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "invalid kernel %s%v", s.Kind, s.Shape)
	}
	return k, nil
}

// String implements fmt.Stringer.
func (s kernelSpec) String() string {
	dims := make([]string, len(s.Shape))
	for ii, dim := range s.Shape {
		dims[ii] = strconv.Itoa(dim)
	}
	desc := s.Kind + " " + strings.Join(dims, "x") + " " + s.DType
	if len(s.Axes) > 0 && s.Kind != "matmul" && s.Kind != "elementwise" {
		desc += fmt.Sprintf(" axes=%v", s.Axes)
	}
	return desc
}

// parseOpts parses a comma-separated list of moves formatted as "<OP>:<axis>:<amount>", e.g. "UPCAST:0:4".
func parseOpts(text string) ([]kernel.Opt, error) {
	var opts []kernel.Opt
	for part := range strings.SplitSeq(text, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) != 3 {
			return nil, errors.Errorf("invalid move %q, expected <OP>:<axis>:<amount>", part)
		}
		op, err := kernel.OptOpString(fields[0])
		if err != nil {
			return nil, errors.WithMessagef(err, "invalid move %q", part)
		}
		axis, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, errors.Wrapf(err, "invalid axis in move %q", part)
		}
		amount, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, errors.Wrapf(err, "invalid amount in move %q", part)
		}
		opts = append(opts, kernel.Opt{Op: op, Axis: axis, Amount: amount})
	}
	return opts, nil
}

// formatOpts renders moves in the format accepted by parseOpts.
func formatOpts(opts []kernel.Opt) string {
	parts := make([]string, len(opts))
	for ii, opt := range opts {
		parts[ii] = opt.Op.String() + ":" + strconv.Itoa(opt.Axis) + ":" + strconv.Itoa(opt.Amount)
	}
	return strings.Join(parts, ",")
}
