// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package cpu implements a kernel.Device that executes loopnest plans on the host CPU.
//
// Programs are launched on a grid of blocks, each block executed by one goroutine running its
// threads sequentially -- the usual way of emulating a GPU launch on a CPU while keeping cache reuse.
// It is not fast, but the relative cost of different plans is real, which is what the autotuner needs.
package cpu

import (
	"runtime"
	"strconv"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/gomlx/autotune/pkg/kernel"
)

// DeviceName to be used in AUTOTUNE_DEVICE to specify this device.
const DeviceName = "cpu"

// MaxLocalSize is the largest number of threads per block chosen by OptimizeLocalSize.
const MaxLocalSize = 256

func init() {
	kernel.Register(DeviceName, New)
}

// New constructs a new CPU Device.
//
// The config may be empty, or "workers=<n>" to limit the number of goroutines used per launch.
func New(config string) (kernel.Device, error) {
	d := &Device{maxWorkers: runtime.NumCPU()}
	if config == "" {
		return d, nil
	}
	for _, part := range strings.Split(config, ",") {
		key, value, found := strings.Cut(part, "=")
		if !found || key != "workers" {
			return nil, errors.Errorf("cpu: unknown configuration %q, only \"workers=<n>\" is supported", part)
		}
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return nil, errors.Errorf("cpu: invalid number of workers %q", value)
		}
		d.maxWorkers = n
	}
	return d, nil
}

// Device implements kernel.Device.
type Device struct {
	maxWorkers int
}

// Compile-time check.
var _ kernel.Device = (*Device)(nil)

// Name implements kernel.Device.
func (d *Device) Name() string { return DeviceName }

// MaxWorkers is the number of goroutines used to execute the blocks of a launch.
func (d *Device) MaxWorkers() int { return d.maxWorkers }

// Finalize implements kernel.Device.
func (d *Device) Finalize() {}

// Allocate implements kernel.Device. Contents are zero.
func (d *Device) Allocate(size int, dtype dtypes.DType) (kernel.Buffer, error) {
	if size <= 0 {
		return nil, errors.Errorf("cpu.Allocate: invalid size %d", size)
	}
	b := &Buffer{dtype: dtype, size: size}
	switch dtype {
	case dtypes.Float32:
		b.flat = make([]float32, size)
	case dtypes.Float64:
		b.flat = make([]float64, size)
	case dtypes.Float16:
		b.flat = make(float16Slice, size)
	default:
		return nil, errors.Wrapf(kernel.ErrUnsupportedDType, "cpu.Allocate(%d, %s)", size, dtype)
	}
	return b, nil
}

// OptimizeLocalSize implements kernel.Device.
//
// It picks, starting from the last dimension, the largest power of 2 up to 16 that divides each dimension,
// keeping the total number of threads at most MaxLocalSize.
func (d *Device) OptimizeLocalSize(globalSize []int, _ []kernel.Buffer) []int {
	local := make([]int, len(globalSize))
	total := 1
	for ii := len(globalSize) - 1; ii >= 0; ii-- {
		local[ii] = 1
		for _, candidate := range []int{16, 8, 4, 2} {
			if globalSize[ii]%candidate == 0 && total*candidate <= MaxLocalSize {
				local[ii] = candidate
				break
			}
		}
		total *= local[ii]
	}
	return local
}
