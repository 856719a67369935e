// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package search

import (
	"maps"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/autotune/pkg/kernel"
)

// BuffersFromPlan allocates scratch buffers on device to time the plan: one per logical buffer index,
// sized to the largest footprint of all its references (or to the image size for image buffers).
//
// Contents are not initialized meaningfully. It returns an error wrapping kernel.ErrUnresolvedBuffer
// if a buffer index in the range of the plan's distinct indices is not referenced.
func BuffersFromPlan(device kernel.Device, plan kernel.Plan) ([]kernel.Buffer, error) {
	byIndex := make(map[int][]kernel.BufferDescriptor)
	for _, desc := range plan.MemBuffers() {
		byIndex[desc.Index] = append(byIndex[desc.Index], desc)
	}
	bufs := make([]kernel.Buffer, len(byIndex))
	var totalBytes uint64
	for _, idx := range slices.Sorted(maps.Keys(byIndex)) {
		if idx < 0 || idx >= len(bufs) {
			return nil, errors.Wrapf(kernel.ErrUnresolvedBuffer, "buffer index %d out of range for %d distinct buffers", idx, len(bufs))
		}
		descs := byIndex[idx]
		dtype := descs[0].DType
		var size int
		if descs[0].IsImage() {
			size = 1
			for _, dim := range descs[0].ImageShape {
				size *= dim
			}
		} else {
			for _, desc := range descs {
				size = max(size, desc.Footprint)
			}
		}
		buf, err := device.Allocate(size, dtype)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to allocate scratch buffer #%d (%d x %s)", idx, size, dtype)
		}
		bufs[idx] = buf
		totalBytes += uint64(size * dtype.Size())
	}
	for idx, buf := range bufs {
		if buf == nil {
			return nil, errors.Wrapf(kernel.ErrUnresolvedBuffer, "no scratch buffer for buffer index %d", idx)
		}
	}
	klog.V(2).Infof("allocated %d scratch buffers on %s: %s", len(bufs), device.Name(), humanize.Bytes(totalBytes))
	return bufs, nil
}
