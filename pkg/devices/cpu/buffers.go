// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cpu

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/x448/float16"

	"github.com/gomlx/autotune/pkg/kernel"
)

// Buffer implements kernel.Buffer with a flat Go slice of the dtype.
type Buffer struct {
	dtype dtypes.DType
	size  int

	// flat is []float32, []float64 or float16Slice.
	flat any
}

// Compile-time check.
var _ kernel.Buffer = (*Buffer)(nil)

// DType implements kernel.Buffer.
func (b *Buffer) DType() dtypes.DType { return b.dtype }

// Size implements kernel.Buffer.
func (b *Buffer) Size() int { return b.size }

// Flat returns the underlying slice: []float32, []float64 or []float16.Float16.
func (b *Buffer) Flat() any {
	if f16, ok := b.flat.(float16Slice); ok {
		return []float16.Float16(f16)
	}
	return b.flat
}

// elements gives float64 access to the flat values of any supported dtype.
type elements interface {
	at(i int) float64
	set(i int, v float64)
}

type floatSlice[T float32 | float64] []T

func (s floatSlice[T]) at(i int) float64     { return float64(s[i]) }
func (s floatSlice[T]) set(i int, v float64) { s[i] = T(v) }

type float16Slice []float16.Float16

func (s float16Slice) at(i int) float64     { return float64(s[i].Float32()) }
func (s float16Slice) set(i int, v float64) { s[i] = float16.Fromfloat32(float32(v)) }

func (b *Buffer) elements() elements {
	switch flat := b.flat.(type) {
	case []float32:
		return floatSlice[float32](flat)
	case []float64:
		return floatSlice[float64](flat)
	case float16Slice:
		return flat
	}
	return nil
}
