// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package search

import (
	"maps"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/autotune/pkg/kernel"
)

const (
	// MaxUpcast is the largest product of the upcasted (register) axes of a candidate.
	MaxUpcast = 256

	// MaxLocal is the largest product of the local (workgroup) axes of a candidate.
	MaxLocal = 256
)

// Expander derives candidate plans by applying each move of a catalog.
type Expander struct {
	catalog []kernel.Opt
}

// NewExpander returns an Expander for the given catalog. If catalog is nil, Actions is used.
func NewExpander(catalog []kernel.Opt) *Expander {
	if catalog == nil {
		return &Expander{catalog: actions}
	}
	return &Expander{catalog: slices.Clone(catalog)}
}

// LinearizerActions applies every move of the default catalog to plan: see Expander.Expand.
func LinearizerActions(plan kernel.Plan, includeSelf bool) map[int]kernel.Plan {
	return NewExpander(nil).Expand(plan, includeSelf)
}

// Expand returns the legal successors of plan, indexed by the position of the move in the catalog plus one.
// Index 0 is an unmodified copy of plan, if includeSelf.
//
// Moves that don't apply to plan, and successors whose upcast or local aggregate factor exceeds MaxUpcast
// or MaxLocal, are silently dropped. plan itself is not changed.
func (e *Expander) Expand(plan kernel.Plan, includeSelf bool) map[int]kernel.Plan {
	acted := make(map[int]kernel.Plan)
	if includeSelf {
		acted[0] = plan.Copy()
	}
	shapeLen := plan.ShapeLen()
	fullShape := plan.FullShape()
	for ii, opt := range e.catalog {
		if opt.Axis >= shapeLen {
			continue
		}
		if fullShape[opt.Axis] == opt.Amount && slices.Contains(e.catalog, kernel.Opt{Op: opt.Op, Axis: opt.Axis}) {
			continue
		}
		candidate := plan.Copy()
		if err := tryApplyOpt(candidate, opt); err != nil {
			klog.V(3).Infof("dropped %s: %v", opt, err)
			continue
		}
		if err := checkResourceLimits(candidate); err != nil {
			klog.V(3).Infof("dropped %s: %v", opt, err)
			continue
		}
		acted[ii+1] = candidate
	}
	return acted
}

// tryApplyOpt applies opt, converting panics of the plan into errors.
func tryApplyOpt(plan kernel.Plan, opt kernel.Opt) error {
	var err error
	if panicErr := exceptions.TryCatch[error](func() { err = plan.ApplyOpt(opt) }); panicErr != nil {
		return errors.Wrapf(kernel.ErrIllegalMove, "%s panicked: %v", opt, panicErr)
	}
	return err
}

// checkResourceLimits returns an error wrapping kernel.ErrResourceLimit if the upcast or local
// aggregate factor of the plan exceeds MaxUpcast or MaxLocal.
func checkResourceLimits(plan kernel.Plan) error {
	var up, lcl int
	if panicErr := exceptions.TryCatch[error](func() { up, lcl = AggregateFactors(plan) }); panicErr != nil {
		return errors.Wrapf(kernel.ErrIllegalMove, "failed to classify axes: %v", panicErr)
	}
	if up > MaxUpcast || lcl > MaxLocal {
		return errors.Wrapf(kernel.ErrResourceLimit, "upcast factor %d (max %d), local factor %d (max %d)",
			up, MaxUpcast, lcl, MaxLocal)
	}
	return nil
}

// AggregateFactors returns the product of the upcasted axes and the product of the local axes of the plan.
// Axes without a color, or colors without an axis, are ignored.
func AggregateFactors(plan kernel.Plan) (upcast, local int) {
	upcast, local = 1, 1
	fullShape := plan.FullShape()
	colors := plan.Colors()
	for axis := range min(len(colors), len(fullShape)) {
		color := colors[axis]
		if color.IsUpcast() {
			upcast *= fullShape[axis]
		}
		if color.IsLocal() {
			local *= fullShape[axis]
		}
	}
	return
}

// SortedIndices returns the indices of the candidates in increasing order.
func SortedIndices(candidates map[int]kernel.Plan) []int {
	return slices.Sorted(maps.Keys(candidates))
}
