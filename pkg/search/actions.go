// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package search

import (
	"slices"

	"github.com/gomlx/autotune/pkg/kernel"
)

// actions is the fixed catalog of moves explored by the search, generated once.
var actions = generateActions()

func generateActions() []kernel.Opt {
	var opts []kernel.Opt
	cross := func(op kernel.OptOp, numAxes int, amounts ...int) {
		for axis := range numAxes {
			for _, amount := range amounts {
				opts = append(opts, kernel.Opt{Op: op, Axis: axis, Amount: amount})
			}
		}
	}
	cross(kernel.OptUpcast, 6, 0, 2, 3, 4, 7)
	cross(kernel.OptUnroll, 4, 0, 4)
	cross(kernel.OptLocal, 5, 2, 3, 4, 8, 13, 16, 29)
	cross(kernel.OptGroupTop, 3, 13, 16, 29, 32, 256)
	opts = append(opts,
		kernel.Opt{Op: kernel.OptLocal, Axis: 0, Amount: 32},
		kernel.Opt{Op: kernel.OptGroup, Axis: 0, Amount: 4},
		kernel.Opt{Op: kernel.OptGroup, Axis: 0, Amount: 8},
		kernel.Opt{Op: kernel.OptGroup, Axis: 1, Amount: 8},
		kernel.Opt{Op: kernel.OptUpcastMid, Axis: 1, Amount: 4},
	)
	return opts
}

// Actions returns a copy of the catalog of moves explored by the search, in catalog order.
//
// The position of a move in the catalog, plus one, is its candidate index in LinearizerActions.
func Actions() []kernel.Opt {
	return slices.Clone(actions)
}

// HasAction returns whether opt is part of the catalog.
func HasAction(opt kernel.Opt) bool {
	return slices.Contains(actions, opt)
}
