// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/gomlx/autotune/pkg/kernel/loopnest"
	"github.com/gomlx/autotune/pkg/search"
)

var (
	flagAllActions bool

	actionsCmd = &cobra.Command{
		Use:   "actions",
		Short: "List the moves applicable to the kernel",
		Long: `List the moves of the catalog that apply to the kernel (after --opts, if given), with the
resulting shape. With --all the whole catalog is listed instead.`,
		Args: cobra.NoArgs,
		RunE: runActions,
	}
)

func init() {
	actionsCmd.Flags().BoolVar(&flagAllActions, "all", false, "List the whole catalog of moves.")
	actionsCmd.Flags().StringVar(&flagOpts, "opts", "", "Comma-separated moves applied to the kernel before listing.")
}

func runActions(_ *cobra.Command, _ []string) error {
	if flagAllActions {
		fmt.Println(titleStyle.Render("Catalog"))
		t := newTable("#", "Op", "Axis", "Amount")
		for ii, opt := range search.Actions() {
			t.Row(false, strconv.Itoa(ii+1), opt.Op.String(), strconv.Itoa(opt.Axis), strconv.Itoa(opt.Amount))
		}
		fmt.Println(t.Render())
		return nil
	}

	opts, err := parseOpts(flagOpts)
	if err != nil {
		return err
	}
	k, err := current.Kernel.build()
	if err != nil {
		return err
	}
	plan := loopnest.NewPlan(k)
	plan.SetDontUseLocals(current.Search.DisableLocalTransforms)
	for _, opt := range opts {
		if err := plan.ApplyOpt(opt); err != nil {
			return err
		}
	}
	candidates := search.LinearizerActions(plan, false)
	fmt.Println(titleStyle.Render(fmt.Sprintf("%d moves apply to %s", len(candidates), plan.ColoredShape())))
	t := newTable("#", "Move", "Shape", "Upcast", "Local")
	actions := search.Actions()
	for _, idx := range search.SortedIndices(candidates) {
		candidate := candidates[idx].(*loopnest.Plan)
		upcast, local := search.AggregateFactors(candidate)
		t.Row(false, strconv.Itoa(idx), formatOpts(actions[idx-1:idx]), candidate.ColoredShape(),
			strconv.Itoa(upcast), strconv.Itoa(local))
	}
	fmt.Println(t.Render())
	return nil
}
