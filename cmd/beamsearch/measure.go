// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/gomlx/autotune/pkg/search"
)

var (
	flagOpts string

	measureCmd = &cobra.Command{
		Use:   "measure",
		Short: "Measure the kernel with the given moves applied",
		Args:  cobra.NoArgs,
		RunE:  runMeasure,
	}
)

func init() {
	measureCmd.Flags().StringVar(&flagOpts, "opts", "",
		`Comma-separated moves to apply, formatted as "<OP>:<axis>:<amount>", e.g. "UPCAST:0:4,LOCAL:1:8".`)
}

func runMeasure(_ *cobra.Command, _ []string) error {
	opts, err := parseOpts(flagOpts)
	if err != nil {
		return err
	}
	device, err := newDevice()
	if err != nil {
		return err
	}
	defer device.Finalize()
	plan, bufs, err := newPlan(device, opts...)
	if err != nil {
		return err
	}
	engine, err := newEngine(device, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			klog.Warningf("failed to close the autotune cache: %v", err)
		}
	}()
	duration, err := engine.Measure(plan, bufs)
	if err != nil {
		return err
	}

	upcast, local := search.AggregateFactors(plan)
	fmt.Println(titleStyle.Render("Measurement"))
	t := newTable()
	t.Row(false, "kernel", current.Kernel.String())
	t.Row(false, "device", device.Name())
	t.Row(false, "moves", formatOpts(plan.AppliedOpts()))
	t.Row(false, "shape", plan.ColoredShape())
	t.Row(false, "upcast factor", strconv.Itoa(upcast))
	t.Row(false, "local factor", strconv.Itoa(local))
	t.Row(true, "duration", formatDuration(duration))
	fmt.Println(t.Render())
	return nil
}
