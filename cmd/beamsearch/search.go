// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/gomlx/autotune/pkg/kernel/loopnest"
	"github.com/gomlx/autotune/pkg/search"
)

var (
	flagPlot string

	searchCmd = &cobra.Command{
		Use:   "search",
		Short: "Beam search the fastest variant of the kernel",
		Args:  cobra.NoArgs,
		RunE:  runSearch,
	}
)

func init() {
	searchCmd.Flags().StringVar(&flagPlot, "plot", "",
		"Save the plot of the best duration per iteration to this file (.png, .svg or .pdf).")
}

func runSearch(cmd *cobra.Command, _ []string) error {
	device, err := newDevice()
	if err != nil {
		return err
	}
	defer device.Finalize()
	plan, bufs, err := newPlan(device)
	if err != nil {
		return err
	}

	progress := newProgress("searching " + current.Kernel.String())
	engine, err := newEngine(device, progress)
	if err != nil {
		progress.finish()
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			klog.Warningf("failed to close the autotune cache: %v", err)
		}
	}()
	best, report, err := engine.BeamSearch(cmd.Context(), plan, bufs, current.Width)
	progress.finish()
	if err != nil && !errors.Is(err, search.ErrNoUsableConfig) {
		return err
	}
	printReport(best.(*loopnest.Plan), report)
	if err != nil {
		return err
	}
	if flagPlot != "" && !report.Replayed {
		if err := plotConvergence(report, current.Kernel.String(), flagPlot); err != nil {
			return err
		}
		fmt.Printf("Convergence plot saved to %q\n", flagPlot)
	}
	return nil
}

func printReport(best *loopnest.Plan, report *search.Report) {
	fmt.Println(titleStyle.Render("Search"))
	summary := newTable()
	summary.Row(false, "kernel", current.Kernel.String())
	summary.Row(false, "run id", report.RunID.String())
	summary.Row(false, "beam width", strconv.Itoa(current.Width))
	summary.Row(false, "replayed", strconv.FormatBool(report.Replayed))
	if !report.Replayed {
		summary.Row(false, "initial", formatDuration(report.Initial))
		summary.Row(true, "best", formatDuration(report.Best))
		if report.Best > 0 {
			summary.Row(false, "speedup", fmt.Sprintf("%.2fx", report.Initial/report.Best))
		}
	}
	summary.Row(false, "moves", formatOpts(report.Opts))
	summary.Row(false, "shape", best.ColoredShape())
	summary.Row(false, "elapsed", report.Elapsed.String())
	fmt.Println(summary.Render())

	if len(report.Iterations) == 0 {
		return
	}
	fmt.Println(titleStyle.Render("Iterations"))
	iterations := newTable("#", "Expanded", "Timed", "Best candidate", "Best", "Elapsed")
	for _, stats := range report.Iterations {
		iterations.Row(stats.Improved,
			strconv.Itoa(stats.Iteration),
			humanize.Comma(int64(stats.Expanded)),
			humanize.Comma(int64(stats.Unique)),
			formatDuration(stats.BestCandidate),
			formatDuration(stats.Best),
			stats.Elapsed.String())
	}
	fmt.Println(iterations.Render())
}
