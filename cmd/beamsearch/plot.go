// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/gomlx/autotune/pkg/search"
)

// convergencePoints returns the best duration in microseconds after each iteration, starting with
// the initial plan (iteration 0). Failed measurements are skipped.
func convergencePoints(report *search.Report) plotter.XYs {
	points := make(plotter.XYs, 0, len(report.Iterations)+1)
	add := func(iteration int, seconds float64) {
		if !math.IsInf(seconds, 0) && !math.IsNaN(seconds) {
			points = append(points, plotter.XY{X: float64(iteration), Y: seconds * 1e6})
		}
	}
	add(0, report.Initial)
	for _, stats := range report.Iterations {
		add(stats.Iteration, stats.Best)
	}
	return points
}

// plotConvergence saves the plot of the best duration per iteration of the search to filePath.
// The image format is given by the file extension, e.g. ".png" or ".svg".
func plotConvergence(report *search.Report, title, filePath string) error {
	points := convergencePoints(report)
	if len(points) == 0 {
		return errors.New("no successful measurements to plot")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "iteration"
	p.Y.Label.Text = "best duration (us)"
	p.Y.Min = 0
	line, scatter, err := plotter.NewLinePoints(points)
	if err != nil {
		return errors.Wrap(err, "failed to create convergence plot")
	}
	p.Add(line, scatter, plotter.NewGrid())
	if err := p.Save(8*vg.Inch, 4*vg.Inch, filePath); err != nil {
		return errors.Wrapf(err, "failed to save convergence plot to %q", filePath)
	}
	return nil
}
