// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"

	"github.com/gomlx/autotune/pkg/search"
)

// progressObserver displays a spinner with the state of a beam search.
type progressObserver struct {
	bar     *progressbar.ProgressBar
	termenv *termenv.Output
}

var _ search.Observer = (*progressObserver)(nil)

func newProgress(desc string) *progressObserver {
	p := &progressObserver{termenv: termenv.NewOutput(os.Stderr)}
	p.termenv.HideCursor()
	p.bar = progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("iterations"),
		progressbar.OptionClearOnFinish(),
	)
	return p
}

// OnIteration implements search.Observer.
func (p *progressObserver) OnIteration(stats search.IterationStats) {
	p.bar.Describe(fmt.Sprintf("iteration %d: best %s, %d/%d candidates timed",
		stats.Iteration, formatDuration(stats.Best), stats.Unique, stats.Expanded))
	_ = p.bar.Add(1)
}

func (p *progressObserver) finish() {
	_ = p.bar.Finish()
	p.termenv.ShowCursor()
}
