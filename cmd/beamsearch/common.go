// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"math"

	"github.com/dustin/go-humanize"

	"github.com/gomlx/autotune/pkg/kernel"
	"github.com/gomlx/autotune/pkg/kernel/loopnest"
	"github.com/gomlx/autotune/pkg/search"
)

// newDevice creates the device selected by the settings.
func newDevice() (kernel.Device, error) {
	if current.Device == "" {
		return kernel.NewDevice()
	}
	return kernel.NewDeviceWithConfig(current.Device)
}

// newPlan builds the plan of the configured kernel, with opts applied, and its scratch buffers in device.
func newPlan(device kernel.Device, opts ...kernel.Opt) (*loopnest.Plan, []kernel.Buffer, error) {
	k, err := current.Kernel.build()
	if err != nil {
		return nil, nil, err
	}
	plan := loopnest.NewPlan(k)
	for _, opt := range opts {
		if err := plan.ApplyOpt(opt); err != nil {
			return nil, nil, err
		}
	}
	bufs, err := search.BuffersFromPlan(device, plan)
	if err != nil {
		return nil, nil, err
	}
	return plan, bufs, nil
}

// newEngine builds the search engine for the settings: extra devices are created with the same
// configuration as the main one.
func newEngine(device kernel.Device, observer search.Observer) (*search.Engine, error) {
	b := search.Build(device).
		WithConfig(current.Search).
		WithDeviceFactory(newDevice)
	if observer != nil {
		b = b.WithObserver(observer)
	}
	return b.Done()
}

// formatDuration renders a duration given in seconds.
func formatDuration(seconds float64) string {
	if math.IsInf(seconds, 1) {
		return "failed"
	}
	return humanize.SIWithDigits(seconds, 2, "s")
}
