// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gomlx/autotune/pkg/search"
)

// settings of a run, read from (by increasing precedence) the defaults, the environment, the
// --config YAML file and the command-line flags.
type settings struct {
	Device string        `yaml:"device"`
	Width  int           `yaml:"width"`
	Kernel kernelSpec    `yaml:"kernel"`
	Search search.Config `yaml:"search"`
}

var (
	current settings

	// Flag values, only used if explicitly set.
	flags struct {
		width, cacheLevel, repeat, maxGlobalSize, parallelism, inputs int
		cacheDir, kernel, dtype                                       string
		noTestSize, disableLocals, ignoreBeamCache                    bool
		shape, axes                                                   []int
	}
)

func addSearchFlags(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.IntVar(&flags.width, "width", 4, "Beam width: number of plans kept per iteration.")
	pf.IntVar(&flags.cacheLevel, "cache_level", search.CacheTimings,
		"0 disables the caches, 1 caches search results, 2 also caches every timing.")
	pf.StringVar(&flags.cacheDir, "cache_dir", "", "Directory of the persistent caches. Defaults to the user cache directory.")
	pf.IntVar(&flags.repeat, "repeat", 3, "Number of launches per measurement, the minimum is reported.")
	pf.IntVar(&flags.maxGlobalSize, "max_global_size", 65536, "Largest global launch size timed as is.")
	pf.IntVar(&flags.parallelism, "parallelism", 1, "Number of candidates measured concurrently, each on its own device. -1 for the number of CPUs.")
	pf.BoolVar(&flags.noTestSize, "no_test_size", false, "Always time the full launch, even if larger than --max_global_size.")
	pf.BoolVar(&flags.disableLocals, "disable_locals", false, "Forbid moves using local (workgroup) memory or dimensions.")
	pf.BoolVar(&flags.ignoreBeamCache, "ignore_beam_cache", false, "Don't replay cached search results (they are still written).")

	pf.StringVar(&flags.kernel, "kernel", "matmul", "Kernel kind: one of "+kernelKindsList()+".")
	pf.IntSliceVar(&flags.shape, "shape", []int{64, 64, 64}, "Shape of the kernel: [m,n,k] for matmul, the input shape otherwise.")
	pf.IntSliceVar(&flags.axes, "axes", nil, "Reduced axes of reduce kernels.")
	pf.IntVar(&flags.inputs, "inputs", 2, "Number of inputs of elementwise kernels.")
	pf.StringVar(&flags.dtype, "dtype", "float32", "Element type: float32, float64 or float16.")
}

// loadSettings fills current for the command being executed.
func loadSettings(cmd *cobra.Command) error {
	cfg, err := search.ConfigFromEnv()
	if err != nil {
		return err
	}
	current = settings{
		Width:  4,
		Kernel: kernelSpec{Kind: "matmul", Shape: []int{64, 64, 64}, Inputs: 2, DType: "float32"},
		Search: cfg,
	}
	if flagConfigFile != "" {
		contents, err := os.ReadFile(flagConfigFile)
		if err != nil {
			return errors.Wrapf(err, "failed to read configuration file %q", flagConfigFile)
		}
		if err := yaml.Unmarshal(contents, &current); err != nil {
			return errors.Wrapf(err, "failed to parse configuration file %q", flagConfigFile)
		}
	}
	applyFlags(cmd, &current)
	if current.Width <= 0 {
		return errors.Errorf("invalid beam width %d, it must be > 0", current.Width)
	}
	return current.Search.Validate()
}

// applyFlags overrides s with the flags explicitly set in the command line.
func applyFlags(cmd *cobra.Command, s *settings) {
	changed := cmd.Flags().Changed
	if changed("device") {
		s.Device = flagDevice
	}
	if changed("width") {
		s.Width = flags.width
	}
	cfg := &s.Search
	if changed("cache_level") {
		cfg.CacheLevel = flags.cacheLevel
	}
	if changed("cache_dir") {
		cfg.CacheDir = flags.cacheDir
	}
	if changed("repeat") {
		cfg.RepeatCount = flags.repeat
	}
	if changed("max_global_size") {
		cfg.MaxGlobalSize = flags.maxGlobalSize
	}
	if changed("parallelism") {
		cfg.Parallelism = flags.parallelism
	}
	if changed("no_test_size") {
		cfg.AllowTestSize = !flags.noTestSize
	}
	if changed("disable_locals") {
		cfg.DisableLocalTransforms = flags.disableLocals
	}
	if changed("ignore_beam_cache") {
		cfg.IgnoreBeamCache = flags.ignoreBeamCache
	}
	k := &s.Kernel
	if changed("kernel") {
		k.Kind = flags.kernel
	}
	if changed("shape") {
		k.Shape = flags.shape
	}
	if changed("axes") {
		k.Axes = flags.axes
	}
	if changed("inputs") {
		k.Inputs = flags.inputs
	}
	if changed("dtype") {
		k.DType = flags.dtype
	}
}
