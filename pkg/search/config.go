// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package search

import (
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// Environment variables overlaid by ConfigFromEnv.
const (
	EnvCacheLevel      = "CACHELEVEL"
	EnvIgnoreBeamCache = "IGNORE_BEAM_CACHE"
	EnvMaxGlobalSize   = "BEAM_MAX_GLOBAL_SIZE"
	EnvRepeatCount     = "BEAM_REPEAT"
	EnvParallelism     = "BEAM_PARALLELISM"
	EnvCacheDir        = "AUTOTUNE_CACHE_DIR"
)

// Cache levels.
const (
	// CacheNone disables both caches.
	CacheNone = 0

	// CacheSearch enables the reuse of search results only.
	CacheSearch = 1

	// CacheTimings additionally caches every timing measurement.
	CacheTimings = 2
)

// Config of the search Engine.
type Config struct {
	// AllowTestSize allows timing a reduced version of launches larger than MaxGlobalSize, and
	// extrapolating the measured time.
	AllowTestSize bool `yaml:"allow_test_size"`

	// MaxGlobalSize is the largest global launch size timed as is, when AllowTestSize is set.
	MaxGlobalSize int `yaml:"max_global_size"`

	// RepeatCount is the number of launches per measurement: the minimum is reported.
	RepeatCount int `yaml:"repeat_count"`

	// DisableLocalTransforms forbids moves using local (workgroup) memory or dimensions.
	DisableLocalTransforms bool `yaml:"disable_local_transforms"`

	// CacheLevel is one of CacheNone, CacheSearch or CacheTimings.
	CacheLevel int `yaml:"cache_level"`

	// IgnoreBeamCache skips reading stored search results (they are still written).
	IgnoreBeamCache bool `yaml:"ignore_beam_cache"`

	// Parallelism is the number of candidates measured concurrently, each on its own device.
	// If set to -1, runtime.NumCPU() is used.
	Parallelism int `yaml:"parallelism"`

	// CacheDir is the directory of the persistent caches. If empty, fsutil.DefaultCacheDir is used.
	CacheDir string `yaml:"cache_dir"`
}

// DefaultConfig returns the default search configuration.
func DefaultConfig() Config {
	return Config{
		AllowTestSize: true,
		MaxGlobalSize: 65536,
		RepeatCount:   3,
		CacheLevel:    CacheTimings,
		Parallelism:   1,
	}
}

// ConfigFromEnv returns DefaultConfig overlaid with the environment variables EnvCacheLevel,
// EnvIgnoreBeamCache, EnvMaxGlobalSize, EnvRepeatCount, EnvParallelism and EnvCacheDir.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	intVars := []struct {
		name  string
		value *int
	}{
		{EnvCacheLevel, &cfg.CacheLevel},
		{EnvMaxGlobalSize, &cfg.MaxGlobalSize},
		{EnvRepeatCount, &cfg.RepeatCount},
		{EnvParallelism, &cfg.Parallelism},
	}
	for _, v := range intVars {
		str, found := os.LookupEnv(v.name)
		if !found || str == "" {
			continue
		}
		n, err := strconv.Atoi(str)
		if err != nil {
			return cfg, errors.Wrapf(err, "failed to parse $%s=%q", v.name, str)
		}
		*v.value = n
	}
	if str, found := os.LookupEnv(EnvIgnoreBeamCache); found && str != "" {
		// Like the usual getenv flags: any non-zero integer is true.
		n, err := strconv.Atoi(str)
		if err != nil {
			b, bErr := strconv.ParseBool(str)
			if bErr != nil {
				return cfg, errors.Errorf("failed to parse $%s=%q as a boolean", EnvIgnoreBeamCache, str)
			}
			cfg.IgnoreBeamCache = b
		} else {
			cfg.IgnoreBeamCache = n != 0
		}
	}
	if dir, found := os.LookupEnv(EnvCacheDir); found {
		cfg.CacheDir = dir
	}
	return cfg, cfg.Validate()
}

// Validate returns an error if the configuration is invalid.
func (c Config) Validate() error {
	if c.CacheLevel < CacheNone || c.CacheLevel > CacheTimings {
		return errors.Errorf("invalid cache level %d, valid values are 0, 1 or 2", c.CacheLevel)
	}
	if c.MaxGlobalSize <= 0 {
		return errors.Errorf("invalid max global size %d, it must be > 0", c.MaxGlobalSize)
	}
	if c.RepeatCount <= 0 {
		return errors.Errorf("invalid repeat count %d, it must be > 0", c.RepeatCount)
	}
	if c.Parallelism == 0 || c.Parallelism < -1 {
		return errors.Errorf("invalid parallelism %d, it must be > 0 or -1", c.Parallelism)
	}
	return nil
}

// measureOptions returns the options of the timing harness for this configuration.
func (c Config) measureOptions() MeasureOptions {
	return MeasureOptions{
		AllowTestSize: c.AllowTestSize,
		MaxGlobalSize: c.MaxGlobalSize,
		RepeatCount:   c.RepeatCount,
		UseCache:      c.CacheLevel >= CacheTimings,
	}
}
