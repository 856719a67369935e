// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package search

import (
	"encoding/json"
	"math"
	"slices"
	"strconv"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/autotune/pkg/kernel"
	"github.com/gomlx/autotune/pkg/search/cache"
)

// minTestDim is the smallest launch dimension halved when scaling down a launch for timing.
const minTestDim = 16

// MeasureOptions configures a single measurement of the timing Harness.
type MeasureOptions struct {
	// AllowTestSize allows launching a reduced problem when the global size is larger than MaxGlobalSize,
	// and extrapolating the measured times linearly.
	AllowTestSize bool

	// MaxGlobalSize is the largest product of the global launch size executed as is.
	MaxGlobalSize int

	// RepeatCount is the number of launches: the minimum of them is reported. Values <= 0 mean 1.
	RepeatCount int

	// UseCache reads and writes the measured durations from the timing cache.
	UseCache bool
}

// DefaultMeasureOptions returns the measure options of DefaultConfig.
func DefaultMeasureOptions() MeasureOptions {
	return DefaultConfig().measureOptions()
}

// Harness measures plans on one device. It is not safe for concurrent use: create one per device.
type Harness struct {
	device kernel.Device
	store  cache.Store
}

// NewHarness returns a timing harness for device. store can be nil, in which case nothing is cached.
func NewHarness(device kernel.Device, store cache.Store) *Harness {
	if store == nil {
		store = cache.Disabled()
	}
	return &Harness{device: device, store: store}
}

// Device used by the harness.
func (h *Harness) Device() kernel.Device { return h.device }

// timingKey identifies one measurement in cache.TimingTable.
type timingKey struct {
	AST           string `json:"ast"`
	Opts          string `json:"opts"`
	AllowTestSize bool   `json:"allow_test_size"`
	MaxGlobalSize int    `json:"max_global_size"`
}

// TimeLinearizer measures plan on device with bufs: see Harness.Measure.
func TimeLinearizer(device kernel.Device, store cache.Store, plan kernel.Plan, bufs []kernel.Buffer, opts MeasureOptions) (float64, error) {
	return NewHarness(device, store).Measure(plan, bufs, opts)
}

// Measure returns the execution time, in seconds, of the plan: the minimum over opts.RepeatCount launches.
//
// Plans that fail to compile or launch measure +Inf: they are never returned as errors. The plan itself is
// not changed. The only errors returned are misuses of the harness.
func (h *Harness) Measure(plan kernel.Plan, bufs []kernel.Buffer, opts MeasureOptions) (float64, error) {
	if plan == nil {
		return 0, errors.New("search.Harness.Measure: nil plan")
	}
	key := timingKey{
		AST:           plan.ASTKey(),
		Opts:          kernel.OptsString(plan.AppliedOpts()),
		AllowTestSize: opts.AllowTestSize,
		MaxGlobalSize: opts.MaxGlobalSize,
	}
	if opts.UseCache {
		if durations, found := h.cachedDurations(key); found {
			return slices.Min(durations), nil
		}
	}

	durations, err := h.launch(plan.Copy(), bufs, opts)
	if err != nil {
		klog.V(3).Infof("measuring %s failed: %v", kernel.OptsString(plan.AppliedOpts()), err)
		durations = []float64{math.Inf(1)}
	}
	if opts.UseCache {
		h.store.Put(cache.TimingTable, key, encodeDurations(durations))
	}
	return slices.Min(durations), nil
}

func (h *Harness) cachedDurations(key timingKey) ([]float64, bool) {
	value, found := h.store.Get(cache.TimingTable, key)
	if found {
		durations, err := decodeDurations(value)
		if err != nil {
			klog.Warningf("ignoring corrupt timing cache entry: %v", err)
			found = false
		} else if len(durations) == 0 {
			found = false
		} else {
			cacheRequestsTotal.WithLabelValues(cache.TimingTable, cacheResult(true)).Inc()
			return durations, true
		}
	}
	cacheRequestsTotal.WithLabelValues(cache.TimingTable, cacheResult(false)).Inc()
	return nil, false
}

// launch compiles and launches the plan, returning the scaled duration of every launch.
//
// Panics of the device are returned as errors.
func (h *Harness) launch(plan kernel.Plan, bufs []kernel.Buffer, opts MeasureOptions) ([]float64, error) {
	var durations []float64
	var err error
	if panicErr := exceptions.TryCatch[error](func() {
		durations, err = h.compileAndLaunch(plan, bufs, opts)
	}); panicErr != nil {
		return nil, errors.WithMessage(panicErr, "device panicked")
	}
	return durations, err
}

func (h *Harness) compileAndLaunch(plan kernel.Plan, bufs []kernel.Buffer, opts MeasureOptions) ([]float64, error) {
	vars := plan.Vars()
	varVals := make([]int, len(vars))
	varMap := make(map[string]int, len(vars))
	for ii, v := range vars {
		varVals[ii] = v.Min
		varMap[v.Name] = v.Min
	}

	prog, err := h.device.Compile(plan)
	if err != nil {
		return nil, err
	}
	factor := 1.0
	realGlobalSize := prog.GlobalSize()
	if opts.AllowTestSize && len(realGlobalSize) > 0 {
		testGlobalSize := TestGlobalSize(realGlobalSize, opts.MaxGlobalSize)
		factor = float64(prodInts(realGlobalSize)) / float64(prodInts(testGlobalSize))
		prog.SetGlobalSize(testGlobalSize)
		defer prog.SetGlobalSize(realGlobalSize)
	}

	global, local := prog.LaunchDims(varMap)
	if global != nil && local == nil {
		local = h.device.OptimizeLocalSize(global, bufs)
		global = BlockCounts(global, local)
	}

	repeat := max(opts.RepeatCount, 1)
	durations := make([]float64, 0, repeat)
	for range repeat {
		elapsed, err := prog.Launch(global, local, bufs, varVals, true)
		if err != nil {
			return nil, err
		}
		measureSeconds.Observe(elapsed)
		durations = append(durations, elapsed*factor)
	}
	return durations, nil
}

// TestGlobalSize returns the reduced global size to time a launch of globalSize: the highest indexed
// dimension larger than 16 (among the last 3) is halved, repeatedly, until the product is at most maxGlobalSize.
//
// It stops earlier if no dimension can be halved any further.
func TestGlobalSize(globalSize []int, maxGlobalSize int) []int {
	test := slices.Clone(globalSize)
	for prodInts(test) > maxGlobalSize {
		halved := false
		for j := len(test) - 1; j >= max(len(test)-3, 0); j-- {
			if test[j] > minTestDim {
				test[j] /= 2
				halved = true
				break
			}
		}
		if !halved {
			break
		}
	}
	return test
}

// BlockCounts converts a global size in number of work items into number of blocks of the local size,
// rounding up.
func BlockCounts(global, local []int) []int {
	blocks := make([]int, len(global))
	for ii, g := range global {
		l := 1
		if ii < len(local) && local[ii] > 0 {
			l = local[ii]
		}
		blocks[ii] = (g + l - 1) / l
	}
	return blocks
}

func prodInts(values []int) int {
	result := 1
	for _, v := range values {
		result *= v
	}
	return result
}

// encodeDurations encodes durations as a JSON list of strings, so +Inf is preserved.
func encodeDurations(durations []float64) []byte {
	strs := make([]string, len(durations))
	for ii, d := range durations {
		strs[ii] = strconv.FormatFloat(d, 'g', -1, 64)
	}
	encoded, _ := json.Marshal(strs)
	return encoded
}

func decodeDurations(encoded []byte) ([]float64, error) {
	var strs []string
	if err := json.Unmarshal(encoded, &strs); err != nil {
		return nil, errors.Wrap(err, "failed to decode durations")
	}
	durations := make([]float64, len(strs))
	for ii, str := range strs {
		d, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to decode duration %q", str)
		}
		durations[ii] = d
	}
	return durations, nil
}
