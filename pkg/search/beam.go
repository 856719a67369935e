// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package search

import (
	"cmp"
	"context"
	"encoding/json"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/autotune/internal/workerspool"
	"github.com/gomlx/autotune/pkg/kernel"
	"github.com/gomlx/autotune/pkg/search/cache"
)

// ErrNoUsableConfig is returned by Engine.BeamSearch when neither the plan nor any of its candidates
// could be measured.
var ErrNoUsableConfig = errors.New("no usable configuration found")

// BeamEntry is a plan and its measured duration in seconds.
type BeamEntry struct {
	Plan     kernel.Plan
	Duration float64
}

// Beam is the frontier of a search, sorted by duration: Beam[0] is the best plan so far.
type Beam []BeamEntry

// IterationStats summarizes one iteration of a beam search.
type IterationStats struct {
	// Iteration counts from 1.
	Iteration int

	// Expanded is the number of candidates derived from the beam, Unique the number left after
	// deduplication (and measured).
	Expanded, Unique int

	// BestCandidate is the duration of the fastest candidate (+Inf if none), Best the duration of the
	// best plan after the iteration.
	BestCandidate, Best float64

	// Improved is false for the last iteration, that found nothing faster than the beam.
	Improved bool

	Elapsed time.Duration
}

// Observer is notified of the progress of a search.
type Observer interface {
	OnIteration(stats IterationStats)
}

// ObserverFunc adapts a function to an Observer.
type ObserverFunc func(stats IterationStats)

// OnIteration implements Observer.
func (fn ObserverFunc) OnIteration(stats IterationStats) { fn(stats) }

// Report describes a completed search.
type Report struct {
	RunID uuid.UUID

	// Replayed is true if the result was replayed from the search cache, without any measurement.
	Replayed bool

	// Initial is the duration of the plan given to the search, Best the duration of the returned plan.
	// Both are 0 for replayed searches.
	Initial, Best float64

	Iterations []IterationStats

	// Opts are the moves of the returned plan.
	Opts []kernel.Opt

	Elapsed time.Duration
}

// beamKey identifies a search in cache.BeamTable.
type beamKey struct {
	AST           string `json:"ast"`
	Amount        int    `json:"amt"`
	AllowTestSize bool   `json:"allow_test_size"`
	DontUseLocals bool   `json:"dont_use_locals"`
}

// BeamSearch searches for the fastest variant of plan, keeping the width best plans of every iteration,
// and returns it. The search stops at the first iteration that doesn't improve on the best plan, so the
// returned plan is never slower than plan (as measured).
//
// bufs are the scratch buffers to time plan on the main device (see BuffersFromPlan). plan may be
// modified (its locals may be disabled), but its moves are not: the returned plan is a different one.
//
// If a previous search with the same kernel and parameters is cached, its moves are replayed without
// any measurement. ctx is checked between iterations. If no variant of plan can be measured the
// best plan is returned along with an error wrapping ErrNoUsableConfig. Errors wrapping
// kernel.ErrUnresolvedBuffer are fatal.
func (e *Engine) BeamSearch(ctx context.Context, plan kernel.Plan, bufs []kernel.Buffer, width int) (kernel.Plan, *Report, error) {
	if width <= 0 {
		return nil, nil, errors.Errorf("search.BeamSearch: invalid beam width %d", width)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	report := &Report{RunID: uuid.New()}
	key := beamKey{
		AST:           plan.ASTKey(),
		Amount:        width,
		AllowTestSize: e.config.AllowTestSize,
		DontUseLocals: e.config.DisableLocalTransforms,
	}
	if e.config.DisableLocalTransforms {
		plan.SetDontUseLocals(true)
	}
	if e.config.CacheLevel >= CacheSearch && !e.config.IgnoreBeamCache {
		if replayed, found := e.replay(key, plan); found {
			report.Replayed = true
			report.Opts = replayed.AppliedOpts()
			report.Elapsed = time.Since(start)
			klog.V(2).Infof("search %s: replayed %s", report.RunID, kernel.OptsString(report.Opts))
			return replayed, report, nil
		}
	}

	pool, err := e.lockedWorkers(plan, bufs)
	if err != nil {
		return nil, nil, err
	}
	measureOpts := e.config.measureOptions()
	initial, err := pool.Resources()[0].harness.Measure(plan, bufs, measureOpts)
	if err != nil {
		return nil, nil, err
	}
	report.Initial = initial
	beam := Beam{{Plan: plan, Duration: initial}}
	seen := make(Seen)
	if _, err := seen.Add(plan); err != nil {
		klog.V(2).Infof("search %s: failed to lower the initial plan: %v", report.RunID, err)
	}

	for iteration := 1; ; iteration++ {
		if err := ctx.Err(); err != nil {
			return beam[0].Plan, report, errors.Wrapf(err, "search %s interrupted at iteration %d", report.RunID, iteration)
		}
		iterStart := time.Now()
		var candidates []kernel.Plan
		for _, entry := range beam {
			expanded := e.expander.Expand(entry.Plan, false)
			for _, idx := range SortedIndices(expanded) {
				candidates = append(candidates, expanded[idx])
			}
		}
		numExpanded := len(candidates)
		candidates = Dedup(candidates, seen, e.config.Parallelism)
		candidatesTotal.WithLabelValues(stageExpanded).Add(float64(numExpanded))
		candidatesTotal.WithLabelValues(stageUnique).Add(float64(len(candidates)))

		timed, err := measureAll(pool, candidates, measureOpts)
		if err != nil {
			return nil, nil, err
		}
		slices.SortStableFunc(timed, func(a, b BeamEntry) int { return cmp.Compare(a.Duration, b.Duration) })

		stats := IterationStats{
			Iteration:     iteration,
			Expanded:      numExpanded,
			Unique:        len(timed),
			BestCandidate: math.Inf(1),
		}
		if len(timed) > 0 {
			stats.BestCandidate = timed[0].Duration
		}
		stats.Improved = len(timed) > 0 && timed[0].Duration < beam[0].Duration
		if stats.Improved {
			beam = slices.Clip(timed[:min(width, len(timed))])
			klog.V(1).Infof("%12.2f us from %3d -> %3d actions %s", beam[0].Duration*1e6, numExpanded, len(timed),
				kernel.OptsString(beam[0].Plan.AppliedOpts()))
		}
		stats.Best = beam[0].Duration
		stats.Elapsed = time.Since(iterStart)
		report.Iterations = append(report.Iterations, stats)
		if e.observer != nil {
			e.observer.OnIteration(stats)
		}
		if !stats.Improved {
			break
		}
	}
	searchIterations.Observe(float64(len(report.Iterations)))

	best := beam[0]
	report.Best = best.Duration
	report.Opts = best.Plan.AppliedOpts()
	report.Elapsed = time.Since(start)
	if math.IsInf(best.Duration, 1) {
		return best.Plan, report, errors.Wrapf(ErrNoUsableConfig, "search %s of %s", report.RunID, plan.ASTKey())
	}
	if e.config.CacheLevel >= CacheSearch {
		e.persist(key, report.Opts)
	}
	klog.V(2).Infof("search %s: best %s in %.2f us", report.RunID, kernel.OptsString(report.Opts), best.Duration*1e6)
	return best.Plan, report, nil
}

// measureAll measures the candidates on the pool workers, and returns them with their durations
// in the same order. It returns only after all measurements finished.
func measureAll(pool *workerspool.Pool[*worker], candidates []kernel.Plan, opts MeasureOptions) ([]BeamEntry, error) {
	timed := make([]BeamEntry, len(candidates))
	var (
		muErr    sync.Mutex
		firstErr error
	)
	pool.Run(len(candidates), func(w *worker, i int) {
		duration, err := w.harness.Measure(candidates[i], w.bufs, opts)
		if err != nil {
			muErr.Lock()
			if firstErr == nil {
				firstErr = err
			}
			muErr.Unlock()
			duration = math.Inf(1)
		}
		timed[i] = BeamEntry{Plan: candidates[i], Duration: duration}
	})
	if firstErr != nil {
		return nil, firstErr
	}
	var failed int
	for _, entry := range timed {
		if math.IsInf(entry.Duration, 1) {
			failed++
		}
	}
	candidatesTotal.WithLabelValues(stageTimed).Add(float64(len(timed)))
	candidatesTotal.WithLabelValues(stageFailed).Add(float64(failed))
	return timed, nil
}

// replay applies the cached moves of the search to a copy of plan, skipping the moves plan already has.
// A cached entry that doesn't replay is reported as not found.
func (e *Engine) replay(key beamKey, plan kernel.Plan) (kernel.Plan, bool) {
	value, found := e.store.Get(cache.BeamTable, key)
	defer func() { cacheRequestsTotal.WithLabelValues(cache.BeamTable, cacheResult(found)).Inc() }()
	if !found {
		return nil, false
	}
	var opts []kernel.Opt
	if err := json.Unmarshal(value, &opts); err != nil {
		klog.Warningf("ignoring corrupt search cache entry: %v", err)
		found = false
		return nil, false
	}
	replayed := plan.Copy()
	numApplied := len(plan.AppliedOpts())
	if numApplied > len(opts) {
		found = false
		return nil, false
	}
	for _, opt := range opts[numApplied:] {
		if err := tryApplyOpt(replayed, opt); err != nil {
			klog.Warningf("ignoring search cache entry that doesn't replay: %v", err)
			found = false
			return nil, false
		}
	}
	return replayed, true
}

func (e *Engine) persist(key beamKey, opts []kernel.Opt) {
	value, err := json.Marshal(opts)
	if err != nil {
		klog.Warningf("failed to encode search result: %v", err)
		return
	}
	e.store.Put(cache.BeamTable, key, value)
}
