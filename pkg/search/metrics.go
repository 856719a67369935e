// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package search

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Candidate stages counted by candidatesTotal.
const (
	stageExpanded = "expanded"
	stageUnique   = "unique"
	stageTimed    = "timed"
	stageFailed   = "failed"
)

var (
	// candidatesTotal counts candidates by stage of an iteration.
	candidatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autotune_candidates_total",
		Help: "Total candidate plans by search stage",
	}, []string{"stage"})

	// cacheRequestsTotal counts cache lookups by table and result.
	cacheRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autotune_cache_requests_total",
		Help: "Total cache lookups by table and result",
	}, []string{"table", "result"})

	// measureSeconds tracks the raw duration of single program launches.
	measureSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "autotune_measure_seconds",
		Help:    "Duration of single program launches during measurements, in seconds",
		Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12), // 1us to ~4s
	})

	// searchIterations tracks the number of iterations per beam search.
	searchIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "autotune_search_iterations",
		Help:    "Number of iterations per beam search",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34},
	})
)

func cacheResult(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}
