// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"k8s.io/klog/v2"
)

// metricsPrefix selects the autotuner metrics among the registered ones.
const metricsPrefix = "autotune_"

// dumpMetrics writes the autotuner metrics of the default registry in Prometheus text format.
func dumpMetrics(w io.Writer) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		klog.Errorf("failed to gather metrics: %v", err)
		return
	}
	for _, family := range families {
		if !strings.HasPrefix(family.GetName(), metricsPrefix) {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(w, family); err != nil {
			klog.Errorf("failed to write metric %q: %v", family.GetName(), err)
			return
		}
	}
}
