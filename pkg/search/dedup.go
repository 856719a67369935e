// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package search

import (
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/gomlx/autotune/pkg/kernel"
)

// Fingerprint is the canonical encoding of the lowered instructions of a plan: the kind, dtype,
// input positions and argument of each instruction, in order.
//
// Two plans with the same Fingerprint are the same candidate, whatever moves produced them.
type Fingerprint string

// Seen maps the fingerprints already explored by a search to the moves that first produced them.
type Seen map[Fingerprint][]kernel.Opt

// FingerprintOf lowers a copy of plan and returns its Fingerprint.
func FingerprintOf(plan kernel.Plan) (Fingerprint, error) {
	instrs, err := plan.Copy().Linearize()
	if err != nil {
		return "", err
	}
	return fingerprintInstructions(instrs), nil
}

func fingerprintInstructions(instrs []kernel.Instruction) Fingerprint {
	var sb strings.Builder
	for _, ins := range instrs {
		sb.WriteString(strconv.Itoa(int(ins.Op)))
		sb.WriteByte('|')
		sb.WriteString(strconv.Itoa(int(ins.DType)))
		sb.WriteByte('|')
		for ii, in := range ins.Inputs {
			if ii > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(strconv.Itoa(in))
		}
		sb.WriteByte('|')
		sb.WriteString(strconv.Quote(ins.Arg))
		sb.WriteByte(';')
	}
	return Fingerprint(sb.String())
}

// Add inserts the fingerprint of plan. It returns false if it was already present, or if plan fails to lower.
func (s Seen) Add(plan kernel.Plan) (bool, error) {
	fp, err := FingerprintOf(plan)
	if err != nil {
		return false, err
	}
	return s.insert(fp, plan), nil
}

func (s Seen) insert(fp Fingerprint, plan kernel.Plan) bool {
	if _, found := s[fp]; found {
		return false
	}
	s[fp] = plan.AppliedOpts()
	return true
}

// Dedup returns the candidates whose fingerprint is not yet in seen, in their original order, and adds
// their fingerprints to seen. Among candidates sharing a fingerprint only the first one is kept.
// Candidates that fail to lower are dropped.
//
// Candidates are lowered concurrently, using up to parallelism goroutines (<= 0 means unlimited),
// but seen is only updated sequentially, in candidate order.
func Dedup(candidates []kernel.Plan, seen Seen, parallelism int) []kernel.Plan {
	fingerprints := make([]Fingerprint, len(candidates))
	failed := make([]bool, len(candidates))
	var g errgroup.Group
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}
	for ii, candidate := range candidates {
		g.Go(func() error {
			fp, err := FingerprintOf(candidate)
			if err != nil {
				klog.V(3).Infof("dropped %s: failed to lower: %v", kernel.OptsString(candidate.AppliedOpts()), err)
				failed[ii] = true
				return nil
			}
			fingerprints[ii] = fp
			return nil
		})
	}
	_ = g.Wait()

	unique := make([]kernel.Plan, 0, len(candidates))
	for ii, candidate := range candidates {
		if failed[ii] {
			continue
		}
		if seen.insert(fingerprints[ii], candidate) {
			unique = append(unique, candidate)
		}
	}
	return unique
}
