// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool runs tasks on a fixed set of workers, each owning an exclusive resource
// (e.g.: a device execution context and its scratch buffers).
package workerspool

import (
	"sync"
)

// Pool of workers, one per resource. A resource is used by at most one task at a time.
type Pool[R any] struct {
	resources []R

	mu         sync.Mutex
	cond       sync.Cond // Should be signaled whenever a resource is returned to idle.
	idle       []R
	numRunning int
}

// New returns a new Pool with one worker per resource. It panics if resources is empty.
func New[R any](resources ...R) *Pool[R] {
	if len(resources) == 0 {
		panic("workerspool.New: at least one resource is required")
	}
	p := &Pool[R]{
		resources: resources,
		idle:      make([]R, len(resources)),
	}
	copy(p.idle, resources)
	p.cond = sync.Cond{L: &p.mu}
	return p
}

// Size is the number of workers, the maximum parallelism of the pool.
func (p *Pool[R]) Size() int {
	return len(p.resources)
}

// Resources returns the resources owned by the workers, in the order given to New.
//
// They must not be used while tasks are running.
func (p *Pool[R]) Resources() []R {
	return p.resources
}

// WaitToStart waits until there is a worker available, and runs the task in a separate goroutine with the
// worker's resource. The resource is returned to the pool when the task finishes.
//
// It's up to the client to synchronize the end of the task execution, or to call Wait.
func (p *Pool[R]) WaitToStart(task func(resource R)) {
	p.mu.Lock()
	for len(p.idle) == 0 {
		p.cond.Wait()
	}
	resource := p.lockedTakeIdle()
	p.numRunning++
	p.mu.Unlock()

	go func() {
		defer p.release(resource)
		task(resource)
	}()
}

// lockedTakeIdle removes the last idle resource.
//
// It must be called with Pool.mu acquired.
func (p *Pool[R]) lockedTakeIdle() R {
	last := len(p.idle) - 1
	resource := p.idle[last]
	var zero R
	p.idle[last] = zero
	p.idle = p.idle[:last]
	return resource
}

func (p *Pool[R]) release(resource R) {
	p.mu.Lock()
	p.idle = append(p.idle, resource)
	p.numRunning--
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Wait blocks until all started tasks have finished.
func (p *Pool[R]) Wait() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.numRunning > 0 {
		p.cond.Wait()
	}
}

// Run executes task(resource, i) for i in [0, n) and returns when all of them finished.
//
// With a single worker tasks run inline, in order, on the calling goroutine.
func (p *Pool[R]) Run(n int, task func(resource R, i int)) {
	if p.Size() == 1 {
		p.mu.Lock()
		for len(p.idle) == 0 {
			p.cond.Wait()
		}
		resource := p.lockedTakeIdle()
		p.numRunning++
		p.mu.Unlock()
		defer p.release(resource)
		for i := range n {
			task(resource, i)
		}
		return
	}

	var wg sync.WaitGroup
	wg.Add(n)
	for i := range n {
		p.WaitToStart(func(resource R) {
			defer wg.Done()
			task(resource, i)
		})
	}
	wg.Wait()
}
