// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package search implements the autotuner: a beam search over the catalog of optimization moves
// (see Actions) that converges on the fastest measured variant of a kernel plan.
//
// The main object is the Engine, created with Build, followed by the various options setting and
// finally calling Builder.Done:
//
//	engine, err := search.Build(device).WithConfig(cfg).Done()
//	if err != nil { ... }
//	defer engine.Close()
//	best, report, err := engine.BeamSearch(ctx, plan, bufs, 4)
//
// Timings and search results are memoized in the persistent caches of package
// github.com/gomlx/autotune/pkg/search/cache, according to Config.CacheLevel.
package search

import (
	"runtime"
	"slices"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/autotune/internal/workerspool"
	"github.com/gomlx/autotune/pkg/kernel"
	"github.com/gomlx/autotune/pkg/search/cache"
	"github.com/gomlx/autotune/pkg/support/fsutil"
)

// DeviceFactory creates the extra devices used to measure candidates in parallel.
type DeviceFactory func() (kernel.Device, error)

// Builder configures a new Engine. Create it with Build and finish with Done.
type Builder struct {
	device        kernel.Device
	config        Config
	store         cache.Store
	catalog       []kernel.Opt
	observer      Observer
	deviceFactory DeviceFactory
}

// Build an Engine that measures on device. After configuring the returned Builder, call Done.
func Build(device kernel.Device) *Builder {
	return &Builder{device: device, config: DefaultConfig()}
}

// WithConfig sets the configuration. The default is DefaultConfig.
func (b *Builder) WithConfig(config Config) *Builder {
	b.config = config
	return b
}

// WithStore sets the cache store, owned by the caller: it is not closed by Engine.Close.
//
// By default, if the configuration enables caching, a persistent store is opened in Config.CacheDir.
func (b *Builder) WithStore(store cache.Store) *Builder {
	b.store = store
	return b
}

// WithCatalog replaces the catalog of moves. The default is Actions.
func (b *Builder) WithCatalog(catalog []kernel.Opt) *Builder {
	b.catalog = slices.Clone(catalog)
	return b
}

// WithObserver sets an Observer notified at the end of every search iteration.
func (b *Builder) WithObserver(observer Observer) *Builder {
	b.observer = observer
	return b
}

// WithDeviceFactory sets how the extra devices for Config.Parallelism > 1 are created.
//
// The default creates new devices from the registry with the name of the main device (see kernel.NewDeviceWithConfig).
func (b *Builder) WithDeviceFactory(factory DeviceFactory) *Builder {
	b.deviceFactory = factory
	return b
}

// Done creates the Engine. It returns an error if the configuration is invalid.
//
// A persistent cache that can't be opened is not an error: the Engine proceeds without caching.
func (b *Builder) Done() (*Engine, error) {
	if b.device == nil {
		return nil, errors.New("search.Build: a device is required")
	}
	if err := b.config.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		config:        b.config,
		store:         b.store,
		expander:      NewExpander(b.catalog),
		observer:      b.observer,
		deviceFactory: b.deviceFactory,
		devices:       []kernel.Device{b.device},
	}
	if e.config.Parallelism < 0 {
		e.config.Parallelism = runtime.NumCPU()
	}
	if e.deviceFactory == nil {
		name := b.device.Name()
		e.deviceFactory = func() (kernel.Device, error) { return kernel.NewDeviceWithConfig(name) }
	}
	if e.store == nil {
		e.store = cache.Disabled()
		if e.config.CacheLevel > CacheNone {
			e.store = openStore(e.config.CacheDir)
			e.ownsStore = true
		}
	}
	return e, nil
}

// MustDone constructs the Engine. It panics if there was an error.
func (b *Builder) MustDone() *Engine {
	e, err := b.Done()
	if err != nil {
		panic(errors.WithMessage(err, "failed to create search.Engine"))
	}
	return e
}

// openStore opens the persistent cache in dir, or returns the disabled store if it is unavailable.
func openStore(dir string) cache.Store {
	dir, err := fsutil.ResolveCacheDir(dir)
	if err == nil {
		var store *cache.BadgerStore
		store, err = cache.Open(cache.DefaultConfig(dir))
		if err == nil {
			return store
		}
	}
	klog.Warningf("autotune cache disabled: %v", err)
	return cache.Disabled()
}

// Engine runs measurements and beam searches. It owns the persistent cache (unless given with
// Builder.WithStore) and the extra devices used for parallel measurements: call Close when done.
//
// Searches on the same Engine are serialized.
type Engine struct {
	mu sync.Mutex

	config        Config
	store         cache.Store
	ownsStore     bool
	expander      *Expander
	observer      Observer
	deviceFactory DeviceFactory

	// devices[0] is the main device, given to Build, the others are created on demand and owned by the Engine.
	devices []kernel.Device
}

// Config returns the configuration of the Engine.
func (e *Engine) Config() Config { return e.config }

// Store returns the cache store used by the Engine.
func (e *Engine) Store() cache.Store { return e.store }

// Close releases the resources owned by the Engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, device := range e.devices[1:] {
		device.Finalize()
	}
	e.devices = e.devices[:1]
	if e.ownsStore && e.store != nil {
		err := e.store.Close()
		e.store = cache.Disabled()
		e.ownsStore = false
		return err
	}
	return nil
}

// Measure returns the execution time of plan on the main device, using bufs: see Harness.Measure.
// Timings are cached if Config.CacheLevel is CacheTimings.
func (e *Engine) Measure(plan kernel.Plan, bufs []kernel.Buffer) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return TimeLinearizer(e.devices[0], e.store, plan, bufs, e.config.measureOptions())
}

// worker measures candidates on an exclusive device with its own scratch buffers.
type worker struct {
	harness *Harness
	bufs    []kernel.Buffer
}

// lockedWorkers returns the pool of workers for a search of plan: the first one uses the main device and bufs,
// the others use extra devices and newly allocated buffers.
//
// It must be called with Engine.mu acquired.
func (e *Engine) lockedWorkers(plan kernel.Plan, bufs []kernel.Buffer) (*workerspool.Pool[*worker], error) {
	workers := []*worker{{harness: NewHarness(e.devices[0], e.store), bufs: bufs}}
	for ii := 1; ii < e.config.Parallelism; ii++ {
		if ii >= len(e.devices) {
			device, err := e.deviceFactory()
			if err != nil {
				return nil, errors.WithMessagef(err, "failed to create device #%d for parallel measurements", ii)
			}
			e.devices = append(e.devices, device)
		}
		device := e.devices[ii]
		workerBufs, err := BuffersFromPlan(device, plan)
		if err != nil {
			return nil, err
		}
		workers = append(workers, &worker{harness: NewHarness(device, e.store), bufs: workerBufs})
	}
	return workerspool.New(workers...), nil
}
