// Package engine runs one continuous discovery loop and one enrichment
// worker per device, persisting terminal records through fingerprint
// diffing so unchanged cycles cost no writes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ponwatch/ponwatch/metrics"
	"github.com/ponwatch/ponwatch/types"
)

// DeviceRegistry is the read-only view of registered OLTs.
type DeviceRegistry interface {
	Device(ctx context.Context, id int64) (types.Device, error)
	Devices(ctx context.Context) ([]types.Device, error)
}

// TerminalStore persists discovered terminals. BySerial returns
// (nil, nil) for an unknown serial.
type TerminalStore interface {
	BySerial(ctx context.Context, deviceID int64, serial string) (*types.StoredTerminal, error)
	Insert(ctx context.Context, t *types.StoredTerminal) error
	Update(ctx context.Context, t *types.StoredTerminal) error
	ByDevice(ctx context.Context, deviceID int64) ([]*types.StoredTerminal, error)
}

// RunStore persists per-device discovery progress, one row per device.
type RunStore interface {
	Upsert(ctx context.Context, run types.Run) error
	Get(ctx context.Context, deviceID int64) (*types.Run, error)
	All(ctx context.Context) ([]types.Run, error)
}

// DriverFactory builds the vendor driver for a device. Injected so tests
// can substitute fakes for real network drivers.
type DriverFactory func(device types.Device) (types.Driver, error)

// Options carries the engine tunables. The zero value selects the
// defaults below.
type Options struct {
	CycleInterval     time.Duration // between successful cycles, default 5s
	ErrorBackoff      time.Duration // after a failed cycle, default 30s
	EnrichConcurrency int           // parallel detail fetches, default 3
	EnrichAttempts    int           // failures before a job is dropped, default 3

	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.CycleInterval <= 0 {
		o.CycleInterval = 5 * time.Second
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = 30 * time.Second
	}
	if o.EnrichConcurrency <= 0 {
		o.EnrichConcurrency = 3
	}
	if o.EnrichAttempts <= 0 {
		o.EnrichAttempts = 3
	}
	return o
}

var ErrShutdown = errors.New("engine is shut down")

// Engine is the discovery orchestrator. Construct once at process start
// and share by reference.
type Engine struct {
	devices   DeviceRegistry
	terminals TerminalStore
	runs      RunStore
	newDriver DriverFactory
	opts      Options
	log       zerolog.Logger

	mu       sync.Mutex
	loops    map[int64]*loop
	shutdown bool
}

func New(devices DeviceRegistry, terminals TerminalStore, runs RunStore, factory DriverFactory, opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		devices:   devices,
		terminals: terminals,
		runs:      runs,
		newDriver: factory,
		opts:      opts,
		log:       opts.Logger.With().Str("component", "engine").Logger(),
		loops:     make(map[int64]*loop),
	}
}

// StartDiscovery launches the continuous loop and enrichment worker for
// one device. A no-op if the device is already running.
func (e *Engine) StartDiscovery(ctx context.Context, deviceID int64) error {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return ErrShutdown
	}
	if _, running := e.loops[deviceID]; running {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	device, err := e.devices.Device(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("load device %d: %w", deviceID, err)
	}
	driver, err := e.newDriver(device)
	if err != nil {
		return fmt.Errorf("build driver for device %d: %w", deviceID, err)
	}

	l := &loop{
		device:    device,
		driver:    driver,
		startedAt: time.Now(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		enrich:    newEnricher(device, driver, e.terminals, e.opts, e.log),
	}

	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		driver.Close()
		return ErrShutdown
	}
	if _, running := e.loops[deviceID]; running {
		e.mu.Unlock()
		driver.Close()
		return nil
	}
	e.loops[deviceID] = l
	e.mu.Unlock()

	if err := e.runs.Upsert(ctx, types.Run{DeviceID: deviceID, Status: types.RunRunning, StartedAt: l.startedAt}); err != nil {
		e.log.Warn().Err(err).Int64("device_id", deviceID).Msg("run upsert failed at start")
	}

	go l.enrich.run()
	go e.runLoop(l)
	return nil
}

// StopDiscovery stops the device's loop and worker: sets the stop flag,
// drains in-flight enrichment, marks the run stopped and waits for the
// loop's current iteration to finish.
func (e *Engine) StopDiscovery(ctx context.Context, deviceID int64) error {
	e.mu.Lock()
	l, running := e.loops[deviceID]
	if running {
		delete(e.loops, deviceID)
	}
	e.mu.Unlock()
	if !running {
		return nil
	}

	l.requestStop()
	l.enrich.stop()
	<-l.done
	l.driver.Close()

	now := time.Now()
	run := types.Run{DeviceID: deviceID, Status: types.RunStopped, CompletedAt: &now}
	if prev, err := e.runs.Get(ctx, deviceID); err == nil && prev != nil {
		run.StartedAt = prev.StartedAt
		run.LastCycleAt = prev.LastCycleAt
		run.Discovered, run.Updated, run.Skipped = prev.Discovered, prev.Updated, prev.Skipped
	}
	return e.runs.Upsert(ctx, run)
}

// Status returns the discovery run for one device, nil if none exists.
func (e *Engine) Status(ctx context.Context, deviceID int64) (*types.Run, error) {
	return e.runs.Get(ctx, deviceID)
}

// StatusAll returns every device's discovery run.
func (e *Engine) StatusAll(ctx context.Context) ([]types.Run, error) {
	return e.runs.All(ctx)
}

// DiscoverOnce performs a single discovery pass outside the continuous
// loop, for manual "discover now" actions.
func (e *Engine) DiscoverOnce(ctx context.Context, device types.Device, onBatch types.BatchFunc) ([]types.Terminal, error) {
	driver, err := e.newDriver(device)
	if err != nil {
		return nil, err
	}
	defer driver.Close()
	return driver.Discover(ctx, onBatch)
}

// Detail performs an on-demand deep query for one terminal, independent
// of the background loops.
func (e *Engine) Detail(ctx context.Context, device types.Device, port string, index int) (*types.Detail, error) {
	driver, err := e.newDriver(device)
	if err != nil {
		return nil, err
	}
	defer driver.Close()
	return driver.Detail(ctx, port, index)
}

// InitializeAllActiveDevices starts discovery for every registered
// device and enqueues enrichment for stored terminals that have a
// logical index but no detail yet.
func (e *Engine) InitializeAllActiveDevices(ctx context.Context) error {
	devices, err := e.devices.Devices(ctx)
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	for _, device := range devices {
		if err := e.StartDiscovery(ctx, device.ID); err != nil {
			e.log.Warn().Err(err).Int64("device_id", device.ID).Msg("start discovery failed")
			continue
		}

		stored, err := e.terminals.ByDevice(ctx, device.ID)
		if err != nil {
			e.log.Warn().Err(err).Int64("device_id", device.ID).Msg("cold-start terminal listing failed")
			continue
		}
		e.mu.Lock()
		l := e.loops[device.ID]
		e.mu.Unlock()
		if l == nil {
			continue
		}
		for _, t := range stored {
			if !t.HasDetail() && t.Index > 0 {
				l.enrich.enqueue(t.Serial)
			}
		}
	}
	return nil
}

// Shutdown stops all enrichment workers first, then every discovery
// loop, and returns once everything has exited.
func (e *Engine) Shutdown(ctx context.Context) {
	e.mu.Lock()
	e.shutdown = true
	loops := make([]*loop, 0, len(e.loops))
	for _, l := range e.loops {
		loops = append(loops, l)
	}
	e.loops = make(map[int64]*loop)
	e.mu.Unlock()

	for _, l := range loops {
		l.enrich.stop()
	}
	for _, l := range loops {
		l.requestStop()
	}
	for _, l := range loops {
		<-l.done
		l.driver.Close()
		now := time.Now()
		if err := e.runs.Upsert(ctx, types.Run{DeviceID: l.device.ID, Status: types.RunStopped, CompletedAt: &now}); err != nil {
			e.log.Warn().Err(err).Int64("device_id", l.device.ID).Msg("run upsert failed at shutdown")
		}
	}
	e.log.Info().Int("loops", len(loops)).Msg("engine shut down")
}
