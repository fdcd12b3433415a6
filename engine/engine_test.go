package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ponwatch/ponwatch/store"
	"github.com/ponwatch/ponwatch/types"
)

type fakeDriver struct {
	mu          sync.Mutex
	terminals   []types.Terminal
	discoverErr error
	details     map[string]*types.Detail
	detailErr   error
	detailCalls atomic.Int32
	closed      bool
}

func (f *fakeDriver) Discover(ctx context.Context, onBatch types.BatchFunc) ([]types.Terminal, error) {
	f.mu.Lock()
	terminals := append([]types.Terminal(nil), f.terminals...)
	err := f.discoverErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if onBatch != nil {
		if err := onBatch(ctx, terminals); err != nil {
			return nil, err
		}
	}
	return terminals, nil
}

func (f *fakeDriver) Detail(ctx context.Context, port string, index int) (*types.Detail, error) {
	f.detailCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.detailErr != nil {
		return nil, f.detailErr
	}
	if det, ok := f.details[fmt.Sprintf("%s#%d", port, index)]; ok {
		return det, nil
	}
	return nil, errors.New("no such terminal")
}

func (f *fakeDriver) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeDriver) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeDriver) setDiscovery(terminals []types.Terminal, err error) {
	f.mu.Lock()
	f.terminals = terminals
	f.discoverErr = err
	f.mu.Unlock()
}

// countingStore counts writes going through to the wrapped store.
type countingStore struct {
	TerminalStore
	inserts atomic.Int32
	updates atomic.Int32
}

func (s *countingStore) Insert(ctx context.Context, t *types.StoredTerminal) error {
	s.inserts.Add(1)
	return s.TerminalStore.Insert(ctx, t)
}

func (s *countingStore) Update(ctx context.Context, t *types.StoredTerminal) error {
	s.updates.Add(1)
	return s.TerminalStore.Update(ctx, t)
}

func testOptions() Options {
	return Options{
		CycleInterval: 10 * time.Millisecond,
		ErrorBackoff:  20 * time.Millisecond,
		Logger:        zerolog.Nop(),
	}
}

func staticFactory(d types.Driver) DriverFactory {
	return func(types.Device) (types.Driver, error) { return d, nil }
}

func TestDiscoverySkipInvariant(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.AddDevice(types.Device{ID: 1, Name: "olt-1", Vendor: types.VendorCData})
	terminals := &countingStore{TerminalStore: mem}
	driver := &fakeDriver{terminals: []types.Terminal{
		{Serial: "CDAT00000001", Port: "0/1", Status: types.StatusOnline},
		{Serial: "CDAT00000002", Port: "0/1", Status: types.StatusOffline},
	}}

	e := New(mem, terminals, mem, staticFactory(driver), testOptions())
	require.NoError(t, e.StartDiscovery(ctx, 1))
	defer e.Shutdown(ctx)

	// Second and later cycles see an unchanged device: everything skipped.
	require.Eventually(t, func() bool {
		run, err := e.Status(ctx, 1)
		return err == nil && run != nil && run.CompletedAt != nil && run.Skipped == 2
	}, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, int32(2), terminals.inserts.Load())
	require.Zero(t, terminals.updates.Load(), "unchanged device must produce zero writes")
}

func TestDiscoveryPersistsChanges(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.AddDevice(types.Device{ID: 1, Name: "olt-1", Vendor: types.VendorCData})
	terminals := &countingStore{TerminalStore: mem}
	driver := &fakeDriver{terminals: []types.Terminal{
		{Serial: "CDAT00000001", Port: "0/1", Status: types.StatusOnline},
	}}

	e := New(mem, terminals, mem, staticFactory(driver), testOptions())
	require.NoError(t, e.StartDiscovery(ctx, 1))
	defer e.Shutdown(ctx)

	require.Eventually(t, func() bool {
		return terminals.inserts.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)

	// The terminal goes offline; the fingerprint changes and the record
	// is updated in place.
	driver.setDiscovery([]types.Terminal{
		{Serial: "CDAT00000001", Port: "0/1", Status: types.StatusOffline},
	}, nil)

	require.Eventually(t, func() bool {
		stored, err := mem.BySerial(ctx, 1, "CDAT00000001")
		return err == nil && stored != nil && stored.Status == types.StatusOffline
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, int32(1), terminals.inserts.Load())
}

func TestDiscoveryLoopSelfHeals(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.AddDevice(types.Device{ID: 1, Name: "olt-1", Vendor: types.VendorCData})
	driver := &fakeDriver{discoverErr: errors.New("connection refused")}

	e := New(mem, mem, mem, staticFactory(driver), testOptions())
	require.NoError(t, e.StartDiscovery(ctx, 1))
	defer e.Shutdown(ctx)

	require.Eventually(t, func() bool {
		run, err := e.Status(ctx, 1)
		return err == nil && run != nil && run.Status == types.RunError
	}, 2*time.Second, 5*time.Millisecond)

	driver.setDiscovery([]types.Terminal{
		{Serial: "CDAT00000001", Port: "0/1", Status: types.StatusOnline},
	}, nil)

	require.Eventually(t, func() bool {
		run, err := e.Status(ctx, 1)
		return err == nil && run != nil && run.Status == types.RunRunning && run.Discovered == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestEnrichmentAppliesDetail(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.AddDevice(types.Device{ID: 1, Name: "olt-1", Vendor: types.VendorCData})
	driver := &fakeDriver{
		terminals: []types.Terminal{
			{Serial: "CDAT00000001", Port: "0/1", Index: 1, Status: types.StatusOnline},
		},
		details: map[string]*types.Detail{
			"0/1#1": {Name: "customer-17", Model: "FD511G"},
		},
	}

	e := New(mem, mem, mem, staticFactory(driver), testOptions())
	require.NoError(t, e.StartDiscovery(ctx, 1))
	defer e.Shutdown(ctx)

	require.Eventually(t, func() bool {
		stored, err := mem.BySerial(ctx, 1, "CDAT00000001")
		return err == nil && stored != nil && stored.Name == "customer-17"
	}, 2*time.Second, 5*time.Millisecond)

	// Once enriched, later unchanged cycles must not fetch again.
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, int32(1), driver.detailCalls.Load())
}

func TestStopDiscovery(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.AddDevice(types.Device{ID: 1, Name: "olt-1", Vendor: types.VendorCData})
	driver := &fakeDriver{}

	e := New(mem, mem, mem, staticFactory(driver), testOptions())
	require.NoError(t, e.StartDiscovery(ctx, 1))
	// Starting a running device is a no-op.
	require.NoError(t, e.StartDiscovery(ctx, 1))

	require.NoError(t, e.StopDiscovery(ctx, 1))
	require.True(t, driver.isClosed())

	run, err := e.Status(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, run)
	require.Equal(t, types.RunStopped, run.Status)

	// Stopping again is a no-op; restarting works.
	require.NoError(t, e.StopDiscovery(ctx, 1))
	require.NoError(t, e.StartDiscovery(ctx, 1))
	e.Shutdown(ctx)
}

func TestStartDiscoveryUnknownDevice(t *testing.T) {
	mem := store.NewMemory()
	e := New(mem, mem, mem, staticFactory(&fakeDriver{}), testOptions())
	require.Error(t, e.StartDiscovery(context.Background(), 42))
}

func TestShutdownRejectsNewStarts(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.AddDevice(types.Device{ID: 1, Name: "olt-1", Vendor: types.VendorCData})
	e := New(mem, mem, mem, staticFactory(&fakeDriver{}), testOptions())
	require.NoError(t, e.StartDiscovery(ctx, 1))
	e.Shutdown(ctx)

	require.ErrorIs(t, e.StartDiscovery(ctx, 1), ErrShutdown)
}

func TestInitializeAllActiveDevices(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.AddDevice(types.Device{ID: 1, Name: "olt-1", Vendor: types.VendorCData})
	mem.AddDevice(types.Device{ID: 2, Name: "olt-2", Vendor: types.VendorBDCOM})

	// A cold-start terminal with an index but no detail gets enriched.
	require.NoError(t, mem.Insert(ctx, &types.StoredTerminal{
		DeviceID: 1,
		Terminal: types.Terminal{Serial: "CDAT00000009", Port: "0/3", Index: 9, Status: types.StatusOnline},
	}))

	driver := &fakeDriver{
		details: map[string]*types.Detail{
			"0/3#9": {Name: "cold-start"},
		},
	}
	e := New(mem, mem, mem, staticFactory(driver), testOptions())
	require.NoError(t, e.InitializeAllActiveDevices(ctx))
	defer e.Shutdown(ctx)

	require.Eventually(t, func() bool {
		runs, err := e.StatusAll(ctx)
		return err == nil && len(runs) == 2
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		stored, err := mem.BySerial(ctx, 1, "CDAT00000009")
		return err == nil && stored != nil && stored.Name == "cold-start"
	}, 2*time.Second, 5*time.Millisecond)
}
