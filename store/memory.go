// Package store provides the persistence backends for the discovery
// engine: postgres for production, memory for tests and dev mode.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ponwatch/ponwatch/types"
)

// Memory keeps everything in mutex-guarded maps. Records are copied on
// the way in and out so callers never share memory with the store.
type Memory struct {
	mu        sync.RWMutex
	devices   map[int64]types.Device
	terminals map[int64]map[string]types.StoredTerminal
	runs      map[int64]types.Run
}

func NewMemory() *Memory {
	return &Memory{
		devices:   make(map[int64]types.Device),
		terminals: make(map[int64]map[string]types.StoredTerminal),
		runs:      make(map[int64]types.Run),
	}
}

// AddDevice registers a device. Test and dev-mode seeding helper.
func (m *Memory) AddDevice(d types.Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[d.ID] = d
}

func (m *Memory) Device(ctx context.Context, id int64) (types.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[id]
	if !ok {
		return types.Device{}, fmt.Errorf("device %d not found", id)
	}
	return d, nil
}

func (m *Memory) Devices(ctx context.Context) ([]types.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	devices := make([]types.Device, 0, len(m.devices))
	for _, d := range m.devices {
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices, nil
}

func (m *Memory) BySerial(ctx context.Context, deviceID int64, serial string) (*types.StoredTerminal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.terminals[deviceID][serial]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *Memory) Insert(ctx context.Context, t *types.StoredTerminal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byDevice, ok := m.terminals[t.DeviceID]
	if !ok {
		byDevice = make(map[string]types.StoredTerminal)
		m.terminals[t.DeviceID] = byDevice
	}
	if _, exists := byDevice[t.Serial]; exists {
		return fmt.Errorf("terminal %s already exists on device %d", t.Serial, t.DeviceID)
	}
	byDevice[t.Serial] = *t
	return nil
}

func (m *Memory) Update(ctx context.Context, t *types.StoredTerminal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byDevice, ok := m.terminals[t.DeviceID]
	if !ok {
		return fmt.Errorf("terminal %s not found on device %d", t.Serial, t.DeviceID)
	}
	if _, exists := byDevice[t.Serial]; !exists {
		return fmt.Errorf("terminal %s not found on device %d", t.Serial, t.DeviceID)
	}
	byDevice[t.Serial] = *t
	return nil
}

func (m *Memory) ByDevice(ctx context.Context, deviceID int64) ([]*types.StoredTerminal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byDevice := m.terminals[deviceID]
	terminals := make([]*types.StoredTerminal, 0, len(byDevice))
	for _, t := range byDevice {
		t := t
		terminals = append(terminals, &t)
	}
	sort.Slice(terminals, func(i, j int) bool {
		if terminals[i].Port != terminals[j].Port {
			return terminals[i].Port < terminals[j].Port
		}
		return terminals[i].Index < terminals[j].Index
	})
	return terminals, nil
}

func (m *Memory) Upsert(ctx context.Context, run types.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.DeviceID] = run
	return nil
}

func (m *Memory) Get(ctx context.Context, deviceID int64) (*types.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[deviceID]
	if !ok {
		return nil, nil
	}
	return &run, nil
}

func (m *Memory) All(ctx context.Context) ([]types.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	runs := make([]types.Run, 0, len(m.runs))
	for _, run := range m.runs {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].DeviceID < runs[j].DeviceID })
	return runs, nil
}
