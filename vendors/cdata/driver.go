// Package cdata implements the bulk GPON polling strategy for C-Data
// OLTs. A chassis may carry thousands of ONUs, so CLI discovery fans a
// session pool out across PON ports instead of walking them one by one.
package cdata

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ponwatch/ponwatch/types"
	"github.com/ponwatch/ponwatch/vendors/common"
)

const (
	cmdNoPaging  = "terminal length 0"
	cmdStateAll  = "show gpon onu state"
	cmdStatePort = "show gpon onu state gpon %s"
	cmdDetail    = "show gpon onu detail-info gpon %s %d"
)

// Config wires a Driver to one device. SNMP and DialCLI may each be nil
// when the corresponding access is disabled on the device.
type Config struct {
	Device  types.Device
	SNMP    types.SNMPExecutor
	DialCLI func(ctx context.Context) (types.CLIExecutor, error)

	// PoolSize caps the CLI sessions opened for one discovery pass.
	PoolSize int
	// DetailConcurrency caps in-flight detail commands per port.
	DetailConcurrency int
	// BatchSize is the onBatch flush threshold.
	BatchSize int
	// CommandTimeout bounds each CLI command.
	CommandTimeout time.Duration
	// ZeroTimestamp matches the firmware's null-timestamp sentinel in
	// event-history rows.
	ZeroTimestamp *regexp.Regexp

	Logger zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.PoolSize <= 0 {
		c.PoolSize = 8
	}
	if c.DetailConcurrency <= 0 {
		c.DetailConcurrency = 5
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 30 * time.Second
	}
	if c.ZeroTimestamp == nil {
		c.ZeroTimestamp = defaultZeroTimestamp
	}
	return c
}

// Driver polls one C-Data OLT.
type Driver struct {
	cfg Config
	log zerolog.Logger

	mu  sync.Mutex
	cli types.CLIExecutor // cached session for detail queries
}

var _ types.Driver = (*Driver)(nil)

func New(cfg Config) *Driver {
	cfg = cfg.withDefaults()
	return &Driver{
		cfg: cfg,
		log: cfg.Logger.With().Str("vendor", string(types.VendorCData)).Int64("device_id", cfg.Device.ID).Logger(),
	}
}

// Discover polls the device once, SNMP first when enabled, falling back
// to the CLI strategy on SNMP failure.
func (d *Driver) Discover(ctx context.Context, onBatch types.BatchFunc) ([]types.Terminal, error) {
	snmpOK := d.cfg.Device.SNMPEnabled && d.cfg.SNMP != nil
	cliOK := d.cfg.Device.TelnetEnabled && d.cfg.DialCLI != nil

	switch {
	case snmpOK:
		terminals, err := d.discoverSNMP(ctx, onBatch)
		if err == nil {
			return terminals, nil
		}
		if !cliOK {
			return nil, fmt.Errorf("snmp discovery: %w", err)
		}
		d.log.Warn().Err(err).Msg("snmp discovery failed, falling back to cli")
		terminals, cliErr := d.discoverCLI(ctx, onBatch)
		if cliErr != nil {
			return nil, fmt.Errorf("snmp discovery: %v; cli fallback: %w", err, cliErr)
		}
		return terminals, nil
	case cliOK:
		return d.discoverCLI(ctx, onBatch)
	default:
		return nil, &types.ConfigError{Reason: "device has neither SNMP nor CLI access enabled"}
	}
}

func (d *Driver) discoverSNMP(ctx context.Context, onBatch types.BatchFunc) ([]types.Terminal, error) {
	serials, err := d.cfg.SNMP.Walk(ctx, OIDOnuSerial)
	if err != nil {
		return nil, fmt.Errorf("walk onu serial table: %w", err)
	}

	phases := d.walkOptional(ctx, OIDOnuPhaseState, "phase")
	macs := d.walkOptional(ctx, OIDOnuMAC, "mac")
	rxs := d.walkOptional(ctx, OIDOnuRxPower, "rx power")
	txs := d.walkOptional(ctx, OIDOnuTxPower, "tx power")

	terminals := make([]types.Terminal, 0, len(serials))
	for suffix, raw := range serials {
		ifIndex, err := strconv.ParseUint(suffix, 10, 32)
		if err != nil {
			continue
		}
		s, ok := common.ToString(raw)
		if !ok {
			continue
		}
		serial := common.DecodeSerial(s)
		if serial == "" {
			continue
		}
		_, slot, port, onuID := DecodeIfIndex(uint32(ifIndex))

		t := types.Terminal{
			Serial: serial,
			Port:   common.PortName(slot, port),
			Index:  onuID,
			Status: types.StatusOffline,
		}
		if v, ok := common.Lookup(phases, suffix); ok {
			if phase, ok := common.ToInt64(v); ok && phase == PhaseWorking {
				t.Status = types.StatusOnline
			}
		}
		if v, ok := common.Lookup(macs, suffix); ok {
			t.MAC = common.NormalizeMAC(v)
		}
		if v, ok := common.Lookup(rxs, suffix); ok {
			if raw, ok := common.ToInt64(v); ok {
				t.RxPower = common.PowerFromHundredths(raw)
			}
		}
		if v, ok := common.Lookup(txs, suffix); ok {
			if raw, ok := common.ToInt64(v); ok {
				t.TxPower = common.PowerFromHundredths(raw)
			}
		}
		terminals = append(terminals, t)
	}

	sortTerminals(terminals)

	if onBatch != nil {
		for start := 0; start < len(terminals); start += d.cfg.BatchSize {
			end := start + d.cfg.BatchSize
			if end > len(terminals) {
				end = len(terminals)
			}
			if err := onBatch(ctx, terminals[start:end]); err != nil {
				return nil, err
			}
		}
	}
	return terminals, nil
}

// walkOptional walks a secondary attribute table. Failures only cost the
// attribute, not the discovery pass.
func (d *Driver) walkOptional(ctx context.Context, oid, what string) map[string]interface{} {
	results, err := d.cfg.SNMP.Walk(ctx, oid)
	if err != nil {
		d.log.Warn().Err(err).Str("table", what).Msg("snmp walk failed, attribute left empty")
		return nil
	}
	return results
}

func (d *Driver) discoverCLI(ctx context.Context, onBatch types.BatchFunc) ([]types.Terminal, error) {
	boot, err := d.openSession(ctx)
	if err != nil {
		return nil, err
	}

	out, err := boot.Execute(ctx, cmdStateAll, d.cfg.CommandTimeout)
	if err != nil {
		boot.Close()
		return nil, classifyError(fmt.Errorf("list onu states: %w", err))
	}
	order, byPort := parseAllStates(out)
	if len(order) == 0 {
		boot.Close()
		return nil, nil
	}

	// The boot session joins the pool; extra sessions are best-effort.
	sessions := []types.CLIExecutor{boot}
	for len(sessions) < d.cfg.PoolSize && len(sessions) < len(order) {
		s, err := d.openSession(ctx)
		if err != nil {
			d.log.Warn().Err(err).Int("sessions", len(sessions)).Msg("cli pool short, continuing with fewer sessions")
			break
		}
		sessions = append(sessions, s)
	}
	defer func() {
		for _, s := range sessions {
			s.Close()
		}
	}()

	acc := &accumulator{onBatch: onBatch, size: d.cfg.BatchSize}
	ports := make(chan string)
	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s types.CLIExecutor) {
			defer wg.Done()
			for p := range ports {
				acc.add(ctx, d.pollPort(ctx, s, p, byPort[p]))
			}
		}(s)
	}

feed:
	for _, p := range order {
		select {
		case ports <- p:
		case <-ctx.Done():
			break feed
		}
	}
	close(ports)
	wg.Wait()

	if err := acc.finish(ctx); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terminals := acc.result()
	sortTerminals(terminals)
	return terminals, nil
}

// pollPort lists one PON port and decorates each online terminal with
// MAC and optical readings from its detail output.
func (d *Driver) pollPort(ctx context.Context, s types.CLIExecutor, portName string, expected []stateEntry) []types.Terminal {
	out, err := s.Execute(ctx, fmt.Sprintf(cmdStatePort, portName), d.cfg.CommandTimeout)
	var entries []stateEntry
	if err != nil {
		d.log.Warn().Err(err).Str("port", portName).Msg("port state listing failed")
	} else {
		entries = parsePortStates(out, portName)
	}
	if len(entries) == 0 && len(expected) > 0 {
		return d.pollPortSequential(ctx, s, portName, expected)
	}

	terminals := make([]types.Terminal, 0, len(entries))
	sem := make(chan struct{}, d.cfg.DetailConcurrency)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, e := range entries {
		if e.Serial == "" {
			continue
		}
		t := types.Terminal{Serial: e.Serial, Port: portName, Index: e.Index, Status: e.status()}
		if t.Status != types.StatusOnline {
			mu.Lock()
			terminals = append(terminals, t)
			mu.Unlock()
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(t types.Terminal) {
			defer wg.Done()
			defer func() { <-sem }()
			if det, err := d.fetchDetail(ctx, s, t.Port, t.Index); err == nil {
				t.MAC = det.MAC
				t.RxPower = det.RxPower
				t.TxPower = det.TxPower
			}
			mu.Lock()
			terminals = append(terminals, t)
			mu.Unlock()
		}(t)
	}
	wg.Wait()
	return terminals
}

// pollPortSequential recovers serials one terminal at a time when the
// bulk port listing yields nothing the chassis listing promised.
func (d *Driver) pollPortSequential(ctx context.Context, s types.CLIExecutor, portName string, expected []stateEntry) []types.Terminal {
	var terminals []types.Terminal
	for _, e := range expected {
		det, err := d.fetchDetail(ctx, s, portName, e.Index)
		if err != nil || det.SerialBinding == "" {
			d.log.Debug().Err(err).Str("port", portName).Int("index", e.Index).Msg("terminal skipped, no serial")
			continue
		}
		terminals = append(terminals, types.Terminal{
			Serial:  det.SerialBinding,
			Port:    portName,
			Index:   e.Index,
			MAC:     det.MAC,
			RxPower: det.RxPower,
			TxPower: det.TxPower,
			Status:  e.status(),
		})
	}
	return terminals
}

func (d *Driver) fetchDetail(ctx context.Context, s types.CLIExecutor, port string, index int) (*types.Detail, error) {
	out, err := s.Execute(ctx, fmt.Sprintf(cmdDetail, port, index), d.cfg.CommandTimeout)
	if err != nil {
		return nil, classifyError(fmt.Errorf("onu detail %s %d: %w", port, index, err))
	}
	return parseDetail(out, d.cfg.ZeroTimestamp), nil
}

// Detail fetches deep attributes for one terminal over a cached CLI
// session, reconnecting on the next call after a failure.
func (d *Driver) Detail(ctx context.Context, port string, index int) (*types.Detail, error) {
	if !d.cfg.Device.TelnetEnabled || d.cfg.DialCLI == nil {
		return nil, &types.ConfigError{Reason: "detail queries require CLI access"}
	}
	s, err := d.detailSession(ctx)
	if err != nil {
		return nil, err
	}
	det, err := d.fetchDetail(ctx, s, port, index)
	if err != nil {
		d.dropSession()
		return nil, err
	}
	return det, nil
}

func (d *Driver) detailSession(ctx context.Context) (types.CLIExecutor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cli != nil {
		return d.cli, nil
	}
	s, err := d.openSession(ctx)
	if err != nil {
		return nil, err
	}
	d.cli = s
	return s, nil
}

func (d *Driver) dropSession() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cli != nil {
		d.cli.Close()
		d.cli = nil
	}
}

// Close releases the cached detail session. Idempotent.
func (d *Driver) Close() error {
	d.dropSession()
	return nil
}

// openSession dials a CLI session and disables pagination on it.
func (d *Driver) openSession(ctx context.Context) (types.CLIExecutor, error) {
	s, err := d.cfg.DialCLI(ctx)
	if err != nil {
		return nil, classifyError(err)
	}
	if _, err := s.Execute(ctx, cmdNoPaging, d.cfg.CommandTimeout); err != nil {
		s.Close()
		return nil, classifyError(fmt.Errorf("disable pagination: %w", err))
	}
	return s, nil
}

func sortTerminals(terminals []types.Terminal) {
	sort.Slice(terminals, func(i, j int) bool {
		si, pi := splitPortName(terminals[i].Port)
		sj, pj := splitPortName(terminals[j].Port)
		if si != sj {
			return si < sj
		}
		if pi != pj {
			return pi < pj
		}
		return terminals[i].Index < terminals[j].Index
	})
}

// accumulator collects terminals from the pool workers and flushes full
// batches to onBatch. The first callback error sticks and aborts the pass.
type accumulator struct {
	mu      sync.Mutex
	onBatch types.BatchFunc
	size    int
	pending []types.Terminal
	got     []types.Terminal
	err     error
}

func (a *accumulator) add(ctx context.Context, terminals []types.Terminal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return
	}
	a.got = append(a.got, terminals...)
	if a.onBatch == nil {
		return
	}
	a.pending = append(a.pending, terminals...)
	for len(a.pending) >= a.size && a.err == nil {
		batch := make([]types.Terminal, a.size)
		copy(batch, a.pending)
		a.pending = a.pending[a.size:]
		a.err = a.onBatch(ctx, batch)
	}
}

// finish flushes the remainder and reports the sticky error.
func (a *accumulator) finish(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err == nil && a.onBatch != nil && len(a.pending) > 0 {
		a.err = a.onBatch(ctx, a.pending)
		a.pending = nil
	}
	return a.err
}

func (a *accumulator) result() []types.Terminal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.got
}
