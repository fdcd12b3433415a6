// Package bdcom implements the sequential EPON polling strategy for
// BDCOM OLTs. Capacity is small enough that ports are walked one at a
// time over a single CLI session.
package bdcom

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ponwatch/ponwatch/types"
	"github.com/ponwatch/ponwatch/vendors/common"
)

const (
	cmdNoPaging  = "terminal length 0"
	cmdEnterPort = "interface epon %d/%d"
	cmdExit      = "exit"
	cmdListONUs  = "show epon onu-information"
	cmdOnuDetail = "show epon onu %d detail-info"
)

const (
	defaultPortsPerSlot = 8
	defaultBatchSize    = 20
	defaultTimeout      = 30 * time.Second
)

// Config wires a Driver to one device. SNMP and DialCLI may each be nil
// when the corresponding access is disabled.
type Config struct {
	Device  types.Device
	SNMP    types.SNMPExecutor
	DialCLI func(ctx context.Context) (types.CLIExecutor, error)

	BatchSize      int
	CommandTimeout time.Duration
	Logger         zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = defaultTimeout
	}
	return c
}

// Driver polls one BDCOM OLT.
type Driver struct {
	cfg Config
	log zerolog.Logger

	mu  sync.Mutex
	cli types.CLIExecutor
}

var _ types.Driver = (*Driver)(nil)

func New(cfg Config) *Driver {
	cfg = cfg.withDefaults()
	return &Driver{
		cfg: cfg,
		log: cfg.Logger.With().Str("vendor", string(types.VendorBDCOM)).Int64("device_id", cfg.Device.ID).Logger(),
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
	macs, err := d.cfg.SNMP.Walk(ctx, OIDOnuMAC)
	if err != nil {
		return nil, fmt.Errorf("walk onu mac table: %w", err)
	}

	statuses := d.walkOptional(ctx, OIDOnuStatus, "status")
	rxs := d.walkOptional(ctx, OIDOnuRxPower, "rx power")
	txs := d.walkOptional(ctx, OIDOnuTxPower, "tx power")

	terminals := make([]types.Terminal, 0, len(macs))
	for suffix, raw := range macs {
		ifIndex, err := strconv.ParseUint(suffix, 10, 32)
		if err != nil {
			continue
		}
		mac := common.NormalizeMAC(raw)
		if mac == "" {
			continue
		}
		_, slot, port, onuID := DecodeIfIndex(uint32(ifIndex))

		t := types.Terminal{
			Serial: serialFromMAC(mac),
			Port:   common.PortName(slot, port),
			Index:  onuID,
			MAC:    mac,
			Status: types.StatusOffline,
		}
		if v, ok := common.Lookup(statuses, suffix); ok {
			if s, ok := common.ToInt64(v); ok && s == statusRegistered {
				t.Status = types.StatusOnline
			}
		}
		if v, ok := common.Lookup(rxs, suffix); ok {
			if raw, ok := common.ToInt64(v); ok {
				t.RxPower = common.PowerFromTenths(raw)
			}
		}
		if v, ok := common.Lookup(txs, suffix); ok {
			if raw, ok := common.ToInt64(v); ok {
				t.TxPower = common.PowerFromTenths(raw)
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

func (d *Driver) walkOptional(ctx context.Context, oid, what string) map[string]interface{} {
	results, err := d.cfg.SNMP.Walk(ctx, oid)
	if err != nil {
		d.log.Warn().Err(err).Str("table", what).Msg("snmp walk failed, attribute left empty")
		return nil
	}
	return results
}

// discoverCLI walks every configured slot/port sequentially over one
// session. Port failures are logged and skipped.
func (d *Driver) discoverCLI(ctx context.Context, onBatch types.BatchFunc) ([]types.Terminal, error) {
	s, err := d.openSession(ctx)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	slots := d.cfg.Device.Slots
	if slots <= 0 {
		slots = 1
	}
	ports := d.cfg.Device.PortsPerSlot
	if ports <= 0 {
		ports = defaultPortsPerSlot
	}

	var all []types.Terminal
	for slot := 0; slot < slots; slot++ {
		for port := 1; port <= ports; port++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			terminals, err := d.pollPort(ctx, s, slot, port)
			if err != nil {
				d.log.Warn().Err(err).Str("port", common.PortName(slot, port)).Msg("port poll failed, skipping")
				continue
			}
			all = append(all, terminals...)
			if onBatch != nil && len(terminals) > 0 {
				if err := onBatch(ctx, terminals); err != nil {
					return nil, err
				}
			}
		}
	}
	return all, nil
}

// pollPort enters the port sub-context, lists its ONUs and fetches a
// detail per registered ONU. The sub-context is always exited before
// returning.
func (d *Driver) pollPort(ctx context.Context, s types.CLIExecutor, slot, port int) ([]types.Terminal, error) {
	if _, err := s.Execute(ctx, fmt.Sprintf(cmdEnterPort, slot, port), d.cfg.CommandTimeout); err != nil {
		return nil, fmt.Errorf("enter port context: %w", err)
	}
	defer s.Execute(ctx, cmdExit, d.cfg.CommandTimeout)

	out, err := s.Execute(ctx, cmdListONUs, d.cfg.CommandTimeout)
	if err != nil {
		return nil, fmt.Errorf("list onus: %w", err)
	}

	portName := common.PortName(slot, port)
	entries := parseBriefList(out)
	terminals := make([]types.Terminal, 0, len(entries))
	for _, e := range entries {
		t := types.Terminal{
			Serial: serialFromMAC(e.MAC),
			Port:   portName,
			Index:  e.OnuID,
			MAC:    e.MAC,
			Status: statusOf(e.Status),
		}
		if t.Status == types.StatusOnline {
			if det, err := d.fetchDetail(ctx, s, e.OnuID); err == nil {
				t.RxPower = det.RxPower
				t.TxPower = det.TxPower
				if det.PhaseState != "" {
					t.Status = statusOf(det.PhaseState)
				}
			} else {
				d.log.Debug().Err(err).Str("port", portName).Int("index", e.OnuID).Msg("detail fetch failed, keeping brief info")
			}
		}
		terminals = append(terminals, t)
	}
	return terminals, nil
}

// fetchDetail runs the per-ONU detail command inside an already entered
// port sub-context.
func (d *Driver) fetchDetail(ctx context.Context, s types.CLIExecutor, onuID int) (*types.Detail, error) {
	out, err := s.Execute(ctx, fmt.Sprintf(cmdOnuDetail, onuID), d.cfg.CommandTimeout)
	if err != nil {
		return nil, fmt.Errorf("onu detail %d: %w", onuID, err)
	}
	return parseOnuDetail(out), nil
}

// Detail fetches deep attributes for one terminal over a cached CLI
// session, reconnecting on the next call after a failure.
func (d *Driver) Detail(ctx context.Context, port string, index int) (*types.Detail, error) {
	if !d.cfg.Device.TelnetEnabled || d.cfg.DialCLI == nil {
		return nil, &types.ConfigError{Reason: "detail queries require CLI access"}
	}
	slot, portNum, err := splitPortName(port)
	if err != nil {
		return nil, err
	}

	s, err := d.detailSession(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.Execute(ctx, fmt.Sprintf(cmdEnterPort, slot, portNum), d.cfg.CommandTimeout); err != nil {
		d.dropSession()
		return nil, fmt.Errorf("enter port context: %w", err)
	}
	defer s.Execute(ctx, cmdExit, d.cfg.CommandTimeout)

	det, err := d.fetchDetail(ctx, s, index)
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

func (d *Driver) openSession(ctx context.Context) (types.CLIExecutor, error) {
	s, err := d.cfg.DialCLI(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.Execute(ctx, cmdNoPaging, d.cfg.CommandTimeout); err != nil {
		s.Close()
		return nil, fmt.Errorf("disable pagination: %w", err)
	}
	return s, nil
}

func splitPortName(name string) (slot, port int, err error) {
	parts := strings.SplitN(name, "/", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed port %q", name)
	}
	slot, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed port %q", name)
	}
	port, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed port %q", name)
	}
	return slot, port, nil
}

func sortTerminals(terminals []types.Terminal) {
	sort.Slice(terminals, func(i, j int) bool {
		if terminals[i].Port != terminals[j].Port {
			return terminals[i].Port < terminals[j].Port
		}
		return terminals[i].Index < terminals[j].Index
	})
}
