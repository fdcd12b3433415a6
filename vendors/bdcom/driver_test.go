package bdcom

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ponwatch/ponwatch/types"
)

func TestIfIndexShelfDefaultsToOne(t *testing.T) {
	index := EncodeIfIndex(2, 3, 4)
	shelf, slot, port, onu := DecodeIfIndex(index)
	if shelf != 1 {
		t.Errorf("shelf = %d, want 1", shelf)
	}
	if slot != 2 || port != 3 || onu != 4 {
		t.Errorf("decode gave %d/%d/%d", slot, port, onu)
	}
}

func TestParseBriefList(t *testing.T) {
	out := `show epon onu-information
OnuID   MacAddress       Status           Distance
-----   --------------   -------------    --------
1       aabb.ccdd.ee01   auto-configured  1250
2       aabb.ccdd.ee02   deregistered     0
not-a-row
`
	entries := parseBriefList(out)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].OnuID != 1 || entries[0].MAC != "AA:BB:CC:DD:EE:01" || entries[0].Status != "auto-configured" {
		t.Errorf("entry 0 = %+v", entries[0])
	}
	if statusOf(entries[0].Status) != types.StatusOnline {
		t.Error("auto-configured must map to online")
	}
	if statusOf(entries[1].Status) != types.StatusOffline {
		t.Error("deregistered must map to offline")
	}
}

func TestParseBriefListShuffledColumns(t *testing.T) {
	out := "3   P3310C   aabb.ccdd.ee03   registered   N/A\n"
	entries := parseBriefList(out)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].MAC != "AA:BB:CC:DD:EE:03" || entries[0].Status != "registered" {
		t.Errorf("entry = %+v", entries[0])
	}
}

const sampleOnuDetail = `MAC address: aabb.ccdd.ee01
Status: registered
Received optical power: -20.1 dBm
Transmitted optical power: 2.4 dBm
Distance: 1250 m
`

func TestParseOnuDetail(t *testing.T) {
	d := parseOnuDetail(sampleOnuDetail)
	if d.MAC != "AA:BB:CC:DD:EE:01" || d.PhaseState != "registered" {
		t.Errorf("mac/state = %q/%q", d.MAC, d.PhaseState)
	}
	if d.RxPower == nil || *d.RxPower != -20.1 {
		t.Errorf("rx = %v", d.RxPower)
	}
	if d.TxPower == nil || *d.TxPower != 2.4 {
		t.Errorf("tx = %v", d.TxPower)
	}
	if d.DistanceM != 1250 {
		t.Errorf("distance = %d", d.DistanceM)
	}
}

type fakeSNMP struct {
	walks map[string]map[string]interface{}
}

func (f *fakeSNMP) Get(ctx context.Context, oid string) (interface{}, error) {
	return nil, errors.New("no such oid")
}

func (f *fakeSNMP) Walk(ctx context.Context, prefix string) (map[string]interface{}, error) {
	if results, ok := f.walks[prefix]; ok {
		return results, nil
	}
	return nil, errors.New("walk failed")
}

func TestDiscoverSNMP(t *testing.T) {
	i1 := EncodeIfIndex(0, 1, 1)
	i2 := EncodeIfIndex(0, 2, 1)
	key := func(i uint32) string { return strconv.FormatUint(uint64(i), 10) }

	snmp := &fakeSNMP{walks: map[string]map[string]interface{}{
		OIDOnuMAC: {
			key(i1): []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0x01},
			key(i2): "aabb.ccdd.ee02",
		},
		OIDOnuStatus: {
			key(i1): int64(1),
			key(i2): int64(3),
		},
		OIDOnuRxPower: {
			key(i1): int64(-201),
		},
		OIDOnuTxPower: {
			key(i1): int64(24),
		},
	}}

	d := New(Config{
		Device: types.Device{ID: 9, Vendor: types.VendorBDCOM, SNMPEnabled: true},
		SNMP:   snmp,
		Logger: zerolog.Nop(),
	})
	terminals, err := d.Discover(context.Background(), nil)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(terminals) != 2 {
		t.Fatalf("got %d terminals, want 2", len(terminals))
	}

	if terminals[0].Serial != "AABBCCDDEE01" || terminals[0].Port != "0/1" || terminals[0].Index != 1 {
		t.Errorf("terminal 0 = %+v", terminals[0])
	}
	if terminals[0].Status != types.StatusOnline {
		t.Error("status 1 must map to online")
	}
	// Tenths of a dBm, not hundredths.
	if terminals[0].RxPower == nil || *terminals[0].RxPower != -20.1 {
		t.Errorf("terminal 0 rx = %v", terminals[0].RxPower)
	}
	if terminals[1].Status != types.StatusOffline || terminals[1].RxPower != nil {
		t.Errorf("terminal 1 = %+v", terminals[1])
	}
}

type fakeCLI struct {
	mu      sync.Mutex
	replies map[string]string
	fail    map[string]bool
	calls   []string
}

func (f *fakeCLI) Execute(ctx context.Context, command string, timeout time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, command)
	if f.fail[command] {
		return "", errors.New("command rejected")
	}
	return f.replies[command], nil
}

func (f *fakeCLI) Close() error { return nil }

func TestDiscoverCLISkipsFailedPorts(t *testing.T) {
	cli := &fakeCLI{
		replies: map[string]string{
			"show epon onu-information": "1   aabb.ccdd.ee01   registered\n",
			"show epon onu 1 detail-info": `Status: registered
Received optical power: -19.8 dBm
`,
		},
		fail: map[string]bool{"interface epon 0/2": true},
	}

	d := New(Config{
		Device: types.Device{ID: 9, Vendor: types.VendorBDCOM, TelnetEnabled: true, Slots: 1, PortsPerSlot: 2},
		DialCLI: func(ctx context.Context) (types.CLIExecutor, error) {
			return cli, nil
		},
		Logger: zerolog.Nop(),
	})

	var batches int
	terminals, err := d.Discover(context.Background(), func(ctx context.Context, batch []types.Terminal) error {
		batches++
		return nil
	})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	// Port 0/2 failed to enter and was skipped, not fatal.
	if len(terminals) != 1 {
		t.Fatalf("got %d terminals, want 1", len(terminals))
	}
	if terminals[0].Port != "0/1" || terminals[0].Serial != "AABBCCDDEE01" {
		t.Errorf("terminal = %+v", terminals[0])
	}
	if terminals[0].RxPower == nil || *terminals[0].RxPower != -19.8 {
		t.Errorf("rx = %v", terminals[0].RxPower)
	}
	if batches != 1 {
		t.Errorf("batches = %d, want 1", batches)
	}

	// The sub-context was exited after the successful port.
	joined := strings.Join(cli.calls, ";")
	if !strings.Contains(joined, "interface epon 0/1;show epon onu-information") {
		t.Errorf("call order wrong: %v", cli.calls)
	}
	if !strings.Contains(joined, "exit") {
		t.Errorf("port context never exited: %v", cli.calls)
	}
}

func TestDiscoverNeitherProtocol(t *testing.T) {
	d := New(Config{Device: types.Device{ID: 9}, Logger: zerolog.Nop()})
	_, err := d.Discover(context.Background(), nil)
	var ce *types.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("want ConfigError, got %v", err)
	}
}
