package types

import (
	"context"
	"time"
)

// Vendor identifies the OLT vendor, which determines the command set,
// the SNMP OID family and the ifIndex packing scheme.
type Vendor string

const (
	// VendorCData covers C-Data GPON OLTs (FD1104S, FD1616GS series).
	// Bulk-capable: hundreds to thousands of ONUs per chassis.
	VendorCData Vendor = "cdata"

	// VendorBDCOM covers BDCOM EPON OLTs (P3310, P3608 series).
	// Smaller capacity, polled sequentially per PON port.
	VendorBDCOM Vendor = "bdcom"
)

// Transport selects the interactive shell transport for CLI access.
type Transport string

const (
	TransportTelnet Transport = "telnet"
	TransportSSH    Transport = "ssh"
)

// Device describes one registered OLT. It is owned by the device registry;
// the discovery core only reads it.
type Device struct {
	ID     int64
	Name   string
	Vendor Vendor
	Host   string

	// CLI access
	TelnetEnabled bool
	CLIPort       int
	CLITransport  Transport
	Username      string
	Password      string

	// SNMP access
	SNMPEnabled bool
	SNMPPort    int
	Community   string

	// Physical capacity, used by the sequential EPON strategy to know
	// which slot/port combinations exist.
	Slots        int
	PortsPerSlot int
}

// Status is the coarse operational state of a terminal.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Terminal is one ONU as seen during a single discovery cycle.
// Records are constructed fresh every cycle and never mutated.
type Terminal struct {
	Serial string
	// Port is the physical attachment point in "slot/port" form, e.g. "0/1".
	Port string
	// Index is the logical ONU index on the PON port, 0 if unknown.
	Index int
	// MAC is the normalized uppercase colon-separated hardware address,
	// empty if the device did not report one.
	MAC     string
	RxPower *float64
	TxPower *float64
	Status  Status
}

// StoredTerminal is the persisted superset of Terminal, owned by the
// terminal store. Detail fields are filled in by enrichment.
type StoredTerminal struct {
	DeviceID    int64
	Terminal
	Fingerprint string

	// Enrichment detail, nil/zero until fetched.
	Name           string
	Model          string
	AuthMode       string
	ConfigState    string
	DBAMode        string
	LineProfile    string
	ServiceProfile string
	Channel        string
	OnlineDuration string
	DistanceM      int
	LastAuthAt     *time.Time
	LastOfflineAt  *time.Time

	FirstSeenAt time.Time
	LastSeenAt  time.Time
}

// HasDetail reports whether enrichment has populated this record.
func (t *StoredTerminal) HasDetail() bool {
	return t.Name != "" || t.Model != ""
}

// Detail is the result of one deep per-terminal query.
type Detail struct {
	Name           string
	Model          string
	PhaseState     string
	AdminState     string
	ConfigState    string
	AuthMode       string
	SerialBinding  string
	DBAMode        string
	OnlineDuration string
	Channel        string
	LineProfile    string
	ServiceProfile string
	DistanceM      int
	MAC            string
	RxPower        *float64
	TxPower        *float64

	// Last non-zero timestamps from the device's event-history table.
	LastAuthAt    *time.Time
	LastOfflineAt *time.Time
}

// RunStatus is the lifecycle state of a device's discovery run.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunStopped RunStatus = "stopped"
	RunError   RunStatus = "error"
)

// Run is the per-device discovery progress row. At most one exists per
// device; it is upserted at loop start and after every cycle.
type Run struct {
	DeviceID    int64
	Status      RunStatus
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
	LastCycleAt *time.Time

	// Counters for the most recent cycle.
	Discovered int
	Updated    int
	Skipped    int
}

// BatchFunc receives discovered terminals in batches as a discovery pass
// progresses, so the caller can persist incrementally. Returning an error
// aborts the pass.
type BatchFunc func(ctx context.Context, batch []Terminal) error

// Driver produces a normalized terminal list for one device, choosing
// protocol and vendor strategy internally.
type Driver interface {
	// Discover polls the device once. If onBatch is non-nil it is invoked
	// as batches fill; the full list is returned either way.
	Discover(ctx context.Context, onBatch BatchFunc) ([]Terminal, error)

	// Detail fetches deep attributes for a single terminal identified by
	// its attachment point and logical index.
	Detail(ctx context.Context, port string, index int) (*Detail, error)

	// Close releases any cached connections. Idempotent.
	Close() error
}

// CLIExecutor abstracts a serialized interactive shell session. Vendor
// drivers depend on this rather than on a concrete transport.
type CLIExecutor interface {
	// Execute runs one command and returns its cleaned output. A prompt
	// timeout resolves with whatever output was buffered, not an error.
	Execute(ctx context.Context, command string, timeout time.Duration) (string, error)
	Close() error
}

// SNMPExecutor abstracts scalar and subtree SNMP queries.
type SNMPExecutor interface {
	Get(ctx context.Context, oid string) (interface{}, error)
	// Walk returns values keyed by the sub-OID suffix under prefix.
	Walk(ctx context.Context, prefix string) (map[string]interface{}, error)
}
