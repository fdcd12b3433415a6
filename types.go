package ponwatch

// Re-export the core types so callers outside the discovery engine can
// depend on ponwatch.Driver, ponwatch.Terminal, etc. without importing
// the types sub-package.

import (
	"github.com/ponwatch/ponwatch/types"
)

type (
	Vendor       = types.Vendor
	Transport    = types.Transport
	Device       = types.Device
	Status       = types.Status
	Terminal     = types.Terminal
	Detail       = types.Detail
	Run          = types.Run
	RunStatus    = types.RunStatus
	BatchFunc    = types.BatchFunc
	Driver       = types.Driver
	CLIExecutor  = types.CLIExecutor
	SNMPExecutor = types.SNMPExecutor
)

const (
	VendorCData = types.VendorCData
	VendorBDCOM = types.VendorBDCOM

	TransportTelnet = types.TransportTelnet
	TransportSSH    = types.TransportSSH

	StatusOnline  = types.StatusOnline
	StatusOffline = types.StatusOffline

	RunRunning = types.RunRunning
	RunStopped = types.RunStopped
	RunError   = types.RunError
)
