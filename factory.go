// Package ponwatch discovers and enriches subscriber terminals (ONUs)
// behind GPON and EPON OLTs over Telnet/SSH CLI and SNMP.
package ponwatch

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/ponwatch/ponwatch/session"
	"github.com/ponwatch/ponwatch/snmp"
	"github.com/ponwatch/ponwatch/types"
	"github.com/ponwatch/ponwatch/vendors/bdcom"
	"github.com/ponwatch/ponwatch/vendors/cdata"
)

// DriverOptions carries the poller tunables that are not part of the
// device record. The zero value selects every vendor default.
type DriverOptions struct {
	CommandTimeout    time.Duration
	PoolSize          int
	DetailConcurrency int
	BatchSize         int
	ZeroTimestamp     *regexp.Regexp
	Logger            zerolog.Logger
}

// NewDriver builds the vendor driver for one device, wiring up SNMP and
// CLI access from the device's enabled protocols.
func NewDriver(device types.Device, opts DriverOptions) (types.Driver, error) {
	var snmpExec types.SNMPExecutor
	if device.SNMPEnabled {
		snmpExec = snmp.NewClient(snmp.Config{
			Host:      device.Host,
			Port:      device.SNMPPort,
			Community: device.Community,
		})
	}

	var dialCLI func(ctx context.Context) (types.CLIExecutor, error)
	if device.TelnetEnabled {
		dialCLI = func(ctx context.Context) (types.CLIExecutor, error) {
			return session.Dial(session.Config{
				Host:      device.Host,
				Port:      device.CLIPort,
				Transport: device.CLITransport,
				Username:  device.Username,
				Password:  device.Password,
				Timeout:   opts.CommandTimeout,
			})
		}
	}

	switch device.Vendor {
	case types.VendorCData:
		return cdata.New(cdata.Config{
			Device:            device,
			SNMP:              snmpExec,
			DialCLI:           dialCLI,
			PoolSize:          opts.PoolSize,
			DetailConcurrency: opts.DetailConcurrency,
			BatchSize:         opts.BatchSize,
			CommandTimeout:    opts.CommandTimeout,
			ZeroTimestamp:     opts.ZeroTimestamp,
			Logger:            opts.Logger,
		}), nil
	case types.VendorBDCOM:
		return bdcom.New(bdcom.Config{
			Device:         device,
			SNMP:           snmpExec,
			DialCLI:        dialCLI,
			BatchSize:      opts.BatchSize,
			CommandTimeout: opts.CommandTimeout,
			Logger:         opts.Logger,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported vendor: %s", device.Vendor)
	}
}
