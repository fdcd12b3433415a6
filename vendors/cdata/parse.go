package cdata

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ponwatch/ponwatch/types"
	"github.com/ponwatch/ponwatch/vendors/common"
)

// stateEntry is one row of a "show gpon onu state" listing.
type stateEntry struct {
	Slot   int
	Port   int
	Index  int
	Serial string // empty in the all-ports listing
	Phase  string
}

func (e stateEntry) portName() string {
	return common.PortName(e.Slot, e.Port)
}

func (e stateEntry) status() types.Status {
	if strings.EqualFold(e.Phase, "working") {
		return types.StatusOnline
	}
	return types.StatusOffline
}

// Fixed-width listing across all ports:
//
//	PON       ONU     Phase State
//	--------- ------- -----------
//	0/1       1       working
//	0/1       2       los
var allStateRe = regexp.MustCompile(`^\s*(\d+)/(\d+)\s+(\d+)\s+(\S+)\s*$`)

// parseAllStates parses the chassis-wide state listing, keeping rows
// grouped by PON port in first-seen order.
func parseAllStates(output string) ([]string, map[string][]stateEntry) {
	byPort := make(map[string][]stateEntry)
	var order []string

	for _, line := range strings.Split(common.StripANSI(output), "\n") {
		m := allStateRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		slot, _ := strconv.Atoi(m[1])
		port, _ := strconv.Atoi(m[2])
		index, _ := strconv.Atoi(m[3])
		e := stateEntry{Slot: slot, Port: port, Index: index, Phase: m[4]}

		p := e.portName()
		if _, seen := byPort[p]; !seen {
			order = append(order, p)
		}
		byPort[p] = append(byPort[p], e)
	}
	return order, byPort
}

// Per-port listing carries the serial as well:
//
//	ONU     Serial-Number      Phase State
//	------- ------------------ -----------
//	1       CDAT12345678       working
var portStateRe = regexp.MustCompile(`^\s*(\d+)\s+([A-Za-z0-9]{8,16})\s+(\S+)\s*$`)

func parsePortStates(output, portName string) []stateEntry {
	slot, port := splitPortName(portName)
	var entries []stateEntry
	for _, line := range strings.Split(common.StripANSI(output), "\n") {
		m := portStateRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		index, _ := strconv.Atoi(m[1])
		entries = append(entries, stateEntry{
			Slot:   slot,
			Port:   port,
			Index:  index,
			Serial: common.DecodeSerial(m[2]),
			Phase:  m[3],
		})
	}
	return entries
}

func splitPortName(portName string) (slot, port int) {
	parts := strings.SplitN(portName, "/", 2)
	if len(parts) == 2 {
		slot, _ = strconv.Atoi(parts[0])
		port, _ = strconv.Atoi(parts[1])
	}
	return
}

var (
	detailLabelRe = regexp.MustCompile(`^\s*([A-Za-z][A-Za-z0-9 ()/\-]*?)\s*:\s*(.*?)\s*$`)
	eventRowRe    = regexp.MustCompile(`^\s*\d+\s+(\S+ \S+|\S+)\s+(\S+ \S+|\S+)\s+(\S.*?)\s*$`)
	powerValueRe  = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
)

const eventTimeLayout = "2006-01-02 15:04:05"

// defaultZeroTimestamp matches the sentinel the firmware prints for "never".
var defaultZeroTimestamp = regexp.MustCompile(`^0000-00-00`)

// parseDetail extracts the labeled fields and the event-history table from
// one "show gpon onu detail-info" reply. Unknown labels are ignored;
// missing values stay zero. zeroTS identifies the device's null-timestamp
// sentinel; rows carrying it contribute nothing.
func parseDetail(output string, zeroTS *regexp.Regexp) *types.Detail {
	if zeroTS == nil {
		zeroTS = defaultZeroTimestamp
	}

	d := &types.Detail{}
	inHistory := false

	for _, line := range strings.Split(common.StripANSI(output), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if inHistory {
			if m := eventRowRe.FindStringSubmatch(line); m != nil {
				if ts := parseEventTime(m[1], zeroTS); ts != nil {
					d.LastAuthAt = ts
				}
				if ts := parseEventTime(m[2], zeroTS); ts != nil {
					d.LastOfflineAt = ts
				}
			}
			continue
		}
		if strings.HasPrefix(strings.ToLower(trimmed), "event history") {
			inHistory = true
			continue
		}

		m := detailLabelRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		value := m[2]
		switch normalizeLabel(m[1]) {
		case "name":
			d.Name = value
		case "type", "onu type":
			d.Model = value
		case "phase state":
			d.PhaseState = value
		case "admin state":
			d.AdminState = value
		case "config state":
			d.ConfigState = value
		case "auth mode":
			d.AuthMode = value
		case "serial number", "sn":
			d.SerialBinding = common.DecodeSerial(value)
		case "mac address":
			d.MAC = common.NormalizeMAC(value)
		case "dba mode":
			d.DBAMode = value
		case "online duration":
			d.OnlineDuration = value
		case "current channel":
			d.Channel = value
		case "line profile":
			d.LineProfile = value
		case "service profile":
			d.ServiceProfile = value
		case "distance(m)", "distance":
			d.DistanceM, _ = strconv.Atoi(powerValueRe.FindString(value))
		case "rx power(dbm)", "rx optical power(dbm)":
			d.RxPower = parsePower(value)
		case "tx power(dbm)", "tx optical power(dbm)":
			d.TxPower = parsePower(value)
		}
	}
	return d
}

func normalizeLabel(label string) string {
	return strings.ToLower(strings.Join(strings.Fields(label), " "))
}

func parsePower(value string) *float64 {
	s := powerValueRe.FindString(value)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseEventTime(value string, zeroTS *regexp.Regexp) *time.Time {
	if zeroTS.MatchString(value) {
		return nil
	}
	ts, err := time.Parse(eventTimeLayout, value)
	if err != nil {
		return nil
	}
	return &ts
}
