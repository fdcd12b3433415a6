package bdcom

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ponwatch/ponwatch/types"
	"github.com/ponwatch/ponwatch/vendors/common"
)

// briefEntry is one row of the per-port ONU listing.
type briefEntry struct {
	OnuID  int
	MAC    string
	Status string
}

// parseBriefList parses the whitespace-column ONU listing. The firmware
// shuffles columns between releases, so the parse is heuristic: a row is
// a leading integer ONU ID, the first MAC-shaped column is the hardware
// address, and the column after it is the status word.
func parseBriefList(output string) []briefEntry {
	var entries []briefEntry
	for _, line := range strings.Split(common.StripANSI(output), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		onuID, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		e := briefEntry{OnuID: onuID}
		for i := 1; i < len(fields); i++ {
			if mac := common.NormalizeMAC(fields[i]); mac != "" {
				e.MAC = mac
				if i+1 < len(fields) {
					e.Status = fields[i+1]
				}
				break
			}
		}
		if e.MAC == "" {
			continue
		}
		entries = append(entries, e)
	}
	return entries
}

// onlineStatuses are the brief-list status words that mean registered and
// passing traffic. Everything else is offline.
var onlineStatuses = map[string]bool{
	"auto-configured": true,
	"registered":      true,
	"online":          true,
	"up":              true,
}

func statusOf(word string) types.Status {
	if onlineStatuses[strings.ToLower(word)] {
		return types.StatusOnline
	}
	return types.StatusOffline
}

var (
	macLineRe      = regexp.MustCompile(`(?im)^\s*mac\s+address\s*:\s*(\S+)`)
	statusLineRe   = regexp.MustCompile(`(?im)^\s*status\s*:\s*(\S+)`)
	rxLineRe       = regexp.MustCompile(`(?im)^\s*received?\s+optical\s+power\s*:\s*(-?\d+(?:\.\d+)?)`)
	txLineRe       = regexp.MustCompile(`(?im)^\s*transmit(?:ted)?\s+optical\s+power\s*:\s*(-?\d+(?:\.\d+)?)`)
	distanceLineRe = regexp.MustCompile(`(?im)^\s*(?:rtt\s+)?distance\s*:\s*(\d+)`)
)

// parseOnuDetail extracts hardware address, refined state and optical
// readings from the per-ONU detail output.
func parseOnuDetail(output string) *types.Detail {
	output = common.StripANSI(output)
	d := &types.Detail{}
	if m := macLineRe.FindStringSubmatch(output); m != nil {
		d.MAC = common.NormalizeMAC(m[1])
	}
	if m := statusLineRe.FindStringSubmatch(output); m != nil {
		d.PhaseState = m[1]
	}
	if m := rxLineRe.FindStringSubmatch(output); m != nil {
		d.RxPower = parseFloat(m[1])
	}
	if m := txLineRe.FindStringSubmatch(output); m != nil {
		d.TxPower = parseFloat(m[1])
	}
	if m := distanceLineRe.FindStringSubmatch(output); m != nil {
		d.DistanceM, _ = strconv.Atoi(m[1])
	}
	return d
}

func parseFloat(s string) *float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

// serialFromMAC derives the terminal identity for EPON gear, which has
// no GPON-style serial: the compact uppercase hardware address.
func serialFromMAC(mac string) string {
	return strings.ReplaceAll(mac, ":", "")
}
