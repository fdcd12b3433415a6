package cdata

// C-Data GPON OLT SNMP OIDs (FD11xx/FD16xx series).
// Enterprise OID: 1.3.6.1.4.1.17409
//
// The ONU tables are indexed by a single 32-bit ifIndex that packs the
// full physical address of the ONU.

const (
	// ONU table (1.3.6.1.4.1.17409.2.3.4.1.1), indexed by ifIndex.
	OIDOnuSerial     = "1.3.6.1.4.1.17409.2.3.4.1.1.3"  // serial, ASCII or hex pairs
	OIDOnuMAC        = "1.3.6.1.4.1.17409.2.3.4.1.1.5"  // hardware address
	OIDOnuPhaseState = "1.3.6.1.4.1.17409.2.3.4.1.1.7"  // INTEGER, 3 = working
	OIDOnuDistance   = "1.3.6.1.4.1.17409.2.3.4.1.1.25" // meters

	// ONU optical table (1.3.6.1.4.1.17409.2.3.4.2.1), same index.
	// Values in hundredths of a dBm; 2147483647 when offline.
	OIDOnuRxPower = "1.3.6.1.4.1.17409.2.3.4.2.1.4"
	OIDOnuTxPower = "1.3.6.1.4.1.17409.2.3.4.2.1.5"
)

// PhaseWorking is the phase-state integer for an ONU in service. Every
// other value (initial, standby, los, dying-gasp...) maps to offline.
const PhaseWorking int64 = 3

// EncodeIfIndex packs an ONU address into the C-Data 32-bit ifIndex:
// shelf, slot, port and ONU ID each occupy one byte, high to low.
func EncodeIfIndex(shelf, slot, port, onuID int) uint32 {
	return uint32(shelf&0xFF)<<24 | uint32(slot&0xFF)<<16 | uint32(port&0xFF)<<8 | uint32(onuID&0xFF)
}

// DecodeIfIndex is the inverse of EncodeIfIndex.
func DecodeIfIndex(index uint32) (shelf, slot, port, onuID int) {
	shelf = int(index >> 24 & 0xFF)
	slot = int(index >> 16 & 0xFF)
	port = int(index >> 8 & 0xFF)
	onuID = int(index & 0xFF)
	return
}
