package bdcom

// BDCOM EPON OLT SNMP OIDs (P33xx/P36xx series).
// Enterprise OID: 1.3.6.1.4.1.3320

const (
	// ONU table (1.3.6.1.4.1.3320.101.10.1.1), indexed by ifIndex.
	OIDOnuMAC    = "1.3.6.1.4.1.3320.101.10.1.1.3"  // hardware address
	OIDOnuStatus = "1.3.6.1.4.1.3320.101.10.1.1.26" // INTEGER, 1 = registered

	// Optical diagnosis table, same index. Values in tenths of a dBm;
	// 2147483647 when the ONU is offline.
	OIDOnuRxPower = "1.3.6.1.4.1.3320.101.10.5.1.5"
	OIDOnuTxPower = "1.3.6.1.4.1.3320.101.10.5.1.6"
)

// statusRegistered is the status integer for a registered, working ONU.
const statusRegistered int64 = 1

// EncodeIfIndex packs an ONU address into the BDCOM ifIndex. EPON gear
// has no shelf concept, so only slot, port and ONU ID are encoded.
func EncodeIfIndex(slot, port, onuID int) uint32 {
	return uint32(slot&0xFF)<<16 | uint32(port&0xFF)<<8 | uint32(onuID&0xFF)
}

// DecodeIfIndex unpacks a BDCOM ifIndex. The shelf defaults to 1.
func DecodeIfIndex(index uint32) (shelf, slot, port, onuID int) {
	shelf = 1
	slot = int(index >> 16 & 0xFF)
	port = int(index >> 8 & 0xFF)
	onuID = int(index & 0xFF)
	return
}
