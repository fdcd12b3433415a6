package common

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// DecodeSerial normalizes an ONU serial number. Devices report serials
// either as plain ASCII ("CDAT12345678") or as hex byte pairs, optionally
// space separated ("43 44 41 54 ..."). Hex-encoded serials keep the 4-byte
// vendor ID as ASCII and the remaining 4 bytes as uppercase hex, matching
// how the serial is printed on the ONU label.
func DecodeSerial(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if isASCIISerial(s) {
		return s
	}

	compact := strings.ReplaceAll(s, " ", "")
	if len(compact) < 8 || len(compact)%2 != 0 {
		return s
	}
	b, err := hex.DecodeString(compact)
	if err != nil || len(b) < 4 {
		return s
	}

	vendor := make([]byte, 0, 4)
	for _, c := range b[:4] {
		if c < 32 || c > 126 {
			return s
		}
		vendor = append(vendor, c)
	}
	return string(vendor) + strings.ToUpper(hex.EncodeToString(b[4:]))
}

func isASCIISerial(s string) bool {
	if len(s) < 4 {
		return false
	}
	for i := 0; i < 4; i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	// A 16-char all-hex string is an encoded serial, not ASCII.
	return len(s) != 16 || !isHex(s)
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'A' || c > 'F') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

var macSeparators = regexp.MustCompile(`[:.\-\s]`)

// NormalizeMAC converts the hardware-address spellings seen in the wild -
// "aabbccddeeff", "aa:bb:cc:dd:ee:ff", "aabb.ccdd.eeff", raw 6-byte
// strings - to uppercase colon-separated hex. Returns "" for anything that
// is not a 6-byte address.
func NormalizeMAC(raw interface{}) string {
	var hexStr string
	switch v := raw.(type) {
	case []byte:
		if len(v) != 6 {
			return ""
		}
		hexStr = hex.EncodeToString(v)
	case string:
		cleaned := macSeparators.ReplaceAllString(strings.TrimSpace(v), "")
		if len(cleaned) == 6 && !isHex(cleaned) {
			// Raw bytes smuggled through a string.
			hexStr = hex.EncodeToString([]byte(cleaned))
		} else {
			hexStr = cleaned
		}
	default:
		return ""
	}

	if len(hexStr) != 12 || !isHex(hexStr) {
		return ""
	}
	hexStr = strings.ToUpper(hexStr)
	parts := make([]string, 6)
	for i := 0; i < 6; i++ {
		parts[i] = hexStr[i*2 : i*2+2]
	}
	return strings.Join(parts, ":")
}

// PowerFromHundredths converts a raw optical reading in hundredths of a
// dBm. The invalid-value marker yields nil.
func PowerFromHundredths(raw int64) *float64 {
	if raw == InvalidValue {
		return nil
	}
	v := float64(raw) / 100
	return &v
}

// PowerFromTenths converts a raw optical reading in tenths of a dBm.
func PowerFromTenths(raw int64) *float64 {
	if raw == InvalidValue {
		return nil
	}
	v := float64(raw) / 10
	return &v
}

// PortName renders a slot/port pair in the "slot/port" form used across
// CLI commands and stored records.
func PortName(slot, port int) string {
	return fmt.Sprintf("%d/%d", slot, port)
}
