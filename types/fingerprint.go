package types

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Fingerprint computes a stable content hash over the mutable fields of a
// discovered terminal. Two terminals with equal fingerprints are treated as
// identical for persistence purposes, so an unchanged device produces zero
// repository writes cycle after cycle.
func Fingerprint(t Terminal) string {
	fields := []string{
		t.Serial,
		t.MAC,
		t.Port,
		strconv.Itoa(t.Index),
		string(t.Status),
		formatPower(t.RxPower),
		formatPower(t.TxPower),
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(sum[:])
}

func formatPower(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'f', 2, 64)
}
