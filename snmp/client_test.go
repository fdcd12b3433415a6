package snmp

import "testing"

func TestIndexSuffix(t *testing.T) {
	tests := []struct {
		name   string
		full   string
		prefix string
		want   string
	}{
		{"leading dot on both", ".1.3.6.1.4.1.17409.2.3.4.1.1.3.16843009", ".1.3.6.1.4.1.17409.2.3.4.1.1.3", "16843009"},
		{"gosnmp adds dot", ".1.3.6.1.4.1.17409.2.3.4.1.1.3.5.2", "1.3.6.1.4.1.17409.2.3.4.1.1.3", "5.2"},
		{"multi component index", ".1.2.3.4.10.20.30", "1.2.3.4", "10.20.30"},
		{"prefix mismatch falls back to full oid", ".9.9.9.1", "1.2.3", "9.9.9.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := indexSuffix(tt.full, tt.prefix); got != tt.want {
				t.Errorf("indexSuffix(%q, %q) = %q, want %q", tt.full, tt.prefix, got, tt.want)
			}
		})
	}
}
