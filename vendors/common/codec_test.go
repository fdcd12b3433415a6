package common

import "testing"

func TestDecodeSerial(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"ascii passthrough", "CDAT12345678", "CDAT12345678"},
		{"hex encoded", "434441541234ABCD", "CDAT1234ABCD"},
		{"space separated hex pairs", "43 44 41 54 12 34 ab cd", "CDAT1234ABCD"},
		{"huawei style", "48575443A1B2C3D4", "HWTCA1B2C3D4"},
		{"empty", "", ""},
		{"garbage left alone", "??", "??"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DecodeSerial(tt.in); got != tt.want {
				t.Errorf("DecodeSerial(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeMAC(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want string
	}{
		{"colon string", "aa:bb:cc:dd:ee:ff", "AA:BB:CC:DD:EE:FF"},
		{"bare hex pairs", "aabbccddeeff", "AA:BB:CC:DD:EE:FF"},
		{"dotted cisco form", "aabb.ccdd.eeff", "AA:BB:CC:DD:EE:FF"},
		{"dashes and spaces", "AA-BB-CC-DD-EE-FF", "AA:BB:CC:DD:EE:FF"},
		{"raw bytes", []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}, "AA:BB:CC:DD:EE:FF"},
		{"wrong length", "aabbcc", ""},
		{"not hex", "zz:bb:cc:dd:ee:ff", ""},
		{"nil-ish", 42, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeMAC(tt.in); got != tt.want {
				t.Errorf("NormalizeMAC(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestPowerConversions(t *testing.T) {
	if p := PowerFromHundredths(-2153); p == nil || *p != -21.53 {
		t.Errorf("PowerFromHundredths(-2153) = %v, want -21.53", p)
	}
	if p := PowerFromTenths(-215); p == nil || *p != -21.5 {
		t.Errorf("PowerFromTenths(-215) = %v, want -21.5", p)
	}
	if p := PowerFromHundredths(InvalidValue); p != nil {
		t.Errorf("invalid marker must decode to nil, got %v", p)
	}
	if p := PowerFromTenths(InvalidValue); p != nil {
		t.Errorf("invalid marker must decode to nil, got %v", p)
	}
}

func TestLookup(t *testing.T) {
	results := map[string]interface{}{".1.3.6.1": "dotted", "2.2.2.2": "plain"}

	if v, ok := Lookup(results, "1.3.6.1"); !ok || v != "dotted" {
		t.Errorf("Lookup without dot failed: %v %v", v, ok)
	}
	if v, ok := Lookup(results, ".2.2.2.2"); !ok || v != "plain" {
		t.Errorf("Lookup with dot failed: %v %v", v, ok)
	}
	if _, ok := Lookup(results, "9.9"); ok {
		t.Error("Lookup of missing OID should fail")
	}
	if _, ok := Lookup(nil, "1.1"); ok {
		t.Error("Lookup on nil map should fail")
	}
}
