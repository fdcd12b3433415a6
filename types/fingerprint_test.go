package types

import "testing"

func fp(mut func(*Terminal)) string {
	rx := -21.53
	tx := 2.41
	t := Terminal{
		Serial:  "CDAT12345678",
		Port:    "0/3",
		Index:   7,
		MAC:     "AA:BB:CC:DD:EE:FF",
		RxPower: &rx,
		TxPower: &tx,
		Status:  StatusOnline,
	}
	if mut != nil {
		mut(&t)
	}
	return Fingerprint(t)
}

func TestFingerprintStable(t *testing.T) {
	a := fp(nil)
	for i := 0; i < 100; i++ {
		if b := fp(nil); b != a {
			t.Fatalf("fingerprint not stable: %s != %s", a, b)
		}
	}
}

func TestFingerprintCopiesAreEqual(t *testing.T) {
	rx1, rx2 := -21.53, -21.53
	a := Terminal{Serial: "S", Port: "0/1", Index: 1, RxPower: &rx1, Status: StatusOnline}
	b := Terminal{Serial: "S", Port: "0/1", Index: 1, RxPower: &rx2, Status: StatusOnline}
	if Fingerprint(a) != Fingerprint(b) {
		t.Fatal("identical terminals produced different fingerprints")
	}
}

func TestFingerprintChanges(t *testing.T) {
	base := fp(nil)

	tests := []struct {
		name string
		mut  func(*Terminal)
	}{
		{"serial", func(tt *Terminal) { tt.Serial = "CDAT00000000" }},
		{"mac", func(tt *Terminal) { tt.MAC = "" }},
		{"port", func(tt *Terminal) { tt.Port = "0/4" }},
		{"index", func(tt *Terminal) { tt.Index = 8 }},
		{"status", func(tt *Terminal) { tt.Status = StatusOffline }},
		{"rx_nil", func(tt *Terminal) { tt.RxPower = nil }},
		{"rx_value", func(tt *Terminal) { v := -25.0; tt.RxPower = &v }},
		{"tx_nil", func(tt *Terminal) { tt.TxPower = nil }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if fp(tc.mut) == base {
				t.Fatalf("changing %s did not change fingerprint", tc.name)
			}
		})
	}
}
