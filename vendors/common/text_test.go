package common

import "testing"

func TestStripANSI(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text", "show gpon onu state", "show gpon onu state"},
		{"color codes", "\x1b[31m0/1       1       los\x1b[0m", "0/1       1       los"},
		{"cursor movement", "\x1b[2J\x1b[HOLT#", "OLT#"},
		{"256 color", "\x1b[38;5;196mworking\x1b[0m", "working"},
		{"across lines", "\x1b[32mLINE1\x1b[0m\nLINE2", "LINE1\nLINE2"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripANSI(tt.in); got != tt.want {
				t.Errorf("StripANSI(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
