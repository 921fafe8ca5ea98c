package bank

import "testing"

func TestResolveCode(t *testing.T) {
	cases := []struct {
		name     string
		raw      string
		wantCode string
		wantOK   bool
	}{
		{"exact match", "ZENITH BANK", "057", true},
		{"lowercase with whitespace", "  zenith bank ", "057", true},
		{"plc suffix stripped", "Access Bank PLC", "044", true},
		{"limited suffix stripped", "Sterling Bank Limited", "232", true},
		{"dots stripped", "F.C.M.B", "214", true},
		{"gtbank alias", "GTBank Nigeria", "058", true},
		{"guaranty trust alias", "Guaranty Trust Bank Plc", "058", true},
		{"kuda alias", "Kuda Bank", "50211", true},
		{"uba alias", "UBA Plc", "033", true},
		{"unknown bank", "Bank of Atlantis", "", false},
		{"empty name", "", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, ok := ResolveCode(tc.raw)
			if ok != tc.wantOK {
				t.Fatalf("ResolveCode(%q) ok=%v, want %v", tc.raw, ok, tc.wantOK)
			}
			if code != tc.wantCode {
				t.Errorf("ResolveCode(%q) = %q, want %q", tc.raw, code, tc.wantCode)
			}
		})
	}
}
