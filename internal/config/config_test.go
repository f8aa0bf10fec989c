package config

import "testing"

func TestNormalizeDefaults(t *testing.T) {
	cfg, err := Normalize(Options{})
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if cfg.FrameFactor != DefaultFrameFactor {
		t.Errorf("FrameFactor = %d, want %d", cfg.FrameFactor, DefaultFrameFactor)
	}
	if cfg.MaxLSI != 1<<DefaultFrameFactor {
		t.Errorf("MaxLSI = %d, want %d", cfg.MaxLSI, 1<<DefaultFrameFactor)
	}
	wantPeriod := uint32(1<<DefaultFrameFactor)*DefaultULSlotMs + 2*DefaultDLSlotMs
	if cfg.FramePeriodMs != wantPeriod {
		t.Errorf("FramePeriodMs = %d, want %d", cfg.FramePeriodMs, wantPeriod)
	}
}

func TestNormalizeS5FramePeriod(t *testing.T) {
	// §8 S5: N=6, u=100ms, d=200ms -> frame period = 64*100 + 2*200 = 6800ms.
	cfg, err := Normalize(Options{FrameFactor: 6, ULSlotMs: 100, DLSlotMs: 200, ChannelCount: 1})
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if cfg.FramePeriodMs != 6800 {
		t.Errorf("FramePeriodMs = %d, want 6800", cfg.FramePeriodMs)
	}
}

func TestNormalizeBounds(t *testing.T) {
	cases := []struct {
		name string
		opts Options
	}{
		{"frame factor too high", Options{FrameFactor: 8}},
		{"frame factor zero defaults, bad ul slot still errors", Options{FrameFactor: 0, ULSlotMs: 1000}},
		{"ul slot out of range", Options{ULSlotMs: 20}},
		{"ul slot not multiple of 10", Options{ULSlotMs: 105}},
		{"dl slot out of range", Options{DLSlotMs: 400}},
		{"channel count too high", Options{ChannelCount: 8}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Normalize(tc.opts)
			if tc.name == "frame factor zero defaults, bad ul slot still errors" {
				if err == nil {
					t.Fatalf("expected invalid UL slot to still error")
				}
				return
			}
			if err == nil {
				t.Fatalf("Normalize(%+v) expected error, got nil", tc.opts)
			}
		})
	}
}

func TestNormalizeValidInRange(t *testing.T) {
	cfg, err := Normalize(Options{FrameFactor: 1, ULSlotMs: 30, DLSlotMs: 310, ChannelCount: 7})
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if cfg.MaxLSI != 2 {
		t.Errorf("MaxLSI = %d, want 2", cfg.MaxLSI)
	}
}
