package addr

import "testing"

func TestPackUnpackRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		address uint16
		class   uint8
	}{
		{"zero", 0, 0},
		{"max address", MaxAddress, 0},
		{"max class", 0, MaxClass},
		{"both max", MaxAddress, MaxClass},
		{"mid", 0x0101, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := Pack(tt.address, tt.class)
			if err != nil {
				t.Fatalf("Pack: %v", err)
			}
			gotAddr, gotClass := Unpack(w)
			if gotAddr != tt.address || gotClass != tt.class {
				t.Errorf("round trip = (%d, %d), want (%d, %d)", gotAddr, gotClass, tt.address, tt.class)
			}
		})
	}
}

func TestPackOverflow(t *testing.T) {
	if _, err := Pack(MaxAddress+1, 0); err == nil {
		t.Error("expected error for address overflow")
	}
	if _, err := Pack(0, MaxClass+1); err == nil {
		t.Error("expected error for class overflow")
	}
}

func TestSlotDemand(t *testing.T) {
	for class := uint8(0); class <= MaxClass; class++ {
		want := uint16(1) << class
		if got := SlotDemand(class); got != want {
			t.Errorf("SlotDemand(%d) = %d, want %d", class, got, want)
		}
	}
}

func FuzzPackUnpack(f *testing.F) {
	f.Add(uint16(0x0101), uint8(2))
	f.Add(uint16(MaxAddress), uint8(MaxClass))
	f.Fuzz(func(t *testing.T, address uint16, class uint8) {
		address &= MaxAddress
		class &= MaxClass
		w, err := Pack(address, class)
		if err != nil {
			t.Fatalf("Pack: %v", err)
		}
		gotAddr, gotClass := Unpack(w)
		if gotAddr != address || gotClass != class {
			t.Errorf("round trip = (%d, %d), want (%d, %d)", gotAddr, gotClass, address, class)
		}
	})
}
