package schedule

import "testing"

// TestSingleNodeAllocation is scenario S1 from §8.
func TestSingleNodeAllocation(t *testing.T) {
	a := New(1, 6) // N=6, G=1
	gi, start, err := a.Allocate(0x0101, 2, 4, 1)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if gi != 0 || start != 1 {
		t.Fatalf("got group %d start %d, want group 0 start 1", gi, start)
	}
	if got := a.LastAssignedLSI(0); got != 4 {
		t.Errorf("LastAssignedLSI = %d, want 4", got)
	}
	entries := a.Entries(0)
	if len(entries) != 1 || entries[0].DistributionsRemaining != 1 {
		t.Fatalf("entries = %+v", entries)
	}
}

// TestMultiGroupBalancing is scenario S3 from §8.
func TestMultiGroupBalancing(t *testing.T) {
	a := New(2, 3) // N=3 -> 8 slots/group
	type placement struct{ group int; start uint16 }
	var got []placement
	for i := 0; i < 3; i++ {
		gi, start, err := a.Allocate(uint16(0x0100+i), 2, 4, 1)
		if err != nil {
			t.Fatalf("Allocate #%d: %v", i, err)
		}
		got = append(got, placement{gi, start})
	}
	want := []placement{{0, 1}, {1, 1}, {0, 5}}
	for i, w := range want {
		if got[i] != w {
			t.Errorf("placement %d = %+v, want %+v", i, got[i], w)
		}
	}
}

func TestFillExactCapacityThenNoCapacity(t *testing.T) {
	a := New(1, 3) // 8 slots
	for i := 0; i < 8; i++ {
		if _, _, err := a.Allocate(uint16(i+1), 0, 1, 1); err != nil {
			t.Fatalf("Allocate #%d: %v", i, err)
		}
	}
	if _, _, err := a.Allocate(0x00FF, 0, 1, 1); err != ErrNoCapacity {
		t.Errorf("err = %v, want ErrNoCapacity", err)
	}
}

func TestFullGroupClassNPicksOtherGroup(t *testing.T) {
	a := New(2, 3) // 8 slots/group
	gi1, start1, err := a.Allocate(0x0001, 3, 8, 1) // whole group
	if err != nil {
		t.Fatalf("Allocate #1: %v", err)
	}
	if start1 != 1 {
		t.Fatalf("start1 = %d, want 1", start1)
	}
	gi2, start2, err := a.Allocate(0x0002, 3, 8, 1)
	if err != nil {
		t.Fatalf("Allocate #2: %v", err)
	}
	if gi2 == gi1 {
		t.Errorf("second class-N allocation landed in the same group")
	}
	if start2 != 1 {
		t.Errorf("start2 = %d, want 1", start2)
	}
}

func TestRemoveRebalancesCounters(t *testing.T) {
	a := New(1, 4) // 16 slots
	a.Allocate(0x0001, 1, 2, 1)
	a.Allocate(0x0002, 1, 2, 1)
	if !a.Remove(0x0001) {
		t.Fatal("Remove reported not found")
	}
	if got := a.DistributionsPending(0); got != 1 {
		t.Errorf("DistributionsPending = %d, want 1", got)
	}
	entries := a.Entries(0)
	if len(entries) != 1 || entries[0].Address != 0x0002 {
		t.Fatalf("entries = %+v", entries)
	}
	// Gap reopened at the front: a fresh allocation of demand 2 should
	// reuse start 1.
	_, start, err := a.Allocate(0x0003, 1, 2, 1)
	if err != nil {
		t.Fatalf("Allocate after remove: %v", err)
	}
	if start != 1 {
		t.Errorf("start after remove = %d, want 1 (gap reused)", start)
	}
}

func TestClearAllResetsGroups(t *testing.T) {
	a := New(2, 3)
	a.Allocate(0x0001, 0, 1, 1)
	a.ClearAll()
	for i := 0; i < a.GroupCount(); i++ {
		if len(a.Entries(i)) != 0 {
			t.Errorf("group %d not cleared", i)
		}
		if a.DistributionsPending(i) != 0 {
			t.Errorf("group %d distributions not cleared", i)
		}
	}
}

func TestDecrementDistributionToZeroDecrementsPending(t *testing.T) {
	a := New(1, 3)
	a.Allocate(0x0001, 0, 1, 1) // D_phase=1
	if got := a.DistributionsPending(0); got != 1 {
		t.Fatalf("DistributionsPending = %d, want 1", got)
	}
	a.DecrementDistribution(0, 0x0001)
	if got := a.DistributionsPending(0); got != 0 {
		t.Errorf("DistributionsPending after decrement = %d, want 0", got)
	}
}

// invariant 2 from §8: no overlap between consecutive entries in a group.
func TestNoOverlapInvariant(t *testing.T) {
	a := New(1, 6)
	a.Allocate(0x0001, 2, 4, 1)
	a.Allocate(0x0002, 1, 2, 1)
	a.Allocate(0x0003, 0, 1, 1)
	entries := a.Entries(0)
	for i := 1; i < len(entries); i++ {
		prev, cur := entries[i-1], entries[i]
		if prev.StartLSI+prev.SlotDemand > cur.StartLSI {
			t.Errorf("overlap: %+v then %+v", prev, cur)
		}
	}
}

func FuzzAllocateNoOverlap(f *testing.F) {
	f.Add(uint8(3), uint8(1), uint8(1), uint8(2), uint8(1))
	f.Fuzz(func(t *testing.T, frameFactor uint8, c1, c2, c3, c4 uint8) {
		frameFactor = frameFactor%7 + 1
		a := New(1, frameFactor)
		classes := []uint8{c1 % 4, c2 % 4, c3 % 4, c4 % 4}
		for i, class := range classes {
			a.Allocate(uint16(i+1), class, 1<<class, 1)
		}
		entries := a.Entries(0)
		for i := 1; i < len(entries); i++ {
			prev, cur := entries[i-1], entries[i]
			if prev.StartLSI+prev.SlotDemand > cur.StartLSI {
				t.Fatalf("overlap: %+v then %+v", prev, cur)
			}
		}
	})
}
