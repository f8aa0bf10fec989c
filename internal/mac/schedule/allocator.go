// Package schedule implements the per-group slot allocator from §4.2: a
// first-fit gap scan over an ordered schedule list, one per frequency
// group, grounded on the same allocate-over-sorted-ranges shape as the
// teacher's pkg/ipam subnet allocator (gap scan between ordered ranges)
// and on original_source/twohop_rtlora_sv/Source/schedule_mngt.c's
// smAssignLsiToNode/smAddNodeToScheduleList.
package schedule

import (
	"errors"
	"sync"
)

// ErrNoCapacity is returned when the least-loaded group, the one Allocate
// picks, has no gap wide enough for the requested demand (§4.2 step 2, §7
// "Transient"). Other groups are not tried.
var ErrNoCapacity = errors.New("schedule: least-loaded group has no gap wide enough")

// Entry is one scheduled node within a group (§3 "Schedule entry").
type Entry struct {
	Address                uint16
	Class                  uint8
	StartLSI               uint16
	SlotDemand             uint16
	DistributionsRemaining uint8
}

// lastLSI is the last LSI occupied by e: start_LSI + slot_demand - 1.
func (e Entry) lastLSI() uint16 {
	return e.StartLSI + e.SlotDemand - 1
}

// group is one frequency group's ordered schedule list (§3 "Schedule
// list"), sorted ascending by StartLSI.
type group struct {
	entries     []Entry // ordered ascending StartLSI
	totalSlots  uint16  // 2^N
	assigned    uint16
	remaining   uint16
	distPending int
}

func newGroup(totalSlots uint16) *group {
	return &group{totalSlots: totalSlots, remaining: totalSlots}
}

// findGap returns the first StartLSI with at least demand contiguous free
// slots, or 0 if none fits (§4.2 step 2).
func (g *group) findGap(demand uint16) uint16 {
	prevEnd := uint16(0) // slot 0 doesn't exist; LSIs start at 1
	for _, e := range g.entries {
		gapWidth := e.StartLSI - prevEnd - 1
		if gapWidth >= demand {
			return prevEnd + 1
		}
		prevEnd = e.lastLSI()
	}
	tailWidth := g.totalSlots - prevEnd
	if tailWidth >= demand {
		return prevEnd + 1
	}
	return 0
}

func (g *group) insert(e Entry) {
	idx := len(g.entries)
	for i, cur := range g.entries {
		if cur.StartLSI > e.StartLSI {
			idx = i
			break
		}
	}
	g.entries = append(g.entries, Entry{})
	copy(g.entries[idx+1:], g.entries[idx:])
	g.entries[idx] = e

	g.assigned += e.SlotDemand
	g.remaining -= e.SlotDemand
	g.distPending++
}

func (g *group) remove(address uint16) bool {
	for i, e := range g.entries {
		if e.Address != address {
			continue
		}
		g.entries = append(g.entries[:i], g.entries[i+1:]...)
		g.assigned -= e.SlotDemand
		g.remaining += e.SlotDemand
		if e.DistributionsRemaining > 0 {
			g.distPending--
		}
		return true
	}
	return false
}

func (g *group) clear() {
	g.entries = nil
	g.assigned = 0
	g.remaining = g.totalSlots
	g.distPending = 0
}

func (g *group) lastAssignedLSI() uint16 {
	if len(g.entries) == 0 {
		return 0
	}
	return g.entries[len(g.entries)-1].lastLSI()
}

// Allocator owns G independent groups, one per radio channel (§4.2).
type Allocator struct {
	mu     sync.Mutex
	groups []*group
}

// New constructs an Allocator with groupCount groups, each spanning
// [1, 2^frameFactor] LSIs.
func New(groupCount int, frameFactor uint8) *Allocator {
	totalSlots := uint16(1) << frameFactor
	groups := make([]*group, groupCount)
	for i := range groups {
		groups[i] = newGroup(totalSlots)
	}
	return &Allocator{groups: groups}
}

// Allocate places a node of the given address/class/demand into whichever
// group has the smallest assigned_slots (ties broken by lowest index),
// first-fit within that group's gap scan (§4.2 steps 1-3). distPhase is
// D_phase: 1 during Schedule-Distribution, 3 during Data-Collection.
func (a *Allocator) Allocate(address uint16, class uint8, demand uint16, distPhase uint8) (groupIndex int, startLSI uint16, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	groupIndex = a.leastLoadedGroupLocked()
	g := a.groups[groupIndex]
	start := g.findGap(demand)
	if start == 0 {
		return 0, 0, ErrNoCapacity
	}
	g.insert(Entry{
		Address:                address,
		Class:                  class,
		StartLSI:               start,
		SlotDemand:             demand,
		DistributionsRemaining: distPhase,
	})
	return groupIndex, start, nil
}

func (a *Allocator) leastLoadedGroupLocked() int {
	best := 0
	for i, g := range a.groups {
		if g.assigned < a.groups[best].assigned {
			best = i
		}
	}
	return best
}

// Remove deletes address from whichever group holds it and rebalances that
// group's counters (§4.2 "Removal"). Reports whether anything was removed.
func (a *Allocator) Remove(address uint16) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, g := range a.groups {
		if g.remove(address) {
			return true
		}
	}
	return false
}

// ClearAll resets every group's list and counters (§4.2 "Clear", §4.5 step
// 1 of Schedule-Distribution).
func (a *Allocator) ClearAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, g := range a.groups {
		g.clear()
	}
}

// GroupCount returns G.
func (a *Allocator) GroupCount() int {
	return len(a.groups)
}

// Entries returns a copy of group i's ordered schedule list.
func (a *Allocator) Entries(i int) []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Entry(nil), a.groups[i].entries...)
}

// DistributionsPending returns group i's count of entries still owed an
// announcement (§3 "distributions_pending").
func (a *Allocator) DistributionsPending(i int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.groups[i].distPending
}

// LastAssignedLSI returns group i's highest occupied LSI, 0 if empty
// (used by CM's per-group last_assigned_LSI field, §4.4).
func (a *Allocator) LastAssignedLSI(i int) uint16 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.groups[i].lastAssignedLSI()
}

// DecrementDistribution reduces address's DistributionsRemaining by one
// after an SM/CM announcement carries it; when it reaches 0 the group's
// distPending counter is decremented (§4.4 SM/CM emission rule). Reports
// whether address was found in group i.
func (a *Allocator) DecrementDistribution(i int, address uint16) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	g := a.groups[i]
	for idx := range g.entries {
		if g.entries[idx].Address != address {
			continue
		}
		if g.entries[idx].DistributionsRemaining == 0 {
			return true
		}
		g.entries[idx].DistributionsRemaining--
		if g.entries[idx].DistributionsRemaining == 0 {
			g.distPending--
		}
		return true
	}
	return false
}
