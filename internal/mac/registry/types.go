// Package registry implements the two node collections described in §4.1:
// the Registration Node List (RNL), a holding area for nodes awaiting
// admission, and NODES, the committed population with parent/child relay
// topology and per-node statistics.
package registry

import "errors"

// NodeType distinguishes nodes reachable directly by the server (OneHop)
// from nodes reachable only through a relay parent (TwoHop).
type NodeType uint8

const (
	OneHop NodeType = iota
	TwoHop
)

func (t NodeType) String() string {
	if t == TwoHop {
		return "two-hop"
	}
	return "one-hop"
}

// MaxChildren is K in §3/§4.1: the maximum relay fan-out of a one-hop node.
const MaxChildren = 2

var (
	// ErrUnknownParent is returned when a two-hop entry names a parent
	// address not present in NODES.
	ErrUnknownParent = errors.New("registry: parent address not found in NODES")
	// ErrParentFull is returned when a parent already has MaxChildren
	// distinct children and the new child does not match any of them.
	ErrParentFull = errors.New("registry: parent already has max children")
	// ErrDuplicateAddress is not returned by any Registry method: Enroll
	// updates a pending RNL entry in place, and admission updates an
	// already-committed node with the same address in place.
	ErrDuplicateAddress = errors.New("registry: address already committed")
)

// Child is a parent's view of one attached relay child: just enough to
// recompute slot demand and to re-derive the address/class words used in
// SM and USI emission (§4.4) without looking the child back up in NODES.
type Child struct {
	Address    uint16
	Class      uint8
	SlotDemand uint16
}

// Node is a committed NODES entry (§3 "Node record").
type Node struct {
	Address uint16
	Class   uint8
	Type    NodeType

	// SlotDemand is 2^Class for a one-hop node with no children; for a
	// parent it also reflects relayed child traffic (§4.1 invariant 3).
	SlotDemand uint16

	ParentAddress uint16 // 0 if one-hop
	Children      []Child

	IsConnected  bool
	ScheduleFlag bool

	LatestSeq              uint16
	PrevSeq                uint16
	DataCount              uint32
	DataCountViaMainLink   uint32
	DataCountViaDirectLink uint32
	MissCount              uint32
}

// Entry is a pending RNL record awaiting admission into NODES.
type Entry struct {
	Address       uint16
	Class         uint8
	Type          NodeType
	ParentAddress uint16 // meaningful only when Type == TwoHop
}

// Admitted describes one node moved from RNL into NODES, as returned by
// DrainRNL/DrainAllRNL for the downlink codec to announce.
type Admitted struct {
	Address uint16
	Class   uint8
}

// Rejected describes an RNL entry that could not be committed, for
// logging at the call site (§4 "Failure semantics").
type Rejected struct {
	Entry  Entry
	Reason error
}
