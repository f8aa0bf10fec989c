// Package phase implements the phase state machine from §4.5: it rotates
// Network-Init -> Schedule-Distribution -> Data-Collection -> Dist -> Data
// -> ..., emitting RNL/SM/CM downlink frames on absolute deadlines so that
// processing jitter never drifts the frame (§5 "Timeouts"). It owns no
// transport of its own: every emission is handed to the outbound queue for
// a transport writer task to drain, grounded on the teacher's
// internal/daemon/convergence.Supervisor loop (absolute-deadline pacing,
// injected Clock for deterministic tests).
package phase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Long0307/LoRa-GW-SV/internal/config"
	"github.com/Long0307/LoRa-GW-SV/internal/mac/frame"
	"github.com/Long0307/LoRa-GW-SV/internal/mac/queue"
	"github.com/Long0307/LoRa-GW-SV/internal/mac/registry"
	"github.com/Long0307/LoRa-GW-SV/internal/mac/schedule"
)

// Clock abstracts time.Now() so pacing can be driven deterministically in
// tests, the same seam as the teacher's network.Clock / fake.Clock.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the system clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Phase enumerates the three states from §4.5.
type Phase uint8

const (
	NetworkInit Phase = iota
	ScheduleDist
	DataCollection
)

func (p Phase) String() string {
	switch p {
	case NetworkInit:
		return "network-init"
	case ScheduleDist:
		return "schedule-dist"
	case DataCollection:
		return "data-collection"
	default:
		return "unknown"
	}
}

const (
	// TRNL is the Network-Init RNL emission period.
	TRNL = 5 * time.Second
	// MTransitionPeriods is M: further periods of the current phase run
	// after a transition request before the SM actually advances, to
	// flush protocol distributions (§4.5, §7).
	MTransitionPeriods = 6

	// DPhaseScheduleDist and DPhaseDataCollection are the two D_phase
	// values §4.2/§9 fixes, resolving the source's two conflicting
	// defaults.
	DPhaseScheduleDist   = 1
	DPhaseDataCollection = 3

	sch1Count  = 15
	sch1Period = 200 * time.Millisecond
	sch2Period = 100 * time.Millisecond

	// downlinkShift gives the transport layer a deterministic head start
	// on every downlink emission (§4.5 "Downlink transmit timestamp").
	downlinkShift = 100 * time.Millisecond

	maxUSIPerCM = frame.MaxUSIEntries

	// coordinatorAddr and broadcastAddr are the header src/dst carried on
	// every downlink: the core has one logical address and every downlink
	// fans out to all connected nodes over every connected gateway.
	coordinatorAddr = 0x0000
	broadcastAddr   = 0x1FFF
)

// SM drives the phase rotation described in §4.5. It holds no transport;
// callers wire its outbound queue to the gateway transport writer.
type SM struct {
	cfg      config.Config
	reg      *registry.Registry
	alloc    *schedule.Allocator
	outbound *queue.Queue
	clock    Clock
	sleep    func(ctx context.Context, d time.Duration) bool

	transitionMu        sync.Mutex
	transitionRequested bool

	phaseMu sync.RWMutex
	phase   Phase

	rnlSeq uint16
	cmSeq  uint16

	// OnFrame, when set, is invoked once per Data-Collection frame after
	// the CM has been assembled and enqueued (§4.5 step 5, "invoke the
	// application parse hook"). The application-domain handler itself
	// (sensor parsing, DB push) is an external collaborator (§1); this is
	// only the call site the core provides for it.
	OnFrame func()
}

// New constructs an SM starting in NetworkInit, paced by the real wall
// clock.
func New(cfg config.Config, reg *registry.Registry, alloc *schedule.Allocator, outbound *queue.Queue) *SM {
	return &SM{
		cfg:      cfg,
		reg:      reg,
		alloc:    alloc,
		outbound: outbound,
		clock:    RealClock{},
		sleep:    defaultSleep,
		phase:    NetworkInit,
	}
}

func defaultSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// RequestTransition sets the operator-facing phase-transition-request flag
// (§3 "Phase state", §6 "PT"). The SM clears it once the transition has
// been gracefully effected.
func (s *SM) RequestTransition() {
	s.transitionMu.Lock()
	s.transitionRequested = true
	s.transitionMu.Unlock()
}

func (s *SM) consumeTransitionRequest() bool {
	s.transitionMu.Lock()
	defer s.transitionMu.Unlock()
	return s.transitionRequested
}

func (s *SM) clearTransitionRequest() {
	s.transitionMu.Lock()
	s.transitionRequested = false
	s.transitionMu.Unlock()
}

// Current reports the phase the SM is presently running, for the operator
// console's status dump.
func (s *SM) Current() Phase {
	s.phaseMu.RLock()
	defer s.phaseMu.RUnlock()
	return s.phase
}

func (s *SM) setPhase(p Phase) {
	s.phaseMu.Lock()
	s.phase = p
	s.phaseMu.Unlock()
}

// Run drives Init -> Dist -> Data -> Dist -> Data -> ... until ctx is
// cancelled. Per §5 "Cancellation", the loop only checks ctx at a phase's
// next wake, never mid-emission.
func (s *SM) Run(ctx context.Context) {
	for ctx.Err() == nil {
		switch s.Current() {
		case NetworkInit:
			if !s.runNetworkInit(ctx) {
				return
			}
			s.setPhase(ScheduleDist)
		case ScheduleDist:
			if !s.runScheduleDist(ctx) {
				return
			}
			s.setPhase(DataCollection)
		case DataCollection:
			if !s.runDataCollection(ctx) {
				return
			}
			s.setPhase(ScheduleDist)
		}
	}
}

func (s *SM) header(t frame.PktType) frame.Header {
	return frame.Header{
		Type: t,
		Src:  coordinatorAddr,
		Dst:  broadcastAddr,
		Params: frame.MACParams{
			FrameFactor:  s.cfg.FrameFactor,
			ULSlotSizeMs: s.cfg.ULSlotMs,
			DLSlotSizeMs: s.cfg.DLSlotMs,
			ChannelCount: s.cfg.ChannelCount,
		},
	}
}

func (s *SM) enqueueDownlink(b []byte, txAt time.Time) {
	res := s.outbound.Enqueue(queue.Envelope{
		Payload:  b,
		Metadata: queue.Metadata{TxAt: txAt},
	})
	if res != queue.Ok {
		// §7 "Transient": outbound full just drops this emission, next
		// tick retries.
		slog.Warn("phase: outbound queue did not accept downlink", "result", res.String())
	}
}

// runNetworkInit implements §4.5 Network-Init. It returns false if ctx was
// cancelled mid-phase.
func (s *SM) runNetworkInit(ctx context.Context) bool {
	periodStart := s.clock.Now()
	transitionArmed := false
	netReadyEmitted := 0

	for {
		if ctx.Err() != nil {
			return false
		}

		admitted, rejected := s.reg.DrainRNL(frame.MaxRNLNodes)
		for _, rj := range rejected {
			slog.Warn("network-init: RNL entry rejected", "addr", rj.Entry.Address, "err", rj.Reason)
		}

		if !transitionArmed && s.consumeTransitionRequest() {
			transitionArmed = true
		}
		netReady := transitionArmed
		if netReady {
			netReadyEmitted++
		}

		s.rnlSeq++
		nodes := make([]frame.NodeWord, len(admitted))
		for i, a := range admitted {
			nodes[i] = frame.NodeWord{Address: a.Address, Class: a.Class}
		}
		b, err := frame.EncodeRNL(frame.RNLInput{
			Header:   s.header(frame.PktRNL),
			Seq:      s.rnlSeq,
			NetReady: netReady,
			Nodes:    nodes,
		})
		if err != nil {
			slog.Error("network-init: encode RNL", "err", err)
		} else {
			s.enqueueDownlink(b, periodStart.Add(downlinkShift))
		}

		deadline := periodStart.Add(TRNL)
		if !s.sleep(ctx, deadline.Sub(s.clock.Now())) {
			return false
		}
		periodStart = deadline

		if transitionArmed && netReadyEmitted >= MTransitionPeriods {
			s.clearTransitionRequest()
			return true
		}
	}
}

// runScheduleDist implements §4.5 Schedule-Distribution.
func (s *SM) runScheduleDist(ctx context.Context) bool {
	s.reg.ClearAllScheduleFlags()
	s.alloc.ClearAll()

	for _, n := range s.reg.OneHopUnscheduled() {
		if _, _, err := s.alloc.Allocate(n.Address, n.Class, n.SlotDemand, DPhaseScheduleDist); err != nil {
			slog.Warn("schedule-dist: allocate one-hop node", "addr", n.Address, "err", err)
			continue
		}
		s.reg.SetScheduleFlag(n.Address, true)
	}

	periodStart := s.clock.Now()
	var relayMessagesTotal uint8
	for i := 0; i < sch1Count; i++ {
		if ctx.Err() != nil {
			return false
		}
		group, groupIdx := s.nextPendingGroup()
		var thisRelayCount uint8
		if group != nil {
			thisRelayCount = uint8(s.countRelayNodes(group.Nodes))
			relayMessagesTotal += thisRelayCount
			for _, gn := range group.Nodes {
				s.alloc.DecrementDistribution(groupIdx, gn.Address)
			}
		}

		b, err := frame.EncodeSM(frame.SMInput{
			Header:        s.header(frame.PktSM),
			SMCount:       sch1Count,
			SCH1Size:      sch1Count,
			SCH2StartSlot: relayMessagesTotal,
			RelayCount:    thisRelayCount,
			Group:         group,
		})
		if err != nil {
			slog.Error("schedule-dist: encode SM", "err", err)
		} else {
			s.enqueueDownlink(b, periodStart.Add(downlinkShift))
		}

		deadline := periodStart.Add(sch1Period)
		if !s.sleep(ctx, deadline.Sub(s.clock.Now())) {
			return false
		}
		periodStart = deadline
	}

	var sch2Sleep time.Duration
	if relayMessagesTotal > 0 {
		sch2Sleep = time.Duration(relayMessagesTotal-1) * sch2Period
	}
	return s.sleep(ctx, sch2Sleep)
}

// nextPendingGroup scans groups in ascending index order and returns the
// first one with distributions_pending > 0, matching the source's group
// scan (§4.4 "the group scan stops at the first group with
// distributions_pending > 0").
func (s *SM) nextPendingGroup() (*frame.SMGroupPayload, int) {
	for i := 0; i < s.alloc.GroupCount(); i++ {
		if s.alloc.DistributionsPending(i) == 0 {
			continue
		}
		entries := s.alloc.Entries(i)
		if len(entries) == 0 {
			continue
		}
		nodes := make([]frame.SMGroupNode, 0, len(entries))
		for _, e := range entries {
			nodes = append(nodes, frame.SMGroupNode{Address: e.Address, Class: e.Class, SlotDemand: uint8(e.SlotDemand)})
		}
		return &frame.SMGroupPayload{GroupID: uint8(i), StartLSI: uint8(entries[0].StartLSI), Nodes: nodes}, i
	}
	return nil, -1
}

func (s *SM) countRelayNodes(nodes []frame.SMGroupNode) int {
	n := 0
	for _, gn := range nodes {
		if node, ok := s.reg.Get(gn.Address); ok && len(node.Children) > 0 {
			n++
		}
	}
	return n
}

// runDataCollection implements §4.5 Data-Collection.
func (s *SM) runDataCollection(ctx context.Context) bool {
	transitionArmed := false
	periodsSinceTransition := 0
	framePeriod := time.Duration(s.cfg.FramePeriodMs) * time.Millisecond

	for {
		if ctx.Err() != nil {
			return false
		}
		periodStart := s.clock.Now()

		s.reg.TickMissCounts()

		_, rejected := s.reg.DrainAllRNL()
		for _, rj := range rejected {
			slog.Warn("data-collection: RNL entry rejected", "addr", rj.Entry.Address, "err", rj.Reason)
		}

		for _, n := range s.reg.OneHopUnscheduled() {
			if _, _, err := s.alloc.Allocate(n.Address, n.Class, n.SlotDemand, DPhaseDataCollection); err != nil {
				slog.Warn("data-collection: allocate one-hop node", "addr", n.Address, "err", err)
				continue
			}
			s.reg.SetScheduleFlag(n.Address, true)
		}

		s.cmSeq++
		lastAssigned := make([]uint8, s.alloc.GroupCount())
		for i := range lastAssigned {
			lastAssigned[i] = uint8(s.alloc.LastAssignedLSI(i))
		}

		b, err := frame.EncodeCM(frame.CMInput{
			Header:          s.header(frame.PktCM),
			Seq:             s.cmSeq,
			LastAssignedLSI: lastAssigned,
			USI:             s.collectUSI(),
		})
		if err != nil {
			slog.Error("data-collection: encode CM", "err", err)
		} else {
			s.enqueueDownlink(b, periodStart.Add(downlinkShift))
		}

		if s.OnFrame != nil {
			s.OnFrame()
		}

		if !transitionArmed && s.consumeTransitionRequest() {
			transitionArmed = true
		}
		if transitionArmed {
			periodsSinceTransition++
		}

		deadline := periodStart.Add(framePeriod)
		if !s.sleep(ctx, deadline.Sub(s.clock.Now())) {
			return false
		}

		if transitionArmed && periodsSinceTransition >= MTransitionPeriods {
			s.clearTransitionRequest()
			return true
		}
	}
}

// collectUSI gathers up to maxUSIPerCM still-owed schedule announcements
// across every group (§4.4 CM "USI"), decrementing each entry's
// distributions_remaining as it is included.
func (s *SM) collectUSI() []frame.USIEntry {
	var out []frame.USIEntry
	for i := 0; i < s.alloc.GroupCount() && len(out) < maxUSIPerCM; i++ {
		if s.alloc.DistributionsPending(i) == 0 {
			continue
		}
		for _, e := range s.alloc.Entries(i) {
			if e.DistributionsRemaining == 0 {
				continue
			}
			if len(out) >= maxUSIPerCM {
				break
			}
			node, _ := s.reg.Get(e.Address)
			children := make([]frame.USIChild, len(node.Children))
			for j, c := range node.Children {
				children[j] = frame.USIChild{Address: c.Address, Class: c.Class}
			}
			out = append(out, frame.USIEntry{
				GroupID:       uint8(i),
				StartLSI:      uint8(e.StartLSI),
				ParentAddress: e.Address,
				ParentClass:   e.Class,
				Children:      children,
			})
			s.alloc.DecrementDistribution(i, e.Address)
		}
	}
	return out
}
