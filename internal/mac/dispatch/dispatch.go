// Package dispatch implements the Uplink Dispatcher from §4.6: it
// consumes the inbound queue on signal, decodes each envelope's pkt_type,
// and either enrolls a new/relay node (RR) or updates sequence statistics
// and forwards payload to the application hook (DATA). Unknown types and
// malformed frames are dropped with a log line (§7 "Protocol").
package dispatch

import (
	"context"
	"log/slog"

	"github.com/Long0307/LoRa-GW-SV/internal/mac/frame"
	"github.com/Long0307/LoRa-GW-SV/internal/mac/queue"
	"github.com/Long0307/LoRa-GW-SV/internal/mac/registry"
)

// AppHook is the application-domain callback invoked for every accepted
// DATA payload (§1 "application-domain handler", out of scope for this
// package beyond the call site). origin is the real sender's address
// even for relayed traffic.
type AppHook func(origin uint16, payload []byte)

// Dispatcher drains the inbound queue and mutates the registry (§4.6). It
// owns no transport; envelopes arrive already decoded-ready from whatever
// pushed them onto the queue (the gateway transport reader).
type Dispatcher struct {
	inbound *queue.Queue
	reg     *registry.Registry

	// OnData is invoked once per accepted DATA frame, after statistics
	// have been updated.
	OnData AppHook
}

// New constructs a Dispatcher reading from inbound and mutating reg.
func New(inbound *queue.Queue, reg *registry.Registry) *Dispatcher {
	return &Dispatcher{inbound: inbound, reg: reg}
}

// Run drains the inbound queue's signal channel until ctx is cancelled
// (§5 "Inbound task"). Each wake processes every currently-queued message
// (a batch), then re-waits.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-d.inbound.Signal():
			if !ok {
				return
			}
			d.handle(env)
			d.drainRemaining()
		}
	}
}

// drainRemaining processes whatever else is queued without going back to
// sleep, since the channel receive above already woke the task.
func (d *Dispatcher) drainRemaining() {
	for {
		env, ok := d.inbound.Dequeue()
		if !ok {
			return
		}
		d.handle(env)
	}
}

func (d *Dispatcher) handle(env queue.Envelope) {
	pktType, err := frame.PeekType(env.Payload)
	if err != nil {
		slog.Debug("dispatch: malformed envelope", "err", err)
		return
	}

	switch pktType {
	case frame.PktRR:
		d.handleRR(env.Payload)
	case frame.PktDATA:
		d.handleData(env.Payload)
	default:
		slog.Warn("dispatch: unknown pkt_type, dropping", "pkt_type", pktType)
	}
}

func (d *Dispatcher) handleRR(b []byte) {
	rr, err := frame.DecodeRR(b)
	if err != nil {
		slog.Warn("dispatch: malformed RR, dropping", "err", err)
		return
	}

	switch rr.Type {
	case frame.RRSelf:
		if len(rr.Entries) != 1 {
			slog.Warn("dispatch: self-registration RR with unexpected entry count", "count", len(rr.Entries))
			return
		}
		self := rr.Entries[0]
		d.reg.Enroll(registry.Entry{Address: self.Address, Class: self.Class, Type: registry.OneHop})

	case frame.RRRelay:
		if len(rr.Entries) == 0 {
			slog.Warn("dispatch: relay RR with no entries, dropping")
			return
		}
		relay := rr.Entries[0]
		d.reg.Enroll(registry.Entry{Address: relay.Address, Class: relay.Class, Type: registry.OneHop})
		for _, child := range rr.Entries[1:] {
			d.reg.Enroll(registry.Entry{
				Address:       child.Address,
				Class:         child.Class,
				Type:          registry.TwoHop,
				ParentAddress: relay.Address,
			})
		}

	default:
		slog.Warn("dispatch: unknown RR type, dropping", "type", rr.Type)
	}
}

func (d *Dispatcher) handleData(b []byte) {
	data, err := frame.DecodeData(b)
	if err != nil {
		slog.Warn("dispatch: malformed DATA, dropping", "err", err)
		return
	}

	origin := data.Header.Src
	link := registry.DirectLink
	if data.Relayed {
		origin = data.OriginAddr
		link = registry.MainLink
	}

	result := d.reg.UpdateSeq(origin, data.Seq, link)
	switch result {
	case registry.SeqUnknownNode:
		slog.Debug("dispatch: DATA from unregistered node, dropping stats update", "addr", origin)
	case registry.SeqDuplicate:
		slog.Debug("dispatch: duplicate DATA seq", "addr", origin, "seq", data.Seq)
	case registry.SeqReset:
		slog.Info("dispatch: DATA seq reset (node rebooted?)", "addr", origin, "seq", data.Seq)
	}

	if d.OnData != nil {
		d.OnData(origin, data.Payload)
	}
}
