// Package queue implements the bounded FIFO message queues from §4.3: two
// independent channels (inbound, outbound) of capacity 16, non-blocking on
// both ends, FIFO under a single producer/consumer pair.
//
// The source this core is modeled on pairs each queue with a pthread
// condition variable: producers set a flag and notify one waiter, which
// re-checks the predicate on wakeup. A buffered Go channel is exactly that
// pattern already — the channel's internal wait queue *is* the condition
// variable, and a consumer's blocking receive *is* "wait, then re-check" —
// so this package keeps the channel as the queue itself instead of
// layering a second construct over it, the way the teacher's
// internal/watch.Broker uses channels (not sync.Cond) as its signalling
// primitive.
package queue

import "time"

// Capacity is the fixed bound from §4.3.
const Capacity = 16

// Metadata is the envelope metadata carried with every message (§3
// "Message envelope"): the gateway-side radio parameters plus the
// transmit time-of-flight used for downlink scheduling.
type Metadata struct {
	FrequencyHz uint32
	PowerDbm    int8
	Modulation  string // "LORA" or "FSK"
	Bandwidth   uint32
	Datarate    string // e.g. "SF7BW125"
	Coderate    string // e.g. "4/5"
	Preamble    uint16
	Inverted    bool
	ToFMicros   int64 // transmit time-of-flight, microseconds

	// TxAt is the downlink transmit deadline the Phase task computed as
	// phase_slot_start + shift (§4.5); zero for uplink envelopes, which
	// carry no transmit schedule of their own.
	TxAt time.Time
}

// Envelope is constructed by the codec or the transport layer, enqueued,
// drained by exactly one consumer, then discarded (§3 "Lifecycle").
type Envelope struct {
	Metadata  Metadata
	Payload   []byte
	GatewayID string // ingress/egress socket identity
}

// Result is the outcome of Enqueue (§4.3).
type Result uint8

const (
	Ok Result = iota
	Full
	Invalid
)

func (r Result) String() string {
	switch r {
	case Ok:
		return "ok"
	case Full:
		return "full"
	default:
		return "invalid"
	}
}

// Queue is a capacity-16 FIFO. The zero value is not usable; construct
// with New.
type Queue struct {
	ch chan Envelope
}

// New returns an empty Queue at the fixed §4.3 capacity.
func New() *Queue {
	return &Queue{ch: make(chan Envelope, Capacity)}
}

// Enqueue moves ownership of e into the queue. It never blocks: a full
// queue returns Full and drops the message (§4 "Failure semantics" —
// outbound drops retry next tick; inbound drops are a gateway's problem to
// retransmit, same as any lossy radio link).
func (q *Queue) Enqueue(e Envelope) Result {
	if len(e.Payload) > 255 {
		return Invalid
	}
	select {
	case q.ch <- e:
		return Ok
	default:
		return Full
	}
}

// Dequeue removes the oldest message, if any. It never blocks.
func (q *Queue) Dequeue() (Envelope, bool) {
	select {
	case e := <-q.ch:
		return e, true
	default:
		return Envelope{}, false
	}
}

// Signal exposes the underlying channel for a consumer task to block on —
// the Go equivalent of waiting on the queue's condition variable. A
// receive here is itself the "wait, then re-check the predicate" dance;
// callers that also want non-blocking semantics should prefer Dequeue.
func (q *Queue) Signal() <-chan Envelope {
	return q.ch
}

// Len reports the number of messages currently queued (diagnostic only —
// never used for control flow, since that would race).
func (q *Queue) Len() int {
	return len(q.ch)
}
