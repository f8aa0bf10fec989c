package gateway

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/Long0307/LoRa-GW-SV/internal/mac/queue"
)

// maxFrameLen bounds a single gateway frame: the 4-byte protocol header
// plus a generously-sized JSON body. TCP gives us a byte stream, not
// message boundaries, so every frame on the wire is prefixed by its own
// uint32 big-endian length — the length-prefixed-stream idiom, since §6
// only specifies the Semtech-style header and leaves TCP framing open.
const maxFrameLen = 1 << 16

// Transport is the gateway transport reader/writer task pair from §5/§6:
// it accepts gateway TCP connections, decodes UPLINK_DATA frames into
// queue.Envelopes for the Coordinator's Inbound queue, and drains the
// Coordinator's Outbound queue to every connected gateway as DOWNLINK_DATA
// frames. It also answers TIMESYNC_REQ inline, the way a transport layer
// answers a keepalive without troubling the application above it.
type Transport struct {
	Inbound  *queue.Queue
	Outbound *queue.Queue

	// TxPkTemplate supplies the radio parameters (frequency, power,
	// modulation...) that accompany every downlink; the Phase task only
	// knows MAC-layer bytes and a transmit deadline, not RF settings.
	TxPkTemplate func(meta queue.Metadata) TxPk

	mu       sync.Mutex
	conns    map[string]net.Conn
	tokenSeq byte
}

// NewTransport constructs a Transport. txPk builds the RF parameters for a
// downlink envelope's metadata; a nil value falls back to zero values.
func NewTransport(inbound, outbound *queue.Queue, txPk func(queue.Metadata) TxPk) *Transport {
	if txPk == nil {
		txPk = func(queue.Metadata) TxPk { return TxPk{} }
	}
	return &Transport{
		Inbound:      inbound,
		Outbound:     outbound,
		TxPkTemplate: txPk,
		conns:        make(map[string]net.Conn),
	}
}

// Serve accepts gateway connections on ln until ctx is cancelled, spawning
// a reader goroutine per connection, and runs the single outbound writer
// loop that fans every downlink out to all currently-connected gateways.
// It blocks until ctx is cancelled and every spawned goroutine has
// returned (§5 "Cancellation").
func (t *Transport) Serve(ctx context.Context, ln net.Listener) {
	var wg sync.WaitGroup

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		t.writeLoop(ctx)
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			slog.Warn("gateway: accept failed", "err", err)
			continue
		}
		id := conn.RemoteAddr().String()
		t.mu.Lock()
		t.conns[id] = conn
		t.mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			t.readLoop(ctx, id, conn)
		}()
	}

	wg.Wait()
}

// readLoop is the transport reader task for a single gateway socket: it
// decodes framed messages and pushes UPLINK_DATA payloads onto Inbound,
// answering TIMESYNC_REQ directly without going through the dispatcher
// (§6 "TIMESYNC_REQ/RES exchange").
func (t *Transport) readLoop(ctx context.Context, id string, conn net.Conn) {
	defer t.disconnect(id, conn)

	for {
		frame, err := readFrame(conn)
		if err != nil {
			if err != io.EOF {
				slog.Debug("gateway: read failed, dropping connection", "gateway", id, "err", err)
			}
			return
		}

		if tokenH, tokenL, ok := IsTimesyncReq(frame); ok {
			now := time.Now()
			res := EncodeTimesyncRes(tokenH, tokenL, TimesyncPayload{
				ServerRxS:  now.Unix(),
				ServerRxUs: int64(now.Nanosecond() / 1000),
				ServerTxS:  now.Unix(),
				ServerTxUs: int64(now.Nanosecond() / 1000),
			})
			if err := writeFrame(conn, res); err != nil {
				slog.Debug("gateway: timesync reply failed", "gateway", id, "err", err)
				return
			}
			continue
		}

		_, _, payloads, err := DecodeUplink(frame)
		if err != nil {
			slog.Warn("gateway: malformed uplink frame, dropping", "gateway", id, "err", err)
			continue
		}
		for _, p := range payloads {
			if res := t.Inbound.Enqueue(queue.Envelope{Payload: p, GatewayID: id}); res != queue.Ok {
				slog.Warn("gateway: inbound queue did not accept uplink payload", "gateway", id, "result", res.String())
			}
		}
	}
}

func (t *Transport) disconnect(id string, conn net.Conn) {
	t.mu.Lock()
	delete(t.conns, id)
	t.mu.Unlock()
	conn.Close()
}

// writeLoop is the transport writer task (§5): it blocks on the Outbound
// queue's signal channel and fans every drained envelope out to every
// gateway presently connected. A gateway that disconnects mid-flight just
// drops that one write; its own socket teardown is handled by readLoop
// (§7 "a disconnected gateway's pending outbound entries are dropped
// without touching other gateways' queues").
func (t *Transport) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-t.Outbound.Signal():
			if !ok {
				return
			}
			t.broadcast(env)
			t.drainRemaining()
		}
	}
}

func (t *Transport) drainRemaining() {
	for {
		env, ok := t.Outbound.Dequeue()
		if !ok {
			return
		}
		t.broadcast(env)
	}
}

func (t *Transport) broadcast(env queue.Envelope) {
	tokenH, tokenL := t.nextToken()
	tx := t.TxPkTemplate(env.Metadata)
	if !env.Metadata.TxAt.IsZero() {
		tx.TmS = env.Metadata.TxAt.Unix()
		tx.TmUs = int64(env.Metadata.TxAt.Nanosecond() / 1000)
	}
	frame := EncodeDownlink(tokenH, tokenL, env.Payload, tx)

	t.mu.Lock()
	targets := make([]net.Conn, 0, len(t.conns))
	for _, c := range t.conns {
		targets = append(targets, c)
	}
	t.mu.Unlock()

	for _, conn := range targets {
		if err := writeFrame(conn, frame); err != nil {
			slog.Debug("gateway: downlink write failed", "err", err)
		}
	}
}

// GatewayIDs reports the currently-connected gateway socket identities,
// for the operator console's "g" command (§6).
func (t *Transport) GatewayIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.conns))
	for id := range t.conns {
		ids = append(ids, id)
	}
	return ids
}

func (t *Transport) nextToken() (byte, byte) {
	t.mu.Lock()
	t.tokenSeq++
	seq := t.tokenSeq
	t.mu.Unlock()
	return seq, seq
}

func readFrame(conn net.Conn) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 || n > maxFrameLen {
		return nil, io.ErrUnexpectedEOF
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeFrame(conn net.Conn, frame []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(frame)))
	if _, err := conn.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := conn.Write(frame)
	return err
}
