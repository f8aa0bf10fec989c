package frame

import "encoding/binary"

// RRType distinguishes the two Registration Request shapes carried by
// rr_ctrl.type (§4.4): a node registering itself, or a relay registering
// itself plus its already-attached children in one frame.
type RRType uint8

const (
	RRSelf  RRType = 0
	RRRelay RRType = 2
)

// RRResult is the decoded content of one Registration Request.
type RRResult struct {
	Header   Header
	Type     RRType
	Entries  []NodeWord // self: len 1; relay: len 1+children, entry 0 is the relay itself
}

// DecodeRR decodes rr_ctrl(1) = {type:2, child_count:6} followed by one
// NodeWord for a self-registration (child_count is ignored) or
// (1+child_count) NodeWords for a relay registration.
func DecodeRR(b []byte) (RRResult, error) {
	h, rest, err := decodeHeader(b)
	if err != nil {
		return RRResult{}, err
	}
	if len(rest) < 1 {
		return RRResult{}, ErrMalformed
	}
	rrCtrl := rest[0]
	rest = rest[1:]
	rrType := RRType(rrCtrl >> 6 & 0x3)
	childCount := int(rrCtrl & 0x3F)

	wordCount := 1
	if rrType == RRRelay {
		wordCount += childCount
	}
	if len(rest) < wordCount*2 {
		return RRResult{}, ErrMalformed
	}
	entries := make([]NodeWord, wordCount)
	for i := 0; i < wordCount; i++ {
		entries[i] = decodeNodeWord(binary.BigEndian.Uint16(rest[i*2 : i*2+2]))
	}
	if rrType == RRRelay && entries[0].Address != h.Src {
		return RRResult{}, ErrMalformed
	}
	return RRResult{Header: h, Type: rrType, Entries: entries}, nil
}

// DataResult is the decoded content of one uplink DATA frame.
type DataResult struct {
	Header     Header
	Seq        uint16
	Relayed    bool
	JSlot      uint8  // valid only when data_ctrl's j_slot bit is set
	OriginAddr uint16 // valid only when Relayed; the original sender's address
	HasSignal  bool   // only ever set on the non-relayed (direct) leg
	RSSI       int16
	SNR        int8
	Payload    []byte
}

// DecodeData decodes seq(2) then data_ctrl(1) = {relayed:1, j_slot:1,
// signal_meta:1, rfu:5}. j_slot is skipped independent of relayed; then
// the relayed branch reads origin_addr, or, on the non-relayed leg,
// signal_meta gates RSSI/SNR read as measured on that leg — matching
// rtlora_mac.c's ctrl1-then-ctrl0/ctrl2 branch structure, not a flat
// always-read-if-set-rule — before payload_size(1) and the payload
// itself (§4.4, §4.6).
func DecodeData(b []byte) (DataResult, error) {
	h, rest, err := decodeHeader(b)
	if err != nil {
		return DataResult{}, err
	}
	if len(rest) < 2+1 {
		return DataResult{}, ErrMalformed
	}
	seq := binary.BigEndian.Uint16(rest[0:2])
	rest = rest[2:]
	dataCtrl := rest[0]
	rest = rest[1:]

	relayed := dataCtrl&(1<<7) != 0
	jSlotFlag := dataCtrl&(1<<6) != 0
	signalMeta := dataCtrl&(1<<5) != 0

	out := DataResult{Header: h, Seq: seq, Relayed: relayed}

	// j_slot is skipped independent of relayed, matching rtlora_mac.c
	// (ctrl1 gates the Jslot skip before the ctrl0/relayed branch runs).
	if jSlotFlag {
		if len(rest) < 1 {
			return DataResult{}, ErrMalformed
		}
		out.JSlot = rest[0]
		rest = rest[1:]
	}

	if relayed {
		if len(rest) < 2 {
			return DataResult{}, ErrMalformed
		}
		out.OriginAddr = binary.BigEndian.Uint16(rest[0:2])
		rest = rest[2:]
	} else if signalMeta {
		// RSSI/SNR on the relay leg are only meaningful (and only sent)
		// on the non-relayed branch, matching rtlora_mac.c's ctrl2 check
		// inside the else-of-ctrl0 arm.
		if len(rest) < 3 {
			return DataResult{}, ErrMalformed
		}
		out.HasSignal = true
		out.RSSI = int16(binary.BigEndian.Uint16(rest[0:2]))
		out.SNR = int8(rest[2])
		rest = rest[3:]
	}

	if len(rest) < 1 {
		return DataResult{}, ErrMalformed
	}
	size := int(rest[0])
	rest = rest[1:]
	if size > 255 {
		return DataResult{}, ErrPayloadTooLarge
	}
	if len(rest) < size {
		return DataResult{}, ErrMalformed
	}
	out.Payload = append([]byte(nil), rest[:size]...)
	return out, nil
}
