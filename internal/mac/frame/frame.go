// Package frame is the byte-exact wire codec from §4.4: it encodes the
// three downlink frame types (RNL, SM, CM) and decodes the two uplink
// frame types (RR, DATA). It has no knowledge of the registry or the
// allocator — callers assemble plain structs from registry/schedule state
// and hand them to Encode*; decoders return plain structs for the
// dispatcher to apply. This mirrors the teacher's pkg/ipam: a pure,
// dependency-free codec package that higher layers orchestrate.
package frame

import (
	"encoding/binary"
	"errors"
)

// PktType identifies mac_header.pkt_type (§4.4).
type PktType uint8

const (
	PktRNL  PktType = iota // downlink
	PktSM                  // downlink
	PktCM                  // downlink
	PktRR                  // uplink
	PktDATA                // uplink
)

func (t PktType) String() string {
	switch t {
	case PktRNL:
		return "RNL"
	case PktSM:
		return "SM"
	case PktCM:
		return "CM"
	case PktRR:
		return "RR"
	case PktDATA:
		return "DATA"
	default:
		return "unknown"
	}
}

var (
	ErrMalformed         = errors.New("frame: malformed (truncated or size mismatch)")
	ErrUnknownPacketType = errors.New("frame: unknown pkt_type")
	ErrTooManyNodes      = errors.New("frame: too many nodes for this field width")
	ErrPayloadTooLarge   = errors.New("frame: payload exceeds 255 bytes")
)

// headerLen is the fixed downlink/uplink prefix: mac_header(1) | src(2) |
// dst(2) | mac_params(2).
const headerLen = 1 + 2 + 2 + 2

// NodeWord is the wire {address:13, class:3} pair used throughout RNL, SM
// and RR/USI payloads.
type NodeWord struct {
	Address uint16
	Class   uint8
}

func encodeNodeWord(w NodeWord) uint16 {
	return (uint16(w.Class) & 0x7 << 13) | (w.Address & 0x1FFF)
}

func decodeNodeWord(v uint16) NodeWord {
	return NodeWord{Address: v & 0x1FFF, Class: uint8(v>>13) & 0x7}
}

// MACParams packs mac_params(2): {frame_factor:3, ul_slot_size/10:5,
// dl_slot_size/10:5, channel_count:3}.
type MACParams struct {
	FrameFactor  uint8
	ULSlotSizeMs uint16 // must be a multiple of 10
	DLSlotSizeMs uint16 // must be a multiple of 10
	ChannelCount uint8
}

func (p MACParams) encode() uint16 {
	return uint16(p.FrameFactor&0x7)<<13 |
		uint16((p.ULSlotSizeMs/10)&0x1F)<<8 |
		uint16((p.DLSlotSizeMs/10)&0x1F)<<3 |
		uint16(p.ChannelCount&0x7)
}

func decodeMACParams(v uint16) MACParams {
	return MACParams{
		FrameFactor:  uint8(v>>13) & 0x7,
		ULSlotSizeMs: uint16(v>>8&0x1F) * 10,
		DLSlotSizeMs: uint16(v>>3&0x1F) * 10,
		ChannelCount: uint8(v) & 0x7,
	}
}

// Header is the fixed 7-byte prefix shared by every frame type.
type Header struct {
	Type   PktType
	Src    uint16
	Dst    uint16
	Params MACParams
}

// EncodeHeader serializes just the fixed 7-byte prefix, for callers (tests,
// a gateway-side emulator) that need to build a raw uplink frame byte for
// byte without going through an Encode* that only exists for downlink
// types.
func EncodeHeader(h Header) []byte {
	return h.appendTo(make([]byte, 0, headerLen))
}

func (h Header) appendTo(b []byte) []byte {
	b = append(b, byte(h.Type))
	b = binary.BigEndian.AppendUint16(b, h.Src)
	b = binary.BigEndian.AppendUint16(b, h.Dst)
	return binary.BigEndian.AppendUint16(b, h.Params.encode())
}

func decodeHeader(b []byte) (Header, []byte, error) {
	if len(b) < headerLen {
		return Header{}, nil, ErrMalformed
	}
	h := Header{
		Type:   PktType(b[0]),
		Src:    binary.BigEndian.Uint16(b[1:3]),
		Dst:    binary.BigEndian.Uint16(b[3:5]),
		Params: decodeMACParams(binary.BigEndian.Uint16(b[5:7])),
	}
	return h, b[headerLen:], nil
}

// PeekType reads only mac_header.pkt_type, for dispatch before full
// decode (§4.6).
func PeekType(b []byte) (PktType, error) {
	if len(b) < 1 {
		return 0, ErrMalformed
	}
	return PktType(b[0]), nil
}
