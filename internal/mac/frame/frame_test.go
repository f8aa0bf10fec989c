package frame

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func appendNodeWord(b []byte, w NodeWord) []byte {
	return binary.BigEndian.AppendUint16(b, encodeNodeWord(w))
}

func testHeader(typ PktType) Header {
	return Header{
		Type: typ,
		Src:  0x0001,
		Dst:  0x1FFF,
		Params: MACParams{
			FrameFactor:  6,
			ULSlotSizeMs: 200,
			DLSlotSizeMs: 100,
			ChannelCount: 3,
		},
	}
}

func TestMACParamsRoundTrip(t *testing.T) {
	p := MACParams{FrameFactor: 5, ULSlotSizeMs: 310, DLSlotSizeMs: 150, ChannelCount: 7}
	got := decodeMACParams(p.encode())
	if got != p {
		t.Errorf("round trip = %+v, want %+v", got, p)
	}
}

func TestNodeWordRoundTrip(t *testing.T) {
	w := NodeWord{Address: 0x1A2B & 0x1FFF, Class: 5}
	got := decodeNodeWord(encodeNodeWord(w))
	if got != w {
		t.Errorf("round trip = %+v, want %+v", got, w)
	}
}

func TestEncodeDecodeRNLRoundTrip(t *testing.T) {
	in := RNLInput{
		Header:   testHeader(PktRNL),
		Seq:      42,
		NetReady: true,
		Nodes: []NodeWord{
			{Address: 0x0101, Class: 1},
			{Address: 0x0102, Class: 2},
		},
	}
	b, err := EncodeRNL(in)
	if err != nil {
		t.Fatalf("EncodeRNL: %v", err)
	}
	typ, err := PeekType(b)
	if err != nil || typ != PktRNL {
		t.Fatalf("PeekType = %v, %v", typ, err)
	}
	got, err := DecodeRNL(b)
	if err != nil {
		t.Fatalf("DecodeRNL: %v", err)
	}
	if got.Seq != in.Seq || got.NetReady != in.NetReady || len(got.Nodes) != len(in.Nodes) {
		t.Fatalf("got %+v, want %+v", got, in)
	}
	for i := range in.Nodes {
		if got.Nodes[i] != in.Nodes[i] {
			t.Errorf("node %d = %+v, want %+v", i, got.Nodes[i], in.Nodes[i])
		}
	}
}

func TestEncodeRNLTooManyNodes(t *testing.T) {
	nodes := make([]NodeWord, MaxRNLNodes+1)
	_, err := EncodeRNL(RNLInput{Header: testHeader(PktRNL), Nodes: nodes})
	if err != ErrTooManyNodes {
		t.Errorf("err = %v, want ErrTooManyNodes", err)
	}
}

func TestEncodeDecodeSMWithGroupRoundTrip(t *testing.T) {
	in := SMInput{
		Header:        testHeader(PktSM),
		SMCount:       15,
		SCH1Size:      12,
		SCH2StartSlot: 180,
		RelayCount:    2,
		Group: &SMGroupPayload{
			GroupID:  1,
			StartLSI: 5,
			Nodes: []SMGroupNode{
				{Address: 0x0201, Class: 2, SlotDemand: 4},
				{Address: 0x0202, Class: 0, SlotDemand: 1},
			},
		},
	}
	b, err := EncodeSM(in)
	if err != nil {
		t.Fatalf("EncodeSM: %v", err)
	}
	got, err := DecodeSM(b)
	if err != nil {
		t.Fatalf("DecodeSM: %v", err)
	}
	if got.SMCount != in.SMCount || got.SCH1Size != in.SCH1Size ||
		got.SCH2StartSlot != in.SCH2StartSlot || got.RelayCount != in.RelayCount {
		t.Fatalf("control fields mismatch: got %+v want %+v", got, in)
	}
	if got.Group == nil || got.Group.GroupID != in.Group.GroupID || got.Group.StartLSI != in.Group.StartLSI {
		t.Fatalf("group = %+v, want %+v", got.Group, in.Group)
	}
	if len(got.Group.Nodes) != len(in.Group.Nodes) {
		t.Fatalf("node count = %d, want %d", len(got.Group.Nodes), len(in.Group.Nodes))
	}
	for i := range in.Group.Nodes {
		if got.Group.Nodes[i] != in.Group.Nodes[i] {
			t.Errorf("group node %d = %+v, want %+v", i, got.Group.Nodes[i], in.Group.Nodes[i])
		}
	}
}

// TestEncodeSMNoPendingGroupOmitsPayload covers the case where every group
// has finished distributing its schedule: the frame still carries the
// control fields (sch1/sch2/relay_count) but no group payload at all.
func TestEncodeSMNoPendingGroupOmitsPayload(t *testing.T) {
	in := SMInput{Header: testHeader(PktSM), SMCount: 1, SCH1Size: 15, SCH2StartSlot: 12}
	b, err := EncodeSM(in)
	if err != nil {
		t.Fatalf("EncodeSM: %v", err)
	}
	got, err := DecodeSM(b)
	if err != nil {
		t.Fatalf("DecodeSM: %v", err)
	}
	if got.Group != nil {
		t.Errorf("Group = %+v, want nil", got.Group)
	}
}

func TestEncodeDecodeCMRoundTrip(t *testing.T) {
	in := CMInput{
		Header:          testHeader(PktCM),
		Seq:             7,
		LastAssignedLSI: []uint8{12, 9},
		USI: []USIEntry{
			{
				GroupID:       0,
				StartLSI:      3,
				ParentAddress: 0x0301,
				ParentClass:   2,
				Children: []USIChild{
					{Address: 0x0302, Class: 1},
					{Address: 0x0303, Class: 0},
				},
			},
		},
	}
	b, err := EncodeCM(in)
	if err != nil {
		t.Fatalf("EncodeCM: %v", err)
	}
	got, err := DecodeCM(b, len(in.LastAssignedLSI))
	if err != nil {
		t.Fatalf("DecodeCM: %v", err)
	}
	if got.Seq != in.Seq || !bytes.Equal(got.LastAssignedLSI, in.LastAssignedLSI) {
		t.Fatalf("got %+v, want %+v", got, in)
	}
	if len(got.USI) != 1 {
		t.Fatalf("USI count = %d, want 1", len(got.USI))
	}
	gu, wu := got.USI[0], in.USI[0]
	if gu.GroupID != wu.GroupID || gu.StartLSI != wu.StartLSI || gu.ParentAddress != wu.ParentAddress {
		t.Fatalf("USI entry = %+v, want %+v", gu, wu)
	}
	if len(gu.Children) != len(wu.Children) {
		t.Fatalf("children count = %d, want %d", len(gu.Children), len(wu.Children))
	}
}

func TestEncodeDecodeCMNoUSI(t *testing.T) {
	in := CMInput{Header: testHeader(PktCM), Seq: 1, LastAssignedLSI: []uint8{4}}
	b, err := EncodeCM(in)
	if err != nil {
		t.Fatalf("EncodeCM: %v", err)
	}
	got, err := DecodeCM(b, 1)
	if err != nil {
		t.Fatalf("DecodeCM: %v", err)
	}
	if len(got.USI) != 0 {
		t.Errorf("USI = %+v, want empty", got.USI)
	}
}

func TestDecodeRRSelf(t *testing.T) {
	h := testHeader(PktRR)
	h.Src = 0x0055
	b := h.appendTo(nil)
	b = append(b, 0x00<<6) // type 0, child_count 0
	b = appendNodeWord(b, NodeWord{Address: 0x0055, Class: 4})

	got, err := DecodeRR(b)
	if err != nil {
		t.Fatalf("DecodeRR: %v", err)
	}
	if got.Type != RRSelf || len(got.Entries) != 1 || got.Entries[0].Address != 0x0055 {
		t.Fatalf("got %+v", got)
	}
}

func TestDecodeRRRelay(t *testing.T) {
	h := testHeader(PktRR)
	h.Src = 0x0060
	b := h.appendTo(nil)
	rrCtrl := byte(RRRelay)<<6 | 2 // 2 children
	b = append(b, rrCtrl)
	b = appendNodeWord(b, NodeWord{Address: 0x0060, Class: 1}) // relay itself
	b = appendNodeWord(b, NodeWord{Address: 0x0061, Class: 0})
	b = appendNodeWord(b, NodeWord{Address: 0x0062, Class: 0})

	got, err := DecodeRR(b)
	if err != nil {
		t.Fatalf("DecodeRR: %v", err)
	}
	if got.Type != RRRelay || len(got.Entries) != 3 {
		t.Fatalf("got %+v", got)
	}
	if got.Entries[0].Address != h.Src {
		t.Errorf("Entries[0] = %+v, want relay address %#x", got.Entries[0], h.Src)
	}
}

func TestDecodeRRRelayMismatchedSrcIsMalformed(t *testing.T) {
	h := testHeader(PktRR)
	h.Src = 0x0070
	b := h.appendTo(nil)
	rrCtrl := byte(RRRelay)<<6 | 1
	b = append(b, rrCtrl)
	b = appendNodeWord(b, NodeWord{Address: 0x0099, Class: 0}) // wrong
	b = appendNodeWord(b, NodeWord{Address: 0x0071, Class: 0})

	if _, err := DecodeRR(b); err != ErrMalformed {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
}

func TestDecodeDataPlain(t *testing.T) {
	h := testHeader(PktDATA)
	b := h.appendTo(nil)
	b = binary.BigEndian.AppendUint16(b, 100) // seq
	b = append(b, 0x00)                       // data_ctrl: no relay, no j_slot, no signal
	payload := []byte("hello")
	b = append(b, byte(len(payload)))
	b = append(b, payload...)

	got, err := DecodeData(b)
	if err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if got.Relayed || got.HasSignal || got.Seq != 100 || !bytes.Equal(got.Payload, payload) {
		t.Fatalf("got %+v", got)
	}
}

func TestDecodeDataRelayedWithJSlot(t *testing.T) {
	// relayed with j_slot set: j_slot is skipped independent of the
	// relayed bit (rtlora_mac.c ctrl1 check precedes the ctrl0 branch),
	// and the relayed branch reads only origin_addr, never RSSI/SNR.
	h := testHeader(PktDATA)
	b := h.appendTo(nil)
	b = binary.BigEndian.AppendUint16(b, 55) // seq
	dataCtrl := byte(1<<7 | 1<<6)
	b = append(b, dataCtrl)
	b = append(b, 9)                             // j_slot
	b = binary.BigEndian.AppendUint16(b, 0x0042) // origin_addr
	payload := []byte{1, 2, 3}
	b = append(b, byte(len(payload)))
	b = append(b, payload...)

	got, err := DecodeData(b)
	if err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if !got.Relayed || got.JSlot != 9 || got.OriginAddr != 0x0042 {
		t.Fatalf("got %+v", got)
	}
	if got.HasSignal {
		t.Errorf("HasSignal = true, want false on relayed leg")
	}
	if !bytes.Equal(got.Payload, payload) {
		t.Errorf("payload = %v, want %v", got.Payload, payload)
	}
}

func TestDecodeDataDirectWithSignalMeta(t *testing.T) {
	// non-relayed with signal_meta set: RSSI/SNR are only carried on the
	// direct (non-relayed) leg (rtlora_mac.c ctrl2 check inside the
	// else-of-ctrl0 arm).
	h := testHeader(PktDATA)
	b := h.appendTo(nil)
	b = binary.BigEndian.AppendUint16(b, 55) // seq
	dataCtrl := byte(1 << 5)
	b = append(b, dataCtrl)
	rssi, snr := int16(-80), int8(-5)
	b = binary.BigEndian.AppendUint16(b, uint16(rssi))
	b = append(b, byte(snr))
	payload := []byte{1, 2, 3}
	b = append(b, byte(len(payload)))
	b = append(b, payload...)

	got, err := DecodeData(b)
	if err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if got.Relayed {
		t.Fatalf("got %+v, want Relayed=false", got)
	}
	if !got.HasSignal || got.RSSI != -80 || got.SNR != -5 {
		t.Fatalf("signal fields = %+v", got)
	}
	if !bytes.Equal(got.Payload, payload) {
		t.Errorf("payload = %v, want %v", got.Payload, payload)
	}
}

func TestDecodeDataTruncatedIsMalformed(t *testing.T) {
	h := testHeader(PktDATA)
	b := h.appendTo(nil)
	b = binary.BigEndian.AppendUint16(b, 1)
	b = append(b, 0x00)
	b = append(b, 10) // claims 10 bytes of payload, supplies none
	if _, err := DecodeData(b); err != ErrMalformed {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
}

func FuzzRNLRoundTrip(f *testing.F) {
	f.Add(uint16(7), true, uint16(0x0101), uint8(2))
	f.Fuzz(func(t *testing.T, seq uint16, netReady bool, addr uint16, class uint8) {
		in := RNLInput{
			Header:   testHeader(PktRNL),
			Seq:      seq,
			NetReady: netReady,
			Nodes:    []NodeWord{{Address: addr & 0x1FFF, Class: class & 0x7}},
		}
		b, err := EncodeRNL(in)
		if err != nil {
			t.Fatalf("EncodeRNL: %v", err)
		}
		got, err := DecodeRNL(b)
		if err != nil {
			t.Fatalf("DecodeRNL: %v", err)
		}
		if got.Seq != in.Seq || got.NetReady != in.NetReady || got.Nodes[0] != in.Nodes[0] {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, in)
		}
	})
}
