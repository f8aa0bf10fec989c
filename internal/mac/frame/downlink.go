package frame

import "encoding/binary"

// MaxRNLNodes is the added_node_count cap from §4.4 (7-bit field, spec
// additionally caps it at 20).
const MaxRNLNodes = 20

// RNLInput assembles one Registration Node List announcement (§4.4).
type RNLInput struct {
	Header   Header
	Seq      uint16
	NetReady bool
	Nodes    []NodeWord // already drained from RNL by the caller, <= MaxRNLNodes
}

// EncodeRNL serializes an RNL frame.
func EncodeRNL(in RNLInput) ([]byte, error) {
	if len(in.Nodes) > MaxRNLNodes {
		return nil, ErrTooManyNodes
	}
	in.Header.Type = PktRNL
	b := in.Header.appendTo(make([]byte, 0, headerLen+3+2*len(in.Nodes)))
	b = binary.BigEndian.AppendUint16(b, in.Seq)

	var rnlCtrl uint8
	if in.NetReady {
		rnlCtrl |= 1 << 7
	}
	rnlCtrl |= uint8(len(in.Nodes)) & 0x7F
	b = append(b, rnlCtrl)

	for _, n := range in.Nodes {
		b = binary.BigEndian.AppendUint16(b, encodeNodeWord(n))
	}
	return b, nil
}

// DecodeRNL is the inverse of EncodeRNL (used by the external verifier's
// round-trip check, §8).
func DecodeRNL(b []byte) (RNLInput, error) {
	h, rest, err := decodeHeader(b)
	if err != nil {
		return RNLInput{}, err
	}
	if len(rest) < 3 {
		return RNLInput{}, ErrMalformed
	}
	seq := binary.BigEndian.Uint16(rest[0:2])
	rnlCtrl := rest[2]
	netReady := rnlCtrl&(1<<7) != 0
	count := int(rnlCtrl & 0x7F)
	rest = rest[3:]
	if len(rest) < count*2 {
		return RNLInput{}, ErrMalformed
	}
	nodes := make([]NodeWord, count)
	for i := 0; i < count; i++ {
		nodes[i] = decodeNodeWord(binary.BigEndian.Uint16(rest[i*2 : i*2+2]))
	}
	return RNLInput{Header: h, Seq: seq, NetReady: netReady, Nodes: nodes}, nil
}

// MaxSMNodesPerGroup is node_count's 5-bit cap from §4.4.
const MaxSMNodesPerGroup = 31

// SMGroupNode is one node announced within an SM group payload.
type SMGroupNode struct {
	Address    uint16
	Class      uint8
	SlotDemand uint8
}

// SMGroupPayload is the single group's schedule carried by one SM frame.
// Only one group is ever included per transmission, matching the source's
// assembly loop (schedule_mngt.c / rtlora_mac.c): the group scan stops at
// the first group with distributions_pending > 0.
type SMGroupPayload struct {
	GroupID  uint8
	StartLSI uint8
	Nodes    []SMGroupNode // <= MaxSMNodesPerGroup
}

// SMInput assembles one Scheduling Message (§4.4).
type SMInput struct {
	Header        Header
	SMCount       uint8 // 1..15, sm_count (4 bits)
	SCH1Size      uint8 // sch1_size (4 bits)
	SCH2StartSlot uint8
	RelayCount    uint8
	Group         *SMGroupPayload // nil when no group has pending distributions
}

// EncodeSM serializes an SM frame.
func EncodeSM(in SMInput) ([]byte, error) {
	if in.Group != nil && len(in.Group.Nodes) > MaxSMNodesPerGroup {
		return nil, ErrTooManyNodes
	}
	in.Header.Type = PktSM
	size := headerLen + 3
	if in.Group != nil {
		size += 2 + 3*len(in.Group.Nodes)
	}
	b := in.Header.appendTo(make([]byte, 0, size))

	smCtrl := (in.SMCount&0xF)<<4 | (in.SCH1Size & 0xF)
	b = append(b, smCtrl, in.SCH2StartSlot, in.RelayCount)

	if in.Group != nil {
		groupCtrl := (in.Group.GroupID&0x7)<<5 | (uint8(len(in.Group.Nodes)) & 0x1F)
		b = append(b, groupCtrl, in.Group.StartLSI)
		for _, n := range in.Group.Nodes {
			b = binary.BigEndian.AppendUint16(b, encodeNodeWord(NodeWord{Address: n.Address, Class: n.Class}))
			b = append(b, n.SlotDemand)
		}
	}
	return b, nil
}

// DecodeSM is the inverse of EncodeSM.
func DecodeSM(b []byte) (SMInput, error) {
	h, rest, err := decodeHeader(b)
	if err != nil {
		return SMInput{}, err
	}
	if len(rest) < 3 {
		return SMInput{}, ErrMalformed
	}
	smCtrl, sch2StartSlot, relayCount := rest[0], rest[1], rest[2]
	rest = rest[3:]

	out := SMInput{
		Header:        h,
		SMCount:       smCtrl >> 4 & 0xF,
		SCH1Size:      smCtrl & 0xF,
		SCH2StartSlot: sch2StartSlot,
		RelayCount:    relayCount,
	}
	if len(rest) == 0 {
		return out, nil
	}
	if len(rest) < 2 {
		return SMInput{}, ErrMalformed
	}
	groupCtrl, startLSI := rest[0], rest[1]
	nodeCount := int(groupCtrl & 0x1F)
	rest = rest[2:]
	if len(rest) < nodeCount*3 {
		return SMInput{}, ErrMalformed
	}
	nodes := make([]SMGroupNode, nodeCount)
	for i := 0; i < nodeCount; i++ {
		w := decodeNodeWord(binary.BigEndian.Uint16(rest[i*3 : i*3+2]))
		nodes[i] = SMGroupNode{Address: w.Address, Class: w.Class, SlotDemand: rest[i*3+2]}
	}
	out.Group = &SMGroupPayload{GroupID: groupCtrl >> 5 & 0x7, StartLSI: startLSI, Nodes: nodes}
	return out, nil
}

// MaxUSIEntries is the CM's USI section cap from §4.4.
const MaxUSIEntries = 15

// USIChild is one relay child's address/class word within a USI entry.
type USIChild struct {
	Address uint16
	Class   uint8
}

// USIEntry is one relay's updated schedule info (§4.4, §GLOSSARY "USI").
type USIEntry struct {
	GroupID       uint8
	StartLSI      uint8
	ParentAddress uint16
	ParentClass   uint8
	Children      []USIChild
}

// CMInput assembles one Command Message (§4.4).
type CMInput struct {
	Header          Header
	Seq             uint16
	LastAssignedLSI []uint8 // one per group, G bytes
	USI             []USIEntry // <= MaxUSIEntries
}

// EncodeCM serializes a CM frame.
func EncodeCM(in CMInput) ([]byte, error) {
	if len(in.USI) > MaxUSIEntries {
		return nil, ErrTooManyNodes
	}
	size := headerLen + 2 + len(in.LastAssignedLSI) + 1
	for _, u := range in.USI {
		size += 1 + 1 + 2 + 2*len(u.Children)
	}
	hdr := in.Header
	hdr.Type = PktCM
	b := hdr.appendTo(make([]byte, 0, size))

	b = binary.BigEndian.AppendUint16(b, in.Seq)
	b = append(b, in.LastAssignedLSI...)

	var cmCtrl uint8
	if len(in.USI) > 0 {
		cmCtrl |= 1 << 7
		cmCtrl |= (uint8(len(in.USI)) & 0xF) << 3
	}
	b = append(b, cmCtrl)

	for _, u := range in.USI {
		entryCtrl := (u.GroupID&0x7)<<5 | (uint8(len(u.Children)) & 0x1F)
		b = append(b, entryCtrl, u.StartLSI)
		b = binary.BigEndian.AppendUint16(b, encodeNodeWord(NodeWord{Address: u.ParentAddress, Class: u.ParentClass}))
		for _, c := range u.Children {
			b = binary.BigEndian.AppendUint16(b, encodeNodeWord(NodeWord{Address: c.Address, Class: c.Class}))
		}
	}
	return b, nil
}

// DecodeCM is the inverse of EncodeCM. groupCount must match the G the
// frame was encoded with (the core and every gateway share this value via
// CLI configuration, §6).
func DecodeCM(b []byte, groupCount int) (CMInput, error) {
	h, rest, err := decodeHeader(b)
	if err != nil {
		return CMInput{}, err
	}
	if len(rest) < 2+groupCount+1 {
		return CMInput{}, ErrMalformed
	}
	seq := binary.BigEndian.Uint16(rest[0:2])
	rest = rest[2:]
	lastAssigned := append([]uint8(nil), rest[:groupCount]...)
	rest = rest[groupCount:]

	cmCtrl := rest[0]
	rest = rest[1:]
	out := CMInput{Header: h, Seq: seq, LastAssignedLSI: lastAssigned}
	if cmCtrl&(1<<7) == 0 {
		return out, nil
	}
	usiCount := int(cmCtrl >> 3 & 0xF)
	for i := 0; i < usiCount; i++ {
		if len(rest) < 4 {
			return CMInput{}, ErrMalformed
		}
		entryCtrl, startLSI := rest[0], rest[1]
		parentWord := decodeNodeWord(binary.BigEndian.Uint16(rest[2:4]))
		rest = rest[4:]
		childCount := int(entryCtrl & 0x1F)
		if len(rest) < childCount*2 {
			return CMInput{}, ErrMalformed
		}
		children := make([]USIChild, childCount)
		for j := 0; j < childCount; j++ {
			w := decodeNodeWord(binary.BigEndian.Uint16(rest[j*2 : j*2+2]))
			children[j] = USIChild{Address: w.Address, Class: w.Class}
		}
		rest = rest[childCount*2:]
		out.USI = append(out.USI, USIEntry{
			GroupID:       entryCtrl >> 5 & 0x7,
			StartLSI:      startLSI,
			ParentAddress: parentWord.Address,
			ParentClass:   parentWord.Class,
			Children:      children,
		})
	}
	return out, nil
}
