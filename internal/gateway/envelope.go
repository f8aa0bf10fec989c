// Package gateway is the external boundary from §6: gateways speak JSON
// over TCP, framed by a 4-byte protocol header. This file is the wire
// codec half of that boundary — plain struct <-> []byte, no I/O — mirroring
// the way internal/mac/frame stays a pure codec and lets higher layers do
// the reading and writing.
package gateway

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// MsgID identifies the 4-byte header's id field (§6).
type MsgID uint8

const (
	TimesyncReq MsgID = 0
	TimesyncRes MsgID = 1
	DownlinkData MsgID = 2
	UplinkData   MsgID = 4
)

func (id MsgID) String() string {
	switch id {
	case TimesyncReq:
		return "TIMESYNC_REQ"
	case TimesyncRes:
		return "TIMESYNC_RES"
	case DownlinkData:
		return "DOWNLINK_DATA"
	case UplinkData:
		return "UPLINK_DATA"
	default:
		return "unknown"
	}
}

// protocolVersion is the fixed version byte every header carries (§6
// "version=2").
const protocolVersion = 2

// headerLen is the fixed 4-byte prefix: version(1) | token_h(1) |
// token_l(1) | id(1).
const headerLen = 4

var ErrShortHeader = errors.New("gateway: frame shorter than 4-byte header")

// header is the 4-byte prefix shared by every gateway-bound and
// gateway-originated message (§6).
type header struct {
	TokenH byte
	TokenL byte
	ID     MsgID
}

func (h header) appendTo(b []byte) []byte {
	return append(b, protocolVersion, h.TokenH, h.TokenL, byte(h.ID))
}

func decodeHeader(b []byte) (header, []byte, error) {
	if len(b) < headerLen {
		return header{}, nil, ErrShortHeader
	}
	return header{TokenH: b[1], TokenL: b[2], ID: MsgID(b[3])}, b[headerLen:], nil
}

// TxPk is the outbound transmit record the core emits for a downlink
// envelope (§6 "txpk"). Field names follow the wire JSON exactly, the same
// lowercase-abbreviated style the Semtech packet-forwarder protocol this
// boundary imitates uses.
type TxPk struct {
	ImmeT bool    `json:"imme"`
	TmS   int64   `json:"tm_s"`
	TmUs  int64   `json:"tm_us"`
	RFCh  uint8   `json:"rfch"`
	FreqM float64 `json:"freq"`
	Powe  int8    `json:"powe"`
	Modu  string  `json:"modu"`
	Datr  string  `json:"datr"`
	Codr  string  `json:"codr"`
	IPol  bool    `json:"ipol"`
	Prea  uint16  `json:"prea"`
	Size  uint16  `json:"size"`
	Data  string  `json:"data"` // base64
}

type txPkWrapper struct {
	TxPk TxPk `json:"txpk"`
}

// RxPk is one received-packet record inside an UPLINK_DATA message (§6
// "rxpk").
type RxPk struct {
	RSSI int16  `json:"rssi"`
	LSNR float64 `json:"lsnr"`
	Size uint16 `json:"size"`
	Data string `json:"data"` // base64
}

type rxPkWrapper struct {
	RxPk []RxPk `json:"rxpk"`
}

// TimesyncPayload carries the four timestamp fields exchanged by
// TIMESYNC_REQ/RES (§6). A request only ever needs the header; the core
// fills in its own rx/tx stamps when it replies.
type TimesyncPayload struct {
	ServerRxS  int64 `json:"t_server_rx_s"`
	ServerRxUs int64 `json:"t_server_rx_us"`
	ServerTxS  int64 `json:"t_server_tx_s"`
	ServerTxUs int64 `json:"t_server_tx_us"`
}

// EncodeDownlink frames a TxPk as a DOWNLINK_DATA message (§6).
func EncodeDownlink(tokenH, tokenL byte, payload []byte, tx TxPk) []byte {
	tx.Size = uint16(len(payload))
	tx.Data = base64.StdEncoding.EncodeToString(payload)
	body, _ := json.Marshal(txPkWrapper{TxPk: tx})
	h := header{TokenH: tokenH, TokenL: tokenL, ID: DownlinkData}
	b := h.appendTo(make([]byte, 0, headerLen+len(body)))
	return append(b, body...)
}

// DecodeUplink parses an UPLINK_DATA message body into its RxPk records
// and the token the gateway used, so a reply can echo it.
func DecodeUplink(b []byte) (tokenH, tokenL byte, payloads [][]byte, err error) {
	h, body, err := decodeHeader(b)
	if err != nil {
		return 0, 0, nil, err
	}
	if h.ID != UplinkData {
		return 0, 0, nil, fmt.Errorf("gateway: expected UPLINK_DATA, got %s", h.ID)
	}
	var w rxPkWrapper
	if err := json.Unmarshal(body, &w); err != nil {
		return 0, 0, nil, fmt.Errorf("gateway: decode rxpk: %w", err)
	}
	out := make([][]byte, 0, len(w.RxPk))
	for _, rx := range w.RxPk {
		raw, err := base64.StdEncoding.DecodeString(rx.Data)
		if err != nil {
			return 0, 0, nil, fmt.Errorf("gateway: decode rxpk payload: %w", err)
		}
		out = append(out, raw)
	}
	return h.TokenH, h.TokenL, out, nil
}

// IsTimesyncReq reports whether b is a TIMESYNC_REQ frame, and returns the
// token to echo back in the response.
func IsTimesyncReq(b []byte) (tokenH, tokenL byte, ok bool) {
	h, _, err := decodeHeader(b)
	if err != nil || h.ID != TimesyncReq {
		return 0, 0, false
	}
	return h.TokenH, h.TokenL, true
}

// EncodeTimesyncRes frames a TIMESYNC_RES reply (§6).
func EncodeTimesyncRes(tokenH, tokenL byte, p TimesyncPayload) []byte {
	body, _ := json.Marshal(p)
	h := header{TokenH: tokenH, TokenL: tokenL, ID: TimesyncRes}
	b := h.appendTo(make([]byte, 0, headerLen+len(body)))
	return append(b, body...)
}
