// Package tunnel implements the UDP Tunnel: a multiplexed relay that
// forwards peer-to-peer game traffic between NAT-restricted players
// via the server (spec.md §4.8). It is a pure L4 relay — it never
// parses or inspects the opaque payload it forwards.
package tunnel

import (
	"encoding/binary"
	"fmt"
)

// MessageType is the datagram's one-byte message type.
type MessageType byte

const (
	MsgKeepalive MessageType = 0
	MsgHello     MessageType = 1
	MsgForward   MessageType = 2
	MsgAck       MessageType = 3
)

// ProtocolVersion is the only datagram version this package emits or
// accepts.
const ProtocolVersion byte = 1

// headerSize is version(1) + tunnelId(4) + msgType(1) + length(2).
const headerSize = 1 + 4 + 1 + 2

// Datagram is one parsed UDP tunnel message (spec.md §4.8: "1-byte
// version, 4-byte tunnel id, 1-byte message type, 2-byte length,
// payload", little-endian).
type Datagram struct {
	TunnelID uint32
	Type     MessageType
	Payload  []byte
}

// Marshal serializes a Datagram onto the wire.
func Marshal(d Datagram) []byte {
	buf := make([]byte, headerSize+len(d.Payload))
	buf[0] = ProtocolVersion
	binary.LittleEndian.PutUint32(buf[1:5], d.TunnelID)
	buf[5] = byte(d.Type)
	binary.LittleEndian.PutUint16(buf[6:8], uint16(len(d.Payload)))
	copy(buf[headerSize:], d.Payload)
	return buf
}

// Unmarshal parses a Datagram from a received UDP packet.
func Unmarshal(buf []byte) (Datagram, error) {
	if len(buf) < headerSize {
		return Datagram{}, fmt.Errorf("tunnel: datagram too short: %d bytes", len(buf))
	}
	if buf[0] != ProtocolVersion {
		return Datagram{}, fmt.Errorf("tunnel: unsupported datagram version %d", buf[0])
	}
	length := binary.LittleEndian.Uint16(buf[6:8])
	if int(length) != len(buf)-headerSize {
		return Datagram{}, fmt.Errorf("tunnel: length field %d does not match payload %d", length, len(buf)-headerSize)
	}
	return Datagram{
		TunnelID: binary.LittleEndian.Uint32(buf[1:5]),
		Type:     MessageType(buf[5]),
		Payload:  buf[headerSize:],
	}, nil
}

// helloPayload/forwardPayload give the opaque HELLO/FORWARD payloads a
// stable shape the relay can rewrite without interpreting the rest:
// HELLO carries a session token string; FORWARD carries a 1-byte
// target slot followed by the caller-opaque payload.

// MarshalHello builds a HELLO payload: the session token as raw bytes.
func MarshalHello(sessionToken string) []byte {
	return []byte(sessionToken)
}

// MarshalForward builds a FORWARD payload: target slot then opaque data.
func MarshalForward(targetSlot byte, opaque []byte) []byte {
	buf := make([]byte, 1+len(opaque))
	buf[0] = targetSlot
	copy(buf[1:], opaque)
	return buf
}

// ParseForward splits a FORWARD payload into its target slot and
// opaque remainder.
func ParseForward(payload []byte) (targetSlot byte, opaque []byte, err error) {
	if len(payload) < 1 {
		return 0, nil, fmt.Errorf("tunnel: forward payload empty")
	}
	return payload[0], payload[1:], nil
}
