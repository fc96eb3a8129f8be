package packet

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Append serializes pkt onto buf and returns the extended slice,
// choosing the short length form when the frame fits in 0x7FFF bytes
// and the extended form otherwise.
func Append(buf []byte, pkt *Packet) ([]byte, error) {
	bodyLen := len(pkt.Body)
	total := fixedHeaderSize + bodyLen
	if pkt.Header.Type.HasMessageID() {
		total += 4
	}
	if total > MaxPacketSize {
		return nil, &OversizedPacket{Limit: MaxPacketSize, Got: total}
	}

	if total <= shortLengthLimit {
		var lenField [2]byte
		binary.BigEndian.PutUint16(lenField[:], uint16(total))
		buf = append(buf, lenField[:]...)
	} else {
		var hdr [6]byte
		binary.BigEndian.PutUint16(hdr[0:2], extendedLengthFlag)
		binary.BigEndian.PutUint32(hdr[2:6], uint32(total))
		buf = append(buf, hdr[:]...)
	}

	var fixed [8]byte
	binary.BigEndian.PutUint16(fixed[0:2], pkt.Header.Component)
	binary.BigEndian.PutUint16(fixed[2:4], pkt.Header.Command)
	binary.BigEndian.PutUint16(fixed[4:6], pkt.Header.Error)
	binary.BigEndian.PutUint16(fixed[6:8], uint16(pkt.Header.Type)&0x0F)
	buf = append(buf, fixed[:]...)

	if pkt.Header.Type.HasMessageID() {
		var msgID [4]byte
		binary.BigEndian.PutUint32(msgID[:], pkt.Header.MessageID)
		buf = append(buf, msgID[:]...)
	}

	return append(buf, pkt.Body...), nil
}

// Write serializes pkt and writes it to w in a single Write call,
// using a pooled scratch buffer the way the teacher's login writer
// reuses a byte pool across packets instead of allocating per call.
func Write(w io.Writer, pkt *Packet) error {
	scratch := bufPool.Get().([]byte)[:0]
	defer func() { bufPool.Put(scratch) }()

	framed, err := Append(scratch, pkt)
	if err != nil {
		return fmt.Errorf("packet: encode: %w", err)
	}
	if _, err := w.Write(framed); err != nil {
		return fmt.Errorf("packet: write: %w", err)
	}
	return nil
}
