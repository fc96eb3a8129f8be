package packet

import "encoding/binary"

// ErrIncomplete is returned by Reader.Next when buf does not yet hold
// a complete frame. It is not a decoding failure: the caller should
// Feed more bytes and call Next again. No bytes are consumed when
// ErrIncomplete is returned, so splitting a valid byte stream at any
// point and feeding it in chunks yields the same packet sequence as
// feeding it whole (spec.md §8 property 3).
var ErrIncomplete = incompleteErr{}

type incompleteErr struct{}

func (incompleteErr) Error() string { return "packet: incomplete frame" }

// Reader accumulates bytes fed to it and yields complete Packets as
// they become available. It holds no reference to the slices passed
// to Feed; each is copied into an internal buffer, mirroring the
// teacher's BytePool-backed read loop generalized to arbitrary chunk
// boundaries instead of one read() per packet.
type Reader struct {
	buf []byte
}

// NewReader returns an empty Reader ready to accept bytes.
func NewReader() *Reader {
	return &Reader{}
}

// Feed appends newly received bytes to the reader's internal buffer.
func (r *Reader) Feed(data []byte) {
	r.buf = append(r.buf, data...)
}

// Next attempts to parse one frame from the front of the buffered
// bytes. It returns ErrIncomplete when more bytes are needed, or a
// *MalformedPacket / *OversizedPacket on a permanent framing failure
// (the caller should then close the connection; the reader does not
// attempt to resynchronize a corrupt stream).
func (r *Reader) Next() (*Packet, error) {
	pkt, consumed, err := tryParse(r.buf)
	if err != nil {
		return nil, err
	}
	if pkt == nil {
		return nil, ErrIncomplete
	}
	r.buf = r.buf[consumed:]
	return pkt, nil
}

// Pending reports how many bytes are buffered but not yet consumed
// into a returned Packet.
func (r *Reader) Pending() int {
	return len(r.buf)
}

// tryParse parses one frame from the head of buf. It returns
// (nil, 0, nil) when buf does not yet hold a complete frame.
func tryParse(buf []byte) (*Packet, int, error) {
	if len(buf) < 2 {
		return nil, 0, nil
	}
	lengthField := binary.BigEndian.Uint16(buf[0:2])

	var headerStart int
	var totalLen uint32
	if lengthField&extendedLengthFlag != 0 {
		if lengthField != extendedLengthFlag {
			return nil, 0, malformed("unknown frame length flag 0x%04x", lengthField)
		}
		if len(buf) < 6 {
			return nil, 0, nil
		}
		totalLen = binary.BigEndian.Uint32(buf[2:6])
		headerStart = 6
	} else {
		totalLen = uint32(lengthField)
		headerStart = 2
	}

	if int(totalLen) > MaxPacketSize {
		return nil, 0, &OversizedPacket{Limit: MaxPacketSize, Got: int(totalLen)}
	}

	frameEnd := headerStart + int(totalLen)
	if len(buf) < frameEnd {
		return nil, 0, nil
	}

	if totalLen < fixedHeaderSize {
		return nil, 0, malformed("frame length %d too small for fixed header", totalLen)
	}
	h := buf[headerStart:]
	component := binary.BigEndian.Uint16(h[0:2])
	command := binary.BigEndian.Uint16(h[2:4])
	errCode := binary.BigEndian.Uint16(h[4:6])
	typeAndFlags := binary.BigEndian.Uint16(h[6:8])
	msgType := Type(typeAndFlags & 0x0F)

	bodyStart := headerStart + fixedHeaderSize
	var messageID uint32
	if msgType.HasMessageID() {
		if frameEnd-bodyStart < 4 {
			return nil, 0, malformed("frame too small to hold message id")
		}
		messageID = binary.BigEndian.Uint32(buf[bodyStart : bodyStart+4])
		bodyStart += 4
	}

	body := make([]byte, frameEnd-bodyStart)
	copy(body, buf[bodyStart:frameEnd])

	pkt := &Packet{
		Header: Header{
			Component: component,
			Command:   command,
			Error:     errCode,
			Type:      msgType,
			MessageID: messageID,
		},
		Body: body,
	}
	return pkt, frameEnd, nil
}
