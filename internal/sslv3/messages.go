package sslv3

import "encoding/binary"

// handshakeMessage frames a handshake body with its type and 24-bit
// length, matching the wire layout exactly so the raw bytes can be
// fed straight into the Finished transcript hash.
func handshakeMessage(msgType byte, body []byte) []byte {
	out := make([]byte, 4+len(body))
	out[0] = msgType
	out[1] = byte(len(body) >> 16)
	out[2] = byte(len(body) >> 8)
	out[3] = byte(len(body))
	copy(out[4:], body)
	return out
}

func parseHandshakeHeader(buf []byte) (msgType byte, length int, ok bool) {
	if len(buf) < 4 {
		return 0, 0, false
	}
	msgType = buf[0]
	length = int(buf[1])<<16 | int(buf[2])<<8 | int(buf[3])
	return msgType, length, true
}

type clientHello struct {
	random       [32]byte
	sessionID    []byte
	cipherSuites []uint16
	compression  []byte
}

func (h clientHello) marshal() []byte {
	buf := make([]byte, 0, 2+32+1+len(h.sessionID)+2+2*len(h.cipherSuites)+1+len(h.compression))
	buf = append(buf, ProtocolVersion[0], ProtocolVersion[1])
	buf = append(buf, h.random[:]...)
	buf = append(buf, byte(len(h.sessionID)))
	buf = append(buf, h.sessionID...)
	var csLen [2]byte
	binary.BigEndian.PutUint16(csLen[:], uint16(2*len(h.cipherSuites)))
	buf = append(buf, csLen[:]...)
	for _, cs := range h.cipherSuites {
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], cs)
		buf = append(buf, b[:]...)
	}
	buf = append(buf, byte(len(h.compression)))
	buf = append(buf, h.compression...)
	return buf
}

func parseClientHello(buf []byte) (clientHello, error) {
	var h clientHello
	if len(buf) < 2+32+1 {
		return h, protoErr("truncated client hello")
	}
	off := 2 // version, not validated beyond length: real clients may send 3.1+ compat values
	copy(h.random[:], buf[off:off+32])
	off += 32
	sidLen := int(buf[off])
	off++
	if off+sidLen > len(buf) {
		return h, protoErr("truncated client hello session id")
	}
	h.sessionID = append([]byte{}, buf[off:off+sidLen]...)
	off += sidLen

	if off+2 > len(buf) {
		return h, protoErr("truncated client hello cipher suites")
	}
	csLen := int(binary.BigEndian.Uint16(buf[off : off+2]))
	off += 2
	if csLen%2 != 0 || off+csLen > len(buf) {
		return h, protoErr("malformed client hello cipher suite list")
	}
	for i := 0; i < csLen; i += 2 {
		h.cipherSuites = append(h.cipherSuites, binary.BigEndian.Uint16(buf[off+i:off+i+2]))
	}
	off += csLen

	if off >= len(buf) {
		return h, protoErr("truncated client hello compression methods")
	}
	compLen := int(buf[off])
	off++
	if off+compLen > len(buf) {
		return h, protoErr("truncated client hello compression list")
	}
	h.compression = append([]byte{}, buf[off:off+compLen]...)
	return h, nil
}

type serverHello struct {
	random      [32]byte
	sessionID   []byte
	cipherSuite uint16
	compression byte
}

func (h serverHello) marshal() []byte {
	buf := make([]byte, 0, 2+32+1+len(h.sessionID)+2+1)
	buf = append(buf, ProtocolVersion[0], ProtocolVersion[1])
	buf = append(buf, h.random[:]...)
	buf = append(buf, byte(len(h.sessionID)))
	buf = append(buf, h.sessionID...)
	var cs [2]byte
	binary.BigEndian.PutUint16(cs[:], h.cipherSuite)
	buf = append(buf, cs[:]...)
	buf = append(buf, h.compression)
	return buf
}

func parseServerHello(buf []byte) (serverHello, error) {
	var h serverHello
	if len(buf) < 2+32+1 {
		return h, protoErr("truncated server hello")
	}
	off := 2
	copy(h.random[:], buf[off:off+32])
	off += 32
	sidLen := int(buf[off])
	off++
	if off+sidLen > len(buf) {
		return h, protoErr("truncated server hello session id")
	}
	h.sessionID = append([]byte{}, buf[off:off+sidLen]...)
	off += sidLen
	if off+3 > len(buf) {
		return h, protoErr("truncated server hello cipher/compression")
	}
	h.cipherSuite = binary.BigEndian.Uint16(buf[off : off+2])
	off += 2
	h.compression = buf[off]
	return h, nil
}

func marshalCertificateMessage(certs [][]byte) []byte {
	var certsBody []byte
	for _, der := range certs {
		var lenBuf [3]byte
		lenBuf[0] = byte(len(der) >> 16)
		lenBuf[1] = byte(len(der) >> 8)
		lenBuf[2] = byte(len(der))
		certsBody = append(certsBody, lenBuf[:]...)
		certsBody = append(certsBody, der...)
	}
	out := make([]byte, 3+len(certsBody))
	out[0] = byte(len(certsBody) >> 16)
	out[1] = byte(len(certsBody) >> 8)
	out[2] = byte(len(certsBody))
	copy(out[3:], certsBody)
	return out
}

func parseCertificateMessage(buf []byte) ([][]byte, error) {
	if len(buf) < 3 {
		return nil, protoErr("truncated certificate message")
	}
	total := int(buf[0])<<16 | int(buf[1])<<8 | int(buf[2])
	off := 3
	if off+total > len(buf) {
		return nil, protoErr("certificate message length mismatch")
	}
	end := off + total
	var certs [][]byte
	for off < end {
		if off+3 > end {
			return nil, protoErr("truncated certificate entry")
		}
		certLen := int(buf[off])<<16 | int(buf[off+1])<<8 | int(buf[off+2])
		off += 3
		if off+certLen > end {
			return nil, protoErr("certificate entry length mismatch")
		}
		certs = append(certs, append([]byte{}, buf[off:off+certLen]...))
		off += certLen
	}
	return certs, nil
}

func marshalClientKeyExchange(encryptedPreMaster []byte) []byte {
	out := make([]byte, 2+len(encryptedPreMaster))
	binary.BigEndian.PutUint16(out[0:2], uint16(len(encryptedPreMaster)))
	copy(out[2:], encryptedPreMaster)
	return out
}

func parseClientKeyExchange(buf []byte) ([]byte, error) {
	if len(buf) < 2 {
		return nil, protoErr("truncated client key exchange")
	}
	n := int(binary.BigEndian.Uint16(buf[0:2]))
	if 2+n > len(buf) {
		return nil, protoErr("client key exchange length mismatch")
	}
	return buf[2 : 2+n], nil
}
