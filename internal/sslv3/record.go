package sslv3

import (
	"crypto/rc4"
	"encoding/binary"
	"fmt"
	"io"
)

// recordConn is the SSLv3 record layer: it frames content into
// records, MACs and encrypts outbound records once a cipher has been
// activated, and verifies/decrypts inbound ones. Before the
// handshake's ChangeCipherSpec, records travel in the clear with no
// MAC, exactly as the protocol requires for the hello/certificate
// exchange.
type recordConn struct {
	nc    io.ReadWriter
	suite uint16 // negotiated cipher suite; picks the MAC hash (sslv3.go, mac.go)

	writeCipher *rc4.Cipher
	writeMAC    []byte
	writeSeq    uint64

	readCipher *rc4.Cipher
	readMAC    []byte
	readSeq    uint64
}

func newRecordConn(nc io.ReadWriter) *recordConn {
	return &recordConn{nc: nc}
}

// setSuite records the cipher suite chosen during the handshake, once,
// before either direction's cipher is activated.
func (c *recordConn) setSuite(suite uint16) {
	c.suite = suite
}

// activateWrite installs the write-direction cipher and MAC secret
// and resets the write sequence number, mirroring how a real SSLv3
// peer's ChangeCipherSpec takes effect only for the direction it was
// sent on.
func (c *recordConn) activateWrite(key, mac []byte) error {
	cipher, err := rc4.NewCipher(key)
	if err != nil {
		return fmt.Errorf("sslv3: activate write cipher: %w", err)
	}
	c.writeCipher = cipher
	c.writeMAC = mac
	c.writeSeq = 0
	return nil
}

func (c *recordConn) activateRead(key, mac []byte) error {
	cipher, err := rc4.NewCipher(key)
	if err != nil {
		return fmt.Errorf("sslv3: activate read cipher: %w", err)
	}
	c.readCipher = cipher
	c.readMAC = mac
	c.readSeq = 0
	return nil
}

func (c *recordConn) writeRecord(contentType byte, payload []byte) error {
	for len(payload) > 0 {
		n := len(payload)
		if n > maxFragment {
			n = maxFragment
		}
		if err := c.writeOneRecord(contentType, payload[:n]); err != nil {
			return err
		}
		payload = payload[n:]
	}
	return nil
}

func (c *recordConn) writeOneRecord(contentType byte, fragment []byte) error {
	var body []byte
	if c.writeCipher == nil {
		body = fragment
	} else {
		mac := computeMAC(c.suite, c.writeMAC, c.writeSeq, contentType, fragment)
		plain := make([]byte, 0, len(fragment)+len(mac))
		plain = append(plain, fragment...)
		plain = append(plain, mac...)
		body = make([]byte, len(plain))
		c.writeCipher.XORKeyStream(body, plain)
		c.writeSeq++
	}

	header := make([]byte, 5)
	header[0] = contentType
	header[1], header[2] = ProtocolVersion[0], ProtocolVersion[1]
	binary.BigEndian.PutUint16(header[3:5], uint16(len(body)))

	if _, err := c.nc.Write(header); err != nil {
		return fmt.Errorf("sslv3: write record header: %w", err)
	}
	if _, err := c.nc.Write(body); err != nil {
		return fmt.Errorf("sslv3: write record body: %w", err)
	}
	return nil
}

// readRecord reads exactly one record and returns its decrypted,
// MAC-verified fragment.
func (c *recordConn) readRecord() (contentType byte, fragment []byte, err error) {
	var header [5]byte
	if _, err := io.ReadFull(c.nc, header[:]); err != nil {
		return 0, nil, fmt.Errorf("sslv3: read record header: %w", err)
	}
	contentType = header[0]
	length := binary.BigEndian.Uint16(header[3:5])
	if length > maxFragment+macKeySize {
		return 0, nil, protoErr("record length %d exceeds maximum fragment size", length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(c.nc, body); err != nil {
		return 0, nil, fmt.Errorf("sslv3: read record body: %w", err)
	}

	if c.readCipher == nil {
		return contentType, body, nil
	}

	plain := make([]byte, len(body))
	c.readCipher.XORKeyStream(plain, body)
	macSize := macSizeFor(c.suite)
	if len(plain) < macSize {
		return 0, nil, protoErr("encrypted record too short to hold a MAC")
	}
	fragment = plain[:len(plain)-macSize]
	gotMAC := plain[len(plain)-macSize:]
	wantMAC := computeMAC(c.suite, c.readMAC, c.readSeq, contentType, fragment)
	if !macEqual(gotMAC, wantMAC) {
		return 0, nil, protoErr("bad record MAC")
	}
	c.readSeq++
	return contentType, fragment, nil
}

func macEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}
