// Package sslv3 implements the SSLv3 record and handshake protocol
// exactly as ME3's Blaze transport requires: RSA key exchange, the
// RC4-128 cipher with a SHA-1 or MD5 MAC, and the pre-HMAC concatenated-pad
// MAC construction. No modern TLS stack speaks this anymore; it was
// stripped out of crypto/tls after POODLE, so this package goes
// straight to stdlib primitives (crypto/rc4, crypto/md5, crypto/sha1,
// crypto/rsa, crypto/x509) the way the teacher's own login handshake
// does raw RSA rather than reach for a library that doesn't exist for
// this wire format.
package sslv3

import (
	"crypto/rand"
	"fmt"
	"io"
)

// NewRandom generates a 32-byte hello random using a CSPRNG. SSLv3
// reserves the first 4 bytes for a GMT timestamp, but ME3 never
// validates it, so all 32 bytes here are uniformly random.
func NewRandom() ([32]byte, error) {
	var r [32]byte
	if _, err := io.ReadFull(rand.Reader, r[:]); err != nil {
		return r, fmt.Errorf("sslv3: generate random: %w", err)
	}
	return r, nil
}

// ProtocolVersion is the two-byte (major, minor) version sent in every
// record and hello message: SSLv3 is (3, 0).
var ProtocolVersion = [2]byte{3, 0}

// Content types, as carried in the record header's first byte.
const (
	ContentTypeChangeCipherSpec byte = 20
	ContentTypeAlert            byte = 21
	ContentTypeHandshake        byte = 22
	ContentTypeApplicationData  byte = 23
)

// Handshake message types, the first byte of a handshake message body.
const (
	HandshakeClientHello       byte = 1
	HandshakeServerHello       byte = 2
	HandshakeCertificate       byte = 11
	HandshakeServerHelloDone   byte = 14
	HandshakeClientKeyExchange byte = 16
	HandshakeFinished          byte = 20
)

// CipherSuiteRC4SHA and CipherSuiteRC4MD5 are the only two suites this
// package negotiates: RSA key exchange, RC4-128 bulk cipher, and
// either a SHA-1 or MD5 MAC. ME3 clients offer one or both of these
// and nothing else worth supporting (spec.md §4.3: "the implementation
// MUST accept these and nothing else").
const (
	CipherSuiteRC4SHA uint16 = 0x0005
	CipherSuiteRC4MD5 uint16 = 0x0004
)

const (
	rc4KeySize  = 16
	macKeySize  = 20 // SHA-1 output size, the largest MAC secret this package derives
	maxFragment = 16384
)

// ProtocolError reports a handshake or record-layer violation: a bad
// MAC, an unexpected message type, or a malformed length field.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("sslv3: %s", e.Reason)
}

func protoErr(format string, args ...any) error {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}
