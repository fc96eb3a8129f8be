package sslv3

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/binary"
	"hash"
)

// sha1Pad1/sha1Pad2 are the SSLv3 MAC padding constants (RFC 6101
// §5.2.3.1) for the SHA-1 MAC: 40 bytes, versus the 48-byte md5Pad1/
// md5Pad2 declared in finished.go (the same pad bytes the Finished
// hash's MD5 half uses, reused here for the MD5 MAC suite). This
// predates HMAC's key-XOR construction: the secret and pad are simply
// concatenated in front of the data, twice, with different pad bytes.
var (
	sha1Pad1 = bytesRepeat(0x36, 40)
	sha1Pad2 = bytesRepeat(0x5c, 40)
)

func bytesRepeat(b byte, n int) []byte {
	s := make([]byte, n)
	for i := range s {
		s[i] = b
	}
	return s
}

// macParams returns the digest constructor, SSLv3 pad bytes, and MAC
// secret length for the hash a negotiated cipher suite uses.
// CipherSuiteRC4MD5 uses MD5; every other suite (including the zero
// value seen before a suite is negotiated) uses SHA-1, matching this
// package's original single-suite behavior.
func macParams(suite uint16) (newHash func() hash.Hash, pad1, pad2 []byte, size int) {
	if suite == CipherSuiteRC4MD5 {
		return md5.New, md5Pad1, md5Pad2, md5.Size
	}
	return sha1.New, sha1Pad1, sha1Pad2, sha1.Size
}

// macSizeFor reports the MAC secret/output length for suite.
func macSizeFor(suite uint16) int {
	_, _, _, size := macParams(suite)
	return size
}

// computeMAC reproduces SSLv3's concatenated-pad MAC:
//
//	hash(secret || pad2 || hash(secret || pad1 || seq || type || length || fragment))
//
// seq is the 64-bit big-endian sequence number for this direction,
// incremented once per record and never reset across the connection's
// lifetime once the cipher is active. suite selects SHA-1 or MD5 per
// the negotiated cipher suite.
func computeMAC(suite uint16, secret []byte, seq uint64, contentType byte, fragment []byte) []byte {
	newHash, pad1, pad2, _ := macParams(suite)

	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)

	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(fragment)))

	inner := newHash()
	inner.Write(secret)
	inner.Write(pad1)
	inner.Write(seqBuf[:])
	inner.Write([]byte{contentType})
	inner.Write(lenBuf[:])
	inner.Write(fragment)
	innerSum := inner.Sum(nil)

	outer := newHash()
	outer.Write(secret)
	outer.Write(pad2)
	outer.Write(innerSum)
	return outer.Sum(nil)
}
