package sslv3

import (
	"crypto/md5"
	"crypto/sha1"
)

// deriveKeyMaterial implements the SSLv3 key derivation function (RFC
// 6101 §6.2.2): repeated rounds of SHA-1(label+secret+seed) folded
// into MD5(secret+that), concatenated until outLen bytes are
// produced. The same construction derives the master secret from the
// pre-master secret and the key block from the master secret; only
// the label, secret, seed, and output length differ.
func deriveKeyMaterial(secret, seed []byte, outLen int) []byte {
	out := make([]byte, 0, outLen+md5.Size)
	for i := 1; len(out) < outLen; i++ {
		label := make([]byte, i)
		for j := range label {
			label[j] = 'A' + byte(i-1)
		}

		sha := sha1.New()
		sha.Write(label)
		sha.Write(secret)
		sha.Write(seed)
		shaSum := sha.Sum(nil)

		md := md5.New()
		md.Write(secret)
		md.Write(shaSum)
		out = append(out, md.Sum(nil)...)
	}
	return out[:outLen]
}

// masterSecret derives the 48-byte master secret from the 48-byte
// pre-master secret and the two hello randoms.
func masterSecret(preMaster, clientRandom, serverRandom []byte) []byte {
	seed := make([]byte, 0, len(clientRandom)+len(serverRandom))
	seed = append(seed, clientRandom...)
	seed = append(seed, serverRandom...)
	return deriveKeyMaterial(preMaster, seed, 48)
}

// keyMaterial holds the per-direction secrets carved out of the key
// block. RC4 is a stream cipher so no IVs are derived.
type keyMaterial struct {
	clientMAC, serverMAC []byte
	clientKey, serverKey []byte
}

// deriveKeys derives the key block from the master secret (seed order
// reversed relative to masterSecret: server random first) and splits
// it into the four secrets the RC4 suite needs. The MAC secret length
// depends on the negotiated suite's hash: 20 bytes for SHA-1
// (CipherSuiteRC4SHA), 16 bytes for MD5 (CipherSuiteRC4MD5).
func deriveKeys(master, clientRandom, serverRandom []byte, suite uint16) keyMaterial {
	seed := make([]byte, 0, len(clientRandom)+len(serverRandom))
	seed = append(seed, serverRandom...)
	seed = append(seed, clientRandom...)

	macSize := macSizeFor(suite)
	need := 2*macSize + 2*rc4KeySize
	block := deriveKeyMaterial(master, seed, need)

	off := 0
	next := func(n int) []byte {
		s := block[off : off+n]
		off += n
		return s
	}
	return keyMaterial{
		clientMAC: next(macSize),
		serverMAC: next(macSize),
		clientKey: next(rc4KeySize),
		serverKey: next(rc4KeySize),
	}
}
