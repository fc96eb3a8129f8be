package sslv3

import (
	"crypto/md5"
	"crypto/sha1"
)

var (
	senderClient = []byte{0x43, 0x4C, 0x4E, 0x54} // "CLNT"
	senderServer = []byte{0x53, 0x52, 0x56, 0x52} // "SRVR"
)

var (
	md5Pad1 = bytesRepeat(0x36, 48)
	md5Pad2 = bytesRepeat(0x5c, 48)
	sha1Fin1 = bytesRepeat(0x36, 40)
	sha1Fin2 = bytesRepeat(0x5c, 40)
)

// finishedHash computes the 36-byte SSLv3 Finished verify_data (RFC
// 6101 §5.6.9): an MD5 half and a SHA-1 half, each folding the sender
// label and master secret around the running handshake transcript
// with the same concatenated-pad construction the record MAC uses.
func finishedHash(transcript []byte, sender []byte, master []byte) []byte {
	md := md5.New()
	md.Write(transcript)
	md.Write(sender)
	md.Write(master)
	md.Write(md5Pad1)
	inner := md.Sum(nil)

	md2 := md5.New()
	md2.Write(master)
	md2.Write(md5Pad2)
	md2.Write(inner)
	md5Half := md2.Sum(nil)

	sh := sha1.New()
	sh.Write(transcript)
	sh.Write(sender)
	sh.Write(master)
	sh.Write(sha1Fin1)
	innerSha := sh.Sum(nil)

	sh2 := sha1.New()
	sh2.Write(master)
	sh2.Write(sha1Fin2)
	sh2.Write(innerSha)
	shaHalf := sh2.Sum(nil)

	out := make([]byte, 0, len(md5Half)+len(shaHalf))
	out = append(out, md5Half...)
	out = append(out, shaHalf...)
	return out
}
