package sslv3

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"io"
)

// Conn is an established SSLv3 connection: an io.ReadWriter carrying
// application data (the Packet Framer's byte stream) under the
// negotiated RC4 cipher suite. Handshake is one-shot; once returned, a
// Conn never renegotiates.
type Conn struct {
	rc  *recordConn
	buf []byte // leftover application_data fragment not yet consumed by Read
}

// Read implements io.Reader over decrypted application_data records,
// fetching a new record only when the buffered leftover is exhausted.
func (c *Conn) Read(p []byte) (int, error) {
	for len(c.buf) == 0 {
		typ, fragment, err := c.rc.readRecord()
		if err != nil {
			return 0, err
		}
		if typ != ContentTypeApplicationData {
			return 0, protoErr("unexpected content type %d on established connection", typ)
		}
		c.buf = fragment
	}
	n := copy(p, c.buf)
	c.buf = c.buf[n:]
	return n, nil
}

// Write implements io.Writer, framing p as one or more
// application_data records.
func (c *Conn) Write(p []byte) (int, error) {
	if err := c.rc.writeRecord(ContentTypeApplicationData, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

type transcript struct {
	raw []byte
}

func (t *transcript) add(msg []byte) {
	t.raw = append(t.raw, msg...)
}

// ServerHandshake performs the server role of the SSLv3 handshake
// over nc: receive ClientHello, send ServerHello/Certificate/
// ServerHelloDone, receive ClientKeyExchange, derive keys, verify the
// client's Finished and send its own.
func ServerHandshake(nc io.ReadWriter, identity *ServerIdentity, serverRandom [32]byte) (*Conn, error) {
	rc := newRecordConn(nc)
	var tr transcript

	clientHelloBody, err := readHandshakeMessage(rc, &tr, HandshakeClientHello)
	if err != nil {
		return nil, fmt.Errorf("sslv3: read client hello: %w", err)
	}
	ch, err := parseClientHello(clientHelloBody)
	if err != nil {
		return nil, err
	}
	suite, ok := selectCipherSuite(ch.cipherSuites)
	if !ok {
		return nil, protoErr("client offered no supported cipher suite")
	}
	rc.setSuite(suite)

	sh := serverHello{random: serverRandom, cipherSuite: suite}
	if err := writeHandshakeMessage(rc, &tr, HandshakeServerHello, sh.marshal()); err != nil {
		return nil, err
	}
	certBody := marshalCertificateMessage([][]byte{identity.Certificate})
	if err := writeHandshakeMessage(rc, &tr, HandshakeCertificate, certBody); err != nil {
		return nil, err
	}
	if err := writeHandshakeMessage(rc, &tr, HandshakeServerHelloDone, nil); err != nil {
		return nil, err
	}

	ckeBody, err := readHandshakeMessage(rc, &tr, HandshakeClientKeyExchange)
	if err != nil {
		return nil, fmt.Errorf("sslv3: read client key exchange: %w", err)
	}
	encryptedPreMaster, err := parseClientKeyExchange(ckeBody)
	if err != nil {
		return nil, err
	}
	preMaster, err := rsa.DecryptPKCS1v15(rand.Reader, identity.PrivateKey, encryptedPreMaster)
	if err != nil {
		return nil, fmt.Errorf("sslv3: decrypt pre-master secret: %w", err)
	}
	if len(preMaster) != 48 {
		return nil, protoErr("decrypted pre-master secret has unexpected length %d", len(preMaster))
	}

	master := masterSecret(preMaster, ch.random[:], serverRandom[:])
	keys := deriveKeys(master, ch.random[:], serverRandom[:], suite)

	if err := readChangeCipherSpec(rc); err != nil {
		return nil, err
	}
	if err := rc.activateRead(keys.clientKey, keys.clientMAC); err != nil {
		return nil, err
	}

	clientFinishedBody, err := readHandshakeMessage(rc, nil, HandshakeFinished)
	if err != nil {
		return nil, fmt.Errorf("sslv3: read client finished: %w", err)
	}
	wantClientFinished := finishedHash(tr.raw, senderClient, master)
	if !macEqual(clientFinishedBody, wantClientFinished) {
		return nil, protoErr("client finished verification failed")
	}
	tr.add(handshakeMessage(HandshakeFinished, clientFinishedBody))

	if err := writeChangeCipherSpec(rc); err != nil {
		return nil, err
	}
	if err := rc.activateWrite(keys.serverKey, keys.serverMAC); err != nil {
		return nil, err
	}
	serverFinished := finishedHash(tr.raw, senderServer, master)
	if err := writeHandshakeMessage(rc, nil, HandshakeFinished, serverFinished); err != nil {
		return nil, err
	}

	return &Conn{rc: rc}, nil
}

// ClientHandshake performs the client role: send ClientHello, receive
// ServerHello/Certificate/ServerHelloDone, send a fresh encrypted
// pre-master secret, then exchange Finished messages. trustedCACheck,
// when non-nil, is called with the parsed leaf certificate so callers
// can pin or verify it; ME3 clients historically accept whatever
// certificate the redirector/server presents, so a nil check is the
// common case.
func ClientHandshake(nc io.ReadWriter, clientRandom [32]byte, trustedCACheck func(*x509.Certificate) error) (*Conn, error) {
	rc := newRecordConn(nc)
	var tr transcript

	ch := clientHello{
		random:       clientRandom,
		cipherSuites: []uint16{CipherSuiteRC4SHA, CipherSuiteRC4MD5},
		compression:  []byte{0},
	}
	if err := writeHandshakeMessage(rc, &tr, HandshakeClientHello, ch.marshal()); err != nil {
		return nil, err
	}

	serverHelloBody, err := readHandshakeMessage(rc, &tr, HandshakeServerHello)
	if err != nil {
		return nil, fmt.Errorf("sslv3: read server hello: %w", err)
	}
	sh, err := parseServerHello(serverHelloBody)
	if err != nil {
		return nil, err
	}
	if sh.cipherSuite != CipherSuiteRC4SHA && sh.cipherSuite != CipherSuiteRC4MD5 {
		return nil, protoErr("server selected unsupported cipher suite %d", sh.cipherSuite)
	}
	rc.setSuite(sh.cipherSuite)

	certBody, err := readHandshakeMessage(rc, &tr, HandshakeCertificate)
	if err != nil {
		return nil, fmt.Errorf("sslv3: read certificate: %w", err)
	}
	certs, err := parseCertificateMessage(certBody)
	if err != nil {
		return nil, err
	}
	if len(certs) == 0 {
		return nil, protoErr("server sent no certificate")
	}
	leaf, err := x509.ParseCertificate(certs[0])
	if err != nil {
		return nil, fmt.Errorf("sslv3: parse server certificate: %w", err)
	}
	if trustedCACheck != nil {
		if err := trustedCACheck(leaf); err != nil {
			return nil, fmt.Errorf("sslv3: certificate check failed: %w", err)
		}
	}
	serverKey, ok := leaf.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, protoErr("server certificate does not carry an RSA key")
	}

	if _, err := readHandshakeMessage(rc, &tr, HandshakeServerHelloDone); err != nil {
		return nil, fmt.Errorf("sslv3: read server hello done: %w", err)
	}

	preMaster := make([]byte, 48)
	preMaster[0], preMaster[1] = ProtocolVersion[0], ProtocolVersion[1]
	if _, err := io.ReadFull(rand.Reader, preMaster[2:]); err != nil {
		return nil, fmt.Errorf("sslv3: generate pre-master secret: %w", err)
	}
	encryptedPreMaster, err := rsa.EncryptPKCS1v15(rand.Reader, serverKey, preMaster)
	if err != nil {
		return nil, fmt.Errorf("sslv3: encrypt pre-master secret: %w", err)
	}
	if err := writeHandshakeMessage(rc, &tr, HandshakeClientKeyExchange, marshalClientKeyExchange(encryptedPreMaster)); err != nil {
		return nil, err
	}

	master := masterSecret(preMaster, clientRandom[:], sh.random[:])
	keys := deriveKeys(master, clientRandom[:], sh.random[:], sh.cipherSuite)

	if err := writeChangeCipherSpec(rc); err != nil {
		return nil, err
	}
	if err := rc.activateWrite(keys.clientKey, keys.clientMAC); err != nil {
		return nil, err
	}
	clientFinished := finishedHash(tr.raw, senderClient, master)
	if err := writeHandshakeMessage(rc, &tr, HandshakeFinished, clientFinished); err != nil {
		return nil, err
	}

	if err := readChangeCipherSpec(rc); err != nil {
		return nil, err
	}
	if err := rc.activateRead(keys.serverKey, keys.serverMAC); err != nil {
		return nil, err
	}
	serverFinishedBody, err := readHandshakeMessage(rc, nil, HandshakeFinished)
	if err != nil {
		return nil, fmt.Errorf("sslv3: read server finished: %w", err)
	}
	wantServerFinished := finishedHash(tr.raw, senderServer, master)
	if !macEqual(serverFinishedBody, wantServerFinished) {
		return nil, protoErr("server finished verification failed")
	}

	return &Conn{rc: rc}, nil
}

func writeHandshakeMessage(rc *recordConn, tr *transcript, msgType byte, body []byte) error {
	msg := handshakeMessage(msgType, body)
	if tr != nil {
		tr.add(msg)
	}
	return rc.writeRecord(ContentTypeHandshake, msg)
}

func readHandshakeMessage(rc *recordConn, tr *transcript, want byte) ([]byte, error) {
	typ, payload, err := rc.readRecord()
	if err != nil {
		return nil, err
	}
	if typ != ContentTypeHandshake {
		return nil, protoErr("expected handshake record, got content type %d", typ)
	}
	msgType, length, ok := parseHandshakeHeader(payload)
	if !ok || 4+length > len(payload) {
		return nil, protoErr("truncated handshake message")
	}
	if msgType != want {
		return nil, protoErr("expected handshake message type %d, got %d", want, msgType)
	}
	if tr != nil {
		tr.add(payload[:4+length])
	}
	return payload[4 : 4+length], nil
}

func writeChangeCipherSpec(rc *recordConn) error {
	return rc.writeRecord(ContentTypeChangeCipherSpec, []byte{1})
}

func readChangeCipherSpec(rc *recordConn) error {
	typ, payload, err := rc.readRecord()
	if err != nil {
		return err
	}
	if typ != ContentTypeChangeCipherSpec || len(payload) != 1 || payload[0] != 1 {
		return protoErr("expected change cipher spec")
	}
	return nil
}

func containsSuite(suites []uint16, want uint16) bool {
	for _, s := range suites {
		if s == want {
			return true
		}
	}
	return false
}

// selectCipherSuite picks the suite this server prefers among those a
// client offered: RC4/SHA-1 first, falling back to RC4/MD5 (spec.md
// §4.3 requires accepting both TLS_RSA_WITH_RC4_128_SHA and
// TLS_RSA_WITH_RC4_128_MD5).
func selectCipherSuite(offered []uint16) (uint16, bool) {
	if containsSuite(offered, CipherSuiteRC4SHA) {
		return CipherSuiteRC4SHA, true
	}
	if containsSuite(offered, CipherSuiteRC4MD5) {
		return CipherSuiteRC4MD5, true
	}
	return 0, false
}
