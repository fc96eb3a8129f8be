package sslv3

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandshake_RoundTripAndApplicationData(t *testing.T) {
	identity, err := GenerateServerIdentity("pocketrelay.test")
	require.NoError(t, err)

	clientRandom, err := NewRandom()
	require.NoError(t, err)
	serverRandom, err := NewRandom()
	require.NoError(t, err)

	clientNet, serverNet := net.Pipe()
	defer clientNet.Close()
	defer serverNet.Close()

	type result struct {
		conn *Conn
		err  error
	}
	serverCh := make(chan result, 1)
	clientCh := make(chan result, 1)

	go func() {
		c, err := ServerHandshake(serverNet, identity, serverRandom)
		serverCh <- result{c, err}
	}()
	go func() {
		c, err := ClientHandshake(clientNet, clientRandom, nil)
		clientCh <- result{c, err}
	}()

	var serverConn, clientConn *Conn
	for i := 0; i < 2; i++ {
		select {
		case r := <-serverCh:
			require.NoError(t, r.err)
			serverConn = r.conn
		case r := <-clientCh:
			require.NoError(t, r.err)
			clientConn = r.conn
		case <-time.After(5 * time.Second):
			t.Fatal("handshake timed out")
		}
	}
	require.NotNil(t, serverConn)
	require.NotNil(t, clientConn)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := clientConn.Write([]byte("hello from client"))
		assert.NoError(t, err)
	}()
	buf := make([]byte, 64)
	n, err := io.ReadFull(serverConn, buf[:len("hello from client")])
	require.NoError(t, err)
	assert.Equal(t, "hello from client", string(buf[:n]))
	<-done

	go func() {
		_, err := serverConn.Write([]byte("hello from server"))
		assert.NoError(t, err)
	}()
	n, err = io.ReadFull(clientConn, buf[:len("hello from server")])
	require.NoError(t, err)
	assert.Equal(t, "hello from server", string(buf[:n]))
}

func TestFinishedHash_DifferentSendersDiverge(t *testing.T) {
	transcript := []byte("some handshake bytes")
	master := make([]byte, 48)
	clientSide := finishedHash(transcript, senderClient, master)
	serverSide := finishedHash(transcript, senderServer, master)
	assert.NotEqual(t, clientSide, serverSide)
	assert.Len(t, clientSide, 36)
}

func TestDeriveKeys_ClientAndServerSecretsDiffer(t *testing.T) {
	master := make([]byte, 48)
	for i := range master {
		master[i] = byte(i)
	}
	var cr, sr [32]byte
	keys := deriveKeys(master, cr[:], sr[:], CipherSuiteRC4SHA)
	assert.NotEqual(t, keys.clientMAC, keys.serverMAC)
	assert.NotEqual(t, keys.clientKey, keys.serverKey)
	assert.Len(t, keys.clientKey, 16)
	assert.Len(t, keys.clientMAC, 20)
}

func TestDeriveKeys_MD5SuiteUsesShorterMACSecret(t *testing.T) {
	master := make([]byte, 48)
	for i := range master {
		master[i] = byte(i)
	}
	var cr, sr [32]byte
	keys := deriveKeys(master, cr[:], sr[:], CipherSuiteRC4MD5)
	assert.Len(t, keys.clientMAC, 16)
	assert.Len(t, keys.serverMAC, 16)
	assert.Len(t, keys.clientKey, 16)
}

func TestServerHandshake_AcceptsMD5OnlyClient(t *testing.T) {
	identity, err := GenerateServerIdentity("localhost")
	require.NoError(t, err)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	serverRandom, err := NewRandom()
	require.NoError(t, err)

	serverErrCh := make(chan error, 1)
	go func() {
		_, err := ServerHandshake(serverConn, identity, serverRandom)
		serverErrCh <- err
	}()

	clientRandom, err := NewRandom()
	require.NoError(t, err)
	rc := newRecordConn(clientConn)
	var tr transcript
	ch := clientHello{random: clientRandom, cipherSuites: []uint16{CipherSuiteRC4MD5}, compression: []byte{0}}
	require.NoError(t, writeHandshakeMessage(rc, &tr, HandshakeClientHello, ch.marshal()))

	shBody, err := readHandshakeMessage(rc, &tr, HandshakeServerHello)
	require.NoError(t, err)
	sh, err := parseServerHello(shBody)
	require.NoError(t, err)
	assert.Equal(t, CipherSuiteRC4MD5, sh.cipherSuite)

	clientConn.Close()
	serverConn.Close()
	<-serverErrCh
}
