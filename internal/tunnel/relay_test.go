package tunnel

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketrelay/pocketrelay/internal/lobby"
	"github.com/pocketrelay/pocketrelay/internal/session"
)

func newTestRelay(t *testing.T, idleTimeout time.Duration) (*Relay, net.PacketConn, func()) {
	t.Helper()
	sessions := session.NewManager()
	lobbyMgr := lobby.NewManager(sessions, 4)
	r := NewRelay(sessions, lobbyMgr, idleTimeout)

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Serve(ctx, conn)
		close(done)
	}()

	stop := func() {
		cancel()
		<-done
	}
	return r, conn, stop
}

func mustDial(t *testing.T, server net.Addr) net.PacketConn {
	t.Helper()
	c, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	return c
}

func readDatagram(t *testing.T, conn net.PacketConn) Datagram {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 2048)
	n, _, err := conn.ReadFrom(buf)
	require.NoError(t, err)
	d, err := Unmarshal(buf[:n])
	require.NoError(t, err)
	return d
}

func TestRelay_HelloBindsTunnelToSessionAndAcks(t *testing.T) {
	r, serverConn, stop := newTestRelay(t, time.Hour)
	defer stop()

	s := r.Sessions.Create(nil, 8)
	client := mustDial(t, serverConn.LocalAddr())
	defer client.Close()

	hello := Marshal(Datagram{TunnelID: 42, Type: MsgHello, Payload: MarshalHello(s.TunnelToken())})
	_, err := client.WriteTo(hello, serverConn.LocalAddr())
	require.NoError(t, err)

	ack := readDatagram(t, client)
	assert.Equal(t, MsgAck, ack.Type)
	assert.Equal(t, uint32(42), ack.TunnelID)

	r.mu.Lock()
	assoc, ok := r.byID[42]
	r.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, s.ID, assoc.sessionID)
}

func TestRelay_HelloWithUnknownTokenIsIgnored(t *testing.T) {
	r, serverConn, stop := newTestRelay(t, time.Hour)
	defer stop()

	client := mustDial(t, serverConn.LocalAddr())
	defer client.Close()

	hello := Marshal(Datagram{TunnelID: 7, Type: MsgHello, Payload: MarshalHello("not-a-real-token")})
	_, err := client.WriteTo(hello, serverConn.LocalAddr())
	require.NoError(t, err)

	client.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	buf := make([]byte, 64)
	_, _, err = client.ReadFrom(buf)
	assert.Error(t, err)

	r.mu.Lock()
	_, ok := r.byID[7]
	r.mu.Unlock()
	assert.False(t, ok)
}

func TestRelay_ForwardRewritesSlotAndDeliversToTarget(t *testing.T) {
	r, serverConn, stop := newTestRelay(t, time.Hour)
	defer stop()

	host := r.Sessions.Create(nil, 8)
	peer := r.Sessions.Create(nil, 8)
	gameID, err := r.Lobby.CreateGame(context.Background(), host.ID, nil, 0)
	require.NoError(t, err)
	_, err = r.Lobby.JoinGame(context.Background(), gameID, peer.ID)
	require.NoError(t, err)

	hostConn := mustDial(t, serverConn.LocalAddr())
	defer hostConn.Close()
	peerConn := mustDial(t, serverConn.LocalAddr())
	defer peerConn.Close()

	sendHello := func(conn net.PacketConn, tunnelID uint32, token string) {
		hello := Marshal(Datagram{TunnelID: tunnelID, Type: MsgHello, Payload: MarshalHello(token)})
		_, err := conn.WriteTo(hello, serverConn.LocalAddr())
		require.NoError(t, err)
		readDatagram(t, conn) // discard ack
	}
	sendHello(hostConn, 100, host.TunnelToken())
	sendHello(peerConn, 200, peer.TunnelToken())

	// host (slot 0) forwards to peer (slot 1).
	payload := []byte("opaque-game-bytes")
	fwd := Marshal(Datagram{TunnelID: 100, Type: MsgForward, Payload: MarshalForward(1, payload)})
	_, err = hostConn.WriteTo(fwd, serverConn.LocalAddr())
	require.NoError(t, err)

	got := readDatagram(t, peerConn)
	assert.Equal(t, MsgForward, got.Type)
	assert.Equal(t, uint32(200), got.TunnelID)

	slot, opaque, err := ParseForward(got.Payload)
	require.NoError(t, err)
	assert.Equal(t, byte(0), slot) // rewritten to sender's slot
	assert.Equal(t, payload, opaque)
}

func TestRelay_KeepaliveTouchesAssociation(t *testing.T) {
	r, serverConn, stop := newTestRelay(t, time.Hour)
	defer stop()

	s := r.Sessions.Create(nil, 8)
	client := mustDial(t, serverConn.LocalAddr())
	defer client.Close()

	hello := Marshal(Datagram{TunnelID: 1, Type: MsgHello, Payload: MarshalHello(s.TunnelToken())})
	_, err := client.WriteTo(hello, serverConn.LocalAddr())
	require.NoError(t, err)
	readDatagram(t, client)

	r.mu.Lock()
	before := r.byID[1].lastSeen
	r.mu.Unlock()

	time.Sleep(5 * time.Millisecond)
	ka := Marshal(Datagram{TunnelID: 1, Type: MsgKeepalive})
	_, err = client.WriteTo(ka, serverConn.LocalAddr())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.byID[1].lastSeen.After(before)
	}, time.Second, 10*time.Millisecond)
}

func TestRelay_ExpireIdleForgetsStaleAssociations(t *testing.T) {
	r, serverConn, stop := newTestRelay(t, 20*time.Millisecond)
	defer stop()

	s := r.Sessions.Create(nil, 8)
	client := mustDial(t, serverConn.LocalAddr())
	defer client.Close()

	hello := Marshal(Datagram{TunnelID: 9, Type: MsgHello, Payload: MarshalHello(s.TunnelToken())})
	_, err := client.WriteTo(hello, serverConn.LocalAddr())
	require.NoError(t, err)
	readDatagram(t, client)

	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		_, ok := r.byID[9]
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestRelay_ForgetRemovesAssociationBySession(t *testing.T) {
	r, serverConn, stop := newTestRelay(t, time.Hour)
	defer stop()

	s := r.Sessions.Create(nil, 8)
	client := mustDial(t, serverConn.LocalAddr())
	defer client.Close()

	hello := Marshal(Datagram{TunnelID: 55, Type: MsgHello, Payload: MarshalHello(s.TunnelToken())})
	_, err := client.WriteTo(hello, serverConn.LocalAddr())
	require.NoError(t, err)
	readDatagram(t, client)

	r.Forget(s.ID)

	r.mu.Lock()
	_, byIDOk := r.byID[55]
	_, bySessOk := r.bySess[s.ID]
	r.mu.Unlock()
	assert.False(t, byIDOk)
	assert.False(t, bySessOk)
}

func TestDatagram_MarshalUnmarshalRoundTrip(t *testing.T) {
	d := Datagram{TunnelID: 123, Type: MsgForward, Payload: []byte("hello")}
	got, err := Unmarshal(Marshal(d))
	require.NoError(t, err)
	assert.Equal(t, d, got)
}

func TestUnmarshal_RejectsShortBuffer(t *testing.T) {
	_, err := Unmarshal([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestUnmarshal_RejectsWrongVersion(t *testing.T) {
	buf := Marshal(Datagram{TunnelID: 1, Type: MsgAck})
	buf[0] = 9
	_, err := Unmarshal(buf)
	assert.Error(t, err)
}
