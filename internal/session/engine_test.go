package session

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketrelay/pocketrelay/internal/blaze/packet"
	"github.com/pocketrelay/pocketrelay/internal/blaze/tagcodec"
	"github.com/pocketrelay/pocketrelay/internal/protoids"
	"github.com/pocketrelay/pocketrelay/internal/sslv3"
)

func newTestEngine(t *testing.T) *Engine {
	identity, err := sslv3.GenerateServerIdentity("pocketrelay.test")
	require.NoError(t, err)

	d := NewDispatcher()
	d.Register(protoids.ComponentUtil, protoids.CommandUtilPing, func(ctx context.Context, s *Session, body *tagcodec.Group) (*tagcodec.Group, protoids.ErrCode, error) {
		resp := &tagcodec.Group{}
		resp.Set(tagcodec.MustTag("PONG"), tagcodec.VarInt(1))
		return resp, protoids.ErrNone, nil
	})

	return &Engine{
		Manager:           NewManager(),
		Dispatcher:        d,
		Identity:          identity,
		IdleTimeout:       0,
		OutboundQueueSize: 16,
	}
}

func TestEngine_PingRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Serve(ctx, ln)
	}()

	raw, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer raw.Close()

	clientRandom, err := sslv3.NewRandom()
	require.NoError(t, err)
	conn, err := sslv3.ClientHandshake(raw, clientRandom, nil)
	require.NoError(t, err)

	req := &packet.Packet{
		Header: packet.Header{
			Component: uint16(protoids.ComponentUtil),
			Command:   uint16(protoids.CommandUtilPing),
			Type:      packet.TypeRequest,
			MessageID: 7,
		},
		Body: tagcodec.Encode(&tagcodec.Group{}),
	}
	require.NoError(t, packet.Write(conn, req))

	reader := packet.NewReader()
	buf := make([]byte, 4096)
	raw.SetReadDeadline(time.Now().Add(5 * time.Second))
	var resp *packet.Packet
	for resp == nil {
		n, err := conn.Read(buf)
		require.NoError(t, err)
		reader.Feed(buf[:n])
		resp, err = reader.Next()
		if err != nil && err != packet.ErrIncomplete {
			require.NoError(t, err)
		}
	}

	assert.Equal(t, uint32(7), resp.Header.MessageID)
	assert.Equal(t, uint16(protoids.ErrNone), resp.Header.Error)

	body, err := tagcodec.Decode(resp.Body)
	require.NoError(t, err)
	pong, ok := body.Get(tagcodec.MustTag("PONG"))
	require.True(t, ok)
	assert.Equal(t, tagcodec.VarInt(1), pong)

	cancel()
	<-done
}

func TestEngine_UnregisteredCommandRepliesNotFound(t *testing.T) {
	e := newTestEngine(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Serve(ctx, ln)
	}()

	raw, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer raw.Close()
	clientRandom, err := sslv3.NewRandom()
	require.NoError(t, err)
	conn, err := sslv3.ClientHandshake(raw, clientRandom, nil)
	require.NoError(t, err)

	req := &packet.Packet{
		Header: packet.Header{
			Component: uint16(protoids.ComponentStats),
			Command:   0x7777,
			Type:      packet.TypeRequest,
			MessageID: 3,
		},
		Body: tagcodec.Encode(&tagcodec.Group{}),
	}
	require.NoError(t, packet.Write(conn, req))

	reader := packet.NewReader()
	buf := make([]byte, 4096)
	raw.SetReadDeadline(time.Now().Add(5 * time.Second))
	var resp *packet.Packet
	for resp == nil {
		n, err := conn.Read(buf)
		require.NoError(t, err)
		reader.Feed(buf[:n])
		resp, err = reader.Next()
		if err != nil && err != packet.ErrIncomplete {
			require.NoError(t, err)
		}
	}
	assert.Equal(t, uint16(protoids.ErrCommandNotFound), resp.Header.Error)

	cancel()
	<-done
}
