package redirector

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

func TestServer_GetServerInstance(t *testing.T) {
	identity, err := sslv3.GenerateServerIdentity("pocketrelay.test")
	require.NoError(t, err)

	srv := NewServer(identity, "relay.example.com", 14219)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, ln)
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
			Component: uint16(protoids.ComponentRedirector),
			Command:   uint16(protoids.CommandRedirectorGetServerInstance),
			Type:      packet.TypeRequest,
			MessageID: 1,
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

	assert.Equal(t, packet.TypeResponse, resp.Header.Type)
	assert.Equal(t, uint32(1), resp.Header.MessageID)

	body, err := tagcodec.Decode(resp.Body)
	require.NoError(t, err)
	addrVal, ok := body.Get(tagAddr)
	require.True(t, ok)
	addr, ok := addrVal.(*tagcodec.Group)
	require.True(t, ok)
	host, ok := addr.Get(tagHost)
	require.True(t, ok)
	assert.Equal(t, tagcodec.Str("relay.example.com"), host)
	port, ok := addr.Get(tagPort)
	require.True(t, ok)
	assert.Equal(t, tagcodec.VarInt(14219), port)

	cancel()
	<-done
}
