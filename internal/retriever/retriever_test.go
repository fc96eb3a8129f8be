package retriever

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketrelay/pocketrelay/internal/blaze/packet"
	"github.com/pocketrelay/pocketrelay/internal/blaze/tagcodec"
	"github.com/pocketrelay/pocketrelay/internal/protoids"
	"github.com/pocketrelay/pocketrelay/internal/sslv3"
)

// fakeUpstream stands in for a real EA server: it speaks the same
// SSLv3 handshake as internal/redirector's test double, then answers
// the one request it receives per connection with a caller-supplied
// handler. It plays both the redirector role (handing its own address
// back as the "main server") and the main-server role (authentication/
// util lookups), since a single listener is enough to exercise every
// retriever code path.
type fakeUpstream struct {
	ln       net.Listener
	identity *sslv3.ServerIdentity
	handler  func(component, command uint16, body *tagcodec.Group) *tagcodec.Group
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	identity, err := sslv3.GenerateServerIdentity("upstream.test")
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return &fakeUpstream{ln: ln, identity: identity}
}

func (f *fakeUpstream) addr() net.Addr { return f.ln.Addr() }

func (f *fakeUpstream) serve(t *testing.T) {
	t.Helper()
	go func() {
		for {
			nc, err := f.ln.Accept()
			if err != nil {
				return
			}
			go f.handleConn(nc)
		}
	}()
}

func (f *fakeUpstream) handleConn(nc net.Conn) {
	defer nc.Close()
	serverRandom, err := sslv3.NewRandom()
	if err != nil {
		return
	}
	conn, err := sslv3.ServerHandshake(nc, f.identity, serverRandom)
	if err != nil {
		return
	}

	reader := packet.NewReader()
	buf := make([]byte, 4096)
	var req *packet.Packet
	for req == nil {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		reader.Feed(buf[:n])
		req, err = reader.Next()
		if err != nil && err != packet.ErrIncomplete {
			return
		}
	}

	body, err := tagcodec.Decode(req.Body)
	if err != nil {
		return
	}
	respBody := f.handler(req.Header.Component, req.Header.Command, body)

	resp := &packet.Packet{
		Header: packet.Header{
			Component: req.Header.Component,
			Command:   req.Header.Command,
			Type:      packet.TypeResponse,
			MessageID: req.Header.MessageID,
		},
		Body: tagcodec.Encode(respBody),
	}
	packet.Write(conn, resp)
}

// redirectorResponse builds the ADDR{HOST,PORT} body a redirector
// GetServerInstance reply carries, pointed at addr.
func redirectorResponse(addr net.Addr) *tagcodec.Group {
	host, portStr, _ := net.SplitHostPort(addr.String())
	port, _ := strconv.Atoi(portStr)
	inner := &tagcodec.Group{}
	inner.Set(tagcodec.MustTag("HOST"), tagcodec.Str(host))
	inner.Set(tagcodec.MustTag("PORT"), tagcodec.VarInt(int64(port)))
	g := &tagcodec.Group{}
	g.Set(tagcodec.MustTag("ADDR"), inner)
	return g
}

func TestRetriever_ResolveOriginTokenRoundTrip(t *testing.T) {
	up := newFakeUpstream(t)
	up.handler = func(component, command uint16, body *tagcodec.Group) *tagcodec.Group {
		if protoids.Component(component) == protoids.ComponentRedirector {
			return redirectorResponse(up.addr())
		}
		g := &tagcodec.Group{}
		g.Set(tagcodec.MustTag("PID "), tagcodec.VarInt(778899))
		g.Set(tagcodec.MustTag("DSNM"), tagcodec.Str("EDI"))
		return g
	}
	up.serve(t)

	r := New(Config{RedirectorAddr: up.addr().String(), MaxConcurrent: 2})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	originID, displayName, err := r.ResolveOriginToken(ctx, "some-origin-token")
	require.NoError(t, err)
	assert.Equal(t, "778899", originID)
	assert.Equal(t, "EDI", displayName)
}

func TestRetriever_ResolveOriginTokenFailsSoftOnDialError(t *testing.T) {
	r := New(Config{RedirectorAddr: "127.0.0.1:1", MaxConcurrent: 1})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, _, err := r.ResolveOriginToken(ctx, "token")
	assert.Error(t, err)
}

func TestRetriever_FetchPlayerDataDisabledReturnsNil(t *testing.T) {
	r := New(Config{RedirectorAddr: "unused:0", FetchPlayerData: false})
	data, err := r.FetchPlayerData(context.Background(), "778899")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestRetriever_FetchPlayerDataRoundTrip(t *testing.T) {
	up := newFakeUpstream(t)
	up.handler = func(component, command uint16, body *tagcodec.Group) *tagcodec.Group {
		if protoids.Component(component) == protoids.ComponentRedirector {
			return redirectorResponse(up.addr())
		}
		g := &tagcodec.Group{}
		g.Set(tagcodec.MustTag("LEVL"), tagcodec.Str("42"))
		g.Set(tagcodec.MustTag("CRED"), tagcodec.Str("150000"))
		return g
	}
	up.serve(t)

	r := New(Config{RedirectorAddr: up.addr().String(), MaxConcurrent: 2, FetchPlayerData: true})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, err := r.FetchPlayerData(ctx, "778899")
	require.NoError(t, err)
	assert.Equal(t, "42", data["LEVL"])
	assert.Equal(t, "150000", data["CRED"])
}

func TestRetriever_PoolFansOutAndCallsFnPerToken(t *testing.T) {
	up := newFakeUpstream(t)
	up.handler = func(component, command uint16, body *tagcodec.Group) *tagcodec.Group {
		if protoids.Component(component) == protoids.ComponentRedirector {
			return redirectorResponse(up.addr())
		}
		auth, _ := body.Get(tagcodec.MustTag("AUTH"))
		token, _ := auth.(tagcodec.Str)
		g := &tagcodec.Group{}
		g.Set(tagcodec.MustTag("PID "), tagcodec.VarInt(int64(len(string(token)))))
		g.Set(tagcodec.MustTag("DSNM"), tagcodec.Str(string(token)))
		return g
	}
	up.serve(t)

	r := New(Config{RedirectorAddr: up.addr().String(), MaxConcurrent: 3})

	var mu sync.Mutex
	var seen []string
	err := r.Pool(context.Background(), []string{"alpha", "beta", "gamma"}, func(ctx context.Context, originID, displayName string) error {
		mu.Lock()
		seen = append(seen, displayName)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alpha", "beta", "gamma"}, seen)
}
