// Package redirector implements the one-shot "where is the main
// server" handshake ME3 performs before connecting to the Session
// Engine proper: accept a connection, answer GET_SERVER_INSTANCE with
// the configured external address, and close. No per-client state is
// kept.
package redirector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/pocketrelay/pocketrelay/internal/blaze/packet"
	"github.com/pocketrelay/pocketrelay/internal/blaze/tagcodec"
	"github.com/pocketrelay/pocketrelay/internal/protoids"
	"github.com/pocketrelay/pocketrelay/internal/sslv3"
)

var (
	tagAddr = tagcodec.MustTag("ADDR")
	tagHost = tagcodec.MustTag("HOST")
	tagPort = tagcodec.MustTag("PORT")
)

// Server listens for redirector handshakes and always answers with
// the same (host, port) pair, regardless of which client asks.
type Server struct {
	identity     *sslv3.ServerIdentity
	externalHost string
	mainPort     uint16

	mu       sync.Mutex
	listener net.Listener
}

// NewServer builds a redirector that points clients at
// externalHost:mainPort.
func NewServer(identity *sslv3.ServerIdentity, externalHost string, mainPort uint16) *Server {
	return &Server{identity: identity, externalHost: externalHost, mainPort: mainPort}
}

// Addr returns the bound listener address, or nil before Run starts.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run listens on bindAddr until ctx is canceled.
func (s *Server) Run(ctx context.Context, bindAddr string) error {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return fmt.Errorf("redirector: listen on %s: %w", bindAddr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return s.Serve(ctx, ln)
}

// Serve accepts connections on an already-bound listener, useful for
// tests that want an ephemeral port.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	slog.Info("redirector listening", "address", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			slog.Error("redirector: accept failed", "error", err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(nc net.Conn) {
	defer nc.Close()
	remote := nc.RemoteAddr().String()

	serverRandom, err := sslv3.NewRandom()
	if err != nil {
		slog.Error("redirector: generate server random", "remote", remote, "error", err)
		return
	}
	conn, err := sslv3.ServerHandshake(nc, s.identity, serverRandom)
	if err != nil {
		slog.Warn("redirector: handshake failed", "remote", remote, "error", err)
		return
	}

	reader := packet.NewReader()
	buf := make([]byte, 4096)
	var pkt *packet.Packet
	for pkt == nil {
		n, err := conn.Read(buf)
		if err != nil {
			slog.Warn("redirector: read failed", "remote", remote, "error", err)
			return
		}
		reader.Feed(buf[:n])
		pkt, err = reader.Next()
		if err != nil && !errors.Is(err, packet.ErrIncomplete) {
			slog.Warn("redirector: malformed request", "remote", remote, "error", err)
			return
		}
	}

	if protoids.Component(pkt.Header.Component) != protoids.ComponentRedirector ||
		protoids.Command(pkt.Header.Command) != protoids.CommandRedirectorGetServerInstance {
		slog.Warn("redirector: unexpected request", "remote", remote,
			"component", pkt.Header.Component, "command", pkt.Header.Command)
		return
	}

	resp := &tagcodec.Group{}
	addr := &tagcodec.Group{}
	addr.Set(tagHost, tagcodec.Str(s.externalHost))
	addr.Set(tagPort, tagcodec.VarInt(s.mainPort))
	resp.Set(tagAddr, addr)

	reply := &packet.Packet{
		Header: packet.Header{
			Component: pkt.Header.Component,
			Command:   pkt.Header.Command,
			Type:      packet.TypeResponse,
			MessageID: pkt.Header.MessageID,
		},
		Body: tagcodec.Encode(resp),
	}
	if err := packet.Write(conn, reply); err != nil {
		slog.Warn("redirector: write reply failed", "remote", remote, "error", err)
	}
}
