package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pocketrelay/pocketrelay/internal/blaze/packet"
	"github.com/pocketrelay/pocketrelay/internal/blaze/tagcodec"
	"github.com/pocketrelay/pocketrelay/internal/protoerr"
	"github.com/pocketrelay/pocketrelay/internal/protoids"
	"github.com/pocketrelay/pocketrelay/internal/sslv3"
)

// LeaveGameFunc is called when a session disconnects while it was a
// member of a game, so the Lobby Manager can run host migration or
// destroy the game. Injected to avoid an import cycle between session
// and lobby.
type LeaveGameFunc func(ctx context.Context, s *Session)

// DisconnectFunc is called once a session has fully torn down (game
// membership left, subscriptions cleared, removed from the Manager),
// so collaborators outside this package — the UDP Tunnel, in
// particular — can drop their own per-session state. Injected to
// avoid an import cycle between session and tunnel.
type DisconnectFunc func(id ID)

// Engine runs the main Session Engine listener: one task per
// connection that reads packets, dispatches them, drains the
// session's outbound queue, and tears down cleanly on disconnect or
// shutdown.
type Engine struct {
	Manager    *Manager
	Dispatcher *Dispatcher
	Identity   *sslv3.ServerIdentity

	IdleTimeout       time.Duration
	OutboundQueueSize int

	OnLeaveGame  LeaveGameFunc
	OnDisconnect DisconnectFunc

	mu       sync.Mutex
	listener net.Listener
}

// Addr returns the bound listener address, or nil before Run starts.
func (e *Engine) Addr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listener == nil {
		return nil
	}
	return e.listener.Addr()
}

// Run listens on bindAddr until ctx is canceled.
func (e *Engine) Run(ctx context.Context, bindAddr string) error {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return fmt.Errorf("session: listen on %s: %w", bindAddr, err)
	}
	e.mu.Lock()
	e.listener = ln
	e.mu.Unlock()
	return e.Serve(ctx, ln)
}

// Serve accepts connections on an already-bound listener.
func (e *Engine) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	slog.Info("session engine listening", "address", ln.Addr())
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
			slog.Error("session: accept failed", "error", err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.handleConn(ctx, conn)
		}()
	}
}

func (e *Engine) handleConn(ctx context.Context, nc net.Conn) {
	defer nc.Close()
	remote := nc.RemoteAddr().String()

	serverRandom, err := sslv3.NewRandom()
	if err != nil {
		slog.Error("session: generate server random", "remote", remote, "error", err)
		return
	}
	conn, err := sslv3.ServerHandshake(nc, e.Identity, serverRandom)
	if err != nil {
		slog.Warn("session: handshake failed", "remote", remote, "error", err)
		return
	}

	s := e.Manager.Create(conn, e.OutboundQueueSize)
	slog.Info("session established", "sessionId", s.ID, "remote", remote)

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.writeLoop(connCtx, s)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		e.readLoop(connCtx, s)
	}()
	if e.IdleTimeout > 0 {
		go e.idleWatchdog(connCtx, cancel, s)
	}

	go func() {
		<-connCtx.Done()
		nc.Close()
	}()

	wg.Wait()
	e.disconnect(context.WithoutCancel(ctx), s)
}

// idleWatchdog closes the connection once a session has gone quiet
// for IdleTimeout. readLoop blocks indefinitely in Conn.Read when the
// client sends nothing, so it cannot notice idleness on its own; this
// goroutine polls instead.
func (e *Engine) idleWatchdog(ctx context.Context, cancel context.CancelFunc, s *Session) {
	ticker := time.NewTicker(e.IdleTimeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.IdleSince() > e.IdleTimeout {
				slog.Info("session idle timeout", "sessionId", s.ID)
				cancel()
				return
			}
		}
	}
}

func (e *Engine) readLoop(ctx context.Context, s *Session) {
	reader := packet.NewReader()
	buf := make([]byte, 8192)
	for {
		n, err := s.Conn.Read(buf)
		if err != nil {
			if ctx.Err() == nil {
				slog.Debug("session read closed", "sessionId", s.ID, "error", err)
			}
			return
		}
		s.Touch()
		reader.Feed(buf[:n])

		for {
			pkt, err := reader.Next()
			if errors.Is(err, packet.ErrIncomplete) {
				break
			}
			if err != nil {
				slog.Warn("session: malformed packet, closing connection",
					"sessionId", s.ID, "error", err)
				e.enqueueTransportError(s)
				return
			}
			if !e.handlePacket(ctx, s, pkt) {
				return
			}
		}
	}
}

// handlePacket dispatches one decoded request and queues its reply. It
// returns false when the failure was Transport-kind (spec.md §7:
// "transport failures always end the session"), signaling the caller
// to close the connection instead of continuing the read loop.
func (e *Engine) handlePacket(ctx context.Context, s *Session, pkt *packet.Packet) bool {
	component := protoids.Component(pkt.Header.Component)
	command := protoids.Command(pkt.Header.Command)

	body, err := tagcodec.Decode(pkt.Body)
	if err != nil {
		slog.Warn("session: malformed request body", "sessionId", s.ID, "error", err)
		if pkt.Header.Type != packet.TypeRequest {
			return true
		}
		return s.Enqueue(&OutboundPacket{
			Component: pkt.Header.Component,
			Command:   pkt.Header.Command,
			Error:     uint16(protoids.ErrSystem),
			Type:      byte(packet.TypeResponse),
			MessageID: pkt.Header.MessageID,
		})
	}

	replyBody, errCode, err := e.Dispatcher.Dispatch(ctx, s, component, command, body)
	if err != nil {
		slog.Error("session: handler error", "sessionId", s.ID,
			"component", component, "command", command, "error", err)
		errCode = protoerr.CodeFor(err)
	}

	if pkt.Header.Type != packet.TypeRequest {
		ok := e.flushPendingNotify(s)
		return ok && !protoerr.IsTransport(err) // notifications from the client carry no reply
	}

	var replyBytes []byte
	if replyBody != nil {
		replyBytes = tagcodec.Encode(replyBody)
	}
	if !s.Enqueue(&OutboundPacket{
		Component: pkt.Header.Component,
		Command:   pkt.Header.Command,
		Error:     uint16(errCode),
		Type:      byte(packet.TypeResponse),
		MessageID: pkt.Header.MessageID,
		Body:      replyBytes,
	}) {
		slog.Warn("session: outbound queue full, terminating session", "sessionId", s.ID)
		return false
	}
	if !e.flushPendingNotify(s) {
		return false
	}
	return !protoerr.IsTransport(err)
}

// flushPendingNotify sends any notification a handler staged with
// Session.QueueSelfNotify, always after this request's own reply has
// already been enqueued. Returns false if the outbound queue overflowed
// and the session was terminated.
func (e *Engine) flushPendingNotify(s *Session) bool {
	pending := s.takePendingNotify()
	if pending == nil {
		return true
	}
	if !s.Enqueue(pending) {
		slog.Warn("session: outbound queue full, terminating session", "sessionId", s.ID)
		return false
	}
	return true
}

func (e *Engine) enqueueTransportError(s *Session) {
	select {
	case s.Outbound <- &OutboundPacket{Error: uint16(protoids.ErrSystem), Type: byte(packet.TypeError)}:
	default:
	}
}

func (e *Engine) writeLoop(ctx context.Context, s *Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case out, ok := <-s.Outbound:
			if !ok {
				return
			}
			pkt := &packet.Packet{
				Header: packet.Header{
					Component: out.Component,
					Command:   out.Command,
					Error:     out.Error,
					Type:      packet.Type(out.Type),
					MessageID: out.MessageID,
				},
				Body: out.Body,
			}
			if err := packet.Write(s.Conn, pkt); err != nil {
				slog.Debug("session write closed", "sessionId", s.ID, "error", err)
				return
			}
		}
	}
}

// disconnect tears down a session: leaves any game it was in,
// unsubscribes it in both directions, removes it from the Manager,
// notifies every subscriber it had with USER_SESSIONS:userRemoved, and
// signals the UDP Tunnel to forget its mapping (spec.md §5 cancellation
// sequence step iv).
func (e *Engine) disconnect(ctx context.Context, s *Session) {
	if s.Membership() != nil && e.OnLeaveGame != nil {
		e.OnLeaveGame(ctx, s)
	}

	subscribers := e.Manager.SubscribersOf(s.ID)
	e.Manager.UnsubscribeAll(s.ID)
	e.Manager.Remove(s.ID)

	if e.OnDisconnect != nil {
		e.OnDisconnect(s.ID)
	}

	notifyBody := &tagcodec.Group{}
	notifyBody.Set(tagcodec.MustTag("SSID"), tagcodec.VarInt(int64(s.ID)))
	payload := tagcodec.Encode(notifyBody)

	for _, watcher := range subscribers {
		watcherSession, ok := e.Manager.Get(watcher)
		if !ok {
			continue
		}
		if !watcherSession.Enqueue(&OutboundPacket{
			Component: uint16(protoids.ComponentUserSessions),
			Command:   uint16(protoids.CommandUserSessionsUserRemoved),
			Type:      byte(packet.TypeNotify),
			Body:      payload,
		}) {
			slog.Warn("session: outbound queue full, terminating watcher instead of dropping userRemoved notify",
				"sessionId", watcherSession.ID)
		}
	}
	slog.Info("session disconnected", "sessionId", s.ID)
}
