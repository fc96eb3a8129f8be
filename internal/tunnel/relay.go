package tunnel

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pocketrelay/pocketrelay/internal/lobby"
	"github.com/pocketrelay/pocketrelay/internal/session"
)

// association pairs a tunnel id with the session it was bound to on
// its first HELLO and the remote address datagrams last arrived from
// (spec.md §3: "Tunnel Association ... established on first 'hello'
// datagram").
type association struct {
	sessionID session.ID
	remote    net.Addr
	lastSeen  time.Time
}

// Relay runs the UDP data plane: one net.PacketConn, a tunnel-id-keyed
// association table, and the per-game slot routing lookups needed to
// rewrite a FORWARD's target slot and deliver it to the right peer.
type Relay struct {
	Sessions *session.Manager
	Lobby    *lobby.Manager

	IdleTimeout time.Duration

	mu     sync.Mutex
	byID   map[uint32]*association
	bySess map[session.ID]uint32
	conn   net.PacketConn
}

// NewRelay returns a Relay with no bound associations yet.
func NewRelay(sessions *session.Manager, lobbyMgr *lobby.Manager, idleTimeout time.Duration) *Relay {
	return &Relay{
		Sessions:    sessions,
		Lobby:       lobbyMgr,
		IdleTimeout: idleTimeout,
		byID:        make(map[uint32]*association),
		bySess:      make(map[session.ID]uint32),
	}
}

// Run opens the UDP socket on bindAddr and serves until ctx is
// canceled.
func (r *Relay) Run(ctx context.Context, bindAddr string) error {
	conn, err := net.ListenPacket("udp", bindAddr)
	if err != nil {
		return err
	}
	return r.Serve(ctx, conn)
}

// Serve runs the read loop and idle-sweep goroutine on an
// already-bound PacketConn, useful for tests that want an ephemeral
// port.
func (r *Relay) Serve(ctx context.Context, conn net.PacketConn) error {
	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go r.sweepIdle(ctx)

	slog.Info("udp tunnel listening", "address", conn.LocalAddr())
	buf := make([]byte, 2048)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Warn("tunnel: read failed", "error", err)
			continue
		}
		datagram, err := Unmarshal(buf[:n])
		if err != nil {
			slog.Debug("tunnel: malformed datagram", "remote", addr, "error", err)
			continue
		}
		r.handle(datagram, addr)
	}
}

func (r *Relay) handle(d Datagram, addr net.Addr) {
	switch d.Type {
	case MsgHello:
		r.handleHello(d, addr)
	case MsgKeepalive:
		r.touch(d.TunnelID, addr)
	case MsgForward:
		r.handleForward(d, addr)
	default:
		slog.Debug("tunnel: unknown message type", "type", d.Type)
	}
}

func (r *Relay) handleHello(d Datagram, addr net.Addr) {
	token := string(d.Payload)
	s, ok := r.Sessions.LookupByTunnelToken(token)
	if !ok {
		slog.Warn("tunnel: HELLO with unknown session token", "remote", addr)
		return
	}

	r.mu.Lock()
	if existing, had := r.bySess[s.ID]; had && existing != d.TunnelID {
		delete(r.byID, existing)
	}
	r.byID[d.TunnelID] = &association{sessionID: s.ID, remote: addr, lastSeen: time.Now()}
	r.bySess[s.ID] = d.TunnelID
	r.mu.Unlock()

	slog.Info("tunnel: hello bound", "tunnelId", d.TunnelID, "session", s.ID, "remote", addr)
	r.ack(addr, d.TunnelID)
}

func (r *Relay) handleForward(d Datagram, addr net.Addr) {
	r.mu.Lock()
	assoc, ok := r.byID[d.TunnelID]
	if ok {
		assoc.remote = addr
		assoc.lastSeen = time.Now()
	}
	r.mu.Unlock()
	if !ok {
		slog.Debug("tunnel: FORWARD from unbound tunnel id", "tunnelId", d.TunnelID)
		return
	}

	targetSlot, opaque, err := ParseForward(d.Payload)
	if err != nil {
		slog.Debug("tunnel: malformed forward payload", "error", err)
		return
	}

	membership := r.senderMembership(assoc.sessionID)
	if membership == nil {
		slog.Debug("tunnel: forward from session not in a game", "session", assoc.sessionID)
		return
	}

	targetSession, ok := r.Lobby.SessionAt(membership.GameID, int(targetSlot))
	if !ok {
		slog.Debug("tunnel: forward target slot empty", "game", membership.GameID, "slot", targetSlot)
		return
	}

	r.mu.Lock()
	targetTunnelID, ok := r.bySess[targetSession]
	var targetAssoc *association
	if ok {
		targetAssoc = r.byID[targetTunnelID]
	}
	r.mu.Unlock()
	if targetAssoc == nil {
		slog.Debug("tunnel: forward target has no bound tunnel", "session", targetSession)
		return
	}

	// Rewrite targetSlot to identify the sender instead, so the
	// receiving client knows which of its peers the payload is from
	// (spec.md §4.8).
	rewritten := Marshal(Datagram{
		TunnelID: targetTunnelID,
		Type:     MsgForward,
		Payload:  MarshalForward(byte(membership.Slot), opaque),
	})
	r.writeTo(targetAssoc.remote, rewritten)
}

func (r *Relay) senderMembership(s session.ID) *session.GameMembership {
	sess, ok := r.Sessions.Get(s)
	if !ok {
		return nil
	}
	return sess.Membership()
}

func (r *Relay) ack(addr net.Addr, tunnelID uint32) {
	r.writeTo(addr, Marshal(Datagram{TunnelID: tunnelID, Type: MsgAck}))
}

func (r *Relay) touch(tunnelID uint32, addr net.Addr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if assoc, ok := r.byID[tunnelID]; ok {
		assoc.remote = addr
		assoc.lastSeen = time.Now()
	}
}

func (r *Relay) writeTo(addr net.Addr, data []byte) {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return
	}
	if _, err := conn.WriteTo(data, addr); err != nil {
		slog.Debug("tunnel: write failed", "remote", addr, "error", err)
	}
}

// sweepIdle periodically forgets associations untouched for
// IdleTimeout (spec.md §4.8: "idle tunnels expire after 60s of
// silence").
func (r *Relay) sweepIdle(ctx context.Context) {
	if r.IdleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(r.IdleTimeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.expireIdle()
		}
	}
}

func (r *Relay) expireIdle() {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, assoc := range r.byID {
		if now.Sub(assoc.lastSeen) > r.IdleTimeout {
			delete(r.byID, id)
			delete(r.bySess, assoc.sessionID)
			slog.Debug("tunnel: association expired", "tunnelId", id, "session", assoc.sessionID)
		}
	}
}

// Forget removes any association for s, called when the Session
// Engine signals a disconnect (spec.md §5 cancellation sequence step
// iv: "signals the UDP tunnel to forget its mapping").
func (r *Relay) Forget(s session.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.bySess[s]; ok {
		delete(r.byID, id)
		delete(r.bySess, s)
	}
}

// NewTunnelID generates a pseudo-random tunnel id for a client hello;
// nothing in this module calls it, and real clients generate their own.
func NewTunnelID() uint32 {
	u := uuid.New()
	return binary.LittleEndian.Uint32(u[:4])
}
