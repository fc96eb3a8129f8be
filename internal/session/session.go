// Package session owns the per-connection Session Engine: one
// goroutine pair per live client, a static dispatch table keyed by
// (component, command), notification subscriptions, and the two
// supported login paths.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ID is a session's identity for as long as its connection lives.
// Monotonically assigned; never reused within a process lifetime.
type ID uint32

// NetInfo is the networking metadata ME3 clients exchange so peers
// can punch through NAT to each other for the UDP tunnel.
type NetInfo struct {
	InternalAddr  string
	ExternalAddr  string
	NATType       int32
	HardwareFlags uint32
}

// GameMembership records which game and slot a session currently
// occupies. A session belongs to at most one game at a time.
type GameMembership struct {
	GameID uint64
	Slot   int
}

// Account is the authenticated identity behind a session, once login
// succeeds.
type Account struct {
	ID          int64
	Email       string
	DisplayName string
}

// Session is one live client connection's state. All mutable fields
// are behind mu; Conn/Outbound are safe for concurrent use on their
// own (io.Writer, channel).
type Session struct {
	ID      ID
	Conn    ReadWriteCloser
	Outbound chan *OutboundPacket

	// tunnelToken identifies this session to the UDP Tunnel's HELLO
	// handshake (spec.md §4.8). It is independent of the long-lived
	// auth token returned by password login: the tunnel binds purely
	// off this value, which is generated once per connection and never
	// persisted.
	tunnelToken string

	mu            sync.Mutex
	account       *Account
	netInfo       NetInfo
	membership    *GameMembership
	subscribers   map[ID]struct{} // sessions watching this session's updates
	watching      map[ID]struct{} // sessions this session watches
	lastActive    time.Time
	pendingNotify *OutboundPacket
}

// ReadWriteCloser is the minimal surface the Engine needs from an
// established transport connection (an *sslv3.Conn satisfies it).
type ReadWriteCloser interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// OutboundPacket is a queued reply or notification waiting to be
// written back to the client by the writer goroutine.
type OutboundPacket struct {
	Component uint16
	Command   uint16
	Error     uint16
	Type      byte // packet.Type, duplicated here to avoid importing packet in this file's public surface
	MessageID uint32
	Body      []byte
}

func newSession(id ID, conn ReadWriteCloser, outboundQueueSize int) *Session {
	return &Session{
		ID:          id,
		Conn:        conn,
		Outbound:    make(chan *OutboundPacket, outboundQueueSize),
		tunnelToken: uuid.NewString(),
		subscribers: make(map[ID]struct{}),
		watching:    make(map[ID]struct{}),
		lastActive:  time.Now(),
	}
}

// Enqueue attempts to queue an outbound packet without blocking. Spec
// §5 requires message-id consistency: a reply or notification can
// never be dropped silently, because the client will otherwise wait
// forever on that message id. So when the outbound queue is full,
// Enqueue terminates the session instead — closing Conn unblocks the
// session's read/write loops, which run the normal disconnect
// teardown (leave game, cancel tickets, unsubscribe). Safe to call
// from any goroutine, including ones that do not own this session.
func (s *Session) Enqueue(pkt *OutboundPacket) bool {
	select {
	case s.Outbound <- pkt:
		return true
	default:
		s.Conn.Close()
		return false
	}
}

// QueueSelfNotify stages a notification for the Engine to send
// immediately after the reply to the request currently being handled,
// preserving spec.md §5's ordering guarantee ("reply to request N
// precedes any notification queued after N is handled"). Handlers use
// this instead of Enqueue when a push to this same session must follow
// its own reply on the wire, e.g. login's unsolicited
// USER_SESSIONS:setSession notify (spec.md E2E-2).
func (s *Session) QueueSelfNotify(pkt *OutboundPacket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingNotify = pkt
}

// takePendingNotify returns and clears any notification staged by
// QueueSelfNotify.
func (s *Session) takePendingNotify() *OutboundPacket {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pendingNotify
	s.pendingNotify = nil
	return p
}

// TunnelToken returns the opaque value this session's client presents
// in its UDP Tunnel HELLO datagram to bind a tunnel id to this session.
func (s *Session) TunnelToken() string {
	return s.tunnelToken
}

// Account returns the authenticated account, or nil if the session
// hasn't logged in yet.
func (s *Session) Account() *Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account
}

// SetAccount attaches an authenticated identity to the session.
func (s *Session) SetAccount(a Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account = &a
}

// NetInfo returns the session's cached networking metadata.
func (s *Session) NetInfo() NetInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.netInfo
}

// SetNetInfo updates the session's cached networking metadata.
func (s *Session) SetNetInfo(info NetInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.netInfo = info
}

// Membership returns the session's current game membership, or nil.
func (s *Session) Membership() *GameMembership {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.membership == nil {
		return nil
	}
	m := *s.membership
	return &m
}

// SetMembership records the session as joining a game slot. A session
// already in a game must ClearMembership first (enforced by callers:
// the Lobby Manager never joins a session into two games at once).
func (s *Session) SetMembership(m GameMembership) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.membership = &m
}

// ClearMembership removes game membership, e.g. on leave or disconnect.
func (s *Session) ClearMembership() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.membership = nil
}

// Touch records activity for idle-timeout tracking.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = time.Now()
}

// IdleSince reports how long it has been since bytes were last read
// from the session's client (the read loop calls Touch; writes do not).
func (s *Session) IdleSince() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActive)
}

func (s *Session) addSubscriber(id ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[id] = struct{}{}
}

func (s *Session) removeSubscriber(id ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, id)
}

func (s *Session) subscriberIDs() []ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]ID, 0, len(s.subscribers))
	for id := range s.subscribers {
		ids = append(ids, id)
	}
	return ids
}

func (s *Session) addWatching(id ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watching[id] = struct{}{}
}

func (s *Session) removeWatching(id ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.watching, id)
}

func (s *Session) watchingIDs() []ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]ID, 0, len(s.watching))
	for id := range s.watching {
		ids = append(ids, id)
	}
	return ids
}
