package session

import (
	"sync"
	"sync/atomic"
)

// Manager owns every live Session, keyed by ID, and the subscription
// graph between them. It never touches games or tickets directly;
// the Lobby Manager and Matchmaking Engine hold weak references
// (plain IDs) back into this Manager instead.
type Manager struct {
	nextID   atomic.Uint32
	sessions sync.Map // map[ID]*Session
}

// NewManager returns an empty session registry.
func NewManager() *Manager {
	return &Manager{}
}

// Create allocates a new session id and registers a Session for conn.
func (m *Manager) Create(conn ReadWriteCloser, outboundQueueSize int) *Session {
	id := ID(m.nextID.Add(1))
	s := newSession(id, conn, outboundQueueSize)
	m.sessions.Store(id, s)
	return s
}

// Get looks up a live session by id.
func (m *Manager) Get(id ID) (*Session, bool) {
	v, ok := m.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Remove unregisters a session. It does not itself notify
// subscribers; callers (the Engine's disconnect path) are responsible
// for that since they also need to tear down game membership first.
func (m *Manager) Remove(id ID) {
	m.sessions.Delete(id)
}

// LookupByTunnelToken finds the live session whose TunnelToken matches
// token, for the UDP Tunnel's HELLO validation (spec.md §4.8). Linear
// in the session count, which is acceptable: it runs once per tunnel
// handshake, not per datagram.
func (m *Manager) LookupByTunnelToken(token string) (*Session, bool) {
	var found *Session
	m.sessions.Range(func(_, v any) bool {
		s := v.(*Session)
		if s.tunnelToken == token {
			found = s
			return false
		}
		return true
	})
	return found, found != nil
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	n := 0
	m.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Subscribe makes watcher receive USER_SESSIONS notifications about
// target. Idempotent.
func (m *Manager) Subscribe(watcher, target ID) {
	if watcher == target {
		return
	}
	targetSession, ok := m.Get(target)
	if !ok {
		return
	}
	watcherSession, ok := m.Get(watcher)
	if !ok {
		return
	}
	targetSession.addSubscriber(watcher)
	watcherSession.addWatching(target)
}

// Unsubscribe reverses Subscribe. Idempotent.
func (m *Manager) Unsubscribe(watcher, target ID) {
	if targetSession, ok := m.Get(target); ok {
		targetSession.removeSubscriber(watcher)
	}
	if watcherSession, ok := m.Get(watcher); ok {
		watcherSession.removeWatching(target)
	}
}

// SubscribersOf returns the ids currently watching target's updates.
// Snapshotting under the target's own lock, not Manager's, matches
// the "collect ids, release, then enqueue" fan-out pattern: no lock is
// held while notifications are sent.
func (m *Manager) SubscribersOf(target ID) []ID {
	targetSession, ok := m.Get(target)
	if !ok {
		return nil
	}
	return targetSession.subscriberIDs()
}

// UnsubscribeAll removes every subscription a disconnecting session
// holds, in both directions: it stops watching everyone, and it is
// removed from everyone's subscriber set.
func (m *Manager) UnsubscribeAll(id ID) {
	s, ok := m.Get(id)
	if !ok {
		return
	}
	for _, target := range s.watchingIDs() {
		m.Unsubscribe(id, target)
	}
	for _, watcher := range s.subscriberIDs() {
		m.Unsubscribe(watcher, id)
	}
}
