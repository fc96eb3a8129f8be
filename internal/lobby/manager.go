package lobby

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pocketrelay/pocketrelay/internal/blaze/tagcodec"
	"github.com/pocketrelay/pocketrelay/internal/protoerr"
	"github.com/pocketrelay/pocketrelay/internal/protoids"
	"github.com/pocketrelay/pocketrelay/internal/session"
)

var (
	tagGID  = tagcodec.MustTag("GID ")
	tagHost = tagcodec.MustTag("HOST")
	tagSlot = tagcodec.MustTag("SLOT")
	tagPID  = tagcodec.MustTag("PID ")
	tagStat = tagcodec.MustTag("GSTA")
)

// Manager owns every live Game, keyed by id, and the slot assignment,
// attribute mutation, and host-migration state machine for each
// (spec.md §4.6). It holds a reference to the session Manager purely
// to deliver notifications and resolve weak session references; it
// never mutates session state directly beyond Session.SetMembership/
// ClearMembership.
type Manager struct {
	Sessions *session.Manager

	MaxSlots int

	mu     sync.Mutex
	games  map[uint64]*Game
	nextID atomic.Uint64
}

// NewManager returns an empty Lobby Manager. maxSlots is the
// configured constant slot count per game (nominally 4, spec.md §4.6).
func NewManager(sessions *session.Manager, maxSlots int) *Manager {
	return &Manager{
		Sessions: sessions,
		MaxSlots: maxSlots,
		games:    make(map[uint64]*Game),
	}
}

// CreateGame allocates a new game, seats host in slot 0, and returns
// the game id.
func (m *Manager) CreateGame(ctx context.Context, host session.ID, attributes map[string]string, settings uint32) (uint64, error) {
	id := m.nextID.Add(1)
	g := newGame(id, m.MaxSlots, attributes, settings)
	g.Slots[0] = host
	g.State = StatePreGame

	m.mu.Lock()
	m.games[id] = g
	m.mu.Unlock()

	hostSession, ok := m.Sessions.Get(host)
	if !ok {
		return 0, protoerr.Resourcef(protoids.ErrInvalidSession, "host session %d not live", host)
	}
	hostSession.SetMembership(session.GameMembership{GameID: id, Slot: 0})
	slog.Info("lobby: game created", "gameId", id, "host", host)
	return id, nil
}

// JoinGame seats session into the lowest free slot of gameID and
// broadcasts playerJoining to every member, including the joiner
// itself (spec.md E2E-3: the joiner observes its own join).
func (m *Manager) JoinGame(ctx context.Context, gameID uint64, s session.ID) (int, error) {
	m.mu.Lock()
	g, ok := m.games[gameID]
	if !ok {
		m.mu.Unlock()
		return 0, protoerr.Resourcef(protoids.ErrGameNotFound, "game %d not found", gameID)
	}
	slot := g.FreeSlot()
	if slot == -1 {
		m.mu.Unlock()
		return 0, protoerr.Resourcef(protoids.ErrGameFull, "game %d has no free slot", gameID)
	}
	g.Slots[slot] = s
	if g.State == StatePreGame && g.FreeSlot() == -1 {
		g.State = StateInGame
	}
	recipients := g.Members()
	m.mu.Unlock()

	joinerSession, ok := m.Sessions.Get(s)
	if !ok {
		return 0, protoerr.Resourcef(protoids.ErrInvalidSession, "session %d not live", s)
	}
	joinerSession.SetMembership(session.GameMembership{GameID: gameID, Slot: slot})

	m.subscribeAllPairs(recipients)
	notifyMembers(m.Sessions, recipients, protoids.ComponentGameManager, protoids.CommandGameManagerPlayerJoining,
		playerJoiningBody(gameID, slot, s))
	slog.Info("lobby: player joined", "gameId", gameID, "slot", slot, "session", s)
	return slot, nil
}

// LeaveGame removes session from whatever game it currently occupies.
// If it was the host and other players remain, host migration runs;
// if it was the last player, the game is destroyed.
func (m *Manager) LeaveGame(ctx context.Context, s session.ID) error {
	sess, ok := m.Sessions.Get(s)
	if !ok {
		return nil
	}
	membership := sess.Membership()
	if membership == nil {
		return nil
	}
	sess.ClearMembership()

	m.mu.Lock()
	g, ok := m.games[membership.GameID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	slot := g.SlotOf(s)
	if slot == -1 {
		m.mu.Unlock()
		return nil
	}
	g.Slots[slot] = noSlot
	remaining := g.Members()

	if len(remaining) == 0 {
		delete(m.games, g.ID)
		m.mu.Unlock()
		slog.Info("lobby: game destroyed, no players remain", "gameId", g.ID)
		return nil
	}

	wasHost := slot == 0
	if !wasHost {
		m.mu.Unlock()
		notifyMembers(m.Sessions, remaining, protoids.ComponentGameManager, protoids.CommandGameManagerRemovePlayer,
			removePlayerBody(g.ID, slot, s))
		return nil
	}

	// Host migration (spec.md §4.6, REDESIGN FLAG in spec.md §9: every
	// remaining peer is preserved, not just the new host).
	g.State = StateMigrating
	m.mu.Unlock()

	notifyMembers(m.Sessions, remaining, protoids.ComponentGameManager, protoids.CommandGameManagerHostMigrationStart,
		hostMigrationBody(g.ID))

	m.mu.Lock()
	// Re-check the game still exists; another goroutine could have
	// mutated it between unlock and relock (e.g. a concurrent leave),
	// so the member list is re-read below rather than reused from
	// before the unlock.
	g, ok = m.games[g.ID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	// Compact: move every remaining occupant down, new host at slot 0.
	compacted := g.Members()
	for i := range g.Slots {
		g.Slots[i] = noSlot
	}
	for i, occ := range compacted {
		g.Slots[i] = occ
	}
	g.State = StateInGame
	newHost := compacted[0]
	peers := compacted[1:]
	m.mu.Unlock()

	for i, occ := range compacted {
		if occSession, ok := m.Sessions.Get(occ); ok {
			occSession.SetMembership(session.GameMembership{GameID: g.ID, Slot: i})
		}
	}

	notifyMembers(m.Sessions, compacted, protoids.ComponentGameManager, protoids.CommandGameManagerHostMigrationFinished,
		hostMigrationFinishedBody(g.ID, newHost))

	// Re-issue playerJoining to the new host for each remaining peer,
	// per the design note fixing the host-migration drop bug: the new
	// host's client never received a join notification for peers that
	// were already in the game before it became host.
	for _, peer := range peers {
		notifyMembers(m.Sessions, []session.ID{newHost}, protoids.ComponentGameManager, protoids.CommandGameManagerPlayerJoining,
			playerJoiningBody(g.ID, g.SlotOf(peer), peer))
	}

	slog.Info("lobby: host migration finished", "gameId", g.ID, "newHost", newHost)
	return nil
}

// HandleDisconnect matches session.LeaveGameFunc's signature so it can
// be wired directly as Engine.OnLeaveGame without an import cycle
// (session never imports lobby).
func (m *Manager) HandleDisconnect(ctx context.Context, s *session.Session) {
	if err := m.LeaveGame(ctx, s.ID); err != nil {
		slog.Error("lobby: leave on disconnect failed", "session", s.ID, "error", err)
	}
}

// UpdateAttributes merges diff into the game's attribute map and
// notifies all members.
func (m *Manager) UpdateAttributes(ctx context.Context, gameID uint64, diff map[string]string) error {
	m.mu.Lock()
	g, ok := m.games[gameID]
	if !ok {
		m.mu.Unlock()
		return protoerr.Resourcef(protoids.ErrGameNotFound, "game %d not found", gameID)
	}
	for k, v := range diff {
		g.Attributes[k] = v
	}
	recipients := g.Members()
	m.mu.Unlock()

	notifyMembers(m.Sessions, recipients, protoids.ComponentGameManager, protoids.CommandGameManagerUpdateGameAttributes,
		attributesBody(gameID, diff))
	return nil
}

// UpdateState transitions the game's lifecycle state and notifies all
// members.
func (m *Manager) UpdateState(ctx context.Context, gameID uint64, newState State) error {
	m.mu.Lock()
	g, ok := m.games[gameID]
	if !ok {
		m.mu.Unlock()
		return protoerr.Resourcef(protoids.ErrGameNotFound, "game %d not found", gameID)
	}
	g.State = newState
	recipients := g.Members()
	m.mu.Unlock()

	notifyMembers(m.Sessions, recipients, protoids.ComponentGameManager, protoids.CommandGameManagerUpdateGameState,
		stateBody(gameID, newState))
	return nil
}

// SetSettings replaces the game's settings bitfield. Unlike the other
// mutations it sends no notification; members are not told of the
// change.
func (m *Manager) SetSettings(ctx context.Context, gameID uint64, bits uint32) error {
	m.mu.Lock()
	g, ok := m.games[gameID]
	if !ok {
		m.mu.Unlock()
		return protoerr.Resourcef(protoids.ErrGameNotFound, "game %d not found", gameID)
	}
	g.Settings = bits
	m.mu.Unlock()
	return nil
}

// RemovePlayer forcibly removes the occupant of slot from gameID
// (e.g. a kick), reusing the same leave machinery as a voluntary
// LeaveGame so host migration is handled identically.
func (m *Manager) RemovePlayer(ctx context.Context, gameID uint64, slot int, reason string) error {
	m.mu.Lock()
	g, ok := m.games[gameID]
	if !ok {
		m.mu.Unlock()
		return protoerr.Resourcef(protoids.ErrGameNotFound, "game %d not found", gameID)
	}
	if slot < 0 || slot >= len(g.Slots) || g.Slots[slot] == noSlot {
		m.mu.Unlock()
		return protoerr.Resourcef(protoids.ErrGameNotFound, "game %d has no occupant in slot %d", gameID, slot)
	}
	target := g.Slots[slot]
	m.mu.Unlock()

	slog.Info("lobby: removing player", "gameId", gameID, "slot", slot, "reason", reason)
	return m.LeaveGame(ctx, target)
}

// Filter selects games for ListGames: AttrEquals is ANDed across all
// entries; RequireFreeSlot additionally requires FreeSlot != -1.
// Only ListGames uses it; the Matchmaking Engine evaluates its tickets
// with matchmaking.RuleSet instead.
type Filter struct {
	AttrEquals      map[string]string
	RequireFreeSlot bool
}

func (f Filter) matches(v View) bool {
	if f.RequireFreeSlot && v.FreeSlot == -1 {
		return false
	}
	for k, want := range f.AttrEquals {
		if got, ok := v.Attributes[k]; !ok || got != want {
			return false
		}
	}
	return true
}

// ListGames returns up to count matching games starting at offset,
// ordered by ascending game id.
func (m *Manager) ListGames(ctx context.Context, filter Filter, offset, count int) ([]View, error) {
	views := m.Snapshot()
	matched := make([]View, 0, len(views))
	for _, v := range views {
		if filter.matches(v) {
			matched = append(matched, v)
		}
	}
	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + count
	if end > len(matched) || count <= 0 {
		end = len(matched)
	}
	return matched[offset:end], nil
}

// Snapshot returns a View of every live game, ascending by id, for
// matchmaking evaluation and list queries.
func (m *Manager) Snapshot() []View {
	m.mu.Lock()
	defer m.mu.Unlock()
	views := make([]View, 0, len(m.games))
	for id := uint64(1); id <= m.nextID.Load(); id++ {
		if g, ok := m.games[id]; ok {
			views = append(views, g.snapshot())
		}
	}
	return views
}

// SessionAt returns the session occupying (gameID, slot), used by the
// UDP Tunnel to resolve a FORWARD's target slot to a remote address
// (spec.md §4.8).
func (m *Manager) SessionAt(gameID uint64, slot int) (session.ID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[gameID]
	if !ok || slot < 0 || slot >= len(g.Slots) || g.Slots[slot] == noSlot {
		return noSlot, false
	}
	return g.Slots[slot], true
}

// subscribeAllPairs makes every member of a freshly-changed member
// list subscribed to every other member's USER_SESSIONS updates
// (spec.md §4.5: "a session is implicitly subscribed to every other
// member of any game it joins").
func (m *Manager) subscribeAllPairs(members []session.ID) {
	for _, a := range members {
		for _, b := range members {
			if a != b {
				m.Sessions.Subscribe(a, b)
			}
		}
	}
}
