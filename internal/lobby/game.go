// Package lobby implements the Game Lobby Manager: game creation,
// membership, host migration, attribute/settings mutation, and
// notification fan-out to members (spec.md §4.6). Games hold only
// weak references to sessions — a plain session.ID — matching
// spec.md §3's ownership rule that the Lobby Manager never owns a
// Session.
package lobby

import (
	"github.com/pocketrelay/pocketrelay/internal/session"
)

// State is a game's lifecycle stage (spec.md §3).
type State int

const (
	StateInitializing State = iota
	StatePreGame
	StateInGame
	StatePostGame
	StateMigrating
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StatePreGame:
		return "pre-game"
	case StateInGame:
		return "in-game"
	case StatePostGame:
		return "post-game"
	case StateMigrating:
		return "migrating"
	default:
		return "unknown"
	}
}

// noSlot is the zero value for an empty slot. Session ids are
// allocated starting at 1 (session.Manager.nextID.Add(1)), so 0 is
// always a safe "nobody here" sentinel.
const noSlot session.ID = 0

// Game is one live lobby: an ordered slot list (index 0 is host), a
// matchmaking-queryable attribute map, a settings bitfield, and a
// lifecycle state. All mutation goes through Manager, which holds the
// lock that orders concurrent access to this struct's fields.
type Game struct {
	ID         uint64
	Slots      []session.ID
	Attributes map[string]string
	Settings   uint32
	State      State
}

func newGame(id uint64, maxSlots int, attributes map[string]string, settings uint32) *Game {
	attrs := make(map[string]string, len(attributes))
	for k, v := range attributes {
		attrs[k] = v
	}
	return &Game{
		ID:         id,
		Slots:      make([]session.ID, maxSlots),
		Attributes: attrs,
		Settings:   settings,
		State:      StateInitializing,
	}
}

// HostID returns the occupant of slot 0, or false if the game has no
// host (only true momentarily during destruction).
func (g *Game) HostID() (session.ID, bool) {
	if len(g.Slots) == 0 || g.Slots[0] == noSlot {
		return noSlot, false
	}
	return g.Slots[0], true
}

// FreeSlot returns the lowest free slot index, or -1 if full.
func (g *Game) FreeSlot() int {
	for i, occ := range g.Slots {
		if occ == noSlot {
			return i
		}
	}
	return -1
}

// SlotOf returns the slot index session occupies, or -1 if absent.
func (g *Game) SlotOf(s session.ID) int {
	for i, occ := range g.Slots {
		if occ == s {
			return i
		}
	}
	return -1
}

// Members returns the occupied slots' session ids in slot order.
func (g *Game) Members() []session.ID {
	members := make([]session.ID, 0, len(g.Slots))
	for _, occ := range g.Slots {
		if occ != noSlot {
			members = append(members, occ)
		}
	}
	return members
}

// View is an immutable snapshot of a Game's matchmaking-relevant
// state, safe to read without the Manager's lock.
type View struct {
	ID         uint64
	Attributes map[string]string
	Settings   uint32
	State      State
	FreeSlot   int
	MemberIDs  []session.ID
}

func (g *Game) snapshot() View {
	attrs := make(map[string]string, len(g.Attributes))
	for k, v := range g.Attributes {
		attrs[k] = v
	}
	return View{
		ID:         g.ID,
		Attributes: attrs,
		Settings:   g.Settings,
		State:      g.State,
		FreeSlot:   g.FreeSlot(),
		MemberIDs:  g.Members(),
	}
}

