package matchmaking

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pocketrelay/pocketrelay/internal/blaze/packet"
	"github.com/pocketrelay/pocketrelay/internal/blaze/tagcodec"
	"github.com/pocketrelay/pocketrelay/internal/lobby"
	"github.com/pocketrelay/pocketrelay/internal/protoids"
	"github.com/pocketrelay/pocketrelay/internal/session"
)

var tagGID = tagcodec.MustTag("GID ")

// Engine owns every open Ticket and re-evaluates them against the
// Lobby Manager's games on a periodic tick and whenever a matchmaking
// request opens a ticket. Creating a game does not by itself trigger
// an evaluation; a waiting ticket sees a new game on the next tick.
type Engine struct {
	Lobby    *lobby.Manager
	Sessions *session.Manager
	Lifetime time.Duration

	mu      sync.Mutex
	tickets map[uint64]*Ticket
	nextID  atomic.Uint64
}

// NewEngine returns an empty matchmaking engine. lifetime is how long
// an unmatched ticket survives before it expires (default 15 minutes
// per spec.md §4.7).
func NewEngine(lobbyMgr *lobby.Manager, sessions *session.Manager, lifetime time.Duration) *Engine {
	return &Engine{
		Lobby:    lobbyMgr,
		Sessions: sessions,
		Lifetime: lifetime,
		tickets:  make(map[uint64]*Ticket),
	}
}

// CreateTicket opens a new matchmaking request and returns its id.
// Callers should immediately call Tick so a candidate match already
// in progress doesn't wait a full tick interval (spec.md §4.7: "on
// each createGame and on a periodic tick").
func (e *Engine) CreateTicket(s session.ID, rules RuleSet) uint64 {
	id := e.nextID.Add(1)
	t := &Ticket{ID: id, SessionID: s, Rules: rules, CreatedAt: time.Now()}

	e.mu.Lock()
	e.tickets[id] = t
	e.mu.Unlock()
	return id
}

// Cancel removes a ticket by id.
func (e *Engine) Cancel(ticketID uint64) {
	e.mu.Lock()
	delete(e.tickets, ticketID)
	e.mu.Unlock()
}

// CancelBySession removes every ticket belonging to s, called on
// session disconnect (spec.md §3: tickets are "removed on ... session
// disconnect").
func (e *Engine) CancelBySession(s session.ID) {
	e.mu.Lock()
	for id, t := range e.tickets {
		if t.SessionID == s {
			delete(e.tickets, id)
		}
	}
	e.mu.Unlock()
}

// Run drives the periodic re-evaluation tick until ctx is canceled.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Info("matchmaking engine running", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick re-evaluates every open ticket against the Lobby Manager's
// current games, oldest ticket first (spec.md §4.7: "ties are broken
// by oldest ticket first"). Expired tickets are removed and their
// owner is notified with MATCHMAKING_FAILED. Tickets and lobby state
// are never locked simultaneously (spec.md §5 lock order Sessions →
// Games → Tickets): this snapshots tickets, releases the lock, then
// calls into the Lobby Manager, and finally re-locks tickets only to
// delete matched/expired entries.
func (e *Engine) Tick(ctx context.Context) {
	pending := e.snapshotOldestFirst()
	if len(pending) == 0 {
		return
	}
	candidates := e.Lobby.Snapshot()

	var matched, expired []uint64
	now := time.Now()
	for _, t := range pending {
		if e.Lifetime > 0 && now.Sub(t.CreatedAt) > e.Lifetime {
			expired = append(expired, t.ID)
			e.notifyMatchFailed(t.SessionID, t.ID)
			continue
		}
		gameID, ok := findMatch(t, candidates)
		if !ok {
			continue
		}
		if _, err := e.Lobby.JoinGame(ctx, gameID, t.SessionID); err != nil {
			slog.Warn("matchmaking: join failed after match", "ticket", t.ID, "game", gameID, "error", err)
			continue
		}
		matched = append(matched, t.ID)
		// Re-read game state for subsequent tickets in this same tick:
		// the match above just changed a free-slot count.
		candidates = e.Lobby.Snapshot()
	}

	if len(matched) == 0 && len(expired) == 0 {
		return
	}
	e.mu.Lock()
	for _, id := range matched {
		delete(e.tickets, id)
	}
	for _, id := range expired {
		delete(e.tickets, id)
	}
	e.mu.Unlock()
}

func (e *Engine) snapshotOldestFirst() []*Ticket {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Ticket, 0, len(e.tickets))
	for _, t := range e.tickets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// findMatch returns the first candidate game (in ascending id order,
// since Lobby.Snapshot is already sorted that way) whose attributes
// and free slot satisfy the ticket's rules.
func findMatch(t *Ticket, candidates []lobby.View) (uint64, bool) {
	for _, c := range candidates {
		if c.FreeSlot == -1 {
			continue
		}
		if t.Rules.Matches(c.Attributes) {
			return c.ID, true
		}
	}
	return 0, false
}

func (e *Engine) notifyMatchFailed(s session.ID, ticketID uint64) {
	sess, ok := e.Sessions.Get(s)
	if !ok {
		return
	}
	body := &tagcodec.Group{}
	body.Set(tagGID, tagcodec.VarInt(0))
	if !sess.Enqueue(&session.OutboundPacket{
		Component: uint16(protoids.ComponentGameManager),
		Command:   uint16(protoids.CommandGameManagerMatchmakingFailed),
		Type:      byte(packet.TypeNotify),
		Body:      tagcodec.Encode(body),
	}) {
		slog.Warn("matchmaking: outbound queue full, terminating session instead of dropping MATCHMAKING_FAILED", "session", s)
	}
	slog.Info("matchmaking: ticket expired", "ticket", ticketID, "session", s)
}
