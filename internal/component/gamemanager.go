package component

import (
	"context"
	"strconv"
	"strings"

	"github.com/pocketrelay/pocketrelay/internal/blaze/tagcodec"
	"github.com/pocketrelay/pocketrelay/internal/lobby"
	"github.com/pocketrelay/pocketrelay/internal/matchmaking"
	"github.com/pocketrelay/pocketrelay/internal/protoerr"
	"github.com/pocketrelay/pocketrelay/internal/protoids"
	"github.com/pocketrelay/pocketrelay/internal/session"
)

var (
	tagGID    = tagcodec.MustTag("GID ")
	tagSlot   = tagcodec.MustTag("SLOT")
	tagAttr   = tagcodec.MustTag("ATTR")
	tagGSta   = tagcodec.MustTag("GSTA")
	tagGSet   = tagcodec.MustTag("GSET")
	tagRsn    = tagcodec.MustTag("RSN ")
	tagOfst   = tagcodec.MustTag("OFST")
	tagCont   = tagcodec.MustTag("CONT")
	tagGLST   = tagcodec.MustTag("GLST")
	tagRULE   = tagcodec.MustTag("RULE")
	tagMMID   = tagcodec.MustTag("MMID")
)

func registerGameManager(d *Deps, disp *session.Dispatcher) {
	disp.Register(protoids.ComponentGameManager, protoids.CommandGameManagerCreateGame, d.handleCreateGame)
	disp.Register(protoids.ComponentGameManager, protoids.CommandGameManagerJoinGame, d.handleJoinGame)
	disp.Register(protoids.ComponentGameManager, protoids.CommandGameManagerLeaveGame, d.handleLeaveGame)
	disp.Register(protoids.ComponentGameManager, protoids.CommandGameManagerRemovePlayer, d.handleRemovePlayer)
	disp.Register(protoids.ComponentGameManager, protoids.CommandGameManagerUpdateGameAttributes, d.handleUpdateGameAttributes)
	disp.Register(protoids.ComponentGameManager, protoids.CommandGameManagerUpdateGameState, d.handleUpdateGameState)
	disp.Register(protoids.ComponentGameManager, protoids.CommandGameManagerListGames, d.handleListGames)
	disp.Register(protoids.ComponentGameManager, protoids.CommandGameManagerMatchmakingRequest, d.handleMatchmakingRequest)
}

func (d *Deps) handleCreateGame(ctx context.Context, s *session.Session, body *tagcodec.Group) (*tagcodec.Group, protoids.ErrCode, error) {
	attrs := parseAttrMap(body)
	settings := uint32(0)
	if v, ok := body.Get(tagGSet); ok {
		if n, ok := v.(tagcodec.VarInt); ok {
			settings = uint32(n)
		}
	}

	gameID, err := d.Lobby.CreateGame(ctx, s.ID, attrs, settings)
	if err != nil {
		return nil, protoerr.CodeFor(err), err
	}

	g := &tagcodec.Group{}
	g.Set(tagGID, tagcodec.VarInt(int64(gameID)))
	g.Set(tagSlot, tagcodec.VarInt(0))
	return g, protoids.ErrNone, nil
}

func (d *Deps) handleJoinGame(ctx context.Context, s *session.Session, body *tagcodec.Group) (*tagcodec.Group, protoids.ErrCode, error) {
	gameID, ok := getUint64(body, tagGID)
	if !ok {
		return nil, protoids.ErrGameNotFound, protoerr.Resourcef(protoids.ErrGameNotFound, "join game request missing GID")
	}
	slot, err := d.Lobby.JoinGame(ctx, gameID, s.ID)
	if err != nil {
		return nil, protoerr.CodeFor(err), err
	}
	g := &tagcodec.Group{}
	g.Set(tagGID, tagcodec.VarInt(int64(gameID)))
	g.Set(tagSlot, tagcodec.VarInt(int64(slot)))
	return g, protoids.ErrNone, nil
}

// handleLeaveGame ignores the request's GID: a session belongs to at
// most one game, so LeaveGame resolves it from the session's own
// membership rather than trusting a client-supplied id.
func (d *Deps) handleLeaveGame(ctx context.Context, s *session.Session, body *tagcodec.Group) (*tagcodec.Group, protoids.ErrCode, error) {
	if err := d.Lobby.LeaveGame(ctx, s.ID); err != nil {
		return nil, protoerr.CodeFor(err), err
	}
	d.Matchmaking.CancelBySession(s.ID)
	return nil, protoids.ErrNone, nil
}

func (d *Deps) handleRemovePlayer(ctx context.Context, s *session.Session, body *tagcodec.Group) (*tagcodec.Group, protoids.ErrCode, error) {
	gameID, ok := getUint64(body, tagGID)
	if !ok {
		return nil, protoids.ErrGameNotFound, protoerr.Resourcef(protoids.ErrGameNotFound, "remove player request missing GID")
	}
	slot := 0
	if v, ok := body.Get(tagSlot); ok {
		if n, ok := v.(tagcodec.VarInt); ok {
			slot = int(n)
		}
	}
	reason := ""
	if v, ok := body.Get(tagRsn); ok {
		if str, ok := v.(tagcodec.Str); ok {
			reason = string(str)
		}
	}
	if err := d.Lobby.RemovePlayer(ctx, gameID, slot, reason); err != nil {
		return nil, protoerr.CodeFor(err), err
	}
	return nil, protoids.ErrNone, nil
}

func (d *Deps) handleUpdateGameAttributes(ctx context.Context, s *session.Session, body *tagcodec.Group) (*tagcodec.Group, protoids.ErrCode, error) {
	gameID, ok := getUint64(body, tagGID)
	if !ok {
		return nil, protoids.ErrGameNotFound, protoerr.Resourcef(protoids.ErrGameNotFound, "update attributes request missing GID")
	}
	diff := parseAttrMap(body)
	if err := d.Lobby.UpdateAttributes(ctx, gameID, diff); err != nil {
		return nil, protoerr.CodeFor(err), err
	}
	return nil, protoids.ErrNone, nil
}

func (d *Deps) handleUpdateGameState(ctx context.Context, s *session.Session, body *tagcodec.Group) (*tagcodec.Group, protoids.ErrCode, error) {
	gameID, ok := getUint64(body, tagGID)
	if !ok {
		return nil, protoids.ErrGameNotFound, protoerr.Resourcef(protoids.ErrGameNotFound, "update state request missing GID")
	}
	state := lobby.StateInitializing
	if v, ok := body.Get(tagGSta); ok {
		if n, ok := v.(tagcodec.VarInt); ok {
			state = lobby.State(n)
		}
	}
	if err := d.Lobby.UpdateState(ctx, gameID, state); err != nil {
		return nil, protoerr.CodeFor(err), err
	}
	return nil, protoids.ErrNone, nil
}

// handleListGames serves spec.md §9's SUPPLEMENTED FEATURES direct
// list query, filtering by attribute equality with lobby.Filter (the
// Matchmaking Engine's queue uses its own matchmaking.RuleSet).
func (d *Deps) handleListGames(ctx context.Context, s *session.Session, body *tagcodec.Group) (*tagcodec.Group, protoids.ErrCode, error) {
	filter := lobby.Filter{AttrEquals: parseAttrMap(body)}
	offset, count := 0, 20
	if v, ok := body.Get(tagOfst); ok {
		if n, ok := v.(tagcodec.VarInt); ok {
			offset = int(n)
		}
	}
	if v, ok := body.Get(tagCont); ok {
		if n, ok := v.(tagcodec.VarInt); ok {
			count = int(n)
		}
	}

	views, err := d.Lobby.ListGames(ctx, filter, offset, count)
	if err != nil {
		return nil, protoerr.CodeFor(err), err
	}

	list := tagcodec.List{ElemType: tagcodec.TypeGroup}
	for _, v := range views {
		gv := &tagcodec.Group{}
		gv.Set(tagGID, tagcodec.VarInt(int64(v.ID)))
		gv.Set(tagSlot, tagcodec.VarInt(int64(v.FreeSlot)))
		gv.Set(tagGSta, tagcodec.VarInt(int64(v.State)))
		attr := tagcodec.Map{KeyType: tagcodec.TypeString, ValueType: tagcodec.TypeString}
		for k, val := range v.Attributes {
			attr.Entries = append(attr.Entries, tagcodec.MapEntry{Key: tagcodec.Str(k), Value: tagcodec.Str(val)})
		}
		gv.Set(tagAttr, attr)
		list.Elems = append(list.Elems, gv)
	}

	g := &tagcodec.Group{}
	g.Set(tagGLST, list)
	return g, protoids.ErrNone, nil
}

// handleMatchmakingRequest opens a ticket and runs one tick
// immediately so a candidate match already in progress doesn't wait a
// full tick interval (matchmaking.Engine.CreateTicket's documented
// contract).
func (d *Deps) handleMatchmakingRequest(ctx context.Context, s *session.Session, body *tagcodec.Group) (*tagcodec.Group, protoids.ErrCode, error) {
	rules := parseRuleSet(body)
	ticketID := d.Matchmaking.CreateTicket(s.ID, rules)
	d.Matchmaking.Tick(ctx)

	g := &tagcodec.Group{}
	g.Set(tagMMID, tagcodec.VarInt(int64(ticketID)))
	return g, protoids.ErrNone, nil
}

func parseAttrMap(body *tagcodec.Group) map[string]string {
	out := make(map[string]string)
	v, ok := body.Get(tagAttr)
	if !ok {
		return out
	}
	m, ok := v.(tagcodec.Map)
	if !ok {
		return out
	}
	for _, e := range m.Entries {
		k, ok := e.Key.(tagcodec.Str)
		if !ok {
			continue
		}
		val, ok := e.Value.(tagcodec.Str)
		if !ok {
			continue
		}
		out[string(k)] = string(val)
	}
	return out
}

// parseRuleSet compiles a matchmaking request's rule list into a
// RuleSet once at ticket creation, per spec.md §9's design note that
// rules are never re-parsed per tick. Each rule is carried as a RULE-map
// entry keyed by attribute name; the value string carries the operator
// as a short prefix ("IN:", "MIN:", "MAX:", "DLC:") followed by its
// operand, with a bare unprefixed value (or an explicit "EQ:" prefix)
// meaning equality. Unrecognized or malformed entries are skipped
// rather than rejected, matching parseAttrMap's leniency.
func parseRuleSet(body *tagcodec.Group) matchmaking.RuleSet {
	v, ok := body.Get(tagRULE)
	if !ok {
		return nil
	}
	m, ok := v.(tagcodec.Map)
	if !ok {
		return nil
	}
	rules := make(matchmaking.RuleSet, 0, len(m.Entries))
	for _, e := range m.Entries {
		k, ok := e.Key.(tagcodec.Str)
		if !ok {
			continue
		}
		val, ok := e.Value.(tagcodec.Str)
		if !ok {
			continue
		}
		if rule, ok := parseRule(string(k), string(val)); ok {
			rules = append(rules, rule)
		}
	}
	return rules
}

// parseRule decodes one wire rule entry into a matchmaking.Rule,
// dispatching on the value's operator prefix (see parseRuleSet).
func parseRule(key, raw string) (matchmaking.Rule, bool) {
	switch {
	case strings.HasPrefix(raw, "IN:"):
		set := matchmaking.ParseInSet(raw[len("IN:"):])
		if len(set) == 0 {
			return matchmaking.Rule{}, false
		}
		return matchmaking.Rule{Key: key, Op: matchmaking.OpInSet, Set: set}, true
	case strings.HasPrefix(raw, "MIN:"):
		n, err := strconv.ParseInt(raw[len("MIN:"):], 10, 64)
		if err != nil {
			return matchmaking.Rule{}, false
		}
		return matchmaking.Rule{Key: key, Op: matchmaking.OpMin, Number: n}, true
	case strings.HasPrefix(raw, "MAX:"):
		n, err := strconv.ParseInt(raw[len("MAX:"):], 10, 64)
		if err != nil {
			return matchmaking.Rule{}, false
		}
		return matchmaking.Rule{Key: key, Op: matchmaking.OpMax, Number: n}, true
	case strings.HasPrefix(raw, "DLC:"):
		mask, err := strconv.ParseUint(raw[len("DLC:"):], 16, 64)
		if err != nil {
			return matchmaking.Rule{}, false
		}
		return matchmaking.Rule{Key: key, Op: matchmaking.OpCustomDLCMask, Mask: mask}, true
	case strings.HasPrefix(raw, "EQ:"):
		return matchmaking.Rule{Key: key, Op: matchmaking.OpEqual, Value: raw[len("EQ:"):]}, true
	default:
		return matchmaking.Rule{Key: key, Op: matchmaking.OpEqual, Value: raw}, true
	}
}

func getUint64(body *tagcodec.Group, tag tagcodec.Tag) (uint64, bool) {
	v, ok := body.Get(tag)
	if !ok {
		return 0, false
	}
	n, ok := v.(tagcodec.VarInt)
	if !ok {
		return 0, false
	}
	return uint64(n), true
}
