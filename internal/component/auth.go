package component

import (
	"context"
	"log/slog"

	"github.com/pocketrelay/pocketrelay/internal/blaze/packet"
	"github.com/pocketrelay/pocketrelay/internal/blaze/tagcodec"
	"github.com/pocketrelay/pocketrelay/internal/protoerr"
	"github.com/pocketrelay/pocketrelay/internal/protoids"
	"github.com/pocketrelay/pocketrelay/internal/session"
)

var (
	tagMail = tagcodec.MustTag("MAIL")
	tagPass = tagcodec.MustTag("PASS")
	tagAuth = tagcodec.MustTag("AUTH")
	tagPID  = tagcodec.MustTag("PID ")
	tagDsnm = tagcodec.MustTag("DSNM")
	tagSess = tagcodec.MustTag("SESS")
)

func registerAuth(d *Deps, disp *session.Dispatcher) {
	disp.Register(protoids.ComponentAuthentication, protoids.CommandAuthLogin, d.handleLogin)
	disp.Register(protoids.ComponentAuthentication, protoids.CommandAuthOriginLogin, d.handleOriginLogin)
	disp.Register(protoids.ComponentAuthentication, protoids.CommandAuthLoginPersona, d.handleLoginPersona)
}

// handleLogin authenticates against the persistence store with an
// email/password pair (spec.md §4.5 login path i).
func (d *Deps) handleLogin(ctx context.Context, s *session.Session, body *tagcodec.Group) (*tagcodec.Group, protoids.ErrCode, error) {
	emailVal, _ := body.Get(tagMail)
	passVal, _ := body.Get(tagPass)
	email, ok := emailVal.(tagcodec.Str)
	if !ok {
		return nil, protoids.ErrSystem, protoerr.New(protoerr.Protocol, protoids.ErrSystem, "login request missing MAIL field")
	}
	pass, _ := passVal.(tagcodec.Str)

	acc, err := d.Store.Authenticate(ctx, string(email), string(pass))
	if err != nil {
		return nil, protoerr.CodeFor(err), err
	}
	s.SetAccount(acc)
	queueSetSessionNotify(s)
	return accountBody(acc, s.ID), protoids.ErrNone, nil
}

// handleOriginLogin resolves an Origin SSO token via the Upstream
// Retriever (spec.md §4.5 login path ii). A first-time login for that
// identity auto-creates a passwordless account. If configured, the
// player's persistent data is imported on every Origin login, not only
// the first.
func (d *Deps) handleOriginLogin(ctx context.Context, s *session.Session, body *tagcodec.Group) (*tagcodec.Group, protoids.ErrCode, error) {
	if d.Retriever == nil {
		return nil, protoids.ErrUpstreamUnavailable, protoerr.UpstreamUnavailable(nil)
	}
	tokenVal, _ := body.Get(tagAuth)
	token, ok := tokenVal.(tagcodec.Str)
	if !ok {
		return nil, protoids.ErrSystem, protoerr.New(protoerr.Protocol, protoids.ErrSystem, "origin login request missing AUTH field")
	}

	originID, displayName, err := d.Retriever.ResolveOriginToken(ctx, string(token))
	if err != nil {
		return nil, protoerr.CodeFor(err), err
	}

	acc, err := d.Store.ImportFromOrigin(ctx, originID, displayName)
	if err != nil {
		return nil, protoerr.CodeFor(err), err
	}
	s.SetAccount(acc)
	queueSetSessionNotify(s)

	if d.FetchPlayerData {
		data, err := d.Retriever.FetchPlayerData(ctx, originID)
		if err != nil {
			// Fail-soft (spec.md §4.9): the login itself still succeeds.
			data = nil
		}
		if len(data) > 0 {
			if err := d.Store.UpdatePlayerData(ctx, acc.ID, data); err != nil {
				slog.Warn("origin login: failed to persist imported player data",
					"account", acc.ID, "error", err)
			}
		}
	}

	return accountBody(acc, s.ID), protoids.ErrNone, nil
}

// handleLoginPersona returns the single persona bound to the
// authenticated account. Mass Effect 3's Origin identity model has
// exactly one persona per account, so this just echoes the account
// already attached to the session.
func (d *Deps) handleLoginPersona(ctx context.Context, s *session.Session, body *tagcodec.Group) (*tagcodec.Group, protoids.ErrCode, error) {
	acc := s.Account()
	if acc == nil {
		return nil, protoids.ErrAuthRequired, protoerr.AuthRequired("login persona requested before authentication")
	}
	return accountBody(*acc, s.ID), protoids.ErrNone, nil
}

// queueSetSessionNotify stages the unsolicited USER_SESSIONS:setSession
// push a client expects right after a successful login, carrying its
// own session info (spec.md E2E-2). Staged rather than sent directly
// so the Session Engine sends it only after this request's own login
// reply, preserving wire order.
func queueSetSessionNotify(s *session.Session) {
	acc := s.Account()
	body := &tagcodec.Group{}
	body.Set(tagSsid, tagcodec.VarInt(int64(s.ID)))
	if acc != nil {
		body.Set(tagPID, tagcodec.VarInt(acc.ID))
		body.Set(tagDsnm, tagcodec.Str(acc.DisplayName))
	}
	s.QueueSelfNotify(&session.OutboundPacket{
		Component: uint16(protoids.ComponentUserSessions),
		Command:   uint16(protoids.CommandUserSessionsSetSession),
		Type:      byte(packet.TypeNotify),
		Body:      tagcodec.Encode(body),
	})
}

func accountBody(acc session.Account, sid session.ID) *tagcodec.Group {
	g := &tagcodec.Group{}
	g.Set(tagPID, tagcodec.VarInt(acc.ID))
	g.Set(tagDsnm, tagcodec.Str(acc.DisplayName))
	g.Set(tagSess, tagcodec.VarInt(int64(sid)))
	return g
}
