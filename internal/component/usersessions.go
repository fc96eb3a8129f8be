package component

import (
	"context"
	"log/slog"

	"github.com/pocketrelay/pocketrelay/internal/blaze/packet"
	"github.com/pocketrelay/pocketrelay/internal/blaze/tagcodec"
	"github.com/pocketrelay/pocketrelay/internal/protoids"
	"github.com/pocketrelay/pocketrelay/internal/session"
)

var (
	tagAddr = tagcodec.MustTag("ADDR")
	tagIntA = tagcodec.MustTag("INIP")
	tagExtA = tagcodec.MustTag("EXIP")
	tagNAT  = tagcodec.MustTag("NATT")
	tagHWFG = tagcodec.MustTag("HWFG")
	tagSsid = tagcodec.MustTag("SSID")
)

func registerUserSessions(d *Deps, disp *session.Dispatcher) {
	disp.Register(protoids.ComponentUserSessions, protoids.CommandUserSessionsUpdateUserSession, d.handleUpdateUserSession)
	disp.Register(protoids.ComponentUserSessions, protoids.CommandUserSessionsSetSession, d.handleSetSession)
}

// handleUpdateUserSession records a client's networking info update
// (internal/external socket address, measured QoS NAT type, hardware
// flags) and broadcasts it to every subscriber (spec.md §4.5: "When
// the session's identity or network info changes, a
// USER_SESSIONS.UPDATE_USER_SESSION notification is broadcast to
// subscribers").
func (d *Deps) handleUpdateUserSession(ctx context.Context, s *session.Session, body *tagcodec.Group) (*tagcodec.Group, protoids.ErrCode, error) {
	info := parseNetInfo(body)
	s.SetNetInfo(info)
	d.notifyUserSessionUpdate(s)
	return nil, protoids.ErrNone, nil
}

// handleSetSession is the first network-info report a client sends
// right after login, handled identically to a later update.
func (d *Deps) handleSetSession(ctx context.Context, s *session.Session, body *tagcodec.Group) (*tagcodec.Group, protoids.ErrCode, error) {
	info := parseNetInfo(body)
	s.SetNetInfo(info)
	d.notifyUserSessionUpdate(s)
	return nil, protoids.ErrNone, nil
}

func parseNetInfo(body *tagcodec.Group) session.NetInfo {
	var info session.NetInfo
	if addrVal, ok := body.Get(tagAddr); ok {
		if addr, ok := addrVal.(*tagcodec.Group); ok {
			if v, ok := addr.Get(tagIntA); ok {
				if s, ok := v.(tagcodec.Str); ok {
					info.InternalAddr = string(s)
				}
			}
			if v, ok := addr.Get(tagExtA); ok {
				if s, ok := v.(tagcodec.Str); ok {
					info.ExternalAddr = string(s)
				}
			}
		}
	}
	if v, ok := body.Get(tagNAT); ok {
		if n, ok := v.(tagcodec.VarInt); ok {
			info.NATType = int32(n)
		}
	}
	if v, ok := body.Get(tagHWFG); ok {
		if n, ok := v.(tagcodec.VarInt); ok {
			info.HardwareFlags = uint32(n)
		}
	}
	return info
}

func (d *Deps) notifyUserSessionUpdate(s *session.Session) {
	body := &tagcodec.Group{}
	body.Set(tagSsid, tagcodec.VarInt(int64(s.ID)))
	payload := tagcodec.Encode(body)

	for _, watcher := range d.Sessions.SubscribersOf(s.ID) {
		watcherSession, ok := d.Sessions.Get(watcher)
		if !ok {
			continue
		}
		if !watcherSession.Enqueue(&session.OutboundPacket{
			Component: uint16(protoids.ComponentUserSessions),
			Command:   uint16(protoids.CommandUserSessionsUpdateUserSession),
			Type:      byte(packet.TypeNotify),
			Body:      payload,
		}) {
			slog.Warn("usersessions: outbound queue full, terminating watcher instead of dropping updateUserSession notify",
				"sessionId", watcherSession.ID)
		}
	}
}
