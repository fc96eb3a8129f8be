package component

import (
	"context"

	"github.com/pocketrelay/pocketrelay/internal/blaze/packet"
	"github.com/pocketrelay/pocketrelay/internal/blaze/tagcodec"
	"github.com/pocketrelay/pocketrelay/internal/protoerr"
	"github.com/pocketrelay/pocketrelay/internal/protoids"
	"github.com/pocketrelay/pocketrelay/internal/session"
)

var (
	tagTarg = tagcodec.MustTag("TARG")
	tagTxt  = tagcodec.MustTag("TEXT")
	tagFrom = tagcodec.MustTag("FROM")
)

func registerMessaging(d *Deps, disp *session.Dispatcher) {
	disp.Register(protoids.ComponentMessaging, protoids.CommandMessagingSendMessage, d.handleSendMessage)
}

// handleSendMessage relays a chat message to one target session as a
// notify, the same fan-out shape as every other unsolicited push in
// this engine (spec.md §9 SUPPLEMENTED FEATURES: chat relay between
// lobby members, dropped by the distillation but present in the
// original service).
func (d *Deps) handleSendMessage(ctx context.Context, s *session.Session, body *tagcodec.Group) (*tagcodec.Group, protoids.ErrCode, error) {
	targetVal, _ := body.Get(tagTarg)
	target, ok := targetVal.(tagcodec.VarInt)
	if !ok {
		return nil, protoids.ErrInvalidSession, protoerr.Resourcef(protoids.ErrInvalidSession, "send message request missing TARG field")
	}
	textVal, _ := body.Get(tagTxt)
	text, _ := textVal.(tagcodec.Str)

	targetSession, ok := d.Sessions.Get(session.ID(target))
	if !ok {
		return nil, protoids.ErrInvalidSession, protoerr.Resourcef(protoids.ErrInvalidSession, "target session %d not live", target)
	}

	notify := &tagcodec.Group{}
	notify.Set(tagFrom, tagcodec.VarInt(int64(s.ID)))
	notify.Set(tagTxt, text)
	payload := tagcodec.Encode(notify)

	if !targetSession.Enqueue(&session.OutboundPacket{
		Component: uint16(protoids.ComponentMessaging),
		Command:   uint16(protoids.CommandMessagingSendMessage),
		Type:      byte(packet.TypeNotify),
		Body:      payload,
	}) {
		return nil, protoids.ErrSystem, protoerr.New(protoerr.Resource, protoids.ErrSystem, "target session outbound queue full, target terminated")
	}

	return nil, protoids.ErrNone, nil
}
