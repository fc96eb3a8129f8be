package lobby

import (
	"log/slog"

	"github.com/pocketrelay/pocketrelay/internal/blaze/packet"
	"github.com/pocketrelay/pocketrelay/internal/blaze/tagcodec"
	"github.com/pocketrelay/pocketrelay/internal/protoids"
	"github.com/pocketrelay/pocketrelay/internal/session"
)

// notifyMembers fans a notify packet out to every recipient id,
// matching spec.md §9's "collect recipient ids under the lock,
// release, then enqueue" fan-out discipline: callers gather recipients
// while holding the Manager lock, then call this afterward with no
// lock held. A recipient whose outbound queue is full is terminated
// rather than silently skipped (spec.md §5: message-id consistency
// requires the client never be left waiting on a dropped packet).
func notifyMembers(sessions *session.Manager, recipients []session.ID, component protoids.Component, command protoids.Command, body *tagcodec.Group) {
	payload := tagcodec.Encode(body)
	for _, id := range recipients {
		s, ok := sessions.Get(id)
		if !ok {
			continue
		}
		if !s.Enqueue(&session.OutboundPacket{
			Component: uint16(component),
			Command:   uint16(command),
			Type:      byte(packet.TypeNotify),
			Body:      payload,
		}) {
			slog.Warn("lobby: outbound queue full, terminating session instead of dropping notify",
				"sessionId", id, "component", component, "command", command)
		}
	}
}
