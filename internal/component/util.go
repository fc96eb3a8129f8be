package component

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/pocketrelay/pocketrelay/internal/blaze/tagcodec"
	"github.com/pocketrelay/pocketrelay/internal/protoids"
	"github.com/pocketrelay/pocketrelay/internal/session"
)

var (
	tagTime = tagcodec.MustTag("TIME")
	tagMotd = tagcodec.MustTag("MOTD")
)

func registerUtil(d *Deps, disp *session.Dispatcher) {
	disp.Register(protoids.ComponentUtil, protoids.CommandUtilPing, d.handlePing)
	disp.Register(protoids.ComponentUtil, protoids.CommandUtilPreAuth, d.handlePreAuth)
	disp.Register(protoids.ComponentUtil, protoids.CommandUtilPostAuth, d.handlePostAuth)
	disp.Register(protoids.ComponentUtil, protoids.CommandUtilFetchClientConfig, d.handleFetchClientConfig)
	disp.Register(protoids.ComponentUtil, protoids.CommandUtilSetClientMetrics, d.handleSetClientMetrics)
}

// handlePing just echoes a timestamp; the client uses the round trip
// to measure latency, not the payload.
func (d *Deps) handlePing(ctx context.Context, s *session.Session, body *tagcodec.Group) (*tagcodec.Group, protoids.ErrCode, error) {
	g := &tagcodec.Group{}
	g.Set(tagTime, tagcodec.VarInt(time.Now().Unix()))
	return g, protoids.ErrNone, nil
}

// handlePreAuth is the first request a client sends before any login
// path; it carries no session requirements and replies with nothing
// beyond success, mirroring the real service's behavior of using this
// step purely to confirm connectivity.
func (d *Deps) handlePreAuth(ctx context.Context, s *session.Session, body *tagcodec.Group) (*tagcodec.Group, protoids.ErrCode, error) {
	return &tagcodec.Group{}, protoids.ErrNone, nil
}

// handlePostAuth runs after a successful login and returns the
// rendered menu message (spec.md §6 MenuMessage template: "{v}"
// version, "{n}" player count, "{ip}" external host).
func (d *Deps) handlePostAuth(ctx context.Context, s *session.Session, body *tagcodec.Group) (*tagcodec.Group, protoids.ErrCode, error) {
	g := &tagcodec.Group{}
	g.Set(tagMotd, tagcodec.Str(d.renderMenuMessage()))
	return g, protoids.ErrNone, nil
}

func (d *Deps) renderMenuMessage() string {
	n := 0
	if d.Sessions != nil {
		n = d.Sessions.Count()
	}
	r := strings.NewReplacer(
		"{v}", d.Version,
		"{n}", strconv.Itoa(n),
		"{ip}", d.ExternalHost,
	)
	return r.Replace(d.MenuMessage)
}

// handleFetchClientConfig returns the requested client config block by
// id. The real service serves dozens of named config blocks (talk
// filters, ME3 localization tables, DLC entitlements); this serves no
// real config data: the localization table id ME3_LIVE_TLK_PC_enUS gets
// an empty map, and every other id gets a map holding one empty
// ME3_DATA entry, so the client doesn't hard-fail.
func (d *Deps) handleFetchClientConfig(ctx context.Context, s *session.Session, body *tagcodec.Group) (*tagcodec.Group, protoids.ErrCode, error) {
	idVal, _ := body.Get(tagcodec.MustTag("CFID"))
	id, _ := idVal.(tagcodec.Str)

	g := &tagcodec.Group{}
	entries := tagcodec.Map{KeyType: tagcodec.TypeString, ValueType: tagcodec.TypeString}
	switch string(id) {
	case "ME3_LIVE_TLK_PC_enUS":
		// Localization table lookups are out of scope; the client falls
		// back to its bundled copy when this is empty.
	default:
		entries.Entries = append(entries.Entries, tagcodec.MapEntry{
			Key:   tagcodec.Str("ME3_DATA"),
			Value: tagcodec.Str(""),
		})
	}
	g.Set(tagcodec.MustTag("CONF"), entries)
	return g, protoids.ErrNone, nil
}

// handleSetClientMetrics accepts the client's periodic telemetry
// upload and discards it; nothing in this implementation consumes
// connection-quality telemetry.
func (d *Deps) handleSetClientMetrics(ctx context.Context, s *session.Session, body *tagcodec.Group) (*tagcodec.Group, protoids.ErrCode, error) {
	return nil, protoids.ErrNone, nil
}
