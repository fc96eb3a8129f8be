package component

import (
	"context"

	"github.com/pocketrelay/pocketrelay/internal/blaze/tagcodec"
	"github.com/pocketrelay/pocketrelay/internal/protoerr"
	"github.com/pocketrelay/pocketrelay/internal/protoids"
	"github.com/pocketrelay/pocketrelay/internal/session"
)

var (
	tagCat = tagcodec.MustTag("CAT ")
	tagLimi = tagcodec.MustTag("LIMI")
	tagSLST = tagcodec.MustTag("SLST")
	tagVal = tagcodec.MustTag("VAL ")
)

const defaultLeaderboardLimit = 50

func registerStats(d *Deps, disp *session.Dispatcher) {
	disp.Register(protoids.ComponentStats, protoids.CommandStatsGetStats, d.handleGetStats)
}

// handleGetStats returns the top leaderboard entries for the
// requested stat category (spec.md §9 SUPPLEMENTED FEATURES: the
// distillation dropped leaderboard read access even though the store
// persists the samples it needs).
func (d *Deps) handleGetStats(ctx context.Context, s *session.Session, body *tagcodec.Group) (*tagcodec.Group, protoids.ErrCode, error) {
	catVal, _ := body.Get(tagCat)
	kind, ok := catVal.(tagcodec.Str)
	if !ok {
		return nil, protoids.ErrSystem, protoerr.New(protoerr.Protocol, protoids.ErrSystem, "get stats request missing CAT field")
	}

	limit := defaultLeaderboardLimit
	if v, ok := body.Get(tagLimi); ok {
		if n, ok := v.(tagcodec.VarInt); ok && n > 0 {
			limit = int(n)
		}
	}

	samples, err := d.Store.TopLeaderboard(ctx, string(kind), limit)
	if err != nil {
		return nil, protoids.ErrSystem, protoerr.Wrap(protoerr.Upstream, protoids.ErrSystem, "loading leaderboard", err)
	}

	list := tagcodec.List{ElemType: tagcodec.TypeGroup}
	for _, sample := range samples {
		entry := &tagcodec.Group{}
		entry.Set(tagPID, tagcodec.VarInt(sample.AccountID))
		entry.Set(tagVal, tagcodec.VarInt(sample.Value))
		list.Elems = append(list.Elems, entry)
	}

	g := &tagcodec.Group{}
	g.Set(tagSLST, list)
	return g, protoids.ErrNone, nil
}
