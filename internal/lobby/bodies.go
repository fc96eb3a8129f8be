package lobby

import (
	"github.com/pocketrelay/pocketrelay/internal/blaze/tagcodec"
	"github.com/pocketrelay/pocketrelay/internal/session"
)

func playerJoiningBody(gameID uint64, slot int, s session.ID) *tagcodec.Group {
	g := &tagcodec.Group{}
	g.Set(tagGID, tagcodec.VarInt(int64(gameID)))
	g.Set(tagSlot, tagcodec.VarInt(int64(slot)))
	g.Set(tagPID, tagcodec.VarInt(int64(s)))
	return g
}

func removePlayerBody(gameID uint64, slot int, s session.ID) *tagcodec.Group {
	g := &tagcodec.Group{}
	g.Set(tagGID, tagcodec.VarInt(int64(gameID)))
	g.Set(tagSlot, tagcodec.VarInt(int64(slot)))
	g.Set(tagPID, tagcodec.VarInt(int64(s)))
	return g
}

func hostMigrationBody(gameID uint64) *tagcodec.Group {
	g := &tagcodec.Group{}
	g.Set(tagGID, tagcodec.VarInt(int64(gameID)))
	return g
}

func hostMigrationFinishedBody(gameID uint64, newHost session.ID) *tagcodec.Group {
	g := &tagcodec.Group{}
	g.Set(tagGID, tagcodec.VarInt(int64(gameID)))
	g.Set(tagHost, tagcodec.VarInt(int64(newHost)))
	return g
}

func attributesBody(gameID uint64, diff map[string]string) *tagcodec.Group {
	g := &tagcodec.Group{}
	g.Set(tagGID, tagcodec.VarInt(int64(gameID)))
	attr := tagcodec.Map{KeyType: tagcodec.TypeString, ValueType: tagcodec.TypeString}
	for k, v := range diff {
		attr.Entries = append(attr.Entries, tagcodec.MapEntry{Key: tagcodec.Str(k), Value: tagcodec.Str(v)})
	}
	g.Set(tagcodec.MustTag("ATTR"), attr)
	return g
}

func stateBody(gameID uint64, state State) *tagcodec.Group {
	g := &tagcodec.Group{}
	g.Set(tagGID, tagcodec.VarInt(int64(gameID)))
	g.Set(tagStat, tagcodec.VarInt(int64(state)))
	return g
}
