package component

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketrelay/pocketrelay/internal/blaze/tagcodec"
	"github.com/pocketrelay/pocketrelay/internal/lobby"
	"github.com/pocketrelay/pocketrelay/internal/matchmaking"
	"github.com/pocketrelay/pocketrelay/internal/protoids"
	"github.com/pocketrelay/pocketrelay/internal/session"
	"github.com/pocketrelay/pocketrelay/internal/store"
)

// fakeStore is an in-memory store.Store double. Handler tests exercise
// real session.Manager/lobby.Manager/matchmaking.Engine collaborators;
// only the persistence edge is faked, since a real Postgres is covered
// separately in internal/store's own integration suite.
type fakeStore struct {
	accountsByEmail map[string]session.Account
	nextID          int64
	playerData      map[int64]map[string]string
	leaderboard     []store.LeaderboardSample
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accountsByEmail: make(map[string]session.Account),
		playerData:      make(map[int64]map[string]string),
	}
}

func (f *fakeStore) Authenticate(ctx context.Context, email, password string) (session.Account, error) {
	acc, ok := f.accountsByEmail[email]
	if !ok || password != "correct" {
		return session.Account{}, errors.New("auth failed")
	}
	return acc, nil
}

func (f *fakeStore) ImportFromOrigin(ctx context.Context, originID, displayName string) (session.Account, error) {
	for _, acc := range f.accountsByEmail {
		if acc.Email == "origin:"+originID {
			return acc, nil
		}
	}
	f.nextID++
	acc := session.Account{ID: f.nextID, Email: "origin:" + originID, DisplayName: displayName}
	f.accountsByEmail[acc.Email] = acc
	return acc, nil
}

func (f *fakeStore) LookupPlayerByEmail(ctx context.Context, email string) (*session.Account, error) {
	acc, ok := f.accountsByEmail[email]
	if !ok {
		return nil, nil
	}
	return &acc, nil
}

func (f *fakeStore) CreatePlayer(ctx context.Context, email, password, displayName string) (session.Account, error) {
	f.nextID++
	acc := session.Account{ID: f.nextID, Email: email, DisplayName: displayName}
	f.accountsByEmail[email] = acc
	return acc, nil
}

func (f *fakeStore) UpdatePlayerData(ctx context.Context, accountID int64, data map[string]string) error {
	if f.playerData[accountID] == nil {
		f.playerData[accountID] = make(map[string]string)
	}
	for k, v := range data {
		f.playerData[accountID][k] = v
	}
	return nil
}

func (f *fakeStore) LoadGalaxyAtWar(ctx context.Context, accountID int64) (store.GalaxyAtWar, error) {
	return store.GalaxyAtWar{AccountID: accountID}, nil
}

func (f *fakeStore) SaveGalaxyAtWar(ctx context.Context, gaw store.GalaxyAtWar) error {
	return nil
}

func (f *fakeStore) InsertLeaderboardSample(ctx context.Context, sample store.LeaderboardSample) error {
	f.leaderboard = append(f.leaderboard, sample)
	return nil
}

func (f *fakeStore) TopLeaderboard(ctx context.Context, kind string, limit int) ([]store.LeaderboardSample, error) {
	var out []store.LeaderboardSample
	for _, s := range f.leaderboard {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ store.Store = (*fakeStore)(nil)

func newTestDeps(t *testing.T) (*Deps, *session.Manager) {
	t.Helper()
	sessions := session.NewManager()
	lobbyMgr := lobby.NewManager(sessions, 4)
	mm := matchmaking.NewEngine(lobbyMgr, sessions, 0)
	return &Deps{
		Store:        newFakeStore(),
		Lobby:        lobbyMgr,
		Matchmaking:  mm,
		Sessions:     sessions,
		Version:      "1.0.0",
		MenuMessage:  "v{v} players={n} host={ip}",
		ExternalHost: "relay.example.com",
	}, sessions
}

func TestHandleLogin_SuccessAttachesAccountToSession(t *testing.T) {
	d, sessions := newTestDeps(t)
	fs := d.Store.(*fakeStore)
	fs.accountsByEmail["shepard@n7.com"] = session.Account{ID: 1, Email: "shepard@n7.com", DisplayName: "Shepard"}

	s := sessions.Create(nil, 8)
	body := &tagcodec.Group{}
	body.Set(tagMail, tagcodec.Str("shepard@n7.com"))
	body.Set(tagPass, tagcodec.Str("correct"))

	resp, code, err := d.handleLogin(context.Background(), s, body)
	require.NoError(t, err)
	assert.Equal(t, protoids.ErrNone, code)
	pidVal, _ := resp.Get(tagPID)
	assert.Equal(t, tagcodec.VarInt(1), pidVal)
	require.NotNil(t, s.Account())
	assert.Equal(t, "Shepard", s.Account().DisplayName)
}

func TestHandleLogin_WrongPasswordReturnsError(t *testing.T) {
	d, sessions := newTestDeps(t)
	fs := d.Store.(*fakeStore)
	fs.accountsByEmail["shepard@n7.com"] = session.Account{ID: 1, Email: "shepard@n7.com"}

	s := sessions.Create(nil, 8)
	body := &tagcodec.Group{}
	body.Set(tagMail, tagcodec.Str("shepard@n7.com"))
	body.Set(tagPass, tagcodec.Str("wrong"))

	_, _, err := d.handleLogin(context.Background(), s, body)
	assert.Error(t, err)
	assert.Nil(t, s.Account())
}

func TestHandleLoginPersona_RequiresPriorAuthentication(t *testing.T) {
	d, sessions := newTestDeps(t)
	s := sessions.Create(nil, 8)

	_, code, err := d.handleLoginPersona(context.Background(), s, &tagcodec.Group{})
	assert.Error(t, err)
	assert.Equal(t, protoids.ErrAuthRequired, code)
}

func TestHandleOriginLogin_NilRetrieverIsUpstreamUnavailable(t *testing.T) {
	d, sessions := newTestDeps(t)
	s := sessions.Create(nil, 8)

	_, code, err := d.handleOriginLogin(context.Background(), s, &tagcodec.Group{})
	assert.Error(t, err)
	assert.Equal(t, protoids.ErrUpstreamUnavailable, code)
}

func TestHandlePing_RepliesWithTimestamp(t *testing.T) {
	d, sessions := newTestDeps(t)
	s := sessions.Create(nil, 8)
	resp, code, err := d.handlePing(context.Background(), s, &tagcodec.Group{})
	require.NoError(t, err)
	assert.Equal(t, protoids.ErrNone, code)
	_, ok := resp.Get(tagTime)
	assert.True(t, ok)
}

func TestHandlePostAuth_RendersMenuMessageTemplate(t *testing.T) {
	d, sessions := newTestDeps(t)
	sessions.Create(nil, 8)
	s := sessions.Create(nil, 8)

	resp, code, err := d.handlePostAuth(context.Background(), s, &tagcodec.Group{})
	require.NoError(t, err)
	assert.Equal(t, protoids.ErrNone, code)
	motd, _ := resp.Get(tagMotd)
	assert.Equal(t, tagcodec.Str("v1.0.0 players=2 host=relay.example.com"), motd)
}

func TestHandleCreateGameThenJoinGame(t *testing.T) {
	d, sessions := newTestDeps(t)
	host := sessions.Create(nil, 8)
	peer := sessions.Create(nil, 8)

	createBody := &tagcodec.Group{}
	attrs := tagcodec.Map{KeyType: tagcodec.TypeString, ValueType: tagcodec.TypeString}
	attrs.Entries = append(attrs.Entries, tagcodec.MapEntry{Key: tagcodec.Str("map"), Value: tagcodec.Str("citadel")})
	createBody.Set(tagAttr, attrs)

	createResp, code, err := d.handleCreateGame(context.Background(), host, createBody)
	require.NoError(t, err)
	assert.Equal(t, protoids.ErrNone, code)
	gidVal, _ := createResp.Get(tagGID)
	gameID := uint64(gidVal.(tagcodec.VarInt))

	joinBody := &tagcodec.Group{}
	joinBody.Set(tagGID, tagcodec.VarInt(int64(gameID)))
	joinResp, code, err := d.handleJoinGame(context.Background(), peer, joinBody)
	require.NoError(t, err)
	assert.Equal(t, protoids.ErrNone, code)
	slotVal, _ := joinResp.Get(tagSlot)
	assert.Equal(t, tagcodec.VarInt(1), slotVal)
}

func TestHandleJoinGame_MissingGIDReturnsGameNotFound(t *testing.T) {
	d, sessions := newTestDeps(t)
	s := sessions.Create(nil, 8)
	_, code, err := d.handleJoinGame(context.Background(), s, &tagcodec.Group{})
	assert.Error(t, err)
	assert.Equal(t, protoids.ErrGameNotFound, code)
}

func TestHandleLeaveGame_AlsoCancelsMatchmakingTickets(t *testing.T) {
	d, sessions := newTestDeps(t)
	host := sessions.Create(nil, 8)
	_, err := d.Lobby.CreateGame(context.Background(), host.ID, nil, 0)
	require.NoError(t, err)
	d.Matchmaking.CreateTicket(host.ID, nil)

	_, code, err := d.handleLeaveGame(context.Background(), host, &tagcodec.Group{})
	require.NoError(t, err)
	assert.Equal(t, protoids.ErrNone, code)
	assert.Nil(t, host.Membership())

	// A nil RuleSet matches any game, so a surviving ticket would seat
	// host in this new game on the next tick.
	other := sessions.Create(nil, 8)
	_, err = d.Lobby.CreateGame(context.Background(), other.ID, nil, 0)
	require.NoError(t, err)
	d.Matchmaking.Tick(context.Background())
	assert.Nil(t, host.Membership())
}

func TestHandleListGames_ReturnsCreatedGame(t *testing.T) {
	d, sessions := newTestDeps(t)
	host := sessions.Create(nil, 8)
	attrs := tagcodec.Map{KeyType: tagcodec.TypeString, ValueType: tagcodec.TypeString}
	attrs.Entries = append(attrs.Entries, tagcodec.MapEntry{Key: tagcodec.Str("map"), Value: tagcodec.Str("noveria")})
	createBody := &tagcodec.Group{}
	createBody.Set(tagAttr, attrs)
	_, _, err := d.handleCreateGame(context.Background(), host, createBody)
	require.NoError(t, err)

	resp, code, err := d.handleListGames(context.Background(), host, &tagcodec.Group{})
	require.NoError(t, err)
	assert.Equal(t, protoids.ErrNone, code)
	listVal, ok := resp.Get(tagGLST)
	require.True(t, ok)
	list := listVal.(tagcodec.List)
	assert.Len(t, list.Elems, 1)
}

func TestHandleMatchmakingRequest_ReturnsTicketID(t *testing.T) {
	d, sessions := newTestDeps(t)
	s := sessions.Create(nil, 8)
	resp, code, err := d.handleMatchmakingRequest(context.Background(), s, &tagcodec.Group{})
	require.NoError(t, err)
	assert.Equal(t, protoids.ErrNone, code)
	mmid, ok := resp.Get(tagMMID)
	require.True(t, ok)
	assert.NotEqual(t, tagcodec.VarInt(0), mmid)
}

func TestHandleGetStats_ReturnsLeaderboardEntries(t *testing.T) {
	d, sessions := newTestDeps(t)
	fs := d.Store.(*fakeStore)
	fs.leaderboard = append(fs.leaderboard,
		store.LeaderboardSample{AccountID: 1, Kind: "n7-score", Value: 500},
		store.LeaderboardSample{AccountID: 2, Kind: "n7-score", Value: 300},
	)
	s := sessions.Create(nil, 8)

	body := &tagcodec.Group{}
	body.Set(tagCat, tagcodec.Str("n7-score"))
	resp, code, err := d.handleGetStats(context.Background(), s, body)
	require.NoError(t, err)
	assert.Equal(t, protoids.ErrNone, code)
	listVal, ok := resp.Get(tagSLST)
	require.True(t, ok)
	list := listVal.(tagcodec.List)
	assert.Len(t, list.Elems, 2)
}

func TestHandleGetStats_MissingCategoryIsProtocolError(t *testing.T) {
	d, sessions := newTestDeps(t)
	s := sessions.Create(nil, 8)
	_, code, err := d.handleGetStats(context.Background(), s, &tagcodec.Group{})
	assert.Error(t, err)
	assert.Equal(t, protoids.ErrSystem, code)
}

func TestHandleSendMessage_DeliversToTargetOutbound(t *testing.T) {
	d, sessions := newTestDeps(t)
	sender := sessions.Create(nil, 8)
	target := sessions.Create(nil, 8)

	body := &tagcodec.Group{}
	body.Set(tagTarg, tagcodec.VarInt(int64(target.ID)))
	body.Set(tagTxt, tagcodec.Str("fireteam ready?"))

	_, code, err := d.handleSendMessage(context.Background(), sender, body)
	require.NoError(t, err)
	assert.Equal(t, protoids.ErrNone, code)

	select {
	case pkt := <-target.Outbound:
		assert.Equal(t, uint16(protoids.ComponentMessaging), pkt.Component)
	default:
		t.Fatal("expected a queued outbound packet for target session")
	}
}

func TestHandleSendMessage_UnknownTargetIsInvalidSession(t *testing.T) {
	d, sessions := newTestDeps(t)
	sender := sessions.Create(nil, 8)

	body := &tagcodec.Group{}
	body.Set(tagTarg, tagcodec.VarInt(999999))
	body.Set(tagTxt, tagcodec.Str("hello"))

	_, code, err := d.handleSendMessage(context.Background(), sender, body)
	assert.Error(t, err)
	assert.Equal(t, protoids.ErrInvalidSession, code)
}

func TestHandleUpdateUserSession_NotifiesSubscribers(t *testing.T) {
	d, sessions := newTestDeps(t)
	watched := sessions.Create(nil, 8)
	watcher := sessions.Create(nil, 8)
	sessions.Subscribe(watcher.ID, watched.ID)

	body := &tagcodec.Group{}
	addr := &tagcodec.Group{}
	addr.Set(tagIntA, tagcodec.Str("10.0.0.5"))
	addr.Set(tagExtA, tagcodec.Str("203.0.113.9"))
	body.Set(tagAddr, addr)
	body.Set(tagNAT, tagcodec.VarInt(2))

	_, code, err := d.handleUpdateUserSession(context.Background(), watched, body)
	require.NoError(t, err)
	assert.Equal(t, protoids.ErrNone, code)
	assert.Equal(t, "10.0.0.5", watched.NetInfo().InternalAddr)

	select {
	case pkt := <-watcher.Outbound:
		assert.Equal(t, uint16(protoids.ComponentUserSessions), pkt.Component)
	default:
		t.Fatal("expected watcher to receive an update notification")
	}
}

func TestParseRuleSet_MapsEveryOperatorFromTheWire(t *testing.T) {
	ruleMap := tagcodec.Map{KeyType: tagcodec.TypeString, ValueType: tagcodec.TypeString, Entries: []tagcodec.MapEntry{
		{Key: tagcodec.Str("map"), Value: tagcodec.Str("ME3_ONS_Firebase")},
		{Key: tagcodec.Str("difficulty"), Value: tagcodec.Str("EQ:hardcore")},
		{Key: tagcodec.Str("mode"), Value: tagcodec.Str("IN:coop, versus")},
		{Key: tagcodec.Str("level"), Value: tagcodec.Str("MIN:10")},
		{Key: tagcodec.Str("ping"), Value: tagcodec.Str("MAX:150")},
		{Key: tagcodec.Str("dlc"), Value: tagcodec.Str("DLC:ff")},
	}}
	body := &tagcodec.Group{}
	body.Set(tagRULE, ruleMap)

	rules := parseRuleSet(body)
	require.Len(t, rules, 6)

	byKey := make(map[string]matchmaking.Rule, len(rules))
	for _, r := range rules {
		byKey[r.Key] = r
	}

	assert.Equal(t, matchmaking.Rule{Key: "map", Op: matchmaking.OpEqual, Value: "ME3_ONS_Firebase"}, byKey["map"])
	assert.Equal(t, matchmaking.Rule{Key: "difficulty", Op: matchmaking.OpEqual, Value: "hardcore"}, byKey["difficulty"])
	assert.Equal(t, matchmaking.Rule{Key: "mode", Op: matchmaking.OpInSet, Set: []string{"coop", "versus"}}, byKey["mode"])
	assert.Equal(t, matchmaking.Rule{Key: "level", Op: matchmaking.OpMin, Number: 10}, byKey["level"])
	assert.Equal(t, matchmaking.Rule{Key: "ping", Op: matchmaking.OpMax, Number: 150}, byKey["ping"])
	assert.Equal(t, matchmaking.Rule{Key: "dlc", Op: matchmaking.OpCustomDLCMask, Mask: 0xff}, byKey["dlc"])
}
