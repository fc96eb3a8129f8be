// Package component implements the Blaze request handlers registered
// into the Session Engine's dispatch table: authentication, util
// (pre/post-auth, client config), user sessions, game manager,
// matchmaking requests, stats, and messaging. Each handler has the
// session.Handler shape and is grounded on the same request/response
// idiom the teacher's internal/gameserver handler_*.go files use: parse
// the request body, mutate through a collaborator, build and return a
// reply body.
package component

import (
	"github.com/pocketrelay/pocketrelay/internal/lobby"
	"github.com/pocketrelay/pocketrelay/internal/matchmaking"
	"github.com/pocketrelay/pocketrelay/internal/retriever"
	"github.com/pocketrelay/pocketrelay/internal/session"
	"github.com/pocketrelay/pocketrelay/internal/store"
)

// Deps bundles every collaborator a handler needs. Retriever is nil
// when the upstream retriever is disabled (config.Retriever == false);
// handlers that need it degrade to protoerr.UpstreamUnavailable.
type Deps struct {
	Store       store.Store
	Retriever   *retriever.Retriever
	Lobby       *lobby.Manager
	Matchmaking *matchmaking.Engine
	Sessions    *session.Manager

	// Version and MenuMessage feed the post-auth menu message template
	// (spec.md §6: "{v}", "{n}", "{ip}").
	Version      string
	MenuMessage  string
	ExternalHost string

	// FetchPlayerData mirrors config.OriginFetchData: whether each
	// Origin login imports the upstream's persistent data blob.
	FetchPlayerData bool
}

// RegisterAll wires every handler in this package into disp.
func RegisterAll(d *Deps, disp *session.Dispatcher) {
	registerAuth(d, disp)
	registerUtil(d, disp)
	registerUserSessions(d, disp)
	registerGameManager(d, disp)
	registerStats(d, disp)
	registerMessaging(d, disp)
}
