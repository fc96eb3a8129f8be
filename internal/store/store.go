// Package store is Pocket Relay's persistent-store collaborator
// (spec.md §6: "consumed, not specified here"). It defines the Store
// interface the Session Engine and component handlers consume, and
// ships one concrete implementation, Postgres, built the way the
// teacher's internal/db package is built: a held *pgxpool.Pool,
// hand-written SQL, %w-wrapped errors, and a nil-nil convention for
// "not found" instead of a sentinel error.
package store

import (
	"context"
	"time"

	"github.com/pocketrelay/pocketrelay/internal/session"
)

// GalaxyAtWar is the per-account persistent score aggregate. The decay
// *calculation* that ages these scores over time is out of scope
// (spec.md §1 Non-goals); this package only persists and loads the
// values the decay job reads and writes.
type GalaxyAtWar struct {
	AccountID int64
	Earth     int32
	Citadel   int32
	Salarian  int32
	Asari     int32
	Turian    int32
	LastDecay time.Time
}

// LeaderboardSample is one recorded leaderboard data point.
type LeaderboardSample struct {
	AccountID  int64
	Kind       string
	Value      int64
	RecordedAt time.Time
}

// Store is the full persistent-store interface named by spec.md §6:
// lookupPlayerByEmail, createPlayer, updatePlayerData, loadGalaxyAtWar,
// saveGalaxyAtWar, insertLeaderboardSample, plus the two session
// package login-path dependencies (Authenticate, ImportFromOrigin)
// so a single Store value also satisfies session.AccountStore, which
// the login handlers in internal/component call through Deps.Store.
type Store interface {
	session.AccountStore

	LookupPlayerByEmail(ctx context.Context, email string) (*session.Account, error)
	CreatePlayer(ctx context.Context, email, password, displayName string) (session.Account, error)
	UpdatePlayerData(ctx context.Context, accountID int64, data map[string]string) error
	LoadGalaxyAtWar(ctx context.Context, accountID int64) (GalaxyAtWar, error)
	SaveGalaxyAtWar(ctx context.Context, gaw GalaxyAtWar) error
	InsertLeaderboardSample(ctx context.Context, sample LeaderboardSample) error
	TopLeaderboard(ctx context.Context, kind string, limit int) ([]LeaderboardSample, error)
}
