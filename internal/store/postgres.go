package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pocketrelay/pocketrelay/internal/protoerr"
	"github.com/pocketrelay/pocketrelay/internal/session"
)

// Postgres implements Store on top of a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL and returns a Postgres handle.
func New(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: pinging database: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close closes the underlying connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// Pool returns the underlying pgx pool, for RunMigrations.
func (p *Postgres) Pool() *pgxpool.Pool {
	return p.pool
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// LookupPlayerByEmail retrieves an account by email. Returns nil, nil
// if no account exists, matching the teacher's GetAccount convention.
func (p *Postgres) LookupPlayerByEmail(ctx context.Context, email string) (*session.Account, error) {
	email = strings.ToLower(email)
	var acc session.Account
	err := p.pool.QueryRow(ctx,
		`SELECT id, email, display_name FROM accounts WHERE email = $1`, email,
	).Scan(&acc.ID, &acc.Email, &acc.DisplayName)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: querying account %q: %w", email, err)
	}
	return &acc, nil
}

// CreatePlayer inserts a new account with an Argon2id password hash.
func (p *Postgres) CreatePlayer(ctx context.Context, email, password, displayName string) (session.Account, error) {
	email = strings.ToLower(email)
	hash, err := HashPassword(password)
	if err != nil {
		return session.Account{}, fmt.Errorf("store: hashing password for %q: %w", email, err)
	}
	var id int64
	err = p.pool.QueryRow(ctx,
		`INSERT INTO accounts (email, password_hash, display_name, created_at)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		email, hash, displayName, time.Now(),
	).Scan(&id)
	if err != nil {
		return session.Account{}, fmt.Errorf("store: creating account %q: %w", email, err)
	}
	return session.Account{ID: id, Email: email, DisplayName: displayName}, nil
}

// Authenticate verifies email/password against the account store and
// returns the matching Account, implementing session.AccountStore.
func (p *Postgres) Authenticate(ctx context.Context, email, password string) (session.Account, error) {
	email = strings.ToLower(email)
	var acc session.Account
	var hash string
	err := p.pool.QueryRow(ctx,
		`SELECT id, email, display_name, password_hash FROM accounts WHERE email = $1`, email,
	).Scan(&acc.ID, &acc.Email, &acc.DisplayName, &hash)
	if err != nil {
		if isNoRows(err) {
			return session.Account{}, protoerr.AuthRequired("unknown account")
		}
		return session.Account{}, fmt.Errorf("store: querying account %q: %w", email, err)
	}
	ok, err := VerifyPassword(password, hash)
	if err != nil {
		return session.Account{}, fmt.Errorf("store: verifying password for %q: %w", email, err)
	}
	if !ok {
		return session.Account{}, protoerr.AuthRequired("incorrect password")
	}
	return acc, nil
}

// ImportFromOrigin finds or creates the account behind an Origin SSO
// identity. A first-time Origin login auto-creates a passwordless
// account (spec.md §4.5: "first Origin login MAY trigger a one-shot
// import of player data").
func (p *Postgres) ImportFromOrigin(ctx context.Context, originID, displayName string) (session.Account, error) {
	var acc session.Account
	err := p.pool.QueryRow(ctx,
		`SELECT id, email, display_name FROM accounts WHERE origin_id = $1`, originID,
	).Scan(&acc.ID, &acc.Email, &acc.DisplayName)
	if err == nil {
		return acc, nil
	}
	if !isNoRows(err) {
		return session.Account{}, fmt.Errorf("store: querying origin account %q: %w", originID, err)
	}

	syntheticEmail := fmt.Sprintf("origin:%s", originID)
	var id int64
	err = p.pool.QueryRow(ctx,
		`INSERT INTO accounts (email, password_hash, display_name, origin_id, created_at)
		 VALUES ($1, '', $2, $3, $4) RETURNING id`,
		syntheticEmail, displayName, originID, time.Now(),
	).Scan(&id)
	if err != nil {
		return session.Account{}, fmt.Errorf("store: creating origin account %q: %w", originID, err)
	}
	return session.Account{ID: id, Email: syntheticEmail, DisplayName: displayName}, nil
}

// UpdatePlayerData merges data into an account's freeform persistent
// blob (inventory/profile sync from the client).
func (p *Postgres) UpdatePlayerData(ctx context.Context, accountID int64, data map[string]string) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE accounts SET player_data = player_data || $2, updated_at = $3 WHERE id = $1`,
		accountID, data, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("store: updating player data for account %d: %w", accountID, err)
	}
	return nil
}

// LoadGalaxyAtWar loads an account's Galaxy at War scores, returning
// the zero value if none exist yet.
func (p *Postgres) LoadGalaxyAtWar(ctx context.Context, accountID int64) (GalaxyAtWar, error) {
	gaw := GalaxyAtWar{AccountID: accountID}
	err := p.pool.QueryRow(ctx,
		`SELECT earth, citadel, salarian, asari, turian, last_decay
		 FROM galaxy_at_war WHERE account_id = $1`, accountID,
	).Scan(&gaw.Earth, &gaw.Citadel, &gaw.Salarian, &gaw.Asari, &gaw.Turian, &gaw.LastDecay)
	if err != nil {
		if isNoRows(err) {
			return gaw, nil
		}
		return gaw, fmt.Errorf("store: loading galaxy at war for account %d: %w", accountID, err)
	}
	return gaw, nil
}

// SaveGalaxyAtWar upserts an account's Galaxy at War scores.
func (p *Postgres) SaveGalaxyAtWar(ctx context.Context, gaw GalaxyAtWar) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO galaxy_at_war (account_id, earth, citadel, salarian, asari, turian, last_decay)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (account_id) DO UPDATE SET
		   earth = excluded.earth, citadel = excluded.citadel, salarian = excluded.salarian,
		   asari = excluded.asari, turian = excluded.turian, last_decay = excluded.last_decay`,
		gaw.AccountID, gaw.Earth, gaw.Citadel, gaw.Salarian, gaw.Asari, gaw.Turian, gaw.LastDecay,
	)
	if err != nil {
		return fmt.Errorf("store: saving galaxy at war for account %d: %w", gaw.AccountID, err)
	}
	return nil
}

// InsertLeaderboardSample records one leaderboard data point.
func (p *Postgres) InsertLeaderboardSample(ctx context.Context, sample LeaderboardSample) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO leaderboard_samples (account_id, kind, value, recorded_at) VALUES ($1, $2, $3, $4)`,
		sample.AccountID, sample.Kind, sample.Value, sample.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("store: inserting leaderboard sample for account %d: %w", sample.AccountID, err)
	}
	return nil
}

// TopLeaderboard returns the highest-value samples of kind, one per
// account (each account's most recent sample), descending by value.
func (p *Postgres) TopLeaderboard(ctx context.Context, kind string, limit int) ([]LeaderboardSample, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT DISTINCT ON (account_id) account_id, kind, value, recorded_at
		 FROM leaderboard_samples WHERE kind = $1
		 ORDER BY account_id, recorded_at DESC`,
		kind,
	)
	if err != nil {
		return nil, fmt.Errorf("store: querying leaderboard %q: %w", kind, err)
	}
	defer rows.Close()

	var samples []LeaderboardSample
	for rows.Next() {
		var s LeaderboardSample
		if err := rows.Scan(&s.AccountID, &s.Kind, &s.Value, &s.RecordedAt); err != nil {
			return nil, fmt.Errorf("store: scanning leaderboard %q row: %w", kind, err)
		}
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating leaderboard %q: %w", kind, err)
	}

	sort.Slice(samples, func(i, j int) bool { return samples[i].Value > samples[j].Value })
	if limit > 0 && len(samples) > limit {
		samples = samples[:limit]
	}
	return samples, nil
}
