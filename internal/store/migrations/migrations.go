// Package migrations embeds the goose SQL migration files for the
// accounts, galaxy_at_war, and leaderboard_samples tables.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
