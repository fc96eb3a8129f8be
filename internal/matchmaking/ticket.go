package matchmaking

import (
	"time"

	"github.com/pocketrelay/pocketrelay/internal/session"
)

// Ticket is one pending matchmaking request (spec.md §3). Removed on
// match, explicit cancel, or session disconnect.
type Ticket struct {
	ID        uint64
	SessionID session.ID
	Rules     RuleSet
	CreatedAt time.Time
}
