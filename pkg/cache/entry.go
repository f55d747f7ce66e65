// Package cache provides an owner-scoped, freshness-bounded snapshot
// cache of remote CRM records with a stale-on-error read policy.
package cache

import (
	"time"

	"github.com/relaypoint/crm-gateway/pkg/crm"
)

// DefaultTTL is the freshness bound for cached snapshots. Entries are
// never proactively expired; staleness is detected lazily at read time.
const DefaultTTL = 300 * time.Second

// Entry is one cached record snapshot, unique per (owner, remote id).
// Entries are replaced wholesale on every successful fetch or write,
// never partially mutated.
type Entry struct {
	OwnerID      string     `json:"owner_id"`
	RemoteID     string     `json:"remote_id"`
	Payload      crm.Record `json:"payload"`
	LastSyncedAt time.Time  `json:"last_synced_at"`
}

// IsFresh reports whether the entry was synced within ttl of now.
func (e *Entry) IsFresh(ttl time.Duration, now time.Time) bool {
	return now.Sub(e.LastSyncedAt) <= ttl
}

// Age returns how long ago the entry was synced.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.LastSyncedAt)
}
