package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/relaypoint/crm-gateway/pkg/client"
	"github.com/relaypoint/crm-gateway/pkg/crm"
)

// Remote is the slice of the platform surface the cache orchestrates.
// *crm.Collection satisfies it.
type Remote interface {
	ListAll(ctx context.Context) ([]crm.Record, error)
	Get(ctx context.Context, id string) (crm.Record, error)
	Delete(ctx context.Context, id string) error
}

// Config holds cache configuration.
type Config struct {
	// TTL is the freshness bound for snapshots. Defaults to DefaultTTL.
	TTL time.Duration
}

// Cache is the owner-scoped read-through cache for one entity kind.
type Cache struct {
	store  Store
	remote Remote
	ttl    time.Duration
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a cache over a store and the remote collection it mirrors.
func New(store Store, remote Remote, cfg Config) *Cache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		store:  store,
		remote: remote,
		ttl:    ttl,
		logger: log.With().Str("component", "crm-cache").Logger(),
		now:    time.Now,
	}
}

// IsFresh reports whether the owner's most recent sync is within TTL.
// An owner with no cached entries is never fresh.
func (c *Cache) IsFresh(ctx context.Context, ownerID string) (bool, error) {
	entries, err := c.store.List(ctx, ownerID)
	if err != nil {
		return false, err
	}
	return c.isFresh(entries), nil
}

func (c *Cache) isFresh(entries []Entry) bool {
	now := c.now()
	for i := range entries {
		if entries[i].IsFresh(c.ttl, now) {
			return true
		}
	}
	return false
}

// ListAll returns the owner's full collection. A fresh snapshot is served
// directly; a stale one triggers a remote refresh whose result replaces
// the snapshot wholesale. When the refresh fails with a gateway error the
// last-known snapshot is served instead of propagating, and servedStale
// reports that degradation to callers that need to distinguish it.
func (c *Cache) ListAll(ctx context.Context, ownerID string) (records []crm.Record, servedStale bool, err error) {
	entries, err := c.store.List(ctx, ownerID)
	if err != nil {
		return nil, false, err
	}

	if c.isFresh(entries) {
		return payloads(entries), false, nil
	}

	cacheRefreshes.Inc()
	fetched, err := c.remote.ListAll(ctx)
	if err != nil {
		var apiErr *client.APIError
		if !errors.As(err, &apiErr) {
			return nil, false, err
		}

		cacheStaleServes.Inc()
		c.logger.Warn().
			Err(err).
			Str("owner_id", ownerID).
			Int("cached", len(entries)).
			Msg("Remote refresh failed - serving stale snapshot")
		return payloads(entries), true, nil
	}

	synced := c.toEntries(ownerID, fetched)
	if err := c.store.Replace(ctx, ownerID, synced); err != nil {
		return nil, false, fmt.Errorf("replace snapshot: %w", err)
	}

	c.logger.Debug().
		Str("owner_id", ownerID).
		Int("records", len(fetched)).
		Msg("Snapshot refreshed")

	return fetched, false, nil
}

// GetOne returns one record by remote id. The cache is consulted first
// regardless of freshness; on a miss the record is fetched remotely and
// cached before returning.
func (c *Cache) GetOne(ctx context.Context, ownerID, remoteID string) (crm.Record, error) {
	entry, err := c.store.Get(ctx, ownerID, remoteID)
	if err == nil {
		cacheHits.Inc()
		return entry.Payload, nil
	}
	if !errors.Is(err, ErrEntryMiss) {
		return crm.Record{}, err
	}

	cacheMisses.Inc()
	record, err := c.remote.Get(ctx, remoteID)
	if err != nil {
		return crm.Record{}, err
	}
	if err := c.UpsertOne(ctx, ownerID, record); err != nil {
		return crm.Record{}, err
	}
	return record, nil
}

// UpsertOne caches a single record, replacing any prior entry wholesale.
func (c *Cache) UpsertOne(ctx context.Context, ownerID string, record crm.Record) error {
	return c.store.Upsert(ctx, Entry{
		OwnerID:      ownerID,
		RemoteID:     record.ID,
		Payload:      record,
		LastSyncedAt: c.now(),
	})
}

// UpsertBulk caches records, replacing prior entries wholesale. Entries
// not mentioned are left alone; use ListAll's refresh for an
// authoritative snapshot.
func (c *Cache) UpsertBulk(ctx context.Context, ownerID string, records []crm.Record) error {
	if len(records) == 0 {
		return nil
	}
	return c.store.Upsert(ctx, c.toEntries(ownerID, records)...)
}

// DeleteOne deletes the record remotely, then removes the cache row. A
// failed remote delete leaves the cache untouched so local state never
// claims something was removed when it was not.
func (c *Cache) DeleteOne(ctx context.Context, ownerID, remoteID string) error {
	if err := c.remote.Delete(ctx, remoteID); err != nil {
		return err
	}
	return c.store.Delete(ctx, ownerID, remoteID)
}

func (c *Cache) toEntries(ownerID string, records []crm.Record) []Entry {
	now := c.now()
	entries := make([]Entry, len(records))
	for i, record := range records {
		entries[i] = Entry{
			OwnerID:      ownerID,
			RemoteID:     record.ID,
			Payload:      record,
			LastSyncedAt: now,
		}
	}
	return entries
}

func payloads(entries []Entry) []crm.Record {
	records := make([]crm.Record, len(entries))
	for i := range entries {
		records[i] = entries[i].Payload
	}
	return records
}
