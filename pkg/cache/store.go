package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// ErrEntryMiss indicates the requested entry is not cached.
var ErrEntryMiss = errors.New("cache entry not found")

// Store persists cache entries keyed by (owner, remote id). The storage
// engine is an external collaborator behind this interface.
type Store interface {
	// List returns every entry for an owner, ordered by remote id.
	List(ctx context.Context, ownerID string) ([]Entry, error)

	// Get returns one entry, or ErrEntryMiss.
	Get(ctx context.Context, ownerID, remoteID string) (*Entry, error)

	// Upsert writes entries, replacing any existing rows wholesale.
	Upsert(ctx context.Context, entries ...Entry) error

	// Replace atomically swaps an owner's whole snapshot for entries.
	Replace(ctx context.Context, ownerID string, entries []Entry) error

	// Delete removes one entry. Deleting a missing entry is not an error.
	Delete(ctx context.Context, ownerID, remoteID string) error
}

// RedisStore keeps each owner's snapshot in one redis hash,
// key "crm:cache:{kind}:{owner}", field = remote id, value = entry JSON.
type RedisStore struct {
	redis *redis.Client
	kind  string
}

// NewRedisStore creates a redis-backed store for one entity kind.
func NewRedisStore(redisClient *redis.Client, kind string) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{
		redis: redisClient,
		kind:  kind,
	}
}

func (s *RedisStore) key(ownerID string) string {
	return "crm:cache:" + s.kind + ":" + ownerID
}

// List implements Store.
func (s *RedisStore) List(ctx context.Context, ownerID string) ([]Entry, error) {
	raw, err := s.redis.HGetAll(ctx, s.key(ownerID)).Result()
	if err != nil {
		storeErrors.WithLabelValues("list").Inc()
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}

	entries := make([]Entry, 0, len(raw))
	for field, data := range raw {
		var entry Entry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			storeErrors.WithLabelValues("list").Inc()
			return nil, fmt.Errorf("decode entry %s: %w", field, err)
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].RemoteID < entries[j].RemoteID
	})
	return entries, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, ownerID, remoteID string) (*Entry, error) {
	data, err := s.redis.HGet(ctx, s.key(ownerID), remoteID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrEntryMiss
		}
		storeErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis hget: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		storeErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("decode entry %s: %w", remoteID, err)
	}
	return &entry, nil
}

// Upsert implements Store. Each entry is one atomic hash-field write;
// concurrent upserts to the same key are last-write-wins, never
// interleaved.
func (s *RedisStore) Upsert(ctx context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}

	pipe := s.redis.Pipeline()
	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal entry %s: %w", entry.RemoteID, err)
		}
		pipe.HSet(ctx, s.key(entry.OwnerID), entry.RemoteID, data)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		storeErrors.WithLabelValues("upsert").Inc()
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

// Replace implements Store. The delete and rewrite run in one pipeline
// so a refresh drops records the remote no longer has.
func (s *RedisStore) Replace(ctx context.Context, ownerID string, entries []Entry) error {
	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, s.key(ownerID))
	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal entry %s: %w", entry.RemoteID, err)
		}
		pipe.HSet(ctx, s.key(ownerID), entry.RemoteID, data)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		storeErrors.WithLabelValues("replace").Inc()
		return fmt.Errorf("redis replace: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, ownerID, remoteID string) error {
	if err := s.redis.HDel(ctx, s.key(ownerID), remoteID).Err(); err != nil {
		storeErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis hdel: %w", err)
	}
	return nil
}
