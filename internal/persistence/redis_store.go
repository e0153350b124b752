package persistence

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/arbor/pkg/api"
)

// DefaultRedisPrefix namespaces the keys of RedisEventStore.
const DefaultRedisPrefix = "arbor:"

// RedisEventStore is an EventStore backed by Redis.
// It uses a simple key structure:
//
//	<prefix>run:<id>   => LIST of JSON-encoded events, in append order
//	<prefix>runs       => ZSET of run ids scored by first event time
type RedisEventStore struct {
	client *redis.Client
	prefix string
}

var _ EventStore = (*RedisEventStore)(nil)

// NewRedisEventStore creates a RedisEventStore. An empty prefix uses
// DefaultRedisPrefix.
func NewRedisEventStore(client *redis.Client, prefix string) *RedisEventStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisEventStore{client: client, prefix: prefix}
}

func (s *RedisEventStore) keyRun(id string) string {
	return s.prefix + "run:" + id
}

func (s *RedisEventStore) keyRuns() string {
	return s.prefix + "runs"
}

func (s *RedisEventStore) AppendEvent(ctx context.Context, ev api.Event) error {
	ev = stamp(ev)
	data, err := EncodeEvent(ev)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.keyRun(ev.RunID), data)
	pipe.ZAddNX(ctx, s.keyRuns(), redis.Z{Score: float64(ev.At.UnixNano()), Member: ev.RunID})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisEventStore) ListEvents(ctx context.Context, runID string) ([]api.Event, error) {
	raw, err := s.client.LRange(ctx, s.keyRun(runID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]api.Event, 0, len(raw))
	for _, r := range raw {
		ev, err := DecodeEvent([]byte(r))
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *RedisEventStore) ListRuns(ctx context.Context) ([]string, error) {
	return s.client.ZRange(ctx, s.keyRuns(), 0, -1).Result()
}

// Expire sets a TTL on the history of one run.
func (s *RedisEventStore) Expire(ctx context.Context, runID string, ttl time.Duration) error {
	return s.client.Expire(ctx, s.keyRun(runID), ttl).Err()
}
