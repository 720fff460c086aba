package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis"

	"github.com/loykin/graphbench/internal/bench"
)

// DefaultStream is the stream the server publishes query telemetry to.
const DefaultStream = "telemetry{falkor}"

// Entry is one stream entry.
type Entry struct {
	ID     string
	Values map[string]interface{}
}

// StreamReader reads entries after lastID, blocking up to block.
// An empty result with a nil error means nothing arrived.
type StreamReader interface {
	Read(ctx context.Context, lastID string, block time.Duration) ([]Entry, error)
}

// RedisReader reads a stream with XREAD.
type RedisReader struct {
	rdb    *redis.Client
	stream string
}

// NewRedisReader returns a reader of stream on rdb.
func NewRedisReader(rdb *redis.Client, stream string) *RedisReader {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisReader{rdb: rdb, stream: stream}
}

func (r *RedisReader) Read(ctx context.Context, lastID string, block time.Duration) ([]Entry, error) {
	res, err := r.rdb.WithContext(ctx).XRead(&redis.XReadArgs{
		Streams: []string{r.stream, lastID},
		Block:   block,
	}).Result()
	// redis signals an empty read by Nil
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: xread %s: %v", bench.ErrBackend, r.stream, err)
	}
	var out []Entry
	for _, s := range res {
		for _, m := range s.Messages {
			out = append(out, Entry{ID: m.ID, Values: m.Values})
		}
	}
	return out, nil
}
