package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis"

	"github.com/loykin/graphbench/internal/bench"
)

// AdminTimeout bounds administrative calls such as GRAPH.INFO and counts.
const AdminTimeout = 5 * time.Second

// DefaultQueryTimeout is the socket budget of a workload query.
const DefaultQueryTimeout = 60 * time.Second

// Count queries used by the graph size reporter.
const (
	NodeCountQuery         = "MATCH (n) RETURN count(n)"
	RelationshipCountQuery = "MATCH ()-[r]->() RETURN count(r)"
)

// RedisClient speaks the FalkorDB graph commands over the Redis protocol.
// Workload queries and administrative calls use separate pools so that a
// slow query keeps its full budget while GRAPH.INFO stays short.
type RedisClient struct {
	rdb   *redis.Client
	admin *redis.Client
	graph string
}

// NewRedisClient connects lazily to addr; graph is the key queries run on.
// queryTimeout bounds socket reads and writes of Query; zero means
// DefaultQueryTimeout. The redis client ignores context deadlines, so this
// is the effective per-query limit.
func NewRedisClient(addr, graph string, queryTimeout time.Duration) *RedisClient {
	if queryTimeout <= 0 {
		queryTimeout = DefaultQueryTimeout
	}
	return &RedisClient{
		rdb: redis.NewClient(&redis.Options{
			Addr:         addr,
			DialTimeout:  AdminTimeout,
			ReadTimeout:  queryTimeout,
			WriteTimeout: queryTimeout,
			PoolSize:     64,
		}),
		admin: redis.NewClient(&redis.Options{
			Addr:         addr,
			DialTimeout:  AdminTimeout,
			ReadTimeout:  AdminTimeout,
			WriteTimeout: AdminTimeout,
			PoolSize:     4,
		}),
		graph: graph,
	}
}

// Graph returns the graph key.
func (c *RedisClient) Graph() string { return c.graph }

// Close releases both connection pools.
func (c *RedisClient) Close() error {
	err := c.rdb.Close()
	if aerr := c.admin.Close(); err == nil {
		err = aerr
	}
	return err
}

// Ping checks the server answers.
func (c *RedisClient) Ping(ctx context.Context) error {
	if err := c.admin.WithContext(ctx).Ping().Err(); err != nil {
		return commandError(ctx, "ping", err)
	}
	return nil
}

// Query runs cypher on the graph. Reads use GRAPH.RO_QUERY.
func (c *RedisClient) Query(ctx context.Context, cypher string, readOnly bool) ([]interface{}, error) {
	return c.query(ctx, c.rdb, cypher, readOnly)
}

func (c *RedisClient) query(ctx context.Context, rdb *redis.Client, cypher string, readOnly bool) ([]interface{}, error) {
	cmd := "GRAPH.QUERY"
	if readOnly {
		cmd = "GRAPH.RO_QUERY"
	}
	res, err := rdb.WithContext(ctx).Do(cmd, c.graph, cypher, "--compact").Result()
	if err != nil {
		return nil, commandError(ctx, cmd, err)
	}
	arr, _ := res.([]interface{})
	return arr, nil
}

// Count runs a single-value count query on the admin pool.
func (c *RedisClient) Count(ctx context.Context, cypher string) (int64, error) {
	reply, err := c.query(ctx, c.admin, cypher, true)
	if err != nil {
		return 0, err
	}
	return scalarFromReply(reply)
}

// Info returns the number of running and waiting queries from GRAPH.INFO.
func (c *RedisClient) Info(ctx context.Context) (running, waiting int64, err error) {
	res, err := c.admin.WithContext(ctx).Do("GRAPH.INFO").Result()
	if err != nil {
		return 0, 0, commandError(ctx, "GRAPH.INFO", err)
	}
	return parseInfo(res)
}

// MemoryUsageMB returns the graph memory reported by GRAPH.MEMORY USAGE.
func (c *RedisClient) MemoryUsageMB(ctx context.Context) (float64, error) {
	res, err := c.admin.WithContext(ctx).Do("GRAPH.MEMORY", "USAGE", c.graph).Result()
	if err != nil {
		return 0, commandError(ctx, "GRAPH.MEMORY USAGE", err)
	}
	return parseMemoryUsage(res)
}

// commandError classifies a failed command. Socket deadlines and expired
// contexts are timeouts, everything else is a backend error.
func commandError(ctx context.Context, cmd string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %s: %v", bench.ErrTimeout, cmd, ctx.Err())
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %s: %v", bench.ErrTimeout, cmd, err)
	}
	return fmt.Errorf("%w: %s: %v", bench.ErrBackend, cmd, err)
}

// parseInfo reads positions 1 (running) and 3 (waiting). Each position is
// either a count or a list of query entries.
func parseInfo(res interface{}) (running, waiting int64, err error) {
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 4 {
		return 0, 0, fmt.Errorf("%w: unexpected GRAPH.INFO reply %T", bench.ErrParse, res)
	}
	return countOf(arr[1]), countOf(arr[3]), nil
}

func countOf(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case []interface{}:
		return int64(len(t))
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	}
	return 0
}

// parseMemoryUsage looks for total_graph_sz_mb in the flat key/value reply.
func parseMemoryUsage(res interface{}) (float64, error) {
	arr, ok := res.([]interface{})
	if !ok {
		return 0, fmt.Errorf("%w: unexpected GRAPH.MEMORY reply %T", bench.ErrParse, res)
	}
	for i := 0; i+1 < len(arr); i += 2 {
		key, _ := arr[i].(string)
		if !strings.EqualFold(key, "total_graph_sz_mb") {
			continue
		}
		switch v := arr[i+1].(type) {
		case int64:
			return float64(v), nil
		case string:
			return strconv.ParseFloat(v, 64)
		}
	}
	return 0, fmt.Errorf("%w: total_graph_sz_mb missing", bench.ErrParse)
}

// scalarFromReply extracts rows[0][0] from a compact GRAPH.QUERY reply:
// [header, rows, stats]. Compact cells are [type, value] pairs.
func scalarFromReply(reply []interface{}) (int64, error) {
	if len(reply) < 2 {
		return 0, fmt.Errorf("%w: short query reply", bench.ErrParse)
	}
	rows, ok := reply[1].([]interface{})
	if !ok || len(rows) == 0 {
		return 0, fmt.Errorf("%w: no rows", bench.ErrParse)
	}
	row, ok := rows[0].([]interface{})
	if !ok || len(row) == 0 {
		return 0, fmt.Errorf("%w: empty row", bench.ErrParse)
	}
	cell := row[0]
	if pair, ok := cell.([]interface{}); ok && len(pair) == 2 {
		cell = pair[1]
	}
	switch v := cell.(type) {
	case int64:
		return v, nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", bench.ErrParse, err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%w: unexpected cell %T", bench.ErrParse, cell)
}
