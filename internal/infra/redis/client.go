// Package redis carries the operator control channel. Commands pushed
// onto a Redis list by tooling (cancel a job, force a requeue) are
// consumed by the daemon's control worker.
package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Command names accepted on the control queue.
const (
	CommandCancel  = "cancel"
	CommandRequeue = "requeue"
)

const controlQueueKey = "daemon:control"

// Command is a parsed operator instruction.
type Command struct {
	Name  string
	JobID uuid.UUID
}

// Client wraps Redis operations for the control queue.
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Push appends a command to the control queue.
func (c *Client) Push(ctx context.Context, cmd Command) error {
	member := fmt.Sprintf("%s:%s", cmd.Name, cmd.JobID)
	if err := c.rdb.RPush(ctx, controlQueueKey, member).Err(); err != nil {
		return fmt.Errorf("rpush failed: %w", err)
	}
	return nil
}

// Pop blocks up to timeout waiting for the next command. Returns
// found=false when the queue stayed empty.
func (c *Client) Pop(ctx context.Context, timeout time.Duration) (Command, bool, error) {
	results, err := c.rdb.BLPop(ctx, timeout, controlQueueKey).Result()
	if err == redis.Nil {
		return Command{}, false, nil
	}
	if err != nil {
		return Command{}, false, fmt.Errorf("blpop failed: %w", err)
	}
	// BLPop returns [key, value].
	if len(results) != 2 {
		return Command{}, false, fmt.Errorf("unexpected blpop reply length %d", len(results))
	}

	cmd, err := ParseCommand(results[1])
	if err != nil {
		return Command{}, false, err
	}
	return cmd, true, nil
}

// Depth returns the number of pending commands.
func (c *Client) Depth(ctx context.Context) (int64, error) {
	return c.rdb.LLen(ctx, controlQueueKey).Result()
}

// ParseCommand parses "cancel:<uuid>" / "requeue:<uuid>" format.
func ParseCommand(s string) (Command, error) {
	name, rawID, ok := strings.Cut(s, ":")
	if !ok {
		return Command{}, fmt.Errorf("invalid command format: %s", s)
	}
	if name != CommandCancel && name != CommandRequeue {
		return Command{}, fmt.Errorf("unknown command %q", name)
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return Command{}, fmt.Errorf("invalid job id in command %q: %w", s, err)
	}
	return Command{Name: name, JobID: id}, nil
}
