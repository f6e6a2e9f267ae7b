// Package stats provides Redis-backed ingestion usage statistics.
//
// Designed for multiple ingester instances writing concurrently. Stats
// are updated per invocation and can be read by any service.
//
// Redis Key Structure:
//
//	verifyko:stats                      - Hash with running totals
//	verifyko:hourly:{YYYYMMDDHH}        - Event count for a specific hour (expires 48h)
//	verifyko:daily:{YYYYMMDD}           - Event count for a specific day (expires 7d)
//	verifyko:instances                  - Hash of ingester instance -> last seen timestamp
package stats

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	totalsKey    = "verifyko:stats"
	instancesKey = "verifyko:instances"
	hourlyFormat = "2006010215"
	dailyFormat  = "20060102"
)

// Stats is a snapshot of ingestion usage counters.
type Stats struct {
	TotalEvents       int64     `json:"total_events"`
	TotalBytes        int64     `json:"total_bytes"`
	FailedInvocations int64     `json:"failed_invocations"`
	EventsLast24h     int64     `json:"events_last_24h"`
	EventsToday       int64     `json:"events_today"`
	RetrievedAt       time.Time `json:"retrieved_at"`
}

// Client records and retrieves ingestion statistics. A nil *Client is a
// valid no-op receiver for RecordIngestion, so callers need no guard
// when stats collection is disabled.
type Client struct {
	redis      *redis.Client
	instanceID string
}

// NewClient connects to Redis and verifies connectivity. instanceID
// should be unique per ingester instance (hostname, pod name, UUID).
func NewClient(redisURL string, instanceID string) (*Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &Client{redis: client, instanceID: instanceID}, nil
}

// NewClientFromRedis creates a client from an existing Redis connection.
func NewClientFromRedis(client *redis.Client, instanceID string) *Client {
	return &Client{redis: client, instanceID: instanceID}
}

// RecordIngestion records the outcome of one invocation: how many events
// it carried, their total raw-body size, and whether it succeeded.
func (c *Client) RecordIngestion(ctx context.Context, eventCount, byteCount int64, success bool) error {
	if c == nil {
		return nil
	}

	now := time.Now()
	nowUnix := strconv.FormatInt(now.Unix(), 10)

	pipe := c.redis.Pipeline()

	pipe.HIncrBy(ctx, totalsKey, "total_invocations", 1)
	if success {
		pipe.HIncrBy(ctx, totalsKey, "total_events", eventCount)
		pipe.HIncrBy(ctx, totalsKey, "total_bytes", byteCount)

		hourlyKey := fmt.Sprintf("verifyko:hourly:%s", now.Format(hourlyFormat))
		pipe.IncrBy(ctx, hourlyKey, eventCount)
		pipe.Expire(ctx, hourlyKey, 48*time.Hour)

		dailyKey := fmt.Sprintf("verifyko:daily:%s", now.Format(dailyFormat))
		pipe.IncrBy(ctx, dailyKey, eventCount)
		pipe.Expire(ctx, dailyKey, 7*24*time.Hour)
	} else {
		pipe.HIncrBy(ctx, totalsKey, "failed_invocations", 1)
	}

	pipe.HSet(ctx, instancesKey, c.instanceID, nowUnix)
	pipe.Expire(ctx, instancesKey, 24*time.Hour)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record ingestion stats: %w", err)
	}
	return nil
}

// GetStats retrieves the current counters including a rolling 24-hour
// event count summed over the hourly keys.
func (c *Client) GetStats(ctx context.Context) (*Stats, error) {
	now := time.Now()

	pipe := c.redis.Pipeline()

	totalsCmd := pipe.HGetAll(ctx, totalsKey)

	hourlyCmds := make([]*redis.StringCmd, 24)
	for i := 0; i < 24; i++ {
		t := now.Add(-time.Duration(i) * time.Hour)
		hourlyCmds[i] = pipe.Get(ctx, fmt.Sprintf("verifyko:hourly:%s", t.Format(hourlyFormat)))
	}

	dailyCmd := pipe.Get(ctx, fmt.Sprintf("verifyko:daily:%s", now.Format(dailyFormat)))

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to get ingestion stats: %w", err)
	}

	stats := &Stats{RetrievedAt: now}

	if totals, err := totalsCmd.Result(); err == nil {
		stats.TotalEvents, _ = strconv.ParseInt(totals["total_events"], 10, 64)
		stats.TotalBytes, _ = strconv.ParseInt(totals["total_bytes"], 10, 64)
		stats.FailedInvocations, _ = strconv.ParseInt(totals["failed_invocations"], 10, 64)
	}

	for _, cmd := range hourlyCmds {
		if val, err := cmd.Int64(); err == nil {
			stats.EventsLast24h += val
		}
	}

	if val, err := dailyCmd.Int64(); err == nil {
		stats.EventsToday = val
	}

	return stats, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	return c.redis.Close()
}
