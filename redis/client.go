// Package redis holds the Redis-backed hotword counters. Every counter change
// is a server-side HINCRBY, so concurrent messages never lose increments.
package redis

import (
	"context"
	"fmt"
	"net"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrSigel/pulseframelabs/backend/telemetry"
)

// NewClient parses redisURL (e.g. "redis://localhost:6379/0"), installs the
// metrics hook and verifies the server answers.
func NewClient(ctx context.Context, redisURL string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	rdb := goredis.NewClient(opts)
	rdb.AddHook(&metricsHook{})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// metricsHook counts every command and pipeline.
type metricsHook struct{}

var _ goredis.Hook = (*metricsHook)(nil)

func (h *metricsHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			telemetry.RedisOps.WithLabelValues("dial", "error").Inc()
		}
		return conn, err
	}
}

func (h *metricsHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		observe(cmd.Name(), start, err)
		return err
	}
}

func (h *metricsHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		observe("pipeline", start, err)
		return err
	}
}

func observe(op string, start time.Time, err error) {
	status := "success"
	if err != nil && err != goredis.Nil {
		status = "error"
	}
	telemetry.RedisOps.WithLabelValues(op, status).Inc()
	telemetry.RedisDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
