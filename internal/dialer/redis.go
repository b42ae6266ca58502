package dialer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/actual-software/connpool/internal/config"
	"github.com/actual-software/connpool/internal/pool"
	poolerr "github.com/actual-software/connpool/pkg/common/errors"
)

// RedisFactory opens single-socket Redis clients. The handshake is a PING.
type RedisFactory struct {
	options redis.Options
	timeout time.Duration
	logger  *zap.Logger
}

// NewRedisFactory creates a factory for the Redis server at address.
func NewRedisFactory(address string, cfg config.RedisConfig, timeout time.Duration, logger *zap.Logger) *RedisFactory {
	return &RedisFactory{
		options: redis.Options{
			Addr:     address,
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,

			// The pool above owns connection reuse; each pooled client holds one socket.
			PoolSize:     1,
			MinIdleConns: 0,
			MaxRetries:   -1,
			DialTimeout:  timeout,
		},
		timeout: timeout,
		logger:  logger,
	}
}

// Kind returns "redis".
func (f *RedisFactory) Kind() string { return "redis" }

// Open creates a client and pings the server through it.
func (f *RedisFactory) Open(ctx context.Context) (pool.Conn, error) {
	opts := f.options
	client := redis.NewClient(&opts)

	pingCtx, cancel := withTimeout(ctx, f.timeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			f.logger.Debug("Failed to close redis client", zap.Error(closeErr))
		}

		return nil, fmt.Errorf("failed to connect to redis at %s: %w", f.options.Addr, err)
	}

	c := &RedisConn{client: client}
	c.alive.Store(true)

	return c, nil
}

// Probe pings the server over a throwaway client.
func (f *RedisFactory) Probe(ctx context.Context) error {
	conn, err := f.Open(ctx)
	if err != nil {
		return err
	}

	return conn.Close()
}

// RedisConn is a pooled Redis client holding one socket.
type RedisConn struct {
	client *redis.Client
	alive  atomic.Bool
}

// Client returns the underlying client.
func (c *RedisConn) Client() *redis.Client {
	return c.client
}

// Do runs a command. A reply error from the server is returned as a command
// error and leaves the connection usable; any other failure marks it dead.
func (c *RedisConn) Do(ctx context.Context, args ...interface{}) (interface{}, error) {
	result, err := c.client.Do(ctx, args...).Result()

	switch {
	case err == nil:
		return result, nil
	case errors.Is(err, redis.Nil):
		return nil, nil
	}

	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		return nil, poolerr.NewCommandError(
			map[string]interface{}{"args": args},
			map[string]interface{}{"ok": 0, "errmsg": replyErr.Error()},
			err,
		)
	}

	c.alive.Store(false)

	return nil, err
}

// IsAlive implements pool.AliveChecker.
func (c *RedisConn) IsAlive() bool {
	return c.alive.Load()
}

// Close closes the client.
func (c *RedisConn) Close() error {
	c.alive.Store(false)

	return c.client.Close()
}
