package transport

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/illmade-knight/eventgen/pkg/publisher"
	"github.com/illmade-knight/eventgen/pkg/reasoncode"
	"github.com/rs/zerolog"
)

// RedisConfig holds configuration for the Redis transport.
type RedisConfig struct {
	Password string
	DB       int
	// KeepAlive is the health-check interval. A failed PING reports a
	// disconnect; the next successful one reports a reconnect.
	KeepAlive   time.Duration
	DialTimeout time.Duration
}

// DefaultRedisConfig provides sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		KeepAlive:   5 * time.Second,
		DialTimeout: 5 * time.Second,
	}
}

// Redis implements publisher.Transport with Redis PUBLISH. The topic is used
// as the channel name.
type Redis struct {
	cfg    RedisConfig
	logger zerolog.Logger

	mu     sync.Mutex
	client *redis.Client
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedis creates a new Redis transport.
func NewRedis(cfg RedisConfig, logger zerolog.Logger) *Redis {
	defaults := DefaultRedisConfig()
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = defaults.KeepAlive
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	return &Redis{
		cfg:    cfg,
		logger: logger.With().Str("transport", "redis").Logger(),
	}
}

// Connect creates the client and pings the server. The acknowledgment is
// reported before Connect returns.
func (t *Redis) Connect(ctx context.Context, address string, hooks publisher.Hooks) error {
	client := redis.NewClient(&redis.Options{
		Addr:        address,
		Password:    t.cfg.Password,
		DB:          t.cfg.DB,
		DialTimeout: t.cfg.DialTimeout,
	})
	t.mu.Lock()
	t.client = client
	t.mu.Unlock()

	if err := client.Ping(ctx).Err(); err != nil {
		t.logger.Error().Err(err).Str("redis_address", address).Msg("Failed to connect to redis")
		hooks.OnConnectAck(ClassifyRedisError(err))
		return nil
	}
	t.logger.Info().Str("redis_address", address).Msg("Successfully connected to Redis")
	hooks.OnConnectAck(reasoncode.Success)

	watchCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.watch(watchCtx, client, hooks)
	}()
	return nil
}

// watch pings the server every KeepAlive and reports transitions. go-redis
// redials on its own, so a successful ping after a failure is a reconnect.
func (t *Redis) watch(ctx context.Context, client *redis.Client, hooks publisher.Hooks) {
	ticker := time.NewTicker(t.cfg.KeepAlive)
	defer ticker.Stop()

	healthy := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pingCtx, cancel := context.WithTimeout(ctx, t.cfg.KeepAlive)
		err := client.Ping(pingCtx).Err()
		cancel()
		if ctx.Err() != nil {
			return
		}

		switch {
		case err != nil && healthy:
			healthy = false
			t.logger.Error().Err(err).Msg("Redis connection lost")
			hooks.OnDisconnect(ClassifyRedisError(err))
		case err == nil && !healthy:
			healthy = true
			hooks.OnConnectAck(reasoncode.Success)
		}
	}
}

// Publish sends payload on the channel named topic. The message ID is the
// number of subscribers that received it.
func (t *Redis) Publish(ctx context.Context, topic string, payload []byte) (publisher.Outcome, error) {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	if client == nil {
		return publisher.Rejected(reasoncode.NoConn, ""), redis.ErrClosed
	}

	receivers, err := client.Publish(ctx, topic, payload).Result()
	if err != nil {
		if ctx.Err() != nil {
			return publisher.Outcome{}, ctx.Err()
		}
		return publisher.Rejected(ClassifyRedisError(err), ""), err
	}
	return publisher.Delivered(strconv.FormatInt(receivers, 10)), nil
}

// Close stops the health check and closes the client.
func (t *Redis) Close() {
	t.mu.Lock()
	client, cancel := t.client, t.cancel
	t.client, t.cancel = nil, nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.wg.Wait()
	if client != nil {
		if err := client.Close(); err != nil {
			t.logger.Error().Err(err).Msg("Error closing Redis client")
		}
	}
}

// ClassifyRedisError maps a go-redis error to a reason code.
func ClassifyRedisError(err error) reasoncode.Code {
	switch {
	case err == nil:
		return reasoncode.Success
	case errors.Is(err, redis.Nil):
		return reasoncode.NotFound
	case errors.Is(err, redis.ErrClosed):
		return reasoncode.ConnLost
	}

	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "NOAUTH"), strings.HasPrefix(msg, "WRONGPASS"):
		return reasoncode.Auth
	case strings.HasPrefix(msg, "NOPERM"):
		return reasoncode.ACLDenied
	case strings.HasPrefix(msg, "OOM"):
		return reasoncode.NoMem
	case strings.HasPrefix(msg, "ERR unknown command"):
		return reasoncode.NotSupported
	}
	return classifyNetError(err)
}
