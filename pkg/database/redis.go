package database

import (
	"context"
	"fmt"
	"statefuzz/config"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const redisPingTimeout = 5 * time.Second

type RedisParams struct {
	fx.In

	Lc     fx.Lifecycle
	Config *config.AppConfig
	Logger *zap.Logger
}

// NewRedisClient connects to REDIS_URL, or to the sentinel set when only
// REDIS_SENTINEL_HOSTS and REDIS_MASTER are given. With neither it returns a
// nil client and Redis-backed features are disabled.
func NewRedisClient(p RedisParams) (*redis.Client, error) {
	client, err := redisClient(p.Config.Backends)
	if err != nil {
		return nil, err
	}
	if client == nil {
		p.Logger.Debug("no redis configured")
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis unreachable: %w", err)
	}

	p.Lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	p.Logger.Debug("connected to redis", zap.String("addr", client.Options().Addr))
	return client, nil
}

func redisClient(b config.BackendConfig) (*redis.Client, error) {
	switch {
	case b.RedisUrl != "":
		opts, err := redis.ParseURL(b.RedisUrl)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		return redis.NewClient(opts), nil
	case b.RedisSentinelHosts != "" && b.RedisMasterName != "":
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    b.RedisMasterName,
			SentinelAddrs: splitHosts(b.RedisSentinelHosts),
		}), nil
	}
	return nil, nil
}

func splitHosts(s string) []string {
	var hosts []string
	for _, h := range strings.Split(s, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}
