package corpus

import (
	"context"
	"errors"
	"fmt"
	"os"
	"statefuzz/internal/utils"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// RedisSeedGrabber reads the path of a shared seed bundle from
// statefuzz:seeds:<target>.
type RedisSeedGrabber struct {
	redisClient *redis.Client
	logger      *zap.Logger
}

type RedisSeedGrabberParams struct {
	fx.In

	RedisClient *redis.Client `optional:"true"`
	Logger      *zap.Logger
}

func NewRedisSeedGrabber(p RedisSeedGrabberParams) *RedisSeedGrabber {
	if p.RedisClient == nil {
		return nil
	}
	return &RedisSeedGrabber{p.RedisClient, p.Logger}
}

func SeedBundleKey(target string) string {
	return fmt.Sprintf("statefuzz:seeds:%s", target)
}

func (g *RedisSeedGrabber) GrabSeeds(ctx context.Context, target string) (*Seeds, error) {
	key := SeedBundleKey(target)
	bundlePath, err := g.redisClient.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("no seed bundle registered under %s", key)
	}
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(bundlePath); err != nil {
		return nil, fmt.Errorf("seed bundle not accessible: %w", err)
	}
	if !utils.IsTarGz(bundlePath) {
		g.logger.Error("seed bundle is not a tar.gz file", zap.String("path", bundlePath))
		return nil, errors.New("seed bundle is not a tar.gz file")
	}

	inputs, err := readBundle(bundlePath)
	if err != nil {
		return nil, err
	}
	return &Seeds{Inputs: inputs}, nil
}
