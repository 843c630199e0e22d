package dict

import (
	"context"
	"fmt"
	"os"
	"statefuzz/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const DictRedisKey = "statefuzz:%s:dicts" // statefuzz:<target>:dicts

type DictGrabber struct {
	logger      *zap.Logger
	redisClient *redis.Client
	paths       []string
}

type DictGrabberParams struct {
	fx.In

	Logger      *zap.Logger
	AppConfig   *config.AppConfig
	RedisClient *redis.Client `optional:"true"`
}

func NewDictGrabber(params DictGrabberParams) *DictGrabber {
	return &DictGrabber{
		params.Logger,
		params.RedisClient,
		params.AppConfig.Fuzz.DictPaths,
	}
}

// GrabTokens merges the dictionaries configured by DICT_PATHS with those
// registered for target in Redis.
//
// Tokens are deduplicated and keep first-seen order. A dictionary that cannot
// be read or parsed is skipped with a warning; finding no tokens at all is
// not an error.
func (d *DictGrabber) GrabTokens(ctx context.Context, target string) [][]byte {
	paths := append([]string(nil), d.paths...)

	if d.redisClient != nil {
		key := fmt.Sprintf(DictRedisKey, target)
		dictPaths, err := d.redisClient.SMembers(ctx, key).Result()
		if err != nil {
			d.logger.Warn("failed to get dict set from redis", zap.String("key", key), zap.Error(err))
		} else {
			d.logger.Info("Got dicts from Redis",
				zap.String("target", target),
				zap.Int("numDicts", len(dictPaths)))
			paths = append(paths, dictPaths...)
		}
	}

	seen := make(map[string]struct{})
	var tokens [][]byte
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			d.logger.Warn("failed to read dict file", zap.String("path", path), zap.Error(err))
			continue
		}
		parsed, err := ParseDict(content)
		if err != nil {
			d.logger.Warn("failed to parse dict file", zap.String("path", path), zap.Error(err))
			continue
		}
		for _, token := range parsed {
			if _, ok := seen[string(token)]; ok {
				continue
			}
			seen[string(token)] = struct{}{}
			tokens = append(tokens, token)
		}
	}

	d.logger.Debug("loaded dictionary tokens", zap.Int("tokens", len(tokens)))
	return tokens
}
