package redis

import (
	"fmt"

	"github.com/redis/rueidis"
)

// NewRedisClient connects to the server described by a redis:// or rediss://
// URL. Client-side caching is disabled since it needs RESP3 tracking that
// not every deployment allows.
func NewRedisClient(redisURL string) (rueidis.Client, error) {
	opt, err := rueidis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	opt.DisableCache = true

	client, err := rueidis.NewClient(opt)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}
