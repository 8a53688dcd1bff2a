package ratelimit

import (
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/tenantcore/internal/config"
)

// NewRedisClient builds the shared redis client, or nil when REDIS_ADDR
// is unset. Consumers must tolerate a nil client.
func NewRedisClient(cfg config.Config) *redis.Client {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})
}
