package cache

import (
	"github.com/Big-Dao/evcs-mgr-sub002/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

func NewRedisClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

var Module = fx.Module("tariff.cache",
	fx.Provide(
		NewRedisClient,
		NewRedisCache,
		NewTariffCache,
	),
)
