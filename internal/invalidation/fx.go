package invalidation

import (
	"context"

	"github.com/Big-Dao/evcs-mgr-sub002/internal/cache"
	"github.com/Big-Dao/evcs-mgr-sub002/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewBroadcast(cfg config.Config, client *redis.Client, log *zap.Logger) *RedisBroadcast {
	return NewRedisBroadcast(client, log, cfg.InvalidateTopic)
}

// runSubscriber keeps one goroutine draining the invalidation topic for the
// process lifetime, evicting matching local cache entries in receipt order.
func runSubscriber(lc fx.Lifecycle, b *RedisBroadcast, tariffCache *cache.TariffCache) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				b.Run(ctx, tariffCache.EvictLocal)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}

var Module = fx.Module("tariff.invalidation",
	fx.Provide(
		NewBroadcast,
		func(b *RedisBroadcast) cache.Broadcast { return b },
	),
	fx.Invoke(runSubscriber),
)
