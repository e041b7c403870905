package preload

import (
	"context"

	"go.uber.org/fx"
)

func registerHooks(lc fx.Lifecycle, p *Preloader) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			// Warm in the background; startup never waits on the cache.
			go p.run()
			return nil
		},
	})
}

var Module = fx.Module("tariff.preload",
	fx.Provide(New),
	fx.Invoke(registerHooks),
)
