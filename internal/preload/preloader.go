// Package preload warms the tariff cache for known hot stations so a
// restart or deployment does not pay cold-cache latency on first traffic.
package preload

import (
	"context"
	"time"

	"github.com/Big-Dao/evcs-mgr-sub002/internal/cache"
	"github.com/Big-Dao/evcs-mgr-sub002/internal/config"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Preloader struct {
	log       *zap.Logger
	cache     *cache.TariffCache
	tariffCfg *config.TariffConfigHolder
	tenantID  snowflake.ID
}

type Params struct {
	fx.In

	Log       *zap.Logger
	Cache     *cache.TariffCache
	TariffCfg *config.TariffConfigHolder
	Config    config.Config
}

func New(p Params) *Preloader {
	return &Preloader{
		log:       p.Log.Named("tariff.preload"),
		cache:     p.Cache,
		tariffCfg: p.TariffCfg,
		tenantID:  snowflake.ID(p.Config.DefaultTenantID),
	}
}

// WarmHotStations populates default-plan and segment entries for the given
// stations. Every failure is logged and swallowed: on-demand loading at
// request time is the correctness fallback, so preload must never block or
// fail startup.
func (p *Preloader) WarmHotStations(ctx context.Context, tenantID snowflake.ID, stationIDs []string) {
	warmed := 0
	for _, stationID := range stationIDs {
		select {
		case <-ctx.Done():
			p.log.Warn("preload cut short", zap.Int("warmed", warmed), zap.Error(ctx.Err()))
			return
		default:
		}

		plans, err := p.cache.GetDefaultPlansForStation(ctx, tenantID, stationID)
		if err != nil {
			p.log.Warn("preload default plans failed",
				zap.String("station_id", stationID), zap.Error(err))
			continue
		}
		if len(plans) == 0 {
			continue
		}
		// Warm every candidate's schedule; which one wins depends on the
		// session instant.
		for _, plan := range plans {
			if _, err := p.cache.GetSegments(ctx, plan.ID); err != nil {
				p.log.Warn("preload segments failed",
					zap.String("station_id", stationID),
					zap.Int64("plan_id", int64(plan.ID)),
					zap.Error(err))
			}
		}
		warmed++
	}
	p.log.Info("tariff cache preload finished",
		zap.Int("stations", len(stationIDs)), zap.Int("warmed", warmed))
}

func (p *Preloader) run() {
	cfg := p.tariffCfg.Get()
	if len(cfg.HotStations) == 0 || p.tenantID == 0 {
		return
	}

	timeout := time.Duration(cfg.PreloadTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	p.WarmHotStations(ctx, p.tenantID, cfg.HotStations)
}
