package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Big-Dao/evcs-mgr-sub002/internal/config"
	"github.com/Big-Dao/evcs-mgr-sub002/internal/observability/metrics"
	tariffdomain "github.com/Big-Dao/evcs-mgr-sub002/internal/tariff/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// Broadcast publishes an invalidated cache key to every running instance.
type Broadcast interface {
	Publish(ctx context.Context, key string) error
}

// PlanKey is the shared-cache key for a plan scoped to a station.
func PlanKey(stationID string, planID snowflake.ID) string {
	return fmt.Sprintf("plan:%s:%d", stationID, planID)
}

// DefaultPlanKey is the shared-cache key for a station's ordered
// default-plan candidates.
func DefaultPlanKey(stationID string) string {
	return fmt.Sprintf("plan:default:%s", stationID)
}

// TenantDefaultPlanKey is the shared-cache key for the tenant-wide
// default-plan candidates, which have no station of their own.
func TenantDefaultPlanKey(tenantID snowflake.ID) string {
	return fmt.Sprintf("plan:default:tenant:%d", tenantID)
}

// SegmentsKey is the shared-cache key for a plan's ordered segment list.
func SegmentsKey(planID snowflake.ID) string {
	return fmt.Sprintf("segments:%d", planID)
}

// TariffCache is the per-instance read-through cache over the shared store.
// Misses for one key coalesce into a single tariff-store load; a slow or
// unreachable shared cache degrades to direct store reads instead of
// failing the billing path.
type TariffCache struct {
	db      *gorm.DB
	log     *zap.Logger
	repo    tariffdomain.Repository
	shared  SharedCache
	bcast   Broadcast
	metrics *metrics.Metrics

	localPlans    Cache[string, *tariffdomain.BillingPlan]
	localPlanSets Cache[string, []tariffdomain.BillingPlan]
	localSegments Cache[string, []tariffdomain.BillingPlanSegment]

	flight singleflight.Group

	sharedTTL time.Duration
	localTTL  time.Duration
	opTimeout time.Duration
}

type Params struct {
	fx.In

	Config    config.Config
	DB        *gorm.DB
	Log       *zap.Logger
	Repo      tariffdomain.Repository
	Shared    SharedCache
	Broadcast Broadcast
	Metrics   *metrics.Metrics
}

func NewTariffCache(p Params) *TariffCache {
	return &TariffCache{
		db:            p.DB,
		log:           p.Log.Named("tariff.cache"),
		repo:          p.Repo,
		shared:        p.Shared,
		bcast:         p.Broadcast,
		metrics:       p.Metrics,
		localPlans:    NewTTLCache[string, *tariffdomain.BillingPlan](),
		localPlanSets: NewTTLCache[string, []tariffdomain.BillingPlan](),
		localSegments: NewTTLCache[string, []tariffdomain.BillingPlanSegment](),
		sharedTTL:     p.Config.CacheSharedTTL,
		localTTL:      p.Config.CacheLocalTTL,
		opTimeout:     p.Config.CacheOpTimeout,
	}
}

// GetPlan returns the plan by id, read through the cache. The key carries no
// tenant, so ownership is re-checked on the cached value; a foreign tenant
// sees nil even on a warm entry.
func (c *TariffCache) GetPlan(ctx context.Context, tenantID snowflake.ID, stationID string, planID snowflake.ID) (*tariffdomain.BillingPlan, error) {
	key := PlanKey(stationID, planID)
	plan, err := loadPlan(ctx, c, key, func(ctx context.Context) (*tariffdomain.BillingPlan, error) {
		return c.repo.FindPlanByID(ctx, c.db, tenantID, planID)
	})
	if err != nil {
		return nil, err
	}
	if plan != nil && plan.TenantID != tenantID {
		return nil, nil
	}
	return plan, nil
}

// GetDefaultPlansForStation returns the station's enabled default plans
// ordered by priority descending then id ascending. The full candidate list
// is cached: which entry wins depends on the effective window at the
// caller's instant, so the pick cannot be baked into the entry.
func (c *TariffCache) GetDefaultPlansForStation(ctx context.Context, tenantID snowflake.ID, stationID string) ([]tariffdomain.BillingPlan, error) {
	key := DefaultPlanKey(stationID)
	return loadPlanSet(ctx, c, key, func(ctx context.Context) ([]tariffdomain.BillingPlan, error) {
		return c.repo.FindDefaultPlans(ctx, c.db, tenantID, stationID)
	})
}

// GetTenantDefaultPlans returns the tenant-wide default plan candidates in
// the same order.
func (c *TariffCache) GetTenantDefaultPlans(ctx context.Context, tenantID snowflake.ID) ([]tariffdomain.BillingPlan, error) {
	key := TenantDefaultPlanKey(tenantID)
	return loadPlanSet(ctx, c, key, func(ctx context.Context) ([]tariffdomain.BillingPlan, error) {
		return c.repo.FindDefaultPlans(ctx, c.db, tenantID, "")
	})
}

// GetSegments returns the plan's segments ordered by index, read through
// the cache.
func (c *TariffCache) GetSegments(ctx context.Context, planID snowflake.ID) ([]tariffdomain.BillingPlanSegment, error) {
	key := SegmentsKey(planID)

	if cached, ok := c.localSegments.Get(key); ok {
		c.metrics.CacheHits.WithLabelValues("local").Inc()
		return cached, nil
	}
	c.metrics.CacheMisses.WithLabelValues("local").Inc()

	value, err, _ := c.flight.Do(key, func() (any, error) {
		if cached, ok := c.localSegments.Get(key); ok {
			return cached, nil
		}

		var segments []tariffdomain.BillingPlanSegment
		if raw, ok := c.sharedGet(ctx, key); ok {
			if err := json.Unmarshal(raw, &segments); err == nil {
				c.metrics.CacheHits.WithLabelValues("shared").Inc()
				c.localSegments.Set(key, segments, c.localTTL)
				return segments, nil
			}
			c.log.Warn("corrupt shared cache entry dropped", zap.String("key", key))
		}
		c.metrics.CacheMisses.WithLabelValues("shared").Inc()

		segments, err := c.repo.ListSegments(ctx, c.db, planID)
		if err != nil {
			return nil, err
		}
		c.sharedSet(ctx, key, segments)
		c.localSegments.Set(key, segments, c.localTTL)
		return segments, nil
	})
	if err != nil {
		return nil, err
	}
	return value.([]tariffdomain.BillingPlanSegment), nil
}

// Invalidate drops the cached plan entry everywhere: locally, in the shared
// store, and on every other instance via broadcast.
func (c *TariffCache) Invalidate(ctx context.Context, stationID string, planID snowflake.ID) {
	c.evict(ctx, PlanKey(stationID, planID))
}

// InvalidateDefault drops the station's cached default-plan entry.
func (c *TariffCache) InvalidateDefault(ctx context.Context, stationID string) {
	c.evict(ctx, DefaultPlanKey(stationID))
}

// InvalidateTenantDefault drops the tenant-wide cached default-plan entry.
func (c *TariffCache) InvalidateTenantDefault(ctx context.Context, tenantID snowflake.ID) {
	c.evict(ctx, TenantDefaultPlanKey(tenantID))
}

// InvalidateSegments drops the plan's cached segment list.
func (c *TariffCache) InvalidateSegments(ctx context.Context, planID snowflake.ID) {
	c.evict(ctx, SegmentsKey(planID))
}

// EvictLocal drops only this instance's copy. Invoked for keys received on
// the invalidation channel; the writer already deleted the shared entry.
func (c *TariffCache) EvictLocal(key string) {
	c.localPlans.Delete(key)
	c.localPlanSets.Delete(key)
	c.localSegments.Delete(key)
	c.metrics.InvalidationsApplied.Inc()
}

func (c *TariffCache) evict(ctx context.Context, key string) {
	c.localPlans.Delete(key)
	c.localPlanSets.Delete(key)
	c.localSegments.Delete(key)

	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	if err := c.shared.Delete(opCtx, key); err != nil {
		c.log.Warn("shared cache delete failed; staleness bounded by ttl",
			zap.String("key", key), zap.Error(err))
	}

	if err := c.bcast.Publish(ctx, key); err != nil {
		c.log.Warn("invalidation broadcast failed; staleness bounded by ttl",
			zap.String("key", key), zap.Error(err))
		return
	}
	c.metrics.InvalidationsSent.Inc()
}

func (c *TariffCache) sharedGet(ctx context.Context, key string) ([]byte, bool) {
	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	raw, ok, err := c.shared.Get(opCtx, key)
	if err != nil {
		c.metrics.StoreFallbacks.Inc()
		c.log.Warn("shared cache unavailable; reading tariff store directly",
			zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return raw, ok
}

func (c *TariffCache) sharedSet(ctx context.Context, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	if err := c.shared.Set(opCtx, key, raw, c.sharedTTL); err != nil {
		c.log.Warn("shared cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// loadPlan runs the local -> shared -> store read path for one plan key,
// coalescing concurrent misses. A nil plan result is returned as-is and not
// cached, so a later write becomes visible immediately.
func loadPlan(ctx context.Context, c *TariffCache, key string, load func(context.Context) (*tariffdomain.BillingPlan, error)) (*tariffdomain.BillingPlan, error) {
	if cached, ok := c.localPlans.Get(key); ok {
		c.metrics.CacheHits.WithLabelValues("local").Inc()
		return cached, nil
	}
	c.metrics.CacheMisses.WithLabelValues("local").Inc()

	value, err, _ := c.flight.Do(key, func() (any, error) {
		if cached, ok := c.localPlans.Get(key); ok {
			return cached, nil
		}

		if raw, ok := c.sharedGet(ctx, key); ok {
			var plan tariffdomain.BillingPlan
			if err := json.Unmarshal(raw, &plan); err == nil {
				c.metrics.CacheHits.WithLabelValues("shared").Inc()
				c.localPlans.Set(key, &plan, c.localTTL)
				return &plan, nil
			}
			c.log.Warn("corrupt shared cache entry dropped", zap.String("key", key))
		}
		c.metrics.CacheMisses.WithLabelValues("shared").Inc()

		plan, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if plan != nil {
			c.sharedSet(ctx, key, plan)
			c.localPlans.Set(key, plan, c.localTTL)
		}
		return plan, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*tariffdomain.BillingPlan), nil
}

// loadPlanSet is loadPlan for ordered candidate lists. An empty result is
// returned as-is and not cached, so a first default plan becomes visible
// immediately.
func loadPlanSet(ctx context.Context, c *TariffCache, key string, load func(context.Context) ([]tariffdomain.BillingPlan, error)) ([]tariffdomain.BillingPlan, error) {
	if cached, ok := c.localPlanSets.Get(key); ok {
		c.metrics.CacheHits.WithLabelValues("local").Inc()
		return cached, nil
	}
	c.metrics.CacheMisses.WithLabelValues("local").Inc()

	value, err, _ := c.flight.Do(key, func() (any, error) {
		if cached, ok := c.localPlanSets.Get(key); ok {
			return cached, nil
		}

		if raw, ok := c.sharedGet(ctx, key); ok {
			var plans []tariffdomain.BillingPlan
			if err := json.Unmarshal(raw, &plans); err == nil {
				c.metrics.CacheHits.WithLabelValues("shared").Inc()
				c.localPlanSets.Set(key, plans, c.localTTL)
				return plans, nil
			}
			c.log.Warn("corrupt shared cache entry dropped", zap.String("key", key))
		}
		c.metrics.CacheMisses.WithLabelValues("shared").Inc()

		plans, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if len(plans) > 0 {
			c.sharedSet(ctx, key, plans)
			c.localPlanSets.Set(key, plans, c.localTTL)
		}
		return plans, nil
	})
	if err != nil {
		return nil, err
	}
	return value.([]tariffdomain.BillingPlan), nil
}
