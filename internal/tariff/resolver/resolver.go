package resolver

import (
	"context"
	"time"

	"github.com/Big-Dao/evcs-mgr-sub002/internal/cache"
	tariffdomain "github.com/Big-Dao/evcs-mgr-sub002/internal/tariff/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Resolver selects the single billing plan applicable to a charging point
// at a given instant. It is pure over the plan snapshot it reads: the same
// inputs against the same data always yield the same plan.
type Resolver struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  tariffdomain.Repository
	cache *cache.TariffCache
}

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Repo  tariffdomain.Repository
	Cache *cache.TariffCache
}

func New(p Params) *Resolver {
	return &Resolver{
		db:    p.DB,
		log:   p.Log.Named("tariff.resolver"),
		repo:  p.Repo,
		cache: p.Cache,
	}
}

// Resolve walks scopes from most to least specific: charger assignment,
// station default, tenant-wide default. Within a scope, candidacy (enabled,
// inside the effective window at the given instant) is filtered first; the
// priority/id order then picks the winner, so an expired high-priority plan
// never shadows a valid lower-priority one. Returns ErrNoPlan when nothing
// applies so the caller can fall back to the flat-rate path.
func (r *Resolver) Resolve(ctx context.Context, tenantID snowflake.ID, stationID, chargerID string, at time.Time) (*tariffdomain.BillingPlan, error) {
	if tenantID == 0 {
		return nil, tariffdomain.ErrInvalidTenant
	}

	if chargerID != "" {
		plans, err := r.repo.FindPlansForCharger(ctx, r.db, tenantID, chargerID)
		if err != nil {
			return nil, err
		}
		if plan := firstApplicable(plans, at); plan != nil {
			return plan, nil
		}
	}

	if stationID != "" {
		plans, err := r.cache.GetDefaultPlansForStation(ctx, tenantID, stationID)
		if err != nil {
			return nil, err
		}
		if plan := firstApplicable(plans, at); plan != nil {
			return plan, nil
		}
	}

	plans, err := r.cache.GetTenantDefaultPlans(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if plan := firstApplicable(plans, at); plan != nil {
		return plan, nil
	}

	return nil, tariffdomain.ErrNoPlan
}

// firstApplicable returns the first candidate enabled and effective at the
// instant. Candidates arrive ordered by priority descending then id.
func firstApplicable(plans []tariffdomain.BillingPlan, at time.Time) *tariffdomain.BillingPlan {
	for i := range plans {
		plan := &plans[i]
		if plan.Status == tariffdomain.PlanEnabled && plan.EffectiveAt(at) {
			return plan
		}
	}
	return nil
}
