package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is the durable tariff store port. Plans, segments and rates are
// written only through administrative operations; the billing path reads.
type Repository interface {
	InsertPlan(ctx context.Context, db *gorm.DB, plan *BillingPlan) error
	UpdatePlan(ctx context.Context, db *gorm.DB, plan *BillingPlan) error
	FindPlanByID(ctx context.Context, db *gorm.DB, tenantID, planID snowflake.ID) (*BillingPlan, error)
	ListPlans(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]BillingPlan, error)

	// FindPlansForCharger returns the enabled plans explicitly assigned to
	// the charger, ordered by priority descending then id ascending.
	FindPlansForCharger(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, chargerID string) ([]BillingPlan, error)
	// FindDefaultPlans returns enabled default plans for the station scope
	// (stationID empty selects the tenant-wide scope), ordered by priority
	// descending then id ascending.
	FindDefaultPlans(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, stationID string) ([]BillingPlan, error)

	// ReplaceSegments swaps the plan's full segment set atomically.
	ReplaceSegments(ctx context.Context, db *gorm.DB, planID snowflake.ID, segments []BillingPlanSegment) error
	ListSegments(ctx context.Context, db *gorm.DB, planID snowflake.ID) ([]BillingPlanSegment, error)

	UpsertRate(ctx context.Context, db *gorm.DB, rate *BillingRate) error
	// FindRate returns the enabled rate for the station, falling back to the
	// tenant-wide rate when the station has none.
	FindRate(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, stationID string) (*BillingRate, error)
}
