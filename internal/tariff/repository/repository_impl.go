package repository

import (
	"context"
	"errors"

	tariffdomain "github.com/Big-Dao/evcs-mgr-sub002/internal/tariff/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() tariffdomain.Repository {
	return &repo{}
}

func (r *repo) InsertPlan(ctx context.Context, db *gorm.DB, plan *tariffdomain.BillingPlan) error {
	return db.WithContext(ctx).Create(plan).Error
}

func (r *repo) UpdatePlan(ctx context.Context, db *gorm.DB, plan *tariffdomain.BillingPlan) error {
	result := db.WithContext(ctx).
		Model(&tariffdomain.BillingPlan{}).
		Where("tenant_id = ? AND id = ?", plan.TenantID, plan.ID).
		Updates(map[string]any{
			"name":                 plan.Name,
			"status":               plan.Status,
			"is_default":           plan.IsDefault,
			"priority":             plan.Priority,
			"effective_start_date": plan.EffectiveStartDate,
			"effective_end_date":   plan.EffectiveEndDate,
			"updated_at":           plan.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return tariffdomain.ErrPlanNotFound
	}
	return nil
}

func (r *repo) FindPlanByID(ctx context.Context, db *gorm.DB, tenantID, planID snowflake.ID) (*tariffdomain.BillingPlan, error) {
	var plan tariffdomain.BillingPlan
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, planID).
		First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repo) ListPlans(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]tariffdomain.BillingPlan, error) {
	var plans []tariffdomain.BillingPlan
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at ASC").
		Find(&plans).Error
	if err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repo) FindPlansForCharger(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, chargerID string) ([]tariffdomain.BillingPlan, error) {
	var plans []tariffdomain.BillingPlan
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND charger_id = ? AND status = ?", tenantID, chargerID, tariffdomain.PlanEnabled).
		Order("priority DESC, id ASC").
		Find(&plans).Error
	if err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repo) FindDefaultPlans(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, stationID string) ([]tariffdomain.BillingPlan, error) {
	stmt := db.WithContext(ctx).
		Where("tenant_id = ? AND is_default = ? AND status = ? AND charger_id IS NULL",
			tenantID, true, tariffdomain.PlanEnabled)
	if stationID == "" {
		stmt = stmt.Where("station_id IS NULL")
	} else {
		stmt = stmt.Where("station_id = ?", stationID)
	}

	var plans []tariffdomain.BillingPlan
	if err := stmt.Order("priority DESC, id ASC").Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repo) ReplaceSegments(ctx context.Context, db *gorm.DB, planID snowflake.ID, segments []tariffdomain.BillingPlanSegment) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("plan_id = ?", planID).Delete(&tariffdomain.BillingPlanSegment{}).Error; err != nil {
			return err
		}
		if len(segments) == 0 {
			return nil
		}
		return tx.Create(segments).Error
	})
}

func (r *repo) ListSegments(ctx context.Context, db *gorm.DB, planID snowflake.ID) ([]tariffdomain.BillingPlanSegment, error) {
	var segments []tariffdomain.BillingPlanSegment
	err := db.WithContext(ctx).
		Where("plan_id = ?", planID).
		Order("segment_index ASC").
		Find(&segments).Error
	if err != nil {
		return nil, err
	}
	return segments, nil
}

func (r *repo) UpsertRate(ctx context.Context, db *gorm.DB, rate *tariffdomain.BillingRate) error {
	stmt := db.WithContext(ctx).Model(&tariffdomain.BillingRate{}).
		Where("tenant_id = ?", rate.TenantID)
	if rate.StationID == nil {
		stmt = stmt.Where("station_id IS NULL")
	} else {
		stmt = stmt.Where("station_id = ?", *rate.StationID)
	}

	var existing tariffdomain.BillingRate
	err := stmt.Session(&gorm.Session{}).First(&existing).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return db.WithContext(ctx).Create(rate).Error
	}

	rate.ID = existing.ID
	rate.CreatedAt = existing.CreatedAt
	return db.WithContext(ctx).Save(rate).Error
}

func (r *repo) FindRate(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, stationID string) (*tariffdomain.BillingRate, error) {
	if stationID != "" {
		var rate tariffdomain.BillingRate
		err := db.WithContext(ctx).
			Where("tenant_id = ? AND station_id = ? AND status = ?", tenantID, stationID, tariffdomain.RateEnabled).
			First(&rate).Error
		if err == nil {
			return &rate, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	var rate tariffdomain.BillingRate
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND station_id IS NULL AND status = ?", tenantID, tariffdomain.RateEnabled).
		First(&rate).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rate, nil
}
