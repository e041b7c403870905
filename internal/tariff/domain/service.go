package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Service is the administrative surface for plans, segments and rates.
// Mutations validate configuration up front and invalidate cached copies on
// every instance after the write lands.
type Service interface {
	CreatePlan(ctx context.Context, tenantID snowflake.ID, req CreatePlanRequest) (*BillingPlan, error)
	UpdatePlan(ctx context.Context, tenantID snowflake.ID, req UpdatePlanRequest) (*BillingPlan, error)
	GetPlan(ctx context.Context, tenantID snowflake.ID, stationID string, planID snowflake.ID) (*BillingPlan, error)
	ListPlans(ctx context.Context, tenantID snowflake.ID) ([]BillingPlan, error)

	SaveSegments(ctx context.Context, tenantID, planID snowflake.ID, segments []SegmentInput) error
	GetSegments(ctx context.Context, tenantID, planID snowflake.ID) ([]BillingPlanSegment, error)

	UpsertRate(ctx context.Context, tenantID snowflake.ID, req RateRequest) (*BillingRate, error)
	GetRate(ctx context.Context, tenantID snowflake.ID, stationID string) (*BillingRate, error)
}

type CreatePlanRequest struct {
	StationID          *string        `json:"station_id"`
	ChargerID          *string        `json:"charger_id"`
	Name               string         `json:"name"`
	Code               string         `json:"code"`
	Status             PlanStatus     `json:"status"`
	IsDefault          bool           `json:"is_default"`
	Priority           int32          `json:"priority"`
	EffectiveStartDate *time.Time     `json:"effective_start_date"`
	EffectiveEndDate   *time.Time     `json:"effective_end_date"`
	Metadata           map[string]any `json:"metadata"`
}

type UpdatePlanRequest struct {
	PlanID             string      `json:"plan_id"`
	Name               *string     `json:"name"`
	Status             *PlanStatus `json:"status"`
	IsDefault          *bool       `json:"is_default"`
	Priority           *int32      `json:"priority"`
	EffectiveStartDate *time.Time  `json:"effective_start_date"`
	EffectiveEndDate   *time.Time  `json:"effective_end_date"`
}

type SegmentInput struct {
	SegmentIndex int32           `json:"segment_index"`
	StartTime    string          `json:"start_time"`
	EndTime      string          `json:"end_time"`
	EnergyPrice  decimal.Decimal `json:"energy_price"`
	ServiceFee   decimal.Decimal `json:"service_fee"`
}

type RateRequest struct {
	StationID    *string         `json:"station_id"`
	TouEnabled   bool            `json:"tou_enabled"`
	PeakStart    string          `json:"peak_start"`
	PeakEnd      string          `json:"peak_end"`
	PeakPrice    decimal.Decimal `json:"peak_price"`
	OffpeakPrice decimal.Decimal `json:"offpeak_price"`
	FlatPrice    decimal.Decimal `json:"flat_price"`
	ServiceFee   decimal.Decimal `json:"service_fee"`
	Status       RateStatus      `json:"status"`
}

var (
	ErrInvalidTenant   = errors.New("invalid_tenant")
	ErrInvalidPlan     = errors.New("invalid_plan")
	ErrInvalidName     = errors.New("invalid_name")
	ErrInvalidCode     = errors.New("invalid_code")
	ErrInvalidStatus   = errors.New("invalid_status")
	ErrInvalidScope    = errors.New("invalid_scope")
	ErrPlanNotFound    = errors.New("plan_not_found")
	ErrDuplicateCode   = errors.New("duplicate_code")
	ErrEffectiveWindow = errors.New("invalid_effective_window")

	// Configuration errors surfaced to the administrative caller at save time.
	ErrInvalidSegment        = errors.New("invalid_segment")
	ErrSegmentOverlap        = errors.New("segment_overlap")
	ErrIncompleteDayCoverage = errors.New("incomplete_day_coverage")
	ErrNegativePrice         = errors.New("negative_price")
	ErrTooManySegments       = errors.New("too_many_segments")
	ErrInvalidRate           = errors.New("invalid_rate")

	// ErrNoPlan is the resolver's "no segmented plan applies" signal; the
	// caller falls back to the flat rate path.
	ErrNoPlan = errors.New("no_plan")
)
