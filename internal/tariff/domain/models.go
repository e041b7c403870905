package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type PlanStatus string

var (
	PlanEnabled  PlanStatus = "ENABLED"
	PlanDisabled PlanStatus = "DISABLED"
)

type RateStatus string

var (
	RateEnabled  RateStatus = "ENABLED"
	RateDisabled RateStatus = "DISABLED"
)

// MaxSegmentsPerPlan bounds a plan's daily schedule to 15-minute slots.
const MaxSegmentsPerPlan = 96

// BillingPlan is a named, prioritized set of time-segmented prices scoped to
// a tenant, a station, or a single charger. StationID nil means tenant-wide
// default; ChargerID non-nil is the most specific scope and wins resolution.
type BillingPlan struct {
	ID                 snowflake.ID      `json:"id" gorm:"primaryKey"`
	TenantID           snowflake.ID      `json:"tenant_id" gorm:"column:tenant_id;not null;index"`
	StationID          *string           `json:"station_id,omitempty" gorm:"type:text;index"`
	ChargerID          *string           `json:"charger_id,omitempty" gorm:"type:text;index"`
	Name               string            `json:"name" gorm:"type:text;not null"`
	Code               string            `json:"code" gorm:"type:text;not null"`
	Status             PlanStatus        `json:"status" gorm:"type:text;not null"`
	IsDefault          bool              `json:"is_default" gorm:"not null;default:false"`
	Priority           int32             `json:"priority" gorm:"not null;default:0"`
	EffectiveStartDate *time.Time        `json:"effective_start_date,omitempty" gorm:"type:date"`
	EffectiveEndDate   *time.Time        `json:"effective_end_date,omitempty" gorm:"type:date"`
	Metadata           datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt          time.Time         `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time         `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (BillingPlan) TableName() string { return "billing_plans" }

// EffectiveAt reports whether the plan's effective window contains the
// calendar date of the given instant. Boundary dates are inclusive.
func (p *BillingPlan) EffectiveAt(at time.Time) bool {
	day := at.UTC().Truncate(24 * time.Hour)
	if p.EffectiveStartDate != nil && day.Before(p.EffectiveStartDate.UTC().Truncate(24*time.Hour)) {
		return false
	}
	if p.EffectiveEndDate != nil && day.After(p.EffectiveEndDate.UTC().Truncate(24*time.Hour)) {
		return false
	}
	return true
}

// BillingPlanSegment is one time-of-day price band of a plan. EndTime is
// exclusive; "24:00" (or "00:00" in end position) closes the day.
type BillingPlanSegment struct {
	PlanID       snowflake.ID    `json:"plan_id" gorm:"column:plan_id;primaryKey"`
	SegmentIndex int32           `json:"segment_index" gorm:"primaryKey;autoIncrement:false"`
	StartTime    string          `json:"start_time" gorm:"type:text;not null"`
	EndTime      string          `json:"end_time" gorm:"type:text;not null"`
	EnergyPrice  decimal.Decimal `json:"energy_price" gorm:"type:numeric;not null"`
	ServiceFee   decimal.Decimal `json:"service_fee" gorm:"type:numeric;not null"`
}

func (BillingPlanSegment) TableName() string { return "billing_plan_segments" }

// BillingRate is the flat/TOU fallback applied when no segmented plan
// resolves. StationID nil is the tenant-wide rate.
type BillingRate struct {
	ID           snowflake.ID    `json:"id" gorm:"primaryKey"`
	TenantID     snowflake.ID    `json:"tenant_id" gorm:"column:tenant_id;not null;index"`
	StationID    *string         `json:"station_id,omitempty" gorm:"type:text;index"`
	TouEnabled   bool            `json:"tou_enabled" gorm:"not null;default:false"`
	PeakStart    string          `json:"peak_start" gorm:"type:text"`
	PeakEnd      string          `json:"peak_end" gorm:"type:text"`
	PeakPrice    decimal.Decimal `json:"peak_price" gorm:"type:numeric;not null"`
	OffpeakPrice decimal.Decimal `json:"offpeak_price" gorm:"type:numeric;not null"`
	FlatPrice    decimal.Decimal `json:"flat_price" gorm:"type:numeric;not null"`
	ServiceFee   decimal.Decimal `json:"service_fee" gorm:"type:numeric;not null"`
	Status       RateStatus      `json:"status" gorm:"type:text;not null"`
	CreatedAt    time.Time       `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time       `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (BillingRate) TableName() string { return "billing_rates" }

// ParseStartMinute parses "HH:mm" into a minute of day in [0, 1439].
func ParseStartMinute(value string) (int, error) {
	minute, err := parseClock(value)
	if err != nil {
		return 0, err
	}
	if minute >= 24*60 {
		return 0, fmt.Errorf("%w: start %q past end of day", ErrInvalidSegment, value)
	}
	return minute, nil
}

// ParseEndMinute parses an exclusive "HH:mm" end into (0, 1440]. Both
// "24:00" and "00:00" denote end of day in end position.
func ParseEndMinute(value string) (int, error) {
	minute, err := parseClock(value)
	if err != nil {
		return 0, err
	}
	if minute == 0 {
		return 24 * 60, nil
	}
	return minute, nil
}

func parseClock(value string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(value), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: bad time %q", ErrInvalidSegment, value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 24 {
		return 0, fmt.Errorf("%w: bad hour in %q", ErrInvalidSegment, value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("%w: bad minute in %q", ErrInvalidSegment, value)
	}
	total := hour*60 + minute
	if total > 24*60 {
		return 0, fmt.Errorf("%w: time %q past end of day", ErrInvalidSegment, value)
	}
	return total, nil
}
