// Package domain defines the session-pricing contract of the tariff core.
package domain

import (
	"context"
	"errors"
	"time"

	sessiondomain "github.com/Big-Dao/evcs-mgr-sub002/internal/session/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// CalculationInput describes one session to price. PlanID zero means the
// applicable plan is resolved from the charger/station/tenant scope at the
// session start instant.
type CalculationInput struct {
	StationID string          `json:"station_id"`
	ChargerID string          `json:"charger_id"`
	StartTime time.Time       `json:"start_time"`
	EndTime   time.Time       `json:"end_time"`
	EnergyKwh decimal.Decimal `json:"energy_kwh"`
	PlanID    snowflake.ID    `json:"plan_id"`
}

// Service prices charging sessions. Amounts are rounded to currency
// precision (2 decimals) exactly once, after summing all sub-intervals.
type Service interface {
	CalculateAmount(ctx context.Context, tenantID snowflake.ID, input CalculationInput) (decimal.Decimal, error)
	CalculateSessionAmount(ctx context.Context, tenantID snowflake.ID, session sessiondomain.ChargingSession) (decimal.Decimal, error)
}

// Calculation errors always propagate; a fabricated amount is never
// produced.
var (
	ErrNegativeDuration  = errors.New("negative_duration")
	ErrNegativeEnergy    = errors.New("negative_energy")
	ErrNoRateForInterval = errors.New("no_rate_for_interval")
	ErrNoApplicableRate  = errors.New("no_applicable_rate")
)
