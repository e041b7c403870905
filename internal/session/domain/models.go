// Package domain holds the charging-session contract consumed by the tariff
// core. Sessions are owned elsewhere; this core only reads them.
package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ChargingSession is the immutable descriptor of a completed or in-progress
// session. The core never mutates it.
type ChargingSession struct {
	StationID string          `json:"station_id"`
	ChargerID string          `json:"charger_id"`
	StartTime time.Time       `json:"start_time"`
	EndTime   time.Time       `json:"end_time"`
	EnergyKwh decimal.Decimal `json:"energy_kwh"`
}

// Duration is the session's wall-clock span. Negative spans are a caller
// data error surfaced by the calculator.
func (s ChargingSession) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// SessionProvider supplies session descriptors from the order subsystem.
type SessionProvider interface {
	Session(ctx context.Context, sessionID string) (*ChargingSession, error)
}
