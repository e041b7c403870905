package service

import (
	"context"
	"errors"
	"time"

	"github.com/Big-Dao/evcs-mgr-sub002/internal/cache"
	"github.com/Big-Dao/evcs-mgr-sub002/internal/observability/metrics"
	ratingdomain "github.com/Big-Dao/evcs-mgr-sub002/internal/rating/domain"
	sessiondomain "github.com/Big-Dao/evcs-mgr-sub002/internal/session/domain"
	tariffdomain "github.com/Big-Dao/evcs-mgr-sub002/internal/tariff/domain"
	"github.com/Big-Dao/evcs-mgr-sub002/internal/tariff/resolver"
	"github.com/Big-Dao/evcs-mgr-sub002/pkg/tenantctx"
	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	repo     tariffdomain.Repository
	cache    *cache.TariffCache
	resolver *resolver.Resolver
	metrics  *metrics.Metrics
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Repo     tariffdomain.Repository
	Cache    *cache.TariffCache
	Resolver *resolver.Resolver
	Metrics  *metrics.Metrics
}

func New(p Params) ratingdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("rating.service"),
		repo:     p.Repo,
		cache:    p.Cache,
		resolver: p.Resolver,
		metrics:  p.Metrics,
	}
}

func (s *Service) CalculateSessionAmount(ctx context.Context, tenantID snowflake.ID, session sessiondomain.ChargingSession) (decimal.Decimal, error) {
	return s.CalculateAmount(ctx, tenantID, ratingdomain.CalculationInput{
		StationID: session.StationID,
		ChargerID: session.ChargerID,
		StartTime: session.StartTime,
		EndTime:   session.EndTime,
		EnergyKwh: session.EnergyKwh,
	})
}

func (s *Service) CalculateAmount(ctx context.Context, tenantID snowflake.ID, input ratingdomain.CalculationInput) (decimal.Decimal, error) {
	if tenantID == 0 {
		// Transports that scope the request by middleware pass the tenant in
		// the context instead.
		if fromCtx, ok := tenantctx.TenantIDFromContext(ctx); ok {
			tenantID = fromCtx
		}
	}
	amount, err := s.calculate(ctx, tenantID, input)
	if err != nil {
		if isCalculationError(err) {
			s.metrics.CalculationErrors.Inc()
		}
		return decimal.Zero, err
	}
	return amount, nil
}

func (s *Service) calculate(ctx context.Context, tenantID snowflake.ID, input ratingdomain.CalculationInput) (decimal.Decimal, error) {
	if tenantID == 0 {
		return decimal.Zero, tariffdomain.ErrInvalidTenant
	}
	if input.EndTime.Before(input.StartTime) {
		return decimal.Zero, ratingdomain.ErrNegativeDuration
	}
	if input.EnergyKwh.IsNegative() {
		return decimal.Zero, ratingdomain.ErrNegativeEnergy
	}
	if input.EndTime.Equal(input.StartTime) {
		return decimal.Zero, nil
	}

	segments, err := s.loadSegments(ctx, tenantID, input)
	if err != nil && !errors.Is(err, tariffdomain.ErrNoPlan) {
		return decimal.Zero, err
	}

	if len(segments) > 0 {
		bands, err := segmentBands(segments)
		if err != nil {
			return decimal.Zero, err
		}
		return priceSession(input.StartTime, input.EndTime, input.EnergyKwh, bands, true)
	}

	rate, err := s.repo.FindRate(ctx, s.db, tenantID, input.StationID)
	if err != nil {
		return decimal.Zero, err
	}
	if rate == nil {
		return decimal.Zero, ratingdomain.ErrNoApplicableRate
	}

	bands, err := rateBands(rate)
	if err != nil {
		return decimal.Zero, err
	}
	return priceSession(input.StartTime, input.EndTime, input.EnergyKwh, bands, false)
}

// loadSegments returns the segment schedule for the explicitly requested
// plan, or for the resolved plan when none was named. An explicit plan must
// belong to the tenant; pricing never crosses tenant boundaries. ErrNoPlan
// means the caller should take the flat-rate path.
func (s *Service) loadSegments(ctx context.Context, tenantID snowflake.ID, input ratingdomain.CalculationInput) ([]tariffdomain.BillingPlanSegment, error) {
	planID := input.PlanID
	if planID == 0 {
		plan, err := s.resolver.Resolve(ctx, tenantID, input.StationID, input.ChargerID, input.StartTime)
		if err != nil {
			return nil, err
		}
		planID = plan.ID
	} else {
		plan, err := s.cache.GetPlan(ctx, tenantID, input.StationID, planID)
		if err != nil {
			return nil, err
		}
		if plan == nil {
			return nil, tariffdomain.ErrPlanNotFound
		}
	}
	return s.cache.GetSegments(ctx, planID)
}

func isCalculationError(err error) bool {
	return errors.Is(err, ratingdomain.ErrNegativeDuration) ||
		errors.Is(err, ratingdomain.ErrNegativeEnergy) ||
		errors.Is(err, ratingdomain.ErrNoRateForInterval) ||
		errors.Is(err, ratingdomain.ErrNoApplicableRate)
}

// band is a priced interval on the recurring daily clock, in seconds of day
// with an exclusive end.
type band struct {
	start int
	end   int
	price decimal.Decimal
}

const daySeconds = 24 * 60 * 60

func segmentBands(segments []tariffdomain.BillingPlanSegment) ([]band, error) {
	bands := make([]band, 0, len(segments))
	for _, segment := range segments {
		start, err := tariffdomain.ParseStartMinute(segment.StartTime)
		if err != nil {
			return nil, err
		}
		end, err := tariffdomain.ParseEndMinute(segment.EndTime)
		if err != nil {
			return nil, err
		}
		bands = append(bands, band{
			start: start * 60,
			end:   end * 60,
			price: segment.EnergyPrice.Add(segment.ServiceFee),
		})
	}
	sortBands(bands)
	return bands, nil
}

// rateBands expands a flat/TOU rate into full-day coverage. The peak window
// may wrap midnight.
func rateBands(rate *tariffdomain.BillingRate) ([]band, error) {
	fee := rate.ServiceFee

	if !rate.TouEnabled {
		return []band{{start: 0, end: daySeconds, price: rate.FlatPrice.Add(fee)}}, nil
	}

	peakStart, err := tariffdomain.ParseStartMinute(rate.PeakStart)
	if err != nil {
		return nil, err
	}
	peakEnd, err := tariffdomain.ParseEndMinute(rate.PeakEnd)
	if err != nil {
		return nil, err
	}
	ps, pe := peakStart*60, peakEnd*60

	peak := rate.PeakPrice.Add(fee)
	offpeak := rate.OffpeakPrice.Add(fee)

	var bands []band
	if ps < pe {
		if ps > 0 {
			bands = append(bands, band{start: 0, end: ps, price: offpeak})
		}
		bands = append(bands, band{start: ps, end: pe, price: peak})
		if pe < daySeconds {
			bands = append(bands, band{start: pe, end: daySeconds, price: offpeak})
		}
	} else {
		// Window wraps midnight: peak covers [ps, 24h) and [0, pe).
		if pe > 0 {
			bands = append(bands, band{start: 0, end: pe, price: peak})
		}
		if pe < ps {
			bands = append(bands, band{start: pe, end: ps, price: offpeak})
		}
		bands = append(bands, band{start: ps, end: daySeconds, price: peak})
	}
	return bands, nil
}

func sortBands(bands []band) {
	for i := 1; i < len(bands); i++ {
		for j := i; j > 0 && bands[j].start < bands[j-1].start; j-- {
			bands[j], bands[j-1] = bands[j-1], bands[j]
		}
	}
}

// slice is one segment-bounded sub-interval of the session with its price.
type slice struct {
	seconds int64
	price   decimal.Decimal
}

// priceSession decomposes [start, end) per calendar day and per band
// boundary, apportions the session energy by duration with the final slice
// taking the exact remainder, prices each slice, and rounds the sum once.
// failClosed rejects any portion of the session not covered by a band.
func priceSession(start, end time.Time, energy decimal.Decimal, bands []band, failClosed bool) (decimal.Decimal, error) {
	slices, err := splitIntoSlices(start.UTC(), end.UTC(), bands, failClosed)
	if err != nil {
		return decimal.Zero, err
	}

	var totalSeconds int64
	for _, sl := range slices {
		totalSeconds += sl.seconds
	}
	if totalSeconds == 0 {
		return decimal.Zero, nil
	}

	total := decimal.Zero
	remaining := energy
	totalDur := decimal.NewFromInt(totalSeconds)
	for i, sl := range slices {
		var sliceEnergy decimal.Decimal
		if i == len(slices)-1 {
			sliceEnergy = remaining
		} else {
			sliceEnergy = energy.Mul(decimal.NewFromInt(sl.seconds)).Div(totalDur)
			remaining = remaining.Sub(sliceEnergy)
		}
		total = total.Add(sliceEnergy.Mul(sl.price))
	}

	return total.Round(2), nil
}

func splitIntoSlices(start, end time.Time, bands []band, failClosed bool) ([]slice, error) {
	var slices []slice

	cursor := start
	for cursor.Before(end) {
		dayStart := time.Date(cursor.Year(), cursor.Month(), cursor.Day(), 0, 0, 0, 0, time.UTC)
		dayEnd := dayStart.Add(24 * time.Hour)

		windowEnd := end
		if dayEnd.Before(windowEnd) {
			windowEnd = dayEnd
		}

		fromSec := int(cursor.Sub(dayStart) / time.Second)
		toSec := int(windowEnd.Sub(dayStart) / time.Second)
		if windowEnd.Equal(dayEnd) {
			toSec = daySeconds
		}

		daySlices, err := splitDayWindow(fromSec, toSec, bands, failClosed)
		if err != nil {
			return nil, err
		}
		slices = append(slices, daySlices...)

		cursor = dayEnd
	}

	return slices, nil
}

// splitDayWindow cuts [from, to) seconds-of-day at every band boundary it
// crosses. With failClosed set, an uncovered remainder is a billing gap and
// the whole calculation fails rather than silently undercharging.
func splitDayWindow(from, to int, bands []band, failClosed bool) ([]slice, error) {
	var slices []slice

	cursor := from
	for cursor < to {
		covered := false
		for _, b := range bands {
			if cursor >= b.start && cursor < b.end {
				sliceEnd := b.end
				if to < sliceEnd {
					sliceEnd = to
				}
				slices = append(slices, slice{seconds: int64(sliceEnd - cursor), price: b.price})
				cursor = sliceEnd
				covered = true
				break
			}
		}
		if covered {
			continue
		}

		if failClosed {
			return nil, ratingdomain.ErrNoRateForInterval
		}

		// Advance to the next band start inside the window, treating the gap
		// as unpriced time.
		next := to
		for _, b := range bands {
			if b.start > cursor && b.start < next {
				next = b.start
			}
		}
		slices = append(slices, slice{seconds: int64(next - cursor), price: decimal.Zero})
		cursor = next
	}

	return slices, nil
}
