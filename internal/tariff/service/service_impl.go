package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/Big-Dao/evcs-mgr-sub002/internal/cache"
	"github.com/Big-Dao/evcs-mgr-sub002/internal/clock"
	"github.com/Big-Dao/evcs-mgr-sub002/internal/config"
	tariffdomain "github.com/Big-Dao/evcs-mgr-sub002/internal/tariff/domain"
	"github.com/Big-Dao/evcs-mgr-sub002/pkg/db"
	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	repo      tariffdomain.Repository
	cache     *cache.TariffCache
	tariffCfg *config.TariffConfigHolder
	clock     clock.Clock
}

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Repo      tariffdomain.Repository
	Cache     *cache.TariffCache
	TariffCfg *config.TariffConfigHolder
	Clock     clock.Clock
}

func New(p Params) tariffdomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("tariff.service"),
		genID:     p.GenID,
		repo:      p.Repo,
		cache:     p.Cache,
		tariffCfg: p.TariffCfg,
		clock:     p.Clock,
	}
}

func (s *Service) CreatePlan(ctx context.Context, tenantID snowflake.ID, req tariffdomain.CreatePlanRequest) (*tariffdomain.BillingPlan, error) {
	if tenantID == 0 {
		return nil, tariffdomain.ErrInvalidTenant
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, tariffdomain.ErrInvalidName
	}
	code := slug.Make(req.Code)
	if code == "" {
		code = slug.Make(req.Name)
	}
	if code == "" {
		return nil, tariffdomain.ErrInvalidCode
	}
	status := req.Status
	if status == "" {
		status = tariffdomain.PlanEnabled
	}
	if status != tariffdomain.PlanEnabled && status != tariffdomain.PlanDisabled {
		return nil, tariffdomain.ErrInvalidStatus
	}
	if req.ChargerID != nil && req.StationID == nil {
		// A charger belongs to a station; a charger assignment without one
		// cannot be scoped for resolution.
		return nil, tariffdomain.ErrInvalidScope
	}
	if err := validateEffectiveWindow(req.EffectiveStartDate, req.EffectiveEndDate); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	plan := &tariffdomain.BillingPlan{
		ID:                 s.genID.Generate(),
		TenantID:           tenantID,
		StationID:          req.StationID,
		ChargerID:          req.ChargerID,
		Name:               strings.TrimSpace(req.Name),
		Code:               code,
		Status:             status,
		IsDefault:          req.IsDefault,
		Priority:           req.Priority,
		EffectiveStartDate: req.EffectiveStartDate,
		EffectiveEndDate:   req.EffectiveEndDate,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if req.Metadata != nil {
		plan.Metadata = datatypes.JSONMap(req.Metadata)
	}

	if err := s.repo.InsertPlan(ctx, s.db, plan); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, tariffdomain.ErrDuplicateCode
		}
		return nil, err
	}

	s.invalidatePlan(ctx, plan)
	return plan, nil
}

func (s *Service) UpdatePlan(ctx context.Context, tenantID snowflake.ID, req tariffdomain.UpdatePlanRequest) (*tariffdomain.BillingPlan, error) {
	if tenantID == 0 {
		return nil, tariffdomain.ErrInvalidTenant
	}
	planID, err := snowflake.ParseString(strings.TrimSpace(req.PlanID))
	if err != nil {
		return nil, tariffdomain.ErrInvalidPlan
	}

	plan, err := s.repo.FindPlanByID(ctx, s.db, tenantID, planID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, tariffdomain.ErrPlanNotFound
	}

	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			return nil, tariffdomain.ErrInvalidName
		}
		plan.Name = strings.TrimSpace(*req.Name)
	}
	if req.Status != nil {
		if *req.Status != tariffdomain.PlanEnabled && *req.Status != tariffdomain.PlanDisabled {
			return nil, tariffdomain.ErrInvalidStatus
		}
		plan.Status = *req.Status
	}
	if req.IsDefault != nil {
		plan.IsDefault = *req.IsDefault
	}
	if req.Priority != nil {
		plan.Priority = *req.Priority
	}
	if req.EffectiveStartDate != nil {
		plan.EffectiveStartDate = req.EffectiveStartDate
	}
	if req.EffectiveEndDate != nil {
		plan.EffectiveEndDate = req.EffectiveEndDate
	}
	if err := validateEffectiveWindow(plan.EffectiveStartDate, plan.EffectiveEndDate); err != nil {
		return nil, err
	}
	plan.UpdatedAt = s.clock.Now()

	if err := s.repo.UpdatePlan(ctx, s.db, plan); err != nil {
		return nil, err
	}

	s.invalidatePlan(ctx, plan)
	return plan, nil
}

func (s *Service) GetPlan(ctx context.Context, tenantID snowflake.ID, stationID string, planID snowflake.ID) (*tariffdomain.BillingPlan, error) {
	if tenantID == 0 {
		return nil, tariffdomain.ErrInvalidTenant
	}
	plan, err := s.cache.GetPlan(ctx, tenantID, stationID, planID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, tariffdomain.ErrPlanNotFound
	}
	return plan, nil
}

func (s *Service) ListPlans(ctx context.Context, tenantID snowflake.ID) ([]tariffdomain.BillingPlan, error) {
	if tenantID == 0 {
		return nil, tariffdomain.ErrInvalidTenant
	}
	return s.repo.ListPlans(ctx, s.db, tenantID)
}

func (s *Service) SaveSegments(ctx context.Context, tenantID, planID snowflake.ID, inputs []tariffdomain.SegmentInput) error {
	if tenantID == 0 {
		return tariffdomain.ErrInvalidTenant
	}
	plan, err := s.repo.FindPlanByID(ctx, s.db, tenantID, planID)
	if err != nil {
		return err
	}
	if plan == nil {
		return tariffdomain.ErrPlanNotFound
	}

	segments, err := ValidateSegments(planID, inputs, s.tariffCfg.Get().RequireFullDay)
	if err != nil {
		return err
	}

	if err := s.repo.ReplaceSegments(ctx, s.db, planID, segments); err != nil {
		return err
	}

	s.cache.InvalidateSegments(ctx, planID)
	return nil
}

func (s *Service) GetSegments(ctx context.Context, tenantID, planID snowflake.ID) ([]tariffdomain.BillingPlanSegment, error) {
	if tenantID == 0 {
		return nil, tariffdomain.ErrInvalidTenant
	}
	plan, err := s.repo.FindPlanByID(ctx, s.db, tenantID, planID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, tariffdomain.ErrPlanNotFound
	}
	return s.cache.GetSegments(ctx, planID)
}

func (s *Service) UpsertRate(ctx context.Context, tenantID snowflake.ID, req tariffdomain.RateRequest) (*tariffdomain.BillingRate, error) {
	if tenantID == 0 {
		return nil, tariffdomain.ErrInvalidTenant
	}
	if err := validateRate(req); err != nil {
		return nil, err
	}
	status := req.Status
	if status == "" {
		status = tariffdomain.RateEnabled
	}

	now := s.clock.Now()
	rate := &tariffdomain.BillingRate{
		ID:           s.genID.Generate(),
		TenantID:     tenantID,
		StationID:    req.StationID,
		TouEnabled:   req.TouEnabled,
		PeakStart:    req.PeakStart,
		PeakEnd:      req.PeakEnd,
		PeakPrice:    req.PeakPrice,
		OffpeakPrice: req.OffpeakPrice,
		FlatPrice:    req.FlatPrice,
		ServiceFee:   req.ServiceFee,
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.UpsertRate(ctx, s.db, rate); err != nil {
		return nil, err
	}

	// Rates are read straight from the store on the fallback path; only the
	// default-plan projection for the station could embed stale pricing.
	if rate.StationID != nil {
		s.cache.InvalidateDefault(ctx, *rate.StationID)
	} else {
		s.cache.InvalidateTenantDefault(ctx, tenantID)
	}
	return rate, nil
}

func (s *Service) GetRate(ctx context.Context, tenantID snowflake.ID, stationID string) (*tariffdomain.BillingRate, error) {
	if tenantID == 0 {
		return nil, tariffdomain.ErrInvalidTenant
	}
	return s.repo.FindRate(ctx, s.db, tenantID, stationID)
}

func (s *Service) invalidatePlan(ctx context.Context, plan *tariffdomain.BillingPlan) {
	station := ""
	if plan.StationID != nil {
		station = *plan.StationID
	}
	s.cache.Invalidate(ctx, station, plan.ID)
	if plan.StationID != nil {
		s.cache.InvalidateDefault(ctx, *plan.StationID)
	} else {
		s.cache.InvalidateTenantDefault(ctx, plan.TenantID)
	}
}

func validateEffectiveWindow(start, end *time.Time) error {
	if start != nil && end != nil && end.Before(*start) {
		return tariffdomain.ErrEffectiveWindow
	}
	return nil
}

func validateRate(req tariffdomain.RateRequest) error {
	if req.PeakPrice.IsNegative() || req.OffpeakPrice.IsNegative() ||
		req.FlatPrice.IsNegative() || req.ServiceFee.IsNegative() {
		return tariffdomain.ErrNegativePrice
	}
	if req.TouEnabled {
		if _, err := tariffdomain.ParseStartMinute(req.PeakStart); err != nil {
			return tariffdomain.ErrInvalidRate
		}
		if _, err := tariffdomain.ParseEndMinute(req.PeakEnd); err != nil {
			return tariffdomain.ErrInvalidRate
		}
	}
	return nil
}

// ValidateSegments checks one plan's full segment set: index bounds,
// parseable clock times, non-negative prices, no overlaps, and full-day
// coverage when policy requires it. Returns the persistable rows ordered by
// start time.
func ValidateSegments(planID snowflake.ID, inputs []tariffdomain.SegmentInput, requireFullDay bool) ([]tariffdomain.BillingPlanSegment, error) {
	if len(inputs) == 0 {
		return nil, tariffdomain.ErrInvalidSegment
	}
	if len(inputs) > tariffdomain.MaxSegmentsPerPlan {
		return nil, tariffdomain.ErrTooManySegments
	}

	type span struct {
		start, end int
		row        tariffdomain.BillingPlanSegment
	}

	seen := make(map[int32]struct{}, len(inputs))
	spans := make([]span, 0, len(inputs))
	for _, input := range inputs {
		if input.SegmentIndex < 1 || input.SegmentIndex > tariffdomain.MaxSegmentsPerPlan {
			return nil, tariffdomain.ErrInvalidSegment
		}
		if _, dup := seen[input.SegmentIndex]; dup {
			return nil, tariffdomain.ErrInvalidSegment
		}
		seen[input.SegmentIndex] = struct{}{}

		start, err := tariffdomain.ParseStartMinute(input.StartTime)
		if err != nil {
			return nil, err
		}
		end, err := tariffdomain.ParseEndMinute(input.EndTime)
		if err != nil {
			return nil, err
		}
		if end <= start {
			return nil, tariffdomain.ErrInvalidSegment
		}
		if input.EnergyPrice.IsNegative() || input.ServiceFee.IsNegative() {
			return nil, tariffdomain.ErrNegativePrice
		}

		spans = append(spans, span{
			start: start,
			end:   end,
			row: tariffdomain.BillingPlanSegment{
				PlanID:       planID,
				SegmentIndex: input.SegmentIndex,
				StartTime:    input.StartTime,
				EndTime:      input.EndTime,
				EnergyPrice:  input.EnergyPrice,
				ServiceFee:   input.ServiceFee,
			},
		})
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	for i := 1; i < len(spans); i++ {
		if spans[i].start < spans[i-1].end {
			return nil, tariffdomain.ErrSegmentOverlap
		}
	}

	if requireFullDay {
		if spans[0].start != 0 || spans[len(spans)-1].end != 24*60 {
			return nil, tariffdomain.ErrIncompleteDayCoverage
		}
		for i := 1; i < len(spans); i++ {
			if spans[i].start != spans[i-1].end {
				return nil, tariffdomain.ErrIncompleteDayCoverage
			}
		}
	}

	rows := make([]tariffdomain.BillingPlanSegment, 0, len(spans))
	for _, sp := range spans {
		rows = append(rows, sp.row)
	}
	return rows, nil
}
