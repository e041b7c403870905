package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Big-Dao/evcs-mgr-sub002/internal/cache"
	"github.com/Big-Dao/evcs-mgr-sub002/internal/clock"
	"github.com/Big-Dao/evcs-mgr-sub002/internal/config"
	"github.com/Big-Dao/evcs-mgr-sub002/internal/observability/metrics"
	tariffdomain "github.com/Big-Dao/evcs-mgr-sub002/internal/tariff/domain"
	tariffrepo "github.com/Big-Dao/evcs-mgr-sub002/internal/tariff/repository"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type memShared struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemShared() *memShared { return &memShared{data: make(map[string][]byte)} }

func (s *memShared) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.data[key]
	return value, ok, nil
}

func (s *memShared) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *memShared) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

type noopBroadcast struct{}

func (noopBroadcast) Publish(context.Context, string) error { return nil }

func newService(t *testing.T) (tariffdomain.Service, *snowflake.Node) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&tariffdomain.BillingPlan{},
		&tariffdomain.BillingPlanSegment{},
		&tariffdomain.BillingRate{},
	))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	repo := tariffrepo.Provide()
	tariffCache := cache.NewTariffCache(cache.Params{
		Config: config.Config{
			CacheSharedTTL: time.Hour,
			CacheLocalTTL:  time.Minute,
			CacheOpTimeout: 100 * time.Millisecond,
		},
		DB:        db,
		Log:       zap.NewNop(),
		Repo:      repo,
		Shared:    newMemShared(),
		Broadcast: noopBroadcast{},
		Metrics:   metrics.New(),
	})

	svc := New(Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Repo:      repo,
		Cache:     tariffCache,
		TariffCfg: config.NewStaticTariffConfigHolder(config.TariffConfig{RequireFullDay: false}),
		Clock:     clock.NewSystemClock(),
	})
	return svc, node
}

func dec(v string) decimal.Decimal {
	d, err := decimal.NewFromString(v)
	if err != nil {
		panic(err)
	}
	return d
}

func strptr(v string) *string { return &v }

func TestCreatePlan(t *testing.T) {
	svc, node := newService(t)
	tenantID := node.Generate()

	plan, err := svc.CreatePlan(context.Background(), tenantID, tariffdomain.CreatePlanRequest{
		Name:      "Standard AC",
		StationID: strptr("st-1"),
		IsDefault: true,
		Priority:  10,
	})
	require.NoError(t, err)
	assert.Equal(t, "standard-ac", plan.Code)
	assert.Equal(t, tariffdomain.PlanEnabled, plan.Status)

	got, err := svc.GetPlan(context.Background(), tenantID, "st-1", plan.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.ID, got.ID)
}

func TestCreatePlan_DuplicateCode(t *testing.T) {
	svc, node := newService(t)
	tenantID := node.Generate()

	_, err := svc.CreatePlan(context.Background(), tenantID, tariffdomain.CreatePlanRequest{Name: "Night Owl"})
	require.NoError(t, err)

	_, err = svc.CreatePlan(context.Background(), tenantID, tariffdomain.CreatePlanRequest{Name: "Night Owl"})
	assert.ErrorIs(t, err, tariffdomain.ErrDuplicateCode)
}

func TestCreatePlan_Validation(t *testing.T) {
	svc, node := newService(t)
	tenantID := node.Generate()
	ctx := context.Background()

	_, err := svc.CreatePlan(ctx, 0, tariffdomain.CreatePlanRequest{Name: "x"})
	assert.ErrorIs(t, err, tariffdomain.ErrInvalidTenant)

	_, err = svc.CreatePlan(ctx, tenantID, tariffdomain.CreatePlanRequest{Name: "  "})
	assert.ErrorIs(t, err, tariffdomain.ErrInvalidName)

	_, err = svc.CreatePlan(ctx, tenantID, tariffdomain.CreatePlanRequest{Name: "x", Status: "PAUSED"})
	assert.ErrorIs(t, err, tariffdomain.ErrInvalidStatus)

	_, err = svc.CreatePlan(ctx, tenantID, tariffdomain.CreatePlanRequest{Name: "x", ChargerID: strptr("cp-1")})
	assert.ErrorIs(t, err, tariffdomain.ErrInvalidScope)

	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	_, err = svc.CreatePlan(ctx, tenantID, tariffdomain.CreatePlanRequest{
		Name:               "x",
		EffectiveStartDate: &start,
		EffectiveEndDate:   &end,
	})
	assert.ErrorIs(t, err, tariffdomain.ErrEffectiveWindow)
}

func TestUpdatePlan(t *testing.T) {
	svc, node := newService(t)
	tenantID := node.Generate()
	ctx := context.Background()

	plan, err := svc.CreatePlan(ctx, tenantID, tariffdomain.CreatePlanRequest{Name: "Base"})
	require.NoError(t, err)

	name := "Base v2"
	disabled := tariffdomain.PlanDisabled
	updated, err := svc.UpdatePlan(ctx, tenantID, tariffdomain.UpdatePlanRequest{
		PlanID: plan.ID.String(),
		Name:   &name,
		Status: &disabled,
	})
	require.NoError(t, err)
	assert.Equal(t, "Base v2", updated.Name)
	assert.Equal(t, tariffdomain.PlanDisabled, updated.Status)

	_, err = svc.UpdatePlan(ctx, tenantID, tariffdomain.UpdatePlanRequest{PlanID: node.Generate().String()})
	assert.ErrorIs(t, err, tariffdomain.ErrPlanNotFound)

	_, err = svc.UpdatePlan(ctx, node.Generate(), tariffdomain.UpdatePlanRequest{PlanID: plan.ID.String()})
	assert.ErrorIs(t, err, tariffdomain.ErrPlanNotFound, "plans are tenant scoped")
}

func TestSaveSegments_RoundTrip(t *testing.T) {
	svc, node := newService(t)
	tenantID := node.Generate()
	ctx := context.Background()

	plan, err := svc.CreatePlan(ctx, tenantID, tariffdomain.CreatePlanRequest{Name: "TOU"})
	require.NoError(t, err)

	inputs := []tariffdomain.SegmentInput{
		{SegmentIndex: 2, StartTime: "08:00", EndTime: "24:00", EnergyPrice: dec("1.20"), ServiceFee: dec("0.30")},
		{SegmentIndex: 1, StartTime: "00:00", EndTime: "08:00", EnergyPrice: dec("0.40"), ServiceFee: dec("0.10")},
	}
	require.NoError(t, svc.SaveSegments(ctx, tenantID, plan.ID, inputs))

	segments, err := svc.GetSegments(ctx, tenantID, plan.ID)
	require.NoError(t, err)
	require.Len(t, segments, 2)
	assert.Equal(t, int32(1), segments[0].SegmentIndex)
	assert.Equal(t, "00:00", segments[0].StartTime)
	assert.True(t, segments[0].EnergyPrice.Equal(dec("0.40")))
	assert.Equal(t, int32(2), segments[1].SegmentIndex)
	assert.Equal(t, "24:00", segments[1].EndTime)

	// Replacement is atomic: the old set disappears in the same call.
	require.NoError(t, svc.SaveSegments(ctx, tenantID, plan.ID, []tariffdomain.SegmentInput{
		{SegmentIndex: 1, StartTime: "00:00", EndTime: "24:00", EnergyPrice: dec("0.80")},
	}))
	segments, err = svc.GetSegments(ctx, tenantID, plan.ID)
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.True(t, segments[0].EnergyPrice.Equal(dec("0.80")))
}

func TestSaveSegments_UnknownPlan(t *testing.T) {
	svc, node := newService(t)
	tenantID := node.Generate()

	err := svc.SaveSegments(context.Background(), tenantID, node.Generate(), []tariffdomain.SegmentInput{
		{SegmentIndex: 1, StartTime: "00:00", EndTime: "24:00", EnergyPrice: dec("1")},
	})
	assert.ErrorIs(t, err, tariffdomain.ErrPlanNotFound)
}

func TestValidateSegments(t *testing.T) {
	planID := snowflake.ID(1)

	t.Run("overlap", func(t *testing.T) {
		_, err := ValidateSegments(planID, []tariffdomain.SegmentInput{
			{SegmentIndex: 1, StartTime: "00:00", EndTime: "10:00", EnergyPrice: dec("1")},
			{SegmentIndex: 2, StartTime: "09:00", EndTime: "24:00", EnergyPrice: dec("1")},
		}, false)
		assert.ErrorIs(t, err, tariffdomain.ErrSegmentOverlap)
	})

	t.Run("gap rejected when full day required", func(t *testing.T) {
		_, err := ValidateSegments(planID, []tariffdomain.SegmentInput{
			{SegmentIndex: 1, StartTime: "00:00", EndTime: "10:00", EnergyPrice: dec("1")},
			{SegmentIndex: 2, StartTime: "12:00", EndTime: "24:00", EnergyPrice: dec("1")},
		}, true)
		assert.ErrorIs(t, err, tariffdomain.ErrIncompleteDayCoverage)
	})

	t.Run("gap allowed otherwise", func(t *testing.T) {
		rows, err := ValidateSegments(planID, []tariffdomain.SegmentInput{
			{SegmentIndex: 1, StartTime: "00:00", EndTime: "10:00", EnergyPrice: dec("1")},
			{SegmentIndex: 2, StartTime: "12:00", EndTime: "24:00", EnergyPrice: dec("1")},
		}, false)
		require.NoError(t, err)
		assert.Len(t, rows, 2)
	})

	t.Run("duplicate index", func(t *testing.T) {
		_, err := ValidateSegments(planID, []tariffdomain.SegmentInput{
			{SegmentIndex: 1, StartTime: "00:00", EndTime: "10:00", EnergyPrice: dec("1")},
			{SegmentIndex: 1, StartTime: "10:00", EndTime: "24:00", EnergyPrice: dec("1")},
		}, false)
		assert.ErrorIs(t, err, tariffdomain.ErrInvalidSegment)
	})

	t.Run("end before start", func(t *testing.T) {
		_, err := ValidateSegments(planID, []tariffdomain.SegmentInput{
			{SegmentIndex: 1, StartTime: "10:00", EndTime: "08:00", EnergyPrice: dec("1")},
		}, false)
		assert.ErrorIs(t, err, tariffdomain.ErrInvalidSegment)
	})

	t.Run("negative price", func(t *testing.T) {
		_, err := ValidateSegments(planID, []tariffdomain.SegmentInput{
			{SegmentIndex: 1, StartTime: "00:00", EndTime: "24:00", EnergyPrice: dec("-0.01")},
		}, false)
		assert.ErrorIs(t, err, tariffdomain.ErrNegativePrice)
	})

	t.Run("too many", func(t *testing.T) {
		inputs := make([]tariffdomain.SegmentInput, tariffdomain.MaxSegmentsPerPlan+1)
		for i := range inputs {
			inputs[i] = tariffdomain.SegmentInput{
				SegmentIndex: int32(i + 1),
				StartTime:    "00:00",
				EndTime:      "00:15",
				EnergyPrice:  dec("1"),
			}
		}
		_, err := ValidateSegments(planID, inputs, false)
		assert.ErrorIs(t, err, tariffdomain.ErrTooManySegments)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := ValidateSegments(planID, nil, false)
		assert.ErrorIs(t, err, tariffdomain.ErrInvalidSegment)
	})

	t.Run("full quarter-hour grid", func(t *testing.T) {
		inputs := make([]tariffdomain.SegmentInput, tariffdomain.MaxSegmentsPerPlan)
		for i := range inputs {
			start := i * 15
			end := start + 15
			inputs[i] = tariffdomain.SegmentInput{
				SegmentIndex: int32(i + 1),
				StartTime:    clockString(start),
				EndTime:      clockString(end),
				EnergyPrice:  dec("1"),
			}
		}
		rows, err := ValidateSegments(planID, inputs, true)
		require.NoError(t, err)
		assert.Len(t, rows, tariffdomain.MaxSegmentsPerPlan)
	})
}

func clockString(minute int) string {
	h := minute / 60
	m := minute % 60
	const digits = "0123456789"
	return string([]byte{digits[h/10], digits[h%10], ':', digits[m/10], digits[m%10]})
}

func TestUpsertRate(t *testing.T) {
	svc, node := newService(t)
	tenantID := node.Generate()
	ctx := context.Background()

	rate, err := svc.UpsertRate(ctx, tenantID, tariffdomain.RateRequest{
		StationID: strptr("st-1"),
		FlatPrice: dec("0.50"),
	})
	require.NoError(t, err)
	assert.Equal(t, tariffdomain.RateEnabled, rate.Status)

	// A second upsert for the same station updates in place.
	updated, err := svc.UpsertRate(ctx, tenantID, tariffdomain.RateRequest{
		StationID: strptr("st-1"),
		FlatPrice: dec("0.60"),
	})
	require.NoError(t, err)
	assert.Equal(t, rate.ID, updated.ID)

	got, err := svc.GetRate(ctx, tenantID, "st-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.FlatPrice.Equal(dec("0.60")))
}

func TestUpsertRate_Validation(t *testing.T) {
	svc, node := newService(t)
	tenantID := node.Generate()
	ctx := context.Background()

	_, err := svc.UpsertRate(ctx, tenantID, tariffdomain.RateRequest{FlatPrice: dec("-1")})
	assert.ErrorIs(t, err, tariffdomain.ErrNegativePrice)

	_, err = svc.UpsertRate(ctx, tenantID, tariffdomain.RateRequest{
		TouEnabled: true,
		PeakStart:  "8am",
		PeakEnd:    "22:00",
	})
	assert.ErrorIs(t, err, tariffdomain.ErrInvalidRate)
}

func TestGetRate_TenantFallback(t *testing.T) {
	svc, node := newService(t)
	tenantID := node.Generate()
	ctx := context.Background()

	_, err := svc.UpsertRate(ctx, tenantID, tariffdomain.RateRequest{FlatPrice: dec("0.45")})
	require.NoError(t, err)

	got, err := svc.GetRate(ctx, tenantID, "st-without-rate")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Nil(t, got.StationID)
	assert.True(t, got.FlatPrice.Equal(dec("0.45")))
}
