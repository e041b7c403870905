package preload

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Big-Dao/evcs-mgr-sub002/internal/cache"
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

func (s *memShared) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.data))
	for k := range s.data {
		out = append(out, k)
	}
	return out
}

type noopBroadcast struct{}

func (noopBroadcast) Publish(context.Context, string) error { return nil }

func TestWarmHotStations(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&tariffdomain.BillingPlan{},
		&tariffdomain.BillingPlanSegment{},
		&tariffdomain.BillingRate{},
	))

	node, err := snowflake.NewNode(5)
	require.NoError(t, err)
	tenantID := node.Generate()

	stationID := "st-hot"
	now := time.Now().UTC()
	plan := &tariffdomain.BillingPlan{
		ID:        node.Generate(),
		TenantID:  tenantID,
		StationID: &stationID,
		Name:      "Hot",
		Code:      "hot",
		Status:    tariffdomain.PlanEnabled,
		IsDefault: true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, db.Create(plan).Error)
	require.NoError(t, db.Create(&tariffdomain.BillingPlanSegment{
		PlanID:       plan.ID,
		SegmentIndex: 1,
		StartTime:    "00:00",
		EndTime:      "24:00",
		EnergyPrice:  decimal.RequireFromString("1.00"),
	}).Error)

	shared := newMemShared()
	tariffCache := cache.NewTariffCache(cache.Params{
		Config: config.Config{
			CacheSharedTTL: time.Hour,
			CacheLocalTTL:  time.Minute,
			CacheOpTimeout: 100 * time.Millisecond,
		},
		DB:        db,
		Log:       zap.NewNop(),
		Repo:      tariffrepo.Provide(),
		Shared:    shared,
		Broadcast: noopBroadcast{},
		Metrics:   metrics.New(),
	})

	p := New(Params{
		Log:       zap.NewNop(),
		Cache:     tariffCache,
		TariffCfg: config.NewStaticTariffConfigHolder(config.DefaultTariffConfig()),
		Config:    config.Config{},
	})

	// A station with no plan is skipped, not fatal.
	p.WarmHotStations(context.Background(), tenantID, []string{stationID, "st-cold"})

	assert.Contains(t, shared.keys(), cache.DefaultPlanKey(stationID))
	assert.Contains(t, shared.keys(), cache.SegmentsKey(plan.ID))
	assert.NotContains(t, shared.keys(), cache.DefaultPlanKey("st-cold"))
}

func TestWarmHotStations_CancelledContextStops(t *testing.T) {
	shared := newMemShared()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&tariffdomain.BillingPlan{}, &tariffdomain.BillingPlanSegment{}, &tariffdomain.BillingRate{}))

	tariffCache := cache.NewTariffCache(cache.Params{
		Config: config.Config{
			CacheSharedTTL: time.Hour,
			CacheLocalTTL:  time.Minute,
			CacheOpTimeout: 100 * time.Millisecond,
		},
		DB:        db,
		Log:       zap.NewNop(),
		Repo:      tariffrepo.Provide(),
		Shared:    shared,
		Broadcast: noopBroadcast{},
		Metrics:   metrics.New(),
	})
	p := New(Params{
		Log:       zap.NewNop(),
		Cache:     tariffCache,
		TariffCfg: config.NewStaticTariffConfigHolder(config.DefaultTariffConfig()),
		Config:    config.Config{},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.WarmHotStations(ctx, 1, []string{"st-1", "st-2"})
	assert.Empty(t, shared.keys())
}
