package observability

import (
	"github.com/Big-Dao/evcs-mgr-sub002/internal/observability/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(metrics.New),
	fx.Invoke(func(m *metrics.Metrics) error {
		return m.Register(prometheus.DefaultRegisterer)
	}),
)
