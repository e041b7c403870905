package rating

import (
	"github.com/Big-Dao/evcs-mgr-sub002/internal/rating/service"
	"go.uber.org/fx"
)

var Module = fx.Module("rating.service",
	fx.Provide(service.New),
)
