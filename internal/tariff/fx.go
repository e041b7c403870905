package tariff

import (
	"github.com/Big-Dao/evcs-mgr-sub002/internal/tariff/repository"
	"github.com/Big-Dao/evcs-mgr-sub002/internal/tariff/resolver"
	"github.com/Big-Dao/evcs-mgr-sub002/internal/tariff/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tariff.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(resolver.New),
)
