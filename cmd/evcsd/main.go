package main

import (
	"github.com/Big-Dao/evcs-mgr-sub002/internal/cache"
	"github.com/Big-Dao/evcs-mgr-sub002/internal/clock"
	"github.com/Big-Dao/evcs-mgr-sub002/internal/config"
	"github.com/Big-Dao/evcs-mgr-sub002/internal/invalidation"
	"github.com/Big-Dao/evcs-mgr-sub002/internal/logger"
	"github.com/Big-Dao/evcs-mgr-sub002/internal/migration"
	"github.com/Big-Dao/evcs-mgr-sub002/internal/observability"
	"github.com/Big-Dao/evcs-mgr-sub002/internal/preload"
	"github.com/Big-Dao/evcs-mgr-sub002/internal/rating"
	ratingdomain "github.com/Big-Dao/evcs-mgr-sub002/internal/rating/domain"
	"github.com/Big-Dao/evcs-mgr-sub002/internal/tariff"
	tariffdomain "github.com/Big-Dao/evcs-mgr-sub002/internal/tariff/domain"
	"github.com/Big-Dao/evcs-mgr-sub002/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		fx.Provide(config.Load),
		fx.Provide(config.NewTariffConfigHolder),
		fx.Provide(RegisterSnowflake),
		logger.Module,
		observability.Module,
		db.Module,
		clock.Module,
		migration.Module,

		// Tariff core
		cache.Module,
		invalidation.Module,
		tariff.Module,
		rating.Module,
		preload.Module,

		// The transport layers (OCPP consumers, admin API) live in sibling
		// services; constructing the core surfaces here keeps wiring errors
		// a startup failure instead of a first-request failure.
		fx.Invoke(func(ratingdomain.Service, tariffdomain.Service) {}),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
