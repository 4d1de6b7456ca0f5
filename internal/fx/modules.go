package fx

import (
	"glicko-ladder/internal/config"
	"glicko-ladder/internal/database"
	"glicko-ladder/internal/logger"
	"glicko-ladder/internal/repository"
	"glicko-ladder/internal/server"
	"glicko-ladder/internal/service"

	"go.uber.org/fx"
)

var Module = fx.Options(
	fx.Provide(logger.New),
	fx.Provide(config.Load),
	fx.Provide(database.New),
	// repos
	fx.Provide(repository.NewPlayerRepository),
	fx.Provide(repository.NewMatchRepository),
	fx.Provide(repository.NewRatingEventRepository),
	fx.Provide(repository.NewSeasonRepository),
	// svc
	fx.Provide(service.NewRecalcService),
	fx.Provide(service.NewRollbackService),
	fx.Provide(service.NewSeasonService),
	fx.Provide(service.NewStandingsService),
	// server
	fx.Provide(server.NewAdminServer),
)
