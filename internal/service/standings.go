package service

import (
	"context"

	"glicko-ladder/internal/constants"
	"glicko-ladder/internal/domain"
	"glicko-ladder/internal/repository"

	"github.com/rs/zerolog"
)

// StandingsService is the read model over the ladder: current standings from
// the cached ratings and per-player history from the event log.
type StandingsService struct {
	players *repository.PlayerRepository
	events  *repository.RatingEventRepository
	seasons *repository.SeasonRepository
	logger  zerolog.Logger
}

func NewStandingsService(
	players *repository.PlayerRepository,
	events *repository.RatingEventRepository,
	seasons *repository.SeasonRepository,
	logger zerolog.Logger,
) *StandingsService {
	return &StandingsService{players: players, events: events, seasons: seasons, logger: logger}
}

type Standing struct {
	Rank   int
	Player domain.Player
}

// CurrentStandings ranks active players by cached rating descending.
func (s *StandingsService) CurrentStandings(ctx context.Context) ([]Standing, error) {
	rated, err := s.players.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	if len(rated) > constants.StandingsLimit {
		rated = rated[:constants.StandingsLimit]
	}

	standings := make([]Standing, len(rated))
	for i, p := range rated {
		standings[i] = Standing{Rank: i + 1, Player: p}
	}
	return standings, nil
}

// PlayerHistory returns a player's rating events for the current season in
// chronological order.
func (s *StandingsService) PlayerHistory(ctx context.Context, playerID int64) ([]domain.RatingEvent, error) {
	if _, err := s.players.Get(ctx, playerID); err != nil {
		return nil, err
	}
	return s.events.ListByPlayer(ctx, playerID, domain.ActiveSeasonID, constants.RatingHistoryLimit)
}

// SeasonStandings returns an archived season's frozen final standings.
func (s *StandingsService) SeasonStandings(ctx context.Context, seasonID int64) ([]domain.SeasonPlayerSnapshot, error) {
	if _, err := s.seasons.Get(ctx, seasonID); err != nil {
		return nil, err
	}
	return s.seasons.ListSnapshots(ctx, seasonID)
}

func (s *StandingsService) Seasons(ctx context.Context) ([]domain.Season, error) {
	return s.seasons.List(ctx)
}
