package service

import (
	"context"
	"fmt"
	"time"

	"glicko-ladder/internal/domain"
	"glicko-ladder/internal/repository"

	"github.com/rs/zerolog"
)

// SeasonService is the season lifecycle state machine. Exactly one season is
// active and it always carries id 0; archived seasons hold permanent ids.
// Every transition is an ordered multi-step migration that re-points matches
// and rating events to whichever id currently owns their epoch.
//
// Transitions are not wrapped in a single storage transaction. Strict step
// ordering is the only protection; a crash mid-transition can leave the
// season invariant violated and needs manual repair. Callers must serialize
// transitions externally.
type SeasonService struct {
	seasons *repository.SeasonRepository
	players *repository.PlayerRepository
	matches *repository.MatchRepository
	events  *repository.RatingEventRepository
	recalc  *RecalcService
	logger  zerolog.Logger
}

func NewSeasonService(
	seasons *repository.SeasonRepository,
	players *repository.PlayerRepository,
	matches *repository.MatchRepository,
	events *repository.RatingEventRepository,
	recalc *RecalcService,
	logger zerolog.Logger,
) *SeasonService {
	return &SeasonService{
		seasons: seasons,
		players: players,
		matches: matches,
		events:  events,
		recalc:  recalc,
		logger:  logger,
	}
}

// Archive freezes the current active season under a newly allocated
// permanent id and opens a fresh empty season in the active slot. Returns
// the permanent id the old season now holds.
func (s *SeasonService) Archive(ctx context.Context, newName string) (int64, error) {
	if newName == "" {
		return 0, fmt.Errorf("%w: new season name is required", domain.ErrValidation)
	}

	archivedID, err := s.archiveActive(ctx)
	if err != nil {
		return 0, err
	}

	if err := s.seasons.Insert(ctx, domain.Season{
		ID:        domain.ActiveSeasonID,
		Name:      newName,
		Status:    domain.SeasonActive,
		StartedAt: time.Now(),
	}); err != nil {
		return 0, err
	}

	s.logger.Info().Int64("archived_id", archivedID).Str("new_season", newName).Msg("season archived")
	return archivedID, nil
}

// archiveActive runs the shared leading steps of Archive and Activate:
// snapshot rated players, move the active row to a permanent id, re-point
// its matches and events, and mark every player inactive. On return no
// season holds the active slot.
func (s *SeasonService) archiveActive(ctx context.Context) (int64, error) {
	active, err := s.seasons.GetActive(ctx)
	if err != nil {
		return 0, err
	}

	archivedID, err := s.seasons.NextArchivedID(ctx)
	if err != nil {
		return 0, err
	}

	rated, err := s.players.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	completed, err := s.matches.ListCompletedBySeason(ctx, active.ID)
	if err != nil {
		return 0, err
	}
	played := make(map[int64]int)
	for _, m := range completed {
		played[m.PlayerOneID]++
		played[m.PlayerTwoID]++
	}

	// ListActive orders by rating descending, so rank is positional.
	snapshots := make([]domain.SeasonPlayerSnapshot, 0, len(rated))
	for i, p := range rated {
		snapshots = append(snapshots, domain.SeasonPlayerSnapshot{
			SeasonID:      archivedID,
			PlayerID:      p.ID,
			Rating:        *p.Rating,
			RD:            *p.RD,
			Volatility:    *p.Volatility,
			MatchesPlayed: played[p.ID],
			FinalRank:     i + 1,
		})
	}
	if err := s.seasons.InsertSnapshots(ctx, snapshots); err != nil {
		return 0, err
	}

	now := time.Now()
	if err := s.seasons.Reidentify(ctx, active.ID, archivedID, domain.SeasonArchived, &now); err != nil {
		return 0, err
	}
	if err := s.matches.RepointSeason(ctx, domain.ActiveSeasonID, archivedID); err != nil {
		return 0, err
	}
	if err := s.events.RepointSeason(ctx, domain.ActiveSeasonID, archivedID); err != nil {
		return 0, err
	}
	if err := s.players.ClearRatings(ctx); err != nil {
		return 0, err
	}

	return archivedID, nil
}

// Activate restores an archived season into the active slot. The current
// active season is archived first, then the target's snapshots repopulate
// player ratings and the target's matches and events move back to id 0.
func (s *SeasonService) Activate(ctx context.Context, targetSeasonID int64) error {
	if targetSeasonID == domain.ActiveSeasonID {
		return fmt.Errorf("%w: season %d is already active", domain.ErrValidation, targetSeasonID)
	}

	target, err := s.seasons.Get(ctx, targetSeasonID)
	if err != nil {
		return err
	}
	if target.Status != domain.SeasonArchived {
		return fmt.Errorf("%w: season %d is not archived", domain.ErrValidation, targetSeasonID)
	}

	archivedID, err := s.archiveActive(ctx)
	if err != nil {
		return err
	}

	snapshots, err := s.seasons.ListSnapshots(ctx, targetSeasonID)
	if err != nil {
		return err
	}
	if err := s.players.RestoreRatings(ctx, snapshots); err != nil {
		return err
	}

	if err := s.seasons.Reidentify(ctx, targetSeasonID, domain.ActiveSeasonID, domain.SeasonActive, nil); err != nil {
		return err
	}
	if err := s.matches.RepointSeason(ctx, targetSeasonID, domain.ActiveSeasonID); err != nil {
		return err
	}
	if err := s.events.RepointSeason(ctx, targetSeasonID, domain.ActiveSeasonID); err != nil {
		return err
	}

	s.logger.Info().
		Int64("activated_season", targetSeasonID).
		Int64("previous_active_archived_as", archivedID).
		Msg("season activated")
	return nil
}

// CalculateForSeason replays an archived season's matches and rebuilds its
// snapshot rows ranked by final rating descending.
func (s *SeasonService) CalculateForSeason(ctx context.Context, seasonID int64) error {
	if seasonID == domain.ActiveSeasonID {
		return fmt.Errorf("%w: use a plain recalculation for the active season", domain.ErrValidation)
	}
	season, err := s.seasons.Get(ctx, seasonID)
	if err != nil {
		return err
	}
	if season.Status != domain.SeasonArchived {
		return fmt.Errorf("%w: season %d is not archived", domain.ErrValidation, seasonID)
	}

	reason := fmt.Sprintf("archived season %d rebuild", seasonID)
	if err := s.recalc.Recalculate(ctx, seasonID, reason, nil); err != nil {
		return err
	}

	finals, err := s.events.FinalStatesBySeason(ctx, seasonID)
	if err != nil {
		return err
	}

	if err := s.seasons.DeleteSnapshots(ctx, seasonID); err != nil {
		return err
	}
	snapshots := make([]domain.SeasonPlayerSnapshot, 0, len(finals))
	for i, f := range finals {
		snapshots = append(snapshots, domain.SeasonPlayerSnapshot{
			SeasonID:      seasonID,
			PlayerID:      f.PlayerID,
			Rating:        f.Rating,
			RD:            f.RD,
			Volatility:    f.Volatility,
			MatchesPlayed: f.MatchesPlayed,
			FinalRank:     i + 1,
		})
	}
	if err := s.seasons.InsertSnapshots(ctx, snapshots); err != nil {
		return err
	}

	s.logger.Info().Int64("season_id", seasonID).Int("players", len(snapshots)).Msg("archived season recalculated")
	return nil
}
