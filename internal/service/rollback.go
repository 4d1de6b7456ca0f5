package service

import (
	"context"
	"fmt"

	"glicko-ladder/internal/domain"
	"glicko-ladder/internal/repository"

	"github.com/rs/zerolog"
)

// RollbackService guards and performs the reversal of a completed match back
// to upcoming. Only the chronological frontier may roll back: reverting a
// match with later completed matches for either participant would invalidate
// every downstream rating event with no defined correction.
type RollbackService struct {
	matches *repository.MatchRepository
	events  *repository.RatingEventRepository
	recalc  *RecalcService
	logger  zerolog.Logger
}

func NewRollbackService(
	matches *repository.MatchRepository,
	events *repository.RatingEventRepository,
	recalc *RecalcService,
	logger zerolog.Logger,
) *RollbackService {
	return &RollbackService{matches: matches, events: events, recalc: recalc, logger: logger}
}

// Eligibility is the verdict on whether a match may roll back, with a
// human-readable reason when it may not.
type Eligibility struct {
	Allowed bool
	Reason  string
}

// CanRollback reports whether matchID may revert to upcoming: it must be
// completed and no completed match with a strictly greater id may involve
// either participant.
func (s *RollbackService) CanRollback(ctx context.Context, matchID int64) (Eligibility, error) {
	m, err := s.matches.Get(ctx, matchID)
	if err != nil {
		return Eligibility{}, err
	}
	if !m.Completed() {
		return Eligibility{Allowed: false, Reason: "match is not completed"}, nil
	}

	later, err := s.matches.HasLaterCompleted(ctx, m.ID, m.PlayerOneID, m.PlayerTwoID)
	if err != nil {
		return Eligibility{}, err
	}
	if later {
		return Eligibility{
			Allowed: false,
			Reason:  "a participant has a later completed match",
		}, nil
	}
	return Eligibility{Allowed: true}, nil
}

// Rollback reverts a completed match to upcoming: delete its rating events,
// clear winner/scores/deltas, then run a full recalculation for its season.
// The full pass is deliberate; surgically re-deriving downstream events is
// exactly the bug class the guard exists to avoid.
func (s *RollbackService) Rollback(ctx context.Context, matchID int64) error {
	eligibility, err := s.CanRollback(ctx, matchID)
	if err != nil {
		return err
	}
	if !eligibility.Allowed {
		return fmt.Errorf("%w: cannot roll back match %d: %s", domain.ErrValidation, matchID, eligibility.Reason)
	}

	m, err := s.matches.Get(ctx, matchID)
	if err != nil {
		return err
	}

	if err := s.events.DeleteByMatch(ctx, matchID); err != nil {
		return err
	}
	if err := s.matches.RevertToUpcoming(ctx, matchID); err != nil {
		return err
	}

	s.logger.Info().Int64("match_id", matchID).Int64("season_id", m.SeasonID).Msg("match rolled back")

	return s.recalc.Recalculate(ctx, m.SeasonID, fmt.Sprintf("rollback of match %d", matchID), nil)
}
