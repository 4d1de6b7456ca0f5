package service

import (
	"context"
	"fmt"
	"time"

	"glicko-ladder/internal/config"
	"glicko-ladder/internal/constants"
	"glicko-ladder/internal/domain"
	"glicko-ladder/internal/glicko"
	"glicko-ladder/internal/repository"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// RecalcService rebuilds a season's rating log by replaying its completed
// matches, in id order, through the Glicko-2 update. The event log is the
// source of truth; players' cached ratings are a materialized view resynced
// at the end of every pass.
type RecalcService struct {
	players   *repository.PlayerRepository
	matches   *repository.MatchRepository
	events    *repository.RatingEventRepository
	batchSize int
	logger    zerolog.Logger
}

func NewRecalcService(
	players *repository.PlayerRepository,
	matches *repository.MatchRepository,
	events *repository.RatingEventRepository,
	cfg *config.Config,
	logger zerolog.Logger,
) *RecalcService {
	return &RecalcService{
		players:   players,
		matches:   matches,
		events:    events,
		batchSize: cfg.EventBatchSize,
		logger:    logger,
	}
}

// playerState is the per-player accumulator threaded through the sweep. The
// working rating always comes from here, never re-read from storage, so the
// pass stays strictly path-dependent on match order.
type playerState struct {
	rating        glicko.Rating
	matchesPlayed int
}

// Recalculate replays seasonID's completed matches from scratch: delete the
// season's events, anchor every player with a reset event, sweep matches in
// ascending id order, persist events in bounded batches, then resync cached
// ratings and denormalized match deltas.
//
// A persistence failure aborts the pass with no retry; because the pass
// always clears before rebuilding, invoking it again is the recovery path.
// Callers must not run two passes for the same season concurrently.
func (s *RecalcService) Recalculate(ctx context.Context, seasonID int64, reason string, onProgress domain.ProgressFunc) error {
	runID, err := gonanoid.New()
	if err != nil {
		return fmt.Errorf("failed to generate run id: %w", err)
	}
	runLogger := s.logger.With().Str("run_id", runID).Int64("season_id", seasonID).Logger()

	report := func(p domain.RecalcProgress) {
		if onProgress != nil {
			p.RunID = runID
			p.SeasonID = seasonID
			onProgress(p)
		}
	}

	fail := func(processed, total int, err error) error {
		runLogger.Error().Err(err).Msg("recalculation failed")
		report(domain.RecalcProgress{
			TotalMatches:     total,
			ProcessedMatches: processed,
			Status:           domain.RecalcError,
			Err:              err.Error(),
		})
		return err
	}

	start := time.Now()
	runLogger.Info().Str("reason", reason).Msg("recalculation started")

	var players []domain.Player
	var matches []domain.Match

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		players, err = s.players.List(gCtx)
		return err
	})
	g.Go(func() error {
		var err error
		matches, err = s.matches.ListCompletedBySeason(gCtx, seasonID)
		return err
	})
	if err := g.Wait(); err != nil {
		return fail(0, 0, fmt.Errorf("failed to load season data: %w", err))
	}

	report(domain.RecalcProgress{TotalMatches: len(matches), Status: domain.RecalcRunning})

	// The season's epoch is logically replaced from here on. Not wrapped in
	// one transaction with the rebuild; a mid-pass failure leaves a partial
	// log that the next pass clears again.
	if err := s.events.DeleteBySeason(ctx, seasonID); err != nil {
		return fail(0, len(matches), err)
	}

	states := make(map[int64]*playerState, len(players))
	var pending []domain.RatingEvent
	now := time.Now()

	for _, p := range players {
		states[p.ID] = &playerState{rating: glicko.NewRating()}
		pending = append(pending, domain.RatingEvent{
			PlayerID:        p.ID,
			Type:            domain.EventReset,
			RatingAfter:     glicko.DefaultRating,
			RDAfter:         glicko.DefaultRD,
			VolatilityAfter: glicko.DefaultVolatility,
			SeasonID:        seasonID,
			Reason:          reason,
			CreatedAt:       now,
		})
	}

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := s.events.InsertBatch(ctx, pending); err != nil {
			return err
		}
		pending = pending[:0]
		time.Sleep(constants.RecalcBatchDelay)
		return nil
	}

	type matchDelta struct {
		matchID   int64
		changeOne float64
		changeTwo float64
	}
	deltas := make([]matchDelta, 0, len(matches))

	for i, m := range matches {
		changeOne, changeTwo, err := s.applyMatch(&m, states, &pending, seasonID, reason)
		if err != nil {
			return fail(i, len(matches), err)
		}
		deltas = append(deltas, matchDelta{matchID: m.ID, changeOne: changeOne, changeTwo: changeTwo})

		if len(pending) >= s.batchSize {
			if err := flush(); err != nil {
				return fail(i, len(matches), err)
			}
		}

		report(domain.RecalcProgress{
			TotalMatches:     len(matches),
			ProcessedMatches: i + 1,
			CurrentMatchID:   m.ID,
			Status:           domain.RecalcRunning,
		})
	}

	if err := flush(); err != nil {
		return fail(len(matches), len(matches), err)
	}

	// Resync the materialized view to the final state of the sweep. The
	// cache mirrors the active season only; archived-season passes leave
	// it alone.
	if seasonID == domain.ActiveSeasonID {
		for playerID, st := range states {
			err := s.players.SyncRating(ctx, playerID,
				st.rating.Rating, st.rating.RD, st.rating.Volatility, st.matchesPlayed > 0)
			if err != nil {
				return fail(len(matches), len(matches), err)
			}
		}
	}

	for _, d := range deltas {
		if err := s.matches.SetRatingChanges(ctx, d.matchID, d.changeOne, d.changeTwo); err != nil {
			return fail(len(matches), len(matches), err)
		}
	}

	runLogger.Info().
		Int("matches", len(matches)).
		Int("players", len(players)).
		Dur("duration", time.Since(start)).
		Msg("recalculation complete")
	report(domain.RecalcProgress{
		TotalMatches:     len(matches),
		ProcessedMatches: len(matches),
		Status:           domain.RecalcComplete,
	})
	return nil
}

// applyMatch folds one match into both participants' running state and
// appends the two resulting events to the pending batch. Both updates use
// each other's pre-match state, so the order of the two within one match
// does not matter. Returns the rating changes for denormalization.
func (s *RecalcService) applyMatch(m *domain.Match, states map[int64]*playerState, pending *[]domain.RatingEvent, seasonID int64, reason string) (float64, float64, error) {
	one := stateFor(states, m.PlayerOneID)
	two := stateFor(states, m.PlayerTwoID)
	oneBefore := one.rating
	twoBefore := two.rating

	oneUpdated, err := glicko.Update(oneBefore, []glicko.Outcome{{
		OpponentRating: twoBefore.Rating,
		OpponentRD:     twoBefore.RD,
		Score:          m.ResultFor(m.PlayerOneID),
	}})
	if err != nil {
		return 0, 0, fmt.Errorf("match %d, player %d: %w", m.ID, m.PlayerOneID, err)
	}
	twoUpdated, err := glicko.Update(twoBefore, []glicko.Outcome{{
		OpponentRating: oneBefore.Rating,
		OpponentRD:     oneBefore.RD,
		Score:          m.ResultFor(m.PlayerTwoID),
	}})
	if err != nil {
		return 0, 0, fmt.Errorf("match %d, player %d: %w", m.ID, m.PlayerTwoID, err)
	}

	changeOne := oneUpdated.Rating - oneBefore.Rating
	changeTwo := twoUpdated.Rating - twoBefore.Rating
	one.rating = oneUpdated
	two.rating = twoUpdated
	one.matchesPlayed++
	two.matchesPlayed++

	matchID := m.ID
	now := time.Now()
	for _, side := range []struct {
		playerID   int64
		opponentID int64
		updated    glicko.Rating
		change     float64
	}{
		{m.PlayerOneID, m.PlayerTwoID, oneUpdated, changeOne},
		{m.PlayerTwoID, m.PlayerOneID, twoUpdated, changeTwo},
	} {
		result := m.ResultFor(side.playerID)
		opponentID := side.opponentID
		*pending = append(*pending, domain.RatingEvent{
			PlayerID:        side.playerID,
			MatchID:         &matchID,
			Type:            domain.EventMatch,
			RatingAfter:     side.updated.Rating,
			RDAfter:         side.updated.RD,
			VolatilityAfter: side.updated.Volatility,
			RatingChange:    side.change,
			OpponentID:      &opponentID,
			Result:          &result,
			SeasonID:        seasonID,
			Reason:          reason,
			CreatedAt:       now,
		})
	}
	return changeOne, changeTwo, nil
}

// stateFor returns the running state for a player, anchoring late-created
// players at the starting values.
func stateFor(states map[int64]*playerState, playerID int64) *playerState {
	st, ok := states[playerID]
	if !ok {
		st = &playerState{rating: glicko.NewRating()}
		states[playerID] = st
	}
	return st
}

// UpdateForMatch is the incremental fast path: one Glicko-2 update per
// participant against their current cached state, written straight to the
// cache without touching the event log. Valid only when the match is the
// most recent completed one for both participants; anything older must go
// through Recalculate or the cache drifts from the log.
func (s *RecalcService) UpdateForMatch(ctx context.Context, matchID int64) error {
	m, err := s.matches.Get(ctx, matchID)
	if err != nil {
		return err
	}
	if !m.Completed() {
		return fmt.Errorf("%w: match %d is not completed", domain.ErrValidation, matchID)
	}

	later, err := s.matches.HasLaterCompleted(ctx, m.ID, m.PlayerOneID, m.PlayerTwoID)
	if err != nil {
		return err
	}
	if later {
		return fmt.Errorf("%w: match %d is not the latest for both participants, full recalculation required",
			domain.ErrValidation, matchID)
	}

	one, err := s.players.Get(ctx, m.PlayerOneID)
	if err != nil {
		return err
	}
	two, err := s.players.Get(ctx, m.PlayerTwoID)
	if err != nil {
		return err
	}

	oneRating := cachedOrDefault(one)
	twoRating := cachedOrDefault(two)

	oneUpdated, err := glicko.Update(oneRating, []glicko.Outcome{{
		OpponentRating: twoRating.Rating,
		OpponentRD:     twoRating.RD,
		Score:          m.ResultFor(m.PlayerOneID),
	}})
	if err != nil {
		return fmt.Errorf("match %d, player %d: %w", m.ID, m.PlayerOneID, err)
	}
	twoUpdated, err := glicko.Update(twoRating, []glicko.Outcome{{
		OpponentRating: oneRating.Rating,
		OpponentRD:     oneRating.RD,
		Score:          m.ResultFor(m.PlayerTwoID),
	}})
	if err != nil {
		return fmt.Errorf("match %d, player %d: %w", m.ID, m.PlayerTwoID, err)
	}

	if err := s.players.SyncRating(ctx, one.ID, oneUpdated.Rating, oneUpdated.RD, oneUpdated.Volatility, true); err != nil {
		return err
	}
	if err := s.players.SyncRating(ctx, two.ID, twoUpdated.Rating, twoUpdated.RD, twoUpdated.Volatility, true); err != nil {
		return err
	}

	changeOne := oneUpdated.Rating - oneRating.Rating
	changeTwo := twoUpdated.Rating - twoRating.Rating
	if err := s.matches.SetRatingChanges(ctx, m.ID, changeOne, changeTwo); err != nil {
		return err
	}

	s.logger.Info().
		Int64("match_id", m.ID).
		Float64("change_one", changeOne).
		Float64("change_two", changeTwo).
		Msg("incremental rating update applied")
	return nil
}

func cachedOrDefault(p *domain.Player) glicko.Rating {
	if !p.HasRating() {
		return glicko.NewRating()
	}
	return glicko.Rating{Rating: *p.Rating, RD: *p.RD, Volatility: *p.Volatility}
}
