package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"glicko-ladder/internal/constants"
	"glicko-ladder/internal/domain"

	"github.com/rs/zerolog"
)

// RatingEventRepository is the append-only rating log. Events are inserted
// in bulk, deleted in bulk per season or per match, and never updated.
type RatingEventRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewRatingEventRepository(sqlDB *sql.DB, logger zerolog.Logger) *RatingEventRepository {
	return &RatingEventRepository{db: sqlDB, logger: logger}
}

const eventColumns = `id, player_id, match_id, event_type, rating_after, rd_after,
	volatility_after, rating_change, opponent_id, result, season_id, reason, created_at`

func scanEvent(row interface{ Scan(...any) error }) (*domain.RatingEvent, error) {
	var e domain.RatingEvent
	var matchID, opponentID sql.NullInt64
	var result sql.NullFloat64
	err := row.Scan(&e.ID, &e.PlayerID, &matchID, &e.Type, &e.RatingAfter, &e.RDAfter,
		&e.VolatilityAfter, &e.RatingChange, &opponentID, &result, &e.SeasonID, &e.Reason, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if matchID.Valid {
		e.MatchID = &matchID.Int64
	}
	if opponentID.Valid {
		e.OpponentID = &opponentID.Int64
	}
	if result.Valid {
		e.Result = &result.Float64
	}
	return &e, nil
}

// InsertBatch persists one bounded batch of events inside a transaction.
// Callers slice a pass's events into batches; a failure aborts the whole
// pass and leaves recovery to a fresh recalculation.
func (r *RatingEventRepository) InsertBatch(ctx context.Context, events []domain.RatingEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", domain.ErrPersistence, err)
	}
	defer tx.Rollback()

	for i := 0; i < len(events); i += constants.DBBatchSize {
		end := i + constants.DBBatchSize
		if end > len(events) {
			end = len(events)
		}

		for _, e := range events[i:end] {
			var matchID, opponentID any
			if e.MatchID != nil {
				matchID = *e.MatchID
			}
			if e.OpponentID != nil {
				opponentID = *e.OpponentID
			}
			var result any
			if e.Result != nil {
				result = *e.Result
			}

			_, err := tx.ExecContext(ctx, `
				INSERT INTO rating_events (player_id, match_id, event_type, rating_after,
					rd_after, volatility_after, rating_change, opponent_id, result,
					season_id, reason, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, e.PlayerID, matchID, e.Type, e.RatingAfter, e.RDAfter, e.VolatilityAfter,
				e.RatingChange, opponentID, result, e.SeasonID, e.Reason, e.CreatedAt)
			if err != nil {
				return fmt.Errorf("%w: failed to insert rating event for player %d: %v",
					domain.ErrPersistence, e.PlayerID, err)
			}
		}
	}

	return tx.Commit()
}

// DeleteBySeason wipes a season's entire event log. Recalculation always
// clears before rebuilding, which is what makes re-running it safe.
func (r *RatingEventRepository) DeleteBySeason(ctx context.Context, seasonID int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM rating_events WHERE season_id = ?`, seasonID)
	if err != nil {
		return fmt.Errorf("%w: failed to delete events for season %d: %v", domain.ErrPersistence, seasonID, err)
	}
	if n, err := res.RowsAffected(); err == nil {
		r.logger.Debug().Int64("season_id", seasonID).Int64("events", n).Msg("deleted rating events")
	}
	return nil
}

func (r *RatingEventRepository) DeleteByMatch(ctx context.Context, matchID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM rating_events WHERE match_id = ?`, matchID)
	if err != nil {
		return fmt.Errorf("%w: failed to delete events for match %d: %v", domain.ErrPersistence, matchID, err)
	}
	return nil
}

// LatestByPlayer returns the player's most recent event in the season, the
// value the cached rating must agree with.
func (r *RatingEventRepository) LatestByPlayer(ctx context.Context, playerID, seasonID int64) (*domain.RatingEvent, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+` FROM rating_events
		WHERE player_id = ? AND season_id = ?
		ORDER BY id DESC LIMIT 1
	`, playerID, seasonID)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no events for player %d in season %d: %w", playerID, seasonID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest event for player %d: %w", playerID, err)
	}
	return e, nil
}

func (r *RatingEventRepository) ListByPlayer(ctx context.Context, playerID, seasonID int64, limit int) ([]domain.RatingEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM rating_events
		WHERE player_id = ? AND season_id = ?
		ORDER BY id ASC LIMIT ?
	`, playerID, seasonID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events for player %d: %w", playerID, err)
	}
	defer rows.Close()

	var events []domain.RatingEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rating event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

func (r *RatingEventRepository) CountBySeason(ctx context.Context, seasonID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM rating_events WHERE season_id = ?
	`, seasonID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events for season %d: %w", seasonID, err)
	}
	return count, nil
}

// PlayerFinalState is a player's state after their last event in a season,
// with the number of match events that led there.
type PlayerFinalState struct {
	PlayerID      int64
	Rating        float64
	RD            float64
	Volatility    float64
	MatchesPlayed int
}

// FinalStatesBySeason returns each player's most recent event values for the
// season, ordered by final rating descending. Used to rebuild archived
// standings after a scoped recalculation.
func (r *RatingEventRepository) FinalStatesBySeason(ctx context.Context, seasonID int64) ([]PlayerFinalState, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT e.player_id, e.rating_after, e.rd_after, e.volatility_after,
		       (SELECT COUNT(*) FROM rating_events m
		        WHERE m.player_id = e.player_id AND m.season_id = e.season_id
		          AND m.event_type = 'match') AS matches_played
		FROM rating_events e
		WHERE e.season_id = ?
		  AND e.id = (SELECT MAX(id) FROM rating_events x
		              WHERE x.player_id = e.player_id AND x.season_id = e.season_id)
		ORDER BY e.rating_after DESC, e.player_id
	`, seasonID)
	if err != nil {
		return nil, fmt.Errorf("failed to load final states for season %d: %w", seasonID, err)
	}
	defer rows.Close()

	var states []PlayerFinalState
	for rows.Next() {
		var s PlayerFinalState
		if err := rows.Scan(&s.PlayerID, &s.Rating, &s.RD, &s.Volatility, &s.MatchesPlayed); err != nil {
			return nil, fmt.Errorf("failed to scan final state: %w", err)
		}
		states = append(states, s)
	}
	return states, rows.Err()
}

func (r *RatingEventRepository) RepointSeason(ctx context.Context, fromSeason, toSeason int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE rating_events SET season_id = ? WHERE season_id = ?
	`, toSeason, fromSeason)
	if err != nil {
		return fmt.Errorf("failed to repoint events from season %d to %d: %w", fromSeason, toSeason, err)
	}
	if n, err := res.RowsAffected(); err == nil {
		r.logger.Debug().
			Int64("from_season", fromSeason).
			Int64("to_season", toSeason).
			Int64("events", n).
			Msg("repointed rating events")
	}
	return nil
}
