package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"glicko-ladder/internal/domain"

	"github.com/rs/zerolog"
)

type MatchRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewMatchRepository(sqlDB *sql.DB, logger zerolog.Logger) *MatchRepository {
	return &MatchRepository{db: sqlDB, logger: logger}
}

const matchColumns = `id, player_one_id, player_two_id, winner_id, score_one, score_two,
	season_id, rating_change_one, rating_change_two, created_at, updated_at`

func scanMatch(row interface{ Scan(...any) error }) (*domain.Match, error) {
	var m domain.Match
	var winner sql.NullInt64
	var changeOne, changeTwo sql.NullFloat64
	err := row.Scan(&m.ID, &m.PlayerOneID, &m.PlayerTwoID, &winner, &m.ScoreOne, &m.ScoreTwo,
		&m.SeasonID, &changeOne, &changeTwo, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if winner.Valid {
		m.WinnerID = &winner.Int64
	}
	if changeOne.Valid {
		m.RatingChangeOne = &changeOne.Float64
	}
	if changeTwo.Valid {
		m.RatingChangeTwo = &changeTwo.Float64
	}
	return &m, nil
}

func (r *MatchRepository) Create(ctx context.Context, playerOneID, playerTwoID, seasonID int64) (int64, error) {
	now := time.Now()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO matches (player_one_id, player_two_id, season_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, playerOneID, playerTwoID, seasonID, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to create match: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read match id: %w", err)
	}
	return id, nil
}

func (r *MatchRepository) Get(ctx context.Context, id int64) (*domain.Match, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = ?`, id)
	m, err := scanMatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("match %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get match %d: %w", id, err)
	}
	return m, nil
}

func (r *MatchRepository) ListBySeason(ctx context.Context, seasonID int64) ([]domain.Match, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+matchColumns+` FROM matches WHERE season_id = ? ORDER BY id
	`, seasonID)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches for season %d: %w", seasonID, err)
	}
	defer rows.Close()
	return collectMatches(rows)
}

// ListCompletedBySeason is the match ledger: completed matches in ascending
// id order, which is the chronological order rating updates must follow.
func (r *MatchRepository) ListCompletedBySeason(ctx context.Context, seasonID int64) ([]domain.Match, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+matchColumns+` FROM matches
		WHERE season_id = ? AND winner_id IS NOT NULL
		ORDER BY id ASC
	`, seasonID)
	if err != nil {
		return nil, fmt.Errorf("failed to list completed matches for season %d: %w", seasonID, err)
	}
	defer rows.Close()
	return collectMatches(rows)
}

func collectMatches(rows *sql.Rows) ([]domain.Match, error) {
	var matches []domain.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, *m)
	}
	return matches, rows.Err()
}

func (r *MatchRepository) Complete(ctx context.Context, id, winnerID int64, scoreOne, scoreTwo int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE matches
		SET winner_id = ?, score_one = ?, score_two = ?, updated_at = ?
		WHERE id = ?
	`, winnerID, scoreOne, scoreTwo, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to complete match %d: %w", id, err)
	}
	return nil
}

// RevertToUpcoming clears the winner, scores and denormalized deltas so the
// match reads as not yet played.
func (r *MatchRepository) RevertToUpcoming(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE matches
		SET winner_id = NULL, score_one = 0, score_two = 0,
		    rating_change_one = NULL, rating_change_two = NULL, updated_at = ?
		WHERE id = ?
	`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to revert match %d: %w", id, err)
	}
	return nil
}

func (r *MatchRepository) SetRatingChanges(ctx context.Context, id int64, changeOne, changeTwo float64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE matches
		SET rating_change_one = ?, rating_change_two = ?, updated_at = ?
		WHERE id = ?
	`, changeOne, changeTwo, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set rating changes for match %d: %w", id, err)
	}
	return nil
}

// HasLaterCompleted reports whether any completed match with an id strictly
// greater than matchID involves either of the given players.
func (r *MatchRepository) HasLaterCompleted(ctx context.Context, matchID, playerOneID, playerTwoID int64) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM matches
		WHERE id > ? AND winner_id IS NOT NULL
		  AND (player_one_id IN (?, ?) OR player_two_id IN (?, ?))
	`, matchID, playerOneID, playerTwoID, playerOneID, playerTwoID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check later matches for %d: %w", matchID, err)
	}
	return count > 0, nil
}

// RepointSeason moves every match tagged fromSeason to toSeason. Season
// transitions use this to keep matches attached to the id that currently
// owns their epoch.
func (r *MatchRepository) RepointSeason(ctx context.Context, fromSeason, toSeason int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE matches SET season_id = ?, updated_at = ? WHERE season_id = ?
	`, toSeason, time.Now(), fromSeason)
	if err != nil {
		return fmt.Errorf("failed to repoint matches from season %d to %d: %w", fromSeason, toSeason, err)
	}
	if n, err := res.RowsAffected(); err == nil {
		r.logger.Debug().
			Int64("from_season", fromSeason).
			Int64("to_season", toSeason).
			Int64("matches", n).
			Msg("repointed matches")
	}
	return nil
}
