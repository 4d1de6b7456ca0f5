package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"glicko-ladder/internal/constants"
	"glicko-ladder/internal/domain"

	"github.com/rs/zerolog"
)

type PlayerRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewPlayerRepository(sqlDB *sql.DB, logger zerolog.Logger) *PlayerRepository {
	return &PlayerRepository{db: sqlDB, logger: logger}
}

const playerColumns = `id, name, rating, rd, volatility, has_played_this_season, created_at, updated_at`

func scanPlayer(row interface{ Scan(...any) error }) (*domain.Player, error) {
	var p domain.Player
	var rating, rd, volatility sql.NullFloat64
	if err := row.Scan(&p.ID, &p.Name, &rating, &rd, &volatility, &p.HasPlayedThisSeason, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if rating.Valid {
		p.Rating = &rating.Float64
	}
	if rd.Valid {
		p.RD = &rd.Float64
	}
	if volatility.Valid {
		p.Volatility = &volatility.Float64
	}
	return &p, nil
}

func (r *PlayerRepository) Create(ctx context.Context, name string) (int64, error) {
	now := time.Now()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO players (name, has_played_this_season, created_at, updated_at)
		VALUES (?, 0, ?, ?)
	`, name, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to create player: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read player id: %w", err)
	}
	return id, nil
}

func (r *PlayerRepository) Get(ctx context.Context, id int64) (*domain.Player, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+playerColumns+` FROM players WHERE id = ?`, id)
	p, err := scanPlayer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("player %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get player %d: %w", id, err)
	}
	return p, nil
}

func (r *PlayerRepository) List(ctx context.Context) ([]domain.Player, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+playerColumns+` FROM players ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	defer rows.Close()
	return collectPlayers(rows)
}

// ListActive returns players holding a rating in the current season, ranked
// by rating descending.
func (r *PlayerRepository) ListActive(ctx context.Context) ([]domain.Player, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+playerColumns+` FROM players
		WHERE rating IS NOT NULL
		ORDER BY rating DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active players: %w", err)
	}
	defer rows.Close()
	return collectPlayers(rows)
}

func collectPlayers(rows *sql.Rows) ([]domain.Player, error) {
	var players []domain.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan player: %w", err)
		}
		players = append(players, *p)
	}
	return players, rows.Err()
}

// SyncRating writes the cached rating values for one player. Only the
// recalculation engine and season transitions may call this; the event log
// stays authoritative.
func (r *PlayerRepository) SyncRating(ctx context.Context, id int64, rating, rd, volatility float64, hasPlayed bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE players
		SET rating = ?, rd = ?, volatility = ?, has_played_this_season = ?, updated_at = ?
		WHERE id = ?
	`, rating, rd, volatility, hasPlayed, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to sync rating for player %d: %w", id, err)
	}
	return nil
}

// ClearRatings marks every player inactive: null rating state, season flag
// reset. Used when archiving a season.
func (r *PlayerRepository) ClearRatings(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE players
		SET rating = NULL, rd = NULL, volatility = NULL,
		    has_played_this_season = 0, updated_at = ?
	`, time.Now())
	if err != nil {
		return fmt.Errorf("failed to clear player ratings: %w", err)
	}
	return nil
}

// RestoreRatings bulk-loads cached ratings from season snapshots.
func (r *PlayerRepository) RestoreRatings(ctx context.Context, snapshots []domain.SeasonPlayerSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	for i := 0; i < len(snapshots); i += constants.DBBatchSize {
		end := i + constants.DBBatchSize
		if end > len(snapshots) {
			end = len(snapshots)
		}

		for _, snap := range snapshots[i:end] {
			_, err := tx.ExecContext(ctx, `
				UPDATE players
				SET rating = ?, rd = ?, volatility = ?,
				    has_played_this_season = ?, updated_at = ?
				WHERE id = ?
			`, snap.Rating, snap.RD, snap.Volatility, snap.MatchesPlayed > 0, now, snap.PlayerID)
			if err != nil {
				return fmt.Errorf("failed to restore rating for player %d: %w", snap.PlayerID, err)
			}
		}
	}

	return tx.Commit()
}
