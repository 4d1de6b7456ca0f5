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

type SeasonRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewSeasonRepository(sqlDB *sql.DB, logger zerolog.Logger) *SeasonRepository {
	return &SeasonRepository{db: sqlDB, logger: logger}
}

const seasonColumns = `id, name, status, started_at, ended_at`

func scanSeason(row interface{ Scan(...any) error }) (*domain.Season, error) {
	var s domain.Season
	var ended sql.NullTime
	if err := row.Scan(&s.ID, &s.Name, &s.Status, &s.StartedAt, &ended); err != nil {
		return nil, err
	}
	if ended.Valid {
		s.EndedAt = &ended.Time
	}
	return &s, nil
}

// GetActive returns the single active season. Finding zero or more than one
// active row means the season-identity invariant has been violated.
func (r *SeasonRepository) GetActive(ctx context.Context) (*domain.Season, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+seasonColumns+` FROM seasons WHERE status = ?
	`, domain.SeasonActive)
	if err != nil {
		return nil, fmt.Errorf("failed to query active season: %w", err)
	}
	defer rows.Close()

	var active []domain.Season
	for rows.Next() {
		s, err := scanSeason(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan season: %w", err)
		}
		active = append(active, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch len(active) {
	case 1:
		if active[0].ID != domain.ActiveSeasonID {
			return nil, fmt.Errorf("%w: active season has id %d, want %d",
				domain.ErrConsistency, active[0].ID, domain.ActiveSeasonID)
		}
		return &active[0], nil
	case 0:
		return nil, fmt.Errorf("%w: no active season", domain.ErrConsistency)
	default:
		return nil, fmt.Errorf("%w: %d seasons claim active status", domain.ErrConsistency, len(active))
	}
}

func (r *SeasonRepository) Get(ctx context.Context, id int64) (*domain.Season, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+seasonColumns+` FROM seasons WHERE id = ?`, id)
	s, err := scanSeason(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("season %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get season %d: %w", id, err)
	}
	return s, nil
}

func (r *SeasonRepository) List(ctx context.Context) ([]domain.Season, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+seasonColumns+` FROM seasons ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list seasons: %w", err)
	}
	defer rows.Close()

	var seasons []domain.Season
	for rows.Next() {
		s, err := scanSeason(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan season: %w", err)
		}
		seasons = append(seasons, *s)
	}
	return seasons, rows.Err()
}

// NextArchivedID allocates the next permanent season id.
func (r *SeasonRepository) NextArchivedID(ctx context.Context) (int64, error) {
	var maxID sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT MAX(id) FROM seasons WHERE status = ?
	`, domain.SeasonArchived).Scan(&maxID)
	if err != nil {
		return 0, fmt.Errorf("failed to find max archived season id: %w", err)
	}
	if !maxID.Valid {
		return 1, nil
	}
	return maxID.Int64 + 1, nil
}

func (r *SeasonRepository) Insert(ctx context.Context, s domain.Season) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO seasons (id, name, status, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?)
	`, s.ID, s.Name, s.Status, s.StartedAt, nullableTime(s.EndedAt))
	if err != nil {
		return fmt.Errorf("%w: failed to insert season %d: %v", domain.ErrPersistence, s.ID, err)
	}
	return nil
}

// Reidentify moves a season row from one id to another, flipping status and
// end date in the same statement. This is the primitive season transitions
// are built from: the active slot is an identity, not a row.
func (r *SeasonRepository) Reidentify(ctx context.Context, oldID, newID int64, status domain.SeasonStatus, endedAt *time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE seasons SET id = ?, status = ?, ended_at = ? WHERE id = ?
	`, newID, status, nullableTime(endedAt), oldID)
	if err != nil {
		return fmt.Errorf("%w: failed to reidentify season %d as %d: %v", domain.ErrPersistence, oldID, newID, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("season %d: %w", oldID, domain.ErrNotFound)
	}
	r.logger.Info().
		Int64("old_id", oldID).
		Int64("new_id", newID).
		Str("status", string(status)).
		Msg("season reidentified")
	return nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func (r *SeasonRepository) InsertSnapshots(ctx context.Context, snapshots []domain.SeasonPlayerSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", domain.ErrPersistence, err)
	}
	defer tx.Rollback()

	for i := 0; i < len(snapshots); i += constants.DBBatchSize {
		end := i + constants.DBBatchSize
		if end > len(snapshots) {
			end = len(snapshots)
		}

		for _, snap := range snapshots[i:end] {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO season_player_snapshots
					(season_id, player_id, rating, rd, volatility, matches_played, final_rank)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, snap.SeasonID, snap.PlayerID, snap.Rating, snap.RD, snap.Volatility,
				snap.MatchesPlayed, snap.FinalRank)
			if err != nil {
				return fmt.Errorf("%w: failed to insert snapshot for player %d: %v",
					domain.ErrPersistence, snap.PlayerID, err)
			}
		}
	}

	return tx.Commit()
}

// ListSnapshots returns a season's final standings ordered by rank.
func (r *SeasonRepository) ListSnapshots(ctx context.Context, seasonID int64) ([]domain.SeasonPlayerSnapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT season_id, player_id, rating, rd, volatility, matches_played, final_rank
		FROM season_player_snapshots
		WHERE season_id = ?
		ORDER BY final_rank ASC
	`, seasonID)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots for season %d: %w", seasonID, err)
	}
	defer rows.Close()

	var snapshots []domain.SeasonPlayerSnapshot
	for rows.Next() {
		var s domain.SeasonPlayerSnapshot
		err := rows.Scan(&s.SeasonID, &s.PlayerID, &s.Rating, &s.RD, &s.Volatility,
			&s.MatchesPlayed, &s.FinalRank)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}

func (r *SeasonRepository) DeleteSnapshots(ctx context.Context, seasonID int64) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM season_player_snapshots WHERE season_id = ?
	`, seasonID)
	if err != nil {
		return fmt.Errorf("%w: failed to delete snapshots for season %d: %v", domain.ErrPersistence, seasonID, err)
	}
	return nil
}
