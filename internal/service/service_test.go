package service

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"glicko-ladder/internal/config"
	"glicko-ladder/internal/database"
	"glicko-ladder/internal/domain"
	"glicko-ladder/internal/repository"

	"github.com/rs/zerolog"
)

type testEnv struct {
	db       *sql.DB
	players  *repository.PlayerRepository
	matches  *repository.MatchRepository
	events   *repository.RatingEventRepository
	seasons  *repository.SeasonRepository
	recalc   *RecalcService
	rollback *RollbackService
	season   *SeasonService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	nop := zerolog.Nop()
	players := repository.NewPlayerRepository(db, nop)
	matches := repository.NewMatchRepository(db, nop)
	events := repository.NewRatingEventRepository(db, nop)
	seasons := repository.NewSeasonRepository(db, nop)
	cfg := &config.Config{EventBatchSize: 100}
	recalc := NewRecalcService(players, matches, events, cfg, nop)
	rollback := NewRollbackService(matches, events, recalc, nop)
	season := NewSeasonService(seasons, players, matches, events, recalc, nop)

	return &testEnv{
		db:       db,
		players:  players,
		matches:  matches,
		events:   events,
		seasons:  seasons,
		recalc:   recalc,
		rollback: rollback,
		season:   season,
	}
}

func (e *testEnv) createPlayer(t *testing.T, name string) int64 {
	t.Helper()
	id, err := e.players.Create(context.Background(), name)
	if err != nil {
		t.Fatalf("create player %s: %v", name, err)
	}
	return id
}

// playMatch creates and immediately completes a match; winner 0 is a draw.
func (e *testEnv) playMatch(t *testing.T, playerOne, playerTwo, winner int64) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := e.matches.Create(ctx, playerOne, playerTwo, domain.ActiveSeasonID)
	if err != nil {
		t.Fatalf("create match: %v", err)
	}
	scoreOne, scoreTwo := 2, 0
	if winner == playerTwo {
		scoreOne, scoreTwo = 0, 2
	}
	if err := e.matches.Complete(ctx, id, winner, scoreOne, scoreTwo); err != nil {
		t.Fatalf("complete match: %v", err)
	}
	return id
}

func (e *testEnv) mustGetPlayer(t *testing.T, id int64) *domain.Player {
	t.Helper()
	p, err := e.players.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get player %d: %v", id, err)
	}
	return p
}

func (e *testEnv) rating(t *testing.T, playerID int64) float64 {
	t.Helper()
	p := e.mustGetPlayer(t, playerID)
	if p.Rating == nil {
		t.Fatalf("player %d has no cached rating", playerID)
	}
	return *p.Rating
}
