package service

import (
	"context"
	"errors"
	"math"
	"testing"

	"glicko-ladder/internal/domain"
)

func (e *testEnv) seedRating(t *testing.T, playerID int64, rating float64) {
	t.Helper()
	if err := e.players.SyncRating(context.Background(), playerID, rating, 120, 0.06, true); err != nil {
		t.Fatalf("seed rating: %v", err)
	}
}

func (e *testEnv) assertSingleActiveSeason(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	active, err := e.seasons.GetActive(ctx)
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if active.ID != domain.ActiveSeasonID {
		t.Fatalf("active season id = %d, want %d", active.ID, domain.ActiveSeasonID)
	}
	all, err := e.seasons.List(ctx)
	if err != nil {
		t.Fatalf("list seasons: %v", err)
	}
	activeCount := 0
	for _, s := range all {
		if s.Status == domain.SeasonActive {
			activeCount++
		}
	}
	if activeCount != 1 {
		t.Fatalf("active seasons = %d, want exactly 1", activeCount)
	}
}

// Archiving a season with three rated players produces three snapshots
// ranked by rating descending and leaves every player unrated.
func TestArchiveSnapshotsAndResets(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.createPlayer(t, "a")
	b := env.createPlayer(t, "b")
	c := env.createPlayer(t, "c")
	env.seedRating(t, b, 1600)
	env.seedRating(t, a, 1500)
	env.seedRating(t, c, 1400)

	archivedID, err := env.season.Archive(ctx, "Season 2")
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if archivedID != 1 {
		t.Fatalf("archived id = %d, want 1", archivedID)
	}

	snapshots, err := env.seasons.ListSnapshots(ctx, archivedID)
	if err != nil {
		t.Fatalf("list snapshots: %v", err)
	}
	if len(snapshots) != 3 {
		t.Fatalf("snapshots = %d, want 3", len(snapshots))
	}
	wantOrder := []struct {
		playerID int64
		rating   float64
	}{{b, 1600}, {a, 1500}, {c, 1400}}
	for i, want := range wantOrder {
		if snapshots[i].PlayerID != want.playerID || snapshots[i].Rating != want.rating {
			t.Fatalf("rank %d = %+v, want player %d at %v", i+1, snapshots[i], want.playerID, want.rating)
		}
		if snapshots[i].FinalRank != i+1 {
			t.Fatalf("final rank = %d, want %d", snapshots[i].FinalRank, i+1)
		}
	}

	for _, id := range []int64{a, b, c} {
		if p := env.mustGetPlayer(t, id); p.HasRating() {
			t.Fatalf("player %d still rated after archive: %+v", id, p)
		}
	}

	env.assertSingleActiveSeason(t)
	archived, err := env.seasons.Get(ctx, archivedID)
	if err != nil {
		t.Fatalf("get archived: %v", err)
	}
	if archived.Status != domain.SeasonArchived || archived.EndedAt == nil {
		t.Fatalf("archived season malformed: %+v", archived)
	}
}

// Archiving re-points the active season's matches and events to the new
// permanent id.
func TestArchiveRepointsMatchesAndEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.createPlayer(t, "a")
	b := env.createPlayer(t, "b")
	env.playMatch(t, a, b, a)
	if err := env.recalc.Recalculate(ctx, domain.ActiveSeasonID, "seed", nil); err != nil {
		t.Fatalf("recalc: %v", err)
	}

	archivedID, err := env.season.Archive(ctx, "Season 2")
	if err != nil {
		t.Fatalf("archive: %v", err)
	}

	if matches, _ := env.matches.ListBySeason(ctx, domain.ActiveSeasonID); len(matches) != 0 {
		t.Fatalf("matches left in active season: %d", len(matches))
	}
	if matches, _ := env.matches.ListBySeason(ctx, archivedID); len(matches) != 1 {
		t.Fatalf("matches in archived season = %d, want 1", len(matches))
	}
	if count, _ := env.events.CountBySeason(ctx, domain.ActiveSeasonID); count != 0 {
		t.Fatalf("events left in active season: %d", count)
	}
	if count, _ := env.events.CountBySeason(ctx, archivedID); count != 4 {
		t.Fatalf("events in archived season = %d, want 4", count)
	}
}

// Activating an archived season archives the current one under a new
// permanent id, restores cached ratings from the target's snapshots and
// re-points the target's matches and events back to the active slot.
func TestActivateRestoresArchivedSeason(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.createPlayer(t, "a")
	b := env.createPlayer(t, "b")
	env.playMatch(t, a, b, a)
	if err := env.recalc.Recalculate(ctx, domain.ActiveSeasonID, "seed", nil); err != nil {
		t.Fatalf("recalc: %v", err)
	}
	ratingA := env.rating(t, a)
	ratingB := env.rating(t, b)

	target, err := env.season.Archive(ctx, "Season 2")
	if err != nil {
		t.Fatalf("archive: %v", err)
	}

	if err := env.season.Activate(ctx, target); err != nil {
		t.Fatalf("activate: %v", err)
	}

	env.assertSingleActiveSeason(t)

	// The interim active season got the next permanent id.
	interim, err := env.seasons.Get(ctx, target+1)
	if err != nil {
		t.Fatalf("interim season missing: %v", err)
	}
	if interim.Status != domain.SeasonArchived {
		t.Fatalf("interim season not archived: %+v", interim)
	}

	// Cached ratings match the restored snapshots exactly.
	if got := env.rating(t, a); math.Abs(got-ratingA) > 1e-9 {
		t.Fatalf("a = %v, want %v", got, ratingA)
	}
	if got := env.rating(t, b); math.Abs(got-ratingB) > 1e-9 {
		t.Fatalf("b = %v, want %v", got, ratingB)
	}

	// The target's history owns the active slot again.
	if matches, _ := env.matches.ListBySeason(ctx, domain.ActiveSeasonID); len(matches) != 1 {
		t.Fatalf("matches in active season = %d, want 1", len(matches))
	}
	if count, _ := env.events.CountBySeason(ctx, domain.ActiveSeasonID); count != 4 {
		t.Fatalf("events in active season = %d, want 4", count)
	}
	if _, err := env.seasons.Get(ctx, target); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("target id still taken after activation: %v", err)
	}
}

func TestActivateRejectsActiveOrMissing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.season.Activate(ctx, domain.ActiveSeasonID); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("activating id 0: %v, want validation error", err)
	}
	if err := env.season.Activate(ctx, 42); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("activating missing season: %v, want not found", err)
	}
}

// The single-active-id-0 invariant survives an arbitrary archive/activate
// sequence.
func TestSeasonInvariantAcrossTransitions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.createPlayer(t, "a")
	env.seedRating(t, a, 1550)

	s1, err := env.season.Archive(ctx, "Season 2")
	if err != nil {
		t.Fatalf("archive 1: %v", err)
	}
	env.assertSingleActiveSeason(t)

	env.seedRating(t, a, 1700)
	s2, err := env.season.Archive(ctx, "Season 3")
	if err != nil {
		t.Fatalf("archive 2: %v", err)
	}
	env.assertSingleActiveSeason(t)
	if s2 != s1+1 {
		t.Fatalf("permanent ids not sequential: %d then %d", s1, s2)
	}

	if err := env.season.Activate(ctx, s1); err != nil {
		t.Fatalf("activate s1: %v", err)
	}
	env.assertSingleActiveSeason(t)

	if err := env.season.Activate(ctx, s2); err != nil {
		t.Fatalf("activate s2: %v", err)
	}
	env.assertSingleActiveSeason(t)
}

// CalculateForSeason rebuilds an archived season's standings from its
// matches without touching the live cache.
func TestCalculateForSeasonRebuildsSnapshots(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.createPlayer(t, "a")
	b := env.createPlayer(t, "b")
	env.playMatch(t, a, b, a)
	env.playMatch(t, a, b, a)
	if err := env.recalc.Recalculate(ctx, domain.ActiveSeasonID, "seed", nil); err != nil {
		t.Fatalf("recalc: %v", err)
	}

	archivedID, err := env.season.Archive(ctx, "Season 2")
	if err != nil {
		t.Fatalf("archive: %v", err)
	}

	// Wipe the snapshots to prove the rebuild regenerates them.
	if err := env.seasons.DeleteSnapshots(ctx, archivedID); err != nil {
		t.Fatalf("delete snapshots: %v", err)
	}

	if err := env.season.CalculateForSeason(ctx, archivedID); err != nil {
		t.Fatalf("calculate for season: %v", err)
	}

	snapshots, err := env.seasons.ListSnapshots(ctx, archivedID)
	if err != nil {
		t.Fatalf("list snapshots: %v", err)
	}
	if len(snapshots) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(snapshots))
	}
	if snapshots[0].PlayerID != a || snapshots[0].FinalRank != 1 {
		t.Fatalf("winner not ranked first: %+v", snapshots[0])
	}
	if snapshots[0].Rating <= snapshots[1].Rating {
		t.Fatalf("snapshots not ranked by rating: %v <= %v", snapshots[0].Rating, snapshots[1].Rating)
	}
	if snapshots[0].MatchesPlayed != 2 {
		t.Fatalf("matches played = %d, want 2", snapshots[0].MatchesPlayed)
	}

	// Archived-season passes must not resurrect live cached ratings.
	if p := env.mustGetPlayer(t, a); p.HasRating() {
		t.Fatalf("archived rebuild wrote to the live cache: %+v", p)
	}

	if err := env.season.CalculateForSeason(ctx, domain.ActiveSeasonID); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("active-season rebuild allowed: %v", err)
	}
}
