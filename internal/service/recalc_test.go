package service

import (
	"context"
	"errors"
	"math"
	"testing"

	"glicko-ladder/internal/domain"
	"glicko-ladder/internal/glicko"
)

// Two fresh players play one match and A wins: A's rating rises, both RDs
// shrink, one match event per participant lands in the log, and the cached
// ratings agree with the log.
func TestRecalculateSingleMatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.createPlayer(t, "a")
	b := env.createPlayer(t, "b")
	matchID := env.playMatch(t, a, b, a)

	if err := env.recalc.Recalculate(ctx, domain.ActiveSeasonID, "test", nil); err != nil {
		t.Fatalf("recalculate: %v", err)
	}

	pa := env.mustGetPlayer(t, a)
	pb := env.mustGetPlayer(t, b)
	if *pa.Rating <= glicko.DefaultRating {
		t.Fatalf("winner rating = %v, want > %v", *pa.Rating, glicko.DefaultRating)
	}
	if *pb.Rating >= glicko.DefaultRating {
		t.Fatalf("loser rating = %v, want < %v", *pb.Rating, glicko.DefaultRating)
	}
	if *pa.RD >= glicko.DefaultRD || *pb.RD >= glicko.DefaultRD {
		t.Fatalf("RDs did not shrink: %v, %v", *pa.RD, *pb.RD)
	}
	if !pa.HasPlayedThisSeason || !pb.HasPlayedThisSeason {
		t.Fatal("players not flagged as having played")
	}

	for _, playerID := range []int64{a, b} {
		latest, err := env.events.LatestByPlayer(ctx, playerID, domain.ActiveSeasonID)
		if err != nil {
			t.Fatalf("latest event: %v", err)
		}
		if latest.Type != domain.EventMatch || latest.MatchID == nil || *latest.MatchID != matchID {
			t.Fatalf("latest event for %d = %+v, want match event for %d", playerID, latest, matchID)
		}
		cached := env.rating(t, playerID)
		if math.Abs(cached-latest.RatingAfter) > 1e-9 {
			t.Fatalf("cache %v diverges from log %v", cached, latest.RatingAfter)
		}
	}

	// Two reset events + two match events.
	count, err := env.events.CountBySeason(ctx, domain.ActiveSeasonID)
	if err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 4 {
		t.Fatalf("events = %d, want 4", count)
	}

	m, err := env.matches.Get(ctx, matchID)
	if err != nil {
		t.Fatalf("get match: %v", err)
	}
	if m.RatingChangeOne == nil || m.RatingChangeTwo == nil {
		t.Fatal("rating changes not denormalized onto match")
	}
	if *m.RatingChangeOne <= 0 || *m.RatingChangeTwo >= 0 {
		t.Fatalf("deltas have wrong signs: %v, %v", *m.RatingChangeOne, *m.RatingChangeTwo)
	}
}

func TestRecalculateIsDeterministic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.createPlayer(t, "a")
	b := env.createPlayer(t, "b")
	c := env.createPlayer(t, "c")
	env.playMatch(t, a, b, a)
	env.playMatch(t, b, c, c)
	env.playMatch(t, a, c, a)

	if err := env.recalc.Recalculate(ctx, domain.ActiveSeasonID, "first", nil); err != nil {
		t.Fatalf("first recalculate: %v", err)
	}
	first := map[int64]float64{a: env.rating(t, a), b: env.rating(t, b), c: env.rating(t, c)}

	if err := env.recalc.Recalculate(ctx, domain.ActiveSeasonID, "second", nil); err != nil {
		t.Fatalf("second recalculate: %v", err)
	}
	for id, want := range first {
		if got := env.rating(t, id); math.Abs(got-want) > 1e-9 {
			t.Fatalf("player %d: %v != %v across identical passes", id, got, want)
		}
	}
}

// Swapping two matches with disjoint participants leaves final ratings
// unchanged; swapping two matches that share a player does not.
func TestRecalculateOrderSensitivity(t *testing.T) {
	t.Run("disjoint players commute", func(t *testing.T) {
		run := func(swapped bool) map[string]float64 {
			env := newTestEnv(t)
			a := env.createPlayer(t, "a")
			b := env.createPlayer(t, "b")
			c := env.createPlayer(t, "c")
			d := env.createPlayer(t, "d")
			if swapped {
				env.playMatch(t, c, d, c)
				env.playMatch(t, a, b, a)
			} else {
				env.playMatch(t, a, b, a)
				env.playMatch(t, c, d, c)
			}
			if err := env.recalc.Recalculate(context.Background(), domain.ActiveSeasonID, "test", nil); err != nil {
				t.Fatalf("recalculate: %v", err)
			}
			return map[string]float64{
				"a": env.rating(t, a), "b": env.rating(t, b),
				"c": env.rating(t, c), "d": env.rating(t, d),
			}
		}

		plain, swapped := run(false), run(true)
		for name, want := range plain {
			if got := swapped[name]; math.Abs(got-want) > 1e-9 {
				t.Fatalf("player %s: disjoint swap changed rating %v -> %v", name, want, got)
			}
		}
	})

	t.Run("shared player does not commute", func(t *testing.T) {
		run := func(swapped bool) float64 {
			env := newTestEnv(t)
			a := env.createPlayer(t, "a")
			b := env.createPlayer(t, "b")
			c := env.createPlayer(t, "c")
			if swapped {
				env.playMatch(t, c, a, c) // a loses first
				env.playMatch(t, a, b, a)
			} else {
				env.playMatch(t, a, b, a) // a wins first
				env.playMatch(t, c, a, c)
			}
			if err := env.recalc.Recalculate(context.Background(), domain.ActiveSeasonID, "test", nil); err != nil {
				t.Fatalf("recalculate: %v", err)
			}
			return env.rating(t, b)
		}

		// b faces a at 1500 in one order and a already beaten down in the
		// other, so b's expected score and final rating differ.
		if plain, swapped := run(false), run(true); math.Abs(plain-swapped) < 1e-6 {
			t.Fatalf("shared-player swap left rating unchanged: %v", plain)
		}
	})
}

// rating_change on every event equals rating_after minus the participant's
// previous rating_after.
func TestRecalculateEventIntegrity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.createPlayer(t, "a")
	b := env.createPlayer(t, "b")
	c := env.createPlayer(t, "c")
	env.playMatch(t, a, b, a)
	env.playMatch(t, a, c, c)
	env.playMatch(t, b, c, b)

	if err := env.recalc.Recalculate(ctx, domain.ActiveSeasonID, "test", nil); err != nil {
		t.Fatalf("recalculate: %v", err)
	}

	for _, playerID := range []int64{a, b, c} {
		events, err := env.events.ListByPlayer(ctx, playerID, domain.ActiveSeasonID, 100)
		if err != nil {
			t.Fatalf("list events: %v", err)
		}
		if len(events) == 0 {
			t.Fatalf("no events for player %d", playerID)
		}
		prev := glicko.DefaultRating
		for i, e := range events {
			if i == 0 {
				if e.Type != domain.EventReset {
					t.Fatalf("first event for %d is %s, want reset", playerID, e.Type)
				}
				prev = e.RatingAfter
				continue
			}
			if got := e.RatingAfter - prev; math.Abs(e.RatingChange-got) > 1e-9 {
				t.Fatalf("player %d event %d: rating_change %v != after-before %v", playerID, e.ID, e.RatingChange, got)
			}
			prev = e.RatingAfter
		}
	}
}

// A pass always clears the season's log first, so re-running after a
// partial write converges on the same state.
func TestRecalculateIsIdempotentRecovery(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.createPlayer(t, "a")
	b := env.createPlayer(t, "b")
	env.playMatch(t, a, b, b)

	if err := env.recalc.Recalculate(ctx, domain.ActiveSeasonID, "baseline", nil); err != nil {
		t.Fatalf("baseline: %v", err)
	}
	want := env.rating(t, a)

	// Simulate a partially rewritten log from an aborted pass.
	stale := int64(999)
	if err := env.events.InsertBatch(ctx, []domain.RatingEvent{{
		PlayerID: a, MatchID: &stale, Type: domain.EventMatch,
		RatingAfter: 9999, RDAfter: 1, VolatilityAfter: 0.06,
		SeasonID: domain.ActiveSeasonID, Reason: "stale",
	}}); err != nil {
		t.Fatalf("insert stale event: %v", err)
	}

	if err := env.recalc.Recalculate(ctx, domain.ActiveSeasonID, "recovery", nil); err != nil {
		t.Fatalf("recovery: %v", err)
	}
	if got := env.rating(t, a); math.Abs(got-want) > 1e-9 {
		t.Fatalf("recovery diverged: %v != %v", got, want)
	}
	count, _ := env.events.CountBySeason(ctx, domain.ActiveSeasonID)
	if count != 4 {
		t.Fatalf("events after recovery = %d, want 4", count)
	}
}

func TestRecalculateReportsProgress(t *testing.T) {
	env := newTestEnv(t)

	a := env.createPlayer(t, "a")
	b := env.createPlayer(t, "b")
	env.playMatch(t, a, b, a)
	env.playMatch(t, a, b, b)

	var snapshots []domain.RecalcProgress
	collect := func(p domain.RecalcProgress) { snapshots = append(snapshots, p) }

	if err := env.recalc.Recalculate(context.Background(), domain.ActiveSeasonID, "test", collect); err != nil {
		t.Fatalf("recalculate: %v", err)
	}

	if len(snapshots) < 3 {
		t.Fatalf("snapshots = %d, want at least start, per-match and final", len(snapshots))
	}
	first, last := snapshots[0], snapshots[len(snapshots)-1]
	if first.Status != domain.RecalcRunning || first.ProcessedMatches != 0 {
		t.Fatalf("first snapshot = %+v, want running at 0", first)
	}
	if last.Status != domain.RecalcComplete || last.ProcessedMatches != 2 || last.TotalMatches != 2 {
		t.Fatalf("last snapshot = %+v, want complete 2/2", last)
	}
	runID := first.RunID
	if runID == "" {
		t.Fatal("missing run id")
	}
	prev := -1
	for _, p := range snapshots {
		if p.RunID != runID {
			t.Fatalf("run id changed mid-pass: %q -> %q", runID, p.RunID)
		}
		if p.ProcessedMatches < prev {
			t.Fatalf("processed went backwards: %d -> %d", prev, p.ProcessedMatches)
		}
		prev = p.ProcessedMatches
	}
}

func TestUpdateForMatchFrontier(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.createPlayer(t, "a")
	b := env.createPlayer(t, "b")
	matchID := env.playMatch(t, a, b, a)

	if err := env.recalc.UpdateForMatch(ctx, matchID); err != nil {
		t.Fatalf("update for match: %v", err)
	}

	if got := env.rating(t, a); got <= glicko.DefaultRating {
		t.Fatalf("winner rating = %v, want > default", got)
	}
	if got := env.rating(t, b); got >= glicko.DefaultRating {
		t.Fatalf("loser rating = %v, want < default", got)
	}

	// The fast path bypasses the log entirely.
	count, _ := env.events.CountBySeason(ctx, domain.ActiveSeasonID)
	if count != 0 {
		t.Fatalf("fast path wrote %d events, want 0", count)
	}
}

func TestUpdateForMatchRejectsHistoricalEdit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.createPlayer(t, "a")
	b := env.createPlayer(t, "b")
	m1 := env.playMatch(t, a, b, a)
	env.playMatch(t, a, b, b)

	err := env.recalc.UpdateForMatch(ctx, m1)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("error = %v, want validation error", err)
	}
}

func TestUpdateForMatchRejectsUpcoming(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.createPlayer(t, "a")
	b := env.createPlayer(t, "b")
	id, err := env.matches.Create(ctx, a, b, domain.ActiveSeasonID)
	if err != nil {
		t.Fatalf("create match: %v", err)
	}

	if err := env.recalc.UpdateForMatch(ctx, id); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("error = %v, want validation error", err)
	}
}
