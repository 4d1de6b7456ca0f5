package domain

import (
	"time"
)

// ActiveSeasonID is the fixed id the currently active season always carries.
// Archived seasons hold permanent positive ids.
const ActiveSeasonID int64 = 0

type SeasonStatus string

const (
	SeasonActive   SeasonStatus = "active"
	SeasonArchived SeasonStatus = "archived"
)

type EventType string

const (
	EventMatch EventType = "match"
	EventReset EventType = "reset"
)

type Player struct {
	ID   int64
	Name string
	// Rating, RD and Volatility are nil while the player is inactive
	// (no rating in the current season).
	Rating              *float64
	RD                  *float64
	Volatility          *float64
	HasPlayedThisSeason bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (p *Player) HasRating() bool {
	return p.Rating != nil && p.RD != nil && p.Volatility != nil
}

type Match struct {
	ID          int64 // monotonic, defines chronological order
	PlayerOneID int64
	PlayerTwoID int64
	WinnerID    *int64 // nil = upcoming
	ScoreOne    int
	ScoreTwo    int
	SeasonID    int64
	// denormalized for display, resynced by recalculation
	RatingChangeOne *float64
	RatingChangeTwo *float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (m *Match) Completed() bool {
	return m.WinnerID != nil
}

func (m *Match) Involves(playerID int64) bool {
	return m.PlayerOneID == playerID || m.PlayerTwoID == playerID
}

// OpponentOf returns the other participant's id.
func (m *Match) OpponentOf(playerID int64) int64 {
	if m.PlayerOneID == playerID {
		return m.PlayerTwoID
	}
	return m.PlayerOneID
}

// ResultFor returns 1 for a win, 0 for a loss and 0.5 for a draw from the
// given participant's perspective. Draws are encoded as winner id 0.
func (m *Match) ResultFor(playerID int64) float64 {
	if m.WinnerID == nil || *m.WinnerID == 0 {
		return 0.5
	}
	if *m.WinnerID == playerID {
		return 1
	}
	return 0
}

// RatingEvent is an immutable entry in the per-player rating log. Events are
// only ever created by recalculation and deleted in bulk per season.
type RatingEvent struct {
	ID              int64
	PlayerID        int64
	MatchID         *int64 // nil for reset events
	Type            EventType
	RatingAfter     float64
	RDAfter         float64
	VolatilityAfter float64
	RatingChange    float64
	OpponentID      *int64
	Result          *float64 // 0, 0.5 or 1
	SeasonID        int64
	Reason          string
	CreatedAt       time.Time
}

type Season struct {
	ID        int64        `json:"id"`
	Name      string       `json:"name"`
	Status    SeasonStatus `json:"status"`
	StartedAt time.Time    `json:"started_at"`
	EndedAt   *time.Time   `json:"ended_at,omitempty"`
}

// SeasonPlayerSnapshot is a player's frozen final state for an archived
// season, ranked within that season.
type SeasonPlayerSnapshot struct {
	SeasonID      int64   `json:"season_id"`
	PlayerID      int64   `json:"player_id"`
	Rating        float64 `json:"rating"`
	RD            float64 `json:"rd"`
	Volatility    float64 `json:"volatility"`
	MatchesPlayed int     `json:"matches_played"`
	FinalRank     int     `json:"final_rank"`
}
