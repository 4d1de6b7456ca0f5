package domain

type RecalcStatus string

const (
	RecalcIdle     RecalcStatus = "idle"
	RecalcRunning  RecalcStatus = "running"
	RecalcComplete RecalcStatus = "complete"
	RecalcError    RecalcStatus = "error"
)

// RecalcProgress is a point-in-time view of a recalculation pass. Observers
// may only watch a pass; there is no cancellation primitive.
type RecalcProgress struct {
	RunID            string       `json:"run_id"`
	SeasonID         int64        `json:"season_id"`
	TotalMatches     int          `json:"total_matches"`
	ProcessedMatches int          `json:"processed_matches"`
	CurrentMatchID   int64        `json:"current_match_id"`
	Status           RecalcStatus `json:"status"`
	Err              string       `json:"error,omitempty"`
}

// ProgressFunc receives progress snapshots during a recalculation pass.
// Called synchronously from the sweep; implementations must be fast.
type ProgressFunc func(RecalcProgress)
