package constants

import "time"

const (
	DatabaseTimeout = 5 * time.Second
	RequestTimeout  = 30 * time.Second
)

const (
	DBMaxOpenConns    = 100
	DBMaxIdleConns    = 10
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute

	// DBBatchSize bounds event-log writes so one recalculation pass never
	// issues an unbounded transaction.
	DBBatchSize = 100

	// RecalcBatchDelay is a small pause between event batches to avoid
	// saturating the persistence layer; not needed for correctness.
	RecalcBatchDelay = 10 * time.Millisecond
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	StandingsLimit     = 100
	RatingHistoryLimit = 200
)
