// Package ingestion defines the operational bookkeeping records that
// coordinate ingestion cycles: run history, per-query state, and the
// exclusion primitives (run lock, client pause) that serialize access to the
// store.
package ingestion

import "time"

// RunStatus is the terminal state of an IngestionRun.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailure RunStatus = "failure"
)

// Counters accumulates the per-run tallies surfaced in the single summary
// log entry each run emits.
type Counters struct {
	PagesFetched        int
	OffersFetched       int
	OffersUpserted      int
	Duplicates          int
	Skipped             int
	Failed              int
	CompaniesAggregated int
	CompaniesFailed     int
	RateLimitHits       int
	ErrorCount          int
}

// Add folds other into c, field by field.
func (c *Counters) Add(other Counters) {
	c.PagesFetched += other.PagesFetched
	c.OffersFetched += other.OffersFetched
	c.OffersUpserted += other.OffersUpserted
	c.Duplicates += other.Duplicates
	c.Skipped += other.Skipped
	c.Failed += other.Failed
	c.CompaniesAggregated += other.CompaniesAggregated
	c.CompaniesFailed += other.CompaniesFailed
	c.RateLimitHits += other.RateLimitHits
	c.ErrorCount += other.ErrorCount
}

// Run is one execution of one registered query.
type Run struct {
	ID               int64
	Provider         string
	QueryFingerprint string
	StartedAt        time.Time
	FinishedAt       *time.Time
	Status           RunStatus
	Counters         Counters
}

// QueryStatus is the lifecycle state of a registered query between cycles.
type QueryStatus string

const (
	QueryStatusIdle    QueryStatus = "IDLE"
	QueryStatusRunning QueryStatus = "RUNNING"
	QueryStatusSuccess QueryStatus = "SUCCESS"
	QueryStatusError   QueryStatus = "ERROR"
)

// QueryState is the durable state of one registered query key across cycles.
type QueryState struct {
	QueryKey            string
	Client              string
	Name                string
	Status              QueryStatus
	LastRunAt           *time.Time
	LastSuccessAt       *time.Time
	LastErrorAt         *time.Time
	ConsecutiveFailures int
	LastErrorCode       string
	LastErrorMessage    string
	LastProcessedDate   *time.Time
}

// RunLock is the single global row guarding exclusive cycle execution.
type RunLock struct {
	LockName   string
	OwnerID    string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// ClientPause records a provider back-off window.
type ClientPause struct {
	Client      string
	PausedUntil time.Time
	Reason      string
	UpdatedAt   time.Time
}
