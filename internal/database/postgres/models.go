package postgres

import (
	"database/sql"
	"time"
)

// DispatchRow is one archived dispatch event.
type DispatchRow struct {
	ID            string
	WorkID        string
	MinerID       string
	DispatchCount int
	Fee           float64
	DispatchedAt  time.Time
	ExpiresAt     time.Time
}

// SolutionRow is one archived submission outcome.
type SolutionRow struct {
	ID          int64
	WorkID      string
	MinerID     string
	Outcome     string
	Reason      sql.NullString
	Fee         float64
	Nonce       sql.NullString
	SubmittedAt time.Time
}

// WorkItemRow mirrors the last observed state of a work item in the archive.
type WorkItemRow struct {
	ID            string
	BlockNum      uint64
	Header        string
	Fee           float64
	State         string
	DispatchCount int
	CreatedAt     time.Time
	ExpiresAt     time.Time
	UpdatedAt     time.Time
}
