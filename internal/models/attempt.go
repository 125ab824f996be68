package models

import "time"

// Attempt outcomes recorded in the archive. Superseded and explicitly
// cancelled attempts both land on CANCELLED.
const (
	AttemptOutcomeSolved    = "SOLVED"
	AttemptOutcomeFailed    = "FAILED"
	AttemptOutcomeCancelled = "CANCELLED"
)

// SolveAttempt is the audit record of one finished solve attempt. It holds
// attempt metadata only, never the domain model or the schedule itself.
type SolveAttempt struct {
	ID           string    `db:"id" json:"id"`
	Backend      string    `db:"backend" json:"backend"`
	Outcome      string    `db:"outcome" json:"outcome"`
	ErrorCode    *string   `db:"error_code" json:"error_code,omitempty"`
	Objective    *float64  `db:"objective" json:"objective,omitempty"`
	Gap          *float64  `db:"gap" json:"gap,omitempty"`
	Assignments  int       `db:"assignments" json:"assignments"`
	Pinned       int       `db:"pinned" json:"pinned"`
	DecisionVars int       `db:"decision_vars" json:"decision_vars"`
	AuxVars      int       `db:"aux_vars" json:"aux_vars"`
	Rows         int       `db:"rows" json:"rows"`
	BuildMs      int64     `db:"build_ms" json:"build_ms"`
	SolveMs      int64     `db:"solve_ms" json:"solve_ms"`
	TotalMs      int64     `db:"total_ms" json:"total_ms"`
	StartedAt    time.Time `db:"started_at" json:"started_at"`
	FinishedAt   time.Time `db:"finished_at" json:"finished_at"`
}

// AttemptFilter captures filtering criteria for listing archived attempts.
type AttemptFilter struct {
	Outcome string
	Backend string
	Since   *time.Time
	Limit   int
	Offset  int
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
