package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// PlanRunStatus represents lifecycle phases for saved plans.
type PlanRunStatus string

const (
	PlanRunStatusDraft     PlanRunStatus = "DRAFT"
	PlanRunStatusPublished PlanRunStatus = "PUBLISHED"
)

// PlanRun is a saved, versioned planning result for an exam period.
type PlanRun struct {
	ID          string         `db:"id" json:"id"`
	ExamPeriod  string         `db:"exam_period" json:"examPeriod"`
	Version     int            `db:"version" json:"version"`
	Status      PlanRunStatus  `db:"status" json:"status"`
	SolveStatus PlanStatus     `db:"solve_status" json:"solveStatus"`
	Objective   int64          `db:"objective" json:"objective"`
	StaffCount  int            `db:"staff_count" json:"staffCount"`
	TaskCount   int            `db:"task_count" json:"taskCount"`
	Meta        types.JSONText `db:"meta" json:"meta"`
	CreatedBy   *string        `db:"created_by" json:"createdBy,omitempty"`
	CreatedAt   time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updatedAt"`
}

// PlanAssignment is one task of a saved plan with its invigilator.
type PlanAssignment struct {
	ID          string    `db:"id" json:"id" csv:"-"`
	PlanRunID   string    `db:"plan_run_id" json:"planRunId" csv:"-"`
	TaskIndex   int       `db:"task_index" json:"taskIndex" csv:"task"`
	DayLabel    string    `db:"day_label" json:"dayLabel" csv:"day"`
	Week        int       `db:"week" json:"week" csv:"week"`
	StartMinute int       `db:"start_minute" json:"startMinute" csv:"-"`
	EndMinute   int       `db:"end_minute" json:"endMinute" csv:"-"`
	TimeRange   string    `db:"-" json:"timeRange" csv:"time"`
	Room        string    `db:"room" json:"room" csv:"room"`
	Subject     string    `db:"subject" json:"subject" csv:"subject"`
	Session     Session   `db:"session" json:"session" csv:"session"`
	StaffID     int       `db:"staff_id" json:"staffId" csv:"staff_id"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt" csv:"-"`
}

// PlanRunFilter narrows saved plan listings.
type PlanRunFilter struct {
	ExamPeriod string
	Status     PlanRunStatus
	Page       int
	PageSize   int
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	TotalCount int `json:"totalCount"`
}
