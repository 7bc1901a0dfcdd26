package dto

import (
	"time"

	"github.com/noah-isme/invigilation-planner/internal/models"
	"github.com/noah-isme/invigilation-planner/internal/timetable"
)

// TimetableRow is one raw timetable line in a JSON planning request.
type TimetableRow struct {
	Day     string `json:"day" validate:"required"`
	Time    string `json:"time" validate:"required"`
	Room    string `json:"room" validate:"required"`
	Subject string `json:"subject"`
}

// PlanOptions overrides the configured planning defaults. Nil fields keep the default.
type PlanOptions struct {
	DailyCap              *int   `json:"dailyCap,omitempty" validate:"omitempty,min=1,max=24"`
	EnforceRestPeriod     *bool  `json:"enforceRestPeriod,omitempty"`
	EnableClusteringBonus *bool  `json:"enableClusteringBonus,omitempty"`
	ClusteringBonus       *int   `json:"clusteringBonus,omitempty" validate:"omitempty,min=0"`
	FairnessHardBound     *int   `json:"fairnessHardBound,omitempty" validate:"omitempty,min=-1"`
	MorningHardBound      *int   `json:"morningHardBound,omitempty" validate:"omitempty,min=-1"`
	RestrictDayExemptions *bool  `json:"restrictDayExemptions,omitempty"`
	SessionLabeling       string `json:"sessionLabeling,omitempty" validate:"omitempty,oneof=auto fixed_threshold latest_task_per_day"`
	EveningThreshold      string `json:"eveningThreshold,omitempty"`
}

// PlanParams are the planning inputs shared by JSON and CSV submissions.
type PlanParams struct {
	StaffCount        int                    `json:"staffCount" validate:"required,min=1,max=500"`
	DayExemptions     string                 `json:"dayExemptions,omitempty"`
	TimeExemptions    string                 `json:"timeExemptions,omitempty"`
	Exemptions        []models.ExemptionRule `json:"exemptions,omitempty" validate:"omitempty,dive"`
	Weights           *models.Weights        `json:"weights,omitempty"`
	BigRooms          []string               `json:"bigRooms,omitempty"`
	TimeBudgetSeconds int                    `json:"timeBudgetSeconds,omitempty" validate:"omitempty,min=1,max=600"`
	Options           *PlanOptions           `json:"options,omitempty"`
}

// PlanRequest is the JSON body of POST /plans.
type PlanRequest struct {
	PlanParams
	Rows []TimetableRow `json:"rows" validate:"required,min=1,dive"`
}

// AssignmentView is one task of a plan with its invigilator.
type AssignmentView struct {
	TaskID   int            `json:"taskId" csv:"task"`
	Day      string         `json:"day" csv:"day"`
	Week     int            `json:"week" csv:"week"`
	Time     string         `json:"time" csv:"time"`
	Room     string         `json:"room" csv:"room"`
	Subject  string         `json:"subject" csv:"subject"`
	Session  models.Session `json:"session" csv:"session"`
	StaffID  int            `json:"staffId" csv:"staff_id"`
	Duration int            `json:"duration" csv:"duration_minutes"`
}

// ScheduleSummary describes the normalised timetable behind a plan.
type ScheduleSummary struct {
	Days    []string                 `json:"days"`
	Rooms   []string                 `json:"rooms"`
	Weeks   int                      `json:"weeks"`
	Tasks   int                      `json:"tasks"`
	Skipped []timetable.ParseFailure `json:"skipped,omitempty"`
}

// PlanResponse is returned for a solved (or proven infeasible) plan.
type PlanResponse struct {
	PlanID      string                   `json:"planId"`
	Status      models.PlanStatus        `json:"status"`
	TimedOut    bool                     `json:"timedOut"`
	Objective   int64                    `json:"objective"`
	Backend     string                   `json:"backend"`
	SolveTimeMs int64                    `json:"solveTimeMs"`
	Cached      bool                     `json:"cached"`
	Schedule    ScheduleSummary          `json:"schedule"`
	Assignments []AssignmentView         `json:"assignments,omitempty"`
	Statistics  []models.StaffStatistics `json:"statistics,omitempty"`
	Ranges      *models.MetricRanges     `json:"ranges,omitempty"`
	Warnings    []string                 `json:"warnings,omitempty"`
	ExpiresAt   time.Time                `json:"expiresAt"`
}

// SavePlanRequest persists a plan as a new version of an exam period.
type SavePlanRequest struct {
	ExamPeriod string `json:"examPeriod" validate:"required,max=64"`
	Publish    bool   `json:"publish"`
}

// PlanRunQuery filters saved plan runs.
type PlanRunQuery struct {
	ExamPeriod string `form:"exam_period" validate:"omitempty,max=64"`
	Status     string `form:"status" validate:"omitempty,oneof=DRAFT PUBLISHED"`
	Page       int    `form:"page" validate:"omitempty,min=1"`
	PageSize   int    `form:"page_size" validate:"omitempty,min=1,max=100"`
}

// JobStatus is the lifecycle of an asynchronous planning job.
type JobStatus string

const (
	JobStatusQueued  JobStatus = "QUEUED"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusDone    JobStatus = "DONE"
	JobStatusFailed  JobStatus = "FAILED"
)

// JobResponse reports an asynchronous planning job.
type JobResponse struct {
	JobID      string        `json:"jobId"`
	Status     JobStatus     `json:"status"`
	Error      string        `json:"error,omitempty"`
	Result     *PlanResponse `json:"result,omitempty"`
	EnqueuedAt time.Time     `json:"enqueuedAt"`
	FinishedAt *time.Time    `json:"finishedAt,omitempty"`
}

// ExportFormat selects the rendered file type.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportQuery selects what to export from a plan.
type ExportQuery struct {
	Format ExportFormat `form:"format" validate:"omitempty,oneof=csv pdf"`
	Kind   string       `form:"kind" validate:"omitempty,oneof=roster statistics"`
}

// ExportFile is a rendered export ready to stream.
type ExportFile struct {
	Filename    string
	ContentType string
	Body        []byte
}
