package models

import "time"

// PlanStatus is the outcome reported to callers of the planner.
type PlanStatus string

const (
	PlanStatusOptimal    PlanStatus = "OPTIMAL"
	PlanStatusFeasible   PlanStatus = "FEASIBLE"
	PlanStatusInfeasible PlanStatus = "INFEASIBLE"
)

// Weights distributes 100 points over the five balance metrics.
type Weights struct {
	Total    int `json:"total" validate:"min=0,max=100"`
	BigRoom  int `json:"bigRoom" validate:"min=0,max=100"`
	Morning  int `json:"morning" validate:"min=0,max=100"`
	Evening  int `json:"evening" validate:"min=0,max=100"`
	Critical int `json:"critical" validate:"min=0,max=100"`
}

// Sum adds the five weights.
func (w Weights) Sum() int {
	return w.Total + w.BigRoom + w.Morning + w.Evening + w.Critical
}

// DefaultWeights splits the points evenly.
func DefaultWeights() Weights {
	return Weights{Total: 20, BigRoom: 20, Morning: 20, Evening: 20, Critical: 20}
}

// PlanningOptions are the builder feature flags of a single run.
type PlanningOptions struct {
	DailyCap              int  `json:"dailyCap" validate:"min=1"`
	EnforceRestPeriod     bool `json:"enforceRestPeriod"`
	EnableClusteringBonus bool `json:"enableClusteringBonus"`
	ClusteringBonus       int  `json:"clusteringBonus" validate:"min=0"`
	// FairnessHardBound caps max-min of per-staff task counts; negative disables it.
	FairnessHardBound int `json:"fairnessHardBound"`
	// MorningHardBound caps max-min of per-staff morning counts; negative disables it.
	MorningHardBound      int  `json:"morningHardBound"`
	RestrictDayExemptions bool `json:"restrictDayExemptions"`
}

// DefaultPlanningOptions mirrors the deployed configuration.
func DefaultPlanningOptions() PlanningOptions {
	return PlanningOptions{
		DailyCap:              4,
		EnableClusteringBonus: true,
		ClusteringBonus:       5000,
		FairnessHardBound:     2,
		MorningHardBound:      2,
	}
}

// PlanningRequest is the complete, immutable input of one planning run.
type PlanningRequest struct {
	Tasks      []ExamTask      `json:"tasks"`
	StaffCount int             `json:"staffCount"`
	Exemptions []ExemptionRule `json:"exemptions"`
	Weights    Weights         `json:"weights"`
	BigRooms   []string        `json:"bigRooms"`
	TimeBudget time.Duration   `json:"timeBudget"`
	Options    PlanningOptions `json:"options"`
}

// StaffStatistics holds the balance metrics of one staff member.
type StaffStatistics struct {
	StaffID        int  `json:"staffId" csv:"staff_id"`
	TotalMinutes   int  `json:"totalMinutes" csv:"total_minutes"`
	BigRoomMinutes int  `json:"bigRoomMinutes" csv:"big_room_minutes"`
	TotalTasks     int  `json:"totalTasks" csv:"total_tasks"`
	MorningCount   int  `json:"morningCount" csv:"morning_count"`
	EveningCount   int  `json:"eveningCount" csv:"evening_count"`
	CriticalSum    int  `json:"criticalSum" csv:"critical_sum"`
	IsRestricted   bool `json:"isRestricted" csv:"is_restricted"`
}

// MetricRanges are the solved max-min spreads the objective minimised.
type MetricRanges struct {
	TotalMinutes   int `json:"totalMinutes"`
	BigRoomMinutes int `json:"bigRoomMinutes"`
	Morning        int `json:"morning"`
	Evening        int `json:"evening"`
	Critical       int `json:"critical"`
}

// PlanningResult is the immutable outcome of one planning run. Assignment[i] is the staff id
// covering Tasks[i]; it is empty unless Status is OPTIMAL or FEASIBLE.
type PlanningResult struct {
	Status     PlanStatus        `json:"status"`
	TimedOut   bool              `json:"timedOut"`
	Objective  int64             `json:"objective"`
	Backend    string            `json:"backend"`
	SolveTime  time.Duration     `json:"solveTime"`
	Tasks      []ExamTask        `json:"tasks"`
	Assignment []int             `json:"assignment,omitempty"`
	Statistics []StaffStatistics `json:"statistics,omitempty"`
	Ranges     *MetricRanges     `json:"ranges,omitempty"`
	Warnings   []string          `json:"warnings,omitempty"`
}

// HasAssignment reports whether the result carries a complete assignment.
func (r *PlanningResult) HasAssignment() bool {
	return r != nil && (r.Status == PlanStatusOptimal || r.Status == PlanStatusFeasible)
}
