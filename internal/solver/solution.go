package solver

import "time"

// Status is the outcome of a solve call.
type Status string

const (
	StatusOptimal    Status = "OPTIMAL"
	StatusFeasible   Status = "FEASIBLE"
	StatusInfeasible Status = "INFEASIBLE"
	// StatusNoSolution means the time budget ran out before any solution was found.
	StatusNoSolution Status = "NO_SOLUTION"
)

// HasSolution reports whether variable values are available.
func (s Status) HasSolution() bool {
	return s == StatusOptimal || s == StatusFeasible
}

// Solution carries the solve status and, when one exists, a value for every variable.
type Solution struct {
	Status    Status
	Objective int64
	WallTime  time.Duration
	// Branches counts search decisions; engines without that notion leave it zero.
	Branches int64
	values   []int64
}

// NewSolution wraps a value vector indexed by Var.
func NewSolution(status Status, objective int64, values []int64) *Solution {
	copied := make([]int64, len(values))
	copy(copied, values)
	return &Solution{Status: status, Objective: objective, values: copied}
}

// Value returns the solved value of v.
func (s *Solution) Value(v Var) int64 {
	if s == nil || int(v) < 0 || int(v) >= len(s.values) {
		return 0
	}
	return s.values[v]
}

// Bool returns the solved value of a boolean variable.
func (s *Solution) Bool(v Var) bool {
	return s.Value(v) != 0
}

// Evaluate computes expr under the solution.
func (s *Solution) Evaluate(expr Expr) int64 {
	total := expr.Offset
	for _, t := range expr.Terms {
		total += t.Coef * s.Value(t.Var)
	}
	return total
}
