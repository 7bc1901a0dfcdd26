// Package planner models invigilator assignment as a discrete optimisation problem: it builds
// the hard constraints and the fairness objective for a planning request, hands the model to a
// solver engine and reads a validated assignment back.
package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/invigilation-planner/internal/models"
	"github.com/noah-isme/invigilation-planner/internal/solver"
)

// DefaultTimeBudget bounds a solve when the request does not.
const DefaultTimeBudget = 30 * time.Second

var (
	// ErrInvalidWeights means the five weights are negative or do not sum to 100.
	ErrInvalidWeights = errors.New("planner: weights must be non-negative and sum to 100")
	// ErrNoTasks means the request carries no exam tasks.
	ErrNoTasks = errors.New("planner: no exam tasks to assign")
	// ErrInvalidRequest covers staff counts and caps that cannot describe a real run.
	ErrInvalidRequest = errors.New("planner: invalid planning request")
	// ErrModelInvariant means a solved assignment broke a hard constraint. It always indicates a
	// bug in the model or the engine.
	ErrModelInvariant = errors.New("planner: solved assignment violates a hard constraint")
)

// Planner turns planning requests into assignments. It holds no per-request state and is safe
// for concurrent use when its engine is.
type Planner struct {
	engine solver.Engine
	logger *zap.Logger
}

// New constructs a planner on top of engine.
func New(engine solver.Engine, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{engine: engine, logger: logger}
}

// Validate checks a request before any model is built.
func Validate(req models.PlanningRequest) error {
	w := req.Weights
	if w.Total < 0 || w.BigRoom < 0 || w.Morning < 0 || w.Evening < 0 || w.Critical < 0 || w.Sum() != 100 {
		return fmt.Errorf("%w: got %d", ErrInvalidWeights, w.Sum())
	}
	if len(req.Tasks) == 0 {
		return ErrNoTasks
	}
	if req.StaffCount < 1 {
		return fmt.Errorf("%w: staff count must be positive", ErrInvalidRequest)
	}
	if req.Options.DailyCap < 1 {
		return fmt.Errorf("%w: daily cap must be positive", ErrInvalidRequest)
	}
	for i, task := range req.Tasks {
		if task.ID != i {
			return fmt.Errorf("%w: task at position %d has id %d", ErrInvalidRequest, i, task.ID)
		}
		if task.Duration <= 0 || task.End <= task.Start {
			return fmt.Errorf("%w: task %d has an empty interval", ErrInvalidRequest, i)
		}
	}
	return nil
}

// Plan builds and solves the model for req. Infeasibility is a normal result, not an error.
func (p *Planner) Plan(ctx context.Context, req models.PlanningRequest) (*models.PlanningResult, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	budget := req.TimeBudget
	if budget <= 0 {
		budget = DefaultTimeBudget
	}

	rules, warnings := usableRules(req.Exemptions, req.StaffCount, req.Tasks)
	f := newFormulation(req, rules)
	p.logger.Info("planning model built",
		zap.Int("tasks", len(req.Tasks)),
		zap.Int("staff", req.StaffCount),
		zap.Int("variables", f.model.NumVars()),
		zap.Int("constraints", len(f.model.Constraints())),
		zap.Int("exemptions", len(rules)),
		zap.Int("ignored_exemptions", len(req.Exemptions)-len(rules)),
		zap.Duration("budget", budget),
	)

	sol, err := p.engine.Solve(ctx, f.model, budget)
	if err != nil {
		return nil, fmt.Errorf("solve with %s: %w", p.engine.Name(), err)
	}

	result := &models.PlanningResult{
		Backend:   p.engine.Name(),
		SolveTime: sol.WallTime,
		Tasks:     req.Tasks,
		Warnings:  warnings,
	}
	switch sol.Status {
	case solver.StatusOptimal:
		result.Status = models.PlanStatusOptimal
	case solver.StatusFeasible:
		result.Status = models.PlanStatusFeasible
	case solver.StatusNoSolution:
		result.Status = models.PlanStatusInfeasible
		result.TimedOut = true
	default:
		result.Status = models.PlanStatusInfeasible
	}

	p.logger.Info("planning solve finished",
		zap.String("backend", p.engine.Name()),
		zap.String("status", string(sol.Status)),
		zap.Int64("objective", sol.Objective),
		zap.Duration("wall_time", sol.WallTime),
	)
	if !result.HasAssignment() {
		return result, nil
	}

	out, err := extract(f, sol)
	if err != nil {
		p.logger.Error("solved assignment failed verification", zap.Error(err))
		return nil, err
	}
	result.Objective = sol.Objective
	result.Assignment = out.assignment
	result.Statistics = out.statistics
	result.Ranges = out.ranges
	return result, nil
}
