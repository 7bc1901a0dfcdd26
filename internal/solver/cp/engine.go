// Package cp is a pure-Go constraint programming backend for solver models. It runs a
// depth-first branch-and-bound over variable domains with bounds propagation on every
// constraint family and tightens an objective cut each time an improving solution is found.
// Searches that outgrow a branch budget switch to large neighbourhood search around the
// incumbent before the complete search resumes.
package cp

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/invigilation-planner/internal/solver"
)

const (
	defaultCheckEvery    = 256
	defaultPlainBranches = 50000
	defaultLNSRounds     = 200
)

// Engine implements solver.Engine.
type Engine struct {
	logger        *zap.Logger
	checkEvery    int64
	plainBranches int64
	lnsRounds     int
}

// Option customises an Engine.
type Option func(*Engine)

// WithLogger attaches a logger for search statistics.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithCheckInterval sets how many branches are explored between deadline checks.
func WithCheckInterval(branches int64) Option {
	return func(e *Engine) {
		if branches > 0 {
			e.checkEvery = branches
		}
	}
}

// WithLocalSearch switches to neighbourhood search after plainBranches branches of plain
// DFS and gives up on it after rounds rounds in a row without an improvement. A
// non-positive value for either disables the phase.
func WithLocalSearch(plainBranches int64, rounds int) Option {
	return func(e *Engine) {
		e.plainBranches = plainBranches
		e.lnsRounds = rounds
	}
}

// New constructs the engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		logger:        zap.NewNop(),
		checkEvery:    defaultCheckEvery,
		plainBranches: defaultPlainBranches,
		lnsRounds:     defaultLNSRounds,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name identifies the backend.
func (e *Engine) Name() string { return "cp" }

// Solve searches the model until optimality is proven, the model is shown infeasible, the
// time limit expires or ctx is cancelled. A non-positive timeLimit means no limit.
func (e *Engine) Solve(ctx context.Context, m *solver.Model, timeLimit time.Duration) (*solver.Solution, error) {
	if m == nil {
		return nil, fmt.Errorf("cp: nil model")
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("cp: invalid model: %w", err)
	}

	started := time.Now()
	s := newSearch(m)
	s.ctx = ctx
	s.checkEvery = e.checkEvery
	s.plainBranches = e.plainBranches
	s.lnsRounds = e.lnsRounds
	if timeLimit > 0 {
		s.deadline = started.Add(timeLimit)
	}
	if d, ok := ctx.Deadline(); ok && (s.deadline.IsZero() || d.Before(s.deadline)) {
		s.deadline = d
	}

	s.run()

	if s.cancelled {
		return nil, fmt.Errorf("cp: solve cancelled: %w", ctx.Err())
	}

	var status solver.Status
	switch {
	case s.timedOut && s.found:
		status = solver.StatusFeasible
	case s.timedOut:
		status = solver.StatusNoSolution
	case s.found:
		status = solver.StatusOptimal
	default:
		status = solver.StatusInfeasible
	}

	sol := solver.NewSolution(status, s.bestObjective, s.best)
	sol.WallTime = time.Since(started)
	sol.Branches = s.branches

	e.logger.Debug("cp search finished",
		zap.String("model", m.Name()),
		zap.String("status", string(status)),
		zap.Int("vars", m.NumVars()),
		zap.Int("constraints", len(m.Constraints())),
		zap.Int64("branches", s.branches),
		zap.Int("solutions", s.solutions),
		zap.Bool("neighbourhood_search", s.guided),
		zap.Int64("objective", s.bestObjective),
		zap.Duration("wall_time", sol.WallTime),
	)
	return sol, nil
}
