//go:build glpk

package glpk

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/lukpank/go-glpk/glpk"
	"go.uber.org/zap"

	"github.com/noah-isme/invigilation-planner/internal/solver"
)

// Engine implements solver.Engine on top of GLPK's branch-and-cut.
type Engine struct {
	logger *zap.Logger
}

// New constructs the engine.
func New(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

// Name identifies the backend.
func (e *Engine) Name() string { return "glpk" }

// Solve translates the model into rows and columns and runs simplex followed by intopt.
// When timeLimit or ctx expires first the solve is abandoned and NO_SOLUTION, or the
// context error, is returned.
func (e *Engine) Solve(ctx context.Context, m *solver.Model, timeLimit time.Duration) (*solver.Solution, error) {
	if m == nil {
		return nil, fmt.Errorf("glpk: nil model")
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("glpk: invalid model: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	started := time.Now()

	lp := glpk.New()
	lp.SetProbName(m.Name())
	lp.SetObjDir(glpk.ObjDir(glpk.MIN))

	b := &builder{lp: lp, model: m}
	b.columns()
	for _, c := range m.Constraints() {
		switch c.Kind {
		case solver.Linear:
			if c.Conditional() {
				b.conditional(c)
			} else {
				b.linear(c.Name, c.Expr, c.Lo, c.Hi)
			}
		case solver.MaxEquality:
			b.extremum(c, true)
		case solver.MinEquality:
			b.extremum(c, false)
		}
	}
	if objective, ok := m.Objective(); ok {
		lp.SetObjCoef(0, float64(objective.Offset))
		cols, coefs := b.exprRow(objective)
		for i, col := range cols {
			lp.SetObjCoef(col, coefs[i])
		}
	}

	e.logger.Debug("glpk model built",
		zap.String("model", m.Name()),
		zap.Int("columns", b.cols),
		zap.Int("rows", b.rows),
		zap.Duration("requested_limit", timeLimit),
	)

	type outcome struct {
		sol *solver.Solution
		err error
	}
	out, finished := within(ctx, timeLimit, func() outcome {
		defer lp.Delete()
		sol, err := b.solve(started)
		return outcome{sol: sol, err: err}
	})
	if !finished {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("glpk: solve cancelled: %w", err)
		}
		e.logger.Warn("glpk solve abandoned after time limit",
			zap.String("model", m.Name()),
			zap.Duration("limit", timeLimit),
		)
		sol := solver.NewSolution(solver.StatusNoSolution, 0, nil)
		sol.WallTime = time.Since(started)
		return sol, nil
	}
	return out.sol, out.err
}

type builder struct {
	lp    *glpk.Prob
	model *solver.Model
	cols  int
	rows  int
}

// solve runs simplex and intopt on the built problem.
func (b *builder) solve(started time.Time) (*solver.Solution, error) {
	lp, m := b.lp, b.model
	smcp := glpk.NewSmcp()
	smcp.SetMsgLev(glpk.MsgLev(glpk.MSG_ERR))
	if err := lp.Simplex(smcp); err != nil {
		return nil, fmt.Errorf("glpk: simplex failed: %w", err)
	}
	if lp.Status() == glpk.NOFEAS {
		return b.infeasible(started), nil
	}

	iocp := glpk.NewIocp()
	iocp.SetPresolve(false)
	iocp.SetMsgLev(glpk.MsgLev(glpk.MSG_ERR))
	if err := lp.Intopt(iocp); err != nil {
		return nil, fmt.Errorf("glpk: intopt failed: %w", err)
	}

	var status solver.Status
	switch lp.MipStatus() {
	case glpk.OPT:
		status = solver.StatusOptimal
	case glpk.FEAS:
		status = solver.StatusFeasible
	case glpk.NOFEAS:
		return b.infeasible(started), nil
	default:
		status = solver.StatusNoSolution
	}

	values := make([]int64, m.NumVars())
	for v := range values {
		values[v] = int64(math.Round(lp.MipColVal(b.col(solver.Var(v)))))
	}
	sol := solver.NewSolution(status, int64(math.Round(lp.MipObjVal())), values)
	sol.WallTime = time.Since(started)
	return sol, nil
}

func (b *builder) infeasible(started time.Time) *solver.Solution {
	sol := solver.NewSolution(solver.StatusInfeasible, 0, nil)
	sol.WallTime = time.Since(started)
	return sol
}

// Model variables occupy columns 1..n in declaration order.
func (b *builder) col(v solver.Var) int { return int(v) + 1 }

func (b *builder) columns() {
	for _, decl := range b.model.Vars() {
		j := b.addCol(decl.Name)
		if decl.Kind == solver.KindBool {
			b.lp.SetColKind(j, glpk.VarType(glpk.BV))
			continue
		}
		b.lp.SetColKind(j, glpk.VarType(glpk.IV))
		if decl.Lo == decl.Hi {
			b.lp.SetColBnds(j, glpk.BndsType(glpk.FX), float64(decl.Lo), float64(decl.Hi))
		} else {
			b.lp.SetColBnds(j, glpk.BndsType(glpk.DB), float64(decl.Lo), float64(decl.Hi))
		}
	}
}

func (b *builder) addCol(name string) int {
	b.cols++
	b.lp.AddCols(1)
	b.lp.SetColName(b.cols, name)
	return b.cols
}

func (b *builder) addBinary(name string) int {
	j := b.addCol(name)
	b.lp.SetColKind(j, glpk.VarType(glpk.BV))
	return j
}

// row adds lo <= Σ coef·col <= hi. SetMatRow ignores element 0 of both slices.
func (b *builder) row(name string, cols []int, coefs []float64, lo, hi int64) {
	b.rows++
	b.lp.AddRows(1)
	b.lp.SetRowName(b.rows, name)

	hasLo, hasHi := lo > -solver.Unbounded, hi < solver.Unbounded
	switch {
	case hasLo && hasHi && lo == hi:
		b.lp.SetRowBnds(b.rows, glpk.BndsType(glpk.FX), float64(lo), float64(hi))
	case hasLo && hasHi:
		b.lp.SetRowBnds(b.rows, glpk.BndsType(glpk.DB), float64(lo), float64(hi))
	case hasLo:
		b.lp.SetRowBnds(b.rows, glpk.BndsType(glpk.LO), float64(lo), 0)
	case hasHi:
		b.lp.SetRowBnds(b.rows, glpk.BndsType(glpk.UP), 0, float64(hi))
	default:
		b.lp.SetRowBnds(b.rows, glpk.BndsType(glpk.FR), 0, 0)
	}

	ind := make([]int32, 1, len(cols)+1)
	val := make([]float64, 1, len(coefs)+1)
	for i, c := range cols {
		ind = append(ind, int32(c))
		val = append(val, coefs[i])
	}
	b.lp.SetMatRow(b.rows, ind, val)
}

func (b *builder) exprRow(expr solver.Expr) ([]int, []float64) {
	cols := make([]int, 0, len(expr.Terms))
	coefs := make([]float64, 0, len(expr.Terms))
	merged := make(map[int]int, len(expr.Terms))
	for _, t := range expr.Terms {
		col := b.col(t.Var)
		if pos, ok := merged[col]; ok {
			coefs[pos] += float64(t.Coef)
			continue
		}
		merged[col] = len(cols)
		cols = append(cols, col)
		coefs = append(coefs, float64(t.Coef))
	}
	return cols, coefs
}

func (b *builder) linear(name string, expr solver.Expr, lo, hi int64) {
	cols, coefs := b.exprRow(expr)
	if lo > -solver.Unbounded {
		lo -= expr.Offset
	}
	if hi < solver.Unbounded {
		hi -= expr.Offset
	}
	b.row(name, cols, coefs, lo, hi)
}

func (b *builder) activity(expr solver.Expr) (int64, int64) {
	minAct, maxAct := expr.Offset, expr.Offset
	for _, t := range expr.Terms {
		decl := b.model.Var(t.Var)
		if t.Coef > 0 {
			minAct += t.Coef * decl.Lo
			maxAct += t.Coef * decl.Hi
		} else {
			minAct += t.Coef * decl.Hi
			maxAct += t.Coef * decl.Lo
		}
	}
	return minAct, maxAct
}

// conditional linearises indicator => lo <= expr <= hi with big-M taken from variable bounds.
func (b *builder) conditional(c solver.Constraint) {
	minAct, maxAct := b.activity(c.Expr)
	cols, coefs := b.exprRow(c.Expr)
	ind := b.col(c.Enforce)

	if c.Hi < solver.Unbounded && maxAct > c.Hi {
		bigM := maxAct - c.Hi
		b.row(c.Name+"_hi", append(append([]int{}, cols...), ind), append(append([]float64{}, coefs...), float64(bigM)),
			-solver.Unbounded, c.Hi-c.Expr.Offset+bigM)
	}
	if c.Lo > -solver.Unbounded && minAct < c.Lo {
		bigM := c.Lo - minAct
		b.row(c.Name+"_lo", append(append([]int{}, cols...), ind), append(append([]float64{}, coefs...), -float64(bigM)),
			c.Lo-c.Expr.Offset-bigM, solver.Unbounded)
	}
}

// extremum linearises target == max(vars) (or min) with one selector binary per operand.
func (b *builder) extremum(c solver.Constraint, isMax bool) {
	target := b.model.Var(c.Target)
	tc := b.col(c.Target)
	selectors := make([]int, 0, len(c.Vars))
	for i, v := range c.Vars {
		decl := b.model.Var(v)
		vc := b.col(v)
		z := b.addBinary(fmt.Sprintf("%s_sel_%d", c.Name, i))
		selectors = append(selectors, z)
		if isMax {
			// target >= v ; target <= v + M(1-z)
			bigM := target.Hi - decl.Lo
			b.row(fmt.Sprintf("%s_ge_%d", c.Name, i), []int{tc, vc}, []float64{1, -1}, 0, solver.Unbounded)
			b.row(fmt.Sprintf("%s_sel_le_%d", c.Name, i), []int{tc, vc, z}, []float64{1, -1, float64(bigM)}, -solver.Unbounded, bigM)
			continue
		}
		// target <= v ; target >= v - M(1-z)
		bigM := decl.Hi - target.Lo
		b.row(fmt.Sprintf("%s_le_%d", c.Name, i), []int{tc, vc}, []float64{1, -1}, -solver.Unbounded, 0)
		b.row(fmt.Sprintf("%s_sel_ge_%d", c.Name, i), []int{tc, vc, z}, []float64{1, -1, -float64(bigM)}, -bigM, solver.Unbounded)
	}
	ones := make([]float64, len(selectors))
	for i := range ones {
		ones[i] = 1
	}
	b.row(c.Name+"_choose", selectors, ones, 1, 1)
}
