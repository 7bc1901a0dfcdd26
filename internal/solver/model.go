// Package solver describes discrete optimisation problems independently of the engine that
// solves them. Callers declare variables and constraints on a Model and hand it to an Engine.
package solver

import (
	"context"
	"fmt"
	"time"
)

// Unbounded is used as an open bound on linear constraints.
const Unbounded int64 = 1 << 48

// Var references a variable declared on a Model.
type Var int

// VarKind distinguishes boolean from bounded integer variables.
type VarKind uint8

const (
	KindBool VarKind = iota
	KindInt
)

// VarDecl is the declaration record of a single variable.
type VarDecl struct {
	Name string
	Kind VarKind
	Lo   int64
	Hi   int64
}

// Term is one coefficient/variable product of a linear expression.
type Term struct {
	Var  Var
	Coef int64
}

// Expr is a linear expression Σ coef·var + Offset.
type Expr struct {
	Terms  []Term
	Offset int64
}

// Sum returns the expression Σ vars.
func Sum(vars ...Var) *Expr {
	e := &Expr{Terms: make([]Term, 0, len(vars))}
	for _, v := range vars {
		e.Terms = append(e.Terms, Term{Var: v, Coef: 1})
	}
	return e
}

// Add appends coef·v to the expression.
func (e *Expr) Add(v Var, coef int64) *Expr {
	if coef != 0 {
		e.Terms = append(e.Terms, Term{Var: v, Coef: coef})
	}
	return e
}

// AddConstant shifts the expression by k.
func (e *Expr) AddConstant(k int64) *Expr {
	e.Offset += k
	return e
}

// Empty reports whether the expression has no variable terms.
func (e *Expr) Empty() bool {
	return e == nil || len(e.Terms) == 0
}

func (e *Expr) clone() Expr {
	if e == nil {
		return Expr{}
	}
	terms := make([]Term, len(e.Terms))
	copy(terms, e.Terms)
	return Expr{Terms: terms, Offset: e.Offset}
}

// ConstraintKind enumerates the constraint families an Engine must support.
type ConstraintKind uint8

const (
	// Linear holds Lo <= Expr <= Hi, optionally only when Enforce is true.
	Linear ConstraintKind = iota
	// MaxEquality holds Target == max(Vars).
	MaxEquality
	// MinEquality holds Target == min(Vars).
	MinEquality
)

// Constraint is a registered constraint. Enforce is -1 for unconditional constraints.
type Constraint struct {
	Name    string
	Kind    ConstraintKind
	Expr    Expr
	Lo      int64
	Hi      int64
	Enforce Var
	Target  Var
	Vars    []Var
}

// Conditional reports whether the constraint is guarded by an indicator.
func (c Constraint) Conditional() bool {
	return c.Enforce >= 0
}

// Model is a backend-agnostic problem description. A Model is built by one goroutine and is
// read-only once handed to an Engine.
type Model struct {
	name         string
	vars         []VarDecl
	constraints  []Constraint
	objective    Expr
	hasObjective bool
	hints        map[Var]int64
}

// NewModel returns an empty model.
func NewModel(name string) *Model {
	return &Model{name: name, hints: make(map[Var]int64)}
}

// Name returns the model name used in logs.
func (m *Model) Name() string { return m.name }

// NewBoolVar declares a 0/1 variable.
func (m *Model) NewBoolVar(name string) Var {
	m.vars = append(m.vars, VarDecl{Name: name, Kind: KindBool, Lo: 0, Hi: 1})
	return Var(len(m.vars) - 1)
}

// NewIntVar declares an integer variable with domain [lo, hi].
func (m *Model) NewIntVar(lo, hi int64, name string) Var {
	if hi < lo {
		lo, hi = hi, lo
	}
	m.vars = append(m.vars, VarDecl{Name: name, Kind: KindInt, Lo: lo, Hi: hi})
	return Var(len(m.vars) - 1)
}

// AddLinear registers lo <= expr <= hi.
func (m *Model) AddLinear(name string, expr *Expr, lo, hi int64) {
	m.constraints = append(m.constraints, Constraint{
		Name:    name,
		Kind:    Linear,
		Expr:    expr.clone(),
		Lo:      lo,
		Hi:      hi,
		Enforce: -1,
		Target:  -1,
	})
}

// AddEquality registers expr == value.
func (m *Model) AddEquality(name string, expr *Expr, value int64) {
	m.AddLinear(name, expr, value, value)
}

// AddLessOrEqual registers expr <= hi.
func (m *Model) AddLessOrEqual(name string, expr *Expr, hi int64) {
	m.AddLinear(name, expr, -Unbounded, hi)
}

// AddLinearIf registers lo <= expr <= hi that only has to hold when indicator is 1.
func (m *Model) AddLinearIf(name string, indicator Var, expr *Expr, lo, hi int64) {
	m.constraints = append(m.constraints, Constraint{
		Name:    name,
		Kind:    Linear,
		Expr:    expr.clone(),
		Lo:      lo,
		Hi:      hi,
		Enforce: indicator,
		Target:  -1,
	})
}

// AddMaxEquality registers target == max(vars).
func (m *Model) AddMaxEquality(name string, target Var, vars []Var) {
	m.addExtremum(name, MaxEquality, target, vars)
}

// AddMinEquality registers target == min(vars).
func (m *Model) AddMinEquality(name string, target Var, vars []Var) {
	m.addExtremum(name, MinEquality, target, vars)
}

func (m *Model) addExtremum(name string, kind ConstraintKind, target Var, vars []Var) {
	list := make([]Var, len(vars))
	copy(list, vars)
	m.constraints = append(m.constraints, Constraint{
		Name:    name,
		Kind:    kind,
		Enforce: -1,
		Target:  target,
		Vars:    list,
	})
}

// Minimize sets the single objective. Calling it again replaces the previous objective.
func (m *Model) Minimize(expr *Expr) {
	m.objective = expr.clone()
	m.hasObjective = true
}

// SetHint suggests a value for v that engines may try first.
func (m *Model) SetHint(v Var, value int64) {
	m.hints[v] = value
}

// Vars returns the variable declarations in declaration order.
func (m *Model) Vars() []VarDecl { return m.vars }

// Var returns the declaration of v.
func (m *Model) Var(v Var) VarDecl { return m.vars[v] }

// NumVars returns the number of declared variables.
func (m *Model) NumVars() int { return len(m.vars) }

// Constraints returns the registered constraints in registration order.
func (m *Model) Constraints() []Constraint { return m.constraints }

// Objective returns the objective and whether one was set.
func (m *Model) Objective() (Expr, bool) { return m.objective, m.hasObjective }

// Hint returns the hinted value for v.
func (m *Model) Hint(v Var) (int64, bool) {
	value, ok := m.hints[v]
	return value, ok
}

// Validate checks that every constraint references declared variables.
func (m *Model) Validate() error {
	n := Var(len(m.vars))
	check := func(v Var, where string) error {
		if v < 0 || v >= n {
			return fmt.Errorf("%s references undeclared variable %d", where, v)
		}
		return nil
	}
	for _, c := range m.constraints {
		if c.Conditional() {
			if err := check(c.Enforce, c.Name); err != nil {
				return err
			}
			if m.vars[c.Enforce].Kind != KindBool {
				return fmt.Errorf("%s: indicator %s is not boolean", c.Name, m.vars[c.Enforce].Name)
			}
		}
		switch c.Kind {
		case Linear:
			for _, t := range c.Expr.Terms {
				if err := check(t.Var, c.Name); err != nil {
					return err
				}
			}
		case MaxEquality, MinEquality:
			if len(c.Vars) == 0 {
				return fmt.Errorf("%s: extremum over an empty list", c.Name)
			}
			if err := check(c.Target, c.Name); err != nil {
				return err
			}
			for _, v := range c.Vars {
				if err := check(v, c.Name); err != nil {
					return err
				}
			}
		}
	}
	for _, t := range m.objective.Terms {
		if err := check(t.Var, "objective"); err != nil {
			return err
		}
	}
	return nil
}

// Engine solves a Model within a wall-clock budget.
type Engine interface {
	Name() string
	Solve(ctx context.Context, m *Model, timeLimit time.Duration) (*Solution, error)
}
