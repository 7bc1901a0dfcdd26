package cp

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/noah-isme/invigilation-planner/internal/solver"
)

type propKind uint8

const (
	propLinear propKind = iota
	propMax
	propMin
)

type propagator struct {
	kind    propKind
	vars    []int
	coefs   []int64
	lo, hi  int64
	enforce int
	target  int
}

type trailEntry struct {
	v      int
	lo, hi int64
}

type search struct {
	ctx        context.Context
	deadline   time.Time
	checkEvery int64

	lo, hi []int64
	props  []propagator
	watch  [][]int
	queue  []int
	queued []bool
	trail  []trailEntry

	hints   []int64
	hinted  []bool
	objCoef []int64

	objProp      int
	objOffset    int64
	hasObjective bool

	best          []int64
	bestObjective int64
	found         bool
	solutions     int

	branches  int64
	limit     int64
	aborted   bool
	stopped   bool
	timedOut  bool
	cancelled bool

	// large neighbourhood search, entered once plain DFS has spent plainBranches
	plainBranches int64
	lnsRounds     int
	guided        bool
	decision      []int
	rng           *rand.Rand
}

const (
	lnsRoundBranches = 2000
	lnsMinKeep       = 0.3
	lnsMaxKeep       = 0.8
)

func newSearch(m *solver.Model) *search {
	n := m.NumVars()
	s := &search{
		lo:      make([]int64, n),
		hi:      make([]int64, n),
		watch:   make([][]int, n),
		hints:   make([]int64, n),
		hinted:  make([]bool, n),
		objCoef: make([]int64, n),
		objProp: -1,
	}
	for i, decl := range m.Vars() {
		s.lo[i], s.hi[i] = decl.Lo, decl.Hi
		if value, ok := m.Hint(solver.Var(i)); ok {
			s.hints[i], s.hinted[i] = value, true
		}
	}

	for _, c := range m.Constraints() {
		switch c.Kind {
		case solver.Linear:
			vars, coefs := mergeTerms(c.Expr.Terms)
			s.addProp(propagator{
				kind:    propLinear,
				vars:    vars,
				coefs:   coefs,
				lo:      c.Lo - c.Expr.Offset,
				hi:      c.Hi - c.Expr.Offset,
				enforce: int(c.Enforce),
				target:  -1,
			})
		case solver.MaxEquality, solver.MinEquality:
			kind := propMax
			if c.Kind == solver.MinEquality {
				kind = propMin
			}
			vars := make([]int, len(c.Vars))
			for i, v := range c.Vars {
				vars[i] = int(v)
			}
			s.addProp(propagator{kind: kind, vars: vars, enforce: -1, target: int(c.Target)})
		}
	}

	if objective, ok := m.Objective(); ok {
		vars, coefs := mergeTerms(objective.Terms)
		for i, v := range vars {
			s.objCoef[v] = coefs[i]
		}
		s.hasObjective = true
		s.objOffset = objective.Offset
		s.objProp = s.addProp(propagator{
			kind:    propLinear,
			vars:    vars,
			coefs:   coefs,
			lo:      -solver.Unbounded,
			hi:      solver.Unbounded,
			enforce: -1,
			target:  -1,
		})
	}
	s.queued = make([]bool, len(s.props))
	return s
}

func mergeTerms(terms []solver.Term) ([]int, []int64) {
	index := make(map[int]int, len(terms))
	vars := make([]int, 0, len(terms))
	coefs := make([]int64, 0, len(terms))
	for _, t := range terms {
		v := int(t.Var)
		if pos, ok := index[v]; ok {
			coefs[pos] += t.Coef
			continue
		}
		index[v] = len(vars)
		vars = append(vars, v)
		coefs = append(coefs, t.Coef)
	}
	// drop terms that cancelled out
	out := 0
	for i := range vars {
		if coefs[i] == 0 {
			continue
		}
		vars[out], coefs[out] = vars[i], coefs[i]
		out++
	}
	return vars[:out], coefs[:out]
}

func (s *search) addProp(p propagator) int {
	idx := len(s.props)
	s.props = append(s.props, p)
	seen := make(map[int]struct{}, len(p.vars)+2)
	watchVar := func(v int) {
		if v < 0 {
			return
		}
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		s.watch[v] = append(s.watch[v], idx)
	}
	for _, v := range p.vars {
		watchVar(v)
	}
	watchVar(p.enforce)
	watchVar(p.target)
	return idx
}

func (s *search) run() {
	for i := range s.props {
		s.enqueue(i)
	}
	if !s.propagate() {
		return
	}
	if !s.hasObjective || s.lnsRounds <= 0 || s.plainBranches <= 0 {
		s.dfs(0)
		return
	}

	s.limit = s.branches + s.plainBranches
	s.dfs(0)
	s.limit = 0
	if s.stopped || !s.aborted {
		return
	}
	s.aborted = false
	if s.found {
		s.improve()
		if s.stopped {
			return
		}
	}
	// complete search under the improved cut decides optimality
	s.dfs(0)
}

// improve repeatedly fixes a random share of the decision variables to the incumbent and
// searches the rest with a small branch budget. The kept share shrinks while rounds fail
// and resets after an improvement. It stops after lnsRounds rounds in a row without one.
func (s *search) improve() {
	s.guided = true
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(1))
	}
	decision := s.decisionVars()
	if len(decision) == 0 {
		return
	}
	keep := lnsMaxKeep
	for stall := 0; stall < s.lnsRounds; {
		if s.expired() {
			return
		}
		before := s.bestObjective
		mark := len(s.trail)
		ok := true
		for _, v := range decision {
			if s.rng.Float64() < keep && !s.tighten(v, s.best[v], s.best[v]) {
				ok = false
				break
			}
		}
		if ok && s.cutObjective() && s.propagate() {
			s.limit = s.branches + lnsRoundBranches
			s.dfs(0)
			s.limit = 0
			s.aborted = false
		}
		s.clearQueue()
		s.undo(mark)
		if s.stopped {
			return
		}
		if s.bestObjective < before {
			stall = 0
			keep = lnsMaxKeep
			continue
		}
		stall++
		if keep > lnsMinKeep {
			keep -= 0.05
		}
	}
}

// decisionVars are the hinted variables still open at the root, or every open variable
// when the model carries no hints.
func (s *search) decisionVars() []int {
	if s.decision != nil {
		return s.decision
	}
	hinted := false
	for _, h := range s.hinted {
		hinted = hinted || h
	}
	for v := range s.lo {
		if s.lo[v] == s.hi[v] || (hinted && !s.hinted[v]) {
			continue
		}
		s.decision = append(s.decision, v)
	}
	return s.decision
}

func (s *search) dfs(cursor int) {
	if s.stopped || s.aborted {
		return
	}
	v := cursor
	for v < len(s.lo) && s.lo[v] == s.hi[v] {
		v++
	}
	if v == len(s.lo) {
		s.record()
		return
	}

	for _, branch := range s.branchesFor(v) {
		if s.limit > 0 && s.branches >= s.limit {
			s.aborted = true
			return
		}
		s.branches++
		if s.branches%s.checkEvery == 0 && s.expired() {
			return
		}
		mark := len(s.trail)
		if s.tighten(v, branch[0], branch[1]) && s.cutObjective() && s.propagate() {
			s.dfs(v)
		}
		s.clearQueue()
		s.undo(mark)
		if s.stopped || s.aborted {
			return
		}
	}
}

// branchesFor returns the domain splits to explore for v: the preferred value first, then the
// values below and above it. Once neighbourhood search has started the incumbent is preferred.
func (s *search) branchesFor(v int) [][2]int64 {
	lo, hi := s.lo[v], s.hi[v]
	value := lo
	switch {
	case s.guided && s.best[v] >= lo && s.best[v] <= hi:
		value = s.best[v]
	case s.hinted[v] && s.hints[v] >= lo && s.hints[v] <= hi:
		value = s.hints[v]
	case s.objCoef[v] < 0:
		value = hi
	}
	branches := make([][2]int64, 0, 3)
	branches = append(branches, [2]int64{value, value})
	if value == hi {
		if value > lo {
			branches = append(branches, [2]int64{lo, value - 1})
		}
		return branches
	}
	if value > lo {
		branches = append(branches, [2]int64{lo, value - 1})
	}
	return append(branches, [2]int64{value + 1, hi})
}

func (s *search) record() {
	objective := int64(0)
	if s.hasObjective {
		objective = s.objOffset
		p := &s.props[s.objProp]
		for i, v := range p.vars {
			objective += p.coefs[i] * s.lo[v]
		}
		if s.found && objective >= s.bestObjective {
			return
		}
	}
	if s.best == nil {
		s.best = make([]int64, len(s.lo))
	}
	copy(s.best, s.lo)
	s.bestObjective = objective
	s.found = true
	s.solutions++
	if !s.hasObjective {
		s.stopped = true
		return
	}
	s.props[s.objProp].hi = objective - 1 - s.objOffset
}

func (s *search) cutObjective() bool {
	if s.found && s.hasObjective {
		s.enqueue(s.objProp)
	}
	return true
}

func (s *search) expired() bool {
	if s.ctx != nil && s.ctx.Err() != nil {
		if s.ctx.Err() == context.DeadlineExceeded {
			s.timedOut = true
		} else {
			s.cancelled = true
		}
		s.stopped = true
		return true
	}
	if !s.deadline.IsZero() && time.Now().After(s.deadline) {
		s.timedOut = true
		s.stopped = true
		return true
	}
	return false
}

func (s *search) enqueue(p int) {
	if s.queued[p] {
		return
	}
	s.queued[p] = true
	s.queue = append(s.queue, p)
}

func (s *search) clearQueue() {
	for _, p := range s.queue {
		s.queued[p] = false
	}
	s.queue = s.queue[:0]
}

func (s *search) propagate() bool {
	for len(s.queue) > 0 {
		last := len(s.queue) - 1
		p := s.queue[last]
		s.queue = s.queue[:last]
		s.queued[p] = false

		var ok bool
		switch s.props[p].kind {
		case propLinear:
			ok = s.propagateLinear(&s.props[p])
		case propMax:
			ok = s.propagateMax(&s.props[p])
		case propMin:
			ok = s.propagateMin(&s.props[p])
		}
		if !ok {
			s.clearQueue()
			return false
		}
	}
	return true
}

func (s *search) tighten(v int, lo, hi int64) bool {
	curLo, curHi := s.lo[v], s.hi[v]
	if lo < curLo {
		lo = curLo
	}
	if hi > curHi {
		hi = curHi
	}
	if lo == curLo && hi == curHi {
		return true
	}
	if lo > hi {
		return false
	}
	s.trail = append(s.trail, trailEntry{v: v, lo: curLo, hi: curHi})
	s.lo[v], s.hi[v] = lo, hi
	for _, p := range s.watch[v] {
		s.enqueue(p)
	}
	return true
}

func (s *search) undo(mark int) {
	for i := len(s.trail) - 1; i >= mark; i-- {
		entry := s.trail[i]
		s.lo[entry.v], s.hi[entry.v] = entry.lo, entry.hi
	}
	s.trail = s.trail[:mark]
}

func (s *search) activity(p *propagator) (int64, int64) {
	var minAct, maxAct int64
	for i, v := range p.vars {
		c := p.coefs[i]
		if c > 0 {
			minAct += c * s.lo[v]
			maxAct += c * s.hi[v]
		} else {
			minAct += c * s.hi[v]
			maxAct += c * s.lo[v]
		}
	}
	return minAct, maxAct
}

func (s *search) propagateLinear(p *propagator) bool {
	if p.enforce >= 0 {
		if s.hi[p.enforce] == 0 {
			return true
		}
		if s.lo[p.enforce] == 0 {
			minAct, maxAct := s.activity(p)
			if minAct > p.hi || maxAct < p.lo {
				return s.tighten(p.enforce, 0, 0)
			}
			return true
		}
	}

	minAct, maxAct := s.activity(p)
	if minAct > p.hi || maxAct < p.lo {
		return false
	}
	for i, v := range p.vars {
		c := p.coefs[i]
		var termMin, termMax int64
		if c > 0 {
			termMin, termMax = c*s.lo[v], c*s.hi[v]
		} else {
			termMin, termMax = c*s.hi[v], c*s.lo[v]
		}
		upper := p.hi - (minAct - termMin)
		lower := p.lo - (maxAct - termMax)
		var lo, hi int64
		if c > 0 {
			lo, hi = ceilDiv(lower, c), floorDiv(upper, c)
		} else {
			lo, hi = ceilDiv(upper, c), floorDiv(lower, c)
		}
		if !s.tighten(v, lo, hi) {
			return false
		}
	}
	return true
}

func (s *search) propagateMax(p *propagator) bool {
	maxLo, maxHi := int64(math.MinInt64), int64(math.MinInt64)
	for _, v := range p.vars {
		if s.lo[v] > maxLo {
			maxLo = s.lo[v]
		}
		if s.hi[v] > maxHi {
			maxHi = s.hi[v]
		}
	}
	if !s.tighten(p.target, maxLo, maxHi) {
		return false
	}
	tLo, tHi := s.lo[p.target], s.hi[p.target]
	support, candidates := -1, 0
	for _, v := range p.vars {
		if !s.tighten(v, s.lo[v], tHi) {
			return false
		}
		if s.hi[v] >= tLo {
			support = v
			candidates++
		}
	}
	switch candidates {
	case 0:
		return false
	case 1:
		return s.tighten(support, tLo, s.hi[support])
	}
	return true
}

func (s *search) propagateMin(p *propagator) bool {
	minLo, minHi := int64(math.MaxInt64), int64(math.MaxInt64)
	for _, v := range p.vars {
		if s.lo[v] < minLo {
			minLo = s.lo[v]
		}
		if s.hi[v] < minHi {
			minHi = s.hi[v]
		}
	}
	if !s.tighten(p.target, minLo, minHi) {
		return false
	}
	tLo, tHi := s.lo[p.target], s.hi[p.target]
	support, candidates := -1, 0
	for _, v := range p.vars {
		if !s.tighten(v, tLo, s.hi[v]) {
			return false
		}
		if s.lo[v] <= tHi {
			support = v
			candidates++
		}
	}
	switch candidates {
	case 0:
		return false
	case 1:
		return s.tighten(support, s.lo[support], tHi)
	}
	return true
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func ceilDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) == (b < 0)) {
		q++
	}
	return q
}
