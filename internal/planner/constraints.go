package planner

import (
	"fmt"
	"sort"

	"github.com/noah-isme/invigilation-planner/internal/models"
	"github.com/noah-isme/invigilation-planner/internal/solver"
)

// staffMetrics are the per-staff aggregate variables shared by the hard bounds, the objective
// and the extractor.
type staffMetrics struct {
	totalMinutes   solver.Var
	bigRoomMinutes solver.Var
	tasks          solver.Var
	morning        solver.Var
	evening        solver.Var
	critical       solver.Var
}

// metricTotals bound every per-staff aggregate from above.
type metricTotals struct {
	minutes, bigRoom, morning, evening int64
}

type rangeVars struct {
	totalMinutes   *solver.Var
	bigRoomMinutes *solver.Var
	morning        *solver.Var
	evening        *solver.Var
	critical       *solver.Var
}

// formulation is the model of one planning request together with the handles needed to read
// a solution back.
type formulation struct {
	model      *solver.Model
	tasks      []models.ExamTask
	staffCount int
	opts       models.PlanningOptions
	weights    models.Weights
	bigRoom    []bool
	banned     [][]bool
	restricted []bool

	// x[t][s] is true when staff s+1 covers task t.
	x        [][]solver.Var
	totals   metricTotals
	metrics  []staffMetrics
	ranges   rangeVars
	clusters []solver.Var
}

func newFormulation(req models.PlanningRequest, rules []models.ExemptionRule) *formulation {
	f := &formulation{
		model:      solver.NewModel(fmt.Sprintf("invigilation_%dx%d", len(req.Tasks), req.StaffCount)),
		tasks:      req.Tasks,
		staffCount: req.StaffCount,
		opts:       req.Options,
		weights:    req.Weights,
		bigRoom:    make([]bool, len(req.Tasks)),
		banned:     make([][]bool, len(req.Tasks)),
		restricted: restrictedStaff(rules, req.StaffCount, req.Options.RestrictDayExemptions),
	}

	bigRooms := make(map[string]struct{}, len(req.BigRooms))
	for _, room := range req.BigRooms {
		bigRooms[room] = struct{}{}
	}
	for t, task := range f.tasks {
		_, f.bigRoom[t] = bigRooms[task.Room]
		f.banned[t] = make([]bool, f.staffCount)
		for _, rule := range rules {
			if bans(rule, task) {
				f.banned[t][rule.StaffID-1] = true
			}
		}
	}

	f.declareAssignments()
	f.addCoverage()
	f.addExclusivity()
	f.addDailyCap()
	f.addExemptions()
	if f.opts.EnforceRestPeriod {
		f.addRestPeriod()
	}
	f.declareMetrics()
	f.addHardBounds()
	f.composeObjective()
	f.hint()
	return f
}

func (f *formulation) declareAssignments() {
	f.x = make([][]solver.Var, len(f.tasks))
	for t := range f.tasks {
		f.x[t] = make([]solver.Var, f.staffCount)
		for s := 0; s < f.staffCount; s++ {
			f.x[t][s] = f.model.NewBoolVar(fmt.Sprintf("x_s%d_t%d", s+1, t))
		}
	}
}

func (f *formulation) addCoverage() {
	for t := range f.tasks {
		f.model.AddEquality(fmt.Sprintf("cover_t%d", t), solver.Sum(f.x[t]...), 1)
	}
}

// groupBy returns task indexes per key, keys in first-appearance order.
func (f *formulation) groupBy(key func(models.ExamTask) string) ([]string, map[string][]int) {
	var order []string
	groups := make(map[string][]int)
	for t, task := range f.tasks {
		k := key(task)
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], t)
	}
	return order, groups
}

func (f *formulation) column(s int, tasks []int) *solver.Expr {
	expr := &solver.Expr{}
	for _, t := range tasks {
		expr.Add(f.x[t][s], 1)
	}
	return expr
}

func (f *formulation) addExclusivity() {
	order, groups := f.groupBy(func(task models.ExamTask) string { return task.SlotKey })
	for _, key := range order {
		tasks := groups[key]
		if len(tasks) < 2 {
			continue
		}
		for s := 0; s < f.staffCount; s++ {
			f.model.AddLessOrEqual(fmt.Sprintf("slot_s%d_%s", s+1, key), f.column(s, tasks), 1)
		}
	}
}

func (f *formulation) addDailyCap() {
	order, groups := f.groupBy(func(task models.ExamTask) string { return task.DayLabel })
	for _, day := range order {
		tasks := groups[day]
		if len(tasks) <= f.opts.DailyCap {
			continue
		}
		for s := 0; s < f.staffCount; s++ {
			f.model.AddLessOrEqual(fmt.Sprintf("cap_s%d_%s", s+1, day), f.column(s, tasks), int64(f.opts.DailyCap))
		}
	}
}

func (f *formulation) addExemptions() {
	for t := range f.tasks {
		for s := 0; s < f.staffCount; s++ {
			if f.banned[t][s] {
				f.model.AddEquality(fmt.Sprintf("exempt_s%d_t%d", s+1, t), solver.Sum(f.x[t][s]), 0)
			}
		}
	}
}

// addRestPeriod forbids a morning task on the calendar day after an evening task.
func (f *formulation) addRestPeriod() {
	mornings := make(map[int][]int)
	for t, task := range f.tasks {
		if task.Session == models.SessionMorning {
			day := task.CalendarDay()
			mornings[day] = append(mornings[day], t)
		}
	}
	for e, task := range f.tasks {
		if task.Session != models.SessionEvening {
			continue
		}
		for _, m := range mornings[task.CalendarDay()+1] {
			for s := 0; s < f.staffCount; s++ {
				f.model.AddLessOrEqual(fmt.Sprintf("rest_s%d_t%d_t%d", s+1, e, m), solver.Sum(f.x[e][s], f.x[m][s]), 1)
			}
		}
	}
}

func (f *formulation) declareMetrics() {
	for t, task := range f.tasks {
		f.totals.minutes += int64(task.Duration)
		if f.bigRoom[t] {
			f.totals.bigRoom += int64(task.Duration)
		}
		switch task.Session {
		case models.SessionMorning:
			f.totals.morning++
		case models.SessionEvening:
			f.totals.evening++
		}
	}
	sumMinutes, sumBig := f.totals.minutes, f.totals.bigRoom
	sumMorning, sumEvening := f.totals.morning, f.totals.evening

	f.metrics = make([]staffMetrics, f.staffCount)
	for s := 0; s < f.staffCount; s++ {
		id := s + 1
		m := staffMetrics{
			totalMinutes:   f.model.NewIntVar(0, sumMinutes, fmt.Sprintf("total_minutes_s%d", id)),
			bigRoomMinutes: f.model.NewIntVar(0, sumBig, fmt.Sprintf("big_room_minutes_s%d", id)),
			tasks:          f.model.NewIntVar(0, int64(len(f.tasks)), fmt.Sprintf("tasks_s%d", id)),
			morning:        f.model.NewIntVar(0, sumMorning, fmt.Sprintf("morning_s%d", id)),
			evening:        f.model.NewIntVar(0, sumEvening, fmt.Sprintf("evening_s%d", id)),
			critical:       f.model.NewIntVar(0, sumMorning+sumEvening, fmt.Sprintf("critical_s%d", id)),
		}

		minutes := (&solver.Expr{}).Add(m.totalMinutes, -1)
		big := (&solver.Expr{}).Add(m.bigRoomMinutes, -1)
		count := (&solver.Expr{}).Add(m.tasks, -1)
		morning := (&solver.Expr{}).Add(m.morning, -1)
		evening := (&solver.Expr{}).Add(m.evening, -1)
		for t, task := range f.tasks {
			x := f.x[t][s]
			minutes.Add(x, int64(task.Duration))
			count.Add(x, 1)
			if f.bigRoom[t] {
				big.Add(x, int64(task.Duration))
			}
			switch task.Session {
			case models.SessionMorning:
				morning.Add(x, 1)
			case models.SessionEvening:
				evening.Add(x, 1)
			}
		}
		f.model.AddEquality(fmt.Sprintf("def_total_minutes_s%d", id), minutes, 0)
		f.model.AddEquality(fmt.Sprintf("def_big_room_minutes_s%d", id), big, 0)
		f.model.AddEquality(fmt.Sprintf("def_tasks_s%d", id), count, 0)
		f.model.AddEquality(fmt.Sprintf("def_morning_s%d", id), morning, 0)
		f.model.AddEquality(fmt.Sprintf("def_evening_s%d", id), evening, 0)
		f.model.AddEquality(fmt.Sprintf("def_critical_s%d", id),
			solver.Sum(m.morning, m.evening).Add(m.critical, -1), 0)
		f.metrics[s] = m
	}
}

// spread declares max and min over vars and returns max-min as a new variable.
func (f *formulation) spread(name string, vars []solver.Var, hi int64) solver.Var {
	top := f.model.NewIntVar(0, hi, name+"_max")
	bottom := f.model.NewIntVar(0, hi, name+"_min")
	width := f.model.NewIntVar(0, hi, name+"_range")
	f.model.AddMaxEquality(name+"_max_eq", top, vars)
	f.model.AddMinEquality(name+"_min_eq", bottom, vars)
	f.model.AddEquality(name+"_range_eq", solver.Sum(top).Add(bottom, -1).Add(width, -1), 0)
	return width
}

func (f *formulation) collect(pick func(staffMetrics) solver.Var, subset []bool) []solver.Var {
	vars := make([]solver.Var, 0, f.staffCount)
	for s, m := range f.metrics {
		if subset != nil && !subset[s] {
			continue
		}
		vars = append(vars, pick(m))
	}
	return vars
}

func (f *formulation) addHardBounds() {
	if f.opts.FairnessHardBound >= 0 {
		tasks := f.collect(func(m staffMetrics) solver.Var { return m.tasks }, nil)
		width := f.spread("tasks", tasks, int64(len(f.tasks)))
		f.model.AddLessOrEqual("fairness_tasks", solver.Sum(width), int64(f.opts.FairnessHardBound))
	}
	if f.opts.MorningHardBound >= 0 {
		mornings := f.collect(func(m staffMetrics) solver.Var { return m.morning }, nil)
		width := f.spread("morning_bound", mornings, int64(len(f.tasks)))
		f.model.AddLessOrEqual("fairness_morning", solver.Sum(width), int64(f.opts.MorningHardBound))
	}
}

// hint attaches a greedy assignment: each task, in order, goes to the eligible staff member with
// the fewest minutes so far, then the fewest tasks of the same session, then the fewest critical
// tasks, then the lowest id. Tasks nobody can take stay unhinted.
func (f *formulation) hint() {
	minutes := make([]int, f.staffCount)
	sessions := make([]map[models.Session]int, f.staffCount)
	daily := make([]map[string]int, f.staffCount)
	slots := make([]map[string]bool, f.staffCount)
	eveningDays := make([]map[int]bool, f.staffCount)
	morningDays := make([]map[int]bool, f.staffCount)
	for s := range minutes {
		sessions[s] = make(map[models.Session]int)
		daily[s] = make(map[string]int)
		slots[s] = make(map[string]bool)
		eveningDays[s] = make(map[int]bool)
		morningDays[s] = make(map[int]bool)
	}

	for t, task := range f.tasks {
		candidates := make([]int, 0, f.staffCount)
		for s := 0; s < f.staffCount; s++ {
			if f.banned[t][s] || slots[s][task.SlotKey] || daily[s][task.DayLabel] >= f.opts.DailyCap {
				continue
			}
			if f.opts.EnforceRestPeriod {
				day := task.CalendarDay()
				if task.Session == models.SessionMorning && eveningDays[s][day-1] {
					continue
				}
				if task.Session == models.SessionEvening && morningDays[s][day+1] {
					continue
				}
			}
			candidates = append(candidates, s)
		}
		if len(candidates) == 0 {
			continue
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			a, b := candidates[i], candidates[j]
			if minutes[a] != minutes[b] {
				return minutes[a] < minutes[b]
			}
			if task.Session != models.SessionNormal && sessions[a][task.Session] != sessions[b][task.Session] {
				return sessions[a][task.Session] < sessions[b][task.Session]
			}
			ca := sessions[a][models.SessionMorning] + sessions[a][models.SessionEvening]
			cb := sessions[b][models.SessionMorning] + sessions[b][models.SessionEvening]
			return ca < cb
		})

		chosen := candidates[0]
		minutes[chosen] += task.Duration
		sessions[chosen][task.Session]++
		daily[chosen][task.DayLabel]++
		slots[chosen][task.SlotKey] = true
		switch task.Session {
		case models.SessionMorning:
			morningDays[chosen][task.CalendarDay()] = true
		case models.SessionEvening:
			eveningDays[chosen][task.CalendarDay()] = true
		}
		for s := 0; s < f.staffCount; s++ {
			value := int64(0)
			if s == chosen {
				value = 1
			}
			f.model.SetHint(f.x[t][s], value)
		}
	}
}
