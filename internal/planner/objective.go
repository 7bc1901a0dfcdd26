package planner

import (
	"fmt"

	"github.com/noah-isme/invigilation-planner/internal/models"
	"github.com/noah-isme/invigilation-planner/internal/solver"
)

// Scale factors for minute-based and count-based spreads.
const (
	minuteScale = 100
	countScale  = 1000
)

func (f *formulation) composeObjective() {
	scoring := make([]bool, f.staffCount)
	for s := range scoring {
		scoring[s] = !f.restricted[s]
	}

	objective := &solver.Expr{}
	add := func(slot **solver.Var, name string, pick func(staffMetrics) solver.Var, subset []bool, hi int64, weight, scale int) {
		vars := f.collect(pick, subset)
		if len(vars) == 0 {
			return
		}
		width := f.spread(name, vars, hi)
		*slot = &width
		objective.Add(width, int64(weight*scale))
	}

	add(&f.ranges.totalMinutes, "total_minutes", func(m staffMetrics) solver.Var { return m.totalMinutes }, nil,
		f.totals.minutes, f.weights.Total, minuteScale)
	add(&f.ranges.bigRoomMinutes, "big_room_minutes", func(m staffMetrics) solver.Var { return m.bigRoomMinutes }, nil,
		f.totals.bigRoom, f.weights.BigRoom, minuteScale)
	add(&f.ranges.morning, "morning", func(m staffMetrics) solver.Var { return m.morning }, scoring,
		f.totals.morning, f.weights.Morning, countScale)
	add(&f.ranges.evening, "evening", func(m staffMetrics) solver.Var { return m.evening }, scoring,
		f.totals.evening, f.weights.Evening, countScale)
	add(&f.ranges.critical, "critical", func(m staffMetrics) solver.Var { return m.critical }, scoring,
		f.totals.morning+f.totals.evening, f.weights.Critical, countScale)

	if f.opts.EnableClusteringBonus && f.opts.ClusteringBonus > 0 {
		f.addClustering(objective)
	}
	f.model.Minimize(objective)
}

// addClustering rewards every (staff, day) pair with at least two evening tasks. Days whose
// evening tasks all share one slot cannot be clustered and get no indicator.
func (f *formulation) addClustering(objective *solver.Expr) {
	order, groups := f.groupBy(func(task models.ExamTask) string { return task.DayLabel })
	for _, day := range order {
		var evenings []int
		slots := make(map[string]struct{})
		for _, t := range groups[day] {
			if f.tasks[t].Session == models.SessionEvening {
				evenings = append(evenings, t)
				slots[f.tasks[t].SlotKey] = struct{}{}
			}
		}
		if len(slots) < 2 {
			continue
		}
		for s := 0; s < f.staffCount; s++ {
			indicator := f.model.NewBoolVar(fmt.Sprintf("cluster_s%d_%s", s+1, day))
			f.model.AddLinearIf(fmt.Sprintf("cluster_link_s%d_%s", s+1, day), indicator,
				f.column(s, evenings), 2, solver.Unbounded)
			objective.Add(indicator, -int64(f.opts.ClusteringBonus))
			f.clusters = append(f.clusters, indicator)
		}
	}
}
