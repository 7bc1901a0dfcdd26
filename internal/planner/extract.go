package planner

import (
	"fmt"

	"github.com/noah-isme/invigilation-planner/internal/models"
	"github.com/noah-isme/invigilation-planner/internal/solver"
)

type extraction struct {
	assignment []int
	statistics []models.StaffStatistics
	ranges     *models.MetricRanges
}

// extract reads the assignment and the solved aggregates back from sol and re-checks coverage,
// exclusivity, daily capacity and exemptions. Any violation is a modelling bug and is reported as
// ErrModelInvariant.
func extract(f *formulation, sol *solver.Solution) (*extraction, error) {
	if sol == nil || !sol.Status.HasSolution() {
		return nil, fmt.Errorf("%w: no solution to extract", ErrModelInvariant)
	}

	assignment := make([]int, len(f.tasks))
	for t := range f.tasks {
		covered := 0
		for s := 0; s < f.staffCount; s++ {
			if sol.Bool(f.x[t][s]) {
				covered++
				assignment[t] = s + 1
			}
		}
		if covered != 1 {
			return nil, fmt.Errorf("%w: task %d covered by %d staff", ErrModelInvariant, t, covered)
		}
	}
	if err := verifyAssignment(f, assignment); err != nil {
		return nil, err
	}

	stats := make([]models.StaffStatistics, f.staffCount)
	for s, m := range f.metrics {
		stats[s] = models.StaffStatistics{
			StaffID:        s + 1,
			TotalMinutes:   int(sol.Value(m.totalMinutes)),
			BigRoomMinutes: int(sol.Value(m.bigRoomMinutes)),
			TotalTasks:     int(sol.Value(m.tasks)),
			MorningCount:   int(sol.Value(m.morning)),
			EveningCount:   int(sol.Value(m.evening)),
			CriticalSum:    int(sol.Value(m.critical)),
			IsRestricted:   f.restricted[s],
		}
	}

	read := func(v *solver.Var) int {
		if v == nil {
			return 0
		}
		return int(sol.Value(*v))
	}
	ranges := &models.MetricRanges{
		TotalMinutes:   read(f.ranges.totalMinutes),
		BigRoomMinutes: read(f.ranges.bigRoomMinutes),
		Morning:        read(f.ranges.morning),
		Evening:        read(f.ranges.evening),
		Critical:       read(f.ranges.critical),
	}
	return &extraction{assignment: assignment, statistics: stats, ranges: ranges}, nil
}

func verifyAssignment(f *formulation, assignment []int) error {
	type key struct {
		staff int
		group string
	}
	slots := make(map[key]int)
	days := make(map[key]int)
	for t, staff := range assignment {
		task := f.tasks[t]
		if staff < 1 || staff > f.staffCount {
			return fmt.Errorf("%w: task %d assigned to unknown staff %d", ErrModelInvariant, t, staff)
		}
		slot := key{staff, task.SlotKey}
		slots[slot]++
		if slots[slot] > 1 {
			return fmt.Errorf("%w: staff %d double-booked in slot %s", ErrModelInvariant, staff, task.SlotKey)
		}
		day := key{staff, task.DayLabel}
		days[day]++
		if days[day] > f.opts.DailyCap {
			return fmt.Errorf("%w: staff %d exceeds daily cap on %s", ErrModelInvariant, staff, task.DayLabel)
		}
		if f.banned[t][staff-1] {
			return fmt.Errorf("%w: staff %d assigned exempt task %d", ErrModelInvariant, staff, t)
		}
	}
	return nil
}
