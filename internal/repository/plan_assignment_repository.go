package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/invigilation-planner/internal/models"
)

// PlanAssignmentRepository stores the task-to-staff rows of saved plan runs.
type PlanAssignmentRepository struct {
	db *sqlx.DB
}

// NewPlanAssignmentRepository builds repository.
func NewPlanAssignmentRepository(db *sqlx.DB) *PlanAssignmentRepository {
	return &PlanAssignmentRepository{db: db}
}

func (r *PlanAssignmentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// UpsertBatch writes assignments for a run, replacing the staff of an existing task row.
func (r *PlanAssignmentRepository) UpsertBatch(ctx context.Context, exec sqlx.ExtContext, assignments []models.PlanAssignment) error {
	if len(assignments) == 0 {
		return nil
	}
	target := r.exec(exec)
	now := time.Now().UTC()

	const query = `
INSERT INTO plan_assignments (id, plan_run_id, task_index, day_label, week, start_minute, end_minute, room, subject, session, staff_id, created_at)
VALUES (:id, :plan_run_id, :task_index, :day_label, :week, :start_minute, :end_minute, :room, :subject, :session, :staff_id, :created_at)
ON CONFLICT (plan_run_id, task_index) DO UPDATE
SET staff_id = EXCLUDED.staff_id`

	for i := range assignments {
		a := &assignments[i]
		if a.PlanRunID == "" {
			return fmt.Errorf("assignment for task %d has no plan_run_id", a.TaskIndex)
		}
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		if _, err := sqlx.NamedExecContext(ctx, target, query, a); err != nil {
			return fmt.Errorf("upsert plan assignment: %w", err)
		}
	}
	return nil
}

// ListByRun returns a run's assignments in task order.
func (r *PlanAssignmentRepository) ListByRun(ctx context.Context, runID string) ([]models.PlanAssignment, error) {
	const query = `SELECT id, plan_run_id, task_index, day_label, week, start_minute, end_minute, room, subject, session, staff_id, created_at
FROM plan_assignments WHERE plan_run_id = $1 ORDER BY task_index ASC`
	var assignments []models.PlanAssignment
	if err := r.db.SelectContext(ctx, &assignments, query, runID); err != nil {
		return nil, fmt.Errorf("list plan assignments: %w", err)
	}
	for i := range assignments {
		a := &assignments[i]
		a.TimeRange = models.FormatClock(a.StartMinute) + "-" + models.FormatClock(a.EndMinute)
	}
	return assignments, nil
}

// ListByStaff returns one staff member's duties within a run.
func (r *PlanAssignmentRepository) ListByStaff(ctx context.Context, runID string, staffID int) ([]models.PlanAssignment, error) {
	const query = `SELECT id, plan_run_id, task_index, day_label, week, start_minute, end_minute, room, subject, session, staff_id, created_at
FROM plan_assignments WHERE plan_run_id = $1 AND staff_id = $2 ORDER BY task_index ASC`
	var assignments []models.PlanAssignment
	if err := r.db.SelectContext(ctx, &assignments, query, runID, staffID); err != nil {
		return nil, fmt.Errorf("list staff plan assignments: %w", err)
	}
	for i := range assignments {
		a := &assignments[i]
		a.TimeRange = models.FormatClock(a.StartMinute) + "-" + models.FormatClock(a.EndMinute)
	}
	return assignments, nil
}
