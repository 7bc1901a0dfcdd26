package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/noah-isme/invigilation-planner/internal/models"
)

const planRunColumns = `id, exam_period, version, status, solve_status, objective, staff_count, task_count, meta, created_by, created_at, updated_at`

// PlanRunRepository persists saved planning results, versioned per exam period.
type PlanRunRepository struct {
	db *sqlx.DB
}

// NewPlanRunRepository constructs repository.
func NewPlanRunRepository(db *sqlx.DB) *PlanRunRepository {
	return &PlanRunRepository{db: db}
}

func (r *PlanRunRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// CreateVersioned inserts a run assigning the next version for its exam period.
func (r *PlanRunRepository) CreateVersioned(ctx context.Context, exec sqlx.ExtContext, run *models.PlanRun) error {
	if run == nil {
		return fmt.Errorf("plan run payload is nil")
	}
	if run.ExamPeriod == "" {
		return fmt.Errorf("exam_period is required")
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = models.PlanRunStatusDraft
	}
	if len(run.Meta) == 0 {
		run.Meta = types.JSONText(`{}`)
	}
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	target := r.exec(exec)

	const nextVersionQuery = `SELECT COALESCE(MAX(version), 0) + 1 FROM plan_runs WHERE exam_period = $1`
	if err := sqlx.GetContext(ctx, target, &run.Version, nextVersionQuery, run.ExamPeriod); err != nil {
		return fmt.Errorf("compute next plan run version: %w", err)
	}

	const insertQuery = `
INSERT INTO plan_runs (id, exam_period, version, status, solve_status, objective, staff_count, task_count, meta, created_by, created_at, updated_at)
VALUES (:id, :exam_period, :version, :status, :solve_status, :objective, :staff_count, :task_count, :meta, :created_by, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, target, insertQuery, run); err != nil {
		return fmt.Errorf("insert plan run: %w", err)
	}
	return nil
}

// List returns runs matching filter, newest version first, with the unpaginated total.
func (r *PlanRunRepository) List(ctx context.Context, filter models.PlanRunFilter) ([]models.PlanRun, int, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if filter.ExamPeriod != "" {
		args = append(args, filter.ExamPeriod)
		conditions = append(conditions, fmt.Sprintf("exam_period = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM plan_runs"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count plan runs: %w", err)
	}

	page, size := filter.Page, filter.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	args = append(args, size, (page-1)*size)
	query := fmt.Sprintf("SELECT %s FROM plan_runs%s ORDER BY exam_period ASC, version DESC LIMIT $%d OFFSET $%d",
		planRunColumns, where, len(args)-1, len(args))

	var runs []models.PlanRun
	if err := r.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list plan runs: %w", err)
	}
	return runs, total, nil
}

// FindByID loads a run by its identifier.
func (r *PlanRunRepository) FindByID(ctx context.Context, id string) (*models.PlanRun, error) {
	query := `SELECT ` + planRunColumns + ` FROM plan_runs WHERE id = $1`
	var run models.PlanRun
	if err := r.db.GetContext(ctx, &run, query, id); err != nil {
		return nil, err
	}
	return &run, nil
}

// Delete removes a stored run; its assignments cascade.
func (r *PlanRunRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM plan_runs WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete plan run: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("plan run rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateStatus moves a run between DRAFT and PUBLISHED.
func (r *PlanRunRepository) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.PlanRunStatus) error {
	const query = `UPDATE plan_runs SET status = $1, updated_at = $2 WHERE id = $3`
	result, err := r.exec(exec).ExecContext(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update plan run status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("plan run status rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DemotePublished returns every other published run of the period to DRAFT so that at most one
// version per exam period is published.
func (r *PlanRunRepository) DemotePublished(ctx context.Context, exec sqlx.ExtContext, examPeriod, keepID string) error {
	const query = `UPDATE plan_runs SET status = $1, updated_at = $2 WHERE exam_period = $3 AND status = $4 AND id <> $5`
	if _, err := r.exec(exec).ExecContext(ctx, query, models.PlanRunStatusDraft, time.Now().UTC(), examPeriod, models.PlanRunStatusPublished, keepID); err != nil {
		return fmt.Errorf("demote published plan runs: %w", err)
	}
	return nil
}
