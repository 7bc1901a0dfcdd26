package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/invigilation-planner/internal/models"
)

var assignmentCols = []string{"id", "plan_run_id", "task_index", "day_label", "week", "start_minute", "end_minute", "room", "subject", "session", "staff_id", "created_at"}

func TestPlanAssignmentRepositoryUpsertBatch(t *testing.T) {
	db, mock, cleanup := newPlanRepoMock(t)
	defer cleanup()
	repo := NewPlanAssignmentRepository(db)

	for i := 0; i < 2; i++ {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO plan_assignments")).
			WillReturnResult(sqlmock.NewResult(1, 1))
	}

	rows := []models.PlanAssignment{
		{PlanRunID: "run-1", TaskIndex: 0, DayLabel: "Monday (1st week)", Week: 1, StartMinute: 540, EndMinute: 600, Room: "301", Session: models.SessionMorning, StaffID: 2},
		{PlanRunID: "run-1", TaskIndex: 1, DayLabel: "Monday (1st week)", Week: 1, StartMinute: 540, EndMinute: 600, Room: "302", Session: models.SessionMorning, StaffID: 3},
	}
	require.NoError(t, repo.UpsertBatch(context.Background(), nil, rows))
	assert.NotEmpty(t, rows[0].ID)
	assert.False(t, rows[1].CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanAssignmentRepositoryUpsertBatchRequiresRun(t *testing.T) {
	db, _, cleanup := newPlanRepoMock(t)
	defer cleanup()

	err := NewPlanAssignmentRepository(db).UpsertBatch(context.Background(), nil, []models.PlanAssignment{{TaskIndex: 4}})
	assert.ErrorContains(t, err, "task 4")
}

func TestPlanAssignmentRepositoryListByRun(t *testing.T) {
	db, mock, cleanup := newPlanRepoMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("FROM plan_assignments WHERE plan_run_id = $1 ORDER BY task_index ASC")).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows(assignmentCols).
			AddRow("a-1", "run-1", 0, "Monday (1st week)", 1, 540, 630, "301", "Math", "MORNING", 2, time.Now()))

	list, err := NewPlanAssignmentRepository(db).ListByRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "09:00-10:30", list[0].TimeRange)
	assert.Equal(t, models.SessionMorning, list[0].Session)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanAssignmentRepositoryListByStaff(t *testing.T) {
	db, mock, cleanup := newPlanRepoMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("FROM plan_assignments WHERE plan_run_id = $1 AND staff_id = $2")).
		WithArgs("run-1", 3).
		WillReturnRows(sqlmock.NewRows(assignmentCols))

	list, err := NewPlanAssignmentRepository(db).ListByStaff(context.Background(), "run-1", 3)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.NoError(t, mock.ExpectationsWereMet())
}
